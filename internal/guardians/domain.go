// Package guardians maintains parent accounts and their links to students. A link is
// kept on both sides: the parent's ChildrenIDs and the student's ParentIDs always agree
// with the stored assignments.
package guardians

import (
	"context"
	"fmt"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
)

var (
	// ErrDuplicateAssignment indicates the student is already linked to the parent.
	ErrDuplicateAssignment = fmt.Errorf("guardians: student already assigned: %w", shared.ErrConflict)
	// ErrNotAssigned indicates the student/parent pair is not linked.
	ErrNotAssigned = fmt.Errorf("guardians: student not assigned to parent: %w", shared.ErrNotFound)
	// ErrInvalidRelationship indicates an unknown relationship type.
	ErrInvalidRelationship = fmt.Errorf("guardians: invalid relationship: %w", shared.ErrValidation)
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CreateParentInput carries a new parent account.
type CreateParentInput struct {
	SchoolID string `json:"-" validate:"required"`
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
}

// UpdateParentInput patches a parent account. Nil fields are left unchanged.
type UpdateParentInput struct {
	Name  *string `json:"name" validate:"omitempty,min=1,max=200"`
	Email *string `json:"email" validate:"omitempty,email"`
	Phone *string `json:"phone" validate:"omitempty,max=32"`
}

// AssignInput links a student to a parent.
type AssignInput struct {
	StudentID    string              `json:"student_id" validate:"required"`
	ParentID     string              `json:"-" validate:"required"`
	Relationship school.Relationship `json:"relationship_type"`
	Actor        string              `json:"-"`
}

// Guardian is a parent account together with its link to one student.
type Guardian struct {
	Parent     school.ParentAccount `json:"parent"`
	Assignment school.Assignment    `json:"assignment"`
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
