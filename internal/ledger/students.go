package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

var validate = validator.New()

// FeeInput is one fee line on a new student.
type FeeInput struct {
	Type    string       `json:"type" validate:"required"`
	Amount  school.Money `json:"amount" validate:"gt=0"`
	DueDate school.Date  `json:"due_date"`
	Session string       `json:"session"`
	Term    string       `json:"term"`
}

// StudentInput enrols a student.
type StudentInput struct {
	SchoolID        string     `json:"-" validate:"required"`
	Name            string     `json:"name" validate:"required,max=160"`
	Class           string     `json:"class" validate:"required"`
	AdmissionNumber string     `json:"admission_number"`
	Session         string     `json:"session"`
	Term            string     `json:"term"`
	Fees            []FeeInput `json:"fees" validate:"dive"`
	Actor           string     `json:"-"`
}

// CreateStudent enrols a student with their initial fee lines. Session and term default
// to the school's current ones.
func (s *Service) CreateStudent(ctx context.Context, in StudentInput) (school.Student, error) {
	if err := validate.StructCtx(ctx, in); err != nil {
		return school.Student{}, fmt.Errorf("ledger: %w: %s", shared.ErrValidation, err.Error())
	}
	engine := s.posting.Engine
	now := engine.now()
	var out school.Student
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sch, err := tx.GetSchool(ctx, in.SchoolID)
		if err != nil {
			return fmt.Errorf("ledger: school %s: %w", in.SchoolID, err)
		}
		stu := school.Student{
			ID:              uuid.NewString(),
			SchoolID:        sch.ID,
			Name:            strings.TrimSpace(in.Name),
			Class:           in.Class,
			AdmissionNumber: in.AdmissionNumber,
			Session:         orDefault(in.Session, sch.CurrentSession),
			Term:            orDefault(in.Term, sch.CurrentTerm),
			ParentIDs:       []string{},
			Status:          school.StudentActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		for _, f := range in.Fees {
			if f.DueDate.IsZero() {
				return fmt.Errorf("ledger: fee %s needs a due date: %w", f.Type, shared.ErrValidation)
			}
			stu.Fees = append(stu.Fees, school.Fee{
				ID:      uuid.NewString(),
				Type:    f.Type,
				Amount:  f.Amount,
				DueDate: f.DueDate.Time,
				Session: orDefault(f.Session, stu.Session),
				Term:    orDefault(f.Term, stu.Term),
			})
		}
		out = engine.RecomputeStudent(stu)
		if err := tx.CreateStudent(ctx, out); err != nil {
			return err
		}
		for _, f := range out.Fees {
			entry := s.posting.Entry(out.SchoolID, out.ID, f.ID, school.EntryCharge, f.Amount, PostingMeta{Actor: in.Actor, Note: f.Type})
			if err := tx.AppendLedgerEntries(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return school.Student{}, err
	}
	return out, nil
}

// ListStudents returns the students matching filter with derived fields refreshed.
func (s *Service) ListStudents(ctx context.Context, filter store.StudentFilter) ([]school.Student, error) {
	var out []school.Student
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.ListStudents(ctx, filter)
		if err != nil {
			return err
		}
		out = make([]school.Student, 0, len(rows))
		for _, stu := range rows {
			out = append(out, s.posting.Engine.RecomputeStudent(stu))
		}
		return nil
	})
	return out, err
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
