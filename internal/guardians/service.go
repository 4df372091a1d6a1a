package guardians

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

// Service manages parent accounts and assignments.
type Service struct {
	store    store.Store
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds Service. audit may be nil.
func NewService(st store.Store, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, audit: audit, logger: logger, validate: validator.New(), now: time.Now}
}

func (s *Service) check(ctx context.Context, v any) error {
	if err := s.validate.StructCtx(ctx, v); err != nil {
		return fmt.Errorf("guardians: %w: %s", shared.ErrValidation, err.Error())
	}
	return nil
}

// CreateParentAccount stores a new parent account for a school.
func (s *Service) CreateParentAccount(ctx context.Context, in CreateParentInput) (school.ParentAccount, error) {
	if err := s.check(ctx, in); err != nil {
		return school.ParentAccount{}, err
	}
	now := s.now()
	parent := school.ParentAccount{
		ID:          uuid.NewString(),
		SchoolID:    in.SchoolID,
		Name:        strings.TrimSpace(in.Name),
		Email:       strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:       in.Phone,
		ChildrenIDs: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetSchool(ctx, in.SchoolID); err != nil {
			return fmt.Errorf("guardians: school %s: %w", in.SchoolID, err)
		}
		return tx.CreateParent(ctx, parent)
	})
	if err != nil {
		return school.ParentAccount{}, err
	}
	return parent, nil
}

// UpdateParentAccount applies a partial update.
func (s *Service) UpdateParentAccount(ctx context.Context, id string, in UpdateParentInput) (school.ParentAccount, error) {
	if err := s.check(ctx, in); err != nil {
		return school.ParentAccount{}, err
	}
	var out school.ParentAccount
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		parent, err := tx.GetParent(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			parent.Name = strings.TrimSpace(*in.Name)
		}
		if in.Email != nil {
			parent.Email = strings.ToLower(strings.TrimSpace(*in.Email))
		}
		if in.Phone != nil {
			parent.Phone = *in.Phone
		}
		parent.UpdatedAt = s.now()
		if err := tx.UpdateParent(ctx, &parent); err != nil {
			return err
		}
		out = parent
		return nil
	})
	return out, err
}

// GetParentAccount loads one parent account.
func (s *Service) GetParentAccount(ctx context.Context, id string) (school.ParentAccount, error) {
	var out school.ParentAccount
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetParent(ctx, id)
		out = p
		return err
	})
	return out, err
}

// ListParentAccounts returns a school's parent accounts in creation order.
func (s *Service) ListParentAccounts(ctx context.Context, schoolID string) ([]school.ParentAccount, error) {
	var out []school.ParentAccount
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.ListParents(ctx, schoolID)
		out = rows
		return err
	})
	return out, err
}

// DeleteParentAccount removes the account and every assignment it holds. Students are
// kept; any student left without a primary guardian gets its oldest remaining one.
func (s *Service) DeleteParentAccount(ctx context.Context, id, actor string) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		parent, err := tx.GetParent(ctx, id)
		if err != nil {
			return err
		}
		links, err := tx.ListAssignments(ctx, store.AssignmentFilter{ParentID: id})
		if err != nil {
			return err
		}
		for _, link := range links {
			if err := s.unlink(ctx, tx, link, nil); err != nil {
				return err
			}
		}
		return tx.DeleteParent(ctx, parent.ID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "guardians.delete_parent", id, nil)
	return nil
}

// Assign links a student to a parent. Both must belong to the same school. The first
// guardian of a student becomes its primary.
func (s *Service) Assign(ctx context.Context, in AssignInput) (school.Assignment, error) {
	if err := s.check(ctx, in); err != nil {
		return school.Assignment{}, err
	}
	if in.Relationship == "" {
		in.Relationship = school.RelationshipGuardian
	}
	if !in.Relationship.Valid() {
		return school.Assignment{}, fmt.Errorf("%w: %q", ErrInvalidRelationship, in.Relationship)
	}
	var out school.Assignment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		parent, err := tx.GetParent(ctx, in.ParentID)
		if err != nil {
			return fmt.Errorf("guardians: parent %s: %w", in.ParentID, err)
		}
		stu, err := tx.GetStudent(ctx, in.StudentID)
		if err != nil {
			return fmt.Errorf("guardians: student %s: %w", in.StudentID, err)
		}
		if stu.SchoolID != parent.SchoolID {
			return fmt.Errorf("guardians: student %s in school %s: %w", in.StudentID, parent.SchoolID, store.ErrNotFound)
		}
		if parent.HasChild(stu.ID) {
			return ErrDuplicateAssignment
		}
		existing, err := tx.ListAssignments(ctx, store.AssignmentFilter{StudentID: stu.ID})
		if err != nil {
			return err
		}
		out = school.Assignment{
			StudentID:    stu.ID,
			ParentID:     parent.ID,
			Relationship: in.Relationship,
			IsPrimary:    !slices.ContainsFunc(existing, func(a school.Assignment) bool { return a.IsPrimary }),
			AssignedAt:   s.now(),
			AssignedBy:   in.Actor,
		}
		if err := tx.CreateAssignment(ctx, out); err != nil {
			if store.IsNotFound(err) {
				return err
			}
			return ErrDuplicateAssignment
		}
		parent.ChildrenIDs = append(parent.ChildrenIDs, stu.ID)
		parent.UpdatedAt = out.AssignedAt
		if err := tx.UpdateParent(ctx, &parent); err != nil {
			return err
		}
		if !slices.Contains(stu.ParentIDs, parent.ID) {
			stu.ParentIDs = append(stu.ParentIDs, parent.ID)
			stu.UpdatedAt = out.AssignedAt
			return tx.UpdateStudent(ctx, &stu)
		}
		return nil
	})
	if err != nil {
		return school.Assignment{}, err
	}
	s.record(ctx, in.Actor, "guardians.assign", in.StudentID, map[string]any{
		"parent_id":    in.ParentID,
		"relationship": string(in.Relationship),
		"primary":      out.IsPrimary,
	})
	return out, nil
}

// Unassign removes the link between a student and a parent.
func (s *Service) Unassign(ctx context.Context, studentID, parentID, actor string) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		links, err := tx.ListAssignments(ctx, store.AssignmentFilter{StudentID: studentID, ParentID: parentID})
		if err != nil {
			return err
		}
		if len(links) == 0 {
			return ErrNotAssigned
		}
		parent, err := tx.GetParent(ctx, parentID)
		if err != nil {
			return err
		}
		return s.unlink(ctx, tx, links[0], &parent)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "guardians.unassign", studentID, map[string]any{"parent_id": parentID})
	return nil
}

// unlink drops one assignment and both sides of the link. parent is nil when the parent
// account itself is being deleted.
func (s *Service) unlink(ctx context.Context, tx store.Tx, link school.Assignment, parent *school.ParentAccount) error {
	if err := tx.DeleteAssignment(ctx, link.StudentID, link.ParentID); err != nil {
		return err
	}
	now := s.now()
	if parent != nil {
		parent.ChildrenIDs = removeID(parent.ChildrenIDs, link.StudentID)
		parent.UpdatedAt = now
		if err := tx.UpdateParent(ctx, parent); err != nil {
			return err
		}
	}
	stu, err := tx.GetStudent(ctx, link.StudentID)
	switch {
	case store.IsNotFound(err):
	case err != nil:
		return err
	default:
		stu.ParentIDs = removeID(stu.ParentIDs, link.ParentID)
		stu.UpdatedAt = now
		if err := tx.UpdateStudent(ctx, &stu); err != nil {
			return err
		}
	}
	if !link.IsPrimary {
		return nil
	}
	rest, err := tx.ListAssignments(ctx, store.AssignmentFilter{StudentID: link.StudentID})
	if err != nil || len(rest) == 0 {
		return err
	}
	oldest := rest[0]
	for _, a := range rest[1:] {
		if a.AssignedAt.Before(oldest.AssignedAt) {
			oldest = a
		}
	}
	oldest.IsPrimary = true
	return tx.UpdateAssignment(ctx, oldest)
}

// SetPrimary makes parentID the student's primary guardian.
func (s *Service) SetPrimary(ctx context.Context, studentID, parentID, actor string) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		links, err := tx.ListAssignments(ctx, store.AssignmentFilter{StudentID: studentID})
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(links, func(a school.Assignment) bool { return a.ParentID == parentID })
		if idx < 0 {
			return ErrNotAssigned
		}
		for i, a := range links {
			want := i == idx
			if a.IsPrimary == want {
				continue
			}
			a.IsPrimary = want
			if err := tx.UpdateAssignment(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "guardians.set_primary", studentID, map[string]any{"parent_id": parentID})
	return nil
}

// ChildrenOf returns the parent's students in assignment order.
func (s *Service) ChildrenOf(ctx context.Context, parentID string) ([]school.Student, error) {
	var out []school.Student
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		parent, err := tx.GetParent(ctx, parentID)
		if err != nil {
			return err
		}
		if len(parent.ChildrenIDs) == 0 {
			out = []school.Student{}
			return nil
		}
		rows, err := tx.ListStudents(ctx, store.StudentFilter{IDs: parent.ChildrenIDs})
		if err != nil {
			return err
		}
		byID := make(map[string]school.Student, len(rows))
		for _, r := range rows {
			byID[r.ID] = r
		}
		out = make([]school.Student, 0, len(rows))
		for _, id := range parent.ChildrenIDs {
			if stu, ok := byID[id]; ok {
				out = append(out, stu)
			}
		}
		return nil
	})
	return out, err
}

// GuardiansOf returns the student's guardians, primary first.
func (s *Service) GuardiansOf(ctx context.Context, studentID string) ([]Guardian, error) {
	var out []Guardian
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetStudent(ctx, studentID); err != nil {
			return err
		}
		links, err := tx.ListAssignments(ctx, store.AssignmentFilter{StudentID: studentID})
		if err != nil {
			return err
		}
		out = make([]Guardian, 0, len(links))
		for _, link := range links {
			parent, err := tx.GetParent(ctx, link.ParentID)
			if err != nil {
				return fmt.Errorf("guardians: assignment %s/%s: %w", link.StudentID, link.ParentID, err)
			}
			out = append(out, Guardian{Parent: parent, Assignment: link})
		}
		slices.SortStableFunc(out, func(a, b Guardian) int {
			switch {
			case a.Assignment.IsPrimary == b.Assignment.IsPrimary:
				return 0
			case a.Assignment.IsPrimary:
				return -1
			default:
				return 1
			}
		})
		return nil
	})
	return out, err
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "parent_assignment",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
