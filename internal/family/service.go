package family

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service loads family groups and applies sibling-wide changes.
type Service struct {
	store     store.Store
	posting   ledger.Posting
	threshold school.Money
	audit     AuditPort
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewService builds Service. A non-positive threshold selects DefaultDiscountThreshold.
func NewService(st store.Store, engine ledger.Engine, threshold school.Money, audit AuditPort, logger *slog.Logger) *Service {
	if threshold <= 0 {
		threshold = DefaultDiscountThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		posting:   ledger.Posting{Engine: engine},
		threshold: threshold,
		audit:     audit,
		logger:    logger,
		validate:  validator.New(),
	}
}

// FamilyGroups returns every family of a school.
func (s *Service) FamilyGroups(ctx context.Context, schoolID string) ([]Group, error) {
	var out []Group
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		parents, err := tx.ListParents(ctx, schoolID)
		if err != nil {
			return err
		}
		students, err := tx.ListStudents(ctx, store.StudentFilter{SchoolID: schoolID})
		if err != nil {
			return err
		}
		var links []school.Assignment
		for _, p := range parents {
			a, err := tx.ListAssignments(ctx, store.AssignmentFilter{ParentID: p.ID})
			if err != nil {
				return err
			}
			links = append(links, a...)
		}
		out = BuildFamilyGroups(parents, students, links, s.threshold)
		return nil
	})
	return out, err
}

// ChildDiscount is the discount one child received.
type ChildDiscount struct {
	StudentID     string       `json:"student_id"`
	Before        school.Money `json:"outstanding_before"`
	Discount      school.Money `json:"discount"`
	After         school.Money `json:"outstanding_after"`
	LedgerEntryID string       `json:"ledger_entry_id,omitempty"`
}

// SiblingDiscountResult summarises ApplySiblingDiscount.
type SiblingDiscountResult struct {
	ParentID      string          `json:"parent_id"`
	Percent       decimal.Decimal `json:"percent"`
	Children      []ChildDiscount `json:"children"`
	TotalDiscount school.Money    `json:"total_discount"`
}

// ApplySiblingDiscount takes pct percent off each child's own outstanding balance,
// spread over that child's unpaid fees by what each still owes. Every child of the
// family is updated in one unit of work.
func (s *Service) ApplySiblingDiscount(ctx context.Context, parentID string, pct decimal.Decimal, actor string) (SiblingDiscountResult, error) {
	if !ledger.ValidPercentage(pct) {
		return SiblingDiscountResult{}, fmt.Errorf("%w: %s", ledger.ErrInvalidPercentage, pct)
	}
	engine := s.posting.Engine
	result := SiblingDiscountResult{ParentID: parentID, Percent: pct}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		result.Children, result.TotalDiscount = nil, 0
		children, err := s.children(ctx, tx, parentID)
		if err != nil {
			return err
		}
		meta := ledger.PostingMeta{Actor: actor, Note: pct.String() + "% sibling discount"}
		for _, stu := range children {
			stu = engine.RecomputeStudent(stu)
			cd := ChildDiscount{StudentID: stu.ID, Before: stu.OutstandingFees}
			discount := stu.OutstandingFees.Percent(pct)
			if discount > 0 {
				idx := make([]int, 0, len(stu.Fees))
				weights := make([]school.Money, 0, len(stu.Fees))
				for i, f := range stu.Fees {
					if f.Status != school.FeeStatusPaid && f.Remaining() > 0 {
						idx = append(idx, i)
						weights = append(weights, f.Remaining())
					}
				}
				for k, share := range split(discount, weights) {
					if share <= 0 {
						continue
					}
					fee, granted, err := engine.ApplyFeeDiscount(stu.Fees[idx[k]], share)
					if err != nil {
						return err
					}
					stu.Fees[idx[k]] = fee
					cd.Discount += granted
				}
			}
			if cd.Discount > 0 {
				stu = engine.RecomputeStudent(stu)
				stu.UpdatedAt = engine.Clock()
				if err := tx.UpdateStudent(ctx, &stu); err != nil {
					return fmt.Errorf("family: update student %s: %w", stu.ID, err)
				}
				entry := s.posting.Entry(stu.SchoolID, stu.ID, stu.ID, school.EntrySiblingDiscount, cd.Discount, meta)
				if err := tx.AppendLedgerEntries(ctx, entry); err != nil {
					return err
				}
				cd.LedgerEntryID = entry.ID
			}
			cd.After = stu.OutstandingFees
			result.Children = append(result.Children, cd)
			result.TotalDiscount += cd.Discount
		}
		return nil
	})
	if err != nil {
		return SiblingDiscountResult{}, err
	}
	s.record(ctx, actor, "family.sibling_discount", parentID, map[string]any{
		"percent":  pct.String(),
		"children": len(result.Children),
		"total":    int64(result.TotalDiscount),
	})
	return result, nil
}

// NewFee is a fee obligation added to every child.
type NewFee struct {
	Type    string       `json:"type" validate:"required"`
	Amount  school.Money `json:"amount" validate:"gt=0"`
	DueDate school.Date  `json:"due_date"`
	Session string       `json:"session"`
	Term    string       `json:"term"`
}

// BulkUpdate lists the changes applied to every child. Nil fields are left unchanged.
type BulkUpdate struct {
	Class   *string  `json:"class" validate:"omitempty,min=1"`
	Session *string  `json:"session" validate:"omitempty,min=1"`
	Term    *string  `json:"term" validate:"omitempty,min=1"`
	Fees    []NewFee `json:"fees" validate:"dive"`
}

// BulkUpdateSiblings applies the same update to every child in the parent's family. Either every
// child is updated or none is.
func (s *Service) BulkUpdateSiblings(ctx context.Context, parentID string, update BulkUpdate, actor string) ([]school.Student, error) {
	if err := s.validate.StructCtx(ctx, update); err != nil {
		return nil, fmt.Errorf("family: %w: %s", shared.ErrValidation, err.Error())
	}
	if update.Class == nil && update.Session == nil && update.Term == nil && len(update.Fees) == 0 {
		return nil, fmt.Errorf("family: empty bulk update: %w", shared.ErrValidation)
	}
	for i, nf := range update.Fees {
		if nf.DueDate.IsZero() {
			return nil, fmt.Errorf("family: fee %d without due date: %w", i, shared.ErrValidation)
		}
	}
	engine := s.posting.Engine
	var out []school.Student
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out = nil
		children, err := s.children(ctx, tx, parentID)
		if err != nil {
			return err
		}
		now := engine.Clock()
		for _, stu := range children {
			if update.Class != nil {
				stu.Class = *update.Class
			}
			if update.Session != nil {
				stu.Session = *update.Session
			}
			if update.Term != nil {
				stu.Term = *update.Term
			}
			for _, nf := range update.Fees {
				stu.Fees = append(stu.Fees, school.Fee{
					ID:      uuid.NewString(),
					Type:    nf.Type,
					Amount:  nf.Amount,
					DueDate: nf.DueDate.Time,
					Session: nf.Session,
					Term:    nf.Term,
				})
			}
			stu = engine.RecomputeStudent(stu)
			stu.UpdatedAt = now
			if err := tx.UpdateStudent(ctx, &stu); err != nil {
				return fmt.Errorf("family: update student %s: %w", stu.ID, err)
			}
			for _, nf := range update.Fees {
				entry := s.posting.Entry(stu.SchoolID, stu.ID, stu.ID, school.EntryCharge, nf.Amount, ledger.PostingMeta{Actor: actor, Note: nf.Type})
				if err := tx.AppendLedgerEntries(ctx, entry); err != nil {
					return err
				}
			}
			out = append(out, stu)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, "family.bulk_update", parentID, map[string]any{"children": len(out), "fees": len(update.Fees)})
	return out, nil
}

// children loads the students of the family the parent heads. Children whose primary
// guardian is another parent belong to that parent's family and are skipped.
func (s *Service) children(ctx context.Context, tx store.Tx, parentID string) ([]school.Student, error) {
	parent, err := tx.GetParent(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("family: parent %s: %w", parentID, err)
	}
	parents, err := tx.ListParents(ctx, parent.SchoolID)
	if err != nil {
		return nil, err
	}
	var links []school.Assignment
	for _, id := range parent.ChildrenIDs {
		a, err := tx.ListAssignments(ctx, store.AssignmentFilter{StudentID: id})
		if err != nil {
			return nil, err
		}
		links = append(links, a...)
	}
	head := FamilyOf(parents, links)
	out := make([]school.Student, 0, len(parent.ChildrenIDs))
	for _, id := range parent.ChildrenIDs {
		if head[id] != parentID {
			continue
		}
		stu, err := tx.GetStudent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("family: child %s: %w", id, err)
		}
		out = append(out, stu)
	}
	if len(out) == 0 && len(parent.ChildrenIDs) > 0 {
		return nil, fmt.Errorf("family: parent %s is not the primary guardian of any child: %w", parentID, shared.ErrValidation)
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "parent_account",
		EntityID: entityID,
		Meta:     meta,
		At:       s.posting.Engine.Clock(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
