package feeconfig

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

// Service manages fee configuration.
type Service struct {
	store    store.Store
	posting  ledger.Posting
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service. audit may be nil.
func NewService(st store.Store, engine ledger.Engine, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, posting: ledger.Posting{Engine: engine}, audit: audit, logger: logger, validate: validator.New()}
}

func (s *Service) check(ctx context.Context, v any) error {
	if err := s.validate.StructCtx(ctx, v); err != nil {
		return fmt.Errorf("feeconfig: %w: %s", shared.ErrValidation, err.Error())
	}
	return nil
}

func (s *Service) read(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	return s.store.WithTx(ctx, fn)
}

// CreateCategory stores a new fee category.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (school.FeeCategory, error) {
	if err := s.check(ctx, in); err != nil {
		return school.FeeCategory{}, err
	}
	now := s.posting.Engine.Clock()
	cat := school.FeeCategory{
		ID:                uuid.NewString(),
		SchoolID:          in.SchoolID,
		Name:              strings.TrimSpace(in.Name),
		Description:       in.Description,
		IsCompulsory:      in.IsCompulsory,
		ApplicableClasses: slices.Clone(in.ApplicableClasses),
		AcademicYear:      in.AcademicYear,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetSchool(ctx, in.SchoolID); err != nil {
			return fmt.Errorf("feeconfig: school %s: %w", in.SchoolID, err)
		}
		return tx.CreateFeeCategory(ctx, cat)
	})
	if err != nil {
		return school.FeeCategory{}, err
	}
	return cat, nil
}

// UpdateCategory replaces a category's editable fields.
func (s *Service) UpdateCategory(ctx context.Context, id string, in CategoryInput) (school.FeeCategory, error) {
	if err := s.check(ctx, in); err != nil {
		return school.FeeCategory{}, err
	}
	var out school.FeeCategory
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cat, err := tx.GetFeeCategory(ctx, id)
		if err != nil {
			return err
		}
		if cat.SchoolID != in.SchoolID {
			return fmt.Errorf("feeconfig: category %s: %w", id, store.ErrNotFound)
		}
		cat.Name = strings.TrimSpace(in.Name)
		cat.Description = in.Description
		cat.IsCompulsory = in.IsCompulsory
		cat.ApplicableClasses = slices.Clone(in.ApplicableClasses)
		cat.AcademicYear = in.AcademicYear
		cat.UpdatedAt = s.posting.Engine.Clock()
		out = cat
		return tx.UpdateFeeCategory(ctx, cat)
	})
	return out, err
}

// ListCategories returns a school's categories.
func (s *Service) ListCategories(ctx context.Context, schoolID string) ([]school.FeeCategory, error) {
	var out []school.FeeCategory
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.ListFeeCategories(ctx, schoolID)
		out = rows
		return err
	})
	return out, err
}

// DeleteCategory removes a category no structure refers to.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cat, err := tx.GetFeeCategory(ctx, id)
		if err != nil {
			return err
		}
		used, err := tx.ListFeeStructures(ctx, store.FeeStructureFilter{SchoolID: cat.SchoolID, CategoryID: id})
		if err != nil {
			return err
		}
		if len(used) > 0 {
			return fmt.Errorf("%w: category %s has %d structures", ErrInUse, id, len(used))
		}
		return tx.DeleteFeeCategory(ctx, id)
	})
}

func structureFrom(in StructureInput, st school.FeeStructure) school.FeeStructure {
	st.CategoryID = in.CategoryID
	st.ClassName = in.ClassName
	st.AcademicYear = in.AcademicYear
	st.Amount = in.Amount
	st.Currency = in.Currency
	if st.Currency == "" {
		st.Currency = "NGN"
	}
	st.DueDate = in.DueDate.Time
	st.LateFeeAmount = in.LateFeeAmount
	st.LateFeePercent = in.LateFeePercent
	st.LateFeeType = in.LateFeeType
	if st.LateFeeType == "" {
		st.LateFeeType = school.LateFeeFixed
	}
	st.AllowInstallments = in.AllowInstallments
	if in.IsActive != nil {
		st.IsActive = *in.IsActive
	}
	return st
}

// CreateStructure stores a new fee structure. Structures start active unless the input
// says otherwise.
func (s *Service) CreateStructure(ctx context.Context, in StructureInput) (school.FeeStructure, error) {
	if err := s.check(ctx, in); err != nil {
		return school.FeeStructure{}, err
	}
	if in.DueDate.IsZero() {
		return school.FeeStructure{}, fmt.Errorf("feeconfig: due_date required: %w", shared.ErrValidation)
	}
	now := s.posting.Engine.Clock()
	st := structureFrom(in, school.FeeStructure{
		ID:        uuid.NewString(),
		SchoolID:  in.SchoolID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cat, err := tx.GetFeeCategory(ctx, in.CategoryID)
		if err != nil {
			return fmt.Errorf("feeconfig: category %s: %w", in.CategoryID, err)
		}
		if cat.SchoolID != in.SchoolID {
			return fmt.Errorf("feeconfig: category %s: %w", in.CategoryID, store.ErrNotFound)
		}
		return tx.CreateFeeStructure(ctx, st)
	})
	if err != nil {
		return school.FeeStructure{}, err
	}
	return st, nil
}

// UpdateStructure replaces a structure's editable fields. Existing records keep their
// amounts.
func (s *Service) UpdateStructure(ctx context.Context, id string, in StructureInput) (school.FeeStructure, error) {
	if err := s.check(ctx, in); err != nil {
		return school.FeeStructure{}, err
	}
	var out school.FeeStructure
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		st, err := tx.GetFeeStructure(ctx, id)
		if err != nil {
			return err
		}
		if st.SchoolID != in.SchoolID {
			return fmt.Errorf("feeconfig: structure %s: %w", id, store.ErrNotFound)
		}
		if in.DueDate.IsZero() {
			in.DueDate = school.Date{Time: st.DueDate}
		}
		out = structureFrom(in, st)
		out.UpdatedAt = s.posting.Engine.Clock()
		return tx.UpdateFeeStructure(ctx, out)
	})
	return out, err
}

// GetStructure loads one structure.
func (s *Service) GetStructure(ctx context.Context, id string) (school.FeeStructure, error) {
	var out school.FeeStructure
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		st, err := tx.GetFeeStructure(ctx, id)
		out = st
		return err
	})
	return out, err
}

// ListStructures returns structures matching filter.
func (s *Service) ListStructures(ctx context.Context, filter store.FeeStructureFilter) ([]school.FeeStructure, error) {
	var out []school.FeeStructure
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.ListFeeStructures(ctx, filter)
		out = rows
		return err
	})
	return out, err
}

// DeleteStructure removes a structure that has produced no fee records.
func (s *Service) DeleteStructure(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		st, err := tx.GetFeeStructure(ctx, id)
		if err != nil {
			return err
		}
		recs, err := tx.ListFeeRecords(ctx, store.FeeRecordFilter{SchoolID: st.SchoolID, FeeStructureID: id})
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			return fmt.Errorf("%w: structure %s has %d records", ErrInUse, id, len(recs))
		}
		return tx.DeleteFeeStructure(ctx, id)
	})
}

// CreatePlan stores an installment plan. Due dates must be given per installment in
// ascending order.
func (s *Service) CreatePlan(ctx context.Context, in PlanInput) (school.InstallmentPlan, error) {
	if err := s.check(ctx, in); err != nil {
		return school.InstallmentPlan{}, err
	}
	if len(in.DueDates) != len(in.InstallmentAmounts) {
		return school.InstallmentPlan{}, fmt.Errorf("feeconfig: %d amounts but %d due dates: %w", len(in.InstallmentAmounts), len(in.DueDates), shared.ErrValidation)
	}
	plan := school.InstallmentPlan{
		ID:                 uuid.NewString(),
		SchoolID:           in.SchoolID,
		Name:               strings.TrimSpace(in.Name),
		InstallmentAmounts: slices.Clone(in.InstallmentAmounts),
		ProcessingFee:      in.ProcessingFee,
	}
	for i, d := range in.DueDates {
		if d.IsZero() || (i > 0 && !d.After(in.DueDates[i-1].Time)) {
			return school.InstallmentPlan{}, fmt.Errorf("feeconfig: due date %d out of order: %w", i+1, shared.ErrValidation)
		}
		plan.DueDates = append(plan.DueDates, d.Time)
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetSchool(ctx, in.SchoolID); err != nil {
			return fmt.Errorf("feeconfig: school %s: %w", in.SchoolID, err)
		}
		return tx.CreateInstallmentPlan(ctx, plan)
	})
	if err != nil {
		return school.InstallmentPlan{}, err
	}
	return plan, nil
}

// ListPlans returns a school's installment plans.
func (s *Service) ListPlans(ctx context.Context, schoolID string) ([]school.InstallmentPlan, error) {
	var out []school.InstallmentPlan
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.ListInstallmentPlans(ctx, schoolID)
		out = rows
		return err
	})
	return out, err
}

// DeletePlan removes a plan no fee record follows.
func (s *Service) DeletePlan(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		plan, err := tx.GetInstallmentPlan(ctx, id)
		if err != nil {
			return err
		}
		recs, err := tx.ListFeeRecords(ctx, store.FeeRecordFilter{SchoolID: plan.SchoolID})
		if err != nil {
			return err
		}
		if slices.ContainsFunc(recs, func(r school.ParentFeeRecord) bool { return r.InstallmentPlanID == id }) {
			return fmt.Errorf("%w: plan %s", ErrInUse, id)
		}
		return tx.DeleteInstallmentPlan(ctx, id)
	})
}

// GenerateRecords creates a fee record from the structure for every active student of
// its class. Students that already have a record for the structure are skipped.
func (s *Service) GenerateRecords(ctx context.Context, structureID, actor string) (GenerateResult, error) {
	engine := s.posting.Engine
	result := GenerateResult{StructureID: structureID}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		result.Created, result.Skipped = []string{}, []string{}
		st, err := tx.GetFeeStructure(ctx, structureID)
		if err != nil {
			return err
		}
		if !st.IsActive {
			return fmt.Errorf("feeconfig: structure %s is inactive: %w", structureID, shared.ErrValidation)
		}
		students, err := tx.ListStudents(ctx, store.StudentFilter{SchoolID: st.SchoolID, ClassName: st.ClassName, Status: school.StudentActive})
		if err != nil {
			return err
		}
		existing, err := tx.ListFeeRecords(ctx, store.FeeRecordFilter{SchoolID: st.SchoolID, FeeStructureID: st.ID})
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(existing))
		for _, r := range existing {
			have[r.StudentID] = true
		}
		now := engine.Clock()
		for _, stu := range students {
			if have[stu.ID] {
				result.Skipped = append(result.Skipped, stu.ID)
				continue
			}
			rec := engine.RecomputeRecord(school.ParentFeeRecord{
				ID:             uuid.NewString(),
				SchoolID:       st.SchoolID,
				StudentID:      stu.ID,
				FeeStructureID: st.ID,
				AcademicYear:   st.AcademicYear,
				TotalAmount:    st.Amount,
				NextDueDate:    st.DueDate,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
			if err := tx.CreateFeeRecord(ctx, rec); err != nil {
				return fmt.Errorf("feeconfig: record for %s: %w", stu.ID, err)
			}
			entry := s.posting.Entry(rec.SchoolID, rec.StudentID, rec.ID, school.EntryCharge, rec.TotalAmount, ledger.PostingMeta{Actor: actor, Note: "fee structure " + st.ID})
			if err := tx.AppendLedgerEntries(ctx, entry); err != nil {
				return err
			}
			result.Created = append(result.Created, rec.ID)
		}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}
	s.logger.InfoContext(ctx, "fee records generated",
		slog.String("structure_id", structureID),
		slog.Int("created", len(result.Created)),
		slog.Int("skipped", len(result.Skipped)))
	s.record(ctx, actor, "feeconfig.generate_records", structureID, map[string]any{"created": len(result.Created)})
	return result, nil
}

// ApplyInstallmentPlan attaches a plan to a record. The plan's processing fee is
// charged as a late fee and the next due date moves to the first open installment.
func (s *Service) ApplyInstallmentPlan(ctx context.Context, recordID, planID, actor string) (Schedule, error) {
	engine := s.posting.Engine
	var out Schedule
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.GetFeeRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.InstallmentPlanID != "" {
			return fmt.Errorf("%w: record %s follows %s", ErrPlanAttached, recordID, rec.InstallmentPlanID)
		}
		plan, err := tx.GetInstallmentPlan(ctx, planID)
		if err != nil {
			return fmt.Errorf("feeconfig: plan %s: %w", planID, err)
		}
		if plan.SchoolID != rec.SchoolID {
			return fmt.Errorf("feeconfig: plan %s: %w", planID, store.ErrNotFound)
		}
		if rec.FeeStructureID != "" {
			st, err := tx.GetFeeStructure(ctx, rec.FeeStructureID)
			if err != nil {
				return err
			}
			if !st.AllowInstallments {
				return ErrInstallmentsNotAllowed
			}
		}
		rec.InstallmentPlanID = plan.ID
		rec.LateFees += plan.ProcessingFee
		sched := BuildSchedule(rec, plan, engine.Clock())
		if sched.NextDue != nil {
			rec.NextDueDate = sched.NextDue.DueDate
		}
		rec = engine.RecomputeRecord(rec)
		rec.UpdatedAt = engine.Clock()
		if err := tx.UpdateFeeRecord(ctx, &rec); err != nil {
			return err
		}
		if plan.ProcessingFee > 0 {
			entry := s.posting.Entry(rec.SchoolID, rec.StudentID, rec.ID, school.EntryLateFee, plan.ProcessingFee, ledger.PostingMeta{Actor: actor, Note: "installment processing fee"})
			if err := tx.AppendLedgerEntries(ctx, entry); err != nil {
				return err
			}
		}
		out = BuildSchedule(rec, plan, engine.Clock())
		return nil
	})
	if err != nil {
		return Schedule{}, err
	}
	s.record(ctx, actor, "feeconfig.apply_installment_plan", recordID, map[string]any{"plan_id": planID})
	return out, nil
}

// InstallmentSchedule reports what is due and paid per installment of a record.
func (s *Service) InstallmentSchedule(ctx context.Context, recordID string) (Schedule, error) {
	var out Schedule
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.GetFeeRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.InstallmentPlanID == "" {
			return fmt.Errorf("feeconfig: record %s has no installment plan: %w", recordID, store.ErrNotFound)
		}
		plan, err := tx.GetInstallmentPlan(ctx, rec.InstallmentPlanID)
		if err != nil {
			return err
		}
		out = BuildSchedule(rec, plan, s.posting.Engine.Clock())
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
		Entity:   "fee_config",
		EntityID: entityID,
		Meta:     meta,
		At:       s.posting.Engine.Clock(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
