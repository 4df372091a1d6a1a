package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service persists ledger mutations, one unit of work per call.
type Service struct {
	store   store.Store
	posting Posting
	locker  shared.Locker
	audit   AuditPort
	logger  *slog.Logger
}

// NewService builds Service. locker and audit may be nil.
func NewService(st store.Store, engine Engine, locker shared.Locker, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, posting: Posting{Engine: engine}, locker: locker, audit: audit, logger: logger}
}

// Engine exposes the arithmetic the service applies.
func (s *Service) Engine() Engine {
	return s.posting.Engine
}

// RecordPaymentInput posts a payment directly against a ParentFeeRecord.
type RecordPaymentInput struct {
	RecordID  string       `json:"-" validate:"required"`
	Amount    school.Money `json:"amount" validate:"gt=0"`
	Reference string       `json:"reference"`
	Actor     string       `json:"-"`
}

// FeePaymentInput posts a payment directly against a student's fee line.
type FeePaymentInput struct {
	StudentID string       `json:"-" validate:"required"`
	FeeID     string       `json:"-" validate:"required"`
	Amount    school.Money `json:"amount" validate:"gt=0"`
	Reference string       `json:"reference"`
	Method    string       `json:"method"`
	Actor     string       `json:"-"`
}

// LateFeeInput adds a late fee to a record. Value is minor units for fixed fees and a
// percentage of the total for percentage fees.
type LateFeeInput struct {
	RecordID string             `json:"-" validate:"required"`
	Value    decimal.Decimal    `json:"value"`
	Type     school.LateFeeType `json:"type" validate:"required"`
	Actor    string             `json:"-"`
}

// DiscountInput adds a percentage discount to a record.
type DiscountInput struct {
	RecordID string          `json:"-" validate:"required"`
	Percent  decimal.Decimal `json:"percent"`
	Actor    string          `json:"-"`
}

// StudentLedger is a student with every record and audit entry attached to it.
type StudentLedger struct {
	Student school.Student           `json:"student"`
	Records []school.ParentFeeRecord `json:"records"`
	Entries []school.LedgerEntry     `json:"entries"`
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, key)
}

// ApplyPaymentToRecord posts a payment on a ParentFeeRecord.
func (s *Service) ApplyPaymentToRecord(ctx context.Context, in RecordPaymentInput) (school.ParentFeeRecord, error) {
	if in.Amount <= 0 {
		return school.ParentFeeRecord{}, ErrInvalidAmount
	}
	release, err := s.lock(ctx, shared.RecordLockKey(in.RecordID))
	if err != nil {
		return school.ParentFeeRecord{}, err
	}
	defer release()

	var out school.ParentFeeRecord
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := s.posting.PostRecordPayment(ctx, tx, in.RecordID, in.Amount, PostingMeta{Reference: in.Reference, Actor: in.Actor})
		out = rec
		return err
	})
	if err != nil {
		return school.ParentFeeRecord{}, err
	}
	s.logger.InfoContext(ctx, "ledger payment posted",
		slog.String("record_id", out.ID),
		slog.Int64("amount", int64(in.Amount)),
		slog.String("status", string(out.PaymentStatus)))
	return out, nil
}

// ApplyPaymentToFee posts a payment on one fee line of a student.
func (s *Service) ApplyPaymentToFee(ctx context.Context, in FeePaymentInput) (school.Student, error) {
	if in.Amount <= 0 {
		return school.Student{}, ErrInvalidAmount
	}
	release, err := s.lock(ctx, shared.RecordLockKey(in.StudentID))
	if err != nil {
		return school.Student{}, err
	}
	defer release()

	var out school.Student
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stu, err := s.posting.PostFeePayment(ctx, tx, in.StudentID, in.FeeID, in.Amount,
			PostingMeta{Reference: in.Reference, Method: in.Method, Actor: in.Actor})
		out = stu
		return err
	})
	if err != nil {
		return school.Student{}, err
	}
	return out, nil
}

// ApplyLateFee adds a late fee to a record.
func (s *Service) ApplyLateFee(ctx context.Context, in LateFeeInput) (school.ParentFeeRecord, error) {
	release, err := s.lock(ctx, shared.RecordLockKey(in.RecordID))
	if err != nil {
		return school.ParentFeeRecord{}, err
	}
	defer release()

	var (
		out    school.ParentFeeRecord
		charge school.Money
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.GetFeeRecord(ctx, in.RecordID)
		if err != nil {
			return err
		}
		updated, amount, err := s.posting.Engine.ApplyLateFee(rec, in.Value, in.Type)
		if err != nil {
			return err
		}
		now := s.posting.Engine.now()
		updated.LateFeeAppliedAt = &now
		updated.UpdatedAt = now
		if err := tx.UpdateFeeRecord(ctx, &updated); err != nil {
			return err
		}
		entry := s.posting.Entry(updated.SchoolID, updated.StudentID, updated.ID, school.EntryLateFee, amount,
			PostingMeta{Actor: in.Actor, Note: string(in.Type)})
		out, charge = updated, amount
		return tx.AppendLedgerEntries(ctx, entry)
	})
	if err != nil {
		return school.ParentFeeRecord{}, err
	}
	s.record(ctx, in.Actor, "ledger.late_fee", out.ID, map[string]any{"amount": int64(charge), "type": in.Type})
	return out, nil
}

// ApplyDiscount adds a percentage discount to a record.
func (s *Service) ApplyDiscount(ctx context.Context, in DiscountInput) (school.ParentFeeRecord, error) {
	if !ValidPercentage(in.Percent) {
		return school.ParentFeeRecord{}, ErrInvalidPercentage
	}
	release, err := s.lock(ctx, shared.RecordLockKey(in.RecordID))
	if err != nil {
		return school.ParentFeeRecord{}, err
	}
	defer release()

	var (
		out      school.ParentFeeRecord
		discount school.Money
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.GetFeeRecord(ctx, in.RecordID)
		if err != nil {
			return err
		}
		updated, amount, err := s.posting.Engine.ApplyDiscount(rec, in.Percent)
		if err != nil {
			return err
		}
		if amount == 0 {
			out = rec
			return nil
		}
		updated.UpdatedAt = s.posting.Engine.now()
		if err := tx.UpdateFeeRecord(ctx, &updated); err != nil {
			return err
		}
		entry := s.posting.Entry(updated.SchoolID, updated.StudentID, updated.ID, school.EntryDiscount, amount,
			PostingMeta{Actor: in.Actor, Note: in.Percent.String() + "%"})
		out, discount = updated, amount
		return tx.AppendLedgerEntries(ctx, entry)
	})
	if err != nil {
		return school.ParentFeeRecord{}, err
	}
	s.record(ctx, in.Actor, "ledger.discount", out.ID, map[string]any{"amount": int64(discount), "percent": in.Percent.String()})
	return out, nil
}

// SweepLateFees charges each overdue record its structure's late fee once. It returns
// the number of records charged.
func (s *Service) SweepLateFees(ctx context.Context, schoolID string) (int, error) {
	charged := 0
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		charged = 0
		structures, err := tx.ListFeeStructures(ctx, store.FeeStructureFilter{SchoolID: schoolID})
		if err != nil {
			return err
		}
		now := s.posting.Engine.now()
		for _, st := range structures {
			value, ok := lateFeeValue(st)
			if !ok {
				continue
			}
			records, err := tx.ListFeeRecords(ctx, store.FeeRecordFilter{SchoolID: schoolID, FeeStructureID: st.ID})
			if err != nil {
				return err
			}
			for _, rec := range records {
				if rec.LateFeeAppliedAt != nil || rec.OutstandingAmount <= 0 {
					continue
				}
				due := rec.NextDueDate
				if due.IsZero() {
					due = st.DueDate
				}
				if !now.After(due) {
					continue
				}
				updated, amount, err := s.posting.Engine.ApplyLateFee(rec, value, st.LateFeeType)
				if err != nil {
					return fmt.Errorf("ledger: late fee for record %s: %w", rec.ID, err)
				}
				updated.LateFeeAppliedAt = &now
				updated.UpdatedAt = now
				if err := tx.UpdateFeeRecord(ctx, &updated); err != nil {
					return err
				}
				entry := s.posting.Entry(rec.SchoolID, rec.StudentID, rec.ID, school.EntryLateFee, amount,
					PostingMeta{Actor: "system", Note: "late fee sweep"})
				if err := tx.AppendLedgerEntries(ctx, entry); err != nil {
					return err
				}
				charged++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if charged > 0 {
		s.logger.InfoContext(ctx, "late fee sweep", slog.String("school_id", schoolID), slog.Int("charged", charged))
	}
	return charged, nil
}

func lateFeeValue(st school.FeeStructure) (decimal.Decimal, bool) {
	switch st.LateFeeType {
	case school.LateFeePercentage:
		v := decimal.NewFromFloat(st.LateFeePercent)
		return v, ValidPercentage(v)
	default:
		return decimal.NewFromInt(int64(st.LateFeeAmount)), st.LateFeeAmount > 0
	}
}

// StudentLedger loads the student, their fee records and audit trail. The cached
// outstanding total is verified against a recompute.
func (s *Service) StudentLedger(ctx context.Context, studentID string) (StudentLedger, error) {
	var out StudentLedger
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stu, err := tx.GetStudent(ctx, studentID)
		if err != nil {
			return err
		}
		records, err := tx.ListFeeRecords(ctx, store.FeeRecordFilter{StudentID: studentID})
		if err != nil {
			return err
		}
		entries, err := tx.ListLedgerEntries(ctx, store.LedgerFilter{StudentID: studentID})
		if err != nil {
			return err
		}
		out = StudentLedger{Student: s.posting.Engine.RecomputeStudent(stu), Records: records, Entries: entries}
		if err := s.posting.Engine.CheckStudent(stu); err != nil {
			s.logger.ErrorContext(ctx, "student ledger mismatch", slog.String("student_id", studentID), slog.Any("error", err))
			return err
		}
		for _, rec := range records {
			if err := s.posting.Engine.CheckRecord(rec); err != nil {
				s.logger.ErrorContext(ctx, "fee record mismatch", slog.String("record_id", rec.ID), slog.Any("error", err))
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "fee_record",
		EntityID: entityID,
		Meta:     meta,
		At:       s.posting.Engine.now(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
