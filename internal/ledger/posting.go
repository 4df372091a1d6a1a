package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/store"
)

// Posting applies ledger mutations inside a unit of work owned by the caller, and
// appends the matching audit entries.
type Posting struct {
	Engine Engine
}

// PostingMeta describes who caused a mutation and why.
type PostingMeta struct {
	Reference string
	Method    string
	Actor     string
	Note      string
}

// PostRecordPayment applies amount to the record.
func (p Posting) PostRecordPayment(ctx context.Context, tx store.Tx, recordID string, amount school.Money, meta PostingMeta) (school.ParentFeeRecord, error) {
	rec, err := tx.GetFeeRecord(ctx, recordID)
	if err != nil {
		return school.ParentFeeRecord{}, fmt.Errorf("ledger: load record %s: %w", recordID, err)
	}
	updated, err := p.Engine.ApplyPayment(rec, amount)
	if err != nil {
		return school.ParentFeeRecord{}, err
	}
	updated.UpdatedAt = p.Engine.now()
	if err := tx.UpdateFeeRecord(ctx, &updated); err != nil {
		return school.ParentFeeRecord{}, fmt.Errorf("ledger: update record %s: %w", recordID, err)
	}
	entry := p.Entry(updated.SchoolID, updated.StudentID, updated.ID, school.EntryPayment, amount, meta)
	if err := tx.AppendLedgerEntries(ctx, entry); err != nil {
		return school.ParentFeeRecord{}, err
	}
	return updated, nil
}

// PostFeePayment applies amount to one fee line of a student and records it in the
// student's payment history.
func (p Posting) PostFeePayment(ctx context.Context, tx store.Tx, studentID, feeID string, amount school.Money, meta PostingMeta) (school.Student, error) {
	stu, err := tx.GetStudent(ctx, studentID)
	if err != nil {
		return school.Student{}, fmt.Errorf("ledger: load student %s: %w", studentID, err)
	}
	updated, err := p.Engine.ApplyStudentPayment(stu, feeID, amount)
	if err != nil {
		return school.Student{}, err
	}
	now := p.Engine.now()
	method := meta.Method
	if method == "" {
		method = string(school.GatewayManual)
	}
	updated.Payments = append(updated.Payments, school.StudentPayment{
		ID:        uuid.NewString(),
		FeeID:     feeID,
		Amount:    amount,
		Reference: meta.Reference,
		Method:    method,
		PaidAt:    now,
	})
	updated.UpdatedAt = now
	if err := tx.UpdateStudent(ctx, &updated); err != nil {
		return school.Student{}, fmt.Errorf("ledger: update student %s: %w", studentID, err)
	}
	entry := p.Entry(updated.SchoolID, updated.ID, feeID, school.EntryPayment, amount, meta)
	if err := tx.AppendLedgerEntries(ctx, entry); err != nil {
		return school.Student{}, err
	}
	return updated, nil
}

// PostLine applies one payment line item to whichever target it names.
func (p Posting) PostLine(ctx context.Context, tx store.Tx, line school.LineItem, meta PostingMeta) error {
	switch {
	case line.FeeRecordID != "":
		_, err := p.PostRecordPayment(ctx, tx, line.FeeRecordID, line.Amount, meta)
		return err
	case line.StudentID != "" && line.FeeID != "":
		_, err := p.PostFeePayment(ctx, tx, line.StudentID, line.FeeID, line.Amount, meta)
		return err
	default:
		return fmt.Errorf("ledger: line item without target: %w", store.ErrNotFound)
	}
}

// CheckLineTarget confirms the line's target exists without mutating it.
func CheckLineTarget(ctx context.Context, tx store.Tx, line school.LineItem) (schoolID string, err error) {
	switch {
	case line.FeeRecordID != "":
		rec, err := tx.GetFeeRecord(ctx, line.FeeRecordID)
		if err != nil {
			return "", fmt.Errorf("ledger: fee record %s: %w", line.FeeRecordID, err)
		}
		return rec.SchoolID, nil
	case line.StudentID != "" && line.FeeID != "":
		stu, err := tx.GetStudent(ctx, line.StudentID)
		if err != nil {
			return "", fmt.Errorf("ledger: student %s: %w", line.StudentID, err)
		}
		if stu.FeeIndex(line.FeeID) < 0 {
			return "", fmt.Errorf("%w: %s", ErrFeeNotFound, line.FeeID)
		}
		return stu.SchoolID, nil
	default:
		return "", fmt.Errorf("ledger: line item without target: %w", store.ErrNotFound)
	}
}

// Entry builds a ledger entry stamped with the engine clock.
func (p Posting) Entry(schoolID, studentID, targetID string, kind school.EntryKind, amount school.Money, meta PostingMeta) school.LedgerEntry {
	return school.LedgerEntry{
		ID:        uuid.NewString(),
		SchoolID:  schoolID,
		StudentID: studentID,
		TargetID:  targetID,
		Kind:      kind,
		Amount:    amount,
		Reference: meta.Reference,
		Actor:     meta.Actor,
		Note:      meta.Note,
		CreatedAt: p.Engine.now(),
	}
}
