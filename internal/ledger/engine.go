// Package ledger applies payments, late fees and discounts to student fee lines and
// ParentFeeRecords, and keeps every derived balance consistent with its inputs.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolfees/schoolfees/internal/school"
)

// Risk thresholds.
const (
	HighRiskOverdueDays    = 60
	ElevatedOverdueDays    = 30
	ElevatedOutstandingPct = 50
)

var maxPercent = decimal.NewFromInt(100)

// Engine holds the pure ledger arithmetic. Every mutator returns a fully recomputed
// copy and never modifies its input.
type Engine struct {
	Now func() time.Time
}

// NewEngine returns an Engine using now as its clock. A nil now uses time.Now.
func NewEngine(now func() time.Time) Engine {
	return Engine{Now: now}
}

func (e Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// ValidPercentage reports whether pct lies within (0, 100].
func ValidPercentage(pct decimal.Decimal) bool {
	return pct.IsPositive() && pct.LessThanOrEqual(maxPercent)
}

// FeeStatus derives the status of a single fee line.
func (e Engine) FeeStatus(f school.Fee) school.FeeStatus {
	switch {
	case f.PaidAmount >= f.Due():
		return school.FeeStatusPaid
	case !f.DueDate.IsZero() && e.now().After(f.DueDate):
		return school.FeeStatusOverdue
	default:
		return school.FeeStatusPending
	}
}

// RecomputeFee refreshes the derived status.
func (e Engine) RecomputeFee(f school.Fee) school.Fee {
	f.Status = e.FeeStatus(f)
	return f
}

// ApplyFeePayment adds amount to the fee's paid amount. Surplus stays in PaidAmount.
func (e Engine) ApplyFeePayment(f school.Fee, amount school.Money) (school.Fee, error) {
	if amount <= 0 {
		return f, ErrInvalidAmount
	}
	f.PaidAmount += amount
	return e.RecomputeFee(f), nil
}

// ApplyFeeDiscount reduces the fee's due amount, never below what is already paid.
// It returns the updated fee and the discount actually granted.
func (e Engine) ApplyFeeDiscount(f school.Fee, amount school.Money) (school.Fee, school.Money, error) {
	if amount <= 0 {
		return f, 0, ErrInvalidAmount
	}
	granted := min(amount, f.Remaining())
	f.Discount += granted
	return e.RecomputeFee(f), granted, nil
}

// ComputeOutstanding sums what is owed across the student's unpaid fees.
func (e Engine) ComputeOutstanding(s school.Student) school.Money {
	var total school.Money
	for _, f := range s.Fees {
		if e.FeeStatus(f) == school.FeeStatusPaid {
			continue
		}
		total += f.Due() - f.PaidAmount
	}
	return total
}

// ClassifyRisk grades a student by overdue age and the share of billed fees still owed.
func (e Engine) ClassifyRisk(s school.Student) school.RiskLevel {
	now := e.now()
	var (
		billed         school.Money
		outstanding    school.Money
		overdue        school.Money
		maxOverdueDays int
	)
	for _, f := range s.Fees {
		billed += f.Due()
		if e.FeeStatus(f) == school.FeeStatusPaid {
			continue
		}
		rem := f.Due() - f.PaidAmount
		outstanding += rem
		if !f.DueDate.IsZero() && now.After(f.DueDate) {
			overdue += rem
			if days := int(now.Sub(f.DueDate).Hours() / 24); days > maxOverdueDays {
				maxOverdueDays = days
			}
		}
	}
	if outstanding <= 0 {
		return school.RiskLow
	}
	halfBilled := func(amount school.Money) bool {
		return billed > 0 && amount*100 >= billed*ElevatedOutstandingPct
	}
	switch {
	case maxOverdueDays > HighRiskOverdueDays:
		return school.RiskHigh
	case maxOverdueDays >= ElevatedOverdueDays && halfBilled(overdue):
		return school.RiskHigh
	case overdue > 0 || halfBilled(outstanding):
		return school.RiskMedium
	default:
		return school.RiskLow
	}
}

// RecomputeStudent refreshes every fee status, the outstanding total and the risk.
func (e Engine) RecomputeStudent(s school.Student) school.Student {
	s = s.Clone()
	for i := range s.Fees {
		s.Fees[i] = e.RecomputeFee(s.Fees[i])
	}
	s.OutstandingFees = e.ComputeOutstanding(s)
	s.DebtRisk = e.ClassifyRisk(s)
	return s
}

// ApplyStudentPayment posts amount against one of the student's fee lines.
func (e Engine) ApplyStudentPayment(s school.Student, feeID string, amount school.Money) (school.Student, error) {
	if amount <= 0 {
		return s, ErrInvalidAmount
	}
	idx := s.FeeIndex(feeID)
	if idx < 0 {
		return s, fmt.Errorf("%w: %s", ErrFeeNotFound, feeID)
	}
	out := s.Clone()
	fee, err := e.ApplyFeePayment(out.Fees[idx], amount)
	if err != nil {
		return s, err
	}
	out.Fees[idx] = fee
	return e.RecomputeStudent(out), nil
}

// CheckStudent verifies the cached outstanding total against a recompute.
func (e Engine) CheckStudent(s school.Student) error {
	if want := e.ComputeOutstanding(s); want != s.OutstandingFees {
		return fmt.Errorf("%w: student %s outstanding %d, recomputed %d", ErrLedgerMismatch, s.ID, s.OutstandingFees, want)
	}
	return nil
}

// RecordStatus derives the payment status of a record whose balances are current.
func (e Engine) RecordStatus(r school.ParentFeeRecord) school.RecordStatus {
	switch {
	case r.OutstandingAmount <= 0:
		return school.RecordStatusPaid
	case !r.NextDueDate.IsZero() && e.now().After(r.NextDueDate):
		return school.RecordStatusOverdue
	case r.PaidAmount > 0:
		return school.RecordStatusPartial
	default:
		return school.RecordStatusPending
	}
}

// RecomputeRecord refreshes the outstanding amount, credit balance and status.
func (e Engine) RecomputeRecord(r school.ParentFeeRecord) school.ParentFeeRecord {
	net := r.TotalAmount + r.LateFees - r.DiscountApplied - r.PaidAmount
	if net >= 0 {
		r.OutstandingAmount, r.CreditBalance = net, 0
	} else {
		r.OutstandingAmount, r.CreditBalance = 0, -net
	}
	r.PaymentStatus = e.RecordStatus(r)
	return r
}

// ApplyPayment posts amount against a record. Surplus becomes credit balance.
func (e Engine) ApplyPayment(r school.ParentFeeRecord, amount school.Money) (school.ParentFeeRecord, error) {
	if amount <= 0 {
		return r, ErrInvalidAmount
	}
	r.PaidAmount += amount
	return e.RecomputeRecord(r), nil
}

// LateFeeAmount computes the charge for a late fee without applying it.
func LateFeeAmount(r school.ParentFeeRecord, value decimal.Decimal, typ school.LateFeeType) (school.Money, error) {
	if !value.IsPositive() {
		return 0, ErrInvalidAmount
	}
	switch typ {
	case school.LateFeeFixed:
		return school.Money(value.Round(0).IntPart()), nil
	case school.LateFeePercentage:
		if !ValidPercentage(value) {
			return 0, ErrInvalidPercentage
		}
		return r.TotalAmount.Percent(value), nil
	default:
		return 0, ErrInvalidLateFeeType
	}
}

// ApplyLateFee adds a fixed amount in minor units, or value percent of the total.
func (e Engine) ApplyLateFee(r school.ParentFeeRecord, value decimal.Decimal, typ school.LateFeeType) (school.ParentFeeRecord, school.Money, error) {
	charge, err := LateFeeAmount(r, value, typ)
	if err != nil {
		return r, 0, err
	}
	if charge <= 0 {
		return r, 0, ErrInvalidAmount
	}
	r.LateFees += charge
	return e.RecomputeRecord(r), charge, nil
}

// ApplyDiscount adds pct percent of the total to the record's discount, capped at the
// outstanding amount so a discount never creates credit. It returns the discount granted.
func (e Engine) ApplyDiscount(r school.ParentFeeRecord, pct decimal.Decimal) (school.ParentFeeRecord, school.Money, error) {
	if !ValidPercentage(pct) {
		return r, 0, ErrInvalidPercentage
	}
	r = e.RecomputeRecord(r)
	granted := min(r.TotalAmount.Percent(pct), r.OutstandingAmount)
	r.DiscountApplied += granted
	return e.RecomputeRecord(r), granted, nil
}

// CheckRecord verifies the stored balances satisfy the record invariant.
func (e Engine) CheckRecord(r school.ParentFeeRecord) error {
	want := e.RecomputeRecord(r)
	if want.OutstandingAmount != r.OutstandingAmount || want.CreditBalance != r.CreditBalance {
		return fmt.Errorf("%w: record %s outstanding %d credit %d, recomputed %d/%d", ErrLedgerMismatch,
			r.ID, r.OutstandingAmount, r.CreditBalance, want.OutstandingAmount, want.CreditBalance)
	}
	return nil
}

// Clock returns the engine's current time.
func (e Engine) Clock() time.Time {
	return e.now()
}
