// Package feeconfig manages a school's fee categories, fee structures and installment
// plans, and turns structures into per-student fee records.
package feeconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
)

var (
	// ErrInUse indicates a configuration row still referenced by other records.
	ErrInUse = fmt.Errorf("feeconfig: still referenced: %w", shared.ErrConflict)
	// ErrInstallmentsNotAllowed indicates the record's structure forbids installment plans.
	ErrInstallmentsNotAllowed = fmt.Errorf("feeconfig: structure does not allow installments: %w", shared.ErrValidation)
	// ErrPlanAttached indicates the record already follows an installment plan.
	ErrPlanAttached = fmt.Errorf("feeconfig: installment plan already attached: %w", shared.ErrConflict)
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CategoryInput creates or replaces a fee category.
type CategoryInput struct {
	SchoolID          string   `json:"-" validate:"required"`
	Name              string   `json:"name" validate:"required,max=120"`
	Description       string   `json:"description"`
	IsCompulsory      bool     `json:"is_compulsory"`
	ApplicableClasses []string `json:"applicable_classes" validate:"dive,required"`
	AcademicYear      string   `json:"academic_year"`
}

// StructureInput creates or replaces a fee structure.
type StructureInput struct {
	SchoolID          string             `json:"-" validate:"required"`
	CategoryID        string             `json:"category_id" validate:"required"`
	ClassName         string             `json:"class_name" validate:"required"`
	AcademicYear      string             `json:"academic_year"`
	Amount            school.Money       `json:"amount" validate:"gt=0"`
	Currency          string             `json:"currency" validate:"omitempty,len=3"`
	DueDate           school.Date        `json:"due_date"`
	LateFeeAmount     school.Money       `json:"late_fee_amount" validate:"gte=0"`
	LateFeePercent    float64            `json:"late_fee_percent" validate:"gte=0,lte=100"`
	LateFeeType       school.LateFeeType `json:"late_fee_type" validate:"omitempty,oneof=fixed percentage"`
	AllowInstallments bool               `json:"allow_installments"`
	IsActive          *bool              `json:"is_active"`
}

// PlanInput creates an installment plan.
type PlanInput struct {
	SchoolID           string         `json:"-" validate:"required"`
	Name               string         `json:"name" validate:"required,max=120"`
	InstallmentAmounts []school.Money `json:"installment_amounts" validate:"required,min=1,dive,gt=0"`
	DueDates           []school.Date  `json:"due_dates" validate:"required,min=1"`
	ProcessingFee      school.Money   `json:"processing_fee" validate:"gte=0"`
}

// GenerateResult reports what GenerateRecords did.
type GenerateResult struct {
	StructureID string   `json:"structure_id"`
	Created     []string `json:"created"`
	Skipped     []string `json:"skipped"`
}

// InstallmentStatus grades one scheduled installment.
type InstallmentStatus string

const (
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPending InstallmentStatus = "pending"
	InstallmentOverdue InstallmentStatus = "overdue"
)

// Installment is one line of a record's schedule.
type Installment struct {
	Number    int               `json:"number"`
	DueDate   time.Time         `json:"due_date"`
	Amount    school.Money      `json:"amount"`
	Paid      school.Money      `json:"paid"`
	Remaining school.Money      `json:"remaining"`
	Status    InstallmentStatus `json:"status"`
}

// Schedule is the installment view of a fee record.
type Schedule struct {
	Record       school.ParentFeeRecord `json:"record"`
	Plan         school.InstallmentPlan `json:"plan"`
	Installments []Installment          `json:"installments"`
	NextDue      *Installment           `json:"next_due,omitempty"`
}

// BuildSchedule spreads the record's paid amount over the plan's installments in due
// order. Paid amounts beyond the plan total are ignored.
func BuildSchedule(rec school.ParentFeeRecord, plan school.InstallmentPlan, now time.Time) Schedule {
	out := Schedule{Record: rec, Plan: plan, Installments: make([]Installment, 0, plan.NumberOfInstallments())}
	left := rec.PaidAmount
	for i, amount := range plan.InstallmentAmounts {
		inst := Installment{Number: i + 1, Amount: amount}
		if i < len(plan.DueDates) {
			inst.DueDate = plan.DueDates[i]
		}
		inst.Paid = min(left, amount)
		left -= inst.Paid
		inst.Remaining = amount - inst.Paid
		switch {
		case inst.Remaining == 0:
			inst.Status = InstallmentPaid
		case !inst.DueDate.IsZero() && now.After(inst.DueDate):
			inst.Status = InstallmentOverdue
		case inst.Paid > 0:
			inst.Status = InstallmentPartial
		default:
			inst.Status = InstallmentPending
		}
		out.Installments = append(out.Installments, inst)
	}
	for i := range out.Installments {
		if out.Installments[i].Remaining > 0 {
			next := out.Installments[i]
			out.NextDue = &next
			break
		}
	}
	return out
}
