// Package billing covers platform subscriptions of schools and the fee and revenue
// metrics shown on school and platform dashboards.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
)

// Billing record statuses.
const (
	ChargePaid    = "paid"
	ChargePending = "pending"
)

// TrialPeriod is how long a newly onboarded school trials the default plan.
const TrialPeriod = 14 * 24 * time.Hour

var (
	// ErrPlanLimit indicates the subscription's plan cannot hold the school's usage.
	ErrPlanLimit = fmt.Errorf("billing: plan limit exceeded: %w", shared.ErrConflict)
	// ErrCanceled indicates the subscription is already canceled.
	ErrCanceled = fmt.Errorf("billing: subscription canceled: %w", shared.ErrConflict)
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DefaultPlans returns the plans seeded on first start.
func DefaultPlans() []school.SubscriptionPlan {
	return []school.SubscriptionPlan{
		{
			ID: "basic", Name: "Basic",
			MonthlyPrice: 5_000_000, YearlyPrice: 50_000_000,
			MaxStudents: 500, MaxStaff: 20,
			Features: []string{"fee_tracking", "online_payments", "parent_portal"},
		},
		{
			ID: "professional", Name: "Professional",
			MonthlyPrice: 12_000_000, YearlyPrice: 120_000_000,
			MaxStudents: 1500, MaxStaff: 50,
			Features: []string{"fee_tracking", "online_payments", "parent_portal", "installments", "family_discounts", "reports"},
		},
		{
			ID: "enterprise", Name: "Enterprise",
			MonthlyPrice: 30_000_000, YearlyPrice: 300_000_000,
			MaxStudents: school.Unlimited, MaxStaff: school.Unlimited,
			Features: []string{"fee_tracking", "online_payments", "parent_portal", "installments", "family_discounts", "reports", "api_access", "priority_support"},
		},
	}
}

// OnboardInput registers a school on the platform.
type OnboardInput struct {
	Name           string `json:"name" validate:"required,max=160"`
	Slug           string `json:"slug" validate:"required,max=80"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
	CurrentSession string `json:"current_session"`
	CurrentTerm    string `json:"current_term"`
	PlanID         string `json:"plan_id"`
}

// SubscribeInput moves a school onto a paid plan.
type SubscribeInput struct {
	SchoolID string                 `json:"-" validate:"required"`
	PlanID   string                 `json:"plan_id" validate:"required"`
	Interval school.BillingInterval `json:"interval" validate:"omitempty,oneof=monthly yearly"`
}

// Onboarded is the result of OnboardSchool.
type Onboarded struct {
	School       school.School             `json:"school"`
	Subscription school.SchoolSubscription `json:"subscription"`
}

// SchoolFeeMetrics summarises fee collection for one school.
type SchoolFeeMetrics struct {
	SchoolID               string       `json:"school_id"`
	TotalStudents          int          `json:"total_students"`
	TotalFeesBilled        school.Money `json:"total_fees_billed"`
	TotalFeesCollected     school.Money `json:"total_fees_collected"`
	OutstandingFees        school.Money `json:"outstanding_fees"`
	CollectionRate         float64      `json:"collection_rate"`
	AverageFeePerStudent   school.Money `json:"average_fee_per_student"`
	LatePayments           int          `json:"late_payments"`
	ThisMonthCollection    school.Money `json:"this_month_collection"`
	ActiveInstallmentPlans int          `json:"active_installment_plans"`
	ComputedAt             time.Time    `json:"computed_at"`
}

// Usage compares a school's footprint with its plan limits.
type Usage struct {
	SchoolID            string `json:"school_id"`
	PlanID              string `json:"plan_id"`
	CurrentStudents     int    `json:"current_students"`
	MaxStudents         int    `json:"max_students"`
	MonthlyTransactions int    `json:"monthly_transactions"`
	OverLimit           bool   `json:"over_limit"`
}

// PlatformMetrics summarises subscription revenue across schools.
type PlatformMetrics struct {
	TotalSchools                   int          `json:"total_schools"`
	ActiveSubscriptions            int          `json:"active_subscriptions"`
	MonthlyRecurringRevenue        school.Money `json:"monthly_recurring_revenue"`
	TotalRevenue                   school.Money `json:"total_revenue"`
	ChurnRate                      float64      `json:"churn_rate"`
	AverageRevenuePerSchool        school.Money `json:"average_revenue_per_school"`
	NewSchoolsThisMonth            int          `json:"new_schools_this_month"`
	CanceledSubscriptionsThisMonth int          `json:"canceled_subscriptions_this_month"`
	ComputedAt                     time.Time    `json:"computed_at"`
}
