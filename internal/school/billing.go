package school

import "time"

// BillingInterval is the cadence of a subscription charge.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

// SubscriptionStatus enumerates the lifecycle of a school subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Unlimited marks a plan limit with no ceiling.
const Unlimited = -1

// SubscriptionPlan is a platform offering a school can subscribe to.
type SubscriptionPlan struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MonthlyPrice Money    `json:"monthly_price"`
	YearlyPrice  Money    `json:"yearly_price"`
	MaxStudents  int      `json:"max_students"`
	MaxStaff     int      `json:"max_staff"`
	Features     []string `json:"features"`
}

// Price returns the plan price for the interval.
func (p SubscriptionPlan) Price(interval BillingInterval) Money {
	if interval == IntervalYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// MonthlyEquivalent normalises the plan price to a monthly figure.
func (p SubscriptionPlan) MonthlyEquivalent(interval BillingInterval) Money {
	if interval == IntervalYearly {
		return p.YearlyPrice / 12
	}
	return p.MonthlyPrice
}

// SchoolSubscription binds a school to a plan.
type SchoolSubscription struct {
	ID                 string             `json:"id"`
	SchoolID           string             `json:"school_id"`
	PlanID             string             `json:"plan_id"`
	Interval           BillingInterval    `json:"interval"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// BillingRecord is one platform charge against a school.
type BillingRecord struct {
	ID             string    `json:"id"`
	SchoolID       string    `json:"school_id"`
	SubscriptionID string    `json:"subscription_id"`
	Amount         Money     `json:"amount"`
	Status         string    `json:"status"`
	Reference      string    `json:"reference"`
	BilledAt       time.Time `json:"billed_at"`
}
