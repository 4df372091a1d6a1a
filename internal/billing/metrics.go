package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/school"
)

// FeeInputs is everything SchoolFeeMetrics reads for one school.
type FeeInputs struct {
	Students     []school.Student
	Records      []school.ParentFeeRecord
	Transactions []school.Transaction
}

// ComputeSchoolFeeMetrics derives collection figures from student fee lines, fee
// records and completed transactions. Only active students are counted; their fee
// lines and records are billed.
func ComputeSchoolFeeMetrics(schoolID string, in FeeInputs, engine ledger.Engine) SchoolFeeMetrics {
	now := engine.Clock()
	out := SchoolFeeMetrics{SchoolID: schoolID, ComputedAt: now}
	for _, stu := range in.Students {
		if stu.Status == school.StudentActive || stu.Status == "" {
			out.TotalStudents++
		}
		stu = engine.RecomputeStudent(stu)
		for _, f := range stu.Fees {
			out.TotalFeesBilled += f.Due()
			out.TotalFeesCollected += min(f.PaidAmount, f.Due())
			if f.Status == school.FeeStatusOverdue {
				out.LatePayments++
			}
		}
		out.OutstandingFees += stu.OutstandingFees
	}
	for _, rec := range in.Records {
		rec = engine.RecomputeRecord(rec)
		billed := rec.TotalAmount + rec.LateFees - rec.DiscountApplied
		out.TotalFeesBilled += billed
		out.TotalFeesCollected += min(rec.PaidAmount, billed)
		out.OutstandingFees += rec.OutstandingAmount
		if rec.PaymentStatus == school.RecordStatusOverdue {
			out.LatePayments++
		}
		if rec.InstallmentPlanID != "" && rec.PaymentStatus != school.RecordStatusPaid {
			out.ActiveInstallmentPlans++
		}
	}
	for _, tx := range in.Transactions {
		if tx.Status == school.TxCompleted && tx.ProcessedAt != nil && sameMonth(*tx.ProcessedAt, now) {
			out.ThisMonthCollection += tx.Amount
		}
	}
	out.CollectionRate = rate(int64(out.TotalFeesCollected), int64(out.TotalFeesBilled))
	if out.TotalStudents > 0 {
		out.AverageFeePerStudent = out.TotalFeesBilled / school.Money(out.TotalStudents)
	}
	return out
}

// PlatformInputs is everything PlatformMetrics reads.
type PlatformInputs struct {
	Schools       []school.School
	Subscriptions []school.SchoolSubscription
	Plans         []school.SubscriptionPlan
	Charges       []school.BillingRecord
}

// ComputePlatformMetrics derives revenue figures. Trialing schools count as active
// subscriptions but add nothing to MRR or its per-school average.
func ComputePlatformMetrics(in PlatformInputs, now time.Time) PlatformMetrics {
	plans := make(map[string]school.SubscriptionPlan, len(in.Plans))
	for _, p := range in.Plans {
		plans[p.ID] = p
	}
	out := PlatformMetrics{TotalSchools: len(in.Schools), ComputedAt: now}
	paying := 0
	for _, s := range in.Schools {
		if sameMonth(s.CreatedAt, now) {
			out.NewSchoolsThisMonth++
		}
	}
	for _, sub := range in.Subscriptions {
		switch sub.Status {
		case school.SubscriptionActive:
			out.ActiveSubscriptions++
			paying++
			out.MonthlyRecurringRevenue += plans[sub.PlanID].MonthlyEquivalent(sub.Interval)
		case school.SubscriptionTrialing:
			out.ActiveSubscriptions++
		case school.SubscriptionCanceled:
			if sub.CanceledAt != nil && sameMonth(*sub.CanceledAt, now) {
				out.CanceledSubscriptionsThisMonth++
			}
		}
	}
	for _, c := range in.Charges {
		if c.Status == ChargePaid {
			out.TotalRevenue += c.Amount
		}
	}
	out.ChurnRate = rate(int64(out.CanceledSubscriptionsThisMonth), int64(out.ActiveSubscriptions+out.CanceledSubscriptionsThisMonth))
	if paying > 0 {
		out.AverageRevenuePerSchool = out.MonthlyRecurringRevenue / school.Money(paying)
	}
	return out
}

// rate returns num/den as a percentage with one decimal place.
func rate(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(num).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(den)).Round(1)
	f, _ := pct.Float64()
	return f
}

func sameMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}
