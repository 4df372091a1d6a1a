package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/schoolfees/schoolfees/internal/school"
)

const planColumns = `id, name, monthly_price, yearly_price, max_students, max_staff, features`

func scanPlan(row pgx.Row) (school.SubscriptionPlan, error) {
	var p school.SubscriptionPlan
	err := row.Scan(&p.ID, &p.Name, &p.MonthlyPrice, &p.YearlyPrice, &p.MaxStudents, &p.MaxStaff, &p.Features)
	return p, mapError(err)
}

func (r *txRepo) GetPlan(ctx context.Context, id string) (school.SubscriptionPlan, error) {
	return scanPlan(r.tx.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id))
}

func (r *txRepo) ListPlans(ctx context.Context) ([]school.SubscriptionPlan, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+planColumns+` FROM subscription_plans ORDER BY monthly_price, id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.SubscriptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) UpsertPlan(ctx context.Context, p school.SubscriptionPlan) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO subscription_plans (`+planColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, monthly_price=EXCLUDED.monthly_price,
		yearly_price=EXCLUDED.yearly_price, max_students=EXCLUDED.max_students, max_staff=EXCLUDED.max_staff,
		features=EXCLUDED.features`,
		p.ID, p.Name, p.MonthlyPrice, p.YearlyPrice, p.MaxStudents, p.MaxStaff, nonNil(p.Features))
	return mapError(err)
}

const subscriptionColumns = `id, school_id, plan_id, billing_interval, status, current_period_start, current_period_end,
	canceled_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (school.SchoolSubscription, error) {
	var s school.SchoolSubscription
	err := row.Scan(&s.ID, &s.SchoolID, &s.PlanID, &s.Interval, &s.Status, &s.CurrentPeriodStart,
		&s.CurrentPeriodEnd, &s.CanceledAt, &s.CreatedAt, &s.UpdatedAt)
	return s, mapError(err)
}

func (r *txRepo) GetSubscription(ctx context.Context, schoolID string) (school.SchoolSubscription, error) {
	return scanSubscription(r.tx.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM school_subscriptions WHERE school_id = $1`, schoolID))
}

func (r *txRepo) ListSubscriptions(ctx context.Context) ([]school.SchoolSubscription, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+subscriptionColumns+` FROM school_subscriptions ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.SchoolSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) CreateSubscription(ctx context.Context, s school.SchoolSubscription) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO school_subscriptions (`+subscriptionColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.ID, s.SchoolID, s.PlanID, s.Interval, s.Status, s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CanceledAt,
		s.CreatedAt, s.UpdatedAt)
	return mapError(err)
}

func (r *txRepo) UpdateSubscription(ctx context.Context, s school.SchoolSubscription) error {
	return r.exec(ctx, `UPDATE school_subscriptions SET plan_id=$2, billing_interval=$3, status=$4,
		current_period_start=$5, current_period_end=$6, canceled_at=$7, updated_at=$8 WHERE school_id=$1`,
		s.SchoolID, s.PlanID, s.Interval, s.Status, s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CanceledAt, s.UpdatedAt)
}

func (r *txRepo) ListBillingRecords(ctx context.Context, schoolID string) ([]school.BillingRecord, error) {
	var w where
	w.eq("school_id", schoolID)
	rows, err := r.tx.Query(ctx, `SELECT id, school_id, subscription_id, amount, status, reference, billed_at
		FROM billing_records`+w.String()+` ORDER BY billed_at, id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.BillingRecord
	for rows.Next() {
		var b school.BillingRecord
		if err := rows.Scan(&b.ID, &b.SchoolID, &b.SubscriptionID, &b.Amount, &b.Status, &b.Reference, &b.BilledAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, b)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) CreateBillingRecord(ctx context.Context, b school.BillingRecord) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO billing_records (id, school_id, subscription_id, amount, status, reference, billed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`, b.ID, b.SchoolID, b.SubscriptionID, b.Amount, b.Status, b.Reference, b.BilledAt)
	return mapError(err)
}
