package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/store"
)

const recordColumns = `id, school_id, student_id, fee_structure_id, academic_year, total_amount, paid_amount,
	outstanding_amount, credit_balance, late_fees, discount_applied, payment_status, next_due_date,
	installment_plan_id, late_fee_applied_at, version, created_at, updated_at`

func scanRecord(row pgx.Row) (school.ParentFeeRecord, error) {
	var (
		rec     school.ParentFeeRecord
		nextDue pgtype.Timestamptz
	)
	err := row.Scan(&rec.ID, &rec.SchoolID, &rec.StudentID, &rec.FeeStructureID, &rec.AcademicYear,
		&rec.TotalAmount, &rec.PaidAmount, &rec.OutstandingAmount, &rec.CreditBalance, &rec.LateFees,
		&rec.DiscountApplied, &rec.PaymentStatus, &nextDue, &rec.InstallmentPlanID, &rec.LateFeeAppliedAt,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return school.ParentFeeRecord{}, mapError(err)
	}
	if nextDue.Valid {
		rec.NextDueDate = nextDue.Time
	}
	return rec, nil
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func (r *txRepo) GetFeeRecord(ctx context.Context, id string) (school.ParentFeeRecord, error) {
	return scanRecord(r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM fee_records WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) ListFeeRecords(ctx context.Context, f store.FeeRecordFilter) ([]school.ParentFeeRecord, error) {
	var w where
	w.eq("school_id", f.SchoolID)
	w.eq("student_id", f.StudentID)
	w.eq("fee_structure_id", f.FeeStructureID)
	w.eq("payment_status", string(f.Status))
	rows, err := r.tx.Query(ctx, `SELECT `+recordColumns+` FROM fee_records`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.ParentFeeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) CreateFeeRecord(ctx context.Context, rec school.ParentFeeRecord) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO fee_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		rec.ID, rec.SchoolID, rec.StudentID, rec.FeeStructureID, rec.AcademicYear, rec.TotalAmount,
		rec.PaidAmount, rec.OutstandingAmount, rec.CreditBalance, rec.LateFees, rec.DiscountApplied,
		rec.PaymentStatus, timestamptz(rec.NextDueDate), rec.InstallmentPlanID, rec.LateFeeAppliedAt,
		rec.Version, rec.CreatedAt, rec.UpdatedAt)
	return mapError(err)
}

func (r *txRepo) UpdateFeeRecord(ctx context.Context, rec *school.ParentFeeRecord) error {
	err := r.execVersioned(ctx, "fee_records", rec.ID, `UPDATE fee_records SET total_amount=$2, paid_amount=$3,
		outstanding_amount=$4, credit_balance=$5, late_fees=$6, discount_applied=$7, payment_status=$8,
		next_due_date=$9, installment_plan_id=$10, late_fee_applied_at=$11, updated_at=$12, version=version+1
		WHERE id=$1 AND version=$13`,
		rec.ID, rec.TotalAmount, rec.PaidAmount, rec.OutstandingAmount, rec.CreditBalance, rec.LateFees,
		rec.DiscountApplied, rec.PaymentStatus, timestamptz(rec.NextDueDate), rec.InstallmentPlanID,
		rec.LateFeeAppliedAt, rec.UpdatedAt, rec.Version)
	if err != nil {
		return err
	}
	rec.Version++
	return nil
}
