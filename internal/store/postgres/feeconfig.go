package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/store"
)

const categoryColumns = `id, school_id, name, description, is_compulsory, applicable_classes, academic_year, created_at, updated_at`

func scanCategory(row pgx.Row) (school.FeeCategory, error) {
	var c school.FeeCategory
	err := row.Scan(&c.ID, &c.SchoolID, &c.Name, &c.Description, &c.IsCompulsory, &c.ApplicableClasses,
		&c.AcademicYear, &c.CreatedAt, &c.UpdatedAt)
	return c, mapError(err)
}

func (r *txRepo) GetFeeCategory(ctx context.Context, id string) (school.FeeCategory, error) {
	return scanCategory(r.tx.QueryRow(ctx, `SELECT `+categoryColumns+` FROM fee_categories WHERE id = $1`, id))
}

func (r *txRepo) ListFeeCategories(ctx context.Context, schoolID string) ([]school.FeeCategory, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+categoryColumns+` FROM fee_categories WHERE school_id = $1 ORDER BY created_at, id`, schoolID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.FeeCategory
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) CreateFeeCategory(ctx context.Context, c school.FeeCategory) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO fee_categories (`+categoryColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.SchoolID, c.Name, c.Description, c.IsCompulsory, nonNil(c.ApplicableClasses), c.AcademicYear,
		c.CreatedAt, c.UpdatedAt)
	return mapError(err)
}

func (r *txRepo) UpdateFeeCategory(ctx context.Context, c school.FeeCategory) error {
	return r.exec(ctx, `UPDATE fee_categories SET name=$2, description=$3, is_compulsory=$4, applicable_classes=$5,
		academic_year=$6, updated_at=$7 WHERE id=$1`,
		c.ID, c.Name, c.Description, c.IsCompulsory, nonNil(c.ApplicableClasses), c.AcademicYear, c.UpdatedAt)
}

func (r *txRepo) DeleteFeeCategory(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM fee_categories WHERE id = $1`, id)
}

const structureColumns = `id, school_id, category_id, class_name, academic_year, amount, currency, due_date,
	late_fee_amount, late_fee_percent, late_fee_type, allow_installments, is_active, created_at, updated_at`

func scanStructure(row pgx.Row) (school.FeeStructure, error) {
	var s school.FeeStructure
	err := row.Scan(&s.ID, &s.SchoolID, &s.CategoryID, &s.ClassName, &s.AcademicYear, &s.Amount, &s.Currency,
		&s.DueDate, &s.LateFeeAmount, &s.LateFeePercent, &s.LateFeeType, &s.AllowInstallments, &s.IsActive,
		&s.CreatedAt, &s.UpdatedAt)
	return s, mapError(err)
}

func (r *txRepo) GetFeeStructure(ctx context.Context, id string) (school.FeeStructure, error) {
	return scanStructure(r.tx.QueryRow(ctx, `SELECT `+structureColumns+` FROM fee_structures WHERE id = $1`, id))
}

func (r *txRepo) ListFeeStructures(ctx context.Context, f store.FeeStructureFilter) ([]school.FeeStructure, error) {
	var w where
	w.eq("school_id", f.SchoolID)
	w.eq("category_id", f.CategoryID)
	w.eq("class_name", f.ClassName)
	if f.ActiveOnly {
		w.conds = append(w.conds, "is_active")
	}
	rows, err := r.tx.Query(ctx, `SELECT `+structureColumns+` FROM fee_structures`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.FeeStructure
	for rows.Next() {
		s, err := scanStructure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) CreateFeeStructure(ctx context.Context, s school.FeeStructure) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO fee_structures (`+structureColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		s.ID, s.SchoolID, s.CategoryID, s.ClassName, s.AcademicYear, s.Amount, s.Currency, s.DueDate,
		s.LateFeeAmount, s.LateFeePercent, s.LateFeeType, s.AllowInstallments, s.IsActive, s.CreatedAt, s.UpdatedAt)
	return mapError(err)
}

func (r *txRepo) UpdateFeeStructure(ctx context.Context, s school.FeeStructure) error {
	return r.exec(ctx, `UPDATE fee_structures SET category_id=$2, class_name=$3, academic_year=$4, amount=$5,
		currency=$6, due_date=$7, late_fee_amount=$8, late_fee_percent=$9, late_fee_type=$10,
		allow_installments=$11, is_active=$12, updated_at=$13 WHERE id=$1`,
		s.ID, s.CategoryID, s.ClassName, s.AcademicYear, s.Amount, s.Currency, s.DueDate, s.LateFeeAmount,
		s.LateFeePercent, s.LateFeeType, s.AllowInstallments, s.IsActive, s.UpdatedAt)
}

func (r *txRepo) DeleteFeeStructure(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM fee_structures WHERE id = $1`, id)
}

const installmentColumns = `id, school_id, name, installment_amounts, due_dates, processing_fee`

func scanInstallmentPlan(row pgx.Row) (school.InstallmentPlan, error) {
	var (
		p       school.InstallmentPlan
		amounts []int64
	)
	if err := row.Scan(&p.ID, &p.SchoolID, &p.Name, &amounts, &p.DueDates, &p.ProcessingFee); err != nil {
		return school.InstallmentPlan{}, mapError(err)
	}
	p.InstallmentAmounts = make([]school.Money, len(amounts))
	for i, a := range amounts {
		p.InstallmentAmounts[i] = school.Money(a)
	}
	return p, nil
}

func (r *txRepo) GetInstallmentPlan(ctx context.Context, id string) (school.InstallmentPlan, error) {
	return scanInstallmentPlan(r.tx.QueryRow(ctx, `SELECT `+installmentColumns+` FROM installment_plans WHERE id = $1`, id))
}

func (r *txRepo) ListInstallmentPlans(ctx context.Context, schoolID string) ([]school.InstallmentPlan, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+installmentColumns+` FROM installment_plans WHERE school_id = $1 ORDER BY name, id`, schoolID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.InstallmentPlan
	for rows.Next() {
		p, err := scanInstallmentPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) CreateInstallmentPlan(ctx context.Context, p school.InstallmentPlan) error {
	amounts := make([]int64, len(p.InstallmentAmounts))
	for i, a := range p.InstallmentAmounts {
		amounts[i] = int64(a)
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO installment_plans (`+installmentColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.SchoolID, p.Name, amounts, nonNil[time.Time](p.DueDates), p.ProcessingFee)
	return mapError(err)
}

func (r *txRepo) DeleteInstallmentPlan(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM installment_plans WHERE id = $1`, id)
}
