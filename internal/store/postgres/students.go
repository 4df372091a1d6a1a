package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/store"
)

const schoolColumns = `id, name, slug, currency, current_session, current_term, plan_id, created_at`

func scanSchool(row pgx.Row) (school.School, error) {
	var s school.School
	err := row.Scan(&s.ID, &s.Name, &s.Slug, &s.Currency, &s.CurrentSession, &s.CurrentTerm, &s.PlanID, &s.CreatedAt)
	return s, mapError(err)
}

func (r *txRepo) GetSchool(ctx context.Context, id string) (school.School, error) {
	return scanSchool(r.tx.QueryRow(ctx, `SELECT `+schoolColumns+` FROM schools WHERE id = $1`, id))
}

func (r *txRepo) ListSchools(ctx context.Context) ([]school.School, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+schoolColumns+` FROM schools ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.School
	for rows.Next() {
		s, err := scanSchool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) CreateSchool(ctx context.Context, s school.School) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO schools (`+schoolColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.Name, s.Slug, s.Currency, s.CurrentSession, s.CurrentTerm, s.PlanID, s.CreatedAt)
	return mapError(err)
}

const studentColumns = `id, school_id, name, class_name, admission_number, session, term, parent_ids,
	fees, outstanding_fees, debt_risk, payments, status, version, created_at, updated_at`

func scanStudent(row pgx.Row) (school.Student, error) {
	var (
		s        school.Student
		fees     []byte
		payments []byte
	)
	err := row.Scan(&s.ID, &s.SchoolID, &s.Name, &s.Class, &s.AdmissionNumber, &s.Session, &s.Term,
		&s.ParentIDs, &fees, &s.OutstandingFees, &s.DebtRisk, &payments, &s.Status, &s.Version,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return school.Student{}, mapError(err)
	}
	if err := unmarshalJSON(fees, &s.Fees); err != nil {
		return school.Student{}, err
	}
	if err := unmarshalJSON(payments, &s.Payments); err != nil {
		return school.Student{}, err
	}
	return s, nil
}

func (r *txRepo) GetStudent(ctx context.Context, id string) (school.Student, error) {
	return scanStudent(r.tx.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) ListStudents(ctx context.Context, f store.StudentFilter) ([]school.Student, error) {
	var w where
	w.eq("school_id", f.SchoolID)
	w.eq("class_name", f.ClassName)
	w.eq("status", string(f.Status))
	if len(f.IDs) > 0 {
		w.add("id = ANY($%d)", f.IDs)
	}
	rows, err := r.tx.Query(ctx, `SELECT `+studentColumns+` FROM students`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) CreateStudent(ctx context.Context, s school.Student) error {
	fees, err := marshalJSON(nonNil(s.Fees))
	if err != nil {
		return err
	}
	payments, err := marshalJSON(nonNil(s.Payments))
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO students (`+studentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		s.ID, s.SchoolID, s.Name, s.Class, s.AdmissionNumber, s.Session, s.Term, nonNil(s.ParentIDs),
		fees, s.OutstandingFees, s.DebtRisk, payments, s.Status, s.Version, s.CreatedAt, s.UpdatedAt)
	return mapError(err)
}

func (r *txRepo) UpdateStudent(ctx context.Context, s *school.Student) error {
	fees, err := marshalJSON(nonNil(s.Fees))
	if err != nil {
		return err
	}
	payments, err := marshalJSON(nonNil(s.Payments))
	if err != nil {
		return err
	}
	err = r.execVersioned(ctx, "students", s.ID, `UPDATE students SET name=$2, class_name=$3, admission_number=$4,
		session=$5, term=$6, parent_ids=$7, fees=$8, outstanding_fees=$9, debt_risk=$10, payments=$11,
		status=$12, updated_at=$13, version=version+1
		WHERE id=$1 AND version=$14`,
		s.ID, s.Name, s.Class, s.AdmissionNumber, s.Session, s.Term, nonNil(s.ParentIDs), fees,
		s.OutstandingFees, s.DebtRisk, payments, s.Status, s.UpdatedAt, s.Version)
	if err != nil {
		return err
	}
	s.Version++
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
