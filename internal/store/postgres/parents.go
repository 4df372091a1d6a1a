package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/store"
)

const parentColumns = `id, school_id, name, email, phone, children_ids, version, created_at, updated_at`

func scanParent(row pgx.Row) (school.ParentAccount, error) {
	var p school.ParentAccount
	err := row.Scan(&p.ID, &p.SchoolID, &p.Name, &p.Email, &p.Phone, &p.ChildrenIDs, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, mapError(err)
}

func (r *txRepo) GetParent(ctx context.Context, id string) (school.ParentAccount, error) {
	return scanParent(r.tx.QueryRow(ctx, `SELECT `+parentColumns+` FROM parent_accounts WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) ListParents(ctx context.Context, schoolID string) ([]school.ParentAccount, error) {
	var w where
	w.eq("school_id", schoolID)
	rows, err := r.tx.Query(ctx, `SELECT `+parentColumns+` FROM parent_accounts`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.ParentAccount
	for rows.Next() {
		p, err := scanParent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) CreateParent(ctx context.Context, p school.ParentAccount) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO parent_accounts (`+parentColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.SchoolID, p.Name, p.Email, p.Phone, nonNil(p.ChildrenIDs), p.Version, p.CreatedAt, p.UpdatedAt)
	return mapError(err)
}

func (r *txRepo) UpdateParent(ctx context.Context, p *school.ParentAccount) error {
	err := r.execVersioned(ctx, "parent_accounts", p.ID, `UPDATE parent_accounts SET name=$2, email=$3, phone=$4,
		children_ids=$5, updated_at=$6, version=version+1 WHERE id=$1 AND version=$7`,
		p.ID, p.Name, p.Email, p.Phone, nonNil(p.ChildrenIDs), p.UpdatedAt, p.Version)
	if err != nil {
		return err
	}
	p.Version++
	return nil
}

func (r *txRepo) DeleteParent(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM parent_accounts WHERE id = $1`, id)
}

const assignmentColumns = `student_id, parent_id, relationship_type, is_primary, assigned_at, assigned_by`

func (r *txRepo) ListAssignments(ctx context.Context, f store.AssignmentFilter) ([]school.Assignment, error) {
	var w where
	w.eq("student_id", f.StudentID)
	w.eq("parent_id", f.ParentID)
	rows, err := r.tx.Query(ctx, `SELECT `+assignmentColumns+` FROM student_assignments`+w.String()+` ORDER BY assigned_at, parent_id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.Assignment
	for rows.Next() {
		var a school.Assignment
		if err := rows.Scan(&a.StudentID, &a.ParentID, &a.Relationship, &a.IsPrimary, &a.AssignedAt, &a.AssignedBy); err != nil {
			return nil, mapError(err)
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err())
}

func (r *txRepo) CreateAssignment(ctx context.Context, a school.Assignment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO student_assignments (`+assignmentColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		a.StudentID, a.ParentID, a.Relationship, a.IsPrimary, a.AssignedAt, a.AssignedBy)
	return mapError(err)
}

func (r *txRepo) UpdateAssignment(ctx context.Context, a school.Assignment) error {
	return r.exec(ctx, `UPDATE student_assignments SET relationship_type=$3, is_primary=$4
		WHERE student_id=$1 AND parent_id=$2`, a.StudentID, a.ParentID, a.Relationship, a.IsPrimary)
}

func (r *txRepo) DeleteAssignment(ctx context.Context, studentID, parentID string) error {
	return r.exec(ctx, `DELETE FROM student_assignments WHERE student_id=$1 AND parent_id=$2`, studentID, parentID)
}
