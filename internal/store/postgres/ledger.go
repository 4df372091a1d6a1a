package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/store"
)

const entryColumns = `id, school_id, student_id, target_id, kind, amount, reference, actor, note, created_at`

func (r *txRepo) AppendLedgerEntries(ctx context.Context, entries ...school.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO ledger_entries (`+entryColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			e.ID, e.SchoolID, e.StudentID, e.TargetID, e.Kind, e.Amount, e.Reference, e.Actor, e.Note, e.CreatedAt)
	}
	results := r.tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return mapError(err)
		}
	}
	return mapError(results.Close())
}

func (r *txRepo) ListLedgerEntries(ctx context.Context, f store.LedgerFilter) ([]school.LedgerEntry, error) {
	var w where
	w.eq("school_id", f.SchoolID)
	w.eq("student_id", f.StudentID)
	w.eq("target_id", f.TargetID)
	w.eq("kind", string(f.Kind))
	if !f.Since.IsZero() {
		w.add("created_at >= $%d", f.Since)
	}
	rows, err := r.tx.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.LedgerEntry
	for rows.Next() {
		var e school.LedgerEntry
		if err := rows.Scan(&e.ID, &e.SchoolID, &e.StudentID, &e.TargetID, &e.Kind, &e.Amount, &e.Reference,
			&e.Actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, e)
	}
	return out, mapError(rows.Err())
}
