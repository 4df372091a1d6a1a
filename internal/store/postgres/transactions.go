package postgres

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/store"
)

const transactionColumns = `id, school_id, reference, fee_record_id, student_id, gateway, status, amount, currency,
	lines, customer, notes, proof, redirect_url, gateway_status, gateway_raw, failure_reason, last_error,
	verify_attempts, initiated_by, processed_by, initiated_at, processed_at, version`

func scanTransaction(row pgx.Row) (school.Transaction, error) {
	var (
		t        school.Transaction
		lines    []byte
		customer []byte
		proof    []byte
	)
	err := row.Scan(&t.ID, &t.SchoolID, &t.Reference, &t.FeeRecordID, &t.StudentID, &t.Gateway, &t.Status,
		&t.Amount, &t.Currency, &lines, &customer, &t.Notes, &proof, &t.RedirectURL, &t.GatewayStatus,
		&t.GatewayRaw, &t.FailureReason, &t.LastError, &t.VerifyAttempts, &t.InitiatedBy, &t.ProcessedBy,
		&t.InitiatedAt, &t.ProcessedAt, &t.Version)
	if err != nil {
		return school.Transaction{}, mapError(err)
	}
	if err := unmarshalJSON(lines, &t.Lines); err != nil {
		return school.Transaction{}, err
	}
	if err := unmarshalJSON(customer, &t.Customer); err != nil {
		return school.Transaction{}, err
	}
	if len(proof) > 0 && string(proof) != "null" {
		t.Proof = &school.PaymentProof{}
		if err := unmarshalJSON(proof, t.Proof); err != nil {
			return school.Transaction{}, err
		}
	}
	return t, nil
}

func encodeTransaction(t school.Transaction) (lines, customer, proof []byte, err error) {
	if lines, err = marshalJSON(nonNil(t.Lines)); err != nil {
		return nil, nil, nil, err
	}
	if customer, err = marshalJSON(t.Customer); err != nil {
		return nil, nil, nil, err
	}
	if t.Proof != nil {
		if proof, err = marshalJSON(t.Proof); err != nil {
			return nil, nil, nil, err
		}
	}
	return lines, customer, proof, nil
}

func (r *txRepo) GetTransaction(ctx context.Context, reference string) (school.Transaction, error) {
	return scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM fee_transactions WHERE reference = $1 FOR UPDATE`, reference))
}

func (r *txRepo) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]school.Transaction, error) {
	var w where
	w.eq("school_id", f.SchoolID)
	w.eq("status", string(f.Status))
	w.eq("gateway", string(f.Gateway))
	if f.StudentID != "" {
		w.add("(student_id = $%[1]d OR lines @> jsonb_build_array(jsonb_build_object('student_id', $%[1]d::text)))", f.StudentID)
	}
	sql := `SELECT ` + transactionColumns + ` FROM fee_transactions` + w.String() + ` ORDER BY initiated_at DESC, reference`
	if f.Limit > 0 {
		w.args = append(w.args, f.Limit)
		sql += " LIMIT $" + strconv.Itoa(len(w.args))
	}
	rows, err := r.tx.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []school.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	// oldest first, matching the in-memory store
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *txRepo) CreateTransaction(ctx context.Context, t school.Transaction) error {
	lines, customer, proof, err := encodeTransaction(t)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO fee_transactions (`+transactionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		t.ID, t.SchoolID, t.Reference, t.FeeRecordID, t.StudentID, t.Gateway, t.Status, t.Amount, t.Currency,
		lines, customer, t.Notes, proof, t.RedirectURL, t.GatewayStatus, t.GatewayRaw, t.FailureReason,
		t.LastError, t.VerifyAttempts, t.InitiatedBy, t.ProcessedBy, t.InitiatedAt, t.ProcessedAt, t.Version)
	return mapError(err)
}

func (r *txRepo) UpdateTransaction(ctx context.Context, t *school.Transaction) error {
	lines, customer, proof, err := encodeTransaction(*t)
	if err != nil {
		return err
	}
	err = r.execVersioned(ctx, "fee_transactions", t.Reference, `UPDATE fee_transactions SET status=$2, amount=$3,
		lines=$4, customer=$5, notes=$6, proof=$7, redirect_url=$8, gateway_status=$9, gateway_raw=$10,
		failure_reason=$11, last_error=$12, verify_attempts=$13, processed_by=$14, processed_at=$15,
		version=version+1
		WHERE reference=$1 AND version=$16`,
		t.Reference, t.Status, t.Amount, lines, customer, t.Notes, proof, t.RedirectURL, t.GatewayStatus,
		t.GatewayRaw, t.FailureReason, t.LastError, t.VerifyAttempts, t.ProcessedBy, t.ProcessedAt, t.Version)
	if err != nil {
		return err
	}
	t.Version++
	return nil
}
