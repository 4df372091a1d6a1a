package postgres

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/schoolfees/schoolfees/internal/store"
)

func TestWhereSkipsEmptyFilters(t *testing.T) {
	var w where
	w.eq("school_id", "sch-1")
	w.eq("status", "")
	w.add("id = ANY($%d)", []string{"a", "b"})

	require.Equal(t, " WHERE school_id = $1 AND id = ANY($2)", w.String())
	require.Len(t, w.args, 2)

	var empty where
	require.Empty(t, empty.String())
}

func TestWhereReusesPlaceholder(t *testing.T) {
	var w where
	w.add("(student_id = $%[1]d OR note = $%[1]d)", "stu-1")
	require.Equal(t, " WHERE (student_id = $1 OR note = $1)", w.String())
}

func TestMapError(t *testing.T) {
	require.NoError(t, mapError(nil))
	require.ErrorIs(t, mapError(pgx.ErrNoRows), store.ErrNotFound)
	require.ErrorIs(t, mapError(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23505", Message: "dup"})), store.ErrConflict)
	require.ErrorIs(t, mapError(&pgconn.PgError{Code: "40001"}), store.ErrConflict)
	require.ErrorIs(t, mapError(&pgconn.PgError{Code: "23503"}), store.ErrNotFound)

	other := &pgconn.PgError{Code: "42P01"}
	require.Equal(t, other, mapError(other))
}
