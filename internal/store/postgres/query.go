package postgres

import (
	"encoding/json"
	"fmt"
	"strings"
)

// where accumulates optional equality filters into a WHERE clause.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(col, value string) {
	if value == "" {
		return
	}
	w.add(col+" = $%d", value)
}

func (w *where) add(cond string, value any) {
	w.args = append(w.args, value)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func marshalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: encode json: %w", err)
	}
	return raw, nil
}

func unmarshalJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("store/postgres: decode json: %w", err)
	}
	return nil
}
