package memory

import "slices"

// table keeps rows in insertion order so listings are deterministic.
type table[T any] struct {
	keys []string
	rows map[string]T
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

func (t *table[T]) get(key string) (T, bool) {
	v, ok := t.rows[key]
	return v, ok
}

func (t *table[T]) has(key string) bool {
	_, ok := t.rows[key]
	return ok
}

func (t *table[T]) put(key string, v T) {
	if _, ok := t.rows[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.rows[key] = v
}

func (t *table[T]) del(key string) bool {
	if _, ok := t.rows[key]; !ok {
		return false
	}
	delete(t.rows, key)
	t.keys = slices.DeleteFunc(t.keys, func(k string) bool { return k == key })
	return true
}

func (t *table[T]) values(keep func(T) bool) []T {
	out := make([]T, 0, len(t.keys))
	for _, k := range t.keys {
		v := t.rows[k]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func (t *table[T]) clone(cp func(T) T) *table[T] {
	out := &table[T]{keys: slices.Clone(t.keys), rows: make(map[string]T, len(t.rows))}
	for k, v := range t.rows {
		if cp != nil {
			v = cp(v)
		}
		out.rows[k] = v
	}
	return out
}
