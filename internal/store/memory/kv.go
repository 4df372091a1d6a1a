package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/schoolfees/schoolfees/internal/school"
)

// KV is the key-value backend snapshots are written to. Get returns nil, nil for a
// missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// RedisKV stores snapshots as plain Redis strings.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV wraps client. prefix is prepended to every key and may be empty.
func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (kv *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := kv.client.Get(ctx, kv.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (kv *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return kv.client.Set(ctx, kv.prefix+key, value, 0).Err()
}

// FileKV stores each key as <dir>/<key>.json.
type FileKV struct {
	dir string
}

// NewFileKV creates dir when missing.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store/memory: create dir: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

func (kv *FileKV) path(key string) string {
	return filepath.Join(kv.dir, key+".json")
}

func (kv *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(kv.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (kv *FileKV) Set(ctx context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(kv.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), kv.path(key))
}

func (s *Store) load(ctx context.Context) error {
	var parents []school.ParentAccount
	if err := readJSON(ctx, s.kv, ParentAccountsKey, &parents); err != nil {
		return err
	}
	var assignments []school.Assignment
	if err := readJSON(ctx, s.kv, AssignmentsKey, &assignments); err != nil {
		return err
	}
	for _, p := range parents {
		s.state.parents.put(p.ID, p)
	}
	for _, a := range assignments {
		s.state.assignments.put(assignmentKey(a.StudentID, a.ParentID), a)
	}
	return nil
}

func (s *Store) persist(ctx context.Context, st *state) error {
	parents, err := json.Marshal(st.parents.values(nil))
	if err != nil {
		return err
	}
	assignments, err := json.Marshal(st.assignments.values(nil))
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, ParentAccountsKey, parents); err != nil {
		return err
	}
	return s.kv.Set(ctx, AssignmentsKey, assignments)
}

func readJSON(ctx context.Context, kv KV, key string, dst any) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("store/memory: read %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("store/memory: decode %s: %w", key, err)
	}
	return nil
}
