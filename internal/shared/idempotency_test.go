package shared

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisIdempotency(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k1", "payments"))
	err := store.CheckAndInsert(ctx, "k1", "payments")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "billing"))

	mr.FastForward(2 * time.Hour)
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "payments"))

	require.Error(t, store.CheckAndInsert(ctx, "", "payments"))
	require.Error(t, store.CheckAndInsert(ctx, "k2", ""))
}
