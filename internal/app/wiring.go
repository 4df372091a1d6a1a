package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/schoolfees/schoolfees/internal/payments"
	"github.com/schoolfees/schoolfees/internal/payments/flutterwave"
	"github.com/schoolfees/schoolfees/internal/payments/paystack"
	"github.com/schoolfees/schoolfees/internal/platform/db"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
	"github.com/schoolfees/schoolfees/internal/store/memory"
	"github.com/schoolfees/schoolfees/internal/store/postgres"
)

// Backend is the opened record store plus the collaborators that depend on it.
type Backend struct {
	Store store.Store
	// Pool is nil unless DATA_SOURCE is postgres.
	Pool  *pgxpool.Pool
	Audit payments.AuditPort
	// Keys cleans idempotency keys. Nil when keys expire on their own.
	Keys *shared.IdempotencyStore
	// Idempotency guards payment initiation.
	Idempotency payments.IdempotencyPort
}

// Close releases the database pool.
func (b *Backend) Close() {
	if b != nil && b.Pool != nil {
		b.Pool.Close()
	}
}

// OpenBackend opens the store selected by DATA_SOURCE. The postgres schema is
// migrated on open.
func OpenBackend(ctx context.Context, cfg *Config, redisClient *redis.Client, logger *slog.Logger) (*Backend, error) {
	switch cfg.DataSource {
	case DataSourcePostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		st := postgres.New(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		keys := shared.NewIdempotencyStore(pool)
		return &Backend{
			Store:       st,
			Pool:        pool,
			Audit:       shared.NewAuditLogger(pool),
			Keys:        keys,
			Idempotency: keys,
		}, nil
	case DataSourceLocal:
		kv, err := memory.NewFileKV(cfg.LocalStoreDir)
		if err != nil {
			return nil, err
		}
		st, err := memory.NewPersistent(ctx, kv)
		if err != nil {
			return nil, err
		}
		return memoryBackend(st, cfg, redisClient, logger), nil
	case DataSourceRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("app: the redis data source needs REDIS_ADDR")
		}
		st, err := memory.NewPersistent(ctx, memory.NewRedisKV(redisClient, "schoolfees:kv:"))
		if err != nil {
			return nil, err
		}
		return memoryBackend(st, cfg, redisClient, logger), nil
	case DataSourceMemory:
		return memoryBackend(memory.New(), cfg, redisClient, logger), nil
	default:
		return nil, fmt.Errorf("app: unknown data source %q", cfg.DataSource)
	}
}

func memoryBackend(st *memory.Store, cfg *Config, redisClient *redis.Client, logger *slog.Logger) *Backend {
	b := &Backend{Store: st, Audit: shared.NewSlogAuditor(logger)}
	if redisClient != nil {
		b.Idempotency = shared.NewRedisIdempotency(redisClient, cfg.IdempotencyRetention)
	}
	return b
}

// NewLocker returns a Redis lock when a client is available and a process-local
// one otherwise.
func NewLocker(cfg *Config, redisClient *redis.Client) shared.Locker {
	if redisClient == nil {
		return shared.NewLocalLocker()
	}
	return shared.NewRedisLocker(redisClient, cfg.LockTTL, cfg.LockWait)
}

// Gateways builds the configured payment gateways. A gateway without a secret key
// is left out.
func Gateways(cfg *Config) []payments.Gateway {
	var out []payments.Gateway
	if cfg.PaystackSecretKey != "" {
		out = append(out, paystack.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.GatewayTimeout))
	}
	if cfg.FlutterwaveSecretKey != "" {
		out = append(out, flutterwave.NewClient(cfg.FlutterwaveBaseURL, cfg.FlutterwaveSecretKey, cfg.FlutterwaveHash, cfg.GatewayTimeout))
	}
	return out
}

// ProcessorConfig maps application settings onto the payment processor.
func ProcessorConfig(cfg *Config) payments.Config {
	return payments.Config{
		ReferencePrefix: cfg.ReferencePrefix,
		Currency:        cfg.Currency,
		GatewayTimeout:  cfg.GatewayTimeout,
		MaxReverify:     cfg.MaxReverify,
	}
}
