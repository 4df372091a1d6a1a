package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/schoolfees/schoolfees/internal/jobs"
	"github.com/schoolfees/schoolfees/internal/school"
)

// SchoolLister enumerates tenants.
type SchoolLister interface {
	Schools(ctx context.Context) ([]school.School, error)
}

// LateFeeSweeper charges late fees for one school.
type LateFeeSweeper interface {
	SweepLateFees(ctx context.Context, schoolID string) (int, error)
}

// LateFeeSweepJob runs the late fee sweep school by school so one failing tenant
// does not block the rest.
type LateFeeSweepJob struct {
	Schools SchoolLister
	Ledger  LateFeeSweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLateFeeSweepJob wires the sweep handler.
func NewLateFeeSweepJob(schools SchoolLister, ledger LateFeeSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *LateFeeSweepJob {
	return &LateFeeSweepJob{
		Schools: schools,
		Ledger:  ledger,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes ledger:late_fee_sweep tasks.
func (j *LateFeeSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("late fee sweep: handler not configured")
	}
	var payload LateFeeSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := j.now()
	tracker := metricsOrDefault(j.Metrics).Track(TaskLateFeeSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := jobLogger(j.Logger, TaskLateFeeSweep)

	schoolIDs, err := j.targets(ctx, payload.SchoolID)
	if err != nil {
		resultErr = err
		logger.Error("load schools", slog.Any("error", err))
		return resultErr
	}

	total := 0
	var errs []error
	for _, id := range schoolIDs {
		charged, err := j.Ledger.SweepLateFees(ctx, id)
		if err != nil {
			logger.Error("sweep school", slog.String("school_id", id), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("school %s: %w", id, err))
			continue
		}
		total += charged
	}
	metricsOrDefault(j.Metrics).AddItems(TaskLateFeeSweep, total)
	logger.Info("completed late fee sweep",
		slog.Int("schools", len(schoolIDs)),
		slog.Int("charged", total),
		slog.Duration("duration", j.now().Sub(start)))
	resultErr = errors.Join(errs...)
	return resultErr
}

func (j *LateFeeSweepJob) targets(ctx context.Context, schoolID string) ([]string, error) {
	if schoolID != "" {
		return []string{schoolID}, nil
	}
	if j.Schools == nil {
		return nil, errors.New("late fee sweep: school lister not configured")
	}
	schools, err := j.Schools.Schools(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(schools))
	for _, s := range schools {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (j *LateFeeSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// Renewer advances subscriptions whose billing period has ended.
type Renewer interface {
	RenewDue(ctx context.Context) (int, error)
}

// RenewalJob runs subscription renewals.
type RenewalJob struct {
	Billing Renewer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRenewalJob wires the renewal handler.
func NewRenewalJob(billing Renewer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RenewalJob {
	return &RenewalJob{Billing: billing, Logger: logger, Metrics: metrics}
}

// Handle processes billing:renewals tasks.
func (j *RenewalJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Billing == nil {
		return errors.New("renewals: handler not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskSubscriptionRenewal)
	changed, err := j.Billing.RenewDue(ctx)
	if err != nil {
		jobLogger(j.Logger, TaskSubscriptionRenewal).Error("renew subscriptions", slog.Any("error", err))
		return tracker.End(err)
	}
	metricsOrDefault(j.Metrics).AddItems(TaskSubscriptionRenewal, changed)
	jobLogger(j.Logger, TaskSubscriptionRenewal).Info("renewed subscriptions", slog.Int("changed", changed))
	return tracker.End(nil)
}

// KeyCleaner purges idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges stale idempotency keys.
type IdempotencyCleanupJob struct {
	Keys    KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires the cleanup handler.
func NewIdempotencyCleanupJob(keys KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Keys: keys, Logger: logger, Metrics: metrics}
}

// Handle processes maintenance:idempotency_cleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	payload := IdempotencyCleanupPayload{RetentionHours: 72}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.RetentionHours <= 0 {
		payload.RetentionHours = 72
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskIdempotencyCleanup)
	removed, err := j.Keys.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour)
	if err != nil {
		return tracker.End(err)
	}
	metricsOrDefault(j.Metrics).AddItems(TaskIdempotencyCleanup, int(removed))
	jobLogger(j.Logger, TaskIdempotencyCleanup).Info("purged idempotency keys", slog.Int64("removed", removed))
	return tracker.End(nil)
}
