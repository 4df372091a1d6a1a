package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	jobmetrics "github.com/schoolfees/schoolfees/internal/jobs"
	"github.com/schoolfees/schoolfees/internal/payments"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestReverifyDelayBacksOff(t *testing.T) {
	base := 30 * time.Second
	require.Equal(t, 30*time.Second, ReverifyDelay(base, 0))
	require.Equal(t, 30*time.Second, ReverifyDelay(base, 1))
	require.Equal(t, time.Minute, ReverifyDelay(base, 2))
	require.Equal(t, 4*time.Minute, ReverifyDelay(base, 4))
	require.Equal(t, 30*time.Minute, ReverifyDelay(base, 10))
}

func TestTaskConstructors(t *testing.T) {
	_, err := NewReverifyTask("  ", school.GatewayPaystack, 1)
	require.Error(t, err)
	_, err = NewReceiptTask("")
	require.Error(t, err)

	task, err := NewReverifyTask("SF-123", school.GatewayFlutterwave, 2)
	require.NoError(t, err)
	require.Equal(t, TaskPaymentReverify, task.Type())
	var payload ReverifyPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, ReverifyPayload{Reference: "SF-123", Gateway: school.GatewayFlutterwave, Attempt: 2}, payload)

	cleanup, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	var keep IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(cleanup.Payload(), &keep))
	require.Equal(t, 72, keep.RetentionHours)
}

type stubVerifier struct {
	calls []string
	res   payments.VerifyResult
	err   error
}

func (s *stubVerifier) Verify(_ context.Context, reference string, _ school.Gateway) (payments.VerifyResult, error) {
	s.calls = append(s.calls, reference)
	return s.res, s.err
}

func TestReverifyJobOutcomes(t *testing.T) {
	task, err := NewReverifyTask("SF-1", school.GatewayPaystack, 1)
	require.NoError(t, err)

	cases := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{name: "completed", err: nil},
		{name: "gateway down is rescheduled by processor", err: payments.ErrGatewayUnavailable},
		{name: "unknown reference", err: store.ErrNotFound, wantErr: true, skipRetry: true},
		{name: "store failure retries", err: errors.New("db down"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &stubVerifier{res: payments.VerifyResult{Reference: "SF-1", Status: school.TxCompleted}, err: tc.err}
			job := NewReverifyJob(v, nil, testMetrics())
			err := job.Handle(context.Background(), task)
			require.Equal(t, []string{"SF-1"}, v.calls)
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestReverifyJobRejectsBadPayload(t *testing.T) {
	job := NewReverifyJob(&stubVerifier{}, nil, testMetrics())
	err := job.Handle(context.Background(), asynq.NewTask(TaskPaymentReverify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubTransactions map[string]school.Transaction

func (s stubTransactions) Get(_ context.Context, reference string) (school.Transaction, error) {
	txn, ok := s[reference]
	if !ok {
		return school.Transaction{}, store.ErrNotFound
	}
	return txn, nil
}

type captureSender struct {
	sent []Receipt
	err  error
}

func (c *captureSender) SendReceipt(_ context.Context, r Receipt) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, r)
	return nil
}

func completedTxn() school.Transaction {
	processed := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return school.Transaction{
		Reference:   "SF-9",
		SchoolID:    "sch-1",
		Gateway:     school.GatewayPaystack,
		Status:      school.TxCompleted,
		Amount:      15_000_050,
		Currency:    "NGN",
		Customer:    school.Customer{Email: "ada@example.com", Name: "Ada Obi"},
		ProcessedAt: &processed,
		Lines: []school.LineItem{
			{FeeRecordID: "rec-1", Amount: 10_000_000},
			{FeeRecordID: "rec-2", Amount: 5_000_050},
		},
	}
}

func TestRenderReceiptGroupsAmounts(t *testing.T) {
	r := RenderReceipt(language.English, completedTxn())
	require.Equal(t, "ada@example.com", r.Email)
	require.Equal(t, "Payment receipt SF-9", r.Subject)
	require.Contains(t, r.Body, "Dear Ada Obi")
	require.Contains(t, r.Body, "NGN 150,000.50")
	require.Contains(t, r.Body, "Date: 2026-03-04")
	require.Contains(t, r.Body, "rec-2  NGN 50,000.50")
}

func TestReceiptJob(t *testing.T) {
	pending := completedTxn()
	pending.Reference = "SF-P"
	pending.Status = school.TxPending
	noEmail := completedTxn()
	noEmail.Reference = "SF-N"
	noEmail.Customer.Email = ""
	source := stubTransactions{"SF-9": completedTxn(), "SF-P": pending, "SF-N": noEmail}

	sender := &captureSender{}
	job := NewReceiptJob(source, sender, nil, testMetrics())
	for _, ref := range []string{"SF-9", "SF-P", "SF-N"} {
		task, err := NewReceiptTask(ref)
		require.NoError(t, err)
		require.NoError(t, job.Handle(context.Background(), task))
	}
	require.Len(t, sender.sent, 1)
	require.Equal(t, "SF-9", sender.sent[0].Reference)

	missing, err := NewReceiptTask("SF-404")
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), missing), asynq.SkipRetry)

	failing := NewReceiptJob(source, &captureSender{err: errors.New("smtp down")}, nil, testMetrics())
	task, err := NewReceiptTask("SF-9")
	require.NoError(t, err)
	err = failing.Handle(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

type stubSchools []school.School

func (s stubSchools) Schools(context.Context) ([]school.School, error) { return s, nil }

type stubSweeper struct {
	charged map[string]int
	fail    map[string]error
	seen    []string
}

func (s *stubSweeper) SweepLateFees(_ context.Context, schoolID string) (int, error) {
	s.seen = append(s.seen, schoolID)
	if err := s.fail[schoolID]; err != nil {
		return 0, err
	}
	return s.charged[schoolID], nil
}

func TestLateFeeSweepJobVisitsEverySchool(t *testing.T) {
	schools := stubSchools{{ID: "sch-1"}, {ID: "sch-2"}, {ID: "sch-3"}}
	sweeper := &stubSweeper{
		charged: map[string]int{"sch-1": 2, "sch-3": 1},
		fail:    map[string]error{"sch-2": errors.New("locked")},
	}
	job := NewLateFeeSweepJob(schools, sweeper, nil, testMetrics())
	task, err := NewLateFeeSweepTask("")
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sch-2")
	require.Equal(t, []string{"sch-1", "sch-2", "sch-3"}, sweeper.seen)
}

func TestLateFeeSweepJobSingleSchool(t *testing.T) {
	sweeper := &stubSweeper{charged: map[string]int{"sch-2": 4}}
	job := NewLateFeeSweepJob(nil, sweeper, nil, testMetrics())
	task, err := NewLateFeeSweepTask("sch-2")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"sch-2"}, sweeper.seen)
}

type renewerFunc func(context.Context) (int, error)

func (f renewerFunc) RenewDue(ctx context.Context) (int, error) { return f(ctx) }

type cleanerFunc func(context.Context, time.Duration) (int64, error)

func (f cleanerFunc) Cleanup(ctx context.Context, d time.Duration) (int64, error) { return f(ctx, d) }

func TestRenewalAndCleanupJobs(t *testing.T) {
	calls := 0
	renew := NewRenewalJob(renewerFunc(func(context.Context) (int, error) {
		calls++
		return 3, nil
	}), nil, testMetrics())
	task, err := NewSubscriptionRenewalTask()
	require.NoError(t, err)
	require.NoError(t, renew.Handle(context.Background(), task))
	require.Equal(t, 1, calls)

	var retention time.Duration
	cleanup := NewIdempotencyCleanupJob(cleanerFunc(func(_ context.Context, d time.Duration) (int64, error) {
		retention = d
		return 12, nil
	}), nil, testMetrics())
	cleanTask, err := NewIdempotencyCleanupTask(24)
	require.NoError(t, err)
	require.NoError(t, cleanup.Handle(context.Background(), cleanTask))
	require.Equal(t, 24*time.Hour, retention)

	failing := NewRenewalJob(renewerFunc(func(context.Context) (int, error) {
		return 0, shared.ErrConflict
	}), nil, testMetrics())
	require.ErrorIs(t, failing.Handle(context.Background(), task), shared.ErrConflict)
}

type stubInspector map[string]*asynq.QueueInfo

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := NewHandler(stubInspector{QueuePayments: {Queue: QueuePayments, Pending: 4, Retry: 1}}, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats []QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, []QueueStats{
		{Queue: QueuePayments, Pending: 4, Retry: 1},
		{Queue: QueueDefault},
	}, stats)
}
