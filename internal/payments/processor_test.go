package payments

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
	"github.com/schoolfees/schoolfees/internal/store/memory"
)

var testNow = time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu        sync.Mutex
	name      school.Gateway
	verdict   Verification
	verifyErr error
	initErr   error
	verifies  int
	secret    string
}

func (g *fakeGateway) Name() school.Gateway { return g.name }

func (g *fakeGateway) Initiate(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if g.initErr != nil {
		return CheckoutSession{}, g.initErr
	}
	return CheckoutSession{RedirectURL: "https://pay.example/" + req.Reference}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifies++
	return g.verdict, g.verifyErr
}

func (g *fakeGateway) SignatureHeader() string { return "X-Test-Signature" }

func (g *fakeGateway) ParseWebhook(body []byte, signature string) (string, error) {
	if signature != g.secret {
		return "", ErrInvalidSignature
	}
	return string(body), nil
}

type fakeJobs struct {
	reverify []string
	receipts []string
}

func (j *fakeJobs) EnqueueReverify(ctx context.Context, reference string, gateway school.Gateway, attempt int) error {
	j.reverify = append(j.reverify, reference)
	return nil
}

func (j *fakeJobs) EnqueueReceipt(ctx context.Context, reference string) error {
	j.receipts = append(j.receipts, reference)
	return nil
}

type countingCache struct{ bumps int }

func (c *countingCache) Bump(ctx context.Context) error {
	c.bumps++
	return nil
}

type fixture struct {
	proc  *Processor
	store *memory.Store
	gw    *fakeGateway
	jobs  *fakeJobs
	cache *countingCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	engine := ledger.NewEngine(func() time.Time { return testNow })
	st := memory.New()
	stu := engine.RecomputeStudent(school.Student{
		ID: "stu-1", SchoolID: "sch-1", Name: "Ada", Class: "JSS1",
		Fees: []school.Fee{{ID: "fee-1", Type: "tuition", Amount: 120000, DueDate: testNow.AddDate(0, 1, 0)}},
	})
	rec := engine.RecomputeRecord(school.ParentFeeRecord{
		ID: "rec-1", SchoolID: "sch-1", StudentID: "stu-1", FeeStructureID: "fs-1",
		TotalAmount: 100000, NextDueDate: testNow.AddDate(0, 1, 0),
	})
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateStudent(ctx, stu); err != nil {
			return err
		}
		return tx.CreateFeeRecord(ctx, rec)
	}))
	gw := &fakeGateway{name: school.GatewayPaystack, secret: "sig"}
	jobs := &fakeJobs{}
	cache := &countingCache{}
	proc := NewProcessor(st, engine, []Gateway{gw}, Config{ReferencePrefix: "SF", GatewayTimeout: time.Second}, Deps{
		Locker: shared.NewLocalLocker(),
		Jobs:   jobs,
		Cache:  cache,
	})
	return fixture{proc: proc, store: st, gw: gw, jobs: jobs, cache: cache}
}

func (f fixture) record(t *testing.T) school.ParentFeeRecord {
	t.Helper()
	var rec school.ParentFeeRecord
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		rec, err = tx.GetFeeRecord(ctx, "rec-1")
		return err
	}))
	return rec
}

func (f fixture) entries(t *testing.T) []school.LedgerEntry {
	t.Helper()
	var out []school.LedgerEntry
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListLedgerEntries(ctx, store.LedgerFilter{SchoolID: "sch-1"})
		return err
	}))
	return out
}

func initiate(t *testing.T, f fixture, gateway school.Gateway, lines ...LineRequest) InitiateResult {
	t.Helper()
	res, err := f.proc.Initiate(context.Background(), InitiateRequest{
		SchoolID: "sch-1",
		Gateway:  gateway,
		Lines:    lines,
		Customer: CustomerRequest{Email: "parent@example.com"},
	})
	require.NoError(t, err)
	return res
}

func TestInitiateAndVerifySuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := initiate(t, f, school.GatewayPaystack, LineRequest{FeeRecordID: "rec-1", Amount: 50000})
	require.Equal(t, school.TxPending, res.Status)
	require.Contains(t, res.Reference, "SF_PAYSTACK_")
	require.Equal(t, "https://pay.example/"+res.Reference, res.RedirectURL)

	f.gw.verdict = Verification{Outcome: OutcomeSuccess, Amount: 50000, Currency: "NGN", Status: "success"}
	out, err := f.proc.Verify(ctx, res.Reference, "")
	require.NoError(t, err)
	require.True(t, out.Verified)
	require.Equal(t, school.TxCompleted, out.Status)

	rec := f.record(t)
	require.Equal(t, school.Money(50000), rec.PaidAmount)
	require.Equal(t, school.Money(50000), rec.OutstandingAmount)
	require.Equal(t, school.RecordStatusPartial, rec.PaymentStatus)
	require.Equal(t, []string{res.Reference}, f.jobs.receipts)
	require.Equal(t, 1, f.cache.bumps)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	require.Equal(t, res.Reference, entries[0].Reference)
}

func TestVerifyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := initiate(t, f, school.GatewayPaystack, LineRequest{FeeRecordID: "rec-1", Amount: 50000})
	f.gw.verdict = Verification{Outcome: OutcomeSuccess, Amount: 50000, Currency: "NGN"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.proc.Verify(ctx, res.Reference, school.GatewayPaystack); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	_, err := f.proc.Verify(ctx, res.Reference, school.GatewayPaystack)
	require.NoError(t, err)
	require.Equal(t, school.Money(50000), f.record(t).PaidAmount)
	require.Len(t, f.entries(t), 1)
	require.Equal(t, 1, f.gw.verifies)
}

func TestVerifyGatewayFailureLeavesLedger(t *testing.T) {
	f := newFixture(t)
	res := initiate(t, f, school.GatewayPaystack, LineRequest{FeeRecordID: "rec-1", Amount: 50000})
	f.gw.verdict = Verification{Outcome: OutcomeFailed, Status: "failed", Raw: `{"status":"failed"}`}

	out, err := f.proc.Verify(context.Background(), res.Reference, "")
	require.NoError(t, err)
	require.Equal(t, school.TxFailed, out.Status)
	require.Equal(t, ReasonDeclined, out.FailureReason)
	require.Equal(t, school.Money(0), f.record(t).PaidAmount)
	require.Empty(t, f.entries(t))

	txn, err := f.proc.Get(context.Background(), res.Reference)
	require.NoError(t, err)
	require.Equal(t, `{"status":"failed"}`, txn.GatewayRaw)
	require.NotNil(t, txn.ProcessedAt)
}

func TestVerifyUnavailableStaysPending(t *testing.T) {
	f := newFixture(t)
	res := initiate(t, f, school.GatewayPaystack, LineRequest{FeeRecordID: "rec-1", Amount: 50000})
	f.gw.verifyErr = Unavailable(school.GatewayPaystack, context.DeadlineExceeded)

	out, err := f.proc.Verify(context.Background(), res.Reference, "")
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	require.Equal(t, school.TxPending, out.Status)
	require.Equal(t, []string{res.Reference}, f.jobs.reverify)

	txn, err := f.proc.Get(context.Background(), res.Reference)
	require.NoError(t, err)
	require.Equal(t, school.TxPending, txn.Status)
	require.Equal(t, 1, txn.VerifyAttempts)
	require.NotEmpty(t, txn.LastError)

	f.gw.verifyErr = nil
	f.gw.verdict = Verification{Outcome: OutcomeSuccess, Amount: 50000}
	out, err = f.proc.Verify(context.Background(), res.Reference, "")
	require.NoError(t, err)
	require.Equal(t, school.TxCompleted, out.Status)
}

func TestVerifyAmountMismatchFails(t *testing.T) {
	f := newFixture(t)
	res := initiate(t, f, school.GatewayPaystack, LineRequest{FeeRecordID: "rec-1", Amount: 50000})
	f.gw.verdict = Verification{Outcome: OutcomeSuccess, Amount: 5000, Currency: "NGN"}

	out, err := f.proc.Verify(context.Background(), res.Reference, "")
	require.NoError(t, err)
	require.Equal(t, school.TxFailed, out.Status)
	require.Equal(t, ReasonAmountMismatch, out.FailureReason)
	require.Equal(t, school.Money(0), f.record(t).PaidAmount)
}

func TestInitiateBatchRejectsMissingTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.Initiate(context.Background(), InitiateRequest{
		SchoolID: "sch-1",
		Gateway:  school.GatewayPaystack,
		Lines: []LineRequest{
			{FeeRecordID: "rec-1", Amount: 10000},
			{StudentID: "stu-1", FeeID: "missing", Amount: 5000},
		},
		Customer: CustomerRequest{Email: "parent@example.com"},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	txns, err := f.proc.List(context.Background(), ListFilter{SchoolID: "sch-1"})
	require.NoError(t, err)
	require.Empty(t, txns)
}

func TestCompleteBatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := initiate(t, f, school.GatewayPaystack,
		LineRequest{FeeRecordID: "rec-1", Amount: 10000},
		LineRequest{StudentID: "stu-1", FeeID: "fee-1", Amount: 5000},
	)
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stu, err := tx.GetStudent(ctx, "stu-1")
		if err != nil {
			return err
		}
		stu.Fees = nil
		return tx.UpdateStudent(ctx, &stu)
	}))
	f.gw.verdict = Verification{Outcome: OutcomeSuccess, Amount: 15000}

	_, err := f.proc.Verify(ctx, res.Reference, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, school.Money(0), f.record(t).PaidAmount)
	require.Empty(t, f.entries(t))

	txn, err := f.proc.Get(ctx, res.Reference)
	require.NoError(t, err)
	require.Equal(t, school.TxPending, txn.Status)
	require.NotEmpty(t, txn.LastError)
}

type flakyStore struct {
	store.Store
	calls     int
	failAfter int
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	s.calls++
	if s.failAfter > 0 && s.calls > s.failAfter {
		return errors.New("store offline")
	}
	return s.Store.WithTx(ctx, fn)
}

func TestCompleteFailureLogsUnrecordedError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var logs bytes.Buffer
	st := &flakyStore{Store: f.store}
	proc := NewProcessor(st, ledger.NewEngine(func() time.Time { return testNow }), []Gateway{f.gw},
		Config{ReferencePrefix: "SF", GatewayTimeout: time.Second},
		Deps{Locker: shared.NewLocalLocker(), Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	res, err := proc.Initiate(ctx, InitiateRequest{
		SchoolID: "sch-1",
		Gateway:  school.GatewayPaystack,
		Lines:    []LineRequest{{StudentID: "stu-1", FeeID: "fee-1", Amount: 5000}},
		Customer: CustomerRequest{Email: "parent@example.com"},
	})
	require.NoError(t, err)
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stu, err := tx.GetStudent(ctx, "stu-1")
		if err != nil {
			return err
		}
		stu.Fees = nil
		return tx.UpdateStudent(ctx, &stu)
	}))

	// Get and the apply attempt reach the store; recording the error does not.
	st.failAfter = st.calls + 2
	f.gw.verdict = Verification{Outcome: OutcomeSuccess, Amount: 5000}
	_, err = proc.Verify(ctx, res.Reference, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Contains(t, logs.String(), "record apply error failed")
	require.Contains(t, logs.String(), "store offline")
}

func TestBatchAppliesEveryLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := initiate(t, f, school.GatewayPaystack,
		LineRequest{FeeRecordID: "rec-1", Amount: 10000},
		LineRequest{StudentID: "stu-1", FeeID: "fee-1", Amount: 5000},
	)
	require.Equal(t, school.Money(15000), res.Amount)
	f.gw.verdict = Verification{Outcome: OutcomeSuccess, Amount: 15000}

	_, err := f.proc.Verify(ctx, res.Reference, "")
	require.NoError(t, err)
	require.Equal(t, school.Money(10000), f.record(t).PaidAmount)
	require.Len(t, f.entries(t), 2)

	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stu, err := tx.GetStudent(ctx, "stu-1")
		require.NoError(t, err)
		require.Equal(t, school.Money(115000), stu.OutstandingFees)
		require.Len(t, stu.Payments, 1)
		return nil
	}))
}

func TestInitiateFailureMarksTransaction(t *testing.T) {
	f := newFixture(t)
	f.gw.initErr = Rejected(school.GatewayPaystack, "invalid key")

	_, err := f.proc.Initiate(context.Background(), InitiateRequest{
		SchoolID: "sch-1",
		Gateway:  school.GatewayPaystack,
		Lines:    []LineRequest{{FeeRecordID: "rec-1", Amount: 1000}},
		Customer: CustomerRequest{Email: "parent@example.com"},
	})
	require.ErrorIs(t, err, ErrGatewayRejected)

	txns, err := f.proc.List(context.Background(), ListFilter{SchoolID: "sch-1"})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, school.TxFailed, txns[0].Status)
	require.Equal(t, ReasonInitiateFailed, txns[0].FailureReason)
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]InitiateRequest{
		"no lines":      {SchoolID: "sch-1", Gateway: school.GatewayPaystack, Customer: CustomerRequest{Email: "a@b.co"}},
		"zero amount":   {SchoolID: "sch-1", Gateway: school.GatewayPaystack, Lines: []LineRequest{{FeeRecordID: "rec-1"}}, Customer: CustomerRequest{Email: "a@b.co"}},
		"bad gateway":   {SchoolID: "sch-1", Gateway: "stripe", Lines: []LineRequest{{FeeRecordID: "rec-1", Amount: 1}}, Customer: CustomerRequest{Email: "a@b.co"}},
		"missing email": {SchoolID: "sch-1", Gateway: school.GatewayPaystack, Lines: []LineRequest{{FeeRecordID: "rec-1", Amount: 1}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.proc.Initiate(context.Background(), req)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	_, err := f.proc.Initiate(context.Background(), InitiateRequest{
		SchoolID: "sch-1", Gateway: school.GatewayFlutterwave,
		Lines:    []LineRequest{{FeeRecordID: "rec-1", Amount: 1}},
		Customer: CustomerRequest{Email: "a@b.co"},
	})
	require.ErrorIs(t, err, ErrUnsupportedGateway)
}

func TestInitiateForeignSchool(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.Initiate(context.Background(), InitiateRequest{
		SchoolID: "sch-2", Gateway: school.GatewayPaystack,
		Lines:    []LineRequest{{FeeRecordID: "rec-1", Amount: 1000}},
		Customer: CustomerRequest{Email: "a@b.co"},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

type memoryIdempotency struct{ seen map[string]bool }

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	m.seen[key] = true
	return nil
}

func TestInitiateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.proc.deps.Idempotency = &memoryIdempotency{seen: map[string]bool{}}
	req := InitiateRequest{
		SchoolID: "sch-1", Gateway: school.GatewayPaystack,
		Lines:          []LineRequest{{FeeRecordID: "rec-1", Amount: 1000}},
		Customer:       CustomerRequest{Email: "a@b.co"},
		IdempotencyKey: "checkout-1",
	}
	_, err := f.proc.Initiate(context.Background(), req)
	require.NoError(t, err)
	_, err = f.proc.Initiate(context.Background(), req)
	require.ErrorIs(t, err, ErrDuplicateRequest)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestManualPaymentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := initiate(t, f, school.GatewayManual, LineRequest{FeeRecordID: "rec-1", Amount: 100000})
	require.Equal(t, school.TxPendingVerification, res.Status)
	require.Empty(t, res.RedirectURL)

	txn, err := f.proc.RecordManualProof(ctx, res.Reference, ProofRequest{DocumentRef: "teller-001.jpg"}, "parent-1")
	require.NoError(t, err)
	require.Equal(t, school.TxPendingVerification, txn.Status)
	require.Equal(t, "teller-001.jpg", txn.Proof.DocumentRef)

	out, err := f.proc.Verify(ctx, res.Reference, "")
	require.NoError(t, err)
	require.Equal(t, school.TxPendingVerification, out.Status)
	require.Equal(t, school.Money(0), f.record(t).PaidAmount)

	_, err = f.proc.ConfirmManualPayment(ctx, res.Reference, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	out, err = f.proc.ConfirmManualPayment(ctx, res.Reference, "bursar")
	require.NoError(t, err)
	require.Equal(t, school.TxCompleted, out.Status)
	rec := f.record(t)
	require.Equal(t, school.RecordStatusPaid, rec.PaymentStatus)

	out, err = f.proc.ConfirmManualPayment(ctx, res.Reference, "bursar")
	require.NoError(t, err)
	require.Equal(t, school.TxCompleted, out.Status)
	require.Len(t, f.entries(t), 1)
	require.Equal(t, "bursar", f.entries(t)[0].Actor)

	_, err = f.proc.RejectManualPayment(ctx, res.Reference, "bursar", "too late")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectManualPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := initiate(t, f, school.GatewayManual, LineRequest{FeeRecordID: "rec-1", Amount: 20000})

	out, err := f.proc.RejectManualPayment(ctx, res.Reference, "bursar", "blurry teller")
	require.NoError(t, err)
	require.Equal(t, school.TxFailed, out.Status)
	require.Equal(t, ReasonRejected, out.FailureReason)
	require.Equal(t, school.Money(0), f.record(t).PaidAmount)

	_, err = f.proc.ConfirmManualPayment(ctx, res.Reference, "bursar")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConfirmRejectsGatewayPayment(t *testing.T) {
	f := newFixture(t)
	res := initiate(t, f, school.GatewayPaystack, LineRequest{FeeRecordID: "rec-1", Amount: 20000})
	_, err := f.proc.ConfirmManualPayment(context.Background(), res.Reference, "bursar")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHandleWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := initiate(t, f, school.GatewayPaystack, LineRequest{FeeRecordID: "rec-1", Amount: 50000})
	f.gw.verdict = Verification{Outcome: OutcomeSuccess, Amount: 50000}

	_, err := f.proc.HandleWebhook(ctx, school.GatewayPaystack, []byte(res.Reference), "forged")
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Equal(t, 0, f.gw.verifies)

	out, err := f.proc.HandleWebhook(ctx, school.GatewayPaystack, []byte(res.Reference), "sig")
	require.NoError(t, err)
	require.Equal(t, school.TxCompleted, out.Status)

	_, err = f.proc.HandleWebhook(ctx, school.GatewayFlutterwave, nil, "")
	require.True(t, errors.Is(err, ErrUnsupportedGateway))
}

func TestVerifyGatewayMismatch(t *testing.T) {
	f := newFixture(t)
	res := initiate(t, f, school.GatewayPaystack, LineRequest{FeeRecordID: "rec-1", Amount: 50000})
	_, err := f.proc.Verify(context.Background(), res.Reference, school.GatewayFlutterwave)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.proc.Verify(context.Background(), "SF_PAYSTACK_0_missing", "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
