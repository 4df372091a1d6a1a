// Package payments drives payment transactions from initiation through gateway
// verification or manual confirmation, and applies completed payments to the ledger
// exactly once.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

// Failure reasons recorded on failed transactions.
const (
	ReasonDeclined       = "gateway_declined"
	ReasonAmountMismatch = "amount_mismatch"
	ReasonInitiateFailed = "initiate_failed"
	ReasonRejected       = "rejected"
)

// JobQueue schedules follow-up work outside the request.
type JobQueue interface {
	EnqueueReverify(ctx context.Context, reference string, gateway school.Gateway, attempt int) error
	EnqueueReceipt(ctx context.Context, reference string) error
}

// CacheBumper invalidates derived metrics after a ledger change.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// MetricsPort records payment outcomes.
type MetricsPort interface {
	PaymentOutcome(gateway, outcome string)
	PaymentCollected(gateway string, minor int64)
}

// IdempotencyPort rejects request keys that were already seen.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config groups processor settings.
type Config struct {
	ReferencePrefix string
	Currency        string
	GatewayTimeout  time.Duration
	MaxReverify     int
}

// Deps are optional collaborators. Nil members are skipped.
type Deps struct {
	Locker      shared.Locker
	Jobs        JobQueue
	Cache       CacheBumper
	Metrics     MetricsPort
	Idempotency IdempotencyPort
	Audit       AuditPort
	Logger      *slog.Logger
}

// Processor implements the payment transaction state machine.
type Processor struct {
	store    store.Store
	posting  ledger.Posting
	gateways map[school.Gateway]Gateway
	cfg      Config
	deps     Deps
	validate *validator.Validate
	logger   *slog.Logger
}

// NewProcessor builds a Processor over the given gateways.
func NewProcessor(st store.Store, engine ledger.Engine, gateways []Gateway, cfg Config, deps Deps) *Processor {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	if cfg.MaxReverify <= 0 {
		cfg.MaxReverify = 5
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[school.Gateway]Gateway, len(gateways))
	for _, gw := range gateways {
		byName[gw.Name()] = gw
	}
	return &Processor{
		store:    st,
		posting:  ledger.Posting{Engine: engine},
		gateways: byName,
		cfg:      cfg,
		deps:     deps,
		validate: validator.New(),
		logger:   logger,
	}
}

func (p *Processor) now() time.Time {
	return p.posting.Engine.Clock()
}

func (p *Processor) lock(ctx context.Context, reference string) (func(), error) {
	if p.deps.Locker == nil {
		return func() {}, nil
	}
	return p.deps.Locker.Acquire(ctx, shared.PaymentLockKey(reference))
}

func (p *Processor) gateway(name school.Gateway) (Gateway, error) {
	gw, ok := p.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, name)
	}
	return gw, nil
}

func (p *Processor) observe(gateway school.Gateway, outcome string) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.PaymentOutcome(string(gateway), outcome)
	}
}

// Initiate validates the request, checks every line target and persists a new
// transaction. Hosted-checkout gateways are then asked for a redirect URL.
func (p *Processor) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if err := p.validate.StructCtx(ctx, req); err != nil {
		return InitiateResult{}, fmt.Errorf("payments: %w: %s", shared.ErrValidation, err.Error())
	}
	var gw Gateway
	if req.Gateway != school.GatewayManual {
		var err error
		if gw, err = p.gateway(req.Gateway); err != nil {
			return InitiateResult{}, err
		}
	}
	if req.IdempotencyKey != "" && p.deps.Idempotency != nil {
		if err := p.deps.Idempotency.CheckAndInsert(ctx, req.IdempotencyKey, "payments.initiate"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return InitiateResult{}, ErrDuplicateRequest
			}
			return InitiateResult{}, err
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = p.cfg.Currency
	}
	now := p.now()
	lines := req.lineItems()
	txn := school.Transaction{
		ID:          uuid.NewString(),
		SchoolID:    req.SchoolID,
		Reference:   NewReference(p.cfg.ReferencePrefix, req.Gateway, now),
		FeeRecordID: lines[0].FeeRecordID,
		StudentID:   lines[0].StudentID,
		Gateway:     req.Gateway,
		Status:      school.TxPending,
		Amount:      req.Total(),
		Currency:    currency,
		Lines:       lines,
		Customer:    school.Customer(req.Customer),
		Notes:       req.Notes,
		InitiatedBy: req.InitiatedBy,
		InitiatedAt: now,
	}
	if req.Gateway == school.GatewayManual {
		txn.Status = school.TxPendingVerification
	}

	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for i, line := range lines {
			schoolID, err := ledger.CheckLineTarget(ctx, tx, line)
			if err != nil {
				return err
			}
			if schoolID != req.SchoolID {
				return fmt.Errorf("payments: line %d belongs to another school: %w", i, store.ErrNotFound)
			}
			if txn.StudentID == "" && line.FeeRecordID != "" && i == 0 {
				rec, err := tx.GetFeeRecord(ctx, line.FeeRecordID)
				if err != nil {
					return err
				}
				txn.StudentID = rec.StudentID
			}
		}
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return InitiateResult{}, err
	}
	p.observe(txn.Gateway, "initiated")
	p.logger.InfoContext(ctx, "payment initiated",
		slog.String("reference", txn.Reference),
		slog.String("gateway", string(txn.Gateway)),
		slog.Int64("amount", int64(txn.Amount)))

	result := InitiateResult{Reference: txn.Reference, Status: txn.Status, Amount: txn.Amount}
	if gw == nil {
		return result, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	session, gwErr := gw.Initiate(callCtx, CheckoutRequest{
		Reference:   txn.Reference,
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		Customer:    txn.Customer,
		CallbackURL: req.CallbackURL,
		Metadata:    map[string]string{"school_id": txn.SchoolID, "student_id": txn.StudentID},
	})
	cancel()

	err = p.mutate(ctx, txn.Reference, func(t *school.Transaction) error {
		if gwErr != nil {
			t.Status = school.TxFailed
			t.FailureReason = ReasonInitiateFailed
			t.GatewayRaw = gwErr.Error()
			processed := p.now()
			t.ProcessedAt = &processed
			return nil
		}
		t.RedirectURL = session.RedirectURL
		return nil
	})
	if err != nil {
		return InitiateResult{}, err
	}
	if gwErr != nil {
		p.observe(txn.Gateway, "initiate_failed")
		p.logger.WarnContext(ctx, "gateway initiate failed", slog.String("reference", txn.Reference), slog.Any("error", gwErr))
		result.Status = school.TxFailed
		return result, fmt.Errorf("payments: initiate %s: %w", txn.Reference, gwErr)
	}
	result.RedirectURL = session.RedirectURL
	return result, nil
}

// mutate re-reads the transaction and writes fn's changes in their own unit of work.
func (p *Processor) mutate(ctx context.Context, reference string, fn func(*school.Transaction) error) error {
	return p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTransaction(ctx, reference)
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		return tx.UpdateTransaction(ctx, &t)
	})
}

// Get loads a transaction by reference.
func (p *Processor) Get(ctx context.Context, reference string) (school.Transaction, error) {
	var out school.Transaction
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTransaction(ctx, reference)
		out = t
		return err
	})
	return out, err
}

// List returns transactions matching filter, oldest first.
func (p *Processor) List(ctx context.Context, filter ListFilter) ([]school.Transaction, error) {
	var out []school.Transaction
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.ListTransactions(ctx, filter)
		out = rows
		return err
	})
	return out, err
}
