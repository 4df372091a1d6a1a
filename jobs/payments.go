package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/schoolfees/schoolfees/internal/jobs"
	"github.com/schoolfees/schoolfees/internal/payments"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Verifier is the processor call the reverify job drives.
type Verifier interface {
	Verify(ctx context.Context, reference string, gateway school.Gateway) (payments.VerifyResult, error)
}

// ReverifyJob retries gateway verification for transactions left pending.
type ReverifyJob struct {
	Verifier Verifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewReverifyJob wires the reverify handler.
func NewReverifyJob(verifier Verifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReverifyJob {
	return &ReverifyJob{Verifier: verifier, Logger: logger, Metrics: metrics}
}

// Handle processes payments:reverify tasks. An unreachable gateway is not retried
// here because the processor schedules the next attempt itself.
func (j *ReverifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Verifier == nil {
		return errors.New("reverify: handler not configured")
	}
	var payload ReverifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Reference == "" {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskPaymentReverify)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskPaymentReverify).With(
		slog.String("reference", payload.Reference),
		slog.Int("attempt", payload.Attempt))

	res, err := j.Verifier.Verify(ctx, payload.Reference, payload.Gateway)
	switch {
	case err == nil:
		logger.Info("reverified payment", slog.String("status", string(res.Status)))
		return nil
	case errors.Is(err, shared.ErrUpstream):
		logger.Warn("gateway still unavailable", slog.Any("error", err))
		return nil
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrValidation):
		logger.Error("drop reverify", slog.Any("error", err))
		resultErr = fmt.Errorf("reverify %s: %v: %w", payload.Reference, err, asynq.SkipRetry)
		return resultErr
	default:
		resultErr = err
		return resultErr
	}
}

// TransactionSource loads a transaction by reference.
type TransactionSource interface {
	Get(ctx context.Context, reference string) (school.Transaction, error)
}

// Receipt is a rendered proof of payment.
type Receipt struct {
	Reference string
	SchoolID  string
	Email     string
	Subject   string
	Body      string
}

// ReceiptSender delivers a rendered receipt.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, receipt Receipt) error
}

// LogReceiptSender writes receipts to the log. It stands in for a mail provider.
type LogReceiptSender struct {
	Logger *slog.Logger
}

// SendReceipt implements ReceiptSender.
func (s LogReceiptSender) SendReceipt(ctx context.Context, receipt Receipt) error {
	jobLogger(s.Logger, TaskPaymentReceipt).InfoContext(ctx, "receipt ready",
		slog.String("reference", receipt.Reference),
		slog.String("to", receipt.Email),
		slog.String("subject", receipt.Subject),
		slog.String("body", receipt.Body))
	return nil
}

// ReceiptJob renders and sends a receipt for each completed transaction.
type ReceiptJob struct {
	Transactions TransactionSource
	Sender       ReceiptSender
	Language     language.Tag
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
}

// NewReceiptJob wires the receipt handler with English formatting.
func NewReceiptJob(source TransactionSource, sender ReceiptSender, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptJob {
	return &ReceiptJob{Transactions: source, Sender: sender, Language: language.English, Logger: logger, Metrics: metrics}
}

// Handle processes payments:receipt tasks.
func (j *ReceiptJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Transactions == nil || j.Sender == nil {
		return errors.New("receipt: handler not configured")
	}
	var payload ReceiptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Reference == "" {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskPaymentReceipt)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	txn, err := j.Transactions.Get(ctx, payload.Reference)
	if errors.Is(err, shared.ErrNotFound) {
		resultErr = fmt.Errorf("receipt %s: %v: %w", payload.Reference, err, asynq.SkipRetry)
		return resultErr
	}
	if err != nil {
		resultErr = err
		return resultErr
	}
	if txn.Status != school.TxCompleted {
		jobLogger(j.Logger, TaskPaymentReceipt).Warn("skip receipt for incomplete payment",
			slog.String("reference", txn.Reference), slog.String("status", string(txn.Status)))
		return nil
	}
	if strings.TrimSpace(txn.Customer.Email) == "" {
		jobLogger(j.Logger, TaskPaymentReceipt).Info("no receipt address", slog.String("reference", txn.Reference))
		return nil
	}
	receipt := RenderReceipt(j.Language, txn)
	if err := j.Sender.SendReceipt(ctx, receipt); err != nil {
		resultErr = fmt.Errorf("receipt %s: send: %w", txn.Reference, err)
		return resultErr
	}
	metricsOrDefault(j.Metrics).AddItems(TaskPaymentReceipt, 1)
	return resultErr
}

// RenderReceipt formats a completed transaction in the conventions of tag.
func RenderReceipt(tag language.Tag, txn school.Transaction) Receipt {
	p := message.NewPrinter(tag)
	var b strings.Builder
	name := txn.Customer.Name
	if name == "" {
		name = "Parent"
	}
	p.Fprintf(&b, "Dear %s,\n\n", name)
	p.Fprintf(&b, "We received %s via %s.\n", formatAmount(p, txn.Currency, txn.Amount), txn.Gateway)
	p.Fprintf(&b, "Reference: %s\n", txn.Reference)
	if txn.ProcessedAt != nil {
		p.Fprintf(&b, "Date: %s\n", txn.ProcessedAt.UTC().Format(time.DateOnly))
	}
	if len(txn.Lines) > 1 {
		p.Fprintf(&b, "\nAllocation:\n")
		for i, line := range txn.Lines {
			target := line.FeeRecordID
			if target == "" {
				target = line.FeeID
			}
			p.Fprintf(&b, "  %d. %s  %s\n", i+1, target, formatAmount(p, txn.Currency, line.Amount))
		}
	}
	return Receipt{
		Reference: txn.Reference,
		SchoolID:  txn.SchoolID,
		Email:     txn.Customer.Email,
		Subject:   p.Sprintf("Payment receipt %s", txn.Reference),
		Body:      b.String(),
	}
}

func formatAmount(p *message.Printer, currency string, amount school.Money) string {
	if currency == "" {
		currency = "NGN"
	}
	major, _ := amount.Major().Float64()
	return p.Sprintf("%s %.2f", currency, major)
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
