package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

// Verify asks the gateway for the outcome of reference and applies a confirmed
// payment to the ledger. Repeated calls for a completed transaction are no-ops.
// An empty gateway means the one the transaction was opened with.
func (p *Processor) Verify(ctx context.Context, reference string, gateway school.Gateway) (VerifyResult, error) {
	release, err := p.lock(ctx, reference)
	if err != nil {
		return VerifyResult{}, err
	}
	defer release()

	txn, err := p.Get(ctx, reference)
	if err != nil {
		return VerifyResult{}, err
	}
	if gateway != "" && gateway != txn.Gateway {
		return VerifyResult{}, fmt.Errorf("payments: %s was opened with %s: %w", reference, txn.Gateway, shared.ErrValidation)
	}
	if txn.Status.Terminal() || txn.Status == school.TxPendingVerification {
		return verifyResult(txn), nil
	}
	gw, err := p.gateway(txn.Gateway)
	if err != nil {
		return VerifyResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	verdict, gwErr := gw.Verify(callCtx, reference)
	cancel()

	if gwErr != nil {
		return p.deferVerification(ctx, txn, gwErr)
	}

	switch verdict.Outcome {
	case OutcomeFailed:
		return p.fail(ctx, reference, ReasonDeclined, verdict)
	case OutcomePending:
		return p.deferVerification(ctx, txn, nil)
	}
	if verdict.Amount != txn.Amount || (verdict.Currency != "" && verdict.Currency != txn.Currency) {
		p.logger.WarnContext(ctx, "payment amount mismatch",
			slog.String("reference", reference),
			slog.Int64("expected", int64(txn.Amount)),
			slog.Int64("reported", int64(verdict.Amount)),
			slog.String("currency", verdict.Currency))
		return p.fail(ctx, reference, ReasonAmountMismatch, verdict)
	}
	return p.complete(ctx, reference, "gateway:"+string(txn.Gateway), verdict)
}

// deferVerification leaves the transaction pending and schedules another attempt.
func (p *Processor) deferVerification(ctx context.Context, txn school.Transaction, cause error) (VerifyResult, error) {
	attempts := txn.VerifyAttempts + 1
	err := p.mutate(ctx, txn.Reference, func(t *school.Transaction) error {
		if t.Status != school.TxPending {
			return nil
		}
		t.VerifyAttempts = attempts
		if cause != nil {
			t.LastError = cause.Error()
		} else {
			t.LastError = "gateway reports payment still pending"
		}
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	if p.deps.Jobs != nil && attempts < p.cfg.MaxReverify {
		if err := p.deps.Jobs.EnqueueReverify(ctx, txn.Reference, txn.Gateway, attempts); err != nil {
			p.logger.WarnContext(ctx, "enqueue reverify failed", slog.String("reference", txn.Reference), slog.Any("error", err))
		}
	}
	txn.VerifyAttempts = attempts
	if cause == nil {
		p.observe(txn.Gateway, "pending")
		return verifyResult(txn), nil
	}
	p.observe(txn.Gateway, "unavailable")
	p.logger.WarnContext(ctx, "gateway verify failed",
		slog.String("reference", txn.Reference),
		slog.Int("attempt", attempts),
		slog.Any("error", cause))
	if errors.Is(cause, ErrGatewayUnavailable) {
		return verifyResult(txn), fmt.Errorf("payments: verify %s: %w", txn.Reference, cause)
	}
	return verifyResult(txn), fmt.Errorf("payments: verify %s: %w: %v", txn.Reference, ErrGatewayUnavailable, cause)
}

// fail moves a pending transaction to failed, keeping the gateway's raw answer.
func (p *Processor) fail(ctx context.Context, reference, reason string, verdict Verification) (VerifyResult, error) {
	var out school.Transaction
	err := p.mutate(ctx, reference, func(t *school.Transaction) error {
		if t.Status.Terminal() {
			out = *t
			return errTerminal
		}
		now := p.now()
		t.Status = school.TxFailed
		t.FailureReason = reason
		t.GatewayStatus = verdict.Status
		t.GatewayRaw = verdict.Raw
		t.ProcessedAt = &now
		out = *t
		return nil
	})
	if err != nil && !errors.Is(err, errTerminal) {
		return VerifyResult{}, err
	}
	p.observe(out.Gateway, "failed")
	p.logger.InfoContext(ctx, "payment failed", slog.String("reference", reference), slog.String("reason", reason))
	return verifyResult(out), nil
}

var errTerminal = errors.New("payments: transaction already terminal")

// complete applies every line to the ledger and marks the transaction completed in a
// single unit of work. Any missing target aborts the whole batch.
func (p *Processor) complete(ctx context.Context, reference, actor string, verdict Verification) (VerifyResult, error) {
	var (
		out     school.Transaction
		already bool
	)
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTransaction(ctx, reference)
		if err != nil {
			return err
		}
		switch t.Status {
		case school.TxCompleted:
			out, already = t, true
			return nil
		case school.TxFailed:
			return fmt.Errorf("%w: %s is failed", ErrInvalidTransition, reference)
		}
		meta := ledger.PostingMeta{Reference: reference, Method: string(t.Gateway), Actor: actor}
		for _, line := range t.Lines {
			if err := p.posting.PostLine(ctx, tx, line, meta); err != nil {
				return fmt.Errorf("payments: apply %s: %w", reference, err)
			}
		}
		now := p.now()
		t.Status = school.TxCompleted
		t.ProcessedAt = &now
		t.ProcessedBy = actor
		t.LastError = ""
		if verdict.Status != "" {
			t.GatewayStatus = verdict.Status
			t.GatewayRaw = verdict.Raw
		}
		if err := tx.UpdateTransaction(ctx, &t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "payment apply failed", slog.String("reference", reference), slog.Any("error", err))
		if !errors.Is(err, ErrInvalidTransition) {
			merr := p.mutate(ctx, reference, func(t *school.Transaction) error {
				if t.Status.Terminal() {
					return errTerminal
				}
				t.LastError = err.Error()
				return nil
			})
			if merr != nil && !errors.Is(merr, errTerminal) {
				p.logger.WarnContext(ctx, "record apply error failed", slog.String("reference", reference), slog.Any("error", merr))
			}
		}
		return VerifyResult{}, err
	}
	if already {
		return verifyResult(out), nil
	}

	p.observe(out.Gateway, "completed")
	if p.deps.Metrics != nil {
		p.deps.Metrics.PaymentCollected(string(out.Gateway), int64(out.Amount))
	}
	p.logger.InfoContext(ctx, "payment completed",
		slog.String("reference", reference),
		slog.String("gateway", string(out.Gateway)),
		slog.Int64("amount", int64(out.Amount)))
	if p.deps.Jobs != nil {
		if err := p.deps.Jobs.EnqueueReceipt(ctx, reference); err != nil {
			p.logger.WarnContext(ctx, "enqueue receipt failed", slog.String("reference", reference), slog.Any("error", err))
		}
	}
	if p.deps.Cache != nil {
		if err := p.deps.Cache.Bump(ctx); err != nil {
			p.logger.WarnContext(ctx, "metrics cache bump failed", slog.Any("error", err))
		}
	}
	return verifyResult(out), nil
}

// RecordManualProof attaches payment evidence. The transaction stays awaiting
// confirmation.
func (p *Processor) RecordManualProof(ctx context.Context, reference string, req ProofRequest, actor string) (school.Transaction, error) {
	if err := p.validate.StructCtx(ctx, req); err != nil {
		return school.Transaction{}, fmt.Errorf("payments: %w: %s", shared.ErrValidation, err.Error())
	}
	var out school.Transaction
	err := p.mutate(ctx, reference, func(t *school.Transaction) error {
		if t.Status != school.TxPendingVerification {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, reference, t.Status)
		}
		t.Proof = &school.PaymentProof{
			DocumentRef: req.DocumentRef,
			Notes:       req.Notes,
			AttachedBy:  actor,
			AttachedAt:  p.now(),
		}
		out = *t
		return nil
	})
	if err != nil {
		return school.Transaction{}, err
	}
	out.Version++
	return out, nil
}

// ConfirmManualPayment applies a manual payment after an administrator attests to it.
func (p *Processor) ConfirmManualPayment(ctx context.Context, reference, confirmedBy string) (VerifyResult, error) {
	if confirmedBy == "" {
		return VerifyResult{}, fmt.Errorf("payments: confirming user required: %w", shared.ErrValidation)
	}
	release, err := p.lock(ctx, reference)
	if err != nil {
		return VerifyResult{}, err
	}
	defer release()

	txn, err := p.Get(ctx, reference)
	if err != nil {
		return VerifyResult{}, err
	}
	if txn.Gateway != school.GatewayManual {
		return VerifyResult{}, fmt.Errorf("%w: %s is not a manual payment", ErrInvalidTransition, reference)
	}
	if txn.Status == school.TxCompleted {
		return verifyResult(txn), nil
	}
	if txn.Status != school.TxPendingVerification {
		return VerifyResult{}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, reference, txn.Status)
	}
	res, err := p.complete(ctx, reference, confirmedBy, Verification{Status: "confirmed"})
	if err != nil {
		return VerifyResult{}, err
	}
	p.audit(ctx, confirmedBy, "payments.confirm", reference, map[string]any{"amount": int64(txn.Amount)})
	return res, nil
}

// RejectManualPayment fails a manual payment without touching the ledger.
func (p *Processor) RejectManualPayment(ctx context.Context, reference, rejectedBy, reason string) (VerifyResult, error) {
	if rejectedBy == "" || reason == "" {
		return VerifyResult{}, fmt.Errorf("payments: rejecting user and reason required: %w", shared.ErrValidation)
	}
	release, err := p.lock(ctx, reference)
	if err != nil {
		return VerifyResult{}, err
	}
	defer release()

	var out school.Transaction
	err = p.mutate(ctx, reference, func(t *school.Transaction) error {
		if t.Gateway != school.GatewayManual || t.Status != school.TxPendingVerification {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, reference, t.Status)
		}
		now := p.now()
		t.Status = school.TxFailed
		t.FailureReason = ReasonRejected
		t.GatewayStatus = reason
		t.ProcessedAt = &now
		t.ProcessedBy = rejectedBy
		out = *t
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	p.observe(out.Gateway, "failed")
	p.audit(ctx, rejectedBy, "payments.reject", reference, map[string]any{"reason": reason})
	return verifyResult(out), nil
}

// Webhook returns the verifier for gateway.
func (p *Processor) Webhook(gateway school.Gateway) (WebhookVerifier, error) {
	gw, err := p.gateway(gateway)
	if err != nil {
		return nil, err
	}
	hook, ok := gw.(WebhookVerifier)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no webhooks", ErrUnsupportedGateway, gateway)
	}
	return hook, nil
}

// HandleWebhook authenticates a gateway callback and re-verifies the reference it
// names. The payload itself is never trusted for amounts or status.
func (p *Processor) HandleWebhook(ctx context.Context, gateway school.Gateway, body []byte, signature string) (VerifyResult, error) {
	hook, err := p.Webhook(gateway)
	if err != nil {
		return VerifyResult{}, err
	}
	reference, err := hook.ParseWebhook(body, signature)
	if err != nil {
		p.observe(gateway, "webhook_rejected")
		return VerifyResult{}, err
	}
	return p.Verify(ctx, reference, gateway)
}

func (p *Processor) audit(ctx context.Context, actor, action, reference string, meta map[string]any) {
	if p.deps.Audit == nil {
		return
	}
	err := p.deps.Audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "fee_transaction",
		EntityID: reference,
		Meta:     meta,
		At:       p.now(),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
