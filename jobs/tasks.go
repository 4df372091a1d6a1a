package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/schoolfees/schoolfees/internal/school"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueuePayments carries gateway follow-ups and receipts.
	QueuePayments = "payments"

	// TaskPaymentReverify re-asks a gateway for the outcome of a pending transaction.
	TaskPaymentReverify = "payments:reverify"
	// TaskPaymentReceipt renders and delivers the receipt of a completed payment.
	TaskPaymentReceipt = "payments:receipt"
	// TaskLateFeeSweep charges late fees on overdue fee records.
	TaskLateFeeSweep = "ledger:late_fee_sweep"
	// TaskSubscriptionRenewal advances subscriptions whose period has ended.
	TaskSubscriptionRenewal = "billing:renewals"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ReverifyPayload identifies a transaction awaiting a gateway verdict.
type ReverifyPayload struct {
	Reference string         `json:"reference"`
	Gateway   school.Gateway `json:"gateway"`
	Attempt   int            `json:"attempt"`
}

// ReceiptPayload identifies a completed transaction.
type ReceiptPayload struct {
	Reference string `json:"reference"`
}

// LateFeeSweepPayload scopes a sweep. An empty SchoolID sweeps every school.
type LateFeeSweepPayload struct {
	SchoolID string `json:"school_id,omitempty"`
}

// SubscriptionRenewalPayload is empty; the task always renews everything due.
type SubscriptionRenewalPayload struct{}

// IdempotencyCleanupPayload configures how long keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewReverifyTask builds a payments:reverify task.
func NewReverifyTask(reference string, gateway school.Gateway, attempt int) (*asynq.Task, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("jobs: reverify task requires a reference")
	}
	return newTask(TaskPaymentReverify, ReverifyPayload{Reference: reference, Gateway: gateway, Attempt: attempt}, QueuePayments)
}

// NewReceiptTask builds a payments:receipt task.
func NewReceiptTask(reference string) (*asynq.Task, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("jobs: receipt task requires a reference")
	}
	return newTask(TaskPaymentReceipt, ReceiptPayload{Reference: reference}, QueuePayments)
}

// NewLateFeeSweepTask builds a late fee sweep for one school, or all when schoolID is empty.
func NewLateFeeSweepTask(schoolID string) (*asynq.Task, error) {
	return newTask(TaskLateFeeSweep, LateFeeSweepPayload{SchoolID: strings.TrimSpace(schoolID)}, QueueDefault)
}

// NewSubscriptionRenewalTask builds the periodic renewal task.
func NewSubscriptionRenewalTask() (*asynq.Task, error) {
	return newTask(TaskSubscriptionRenewal, SubscriptionRenewalPayload{}, QueueDefault)
}

// NewIdempotencyCleanupTask builds the key purge task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	if retentionHours <= 0 {
		retentionHours = 72
	}
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{RetentionHours: retentionHours}, QueueDefault)
}

func newTask(typ string, payload any, queue string) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(queue)), nil
}
