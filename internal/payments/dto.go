package payments

import (
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/store"
)

// LineRequest targets a fee record, or a student's fee line.
type LineRequest struct {
	FeeRecordID string       `json:"fee_record_id" validate:"required_without=StudentID"`
	StudentID   string       `json:"student_id" validate:"required_without=FeeRecordID"`
	FeeID       string       `json:"fee_id" validate:"required_with=StudentID"`
	Amount      school.Money `json:"amount" validate:"gt=0"`
}

// CustomerRequest is the payer contact.
type CustomerRequest struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// InitiateRequest opens a payment for one or more fee lines.
type InitiateRequest struct {
	SchoolID       string          `json:"school_id" validate:"required"`
	Gateway        school.Gateway  `json:"gateway" validate:"required,oneof=paystack flutterwave manual"`
	Currency       string          `json:"currency" validate:"omitempty,len=3"`
	Lines          []LineRequest   `json:"lines" validate:"required,min=1,dive"`
	Customer       CustomerRequest `json:"customer"`
	Notes          string          `json:"notes"`
	CallbackURL    string          `json:"callback_url" validate:"omitempty,url"`
	IdempotencyKey string          `json:"-"`
	InitiatedBy    string          `json:"-"`
}

// Total sums the line amounts.
func (r InitiateRequest) Total() school.Money {
	var total school.Money
	for _, l := range r.Lines {
		total += l.Amount
	}
	return total
}

func (r InitiateRequest) lineItems() []school.LineItem {
	out := make([]school.LineItem, len(r.Lines))
	for i, l := range r.Lines {
		out[i] = school.LineItem{FeeRecordID: l.FeeRecordID, StudentID: l.StudentID, FeeID: l.FeeID, Amount: l.Amount}
		if l.FeeRecordID != "" {
			out[i].StudentID, out[i].FeeID = "", ""
		}
	}
	return out
}

// InitiateResult is returned to the payer.
type InitiateResult struct {
	Reference   string                   `json:"reference"`
	RedirectURL string                   `json:"redirect_url,omitempty"`
	Status      school.TransactionStatus `json:"status"`
	Amount      school.Money             `json:"amount"`
}

// VerifyResult reports the state of a transaction after a verification attempt.
type VerifyResult struct {
	Reference     string                   `json:"reference"`
	Status        school.TransactionStatus `json:"status"`
	Amount        school.Money             `json:"amount"`
	Verified      bool                     `json:"verified"`
	FailureReason string                   `json:"failure_reason,omitempty"`
}

// ProofRequest attaches evidence to a manual payment.
type ProofRequest struct {
	DocumentRef string `json:"document_ref" validate:"required"`
	Notes       string `json:"notes"`
}

// RejectRequest records why a manual payment was refused.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ListFilter narrows List.
type ListFilter = store.TransactionFilter

func verifyResult(t school.Transaction) VerifyResult {
	return VerifyResult{
		Reference:     t.Reference,
		Status:        t.Status,
		Amount:        t.Amount,
		Verified:      t.Status == school.TxCompleted,
		FailureReason: t.FailureReason,
	}
}
