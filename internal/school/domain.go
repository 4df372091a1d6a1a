// Package school holds the entities shared by the ledger, payment and family modules.
package school

import (
	"slices"
	"time"
)

// RiskLevel classifies how likely a student's balance is to go unpaid.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// FeeStatus enumerates the derived status of a student fee line.
type FeeStatus string

const (
	FeeStatusPending FeeStatus = "pending"
	FeeStatusPaid    FeeStatus = "paid"
	FeeStatusOverdue FeeStatus = "overdue"
)

// RecordStatus enumerates the derived status of a ParentFeeRecord.
type RecordStatus string

const (
	RecordStatusPending RecordStatus = "pending"
	RecordStatusPartial RecordStatus = "partial"
	RecordStatusPaid    RecordStatus = "paid"
	RecordStatusOverdue RecordStatus = "overdue"
)

// StudentStatus enumerates enrolment states.
type StudentStatus string

const (
	StudentActive    StudentStatus = "active"
	StudentInactive  StudentStatus = "inactive"
	StudentGraduated StudentStatus = "graduated"
)

// School is the tenant owning students, parents and fee configuration.
type School struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Currency       string    `json:"currency"`
	CurrentSession string    `json:"current_session"`
	CurrentTerm    string    `json:"current_term"`
	PlanID         string    `json:"plan_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Fee is one obligation line owned by a single student.
type Fee struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Amount     Money     `json:"amount"`
	Discount   Money     `json:"discount"`
	PaidAmount Money     `json:"paid_amount"`
	DueDate    time.Time `json:"due_date"`
	Session    string    `json:"session"`
	Term       string    `json:"term"`
	Status     FeeStatus `json:"status"`
}

// Due is the amount the fee asks for after discounts.
func (f Fee) Due() Money {
	due := f.Amount - f.Discount
	if due < 0 {
		return 0
	}
	return due
}

// Remaining is what is still owed on the fee, never negative.
func (f Fee) Remaining() Money {
	rem := f.Due() - f.PaidAmount
	if rem < 0 {
		return 0
	}
	return rem
}

// StudentPayment is one entry of a student's payment history.
type StudentPayment struct {
	ID        string    `json:"id"`
	FeeID     string    `json:"fee_id,omitempty"`
	Amount    Money     `json:"amount"`
	Reference string    `json:"reference,omitempty"`
	Method    string    `json:"method"`
	PaidAt    time.Time `json:"paid_at"`
}

// Student is a learner enrolled at a school.
type Student struct {
	ID              string           `json:"id"`
	SchoolID        string           `json:"school_id"`
	Name            string           `json:"name"`
	Class           string           `json:"class"`
	AdmissionNumber string           `json:"admission_number"`
	Session         string           `json:"session"`
	Term            string           `json:"term"`
	ParentIDs       []string         `json:"parent_ids"`
	Fees            []Fee            `json:"fees"`
	OutstandingFees Money            `json:"outstanding_fees"`
	DebtRisk        RiskLevel        `json:"debt_risk"`
	Payments        []StudentPayment `json:"payments"`
	Status          StudentStatus    `json:"status"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// FeeIndex returns the position of the fee with the id, or -1.
func (s Student) FeeIndex(feeID string) int {
	return slices.IndexFunc(s.Fees, func(f Fee) bool { return f.ID == feeID })
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s Student) Clone() Student {
	out := s
	out.ParentIDs = slices.Clone(s.ParentIDs)
	out.Fees = slices.Clone(s.Fees)
	out.Payments = slices.Clone(s.Payments)
	return out
}

// ParentFeeRecord is the per-student, per-fee-structure ledger entry.
type ParentFeeRecord struct {
	ID                string       `json:"id"`
	SchoolID          string       `json:"school_id"`
	StudentID         string       `json:"student_id"`
	FeeStructureID    string       `json:"fee_structure_id"`
	AcademicYear      string       `json:"academic_year"`
	TotalAmount       Money        `json:"total_amount"`
	PaidAmount        Money        `json:"paid_amount"`
	OutstandingAmount Money        `json:"outstanding_amount"`
	CreditBalance     Money        `json:"credit_balance"`
	LateFees          Money        `json:"late_fees"`
	DiscountApplied   Money        `json:"discount_applied"`
	PaymentStatus     RecordStatus `json:"payment_status"`
	NextDueDate       time.Time    `json:"next_due_date"`
	InstallmentPlanID string       `json:"installment_plan_id,omitempty"`
	LateFeeAppliedAt  *time.Time   `json:"late_fee_applied_at,omitempty"`
	Version           int64        `json:"version"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Gateway names a payment channel.
type Gateway string

const (
	GatewayPaystack    Gateway = "paystack"
	GatewayFlutterwave Gateway = "flutterwave"
	GatewayManual      Gateway = "manual"
)

// Valid reports whether the gateway is supported.
func (g Gateway) Valid() bool {
	switch g {
	case GatewayPaystack, GatewayFlutterwave, GatewayManual:
		return true
	}
	return false
}

// TransactionStatus enumerates the payment transaction lifecycle.
type TransactionStatus string

const (
	TxPending             TransactionStatus = "pending"
	TxPendingVerification TransactionStatus = "pending_verification"
	TxCompleted           TransactionStatus = "completed"
	TxFailed              TransactionStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == TxCompleted || s == TxFailed
}

// LineItem targets either a ParentFeeRecord or a student's fee line.
type LineItem struct {
	FeeRecordID string `json:"fee_record_id,omitempty"`
	StudentID   string `json:"student_id,omitempty"`
	FeeID       string `json:"fee_id,omitempty"`
	Amount      Money  `json:"amount"`
}

// Customer is the payer contact passed to gateways.
type Customer struct {
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// PaymentProof is evidence attached to a manual payment.
type PaymentProof struct {
	DocumentRef string    `json:"document_ref"`
	Notes       string    `json:"notes,omitempty"`
	AttachedBy  string    `json:"attached_by"`
	AttachedAt  time.Time `json:"attached_at"`
}

// Transaction is a single payment attempt identified by its reference.
type Transaction struct {
	ID             string            `json:"id"`
	SchoolID       string            `json:"school_id"`
	Reference      string            `json:"reference"`
	FeeRecordID    string            `json:"fee_record_id,omitempty"`
	StudentID      string            `json:"student_id,omitempty"`
	Gateway        Gateway           `json:"gateway"`
	Status         TransactionStatus `json:"status"`
	Amount         Money             `json:"amount"`
	Currency       string            `json:"currency"`
	Lines          []LineItem        `json:"lines"`
	Customer       Customer          `json:"customer"`
	Notes          string            `json:"notes,omitempty"`
	Proof          *PaymentProof     `json:"proof,omitempty"`
	RedirectURL    string            `json:"redirect_url,omitempty"`
	GatewayStatus  string            `json:"gateway_status,omitempty"`
	GatewayRaw     string            `json:"gateway_raw,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	VerifyAttempts int               `json:"verify_attempts"`
	InitiatedBy    string            `json:"initiated_by,omitempty"`
	ProcessedBy    string            `json:"processed_by,omitempty"`
	InitiatedAt    time.Time         `json:"initiated_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
	Version        int64             `json:"version"`
}

// Clone returns a deep copy of the transaction.
func (t Transaction) Clone() Transaction {
	out := t
	out.Lines = slices.Clone(t.Lines)
	if t.Proof != nil {
		p := *t.Proof
		out.Proof = &p
	}
	if t.ProcessedAt != nil {
		at := *t.ProcessedAt
		out.ProcessedAt = &at
	}
	return out
}

// EntryKind enumerates ledger audit entries.
type EntryKind string

const (
	EntryPayment         EntryKind = "payment"
	EntryLateFee         EntryKind = "late_fee"
	EntryDiscount        EntryKind = "discount"
	EntrySiblingDiscount EntryKind = "sibling_discount"
	EntryCharge          EntryKind = "charge"
)

// LedgerEntry is an append-only audit line for every ledger mutation.
type LedgerEntry struct {
	ID        string    `json:"id"`
	SchoolID  string    `json:"school_id"`
	StudentID string    `json:"student_id"`
	TargetID  string    `json:"target_id"`
	Kind      EntryKind `json:"kind"`
	Amount    Money     `json:"amount"`
	Reference string    `json:"reference,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ParentAccount is a guardian login owned by a school.
type ParentAccount struct {
	ID          string    `json:"id"`
	SchoolID    string    `json:"school_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	ChildrenIDs []string  `json:"children_ids"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasChild reports whether the student is linked to the parent.
func (p ParentAccount) HasChild(studentID string) bool {
	return slices.Contains(p.ChildrenIDs, studentID)
}

// Clone returns a deep copy of the parent account.
func (p ParentAccount) Clone() ParentAccount {
	out := p
	out.ChildrenIDs = slices.Clone(p.ChildrenIDs)
	return out
}

// Relationship describes how a guardian relates to a student.
type Relationship string

const (
	RelationshipFather   Relationship = "father"
	RelationshipMother   Relationship = "mother"
	RelationshipGuardian Relationship = "guardian"
	RelationshipOther    Relationship = "other"
)

// Valid reports whether the relationship is known.
func (r Relationship) Valid() bool {
	switch r {
	case RelationshipFather, RelationshipMother, RelationshipGuardian, RelationshipOther:
		return true
	}
	return false
}

// Assignment links a student to a parent account.
type Assignment struct {
	StudentID    string       `json:"student_id"`
	ParentID     string       `json:"parent_id"`
	Relationship Relationship `json:"relationship_type"`
	IsPrimary    bool         `json:"is_primary"`
	AssignedAt   time.Time    `json:"assigned_at"`
	AssignedBy   string       `json:"assigned_by"`
}

// LateFeeType selects how a structure's late fee is computed.
type LateFeeType string

const (
	LateFeeFixed      LateFeeType = "fixed"
	LateFeePercentage LateFeeType = "percentage"
)

// FeeCategory groups fee structures.
type FeeCategory struct {
	ID                string    `json:"id"`
	SchoolID          string    `json:"school_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	IsCompulsory      bool      `json:"is_compulsory"`
	ApplicableClasses []string  `json:"applicable_classes"`
	AcademicYear      string    `json:"academic_year"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// FeeStructure is a school-defined charge for one class.
type FeeStructure struct {
	ID                string      `json:"id"`
	SchoolID          string      `json:"school_id"`
	CategoryID        string      `json:"category_id"`
	ClassName         string      `json:"class_name"`
	AcademicYear      string      `json:"academic_year"`
	Amount            Money       `json:"amount"`
	Currency          string      `json:"currency"`
	DueDate           time.Time   `json:"due_date"`
	LateFeeAmount     Money       `json:"late_fee_amount"`
	LateFeePercent    float64     `json:"late_fee_percent,omitempty"`
	LateFeeType       LateFeeType `json:"late_fee_type"`
	AllowInstallments bool        `json:"allow_installments"`
	IsActive          bool        `json:"is_active"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// InstallmentPlan splits a fee into scheduled parts.
type InstallmentPlan struct {
	ID                 string      `json:"id"`
	SchoolID           string      `json:"school_id"`
	Name               string      `json:"name"`
	InstallmentAmounts []Money     `json:"installment_amounts"`
	DueDates           []time.Time `json:"due_dates"`
	ProcessingFee      Money       `json:"processing_fee"`
}

// NumberOfInstallments reports the plan length.
func (p InstallmentPlan) NumberOfInstallments() int {
	return len(p.InstallmentAmounts)
}

// Total sums every installment, excluding the processing fee.
func (p InstallmentPlan) Total() Money {
	var total Money
	for _, amt := range p.InstallmentAmounts {
		total += amt
	}
	return total
}
