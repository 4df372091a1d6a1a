// Package store defines the record store every school-fee module persists through.
//
// All mutations run inside Store.WithTx. Implementations guarantee that either every
// write issued through the Tx becomes visible or none does, and that Update* calls
// fail with ErrConflict when the stored version differs from the one supplied.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = fmt.Errorf("store: record %w", shared.ErrNotFound)
	// ErrConflict indicates a stale version or a duplicate key.
	ErrConflict = fmt.Errorf("store: %w", shared.ErrConflict)
)

// IsNotFound reports whether err is a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}

// Store runs units of work.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx exposes typed record access within one unit of work.
type Tx interface {
	Schools
	Students
	FeeRecords
	Transactions
	Ledger
	Parents
	Assignments
	FeeConfig
	Billing
}

// Schools covers tenant records.
type Schools interface {
	GetSchool(ctx context.Context, id string) (school.School, error)
	ListSchools(ctx context.Context) ([]school.School, error)
	CreateSchool(ctx context.Context, s school.School) error
}

// StudentFilter narrows ListStudents.
type StudentFilter struct {
	SchoolID  string
	ClassName string
	IDs       []string
	Status    school.StudentStatus
}

// Students covers learners and their embedded fee lines.
type Students interface {
	GetStudent(ctx context.Context, id string) (school.Student, error)
	ListStudents(ctx context.Context, filter StudentFilter) ([]school.Student, error)
	CreateStudent(ctx context.Context, s school.Student) error
	// UpdateStudent writes s when the stored version equals s.Version and bumps it.
	UpdateStudent(ctx context.Context, s *school.Student) error
}

// FeeRecordFilter narrows ListFeeRecords.
type FeeRecordFilter struct {
	SchoolID       string
	StudentID      string
	FeeStructureID string
	Status         school.RecordStatus
}

// FeeRecords covers ParentFeeRecords.
type FeeRecords interface {
	GetFeeRecord(ctx context.Context, id string) (school.ParentFeeRecord, error)
	ListFeeRecords(ctx context.Context, filter FeeRecordFilter) ([]school.ParentFeeRecord, error)
	CreateFeeRecord(ctx context.Context, r school.ParentFeeRecord) error
	UpdateFeeRecord(ctx context.Context, r *school.ParentFeeRecord) error
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	SchoolID  string
	StudentID string
	Status    school.TransactionStatus
	Gateway   school.Gateway
	Limit     int
}

// Transactions covers payment transactions keyed by reference.
type Transactions interface {
	GetTransaction(ctx context.Context, reference string) (school.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]school.Transaction, error)
	CreateTransaction(ctx context.Context, t school.Transaction) error
	UpdateTransaction(ctx context.Context, t *school.Transaction) error
}

// LedgerFilter narrows ListLedgerEntries.
type LedgerFilter struct {
	SchoolID  string
	StudentID string
	TargetID  string
	Kind      school.EntryKind
	Since     time.Time
}

// Ledger covers the append-only audit trail.
type Ledger interface {
	AppendLedgerEntries(ctx context.Context, entries ...school.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]school.LedgerEntry, error)
}

// Parents covers parent accounts.
type Parents interface {
	GetParent(ctx context.Context, id string) (school.ParentAccount, error)
	ListParents(ctx context.Context, schoolID string) ([]school.ParentAccount, error)
	CreateParent(ctx context.Context, p school.ParentAccount) error
	UpdateParent(ctx context.Context, p *school.ParentAccount) error
	DeleteParent(ctx context.Context, id string) error
}

// AssignmentFilter narrows ListAssignments. Empty fields match everything.
type AssignmentFilter struct {
	StudentID string
	ParentID  string
}

// Assignments covers parent/student links.
type Assignments interface {
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]school.Assignment, error)
	CreateAssignment(ctx context.Context, a school.Assignment) error
	UpdateAssignment(ctx context.Context, a school.Assignment) error
	DeleteAssignment(ctx context.Context, studentID, parentID string) error
}

// FeeStructureFilter narrows ListFeeStructures.
type FeeStructureFilter struct {
	SchoolID   string
	CategoryID string
	ClassName  string
	ActiveOnly bool
}

// FeeConfig covers categories, structures and installment plans.
type FeeConfig interface {
	GetFeeCategory(ctx context.Context, id string) (school.FeeCategory, error)
	ListFeeCategories(ctx context.Context, schoolID string) ([]school.FeeCategory, error)
	CreateFeeCategory(ctx context.Context, c school.FeeCategory) error
	UpdateFeeCategory(ctx context.Context, c school.FeeCategory) error
	DeleteFeeCategory(ctx context.Context, id string) error

	GetFeeStructure(ctx context.Context, id string) (school.FeeStructure, error)
	ListFeeStructures(ctx context.Context, filter FeeStructureFilter) ([]school.FeeStructure, error)
	CreateFeeStructure(ctx context.Context, s school.FeeStructure) error
	UpdateFeeStructure(ctx context.Context, s school.FeeStructure) error
	DeleteFeeStructure(ctx context.Context, id string) error

	GetInstallmentPlan(ctx context.Context, id string) (school.InstallmentPlan, error)
	ListInstallmentPlans(ctx context.Context, schoolID string) ([]school.InstallmentPlan, error)
	CreateInstallmentPlan(ctx context.Context, p school.InstallmentPlan) error
	DeleteInstallmentPlan(ctx context.Context, id string) error
}

// Billing covers platform subscriptions.
type Billing interface {
	GetPlan(ctx context.Context, id string) (school.SubscriptionPlan, error)
	ListPlans(ctx context.Context) ([]school.SubscriptionPlan, error)
	UpsertPlan(ctx context.Context, p school.SubscriptionPlan) error

	GetSubscription(ctx context.Context, schoolID string) (school.SchoolSubscription, error)
	ListSubscriptions(ctx context.Context) ([]school.SchoolSubscription, error)
	CreateSubscription(ctx context.Context, s school.SchoolSubscription) error
	UpdateSubscription(ctx context.Context, s school.SchoolSubscription) error

	ListBillingRecords(ctx context.Context, schoolID string) ([]school.BillingRecord, error)
	CreateBillingRecord(ctx context.Context, r school.BillingRecord) error
}
