// Package memory implements store.Store in process memory with copy-on-write commits.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/store"
)

const (
	// ParentAccountsKey holds the JSON array of parent accounts in a KV backend.
	ParentAccountsKey = "schoolfees_parent_accounts"
	// AssignmentsKey holds the JSON array of student assignments in a KV backend.
	AssignmentsKey = "schoolfees_student_assignments"
)

type state struct {
	schools       *table[school.School]
	students      *table[school.Student]
	records       *table[school.ParentFeeRecord]
	transactions  *table[school.Transaction]
	entries       []school.LedgerEntry
	parents       *table[school.ParentAccount]
	assignments   *table[school.Assignment]
	categories    *table[school.FeeCategory]
	structures    *table[school.FeeStructure]
	installments  *table[school.InstallmentPlan]
	plans         *table[school.SubscriptionPlan]
	subscriptions *table[school.SchoolSubscription]
	billing       []school.BillingRecord
}

func newState() *state {
	return &state{
		schools:       newTable[school.School](),
		students:      newTable[school.Student](),
		records:       newTable[school.ParentFeeRecord](),
		transactions:  newTable[school.Transaction](),
		parents:       newTable[school.ParentAccount](),
		assignments:   newTable[school.Assignment](),
		categories:    newTable[school.FeeCategory](),
		structures:    newTable[school.FeeStructure](),
		installments:  newTable[school.InstallmentPlan](),
		plans:         newTable[school.SubscriptionPlan](),
		subscriptions: newTable[school.SchoolSubscription](),
	}
}

func (s *state) clone() *state {
	return &state{
		schools:       s.schools.clone(nil),
		students:      s.students.clone(school.Student.Clone),
		records:       s.records.clone(nil),
		transactions:  s.transactions.clone(school.Transaction.Clone),
		entries:       slices.Clone(s.entries),
		parents:       s.parents.clone(school.ParentAccount.Clone),
		assignments:   s.assignments.clone(nil),
		categories:    s.categories.clone(cloneCategory),
		structures:    s.structures.clone(nil),
		installments:  s.installments.clone(cloneInstallmentPlan),
		plans:         s.plans.clone(clonePlan),
		subscriptions: s.subscriptions.clone(nil),
		billing:       slices.Clone(s.billing),
	}
}

// Store is an in-memory store.Store. Writers are serialised; a failed unit of work
// leaves the committed state untouched.
type Store struct {
	mu    sync.Mutex
	state *state
	kv    KV
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{state: newState()}
}

// NewPersistent returns a store whose parent accounts and assignments are loaded
// from and written back to kv on every commit.
func NewPersistent(ctx context.Context, kv KV) (*Store, error) {
	s := &Store{state: newState(), kv: kv}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// WithTx runs fn against a private snapshot and publishes it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.state.clone()
	if err := fn(ctx, &tx{st: snapshot}); err != nil {
		return err
	}
	if s.kv != nil {
		if err := s.persist(ctx, snapshot); err != nil {
			return fmt.Errorf("store/memory: persist: %w", err)
		}
	}
	s.state = snapshot
	return nil
}

func assignmentKey(studentID, parentID string) string {
	return studentID + "|" + parentID
}

func cloneCategory(c school.FeeCategory) school.FeeCategory {
	c.ApplicableClasses = slices.Clone(c.ApplicableClasses)
	return c
}

func cloneInstallmentPlan(p school.InstallmentPlan) school.InstallmentPlan {
	p.InstallmentAmounts = slices.Clone(p.InstallmentAmounts)
	p.DueDates = slices.Clone(p.DueDates)
	return p
}

func clonePlan(p school.SubscriptionPlan) school.SubscriptionPlan {
	p.Features = slices.Clone(p.Features)
	return p
}

var _ store.Store = (*Store)(nil)
