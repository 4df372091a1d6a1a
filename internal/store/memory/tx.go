package memory

import (
	"context"
	"slices"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/store"
)

type tx struct {
	st *state
}

func getRow[T any](t *table[T], key string, cp func(T) T) (T, error) {
	v, ok := t.get(key)
	if !ok {
		var zero T
		return zero, store.ErrNotFound
	}
	if cp != nil {
		v = cp(v)
	}
	return v, nil
}

func listRows[T any](t *table[T], keep func(T) bool, cp func(T) T) []T {
	rows := t.values(keep)
	if cp != nil {
		for i := range rows {
			rows[i] = cp(rows[i])
		}
	}
	return rows
}

func insertRow[T any](t *table[T], key string, v T) error {
	if key == "" {
		return store.ErrNotFound
	}
	if t.has(key) {
		return store.ErrConflict
	}
	t.put(key, v)
	return nil
}

func replaceRow[T any](t *table[T], key string, v T) error {
	if !t.has(key) {
		return store.ErrNotFound
	}
	t.put(key, v)
	return nil
}

func deleteRow[T any](t *table[T], key string) error {
	if !t.del(key) {
		return store.ErrNotFound
	}
	return nil
}

func matches(want, got string) bool {
	return want == "" || want == got
}

func (t *tx) GetSchool(ctx context.Context, id string) (school.School, error) {
	return getRow(t.st.schools, id, nil)
}

func (t *tx) ListSchools(ctx context.Context) ([]school.School, error) {
	return listRows(t.st.schools, nil, nil), nil
}

func (t *tx) CreateSchool(ctx context.Context, s school.School) error {
	return insertRow(t.st.schools, s.ID, s)
}

func (t *tx) GetStudent(ctx context.Context, id string) (school.Student, error) {
	return getRow(t.st.students, id, school.Student.Clone)
}

func (t *tx) ListStudents(ctx context.Context, f store.StudentFilter) ([]school.Student, error) {
	return listRows(t.st.students, func(s school.Student) bool {
		return matches(f.SchoolID, s.SchoolID) &&
			matches(f.ClassName, s.Class) &&
			matches(string(f.Status), string(s.Status)) &&
			(len(f.IDs) == 0 || slices.Contains(f.IDs, s.ID))
	}, school.Student.Clone), nil
}

func (t *tx) CreateStudent(ctx context.Context, s school.Student) error {
	return insertRow(t.st.students, s.ID, s.Clone())
}

func (t *tx) UpdateStudent(ctx context.Context, s *school.Student) error {
	cur, ok := t.st.students.get(s.ID)
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != s.Version {
		return store.ErrConflict
	}
	s.Version++
	t.st.students.put(s.ID, s.Clone())
	return nil
}

func (t *tx) GetFeeRecord(ctx context.Context, id string) (school.ParentFeeRecord, error) {
	return getRow(t.st.records, id, nil)
}

func (t *tx) ListFeeRecords(ctx context.Context, f store.FeeRecordFilter) ([]school.ParentFeeRecord, error) {
	return listRows(t.st.records, func(r school.ParentFeeRecord) bool {
		return matches(f.SchoolID, r.SchoolID) &&
			matches(f.StudentID, r.StudentID) &&
			matches(f.FeeStructureID, r.FeeStructureID) &&
			matches(string(f.Status), string(r.PaymentStatus))
	}, nil), nil
}

func (t *tx) CreateFeeRecord(ctx context.Context, r school.ParentFeeRecord) error {
	return insertRow(t.st.records, r.ID, r)
}

func (t *tx) UpdateFeeRecord(ctx context.Context, r *school.ParentFeeRecord) error {
	cur, ok := t.st.records.get(r.ID)
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != r.Version {
		return store.ErrConflict
	}
	r.Version++
	t.st.records.put(r.ID, *r)
	return nil
}

func (t *tx) GetTransaction(ctx context.Context, reference string) (school.Transaction, error) {
	return getRow(t.st.transactions, reference, school.Transaction.Clone)
}

func (t *tx) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]school.Transaction, error) {
	rows := listRows(t.st.transactions, func(tr school.Transaction) bool {
		if f.StudentID != "" && tr.StudentID != f.StudentID &&
			!slices.ContainsFunc(tr.Lines, func(l school.LineItem) bool { return l.StudentID == f.StudentID }) {
			return false
		}
		return matches(f.SchoolID, tr.SchoolID) &&
			matches(string(f.Status), string(tr.Status)) &&
			matches(string(f.Gateway), string(tr.Gateway))
	}, school.Transaction.Clone)
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[len(rows)-f.Limit:]
	}
	return rows, nil
}

func (t *tx) CreateTransaction(ctx context.Context, tr school.Transaction) error {
	return insertRow(t.st.transactions, tr.Reference, tr.Clone())
}

func (t *tx) UpdateTransaction(ctx context.Context, tr *school.Transaction) error {
	cur, ok := t.st.transactions.get(tr.Reference)
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != tr.Version {
		return store.ErrConflict
	}
	tr.Version++
	t.st.transactions.put(tr.Reference, tr.Clone())
	return nil
}

func (t *tx) AppendLedgerEntries(ctx context.Context, entries ...school.LedgerEntry) error {
	t.st.entries = append(t.st.entries, entries...)
	return nil
}

func (t *tx) ListLedgerEntries(ctx context.Context, f store.LedgerFilter) ([]school.LedgerEntry, error) {
	var out []school.LedgerEntry
	for _, e := range t.st.entries {
		if !matches(f.SchoolID, e.SchoolID) || !matches(f.StudentID, e.StudentID) ||
			!matches(f.TargetID, e.TargetID) || !matches(string(f.Kind), string(e.Kind)) {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *tx) GetParent(ctx context.Context, id string) (school.ParentAccount, error) {
	return getRow(t.st.parents, id, school.ParentAccount.Clone)
}

func (t *tx) ListParents(ctx context.Context, schoolID string) ([]school.ParentAccount, error) {
	return listRows(t.st.parents, func(p school.ParentAccount) bool {
		return matches(schoolID, p.SchoolID)
	}, school.ParentAccount.Clone), nil
}

func (t *tx) CreateParent(ctx context.Context, p school.ParentAccount) error {
	return insertRow(t.st.parents, p.ID, p.Clone())
}

func (t *tx) UpdateParent(ctx context.Context, p *school.ParentAccount) error {
	cur, ok := t.st.parents.get(p.ID)
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != p.Version {
		return store.ErrConflict
	}
	p.Version++
	t.st.parents.put(p.ID, p.Clone())
	return nil
}

func (t *tx) DeleteParent(ctx context.Context, id string) error {
	return deleteRow(t.st.parents, id)
}

func (t *tx) ListAssignments(ctx context.Context, f store.AssignmentFilter) ([]school.Assignment, error) {
	return listRows(t.st.assignments, func(a school.Assignment) bool {
		return matches(f.StudentID, a.StudentID) && matches(f.ParentID, a.ParentID)
	}, nil), nil
}

func (t *tx) CreateAssignment(ctx context.Context, a school.Assignment) error {
	return insertRow(t.st.assignments, assignmentKey(a.StudentID, a.ParentID), a)
}

func (t *tx) UpdateAssignment(ctx context.Context, a school.Assignment) error {
	return replaceRow(t.st.assignments, assignmentKey(a.StudentID, a.ParentID), a)
}

func (t *tx) DeleteAssignment(ctx context.Context, studentID, parentID string) error {
	return deleteRow(t.st.assignments, assignmentKey(studentID, parentID))
}

func (t *tx) GetFeeCategory(ctx context.Context, id string) (school.FeeCategory, error) {
	return getRow(t.st.categories, id, cloneCategory)
}

func (t *tx) ListFeeCategories(ctx context.Context, schoolID string) ([]school.FeeCategory, error) {
	return listRows(t.st.categories, func(c school.FeeCategory) bool {
		return matches(schoolID, c.SchoolID)
	}, cloneCategory), nil
}

func (t *tx) CreateFeeCategory(ctx context.Context, c school.FeeCategory) error {
	return insertRow(t.st.categories, c.ID, cloneCategory(c))
}

func (t *tx) UpdateFeeCategory(ctx context.Context, c school.FeeCategory) error {
	return replaceRow(t.st.categories, c.ID, cloneCategory(c))
}

func (t *tx) DeleteFeeCategory(ctx context.Context, id string) error {
	return deleteRow(t.st.categories, id)
}

func (t *tx) GetFeeStructure(ctx context.Context, id string) (school.FeeStructure, error) {
	return getRow(t.st.structures, id, nil)
}

func (t *tx) ListFeeStructures(ctx context.Context, f store.FeeStructureFilter) ([]school.FeeStructure, error) {
	return listRows(t.st.structures, func(s school.FeeStructure) bool {
		return matches(f.SchoolID, s.SchoolID) &&
			matches(f.CategoryID, s.CategoryID) &&
			matches(f.ClassName, s.ClassName) &&
			(!f.ActiveOnly || s.IsActive)
	}, nil), nil
}

func (t *tx) CreateFeeStructure(ctx context.Context, s school.FeeStructure) error {
	return insertRow(t.st.structures, s.ID, s)
}

func (t *tx) UpdateFeeStructure(ctx context.Context, s school.FeeStructure) error {
	return replaceRow(t.st.structures, s.ID, s)
}

func (t *tx) DeleteFeeStructure(ctx context.Context, id string) error {
	return deleteRow(t.st.structures, id)
}

func (t *tx) GetInstallmentPlan(ctx context.Context, id string) (school.InstallmentPlan, error) {
	return getRow(t.st.installments, id, cloneInstallmentPlan)
}

func (t *tx) ListInstallmentPlans(ctx context.Context, schoolID string) ([]school.InstallmentPlan, error) {
	return listRows(t.st.installments, func(p school.InstallmentPlan) bool {
		return matches(schoolID, p.SchoolID)
	}, cloneInstallmentPlan), nil
}

func (t *tx) CreateInstallmentPlan(ctx context.Context, p school.InstallmentPlan) error {
	return insertRow(t.st.installments, p.ID, cloneInstallmentPlan(p))
}

func (t *tx) DeleteInstallmentPlan(ctx context.Context, id string) error {
	return deleteRow(t.st.installments, id)
}

func (t *tx) GetPlan(ctx context.Context, id string) (school.SubscriptionPlan, error) {
	return getRow(t.st.plans, id, clonePlan)
}

func (t *tx) ListPlans(ctx context.Context) ([]school.SubscriptionPlan, error) {
	return listRows(t.st.plans, nil, clonePlan), nil
}

func (t *tx) UpsertPlan(ctx context.Context, p school.SubscriptionPlan) error {
	t.st.plans.put(p.ID, clonePlan(p))
	return nil
}

func (t *tx) GetSubscription(ctx context.Context, schoolID string) (school.SchoolSubscription, error) {
	return getRow(t.st.subscriptions, schoolID, nil)
}

func (t *tx) ListSubscriptions(ctx context.Context) ([]school.SchoolSubscription, error) {
	return listRows(t.st.subscriptions, nil, nil), nil
}

func (t *tx) CreateSubscription(ctx context.Context, s school.SchoolSubscription) error {
	return insertRow(t.st.subscriptions, s.SchoolID, s)
}

func (t *tx) UpdateSubscription(ctx context.Context, s school.SchoolSubscription) error {
	return replaceRow(t.st.subscriptions, s.SchoolID, s)
}

func (t *tx) ListBillingRecords(ctx context.Context, schoolID string) ([]school.BillingRecord, error) {
	var out []school.BillingRecord
	for _, r := range t.st.billing {
		if matches(schoolID, r.SchoolID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *tx) CreateBillingRecord(ctx context.Context, r school.BillingRecord) error {
	t.st.billing = append(t.st.billing, r)
	return nil
}

var _ store.Tx = (*tx)(nil)
