package family

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
	"github.com/schoolfees/schoolfees/internal/store/memory"
)

var testNow = time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	engine := ledger.NewEngine(func() time.Time { return testNow })
	st := memory.New()
	due := testNow.AddDate(0, 1, 0)
	students := []school.Student{
		{ID: "s1", SchoolID: "sch-1", Name: "Ada", Class: "JSS1", Fees: []school.Fee{
			{ID: "f1", Type: "tuition", Amount: 100000, DueDate: due},
			{ID: "f2", Type: "bus", Amount: 50000, PaidAmount: 20000, DueDate: due},
			{ID: "f3", Type: "uniform", Amount: 10000, PaidAmount: 10000, DueDate: due},
		}},
		{ID: "s2", SchoolID: "sch-1", Name: "Bola", Class: "JSS3", Fees: []school.Fee{
			{ID: "f4", Type: "tuition", Amount: 77777, DueDate: due},
		}},
		{ID: "s3", SchoolID: "sch-1", Name: "Chi", Class: "SS1", Fees: []school.Fee{
			{ID: "f5", Type: "tuition", Amount: 90000, DueDate: due},
		}},
	}
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, s := range students {
			if err := tx.CreateStudent(ctx, engine.RecomputeStudent(s)); err != nil {
				return err
			}
		}
		if err := tx.CreateParent(ctx, school.ParentAccount{ID: "p1", SchoolID: "sch-1", Name: "Okafor", ChildrenIDs: []string{"s1", "s2"}}); err != nil {
			return err
		}
		return tx.CreateParent(ctx, school.ParentAccount{ID: "p2", SchoolID: "sch-1", Name: "Musa", ChildrenIDs: []string{"s3"}})
	}))
	return NewService(st, engine, 100000, nil, nil), st
}

func loadStudent(t *testing.T, st *memory.Store, id string) school.Student {
	t.Helper()
	var out school.Student
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.GetStudent(ctx, id)
		return err
	}))
	return out
}

func TestFamilyGroups(t *testing.T) {
	svc, _ := newTestService(t)
	groups, err := svc.FamilyGroups(context.Background(), "sch-1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "p1", groups[0].Parent.ID)
	require.Equal(t, school.Money(130000+77777), groups[0].TotalOutstandingFees)
	require.True(t, groups[0].FamilyDiscountEligible)
	require.False(t, groups[1].FamilyDiscountEligible)
}

func TestApplySiblingDiscountIsPerChild(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	res, err := svc.ApplySiblingDiscount(ctx, "p1", decimal.NewFromInt(10), "bursar")
	require.NoError(t, err)
	require.Len(t, res.Children, 2)

	ada := loadStudent(t, st, "s1")
	require.Equal(t, school.Money(117000), ada.OutstandingFees)
	require.Equal(t, school.Money(10000), ada.Fees[0].Discount)
	require.Equal(t, school.Money(3000), ada.Fees[1].Discount)
	require.Equal(t, school.Money(0), ada.Fees[2].Discount)

	bola := loadStudent(t, st, "s2")
	require.Equal(t, school.Money(69999), bola.OutstandingFees)
	require.Equal(t, school.Money(7778), res.Children[1].Discount)
	require.Equal(t, school.Money(13000+7778), res.TotalDiscount)

	chi := loadStudent(t, st, "s3")
	require.Equal(t, school.Money(90000), chi.OutstandingFees)

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.ListLedgerEntries(ctx, store.LedgerFilter{Kind: school.EntrySiblingDiscount})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "bursar", entries[0].Actor)
		require.Equal(t, school.Money(13000), entries[0].Amount)
		return nil
	}))
}

func addSecondGuardian(t *testing.T, st *memory.Store) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateParent(ctx, school.ParentAccount{ID: "p3", SchoolID: "sch-1", Name: "Okafor Snr", ChildrenIDs: []string{"s1"}}); err != nil {
			return err
		}
		for _, a := range []school.Assignment{
			{StudentID: "s1", ParentID: "p1", IsPrimary: true},
			{StudentID: "s2", ParentID: "p1", IsPrimary: true},
			{StudentID: "s1", ParentID: "p3"},
		} {
			if err := tx.CreateAssignment(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestFamilyGroupsWithSecondGuardian(t *testing.T) {
	svc, st := newTestService(t)
	addSecondGuardian(t, st)

	groups, err := svc.FamilyGroups(context.Background(), "sch-1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	var total school.Money
	for _, g := range groups {
		require.NotEqual(t, "p3", g.Parent.ID)
		total += g.TotalOutstandingFees
	}
	require.Equal(t, school.Money(130000+77777+90000), total)
}

func TestSecondGuardianCannotDiscountAgain(t *testing.T) {
	svc, st := newTestService(t)
	addSecondGuardian(t, st)
	ctx := context.Background()

	_, err := svc.ApplySiblingDiscount(ctx, "p1", decimal.NewFromInt(10), "bursar")
	require.NoError(t, err)
	_, err = svc.ApplySiblingDiscount(ctx, "p3", decimal.NewFromInt(10), "bursar")
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, school.Money(117000), loadStudent(t, st, "s1").OutstandingFees)
}

func TestApplySiblingDiscountValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, pct := range []int64{0, -5, 101} {
		_, err := svc.ApplySiblingDiscount(ctx, "p1", decimal.NewFromInt(pct), "x")
		require.ErrorIs(t, err, ledger.ErrInvalidPercentage)
	}
	_, err := svc.ApplySiblingDiscount(ctx, "missing", decimal.NewFromInt(5), "x")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApplyFullSiblingDiscountSettles(t *testing.T) {
	svc, st := newTestService(t)
	_, err := svc.ApplySiblingDiscount(context.Background(), "p1", decimal.NewFromInt(100), "x")
	require.NoError(t, err)
	ada := loadStudent(t, st, "s1")
	require.Equal(t, school.Money(0), ada.OutstandingFees)
	for _, f := range ada.Fees {
		require.Equal(t, school.FeeStatusPaid, f.Status)
	}
}

func TestBulkUpdateSiblings(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	class := "JSS2"
	updated, err := svc.BulkUpdateSiblings(ctx, "p1", BulkUpdate{
		Class: &class,
		Fees:  []NewFee{{Type: "excursion", Amount: 5000, DueDate: school.Date{Time: testNow.AddDate(0, 0, 10)}}},
	}, "admin")
	require.NoError(t, err)
	require.Len(t, updated, 2)

	ada := loadStudent(t, st, "s1")
	require.Equal(t, "JSS2", ada.Class)
	require.Len(t, ada.Fees, 4)
	require.Equal(t, school.Money(135000), ada.OutstandingFees)

	bola := loadStudent(t, st, "s2")
	require.Equal(t, "JSS2", bola.Class)
	require.Equal(t, school.Money(82777), bola.OutstandingFees)

	_, err = svc.BulkUpdateSiblings(ctx, "p1", BulkUpdate{}, "admin")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestBulkUpdateSiblingsIsAllOrNothing(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetParent(ctx, "p1")
		if err != nil {
			return err
		}
		p.ChildrenIDs = append(p.ChildrenIDs, "ghost")
		return tx.UpdateParent(ctx, &p)
	}))

	term := "second"
	_, err := svc.BulkUpdateSiblings(ctx, "p1", BulkUpdate{Term: &term}, "admin")
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, loadStudent(t, st, "s1").Term)
	require.Empty(t, loadStudent(t, st, "s2").Term)
}
