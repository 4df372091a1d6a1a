package feeconfig

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
	"github.com/schoolfees/schoolfees/internal/store/memory"
)

var testNow = time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) school.Date {
	return school.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateSchool(ctx, school.School{ID: "sch-1", Name: "Hillcrest"}); err != nil {
			return err
		}
		if err := tx.CreateSchool(ctx, school.School{ID: "sch-2", Name: "Lakeside"}); err != nil {
			return err
		}
		for _, s := range []school.Student{
			{ID: "s1", SchoolID: "sch-1", Name: "Ada", Class: "JSS1", Status: school.StudentActive},
			{ID: "s2", SchoolID: "sch-1", Name: "Bola", Class: "JSS1", Status: school.StudentActive},
			{ID: "s3", SchoolID: "sch-1", Name: "Chi", Class: "JSS1", Status: school.StudentGraduated},
			{ID: "s4", SchoolID: "sch-1", Name: "Dayo", Class: "SS2", Status: school.StudentActive},
		} {
			if err := tx.CreateStudent(ctx, s); err != nil {
				return err
			}
		}
		return nil
	}))
	engine := ledger.NewEngine(func() time.Time { return testNow })
	return NewService(st, engine, nil, nil), st
}

func seedStructure(t *testing.T, svc *Service, allowInstallments bool) school.FeeStructure {
	t.Helper()
	ctx := context.Background()
	cat, err := svc.CreateCategory(ctx, CategoryInput{SchoolID: "sch-1", Name: " Tuition ", IsCompulsory: true})
	require.NoError(t, err)
	require.Equal(t, "Tuition", cat.Name)
	st, err := svc.CreateStructure(ctx, StructureInput{
		SchoolID:          "sch-1",
		CategoryID:        cat.ID,
		ClassName:         "JSS1",
		AcademicYear:      "2023/2024",
		Amount:            150000,
		DueDate:           day(2024, 6, 1),
		AllowInstallments: allowInstallments,
	})
	require.NoError(t, err)
	require.True(t, st.IsActive)
	require.Equal(t, "NGN", st.Currency)
	require.Equal(t, school.LateFeeFixed, st.LateFeeType)
	return st
}

func TestGenerateRecordsSkipsExisting(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	structure := seedStructure(t, svc, false)

	res, err := svc.GenerateRecords(ctx, structure.ID, "bursar")
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	require.Empty(t, res.Skipped)

	again, err := svc.GenerateRecords(ctx, structure.ID, "bursar")
	require.NoError(t, err)
	require.Empty(t, again.Created)
	require.ElementsMatch(t, []string{"s1", "s2"}, again.Skipped)

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		recs, err := tx.ListFeeRecords(ctx, store.FeeRecordFilter{FeeStructureID: structure.ID})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		for _, r := range recs {
			require.Equal(t, school.Money(150000), r.OutstandingAmount)
			require.Equal(t, school.RecordStatusPending, r.PaymentStatus)
			require.True(t, r.NextDueDate.Equal(structure.DueDate))
		}
		entries, err := tx.ListLedgerEntries(ctx, store.LedgerFilter{Kind: school.EntryCharge})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		return nil
	}))
}

func TestGenerateRecordsRejectsInactive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	structure := seedStructure(t, svc, false)
	off := false
	_, err := svc.UpdateStructure(ctx, structure.ID, StructureInput{
		SchoolID:   "sch-1",
		CategoryID: structure.CategoryID,
		ClassName:  "JSS1",
		Amount:     structure.Amount,
		IsActive:   &off,
	})
	require.NoError(t, err)

	_, err = svc.GenerateRecords(ctx, structure.ID, "bursar")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteGuards(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	structure := seedStructure(t, svc, false)

	require.ErrorIs(t, svc.DeleteCategory(ctx, structure.CategoryID), ErrInUse)

	_, err := svc.GenerateRecords(ctx, structure.ID, "bursar")
	require.NoError(t, err)
	require.ErrorIs(t, svc.DeleteStructure(ctx, structure.ID), shared.ErrConflict)

	other, err := svc.CreateStructure(ctx, StructureInput{
		SchoolID: "sch-1", CategoryID: structure.CategoryID, ClassName: "SS3", Amount: 1000, DueDate: day(2024, 7, 1),
	})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteStructure(ctx, other.ID))
}

func TestCreateStructureValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	structure := seedStructure(t, svc, false)

	cases := map[string]StructureInput{
		"zero amount":  {SchoolID: "sch-1", CategoryID: structure.CategoryID, ClassName: "JSS1", DueDate: day(2024, 6, 1)},
		"no due date":  {SchoolID: "sch-1", CategoryID: structure.CategoryID, ClassName: "JSS1", Amount: 10},
		"bad type":     {SchoolID: "sch-1", CategoryID: structure.CategoryID, ClassName: "JSS1", Amount: 10, DueDate: day(2024, 6, 1), LateFeeType: "weekly"},
		"percent >100": {SchoolID: "sch-1", CategoryID: structure.CategoryID, ClassName: "JSS1", Amount: 10, DueDate: day(2024, 6, 1), LateFeePercent: 150},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateStructure(ctx, in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	_, err := svc.CreateStructure(ctx, StructureInput{SchoolID: "sch-2", CategoryID: structure.CategoryID, ClassName: "JSS1", Amount: 10, DueDate: day(2024, 6, 1)})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreatePlanValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePlan(ctx, PlanInput{SchoolID: "sch-1", Name: "Termly", InstallmentAmounts: []school.Money{100, 200}, DueDates: []school.Date{day(2024, 6, 1)}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreatePlan(ctx, PlanInput{SchoolID: "sch-1", Name: "Termly", InstallmentAmounts: []school.Money{100, 200}, DueDates: []school.Date{day(2024, 7, 1), day(2024, 6, 1)}})
	require.ErrorIs(t, err, shared.ErrValidation)

	plan, err := svc.CreatePlan(ctx, PlanInput{SchoolID: "sch-1", Name: "Termly", InstallmentAmounts: []school.Money{100, 200}, DueDates: []school.Date{day(2024, 6, 1), day(2024, 7, 1)}})
	require.NoError(t, err)
	require.Equal(t, 2, plan.NumberOfInstallments())
	require.Equal(t, school.Money(300), plan.Total())
}

func TestApplyInstallmentPlan(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	structure := seedStructure(t, svc, true)
	res, err := svc.GenerateRecords(ctx, structure.ID, "bursar")
	require.NoError(t, err)
	recordID := res.Created[0]

	plan, err := svc.CreatePlan(ctx, PlanInput{
		SchoolID:           "sch-1",
		Name:               "Three parts",
		InstallmentAmounts: []school.Money{50000, 50000, 50000},
		DueDates:           []school.Date{day(2024, 5, 1), day(2024, 6, 1), day(2024, 7, 1)},
		ProcessingFee:      2000,
	})
	require.NoError(t, err)

	sched, err := svc.ApplyInstallmentPlan(ctx, recordID, plan.ID, "bursar")
	require.NoError(t, err)
	require.Equal(t, school.Money(2000), sched.Record.LateFees)
	require.Equal(t, school.Money(152000), sched.Record.OutstandingAmount)
	require.Len(t, sched.Installments, 3)
	require.Equal(t, InstallmentOverdue, sched.Installments[0].Status)
	require.Equal(t, InstallmentPending, sched.Installments[1].Status)
	require.NotNil(t, sched.NextDue)
	require.Equal(t, 1, sched.NextDue.Number)
	require.True(t, sched.Record.NextDueDate.Equal(plan.DueDates[0]))

	_, err = svc.ApplyInstallmentPlan(ctx, recordID, plan.ID, "bursar")
	require.ErrorIs(t, err, ErrPlanAttached)

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.Posting{Engine: svc.posting.Engine}.PostRecordPayment(ctx, tx, recordID, 70000, ledger.PostingMeta{Reference: "ref-1"})
		return err
	}))

	sched, err = svc.InstallmentSchedule(ctx, recordID)
	require.NoError(t, err)
	require.Equal(t, InstallmentPaid, sched.Installments[0].Status)
	require.Equal(t, InstallmentPartial, sched.Installments[1].Status)
	require.Equal(t, school.Money(30000), sched.Installments[1].Remaining)
	require.Equal(t, 2, sched.NextDue.Number)

	require.ErrorIs(t, svc.DeletePlan(ctx, plan.ID), ErrInUse)
}

func TestApplyInstallmentPlanNotAllowed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	structure := seedStructure(t, svc, false)
	res, err := svc.GenerateRecords(ctx, structure.ID, "bursar")
	require.NoError(t, err)
	plan, err := svc.CreatePlan(ctx, PlanInput{SchoolID: "sch-1", Name: "Two", InstallmentAmounts: []school.Money{75000, 75000}, DueDates: []school.Date{day(2024, 6, 1), day(2024, 7, 1)}})
	require.NoError(t, err)

	_, err = svc.ApplyInstallmentPlan(ctx, res.Created[0], plan.ID, "bursar")
	require.ErrorIs(t, err, ErrInstallmentsNotAllowed)

	_, err = svc.InstallmentSchedule(ctx, res.Created[0])
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestBuildScheduleIgnoresSurplus(t *testing.T) {
	plan := school.InstallmentPlan{
		InstallmentAmounts: []school.Money{100, 100},
		DueDates:           []time.Time{testNow.AddDate(0, 1, 0), testNow.AddDate(0, 2, 0)},
	}
	sched := BuildSchedule(school.ParentFeeRecord{PaidAmount: 500}, plan, testNow)
	require.Equal(t, InstallmentPaid, sched.Installments[0].Status)
	require.Equal(t, InstallmentPaid, sched.Installments[1].Status)
	require.Nil(t, sched.NextDue)
}
