package guardians

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
	"github.com/schoolfees/schoolfees/internal/store/memory"
)

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func newTestService(t *testing.T) (*Service, *memory.Store, *recordingAudit) {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, sch := range []string{"sch-1", "sch-2"} {
			if err := tx.CreateSchool(ctx, school.School{ID: sch, Name: sch}); err != nil {
				return err
			}
		}
		for _, s := range []school.Student{
			{ID: "stu-1", SchoolID: "sch-1", Name: "Ada"},
			{ID: "stu-2", SchoolID: "sch-1", Name: "Bola"},
			{ID: "stu-x", SchoolID: "sch-2", Name: "Chi"},
		} {
			if err := tx.CreateStudent(ctx, s); err != nil {
				return err
			}
		}
		return nil
	}))
	audit := &recordingAudit{}
	svc := NewService(st, audit, nil)
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}
	return svc, st, audit
}

func createParent(t *testing.T, svc *Service, name string) school.ParentAccount {
	t.Helper()
	p, err := svc.CreateParentAccount(context.Background(), CreateParentInput{SchoolID: "sch-1", Name: name, Email: name + "@example.com"})
	require.NoError(t, err)
	return p
}

func requireSymmetric(t *testing.T, st *memory.Store) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		parents, err := tx.ListParents(ctx, "")
		require.NoError(t, err)
		links, err := tx.ListAssignments(ctx, store.AssignmentFilter{})
		require.NoError(t, err)
		pairs := map[[2]string]bool{}
		for _, l := range links {
			pairs[[2]string{l.StudentID, l.ParentID}] = true
		}
		count := 0
		for _, p := range parents {
			for _, c := range p.ChildrenIDs {
				require.True(t, pairs[[2]string{c, p.ID}], "child %s of %s has no assignment", c, p.ID)
				stu, err := tx.GetStudent(ctx, c)
				require.NoError(t, err)
				require.Contains(t, stu.ParentIDs, p.ID)
				count++
			}
		}
		require.Equal(t, len(links), count)
		return nil
	}))
}

func TestAssignAndUnassign(t *testing.T) {
	svc, st, audit := newTestService(t)
	ctx := context.Background()
	mum := createParent(t, svc, "mum")
	dad := createParent(t, svc, "dad")

	link, err := svc.Assign(ctx, AssignInput{StudentID: "stu-1", ParentID: mum.ID, Relationship: school.RelationshipMother, Actor: "admin"})
	require.NoError(t, err)
	require.True(t, link.IsPrimary)
	require.Equal(t, "admin", link.AssignedBy)

	link, err = svc.Assign(ctx, AssignInput{StudentID: "stu-1", ParentID: dad.ID, Relationship: school.RelationshipFather})
	require.NoError(t, err)
	require.False(t, link.IsPrimary)

	_, err = svc.Assign(ctx, AssignInput{StudentID: "stu-2", ParentID: mum.ID})
	require.NoError(t, err)
	requireSymmetric(t, st)

	_, err = svc.Assign(ctx, AssignInput{StudentID: "stu-1", ParentID: mum.ID})
	require.ErrorIs(t, err, ErrDuplicateAssignment)
	require.ErrorIs(t, err, shared.ErrConflict)

	children, err := svc.ChildrenOf(ctx, mum.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, "stu-1", children[0].ID)

	require.NoError(t, svc.Unassign(ctx, "stu-1", mum.ID, "admin"))
	requireSymmetric(t, st)

	guardians, err := svc.GuardiansOf(ctx, "stu-1")
	require.NoError(t, err)
	require.Len(t, guardians, 1)
	require.Equal(t, dad.ID, guardians[0].Parent.ID)
	require.True(t, guardians[0].Assignment.IsPrimary)

	err = svc.Unassign(ctx, "stu-1", mum.ID, "admin")
	require.ErrorIs(t, err, ErrNotAssigned)
	require.Equal(t, []string{"guardians.assign", "guardians.assign", "guardians.assign", "guardians.unassign"}, audit.actions)
}

func TestAssignReferentialIntegrity(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mum := createParent(t, svc, "mum")

	_, err := svc.Assign(ctx, AssignInput{StudentID: "missing", ParentID: mum.ID})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Assign(ctx, AssignInput{StudentID: "stu-1", ParentID: "missing"})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Assign(ctx, AssignInput{StudentID: "stu-x", ParentID: mum.ID})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Assign(ctx, AssignInput{StudentID: "stu-1", ParentID: mum.ID, Relationship: "uncle"})
	require.ErrorIs(t, err, ErrInvalidRelationship)
}

func TestSetPrimary(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mum := createParent(t, svc, "mum")
	dad := createParent(t, svc, "dad")
	_, err := svc.Assign(ctx, AssignInput{StudentID: "stu-1", ParentID: mum.ID})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, AssignInput{StudentID: "stu-1", ParentID: dad.ID})
	require.NoError(t, err)

	require.NoError(t, svc.SetPrimary(ctx, "stu-1", dad.ID, "admin"))
	guardians, err := svc.GuardiansOf(ctx, "stu-1")
	require.NoError(t, err)
	require.Equal(t, dad.ID, guardians[0].Parent.ID)
	require.True(t, guardians[0].Assignment.IsPrimary)
	require.False(t, guardians[1].Assignment.IsPrimary)

	require.ErrorIs(t, svc.SetPrimary(ctx, "stu-2", dad.ID, "admin"), ErrNotAssigned)
}

func TestDeleteParentKeepsStudents(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	mum := createParent(t, svc, "mum")
	dad := createParent(t, svc, "dad")
	for _, stu := range []string{"stu-1", "stu-2"} {
		_, err := svc.Assign(ctx, AssignInput{StudentID: stu, ParentID: mum.ID})
		require.NoError(t, err)
	}
	_, err := svc.Assign(ctx, AssignInput{StudentID: "stu-1", ParentID: dad.ID})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteParentAccount(ctx, mum.ID, "admin"))
	_, err = svc.GetParentAccount(ctx, mum.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	requireSymmetric(t, st)

	guardians, err := svc.GuardiansOf(ctx, "stu-1")
	require.NoError(t, err)
	require.Len(t, guardians, 1)
	require.True(t, guardians[0].Assignment.IsPrimary)

	guardians, err = svc.GuardiansOf(ctx, "stu-2")
	require.NoError(t, err)
	require.Empty(t, guardians)
}

func TestParentAccountCRUD(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateParentAccount(ctx, CreateParentInput{SchoolID: "sch-1", Name: "x", Email: "not-an-email"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateParentAccount(ctx, CreateParentInput{SchoolID: "nope", Name: "x", Email: "x@example.com"})
	require.ErrorIs(t, err, shared.ErrNotFound)

	p, err := svc.CreateParentAccount(ctx, CreateParentInput{SchoolID: "sch-1", Name: " Ngozi ", Email: "Ngozi@Example.com"})
	require.NoError(t, err)
	require.Equal(t, "Ngozi", p.Name)
	require.Equal(t, "ngozi@example.com", p.Email)

	phone := "0803"
	updated, err := svc.UpdateParentAccount(ctx, p.ID, UpdateParentInput{Phone: &phone})
	require.NoError(t, err)
	require.Equal(t, "0803", updated.Phone)
	require.Equal(t, "Ngozi", updated.Name)

	list, err := svc.ListParentAccounts(ctx, "sch-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = svc.ListParentAccounts(ctx, "sch-2")
	require.NoError(t, err)
	require.Empty(t, list)
}
