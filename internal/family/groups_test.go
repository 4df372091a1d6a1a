package family

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schoolfees/schoolfees/internal/school"
)

func TestBuildFamilyGroups(t *testing.T) {
	students := []school.Student{
		{ID: "s1", Name: "Ada", OutstandingFees: 6_000_000},
		{ID: "s2", Name: "Bola", OutstandingFees: 5_000_000},
		{ID: "s3", Name: "Chi", OutstandingFees: 100},
		{ID: "s4", Name: "Dayo", OutstandingFees: 300},
		{ID: "s5", Name: "Orphan", OutstandingFees: 999},
	}
	parents := []school.ParentAccount{
		{ID: "p-single", Name: "Single", ChildrenIDs: []string{"s3"}},
		{ID: "p-empty", Name: "Empty", ChildrenIDs: []string{"ghost"}},
		{ID: "p-big", Name: "Big", ChildrenIDs: []string{"s1", "s2"}},
		{ID: "p-small", Name: "Small", ChildrenIDs: []string{"s4"}},
	}

	groups := BuildFamilyGroups(parents, students, nil, DefaultDiscountThreshold)
	require.Len(t, groups, 3)
	require.Equal(t, "p-big", groups[0].Parent.ID)
	require.Equal(t, school.Money(11_000_000), groups[0].TotalOutstandingFees)
	require.True(t, groups[0].FamilyDiscountEligible)
	require.Equal(t, "p-single", groups[1].Parent.ID)
	require.Equal(t, "p-small", groups[2].Parent.ID)
	require.False(t, groups[1].FamilyDiscountEligible)

	var total, assigned school.Money
	for _, g := range groups {
		total += g.TotalOutstandingFees
	}
	for _, s := range students[:4] {
		assigned += s.OutstandingFees
	}
	require.Equal(t, assigned, total)
}

func TestBuildFamilyGroupsCountsSharedChildOnce(t *testing.T) {
	students := []school.Student{
		{ID: "s1", OutstandingFees: 1000},
		{ID: "s2", OutstandingFees: 500},
	}
	mum := school.ParentAccount{ID: "mum", ChildrenIDs: []string{"s1", "s2"}}
	dad := school.ParentAccount{ID: "dad", ChildrenIDs: []string{"s1"}}

	cases := []struct {
		name        string
		assignments []school.Assignment
		want        map[string]school.Money
	}{
		{
			name:        "first listing parent without assignments",
			assignments: nil,
			want:        map[string]school.Money{"mum": 1500},
		},
		{
			name: "primary guardian keeps the shared child",
			assignments: []school.Assignment{
				{StudentID: "s1", ParentID: "dad", IsPrimary: true},
				{StudentID: "s1", ParentID: "mum"},
				{StudentID: "s2", ParentID: "mum", IsPrimary: true},
			},
			want: map[string]school.Money{"mum": 500, "dad": 1000},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			groups := BuildFamilyGroups([]school.ParentAccount{mum, dad}, students, tc.assignments, 0)
			got := map[string]school.Money{}
			var total school.Money
			for _, g := range groups {
				got[g.Parent.ID] = g.TotalOutstandingFees
				total += g.TotalOutstandingFees
			}
			require.Equal(t, tc.want, got)
			require.Equal(t, school.Money(1500), total)
		})
	}
}

func TestEligibility(t *testing.T) {
	require.False(t, Eligible(1, 50_000_000, DefaultDiscountThreshold))
	require.False(t, Eligible(2, DefaultDiscountThreshold, DefaultDiscountThreshold))
	require.True(t, Eligible(2, DefaultDiscountThreshold+1, DefaultDiscountThreshold))
}

func TestSplit(t *testing.T) {
	shares := split(1000, []school.Money{1, 1, 1})
	require.Equal(t, []school.Money{334, 333, 333}, shares)

	shares = split(10, []school.Money{30, 70})
	require.Equal(t, []school.Money{3, 7}, shares)

	require.Equal(t, []school.Money{0, 0}, split(10, []school.Money{0, 0}))
	require.Empty(t, split(10, nil))
}
