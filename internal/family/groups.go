// Package family derives per-parent views over students and applies operations to all
// children of one parent at once.
package family

import (
	"slices"

	"github.com/schoolfees/schoolfees/internal/school"
)

// DefaultDiscountThreshold is 100,000 NGN in kobo.
const DefaultDiscountThreshold school.Money = 10_000_000

// ParentSummary is the contact part of a parent account.
type ParentSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Child is one student within a family group.
type Child struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Class           string           `json:"class"`
	OutstandingFees school.Money     `json:"outstanding_fees"`
	DebtRisk        school.RiskLevel `json:"debt_risk"`
}

// Group is one parent with every child assigned to them.
type Group struct {
	Parent                 ParentSummary `json:"parent"`
	Children               []Child       `json:"children"`
	TotalOutstandingFees   school.Money  `json:"total_outstanding_fees"`
	FamilyDiscountEligible bool          `json:"family_discount_eligible"`
}

// Eligible reports whether a family qualifies for a sibling discount.
func Eligible(children int, outstanding, threshold school.Money) bool {
	return children >= 2 && outstanding > threshold
}

// FamilyOf maps each listed student to the one parent whose family it belongs to: its
// primary guardian when that parent lists it, otherwise the first parent in input order
// that lists it. A student shared by several guardians is therefore counted once.
func FamilyOf(parents []school.ParentAccount, assignments []school.Assignment) map[string]string {
	lists := make(map[string]school.ParentAccount, len(parents))
	for _, p := range parents {
		lists[p.ID] = p
	}
	head := make(map[string]string)
	for _, a := range assignments {
		if !a.IsPrimary {
			continue
		}
		if p, ok := lists[a.ParentID]; ok && p.HasChild(a.StudentID) {
			head[a.StudentID] = a.ParentID
		}
	}
	for _, p := range parents {
		for _, id := range p.ChildrenIDs {
			if _, ok := head[id]; !ok {
				head[id] = p.ID
			}
		}
	}
	return head
}

// BuildFamilyGroups groups students under the parent heading their family (see
// FamilyOf). Parents heading no matching student are left out. Groups are ordered by
// child count, largest first, keeping input order between equals.
func BuildFamilyGroups(parents []school.ParentAccount, students []school.Student, assignments []school.Assignment, threshold school.Money) []Group {
	byID := make(map[string]school.Student, len(students))
	for _, s := range students {
		byID[s.ID] = s
	}
	head := FamilyOf(parents, assignments)
	groups := make([]Group, 0, len(parents))
	for _, p := range parents {
		g := Group{
			Parent: ParentSummary{ID: p.ID, Name: p.Name, Email: p.Email, Phone: p.Phone},
		}
		for _, id := range p.ChildrenIDs {
			s, ok := byID[id]
			if !ok || head[id] != p.ID {
				continue
			}
			g.Children = append(g.Children, Child{
				ID:              s.ID,
				Name:            s.Name,
				Class:           s.Class,
				OutstandingFees: s.OutstandingFees,
				DebtRisk:        s.DebtRisk,
			})
			g.TotalOutstandingFees += s.OutstandingFees
		}
		if len(g.Children) == 0 {
			continue
		}
		g.FamilyDiscountEligible = Eligible(len(g.Children), g.TotalOutstandingFees, threshold)
		groups = append(groups, g)
	}
	slices.SortStableFunc(groups, func(a, b Group) int {
		return len(b.Children) - len(a.Children)
	})
	return groups
}

// split divides total across weights in proportion, rounding each share down and giving
// the remainder to the largest weight.
func split(total school.Money, weights []school.Money) []school.Money {
	out := make([]school.Money, len(weights))
	var sum school.Money
	largest := -1
	for i, w := range weights {
		sum += w
		if largest < 0 || w > weights[largest] {
			largest = i
		}
	}
	if sum <= 0 || total <= 0 {
		return out
	}
	var given school.Money
	for i, w := range weights {
		out[i] = total.Scale(w, sum)
		given += out[i]
	}
	out[largest] += total - given
	return out
}
