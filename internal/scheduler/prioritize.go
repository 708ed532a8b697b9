package scheduler

import (
	"sort"
	"time"
)

// Candidate pairs a query with whether any request was ever recorded for it
type Candidate struct {
	Spec    *QuerySpec
	Covered bool
}

// Prioritize orders candidates so the least-covered work runs first:
// never-covered queries in input order, then covered queries ascending by
// CoveredThrough (stable). Covered queries already current through today are
// dropped.
func Prioritize(candidates []Candidate, today time.Time) []*QuerySpec {
	today = Day(today)

	var never, covered []*QuerySpec
	for _, c := range candidates {
		if !c.Covered {
			never = append(never, c.Spec)
			continue
		}
		if Day(c.Spec.CoveredThrough).Equal(today) {
			continue
		}
		covered = append(covered, c.Spec)
	}

	sort.SliceStable(covered, func(i, j int) bool {
		return covered[i].CoveredThrough.Before(covered[j].CoveredThrough)
	})

	ordered := make([]*QuerySpec, 0, len(never)+len(covered))
	ordered = append(ordered, never...)
	return append(ordered, covered...)
}
