// Package scheduler tracks per-query date coverage and advances queries
// through uncovered date windows, oldest coverage first, within a per-run
// request budget.
package scheduler

import (
	"strings"
	"time"

	"github.com/alvmarrod/newsapi-requester/internal/storage"
)

// QuerySpec is one row of search configuration. Everything except
// CoveredThrough is fixed once loaded.
type QuerySpec struct {
	ID             string
	And            []string
	Or             []string
	Not            []string
	IncludeDomains []string
	ExcludeDomains []string

	// Origin is the earliest date the query should be requested from when it
	// has never been covered. Zero means "use the horizon".
	Origin time.Time

	// CoveredThrough is the date up to which results were already fetched.
	// Seeded once per run, then advanced in memory by the run loop.
	CoveredThrough time.Time
}

// Key returns the identity used to match the query against stored requests.
// Domain filters are not part of it.
func (q *QuerySpec) Key() storage.QueryKey {
	return storage.QueryKey{
		And: strings.Join(q.And, " "),
		Or:  strings.Join(q.Or, " "),
		Not: strings.Join(q.Not, " "),
	}
}

// String renders the query for log lines
func (q *QuerySpec) String() string {
	k := q.Key()
	return "AND " + k.And + " OR " + k.Or + " NOT " + k.Not
}

// Day truncates t to its UTC calendar date
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a calendar date as YYYY-MM-DD
func FormatDay(t time.Time) string {
	return t.Format(storage.DateLayout)
}
