package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/alvmarrod/newsapi-requester/internal/storage"
)

// RecordFinder looks up the most recent request stored for a query
type RecordFinder interface {
	FindLatestRecord(ctx context.Context, sourceID int64, key storage.QueryKey, statuses ...string) (*storage.RequestRecord, error)
}

// Coverage is how far a query has been fetched. Found is false when no
// request was ever recorded for it, in which case Through is the horizon.
type Coverage struct {
	Through time.Time
	Found   bool
}

// Resolver derives a query's coverage from stored requests
type Resolver struct {
	finder      RecordFinder
	sourceID    int64
	horizonDays int
	statuses    []string
}

// NewResolver creates a resolver for one source. When statuses are given,
// only requests stored with one of them count as coverage.
func NewResolver(finder RecordFinder, sourceID int64, horizonDays int, statuses ...string) *Resolver {
	return &Resolver{finder: finder, sourceID: sourceID, horizonDays: horizonDays, statuses: statuses}
}

// CoveringStatuses returns the request statuses that advance coverage.
// Rate-limited requests never do; malformed ones only under advanceOnMalformed.
func CoveringStatuses(advanceOnMalformed bool) []string {
	if advanceOnMalformed {
		return []string{storage.StatusSuccess, storage.StatusError}
	}
	return []string{storage.StatusSuccess}
}

// Horizon is the default look-back date for never-requested queries
func (r *Resolver) Horizon(today time.Time) time.Time {
	return Day(today).AddDate(0, 0, -r.horizonDays)
}

// Resolve returns the end date of the latest request matching spec, or the
// horizon if there is none
func (r *Resolver) Resolve(ctx context.Context, spec *QuerySpec, today time.Time) (Coverage, error) {
	rec, err := r.finder.FindLatestRecord(ctx, r.sourceID, spec.Key(), r.statuses...)
	if err != nil {
		return Coverage{}, fmt.Errorf("resolve coverage for query %s: %w", spec.ID, err)
	}
	if rec == nil {
		return Coverage{Through: r.Horizon(today)}, nil
	}
	return Coverage{Through: Day(rec.End), Found: true}, nil
}
