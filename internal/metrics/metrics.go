package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/newsapi-requester/internal/scheduler"
	"github.com/alvmarrod/newsapi-requester/internal/storage"
)

// Tracker holds and manages run metrics
type Tracker struct {
	mu               sync.Mutex
	data             storage.RunSummary
	totalFetchTimeMs int64
	fetchCount       int
}

// NewTracker creates a new metrics tracker for runID
func NewTracker(runID string) *Tracker {
	return &Tracker{
		data: storage.RunSummary{
			RunID:     runID,
			StartTime: time.Now(),
		},
	}
}

// SetQueries records how many queries were loaded and how many were
// scheduled after prioritization
func (t *Tracker) SetQueries(loaded, scheduled int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.QueriesLoaded = loaded
	t.data.QueriesScheduled = scheduled
}

// Observe folds one completed run loop step into the totals
func (t *Tracker) Observe(r scheduler.StepReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Steps++
	if !r.Requested {
		t.data.NoOpSteps++
		return
	}

	switch r.Outcome.Kind {
	case scheduler.OutcomeDryRun, scheduler.OutcomeSkipped:
		return
	case scheduler.OutcomeTransportError:
		t.data.TransportErrors++
	case scheduler.OutcomeMalformed:
		t.data.MalformedResponses++
	}

	t.data.RequestsIssued++
	t.data.ArticlesReceived += r.Outcome.Received
	t.data.ArticlesSaved += r.Outcome.Saved
	t.totalFetchTimeMs += r.Outcome.Elapsed.Milliseconds()
	t.fetchCount++
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.RunSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs

	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	return snapshot
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Finalize metrics
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.data.TotalFetchTimeMs = t.totalFetchTimeMs

	if t.fetchCount > 0 {
		t.data.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	jsonData, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress returns a one-line summary for periodic progress logs
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Steps: %d (%d no-op) | Requests: %d, %d transport errors, %d malformed | Articles: %d received, %d saved",
		t.data.Steps,
		t.data.NoOpSteps,
		t.data.RequestsIssued,
		t.data.TransportErrors,
		t.data.MalformedResponses,
		t.data.ArticlesReceived,
		t.data.ArticlesSaved,
	)
}
