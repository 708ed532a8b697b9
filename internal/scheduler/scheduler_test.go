package scheduler

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/alvmarrod/newsapi-requester/internal/storage"
)

type fakeHandoff struct {
	runs int
	err  error
}

func (h *fakeHandoff) Run(ctx context.Context) error {
	h.runs++
	return h.err
}

func newTestScheduler(cfg Config, finder RecordFinder, exec Executor, h Handoff) *Scheduler {
	if cfg.WindowDays == 0 {
		cfg.WindowDays = 10
	}
	if cfg.HorizonDays == 0 {
		cfg.HorizonDays = 180
	}
	return New(cfg, finder, exec, &countingPacer{}, h, quietLog())
}

func TestSchedulerBudgetRunHandsOff(t *testing.T) {
	today := date("2026-10-18")
	finder := &fakeFinder{records: map[storage.QueryKey]*storage.RequestRecord{}}
	specs := []*QuerySpec{
		{ID: "1", And: []string{"recall"}},
		{ID: "2", And: []string{"lawsuit"}},
		{ID: "3", And: []string{"outage"}},
	}
	exec := &fakeExecutor{}
	h := &fakeHandoff{}
	s := newTestScheduler(Config{SourceID: 1, Budget: 2, Now: fixedNow(today)}, finder, exec, h)

	res, err := s.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.State != StateBudgetReached || res.Steps != 2 {
		t.Fatalf("result = %+v, want budget_reached after 2 steps", res)
	}
	if h.runs != 1 {
		t.Fatalf("hand-off runs = %d, want 1", h.runs)
	}
	if !exec.calls[0].Start.Equal(today.AddDate(0, 0, -180)) {
		t.Fatalf("first window starts %s, want the horizon", FormatDay(exec.calls[0].Start))
	}
}

func TestSchedulerRateLimitedHandsOffOnce(t *testing.T) {
	today := date("2026-10-18")
	finder := &fakeFinder{records: map[storage.QueryKey]*storage.RequestRecord{}}
	var specs []*QuerySpec
	for _, term := range []string{"a", "b", "c", "d", "e"} {
		specs = append(specs, &QuerySpec{ID: term, And: []string{term}})
	}
	exec := &fakeExecutor{script: []OutcomeKind{OutcomeSuccess, OutcomeRateLimited}}
	h := &fakeHandoff{}
	s := newTestScheduler(Config{SourceID: 1, Budget: 5, Now: fixedNow(today)}, finder, exec, h)

	res, err := s.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.State != StateRateLimited {
		t.Fatalf("State = %v, want rate_limited", res.State)
	}
	if exec.records != 2 {
		t.Fatalf("records = %d, want 2", exec.records)
	}
	if h.runs != 1 {
		t.Fatalf("hand-off runs = %d, want 1", h.runs)
	}
}

func TestSchedulerIdleSkipsHandoff(t *testing.T) {
	today := date("2026-10-18")
	spec := &QuerySpec{ID: "1", And: []string{"recall"}}
	finder := &fakeFinder{records: map[storage.QueryKey]*storage.RequestRecord{
		spec.Key(): {End: today},
	}}
	exec := &fakeExecutor{}
	h := &fakeHandoff{}
	s := newTestScheduler(Config{SourceID: 1, Budget: 5, Now: fixedNow(today)}, finder, exec, h)

	res, err := s.Run(context.Background(), []*QuerySpec{spec})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.State != StateIdle {
		t.Fatalf("State = %v, want idle", res.State)
	}
	if len(exec.calls) != 0 || h.runs != 0 {
		t.Fatalf("calls = %d, hand-off runs = %d, want 0/0", len(exec.calls), h.runs)
	}
}

func TestSchedulerExhaustedAfterOneStep(t *testing.T) {
	today := date("2026-10-18")
	spec := &QuerySpec{ID: "1", And: []string{"recall"}}
	finder := &fakeFinder{records: map[storage.QueryKey]*storage.RequestRecord{
		spec.Key(): {End: today.AddDate(0, 0, -3)},
	}}
	exec := &fakeExecutor{}
	h := &fakeHandoff{}
	s := newTestScheduler(Config{SourceID: 1, Budget: 5, Now: fixedNow(today)}, finder, exec, h)

	res, err := s.Run(context.Background(), []*QuerySpec{spec})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.State != StateExhausted || res.Steps != 1 {
		t.Fatalf("result = %+v, want exhausted after 1 step", res)
	}
	if h.runs != 1 {
		t.Fatalf("hand-off runs = %d, want 1", h.runs)
	}
	w := exec.calls[0]
	if FormatDay(w.Start) != "2026-10-15" || FormatDay(w.End) != "2026-10-18" {
		t.Fatalf("window = %s, want 2026-10-15..2026-10-18", w)
	}
}

func TestSchedulerFailureSkipsHandoff(t *testing.T) {
	today := date("2026-10-18")
	finder := &fakeFinder{records: map[storage.QueryKey]*storage.RequestRecord{}}
	exec := &fakeExecutor{err: errors.New("insert failed")}
	h := &fakeHandoff{}
	s := newTestScheduler(Config{SourceID: 1, Budget: 5, Now: fixedNow(today)}, finder, exec, h)

	res, err := s.Run(context.Background(), []*QuerySpec{{ID: "1", And: []string{"recall"}}})
	if err == nil {
		t.Fatal("expected an error")
	}
	if res.State != StateFailed || h.runs != 0 {
		t.Fatalf("State = %v, hand-off runs = %d, want failed/0", res.State, h.runs)
	}
}

func TestSchedulerResolveErrorFails(t *testing.T) {
	today := date("2026-10-18")
	boom := errors.New("db down")
	h := &fakeHandoff{}
	s := newTestScheduler(Config{SourceID: 1, Budget: 5, Now: fixedNow(today)}, &fakeFinder{err: boom}, &fakeExecutor{}, h)

	res, err := s.Run(context.Background(), []*QuerySpec{{ID: "1"}})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if res.State != StateFailed || h.runs != 0 {
		t.Fatalf("State = %v, hand-off runs = %d", res.State, h.runs)
	}
}

func TestSchedulerHandoffErrorDoesNotChangeResult(t *testing.T) {
	today := date("2026-10-18")
	finder := &fakeFinder{records: map[storage.QueryKey]*storage.RequestRecord{}}
	h := &fakeHandoff{err: errors.New("exit status 2")}
	s := newTestScheduler(Config{SourceID: 1, Budget: 1, Now: fixedNow(today)}, finder, &fakeExecutor{}, h)

	res, err := s.Run(context.Background(), []*QuerySpec{{ID: "1", And: []string{"recall"}}})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.State != StateBudgetReached || h.runs != 1 {
		t.Fatalf("State = %v, hand-off runs = %d", res.State, h.runs)
	}
}

func TestPrepareSeedsOrigin(t *testing.T) {
	today := date("2026-10-18")
	finder := &fakeFinder{records: map[storage.QueryKey]*storage.RequestRecord{}}
	s := newTestScheduler(Config{SourceID: 1, Budget: 5, Now: fixedNow(today)}, finder, &fakeExecutor{}, nil)

	recent := &QuerySpec{ID: "recent", And: []string{"a"}, Origin: date("2026-10-01")}
	ancient := &QuerySpec{ID: "ancient", And: []string{"b"}, Origin: date("2020-01-01")}
	future := &QuerySpec{ID: "future", And: []string{"c"}, Origin: date("2027-01-01")}

	ordered, err := s.Prepare(context.Background(), []*QuerySpec{recent, ancient, future})
	if err != nil {
		t.Fatalf("Prepare error: %v", err)
	}
	if len(ordered) != 3 {
		t.Fatalf("ordered = %v, want all three", ids(ordered))
	}

	horizon := today.AddDate(0, 0, -180)
	if !recent.CoveredThrough.Equal(date("2026-10-01")) {
		t.Fatalf("recent seeded at %s, want its origin", FormatDay(recent.CoveredThrough))
	}
	if !ancient.CoveredThrough.Equal(horizon) {
		t.Fatalf("ancient seeded at %s, want the horizon", FormatDay(ancient.CoveredThrough))
	}
	if !future.CoveredThrough.Equal(horizon) {
		t.Fatalf("future seeded at %s, want the horizon", FormatDay(future.CoveredThrough))
	}
}

func TestPrepareFloorsAtLookback(t *testing.T) {
	today := date("2026-10-18")
	stale := &QuerySpec{ID: "stale", And: []string{"stale"}}
	fresh := &QuerySpec{ID: "fresh", And: []string{"fresh"}}
	never := &QuerySpec{ID: "never", And: []string{"never"}}
	finder := &fakeFinder{records: map[storage.QueryKey]*storage.RequestRecord{
		stale.Key(): {End: date("2026-06-01")},
		fresh.Key(): {End: date("2026-10-10")},
	}}
	s := newTestScheduler(Config{SourceID: 1, Budget: 5, LookbackDays: 29, Now: fixedNow(today)}, finder, &fakeExecutor{}, nil)

	if _, err := s.Prepare(context.Background(), []*QuerySpec{stale, fresh, never}); err != nil {
		t.Fatalf("Prepare error: %v", err)
	}

	floor := date("2026-09-19")
	if !stale.CoveredThrough.Equal(floor) {
		t.Fatalf("stale seeded at %s, want %s", FormatDay(stale.CoveredThrough), FormatDay(floor))
	}
	if !never.CoveredThrough.Equal(floor) {
		t.Fatalf("never seeded at %s, want %s", FormatDay(never.CoveredThrough), FormatDay(floor))
	}
	if !fresh.CoveredThrough.Equal(date("2026-10-10")) {
		t.Fatalf("fresh seeded at %s, want 2026-10-10", FormatDay(fresh.CoveredThrough))
	}
}

func TestResolverCoveringStatuses(t *testing.T) {
	tests := []struct {
		advanceOnMalformed bool
		want               []string
	}{
		{true, []string{storage.StatusSuccess, storage.StatusError}},
		{false, []string{storage.StatusSuccess}},
	}
	for _, tt := range tests {
		finder := &fakeFinder{records: map[storage.QueryKey]*storage.RequestRecord{}}
		s := newTestScheduler(Config{SourceID: 1, Budget: 1, AdvanceOnMalformed: tt.advanceOnMalformed, Now: fixedNow(date("2026-10-18"))}, finder, &fakeExecutor{}, nil)
		if _, err := s.Prepare(context.Background(), []*QuerySpec{{ID: "1", And: []string{"a"}}}); err != nil {
			t.Fatalf("Prepare error: %v", err)
		}
		if !reflect.DeepEqual(finder.statuses, tt.want) {
			t.Fatalf("advanceOnMalformed=%v: statuses = %v, want %v", tt.advanceOnMalformed, finder.statuses, tt.want)
		}
	}
}
