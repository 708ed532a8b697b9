package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// progressEvery is how often the coverage pass logs a milestone
const progressEvery = 1000

// Handoff is the downstream process run once a run reaches a terminal state
type Handoff interface {
	Run(ctx context.Context) error
}

// Config configures a Scheduler
type Config struct {
	SourceID           int64
	WindowDays         int
	HorizonDays        int
	Budget             int
	AdvanceOnMalformed bool
	// LookbackDays is how far back the provider serves results; coverage
	// older than that is moved up to it. Zero disables the floor.
	LookbackDays int
	// Now defaults to time.Now
	Now func() time.Time
}

// Scheduler seeds coverage, prioritizes queries, drives the run loop and
// performs the downstream hand-off
type Scheduler struct {
	cfg      Config
	resolver *Resolver
	loop     *Loop
	handoff  Handoff
	log      *logrus.Entry
}

// New creates a Scheduler
func New(cfg Config, finder RecordFinder, exec Executor, pacer Pacer, handoff Handoff, log *logrus.Entry) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	loop := NewLoop(LoopConfig{
		WindowDays:         cfg.WindowDays,
		Budget:             cfg.Budget,
		AdvanceOnMalformed: cfg.AdvanceOnMalformed,
	}, exec, pacer, cfg.Now, log)

	return &Scheduler{
		cfg:      cfg,
		resolver: NewResolver(finder, cfg.SourceID, cfg.HorizonDays, CoveringStatuses(cfg.AdvanceOnMalformed)...),
		loop:     loop,
		handoff:  handoff,
		log:      log,
	}
}

// OnStep registers a per-step callback on the underlying loop
func (s *Scheduler) OnStep(fn func(StepReport)) {
	s.loop.OnStep(fn)
}

// Prepare resolves coverage for every spec and returns them in priority order
func (s *Scheduler) Prepare(ctx context.Context, specs []*QuerySpec) ([]*QuerySpec, error) {
	today := Day(s.cfg.Now())

	s.log.Info("Resolving coverage for each query, this could take a while...")
	candidates := make([]Candidate, 0, len(specs))
	for i, spec := range specs {
		cov, err := s.resolver.Resolve(ctx, spec, today)
		if err != nil {
			return nil, err
		}

		spec.CoveredThrough = cov.Through
		if !cov.Found && !spec.Origin.IsZero() {
			origin := Day(spec.Origin)
			if origin.After(cov.Through) && !origin.After(today) {
				spec.CoveredThrough = origin
			}
		}
		if floor, ok := s.lookbackFloor(today); ok && spec.CoveredThrough.Before(floor) {
			spec.CoveredThrough = floor
		}
		candidates = append(candidates, Candidate{Spec: spec, Covered: cov.Found})

		if i%progressEvery == 0 {
			s.log.Infof("%d of %d queries resolved", i, len(specs))
		}
	}
	s.log.Info("Finished resolving coverage")

	return Prioritize(candidates, today), nil
}

// lookbackFloor is the oldest date the provider still serves
func (s *Scheduler) lookbackFloor(today time.Time) (time.Time, bool) {
	if s.cfg.LookbackDays <= 0 {
		return time.Time{}, false
	}
	return today.AddDate(0, 0, -s.cfg.LookbackDays), true
}

// Run executes one scheduling run over specs. The hand-off is invoked exactly
// once when the run ends exhausted, on budget, or rate limited; its failure is
// logged and does not change the result.
func (s *Scheduler) Run(ctx context.Context, specs []*QuerySpec) (Result, error) {
	ordered, err := s.Prepare(ctx, specs)
	if err != nil {
		return Result{State: StateFailed}, fmt.Errorf("prepare queries: %w", err)
	}
	if len(ordered) == 0 {
		s.log.Info("No queries need requesting, nothing to do")
		return Result{State: StateIdle}, nil
	}

	s.log.Infof("Starting run over %d prioritized queries (budget %d)", len(ordered), s.cfg.Budget)
	res, err := s.loop.Run(ctx, ordered)
	if err != nil {
		return res, err
	}

	if res.State.HandsOff() {
		s.runHandoff(ctx)
	}
	return res, nil
}

func (s *Scheduler) runHandoff(ctx context.Context) {
	if s.handoff == nil {
		s.log.Warn("No downstream hand-off configured, skipping")
		return
	}
	s.log.Info("Starting downstream hand-off")
	if err := s.handoff.Run(ctx); err != nil {
		s.log.Errorf("Downstream hand-off finished with error: %v", err)
		return
	}
	s.log.Info("Downstream hand-off finished")
}
