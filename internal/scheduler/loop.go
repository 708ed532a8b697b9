package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMissingCoverage means a query reached the run loop without a coverage
// date. The run stops without hand-off.
var ErrMissingCoverage = errors.New("query has no coverage date")

// State is a run loop state
type State int

const (
	StateIdle State = iota
	StateStepping
	StateExhausted
	StateBudgetReached
	StateRateLimited
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStepping:
		return "stepping"
	case StateExhausted:
		return "exhausted"
	case StateBudgetReached:
		return "budget_reached"
	case StateRateLimited:
		return "rate_limited"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HandsOff reports whether the downstream hand-off runs after this state
func (s State) HandsOff() bool {
	return s == StateExhausted || s == StateBudgetReached || s == StateRateLimited
}

// OutcomeKind classifies one executed request
type OutcomeKind int

const (
	// OutcomeSuccess: the provider returned a result list
	OutcomeSuccess OutcomeKind = iota
	// OutcomeMalformed: the provider answered without a usable result list
	OutcomeMalformed
	// OutcomeRateLimited: the provider signalled its quota is exhausted
	OutcomeRateLimited
	// OutcomeTransportError: no response (network failure or timeout)
	OutcomeTransportError
	// OutcomeDryRun: outbound requests are disabled, nothing was sent
	OutcomeDryRun
	// OutcomeSkipped: the window is older than the provider serves
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeDryRun:
		return "dry_run"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the classified result of one request
type Outcome struct {
	Kind      OutcomeKind
	RecordID  int64
	Received  int
	Available int
	Saved     int
	Elapsed   time.Duration
	Err       error
}

// Executor issues exactly one request for a window. A returned error is an
// infrastructure failure (e.g. the request could not be recorded) and stops
// the run; provider and network problems are reported through Outcome.
type Executor interface {
	Execute(ctx context.Context, spec *QuerySpec, w Window) (Outcome, error)
}

// StepReport describes one completed step, for metrics
type StepReport struct {
	Step      int
	Index     int
	Spec      *QuerySpec
	Window    Window
	Requested bool
	Outcome   Outcome
}

// LoopConfig holds the run loop parameters
type LoopConfig struct {
	WindowDays         int
	Budget             int
	AdvanceOnMalformed bool
}

// Result is how a run ended. Scheduled is the length of the prioritized
// list the loop walked.
type Result struct {
	State     State
	Steps     int
	Requests  int
	Scheduled int
}

// Loop walks a prioritized query list cyclically, one step at a time
type Loop struct {
	cfg     LoopConfig
	exec    Executor
	pacer   Pacer
	now     func() time.Time
	log     *logrus.Entry
	observe func(StepReport)
}

// NewLoop creates a run loop. now defaults to time.Now and log to the
// standard logger.
func NewLoop(cfg LoopConfig, exec Executor, pacer Pacer, now func() time.Time, log *logrus.Entry) *Loop {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{cfg: cfg, exec: exec, pacer: pacer, now: now, log: log}
}

// OnStep registers a callback invoked after every completed step
func (l *Loop) OnStep(fn func(StepReport)) {
	l.observe = fn
}

// Run steps through ordered until it is exhausted, the budget is spent, the
// provider rate-limits us, or a step fails. An empty list never starts.
func (l *Loop) Run(ctx context.Context, ordered []*QuerySpec) (Result, error) {
	res := Result{State: StateIdle, Scheduled: len(ordered)}
	if len(ordered) == 0 {
		return res, nil
	}
	res.State = StateStepping

	index := 0
	for {
		spec := ordered[index]
		if spec.CoveredThrough.IsZero() {
			res.State = StateFailed
			return res, fmt.Errorf("%w: query %s at index %d (step %d)", ErrMissingCoverage, spec.ID, index, res.Steps)
		}

		today := Day(l.now())
		report := StepReport{Step: res.Steps, Index: index, Spec: spec}
		log := l.log.WithFields(logrus.Fields{"step": res.Steps, "query_id": spec.ID})
		log.Infof("Processing query %s", spec)

		if !spec.CoveredThrough.After(today) {
			w, ok := NextWindow(spec.CoveredThrough, today, l.cfg.WindowDays)
			if !ok {
				log.Debugf("Query already current through %s, no request needed", FormatDay(today))
			} else {
				report.Window = w
				report.Requested = true

				outcome, err := l.exec.Execute(ctx, spec, w)
				report.Outcome = outcome
				res.Requests++
				if err != nil {
					res.State = StateFailed
					return res, fmt.Errorf("execute query %s window %s: %w", spec.ID, w, err)
				}

				switch outcome.Kind {
				case OutcomeSuccess, OutcomeDryRun, OutcomeSkipped:
					spec.CoveredThrough = w.End
				case OutcomeMalformed:
					if l.cfg.AdvanceOnMalformed {
						spec.CoveredThrough = w.End
					} else {
						log.Warnf("Malformed response for window %s, coverage left at %s", w, FormatDay(spec.CoveredThrough))
					}
				case OutcomeTransportError:
					log.Warnf("Request for window %s failed, will retry later: %v", w, outcome.Err)
				case OutcomeRateLimited:
					res.Steps++
					l.emit(report)
					res.State = StateRateLimited
					log.Errorf("Rate limited by provider on window %s, ending run", w)
					return res, nil
				}
				log.Infof("Covered through: %s", FormatDay(spec.CoveredThrough))
			}
		}

		// Pace every step, including the ones that made no request.
		if err := l.pacer.Wait(ctx); err != nil {
			res.State = StateFailed
			return res, fmt.Errorf("pacing wait: %w", err)
		}

		index++
		res.Steps++
		l.emit(report)

		if res.Steps == l.cfg.Budget {
			res.State = StateBudgetReached
			l.log.Infof("Went through %d steps, budget reached", res.Steps)
			return res, nil
		}

		if index == len(ordered) {
			if Day(spec.CoveredThrough).Equal(today) {
				res.State = StateExhausted
				l.log.Infof("All %d queries covered through %s", len(ordered), FormatDay(today))
				return res, nil
			}
			l.log.Infof("Went through all %d queries and coverage is not current, restarting from the top", len(ordered))
			index = 0
		}
	}
}

func (l *Loop) emit(r StepReport) {
	if l.observe != nil {
		l.observe(r)
	}
}
