package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/newsapi-requester/internal/config"
	"github.com/alvmarrod/newsapi-requester/internal/guardrail"
	"github.com/alvmarrod/newsapi-requester/internal/handoff"
	"github.com/alvmarrod/newsapi-requester/internal/logging"
	"github.com/alvmarrod/newsapi-requester/internal/metrics"
	"github.com/alvmarrod/newsapi-requester/internal/queries"
	"github.com/alvmarrod/newsapi-requester/internal/requester"
	"github.com/alvmarrod/newsapi-requester/internal/scheduler"
	"github.com/alvmarrod/newsapi-requester/internal/storage"
	"github.com/alvmarrod/newsapi-requester/internal/version"
)

// progressInterval is how often the progress line is logged during a run
const progressInterval = 10 * time.Second

func main() {
	runAnyway := flag.Bool("run-anyway", false, "bypass the time-of-day guardrail")
	configPath := flag.String("config", "config.json", "path to the JSON or YAML configuration file")
	flag.Parse()

	// Configure logging until the config says otherwise
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	closer, err := logging.Setup(cfg)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}

	code := run(cfg, *runAnyway)
	closer.Close()
	os.Exit(code)
}

func run(cfg *config.Config, runAnyway bool) int {
	runID := uuid.NewString()
	log := logrus.WithField("run_id", runID)

	log.Infof("%s v%s starting (environment=%s)", cfg.AppName, version.Version, cfg.Environment)

	if !checkGuardrail(cfg, runAnyway, log) {
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Errorf("Failed to initialize storage: %v", err)
		return 1
	}
	defer store.Close()
	log.Infof("Database initialized (%s)", cfg.Database.Driver)

	if cfg.Source.BaseURL != "" && cfg.Source.APIKey != "" {
		if _, err := store.UpsertSource(ctx, cfg.Source.Name, cfg.Source.APIKey, cfg.Source.BaseURL); err != nil {
			log.Errorf("Failed to register source %s: %v", cfg.Source.Name, err)
			return 1
		}
	}
	source, err := store.FindSourceConfig(ctx, cfg.Source.Name)
	if err != nil {
		log.Errorf("Failed to load source configuration: %v", err)
		return 1
	}
	if n, err := store.CountRecords(ctx, source.ID); err == nil {
		log.Infof("Requesting from %s (source_id=%d, %d requests on record)", source.Name, source.ID, n)
	} else {
		log.Warnf("Failed to count stored requests: %v", err)
	}
	if !*cfg.ActivateAPIRequests {
		log.Warn("Outbound API requests are disabled, running dry")
	}

	specs := queries.Load(cfg.QuerySpreadsheetPath)

	tracker := metrics.NewTracker(runID)
	exec := requester.New(requester.Config{
		Source:       *source,
		Language:     cfg.Language,
		Timeout:      cfg.RequestTimeout(),
		LookbackDays: cfg.ProviderLookbackDays,
		Activate:     *cfg.ActivateAPIRequests,
		ResponsesDir: cfg.ResponsesDir,
		UserAgent:    cfg.AppName + "/" + version.Version,
	}, store, log)

	hand := handoff.New(cfg.Handoff.Command, cfg.HandoffTimeout(), log)
	hand.Dir = cfg.Handoff.Dir

	sched := scheduler.New(scheduler.Config{
		SourceID:           source.ID,
		WindowDays:         cfg.WindowDays,
		HorizonDays:        cfg.HorizonDays,
		Budget:             cfg.RequestBudget,
		AdvanceOnMalformed: *cfg.AdvanceOnMalformed,
		LookbackDays:       cfg.ProviderLookbackDays,
	}, store, exec, scheduler.NewRatePacer(cfg.PacingDelay()), hand, log)
	sched.OnStep(tracker.Observe)

	// Start progress logger
	var wg sync.WaitGroup
	stopProgress := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				log.Info(tracker.LogProgress())
			case <-stopProgress:
				return
			}
		}
	}()

	res, runErr := sched.Run(ctx, specs)

	close(stopProgress)
	wg.Wait()

	tracker.SetQueries(len(specs), res.Scheduled)
	reason := res.State.String()
	if runErr != nil && errors.Is(ctx.Err(), context.Canceled) {
		reason = "signal"
	}

	log.Info("Final stats: " + tracker.LogProgress())
	if n, err := store.CountArticles(context.Background()); err == nil {
		log.Infof("%d articles stored in total", n)
	}
	if err := tracker.WriteToFile(cfg.MetricsPath, reason); err != nil {
		log.Errorf("Failed to write metrics: %v", err)
	} else {
		log.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	if runErr != nil {
		log.Errorf("Run failed after %d steps: %v", res.Steps, runErr)
		return 1
	}
	return exitCode(res.State)
}

// checkGuardrail reports whether the run may proceed at the current time
func checkGuardrail(cfg *config.Config, runAnyway bool, log *logrus.Entry) bool {
	if runAnyway {
		log.Warn("TIME GUARDRAIL BYPASSED: -run-anyway flag set, running outside the configured time window")
		return true
	}

	gate, err := guardrail.New(cfg.Guardrail.Target, *cfg.Guardrail.WindowMinutes)
	if err != nil {
		log.Errorf("Invalid guardrail configuration: %v", err)
		return false
	}

	d := gate.Check(time.Now())
	if !d.InWindow {
		log.Errorf("TIME GUARDRAIL VIOLATION: current UTC time %s is outside the configured window %s - %s", d.Current, d.Start, d.End)
		log.Errorf("Configured target: %s UTC ± %d minutes", gate.Target(), *cfg.Guardrail.WindowMinutes)
		log.Error("To run anyway, pass -run-anyway")
		return false
	}

	log.Infof("TIME GUARDRAIL PASSED: current UTC time is within the configured window (%s - %s)", d.Start, d.End)
	return true
}

func exitCode(state scheduler.State) int {
	switch state {
	case scheduler.StateExhausted, scheduler.StateBudgetReached, scheduler.StateIdle:
		return 0
	default:
		return 1
	}
}
