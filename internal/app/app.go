// Package app initializes and holds the long-lived crawl components, acting
// as the dependency container for both the CLI and the status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/propwatch/listings-crawler/internal/api"
	"github.com/propwatch/listings-crawler/internal/circuit"
	"github.com/propwatch/listings-crawler/internal/classify"
	"github.com/propwatch/listings-crawler/internal/config"
	"github.com/propwatch/listings-crawler/internal/crawler"
	collyfetcher "github.com/propwatch/listings-crawler/internal/fetcher/colly"
	"github.com/propwatch/listings-crawler/internal/fetcher/headless"
	"github.com/propwatch/listings-crawler/internal/metrics"
	"github.com/propwatch/listings-crawler/internal/orchestrator"
	"github.com/propwatch/listings-crawler/internal/progress"
	"github.com/propwatch/listings-crawler/internal/progress/sinks"
	"github.com/propwatch/listings-crawler/internal/proxy"
	"github.com/propwatch/listings-crawler/internal/ratelimit"
	"github.com/propwatch/listings-crawler/internal/report"
	"github.com/propwatch/listings-crawler/internal/retry"
	"github.com/propwatch/listings-crawler/internal/softblock"
)

// App owns one crawl run's components. Construct with New, crawl with Run,
// release browser and archive resources with Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	collector  *metrics.Collector
	classifier *classify.Classifier
	breaker    *circuit.Breaker
	pool       *proxy.Pool
	limiter    *ratelimit.Limiter
	reports    *report.Generator
	archive    *report.Archive
	hub        *progress.Hub
	registry   *prometheus.Registry
	orch       *orchestrator.Orchestrator
	headless   *headless.Fetcher
}

// New builds every component explicitly from config. It fails fast: a bad
// pattern list, an unreadable proxy file, or an unreachable archive database
// surfaces here, not mid-crawl.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()

	detector, err := softblock.New(softblock.Config{
		MinContentLength: cfg.SoftBlock.MinContentLength,
		CaptchaPatterns:  cfg.SoftBlock.CaptchaPatterns,
		BlockPatterns:    cfg.SoftBlock.BlockPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("soft block detector: %w", err)
	}

	pool, err := proxy.New(proxy.Config{
		CandidateFile:     cfg.Proxy.CandidateFile,
		ScoreFile:         cfg.Proxy.ScoreFile,
		RotatorFile:       cfg.Proxy.RotatorFile,
		SuccessMultiplier: cfg.Proxy.SuccessMultiplier,
		FailureMultiplier: cfg.Proxy.FailureMultiplier,
		MaxFailures:       cfg.Proxy.MaxFailures,
		MinScore:          cfg.Proxy.MinScore,
	}, logger.Named("proxy"))
	if err != nil {
		return nil, fmt.Errorf("proxy pool: %w", err)
	}

	breaker := circuit.New(circuit.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		Cooldown:         time.Duration(cfg.Circuit.CooldownSeconds) * time.Second,
	}, logger.Named("circuit"))

	budgets := make(map[classify.Kind]int, len(cfg.Retry.Budgets))
	for kind, n := range cfg.Retry.Budgets {
		budgets[classify.Kind(kind)] = n
	}
	classifier := classify.New(budgets)
	retrier := retry.New(classifier, retry.Config{
		BaseDelay:    time.Duration(cfg.Retry.BackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
		JitterFactor: cfg.Retry.JitterFactor,
	}, logger.Named("retry"))

	collector := metrics.NewCollector(runID, metrics.Config{
		HealthyThreshold:  cfg.Health.SuccessRateHealthy,
		DegradedThreshold: cfg.Health.SuccessRateDegraded,
	})

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")), promSink)

	var fetcher crawler.Fetcher
	var headlessFetcher *headless.Fetcher
	if cfg.Headless.Enabled {
		headlessFetcher, err = headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher: %w", err)
		}
		fetcher = headlessFetcher
	} else {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		})
	}

	reports := report.NewGenerator(report.Config{
		Thresholds: report.Thresholds{
			SuccessRate:   report.Band{Healthy: cfg.Health.SuccessRateHealthy, Degraded: cfg.Health.SuccessRateDegraded},
			ErrorRate:     report.Band{Healthy: cfg.Health.ErrorRateHealthy, Degraded: cfg.Health.ErrorRateDegraded},
			BlockRate:     report.Band{Healthy: cfg.Health.BlockRateHealthy, Degraded: cfg.Health.BlockRateDegraded},
			AvgResponseMs: report.Band{Healthy: cfg.Health.AvgResponseHealthyMs, Degraded: cfg.Health.AvgResponseDegradedMs},
		},
		TopErrorCount: cfg.Reports.TopErrorCount,
		ReportsDir:    cfg.Reports.Dir,
	}, logger.Named("report"))

	var archive *report.Archive
	if cfg.DB.DSN != "" {
		archive, err = report.NewArchive(ctx, cfg.DB.DSN, logger.Named("archive"))
		if err != nil {
			return nil, fmt.Errorf("report archive: %w", err)
		}
	}

	limiter := ratelimit.New()
	orch := orchestrator.New(orchestrator.Config{
		MinDomainInterval: cfg.DomainInterval(),
		FetchTimeout:      cfg.FetchTimeout(),
	}, orchestrator.Deps{
		RunID:      runID,
		Fetcher:    fetcher,
		Classifier: classifier,
		Retrier:    retrier,
		Detector:   detector,
		Limiter:    limiter,
		Breaker:    breaker,
		Pool:       pool,
		Metrics:    collector,
		Hub:        hub,
		Logger:     logger.Named("fetch"),
	})

	return &App{
		cfg:        cfg,
		logger:     logger,
		runID:      runID,
		collector:  collector,
		classifier: classifier,
		breaker:    breaker,
		pool:       pool,
		limiter:    limiter,
		reports:    reports,
		archive:    archive,
		hub:        hub,
		registry:   registry,
		orch:       orch,
		headless:   headlessFetcher,
	}, nil
}

// RunID identifies this crawl run.
func (a *App) RunID() string {
	return a.runID
}

// Server builds the read-only status API over the live components.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Collector: a.collector,
		Pool:      a.pool,
		Breaker:   a.breaker,
		Reports:   a.reports,
		Registry:  a.registry,
		Logger:    a.logger.Named("api"),
	})
}

// Run crawls the URL list through a fixed-size worker pool, finalizes the
// run, and produces the persisted session report.
func (a *App) Run(ctx context.Context, urls []string) (report.Report, error) {
	a.logger.Info("crawl run starting",
		zap.String("run_id", a.runID),
		zap.Int("urls", len(urls)),
		zap.Int("concurrency", a.cfg.Crawler.Concurrency))
	a.hub.Publish(progress.Event{RunID: a.runID, Stage: progress.StageRunStart})

	work := make(chan string)
	var wg sync.WaitGroup
	for range a.cfg.Crawler.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range work {
				if _, err := a.orch.FetchPage(ctx, url); err != nil {
					a.collector.RecordListingSkipped(a.skipReason(err))
					continue
				}
				a.collector.RecordListingSaved()
			}
		}()
	}

	for _, url := range urls {
		select {
		case <-ctx.Done():
			// Stop feeding; in-flight fetches drain on their own.
			close(work)
			wg.Wait()
			return a.finish()
		case work <- url:
		}
	}
	close(work)
	wg.Wait()

	return a.finish()
}

// skipReason labels a failed URL for the listings_skipped breakdown. Circuit
// fast-fails carry no classifiable transport error, so they get their own
// label instead of falling through to unknown.
func (a *App) skipReason(err error) string {
	var open *crawler.CircuitOpenError
	if errors.As(err, &open) {
		return "circuit_open"
	}
	return string(a.classifier.Classify(err).Kind)
}

// finish freezes the collector, assembles the report with proxy and circuit
// snapshots plus the historical baseline, and persists it. It runs even for
// canceled crawls, so partial runs still leave a report behind.
func (a *App) finish() (report.Report, error) {
	a.collector.Finalize()
	a.hub.Publish(progress.Event{RunID: a.runID, Stage: progress.StageRunDone})

	poolStats := a.pool.Stats()
	r := a.reports.Generate(a.collector.Snapshot(), &poolStats, a.breaker.Snapshot())

	if baseline, err := a.reports.Baseline(a.cfg.Reports.BaselineDays); err == nil && baseline != nil {
		delta := a.reports.CompareToBaseline(r, *baseline)
		r.VsBaseline = &delta
	}

	path, err := a.reports.Save(r)
	if err != nil {
		return r, fmt.Errorf("save report: %w", err)
	}
	a.logger.Info("session report written",
		zap.String("run_id", a.runID),
		zap.String("path", path),
		zap.String("health", r.Summary.HealthStatus))

	if a.archive != nil {
		archiveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.archive.Store(archiveCtx, r); err != nil {
			// Archive is a supplement; the file on disk is the source of truth.
			a.logger.Warn("report archive store failed", zap.Error(err))
		}
	}
	return r, nil
}

// Close drains the progress hub and releases browser and database handles.
func (a *App) Close() {
	a.hub.Close()
	if a.headless != nil {
		a.headless.Close()
	}
	if a.archive != nil {
		a.archive.Close()
	}
}
