// Package orchestrator drives the per-URL fetch control loop: circuit check,
// rate limit, proxy selection, fetch, soft-block validation, classification,
// retry, and outcome recording.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/propwatch/listings-crawler/internal/circuit"
	"github.com/propwatch/listings-crawler/internal/classify"
	"github.com/propwatch/listings-crawler/internal/crawler"
	"github.com/propwatch/listings-crawler/internal/metrics"
	"github.com/propwatch/listings-crawler/internal/progress"
	"github.com/propwatch/listings-crawler/internal/proxy"
	"github.com/propwatch/listings-crawler/internal/ratelimit"
	"github.com/propwatch/listings-crawler/internal/retry"
	"github.com/propwatch/listings-crawler/internal/softblock"
)

// Config tunes per-request behavior.
type Config struct {
	// MinDomainInterval is the minimum spacing between requests to the same
	// registrable domain.
	MinDomainInterval time.Duration
	// FetchTimeout is handed to the Fetcher per request.
	FetchTimeout time.Duration
	// Headers are sent with every request.
	Headers http.Header
}

// Deps are the collaborating components. All are required except Hub, which
// may be nil when no progress fan-out is wanted.
type Deps struct {
	RunID      string
	Fetcher    crawler.Fetcher
	Classifier *classify.Classifier
	Retrier    *retry.Policy
	Detector   *softblock.Detector
	Limiter    *ratelimit.Limiter
	Breaker    *circuit.Breaker
	Pool       *proxy.Pool
	Metrics    *metrics.Collector
	Hub        *progress.Hub
	Logger     *zap.Logger
}

// Orchestrator is safe for concurrent use; all cross-request state lives in
// the injected components.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New wires an Orchestrator. Components are injected rather than constructed
// here so every worker in a run shares one breaker, one pool, and one
// collector.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// FetchPage fetches one URL through the full resilience pipeline. It returns
// the clean result, or the last failure once the retry budget for its kind is
// exhausted. Exactly one terminal metrics entry is recorded per call,
// success or not.
func (o *Orchestrator) FetchPage(ctx context.Context, url string) (crawler.FetchResult, error) {
	domain, err := crawler.RegistrableDomain(url)
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("resolve domain: %w", err)
	}

	if !o.deps.Breaker.CanRequest(domain) {
		// Open circuit: fail fast without consuming an attempt or a retry.
		cerr := &crawler.CircuitOpenError{Domain: domain}
		o.deps.Metrics.RecordRequest(url, domain)
		o.deps.Metrics.RecordResponse(metrics.Response{
			URL:          url,
			Status:       metrics.StatusSkipped,
			ErrorKind:    "circuit_open",
			ErrorMessage: cerr.Error(),
		})
		o.publish(url, domain, metrics.StatusSkipped, "circuit_open", 0)
		return crawler.FetchResult{}, cerr
	}

	if err := o.deps.Limiter.Wait(ctx, domain, o.cfg.MinDomainInterval); err != nil {
		return crawler.FetchResult{}, err
	}

	o.deps.Metrics.RecordRequest(url, domain)

	var result crawler.FetchResult
	err = o.deps.Retrier.Execute(ctx, func() error {
		res, aerr := o.attempt(ctx, url, domain)
		if aerr != nil {
			return aerr
		}
		result = res
		return nil
	})
	if err != nil {
		c := o.deps.Classifier.Classify(err)
		o.deps.Metrics.RecordResponse(metrics.Response{
			URL:          url,
			Status:       statusFor(c.Kind),
			HTTPCode:     httpCodeOf(err),
			ErrorKind:    string(c.Kind),
			ErrorMessage: err.Error(),
		})
		o.publish(url, domain, statusFor(c.Kind), string(c.Kind), 0)
		return crawler.FetchResult{}, err
	}

	o.deps.Metrics.RecordResponse(metrics.Response{
		URL:            url,
		Status:         metrics.StatusSuccess,
		HTTPCode:       result.StatusCode,
		ResponseTimeMs: float64(result.Duration) / float64(time.Millisecond),
	})
	o.publish(url, domain, metrics.StatusSuccess, "", result.Duration)
	return result, nil
}

// attempt performs one fetch through one selected proxy and records the
// outcome on both the circuit breaker and the proxy pool before returning,
// so a timed-out attempt still counts against fault-tolerance state.
func (o *Orchestrator) attempt(ctx context.Context, url, domain string) (crawler.FetchResult, error) {
	req := crawler.FetchRequest{
		URL:        url,
		ProxyIndex: -1,
		Timeout:    o.cfg.FetchTimeout,
		Headers:    o.cfg.Headers,
	}
	var proxyKey string
	if rec, ok := o.deps.Pool.Select(); ok {
		req.Proxy = &rec
		proxyKey = rec.Key()
		if idx, ok := o.deps.Pool.Index(proxyKey); ok {
			req.ProxyIndex = idx
		}
	}

	res, err := o.deps.Fetcher.Fetch(ctx, req)
	if err == nil {
		if blocked, reason := o.deps.Detector.Detect(res.Body); blocked {
			err = &crawler.BlockedError{URL: url, Reason: reason}
		}
	}

	if err != nil {
		kind := o.deps.Classifier.Classify(err).Kind
		o.deps.Breaker.RecordFailure(domain, string(kind))
		if proxyKey != "" {
			o.deps.Pool.RecordResult(proxyKey, false)
		}
		o.deps.Logger.Debug("fetch attempt failed",
			zap.String("url", url),
			zap.String("domain", domain),
			zap.String("kind", string(kind)),
			zap.String("proxy", proxyKey),
			zap.Error(err))
		return crawler.FetchResult{}, err
	}

	o.deps.Breaker.RecordSuccess(domain)
	if proxyKey != "" {
		o.deps.Pool.RecordResult(proxyKey, true)
	}
	return res, nil
}

func (o *Orchestrator) publish(url, domain string, status metrics.Status, errorKind string, dur time.Duration) {
	if o.deps.Hub == nil {
		return
	}
	o.deps.Hub.Publish(progress.Event{
		RunID:     o.deps.RunID,
		Stage:     progress.StageFetchDone,
		Domain:    domain,
		URL:       url,
		Status:    string(status),
		ErrorKind: errorKind,
		Dur:       dur,
	})
}

// statusFor maps a failure kind onto the terminal status bucket.
func statusFor(kind classify.Kind) metrics.Status {
	switch kind {
	case classify.KindNetworkTimeout:
		return metrics.StatusTimeout
	case classify.KindParseError:
		return metrics.StatusParseError
	case classify.KindHTTPBlocked:
		return metrics.StatusBlocked
	default:
		return metrics.StatusFailed
	}
}

func httpCodeOf(err error) int {
	var httpErr *crawler.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
