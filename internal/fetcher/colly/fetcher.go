// Package collyfetcher implements crawler.Fetcher using gocolly, routing each
// request through the proxy selected by the pool and translating transport
// failures into the tagged error set.
package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/propwatch/listings-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements crawler.Fetcher using the Colly collector. The base
// collector is cloned per request so proxies and timeouts never leak between
// concurrent fetches.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. Non-2xx statuses, soft failures at the
// proxy hop, and timeouts all come back as tagged errors so the classifier
// never inspects error strings.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	var (
		result    crawler.FetchResult
		fetchErr  error
		errStatus int
	)
	start := time.Now()
	collector, err := f.buildCollector(request, start, &result, &fetchErr, &errStatus)
	if err != nil {
		return crawler.FetchResult{}, err
	}

	if err := f.runCollector(ctx, collector, request.URL); err != nil {
		return crawler.FetchResult{}, f.translate(request, errStatus, err)
	}
	if fetchErr != nil {
		return crawler.FetchResult{}, f.translate(request, errStatus, fetchErr)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResult,
	fetchErr *error,
	errStatus *int,
) (*colly.Collector, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true

	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	if request.Proxy != nil {
		if err := collector.SetProxy(request.Proxy.URL()); err != nil {
			return nil, &crawler.ProxyError{Proxy: request.Proxy.Key(), Err: err}
		}
	}

	f.configureCollectorHooks(collector, request, start, result, fetchErr, errStatus)
	return collector, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResult,
	fetchErr *error,
	errStatus *int,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
		if request.ProxyIndex >= 0 {
			// Correlates the request with the rotator slot the proxy
			// occupied at send time.
			r.Headers.Set("X-Proxy-Offset", strconv.Itoa(request.ProxyIndex))
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       string(r.Body),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = err
		if r != nil {
			*errStatus = r.StatusCode
		}
	})
}

// runCollector drives one visit, returning the raw visit error; callers
// translate it together with any status the error hook captured.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// translate maps a raw colly/transport failure onto the closed error set. A
// recorded HTTP status beats everything; with a proxy configured,
// connect-phase failures are attributed to the proxy hop rather than the
// target site.
func (f *Fetcher) translate(request crawler.FetchRequest, status int, err error) error {
	if status != 0 {
		return &crawler.HTTPError{URL: request.URL, StatusCode: status}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &crawler.TimeoutError{URL: request.URL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &crawler.TimeoutError{URL: request.URL, Err: err}
	}

	if request.Proxy != nil && isConnectFailure(err) {
		return &crawler.ProxyError{Proxy: request.Proxy.Key(), Err: err}
	}
	return &crawler.ConnectionError{URL: request.URL, Err: err}
}

// isConnectFailure reports whether the error happened while establishing the
// connection (dial, CONNECT handshake) as opposed to mid-transfer.
func isConnectFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "proxyconnect"
	}
	// net/http reports a failed CONNECT through a plain *url.Error whose
	// inner error text carries the proxyconnect op.
	return strings.Contains(err.Error(), "proxyconnect")
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawler.Fetcher = (*Fetcher)(nil)
