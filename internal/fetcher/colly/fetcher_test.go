package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/propwatch/listings-crawler/internal/crawler"
)

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{
		URL:        "https://example.com",
		Headers:    http.Header{"X-Trace": {"yes"}},
		ProxyIndex: 3,
	}
	start := time.Unix(0, 0)
	var result crawler.FetchResult
	var fetchErr error
	var errStatus int

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, start, &result, &fetchErr, &errStatus)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}
	if collyReq.Headers.Get("X-Proxy-Offset") != "3" {
		t.Fatalf("expected proxy offset header, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	if result.StatusCode != http.StatusOK || result.Body != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}

	hooks.onError(&colly.Response{StatusCode: 503}, errors.New("boom"))
	if fetchErr == nil || errStatus != 503 {
		t.Fatalf("expected fetchErr and status recorded, got %v / %d", fetchErr, errStatus)
	}
}

func TestProxyOffsetHeaderOmittedWhenUnknown(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	hooks := &stubHooks{}
	var result crawler.FetchResult
	var fetchErr error
	var errStatus int
	f.configureCollectorHooks(hooks, crawler.FetchRequest{URL: "https://example.com", ProxyIndex: -1},
		time.Now(), &result, &fetchErr, &errStatus)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Proxy-Offset") != "" {
		t.Fatalf("expected no proxy offset header, got %+v", collyReq.Headers)
	}
}

func TestTranslateHTTPStatusWins(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{URL: "https://example.com"}
	err := f.translate(req, 429, errors.New("too many requests"))

	var httpErr *crawler.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 429 {
		t.Fatalf("expected HTTPError with 429, got %v", err)
	}
}

func TestTranslateTimeout(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{URL: "https://example.com"}

	var timeoutErr *crawler.TimeoutError
	if err := f.translate(req, 0, context.DeadlineExceeded); !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError for deadline, got %v", err)
	}
	netTimeout := &net.OpError{Op: "read", Err: &timeoutNetErr{}}
	if err := f.translate(req, 0, netTimeout); !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError for net timeout, got %v", err)
	}
}

func TestTranslateAttributesConnectFailureToProxy(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	proxyRec := crawler.ProxyRecord{Host: "10.0.0.1", Port: 8080}
	req := crawler.FetchRequest{URL: "https://example.com", Proxy: &proxyRec}

	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	var proxyErr *crawler.ProxyError
	if err := f.translate(req, 0, dialErr); !errors.As(err, &proxyErr) {
		t.Fatalf("expected ProxyError for dial failure through proxy, got %v", err)
	}
	if proxyErr.Proxy != "10.0.0.1:8080" {
		t.Fatalf("expected proxy key in error, got %q", proxyErr.Proxy)
	}

	// Mid-transfer resets stay attributed to the target.
	readErr := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")}
	var connErr *crawler.ConnectionError
	if err := f.translate(req, 0, readErr); !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError for read failure, got %v", err)
	}

	// Without a proxy, a dial failure is the target's problem.
	if err := f.translate(crawler.FetchRequest{URL: "https://example.com"}, 0, dialErr); !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError without proxy, got %v", err)
	}
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(crawler.FetchRequest{}, collyReq)
	if len(*collyReq.Headers) != 0 {
		t.Fatalf("expected no headers to be copied, got %+v", *collyReq.Headers)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type timeoutNetErr struct{}

func (*timeoutNetErr) Error() string   { return "i/o timeout" }
func (*timeoutNetErr) Timeout() bool   { return true }
func (*timeoutNetErr) Temporary() bool { return true }

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
