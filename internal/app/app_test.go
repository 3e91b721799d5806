package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propwatch/listings-crawler/internal/config"
	"github.com/propwatch/listings-crawler/internal/crawler"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.Concurrency = 2
	cfg.Crawler.DomainIntervalMs = 0
	cfg.Crawler.TimeoutSeconds = 5
	cfg.Retry.BackoffInitialMs = 1
	cfg.Retry.BackoffMaxMs = 5
	cfg.Reports.Dir = t.TempDir()
	return cfg
}

func listingBody() string {
	return "<html><body><h1>Two bed flat, city centre</h1>" +
		strings.Repeat("<p>Bright and spacious apartment with modern kitchen.</p>", 20) +
		"</body></html>"
}

func TestRunProducesReport(t *testing.T) {
	body := listingBody()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	urls := []string{
		srv.URL + "/listing/1",
		srv.URL + "/listing/2",
		srv.URL + "/missing",
	}
	rep, err := a.Run(context.Background(), urls)
	require.NoError(t, err)

	assert.Equal(t, a.RunID(), rep.RunID)
	assert.Equal(t, 3, rep.Summary.TotalURLs)
	assert.Equal(t, 2, rep.Summary.Successful)
	assert.Equal(t, 1, rep.Summary.Failed)
	assert.Equal(t, 1, rep.ErrorBreakdown["not_found"])
	require.NotNil(t, rep.EndTime)

	entries, err := os.ReadDir(cfg.Reports.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "session_"))
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(listingBody()))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	urls := make([]string, 50)
	for i := range urls {
		urls[i] = srv.URL + "/listing"
	}
	rep, err := a.Run(ctx, urls)
	require.NoError(t, err, "a canceled run still produces its report")
	assert.Less(t, rep.Summary.TotalURLs, 50)
}

func TestSkipReasonLabelsCircuitOpen(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	open := &crawler.CircuitOpenError{Domain: "example.com"}
	assert.Equal(t, "circuit_open", a.skipReason(open))
	assert.Equal(t, "circuit_open", a.skipReason(fmt.Errorf("fetch: %w", open)))
	assert.Equal(t, "not_found", a.skipReason(&crawler.HTTPError{StatusCode: 404}))
}

func TestStatusServerServesLiveState(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
