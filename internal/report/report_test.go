package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propwatch/listings-crawler/internal/circuit"
	"github.com/propwatch/listings-crawler/internal/metrics"
	"github.com/propwatch/listings-crawler/internal/proxy"
)

func TestPercentile(t *testing.T) {
	samples := []float64{10, 20, 30, 40, 50}

	assert.InDelta(t, 30.0, Percentile(samples, 50), 1e-9)
	assert.InDelta(t, 10.0, Percentile(samples, 0), 1e-9)
	assert.InDelta(t, 50.0, Percentile(samples, 100), 1e-9)
	// p25 of 5 samples interpolates between ranks 1 and 2: 20.
	assert.InDelta(t, 20.0, Percentile(samples, 25), 1e-9)
	// p90: rank 3.6 interpolates 40 + 0.6*10.
	assert.InDelta(t, 46.0, Percentile(samples, 90), 1e-9)

	assert.Zero(t, Percentile(nil, 95))
	assert.InDelta(t, 7.0, Percentile([]float64{7}, 99), 1e-9)
}

func sampleRun(t *testing.T) metrics.RunMetrics {
	t.Helper()
	c := metrics.NewCollector("run-42", metrics.Config{HealthyThreshold: 90, DegradedThreshold: 70})
	urls := []struct {
		url    string
		domain string
		resp   metrics.Response
	}{
		{"https://x.com/1", "x.com", metrics.Response{Status: metrics.StatusSuccess, HTTPCode: 200, ResponseTimeMs: 100}},
		{"https://x.com/2", "x.com", metrics.Response{Status: metrics.StatusSuccess, HTTPCode: 200, ResponseTimeMs: 200}},
		{"https://x.com/3", "x.com", metrics.Response{Status: metrics.StatusBlocked, HTTPCode: 403, ErrorKind: "http_blocked", ErrorMessage: "403"}},
		{"https://y.com/1", "y.com", metrics.Response{Status: metrics.StatusSuccess, HTTPCode: 200, ResponseTimeMs: 300}},
		{"https://y.com/2", "y.com", metrics.Response{Status: metrics.StatusTimeout, ErrorKind: "network_timeout", ErrorMessage: "deadline"}},
	}
	for _, u := range urls {
		c.RecordRequest(u.url, u.domain)
		r := u.resp
		r.URL = u.url
		c.RecordResponse(r)
	}
	c.Finalize()
	return c.Snapshot()
}

func TestGenerate(t *testing.T) {
	g := NewGenerator(Config{}, nil)
	proxyStats := &proxy.Stats{Total: 4, Scored: 4, AvgScore: 1.2}
	circuits := map[string]circuit.DomainState{
		"x.com": {Domain: "x.com", State: circuit.StateClosed},
	}

	r := g.Generate(sampleRun(t), proxyStats, circuits)

	assert.Equal(t, "run-42", r.RunID)
	require.NotNil(t, r.EndTime)
	assert.GreaterOrEqual(t, r.DurationSeconds, 0.0)

	assert.Equal(t, 5, r.Summary.TotalURLs)
	assert.Equal(t, 3, r.Summary.Successful)
	assert.InDelta(t, 60.0, r.Summary.SuccessRate, 1e-9)

	assert.Equal(t, 1, r.StatusBreakdown.Blocked)
	assert.Equal(t, 1, r.StatusBreakdown.Timeout)

	x := r.DomainBreakdown["x.com"]
	assert.Equal(t, 3, x.Total)
	assert.InDelta(t, 66.666, x.SuccessRate, 0.01)
	assert.InDelta(t, 150.0, x.AvgResponseMs, 1e-9)

	require.Len(t, r.TopErrors, 2)
	assert.Equal(t, "https://x.com/3", topErrorByType(r.TopErrors, "http_blocked").SampleURL)

	assert.InDelta(t, 200.0, r.Performance.AvgResponseMs, 1e-9)
	assert.InDelta(t, 200.0, r.Performance.P50ResponseMs, 1e-9)

	assert.Equal(t, proxyStats, r.ProxyStats)
	assert.Contains(t, r.CircuitStates, "x.com")

	// 60% success / 20% block / 40% error rate: all three critical.
	assert.Equal(t, HealthCritical, r.Summary.HealthStatus)
	assert.NotEmpty(t, r.HealthIssues)
}

func topErrorByType(list []TopError, kind string) TopError {
	for _, e := range list {
		if e.ErrorType == kind {
			return e
		}
	}
	return TopError{}
}

func TestGenerateEmptyRun(t *testing.T) {
	g := NewGenerator(Config{}, nil)
	c := metrics.NewCollector("empty", metrics.Config{})
	c.Finalize()

	r := g.Generate(c.Snapshot(), nil, nil)
	assert.InDelta(t, 100.0, r.Summary.SuccessRate, 1e-9)
	assert.Zero(t, r.Performance.P99ResponseMs)
	assert.Equal(t, HealthHealthy, r.Summary.HealthStatus)
	assert.Empty(t, r.HealthIssues)
}

func TestHealthWorstOfFour(t *testing.T) {
	g := NewGenerator(Config{Thresholds: Thresholds{
		SuccessRate:   Band{Healthy: 90, Degraded: 75},
		ErrorRate:     Band{Healthy: 5, Degraded: 15},
		BlockRate:     Band{Healthy: 5, Degraded: 15},
		AvgResponseMs: Band{Healthy: 5000, Degraded: 10000},
	}}, nil)

	// Healthy success rate but a degraded average response time: overall
	// must be degraded with exactly one issue.
	status, issues := g.assessHealth(95, 2, 1, 7000)
	assert.Equal(t, HealthDegraded, status)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "response time")

	// One critical metric dominates everything else.
	status, _ = g.assessHealth(95, 2, 40, 100)
	assert.Equal(t, HealthCritical, status)

	status, issues = g.assessHealth(99, 0.5, 0, 100)
	assert.Equal(t, HealthHealthy, status)
	assert.Empty(t, issues)
}

func TestTopErrorsCapAndOrder(t *testing.T) {
	kinds := map[string]int{"a": 1, "b": 5, "c": 3, "d": 2, "e": 4, "f": 9}
	samples := map[string]string{"f": "https://x.com/f"}

	top := topErrors(kinds, samples, 3)
	require.Len(t, top, 3)
	assert.Equal(t, TopError{ErrorType: "f", Count: 9, SampleURL: "https://x.com/f"}, top[0])
	assert.Equal(t, "b", top[1].ErrorType)
	assert.Equal(t, "e", top[2].ErrorType)
}

func TestGenerateUnfinishedRunUsesNow(t *testing.T) {
	g := NewGenerator(Config{}, nil)
	start := time.Now().Add(-3 * time.Second)
	m := metrics.RunMetrics{RunID: "live", StartTime: start}

	r := g.Generate(m, nil, nil)
	assert.Nil(t, r.EndTime)
	assert.InDelta(t, 3.0, r.DurationSeconds, 1.0)
}
