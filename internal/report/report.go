// Package report turns finalized run metrics into a health-assessed,
// persistable session report with historical baseline comparison.
package report

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/propwatch/listings-crawler/internal/circuit"
	"github.com/propwatch/listings-crawler/internal/metrics"
	"github.com/propwatch/listings-crawler/internal/proxy"
)

// Health levels for individual metrics and the overall report.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// Summary is the headline block of a report.
type Summary struct {
	TotalURLs    int     `json:"total_urls"`
	Successful   int     `json:"successful"`
	Failed       int     `json:"failed"`
	SuccessRate  float64 `json:"success_rate"`
	HealthStatus string  `json:"health_status"`
}

// StatusBreakdown mirrors the terminal status counters.
type StatusBreakdown struct {
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Blocked    int `json:"blocked"`
	Timeout    int `json:"timeout"`
	ParseError int `json:"parse_error"`
	Skipped    int `json:"skipped"`
}

// DomainReport aggregates one domain's outcomes.
type DomainReport struct {
	Total         int     `json:"total"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	AvgResponseMs float64 `json:"avg_response_ms"`
	P95ResponseMs float64 `json:"p95_response_ms"`
}

// TopError is one entry of the most-frequent-error list.
type TopError struct {
	ErrorType string `json:"error_type"`
	Count     int    `json:"count"`
	SampleURL string `json:"sample_url"`
}

// Performance holds global response-time aggregates.
type Performance struct {
	AvgResponseMs float64 `json:"avg_response_ms"`
	P50ResponseMs float64 `json:"p50_response_ms"`
	P95ResponseMs float64 `json:"p95_response_ms"`
	P99ResponseMs float64 `json:"p99_response_ms"`
}

// Report is the persisted, read-mostly snapshot of one finished run.
type Report struct {
	RunID           string                         `json:"run_id"`
	StartTime       time.Time                      `json:"start_time"`
	EndTime         *time.Time                     `json:"end_time"`
	DurationSeconds float64                        `json:"duration_seconds"`
	Summary         Summary                        `json:"summary"`
	StatusBreakdown StatusBreakdown                `json:"status_breakdown"`
	DomainBreakdown map[string]DomainReport        `json:"domain_breakdown"`
	ErrorBreakdown  map[string]int                 `json:"error_breakdown"`
	TopErrors       []TopError                     `json:"top_errors"`
	Performance     Performance                    `json:"performance"`
	ProxyStats      *proxy.Stats                   `json:"proxy_stats,omitempty"`
	CircuitStates   map[string]circuit.DomainState `json:"circuit_states,omitempty"`
	HealthIssues    []string                       `json:"health_issues"`
	VsBaseline      *BaselineDelta                 `json:"vs_baseline,omitempty"`
}

// Band is a healthy/degraded cut-point pair for one metric.
type Band struct {
	Healthy  float64
	Degraded float64
}

// Thresholds configures health assessment per metric. SuccessRate is
// higher-is-better; the other three are lower-is-better.
type Thresholds struct {
	SuccessRate   Band
	ErrorRate     Band
	BlockRate     Band
	AvgResponseMs Band
}

// DefaultThresholds are the assessment bands used when config leaves them
// unset.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SuccessRate:   Band{Healthy: 90, Degraded: 75},
		ErrorRate:     Band{Healthy: 5, Degraded: 15},
		BlockRate:     Band{Healthy: 5, Degraded: 15},
		AvgResponseMs: Band{Healthy: 5000, Degraded: 10000},
	}
}

// Config controls report generation and persistence.
type Config struct {
	Thresholds Thresholds
	// TopErrorCount caps the top_errors list; default 5.
	TopErrorCount int
	// ReportsDir is where session report files live.
	ReportsDir string
}

// Generator builds and persists session reports.
type Generator struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewGenerator builds a Generator.
func NewGenerator(cfg Config, logger *zap.Logger) *Generator {
	zero := Band{}
	if cfg.Thresholds.SuccessRate == zero {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.TopErrorCount <= 0 {
		cfg.TopErrorCount = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg, logger: logger, now: time.Now}
}

// Generate assembles a Report from a metrics snapshot plus optional proxy and
// circuit snapshots. An unfinished run is measured up to now.
func (g *Generator) Generate(m metrics.RunMetrics, proxyStats *proxy.Stats, circuits map[string]circuit.DomainState) Report {
	end := g.now()
	if m.EndTime != nil {
		end = *m.EndTime
	}

	total := m.TotalRequests
	sb := StatusBreakdown{
		Success:    m.StatusCounts[metrics.StatusSuccess],
		Failed:     m.StatusCounts[metrics.StatusFailed],
		Blocked:    m.StatusCounts[metrics.StatusBlocked],
		Timeout:    m.StatusCounts[metrics.StatusTimeout],
		ParseError: m.StatusCounts[metrics.StatusParseError],
		Skipped:    m.StatusCounts[metrics.StatusSkipped],
	}

	successRate := 100.0
	errorRate := 0.0
	blockRate := 0.0
	if total > 0 {
		successRate = float64(sb.Success) / float64(total) * 100
		errorRate = float64(sb.Failed+sb.Timeout+sb.ParseError) / float64(total) * 100
		blockRate = float64(sb.Blocked) / float64(total) * 100
	}

	perf := performanceOf(m.ResponseTimesMs)
	status, issues := g.assessHealth(successRate, errorRate, blockRate, perf.AvgResponseMs)

	r := Report{
		RunID:           m.RunID,
		StartTime:       m.StartTime,
		EndTime:         m.EndTime,
		DurationSeconds: end.Sub(m.StartTime).Seconds(),
		Summary: Summary{
			TotalURLs:    total,
			Successful:   sb.Success,
			Failed:       sb.Failed,
			SuccessRate:  successRate,
			HealthStatus: status,
		},
		StatusBreakdown: sb,
		DomainBreakdown: domainBreakdown(m.Domains),
		ErrorBreakdown:  m.ErrorKinds,
		TopErrors:       topErrors(m.ErrorKinds, m.ErrorSamples, g.cfg.TopErrorCount),
		Performance:     perf,
		ProxyStats:      proxyStats,
		CircuitStates:   circuits,
		HealthIssues:    issues,
	}
	return r
}

// assessHealth scores the four aggregate metrics independently; the overall
// status is the worst of the four, and every non-healthy metric contributes
// an issue string.
func (g *Generator) assessHealth(successRate, errorRate, blockRate, avgMs float64) (string, []string) {
	t := g.cfg.Thresholds
	issues := make([]string, 0, 4)
	worst := HealthHealthy

	grade := func(level string) {
		if rank(level) > rank(worst) {
			worst = level
		}
	}

	if level := gradeHigherBetter(successRate, t.SuccessRate); level != HealthHealthy {
		grade(level)
		issues = append(issues, fmt.Sprintf("success rate %.1f%% below healthy threshold %.1f%%", successRate, t.SuccessRate.Healthy))
	}
	if level := gradeLowerBetter(errorRate, t.ErrorRate); level != HealthHealthy {
		grade(level)
		issues = append(issues, fmt.Sprintf("error rate %.1f%% above healthy threshold %.1f%%", errorRate, t.ErrorRate.Healthy))
	}
	if level := gradeLowerBetter(blockRate, t.BlockRate); level != HealthHealthy {
		grade(level)
		issues = append(issues, fmt.Sprintf("block rate %.1f%% above healthy threshold %.1f%%", blockRate, t.BlockRate.Healthy))
	}
	if level := gradeLowerBetter(avgMs, t.AvgResponseMs); level != HealthHealthy {
		grade(level)
		issues = append(issues, fmt.Sprintf("average response time %.0fms above healthy threshold %.0fms", avgMs, t.AvgResponseMs.Healthy))
	}
	return worst, issues
}

func rank(level string) int {
	switch level {
	case HealthCritical:
		return 2
	case HealthDegraded:
		return 1
	default:
		return 0
	}
}

func gradeHigherBetter(v float64, b Band) string {
	switch {
	case v >= b.Healthy:
		return HealthHealthy
	case v >= b.Degraded:
		return HealthDegraded
	default:
		return HealthCritical
	}
}

func gradeLowerBetter(v float64, b Band) string {
	switch {
	case v <= b.Healthy:
		return HealthHealthy
	case v <= b.Degraded:
		return HealthDegraded
	default:
		return HealthCritical
	}
}

func domainBreakdown(domains map[string]metrics.DomainStats) map[string]DomainReport {
	out := make(map[string]DomainReport, len(domains))
	for domain, d := range domains {
		dr := DomainReport{
			Total:      d.Total,
			Successful: d.Success,
			Failed:     d.Failed,
		}
		if d.Total > 0 {
			dr.SuccessRate = float64(d.Success) / float64(d.Total) * 100
		}
		if len(d.ResponseTimesMs) > 0 {
			sorted := append([]float64(nil), d.ResponseTimesMs...)
			sort.Float64s(sorted)
			dr.AvgResponseMs = mean(sorted)
			dr.P95ResponseMs = Percentile(sorted, 95)
		}
		out[domain] = dr
	}
	return out
}

func topErrors(kinds map[string]int, samples map[string]string, limit int) []TopError {
	out := make([]TopError, 0, len(kinds))
	for kind, count := range kinds {
		out = append(out, TopError{ErrorType: kind, Count: count, SampleURL: samples[kind]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ErrorType < out[j].ErrorType
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func performanceOf(samples []float64) Performance {
	if len(samples) == 0 {
		return Performance{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return Performance{
		AvgResponseMs: mean(sorted),
		P50ResponseMs: Percentile(sorted, 50),
		P95ResponseMs: Percentile(sorted, 95),
		P99ResponseMs: Percentile(sorted, 99),
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
