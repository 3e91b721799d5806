package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const reportFilePrefix = "session_"

// Baseline is the averaged shape of recent runs.
type Baseline struct {
	Runs          int     `json:"runs"`
	SuccessRate   float64 `json:"success_rate"`
	AvgResponseMs float64 `json:"avg_response_ms"`
	P95ResponseMs float64 `json:"p95_response_ms"`
	AvgTotalURLs  float64 `json:"avg_total_urls"`
}

// BaselineDelta is a report compared against a baseline; positive values mean
// the run exceeded the baseline.
type BaselineDelta struct {
	BaselineRuns       int     `json:"baseline_runs"`
	SuccessRateDelta   float64 `json:"success_rate_delta"`
	AvgResponseMsDelta float64 `json:"avg_response_ms_delta"`
	P95ResponseMsDelta float64 `json:"p95_response_ms_delta"`
	TotalURLsDelta     float64 `json:"total_urls_delta"`
}

// Save persists the report as one JSON file per run. The filename leads with
// the start timestamp so lexical order is recency order.
func (g *Generator) Save(r Report) (string, error) {
	if g.cfg.ReportsDir == "" {
		return "", fmt.Errorf("reports dir not configured")
	}
	if err := os.MkdirAll(g.cfg.ReportsDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir reports dir: %w", err)
	}
	name := fmt.Sprintf("%s%s_%s.json",
		reportFilePrefix, r.StartTime.UTC().Format("20060102T150405"), r.RunID)
	path := filepath.Join(g.cfg.ReportsDir, name)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// Load reads a report file back.
func (g *Generator) Load(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("parse report %s: %w", path, err)
	}
	return r, nil
}

// RecentReports returns up to limit reports, newest first by filename order.
// Unparseable files are skipped rather than failing the whole listing.
func (g *Generator) RecentReports(limit int) ([]Report, error) {
	entries, err := os.ReadDir(g.cfg.ReportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list reports dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), reportFilePrefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	reports := make([]Report, 0, limit)
	for _, name := range names {
		if len(reports) >= limit {
			break
		}
		r, err := g.Load(filepath.Join(g.cfg.ReportsDir, name))
		if err != nil {
			g.logger.Warn("skipping unreadable report", zap.Error(err))
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Baseline averages success rate, response-time aggregates and URL volume
// over the reports whose runs started within the last days.
func (g *Generator) Baseline(days int) (*Baseline, error) {
	reports, err := g.RecentReports(1000)
	if err != nil {
		return nil, err
	}
	cutoff := g.now().AddDate(0, 0, -days)

	b := &Baseline{}
	for _, r := range reports {
		if r.StartTime.Before(cutoff) {
			continue
		}
		b.Runs++
		b.SuccessRate += r.Summary.SuccessRate
		b.AvgResponseMs += r.Performance.AvgResponseMs
		b.P95ResponseMs += r.Performance.P95ResponseMs
		b.AvgTotalURLs += float64(r.Summary.TotalURLs)
	}
	if b.Runs == 0 {
		return nil, nil
	}
	n := float64(b.Runs)
	b.SuccessRate /= n
	b.AvgResponseMs /= n
	b.P95ResponseMs /= n
	b.AvgTotalURLs /= n
	return b, nil
}

// CompareToBaseline returns simple deltas of a report against a baseline.
func (g *Generator) CompareToBaseline(r Report, b Baseline) BaselineDelta {
	return BaselineDelta{
		BaselineRuns:       b.Runs,
		SuccessRateDelta:   r.Summary.SuccessRate - b.SuccessRate,
		AvgResponseMsDelta: r.Performance.AvgResponseMs - b.AvgResponseMs,
		P95ResponseMsDelta: r.Performance.P95ResponseMs - b.P95ResponseMs,
		TotalURLsDelta:     float64(r.Summary.TotalURLs) - b.AvgTotalURLs,
	}
}
