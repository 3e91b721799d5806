package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/propwatch/listings-crawler/internal/progress"
)

// PrometheusSink exports fetch pipeline metrics. It owns all collectors for
// fetch outcomes and run lifecycle.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	fetchOutcomes *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Total crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_completed_total",
			Help: "Total crawl runs completed.",
		}),
		fetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_outcomes_total",
			Help: "Terminal fetch outcomes partitioned by domain and status.",
		}, []string{"domain", "status"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch latency partitioned by domain and status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain", "status"}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.fetchOutcomes, s.fetchDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, e := range batch {
		switch e.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
		case progress.StageRunDone:
			s.runsCompleted.Inc()
		case progress.StageFetchDone:
			domain := e.Domain
			if domain == "" {
				domain = "unknown"
			}
			s.fetchOutcomes.WithLabelValues(domain, e.Status).Inc()
			if e.Dur > 0 {
				s.fetchDuration.WithLabelValues(domain, e.Status).Observe(e.Dur.Seconds())
			}
		}
	}
	return nil
}
