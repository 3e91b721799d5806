package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/propwatch/listings-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{RunID: "run-1", TS: time.Now(), Stage: progress.StageRunStart},
		{
			RunID:  "run-1",
			TS:     time.Now().Add(time.Second),
			Stage:  progress.StageFetchDone,
			Domain: "example.com",
			URL:    "https://example.com/p/1",
			Status: "success",
			Dur:    200 * time.Millisecond,
		},
		{
			RunID:     "run-1",
			TS:        time.Now().Add(2 * time.Second),
			Stage:     progress.StageFetchDone,
			Domain:    "example.com",
			URL:       "https://example.com/p/2",
			Status:    "blocked",
			ErrorKind: "http_blocked",
		},
		{RunID: "run-1", TS: time.Now().Add(3 * time.Second), Stage: progress.StageRunDone, Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetchOutcomes.WithLabelValues("example.com", "success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetchOutcomes.WithLabelValues("example.com", "blocked")), 1e-9)
	// Only the success event carried a duration sample.
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "crawler_fetch_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
