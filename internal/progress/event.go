// Package progress carries fetch lifecycle events from the orchestrator to
// registered sinks (logs, Prometheus) without blocking the fetch path.
package progress

import (
	"errors"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageFetchDone Stage = "FETCH_DONE"
)

// Event is one fetch pipeline milestone.
type Event struct {
	// RunID identifies the crawl run emitting the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage is the milestone kind.
	Stage Stage
	// Domain scopes fetch events to a registrable domain.
	Domain string
	// URL is the page URL for fetch events.
	URL string
	// Status is the terminal outcome label (success, failed, blocked, ...).
	Status string
	// ErrorKind is the classified failure kind, empty on success.
	ErrorKind string
	// Dur is the fetch latency, zero when unknown.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Stage == StageFetchDone && e.Status == "" {
		return errors.New("fetch done requires a status")
	}
	return nil
}
