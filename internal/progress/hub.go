package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink consumes batches of events. Consume is called from the hub's flush
// goroutine; implementations should be fast or internally buffered.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
}

// Config controls hub buffering and batching.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 512
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
)

// Hub fans events out to sinks in batches. Publish never blocks the caller:
// when the buffer is full the event is dropped and counted.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	doneCh  chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64

	closeOnce sync.Once
}

// NewHub starts the background flush goroutine over the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  sinks,
		events: make(chan Event, cfg.BufferSize),
		doneCh: make(chan struct{}),
		logger: cfg.Logger,
	}
	go h.run()
	return h
}

// Publish enqueues an event, dropping it if the buffer is full.
func (h *Hub) Publish(e Event) {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		h.logger.Warn("dropping invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- e:
	default:
		h.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close drains buffered events into one final flush and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.events)
		<-h.doneCh
	})
}

func (h *Hub) run() {
	defer close(h.doneCh)

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		for _, s := range h.sinks {
			if err := s.Consume(ctx, batch); err != nil {
				h.logger.Warn("progress sink failed", zap.Error(err))
			}
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-h.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= h.cfg.MaxBatchEvents {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
