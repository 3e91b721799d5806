// Package retry executes operations under classification-aware exponential
// backoff with proportional jitter.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/propwatch/listings-crawler/internal/classify"
)

// Config controls backoff timing.
type Config struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// Policy retries an operation according to the classification of each
// failure: kind-specific attempt budgets, immediate propagation of
// non-recoverable kinds, exponential backoff between attempts.
type Policy struct {
	classifier *classify.Classifier
	cfg        Config
	logger     *zap.Logger
}

// New builds a Policy. Zero config fields get conservative defaults.
func New(classifier *classify.Classifier, cfg Config, logger *zap.Logger) *Policy {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{classifier: classifier, cfg: cfg, logger: logger}
}

// Execute runs op until it succeeds, exhausts the attempt budget of the
// failure kind, or hits a non-recoverable failure. The budget counts total
// invocations, so a kind with MaxRetries=3 runs op at most three times.
// Backoff waits respect ctx; cancellation propagates immediately.
func (p *Policy) Execute(ctx context.Context, op func() error) error {
	attempt := 0
	for {
		err := op()
		if err == nil {
			return nil
		}
		attempt++

		c := p.classifier.Classify(err)
		if !c.Recoverable || c.Action == classify.ActionSkip {
			return err
		}
		if attempt >= c.MaxRetries {
			return err
		}

		delay := p.Backoff(attempt - 1)
		p.logger.Debug("retrying after failure",
			zap.String("kind", string(c.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if werr := sleep(ctx, delay); werr != nil {
			return fmt.Errorf("backoff interrupted: %w", werr)
		}
	}
}

// Backoff returns the wait before the attempt after the given zero-based
// failure index: min(base*2^n, max) plus a proportional random jitter.
func (p *Policy) Backoff(n int) time.Duration {
	delay := float64(p.cfg.BaseDelay) * math.Pow(2, float64(n))
	if delay > float64(p.cfg.MaxDelay) {
		delay = float64(p.cfg.MaxDelay)
	}
	jitter := p.cfg.JitterFactor * rand.Float64() * delay
	return time.Duration(delay + jitter)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
