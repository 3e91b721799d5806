// Package circuit implements a per-domain failure circuit breaker. Domains
// that fail repeatedly stop receiving requests until a cooldown elapses, at
// which point a single trial request probes for recovery.
package circuit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of one domain circuit.
type State string

// Circuit states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// DomainState is a reporting snapshot of one domain circuit.
type DomainState struct {
	Domain    string     `json:"domain"`
	State     State      `json:"state"`
	Failures  int        `json:"failures"`
	OpenedAt  *time.Time `json:"opened_at,omitempty"`
	LastBlock string     `json:"last_block,omitempty"`
}

// Config controls when circuits open and how long they stay open.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens a circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects requests before admitting
	// a half-open trial.
	Cooldown time.Duration
}

type domainState struct {
	state     State
	failures  int
	openedAt  time.Time
	lastBlock string
}

// Breaker holds all domain circuits behind one mutex. State is created
// lazily on first reference and never deleted.
type Breaker struct {
	mu      sync.Mutex
	domains map[string]*domainState
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// New builds a Breaker. Zero config fields default to 5 failures / 60s.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		domains: make(map[string]*domainState),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// CanRequest reports whether a request to domain may proceed. CLOSED and
// HALF_OPEN admit requests. OPEN admits exactly one trial once the cooldown
// has elapsed, flipping to HALF_OPEN as it does.
func (b *Breaker) CanRequest(domain string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.domainLocked(domain)
	switch d.state {
	case StateOpen:
		if b.now().Sub(d.openedAt) < b.cfg.Cooldown {
			return false
		}
		d.state = StateHalfOpen
		b.logger.Info("circuit half-open, admitting trial request",
			zap.String("domain", domain))
		return true
	default:
		return true
	}
}

// RecordFailure counts a failure against domain; blockType annotates what
// kind of block triggered it. Reaching the threshold opens the circuit, and
// a failed half-open trial reopens it immediately.
func (b *Breaker) RecordFailure(domain, blockType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.domainLocked(domain)
	d.failures++
	if blockType != "" {
		d.lastBlock = blockType
	}
	if d.state == StateHalfOpen || d.failures >= b.cfg.FailureThreshold {
		if d.state != StateOpen {
			b.logger.Warn("circuit opened",
				zap.String("domain", domain),
				zap.Int("failures", d.failures),
				zap.String("block_type", d.lastBlock))
		}
		d.state = StateOpen
		d.openedAt = b.now()
	}
}

// RecordSuccess closes a half-open circuit and forgives prior failures: a
// single success resets the consecutive failure counter.
func (b *Breaker) RecordSuccess(domain string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.domainLocked(domain)
	if d.state == StateHalfOpen {
		b.logger.Info("circuit closed after successful trial",
			zap.String("domain", domain))
	}
	d.state = StateClosed
	d.failures = 0
	d.lastBlock = ""
}

// Snapshot returns the current state of every domain circuit for reporting.
func (b *Breaker) Snapshot() map[string]DomainState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]DomainState, len(b.domains))
	for domain, d := range b.domains {
		s := DomainState{
			Domain:    domain,
			State:     d.state,
			Failures:  d.failures,
			LastBlock: d.lastBlock,
		}
		if d.state == StateOpen || !d.openedAt.IsZero() {
			opened := d.openedAt
			if !opened.IsZero() {
				s.OpenedAt = &opened
			}
		}
		out[domain] = s
	}
	return out
}

func (b *Breaker) domainLocked(domain string) *domainState {
	d, ok := b.domains[domain]
	if !ok {
		d = &domainState{state: StateClosed}
		b.domains[domain] = d
	}
	return d
}
