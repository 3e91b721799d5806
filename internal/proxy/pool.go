// Package proxy maintains a scored, weighted-selectable pool of upstream
// proxies. Success grows a proxy's score, failure decays it, and proxies that
// fail persistently are evicted and handed off to the external rotator.
package proxy

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/propwatch/listings-crawler/internal/crawler"
)

// Scoring constants applied when the config leaves them zero.
const (
	DefaultSuccessMultiplier = 1.1
	DefaultFailureMultiplier = 0.5
	DefaultMaxFailures       = 3
	DefaultMinScore          = 0.01
)

// Config controls pool behavior and persistence paths.
type Config struct {
	// CandidateFile is the JSON array of proxy candidates to load.
	CandidateFile string
	// ScoreFile persists scores across runs and processes; optional.
	ScoreFile string
	// RotatorFile, when set, is rewritten with the remaining proxies on
	// every eviction so a file-watching external rotator follows along.
	RotatorFile string

	SuccessMultiplier float64
	FailureMultiplier float64
	MaxFailures       int
	MinScore          float64
}

func (c *Config) applyDefaults() {
	if c.SuccessMultiplier <= 0 {
		c.SuccessMultiplier = DefaultSuccessMultiplier
	}
	if c.FailureMultiplier <= 0 {
		c.FailureMultiplier = DefaultFailureMultiplier
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.MinScore <= 0 {
		c.MinScore = DefaultMinScore
	}
}

// Stats summarizes pool health for reporting.
type Stats struct {
	Total        int     `json:"total"`
	Scored       int     `json:"scored"`
	AvgScore     float64 `json:"avg_score"`
	WithFailures int     `json:"with_failures"`
}

type scoreRecord struct {
	score    float64
	failures int
	lastUsed *time.Time
}

// Pool is safe for concurrent use. Selection and outcome recording are
// short in-memory operations under one mutex; file persistence happens after
// the mutex is released so I/O never blocks concurrent selection.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	logger  *zap.Logger
	rng     *rand.Rand
	now     func() time.Time
	proxies []crawler.ProxyRecord
	scores  map[string]*scoreRecord
	order   []string
	index   map[string]int
}

// New builds a Pool and loads candidates (and any persisted scores) from the
// configured files. A missing score file is not an error.
func New(cfg Config, logger *zap.Logger) (*Pool, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		scores: make(map[string]*scoreRecord),
		index:  make(map[string]int),
	}
	if cfg.CandidateFile != "" {
		if err := p.Reload(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// NewFromRecords builds a Pool from an in-memory candidate list; used by
// tests and embedders that manage candidate loading themselves.
func NewFromRecords(cfg Config, logger *zap.Logger, records []crawler.ProxyRecord) *Pool {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		scores: make(map[string]*scoreRecord),
		index:  make(map[string]int),
	}
	p.mu.Lock()
	p.installLocked(records, nil)
	p.mu.Unlock()
	return p
}

// installLocked replaces the candidate list, seeding scores for proxies that
// do not already have one: 1/timeout for proxies with a positive timing hint
// (previously-fast proxies start favored), 1.0 otherwise.
func (p *Pool) installLocked(records []crawler.ProxyRecord, persisted map[string]persistedScore) {
	p.proxies = records
	for _, r := range records {
		key := r.Key()
		if _, ok := p.scores[key]; ok {
			continue
		}
		if ps, ok := persisted[key]; ok {
			rec := &scoreRecord{score: ps.Score, failures: ps.Failures}
			if ps.LastUsed != nil {
				t := time.Unix(0, int64(*ps.LastUsed*float64(time.Second)))
				rec.lastUsed = &t
			}
			p.scores[key] = rec
			continue
		}
		score := 1.0
		if r.Timeout > 0 {
			score = 1.0 / r.Timeout
		}
		p.scores[key] = &scoreRecord{score: score}
	}
}

// Select picks a proxy by weighted random choice over positive scores; if no
// proxy has a positive score it falls back to a uniform pick. Selection
// stamps last_used but never mutates scores. Returns false on an empty pool.
func (p *Pool) Select() (crawler.ProxyRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return crawler.ProxyRecord{}, false
	}

	total := 0.0
	for _, r := range p.proxies {
		if s := p.scores[r.Key()]; s != nil && s.score > 0 {
			total += s.score
		}
	}

	var chosen crawler.ProxyRecord
	if total <= 0 {
		chosen = p.proxies[p.rng.Intn(len(p.proxies))]
	} else {
		target := p.rng.Float64() * total
		acc := 0.0
		chosen = p.proxies[len(p.proxies)-1]
		for _, r := range p.proxies {
			s := p.scores[r.Key()]
			if s == nil || s.score <= 0 {
				continue
			}
			acc += s.score
			if target < acc {
				chosen = r
				break
			}
		}
	}

	if s := p.scores[chosen.Key()]; s != nil {
		t := p.now()
		s.lastUsed = &t
	}
	return chosen, true
}

// RecordResult applies a fetch outcome to the proxy's score. Success
// multiplies the score and clears the failure streak; failure halves it and
// counts the streak. A proxy whose streak reaches MaxFailures or whose score
// drops below MinScore is evicted before this call returns, whichever
// threshold fires first.
func (p *Pool) RecordResult(key string, success bool) {
	p.mu.Lock()
	s, ok := p.scores[key]
	if !ok {
		p.mu.Unlock()
		return
	}

	removed := false
	if success {
		s.score *= p.cfg.SuccessMultiplier
		s.failures = 0
	} else {
		s.score *= p.cfg.FailureMultiplier
		s.failures++
		if s.failures >= p.cfg.MaxFailures || s.score < p.cfg.MinScore {
			p.removeLocked(key)
			removed = true
		}
	}

	scoreSnap := p.snapshotScoresLocked()
	var rotatorSnap []crawler.ProxyRecord
	if removed && p.cfg.RotatorFile != "" {
		rotatorSnap = append(rotatorSnap, p.proxies...)
	}
	p.mu.Unlock()

	if removed {
		p.logger.Warn("proxy evicted from pool",
			zap.String("proxy", key),
			zap.Float64("score", s.score),
			zap.Int("failures", s.failures))
	}
	p.persist(scoreSnap, rotatorSnap, removed)
}

// Remove drops a proxy regardless of its score, returning whether it was
// present. Used when an operator or external system retires a proxy.
func (p *Pool) Remove(key string) bool {
	p.mu.Lock()
	_, ok := p.scores[key]
	if !ok {
		p.mu.Unlock()
		return false
	}
	p.removeLocked(key)
	scoreSnap := p.snapshotScoresLocked()
	var rotatorSnap []crawler.ProxyRecord
	if p.cfg.RotatorFile != "" {
		rotatorSnap = append(rotatorSnap, p.proxies...)
	}
	p.mu.Unlock()

	p.persist(scoreSnap, rotatorSnap, true)
	return true
}

// removeLocked deletes the score entry and the selectable record atomically,
// then rebuilds the rotator order so later proxies shift down one position.
func (p *Pool) removeLocked(key string) {
	delete(p.scores, key)
	for i, r := range p.proxies {
		if r.Key() == key {
			p.proxies = append(p.proxies[:i], p.proxies[i+1:]...)
			break
		}
	}
	if len(p.order) == 0 {
		return
	}
	order := make([]string, 0, len(p.order))
	for _, k := range p.order {
		if k != key {
			order = append(order, k)
		}
	}
	p.setOrderLocked(order)
}

// SetOrder records the proxy order as loaded by the external rotator so
// outbound requests can be tagged with their rotator-relative offset.
func (p *Pool) SetOrder(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setOrderLocked(keys)
}

func (p *Pool) setOrderLocked(keys []string) {
	p.order = keys
	p.index = make(map[string]int, len(keys))
	for i, k := range keys {
		p.index[k] = i
	}
}

// Index returns the rotator-relative position of a proxy key.
func (p *Pool) Index(key string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[key]
	return i, ok
}

// Stats reports aggregate pool health.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{Total: len(p.proxies), Scored: len(p.scores)}
	sum := 0.0
	for _, s := range p.scores {
		sum += s.score
		if s.failures > 0 {
			st.WithFailures++
		}
	}
	if st.Scored > 0 {
		st.AvgScore = sum / float64(st.Scored)
	}
	return st
}
