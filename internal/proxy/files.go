package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/propwatch/listings-crawler/internal/crawler"
)

// persistedScore is the wire form of one score-file entry. last_used is unix
// seconds or null, matching what cooperating processes expect.
type persistedScore struct {
	Score    float64  `json:"score"`
	Failures int      `json:"failures"`
	LastUsed *float64 `json:"last_used"`
}

// Reload re-reads the candidate file, keeping scores for proxies already in
// the pool and seeding scores for new ones (from the score file when present,
// from the timeout hint otherwise). The score file is a best-effort channel
// between cooperating processes, so read errors only log.
func (p *Pool) Reload() error {
	data, err := os.ReadFile(p.cfg.CandidateFile)
	if err != nil {
		return fmt.Errorf("read proxy candidates: %w", err)
	}
	var records []crawler.ProxyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse proxy candidates: %w", err)
	}

	persisted := p.loadScoreFile()

	p.mu.Lock()
	p.installLocked(records, persisted)
	p.mu.Unlock()

	p.logger.Info("proxy pool loaded",
		zap.Int("candidates", len(records)),
		zap.Int("persisted_scores", len(persisted)))
	return nil
}

func (p *Pool) loadScoreFile() map[string]persistedScore {
	if p.cfg.ScoreFile == "" {
		return nil
	}
	data, err := os.ReadFile(p.cfg.ScoreFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("score file unreadable, starting fresh", zap.Error(err))
		}
		return nil
	}
	var persisted map[string]persistedScore
	if err := json.Unmarshal(data, &persisted); err != nil {
		p.logger.Warn("score file corrupt, starting fresh", zap.Error(err))
		return nil
	}
	return persisted
}

// snapshotScoresLocked copies the score map into its wire form. Callers hold
// the pool mutex; the snapshot is written out after release.
func (p *Pool) snapshotScoresLocked() map[string]persistedScore {
	if p.cfg.ScoreFile == "" {
		return nil
	}
	snap := make(map[string]persistedScore, len(p.scores))
	for key, s := range p.scores {
		ps := persistedScore{Score: s.score, Failures: s.failures}
		if s.lastUsed != nil {
			sec := float64(s.lastUsed.UnixNano()) / float64(time.Second)
			ps.LastUsed = &sec
		}
		snap[key] = ps
	}
	return snap
}

// persist writes the score snapshot and, on eviction, the rotator hand-off
// file. Runs outside the pool mutex.
func (p *Pool) persist(scores map[string]persistedScore, remaining []crawler.ProxyRecord, removed bool) {
	if scores != nil {
		if err := writeFileAtomic(p.cfg.ScoreFile, marshalScores(scores)); err != nil {
			p.logger.Warn("score file write failed", zap.Error(err))
		}
	}
	if removed && p.cfg.RotatorFile != "" {
		if err := writeFileAtomic(p.cfg.RotatorFile, rotatorLines(remaining)); err != nil {
			p.logger.Warn("rotator file write failed", zap.Error(err))
		}
	}
}

func marshalScores(scores map[string]persistedScore) []byte {
	data, err := json.MarshalIndent(scores, "", "  ")
	if err != nil {
		return []byte("{}")
	}
	return data
}

// rotatorLines renders the remaining proxies one http://host:port per line,
// in current order, for the file-watching external rotator.
func rotatorLines(records []crawler.ProxyRecord) []byte {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "http://%s:%d\n", r.Host, r.Port)
	}
	return []byte(b.String())
}

// writeFileAtomic replaces path via a temp file so a watching reader never
// observes a partial write.
func writeFileAtomic(path string, data []byte) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
