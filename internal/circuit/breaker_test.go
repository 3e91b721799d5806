package circuit

import (
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) *Breaker {
	return New(Config{FailureThreshold: threshold, Cooldown: cooldown}, nil)
}

func TestOpensAtThreshold(t *testing.T) {
	b := newTestBreaker(5, time.Minute)

	for range 4 {
		b.RecordFailure("x.com", "")
		if !b.CanRequest("x.com") {
			t.Fatal("circuit opened before threshold")
		}
	}
	b.RecordFailure("x.com", "http_blocked")
	if b.CanRequest("x.com") {
		t.Error("circuit should be open after 5 failures")
	}
	if !b.CanRequest("y.com") {
		t.Error("y.com must be unaffected by x.com failures")
	}

	s := b.Snapshot()["x.com"]
	if s.State != StateOpen || s.OpenedAt == nil || s.LastBlock != "http_blocked" {
		t.Errorf("unexpected snapshot: %+v", s)
	}
}

func TestSuccessForgivesFailures(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	b.RecordFailure("x.com", "")
	b.RecordFailure("x.com", "")
	b.RecordSuccess("x.com")
	b.RecordFailure("x.com", "")
	b.RecordFailure("x.com", "")
	if !b.CanRequest("x.com") {
		t.Error("counter should reset on success; only 2 consecutive failures since")
	}
}

func TestCooldownAdmitsSingleTrial(t *testing.T) {
	b := newTestBreaker(2, 50*time.Millisecond)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure("x.com", "")
	b.RecordFailure("x.com", "")
	if b.CanRequest("x.com") {
		t.Fatal("circuit should be open")
	}

	now = now.Add(60 * time.Millisecond)
	if !b.CanRequest("x.com") {
		t.Fatal("cooldown elapsed, trial should be admitted")
	}
	if b.Snapshot()["x.com"].State != StateHalfOpen {
		t.Error("circuit should be half-open during the trial")
	}
}

func TestHalfOpenTrialOutcomes(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b := newTestBreaker(1, 10*time.Millisecond)
		now := time.Now()
		b.now = func() time.Time { return now }

		b.RecordFailure("x.com", "")
		now = now.Add(20 * time.Millisecond)
		if !b.CanRequest("x.com") {
			t.Fatal("trial not admitted")
		}
		b.RecordSuccess("x.com")
		s := b.Snapshot()["x.com"]
		if s.State != StateClosed || s.Failures != 0 {
			t.Errorf("want closed circuit with zero failures, got %+v", s)
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		b := newTestBreaker(5, 10*time.Millisecond)
		now := time.Now()
		b.now = func() time.Time { return now }

		for range 5 {
			b.RecordFailure("x.com", "")
		}
		firstOpen := now
		now = now.Add(20 * time.Millisecond)
		if !b.CanRequest("x.com") {
			t.Fatal("trial not admitted")
		}
		b.RecordFailure("x.com", "soft_block")
		s := b.Snapshot()["x.com"]
		if s.State != StateOpen {
			t.Fatalf("failed trial should reopen, got %v", s.State)
		}
		if !s.OpenedAt.After(firstOpen) {
			t.Error("reopening should restamp opened_at")
		}
		if b.CanRequest("x.com") {
			t.Error("freshly reopened circuit must reject")
		}
	})
}

func TestLazyDomainCreation(t *testing.T) {
	b := newTestBreaker(5, time.Minute)
	if !b.CanRequest("never-seen.com") {
		t.Error("unknown domains start closed")
	}
	if s, ok := b.Snapshot()["never-seen.com"]; !ok || s.State != StateClosed {
		t.Errorf("snapshot should include lazily created domain, got %+v", s)
	}
}
