// Package metrics accumulates per-run request and response counters for the
// fetch pipeline. One Collector lives for the duration of a crawl run and is
// mutated from every worker.
package metrics

import (
	"sync"
	"time"
)

// Status is the terminal outcome of one request.
type Status string

// Terminal request statuses.
const (
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusTimeout    Status = "timeout"
	StatusParseError Status = "parse_error"
	StatusSkipped    Status = "skipped"
)

// Health levels derived from the live success rate.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// RequestMetric is the immutable record of one terminal outcome.
type RequestMetric struct {
	URL            string    `json:"url"`
	Domain         string    `json:"domain"`
	Status         Status    `json:"status"`
	HTTPCode       int       `json:"http_code,omitempty"`
	ResponseTimeMs float64   `json:"response_time_ms,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Response carries everything RecordResponse needs for one terminal outcome.
// HTTPCode zero means no status was observed; ResponseTimeMs <= 0 means no
// timing sample.
type Response struct {
	URL            string
	Status         Status
	HTTPCode       int
	ResponseTimeMs float64
	ErrorKind      string
	ErrorMessage   string
}

// DomainStats buckets outcomes per registrable domain.
type DomainStats struct {
	Total           int       `json:"total"`
	Success         int       `json:"success"`
	Failed          int       `json:"failed"`
	Blocked         int       `json:"blocked"`
	Timeout         int       `json:"timeout"`
	ParseError      int       `json:"parse_error"`
	Skipped         int       `json:"skipped"`
	ResponseTimesMs []float64 `json:"-"`
}

// RunMetrics is a consistent snapshot of a run, handed to the report
// generator. All maps and slices are copies.
type RunMetrics struct {
	RunID           string
	StartTime       time.Time
	EndTime         *time.Time
	TotalRequests   int
	StatusCounts    map[Status]int
	Domains         map[string]DomainStats
	ErrorKinds      map[string]int
	ErrorSamples    map[string]string
	ResponseTimesMs []float64
	ListingsSaved   int
	ListingsSkipped map[string]int
	Requests        []RequestMetric
}

// Config tunes health thresholds and request retention.
type Config struct {
	// HealthyThreshold and DegradedThreshold are success-rate cut points in
	// percent. Defaults: 90 and 70.
	HealthyThreshold  float64
	DegradedThreshold float64
	// RetainRequests keeps a full RequestMetric per terminal outcome.
	RetainRequests bool
}

// Collector is safe for concurrent use; all mutation happens under one mutex.
type Collector struct {
	mu  sync.Mutex
	cfg Config

	runID     string
	startTime time.Time
	endTime   *time.Time

	totalRequests int
	statusCounts  map[Status]int
	domains       map[string]*DomainStats
	// pendingDomain remembers the domain recorded for a URL until its
	// terminal response arrives.
	pendingDomain map[string]string

	errorKinds   map[string]int
	errorSamples map[string]string

	responseTimesMs []float64
	listingsSaved   int
	listingsSkipped map[string]int
	requests        []RequestMetric

	now func() time.Time
}

// NewCollector starts a run.
func NewCollector(runID string, cfg Config) *Collector {
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = 90
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = 70
	}
	c := &Collector{
		cfg:             cfg,
		runID:           runID,
		statusCounts:    make(map[Status]int),
		domains:         make(map[string]*DomainStats),
		pendingDomain:   make(map[string]string),
		errorKinds:      make(map[string]int),
		errorSamples:    make(map[string]string),
		listingsSkipped: make(map[string]int),
		now:             time.Now,
	}
	c.startTime = c.now()
	return c
}

// RecordRequest counts an outbound request and remembers its domain until
// the terminal response is recorded.
func (c *Collector) RecordRequest(url, domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.pendingDomain[url] = domain
}

// RecordResponse records exactly one terminal outcome for a request. It
// increments one global status counter, the per-domain bucket, the error-kind
// counter when present, and appends the timing sample when one was observed.
func (c *Collector) RecordResponse(r Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	domain := c.pendingDomain[r.URL]
	delete(c.pendingDomain, r.URL)

	c.statusCounts[r.Status]++

	d, ok := c.domains[domain]
	if !ok {
		d = &DomainStats{}
		c.domains[domain] = d
	}
	d.Total++
	switch r.Status {
	case StatusSuccess:
		d.Success++
	case StatusFailed:
		d.Failed++
	case StatusBlocked:
		d.Blocked++
	case StatusTimeout:
		d.Timeout++
	case StatusParseError:
		d.ParseError++
	case StatusSkipped:
		d.Skipped++
	}
	if r.ResponseTimeMs > 0 {
		d.ResponseTimesMs = append(d.ResponseTimesMs, r.ResponseTimeMs)
		c.responseTimesMs = append(c.responseTimesMs, r.ResponseTimeMs)
	}
	if r.ErrorKind != "" {
		c.errorKinds[r.ErrorKind]++
		if _, seen := c.errorSamples[r.ErrorKind]; !seen {
			c.errorSamples[r.ErrorKind] = r.URL
		}
	}
	if c.cfg.RetainRequests {
		c.requests = append(c.requests, RequestMetric{
			URL:            r.URL,
			Domain:         domain,
			Status:         r.Status,
			HTTPCode:       r.HTTPCode,
			ResponseTimeMs: r.ResponseTimeMs,
			ErrorKind:      r.ErrorKind,
			ErrorMessage:   r.ErrorMessage,
			Timestamp:      c.now(),
		})
	}
}

// RecordListingSaved counts a downstream persistence success, distinct from
// transport outcomes.
func (c *Collector) RecordListingSaved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listingsSaved++
}

// RecordListingSkipped counts a listing the downstream pipeline dropped.
func (c *Collector) RecordListingSkipped(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listingsSkipped[reason]++
}

// SuccessRate returns the live success percentage. With zero requests it
// optimistically reports 100 so an idle run never alarms.
func (c *Collector) SuccessRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successRateLocked()
}

func (c *Collector) successRateLocked() float64 {
	if c.totalRequests == 0 {
		return 100.0
	}
	return float64(c.statusCounts[StatusSuccess]) / float64(c.totalRequests) * 100.0
}

// HealthStatus thresholds the live success rate: healthy, then degraded,
// else critical.
func (c *Collector) HealthStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rate := c.successRateLocked()
	switch {
	case rate >= c.cfg.HealthyThreshold:
		return HealthHealthy
	case rate >= c.cfg.DegradedThreshold:
		return HealthDegraded
	default:
		return HealthCritical
	}
}

// Finalize freezes the run; only the first call sets the end time.
func (c *Collector) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endTime == nil {
		t := c.now()
		c.endTime = &t
	}
}

// Snapshot copies the run state for report generation.
func (c *Collector) Snapshot() RunMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := RunMetrics{
		RunID:           c.runID,
		StartTime:       c.startTime,
		TotalRequests:   c.totalRequests,
		StatusCounts:    make(map[Status]int, len(c.statusCounts)),
		Domains:         make(map[string]DomainStats, len(c.domains)),
		ErrorKinds:      make(map[string]int, len(c.errorKinds)),
		ErrorSamples:    make(map[string]string, len(c.errorSamples)),
		ResponseTimesMs: append([]float64(nil), c.responseTimesMs...),
		ListingsSaved:   c.listingsSaved,
		ListingsSkipped: make(map[string]int, len(c.listingsSkipped)),
		Requests:        append([]RequestMetric(nil), c.requests...),
	}
	if c.endTime != nil {
		t := *c.endTime
		snap.EndTime = &t
	}
	for k, v := range c.statusCounts {
		snap.StatusCounts[k] = v
	}
	for k, d := range c.domains {
		dc := *d
		dc.ResponseTimesMs = append([]float64(nil), d.ResponseTimesMs...)
		snap.Domains[k] = dc
	}
	for k, v := range c.errorKinds {
		snap.ErrorKinds[k] = v
	}
	for k, v := range c.errorSamples {
		snap.ErrorSamples[k] = v
	}
	for k, v := range c.listingsSkipped {
		snap.ListingsSkipped[k] = v
	}
	return snap
}
