// Package crawler defines core types shared across fetch subsystems.
package crawler

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ProxyRecord identifies an upstream proxy candidate. Records are owned by
// the proxy pool; everything else treats them as values.
type ProxyRecord struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	// Timeout is an optional historical response-time hint in seconds,
	// carried over from previous runs to seed the initial score.
	Timeout float64 `json:"timeout,omitempty"`
}

// Key returns the pool identity of the proxy in host:port form.
func (p ProxyRecord) Key() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// URL renders the proxy as a dialable URL. An empty protocol defaults to http.
func (p ProxyRecord) URL() string {
	proto := p.Protocol
	if proto == "" {
		proto = "http"
	}
	return fmt.Sprintf("%s://%s:%d", proto, p.Host, p.Port)
}

// FetchRequest captures everything needed to fetch a single URL through a
// specific proxy.
type FetchRequest struct {
	URL string
	// Proxy routes the request when non-nil; nil means direct.
	Proxy *ProxyRecord
	// ProxyIndex is the rotator-relative offset of the proxy, used to tag
	// the outbound request. -1 when unknown.
	ProxyIndex int
	Timeout    time.Duration
	Headers    http.Header
}

// FetchResult is the outcome of a successful transport round trip. The body
// may still describe a soft block; callers run detection on it.
type FetchResult struct {
	URL        string
	StatusCode int
	Body       string
	Duration   time.Duration
}

// Fetcher performs a single page fetch. Implementations must translate
// transport failures into the tagged error set in this package so that
// classification never inspects error strings.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}
