package crawler

import "fmt"

// The fetch boundary reports failures through this closed set of error types
// so downstream classification is an exhaustive type switch.

// TimeoutError reports that a fetch exceeded its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetch %s: timeout: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *TimeoutError) Unwrap() error { return e.Err }

// ConnectionError reports that the transport could not reach the target.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("fetch %s: connection: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProxyError reports a failure attributable to the proxy hop rather than the
// target site (TLS through the proxy, CONNECT refusal, dead upstream).
type ProxyError struct {
	Proxy string
	Err   error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s: %v", e.Proxy, e.Err)
}

func (e *ProxyError) Unwrap() error { return e.Err }

// HTTPError carries a non-success HTTP status from the target.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
}

// MalformedContentError reports structurally broken content: invalid JSON,
// truncated markup, missing required fields.
type MalformedContentError struct {
	URL string
	Err error
}

func (e *MalformedContentError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *MalformedContentError) Unwrap() error { return e.Err }

// BlockedError reports a soft block: a transport-level success whose content
// indicates the site challenged or refused the request.
type BlockedError struct {
	URL    string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("fetch %s: soft block (%s)", e.URL, e.Reason)
}

// CircuitOpenError is raised before any attempt when the domain circuit is
// open. It bypasses retry budgets entirely.
type CircuitOpenError struct {
	Domain string
	Reason string
}

func (e *CircuitOpenError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("circuit open for %s", e.Domain)
	}
	return fmt.Sprintf("circuit open for %s (%s)", e.Domain, e.Reason)
}
