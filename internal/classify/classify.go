// Package classify maps fetch failures onto an error taxonomy and the
// recovery policy attached to each kind.
package classify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"

	"github.com/propwatch/listings-crawler/internal/crawler"
)

// Kind enumerates the failure taxonomy.
type Kind string

// Failure kinds, in classification precedence order.
const (
	KindNetworkTimeout    Kind = "network_timeout"
	KindNetworkConnection Kind = "network_connection"
	KindHTTPRateLimit     Kind = "http_rate_limit"
	KindHTTPBlocked       Kind = "http_blocked"
	KindHTTPServerError   Kind = "http_server_error"
	KindHTTPClientError   Kind = "http_client_error"
	KindNotFound          Kind = "not_found"
	KindParseError        Kind = "parse_error"
	KindProxyError        Kind = "proxy_error"
	KindUnknown           Kind = "unknown"
)

// Action is the recovery policy attached to a kind.
type Action string

// Recovery actions.
const (
	ActionBackoffRetry Action = "backoff_retry"
	ActionCircuitBreak Action = "circuit_break"
	ActionRotateProxy  Action = "rotate_proxy"
	ActionSkip         Action = "skip"
	ActionManualReview Action = "manual_review"
)

// Classification is the full verdict for one failure.
type Classification struct {
	Kind        Kind
	Action      Action
	Recoverable bool
	// MaxRetries is the total attempt budget for this kind, including the
	// first attempt. Zero for non-recoverable kinds.
	MaxRetries int
}

// policyEntry is the static per-kind policy table. Actions are fixed;
// attempt budgets can be overridden via config.
type policyEntry struct {
	action      Action
	recoverable bool
	maxRetries  int
}

var defaultPolicy = map[Kind]policyEntry{
	KindNetworkTimeout:    {ActionBackoffRetry, true, 3},
	KindNetworkConnection: {ActionBackoffRetry, true, 3},
	KindHTTPRateLimit:     {ActionBackoffRetry, true, 5},
	KindHTTPBlocked:       {ActionCircuitBreak, true, 2},
	KindHTTPServerError:   {ActionBackoffRetry, true, 3},
	KindHTTPClientError:   {ActionSkip, false, 0},
	KindNotFound:          {ActionSkip, false, 0},
	KindParseError:        {ActionManualReview, false, 0},
	KindProxyError:        {ActionRotateProxy, true, 3},
	KindUnknown:           {ActionManualReview, false, 0},
}

// Classifier resolves errors to classifications. The taxonomy and actions are
// fixed; per-kind retry budgets may be overridden at construction.
type Classifier struct {
	budgets map[Kind]int
}

// New builds a Classifier. budgets overrides the default retry budget for the
// listed kinds; nil keeps all defaults.
func New(budgets map[Kind]int) *Classifier {
	return &Classifier{budgets: budgets}
}

// Classify resolves an error. An explicit HTTP status takes priority over
// everything else; tagged transport errors come next; untyped errors fall
// through shape-based checks to UNKNOWN.
func (c *Classifier) Classify(err error) Classification {
	return c.lookup(c.kindOf(err))
}

// ByStatus classifies a bare HTTP status code.
func (c *Classifier) ByStatus(status int) Classification {
	return c.lookup(kindForStatus(status))
}

func (c *Classifier) lookup(kind Kind) Classification {
	entry := defaultPolicy[kind]
	max := entry.maxRetries
	if override, ok := c.budgets[kind]; ok && entry.recoverable {
		max = override
	}
	return Classification{
		Kind:        kind,
		Action:      entry.action,
		Recoverable: entry.recoverable,
		MaxRetries:  max,
	}
}

func (c *Classifier) kindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	// Status code beats everything, including the wrapping error type.
	var httpErr *crawler.HTTPError
	if errors.As(err, &httpErr) {
		return kindForStatus(httpErr.StatusCode)
	}

	var blocked *crawler.BlockedError
	if errors.As(err, &blocked) {
		return KindHTTPBlocked
	}
	var timeout *crawler.TimeoutError
	if errors.As(err, &timeout) {
		return KindNetworkTimeout
	}
	var conn *crawler.ConnectionError
	if errors.As(err, &conn) {
		return KindNetworkConnection
	}
	var proxy *crawler.ProxyError
	if errors.As(err, &proxy) {
		return KindProxyError
	}
	var malformed *crawler.MalformedContentError
	if errors.As(err, &malformed) {
		return KindParseError
	}

	// Untyped errors from outside the fetch boundary.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindNetworkTimeout
		}
		return KindNetworkConnection
	}
	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return KindProxyError
	}
	var jsonSyntax *json.SyntaxError
	var jsonType *json.UnmarshalTypeError
	if errors.As(err, &jsonSyntax) || errors.As(err, &jsonType) {
		return KindParseError
	}
	return KindUnknown
}

func kindForStatus(status int) Kind {
	switch {
	case status == 429:
		return KindHTTPRateLimit
	case status == 403:
		return KindHTTPBlocked
	case status == 404:
		return KindNotFound
	case status >= 500:
		return KindHTTPServerError
	case status >= 400:
		return KindHTTPClientError
	default:
		return KindUnknown
	}
}
