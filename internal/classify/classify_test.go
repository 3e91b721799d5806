package classify

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/propwatch/listings-crawler/internal/crawler"
)

func TestClassifyStatusCodePrecedence(t *testing.T) {
	c := New(nil)

	// A 429 wrapped inside anything still classifies as rate limit.
	err := &crawler.HTTPError{URL: "http://x.com", StatusCode: 429}
	got := c.Classify(err)
	assert.Equal(t, KindHTTPRateLimit, got.Kind)
	assert.Equal(t, ActionBackoffRetry, got.Action)
	assert.True(t, got.Recoverable)

	cases := map[int]Kind{
		429: KindHTTPRateLimit,
		403: KindHTTPBlocked,
		404: KindNotFound,
		500: KindHTTPServerError,
		503: KindHTTPServerError,
		410: KindHTTPClientError,
	}
	for status, want := range cases {
		assert.Equal(t, want, c.ByStatus(status).Kind, "status %d", status)
	}
}

func TestClassifyTaggedErrors(t *testing.T) {
	c := New(nil)
	cases := []struct {
		err  error
		kind Kind
	}{
		{&crawler.TimeoutError{URL: "u", Err: errors.New("deadline")}, KindNetworkTimeout},
		{&crawler.ConnectionError{URL: "u", Err: errors.New("refused")}, KindNetworkConnection},
		{&crawler.ProxyError{Proxy: "1.2.3.4:80", Err: errors.New("dead")}, KindProxyError},
		{&crawler.MalformedContentError{URL: "u", Err: errors.New("bad json")}, KindParseError},
		{&crawler.BlockedError{URL: "u", Reason: "captcha_detected"}, KindHTTPBlocked},
		{errors.New("some unrecognized condition"), KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, c.Classify(tc.err).Kind, "%v", tc.err)
	}
}

func TestClassifyUntypedFallthrough(t *testing.T) {
	c := New(nil)

	var payload struct{}
	jsonErr := json.Unmarshal([]byte("{nope"), &payload)
	assert.Equal(t, KindParseError, c.Classify(jsonErr).Kind)
}

func TestRecoveryTable(t *testing.T) {
	c := New(nil)

	blocked := c.Classify(&crawler.BlockedError{Reason: "block_message_detected"})
	assert.Equal(t, ActionCircuitBreak, blocked.Action)
	assert.True(t, blocked.Recoverable)

	notFound := c.ByStatus(404)
	assert.Equal(t, ActionSkip, notFound.Action)
	assert.False(t, notFound.Recoverable)
	assert.Zero(t, notFound.MaxRetries)

	proxy := c.Classify(&crawler.ProxyError{Proxy: "p", Err: errors.New("x")})
	assert.Equal(t, ActionRotateProxy, proxy.Action)

	unknown := c.Classify(errors.New("???"))
	assert.Equal(t, ActionManualReview, unknown.Action)
	assert.False(t, unknown.Recoverable)
}

func TestBudgetOverrides(t *testing.T) {
	c := New(map[Kind]int{KindHTTPRateLimit: 8, KindNotFound: 9})

	assert.Equal(t, 8, c.ByStatus(429).MaxRetries)
	// Non-recoverable kinds ignore overrides.
	assert.Zero(t, c.ByStatus(404).MaxRetries)
	// Unlisted kinds keep their defaults.
	assert.Equal(t, 3, c.Classify(&crawler.TimeoutError{}).MaxRetries)
}
