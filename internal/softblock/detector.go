// Package softblock inspects fetched content for signs of being blocked
// without an HTTP error: CAPTCHA challenges, block messages, suspiciously
// short or empty bodies.
package softblock

import (
	"fmt"
	"regexp"
	"strings"
)

// Block reasons reported by Detect.
const (
	ReasonEmptyResponse = "empty_response"
	ReasonShortContent  = "short_content"
	ReasonCaptcha       = "captcha_detected"
	ReasonBlockMessage  = "block_message_detected"
)

// DefaultCaptchaPatterns match common challenge pages.
var DefaultCaptchaPatterns = []string{
	`captcha`,
	`recaptcha`,
	`hcaptcha`,
	`verify (?:that )?you(?:'re| are) (?:a )?human`,
	`are you a robot`,
	`security check`,
}

// DefaultBlockPatterns match explicit block and rate-limit messages.
var DefaultBlockPatterns = []string{
	`access denied`,
	`you have been blocked`,
	`request blocked`,
	`too many requests`,
	`rate limit(?:ed)? exceeded`,
	`unusual traffic`,
	`temporarily unavailable due to`,
	`attention required`,
}

// Config controls detection thresholds and patterns.
type Config struct {
	// MinContentLength marks anything shorter as a soft block.
	MinContentLength int
	// CaptchaPatterns and BlockPatterns are case-insensitive regexps;
	// empty slices fall back to the defaults.
	CaptchaPatterns []string
	BlockPatterns   []string
}

// Detector scans content against compiled pattern sets. Safe for concurrent
// use; all state is immutable after construction.
type Detector struct {
	minLength int
	captcha   []*regexp.Regexp
	block     []*regexp.Regexp
}

// New compiles the configured patterns.
func New(cfg Config) (*Detector, error) {
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 500
	}
	captcha, err := compileAll(cfg.CaptchaPatterns, DefaultCaptchaPatterns)
	if err != nil {
		return nil, fmt.Errorf("compile captcha patterns: %w", err)
	}
	block, err := compileAll(cfg.BlockPatterns, DefaultBlockPatterns)
	if err != nil {
		return nil, fmt.Errorf("compile block patterns: %w", err)
	}
	return &Detector{
		minLength: cfg.MinContentLength,
		captcha:   captcha,
		block:     block,
	}, nil
}

// Detect reports whether content looks blocked and why. Length checks run
// before pattern scans since they are cheapest.
func (d *Detector) Detect(content string) (bool, string) {
	if strings.TrimSpace(content) == "" {
		return true, ReasonEmptyResponse
	}
	if len(content) < d.minLength {
		return true, ReasonShortContent
	}
	for _, re := range d.captcha {
		if re.MatchString(content) {
			return true, ReasonCaptcha
		}
	}
	for _, re := range d.block {
		if re.MatchString(content) {
			return true, ReasonBlockMessage
		}
	}
	return false, ""
}

func compileAll(patterns, fallback []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		patterns = fallback
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
