package crawler

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegistrableDomain extracts the eTLD+1 of a URL so that subdomains of the
// same site share circuit and rate-limit state. IP hosts are returned as-is;
// publicsuffix would split them on the final dots and merge unrelated
// addresses into one bucket. Hosts without a registrable suffix (localhost,
// bare names) also fall back to the bare hostname.
func RegistrableDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	if net.ParseIP(host) != nil {
		return host, nil
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain, nil
	}
	return host, nil
}
