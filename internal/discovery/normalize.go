package discovery

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeDomain accepts a bare domain or a full URL and returns its origin
// (scheme, host and port only). Inputs without a scheme are assumed https.
func NormalizeDomain(input string) (*url.URL, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidDomain)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidDomain, input, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidDomain, input, parsed.Scheme)
	}
	if parsed.Hostname() == "" || strings.ContainsAny(parsed.Host, " \t") {
		return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidDomain, input)
	}
	return &url.URL{Scheme: scheme, Host: strings.ToLower(parsed.Host)}, nil
}

func resolve(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

func join(base *url.URL, path string) string {
	u := *base
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// sameSite compares hosts case-insensitively and ignoring a leading "www.".
func sameSite(a, b string) bool {
	return bareHost(a) == bareHost(b)
}

func bareHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
