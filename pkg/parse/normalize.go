package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"data-harvester/pkg/utils"
)

// NormalizeURL standardizes an absolute URL for visited tracking and queueing.
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https)
// and the fragment, and gives a bare host the root path "/". Path and query are
// otherwise preserved exactly.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Host != "" && normalized.Opaque == "" && normalized.Path == "" {
		normalized.Path = "/"
		normalized.RawPath = ""
	}

	normalized.Fragment = ""
	normalized.RawFragment = ""

	return normalized.String()
}

// NormalizeLink resolves href against base and normalizes the result.
// It returns false for empty hrefs, unparseable input and anything that does
// not resolve to an http(s) URL with a host (javascript:, mailto:, tel:, data:, ...).
func NormalizeLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}

	scheme := strings.ToLower(resolved.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	if resolved.Host == "" {
		return "", false
	}
	return NormalizeURL(resolved), true
}

// ParseAndNormalize parses an absolute http(s) URL string and normalizes it.
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	normalized, ok := NormalizeLink(nil, urlStr)
	if !ok {
		return "", nil, fmt.Errorf("%w: URL '%s' is not an absolute http(s) URL", utils.ErrParsing, urlStr)
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return "", nil, fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, urlStr, err)
	}
	return normalized, parsed, nil
}

// OriginOf returns the lowercased scheme://host[:port] of rawURL, the key used
// for per-host limits.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: URL '%s' has no host", utils.ErrParsing, rawURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}
