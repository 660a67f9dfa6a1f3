package crawl

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so the frontier's dedup and the summary's
// page keys agree everywhere. It lowercases scheme and host, removes default
// ports, strips the fragment, sorts query parameters, and trims a trailing
// slash from non-root paths.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.Path == "" {
		u.Path = "/"
	} else if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// ResolveURL resolves a possibly relative href against a base and normalizes it.
func ResolveURL(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return NormalizeURL(b.ResolveReference(ref).String())
}

// baseDomain reduces a hostname to its last two labels, the same coarse
// grouping the subdomain policy is defined over ("docs.example.com" and
// "example.com" share "example.com").
func baseDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// isSubdomainOf reports whether host is a strict subdomain of origin.
func isSubdomainOf(host, origin string) bool {
	host = strings.ToLower(host)
	origin = strings.ToLower(origin)
	return host != origin && strings.HasSuffix(host, "."+origin)
}

// isDescendantPath reports whether child equals parent or lives below it
// in the path tree. Both paths are expected normalized (no trailing slash
// except root).
func isDescendantPath(parent, child string) bool {
	if parent == "" || parent == "/" {
		return true
	}
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+"/")
}

// matchPathPattern applies the path pattern grammar: a trailing '*' makes
// the pattern a prefix match, anything else is an exact match.
func matchPathPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return path == pattern
}
