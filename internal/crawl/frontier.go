package crawl

import (
	"fmt"
	"net/url"
	"strings"
)

// junkPathFragments are asset and admin paths no crawl ever wants.
var junkPathFragments = []string{
	"/cdn-cgi/",
	"/wp-admin/",
	"/wp-includes/",
	"/assets/",
	"/static/",
}

// Frontier holds the discovered-but-not-yet-fetched URLs for one crawl,
// plus the visited set. It behaves as a FIFO queue so shallower pages are
// dispatched before deeper ones. It is not safe for concurrent use: only
// the crawl controller for the owning job mutates it.
type Frontier struct {
	opts       CrawlOptions
	originHost string
	clock      Clock

	queue   []FrontierEntry
	pending map[string]struct{}
	visited map[string]struct{}
}

// NewFrontier builds a frontier for a crawl rooted at originURL.
// The origin must already be normalized.
func NewFrontier(originURL string, opts CrawlOptions, clock Clock) (*Frontier, error) {
	u, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("origin url %q has no host", originURL)
	}
	f := &Frontier{
		opts:       opts,
		originHost: strings.ToLower(u.Hostname()),
		clock:      clock,
		pending:    make(map[string]struct{}),
		visited:    make(map[string]struct{}),
	}
	f.enqueue(FrontierEntry{URL: originURL, Depth: 0, DiscoveredAt: clock.Now()})
	return f, nil
}

// Propose offers a discovered URL for crawling. The parent may be nil only
// for the seed. It returns the normalized URL and the reject reason, or
// RejectNone when the URL was accepted and enqueued. Acceptance checks run
// in a fixed order; the first failure wins.
func (f *Frontier) Propose(rawURL string, parent *FrontierEntry) (string, RejectReason) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return rawURL, RejectScheme
	}
	u, err := url.Parse(normalized)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return normalized, RejectScheme
	}

	depth := 0
	if parent != nil {
		depth = parent.Depth + 1
	}

	if _, seen := f.visited[normalized]; seen {
		return normalized, RejectDuplicate
	}
	if _, queued := f.pending[normalized]; queued {
		return normalized, RejectDuplicate
	}

	if f.opts.MaxDepth > 0 && depth > f.opts.MaxDepth {
		return normalized, RejectDepth
	}

	if reason := f.checkHost(u.Hostname()); reason != RejectNone {
		return normalized, reason
	}

	if reason := f.checkPath(u.Path); reason != RejectNone {
		return normalized, reason
	}

	if !f.opts.AllowBackwards && parent != nil {
		parentPath := pathOf(parent.URL)
		if !isDescendantPath(parentPath, u.Path) {
			return normalized, RejectBackwards
		}
	}

	entry := FrontierEntry{
		URL:          normalized,
		Depth:        depth,
		DiscoveredAt: f.clock.Now(),
	}
	if parent != nil {
		entry.Parent = parent.URL
	}
	f.enqueue(entry)
	return normalized, RejectNone
}

// Next pops the oldest pending entry, FIFO.
func (f *Frontier) Next() (FrontierEntry, bool) {
	if len(f.queue) == 0 {
		return FrontierEntry{}, false
	}
	entry := f.queue[0]
	f.queue = f.queue[1:]
	return entry, true
}

// MarkVisited moves a URL into the visited set, releasing its pending slot.
func (f *Frontier) MarkVisited(normalizedURL string) {
	delete(f.pending, normalizedURL)
	f.visited[normalizedURL] = struct{}{}
}

// Len reports how many entries are waiting to be dispatched.
func (f *Frontier) Len() int {
	return len(f.queue)
}

// VisitedCount reports how many URLs have been marked visited.
func (f *Frontier) VisitedCount() int {
	return len(f.visited)
}

func (f *Frontier) enqueue(entry FrontierEntry) {
	f.pending[entry.URL] = struct{}{}
	f.queue = append(f.queue, entry)
}

// checkHost applies the subdomain policy. ignore_subdomains subsumes
// include_subdomains, so it takes precedence when both are set.
func (f *Frontier) checkHost(host string) RejectReason {
	host = strings.ToLower(host)
	if host == f.originHost {
		return RejectNone
	}
	if f.opts.IgnoreSubdomains {
		if baseDomain(host) == baseDomain(f.originHost) {
			return RejectNone
		}
		return RejectHost
	}
	if f.opts.IncludeSubdomains && isSubdomainOf(host, f.originHost) {
		return RejectNone
	}
	return RejectHost
}

// checkPath applies junk pruning, then the include/exclude pattern policy.
// An exclude match rejects regardless of any include match.
func (f *Frontier) checkPath(path string) RejectReason {
	lower := strings.ToLower(path)
	for _, junk := range junkPathFragments {
		if strings.Contains(lower, junk) {
			return RejectJunkPath
		}
	}
	for _, pattern := range f.opts.ExcludePaths {
		if matchPathPattern(pattern, path) {
			return RejectPath
		}
	}
	if len(f.opts.IncludeOnlyPaths) > 0 {
		for _, pattern := range f.opts.IncludeOnlyPaths {
			if matchPathPattern(pattern, path) {
				return RejectNone
			}
		}
		return RejectPath
	}
	return RejectNone
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
