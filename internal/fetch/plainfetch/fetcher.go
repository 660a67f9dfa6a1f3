// Package plainfetch implements single-page retrieval using gocolly.
package plainfetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"mdcrawl/internal/crawl"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements crawl.Fetcher with a Colly collector per request.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled HTTP transport shared by all requests.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)
	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Failures come back as *crawl.FetchError
// classified for the retry policy: HTTP status errors carry their code,
// deadline trouble maps to Timeout, everything else to Connection.
func (f *Fetcher) Fetch(ctx context.Context, req crawl.FetchRequest) (crawl.RawPage, error) {
	var (
		result    crawl.RawPage
		fetchErr  error
		errStatus int
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.WithTransport(f.transport)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = crawl.RawPage{
			URL:        req.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			errStatus = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return crawl.RawPage{}, crawl.NewFetchError(crawl.FetchTimeout, 0, ctx.Err())
	case visitErr := <-done:
		if fetchErr != nil {
			return crawl.RawPage{}, classify(fetchErr, errStatus)
		}
		if visitErr != nil {
			return crawl.RawPage{}, classify(visitErr, 0)
		}
		return result, nil
	}
}

func classify(err error, status int) *crawl.FetchError {
	if status > 0 {
		return crawl.NewFetchError(crawl.FetchHTTP, status, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawl.NewFetchError(crawl.FetchTimeout, 0, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawl.NewFetchError(crawl.FetchTimeout, 0, err)
	}
	return crawl.NewFetchError(crawl.FetchConnection, 0, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
