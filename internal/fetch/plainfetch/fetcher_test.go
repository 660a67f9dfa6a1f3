package plainfetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mdcrawl/internal/crawl"
)

func newTestFetcher() *Fetcher {
	return New(Config{
		UserAgent: "mdcrawl-test/1.0",
		Timeout:   5 * time.Second,
	})
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	t.Cleanup(srv.Close)

	page, err := newTestFetcher().Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.Body), "hello")
	require.Equal(t, "text/html", page.Headers.Get("Content-Type"))
	require.Equal(t, srv.URL+"/", page.FinalURL)
}

func TestFetchSendsUserAgentAndHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Custom")
	}))
	t.Cleanup(srv.Close)

	_, err := newTestFetcher().Fetch(context.Background(), crawl.FetchRequest{
		URL:     srv.URL + "/",
		Headers: http.Header{"X-Custom": []string{"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, "mdcrawl-test/1.0", gotUA)
	require.Equal(t, "yes", gotCustom)
}

func TestFetchHTTPErrorIsTerminal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	_, err := newTestFetcher().Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/gone"})
	require.Error(t, err)

	var fetchErr *crawl.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, crawl.FetchHTTP, fetchErr.Kind)
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	require.True(t, fetchErr.Terminal())
}

func TestFetchServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := newTestFetcher().Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/"})
	var fetchErr *crawl.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, http.StatusBadGateway, fetchErr.StatusCode)
	require.False(t, fetchErr.Terminal())
}

func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved here"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	page, err := newTestFetcher().Fetch(context.Background(), crawl.FetchRequest{URL: srv.URL + "/old"})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/new", page.FinalURL)
	require.Contains(t, string(page.Body), "moved here")
}

func TestFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	// Bind and immediately close to get a port nothing listens on.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), crawl.FetchRequest{URL: url + "/"})
	var fetchErr *crawl.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, crawl.FetchConnection, fetchErr.Kind)
	require.False(t, fetchErr.Terminal())
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestFetcher().Fetch(ctx, crawl.FetchRequest{URL: srv.URL + "/"})
	var fetchErr *crawl.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, crawl.FetchTimeout, fetchErr.Kind)
}
