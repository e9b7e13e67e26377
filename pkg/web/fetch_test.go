package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Go Memory Model</title></head>
<body>
<nav>Home | About | Contact</nav>
<article>
<h1>The Go Memory Model</h1>
<p>The Go memory model specifies the conditions under which reads of a
variable in one goroutine can be guaranteed to observe values produced by
writes to the same variable in a different goroutine. This guarantee is
established through the happens-before relation defined over synchronizing
operations such as channel communication and mutex locking.</p>
<p>Programs that modify data being simultaneously accessed by multiple
goroutines must serialize such access. To serialize access, protect the
data with channel operations or other synchronization primitives.</p>
</article>
</body>
</html>`

func TestReadabilityFetcherExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := NewReadabilityFetcher()
	page, err := f.Fetch(context.Background(), srv.URL+"/memmodel")
	require.NoError(t, err)

	assert.Contains(t, page.Content, "happens-before relation")
	assert.NotContains(t, page.Content, "<p>", "markup is stripped")
}

func TestReadabilityFetcherPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain body content"))
	}))
	defer srv.Close()

	f := NewReadabilityFetcher()
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "plain body content", page.Content)
}

func TestReadabilityFetcherRetriesTransientFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("recovered body"))
	}))
	defer srv.Close()

	page, err := NewReadabilityFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "recovered body", page.Content)
}

func TestReadabilityFetcherGivesUpAfterMaxTries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewReadabilityFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "status 502")
}

func TestReadabilityFetcherErrors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		attempts := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewReadabilityFetcher().Fetch(context.Background(), srv.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
		assert.Equal(t, 1, attempts, "4xx must not be retried")
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := NewReadabilityFetcher().Fetch(context.Background(), "ftp://example.com/file")
		require.Error(t, err)
	})
}

func TestReadabilityFetcherTruncatesLargeBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("x", 2<<20)))
	}))
	defer srv.Close()

	page, err := NewReadabilityFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(page.Content), maxFetchBytes)
}
