package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const braveFixture = `{
	"web": {
		"results": [
			{"url": "https://example.com/a", "title": "Page A", "description": "about a"},
			{"url": "https://example.com/b", "title": "Page B", "description": "about b"},
			{"url": "", "title": "no url", "description": "skipped"}
		]
	}
}`

func TestBraveClientSearch(t *testing.T) {
	var gotToken, gotQuery, gotCount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		gotQuery = r.URL.Query().Get("q")
		gotCount = r.URL.Query().Get("count")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(braveFixture))
	}))
	defer srv.Close()

	c := NewBraveClient("test-key", srv.URL)
	hits, err := c.Search(context.Background(), "golang generics", 5)
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotToken)
	assert.Equal(t, "golang generics", gotQuery)
	assert.Equal(t, "5", gotCount)

	require.Len(t, hits, 2, "results without URL are dropped")
	assert.Equal(t, "https://example.com/a", hits[0].URL)
	assert.Equal(t, "Page A", hits[0].Title)
	assert.Equal(t, "about b", hits[1].Snippet)
}

func TestBraveClientRetriesTransientFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(braveFixture))
	}))
	defer srv.Close()

	c := NewBraveClient("k", srv.URL)
	hits, err := c.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, hits, 2)
}

func TestBraveClientGivesUpAfterMaxTries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewBraveClient("k", srv.URL)
	_, err := c.Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var se *SearchError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, SearchErrUnavailable, se.Kind)
}

func TestBraveClientClientErrorIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewBraveClient("bad-key", srv.URL)
	_, err := c.Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "4xx must not be retried")
}
