// Package web implements the outward-facing research providers: web
// search and page fetching. Providers are small interfaces so tests and
// alternative backends can swap in.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// SearchHit is one result returned by a search provider.
type SearchHit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchProvider runs a web search query.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error)
}

// Search error kinds, carried by *SearchError.
const (
	SearchErrRateLimited = "rate_limited"
	SearchErrUnavailable = "unavailable"
)

// SearchError is a classified search failure.
type SearchError struct {
	Kind    string
	Message string
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %s: %s", e.Kind, e.Message)
}

const braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveClient queries the Brave Web Search API. Transient failures (429,
// 5xx) are retried with exponential backoff up to three attempts.
type BraveClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewBraveClient creates a client. endpoint overrides the API URL when
// non-empty (tests, proxies).
func NewBraveClient(apiKey, endpoint string) *BraveClient {
	if endpoint == "" {
		endpoint = braveSearchEndpoint
	}
	return &BraveClient{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// braveResponse mirrors the slice of the Brave API response we consume.
type braveResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements SearchProvider.
func (c *BraveClient) Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	if maxResults < 1 {
		maxResults = 10
	}

	operation := func() ([]SearchHit, error) {
		hits, err := c.searchOnce(ctx, query, maxResults)
		if err != nil {
			// Rate limits and upstream outages are worth retrying;
			// anything else is permanent.
			var se *SearchError
			if errors.As(err, &se) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return hits, nil
	}

	hits, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3))
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (c *BraveClient) searchOnce(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(maxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SearchError{Kind: SearchErrUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &SearchError{Kind: SearchErrRateLimited, Message: "brave API rate limit"}
	case resp.StatusCode >= 500:
		return nil, &SearchError{Kind: SearchErrUnavailable, Message: fmt.Sprintf("brave API returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("brave API returned %d: %s", resp.StatusCode, body)
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding brave response: %w", err)
	}

	hits := make([]SearchHit, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		if r.URL == "" {
			continue
		}
		hits = append(hits, SearchHit{URL: r.URL, Title: r.Title, Snippet: r.Description})
	}
	return hits, nil
}
