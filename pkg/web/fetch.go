package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	readability "github.com/go-shiori/go-readability"
)

// maxFetchBytes bounds how much of a page body is read. Pages larger than
// this are truncated, not rejected.
const maxFetchBytes = 1 << 20 // 1 MiB

const fetchUserAgent = "Mozilla/5.0 (compatible; KestrelResearch/1.0; +https://github.com/kestrelhq/kestrel)"

// Page is the extracted content of a fetched URL.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"` // readable text, HTML stripped
}

// FetchProvider retrieves a page and extracts its readable content.
type FetchProvider interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

// ReadabilityFetcher fetches pages over HTTP and runs readability
// extraction so agents see article text instead of markup. Transient
// failures (transport errors, 429, 5xx) are retried with exponential
// backoff up to three attempts.
type ReadabilityFetcher struct {
	client *http.Client
}

// NewReadabilityFetcher creates a fetcher with sane timeouts.
func NewReadabilityFetcher() *ReadabilityFetcher {
	return &ReadabilityFetcher{
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

// Fetch implements FetchProvider.
func (f *ReadabilityFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("unsupported URL %q", pageURL)
	}

	operation := func() (*Page, error) {
		return f.fetchOnce(ctx, pageURL, parsed)
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3))
}

func (f *ReadabilityFetcher) fetchOnce(ctx context.Context, pageURL string, parsed *url.URL) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("fetching %s: status %d", pageURL, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		// Client errors will not improve on retry.
		return nil, backoff.Permanent(fmt.Errorf("fetching %s: status %d", pageURL, resp.StatusCode))
	}

	body := io.LimitReader(resp.Body, maxFetchBytes)

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/plain") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", pageURL, err)
		}
		return &Page{URL: pageURL, Content: string(raw)}, nil
	}

	article, err := readability.FromReader(body, parsed)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("extracting content from %s: %w", pageURL, err))
	}

	content := strings.TrimSpace(article.TextContent)
	if content == "" {
		return nil, backoff.Permanent(fmt.Errorf("no readable content at %s", pageURL))
	}
	return &Page{
		URL:     pageURL,
		Title:   article.Title,
		Content: content,
	}, nil
}
