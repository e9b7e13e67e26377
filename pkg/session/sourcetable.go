// Package session holds the shared mutable state of one research session:
// the source table, per-agent transcripts and the in-memory registry of
// running sessions.
package session

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// trackerParams are query parameters stripped during URL normalization so
// the same page reached through different campaigns dedupes to one source.
var trackerParams = map[string]bool{
	"gclid":  true,
	"fbclid": true,
	"ref":    true,
}

// NormalizeURL canonicalizes a URL for deduplication: lowercase scheme and
// host, https preferred untouched, default ports and trailing slashes
// removed, fragment dropped, tracking parameters stripped and the
// remaining query sorted. Unparseable input is returned trimmed, as-is.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if trackerParams[key] || strings.HasPrefix(key, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode() // Encode sorts keys

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
	}
	return u.String()
}

// SourceTable is the session-global registry of discovered sources. Each
// normalized URL gets a stable 1-based index on first sight; the index is
// what citation anchors refer to, so it never changes once assigned.
type SourceTable struct {
	mu      sync.Mutex
	byURL   map[string]int // normalized URL -> index into ordered
	ordered []models.Source
}

// NewSourceTable creates an empty table.
func NewSourceTable() *SourceTable {
	return &SourceTable{byURL: make(map[string]int)}
}

// Add registers a source discovered by agentID and returns its stable
// index. If the normalized URL is already known the existing index is
// returned and the entry keeps its first-seen metadata, except that an
// empty title is backfilled.
func (t *SourceTable) Add(agentID, rawURL, title, snippet string) int {
	norm := NormalizeURL(rawURL)

	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.byURL[norm]; ok {
		if t.ordered[i].Title == "" && title != "" {
			t.ordered[i].Title = title
		}
		return t.ordered[i].Index
	}

	src := models.Source{
		URL:         norm,
		RawURL:      rawURL,
		Title:       title,
		Snippet:     snippet,
		Index:       len(t.ordered) + 1,
		FirstSeenBy: agentID,
		FirstSeenAt: time.Now().UTC(),
	}
	t.byURL[norm] = len(t.ordered)
	t.ordered = append(t.ordered, src)
	return src.Index
}

// Lookup returns the source for a normalized or raw URL.
func (t *SourceTable) Lookup(rawURL string) (models.Source, bool) {
	norm := NormalizeURL(rawURL)

	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.byURL[norm]
	if !ok {
		return models.Source{}, false
	}
	return t.ordered[i], true
}

// Get returns the source with the given 1-based index.
func (t *SourceTable) Get(index int) (models.Source, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 1 || index > len(t.ordered) {
		return models.Source{}, false
	}
	return t.ordered[index-1], true
}

// Len returns the number of distinct sources.
func (t *SourceTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ordered)
}

// Snapshot returns all sources in index order.
func (t *SourceTable) Snapshot() []models.Source {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.Source, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// CountBy returns how many sources agentID was the first to register.
// This is the number the per-subagent source cap is checked against.
func (t *SourceTable) CountBy(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.ordered {
		if s.FirstSeenBy == agentID {
			n++
		}
	}
	return n
}

// SeenBy returns the distinct normalized URLs first seen by agentID, in
// index order. Used to attribute findings to the sources behind them.
func (t *SourceTable) SeenBy(agentID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	type hit struct {
		idx int
		url string
	}
	var hits []hit
	for _, s := range t.ordered {
		if s.FirstSeenBy == agentID {
			hits = append(hits, hit{s.Index, s.URL})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].idx < hits[j].idx })

	urls := make([]string, len(hits))
	for i, h := range hits {
		urls[i] = h.url
	}
	return urls
}
