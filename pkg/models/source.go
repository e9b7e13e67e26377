package models

import "time"

// Source is a unique web resource referenced during a run. Sources are
// deduplicated per run by normalized URL; the first-seen order defines the
// citation index.
type Source struct {
	// URL is the normalized URL (lowercase host, no fragment, tracking
	// query keys stripped). This is the dedup key.
	URL string `json:"url"`

	// RawURL is the URL as originally returned by the provider.
	RawURL string `json:"raw_url,omitempty"`

	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`

	// Index is the 1-based citation index assigned at merge time.
	Index int `json:"index"`

	// FirstSeenBy is the subagent ID (or "lead") that contributed the source.
	FirstSeenBy string    `json:"first_seen_by,omitempty"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}
