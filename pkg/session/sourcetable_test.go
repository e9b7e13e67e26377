package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"keeps non-default port", "https://example.com:8443/a", "https://example.com:8443/a"},
		{"drops fragment", "https://example.com/a#section-2", "https://example.com/a"},
		{"drops trailing slash", "https://example.com/a/b/", "https://example.com/a/b"},
		{"bare root collapses", "https://example.com/", "https://example.com"},
		{"strips utm and click trackers", "https://example.com/a?utm_source=x&utm_medium=y&gclid=123&q=go", "https://example.com/a?q=go"},
		{"strips fbclid and ref", "https://example.com/a?fbclid=z&ref=hn", "https://example.com/a"},
		{"sorts surviving query params", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"trims whitespace", "  https://example.com/a  ", "https://example.com/a"},
		{"unparseable passes through", "not a url at all", "not a url at all"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeURL(tc.in))
		})
	}
}

func TestSourceTableFirstSeenWins(t *testing.T) {
	tbl := NewSourceTable()

	i1 := tbl.Add("sub-1", "https://example.com/page?utm_source=mail", "Example Page", "snippet one")
	i2 := tbl.Add("sub-2", "https://example.com/page", "Other Title", "snippet two")

	assert.Equal(t, 1, i1)
	assert.Equal(t, i1, i2, "normalized duplicates share one index")
	assert.Equal(t, 1, tbl.Len())

	src, ok := tbl.Lookup("https://example.com/page")
	require.True(t, ok)
	assert.Equal(t, "sub-1", src.FirstSeenBy)
	assert.Equal(t, "Example Page", src.Title, "first title wins")
	assert.Equal(t, "snippet one", src.Snippet)
}

func TestSourceTableBackfillsEmptyTitle(t *testing.T) {
	tbl := NewSourceTable()

	tbl.Add("sub-1", "https://example.com/a", "", "")
	tbl.Add("sub-2", "https://example.com/a", "Found Later", "")

	src, ok := tbl.Get(1)
	require.True(t, ok)
	assert.Equal(t, "Found Later", src.Title)
	assert.Equal(t, "sub-1", src.FirstSeenBy)
}

func TestSourceTableStableIndices(t *testing.T) {
	tbl := NewSourceTable()

	assert.Equal(t, 1, tbl.Add("a", "https://one.example", "", ""))
	assert.Equal(t, 2, tbl.Add("a", "https://two.example", "", ""))
	assert.Equal(t, 3, tbl.Add("b", "https://three.example", "", ""))
	assert.Equal(t, 1, tbl.Add("b", "https://one.example", "", ""), "re-adding keeps the original index")

	snap := tbl.Snapshot()
	require.Len(t, snap, 3)
	for i, s := range snap {
		assert.Equal(t, i+1, s.Index)
	}
}

func TestSourceTableSeenBy(t *testing.T) {
	tbl := NewSourceTable()
	tbl.Add("sub-1", "https://a.example", "", "")
	tbl.Add("sub-2", "https://b.example", "", "")
	tbl.Add("sub-1", "https://c.example", "", "")

	assert.Equal(t, []string{"https://a.example", "https://c.example"}, tbl.SeenBy("sub-1"))
	assert.Equal(t, []string{"https://b.example"}, tbl.SeenBy("sub-2"))
	assert.Empty(t, tbl.SeenBy("sub-3"))
}
