// Package citation implements the post-synthesis citation pass: an LLM
// inserts opaque anchor markers into the draft, the text is verified
// byte-identical modulo anchors, and the anchors are rendered into the
// configured citation style with a mechanical References section.
package citation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kestrelhq/kestrel/pkg/config"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// anchorRe matches the sentinel anchors the citation model inserts. The
// brackets are chosen so they cannot collide with Markdown prose the way
// [n] would.
var anchorRe = regexp.MustCompile(`⟦(\d+)⟧`)

// citedRe extracts the anchored report from the model's tagged output.
var citedRe = regexp.MustCompile(`(?s)<cited>(.*)</cited>`)

// ExtractCited pulls the anchored report out of the model's response.
func ExtractCited(response string) (string, bool) {
	m := citedRe.FindStringSubmatch(response)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// StripAnchors removes every anchor, yielding the text that must match
// the original draft byte for byte.
func StripAnchors(text string) string {
	return anchorRe.ReplaceAllString(text, "")
}

// VerifyIdentity reports whether the anchored text is the original draft
// with nothing but anchors added.
func VerifyIdentity(original, anchored string) bool {
	return StripAnchors(anchored) == original
}

// Anchors returns every anchored source index in document order,
// including repeats.
func Anchors(text string) []int {
	matches := anchorRe.FindAllStringSubmatch(text, -1)
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// RenderAnchors replaces sentinel anchors with the configured citation
// style. Anchors referencing indices outside the source table are
// dropped.
func RenderAnchors(text string, style config.CitationStyle, maxIndex int) string {
	return anchorRe.ReplaceAllStringFunc(text, func(anchor string) string {
		n, err := strconv.Atoi(anchorRe.FindStringSubmatch(anchor)[1])
		if err != nil || n < 1 || n > maxIndex {
			return ""
		}
		if style == config.CitationStyleFootnote {
			return fmt.Sprintf("[^%d]", n)
		}
		return fmt.Sprintf("[%d]", n)
	})
}

// BuildReferences renders the References section for the given source
// indices, in ascending index order.
func BuildReferences(sources []models.Source, indices []int, style config.CitationStyle) string {
	bySource := make(map[int]models.Source, len(sources))
	for _, s := range sources {
		bySource[s.Index] = s
	}

	seen := make(map[int]bool, len(indices))
	ordered := make([]int, 0, len(indices))
	for _, n := range indices {
		if seen[n] {
			continue
		}
		if _, ok := bySource[n]; !ok {
			continue
		}
		seen[n] = true
		ordered = append(ordered, n)
	}
	sort.Ints(ordered)

	if len(ordered) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## References\n\n")
	for _, n := range ordered {
		s := bySource[n]
		title := s.Title
		if title == "" {
			title = s.URL
		}
		if style == config.CitationStyleFootnote {
			fmt.Fprintf(&sb, "[^%d]: [%s](%s)\n", n, title, s.URL)
		} else {
			fmt.Fprintf(&sb, "[%d] %s. Available at: %s\n", n, title, s.URL)
		}
	}
	return sb.String()
}

// AllIndices returns every source index, for degraded output where no
// verified anchors exist.
func AllIndices(sources []models.Source) []int {
	out := make([]int, len(sources))
	for i, s := range sources {
		out[i] = s.Index
	}
	return out
}
