package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kestrelhq/kestrel/pkg/session"
	"github.com/kestrelhq/kestrel/pkg/web"
)

// Tool names.
const (
	ToolWebSearch    = "web_search"
	ToolWebFetch     = "web_fetch"
	ToolCompleteTask = "complete_task"
	ToolRunSubagents = "run_subagents"
)

// maxFetchResultChars bounds how much page text one web_fetch returns to
// the LLM.
const maxFetchResultChars = 50_000

const webSearchSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 1, "description": "The search query"},
		"max_results": {"type": "integer", "minimum": 1, "maximum": 10}
	},
	"required": ["query"],
	"additionalProperties": false
}`

const webFetchSchema = `{
	"type": "object",
	"properties": {
		"url": {"type": "string", "minLength": 1, "description": "The URL to fetch"}
	},
	"required": ["url"],
	"additionalProperties": false
}`

const completeTaskSchema = `{
	"type": "object",
	"properties": {
		"findings": {"type": "string", "minLength": 1, "description": "Your complete findings for the task"},
		"source_indices": {
			"type": "array",
			"items": {"type": "integer", "minimum": 1},
			"description": "Indices of the sources your findings draw on"
		},
		"no_search_needed": {
			"type": "boolean",
			"description": "Set true only when the task genuinely requires no web research"
		}
	},
	"required": ["findings"],
	"additionalProperties": false
}`

const runSubagentsSchema = `{
	"type": "object",
	"properties": {
		"tasks": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"prompt": {"type": "string", "minLength": 1, "description": "Self-contained task description"},
					"budget_hint": {"type": "string", "enum": ["light", "medium", "heavy"]}
				},
				"required": ["prompt"],
				"additionalProperties": false
			}
		}
	},
	"required": ["tasks"],
	"additionalProperties": false
}`

// BuiltinDeps are the providers behind the builtin tools.
type BuiltinDeps struct {
	Search web.SearchProvider
	Fetch  web.FetchProvider

	// Sources is the owning session's source table; handlers register
	// every discovered URL here.
	Sources *session.SourceTable

	// SourceCap limits how many sources a single subagent may contribute
	// to the table. Zero means unlimited.
	SourceCap int

	// MaxResults is the default search result count.
	MaxResults int
}

// NewSessionRegistry builds the per-session tool registry: the builtin
// handlers close over the session's source table.
func NewSessionRegistry(deps BuiltinDeps) (*Registry, error) {
	r := NewRegistry()

	defs := []Definition{
		{
			Name:        ToolWebSearch,
			Description: "Search the web. Returns a numbered list of results with titles, URLs and snippets. Result numbers are stable source indices you can cite.",
			Schema:      webSearchSchema,
			Handler:     webSearchHandler(deps),
		},
		{
			Name:        ToolWebFetch,
			Description: "Fetch a web page and return its readable text content.",
			Schema:      webFetchSchema,
			Handler:     webFetchHandler(deps),
		},
		{
			Name:        ToolCompleteTask,
			Description: "Finish your task by reporting complete findings. This must be your final action.",
			Schema:      completeTaskSchema,
			Roles:       []string{RoleSubagent},
			Control:     true,
		},
		{
			Name:        ToolRunSubagents,
			Description: "Dispatch research subagents. Each task must be self-contained; subagents share no conversation state with you.",
			Schema:      runSubagentsSchema,
			Roles:       []string{RoleLead},
			Control:     true,
		},
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func webSearchHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, inv Invocation) (string, error) {
		query, _ := inv.Args["query"].(string)
		maxResults := deps.MaxResults
		if n, ok := inv.Args["max_results"].(float64); ok && n > 0 {
			maxResults = int(n)
		}

		hits, err := deps.Search.Search(ctx, query, maxResults)
		if err != nil {
			return "", err
		}
		if len(hits) == 0 {
			return "No results found. Try rephrasing the query.", nil
		}

		var b strings.Builder
		registered := 0
		for _, hit := range hits {
			if capReached(deps, inv.SubagentID) && !known(deps.Sources, hit.URL) {
				continue
			}
			idx := deps.Sources.Add(inv.SubagentID, hit.URL, hit.Title, hit.Snippet)
			fmt.Fprintf(&b, "[%d] %s\n%s\n%s\n\n", idx, hit.Title, hit.URL, hit.Snippet)
			registered++
		}
		if registered == 0 {
			return "Source limit reached; no new results could be recorded.", nil
		}
		return strings.TrimSpace(b.String()), nil
	}
}

func webFetchHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, inv Invocation) (string, error) {
		pageURL, _ := inv.Args["url"].(string)

		page, err := deps.Fetch.Fetch(ctx, pageURL)
		if err != nil {
			return "", err
		}

		content := truncate(page.Content, maxFetchResultChars)
		if capReached(deps, inv.SubagentID) && !known(deps.Sources, page.URL) {
			return fmt.Sprintf("%s\n%s\n(source limit reached; this page was not recorded and cannot be cited)\n\n%s",
				page.Title, page.URL, content), nil
		}
		idx := deps.Sources.Add(inv.SubagentID, page.URL, page.Title, "")
		return fmt.Sprintf("[%d] %s\n%s\n\n%s", idx, page.Title, page.URL, content), nil
	}
}

// capReached reports whether agentID has contributed its full source
// allowance. Re-registering an already known URL stays allowed; it assigns
// no new index.
func capReached(deps BuiltinDeps, agentID string) bool {
	return deps.SourceCap > 0 && deps.Sources.CountBy(agentID) >= deps.SourceCap
}

func known(t *session.SourceTable, rawURL string) bool {
	_, ok := t.Lookup(rawURL)
	return ok
}

// truncate cuts content to at most limit bytes without splitting a rune.
func truncate(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "\n\n[content truncated]"
}
