// Package tools provides the tool registry and the executor that enforces
// argument validation, duplicate-query rejection and budget charging at a
// single choke point for every agent.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kestrelhq/kestrel/pkg/agent"
)

// Agent roles used for tool visibility.
const (
	RoleLead     = "lead"
	RoleSubagent = "subagent"
)

// Invocation carries one validated tool call into a handler.
type Invocation struct {
	SessionID  string
	SubagentID string
	Args       map[string]any
}

// Handler executes a tool and returns its text output. Errors are
// classified by the executor into structured tool results.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// Definition describes one registered tool.
type Definition struct {
	Name        string
	Description string
	Schema      string // JSON Schema for arguments

	// Roles that can see this tool. Empty means all roles.
	Roles []string

	// Control tools (complete_task, run_subagents) are intercepted by
	// controllers and never dispatched through a handler.
	Control bool

	Handler Handler

	compiled *jsonschema.Schema
}

// visibleTo reports whether a role may use this tool.
func (d *Definition) visibleTo(role string) bool {
	if len(d.Roles) == 0 {
		return true
	}
	for _, r := range d.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ValidateArgs parses and schema-validates a raw JSON argument string.
func (d *Definition) ValidateArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := d.compiled.Validate(doc); err != nil {
		return nil, fmt.Errorf("arguments do not match schema: %w", err)
	}
	args, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return args, nil
}

// Registry holds all registered tool definitions.
type Registry struct {
	defs  map[string]*Definition
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register compiles the tool's schema and adds it to the registry.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition has no name")
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	if !def.Control && def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(def.Schema))
	if err != nil {
		return fmt.Errorf("tool %q schema is not valid JSON: %w", def.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	resource := def.Name + ".schema.json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return fmt.Errorf("tool %q schema: %w", def.Name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("compiling tool %q schema: %w", def.Name, err)
	}
	def.compiled = compiled

	r.defs[def.Name] = &def
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns a registered definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// DefinitionsFor returns LLM-facing tool definitions visible to a role,
// in registration order.
func (r *Registry) DefinitionsFor(role string) []agent.ToolDefinition {
	var out []agent.ToolDefinition
	for _, name := range r.order {
		def := r.defs[name]
		if !def.visibleTo(role) {
			continue
		}
		out = append(out, agent.ToolDefinition{
			Name:             def.Name,
			Description:      def.Description,
			ParametersSchema: def.Schema,
		})
	}
	return out
}
