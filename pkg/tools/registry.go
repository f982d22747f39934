// Package tools implements the tool registry: descriptor registration,
// per-agent resolution with allow-list filtering, schema validation, and
// dispatch to builtin handlers or external MCP servers.
package tools

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
)

// Invocation carries the caller context into a tool handler.
type Invocation struct {
	AgentID       string
	ChannelID     string
	RequestID     string
	CorrelationID string
	ToolCallID    string
	Args          map[string]any
}

// Handler executes a builtin tool. Expected failures are data in the
// returned value, not Go errors; errors signal infrastructure faults.
type Handler func(ctx context.Context, inv Invocation) (any, error)

// registration is one registered tool with its compiled schema.
type registration struct {
	desc    models.ToolDescriptor
	handler Handler
	schema  *jsonschema.Schema
}

// Registry holds tool descriptors, unique by (name, scope).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registration // key: scope + "/" + name
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registration)}
}

func regKey(scope models.ToolScope, name string) string {
	return string(scope) + "/" + name
}

// Register adds a tool. handler is nil for external tools. Fails when the
// (name, scope) pair is already taken or the input schema does not compile.
func (r *Registry) Register(desc models.ToolDescriptor, handler Handler) error {
	if desc.Name == "" {
		return mxerr.New(mxerr.CodeValidationError, "tool name is required")
	}
	if desc.Scope == "" {
		desc.Scope = models.ScopeGlobal
	}

	var schema *jsonschema.Schema
	if desc.InputSchema != "" {
		compiler := jsonschema.NewCompiler()
		resource := desc.Name + ".schema.json"
		if err := compiler.AddResource(resource, strings.NewReader(desc.InputSchema)); err != nil {
			return fmt.Errorf("failed to load schema for tool %s: %w", desc.Name, err)
		}
		var err error
		schema, err = compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("failed to compile schema for tool %s: %w", desc.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := regKey(desc.Scope, desc.Name)
	if _, exists := r.tools[key]; exists {
		return mxerr.Newf(mxerr.CodeAlreadyExists, "tool %q already registered in scope %s", desc.Name, desc.Scope)
	}
	r.tools[key] = &registration{desc: desc, handler: handler, schema: schema}
	return nil
}

// Unregister removes a tool. Unknown tools are ignored.
func (r *Registry) Unregister(scope models.ToolScope, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, regKey(scope, name))
}

// UnregisterServer removes every tool sourced from an MCP server.
func (r *Registry) UnregisterServer(serverID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, reg := range r.tools {
		if reg.desc.Source.ServerID() == serverID {
			delete(r.tools, key)
			removed++
		}
	}
	return removed
}

// Resolve finds the tool an agent may call by name. Channel-scoped
// descriptors shadow global ones; the channel and agent allow-lists filter
// afterwards. A tool that exists but is filtered out returns TOOL_FORBIDDEN.
func (r *Registry) Resolve(name, channelID string, channelAllowed, agentAllowed []string) (*models.ToolDescriptor, error) {
	r.mu.RLock()
	reg, found := r.tools[regKey(models.ChannelScope(channelID), name)]
	if !found {
		reg, found = r.tools[regKey(models.ScopeGlobal, name)]
	}
	r.mu.RUnlock()

	if !found {
		return nil, mxerr.Newf(mxerr.CodeToolNotFound, "tool %q is not registered", name)
	}
	if channelAllowed != nil && !slices.Contains(channelAllowed, name) {
		return nil, mxerr.Newf(mxerr.CodeToolForbidden, "tool %q is not allowed in channel %s", name, channelID)
	}
	if agentAllowed != nil && !slices.Contains(agentAllowed, name) {
		return nil, mxerr.Newf(mxerr.CodeToolForbidden, "tool %q is not in the agent's allowed set", name)
	}
	desc := reg.desc
	return &desc, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Category    string
	Source      string // "builtin", "external", or a specific "external:<id>"
	NamePattern string // substring match
	Limit       int
}

// List returns the descriptors visible in a channel, filtered and sorted by
// name. channelID "" lists global tools only.
func (r *Registry) List(channelID string, filter ListFilter) []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ToolDescriptor
	for _, reg := range r.tools {
		d := reg.desc
		if d.Scope != models.ScopeGlobal && d.Scope.ChannelID() != channelID {
			continue
		}
		if filter.Category != "" && d.Category != filter.Category {
			continue
		}
		if filter.Source != "" && !matchSource(d.Source, filter.Source) {
			continue
		}
		if filter.NamePattern != "" && !strings.Contains(d.Name, filter.NamePattern) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func matchSource(source models.ToolSource, want string) bool {
	if want == "external" {
		return source.ServerID() != ""
	}
	return string(source) == want
}

// Has reports whether a tool name is registered in any scope visible to the
// channel.
func (r *Registry) Has(name, channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tools[regKey(models.ChannelScope(channelID), name)]; ok {
		return true
	}
	_, ok := r.tools[regKey(models.ScopeGlobal, name)]
	return ok
}

// lookup returns the live registration for dispatch.
func (r *Registry) lookup(scope models.ToolScope, name string) (*registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[regKey(scope, name)]
	return reg, ok
}
