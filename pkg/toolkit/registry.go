package toolkit

import (
	"fmt"
	"sort"
	"sync"
)

// entry pairs a Tool with the category it was registered under.
type entry struct {
	tool     Tool
	category string
}

// Registry maps tool names to Tools, derives schemas, and dispatches
// execution with argument validation (spec.md §4.4). It owns its
// name-keyed store directly rather than wrapping a separate generic
// registry package: the tool registry is the only named-lookup table
// the kernel needs, so a standalone generic abstraction over it would
// be indirection without a second caller to justify it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry constructs an empty tool Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool under the given category. Fails if the name is
// already registered.
func (r *Registry) Register(tool Tool, category string) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("toolkit: tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("toolkit: tool %q already registered", name)
	}
	r.entries[name] = entry{tool: tool, category: category}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return fmt.Errorf("toolkit: tool %q not found", name)
	}
	delete(r.entries, name)
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// sortedNames returns registered tool names in deterministic order. Caller
// must hold at least r.mu.RLock().
func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns definitions for every registered tool, optionally filtered
// to a single category, in deterministic name order.
func (r *Registry) List(category string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.entries))
	for _, name := range r.sortedNames() {
		e := r.entries[name]
		if category != "" && e.category != category {
			continue
		}
		defs = append(defs, Definition{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Category:    e.category,
		})
	}
	return defs
}

// Schemas returns the derived JSON schema for every registered tool,
// optionally filtered to a single category.
func (r *Registry) Schemas(category string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.entries))
	for _, name := range r.sortedNames() {
		e := r.entries[name]
		if category != "" && e.category != category {
			continue
		}
		defs = append(defs, ToDefinition(e.tool, e.category))
	}
	return defs
}

// Execute validates arguments then dispatches to the named tool. An
// unknown tool returns a failed Result rather than an error (spec.md §4.4).
func (r *Registry) Execute(name string, args map[string]any) Result {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Result{Success: false, Error: "Tool not found"}
	}

	if err := validateArgs(e.tool, args); err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	return e.tool.Execute(args)
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
