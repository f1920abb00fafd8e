// Package tools defines the tools a model may call during a run and the
// registry that publishes their schemas.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/keyur7523/koda/internal/workspace"
)

// ErrMissingArgument is returned when a required tool argument is absent.
var ErrMissingArgument = errors.New("missing required argument")

// Category groups tools by what they touch.
type Category string

const (
	CategoryFiles   Category = "files"
	CategorySearch  Category = "search"
	CategoryShell   Category = "shell"
	CategorySymbols Category = "symbols"
	CategoryLedger  Category = "ledger"
)

// Handler executes a tool against the run's workspace and returns the text
// fed back to the model.
type Handler func(ctx context.Context, ws *workspace.Workspace, args Args) (string, error)

// Param describes one tool argument.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Spec is a registered tool.
type Spec struct {
	Name        string
	Description string
	Category    Category
	Params      []Param

	// ReadOnly tools never mutate files and are offered while the model
	// explores the codebase.
	ReadOnly bool

	Handler Handler
}

// InputSchema returns the JSON-schema object describing the tool's input.
func (s *Spec) InputSchema() map[string]any {
	props := make(map[string]any, len(s.Params))
	required := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		props[p.Name] = map[string]any{
			"type":        typ,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Registry maps tool names to specs, preserving registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Spec)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(spec *Spec) error {
	if spec == nil || spec.Name == "" {
		return errors.New("tool name is required")
	}
	if spec.Handler == nil {
		return fmt.Errorf("tool %s has no handler", spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	r.tools[spec.Name] = spec
	r.order = append(r.order, spec.Name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	return spec, ok
}

// List returns the tools in registration order. With readOnly set, only
// tools that cannot mutate files are returned.
func (r *Registry) List(readOnly bool) []*Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Spec, 0, len(r.order))
	for _, name := range r.order {
		spec := r.tools[name]
		if readOnly && !spec.ReadOnly {
			continue
		}
		out = append(out, spec)
	}
	return out
}

// ListByCategory returns the tools in a category.
func (r *Registry) ListByCategory(category Category) []*Spec {
	var out []*Spec
	for _, spec := range r.List(false) {
		if spec.Category == category {
			out = append(out, spec)
		}
	}
	return out
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
