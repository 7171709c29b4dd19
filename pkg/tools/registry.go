// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jllopis/mneme/pkg/errors"
	"github.com/jllopis/mneme/pkg/llm"
)

// Registry is the descriptor table the runtime dispatches from. A tool
// absent from the registry cannot be invoked at all; availability is
// decided here, at construction, not per call.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds a descriptor. Names are unique; registering one twice
// is a wiring mistake surfaced as an error.
func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New(errors.CodeInvalidInput, "tool name is required", nil)
	}
	if d.Handler == nil {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("tool %q has no handler", d.Name), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; exists {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("tool %q already registered", d.Name), nil)
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// RegisterAll registers descriptors in order, stopping at the first error.
func (r *Registry) RegisterAll(descriptors ...Descriptor) error {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns how many tools are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Definitions returns the wire tool definitions in registration order.
func (r *Registry) Definitions() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.byName[name].Definition())
	}
	return defs
}

// Without returns a copy of the registry with the named tools removed.
// Subagent sessions use this to drop the delegation tool.
func (r *Registry) Without(names ...string) *Registry {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for _, name := range r.order {
		if drop[name] {
			continue
		}
		out.byName[name] = r.byName[name]
		out.order = append(out.order, name)
	}
	return out
}
