// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry provides the name-keyed table of streaming operation
// descriptors. The registry is populated once during the hosting
// application's single-threaded bootstrap phase and is read-mostly
// thereafter; it supports no unregistration.
package registry

import (
	"sort"
	"sync"

	"github.com/go-toolstream/toolstream"
)

// Registry is a name-keyed table of streaming operations. The zero value is
// not usable; construct one with New. Registries are explicit instances
// owned by the host's composition root, never package-level singletons.
type Registry struct {
	mu         sync.RWMutex
	operations map[string]*toolstream.StreamingOperation
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		operations: make(map[string]*toolstream.StreamingOperation),
	}
}

// Register inserts or replaces the entry for the operation's name.
// Replacement is explicit and silent: the last writer wins. The only
// validation is that the operation carries a name and an execute handler.
func (r *Registry) Register(op *toolstream.StreamingOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[op.Name] = op
	return nil
}

// Get returns the operation registered under name. It never errors; absence
// is reported through the boolean.
func (r *Registry) Get(name string) (*toolstream.StreamingOperation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.operations[name]
	return op, ok
}

// Has reports whether an operation is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.operations[name]
	return ok
}

// List returns the name, description, and capabilities of every registered
// operation, sorted by name for stable capability-discovery output.
func (r *Registry) List() []toolstream.OperationSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]toolstream.OperationSummary, 0, len(r.operations))
	for _, op := range r.operations {
		summaries = append(summaries, toolstream.OperationSummary{
			Name:         op.Name,
			Description:  op.Description,
			Capabilities: op.Capabilities,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}

// Count returns the number of registered operations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.operations)
}
