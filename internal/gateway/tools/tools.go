// Package tools defines the executors the gateway can dispatch to, and the
// registry the invocation endpoint and the approval resumer share.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownTool  = errors.New("tools: unknown tool")
	ErrBadArguments = errors.New("tools: invalid arguments")
)

// Invocation carries the identity a tool call runs under. For resumed
// approvals this is the original caller's grant, never the resolver's.
type Invocation struct {
	SubjectID string
	ClientID  string
	Scopes    []string
}

// Executor is a single callable tool.
type Executor interface {
	// Name is the tool's wire name, e.g. "search".
	Name() string

	// Description is shown in discovery metadata.
	Description() string

	// RequiredScope is the scope a caller must hold to invoke the tool.
	RequiredScope() string

	// RequiresApproval reports whether calls must park for human
	// approval by default. Client policy can force this on regardless.
	RequiresApproval() bool

	// Execute runs the tool with the given raw JSON arguments.
	Execute(ctx context.Context, args json.RawMessage, inv Invocation) (json.RawMessage, error)
}

// Registry is a thread-safe name-to-executor map.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{tools: make(map[string]Executor, len(executors))}
	for _, e := range executors {
		r.Register(e)
	}
	return r
}

// Register adds or replaces an executor under its name.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[e.Name()] = e
}

// Get returns the executor for name.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return e, nil
}

// List returns all executors sorted by name, for discovery.
func (r *Registry) List() []Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Executor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
