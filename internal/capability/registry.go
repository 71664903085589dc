// Package capability models the named, schema-described operations that
// subordinate agents expose and the controller invokes.
//
// Resolution is a plain lookup by name. A Registry holds local handlers; the
// mcp package provides a remote Invoker backed by an agent process, and Chain
// combines several invokers into one namespace.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned when no capability is registered under a name.
	ErrNotFound = errors.New("capability not found")
	// ErrInvalidArguments is returned when arguments do not match the declared schema.
	ErrInvalidArguments = errors.New("invalid capability arguments")
	// ErrDuplicate is returned when registering a name twice.
	ErrDuplicate = errors.New("capability already registered")
)

// ParamType is the JSON type of a capability parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
)

// Param declares one parameter of a capability.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Args are the arguments of one invocation, keyed by parameter name.
type Args map[string]any

// Result is the structured output of a successful invocation.
type Result map[string]any

// Handler implements a capability. Returning an error fails the step; use
// Fail for capability-reported inability so callers can tell it apart from
// transport problems.
type Handler func(ctx context.Context, args Args) (Result, error)

// Capability is a named operation with a fixed parameter schema.
type Capability struct {
	Name        string
	Description string
	Params      []Param
	// LongRunning marks operations that may block for a long time, such as a
	// human approval. Callers give them a longer timeout.
	LongRunning bool
	Handler     Handler
}

// Param returns the declared parameter with the given name.
func (c Capability) Param(name string) (Param, bool) {
	for _, p := range c.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Invoker resolves and calls capabilities by name.
type Invoker interface {
	Lookup(name string) (Capability, bool)
	Invoke(ctx context.Context, name string, args Args) (Result, error)
}

// Registry is an in-process Invoker. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]Capability
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability.
func (r *Registry) Register(c Capability) error {
	if c.Name == "" {
		return errors.New("capability name is required")
	}
	if c.Handler == nil {
		return fmt.Errorf("capability %s: handler is required", c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, c.Name)
	}
	r.caps[c.Name] = c
	r.order = append(r.order, c.Name)
	return nil
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// List returns all capabilities in registration order.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.caps[name])
	}
	return out
}

// Invoke validates args against the declared schema and calls the handler.
// A panicking handler is reported as an error.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (res Result, err error) {
	c, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	normalized, err := Validate(c, args)
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("capability %s panicked: %v", name, p)
		}
	}()

	return c.Handler(ctx, normalized)
}

// Chain is an Invoker that searches each member in order.
type Chain []Invoker

// Lookup returns the first match across the chain.
func (ch Chain) Lookup(name string) (Capability, bool) {
	for _, inv := range ch {
		if c, ok := inv.Lookup(name); ok {
			return c, true
		}
	}
	return Capability{}, false
}

// Invoke calls the first member that knows name.
func (ch Chain) Invoke(ctx context.Context, name string, args Args) (Result, error) {
	for _, inv := range ch {
		if _, ok := inv.Lookup(name); ok {
			return inv.Invoke(ctx, name, args)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}
