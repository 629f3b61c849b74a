package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Spec describes one catalog entry as exposed to the model provider.
type Spec struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema

	// SideEffecting marks tools that mutate external state. Only
	// side-effecting tools are ever subject to confirmation.
	SideEffecting bool
}

// Handler executes one tool call with already-decoded raw arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Registry is the closed catalog of built-in tools plus their executors.
type Registry struct {
	order    []string
	specs    map[string]Spec
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specs:    make(map[string]Spec),
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool. Registering a duplicate name is a programming error.
func (r *Registry) Register(spec Spec, handler Handler) {
	name := strings.ToLower(spec.Name)
	if _, exists := r.specs[name]; exists {
		panic(fmt.Sprintf("BUG: tool %q registered twice", name))
	}
	spec.Name = name
	r.order = append(r.order, name)
	r.specs[name] = spec
	r.handlers[name] = handler
}

// Spec looks up a catalog entry by name.
func (r *Registry) Spec(name string) (Spec, bool) {
	spec, ok := r.specs[strings.ToLower(strings.TrimSpace(name))]
	return spec, ok
}

// Specs returns catalog entries for the given allowed names, in registration
// order. Unknown names are skipped; they may belong to skills whose tools
// are not built-in.
func (r *Registry) Specs(allowed []string) []Spec {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowSet[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	var out []Spec
	for _, name := range r.order {
		if _, ok := allowSet[name]; ok {
			out = append(out, r.specs[name])
		}
	}
	return out
}

// Dispatch runs the named tool. Unknown tools are an execution error whose
// text flows back into the conversation like any other tool failure.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	handler, ok := r.handlers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return handler(ctx, args)
}

// mustSchema derives the JSON schema for an input type at startup.
func mustSchema[T any]() *jsonschema.Schema {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("BUG: deriving schema: %v", err))
	}
	return schema
}

// decodeArgs converts loosely-typed call arguments into the tool's input
// struct. This is the single point where argument shape is validated.
func decodeArgs[T any](args map[string]any) (T, error) {
	var input T
	data, err := json.Marshal(args)
	if err != nil {
		return input, fmt.Errorf("encoding arguments: %w", err)
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return input, fmt.Errorf("invalid arguments: %w", err)
	}
	return input, nil
}
