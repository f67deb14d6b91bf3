package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"relay/internal/llm"
)

// Registration binds an action name to its compiled argument schema and
// handler.
type Registration struct {
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler

	rawSchema json.RawMessage
}

// Registry is the explicit, injected mapping of action name to
// {schema, handler}. It is resolved once at startup and read-only
// afterwards, so dispatch never depends on registration order or
// import-time side effects.
type Registry struct {
	entries map[string]*Registration
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Registration)}
}

// Register compiles schemaJSON and binds it with the handler under the
// handler's name. Duplicate names are a configuration bug and fail loudly.
func (r *Registry) Register(description string, schemaJSON []byte, handler Handler) error {
	name := handler.Name()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema for %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", name, err)
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	r.entries[name] = &Registration{
		Description: description,
		Schema:      schema,
		Handler:     handler,
		rawSchema:   json.RawMessage(schemaJSON),
	}
	r.order = append(r.order, name)
	return nil
}

// Get returns the registration for name.
func (r *Registry) Get(name string) (*Registration, bool) {
	reg, ok := r.entries[name]
	return reg, ok
}

// Schemas renders the registered tools for the provider request, in
// registration order.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		reg := r.entries[name]
		out = append(out, llm.ToolSchema{
			Name:        name,
			Description: reg.Description,
			Parameters:  reg.rawSchema,
		})
	}
	return out
}
