package sensor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Factory builds a configured sensor from its options block.
type Factory func(deps Deps, opts map[string]json.RawMessage) (Sensor, error)

// Registry maps configured sensor type names to factories. The set is
// closed at startup: an unknown name is a configuration error, not a
// runtime lookup failure.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in sensor types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(TypeI2SMic, NewI2SMic)
	r.Register(TypeExternalMic, NewExternalMic)
	return r
}

// Register adds a sensor type. Later registrations replace earlier ones.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New builds the named sensor type.
func (r *Registry) New(name string, deps Deps, opts map[string]json.RawMessage) (Sensor, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("sensor: unknown type %q (known: %s)", name, strings.Join(r.Known(), ", "))
	}
	return f(deps, opts)
}

// Known lists registered type names, sorted.
func (r *Registry) Known() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
