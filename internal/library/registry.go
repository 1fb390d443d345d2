package library

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	starctx "github.com/leapstack-labs/pegtmpl/internal/starlark"
	"go.starlark.net/starlark"
)

// ReservedNamespaces cannot be used for action files: they are bound in
// every code block.
var ReservedNamespaces = []string{
	starctx.TextName,
	starctx.LocationName,
	starctx.OptionsName,
	starctx.StructName,
}

// Registry holds loaded modules by namespace. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// Register adds m. Reserved and duplicate namespaces are rejected.
func (r *Registry) Register(m *Module) error {
	if slices.Contains(ReservedNamespaces, m.Namespace) {
		return &RegistryError{Namespace: m.Namespace, Message: "namespace is reserved"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.modules[m.Namespace]; ok {
		return &RegistryError{
			Namespace: m.Namespace,
			Message:   fmt.Sprintf("namespace already defined by %s", existing.Path),
		}
	}
	r.modules[m.Namespace] = m
	return nil
}

// RegisterAll registers modules in order, stopping at the first error.
func (r *Registry) RegisterAll(modules []*Module) error {
	for _, m := range modules {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the module for namespace, or nil.
func (r *Registry) Get(namespace string) *Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules[namespace]
}

// Has reports whether namespace is registered.
func (r *Registry) Has(namespace string) bool {
	return r.Get(namespace) != nil
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// Namespaces returns the registered namespaces, sorted.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Modules returns the registered modules ordered by namespace.
func (r *Registry) Modules() []*Module {
	names := r.Namespaces()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Module, 0, len(names))
	for _, name := range names {
		out = append(out, r.modules[name])
	}
	return out
}

// Lookup resolves a slot reference to a function. ref is
// "namespace.name", or a bare "name" exported by exactly one namespace.
func (r *Registry) Lookup(ref string) (*starlark.Function, error) {
	ns, name, qualified := strings.Cut(ref, ".")
	if !qualified {
		name, ns = ns, ""
		var found []string
		for _, candidate := range r.Namespaces() {
			if _, ok := r.Get(candidate).Exports[name]; ok {
				found = append(found, candidate)
			}
		}
		switch len(found) {
		case 0:
			return nil, fmt.Errorf("action %q is not defined", ref)
		case 1:
			ns = found[0]
		default:
			return nil, fmt.Errorf("action %q is ambiguous: defined in %s", ref, strings.Join(found, ", "))
		}
	}

	m := r.Get(ns)
	if m == nil {
		return nil, fmt.Errorf("action %q: namespace %q is not defined", ref, ns)
	}
	v, ok := m.Exports[name]
	if !ok {
		return nil, fmt.Errorf("action %q: %s does not define %q", ref, ns, name)
	}
	fn, ok := v.(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("action %q: %s is not a function", ref, v.Type())
	}
	return fn, nil
}

// RegistryError represents a registration failure.
type RegistryError struct {
	Namespace string
	Message   string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("actions namespace %q: %s", e.Namespace, e.Message)
}

// LoadAndRegister loads every action file in dir into a new registry.
func LoadAndRegister(dir string, logger *slog.Logger) (*Registry, error) {
	modules, err := NewLoader(dir, logger).Load()
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	if err := r.RegisterAll(modules); err != nil {
		return nil, err
	}
	return r, nil
}
