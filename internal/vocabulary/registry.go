package vocabulary

import (
	"sort"
	"strings"
	"sync"

	"github.com/rendis/diagrammer/pkg/schema"
)

// Kind describes a registered node kind and the primitive used to draw it.
type Kind struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Shape       string   `json:"shape"`
	Color       string   `json:"color,omitempty"`
	Description string   `json:"description,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}

// Registry is a thread-safe set of node kinds. The validator only consults
// Has and Suggest; renderers read the full descriptor through Get.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Kind),
	}
}

// NewDefault returns a registry holding the built-in kinds.
func NewDefault() *Registry {
	r := NewRegistry()
	for _, k := range Builtin() {
		_ = r.Register(k)
	}
	return r
}

// Register adds a kind. Returns error on empty or duplicate name.
func (r *Registry) Register(k Kind) error {
	k.Name = strings.TrimSpace(k.Name)
	if k.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "kind name is empty")
	}
	if k.Shape == "" {
		k.Shape = ShapeBox
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[k.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "kind %q already registered", k.Name)
	}
	r.kinds[k.Name] = k
	return nil
}

// Get retrieves a kind by exact name.
func (r *Registry) Get(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.kinds[name]
	if !ok {
		return Kind{}, schema.NewErrorf(schema.ErrCodeNotFound, "kind %q not registered", name)
	}
	return k, nil
}

// Has checks if a kind is registered under the exact name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[name]
	return ok
}

// Names returns all registered kind names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.kinds))
	for n := range r.kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Count returns the number of registered kinds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kinds)
}

// Suggest returns the registered kind closest to name, if any is close enough.
func (r *Registry) Suggest(name string) (string, bool) {
	return nearest(name, r.List())
}
