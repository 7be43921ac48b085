package records

import (
	"sort"
	"strings"

	"pagestore/pkg/models"
)

// Registry maps well-known record keys to the factory that creates them
// on first access. Keys can be bound exactly or by prefix: a prefix
// binding covers a whole family of per-page keys like
// "top-contributor.<page>". Keys matching neither are read-only through
// the HTTP surface: a lookup never creates them.
type Registry struct {
	factories map[string]Factory
	prefixes  map[string]func(rest string) (models.RecordSpec, error)
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		prefixes:  make(map[string]func(rest string) (models.RecordSpec, error)),
	}
}

// Register binds a factory to a well-known key. Later registrations for
// the same key win, so callers can override the defaults.
func (r *Registry) Register(key string, f Factory) {
	r.factories[key] = f
}

// RegisterPrefix binds a spec builder to a key prefix. The builder
// receives the part of the key after the prefix, which must be non-empty.
func (r *Registry) RegisterPrefix(prefix string, build func(rest string) (models.RecordSpec, error)) {
	r.prefixes[prefix] = build
}

// Factory returns the factory for key, or nil when the key is not
// well-known. Exact bindings win over prefixes; among prefixes the
// longest match wins.
func (r *Registry) Factory(key string) Factory {
	if f, ok := r.factories[key]; ok {
		return f
	}
	best := ""
	for p := range r.prefixes {
		if len(p) > len(best) && strings.HasPrefix(key, p) && len(key) > len(p) {
			best = p
		}
	}
	if best == "" {
		return nil
	}
	build := r.prefixes[best]
	rest := key[len(best):]
	return func() (models.RecordSpec, error) { return build(rest) }
}

// Keys lists the registered well-known keys. Prefix families appear as
// the bare prefix, marking where per-page keys hang.
func (r *Registry) Keys() []string {
	out := make([]string, 0, len(r.factories)+len(r.prefixes))
	for k := range r.factories {
		out = append(out, k)
	}
	for p := range r.prefixes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns the registry of records the service itself
// depends on. List-style records are created locked so only maintainers
// can edit them through the remote UI; top-contributor records exist per
// page and stay editable.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("admin-list", listFactory("Admin list", true))
	r.Register("ban-list", listFactory("Ban list", true))
	r.Register("donators", listFactory("Donators", false))
	r.RegisterPrefix("top-contributor.", func(page string) (models.RecordSpec, error) {
		return models.RecordSpec{Title: "Top contributor: " + page}, nil
	})
	return r
}

func listFactory(title string, lock bool) Factory {
	return func() (models.RecordSpec, error) {
		return models.RecordSpec{Title: title, Body: "", Lock: lock}, nil
	}
}
