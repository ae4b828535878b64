// Package indexable defines content types that can be indexed and searched,
// and the registry the index manager consults to find them.
package indexable

import (
	"context"
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Aman-CERP/indexkeeper/internal/cache"
	"github.com/Aman-CERP/indexkeeper/internal/search"
	"github.com/Aman-CERP/indexkeeper/internal/store"
)

// Document is a piece of content handed to the index manager.
type Document struct {
	ID     string         `json:"id"`
	Type   string         `json:"type,omitempty"`
	Fields map[string]any `json:"fields"`
}

// DocWriter is the write surface a content type needs. *store.Writer
// satisfies it.
type DocWriter interface {
	Index(id string, doc interface{}) error
	Delete(id string)
}

// Indexable knows the schema of one content type and how to write and
// query it.
type Indexable interface {
	Name() string
	// Priority orders types in fan-out; lower runs first.
	Priority() int
	Schema() (mapping.IndexMapping, error)

	Index(w DocWriter, doc Document) error
	Update(w DocWriter, doc Document) error
	Delete(w DocWriter, doc Document) error

	Search(ctx context.Context, r store.Reader, q *search.Query) (*search.Result, error)
	NgramSearch(ctx context.Context, r store.Reader, q *search.Query) (*search.Result, error)
	Suggest(ctx context.Context, r store.Reader, q *search.Query) (*search.Result, error)
	SuggestAndSearch(ctx context.Context, r store.Reader, q *search.Query) (*search.Result, error)
}

// Registry is the fixed set of known content types.
type Registry struct {
	byName  map[string]Indexable
	ordered []Indexable
}

// NewRegistry builds a registry. Names are matched after normalization and
// must be unique.
func NewRegistry(types ...Indexable) (*Registry, error) {
	r := &Registry{byName: make(map[string]Indexable, len(types))}
	for _, t := range types {
		key := cache.NormalizeType(t.Name())
		if key == "" {
			return nil, fmt.Errorf("content type with empty name")
		}
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("duplicate content type %q", t.Name())
		}
		r.byName[key] = t
		r.ordered = append(r.ordered, t)
	}
	sortTypes(r.ordered)
	return r, nil
}

// FromSpecs builds a registry of field types from configuration.
func FromSpecs(specs []TypeSpec) (*Registry, error) {
	types := make([]Indexable, 0, len(specs))
	for _, spec := range specs {
		ft, err := NewFieldType(spec)
		if err != nil {
			return nil, err
		}
		types = append(types, ft)
	}
	return NewRegistry(types...)
}

// Lookup finds a content type by name.
func (r *Registry) Lookup(name string) (Indexable, bool) {
	t, ok := r.byName[cache.NormalizeType(name)]
	return t, ok
}

// Names lists registered type names in fan-out order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.ordered))
	for i, t := range r.ordered {
		names[i] = t.Name()
	}
	return names
}

// Select returns the registered types among requested, in fan-out order.
// Unknown names are dropped. An empty request selects every type.
func (r *Registry) Select(requested []string) []Indexable {
	if len(requested) == 0 {
		return append([]Indexable(nil), r.ordered...)
	}
	seen := make(map[string]bool, len(requested))
	var out []Indexable
	for _, name := range requested {
		key := cache.NormalizeType(name)
		t, ok := r.byName[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	sortTypes(out)
	return out
}

func sortTypes(types []Indexable) {
	sort.SliceStable(types, func(i, j int) bool {
		if types[i].Priority() != types[j].Priority() {
			return types[i].Priority() < types[j].Priority()
		}
		return types[i].Name() < types[j].Name()
	})
}
