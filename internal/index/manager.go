// Package index manages per-principal content indexes: one index per
// (principal, content type) pair, opened through a bounded handle cache,
// written under the store's writer lock and searched with a merged fan-out
// across content types.
package index

import (
	"runtime"

	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Aman-CERP/indexkeeper/internal/cache"
	"github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/indexable"
	"github.com/Aman-CERP/indexkeeper/internal/search"
	"github.com/Aman-CERP/indexkeeper/internal/store"
)

// Options configures a Manager.
type Options struct {
	// CacheCapacity bounds the number of open index handles.
	CacheCapacity int
	// QueryCacheSize bounds the parsed-query cache.
	QueryCacheSize int
	// Concurrency bounds the content types searched at once.
	Concurrency int
}

// Manager owns the handle cache shared by every principal.
type Manager struct {
	store    *store.Store
	registry *indexable.Registry
	handles  *cache.Cache[*store.Index]
	parser   *search.Parser
	limit    int
}

// NewManager creates a manager over st for the types in reg.
func NewManager(st *store.Store, reg *indexable.Registry, opts Options) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	return &Manager{
		store:    st,
		registry: reg,
		handles:  cache.New[*store.Index](opts.CacheCapacity, st.OpenOrCreate),
		parser:   search.NewParser(opts.QueryCacheSize),
		limit:    opts.Concurrency,
	}
}

// For returns the index façade of one principal.
func (m *Manager) For(principal string) *Principal {
	return &Principal{m: m, name: principal}
}

// Registry returns the content types the manager knows.
func (m *Manager) Registry() *indexable.Registry { return m.registry }

// Stats returns the handle cache counters.
func (m *Manager) Stats() cache.Stats { return m.handles.Stats() }

// Close closes every cached handle.
func (m *Manager) Close() error {
	return m.handles.Close()
}

// open returns a reference to the index of t for principal. The caller
// must close it.
func (m *Manager) open(principal string, t indexable.Indexable) (*store.Index, error) {
	key := cache.IndexKey(principal, t.Name())
	var schemaErr error
	idx, ok, err := m.handles.GetOrCreate(key, func() (mapping.IndexMapping, bool) {
		im, err := t.Schema()
		if err != nil {
			schemaErr = err
			return nil, false
		}
		return im, true
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		if schemaErr != nil {
			return nil, errors.New(errors.ErrCodeIndexOpen, "content type schema", schemaErr).
				WithDetail("type", t.Name())
		}
		return nil, errors.UnknownType(t.Name())
	}
	return idx, nil
}
