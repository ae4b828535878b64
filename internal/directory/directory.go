// Package directory maintains the search index over the identity directory.
// The index is built lazily by whichever process reaches it first, under a
// file lock shared by every process using the same store root, and kept
// current by local writes plus changes broadcast on the bus.
package directory

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/gofrs/flock"

	"github.com/Aman-CERP/indexkeeper/internal/bus"
	"github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/store"
)

// State is the build state of the directory index.
type State int32

const (
	Unbuilt State = iota
	Building
	Ready
)

func (s State) String() string {
	switch s {
	case Unbuilt:
		return "unbuilt"
	case Building:
		return "building"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Defaults for Options.
const (
	DefaultIndexName   = "directory"
	DefaultLockTimeout = 60 * time.Second
	DefaultLockPoll    = 500 * time.Millisecond
	DefaultMaxHits     = 200
)

// Indexed field names.
const (
	FieldName        = "name"
	FieldAlias       = "alias"
	FieldEmail       = "email"
	FieldDisplayName = "display_name"
)

// Options configures an Index.
type Options struct {
	IndexName   string        `yaml:"index_name" json:"index_name"`
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
	LockPoll    time.Duration `yaml:"lock_poll" json:"lock_poll"`
	// MaxHits bounds the identities one query returns. Filtered hits do not
	// count against it.
	MaxHits int `yaml:"max_hits" json:"max_hits"`
}

// Broadcaster announces local changes to other processes. *bus.Publisher
// satisfies it.
type Broadcaster interface {
	Broadcast(ctx context.Context, op bus.Op, subject string) error
}

// Index is the directory search index of one process.
type Index struct {
	store  *store.Store
	source identity.Directory
	pub    Broadcaster
	opts   Options

	state atomic.Int32

	mu  sync.Mutex
	idx *store.Index
}

var _ bus.Applier = (*Index)(nil)

// New creates an unbuilt index. pub may be nil, in which case changes stay
// local.
func New(st *store.Store, source identity.Directory, pub Broadcaster, opts Options) *Index {
	if opts.IndexName == "" {
		opts.IndexName = DefaultIndexName
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.LockPoll <= 0 {
		opts.LockPoll = DefaultLockPoll
	}
	if opts.MaxHits <= 0 {
		opts.MaxHits = DefaultMaxHits
	}
	return &Index{store: st, source: source, pub: pub, opts: opts}
}

// State returns the current build state.
func (d *Index) State() State {
	return State(d.state.Load())
}

// Name returns the index name inside the store.
func (d *Index) Name() string { return d.opts.IndexName }

// DocCount builds the index if needed and returns its document count.
func (d *Index) DocCount(ctx context.Context) (uint64, error) {
	idx, err := d.ensure(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = idx.Close() }()
	return idx.DocCount()
}

// Close releases the index handle. The index can be reopened by the next
// access.
func (d *Index) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx == nil {
		return nil
	}
	err := d.idx.Close()
	d.idx = nil
	d.state.Store(int32(Unbuilt))
	return err
}

// ensure returns a reference to the ready index, building it first if no
// process has. The caller must close the reference.
func (d *Index) ensure(ctx context.Context) (*store.Index, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.idx != nil {
		return d.idx.Retain(), nil
	}

	d.state.Store(int32(Building))
	idx, err := d.build(ctx)
	if err != nil {
		d.state.Store(int32(Unbuilt))
		return nil, err
	}
	d.idx = idx
	d.state.Store(int32(Ready))
	return idx.Retain(), nil
}

func (d *Index) build(ctx context.Context) (*store.Index, error) {
	if d.store.Root() != "" {
		unlock, err := d.lockBuild(ctx)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	if d.store.Exists(d.opts.IndexName) {
		idx, err := d.store.Open(d.opts.IndexName)
		if err != nil {
			return nil, err
		}
		slog.Debug("directory_index_opened", slog.String("index", d.opts.IndexName))
		return idx, nil
	}
	return d.populate(ctx)
}

// lockBuild takes the cross-process build lock, polling until the lock
// timeout.
func (d *Index) lockBuild(ctx context.Context) (func(), error) {
	lock := flock.New(d.store.LockPath(d.opts.IndexName))

	lctx, cancel := context.WithTimeout(ctx, d.opts.LockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lctx, d.opts.LockPoll)
	if !locked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(errors.ErrCodeBuildLockTimeout, "timed out waiting for the directory build lock", err).
			WithDetail("lock", lock.Path()).
			WithDetail("timeout", d.opts.LockTimeout.String())
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("directory_build_unlock_failed", slog.String("error", err.Error()))
		}
	}, nil
}

// populate creates the index and writes one document per identity in a
// single optimized commit.
func (d *Index) populate(ctx context.Context) (*store.Index, error) {
	start := time.Now()
	m, err := Mapping()
	if err != nil {
		return nil, err
	}
	idx, err := d.store.OpenOrCreate(d.opts.IndexName, m)
	if err != nil {
		return nil, err
	}

	w, err := store.AcquireWriter(ctx, idx, d.store.WriterOptions())
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	err = d.source.Each(ctx, func(i identity.Identity) error {
		return w.Index(docID(i.ID), toDoc(i))
	})
	if err != nil {
		w.Cancel()
		_ = idx.Close()
		return nil, errors.StoreError(errors.ErrCodeIndexFailed, d.opts.IndexName, "failed to populate directory index", err)
	}
	count := w.Len()
	if err := w.Commit(ctx, store.CommitOptions{Optimize: true}); err != nil {
		_ = idx.Close()
		return nil, err
	}

	slog.Info("directory_index_built",
		slog.String("index", d.opts.IndexName),
		slog.Int("identities", count),
		slog.Duration("duration", time.Since(start)))
	return idx, nil
}

// Mapping returns the directory index schema: exact lower-cased name, alias
// and email, and a word-analyzed display name.
func Mapping() (mapping.IndexMapping, error) {
	m, err := store.NewMapping()
	if err != nil {
		return nil, err
	}
	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(FieldName, store.FieldMapping(store.KeywordAnalyzer, false))
	doc.AddFieldMappingsAt(FieldAlias, store.FieldMapping(store.KeywordAnalyzer, false))
	doc.AddFieldMappingsAt(FieldEmail, store.FieldMapping(store.KeywordAnalyzer, false))
	doc.AddFieldMappingsAt(FieldDisplayName, store.FieldMapping(store.TextAnalyzer, false))
	m.DefaultMapping = doc
	return m, nil
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func toDoc(i identity.Identity) map[string]any {
	doc := map[string]any{FieldName: i.Name}
	if i.Alias != "" {
		doc[FieldAlias] = i.Alias
	}
	if i.Email != "" {
		doc[FieldEmail] = i.Email
	}
	if i.DisplayName != "" {
		doc[FieldDisplayName] = i.DisplayName
	}
	return doc
}
