// Package store is the durable index store: it opens or creates bleve
// indexes under one root directory shared by every process, lends short-lived
// handles to readers and writers, and hands out exclusive writers guarded by
// an in-process mutex and an on-disk file lock.
//
// A disk index is never held open between operations. Readers open it
// read-only and writers read-write, and the engine's own file lock is taken
// with a timeout so a busy index reports contention instead of blocking.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// WriterOptions controls writer acquisition.
type WriterOptions struct {
	// MaxIters is the number of attempts before contention is reported.
	MaxIters int `yaml:"max_iters" json:"max_iters"`
	// MinDelay and MaxDelay bound the random pause between attempts.
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
}

// CommitOptions controls how a writer's batch is applied.
type CommitOptions struct {
	// Optimize force-merges segments after the batch is applied.
	Optimize bool `yaml:"optimize" json:"optimize"`
}

// DefaultWriterOptions returns the writer defaults shared by every caller.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		MaxIters: 10,
		MinDelay: 100 * time.Millisecond,
		MaxDelay: time.Second,
	}
}

// DefaultCommitOptions returns the commit defaults shared by every caller.
func DefaultCommitOptions() CommitOptions {
	return CommitOptions{}
}

// Defaults for Options.
const (
	DefaultOpenTimeout       = 5 * time.Second
	DefaultWriterOpenTimeout = 200 * time.Millisecond
)

// Options configures a Store.
type Options struct {
	// Root is the directory holding every index. Empty keeps indexes in memory.
	Root   string
	Writer WriterOptions
	Commit CommitOptions
	// OpenTimeout bounds how long a reader waits for a disk index that
	// another process is writing.
	OpenTimeout time.Duration
	// WriterOpenTimeout bounds how long a writer waits for readers of a disk
	// index to finish before reporting contention.
	WriterOpenTimeout time.Duration
}

// Store opens indexes by name. One Store per process; references to the same
// index share one entry, and concurrent operations of this process share one
// open bleve handle.
type Store struct {
	root              string
	writer            WriterOptions
	commit            CommitOptions
	openTimeout       time.Duration
	writerOpenTimeout time.Duration

	mu     sync.Mutex
	open   map[string]*shared
	closed bool
}

// shared is the per-process state behind every Index reference.
type shared struct {
	name string
	path string
	refs int

	// mem is the resident index of a memory store.
	mem bleve.Index

	// handle is the disk index currently lent out, opened read-write when
	// writable. draining is set while a writer waits for read-only users to
	// finish.
	hmu      sync.Mutex
	handle   bleve.Index
	writable bool
	users    int
	draining bool

	// writeMu serializes writers inside this process; writeLock does the
	// same across processes.
	writeMu   sync.Mutex
	writeLock *flock.Flock
}

// New creates a store rooted at opts.Root.
func New(opts Options) (*Store, error) {
	if opts.Root != "" {
		if err := os.MkdirAll(opts.Root, 0o755); err != nil {
			return nil, errors.StoreError(errors.ErrCodeIndexOpen, opts.Root, "failed to create store root", err)
		}
	}
	if opts.Writer.MaxIters <= 0 {
		opts.Writer = DefaultWriterOptions()
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	if opts.WriterOpenTimeout <= 0 {
		opts.WriterOpenTimeout = DefaultWriterOpenTimeout
	}
	return &Store{
		root:              opts.Root,
		writer:            opts.Writer,
		commit:            opts.Commit,
		openTimeout:       opts.OpenTimeout,
		writerOpenTimeout: opts.WriterOpenTimeout,
		open:              make(map[string]*shared),
	}, nil
}

// Root returns the store root directory ("" for memory stores).
func (s *Store) Root() string { return s.root }

// WriterOptions returns the store's writer defaults.
func (s *Store) WriterOptions() WriterOptions { return s.writer }

// CommitOptions returns the store's commit defaults.
func (s *Store) CommitOptions() CommitOptions { return s.commit }

// Path returns the on-disk directory of the named index.
func (s *Store) Path(name string) string {
	if s.root == "" {
		return ""
	}
	return filepath.Join(s.root, name)
}

// LockPath returns the path of a named lock file under the store root.
func (s *Store) LockPath(name string) string {
	return filepath.Join(s.root, name+".lock")
}

// Exists reports whether a complete persisted index with this name exists.
func (s *Store) Exists(name string) bool {
	if s.root == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.open[name]
		return ok
	}
	info, err := os.Stat(filepath.Join(s.Path(name), "index_meta.json"))
	return err == nil && info.Size() > 0
}

// Open opens an existing index. It fails if the index was never created.
func (s *Store) Open(name string) (*Index, error) {
	return s.acquire(name, nil)
}

// OpenOrCreate opens the named index, creating it with m when absent.
func (s *Store) OpenOrCreate(name string, m mapping.IndexMapping) (*Index, error) {
	if m == nil {
		return nil, errors.ValidationError("index mapping is required", nil)
	}
	return s.acquire(name, m)
}

func (s *Store) acquire(name string, m mapping.IndexMapping) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.ErrCodeIndexClosed, "store is closed", nil)
	}

	if sh, ok := s.open[name]; ok {
		sh.refs++
		return &Index{store: s, sh: sh}, nil
	}

	sh := &shared{name: name, path: s.Path(name), refs: 1}
	if s.root == "" {
		if m == nil {
			return nil, errors.NotFound("index", name)
		}
		idx, err := bleve.NewMemOnly(m)
		if err != nil {
			return nil, errors.StoreError(errors.ErrCodeIndexOpen, name, "failed to create memory index", err)
		}
		sh.mem = idx
	} else {
		if err := s.prepare(name, m); err != nil {
			return nil, err
		}
		sh.writeLock = flock.New(filepath.Join(s.root, name+".write.lock"))
	}
	s.open[name] = sh
	return &Index{store: s, sh: sh}, nil
}

// prepare makes sure a complete disk index exists, recovering a corrupted one
// and creating a missing one when m is given.
func (s *Store) prepare(name string, m mapping.IndexMapping) error {
	path := s.Path(name)
	if err := validateIndexIntegrity(path); err != nil {
		if m == nil {
			return errors.StoreError(errors.ErrCodeCorruptIndex, name, "index is corrupted", err)
		}
		slog.Warn("index_corrupted",
			slog.String("index", name),
			slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return errors.StoreError(errors.ErrCodeCorruptIndex, name, "index corrupted and cannot be removed", rmErr)
		}
		slog.Info("index_cleared", slog.String("index", name))
	}

	if s.Exists(name) {
		return nil
	}
	if m == nil {
		return errors.NotFound("index", name)
	}
	return s.create(name, m)
}

// create builds an empty index in a private directory and renames it into
// place, so other processes never observe a half-created index. Losing the
// rename to another process is not an error.
func (s *Store) create(name string, m mapping.IndexMapping) error {
	tmp := filepath.Join(s.root, "."+name+".creating-"+uuid.NewString())
	idx, err := bleve.New(tmp, m)
	if err != nil {
		_ = os.RemoveAll(tmp)
		return errors.StoreError(errors.ErrCodeIndexOpen, name, "failed to create index", err)
	}
	if err := idx.Close(); err != nil {
		_ = os.RemoveAll(tmp)
		return errors.StoreError(errors.ErrCodeIndexOpen, name, "failed to close new index", err)
	}
	if err := os.Rename(tmp, s.Path(name)); err != nil {
		_ = os.RemoveAll(tmp)
		if s.Exists(name) {
			slog.Debug("index_created_elsewhere", slog.String("index", name))
			return nil
		}
		return errors.StoreError(errors.ErrCodeIndexOpen, name, "failed to install new index", err)
	}
	slog.Info("index_created", slog.String("index", name))
	return nil
}

// lease is one operation's use of an open bleve index.
type lease struct {
	sh  *shared
	idx bleve.Index
	// private leases own a handle nobody else shares.
	private bool
}

// lendRead lends an index for reading. A handle this process already has
// open is shared; otherwise the disk index is opened read-only.
func (s *Store) lendRead(sh *shared) (*lease, error) {
	if sh.mem != nil {
		return &lease{sh: sh, idx: sh.mem}, nil
	}

	sh.hmu.Lock()
	if sh.handle != nil && !sh.draining {
		sh.users++
		l := &lease{sh: sh, idx: sh.handle}
		sh.hmu.Unlock()
		return l, nil
	}
	if sh.handle != nil {
		// A writer is waiting for the shared handle to drain.
		sh.hmu.Unlock()
		idx, err := s.openDisk(sh, true, s.openTimeout)
		if err != nil {
			return nil, err
		}
		return &lease{sh: sh, idx: idx, private: true}, nil
	}
	defer sh.hmu.Unlock()

	idx, err := s.openDisk(sh, true, s.openTimeout)
	if err != nil {
		return nil, err
	}
	sh.handle, sh.writable, sh.users = idx, false, 1
	return &lease{sh: sh, idx: idx}, nil
}

// lendWrite lends the index opened read-write. It never waits for longer than
// the writer open timeout and reports contention instead.
func (s *Store) lendWrite(sh *shared) (*lease, error) {
	if sh.mem != nil {
		return &lease{sh: sh, idx: sh.mem}, nil
	}
	if !sh.hmu.TryLock() {
		return nil, errors.LockContention(sh.name)
	}
	defer sh.hmu.Unlock()

	switch {
	case sh.handle != nil && sh.writable:
		sh.users++
		return &lease{sh: sh, idx: sh.handle}, nil
	case sh.handle != nil:
		sh.draining = true
		return nil, errors.LockContention(sh.name)
	}

	idx, err := s.openDisk(sh, false, s.writerOpenTimeout)
	if err != nil {
		return nil, err
	}
	sh.handle, sh.writable, sh.users, sh.draining = idx, true, 1, false
	return &lease{sh: sh, idx: idx}, nil
}

// release ends the lease; the last user of a shared disk handle closes it.
func (l *lease) release() error {
	if l.sh.mem != nil {
		return nil
	}
	if l.private {
		return l.idx.Close()
	}

	sh := l.sh
	sh.hmu.Lock()
	defer sh.hmu.Unlock()
	if sh.handle != l.idx {
		// Closed by Store.Close.
		return nil
	}
	sh.users--
	if sh.users > 0 {
		return nil
	}
	idx := sh.handle
	sh.handle, sh.writable, sh.draining = nil, false, false
	return idx.Close()
}

func (s *Store) openDisk(sh *shared, readOnly bool, timeout time.Duration) (bleve.Index, error) {
	cfg := map[string]interface{}{"bolt_timeout": timeout.String()}
	if readOnly {
		cfg["read_only"] = true
	}
	idx, err := bleve.OpenUsing(sh.path, cfg)
	switch {
	case err == nil:
		return idx, nil
	case errors.Is(err, bolt.ErrTimeout):
		return nil, errors.New(errors.ErrCodeLockContention, "index is held by another process", err).
			WithDetail("index", sh.name)
	case err == bleve.ErrorIndexPathDoesNotExist:
		return nil, errors.NotFound("index", sh.name)
	default:
		return nil, errors.StoreError(errors.ErrCodeIndexOpen, sh.name, "failed to open index", err)
	}
}

// release drops one reference. Memory indexes stay resident until the store
// closes.
func (s *Store) release(sh *shared) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh.refs--
	if sh.refs > 0 || s.root == "" || s.closed {
		return
	}
	delete(s.open, sh.name)
}

// OpenCount returns how many distinct indexes are referenced.
func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// HandleOpen reports whether this process currently holds the named index
// open in the engine.
func (s *Store) HandleOpen(name string) bool {
	s.mu.Lock()
	sh, ok := s.open[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if sh.mem != nil {
		return true
	}
	sh.hmu.Lock()
	defer sh.hmu.Unlock()
	return sh.handle != nil
}

// Close closes every open index regardless of outstanding references.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for name, sh := range s.open {
		if err := sh.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	s.open = nil
	return errors.Join(errs...)
}

func (sh *shared) close() error {
	if sh.mem != nil {
		return sh.mem.Close()
	}
	sh.hmu.Lock()
	defer sh.hmu.Unlock()
	if sh.handle == nil {
		return nil
	}
	idx := sh.handle
	sh.handle, sh.users = nil, 0
	return idx.Close()
}

// validateIndexIntegrity returns nil for a missing or healthy index and an
// error describing the damage otherwise.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}
