package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"
	index "github.com/blevesearch/bleve_index_api"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// Index is one reference to a stored index. Every reference must be closed.
// A reference is cheap: the engine handle is opened per operation.
type Index struct {
	store  *Store
	sh     *shared
	closed atomic.Bool
}

// Name returns the index name.
func (i *Index) Name() string { return i.sh.name }

// Retain returns a new reference to the same index.
func (i *Index) Retain() *Index {
	i.store.mu.Lock()
	i.sh.refs++
	i.store.mu.Unlock()
	return &Index{store: i.store, sh: i.sh}
}

// Close releases this reference. Closing twice is a no-op.
func (i *Index) Close() error {
	if i.closed.Swap(true) {
		return nil
	}
	i.store.release(i.sh)
	return nil
}

// DocCount returns the number of documents in the index.
func (i *Index) DocCount() (uint64, error) {
	if i.closed.Load() {
		return 0, errors.ErrClosed
	}
	return reader{idx: i}.DocCount()
}

// Reader returns a read-only view. Each call runs against the index as
// committed when it starts, independent of in-flight writers.
func (i *Index) Reader() Reader {
	return reader{idx: i}
}

// Writer opens an exclusive writer without waiting. It fails with a
// lock-contention error when another writer, in this process or another one,
// holds the index, or when readers keep it open past the writer open
// timeout. See AcquireWriter for the retrying variant.
func (i *Index) Writer() (*Writer, error) {
	if i.closed.Load() {
		return nil, errors.ErrClosed
	}

	sh := i.sh
	if !sh.writeMu.TryLock() {
		return nil, errors.LockContention(sh.name)
	}
	if sh.writeLock != nil {
		ok, err := sh.writeLock.TryLock()
		if err != nil {
			sh.writeMu.Unlock()
			return nil, errors.StoreError(errors.ErrCodeIndexOpen, sh.name, "failed to take writer lock", err)
		}
		if !ok {
			sh.writeMu.Unlock()
			return nil, errors.LockContention(sh.name)
		}
	}

	l, err := i.store.lendWrite(sh)
	if err != nil {
		unlockWriter(sh)
		return nil, err
	}
	return &Writer{sh: sh, lease: l, batch: l.idx.NewBatch()}, nil
}

func unlockWriter(sh *shared) {
	if sh.writeLock != nil {
		if err := sh.writeLock.Unlock(); err != nil {
			slog.Warn("writer_unlock_failed",
				slog.String("index", sh.name),
				slog.String("error", err.Error()))
		}
	}
	sh.writeMu.Unlock()
}

// Reader is the read surface handed to content types.
type Reader interface {
	Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error)
	FieldDictPrefix(field string, prefix []byte) (index.FieldDict, error)
	DocCount() (uint64, error)
}

type reader struct {
	idx *Index
}

func (r reader) lend() (*lease, error) {
	if r.idx.closed.Load() {
		return nil, errors.ErrClosed
	}
	return r.idx.store.lendRead(r.idx.sh)
}

func (r reader) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	l, err := r.lend()
	if err != nil {
		return nil, err
	}
	defer l.done()
	return l.idx.SearchInContext(ctx, req)
}

// FieldDictPrefix keeps the index open until the dictionary is closed.
func (r reader) FieldDictPrefix(field string, prefix []byte) (index.FieldDict, error) {
	l, err := r.lend()
	if err != nil {
		return nil, err
	}
	dict, err := l.idx.FieldDictPrefix(field, prefix)
	if err != nil {
		l.done()
		return nil, err
	}
	return &leasedDict{FieldDict: dict, lease: l}, nil
}

func (r reader) DocCount() (uint64, error) {
	l, err := r.lend()
	if err != nil {
		return 0, err
	}
	defer l.done()
	return l.idx.DocCount()
}

type leasedDict struct {
	index.FieldDict
	lease *lease
	once  sync.Once
}

func (d *leasedDict) Close() error {
	err := d.FieldDict.Close()
	d.once.Do(d.lease.done)
	return err
}

// done releases the lease, logging a failed close.
func (l *lease) done() {
	if err := l.release(); err != nil {
		slog.Warn("index_close_failed",
			slog.String("index", l.sh.name),
			slog.String("error", err.Error()))
	}
}

// Writer buffers changes for one index until Commit or Cancel. The index
// stays locked against other writers for the writer's whole life.
type Writer struct {
	sh    *shared
	lease *lease
	batch *bleve.Batch

	mu   sync.Mutex
	done bool
}

// Index adds or replaces the document with the given id.
func (w *Writer) Index(id string, doc interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return errors.ErrClosed
	}
	return w.batch.Index(id, doc)
}

// Delete removes the document with the given id.
func (w *Writer) Delete(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.batch.Delete(id)
	}
}

// Len returns the number of buffered operations.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.batch.Size()
}

// Commit applies the buffered changes, closes the index and releases the
// writer lock.
func (w *Writer) Commit(ctx context.Context, opts CommitOptions) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return errors.ErrClosed
	}
	defer w.release()

	idx := w.lease.idx
	if w.batch.Size() > 0 {
		if err := idx.Batch(w.batch); err != nil {
			return errors.StoreError(errors.ErrCodeIndexCommit, w.sh.name, "failed to commit batch", err)
		}
	}

	if opts.Optimize {
		if err := optimize(ctx, idx); err != nil {
			slog.Warn("index_optimize_failed",
				slog.String("index", w.sh.name),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// Cancel discards the buffered changes and releases the writer lock.
func (w *Writer) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	w.batch.Reset()
	w.release()
}

// release must be called with w.mu held. The engine handle is closed before
// the file lock is dropped so the next writer can open it.
func (w *Writer) release() {
	w.done = true
	w.lease.done()
	unlockWriter(w.sh)
}

type forceMerger interface {
	ForceMerge(ctx context.Context, mo *mergeplan.MergePlanOptions) error
}

// optimize merges segments when the engine supports it.
func optimize(ctx context.Context, idx bleve.Index) error {
	adv, err := idx.Advanced()
	if err != nil {
		return err
	}
	if fm, ok := adv.(forceMerger); ok {
		return fm.ForceMerge(ctx, nil)
	}
	return nil
}
