package index

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/indexkeeper/internal/cache"
	"github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/indexable"
	"github.com/Aman-CERP/indexkeeper/internal/search"
	"github.com/Aman-CERP/indexkeeper/internal/store"
)

// Principal is the index façade of one user or group.
type Principal struct {
	m    *Manager
	name string
}

// Name returns the principal name.
func (p *Principal) Name() string { return p.name }

type applyFunc func(t indexable.Indexable, w indexable.DocWriter, doc indexable.Document) error

// IndexContent adds doc to the index of typeName, or of doc.Type when
// typeName is empty. It returns false without error when the type is
// unknown or the content type rejects the document.
func (p *Principal) IndexContent(ctx context.Context, doc indexable.Document, typeName string) (bool, error) {
	return p.mutate(ctx, "index", doc, typeName, indexable.Indexable.Index)
}

// UpdateContent replaces doc.
func (p *Principal) UpdateContent(ctx context.Context, doc indexable.Document, typeName string) (bool, error) {
	return p.mutate(ctx, "update", doc, typeName, indexable.Indexable.Update)
}

// DeleteContent removes doc.
func (p *Principal) DeleteContent(ctx context.Context, doc indexable.Document, typeName string) (bool, error) {
	return p.mutate(ctx, "delete", doc, typeName, indexable.Indexable.Delete)
}

func (p *Principal) mutate(ctx context.Context, op string, doc indexable.Document, typeName string, apply applyFunc) (bool, error) {
	if typeName == "" {
		typeName = doc.Type
	}
	t, ok := p.m.registry.Lookup(typeName)
	if !ok {
		slog.Warn("unknown_content_type",
			slog.String("op", op),
			slog.String("type", typeName),
			slog.String("principal", p.name))
		return false, nil
	}

	idx, err := p.m.open(p.name, t)
	if err != nil {
		return false, err
	}
	defer func() { _ = idx.Close() }()

	w, err := store.AcquireWriter(ctx, idx, p.m.store.WriterOptions())
	if err != nil {
		return false, err
	}
	if err := apply(t, w, doc); err != nil {
		w.Cancel()
		slog.Warn("content_write_rejected",
			slog.String("op", op),
			slog.String("type", t.Name()),
			slog.String("id", doc.ID),
			slog.String("error", err.Error()))
		return false, nil
	}
	if err := w.Commit(ctx, p.m.store.CommitOptions()); err != nil {
		return false, err
	}
	slog.Debug("content_written",
		slog.String("op", op),
		slog.String("type", t.Name()),
		slog.String("id", doc.ID),
		slog.String("principal", p.name))
	return true, nil
}

type readFunc func(t indexable.Indexable, ctx context.Context, r store.Reader, q *search.Query) (*search.Result, error)

// Search runs raw over the requested content types and merges the results.
// Unknown types in opts.Types are ignored.
func (p *Principal) Search(ctx context.Context, raw string, opts search.Options) (*search.Result, error) {
	return p.fanOut(ctx, "search", raw, opts, indexable.Indexable.Search)
}

// NgramSearch matches partial words.
func (p *Principal) NgramSearch(ctx context.Context, raw string, opts search.Options) (*search.Result, error) {
	return p.fanOut(ctx, "ngram_search", raw, opts, indexable.Indexable.NgramSearch)
}

// Suggest completes the last word of raw.
func (p *Principal) Suggest(ctx context.Context, raw string, opts search.Options) (*search.Result, error) {
	return p.fanOut(ctx, "suggest", raw, opts, indexable.Indexable.Suggest)
}

// SuggestAndSearch returns suggestions and hits in one result.
func (p *Principal) SuggestAndSearch(ctx context.Context, raw string, opts search.Options) (*search.Result, error) {
	return p.fanOut(ctx, "suggest_and_search", raw, opts, indexable.Indexable.SuggestAndSearch)
}

// RemoveIndex evicts and closes the handle of typeName. It reports whether
// a handle was open.
func (p *Principal) RemoveIndex(typeName string) bool {
	return p.m.handles.Remove(cache.IndexKey(p.name, typeName))
}

// Optimize force-merges the segments of the typeName index. It reports
// false when the type is unknown.
func (p *Principal) Optimize(ctx context.Context, typeName string) (bool, error) {
	t, ok := p.m.registry.Lookup(typeName)
	if !ok {
		return false, nil
	}
	idx, err := p.m.open(p.name, t)
	if err != nil {
		return false, err
	}
	defer func() { _ = idx.Close() }()

	w, err := store.AcquireWriter(ctx, idx, p.m.store.WriterOptions())
	if err != nil {
		return false, err
	}
	if err := w.Commit(ctx, store.CommitOptions{Optimize: true}); err != nil {
		return false, err
	}
	return true, nil
}

// fanOut runs fn for every selected type. A type that fails is logged,
// skipped and listed in Result.Failed; only when every type fails is an
// error returned.
func (p *Principal) fanOut(ctx context.Context, op, raw string, opts search.Options, fn readFunc) (*search.Result, error) {
	q, err := p.m.parser.Parse(raw, opts)
	if err != nil {
		return nil, err
	}
	types := p.m.registry.Select(opts.Types)
	if len(types) == 0 {
		return search.Merge(), nil
	}

	results := make([]*search.Result, len(types))
	errs := make([]error, len(types))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.m.limit)
	for i, t := range types {
		i, t := i, t
		g.Go(func() error {
			res, err := p.read(gctx, t, q, fn)
			if err != nil {
				errs[i] = err
				slog.Warn("content_type_search_failed",
					slog.String("op", op),
					slog.String("type", t.Name()),
					slog.String("principal", p.name),
					slog.String("error", err.Error()))
				return nil // Don't fail the group
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := search.Merge(results...)
	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, err)
			merged.Failed = append(merged.Failed, types[i].Name())
		}
	}
	if len(failed) == len(types) {
		return nil, errors.New(errors.ErrCodeSearchFailed, "every content type failed", errors.Join(failed...))
	}
	sort.Strings(merged.Failed)
	merged.LimitSuggestions(q.Options.Limit)
	return merged.Page(q.Options.Offset, q.Options.Limit), nil
}

func (p *Principal) read(ctx context.Context, t indexable.Indexable, q *search.Query, fn readFunc) (*search.Result, error) {
	idx, err := p.m.open(p.name, t)
	if err != nil {
		return nil, err
	}
	defer func() { _ = idx.Close() }()
	return fn(t, ctx, idx.Reader(), q)
}
