package directory

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/Aman-CERP/indexkeeper/internal/bus"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/store"
)

// Upsert writes the document of i, replacing any previous version.
func (d *Index) Upsert(ctx context.Context, i identity.Identity) error {
	return d.write(ctx, func(w *store.Writer) error {
		return w.Index(docID(i.ID), toDoc(i))
	})
}

// DeleteByID removes the document of the identity with id. Removing a
// missing document is not an error.
func (d *Index) DeleteByID(ctx context.Context, id int64) error {
	return d.write(ctx, func(w *store.Writer) error {
		w.Delete(docID(id))
		return nil
	})
}

func (d *Index) write(ctx context.Context, fn func(*store.Writer) error) error {
	idx, err := d.ensure(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	w, err := store.AcquireWriter(ctx, idx, d.store.WriterOptions())
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		w.Cancel()
		return err
	}
	return w.Commit(ctx, d.store.CommitOptions())
}

// OnCreated indexes the newly created identity called name and announces
// it to other processes.
func (d *Index) OnCreated(ctx context.Context, name string) error {
	return d.onChanged(ctx, bus.OpCreated, name)
}

// OnModified reindexes the identity called name and announces it.
func (d *Index) OnModified(ctx context.Context, name string) error {
	return d.onChanged(ctx, bus.OpModified, name)
}

func (d *Index) onChanged(ctx context.Context, op bus.Op, name string) error {
	i, err := d.source.ByName(ctx, name)
	if err != nil {
		return err
	}
	if err := d.Upsert(ctx, i); err != nil {
		return err
	}
	slog.Debug("directory_identity_indexed",
		slog.String("op", op.String()),
		slog.String("name", name),
		slog.Int64("id", i.ID))
	return d.broadcast(ctx, op, name)
}

// OnDeleted removes the identity with id and announces it.
func (d *Index) OnDeleted(ctx context.Context, id int64) error {
	if err := d.DeleteByID(ctx, id); err != nil {
		return err
	}
	return d.broadcast(ctx, bus.OpDeleted, strconv.FormatInt(id, 10))
}

func (d *Index) broadcast(ctx context.Context, op bus.Op, subject string) error {
	if d.pub == nil {
		return nil
	}
	return d.pub.Broadcast(ctx, op, subject)
}
