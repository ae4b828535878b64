package store

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// AcquireWriter opens a writer on idx, retrying while the writer lock is
// held elsewhere. Each retry waits a uniformly random delay between
// opts.MinDelay and opts.MaxDelay so contending processes drift apart. After
// opts.MaxIters attempts the last contention error is returned unchanged.
// Other failures return immediately.
func AcquireWriter(ctx context.Context, idx *Index, opts WriterOptions) (*Writer, error) {
	if opts.MaxIters <= 0 {
		opts.MaxIters = DefaultWriterOptions().MaxIters
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultWriterOptions().MaxDelay
	}

	cfg := errors.RetryConfig{
		MaxRetries:  opts.MaxIters - 1,
		Delay:       errors.UniformDelay(opts.MinDelay, opts.MaxDelay),
		ShouldRetry: func(err error) bool { return errors.Is(err, errors.ErrLockContention) },
	}

	var (
		attempts int
		lastErr  error
	)
	w, err := errors.RetryWithResult(ctx, cfg, func() (*Writer, error) {
		attempts++
		w, err := idx.Writer()
		lastErr = err
		return w, err
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(lastErr, errors.ErrLockContention) {
			slog.Warn("writer_lock_contention",
				slog.String("index", idx.Name()),
				slog.Int("attempts", attempts))
			return nil, lastErr
		}
		return nil, err
	}
	if attempts > 1 {
		slog.Debug("writer_acquired_after_retry",
			slog.String("index", idx.Name()),
			slog.Int("attempts", attempts))
	}
	return w, nil
}
