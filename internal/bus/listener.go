package bus

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
)

// Applier writes identity changes to the local directory index. Both
// methods must be idempotent.
type Applier interface {
	Upsert(ctx context.Context, i identity.Identity) error
	DeleteByID(ctx context.Context, id int64) error
}

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	Topic  string
	Origin string
	// ResolveAttempts and ResolveDelay bound the wait for a created or
	// modified identity to become visible in the local directory and for
	// its index write to get through.
	ResolveAttempts int
	ResolveDelay    time.Duration
}

// Defaults for ListenerOptions.
const (
	DefaultResolveAttempts = 5
	DefaultResolveDelay    = time.Second
)

// ListenerStats counts handled deliveries.
type ListenerStats struct {
	Applied uint64 `json:"applied"`
	Self    uint64 `json:"self"`
	Ignored uint64 `json:"ignored"`
	Invalid uint64 `json:"invalid"`
	Dropped uint64 `json:"dropped"`
}

// Listener applies changes broadcast by other processes. Deliveries are
// handled one at a time, in arrival order.
type Listener struct {
	t        Transport
	resolver identity.Resolver
	apply    Applier
	opts     ListenerOptions

	applied atomic.Uint64
	self    atomic.Uint64
	ignored atomic.Uint64
	invalid atomic.Uint64
	dropped atomic.Uint64
}

// NewListener creates a listener. Messages stamped with opts.Origin are
// this process's own and are skipped.
func NewListener(t Transport, resolver identity.Resolver, apply Applier, opts ListenerOptions) *Listener {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.ResolveAttempts <= 0 {
		opts.ResolveAttempts = DefaultResolveAttempts
	}
	if opts.ResolveDelay <= 0 {
		opts.ResolveDelay = DefaultResolveDelay
	}
	return &Listener{t: t, resolver: resolver, apply: apply, opts: opts}
}

// Run subscribes and handles deliveries until ctx is cancelled or the
// subscription ends.
func (l *Listener) Run(ctx context.Context) error {
	deliveries, err := l.t.Subscribe(ctx, l.opts.Topic)
	if err != nil {
		return err
	}
	slog.Info("directory_listener_started",
		slog.String("topic", l.opts.Topic),
		slog.String("origin", l.opts.Origin))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New(errors.ErrCodeBusUnavailable, "subscription closed", nil)
			}
			l.Handle(ctx, d)
		}
	}
}

// Handle applies one delivery. Failures are logged and counted, never
// returned.
func (l *Listener) Handle(ctx context.Context, d Delivery) {
	if d.Kind != KindData || d.Topic != l.opts.Topic {
		l.ignored.Add(1)
		return
	}

	msg, err := Decode(d.Data)
	if err != nil {
		l.invalid.Add(1)
		slog.Warn("directory_change_invalid", slog.String("error", err.Error()))
		return
	}
	if msg.Origin == l.opts.Origin {
		l.self.Add(1)
		return
	}

	switch msg.Op {
	case OpCreated, OpModified:
		l.upsert(ctx, msg)
	case OpDeleted:
		l.delete(ctx, msg)
	}
}

// upsert resolves the subject and writes it, retrying both while the
// identity is not yet visible or the index writer is busy.
func (l *Listener) upsert(ctx context.Context, msg ChangeMessage) {
	cfg := errors.FixedRetryConfig(l.opts.ResolveAttempts, l.opts.ResolveDelay)
	cfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, errors.ErrNotFound) || errors.Is(err, errors.ErrLockContention)
	}

	i, err := errors.RetryWithResult(ctx, cfg, func() (identity.Identity, error) {
		i, err := identity.Resolve(ctx, l.resolver, msg.Subject)
		if err != nil {
			return i, err
		}
		return i, l.apply.Upsert(ctx, i)
	})
	if err != nil {
		l.dropped.Add(1)
		slog.Warn("directory_change_dropped",
			slog.String("op", msg.Op.String()),
			slog.String("subject", msg.Subject),
			slog.String("origin", msg.Origin),
			slog.String("error", err.Error()))
		return
	}

	l.applied.Add(1)
	slog.Debug("directory_change_applied",
		slog.String("op", msg.Op.String()),
		slog.String("subject", msg.Subject),
		slog.Int64("id", i.ID))
}

func (l *Listener) delete(ctx context.Context, msg ChangeMessage) {
	id, err := strconv.ParseInt(msg.Subject, 10, 64)
	if err != nil {
		l.invalid.Add(1)
		slog.Warn("directory_change_invalid",
			slog.String("op", msg.Op.String()),
			slog.String("subject", msg.Subject))
		return
	}
	if err := l.apply.DeleteByID(ctx, id); err != nil {
		l.dropped.Add(1)
		slog.Error("directory_change_apply_failed",
			slog.String("op", msg.Op.String()),
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()))
		return
	}
	l.applied.Add(1)
}

// Stats returns the delivery counters.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Applied: l.applied.Load(),
		Self:    l.self.Load(),
		Ignored: l.ignored.Load(),
		Invalid: l.invalid.Load(),
		Dropped: l.dropped.Load(),
	}
}
