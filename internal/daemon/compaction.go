package daemon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// OptimizeFunc merges the segments of one index.
type OptimizeFunc func(ctx context.Context, principal, typeName string) error

// Compactor merges index segments once an index has been quiet for the
// idle period after a write. A new write to the index interrupts a running
// compaction and restarts the idle timer.
type Compactor struct {
	idle     time.Duration
	cooldown time.Duration
	optimize OptimizeFunc

	mu      sync.Mutex
	indexes map[compactionKey]*compactionState
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runs   atomic.Uint64
}

type compactionKey struct {
	principal string
	typeName  string
}

type compactionState struct {
	idleTimer   *time.Timer
	lastCompact time.Time
	running     *compactionRun
}

type compactionRun struct {
	cancel context.CancelFunc
}

// NewCompactor creates a compactor. A zero idle period disables it.
func NewCompactor(ctx context.Context, idle, cooldown time.Duration, fn OptimizeFunc) *Compactor {
	cctx, cancel := context.WithCancel(ctx)
	return &Compactor{
		idle:     idle,
		cooldown: cooldown,
		optimize: fn,
		indexes:  make(map[compactionKey]*compactionState),
		ctx:      cctx,
		cancel:   cancel,
	}
}

// OnWrite records a write to the index of typeName for principal.
func (c *Compactor) OnWrite(principal, typeName string) {
	if c == nil || c.idle <= 0 {
		return
	}
	key := compactionKey{principal, typeName}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	st, ok := c.indexes[key]
	if !ok {
		st = &compactionState{}
		c.indexes[key] = st
	}
	if st.running != nil {
		st.running.cancel()
		st.running = nil
	}
	if st.idleTimer != nil {
		st.idleTimer.Stop()
	}
	st.idleTimer = time.AfterFunc(c.idle, func() { c.onIdle(key) })
}

// Runs returns the number of completed compactions.
func (c *Compactor) Runs() uint64 {
	if c == nil {
		return 0
	}
	return c.runs.Load()
}

func (c *Compactor) onIdle(key compactionKey) {
	c.mu.Lock()
	st, ok := c.indexes[key]
	if !ok || c.closed || st.running != nil {
		c.mu.Unlock()
		return
	}
	if !st.lastCompact.IsZero() && time.Since(st.lastCompact) < c.cooldown {
		c.mu.Unlock()
		slog.Debug("compaction_skipped_cooldown",
			slog.String("principal", key.principal),
			slog.String("type", key.typeName))
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	run := &compactionRun{cancel: cancel}
	st.running = run
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()
		start := time.Now()
		err := c.optimize(ctx, key.principal, key.typeName)

		c.mu.Lock()
		if st.running == run {
			st.running = nil
		}
		if err == nil {
			st.lastCompact = time.Now()
		}
		c.mu.Unlock()

		if ctx.Err() != nil {
			slog.Debug("compaction_interrupted",
				slog.String("principal", key.principal),
				slog.String("type", key.typeName))
			return
		}
		if err != nil {
			slog.Warn("compaction_failed",
				slog.String("principal", key.principal),
				slog.String("type", key.typeName),
				slog.String("error", err.Error()))
			return
		}
		c.runs.Add(1)
		slog.Debug("compaction_done",
			slog.String("principal", key.principal),
			slog.String("type", key.typeName),
			slog.Duration("took", time.Since(start)))
	}()
}

// Stop cancels pending and running compactions and waits for them.
func (c *Compactor) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.closed = true
	for _, st := range c.indexes {
		if st.idleTimer != nil {
			st.idleTimer.Stop()
		}
	}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
