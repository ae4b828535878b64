package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

const memoryBuffer = 64

// Hub routes messages between memory transports in one process. Each
// transport connected to a hub stands in for one broker client.
type Hub struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
}

type memorySub struct {
	topic  string
	ch     chan Delivery
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*memorySub]struct{})}
}

// Connect returns a new transport attached to h.
func (h *Hub) Connect() *Memory {
	return &Memory{hub: h}
}

func (h *Hub) publish(ctx context.Context, topic string, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if sub.topic != topic {
			continue
		}
		d := Delivery{Kind: KindData, Topic: topic, Data: append([]byte(nil), data...)}
		select {
		case sub.ch <- d:
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.ctx.Done():
			// Subscription cancelled, skip
		}
	}
	return nil
}

// remove unregisters sub and closes its channel. Cancelling first releases
// any publisher blocked on the subscription.
func (h *Hub) remove(sub *memorySub) {
	sub.cancel()
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// Memory is an in-process transport.
type Memory struct {
	hub    *Hub
	closed atomic.Bool

	mu   sync.Mutex
	subs []*memorySub
}

var _ Transport = (*Memory)(nil)

// Publish delivers data to every subscriber of topic on the hub, including
// this transport's own subscriptions.
func (m *Memory) Publish(ctx context.Context, topic string, data []byte) error {
	if m.closed.Load() {
		return errors.ErrBusUnavailable
	}
	return m.hub.publish(ctx, topic, data)
}

// Subscribe registers for topic. The first delivery is a control event
// confirming the subscription.
func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan Delivery, error) {
	if m.closed.Load() {
		return nil, errors.ErrBusUnavailable
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySub{
		topic:  topic,
		ch:     make(chan Delivery, memoryBuffer),
		ctx:    subCtx,
		cancel: cancel,
	}
	sub.ch <- Delivery{Kind: KindControl, Topic: topic}

	m.hub.mu.Lock()
	m.hub.subs[sub] = struct{}{}
	m.hub.mu.Unlock()

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	go func() {
		<-subCtx.Done()
		m.hub.remove(sub)
	}()
	return sub.ch, nil
}

// Close ends every subscription of this transport.
func (m *Memory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, sub := range subs {
		m.hub.remove(sub)
	}
	return nil
}

// Subscribers returns the number of live subscriptions to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sub := range h.subs {
		if sub.topic == topic {
			n++
		}
	}
	return n
}
