package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// NATS is a transport over core NATS subjects.
type NATS struct {
	nc   *nats.Conn
	done chan struct{}
	once sync.Once
}

var _ Transport = (*NATS)(nil)

// natsPending is the per-subscription buffer. Core NATS delivers at most
// once: a subscriber that falls this far behind loses messages, which the
// error handler logs.
const natsPending = 64 * 1024

// natsConnect is replaced in tests.
var natsConnect = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

// DialNATS connects to the NATS server at url, reconnecting forever.
func DialNATS(url string) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := natsConnect(url,
		nats.Name("indexkeeper"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats_disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats_reconnected", slog.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(natsErrorHandler),
	)
	if err != nil {
		return nil, errors.New(errors.ErrCodeBusUnavailable, fmt.Sprintf("failed to connect to NATS at %s", url), err)
	}
	return &NATS{nc: nc, done: make(chan struct{})}, nil
}

// Publish sends data on subject topic.
func (n *NATS) Publish(_ context.Context, topic string, data []byte) error {
	if err := n.nc.Publish(topic, data); err != nil {
		return errors.New(errors.ErrCodeBusUnavailable, "nats publish", err)
	}
	return nil
}

// Subscribe delivers messages on subject topic.
func (n *NATS) Subscribe(ctx context.Context, topic string) (<-chan Delivery, error) {
	msgs := make(chan *nats.Msg, natsPending)
	sub, err := n.nc.ChanSubscribe(topic, msgs)
	if err != nil {
		return nil, errors.New(errors.ErrCodeBusUnavailable, "nats subscribe", err)
	}

	out := make(chan Delivery, memoryBuffer)
	out <- Delivery{Kind: KindControl, Topic: topic}
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.done:
				return
			case m := <-msgs:
				select {
				case out <- Delivery{Kind: KindData, Topic: m.Subject, Data: m.Data}:
				case <-ctx.Done():
					return
				case <-n.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// natsErrorHandler logs asynchronous subscription errors. A slow consumer
// means messages were dropped and peers may have missed changes.
func natsErrorHandler(_ *nats.Conn, sub *nats.Subscription, err error) {
	attrs := []any{slog.String("error", fmt.Sprint(err))}
	if sub != nil {
		attrs = append(attrs, slog.String("subject", sub.Subject))
		if dropped, derr := sub.Dropped(); derr == nil {
			attrs = append(attrs, slog.Int("dropped", dropped))
		}
	}
	if errors.Is(err, nats.ErrSlowConsumer) {
		slog.Warn("nats_slow_consumer", attrs...)
		return
	}
	slog.Error("nats_subscription_error", attrs...)
}

// Close drains the connection and ends every subscription.
func (n *NATS) Close() error {
	n.once.Do(func() {
		close(n.done)
		if err := n.nc.Drain(); err != nil {
			n.nc.Close()
		}
	})
	return nil
}
