package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// Redis is a transport over Redis pub/sub channels.
type Redis struct {
	client *goredis.Client
	done   chan struct{}
	once   sync.Once
}

var _ Transport = (*Redis)(nil)

// DialRedis connects to the Redis server at url (redis://host:port/db).
func DialRedis(ctx context.Context, url string) (*Redis, error) {
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.ConfigError("invalid redis url", err)
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New(errors.ErrCodeBusUnavailable, "failed to connect to redis", err)
	}
	return NewRedis(client), nil
}

// NewRedis wraps an existing client. The transport owns it from then on.
func NewRedis(client *goredis.Client) *Redis {
	return &Redis{client: client, done: make(chan struct{})}
}

// Publish sends data on channel topic.
func (r *Redis) Publish(ctx context.Context, topic string, data []byte) error {
	if err := r.client.Publish(ctx, topic, data).Err(); err != nil {
		return errors.New(errors.ErrCodeBusUnavailable, "redis publish", err)
	}
	return nil
}

// Subscribe delivers messages on channel topic. Subscription
// confirmations arrive as control deliveries.
func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan Delivery, error) {
	ps := r.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.New(errors.ErrCodeBusUnavailable, "redis subscribe", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-subCtx.Done():
		case <-r.done:
			cancel()
		}
	}()

	out := make(chan Delivery, memoryBuffer)
	out <- Delivery{Kind: KindControl, Topic: topic}
	go func() {
		defer close(out)
		defer cancel()
		defer func() { _ = ps.Close() }()
		for {
			msg, err := ps.Receive(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				slog.Warn("redis_receive_failed", slog.String("error", err.Error()))
				select {
				case <-time.After(time.Second):
				case <-subCtx.Done():
					return
				}
				continue
			}

			var d Delivery
			switch m := msg.(type) {
			case *goredis.Message:
				d = Delivery{Kind: KindData, Topic: m.Channel, Data: []byte(m.Payload)}
			case *goredis.Subscription:
				d = Delivery{Kind: KindControl, Topic: m.Channel}
			default:
				continue
			}
			select {
			case out <- d:
			case <-subCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close ends every subscription and closes the client.
func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.client.Close()
	})
	return err
}
