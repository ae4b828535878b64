package bus

import (
	"context"
	"fmt"
	"strings"
)

// DefaultTopic carries directory changes.
const DefaultTopic = "indexkeeper.directory"

// Kind tells data deliveries from broker bookkeeping.
type Kind int

const (
	// KindData carries a published payload.
	KindData Kind = iota
	// KindControl reports subscription changes and similar events.
	KindControl
)

// Delivery is one event received from a subscription.
type Delivery struct {
	Kind  Kind
	Topic string
	Data  []byte
}

// Transport is a publish/subscribe broker connection.
type Transport interface {
	// Publish sends data to every subscriber of topic.
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe delivers events for topic until ctx is cancelled or the
	// transport is closed, then closes the channel.
	Subscribe(ctx context.Context, topic string) (<-chan Delivery, error)
	Close() error
}

// Transport names.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
	TransportRedis  = "redis"
)

// Config selects and addresses a transport.
type Config struct {
	Transport string `yaml:"transport" json:"transport"`
	URL       string `yaml:"url" json:"url"`
	Topic     string `yaml:"topic" json:"topic"`
}

// Dial connects the configured transport. Memory transports attach to hub,
// or to a private hub when hub is nil.
func Dial(ctx context.Context, cfg Config, hub *Hub) (Transport, error) {
	switch strings.ToLower(cfg.Transport) {
	case "", TransportMemory:
		if hub == nil {
			hub = NewHub()
		}
		return hub.Connect(), nil
	case TransportNATS:
		return DialNATS(cfg.URL)
	case TransportRedis:
		return DialRedis(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown bus transport %q", cfg.Transport)
	}
}
