package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// NewOrigin returns a fresh process origin token.
func NewOrigin() string {
	return uuid.NewString()
}

// Publisher broadcasts this process's directory changes.
type Publisher struct {
	t       Transport
	topic   string
	origin  string
	breaker *errors.CircuitBreaker
}

// NewPublisher publishes on topic with the given origin token. After five
// consecutive failures publishing fails fast for thirty seconds.
func NewPublisher(t Transport, topic, origin string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		t:      t,
		topic:  topic,
		origin: origin,
		breaker: errors.NewCircuitBreaker("bus_publish",
			errors.WithMaxFailures(5),
			errors.WithResetTimeout(30*time.Second)),
	}
}

// Origin returns the token stamped on every message.
func (p *Publisher) Origin() string { return p.origin }

// Broadcast publishes a change of subject.
func (p *Publisher) Broadcast(ctx context.Context, op Op, subject string) error {
	msg := ChangeMessage{Op: op, Subject: subject, Origin: p.origin}
	err := p.breaker.Execute(func() error {
		return p.t.Publish(ctx, p.topic, msg.Encode())
	})
	if err != nil {
		slog.Warn("directory_change_publish_failed",
			slog.String("op", op.String()),
			slog.String("subject", subject),
			slog.String("circuit", p.breaker.State().String()),
			slog.String("error", err.Error()))
		return errors.New(errors.ErrCodePublishFailed, "broadcast directory change", err)
	}
	slog.Debug("directory_change_published",
		slog.String("op", op.String()),
		slog.String("subject", subject))
	return nil
}
