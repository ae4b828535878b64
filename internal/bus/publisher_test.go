package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// failingTransport refuses every publish.
type failingTransport struct {
	Memory
	calls int
}

func (f *failingTransport) Publish(context.Context, string, []byte) error {
	f.calls++
	return errors.New(errors.ErrCodeBusUnavailable, "down", nil)
}

func TestPublisher_StampsOrigin(t *testing.T) {
	hub := NewHub()
	sub := hub.Connect()
	ch, err := sub.Subscribe(context.Background(), DefaultTopic)
	require.NoError(t, err)
	next(t, ch)

	pub := NewPublisher(hub.Connect(), "", "p1")
	assert.Equal(t, "p1", pub.Origin())
	require.NoError(t, pub.Broadcast(context.Background(), OpDeleted, "42"))

	got, err := Decode(next(t, ch).Data)
	require.NoError(t, err)
	assert.Equal(t, ChangeMessage{Op: OpDeleted, Subject: "42", Origin: "p1"}, got)
}

func TestPublisher_OpensCircuit(t *testing.T) {
	tr := &failingTransport{}
	pub := NewPublisher(tr, "", NewOrigin())

	for i := 0; i < 5; i++ {
		err := pub.Broadcast(context.Background(), OpCreated, "alice")
		assert.Equal(t, errors.ErrCodePublishFailed, errors.GetCode(err))
	}
	err := pub.Broadcast(context.Background(), OpCreated, "alice")
	assert.ErrorIs(t, err, errors.ErrBusUnavailable)
	assert.Equal(t, 5, tr.calls)
}

func TestNewOrigin_Unique(t *testing.T) {
	assert.NotEqual(t, NewOrigin(), NewOrigin())
	assert.Len(t, NewOrigin(), 36)
}
