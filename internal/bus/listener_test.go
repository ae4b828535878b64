package bus

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
)

// fakeDirectory resolves from a map and records applied changes.
type fakeDirectory struct {
	mu       sync.Mutex
	byName   map[string]identity.Identity
	lookups  int
	docs     map[int64]identity.Identity
	upserts  int
	failNext error
}

func newFakeDirectory(ids ...identity.Identity) *fakeDirectory {
	f := &fakeDirectory{byName: map[string]identity.Identity{}, docs: map[int64]identity.Identity{}}
	for _, i := range ids {
		f.byName[i.Name] = i
	}
	return f
}

func (f *fakeDirectory) ByID(_ context.Context, id int64) (identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	for _, i := range f.byName {
		if i.ID == id {
			return i, nil
		}
	}
	return identity.Identity{}, errors.NotFound("identity", strconv.FormatInt(id, 10))
}

func (f *fakeDirectory) ByName(_ context.Context, name string) (identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	i, ok := f.byName[name]
	if !ok {
		return identity.Identity{}, errors.NotFound("identity", name)
	}
	return i, nil
}

func (f *fakeDirectory) Upsert(_ context.Context, i identity.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return err
	}
	f.upserts++
	f.docs[i.ID] = i
	return nil
}

func (f *fakeDirectory) DeleteByID(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeDirectory) snapshot() map[int64]identity.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]identity.Identity, len(f.docs))
	for k, v := range f.docs {
		out[k] = v
	}
	return out
}

func newListener(dir *fakeDirectory) *Listener {
	return NewListener(NewHub().Connect(), dir, dir, ListenerOptions{
		Origin:          "p2",
		ResolveAttempts: 3,
		ResolveDelay:    time.Millisecond,
	})
}

func data(m ChangeMessage) Delivery {
	return Delivery{Kind: KindData, Topic: DefaultTopic, Data: m.Encode()}
}

var alice = identity.Identity{ID: 7, Name: "alice"}

func TestListener_AppliesIdempotently(t *testing.T) {
	dir := newFakeDirectory(alice)
	l := newListener(dir)
	ctx := context.Background()

	msg := ChangeMessage{Op: OpCreated, Subject: "alice", Origin: "p1"}
	l.Handle(ctx, data(msg))
	once := dir.snapshot()
	l.Handle(ctx, data(msg))
	assert.Equal(t, once, dir.snapshot())
	assert.Equal(t, map[int64]identity.Identity{7: alice}, dir.snapshot())

	del := data(ChangeMessage{Op: OpDeleted, Subject: "7", Origin: "p1"})
	l.Handle(ctx, del)
	l.Handle(ctx, del)
	assert.Empty(t, dir.snapshot())
	assert.Equal(t, uint64(4), l.Stats().Applied)
}

func TestListener_SkipsOwnMessages(t *testing.T) {
	dir := newFakeDirectory(alice)
	l := newListener(dir)

	l.Handle(context.Background(), data(ChangeMessage{Op: OpCreated, Subject: "alice", Origin: "p2"}))
	assert.Empty(t, dir.snapshot())
	assert.Zero(t, dir.lookups)
	assert.Equal(t, uint64(1), l.Stats().Self)
}

func TestListener_ResolvesByID(t *testing.T) {
	dir := newFakeDirectory(alice)
	l := newListener(dir)
	l.Handle(context.Background(), data(ChangeMessage{Op: OpModified, Subject: "7", Origin: "p1"}))
	assert.Contains(t, dir.snapshot(), int64(7))
}

func TestListener_DropsUnresolvableAfterRetries(t *testing.T) {
	dir := newFakeDirectory()
	l := newListener(dir)

	l.Handle(context.Background(), data(ChangeMessage{Op: OpCreated, Subject: "ghost", Origin: "p1"}))
	assert.Equal(t, 3, dir.lookups)
	assert.Equal(t, uint64(1), l.Stats().Dropped)
	assert.Empty(t, dir.snapshot())
}

func TestListener_WaitsForLateIdentity(t *testing.T) {
	dir := newFakeDirectory()
	l := NewListener(NewHub().Connect(), dir, dir, ListenerOptions{
		Origin:          "p2",
		ResolveAttempts: 50,
		ResolveDelay:    5 * time.Millisecond,
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		dir.mu.Lock()
		dir.byName["alice"] = alice
		dir.mu.Unlock()
	}()
	l.Handle(context.Background(), data(ChangeMessage{Op: OpCreated, Subject: "alice", Origin: "p1"}))
	assert.Contains(t, dir.snapshot(), int64(7))
}

func TestListener_RetriesBusyWriter(t *testing.T) {
	dir := newFakeDirectory(alice)
	dir.failNext = errors.LockContention("directory")
	l := newListener(dir)

	l.Handle(context.Background(), data(ChangeMessage{Op: OpCreated, Subject: "alice", Origin: "p1"}))

	s := l.Stats()
	assert.Equal(t, uint64(1), s.Applied)
	assert.Zero(t, s.Dropped)
	assert.Contains(t, dir.snapshot(), alice.ID)
}

func TestListener_DropsPermanentApplyFailure(t *testing.T) {
	dir := newFakeDirectory(alice)
	dir.failNext = errors.New(errors.ErrCodeIndexCommit, "disk full", nil)
	l := newListener(dir)

	l.Handle(context.Background(), data(ChangeMessage{Op: OpCreated, Subject: "alice", Origin: "p1"}))

	s := l.Stats()
	assert.Equal(t, uint64(1), s.Dropped)
	assert.Zero(t, s.Applied)
	assert.Empty(t, dir.snapshot())
}

func TestListener_IgnoresNoise(t *testing.T) {
	dir := newFakeDirectory(alice)
	l := newListener(dir)
	ctx := context.Background()

	l.Handle(ctx, Delivery{Kind: KindControl, Topic: DefaultTopic})
	l.Handle(ctx, Delivery{Kind: KindData, Topic: "elsewhere", Data: []byte(`(1, "alice", "p1")`)})
	l.Handle(ctx, Delivery{Kind: KindData, Topic: DefaultTopic, Data: []byte("garbage")})
	l.Handle(ctx, data(ChangeMessage{Op: OpDeleted, Subject: "alice", Origin: "p1"}))

	s := l.Stats()
	assert.Equal(t, uint64(2), s.Ignored)
	assert.Equal(t, uint64(2), s.Invalid)
	assert.Zero(t, s.Applied)
	assert.Empty(t, dir.snapshot())
}

func TestListener_RunUntilCancelled(t *testing.T) {
	hub := NewHub()
	dir := newFakeDirectory(alice)
	l := NewListener(hub.Connect(), dir, dir, ListenerOptions{Origin: "p2"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	pub := NewPublisher(hub.Connect(), "", "p1")
	require.Eventually(t, func() bool {
		_ = pub.Broadcast(context.Background(), OpCreated, "alice")
		return len(dir.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}
