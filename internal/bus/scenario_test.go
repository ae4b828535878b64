package bus_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexkeeper/internal/bus"
	"github.com/Aman-CERP/indexkeeper/internal/directory"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/store"
)

// peer is one process: its own store, directory index, publisher and
// listener, sharing the identity database, the hub and, when root is set,
// the store root with other peers.
type peer struct {
	dir      *directory.Index
	listener *bus.Listener
}

func startPeer(t *testing.T, ctx context.Context, hub *bus.Hub, ids identity.Directory, root, origin string) *peer {
	t.Helper()
	st, err := store.New(store.Options{Root: root, Writer: store.WriterOptions{
		MaxIters: 200,
		MinDelay: time.Millisecond,
		MaxDelay: 10 * time.Millisecond,
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tr := hub.Connect()
	t.Cleanup(func() { _ = tr.Close() })

	dir := directory.New(st, ids, bus.NewPublisher(tr, "", origin), directory.Options{LockPoll: 5 * time.Millisecond})
	l := bus.NewListener(tr, ids, dir, bus.ListenerOptions{
		Origin:          origin,
		ResolveAttempts: 10,
		ResolveDelay:    10 * time.Millisecond,
	})
	go func() { _ = l.Run(ctx) }()
	return &peer{dir: dir, listener: l}
}

func TestCreatedIdentityReachesPeer(t *testing.T) {
	t.Run("separate memory stores", func(t *testing.T) {
		testCreatedIdentityReachesPeer(t, false)
	})
	t.Run("shared store root", func(t *testing.T) {
		testCreatedIdentityReachesPeer(t, true)
	})
}

func testCreatedIdentityReachesPeer(t *testing.T, shared bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids, err := identity.OpenSQLite(filepath.Join(t.TempDir(), "identities.db"))
	require.NoError(t, err)
	defer ids.Close()

	var root1, root2 string
	if shared {
		root1 = t.TempDir()
		root2 = root1
	}

	hub := bus.NewHub()
	p1 := startPeer(t, ctx, hub, ids, root1, "P1")
	p2 := startPeer(t, ctx, hub, ids, root2, "P2")

	// Both directory indexes exist before alice does.
	for _, p := range []*peer{p1, p2} {
		got, err := p.dir.Query(ctx, "alice", "", nil)
		require.NoError(t, err)
		require.Empty(t, got)
	}
	// Wait for both listeners to subscribe.
	require.Eventually(t, func() bool {
		return hub.Subscribers(bus.DefaultTopic) == 2
	}, time.Second, 5*time.Millisecond)

	_, err = ids.Create(ctx, identity.Identity{Name: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	require.NoError(t, p1.dir.OnCreated(ctx, "alice"))

	require.Eventually(t, func() bool {
		return p2.listener.Stats().Applied == 1
	}, 2*time.Second, 5*time.Millisecond)

	got, err := p2.dir.Query(ctx, "alice", "", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].Name)

	require.Eventually(t, func() bool {
		return p1.listener.Stats().Self == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, p1.listener.Stats().Applied)
}
