package identity

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "identities.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_CreateAndResolve(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	alice, err := s.Create(ctx, Identity{Name: "alice", Email: "alice@example.com", DisplayName: "Alice Liddell"})
	require.NoError(t, err)
	assert.NotZero(t, alice.ID)

	got, err := s.ByName(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	got, err = Resolve(ctx, s, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	got, err = Resolve(ctx, s, " "+strconv.FormatInt(alice.ID, 10)+" ")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.ByName(ctx, "ghost")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.True(t, errors.IsRetryable(err))

	_, err = s.ByID(ctx, 42)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = Resolve(ctx, s, "")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestSQLiteStore_Validation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, Identity{Name: " "})
	assert.Error(t, err)
	_, err = s.Create(ctx, Identity{Name: "123"})
	assert.Error(t, err)

	_, err = s.Create(ctx, Identity{Name: "bob"})
	require.NoError(t, err)
	_, err = s.Create(ctx, Identity{Name: "BOB"})
	assert.Error(t, err, "names are unique regardless of case")
}

func TestSQLiteStore_UpdateDeleteEach(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, Identity{Name: "alice"})
	require.NoError(t, err)
	b, err := s.Create(ctx, Identity{Name: "team", Owner: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", b.Owner)

	a.Alias = "al"
	require.NoError(t, s.Update(ctx, a))
	assert.ErrorIs(t, s.Update(ctx, Identity{ID: 999, Name: "nobody"}), errors.ErrNotFound)

	var names []string
	require.NoError(t, s.Each(ctx, func(i Identity) error {
		names = append(names, i.Name+"/"+i.Alias)
		return nil
	}))
	assert.Equal(t, []string{"alice/al", "team/"}, names)

	require.NoError(t, s.Delete(ctx, b.ID))
	require.NoError(t, s.Delete(ctx, b.ID))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_EachStopsOnError(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, Identity{Name: name})
		require.NoError(t, err)
	}

	stop := errors.New(errors.ErrCodeInternal, "stop", nil)
	calls := 0
	err := s.Each(ctx, func(Identity) error {
		calls++
		// Reentrant lookups must not deadlock.
		_, lookupErr := s.ByName(ctx, "a")
		require.NoError(t, lookupErr)
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestSQLiteStore_Closed(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := s.ByID(context.Background(), 1)
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestIdentity_VisibleTo(t *testing.T) {
	open := Identity{Name: "alice"}
	assert.True(t, open.VisibleTo(""))
	assert.True(t, open.VisibleTo("bob"))

	restricted := Identity{Name: "team", Owner: "alice"}
	assert.True(t, restricted.VisibleTo("Alice"))
	assert.False(t, restricted.VisibleTo("bob"))
	assert.False(t, restricted.VisibleTo(""))
}
