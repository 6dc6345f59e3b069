package checkpoint

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/opsintent/core"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(context.Background(), "sqlite", "file:"+t.TempDir()+"/checkpoints.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStoreSaveLoadCAS(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	v, err := s.Save(ctx, "a", []byte("one"), NoTTL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = s.Save(ctx, "a", []byte("two"), NoTTL)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	payload, version, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), payload)
	assert.Equal(t, int64(2), version)

	// CAS happy path and conflict.
	v, err = s.CAS(ctx, "a", []byte("three"), 2, NoTTL)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = s.CAS(ctx, "a", []byte("stale"), 2, NoTTL)
	assert.ErrorIs(t, err, core.ErrConflict)

	// expected=0 on an existing key conflicts.
	_, err = s.CAS(ctx, "a", []byte("new"), 0, NoTTL)
	assert.ErrorIs(t, err, core.ErrConflict)

	// expected=0 creates a fresh key.
	v, err = s.CAS(ctx, "fresh", []byte("x"), 0, NoTTL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestSQLStoreCASStaleAfterInterleavedSave(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	v, err := s.Save(ctx, "k", []byte("one"), NoTTL)
	require.NoError(t, err)

	// Another writer advances the row between our load and our CAS.
	_, err = s.Save(ctx, "k", []byte("two"), NoTTL)
	require.NoError(t, err)

	_, err = s.CAS(ctx, "k", []byte("mine"), v, NoTTL)
	assert.ErrorIs(t, err, core.ErrConflict)

	payload, version, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), payload, "loser must not overwrite the winner")
	assert.Equal(t, int64(2), version)
}

func TestSQLStoreCASConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	const writers = 8
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.CAS(ctx, "contended", []byte{byte(i)}, 0, NoTTL)
			if err == nil {
				assert.Equal(t, int64(1), v)
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, core.ErrConflict)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(1), wins.Load(), "exactly one creator may win")
}

func TestSQLStoreCASCreateAfterExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	v, err := s.Save(ctx, "k", []byte("old"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	now = now.Add(time.Hour)

	// The expired row counts as absent: a create succeeds and the version
	// restarts at 1.
	v, err = s.CAS(ctx, "k", []byte("new"), 0, NoTTL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestSQLStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Save(ctx, "short", []byte("x"), time.Minute)
	require.NoError(t, err)
	_, err = s.Save(ctx, "long", []byte("y"), NoTTL)
	require.NoError(t, err)

	now = now.Add(time.Hour)

	_, _, err = s.Load(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, _, err = s.Load(ctx, "long")
	assert.NoError(t, err)
}

func TestSQLStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	for _, k := range []string{"approvals/1", "approvals/2", "dialog/1"} {
		_, err := s.Save(ctx, k, []byte("x"), NoTTL)
		require.NoError(t, err)
	}

	keys, err := s.List(ctx, "approvals/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"approvals/1", "approvals/2"}, keys)

	existed, err := s.Delete(ctx, "approvals/1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "approvals/1")
	require.NoError(t, err)
	assert.False(t, existed)
}
