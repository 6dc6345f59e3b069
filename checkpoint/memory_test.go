package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/opsintent/core"
)

func TestMemoryStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

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

	_, _, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCAS(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// expected=0 asserts key absence.
	v, err := s.CAS(ctx, "k", []byte("v1"), 0, NoTTL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Creating again with expected=0 must conflict.
	_, err = s.CAS(ctx, "k", []byte("v1b"), 0, NoTTL)
	assert.ErrorIs(t, err, core.ErrConflict)

	v, err = s.CAS(ctx, "k", []byte("v2"), 1, NoTTL)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// Stale version must conflict and not overwrite.
	_, err = s.CAS(ctx, "k", []byte("stale"), 1, NoTTL)
	assert.ErrorIs(t, err, core.ErrConflict)

	payload, version, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), payload)
	assert.Equal(t, int64(2), version)
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Save(ctx, "ephemeral", []byte("x"), time.Minute)
	require.NoError(t, err)
	_, err = s.Save(ctx, "durable", []byte("y"), NoTTL)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	_, _, err = s.Load(ctx, "ephemeral")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Load(ctx, "durable")
	assert.NoError(t, err)

	// Expired key restarts version numbering.
	v, err := s.Save(ctx, "ephemeral", []byte("z"), NoTTL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestMemoryStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, k := range []string{"dialog/1", "dialog/2", "approvals/1"} {
		_, err := s.Save(ctx, k, []byte("x"), NoTTL)
		require.NoError(t, err)
	}

	keys, err := s.List(ctx, "dialog/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dialog/1", "dialog/2"}, keys)

	existed, err := s.Delete(ctx, "dialog/1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "dialog/1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMemoryStoreSweepExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Save(ctx, "a", []byte("x"), time.Second)
	require.NoError(t, err)
	_, err = s.Save(ctx, "b", []byte("y"), time.Hour)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	removed, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, _, err = s.Load(ctx, "b")
	assert.NoError(t, err)
}

func TestConflictErrWrapsCoreConflict(t *testing.T) {
	err := conflictErr("k", 3, 5)
	assert.True(t, errors.Is(err, core.ErrConflict))
	assert.Contains(t, err.Error(), "expected version 3")
}
