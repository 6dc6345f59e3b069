package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/opsintent/core"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	v, err := s.Save(ctx, "dialog/abc", []byte(`{"state":"active"}`), NoTTL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	payload, version, err := s.Load(ctx, "dialog/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"state":"active"}`), payload)
	assert.Equal(t, int64(1), version)

	// Binary payloads must survive the JSON envelope.
	raw := []byte{0x00, 0xff, 0x10, 0x80}
	_, err = s.Save(ctx, "blob", raw, NoTTL)
	require.NoError(t, err)
	payload, _, err = s.Load(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, raw, payload)
}

func TestFileStoreCASConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	_, err := s.CAS(ctx, "k", []byte("v1"), 0, NoTTL)
	require.NoError(t, err)

	_, err = s.CAS(ctx, "k", []byte("v2"), 0, NoTTL)
	assert.ErrorIs(t, err, core.ErrConflict)

	v, err := s.CAS(ctx, "k", []byte("v2"), 1, NoTTL)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestFileStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Save(ctx, "dialog/short", []byte("x"), time.Minute)
	require.NoError(t, err)
	_, err = s.Save(ctx, "dialog/long", []byte("y"), time.Hour)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)

	_, _, err = s.Load(ctx, "dialog/short")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := s.List(ctx, "dialog/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dialog/long"}, keys)
}

func TestFileStoreSweepExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Save(ctx, "a", []byte("x"), time.Second)
	require.NoError(t, err)
	_, err = s.Save(ctx, "nested/b", []byte("y"), time.Second)
	require.NoError(t, err)
	_, err = s.Save(ctx, "keep", []byte("z"), NoTTL)
	require.NoError(t, err)

	now = now.Add(time.Hour)

	removed, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, keys)
}

func TestFileStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	_, err := s.Save(ctx, "k", []byte("x"), NoTTL)
	require.NoError(t, err)

	existed, err := s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)
}
