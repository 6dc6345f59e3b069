package lru

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	c := New[string, int](4, time.Minute)

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 2, 0)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Size())
}

func TestEvictionOrder(t *testing.T) {
	c := New[string, int](2, time.Minute)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	// Touch "a" so "b" becomes the eviction candidate.
	c.Get("a")
	c.Set("c", 3, 0)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := New[string, int](4, time.Minute)

	c.Set("short", 1, time.Millisecond)
	c.Set("long", 2, time.Minute)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)

	c.Set("gone", 3, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, c.CleanupExpired())
}

func TestRemoveAndClear(t *testing.T) {
	c := New[string, int](4, time.Minute)

	c.Set("a", 1, 0)
	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))

	c.Set("b", 2, 0)
	c.Set("c", 3, 0)
	c.Clear()
	assert.Zero(t, c.Size())
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestDefaults(t *testing.T) {
	c := New[string, int](0, 0)
	assert.Equal(t, 1000, c.Capacity())
}
