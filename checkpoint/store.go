// Package checkpoint provides a key-addressed, versioned state store with
// compare-and-set semantics. It is the only persistence coupling of the
// orchestration core; dialog sessions and approval requests live here.
package checkpoint

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/opsintent/core"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("checkpoint: not found")

// NoTTL marks an entry that never expires.
const NoTTL time.Duration = 0

// Store is the checkpoint substrate. Implementations must provide atomic CAS:
// the version returned by Save/Load/CAS increases by exactly one per
// successful write of a key.
type Store interface {
	// Save writes payload unconditionally and returns the new version.
	// A ttl of NoTTL means the entry never expires.
	Save(ctx context.Context, key string, payload []byte, ttl time.Duration) (int64, error)

	// Load returns the payload and current version for key.
	// Returns ErrNotFound for missing or expired keys.
	Load(ctx context.Context, key string) ([]byte, int64, error)

	// CAS writes payload only when the stored version equals expected.
	// expected == 0 asserts the key does not exist yet. On a version
	// mismatch the returned error wraps core.ErrConflict.
	CAS(ctx context.Context, key string, payload []byte, expected int64, ttl time.Duration) (int64, error)

	// List returns all live keys with the given prefix, in unspecified order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// SweepExpired removes expired entries and returns how many were removed.
	// Backends with native expiry may return 0.
	SweepExpired(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// conflictErr builds the canonical CAS conflict error for a key.
func conflictErr(key string, expected, actual int64) error {
	return errors.Wrapf(core.ErrConflict, "checkpoint: cas %s: expected version %d, have %d", key, expected, actual)
}
