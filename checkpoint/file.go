package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FileStore persists one JSON document per key under a data directory.
// Intended for single-node dev deployments; CAS is serialized by a
// process-wide mutex, so it is not safe across processes.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// fileEnvelope is the on-disk representation of an entry.
type fileEnvelope struct {
	Version   int64      `json:"version"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Payload   []byte     `json:"payload"`
}

// NewFileStore creates the data directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint: file store requires a data directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "checkpoint: create data directory")
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) Save(_ context.Context, key string, payload []byte, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	version := int64(1)
	if env != nil {
		version = env.Version + 1
	}
	if err := s.write(key, payload, version, ttl); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *FileStore) Load(_ context.Context, key string) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read(key)
	if err != nil {
		return nil, 0, err
	}
	return env.Payload, env.Version, nil
}

func (s *FileStore) CAS(_ context.Context, key string, payload []byte, expected int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	current := int64(0)
	if env != nil {
		current = env.Version
	}
	if current != expected {
		return 0, conflictErr(key, expected, current)
	}
	version := current + 1
	if err := s.write(key, payload, version, ttl); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return err
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		if env, rerr := s.read(key); rerr == nil && env != nil {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: list")
	}
	return keys, nil
}

func (s *FileStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "checkpoint: delete")
	}
	return true, nil
}

func (s *FileStore) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return err
		}
		rel, rerr := filepath.Rel(s.dir, path)
		if rerr != nil {
			return rerr
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		// read removes the file as a side effect when it has expired.
		if _, rerr := s.read(key); errors.Is(rerr, ErrNotFound) {
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, errors.Wrap(err, "checkpoint: sweep")
	}
	return removed, nil
}

func (s *FileStore) Close() error { return nil }

// read loads and validates the envelope for key, deleting it when expired.
// Callers must hold s.mu.
func (s *FileStore) read(key string) (*fileEnvelope, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: read")
	}
	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "checkpoint: decode envelope")
	}
	if env.ExpiresAt != nil && !env.ExpiresAt.After(s.now()) {
		_ = os.Remove(s.path(key))
		return nil, ErrNotFound
	}
	return &env, nil
}

// write persists the envelope atomically via rename. Callers must hold s.mu.
func (s *FileStore) write(key string, payload []byte, version int64, ttl time.Duration) error {
	env := fileEnvelope{Version: version, Payload: payload}
	if ttl > 0 {
		t := s.now().Add(ttl)
		env.ExpiresAt = &t
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "checkpoint: encode envelope")
	}
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "checkpoint: mkdir")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "checkpoint: write")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "checkpoint: rename")
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key)+".json")
}

var _ Store = (*FileStore)(nil)
