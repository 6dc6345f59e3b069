package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisStore backs the checkpoint substrate with Redis. Each entry is a JSON
// envelope carrying the version; CAS uses WATCH/MULTI optimistic locking so
// concurrent writers observe the same semantics as MemoryStore. Expiry is
// delegated to Redis TTLs.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

type redisEnvelope struct {
	Version int64  `json:"version"`
	Payload []byte `json:"payload"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // namespace prefix, default "opsintent:"
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "opsintent:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "checkpoint: redis ping")
	}
	return &RedisStore{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "opsintent:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) (int64, error) {
	rkey := s.keyPrefix + key
	var version int64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.readTx(ctx, tx, rkey)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		version = 1
		if current != nil {
			version = current.Version + 1
		}
		data, err := json.Marshal(redisEnvelope{Version: version, Payload: payload})
		if err != nil {
			return errors.Wrap(err, "checkpoint: encode envelope")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, data, ttl)
			return nil
		})
		return err
	}, rkey)
	if err != nil {
		return 0, errors.Wrap(err, "checkpoint: redis save")
	}
	return version, nil
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, int64, error) {
	data, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "checkpoint: redis load")
	}
	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, errors.Wrap(err, "checkpoint: decode envelope")
	}
	return env.Payload, env.Version, nil
}

func (s *RedisStore) CAS(ctx context.Context, key string, payload []byte, expected int64, ttl time.Duration) (int64, error) {
	rkey := s.keyPrefix + key
	var version int64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.readTx(ctx, tx, rkey)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		have := int64(0)
		if current != nil {
			have = current.Version
		}
		if have != expected {
			return conflictErr(key, expected, have)
		}
		version = have + 1
		data, err := json.Marshal(redisEnvelope{Version: version, Payload: payload})
		if err != nil {
			return errors.Wrap(err, "checkpoint: encode envelope")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, data, ttl)
			return nil
		})
		return err
	}, rkey)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer raced us between WATCH and EXEC.
		return 0, conflictErr(key, expected, -1)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.keyPrefix+prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "checkpoint: redis scan")
	}
	return keys, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, errors.Wrap(err, "checkpoint: redis delete")
	}
	return n > 0, nil
}

// SweepExpired is a no-op: Redis evicts expired keys natively.
func (s *RedisStore) SweepExpired(context.Context) (int, error) { return 0, nil }

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) readTx(ctx context.Context, tx *redis.Tx, rkey string) (*redisEnvelope, error) {
	data, err := tx.Get(ctx, rkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: redis get")
	}
	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "checkpoint: decode envelope")
	}
	return &env, nil
}

var _ Store = (*RedisStore)(nil)
