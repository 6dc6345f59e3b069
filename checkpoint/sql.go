package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// SQL drivers. SQLite is supported on a best-effort basis for
	// development; Postgres is the production driver.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pkg/errors"
)

// SQLStore backs the checkpoint substrate with a relational database.
// CAS is an UPDATE guarded by the stored version column; the affected-rows
// count decides between success and conflict.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewSQLStore opens the database and ensures the checkpoints table exists.
// driver is "sqlite" or "postgres".
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("checkpoint: dsn required")
	}
	driverName := driver
	if driver == "postgres" {
		driverName = "postgres"
	} else if driver == "sqlite" {
		driverName = "sqlite"
	} else {
		return nil, errors.Errorf("checkpoint: unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "checkpoint: ping database")
	}
	if driver == "sqlite" {
		// A single connection sidesteps SQLITE_BUSY under concurrent writers.
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, driver: driver, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			key        TEXT PRIMARY KEY,
			payload    BYTEA,
			version    BIGINT NOT NULL,
			expires_at BIGINT
		)`)
	if err != nil && s.driver == "sqlite" {
		// SQLite has no BYTEA type affinity issue but older versions reject it
		// in strict mode; retry with BLOB.
		_, err = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS checkpoints (
				key        TEXT PRIMARY KEY,
				payload    BLOB,
				version    BIGINT NOT NULL,
				expires_at BIGINT
			)`)
	}
	return errors.Wrap(err, "checkpoint: migrate")
}

// rebind converts ?-placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) (int64, error) {
	// An expired row counts as absent, so its version restarts at 1.
	if err := s.dropExpired(ctx, key); err != nil {
		return 0, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO checkpoints (key, payload, version, expires_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT (key) DO UPDATE SET payload = excluded.payload,
		 version = checkpoints.version + 1, expires_at = excluded.expires_at
		 RETURNING version`),
		key, payload, s.expiry(ttl))
	var version int64
	if err := row.Scan(&version); err != nil {
		return 0, errors.Wrap(err, "checkpoint: save")
	}
	return version, nil
}

func (s *SQLStore) Load(ctx context.Context, key string) ([]byte, int64, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT payload, version, expires_at FROM checkpoints WHERE key = ?`), key)
	var payload []byte
	var version int64
	var expiresAt sql.NullInt64
	if err := row.Scan(&payload, &version, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, errors.Wrap(err, "checkpoint: load")
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.now().Unix() {
		return nil, 0, ErrNotFound
	}
	return payload, version, nil
}

func (s *SQLStore) CAS(ctx context.Context, key string, payload []byte, expected int64, ttl time.Duration) (int64, error) {
	if expected == 0 {
		return s.casCreate(ctx, key, payload, ttl)
	}
	// The version guard and the liveness predicate make this a single atomic
	// compare-and-swap; zero affected rows means someone else moved first.
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE checkpoints SET payload = ?, version = ?, expires_at = ?
		 WHERE key = ? AND version = ? AND (expires_at IS NULL OR expires_at > ?)`),
		payload, expected+1, s.expiry(ttl), key, expected, s.now().Unix())
	if err != nil {
		return 0, errors.Wrap(err, "checkpoint: cas update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "checkpoint: rows affected")
	}
	if n == 0 {
		return 0, conflictErr(key, expected, s.currentVersion(ctx, key))
	}
	return expected + 1, nil
}

// casCreate handles expected == 0: the key must not exist (or must have
// expired). The INSERT's affected-rows count decides the race.
func (s *SQLStore) casCreate(ctx context.Context, key string, payload []byte, ttl time.Duration) (int64, error) {
	if err := s.dropExpired(ctx, key); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO checkpoints (key, payload, version, expires_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT (key) DO NOTHING`),
		key, payload, s.expiry(ttl))
	if err != nil {
		return 0, errors.Wrap(err, "checkpoint: cas insert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "checkpoint: rows affected")
	}
	if n == 0 {
		return 0, conflictErr(key, 0, s.currentVersion(ctx, key))
	}
	return 1, nil
}

func (s *SQLStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT key FROM checkpoints
		 WHERE key LIKE ? ESCAPE '\' AND (expires_at IS NULL OR expires_at > ?)`),
		likePrefix(prefix), s.now().Unix())
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: list")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "checkpoint: scan key")
		}
		keys = append(keys, k)
	}
	return keys, errors.Wrap(rows.Err(), "checkpoint: list rows")
}

func (s *SQLStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM checkpoints WHERE key = ?`), key)
	if err != nil {
		return false, errors.Wrap(err, "checkpoint: delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "checkpoint: rows affected")
	}
	return n > 0, nil
}

func (s *SQLStore) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM checkpoints WHERE expires_at IS NOT NULL AND expires_at <= ?`), s.now().Unix())
	if err != nil {
		return 0, errors.Wrap(err, "checkpoint: sweep")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "checkpoint: rows affected")
	}
	return int(n), nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// DB exposes the underlying handle so other components can share the
// connection pool, such as the pgvector route index.
func (s *SQLStore) DB() *sql.DB { return s.db }

// dropExpired removes the key's row when it has already expired, so a create
// or save treats it as absent.
func (s *SQLStore) dropExpired(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM checkpoints WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?`),
		key, s.now().Unix())
	return errors.Wrap(err, "checkpoint: drop expired")
}

// currentVersion reads the live version for conflict messages; missing and
// expired rows report 0.
func (s *SQLStore) currentVersion(ctx context.Context, key string) int64 {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT version FROM checkpoints
		 WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`),
		key, s.now().Unix())
	var version int64
	if err := row.Scan(&version); err != nil {
		return 0
	}
	return version
}

// expiry converts a TTL to the stored unix-seconds deadline.
func (s *SQLStore) expiry(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(ttl).Unix(), Valid: true}
}

// likePrefix escapes LIKE metacharacters in prefix and appends the wildcard.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

var _ Store = (*SQLStore)(nil)
