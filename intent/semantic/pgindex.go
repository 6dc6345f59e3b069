package semantic

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/opsintent/core"
)

// PGIndex is a Postgres-backed RouteIndex using pgvector. Utterance
// embeddings are persisted so route reloads skip re-embedding unchanged
// routes across restarts.
type PGIndex struct {
	db         *sql.DB
	dimensions int
}

// NewPGIndex ensures the route_embeddings table exists for the given vector
// dimension. Requires the pgvector extension.
func NewPGIndex(ctx context.Context, db *sql.DB, dimensions int) (*PGIndex, error) {
	if dimensions <= 0 {
		return nil, errors.New("semantic: pg index requires a positive dimension")
	}
	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, errors.Wrap(err, "semantic: create vector extension")
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS route_embeddings (
			route_id   TEXT NOT NULL,
			category   TEXT NOT NULL,
			sub_intent TEXT NOT NULL,
			utterance  TEXT NOT NULL,
			embedding  vector(`+strconv.Itoa(dimensions)+`),
			PRIMARY KEY (route_id, utterance)
		)`)
	if err != nil {
		return nil, errors.Wrap(err, "semantic: create route_embeddings")
	}
	return &PGIndex{db: db, dimensions: dimensions}, nil
}

func (x *PGIndex) Add(ctx context.Context, route Route, utterance string, vector []float32) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO route_embeddings (route_id, category, sub_intent, utterance, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (route_id, utterance) DO UPDATE SET
			category = excluded.category,
			sub_intent = excluded.sub_intent,
			embedding = excluded.embedding`,
		route.ID, string(route.Category), route.SubIntent, utterance, pgvector.NewVector(vector))
	return errors.Wrap(err, "semantic: insert route embedding")
}

func (x *PGIndex) Nearest(ctx context.Context, vector []float32) (*Neighbor, error) {
	// <=> is pgvector cosine distance; similarity = 1 - distance.
	row := x.db.QueryRowContext(ctx, `
		SELECT route_id, category, sub_intent, 1 - (embedding <=> $1) AS similarity
		FROM route_embeddings
		ORDER BY embedding <=> $1
		LIMIT 1`, pgvector.NewVector(vector))
	var n Neighbor
	var category string
	if err := row.Scan(&n.RouteID, &category, &n.SubIntent, &n.Similarity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "semantic: nearest query")
	}
	n.Category = core.ParseCategory(category)
	return &n, nil
}

var _ RouteIndex = (*PGIndex)(nil)
