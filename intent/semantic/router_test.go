package semantic

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/opsintent/core"
)

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	failAll bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.failAll {
		return nil, errors.New("embedding upstream down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := f.vectors[text]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

func fiveUtterances(prefix string) []string {
	return []string{prefix + "1", prefix + "2", prefix + "3", prefix + "4", prefix + "5"}
}

func newTestRouter(t *testing.T, opts ...Option) (*Router, *fakeEmbedder) {
	t.Helper()
	emb := &fakeEmbedder{vectors: map[string][]float32{}}
	for _, u := range fiveUtterances("db") {
		emb.vectors[u] = []float32{1, 0, 0}
	}
	for _, u := range fiveUtterances("install") {
		emb.vectors[u] = []float32{0, 1, 0}
	}
	r := NewRouter(emb, opts...)
	routes, err := ValidateRoutes([]RouteSpec{
		{ID: "database_performance", Category: "INCIDENT", SubIntent: "database_performance", Utterances: fiveUtterances("db")},
		{ID: "software_install", Category: "REQUEST", SubIntent: "software_install", Utterances: fiveUtterances("install")},
	})
	require.NoError(t, err)
	require.NoError(t, r.Load(context.Background(), routes))
	return r, emb
}

func TestRouteNearestAboveThreshold(t *testing.T) {
	r, emb := newTestRouter(t)
	// Close to the db cluster but not identical.
	emb.vectors["the database is very slow"] = []float32{0.95, 0.1, 0}

	result := r.Route(context.Background(), "the database is very slow")
	require.NotNil(t, result)
	assert.Equal(t, "database_performance", result.RouteID)
	assert.Equal(t, core.CategoryIncident, result.Category)
	assert.Greater(t, result.Similarity, 0.85)
}

func TestRouteBelowThreshold(t *testing.T) {
	r, emb := newTestRouter(t)
	// Orthogonal-ish query: best similarity well under the threshold.
	emb.vectors["what's for lunch"] = []float32{0.3, 0.3, 0.9}

	assert.Nil(t, r.Route(context.Background(), "what's for lunch"))
}

func TestRouteCustomThreshold(t *testing.T) {
	r, emb := newTestRouter(t, WithThreshold(0.2))
	emb.vectors["vaguely databaseish"] = []float32{0.4, 0.1, 0.9}

	result := r.Route(context.Background(), "vaguely databaseish")
	require.NotNil(t, result)
	assert.Equal(t, "database_performance", result.RouteID)
}

func TestRouteEmptyText(t *testing.T) {
	r, _ := newTestRouter(t)
	assert.Nil(t, r.Route(context.Background(), ""))
}

func TestRouteDegradesOnEmbedFailure(t *testing.T) {
	var hookErr error
	r, emb := newTestRouter(t, WithFailureHook(func(err error) { hookErr = err }))
	emb.failAll = true

	// Degradation is silent toward the caller; the hook sees the error.
	assert.Nil(t, r.Route(context.Background(), "database slow"))
	assert.Error(t, hookErr)
}

// fakeIndex counts writes and serves a canned neighbor, standing in for an
// external index backend.
type fakeIndex struct {
	added   int
	nearest *Neighbor
}

func (f *fakeIndex) Add(context.Context, Route, string, []float32) error {
	f.added++
	return nil
}

func (f *fakeIndex) Nearest(context.Context, []float32) (*Neighbor, error) {
	return f.nearest, nil
}

func TestRouteThroughInjectedIndex(t *testing.T) {
	idx := &fakeIndex{nearest: &Neighbor{
		RouteID:    "database_performance",
		Category:   core.CategoryIncident,
		SubIntent:  "database_performance",
		Similarity: 0.93,
	}}
	r, _ := newTestRouter(t, WithIndex(idx))

	result := r.Route(context.Background(), "db sluggish")
	require.NotNil(t, result)
	assert.Equal(t, "database_performance", result.RouteID)
	assert.Equal(t, 10, idx.added, "load writes every utterance through the injected index")
}

func TestValidateRoutesUtteranceCount(t *testing.T) {
	_, err := ValidateRoutes([]RouteSpec{{
		ID: "r", Category: "QUERY", SubIntent: "s",
		Utterances: []string{"only", "four", "examples", "here"},
	}})
	assert.Error(t, err)
}

func TestMemoryIndexNearest(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	empty, err := idx.Nearest(ctx, []float32{1, 0})
	require.NoError(t, err)
	assert.Nil(t, empty)

	routeA := Route{ID: "a", Category: core.CategoryIncident, SubIntent: "x"}
	routeB := Route{ID: "b", Category: core.CategoryRequest, SubIntent: "y"}
	require.NoError(t, idx.Add(ctx, routeA, "u1", []float32{1, 0}))
	require.NoError(t, idx.Add(ctx, routeB, "u2", []float32{0, 1}))

	n, err := idx.Nearest(ctx, []float32{0.9, 0.1})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "a", n.RouteID)
	assert.InDelta(t, 0.9/(1*vectorNorm([]float32{0.9, 0.1})), n.Similarity, 1e-9)
}
