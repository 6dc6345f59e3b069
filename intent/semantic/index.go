package semantic

import (
	"context"
	"math"

	"github.com/hrygo/opsintent/core"
)

// Neighbor is the closest labeled utterance to a query vector.
type Neighbor struct {
	RouteID    string
	Category   core.IntentCategory
	SubIntent  string
	Similarity float64
}

// RouteIndex answers nearest-neighbor queries over labeled utterance vectors.
type RouteIndex interface {
	// Add stores the vector for one utterance of a route.
	Add(ctx context.Context, route Route, utterance string, vector []float32) error

	// Nearest returns the most similar utterance's route, or nil when the
	// index is empty.
	Nearest(ctx context.Context, vector []float32) (*Neighbor, error)
}

// MemoryIndex is the in-process RouteIndex: brute-force cosine over all
// utterance vectors. The index is write-once at load time and read-only
// afterwards, so lookups need no locking.
type MemoryIndex struct {
	entries []memoryEntry
}

type memoryEntry struct {
	routeID   string
	category  core.IntentCategory
	subIntent string
	vector    []float32
	norm      float64
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (x *MemoryIndex) Add(_ context.Context, route Route, _ string, vector []float32) error {
	x.entries = append(x.entries, memoryEntry{
		routeID:   route.ID,
		category:  route.Category,
		subIntent: route.SubIntent,
		vector:    vector,
		norm:      vectorNorm(vector),
	})
	return nil
}

func (x *MemoryIndex) Nearest(_ context.Context, vector []float32) (*Neighbor, error) {
	if len(x.entries) == 0 {
		return nil, nil
	}
	queryNorm := vectorNorm(vector)
	best := -1
	bestSim := math.Inf(-1)
	for i := range x.entries {
		sim := cosine(vector, queryNorm, x.entries[i].vector, x.entries[i].norm)
		if sim > bestSim {
			bestSim = sim
			best = i
		}
	}
	e := &x.entries[best]
	return &Neighbor{
		RouteID:    e.routeID,
		Category:   e.category,
		SubIntent:  e.subIntent,
		Similarity: bestSim,
	}, nil
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if len(a) != len(b) || len(a) == 0 || normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

var _ RouteIndex = (*MemoryIndex)(nil)
