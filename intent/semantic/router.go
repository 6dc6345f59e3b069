package semantic

import (
	"context"
	"log/slog"
	"time"
)

// DefaultThreshold is the minimum cosine similarity for a semantic hit.
const DefaultThreshold = 0.85

// Result is the outcome of a semantic route lookup.
type Result = Neighbor

// Router resolves inputs against labeled example utterances. Routes are
// embedded once at load time; Route never embeds anything but the query.
//
// Route is degradation-safe: an embedding failure yields "no result" (plus
// the failure hook), never an error to the caller.
type Router struct {
	embedder  Embedder
	index     RouteIndex
	threshold float64

	// onFailure is invoked when the embedding call or index lookup fails,
	// so the coordinator can charge a metric without the router raising.
	onFailure func(err error)
}

// Option configures a Router.
type Option func(*Router)

// WithThreshold overrides the similarity threshold.
func WithThreshold(t float64) Option {
	return func(r *Router) { r.threshold = t }
}

// WithFailureHook sets the degradation callback.
func WithFailureHook(fn func(err error)) Option {
	return func(r *Router) { r.onFailure = fn }
}

// WithIndex overrides the route index (default: in-memory).
func WithIndex(idx RouteIndex) Option {
	return func(r *Router) { r.index = idx }
}

// NewRouter builds a Router over the given embedder.
func NewRouter(embedder Embedder, opts ...Option) *Router {
	r := &Router{
		embedder:  embedder,
		index:     NewMemoryIndex(),
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load embeds every utterance of every route into the index. Each route's
// utterances are embedded in one batch call.
func (r *Router) Load(ctx context.Context, routes []Route) error {
	for _, route := range routes {
		vectors, err := r.embedder.EmbedBatch(ctx, route.Utterances)
		if err != nil {
			return err
		}
		for i, utterance := range route.Utterances {
			if err := r.index.Add(ctx, route, utterance, vectors[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Route embeds text and returns the most similar route when its similarity
// clears the threshold, else nil.
func (r *Router) Route(ctx context.Context, text string) *Result {
	if text == "" {
		return nil
	}
	start := time.Now()
	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		r.degrade("embed query", err)
		return nil
	}
	neighbor, err := r.index.Nearest(ctx, vector)
	if err != nil {
		r.degrade("nearest lookup", err)
		return nil
	}
	if neighbor == nil || neighbor.Similarity < r.threshold {
		return nil
	}
	slog.Debug("semantic route hit",
		"route", neighbor.RouteID,
		"similarity", neighbor.Similarity,
		"latency_ms", time.Since(start).Milliseconds())
	return neighbor
}

// Threshold returns the configured similarity threshold.
func (r *Router) Threshold() float64 { return r.threshold }

func (r *Router) degrade(stage string, err error) {
	slog.Warn("semantic router degraded", "stage", stage, "error", err)
	if r.onFailure != nil {
		r.onFailure(err)
	}
}
