package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/intent/completeness"
	"github.com/hrygo/opsintent/metrics"
	"github.com/hrygo/opsintent/risk"
)

// Router folds an ordered list of classification tiers into one decision.
// Tier evaluation is strictly sequential and eagerly short-circuits: the
// first tier whose confidence clears its threshold wins and no tier below it
// is consulted. Tier errors degrade to fall-through; Route never fails.
//
// All shared state is load-time-immutable, so Route is safe for concurrent
// calls.
type Router struct {
	tiers   []Tier
	checker *completeness.Checker
	metrics *metrics.Metrics
	cache   *DecisionCache
}

// Config assembles a Router.
type Config struct {
	Tiers   []Tier
	Checker *completeness.Checker
	Metrics *metrics.Metrics

	// EnableCache turns on the decision cache.
	EnableCache bool
	Cache       CacheConfig
}

// New creates a Router.
func New(cfg Config) *Router {
	r := &Router{
		tiers:   cfg.Tiers,
		checker: cfg.Checker,
		metrics: cfg.Metrics,
	}
	if cfg.EnableCache {
		r.cache = NewDecisionCache(cfg.Cache)
	}
	return r
}

// Route classifies text through the tier cascade and returns a complete
// decision. Exactly one tier is charged in metrics per call; a cache hit
// charges the originally-used layer with near-zero latency.
func (r *Router) Route(ctx context.Context, text string, rctx *core.RequestContext) *core.RoutingDecision {
	start := time.Now()

	if r.cache != nil {
		if cached, ok := r.cache.Get(text); ok {
			cached.LatencyMs = time.Since(start).Milliseconds()
			r.observe(cached, "cache hit")
			if r.metrics != nil {
				r.metrics.RecordCache("hit")
			}
			return cached
		}
		if r.metrics != nil {
			r.metrics.RecordCache("miss")
		}
	}

	result, layer := r.classify(ctx, text, rctx)

	info, fields := r.checker.Check(result.Category, result.SubIntent, nil, text)

	decision := &core.RoutingDecision{
		IntentCategory:  result.Category,
		SubIntent:       result.SubIntent,
		Confidence:      result.Confidence,
		RiskLevel:       risk.BaselineLevel(result.Category, result.SubIntent),
		WorkflowType:    WorkflowFor(result.Category, result.SubIntent),
		LayerUsed:       layer,
		Completeness:    info,
		ExtractedFields: fields,
		LatencyMs:       time.Since(start).Milliseconds(),
		RawInput:        text,
		Metadata:        result.Attributes,
	}
	if len(result.MissingHint) > 0 {
		if decision.Metadata == nil {
			decision.Metadata = make(map[string]any)
		}
		decision.Metadata["missing_fields_hint"] = result.MissingHint
	}

	if r.metrics != nil {
		r.metrics.RecordRouting(string(decision.IntentCategory), string(layer), time.Since(start))
	}
	if r.cache != nil {
		r.cache.Set(text, decision)
	}
	r.observe(decision, "routed")
	return decision
}

// classify walks the tier cascade. The final tier (LLM) accepts anything;
// if even it degrades, the result is UNKNOWN with confidence 0 charged to
// the llm layer.
func (r *Router) classify(ctx context.Context, text string, rctx *core.RequestContext) (*TierResult, core.Layer) {
	lastLayer := core.LayerLLM
	for _, tier := range r.tiers {
		lastLayer = tier.Name()
		result, err := tier.TryClassify(ctx, text, rctx)
		if err != nil {
			slog.Warn("classification tier degraded, falling through",
				"layer", tier.Name(), "error", err)
			if r.metrics != nil {
				r.metrics.RecordTierFailure(string(tier.Name()))
			}
			continue
		}
		if result == nil {
			continue
		}
		if result.Confidence >= tier.Threshold() {
			return result, tier.Name()
		}
	}
	return &TierResult{
		Category:   core.CategoryUnknown,
		SubIntent:  core.GeneralSubIntent(core.CategoryUnknown),
		Confidence: 0,
	}, lastLayer
}

// ClearCache drops memoized decisions, used when rule snapshots are swapped.
func (r *Router) ClearCache() {
	if r.cache != nil {
		r.cache.Clear()
	}
}

func (r *Router) observe(d *core.RoutingDecision, msg string) {
	slog.Debug(msg,
		"input", truncate(d.RawInput, 50),
		"category", d.IntentCategory,
		"sub_intent", d.SubIntent,
		"confidence", d.Confidence,
		"layer", d.LayerUsed,
		"sufficient", d.Completeness.IsSufficient,
		"latency_ms", d.LatencyMs)
}

// truncate shortens s for log lines.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
