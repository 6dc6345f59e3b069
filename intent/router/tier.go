// Package router coordinates the three classification tiers into a single
// RoutingDecision pipeline.
package router

import (
	"context"

	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/intent/llmclass"
	"github.com/hrygo/opsintent/intent/pattern"
	"github.com/hrygo/opsintent/intent/semantic"
)

// TierResult is the common output shape of every classification tier.
type TierResult struct {
	Category   core.IntentCategory
	SubIntent  string
	Confidence float64
	// MissingHint optionally names fields the tier believes are absent.
	MissingHint []string
	// Attributes carries tier-specific detail for decision metadata.
	Attributes map[string]any
}

// Tier is one classification layer. TryClassify returns nil when the tier
// has no answer; errors are degradations the coordinator falls through.
type Tier interface {
	Name() core.Layer
	Threshold() float64
	TryClassify(ctx context.Context, text string, rctx *core.RequestContext) (*TierResult, error)
}

// PatternTier adapts pattern.Matcher.
type PatternTier struct {
	Matcher       *pattern.Matcher
	MinConfidence float64 // default 0.90
}

func (t *PatternTier) Name() core.Layer { return core.LayerPattern }

func (t *PatternTier) Threshold() float64 {
	if t.MinConfidence > 0 {
		return t.MinConfidence
	}
	return 0.90
}

func (t *PatternTier) TryClassify(_ context.Context, text string, _ *core.RequestContext) (*TierResult, error) {
	m := t.Matcher.Match(text)
	if m == nil {
		return nil, nil
	}
	return &TierResult{
		Category:   m.Category,
		SubIntent:  m.SubIntent,
		Confidence: m.Confidence,
		Attributes: map[string]any{
			"rule_id":            m.RuleID,
			"covered_span_ratio": m.CoveredSpanRatio,
		},
	}, nil
}

// SemanticTier adapts semantic.Router. The router already applies its own
// similarity threshold, so a returned result always passes.
type SemanticTier struct {
	Router *semantic.Router
}

func (t *SemanticTier) Name() core.Layer { return core.LayerSemantic }

func (t *SemanticTier) Threshold() float64 { return t.Router.Threshold() }

func (t *SemanticTier) TryClassify(ctx context.Context, text string, _ *core.RequestContext) (*TierResult, error) {
	r := t.Router.Route(ctx, text)
	if r == nil {
		return nil, nil
	}
	return &TierResult{
		Category:   r.Category,
		SubIntent:  r.SubIntent,
		Confidence: r.Similarity,
		Attributes: map[string]any{
			"route_id":   r.RouteID,
			"similarity": r.Similarity,
		},
	}, nil
}

// LLMTier adapts llmclass.Classifier. As the tier of last resort it accepts
// any confidence, including the UNKNOWN/0 degradation.
type LLMTier struct {
	Classifier llmclass.Classifier
}

func (t *LLMTier) Name() core.Layer { return core.LayerLLM }

func (t *LLMTier) Threshold() float64 { return 0 }

func (t *LLMTier) TryClassify(ctx context.Context, text string, rctx *core.RequestContext) (*TierResult, error) {
	r, err := t.Classifier.Classify(ctx, text, rctx)
	if err != nil {
		return nil, err
	}
	return &TierResult{
		Category:    r.Category,
		SubIntent:   r.SubIntent,
		Confidence:  r.Confidence,
		MissingHint: r.MissingFieldsHint,
	}, nil
}
