package router

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/intent/completeness"
)

// fakeTier returns a scripted result or error and counts invocations.
type fakeTier struct {
	name      core.Layer
	threshold float64
	result    *TierResult
	err       error
	calls     int
}

func (t *fakeTier) Name() core.Layer   { return t.name }
func (t *fakeTier) Threshold() float64 { return t.threshold }

func (t *fakeTier) TryClassify(context.Context, string, *core.RequestContext) (*TierResult, error) {
	t.calls++
	return t.result, t.err
}

func emptyChecker() *completeness.Checker {
	return completeness.NewChecker(nil, nil)
}

func newTestRouter(enableCache bool, tiers ...Tier) *Router {
	return New(Config{
		Tiers:       tiers,
		Checker:     emptyChecker(),
		EnableCache: enableCache,
	})
}

func TestRouteEagerShortCircuit(t *testing.T) {
	top := &fakeTier{
		name: core.LayerPattern, threshold: 0.90,
		result: &TierResult{Category: core.CategoryIncident, SubIntent: "etl_failure", Confidence: 0.95},
	}
	lower := &fakeTier{name: core.LayerSemantic, threshold: 0.85}
	r := newTestRouter(false, top, lower)

	d := r.Route(context.Background(), "ETL failed", nil)
	require.NotNil(t, d)
	assert.Equal(t, core.LayerPattern, d.LayerUsed)
	assert.Equal(t, "etl_failure", d.SubIntent)
	assert.Equal(t, 1, top.calls)
	assert.Zero(t, lower.calls, "winning tier must stop the cascade")
}

func TestRouteBelowThresholdFallsThrough(t *testing.T) {
	weak := &fakeTier{
		name: core.LayerPattern, threshold: 0.90,
		result: &TierResult{Category: core.CategoryQuery, SubIntent: "status_check", Confidence: 0.60},
	}
	next := &fakeTier{
		name: core.LayerSemantic, threshold: 0.85,
		result: &TierResult{Category: core.CategoryIncident, SubIntent: "database_performance", Confidence: 0.91},
	}
	r := newTestRouter(false, weak, next)

	d := r.Route(context.Background(), "db is slow", nil)
	assert.Equal(t, core.LayerSemantic, d.LayerUsed)
	assert.Equal(t, "database_performance", d.SubIntent)
	assert.Equal(t, 1, weak.calls)
	assert.Equal(t, 1, next.calls)
}

func TestRouteErrorDegradesToNextTier(t *testing.T) {
	broken := &fakeTier{name: core.LayerSemantic, threshold: 0.85, err: errors.New("embeddings down")}
	next := &fakeTier{
		name: core.LayerLLM, threshold: 0,
		result: &TierResult{Category: core.CategoryRequest, SubIntent: "general_request", Confidence: 0.4},
	}
	r := newTestRouter(false, broken, next)

	d := r.Route(context.Background(), "help me", nil)
	assert.Equal(t, core.LayerLLM, d.LayerUsed)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, next.calls)
}

func TestRouteExhaustedCascadeIsUnknown(t *testing.T) {
	silent := &fakeTier{name: core.LayerPattern, threshold: 0.90}
	failing := &fakeTier{name: core.LayerLLM, threshold: 0, err: errors.New("upstream down")}
	r := newTestRouter(false, silent, failing)

	d := r.Route(context.Background(), "???", nil)
	require.NotNil(t, d)
	assert.Equal(t, core.CategoryUnknown, d.IntentCategory)
	assert.Equal(t, core.GeneralSubIntent(core.CategoryUnknown), d.SubIntent)
	assert.Zero(t, d.Confidence)
	assert.Equal(t, core.LayerLLM, d.LayerUsed, "degraded decision charged to the last tier tried")
}

func TestRouteEmptyInputIsUnknownNotError(t *testing.T) {
	pat := &fakeTier{name: core.LayerPattern, threshold: 0.90}
	llm := &fakeTier{name: core.LayerLLM, threshold: 0}
	r := newTestRouter(false, pat, llm)

	d := r.Route(context.Background(), "", nil)
	require.NotNil(t, d)
	assert.Equal(t, core.CategoryUnknown, d.IntentCategory)
	assert.Zero(t, d.Confidence)
	assert.Equal(t, core.LayerLLM, d.LayerUsed)
	assert.Equal(t, 1, pat.calls, "empty input still walks the cascade")
	assert.Equal(t, 1, llm.calls)
}

func TestRouteMissingFieldsHintMetadata(t *testing.T) {
	llm := &fakeTier{
		name: core.LayerLLM, threshold: 0,
		result: &TierResult{
			Category: core.CategoryIncident, SubIntent: "etl_failure", Confidence: 0.7,
			MissingHint: []string{"error_message"},
		},
	}
	r := newTestRouter(false, llm)

	d := r.Route(context.Background(), "something broke", nil)
	require.NotNil(t, d.Metadata)
	assert.Equal(t, []string{"error_message"}, d.Metadata["missing_fields_hint"])
}

func TestRouteTierAttributesBecomeMetadata(t *testing.T) {
	tier := &fakeTier{
		name: core.LayerPattern, threshold: 0.90,
		result: &TierResult{
			Category: core.CategoryIncident, SubIntent: "system_down", Confidence: 0.95,
			Attributes: map[string]any{"rule_id": "system_down"},
		},
	}
	r := newTestRouter(false, tier)

	d := r.Route(context.Background(), "everything is down", nil)
	assert.Equal(t, "system_down", d.Metadata["rule_id"])
}

func TestRouteCacheHit(t *testing.T) {
	tier := &fakeTier{
		name: core.LayerPattern, threshold: 0.90,
		result: &TierResult{Category: core.CategoryIncident, SubIntent: "etl_failure", Confidence: 0.95},
	}
	r := newTestRouter(true, tier)

	first := r.Route(context.Background(), "ETL failed", nil)
	second := r.Route(context.Background(), "ETL failed", nil)
	assert.Equal(t, 1, tier.calls, "cache hit must skip the cascade")
	assert.Equal(t, first.SubIntent, second.SubIntent)
	assert.Equal(t, first.LayerUsed, second.LayerUsed)

	// Cached decisions are copies: mutating one must not leak back.
	second.Metadata = map[string]any{"poison": true}
	third := r.Route(context.Background(), "ETL failed", nil)
	assert.NotContains(t, third.Metadata, "poison")
	assert.Equal(t, 1, tier.calls)
}

func TestRouteClearCache(t *testing.T) {
	tier := &fakeTier{
		name: core.LayerPattern, threshold: 0.90,
		result: &TierResult{Category: core.CategoryIncident, SubIntent: "etl_failure", Confidence: 0.95},
	}
	r := newTestRouter(true, tier)

	r.Route(context.Background(), "ETL failed", nil)
	r.ClearCache()
	r.Route(context.Background(), "ETL failed", nil)
	assert.Equal(t, 2, tier.calls)
}

func TestRouteFillsBaselineRiskAndWorkflow(t *testing.T) {
	tier := &fakeTier{
		name: core.LayerPattern, threshold: 0.90,
		result: &TierResult{Category: core.CategoryIncident, SubIntent: "system_down", Confidence: 0.95},
	}
	r := newTestRouter(false, tier)

	d := r.Route(context.Background(), "prod is down", nil)
	assert.Equal(t, core.RiskCritical, d.RiskLevel)
	assert.Equal(t, core.WorkflowMagentic, d.WorkflowType)
	assert.True(t, d.Completeness.IsSufficient, "no completeness rule defaults to sufficient")
	assert.Equal(t, "prod is down", d.RawInput)
}

func TestWorkflowFor(t *testing.T) {
	tests := []struct {
		category core.IntentCategory
		sub      string
		want     core.WorkflowType
	}{
		{core.CategoryIncident, "etl_failure", core.WorkflowSequential},
		{core.CategoryIncident, "system_down", core.WorkflowMagentic},
		{core.CategoryRequest, "account_request", core.WorkflowSimple},
		{core.CategoryChange, "release_deployment", core.WorkflowMagentic},
		{core.CategoryChange, "config_change", core.WorkflowSequential},
		{core.CategoryQuery, "status_check", core.WorkflowSimple},
		{core.CategoryUnknown, "general_unknown", core.WorkflowSimple},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WorkflowFor(tt.category, tt.sub), string(tt.category))
	}
}
