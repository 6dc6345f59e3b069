package core

import "time"

// CompletenessInfo reports whether a decision carries enough fields to act on.
type CompletenessInfo struct {
	Score         float64  `json:"score"`
	Threshold     float64  `json:"threshold"`
	MissingFields []string `json:"missing_fields"`
	IsSufficient  bool     `json:"is_sufficient"`
}

// RoutingDecision is the single structured output of the orchestration core.
// It is immutable once emitted; stages that evolve a decision work on copies.
type RoutingDecision struct {
	IntentCategory  IntentCategory   `json:"intent_category"`
	SubIntent       string           `json:"sub_intent"`
	Confidence      float64          `json:"confidence"`
	RiskLevel       RiskLevel        `json:"risk_level"`
	WorkflowType    WorkflowType     `json:"workflow_type"`
	LayerUsed       Layer            `json:"layer_used"`
	Completeness    CompletenessInfo `json:"completeness"`
	ExtractedFields map[string]any   `json:"extracted_fields"`
	LatencyMs       int64            `json:"latency_ms"`
	RawInput        string           `json:"raw_input"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the decision. Field and metadata maps are
// copied one level deep; values are treated as immutable.
func (d *RoutingDecision) Clone() *RoutingDecision {
	c := *d
	c.ExtractedFields = copyMap(d.ExtractedFields)
	c.Metadata = copyMap(d.Metadata)
	c.Completeness.MissingFields = append([]string(nil), d.Completeness.MissingFields...)
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RequestContext carries caller-supplied context that influences
// classification and risk assessment.
type RequestContext struct {
	Environment string         `json:"environment,omitempty"` // production, staging, ...
	IsWeekend   bool           `json:"is_weekend,omitempty"`
	IsUrgent    bool           `json:"is_urgent,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// RiskFactor is one audited adjustment applied during risk assessment.
type RiskFactor struct {
	Name  string  `json:"name"`
	Delta float64 `json:"delta"`
}

// RiskAssessment is the deterministic output of the risk assessor.
type RiskAssessment struct {
	Level            RiskLevel    `json:"level"`
	Score            float64      `json:"score"`
	RequiresApproval bool         `json:"requires_approval"`
	Factors          []RiskFactor `json:"factors"`
	Reasoning        string       `json:"reasoning"`
	AssessedAt       time.Time    `json:"assessed_at"`
}
