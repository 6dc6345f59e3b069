// Package core defines the shared data model for the intent orchestration
// pipeline: categories, risk levels, routing decisions and boundary errors.
package core

import "strings"

// IntentCategory is the coarse IT intent classification.
type IntentCategory string

const (
	CategoryIncident IntentCategory = "INCIDENT"
	CategoryRequest  IntentCategory = "REQUEST"
	CategoryChange   IntentCategory = "CHANGE"
	CategoryQuery    IntentCategory = "QUERY"
	CategoryUnknown  IntentCategory = "UNKNOWN"
)

// ParseCategory normalizes a category string to an IntentCategory.
// Off-vocabulary values coerce to CategoryUnknown.
func ParseCategory(s string) IntentCategory {
	switch IntentCategory(strings.ToUpper(strings.TrimSpace(s))) {
	case CategoryIncident:
		return CategoryIncident
	case CategoryRequest:
		return CategoryRequest
	case CategoryChange:
		return CategoryChange
	case CategoryQuery:
		return CategoryQuery
	default:
		return CategoryUnknown
	}
}

// Categories returns the closed category set excluding UNKNOWN.
func Categories() []IntentCategory {
	return []IntentCategory{CategoryIncident, CategoryRequest, CategoryChange, CategoryQuery}
}

// RiskLevel grades the operational risk of acting on a decision.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank returns the ordering of the risk level, LOW=0 .. CRITICAL=3.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// Raise returns the next higher risk level, capped at CRITICAL.
func (r RiskLevel) Raise() RiskLevel {
	switch r {
	case RiskLow:
		return RiskMedium
	case RiskMedium:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// WorkflowType hints the downstream executor at the execution shape.
type WorkflowType string

const (
	WorkflowSimple     WorkflowType = "SIMPLE"
	WorkflowSequential WorkflowType = "SEQUENTIAL"
	WorkflowConcurrent WorkflowType = "CONCURRENT"
	WorkflowHandoff    WorkflowType = "HANDOFF"
	WorkflowMagentic   WorkflowType = "MAGENTIC"
)

// SourceType identifies where an inbound request originated.
type SourceType string

const (
	SourceUser       SourceType = "USER"
	SourceServiceNow SourceType = "SERVICENOW"
	SourcePrometheus SourceType = "PROMETHEUS"
	SourceOther      SourceType = "OTHER"
)

// Layer identifies which classification layer produced a decision.
type Layer string

const (
	LayerPattern           Layer = "pattern"
	LayerSemantic          Layer = "semantic"
	LayerLLM               Layer = "llm"
	LayerServiceNowMapping Layer = "servicenow_mapping"
	LayerPrometheusMapping Layer = "prometheus_mapping"
)

// GeneralSubIntent returns the general_* placeholder sub-intent for a category.
func GeneralSubIntent(category IntentCategory) string {
	switch category {
	case CategoryIncident:
		return "general_incident"
	case CategoryRequest:
		return "general_request"
	case CategoryChange:
		return "general_change"
	case CategoryQuery:
		return "general_query"
	default:
		return "general"
	}
}

// IsGeneralSubIntent reports whether sub is a general_* placeholder.
func IsGeneralSubIntent(sub string) bool {
	return sub == "general" || strings.HasPrefix(sub, "general_")
}
