// Package risk scores routing decisions and decides whether a human must
// approve before execution.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/opsintent/core"
)

// Category baseline levels.
var categoryBaseline = map[core.IntentCategory]core.RiskLevel{
	core.CategoryIncident: core.RiskHigh,
	core.CategoryChange:   core.RiskHigh,
	core.CategoryRequest:  core.RiskMedium,
	core.CategoryQuery:    core.RiskLow,
}

// Sub-intents that force CRITICAL regardless of the computed score.
var criticalSubIntents = map[string]bool{
	"system_down":        true,
	"system_unavailable": true,
	"data_loss":          true,
}

// Numeric base score per level; the level buckets in assess() are the
// inverse mapping.
var levelScore = map[core.RiskLevel]float64{
	core.RiskLow:      0.20,
	core.RiskMedium:   0.40,
	core.RiskHigh:     0.65,
	core.RiskCritical: 0.90,
}

// Multiplicative adjusters.
const (
	productionMultiplier = 1.3
	stagingMultiplier    = 1.0
	weekendMultiplier    = 1.2
	urgentMultiplier     = 1.2
)

// BaselineLevel returns the category baseline with sub-intent overrides
// applied. This is the fixed table the intent router uses when tagging a
// fresh decision; the full assessment runs later with caller context.
func BaselineLevel(category core.IntentCategory, subIntent string) core.RiskLevel {
	if criticalSubIntents[subIntent] {
		return core.RiskCritical
	}
	if level, ok := categoryBaseline[category]; ok {
		return level
	}
	return core.RiskLow
}

// Assessor computes deterministic risk assessments.
type Assessor struct {
	now func() time.Time
}

// NewAssessor creates an Assessor.
func NewAssessor() *Assessor {
	return &Assessor{now: time.Now}
}

// Assess scores a decision under the caller's context. Identical inputs
// always produce identical output (modulo the timestamp).
func (a *Assessor) Assess(decision *core.RoutingDecision, rctx *core.RequestContext) *core.RiskAssessment {
	baseLevel := categoryBaseline[decision.IntentCategory]
	if baseLevel == "" {
		baseLevel = core.RiskLow
	}
	score := levelScore[baseLevel]
	factors := []core.RiskFactor{{Name: "category_baseline", Delta: score}}
	var notes []string
	notes = append(notes, fmt.Sprintf("category %s starts at %s", decision.IntentCategory, baseLevel))

	apply := func(name string, multiplier float64) {
		before := score
		score *= multiplier
		if score > 1.0 {
			score = 1.0
		}
		factors = append(factors, core.RiskFactor{Name: name, Delta: score - before})
		if multiplier != 1.0 {
			notes = append(notes, fmt.Sprintf("%s raises the score by x%.1f", name, multiplier))
		}
	}

	if rctx != nil {
		switch rctx.Environment {
		case "production":
			apply("production_environment", productionMultiplier)
		case "staging":
			apply("staging_environment", stagingMultiplier)
		}
		if rctx.IsWeekend {
			apply("weekend", weekendMultiplier)
		}
		if rctx.IsUrgent {
			apply("urgent", urgentMultiplier)
		}
	}

	level := bucket(score)
	if criticalSubIntents[decision.SubIntent] {
		if score < levelScore[core.RiskCritical] {
			factors = append(factors, core.RiskFactor{
				Name:  "sub_intent_override:" + decision.SubIntent,
				Delta: levelScore[core.RiskCritical] - score,
			})
			score = levelScore[core.RiskCritical]
		}
		level = core.RiskCritical
		notes = append(notes, fmt.Sprintf("sub-intent %s forces CRITICAL", decision.SubIntent))
	}

	requiresApproval := level == core.RiskHigh || level == core.RiskCritical
	if requiresApproval {
		notes = append(notes, "human approval required")
	}

	return &core.RiskAssessment{
		Level:            level,
		Score:            score,
		RequiresApproval: requiresApproval,
		Factors:          factors,
		Reasoning:        strings.Join(notes, "; ") + ".",
		AssessedAt:       a.now(),
	}
}

// bucket maps a score to a level: <=0.25 LOW, <=0.55 MEDIUM, <=0.80 HIGH,
// else CRITICAL.
func bucket(score float64) core.RiskLevel {
	switch {
	case score <= 0.25:
		return core.RiskLow
	case score <= 0.55:
		return core.RiskMedium
	case score <= 0.80:
		return core.RiskHigh
	default:
		return core.RiskCritical
	}
}
