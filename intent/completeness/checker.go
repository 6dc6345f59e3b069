package completeness

import (
	"log/slog"

	"github.com/hrygo/opsintent/core"
)

// Checker resolves completeness rules and scores extracted fields.
// It is deterministic: identical inputs and rules produce identical output.
type Checker struct {
	rules    map[string]*Rule // "CATEGORY/sub_intent"
	defaults map[core.IntentCategory]*Rule

	// onMissingRule is invoked when neither a sub-intent rule nor a category
	// default exists, so the caller can charge a warning metric.
	onMissingRule func(category core.IntentCategory, subIntent string)
}

// NewChecker indexes the compiled rules. Rules with an empty sub_intent
// become category defaults.
func NewChecker(rules []Rule, onMissingRule func(core.IntentCategory, string)) *Checker {
	c := &Checker{
		rules:         make(map[string]*Rule),
		defaults:      make(map[core.IntentCategory]*Rule),
		onMissingRule: onMissingRule,
	}
	for i := range rules {
		r := &rules[i]
		if r.SubIntent == "" {
			c.defaults[r.Category] = r
			continue
		}
		c.rules[string(r.Category)+"/"+r.SubIntent] = r
	}
	return c
}

// Resolve returns the rule for (category, sub_intent), falling back to the
// category default. Nil when neither exists.
func (c *Checker) Resolve(category core.IntentCategory, subIntent string) *Rule {
	if r, ok := c.rules[string(category)+"/"+subIntent]; ok {
		return r
	}
	return c.defaults[category]
}

// Fields returns the field definitions relevant to (category, sub_intent),
// required fields first in rule order. Nil when no rule applies.
func (c *Checker) Fields(category core.IntentCategory, subIntent string) []FieldDefinition {
	r := c.Resolve(category, subIntent)
	if r == nil {
		return nil
	}
	return r.Fields
}

// Check scores the known fields against the resolved rule. Required fields
// not yet present are extracted from rawInput with the rule's extractors;
// extracted values are merged into the returned field map. The input map is
// never mutated.
func (c *Checker) Check(category core.IntentCategory, subIntent string, known map[string]any, rawInput string) (core.CompletenessInfo, map[string]any) {
	fields := make(map[string]any, len(known))
	for k, v := range known {
		fields[k] = v
	}

	rule := c.Resolve(category, subIntent)
	if rule == nil {
		if c.onMissingRule != nil {
			c.onMissingRule(category, subIntent)
		}
		slog.Warn("no completeness rule, treating as sufficient",
			"category", category, "sub_intent", subIntent)
		return core.CompletenessInfo{
			Score:        1.0,
			Threshold:    DefaultThreshold(category),
			IsSufficient: true,
		}, fields
	}

	required := rule.RequiredKeys()
	present := 0
	missing := make([]string, 0, len(required))
	for i := range rule.Fields {
		fd := &rule.Fields[i]
		if _, ok := fields[fd.Key]; !ok && rawInput != "" {
			if v, hit := fd.Extract(rawInput); hit {
				fields[fd.Key] = v
			}
		}
		if !fd.Required {
			continue
		}
		if _, ok := fields[fd.Key]; ok {
			present++
		} else {
			missing = append(missing, fd.Key)
		}
	}

	score := 1.0
	if len(required) > 0 {
		score = float64(present) / float64(len(required))
	}
	return core.CompletenessInfo{
		Score:         score,
		Threshold:     rule.Threshold,
		MissingFields: missing,
		IsSufficient:  score >= rule.Threshold,
	}, fields
}
