// Package pattern implements the first classification tier: pre-compiled
// regex rules that resolve high-confidence intents in well under 10ms.
package pattern

import (
	"os"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/opsintent/core"
)

// RuleSpec is the declarative form of one pattern rule as it appears in the
// rule document.
type RuleSpec struct {
	ID             string   `yaml:"id"`
	Category       string   `yaml:"category"`
	SubIntent      string   `yaml:"sub_intent"`
	Priority       *int     `yaml:"priority"`
	BaseConfidence *float64 `yaml:"base_confidence"`
	Patterns       []string `yaml:"patterns"`
}

// Rule is a validated, compiled pattern rule. Compilation happens exactly
// once at load time; Match never compiles.
type Rule struct {
	ID             string
	Category       core.IntentCategory
	SubIntent      string
	Priority       int
	BaseConfidence float64
	Patterns       []*regexp.Regexp
}

// ParseRules decodes and validates a YAML rule document.
func ParseRules(data []byte) ([]Rule, error) {
	var specs []RuleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, errors.Wrap(err, "pattern: decode rule document")
	}
	return CompileRules(specs)
}

// LoadRulesFile reads and parses a rule document from disk.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "pattern: read rule file")
	}
	return ParseRules(data)
}

// CompileRules validates specs and pre-compiles every regex.
// Invalid regexes, duplicate ids and missing required keys are configuration
// errors and abort the load.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	seen := make(map[string]bool, len(specs))
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		if spec.ID == "" {
			return nil, errors.Errorf("pattern: rule %d: id required", i)
		}
		if seen[spec.ID] {
			return nil, errors.Errorf("pattern: duplicate rule id %q", spec.ID)
		}
		seen[spec.ID] = true
		category := core.ParseCategory(spec.Category)
		if category == core.CategoryUnknown {
			return nil, errors.Errorf("pattern: rule %q: unknown category %q", spec.ID, spec.Category)
		}
		if spec.SubIntent == "" {
			return nil, errors.Errorf("pattern: rule %q: sub_intent required", spec.ID)
		}
		if spec.Priority == nil {
			return nil, errors.Errorf("pattern: rule %q: priority required", spec.ID)
		}
		if spec.BaseConfidence == nil {
			return nil, errors.Errorf("pattern: rule %q: base_confidence required", spec.ID)
		}
		if *spec.BaseConfidence < 0 || *spec.BaseConfidence > 1 {
			return nil, errors.Errorf("pattern: rule %q: base_confidence %v out of [0,1]", spec.ID, *spec.BaseConfidence)
		}
		if len(spec.Patterns) == 0 {
			return nil, errors.Errorf("pattern: rule %q: at least one pattern required", spec.ID)
		}
		compiled := make([]*regexp.Regexp, 0, len(spec.Patterns))
		for _, p := range spec.Patterns {
			re, err := regexp.Compile("(?is)" + p)
			if err != nil {
				return nil, errors.Wrapf(err, "pattern: rule %q: invalid regex %q", spec.ID, p)
			}
			compiled = append(compiled, re)
		}
		rules = append(rules, Rule{
			ID:             spec.ID,
			Category:       category,
			SubIntent:      spec.SubIntent,
			Priority:       *spec.Priority,
			BaseConfidence: *spec.BaseConfidence,
			Patterns:       compiled,
		})
	}
	return rules, nil
}
