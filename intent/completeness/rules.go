// Package completeness decides whether a classified request carries enough
// fields to act on, and extracts missing fields from raw text with pure
// rule-based extractors. No LLM is involved anywhere in this package.
package completeness

import (
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/opsintent/core"
)

// Per-category default thresholds used when a rule does not override them.
var defaultThresholds = map[core.IntentCategory]float64{
	core.CategoryIncident: 0.60,
	core.CategoryRequest:  0.60,
	core.CategoryChange:   0.70,
	core.CategoryQuery:    0.50,
}

// DefaultThreshold returns the per-category completeness cutoff.
func DefaultThreshold(category core.IntentCategory) float64 {
	if t, ok := defaultThresholds[category]; ok {
		return t
	}
	return 0.5
}

// ExtractorSpec is one declarative extractor: either a regex (with an
// optional capture group) or a keyword set whose first hit becomes the value.
type ExtractorSpec struct {
	Regex    string   `yaml:"regex,omitempty"`
	Group    int      `yaml:"group,omitempty"`
	Keywords []string `yaml:"keywords,omitempty"`
}

// FieldSpec is the declarative form of one field definition.
type FieldSpec struct {
	Key        string          `yaml:"key"`
	Extractors []ExtractorSpec `yaml:"extractors"`
}

// RuleSpec keys required/optional fields by (category, sub_intent?).
// An empty sub_intent makes the rule the category default.
type RuleSpec struct {
	Category       string      `yaml:"category"`
	SubIntent      string      `yaml:"sub_intent,omitempty"`
	Threshold      *float64    `yaml:"threshold,omitempty"`
	RequiredFields []FieldSpec `yaml:"required_fields"`
	OptionalFields []FieldSpec `yaml:"optional_fields,omitempty"`
}

// FieldDefinition is a compiled field with its extractors.
type FieldDefinition struct {
	Key        string
	Required   bool
	extractors []extractor
}

type extractor struct {
	re       *regexp.Regexp
	group    int
	keywords []string
}

// Extract runs the field's extractors against text in definition order and
// returns the first value produced.
func (f *FieldDefinition) Extract(text string) (any, bool) {
	for _, ex := range f.extractors {
		if ex.re != nil {
			m := ex.re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			idx := ex.group
			if idx <= 0 || idx >= len(m) {
				idx = len(m) - 1
			}
			if v := strings.TrimSpace(m[idx]); v != "" {
				return v, true
			}
			continue
		}
		lower := strings.ToLower(text)
		for _, kw := range ex.keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return kw, true
			}
		}
	}
	return nil, false
}

// Rule is a compiled completeness rule.
type Rule struct {
	Category  core.IntentCategory
	SubIntent string // empty for the category default
	Threshold float64
	Fields    []FieldDefinition // required first, in definition order
}

// RequiredKeys returns the required field keys in definition order.
func (r *Rule) RequiredKeys() []string {
	var keys []string
	for _, f := range r.Fields {
		if f.Required {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// ParseRules decodes and compiles a YAML completeness document.
func ParseRules(data []byte) ([]Rule, error) {
	var specs []RuleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, errors.Wrap(err, "completeness: decode rule document")
	}
	return CompileRules(specs)
}

// LoadRulesFile reads and parses a completeness document from disk.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "completeness: read rule file")
	}
	return ParseRules(data)
}

// CompileRules validates specs and compiles every extractor regex.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	seen := make(map[string]bool, len(specs))
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		category := core.ParseCategory(spec.Category)
		if category == core.CategoryUnknown {
			return nil, errors.Errorf("completeness: rule %d: unknown category %q", i, spec.Category)
		}
		key := string(category) + "/" + spec.SubIntent
		if seen[key] {
			return nil, errors.Errorf("completeness: duplicate rule for %s", key)
		}
		seen[key] = true
		threshold := DefaultThreshold(category)
		if spec.Threshold != nil {
			if *spec.Threshold < 0 || *spec.Threshold > 1 {
				return nil, errors.Errorf("completeness: rule %s: threshold out of [0,1]", key)
			}
			threshold = *spec.Threshold
		}
		rule := Rule{Category: category, SubIntent: spec.SubIntent, Threshold: threshold}
		for _, fs := range spec.RequiredFields {
			fd, err := compileField(fs, true)
			if err != nil {
				return nil, errors.Wrapf(err, "completeness: rule %s", key)
			}
			rule.Fields = append(rule.Fields, fd)
		}
		for _, fs := range spec.OptionalFields {
			fd, err := compileField(fs, false)
			if err != nil {
				return nil, errors.Wrapf(err, "completeness: rule %s", key)
			}
			rule.Fields = append(rule.Fields, fd)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compileField(spec FieldSpec, required bool) (FieldDefinition, error) {
	if spec.Key == "" {
		return FieldDefinition{}, errors.New("field key required")
	}
	fd := FieldDefinition{Key: spec.Key, Required: required}
	for _, es := range spec.Extractors {
		switch {
		case es.Regex != "":
			re, err := regexp.Compile("(?is)" + es.Regex)
			if err != nil {
				return FieldDefinition{}, errors.Wrapf(err, "field %q: invalid regex", spec.Key)
			}
			fd.extractors = append(fd.extractors, extractor{re: re, group: es.Group})
		case len(es.Keywords) > 0:
			fd.extractors = append(fd.extractors, extractor{keywords: es.Keywords})
		default:
			return FieldDefinition{}, errors.Errorf("field %q: extractor needs regex or keywords", spec.Key)
		}
	}
	return fd, nil
}
