// Package dialog owns guided multi-turn sessions: it asks for missing
// fields, extracts answers incrementally and refines the sub-intent with
// rules only. No classifier is ever consulted inside a running dialog.
package dialog

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/opsintent/core"
)

// ConditionSpec is one conjunct of a refinement condition. Exactly one of
// Equals / Contains / Present applies to the named field.
type ConditionSpec struct {
	Field    string `yaml:"field"`
	Equals   string `yaml:"equals,omitempty"`
	Contains string `yaml:"contains,omitempty"`
	Present  bool   `yaml:"present,omitempty"`
}

// RefinementCase maps a condition conjunction to a target sub-intent.
type RefinementCase struct {
	When []ConditionSpec `yaml:"when"`
	Then string          `yaml:"then"`
}

// RefinementSpec is the declarative form of refinement rules for one source
// sub-intent. Refinement may only narrow within the same category.
type RefinementSpec struct {
	From     string           `yaml:"from"`
	Category string           `yaml:"category"`
	Cases    []RefinementCase `yaml:"cases"`
}

// Refiner evaluates refinement rules. Rules are indexed by source
// sub-intent; cases are evaluated in document order and the first match
// wins.
type Refiner struct {
	rules map[string]compiledRefinement
}

type compiledRefinement struct {
	category core.IntentCategory
	cases    []RefinementCase
}

// ParseRefinements decodes and validates a YAML refinement document.
func ParseRefinements(data []byte) (*Refiner, error) {
	var specs []RefinementSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, errors.Wrap(err, "dialog: decode refinement document")
	}
	return CompileRefinements(specs)
}

// LoadRefinementsFile reads and parses a refinement document from disk.
func LoadRefinementsFile(path string) (*Refiner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "dialog: read refinement file")
	}
	return ParseRefinements(data)
}

// CompileRefinements validates the specs. A rule may only refine a
// general_* placeholder or a sub-intent of its own declared category.
func CompileRefinements(specs []RefinementSpec) (*Refiner, error) {
	r := &Refiner{rules: make(map[string]compiledRefinement, len(specs))}
	for _, spec := range specs {
		if spec.From == "" {
			return nil, errors.New("dialog: refinement from sub-intent required")
		}
		if _, dup := r.rules[spec.From]; dup {
			return nil, errors.Errorf("dialog: duplicate refinement for %q", spec.From)
		}
		category := core.ParseCategory(spec.Category)
		if category == core.CategoryUnknown {
			return nil, errors.Errorf("dialog: refinement %q: unknown category %q", spec.From, spec.Category)
		}
		for i, c := range spec.Cases {
			if c.Then == "" {
				return nil, errors.Errorf("dialog: refinement %q case %d: target required", spec.From, i)
			}
			if len(c.When) == 0 {
				return nil, errors.Errorf("dialog: refinement %q case %d: condition required", spec.From, i)
			}
			for _, cond := range c.When {
				if cond.Field == "" {
					return nil, errors.Errorf("dialog: refinement %q case %d: condition field required", spec.From, i)
				}
			}
		}
		r.rules[spec.From] = compiledRefinement{category: category, cases: spec.Cases}
	}
	return r, nil
}

// Refine returns the refined sub-intent for the current one given the
// accumulated fields. When no rule or case matches, the current sub-intent
// is returned unchanged. The category is never altered: a rule registered
// under a different category than the session's is skipped.
func (r *Refiner) Refine(category core.IntentCategory, current string, fields map[string]any) string {
	rule, ok := r.rules[current]
	if !ok || rule.category != category {
		return current
	}
	for _, c := range rule.cases {
		if matchesAll(c.When, fields) {
			return c.Then
		}
	}
	return current
}

func matchesAll(conds []ConditionSpec, fields map[string]any) bool {
	for _, cond := range conds {
		value, present := fields[cond.Field]
		switch {
		case cond.Equals != "":
			if !present || !strings.EqualFold(stringify(value), cond.Equals) {
				return false
			}
		case cond.Contains != "":
			if !present || !strings.Contains(strings.ToLower(stringify(value)), strings.ToLower(cond.Contains)) {
				return false
			}
		default:
			if !present {
				return false
			}
		}
	}
	return true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
