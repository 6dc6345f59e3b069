package service

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/hrygo/opsintent/configs"
	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/dialog"
	"github.com/hrygo/opsintent/gateway"
	"github.com/hrygo/opsintent/intent/completeness"
	"github.com/hrygo/opsintent/intent/llmclass"
	"github.com/hrygo/opsintent/intent/pattern"
	"github.com/hrygo/opsintent/intent/semantic"
)

// RuleSet is one consistent snapshot of every rule document. It is loaded
// as a unit so a reload can never mix old and new documents.
type RuleSet struct {
	Patterns     []pattern.Rule
	Routes       []semantic.Route
	Completeness []completeness.Rule
	Refiner      *dialog.Refiner
	Questions    *dialog.QuestionGenerator
	ServiceNow   *gateway.ServiceNowTable
	Alerts       *gateway.AlertRules
}

// documentNames are the expected file names inside a rules directory.
var documentNames = struct {
	patterns, routes, completeness, refinements, questions, servicenow, alerts string
}{
	patterns:     "patterns.yaml",
	routes:       "routes.yaml",
	completeness: "completeness.yaml",
	refinements:  "refinements.yaml",
	questions:    "questions.yaml",
	servicenow:   "servicenow.yaml",
	alerts:       "alerts.yaml",
}

// LoadRuleSet reads every rule document from dir, falling back per-document
// to the embedded defaults when dir is empty or a file is absent.
func LoadRuleSet(dir string) (*RuleSet, error) {
	read := func(name string, embedded []byte) ([]byte, error) {
		if dir == "" {
			return embedded, nil
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				return embedded, nil
			}
			return nil, errors.Wrapf(err, "service: read rule document %s", name)
		}
		return data, nil
	}

	rs := &RuleSet{}

	data, err := read(documentNames.patterns, configs.Patterns)
	if err != nil {
		return nil, err
	}
	if rs.Patterns, err = pattern.ParseRules(data); err != nil {
		return nil, err
	}

	if data, err = read(documentNames.routes, configs.Routes); err != nil {
		return nil, err
	}
	if rs.Routes, err = semantic.ParseRoutes(data); err != nil {
		return nil, err
	}

	if data, err = read(documentNames.completeness, configs.Completeness); err != nil {
		return nil, err
	}
	if rs.Completeness, err = completeness.ParseRules(data); err != nil {
		return nil, err
	}

	if data, err = read(documentNames.refinements, configs.Refinements); err != nil {
		return nil, err
	}
	if rs.Refiner, err = dialog.ParseRefinements(data); err != nil {
		return nil, err
	}

	if data, err = read(documentNames.questions, configs.Questions); err != nil {
		return nil, err
	}
	if rs.Questions, err = dialog.ParseQuestions(data); err != nil {
		return nil, err
	}

	if data, err = read(documentNames.servicenow, configs.ServiceNow); err != nil {
		return nil, err
	}
	if rs.ServiceNow, err = gateway.ParseServiceNowTable(data); err != nil {
		return nil, err
	}

	if data, err = read(documentNames.alerts, configs.Alerts); err != nil {
		return nil, err
	}
	if rs.Alerts, err = gateway.ParseAlertRules(data); err != nil {
		return nil, err
	}

	return rs, nil
}

// Vocabulary collects the distinct (category, sub_intent) pairs known to
// any rule document. The LLM tier is constrained to exactly this set.
func (rs *RuleSet) Vocabulary() []llmclass.CatSub {
	seen := make(map[string]bool)
	var vocabulary []llmclass.CatSub
	add := func(category core.IntentCategory, subIntent string) {
		if subIntent == "" {
			return
		}
		key := string(category) + "/" + subIntent
		if seen[key] {
			return
		}
		seen[key] = true
		vocabulary = append(vocabulary, llmclass.CatSub{Category: category, SubIntent: subIntent})
	}
	for _, r := range rs.Patterns {
		add(r.Category, r.SubIntent)
	}
	for _, r := range rs.Routes {
		add(r.Category, r.SubIntent)
	}
	for _, r := range rs.Completeness {
		add(r.Category, r.SubIntent)
	}
	for _, category := range core.Categories() {
		add(category, core.GeneralSubIntent(category))
	}
	return vocabulary
}
