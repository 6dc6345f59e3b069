package gateway

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/intent/pattern"
	"github.com/hrygo/opsintent/intent/router"
	"github.com/hrygo/opsintent/risk"
)

// ServiceNowMapping binds one ticket (category, subcategory) pair to an
// intent. The table is authoritative: a hit skips classification entirely.
type ServiceNowMapping struct {
	Category    string `yaml:"category"`
	Subcategory string `yaml:"subcategory"`
	Intent      string `yaml:"intent_category"`
	SubIntent   string `yaml:"sub_intent"`
}

// ServiceNowTable is the compiled mapping table.
type ServiceNowTable struct {
	entries map[string]mappedIntent
}

type mappedIntent struct {
	category  core.IntentCategory
	subIntent string
}

// ParseServiceNowTable decodes and validates a YAML mapping document.
func ParseServiceNowTable(data []byte) (*ServiceNowTable, error) {
	var specs []ServiceNowMapping
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, errors.Wrap(err, "gateway: decode servicenow mapping")
	}
	return CompileServiceNowTable(specs)
}

// LoadServiceNowTableFile reads and parses a mapping document from disk.
func LoadServiceNowTableFile(path string) (*ServiceNowTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: read servicenow mapping file")
	}
	return ParseServiceNowTable(data)
}

// CompileServiceNowTable validates mapping specs.
func CompileServiceNowTable(specs []ServiceNowMapping) (*ServiceNowTable, error) {
	t := &ServiceNowTable{entries: make(map[string]mappedIntent, len(specs))}
	for _, spec := range specs {
		if spec.Category == "" || spec.SubIntent == "" {
			return nil, errors.New("gateway: servicenow mapping requires category and sub_intent")
		}
		intent := core.ParseCategory(spec.Intent)
		if intent == core.CategoryUnknown {
			return nil, errors.Errorf("gateway: servicenow mapping %s/%s: unknown intent category %q",
				spec.Category, spec.Subcategory, spec.Intent)
		}
		key := mappingKey(spec.Category, spec.Subcategory)
		if _, dup := t.entries[key]; dup {
			return nil, errors.Errorf("gateway: duplicate servicenow mapping %s", key)
		}
		t.entries[key] = mappedIntent{category: intent, subIntent: spec.SubIntent}
	}
	return t, nil
}

// Lookup resolves a ticket classification pair, trying the exact pair first
// and then the category with an empty subcategory as a wildcard.
func (t *ServiceNowTable) Lookup(category, subcategory string) (core.IntentCategory, string, bool) {
	if m, ok := t.entries[mappingKey(category, subcategory)]; ok {
		return m.category, m.subIntent, true
	}
	if m, ok := t.entries[mappingKey(category, "")]; ok {
		return m.category, m.subIntent, true
	}
	return "", "", false
}

func mappingKey(category, subcategory string) string {
	return strings.ToLower(strings.TrimSpace(category)) + "/" + strings.ToLower(strings.TrimSpace(subcategory))
}

var serviceNowSchema = Schema{
	Required: []string{"short_description", "category"},
	Optional: []string{"subcategory", "priority", "sys_id", "description", "caller_id"},
}

// ServiceNowHandler maps ticket webhooks to decisions. A mapping-table hit
// is authoritative; a miss falls back to the pattern tier alone, never to
// the semantic or LLM tiers. Ticket text is too terse for those and a
// webhook cannot afford their latency.
type ServiceNowHandler struct {
	table   *ServiceNowTable
	matcher *pattern.Matcher
}

// NewServiceNowHandler creates a ServiceNowHandler.
func NewServiceNowHandler(table *ServiceNowTable, matcher *pattern.Matcher) *ServiceNowHandler {
	return &ServiceNowHandler{table: table, matcher: matcher}
}

func (h *ServiceNowHandler) Source() core.SourceType { return core.SourceServiceNow }

func (h *ServiceNowHandler) Handle(_ context.Context, req *Request) ([]*core.RoutingDecision, error) {
	if err := serviceNowSchema.Validate(req.Payload); err != nil {
		return nil, err
	}
	shortDescription := stringField(req.Payload, "short_description")
	category := stringField(req.Payload, "category")
	subcategory := stringField(req.Payload, "subcategory")
	priority := stringField(req.Payload, "priority")

	decision := h.classify(shortDescription, category, subcategory)
	decision.ExtractedFields = ticketFields(req.Payload)
	decision.Metadata = map[string]any{
		"ticket_category":    category,
		"ticket_subcategory": subcategory,
	}
	if sysID := stringField(req.Payload, "sys_id"); sysID != "" {
		decision.Metadata["sys_id"] = sysID
	}

	// Priority 1 tickets are paged incidents; bump risk one level.
	if priority == "1" {
		decision.RiskLevel = decision.RiskLevel.Raise()
		decision.Metadata["priority_escalated"] = true
	}
	return []*core.RoutingDecision{decision}, nil
}

func (h *ServiceNowHandler) classify(shortDescription, category, subcategory string) *core.RoutingDecision {
	if intent, subIntent, ok := h.table.Lookup(category, subcategory); ok {
		return &core.RoutingDecision{
			IntentCategory: intent,
			SubIntent:      subIntent,
			Confidence:     1.0,
			RiskLevel:      risk.BaselineLevel(intent, subIntent),
			WorkflowType:   router.WorkflowFor(intent, subIntent),
			LayerUsed:      core.LayerServiceNowMapping,
			Completeness:   core.CompletenessInfo{Score: 1.0, Threshold: 0, IsSufficient: true},
			RawInput:       shortDescription,
		}
	}

	slog.Debug("servicenow mapping miss, trying pattern tier",
		"category", category, "subcategory", subcategory)
	if m := h.matcher.Match(shortDescription); m != nil {
		return &core.RoutingDecision{
			IntentCategory: m.Category,
			SubIntent:      m.SubIntent,
			Confidence:     m.Confidence,
			RiskLevel:      risk.BaselineLevel(m.Category, m.SubIntent),
			WorkflowType:   router.WorkflowFor(m.Category, m.SubIntent),
			LayerUsed:      core.LayerPattern,
			Completeness:   core.CompletenessInfo{Score: 1.0, Threshold: 0, IsSufficient: true},
			RawInput:       shortDescription,
		}
	}

	return &core.RoutingDecision{
		IntentCategory: core.CategoryUnknown,
		SubIntent:      core.GeneralSubIntent(core.CategoryUnknown),
		Confidence:     0,
		RiskLevel:      risk.BaselineLevel(core.CategoryUnknown, ""),
		WorkflowType:   router.WorkflowFor(core.CategoryUnknown, ""),
		LayerUsed:      core.LayerServiceNowMapping,
		Completeness:   core.CompletenessInfo{Score: 1.0, Threshold: 0, IsSufficient: true},
		RawInput:       shortDescription,
	}
}

// ticketFields lifts the well-known ticket attributes into extracted fields.
func ticketFields(payload map[string]any) map[string]any {
	fields := make(map[string]any)
	for _, key := range []string{"short_description", "description", "priority", "caller_id"} {
		if v := stringField(payload, key); v != "" {
			fields[key] = v
		}
	}
	return fields
}
