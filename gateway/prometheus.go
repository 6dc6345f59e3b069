package gateway

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/intent/router"
	"github.com/hrygo/opsintent/risk"
)

// AlertRuleSpec maps alertnames matching a regex to an intent. Rules are
// ordered; the first match wins.
type AlertRuleSpec struct {
	ID        string `yaml:"id"`
	Match     string `yaml:"match"` // regex over labels.alertname
	Intent    string `yaml:"intent_category"`
	SubIntent string `yaml:"sub_intent"`
}

type alertRule struct {
	id        string
	re        *regexp.Regexp
	category  core.IntentCategory
	subIntent string
}

// AlertRules is the compiled ordered rule list.
type AlertRules struct {
	rules []alertRule
}

// ParseAlertRules decodes and validates a YAML alert-rule document.
func ParseAlertRules(data []byte) (*AlertRules, error) {
	var specs []AlertRuleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, errors.Wrap(err, "gateway: decode alert rules")
	}
	return CompileAlertRules(specs)
}

// LoadAlertRulesFile reads and parses an alert-rule document from disk.
func LoadAlertRulesFile(path string) (*AlertRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: read alert rules file")
	}
	return ParseAlertRules(data)
}

// CompileAlertRules validates and compiles the specs, preserving order.
func CompileAlertRules(specs []AlertRuleSpec) (*AlertRules, error) {
	r := &AlertRules{rules: make([]alertRule, 0, len(specs))}
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.ID == "" || spec.Match == "" {
			return nil, errors.New("gateway: alert rule requires id and match")
		}
		if seen[spec.ID] {
			return nil, errors.Errorf("gateway: duplicate alert rule %q", spec.ID)
		}
		seen[spec.ID] = true
		category := core.ParseCategory(spec.Intent)
		if category == core.CategoryUnknown {
			return nil, errors.Errorf("gateway: alert rule %q: unknown intent category %q", spec.ID, spec.Intent)
		}
		re, err := regexp.Compile("(?i)" + spec.Match)
		if err != nil {
			return nil, errors.Wrapf(err, "gateway: alert rule %q: compile match", spec.ID)
		}
		r.rules = append(r.rules, alertRule{
			id:        spec.ID,
			re:        re,
			category:  category,
			subIntent: spec.SubIntent,
		})
	}
	return r, nil
}

// Match returns the first rule matching alertname.
func (r *AlertRules) Match(alertname string) (*alertRule, bool) {
	for i := range r.rules {
		if r.rules[i].re.MatchString(alertname) {
			return &r.rules[i], true
		}
	}
	return nil, false
}

var prometheusSchema = Schema{
	Required: []string{"alerts"},
	Lists: map[string]ListSchema{
		"alerts": {Required: []string{"labels"}, NonEmpty: true},
	},
}

// severityRisk maps Alertmanager severity labels to risk levels. Absent or
// unrecognized severities keep the intent's baseline.
var severityRisk = map[string]core.RiskLevel{
	"critical": core.RiskCritical,
	"warning":  core.RiskHigh,
	"info":     core.RiskMedium,
}

// PrometheusHandler turns Alertmanager webhook batches into one decision per
// alert. Alert payloads are machine-shaped, so mapping is purely
// declarative; an unmapped alertname yields an UNKNOWN decision rather than
// a classifier call.
type PrometheusHandler struct {
	rules *AlertRules
}

// NewPrometheusHandler creates a PrometheusHandler.
func NewPrometheusHandler(rules *AlertRules) *PrometheusHandler {
	return &PrometheusHandler{rules: rules}
}

func (h *PrometheusHandler) Source() core.SourceType { return core.SourcePrometheus }

func (h *PrometheusHandler) Handle(_ context.Context, req *Request) ([]*core.RoutingDecision, error) {
	if err := prometheusSchema.Validate(req.Payload); err != nil {
		return nil, err
	}
	alerts := req.Payload["alerts"].([]any)
	decisions := make([]*core.RoutingDecision, 0, len(alerts))
	for _, raw := range alerts {
		alert := raw.(map[string]any)
		decisions = append(decisions, h.mapAlert(alert))
	}
	return decisions, nil
}

func (h *PrometheusHandler) mapAlert(alert map[string]any) *core.RoutingDecision {
	labels := stringMap(alert["labels"])
	annotations := stringMap(alert["annotations"])
	alertname := labels["alertname"]

	category := core.CategoryUnknown
	subIntent := core.GeneralSubIntent(core.CategoryUnknown)
	confidence := 0.0
	var ruleID string
	if rule, ok := h.rules.Match(alertname); ok {
		category = rule.category
		subIntent = rule.subIntent
		confidence = 1.0
		ruleID = rule.id
	} else {
		slog.Warn("no alert rule for alertname", "alertname", alertname)
	}

	level := risk.BaselineLevel(category, subIntent)
	if mapped, ok := severityRisk[strings.ToLower(labels["severity"])]; ok {
		level = mapped
	}

	metadata := make(map[string]any, len(labels)+2)
	for k, v := range labels {
		metadata["label_"+k] = v
	}
	if ruleID != "" {
		metadata["alert_rule_id"] = ruleID
	}
	if status, ok := alert["status"].(string); ok {
		metadata["alert_status"] = status
	}

	fields := map[string]any{"alertname": alertname}
	if summary := annotations["summary"]; summary != "" {
		fields["summary"] = summary
	}
	if description := annotations["description"]; description != "" {
		fields["description"] = description
	}

	return &core.RoutingDecision{
		IntentCategory:  category,
		SubIntent:       subIntent,
		Confidence:      confidence,
		RiskLevel:       level,
		WorkflowType:    router.WorkflowFor(category, subIntent),
		LayerUsed:       core.LayerPrometheusMapping,
		Completeness:    core.CompletenessInfo{Score: 1.0, Threshold: 0, IsSufficient: true},
		ExtractedFields: fields,
		RawInput:        alertname,
		Metadata:        metadata,
	}
}
