package pattern

import (
	"sort"
	"unicode/utf8"

	"github.com/hrygo/opsintent/core"
)

// Confidence combination weights: rule base confidence, covered span ratio,
// match position bonus.
const (
	weightBase     = 0.5
	weightCoverage = 0.3
	weightPosition = 0.2

	// Bonus factor when no match starts at offset zero.
	offsetPositionBonus = 0.7
)

// MatchResult is the outcome of evaluating the rule set against one input.
type MatchResult struct {
	RuleID           string
	Category         core.IntentCategory
	SubIntent        string
	BaseConfidence   float64
	CoveredSpanRatio float64
	Confidence       float64
}

// Matcher evaluates a fixed, load-time-immutable rule set. It is safe for
// concurrent use; Match allocates nothing for the rules themselves.
type Matcher struct {
	rules []Rule
}

// NewMatcher builds a matcher over compiled rules. Rules are evaluated in
// the stable order (priority desc, base_confidence desc, id asc) so the first
// matching rule is the winner.
func NewMatcher(rules []Rule) *Matcher {
	ordered := append([]Rule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		if ordered[i].BaseConfidence != ordered[j].BaseConfidence {
			return ordered[i].BaseConfidence > ordered[j].BaseConfidence
		}
		return ordered[i].ID < ordered[j].ID
	})
	return &Matcher{rules: ordered}
}

// Rules returns the evaluation-ordered rule set.
func (m *Matcher) Rules() []Rule { return m.rules }

// Match evaluates all rules against text. Returns nil when nothing matched;
// a failed match is not an error.
func (m *Matcher) Match(text string) *MatchResult {
	if text == "" {
		return nil
	}
	for i := range m.rules {
		rule := &m.rules[i]
		spans := matchSpans(rule, text)
		if len(spans) == 0 {
			continue
		}
		coverage, startsAtZero := coverageOf(spans, text)
		position := offsetPositionBonus
		if startsAtZero {
			position = 1.0
		}
		confidence := weightBase*rule.BaseConfidence +
			weightCoverage*coverage +
			weightPosition*position
		return &MatchResult{
			RuleID:           rule.ID,
			Category:         rule.Category,
			SubIntent:        rule.SubIntent,
			BaseConfidence:   rule.BaseConfidence,
			CoveredSpanRatio: coverage,
			Confidence:       confidence,
		}
	}
	return nil
}

// matchSpans collects the byte spans matched by any of the rule's patterns.
func matchSpans(rule *Rule, text string) [][2]int {
	var spans [][2]int
	for _, re := range rule.Patterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			spans = append(spans, [2]int{loc[0], loc[1]})
		}
	}
	return spans
}

// coverageOf computes the fraction of runes covered by the union of the
// matched spans, and whether any span starts at offset zero.
func coverageOf(spans [][2]int, text string) (float64, bool) {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return 0, false
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	startsAtZero := spans[0][0] == 0

	covered := 0
	end := -1
	for _, sp := range spans {
		start := sp[0]
		if start < end {
			start = end
		}
		if sp[1] > start {
			covered += utf8.RuneCountInString(text[start:sp[1]])
		}
		if sp[1] > end {
			end = sp[1]
		}
	}
	return float64(covered) / float64(total), startsAtZero
}
