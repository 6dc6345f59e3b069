package semantic

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/opsintent/core"
)

// utterancesPerRoute is the fixed number of example utterances each route
// must carry.
const utterancesPerRoute = 5

// RouteSpec is the declarative form of one semantic route.
type RouteSpec struct {
	ID         string   `yaml:"id"`
	Category   string   `yaml:"category"`
	SubIntent  string   `yaml:"sub_intent"`
	Utterances []string `yaml:"utterances"`
}

// Route is a validated semantic route.
type Route struct {
	ID         string
	Category   core.IntentCategory
	SubIntent  string
	Utterances []string
}

// ParseRoutes decodes and validates a YAML route document.
func ParseRoutes(data []byte) ([]Route, error) {
	var specs []RouteSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, errors.Wrap(err, "semantic: decode route document")
	}
	return ValidateRoutes(specs)
}

// LoadRoutesFile reads and parses a route document from disk.
func LoadRoutesFile(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "semantic: read route file")
	}
	return ParseRoutes(data)
}

// ValidateRoutes checks uniqueness, category vocabulary and the exact
// utterance count.
func ValidateRoutes(specs []RouteSpec) ([]Route, error) {
	seen := make(map[string]bool, len(specs))
	routes := make([]Route, 0, len(specs))
	for i, spec := range specs {
		if spec.ID == "" {
			return nil, errors.Errorf("semantic: route %d: id required", i)
		}
		if seen[spec.ID] {
			return nil, errors.Errorf("semantic: duplicate route id %q", spec.ID)
		}
		seen[spec.ID] = true
		category := core.ParseCategory(spec.Category)
		if category == core.CategoryUnknown {
			return nil, errors.Errorf("semantic: route %q: unknown category %q", spec.ID, spec.Category)
		}
		if spec.SubIntent == "" {
			return nil, errors.Errorf("semantic: route %q: sub_intent required", spec.ID)
		}
		if len(spec.Utterances) != utterancesPerRoute {
			return nil, errors.Errorf("semantic: route %q: expected %d utterances, got %d",
				spec.ID, utterancesPerRoute, len(spec.Utterances))
		}
		routes = append(routes, Route{
			ID:         spec.ID,
			Category:   category,
			SubIntent:  spec.SubIntent,
			Utterances: spec.Utterances,
		})
	}
	return routes, nil
}
