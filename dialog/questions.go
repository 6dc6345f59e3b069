package dialog

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// QuestionSpec binds one field key to a prompt template.
type QuestionSpec struct {
	Field    string `yaml:"field"`
	Question string `yaml:"question"`
}

// QuestionGenerator turns missing-field lists into user-facing prompts.
// Questions come out in the order the fields are listed by the completeness
// rule, so repeated calls over the same state ask the same things.
type QuestionGenerator struct {
	templates map[string]string
	fallback  string
}

const defaultFallback = "Please provide a value for %q."

// ParseQuestions decodes a YAML question document.
func ParseQuestions(data []byte) (*QuestionGenerator, error) {
	var specs []QuestionSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, errors.Wrap(err, "dialog: decode question document")
	}
	return CompileQuestions(specs)
}

// LoadQuestionsFile reads and parses a question document from disk.
func LoadQuestionsFile(path string) (*QuestionGenerator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "dialog: read question file")
	}
	return ParseQuestions(data)
}

// CompileQuestions validates the specs.
func CompileQuestions(specs []QuestionSpec) (*QuestionGenerator, error) {
	g := &QuestionGenerator{
		templates: make(map[string]string, len(specs)),
		fallback:  defaultFallback,
	}
	for _, spec := range specs {
		if spec.Field == "" || spec.Question == "" {
			return nil, errors.New("dialog: question field and text required")
		}
		if _, dup := g.templates[spec.Field]; dup {
			return nil, errors.Errorf("dialog: duplicate question for field %q", spec.Field)
		}
		g.templates[spec.Field] = spec.Question
	}
	return g, nil
}

// Generate returns one question per missing field, in the given order.
func (g *QuestionGenerator) Generate(missing []string) []string {
	if len(missing) == 0 {
		return nil
	}
	questions := make([]string, 0, len(missing))
	for _, field := range missing {
		if q, ok := g.templates[field]; ok {
			questions = append(questions, q)
			continue
		}
		questions = append(questions, fmt.Sprintf(g.fallback, field))
	}
	return questions
}
