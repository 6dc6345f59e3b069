// Package llmclass implements the classification tier of last resort: a
// single remote LLM call with strict structured output.
package llmclass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hrygo/opsintent/core"
)

// DefaultBudget is the total latency budget including the one retry.
const DefaultBudget = 2 * time.Second

// CatSub is one allowed (category, sub_intent) pair.
type CatSub struct {
	Category  core.IntentCategory
	SubIntent string
}

// Result is the validated classifier output.
type Result struct {
	Category          core.IntentCategory
	SubIntent         string
	Confidence        float64
	MissingFieldsHint []string
}

// Classifier classifies free text into the closed intent vocabulary.
type Classifier interface {
	// Classify returns a result for any input. Schema-invalid or
	// off-vocabulary model output degrades to UNKNOWN with confidence 0;
	// only transport-level failure (after one retry) returns an error.
	Classify(ctx context.Context, text string, rctx *core.RequestContext) (*Result, error)

	// Warmup establishes the upstream connection ahead of traffic.
	Warmup(ctx context.Context)
}

// Config configures the OpenAI-compatible classifier.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Budget      time.Duration // total budget including retry, default 2s
	RateLimit   rate.Limit    // requests per second, 0 disables limiting
	RateBurst   int
}

// chatCompleter is the slice of the OpenAI client the classifier needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type classifier struct {
	client     chatCompleter
	model      string
	temp       float32
	budget     time.Duration
	limiter    *rate.Limiter
	vocabulary []CatSub
	pairList   string // prompt fragment, rendered once
	schema     *JSONSchema
	allowed    map[core.IntentCategory]map[string]bool
}

// New creates a Classifier over an OpenAI-compatible API, constrained to the
// given (category, sub_intent) vocabulary.
func New(cfg Config, vocabulary []CatSub) (Classifier, error) {
	if cfg.Model == "" {
		return nil, errors.New("llmclass: model required")
	}
	if len(vocabulary) == 0 {
		return nil, errors.New("llmclass: vocabulary required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return newWithClient(openai.NewClientWithConfig(clientConfig), cfg, vocabulary), nil
}

func newWithClient(client chatCompleter, cfg Config, vocabulary []CatSub) *classifier {
	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	allowed := make(map[core.IntentCategory]map[string]bool)
	categories := make([]string, 0, 4)
	var pairs bytes.Buffer
	for _, cs := range vocabulary {
		if allowed[cs.Category] == nil {
			allowed[cs.Category] = make(map[string]bool)
			categories = append(categories, string(cs.Category))
		}
		allowed[cs.Category][cs.SubIntent] = true
		fmt.Fprintf(&pairs, "- %s / %s\n", cs.Category, cs.SubIntent)
	}
	categories = append(categories, string(core.CategoryUnknown))
	return &classifier{
		client:     client,
		model:      cfg.Model,
		temp:       cfg.Temperature,
		budget:     budget,
		limiter:    limiter,
		vocabulary: vocabulary,
		pairList:   pairs.String(),
		schema:     classificationSchema(categories),
		allowed:    allowed,
	}
}

const systemPrompt = `You are an IT service desk intent classifier.
Classify the user input into exactly one (category, sub_intent) pair from the
allowed list below. If nothing fits, use category UNKNOWN.
Respond only with the JSON object required by the schema.

Allowed pairs:
%s`

// rawResult mirrors the model's JSON output for strict decoding.
type rawResult struct {
	Category          string   `json:"category"`
	SubIntent         string   `json:"sub_intent"`
	Confidence        float64  `json:"confidence"`
	MissingFieldsHint []string `json:"missing_fields_hint"`
}

func (c *classifier) Classify(ctx context.Context, text string, rctx *core.RequestContext) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(core.ErrTimeout, "llmclass: rate limit wait")
		}
	}

	userContent := text
	if rctx != nil && rctx.Environment != "" {
		userContent = fmt.Sprintf("[environment: %s]\n%s", rctx.Environment, text)
	}
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, c.pairList)},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "intent_classification",
				Schema: c.schema,
				Strict: true,
			},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil && isTransient(err) && ctx.Err() == nil {
		slog.Debug("llm classification retrying after transient failure", "error", err)
		resp, err = c.client.CreateChatCompletion(ctx, req)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(core.ErrTimeout, "llmclass: classify")
		}
		return nil, errors.Wrapf(core.ErrUpstreamUnavailable, "llmclass: classify: %v", err)
	}
	if len(resp.Choices) == 0 {
		return unknownResult(), nil
	}
	return c.validate(resp.Choices[0].Message.Content), nil
}

// validate decodes the model output against the strict schema. Any violation
// degrades to UNKNOWN with confidence 0 rather than erroring.
func (c *classifier) validate(content string) *Result {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	var raw rawResult
	if err := dec.Decode(&raw); err != nil {
		slog.Warn("llm classification output failed schema validation", "error", err)
		return unknownResult()
	}
	category := core.ParseCategory(raw.Category)
	if category == core.CategoryUnknown {
		return unknownResult()
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		slog.Warn("llm classification confidence out of range", "confidence", raw.Confidence)
		return unknownResult()
	}
	subIntent := raw.SubIntent
	if !c.allowed[category][subIntent] {
		// Off-vocabulary sub-intent within a known category narrows to the
		// category placeholder instead of discarding the classification.
		subIntent = core.GeneralSubIntent(category)
	}
	return &Result{
		Category:          category,
		SubIntent:         subIntent,
		Confidence:        raw.Confidence,
		MissingFieldsHint: raw.MissingFieldsHint,
	}
}

func (c *classifier) Warmup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	if err != nil {
		slog.Debug("llm warmup failed", "error", err)
	}
}

func unknownResult() *Result {
	return &Result{
		Category:   core.CategoryUnknown,
		SubIntent:  core.GeneralSubIntent(core.CategoryUnknown),
		Confidence: 0,
	}
}

// isTransient reports whether err is worth the single retry.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
