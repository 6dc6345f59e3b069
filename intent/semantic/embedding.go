// Package semantic implements the second classification tier: vector
// similarity over labeled example utterances.
package semantic

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// Embedder generates vector embeddings for texts.
type Embedder interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int
}

// EmbedderConfig configures the OpenAI-compatible embedding provider.
// Any provider speaking the OpenAI protocol works (openai, siliconflow,
// ollama, dashscope, ...).
type EmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

type openAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewEmbedder creates an Embedder backed by an OpenAI-compatible API.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if cfg.Model == "" {
		return nil, errors.New("semantic: embedding model required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &openAIEmbedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("semantic: empty embedding result")
	}
	return vectors[0], nil
}

func (e *openAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, errors.Wrap(err, "semantic: create embeddings")
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("semantic: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (e *openAIEmbedder) Dimensions() int { return e.dimensions }
