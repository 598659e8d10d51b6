// Package embedding provides the cached vector embedding service.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Provider is the raw embedding provider interface. Implementations perform
// one network call per request; all texts in a call share one model.
type Provider interface {
	// CreateEmbeddings generates vectors for the given texts, in input order.
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the embedding model identifier.
	Model() string
}

// Config represents embedding provider configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

type openaiProvider struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIProvider creates a Provider backed by any OpenAI-compatible
// embedding endpoint (openai, siliconflow, ollama, dashscope, etc.).
func NewOpenAIProvider(cfg Config) (Provider, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &openaiProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (p *openaiProvider) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if p.dimensions > 0 && len(data.Embedding) != p.dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", p.dimensions, len(data.Embedding))
		}
		vectors[i] = data.Embedding
	}

	return vectors, nil
}

func (p *openaiProvider) Model() string {
	return p.model
}
