// Package embeddings provides text-embedding clients for semantic indexing.
package embeddings

import (
	"context"
	"fmt"
)

// Embedder is the interface for embedding providers.
type Embedder interface {
	// Embed generates an embedding for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one request. The
	// returned vectors are in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the model name stamped on embedded records.
	Model() string
}

// New creates an embedding client for the given provider.
// Supported providers: "ollama", "openai".
func New(provider, baseURL, apiKey, model string) (Embedder, error) {
	switch provider {
	case "ollama":
		return NewOllamaClient(baseURL, model), nil
	case "openai":
		return NewOpenAIClient(baseURL, apiKey, model), nil
	default:
		return nil, fmt.Errorf("embeddings: unsupported provider %q (supported: ollama, openai)", provider)
	}
}
