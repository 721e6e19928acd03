package core

import "context"

// EmbeddingProvider turns an ordered batch of texts into an ordered batch of vectors.
// Implementations must be safe for concurrent use.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
