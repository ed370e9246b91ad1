// Package embedding provides text embedding engines for the knowledge index.
// Two backends are available: a HuggingFace inference API client and a
// deterministic hash-based engine for development and tests.
package embedding

import "context"

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector size this engine produces.
	Dimensions() int

	// Name returns the engine identifier.
	Name() string
}
