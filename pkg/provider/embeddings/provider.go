// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. The postgres
// report store uses these vectors to index report content for
// similar-case retrieval ("show me prior studies like this one").
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different
// Provider instances must not be mixed in one similarity computation
// unless both use the same model and space.
type Provider interface {
	// Embed computes the embedding vector for a single text string.
	// Returns a float32 slice of length Dimensions() or an error if the
	// request fails or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for a slice of texts in a single
	// provider call. The returned slice has the same length as texts and
	// the i-th element corresponds to texts[i]. On error the entire
	// result is nil; partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by
	// this provider, determined by the underlying model.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, e.g.
	// "text-embedding-3-small". Useful for logging and for ensuring
	// consistent model usage across an index.
	ModelID() string
}
