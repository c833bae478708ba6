// Package mock provides a deterministic embeddings.Provider test double.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/mwaldt/radscribe/pkg/provider/embeddings"
)

// Provider is a mock embeddings.Provider producing deterministic vectors
// derived from the input text, so tests get stable but distinct
// embeddings without a network call. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Dim is the vector dimensionality. Zero defaults to 8.
	Dim int

	// EmbedErr, when non-nil, is returned by Embed and EmbedBatch.
	EmbedErr error

	calls int
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.calls++
	err := p.EmbedErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dim > 0 {
		return p.Dim
	}
	return 8
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embedding" }

// Calls returns how many times Embed has been invoked, counting each
// element of an EmbedBatch call.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// vector derives a unit-scaled vector from an FNV hash of the text.
func (p *Provider) vector(text string) []float32 {
	dim := p.Dimensions()
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	out := make([]float32, dim)
	for i := range out {
		seed = seed*6364136223846793005 + 1442695040888963407
		out[i] = float32(seed%1000)/1000 - 0.5
	}
	return out
}
