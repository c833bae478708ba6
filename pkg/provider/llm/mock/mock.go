// Package mock provides a configurable llm.Provider test double.
package mock

import (
	"context"
	"sync"

	"github.com/mwaldt/radscribe/pkg/provider/llm"
)

// Provider is a mock llm.Provider. Configure the exported fields before
// use; the zero value returns an empty response. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete when CompleteFunc is nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, when non-nil, is returned by Complete instead of a
	// response.
	CompleteErr error

	// CompleteFunc, when non-nil, overrides the canned response entirely.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	calls    int
	lastReq  llm.CompletionRequest
	gotCalls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls++
	p.lastReq = req
	p.gotCalls = append(p.gotCalls, req)
	fn := p.CompleteFunc
	resp := p.CompleteResponse
	err := p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return &llm.CompletionResponse{}, nil
}

// Calls returns how many times Complete has been invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// LastRequest returns the most recent request passed to Complete.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReq
}

// Requests returns a copy of every request passed to Complete, in order.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.gotCalls))
	copy(out, p.gotCalls)
	return out
}
