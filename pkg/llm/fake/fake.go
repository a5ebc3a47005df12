// Package fake provides an in-memory llm.Provider for tests, mirroring
// test/e2e/mock_llm.go's scripted-response style.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wisebound/sentinel/pkg/llm"
)

// Provider is a scripted, call-order-based fake. Responses are queued with
// Enqueue and popped one at a time by CallStructured; EnqueueFunc allows a
// response to be computed from the inbound messages for scenario tests
// that need to respond differently depending on content.
type Provider struct {
	mu        sync.Mutex
	queue     []responder
	calls     []Call
	usage     llm.ResourceUsage
	onErr     error
	callCount int
}

type responder func(messages []llm.Message) (json.RawMessage, error)

// Call records one observed invocation for assertions.
type Call struct {
	Messages []llm.Message
	Schema   json.RawMessage
}

// New builds an empty fake provider.
func New() *Provider {
	return &Provider{usage: llm.ResourceUsage{TokensIn: 10, TokensOut: 10}}
}

// Enqueue appends a fixed JSON response to be returned in order.
func (p *Provider) Enqueue(obj any) {
	raw, err := json.Marshal(obj)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, func([]llm.Message) (json.RawMessage, error) {
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
}

// EnqueueFunc appends a computed response.
func (p *Provider) EnqueueFunc(fn func(messages []llm.Message) (json.RawMessage, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, fn)
}

// EnqueueError appends a call that fails.
func (p *Provider) EnqueueError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, func([]llm.Message) (json.RawMessage, error) {
		return nil, err
	})
}

// CallStructured implements llm.Provider.
func (p *Provider) CallStructured(_ context.Context, messages []llm.Message, schema json.RawMessage, _ int, _ float64) (json.RawMessage, llm.ResourceUsage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Messages: messages, Schema: schema})
	p.callCount++

	if len(p.queue) == 0 {
		return nil, llm.ResourceUsage{}, fmt.Errorf("fake llm: no queued response for call %d", p.callCount)
	}
	fn := p.queue[0]
	p.queue = p.queue[1:]

	obj, err := fn(messages)
	if err != nil {
		return nil, llm.ResourceUsage{}, err
	}
	return obj, p.usage, nil
}

// Calls returns every observed invocation, in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
