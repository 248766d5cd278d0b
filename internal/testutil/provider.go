package testutil

import (
	"context"
	"encoding/json"
	"iter"
	"sync"

	"github.com/jackfruitco/simworks-sub000/internal/provider"
)

// Step is one scripted provider reply: either a response or an error.
type Step struct {
	Response *provider.Response
	Err      error

	// Deltas, when set, are streamed before the final chunk.
	Deltas []string
}

// Reply builds a completed response whose output text is body.
func Reply(id, body string) Step {
	return Step{Response: &provider.Response{ID: id, Status: "completed", OutputText: body}}
}

// Fail builds a step that returns err.
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedProvider replays steps in order and records every request. When
// the script runs out, the last step repeats.
//
// Thread-safety: safe for concurrent use.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []Step
	idx      int
	requests []provider.Request

	// Block, when non-nil, makes Send wait for it to close or for the
	// context to end.
	Block chan struct{}
}

// NewScriptedProvider creates a provider that replies with steps.
func NewScriptedProvider(steps ...Step) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

func (p *ScriptedProvider) next(req *provider.Request) Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, cloneRequest(req))
	if len(p.steps) == 0 {
		return Step{Response: &provider.Response{Status: "completed"}}
	}
	i := p.idx
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	} else {
		p.idx++
	}
	return p.steps[i]
}

func (p *ScriptedProvider) Send(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	step := p.next(req)
	if p.Block != nil {
		select {
		case <-p.Block:
		case <-ctx.Done():
			return nil, provider.NetworkError(ctx.Err())
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	return &resp, nil
}

func (p *ScriptedProvider) Stream(ctx context.Context, req *provider.Request) iter.Seq2[provider.Chunk, error] {
	step := p.next(req)
	return func(yield func(provider.Chunk, error) bool) {
		if step.Err != nil {
			yield(provider.Chunk{}, step.Err)
			return
		}
		for _, d := range step.Deltas {
			if !yield(provider.Chunk{Delta: d}, nil) {
				return
			}
		}
		resp := *step.Response
		yield(provider.Chunk{Done: true, Response: &resp}, nil)
	}
}

// Requests returns the requests seen so far.
func (p *ScriptedProvider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Request(nil), p.requests...)
}

// Calls returns how many requests were made.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func cloneRequest(req *provider.Request) provider.Request {
	c := *req
	c.Input = append([]provider.Message(nil), req.Input...)
	if req.Text != nil {
		c.Text = &provider.TextFormat{Format: append(json.RawMessage(nil), req.Text.Format...)}
	}
	return c
}
