// Package provider defines the narrow interface to a generative-AI provider.
//
// The engine only ever sees Request, Response and the Client/Streamer
// interfaces. The wire protocol lives in subpackages (provider/openai).
package provider

import (
	"context"
	"encoding/json"
	"iter"
)

// Role of an input message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleDeveloper = "developer"
)

// Message is one input turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextFormat carries the structured-output format object produced by a
// schema envelope. A nil *TextFormat means free text.
type TextFormat struct {
	Format json.RawMessage `json:"format"`
}

// Request is a provider-neutral request.
type Request struct {
	Model        string            `json:"model"`
	Instructions string            `json:"instructions,omitempty"`
	Input        []Message         `json:"input"`
	Text         *TextFormat       `json:"text,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is a provider-neutral response.
type Response struct {
	// ID is the provider's response id.
	ID string

	// Status is the provider's completion status ("completed", "incomplete", ...).
	Status string

	// OutputText is the concatenated text output.
	OutputText string

	// Structured is a provider-native structured payload, when the provider
	// returns one separately from text. Codecs prefer it over OutputText.
	Structured json.RawMessage

	// Incomplete is set when the provider stopped early (token limit, content
	// filter). IncompleteReason carries the provider's reason.
	Incomplete       bool
	IncompleteReason string

	Usage Usage
}

// Client sends a request and waits for the full response.
type Client interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Chunk is one streamed piece of a response. The final chunk has Done set
// and, when the provider supplies it, the complete Response.
type Chunk struct {
	Delta    string
	Done     bool
	Response *Response
}

// Streamer is implemented by clients that can stream responses.
type Streamer interface {
	Stream(ctx context.Context, req *Request) iter.Seq2[Chunk, error]
}

// Collect drains a stream into a single Response. Deltas are concatenated
// unless the final chunk carries its own Response.
func Collect(seq iter.Seq2[Chunk, error]) (*Response, error) {
	var text []byte
	var final *Response
	for chunk, err := range seq {
		if err != nil {
			return nil, err
		}
		text = append(text, chunk.Delta...)
		if chunk.Done {
			final = chunk.Response
			break
		}
	}
	if final == nil {
		return &Response{OutputText: string(text), Incomplete: true, IncompleteReason: "stream ended without completion"}, nil
	}
	if final.OutputText == "" {
		final.OutputText = string(text)
	}
	return final, nil
}
