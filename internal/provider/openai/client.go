// Package openai is a provider.Client for the OpenAI Responses API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/jackfruitco/simworks-sub000/internal/provider"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// Name is the provider name used for codec and schema profile matching.
const Name = "openai"

const errorBodyLimit = 4096

// Config configures the client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to {BaseURL}/responses.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

var (
	_ provider.Client   = (*Client)(nil)
	_ provider.Streamer = (*Client)(nil)
)

// New returns a client. An empty BaseURL means DefaultBaseURL.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{url: base + "/responses", apiKey: cfg.APIKey, http: hc}, nil
}

type wireRequest struct {
	*provider.Request
	Stream bool `json:"stream,omitempty"`
}

type wireResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text"`
			Refusal string `json:"refusal"`
		} `json:"content"`
	} `json:"output"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Usage provider.Usage `json:"usage"`
}

func (w *wireResponse) toResponse() *provider.Response {
	resp := &provider.Response{ID: w.ID, Status: w.Status, Usage: w.Usage}
	text := w.OutputText
	if text == "" {
		var b strings.Builder
		for _, item := range w.Output {
			for _, c := range item.Content {
				if c.Type == "output_text" {
					b.WriteString(c.Text)
				}
			}
		}
		text = b.String()
	}
	resp.OutputText = text
	if w.Status == "incomplete" || w.IncompleteDetails != nil {
		resp.Incomplete = true
		if w.IncompleteDetails != nil {
			resp.IncompleteReason = w.IncompleteDetails.Reason
		}
	}
	return resp
}

// Send posts req and decodes the full response.
func (c *Client) Send(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	res, err := c.post(ctx, wireRequest{Request: req})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var w wireResponse
	if err := json.NewDecoder(res.Body).Decode(&w); err != nil {
		return nil, provider.NetworkError(fmt.Errorf("decode response: %w", err))
	}
	return w.toResponse(), nil
}

// Stream posts req with stream=true and yields text deltas from the SSE body.
func (c *Client) Stream(ctx context.Context, req *provider.Request) iter.Seq2[provider.Chunk, error] {
	return func(yield func(provider.Chunk, error) bool) {
		res, err := c.post(ctx, wireRequest{Request: req, Stream: true})
		if err != nil {
			yield(provider.Chunk{}, err)
			return
		}
		defer res.Body.Close()

		scanner := bufio.NewScanner(res.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" || data == "[DONE]" {
				continue
			}
			chunk, done, err := parseEvent([]byte(data))
			if err != nil {
				yield(provider.Chunk{}, err)
				return
			}
			if chunk == nil {
				continue
			}
			if !yield(*chunk, nil) || done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(provider.Chunk{}, provider.NetworkError(fmt.Errorf("read stream: %w", err)))
		}
	}
}

type streamEvent struct {
	Type     string        `json:"type"`
	Delta    string        `json:"delta"`
	Message  string        `json:"message"`
	Code     string        `json:"code"`
	Response *wireResponse `json:"response"`
}

// parseEvent maps one SSE data payload to a chunk. Unknown event types yield
// nil.
func parseEvent(data []byte) (*provider.Chunk, bool, error) {
	var ev streamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, false, provider.NetworkError(fmt.Errorf("decode stream event: %w", err))
	}
	switch ev.Type {
	case "response.output_text.delta":
		return &provider.Chunk{Delta: ev.Delta}, false, nil
	case "response.completed", "response.incomplete":
		var resp *provider.Response
		if ev.Response != nil {
			resp = ev.Response.toResponse()
		}
		return &provider.Chunk{Done: true, Response: resp}, true, nil
	case "error", "response.failed":
		msg := ev.Message
		if msg == "" {
			msg = ev.Type
		}
		return nil, true, &provider.TransportError{Temporary: ev.Code == "server_error", Body: msg}
	default:
		return nil, false, nil
	}
}

func (c *Client) post(ctx context.Context, body wireRequest) (*http.Response, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.NetworkError(err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))
		return nil, provider.StatusError(res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return res, nil
}
