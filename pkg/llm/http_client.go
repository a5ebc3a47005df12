package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPClient implements Provider over a JSON/HTTP structured-output
// endpoint. It replaces the teacher's gRPC transport
// (pkg/agent/llm_grpc.go + generated proto/llmv1 stubs): those stubs
// require the protobuf toolchain to regenerate and are out of scope here
// (see DESIGN.md), so the same Provider interface is served over plain
// HTTP instead.
type HTTPClient struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient overrides the underlying *http.Client (for tests).
func WithHTTPClient(c *http.Client) HTTPClientOption {
	return func(h *HTTPClient) { h.client = c }
}

// NewHTTPClient builds a structured-output client against baseURL.
func NewHTTPClient(baseURL, model, apiKey string, opts ...HTTPClientOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type structuredRequest struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	Schema      json.RawMessage `json:"response_schema"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type structuredResponse struct {
	Object    json.RawMessage `json:"object"`
	TokensIn  int             `json:"tokens_in"`
	TokensOut int             `json:"tokens_out"`
	CostUSD   float64         `json:"cost_usd"`
}

// CallStructured posts the conversation and schema, returning the parsed
// object and resource usage (spec.md §6.2).
func (h *HTTPClient) CallStructured(ctx context.Context, messages []Message, schema json.RawMessage, maxTokens int, temperature float64) (json.RawMessage, ResourceUsage, error) {
	wire := make([]wireMessage, len(messages))
	for i, m := range messages {
		wire[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}

	body, err := json.Marshal(structuredRequest{
		Model:       h.model,
		Messages:    wire,
		Schema:      schema,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, ResourceUsage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/structured", bytes.NewReader(body))
	if err != nil {
		return nil, ResourceUsage{}, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ResourceUsage{}, fmt.Errorf("llm: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ResourceUsage{}, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, ResourceUsage{}, fmt.Errorf("llm: server error %d: %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode >= 400 {
		return nil, ResourceUsage{}, &ParseError{Raw: string(raw), Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed structuredResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, ResourceUsage{}, &ParseError{Raw: string(raw), Err: err}
	}

	usage := ResourceUsage{TokensIn: parsed.TokensIn, TokensOut: parsed.TokensOut, CostEstimate: parsed.CostUSD}
	slog.Debug("llm call_structured", "model", h.model, "tokens_in", usage.TokensIn, "tokens_out", usage.TokensOut)
	return parsed.Object, usage, nil
}
