package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
)

// Config carries provider connection settings.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	// StreamTimeout bounds an entire streamed response, which outlives the
	// blocking-call Timeout by design. Zero means no deadline.
	StreamTimeout time.Duration
	MaxTokens     int
	Headers       map[string]string
}

// OpenAI-compatible chat completions client.
type openaiClient struct {
	model        string
	apiKey       string
	baseURL      string
	maxTokens    int
	httpClient   *http.Client
	streamClient *http.Client
	headers      map[string]string
	logger       logging.Logger
}

// NewClient constructs a client that speaks the OpenAI-compatible chat
// completions API using the provided configuration.
func NewClient(cfg Config, logger logging.Logger) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm: base URL is required")
	}
	timeout := 120 * time.Second
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	return &openaiClient{
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens:    cfg.MaxTokens,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{Timeout: cfg.StreamTimeout},
		headers:      cfg.Headers,
		logger:       logging.OrNop(logger),
	}, nil
}

func (c *openaiClient) buildPayload(req ChatRequest, stream bool) map[string]any {
	payload := map[string]any{
		"model":    c.model,
		"messages": c.convertMessages(req.Messages),
		"stream":   stream,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	} else if c.maxTokens > 0 {
		payload["max_tokens"] = c.maxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		payload["tools"] = convertTools(req.Tools)
		payload["tool_choice"] = "auto"
	}
	return payload
}

func (c *openaiClient) convertMessages(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		entry := map[string]any{
			"role":    m.Role,
			"content": m.Content,
		}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.Arguments,
					},
				})
			}
			entry["tool_calls"] = calls
		}
		out = append(out, entry)
	}
	return out
}

func convertTools(tools []ToolSchema) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}

func (c *openaiClient) send(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	payload := c.buildPayload(req, stream)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	prefix := ""
	if req.RequestID != "" {
		prefix = fmt.Sprintf("[req:%s] ", req.RequestID)
	}
	c.logger.Debug("%sPOST %s/chat/completions model=%s stream=%t", prefix, c.baseURL, c.model, stream)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	doer := c.httpClient
	if stream {
		doer = c.streamClient
	}
	resp, err := doer.Do(httpReq)
	if err != nil {
		c.logger.Debug("%sHTTP request failed: %v", prefix, err)
		return nil, &relayerrors.ProviderError{Message: "request failed", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, &relayerrors.ProviderError{StatusCode: resp.StatusCode, Message: "unreadable error body", Err: readErr}
		}
		c.logger.Debug("%sprovider error status=%d body=%s", prefix, resp.StatusCode, string(respBody))
		return nil, &relayerrors.ProviderError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}
	return resp, nil
}

func (c *openaiClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := c.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &relayerrors.ProviderError{Message: "decode response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &relayerrors.ProviderError{Message: "response contained no choices"}
	}

	choice := parsed.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// StreamRaw returns the live event-stream body. The caller owns closing it.
func (c *openaiClient) StreamRaw(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	resp, err := c.send(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
