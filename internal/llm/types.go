package llm

import (
	"context"
	"encoding/json"
	"io"
)

// Role values follow the chat-completions wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a conversation transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured action the model requests, as returned by the
// provider. Arguments is the raw JSON string the model produced; it may be
// malformed and is repaired/validated downstream by the router.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSchema advertises one callable tool to the provider.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest is a single provider call.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolSchema
	MaxTokens   int
	Temperature float64
	// RequestID correlates provider traffic with gateway logs.
	RequestID string
}

// Usage reports provider-side token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the parsed, non-streaming provider reply.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Client is the provider contract the gateway depends on.
//
// Complete performs a blocking call and parses the reply. StreamRaw performs
// the same call with the stream flag set and hands back the provider's live
// event-stream body untouched; the streaming proxy owns relay and parsing.
type Client interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	StreamRaw(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
}
