package stream

import (
	"encoding/json"
	"sort"
	"strings"

	"relay/internal/llm"
)

type toolCallAccum struct {
	id   string
	name string
	args strings.Builder
}

// Accumulator rebuilds the complete assistant message from delta payloads.
// It tolerates undecodable payloads (skipped) so one malformed frame never
// corrupts the accumulated text.
type Accumulator struct {
	text         strings.Builder
	tools        map[int]*toolCallAccum
	finishReason string
	usage        llm.Usage
	terminated   bool
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{tools: make(map[int]*toolCallAccum)}
}

type deltaChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *llm.Usage `json:"usage"`
}

// Ingest consumes one frame payload.
func (a *Accumulator) Ingest(payload string) {
	if payload == Terminator {
		a.terminated = true
		return
	}

	var chunk deltaChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return
	}

	if chunk.Usage != nil {
		a.usage = *chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return
	}

	choice := chunk.Choices[0]
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		a.finishReason = *choice.FinishReason
	}
	if choice.Delta.Content != "" {
		a.text.WriteString(choice.Delta.Content)
	}
	for _, tc := range choice.Delta.ToolCalls {
		acc, ok := a.tools[tc.Index]
		if !ok {
			acc = &toolCallAccum{}
			a.tools[tc.Index] = acc
		}
		if tc.ID != "" {
			acc.id = tc.ID
		}
		if tc.Function.Name != "" {
			acc.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			acc.args.WriteString(tc.Function.Arguments)
		}
	}
}

// Text returns the accumulated assistant text.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// ToolCalls returns the reassembled tool calls in provider index order.
func (a *Accumulator) ToolCalls() []llm.ToolCall {
	if len(a.tools) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.tools))
	for idx := range a.tools {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]llm.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		acc := a.tools[idx]
		calls = append(calls, llm.ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: acc.args.String(),
		})
	}
	return calls
}

// FinishReason returns the last finish_reason observed.
func (a *Accumulator) FinishReason() string {
	return a.finishReason
}

// Usage returns the final usage block if the provider sent one.
func (a *Accumulator) Usage() llm.Usage {
	return a.usage
}

// Terminated reports whether the explicit terminator was observed.
func (a *Accumulator) Terminated() bool {
	return a.terminated
}
