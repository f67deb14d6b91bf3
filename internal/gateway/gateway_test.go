package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "relay/internal/errors"
	"relay/internal/idempotency"
	"relay/internal/llm"
	"relay/internal/logging"
	"relay/internal/store"
	"relay/internal/tools"
)

type fakeClient struct {
	response  *llm.ChatResponse
	streamSrc io.Reader
	err       error

	lastReq llm.ChatRequest
}

func (c *fakeClient) Complete(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.lastReq = req
	if c.err != nil {
		return nil, c.err
	}
	return c.response, nil
}

func (c *fakeClient) StreamRaw(_ context.Context, req llm.ChatRequest) (io.ReadCloser, error) {
	c.lastReq = req
	if c.err != nil {
		return nil, c.err
	}
	return io.NopCloser(c.streamSrc), nil
}

// recordingSink captures the downstream side of a relay.
type recordingSink struct {
	opened    bool
	forwarded bytes.Buffer
	done      bool
	errEvent  error
}

func (s *recordingSink) Open() error { s.opened = true; return nil }

func (s *recordingSink) Forward(chunk []byte) error {
	s.forwarded.Write(chunk)
	return nil
}

func (s *recordingSink) Done() error { s.done = true; return nil }

func (s *recordingSink) Error(err error) error { s.errEvent = err; return nil }

type gatewayFixture struct {
	gateway *Gateway
	client  *fakeClient
	memory  *store.Memory
}

func newGatewayFixture(t *testing.T, client *fakeClient) *gatewayFixture {
	t.Helper()

	memory := store.NewMemory()
	registry, err := tools.DefaultRegistry(tools.Deps{
		Records:   memory,
		Directory: memory,
		Audit:     memory,
		Logger:    logging.Nop(),
	})
	require.NoError(t, err)

	coordinator := idempotency.NewCoordinator(idempotency.NewMemoryStore(), idempotency.Options{}, logging.Nop())
	router := tools.NewRouter(registry, coordinator, 3, time.Minute, logging.Nop())
	metrics := MustNewMetrics(prometheus.NewRegistry())

	return &gatewayFixture{
		gateway: New(client, router, nil, registry.Schemas(), memory, metrics, logging.Nop()),
		client:  client,
		memory:  memory,
	}
}

func userTurn(text string) Request {
	return Request{
		TenantID: "t1",
		UserID:   "u1",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: text}},
	}
}

func TestHandlePlainReply(t *testing.T) {
	t.Parallel()

	client := &fakeClient{response: &llm.ChatResponse{Content: "The deal closed last week.", FinishReason: "stop"}}
	f := newGatewayFixture(t, client)

	resp, err := f.gateway.Handle(context.Background(), userTurn("when did it close?"))
	require.NoError(t, err)
	assert.Equal(t, "The deal closed last week.", resp.Reply)
	assert.Empty(t, resp.Actions)

	// System prompt goes first; caller messages follow untouched.
	require.NotEmpty(t, f.client.lastReq.Messages)
	assert.Equal(t, llm.RoleSystem, f.client.lastReq.Messages[0].Role)
	assert.Equal(t, "when did it close?", f.client.lastReq.Messages[1].Content)

	persisted, err := f.memory.FetchRecent(context.Background(), "t1", "u1", "message", 10)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "The deal closed last week.", persisted[0].Fields["content"])
}

func TestHandleDispatchesActionsAndSynthesizesAck(t *testing.T) {
	t.Parallel()

	client := &fakeClient{response: &llm.ChatResponse{
		ToolCalls: []llm.ToolCall{{
			ID: "c1", Name: "create_task", Arguments: `{"title":"Follow up"}`,
		}},
		FinishReason: "tool_calls",
	}}
	f := newGatewayFixture(t, client)

	resp, err := f.gateway.Handle(context.Background(), userTurn("remind me to follow up"))
	require.NoError(t, err)
	require.Len(t, resp.Actions, 1)
	assert.True(t, resp.Actions[0].OK(), resp.Actions[0].Error)
	assert.Contains(t, resp.Reply, "Completed 1 action(s)")

	created, err := f.memory.FetchRecent(context.Background(), "t1", "u1", "task", 10)
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestHandleActionFailureStaysPerAction(t *testing.T) {
	t.Parallel()

	client := &fakeClient{response: &llm.ChatResponse{
		ToolCalls: []llm.ToolCall{{
			ID: "c1", Name: "create_task", Arguments: `{"tenantId":"t2","title":"x"}`,
		}},
	}}
	f := newGatewayFixture(t, client)

	resp, err := f.gateway.Handle(context.Background(), userTurn("do it"))
	require.NoError(t, err, "a failed action is a per-action outcome, not a request failure")
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "tenant_mismatch", resp.Actions[0].ErrorCode)
}

func TestHandleValidation(t *testing.T) {
	t.Parallel()

	f := newGatewayFixture(t, &fakeClient{})

	cases := []struct {
		name string
		req  Request
	}{
		{"missing tenant", Request{UserID: "u1", Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}}},
		{"missing user", Request{TenantID: "t1", Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}}},
		{"no messages", Request{TenantID: "t1", UserID: "u1"}},
		{"bad role", Request{TenantID: "t1", UserID: "u1", Messages: []llm.Message{{Role: "robot", Content: "x"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.gateway.Handle(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, relayerrors.IsValidation(err))
		})
	}
}

func TestHandleProviderErrorPropagates(t *testing.T) {
	t.Parallel()

	providerErr := &relayerrors.ProviderError{StatusCode: 429, Message: "rate limited"}
	f := newGatewayFixture(t, &fakeClient{err: providerErr})

	_, err := f.gateway.Handle(context.Background(), userTurn("hi"))
	require.Error(t, err)
	assert.True(t, relayerrors.IsProvider(err))
}

func sseStream(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: " + p + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func TestHandleStreamRelaysVerbatimAndReassembles(t *testing.T) {
	t.Parallel()

	raw := sseStream(
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo!"},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`,
	)
	client := &fakeClient{streamSrc: strings.NewReader(raw)}
	f := newGatewayFixture(t, client)
	sink := &recordingSink{}

	result, err := f.gateway.HandleStream(context.Background(), userTurn("hello"), sink)
	require.NoError(t, err)

	assert.True(t, sink.opened)
	assert.True(t, sink.done)
	assert.Equal(t, raw, sink.forwarded.String(), "provider bytes must reach the sink untouched")

	assert.Equal(t, "Hello!", result.Reply)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, 12, result.Usage.TotalTokens)
	assert.NoError(t, result.UpstreamErr)

	persisted, err := f.memory.FetchRecent(context.Background(), "t1", "u1", "message", 10)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "Hello!", persisted[0].Fields["content"])
	_, partial := persisted[0].Fields["partial"]
	assert.False(t, partial)
}

func TestHandleStreamDispatchesToolCallsAfterTerminator(t *testing.T) {
	t.Parallel()

	raw := sseStream(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"create_task","arguments":"{\"title\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Streamed task\"}"}}]},"finish_reason":"tool_calls"}]}`,
	)
	client := &fakeClient{streamSrc: strings.NewReader(raw)}
	f := newGatewayFixture(t, client)
	sink := &recordingSink{}

	result, err := f.gateway.HandleStream(context.Background(), userTurn("make a task"), sink)
	require.NoError(t, err)
	require.Len(t, result.Actions, 1)
	assert.True(t, result.Actions[0].OK(), result.Actions[0].Error)
	assert.Contains(t, result.Reply, "Completed 1 action(s)")

	created, err := f.memory.FetchRecent(context.Background(), "t1", "u1", "task", 10)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "Streamed task", created[0].Fields["title"])
}

type brokenReader struct {
	prefix io.Reader
	err    error
}

func (r *brokenReader) Read(p []byte) (int, error) {
	n, err := r.prefix.Read(p)
	if err == io.EOF {
		return n, r.err
	}
	return n, err
}

func TestHandleStreamUpstreamErrorKeepsPartial(t *testing.T) {
	t.Parallel()

	partial := "data: " + `{"choices":[{"delta":{"content":"partial answ"}}]}` + "\n\n"
	client := &fakeClient{streamSrc: &brokenReader{
		prefix: strings.NewReader(partial),
		err:    errors.New("connection reset"),
	}}
	f := newGatewayFixture(t, client)
	sink := &recordingSink{}

	result, err := f.gateway.HandleStream(context.Background(), userTurn("hello"), sink)
	require.NoError(t, err, "an upstream break is reported in the result, not as a handler error")
	require.Error(t, result.UpstreamErr)
	assert.Equal(t, "partial answ", result.Reply)
	assert.Error(t, sink.errEvent, "the caller sees an explicit error event")

	persisted, fetchErr := f.memory.FetchRecent(context.Background(), "t1", "u1", "message", 10)
	require.NoError(t, fetchErr)
	require.Len(t, persisted, 1, "the partial message is still persisted")
	assert.Equal(t, true, persisted[0].Fields["partial"])
}

func TestHandleStreamEmptyBrokenStreamPersistsNothing(t *testing.T) {
	t.Parallel()

	client := &fakeClient{streamSrc: &brokenReader{
		prefix: strings.NewReader(""),
		err:    errors.New("connection reset"),
	}}
	f := newGatewayFixture(t, client)

	result, err := f.gateway.HandleStream(context.Background(), userTurn("hello"), &recordingSink{})
	require.NoError(t, err)
	require.Error(t, result.UpstreamErr)
	assert.Empty(t, result.Reply)

	persisted, fetchErr := f.memory.FetchRecent(context.Background(), "t1", "u1", "message", 10)
	require.NoError(t, fetchErr)
	assert.Empty(t, persisted, "nothing useful arrived, nothing is persisted")
}

func TestHandleStreamGroundsPromptWithContext(t *testing.T) {
	t.Parallel()

	client := &fakeClient{streamSrc: strings.NewReader(sseStream(`{"choices":[{"delta":{"content":"ok"}}]}`))}
	f := newGatewayFixture(t, client)
	f.gateway.context = staticContext("Recent task records:\n- title=Call Ann")

	_, err := f.gateway.HandleStream(context.Background(), userTurn("what's pending?"), &recordingSink{})
	require.NoError(t, err)
	assert.Contains(t, f.client.lastReq.Messages[0].Content, "Call Ann")
}

type staticContext string

func (c staticContext) Build(context.Context, string, string) string { return string(c) }

func TestHandleToolModeNoneSuppressesSchemas(t *testing.T) {
	t.Parallel()

	client := &fakeClient{response: &llm.ChatResponse{Content: "just chatting"}}
	f := newGatewayFixture(t, client)

	req := userTurn("hello")
	req.ToolMode = "none"
	_, err := f.gateway.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, f.client.lastReq.Tools)

	req.ToolMode = "broadcast"
	_, err = f.gateway.Handle(context.Background(), req)
	require.Error(t, err)
	assert.True(t, relayerrors.IsValidation(err))
}

func TestHandlePersistsThreadID(t *testing.T) {
	t.Parallel()

	client := &fakeClient{response: &llm.ChatResponse{Content: "noted"}}
	f := newGatewayFixture(t, client)

	req := userTurn("hello")
	req.ThreadID = "th42"
	_, err := f.gateway.Handle(context.Background(), req)
	require.NoError(t, err)

	persisted, err := f.memory.FetchRecent(context.Background(), "t1", "u1", "message", 10)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "th42", persisted[0].Fields["threadId"])
}
