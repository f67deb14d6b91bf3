package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	relayerrors "relay/internal/errors"
	"relay/internal/llm"
	"relay/internal/logging"
	"relay/internal/store"
	"relay/internal/stream"
	"relay/internal/tools"
)

const systemPrompt = `You are a CRM assistant. Use the provided tools to act on ` +
	`the user's behalf; only call a tool when the user asked for the action. ` +
	`Answer questions directly when no action is needed.`

// Request is one conversational turn entering the gateway.
type Request struct {
	TenantID string        `json:"tenantId"`
	UserID   string        `json:"userId"`
	ThreadID string        `json:"threadId,omitempty"`
	Messages []llm.Message `json:"messages"`
	// ToolMode is "auto" (default) or "none" to suppress tool advertising
	// for a purely conversational turn.
	ToolMode  string `json:"toolMode,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Response is the terminal result of a non-streaming turn.
type Response struct {
	Reply        string               `json:"reply"`
	Actions      []tools.ActionResult `json:"actions,omitempty"`
	FinishReason string               `json:"finishReason,omitempty"`
	Usage        llm.Usage            `json:"usage"`
}

// StreamResult is what a streamed turn leaves behind after the relay closed:
// the reassembled message and the outcomes of any dispatched actions.
type StreamResult struct {
	Reply        string
	Actions      []tools.ActionResult
	FinishReason string
	Usage        llm.Usage
	// UpstreamErr is set when the provider stream ended abnormally. The
	// partial Reply is still persisted and returned.
	UpstreamErr error
}

// ContextBuilder supplies the grounding snapshot prepended to provider calls.
type ContextBuilder interface {
	Build(ctx context.Context, tenantID, userID string) string
}

// Dispatcher executes the model's tool calls and reports per-call outcomes.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess tools.Session, calls []llm.ToolCall) []tools.ActionResult
}

// Gateway ties the turn pipeline together: assemble context, call the
// provider, relay or parse the reply, dispatch requested actions, persist the
// final message.
type Gateway struct {
	client   llm.Client
	router   Dispatcher
	context  ContextBuilder
	schemas  []llm.ToolSchema
	records  store.RecordStore
	proxy    *stream.Proxy
	metrics  *Metrics
	logger   logging.Logger
	now      func() time.Time
}

// New builds a Gateway. metrics may be nil to use the process-wide default.
func New(client llm.Client, router Dispatcher, builder ContextBuilder, schemas []llm.ToolSchema, records store.RecordStore, metrics *Metrics, logger logging.Logger) *Gateway {
	logger = logging.OrNop(logger)
	if metrics == nil {
		metrics = defaultMetrics()
	}
	return &Gateway{
		client:  client,
		router:  router,
		context: builder,
		schemas: schemas,
		records: records,
		proxy:   stream.NewProxy(logger),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Handle processes one non-streaming turn.
func (g *Gateway) Handle(ctx context.Context, req Request) (*Response, error) {
	started := g.now()
	if err := validate(req); err != nil {
		g.metrics.ObserveRequest("complete", "invalid", g.now().Sub(started))
		return nil, err
	}

	chatReq := g.buildChatRequest(ctx, req)
	resp, err := g.client.Complete(ctx, chatReq)
	if err != nil {
		g.metrics.ObserveRequest("complete", "provider_error", g.now().Sub(started))
		return nil, err
	}

	actions := g.dispatch(ctx, req, resp.ToolCalls)

	reply := resp.Content
	if reply == "" && len(actions) > 0 {
		reply = summarizeActions(actions)
	}
	g.persistReply(ctx, req, reply, resp.FinishReason, false)

	g.metrics.ObserveRequest("complete", "ok", g.now().Sub(started))
	return &Response{
		Reply:        reply,
		Actions:      actions,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
	}, nil
}

// HandleStream processes one streaming turn. Provider bytes reach sink
// verbatim as they arrive; the reassembled message and action outcomes are
// returned once the relay closes. Actions are dispatched only after the
// stream terminated, so a caller disconnect mid-stream still yields a
// complete, consistent dispatch.
func (g *Gateway) HandleStream(ctx context.Context, req Request, sink stream.Sink) (*StreamResult, error) {
	started := g.now()
	if err := validate(req); err != nil {
		g.metrics.ObserveRequest("stream", "invalid", g.now().Sub(started))
		return nil, err
	}

	upstream, err := g.client.StreamRaw(ctx, g.buildChatRequest(ctx, req))
	if err != nil {
		g.metrics.ObserveRequest("stream", "provider_error", g.now().Sub(started))
		return nil, err
	}
	defer upstream.Close()

	g.metrics.IncActiveStreams()
	defer g.metrics.DecActiveStreams()

	relayed, err := g.proxy.Relay(ctx, upstream, meteredSink{sink: sink, metrics: g.metrics})
	if err != nil {
		g.metrics.ObserveRequest("stream", "sink_error", g.now().Sub(started))
		return nil, err
	}

	// Dispatch runs on a fresh context: the caller hanging up must not abort
	// actions the model already committed to.
	dispatchCtx := context.WithoutCancel(ctx)
	actions := g.dispatch(dispatchCtx, req, relayed.ToolCalls)

	reply := relayed.Text
	if reply == "" && relayed.UpstreamErr == nil && len(actions) > 0 {
		reply = summarizeActions(actions)
	}
	g.persistReply(dispatchCtx, req, reply, relayed.FinishReason, relayed.UpstreamErr != nil)

	status := "ok"
	if relayed.UpstreamErr != nil {
		status = "upstream_error"
	}
	g.metrics.ObserveRequest("stream", status, g.now().Sub(started))

	return &StreamResult{
		Reply:        reply,
		Actions:      actions,
		FinishReason: relayed.FinishReason,
		Usage:        relayed.Usage,
		UpstreamErr:  relayed.UpstreamErr,
	}, nil
}

func (g *Gateway) buildChatRequest(ctx context.Context, req Request) llm.ChatRequest {
	prompt := systemPrompt
	if g.context != nil {
		if snapshot := g.context.Build(ctx, req.TenantID, req.UserID); snapshot != "" {
			prompt += "\n\nRelevant records:\n" + snapshot
		}
	}

	messages := make([]llm.Message, 0, len(req.Messages)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: prompt})
	messages = append(messages, req.Messages...)

	schemas := g.schemas
	if req.ToolMode == "none" {
		schemas = nil
	}
	return llm.ChatRequest{
		Messages:  messages,
		Tools:     schemas,
		RequestID: req.RequestID,
	}
}

func (g *Gateway) dispatch(ctx context.Context, req Request, calls []llm.ToolCall) []tools.ActionResult {
	if len(calls) == 0 {
		return nil
	}
	sess := tools.Session{TenantID: req.TenantID, UserID: req.UserID}
	actions := g.router.Dispatch(ctx, sess, calls)
	for _, action := range actions {
		outcome := "ok"
		if !action.OK() {
			outcome = action.ErrorCode
		}
		g.metrics.IncActionOutcome(action.Tool, outcome)
	}
	return actions
}

// persistReply records the assistant's final message. Exactly one record per
// turn; an empty reply from a broken stream leaves nothing behind. Persistence
// is a secondary effect of the turn and its failure is discarded here.
func (g *Gateway) persistReply(ctx context.Context, req Request, reply, finishReason string, partial bool) {
	if reply == "" {
		return
	}
	fields := map[string]any{
		"role":    llm.RoleAssistant,
		"content": reply,
		"userId":  req.UserID,
	}
	if req.ThreadID != "" {
		fields["threadId"] = req.ThreadID
	}
	if finishReason != "" {
		fields["finishReason"] = finishReason
	}
	if partial {
		fields["partial"] = true
	}
	if _, err := g.records.Create(ctx, req.TenantID, "message", fields); err != nil {
		g.logger.Warn("discarding secondary failure: %v",
			&relayerrors.SecondaryEffectError{Effect: "message persistence", Err: err})
	}
}

func validate(req Request) error {
	if strings.TrimSpace(req.TenantID) == "" {
		return relayerrors.NewValidation("tenantId", "tenant id is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return relayerrors.NewValidation("userId", "user id is required")
	}
	if len(req.Messages) == 0 {
		return relayerrors.NewValidation("messages", "at least one message is required")
	}
	switch req.ToolMode {
	case "", "auto", "none":
	default:
		return relayerrors.NewValidation("toolMode", "must be %q or %q", "auto", "none")
	}
	for i, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem, llm.RoleTool:
		default:
			return relayerrors.NewValidation("messages", "message %d has unknown role %q", i, msg.Role)
		}
	}
	return nil
}

// summarizeActions synthesizes an acknowledgement when the model acted
// without producing prose, so the caller never receives an empty reply for a
// turn that did something.
func summarizeActions(actions []tools.ActionResult) string {
	var ok, failed int
	for _, a := range actions {
		if a.OK() {
			ok++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return fmt.Sprintf("Done. Completed %d action(s).", ok)
	case ok == 0:
		return fmt.Sprintf("I could not complete the requested action(s): %d failed.", failed)
	default:
		return fmt.Sprintf("Partially done: %d action(s) completed, %d failed.", ok, failed)
	}
}

// meteredSink counts forwarded bytes without touching the relay path.
type meteredSink struct {
	sink    stream.Sink
	metrics *Metrics
}

func (s meteredSink) Open() error { return s.sink.Open() }

func (s meteredSink) Forward(chunk []byte) error {
	s.metrics.AddRelayedBytes(len(chunk))
	return s.sink.Forward(chunk)
}

func (s meteredSink) Done() error { return s.sink.Done() }

func (s meteredSink) Error(err error) error { return s.sink.Error(err) }
