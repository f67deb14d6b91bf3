package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	relayerrors "relay/internal/errors"
	"relay/internal/gateway"
)

// handleChat is the non-streaming turn endpoint. A top-level failure
// (validation, tenant scope, provider outage) fails the whole request;
// per-action failures after dispatch ride back inside a 200 response.
func (s *Server) handleChat(c *gin.Context) {
	var req gateway.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, relayerrors.NewValidation("body", "malformed request: %v", err))
		return
	}

	resp, err := s.gateway.Handle(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleChatStream relays the provider stream over SSE. Request-level
// failures before the first provider byte are plain JSON errors; once the
// stream is open, failures become in-band error events.
func (s *Server) handleChatStream(c *gin.Context) {
	var req gateway.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, relayerrors.NewValidation("body", "malformed request: %v", err))
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	sink := &sseSink{writer: c.Writer, flusher: flusher}
	result, err := s.gateway.HandleStream(c.Request.Context(), req, sink)
	if err != nil {
		if sink.opened {
			// Headers are already on the wire; all we can do is report
			// in-band and close.
			_ = sink.Error(err)
			return
		}
		writeError(c, err)
		return
	}

	// Action outcomes are only known after the provider terminator, so they
	// trail the relayed stream as a dedicated event.
	if len(result.Actions) > 0 {
		sink.event("actions", result.Actions)
	}
}

// sseSink adapts an HTTP response to the relay sink contract. Forwarded
// chunks hit the wire verbatim and are flushed immediately.
type sseSink struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	opened  bool
}

func (s *sseSink) Open() error {
	header := s.writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	s.writer.WriteHeader(http.StatusOK)

	s.opened = true
	_, err := fmt.Fprint(s.writer, "event: open\ndata: {}\n\n")
	s.flusher.Flush()
	return err
}

func (s *sseSink) Forward(chunk []byte) error {
	if _, err := s.writer.Write(chunk); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Done() error {
	// The provider's own terminator was already forwarded verbatim; nothing
	// extra marks completion.
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Error(err error) error {
	s.event("error", gin.H{
		"error": err.Error(),
		"code":  relayerrors.Code(err),
	})
	return nil
}

func (s *sseSink) event(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(s.writer, "event: %s\ndata: %s\n\n", name, data)
	s.flusher.Flush()
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case relayerrors.IsValidation(err):
		status = http.StatusBadRequest
	case relayerrors.IsTenantMismatch(err):
		status = http.StatusForbidden
	case relayerrors.IsStillInProgress(err):
		status = http.StatusConflict
		var inProgress *relayerrors.StillInProgressError
		if errors.As(err, &inProgress) {
			c.Header("Retry-After", strconv.Itoa(int(inProgress.RetryAfter.Seconds())+1))
		}
	case relayerrors.IsProvider(err):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  relayerrors.Code(err),
	})
}
