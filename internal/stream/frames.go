package stream

import (
	"bytes"
	"strings"
)

// Terminator is the literal payload providers send to mark end of stream.
const Terminator = "[DONE]"

var frameDelim = []byte("\n\n")

// FrameSplitter reassembles event-stream frames from arbitrarily chunked
// bytes. Chunk boundaries never align with frame boundaries, so the trailing
// partial frame is carried over to the next Feed call.
type FrameSplitter struct {
	carry []byte
}

// Feed appends chunk to the carry-over buffer and returns the data payloads
// of every complete frame now available. The trailing partial frame stays
// buffered.
func (s *FrameSplitter) Feed(chunk []byte) []string {
	s.carry = append(s.carry, chunk...)

	var payloads []string
	for {
		idx := bytes.Index(s.carry, frameDelim)
		if idx < 0 {
			return payloads
		}
		frame := s.carry[:idx]
		s.carry = s.carry[idx+len(frameDelim):]
		if payload, ok := parseFrame(frame); ok {
			payloads = append(payloads, payload)
		}
	}
}

// Flush drains whatever remains after upstream close. A well-formed stream
// ends on a frame boundary and leaves nothing, but a truncated final frame
// may still carry a parseable payload.
func (s *FrameSplitter) Flush() []string {
	if len(s.carry) == 0 {
		return nil
	}
	frame := s.carry
	s.carry = nil
	if payload, ok := parseFrame(frame); ok {
		return []string{payload}
	}
	return nil
}

// parseFrame extracts the data payload from one frame. Multi-line data
// fields are joined with newlines per the SSE spec; comment and event lines
// are skipped.
func parseFrame(frame []byte) (string, bool) {
	var parts []string
	for _, line := range strings.Split(string(frame), "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		parts = append(parts, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
	}
	if len(parts) == 0 {
		return "", false
	}
	payload := strings.Join(parts, "\n")
	if payload == "" {
		return "", false
	}
	return payload, true
}
