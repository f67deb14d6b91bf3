package stream

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"relay/internal/llm"
	"relay/internal/logging"
)

// Sink is the downstream side of a relay: the caller's live event channel.
// Open is emitted before the first provider byte so the caller sees a
// connection-established signal immediately; exactly one of Done or Error
// terminates the channel.
type Sink interface {
	Open() error
	Forward(chunk []byte) error
	Done() error
	Error(err error) error
}

// Result is what a relay leaves behind once the downstream channel closed:
// the reassembled message, any tool calls, and the upstream error if the
// stream ended abnormally.
type Result struct {
	Text         string
	ToolCalls    []llm.ToolCall
	FinishReason string
	Usage        llm.Usage
	UpstreamErr  error
}

// Proxy relays provider event-stream bytes to a sink in real time while
// independently reassembling the full message. Forwarding and parsing are
// separate consumers of the same chunks; a parsing stall or bug can never
// delay or corrupt the forwarded bytes.
type Proxy struct {
	logger logging.Logger
	// readBufSize is the upstream read buffer size.
	readBufSize int
	// parseQueue bounds the chunk copies queued for the parser.
	parseQueue int
}

// NewProxy builds a Proxy.
func NewProxy(logger logging.Logger) *Proxy {
	return &Proxy{
		logger:      logging.OrNop(logger),
		readBufSize: 4 * 1024,
		parseQueue:  64,
	}
}

// Relay pumps upstream into the sink until upstream closes, errors, or ctx
// is cancelled. It always returns a Result carrying whatever was accumulated;
// the caller persists it (partial results included) outside this path.
//
// Ordering: chunks reach the sink verbatim, in receive order, unbatched.
// Cancellation: when ctx ends (caller disconnected), forwarding stops but
// accumulation of already-read bytes completes before returning.
func (p *Proxy) Relay(ctx context.Context, upstream io.Reader, sink Sink) (*Result, error) {
	if err := sink.Open(); err != nil {
		return nil, err
	}

	acc := NewAccumulator()
	splitter := &FrameSplitter{}
	chunks := make(chan []byte, p.parseQueue)

	var g errgroup.Group
	g.Go(func() error {
		for chunk := range chunks {
			for _, payload := range splitter.Feed(chunk) {
				acc.Ingest(payload)
			}
		}
		for _, payload := range splitter.Flush() {
			acc.Ingest(payload)
		}
		return nil
	})

	var upstreamErr error
	forwarding := true
	buf := make([]byte, p.readBufSize)

	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks <- chunk

			if forwarding {
				if err := sink.Forward(chunk); err != nil {
					p.logger.Warn("downstream write failed, forwarding stopped: %v", err)
					forwarding = false
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF && ctx.Err() == nil {
				upstreamErr = readErr
			}
			break
		}
		if ctx.Err() != nil {
			p.logger.Debug("caller disconnected, stopping relay")
			forwarding = false
			break
		}
	}

	close(chunks)
	_ = g.Wait()

	result := &Result{
		Text:         acc.Text(),
		ToolCalls:    acc.ToolCalls(),
		FinishReason: acc.FinishReason(),
		Usage:        acc.Usage(),
		UpstreamErr:  upstreamErr,
	}

	if forwarding {
		if upstreamErr != nil {
			if err := sink.Error(upstreamErr); err != nil {
				p.logger.Warn("failed to emit error event: %v", err)
			}
		} else {
			if err := sink.Done(); err != nil {
				p.logger.Warn("failed to emit done event: %v", err)
			}
		}
	}

	return result, nil
}
