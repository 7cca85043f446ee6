// stream.go implements SSE (Server-Sent Events) decoding of streamed chat
// completion responses into a pull-based sequence of deltas.
package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// DecodeError is returned when a stream payload is not valid chunk JSON.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to parse SSE chunk %q: %v", truncate(e.Payload, 120), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Stream is a lazy, finite, non-restartable sequence of deltas read from
// an SSE body. Use it like a scanner:
//
//	for s.Next() {
//		d := s.Delta()
//	}
//	if err := s.Err(); err != nil { ... }
//
// Events whose delta carries no text (role announcements, finish markers)
// are skipped. The sequence ends on "data: [DONE]", on EOF, on the first
// error, or once ctx is cancelled.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	current Delta
	err     error
	done    bool
	closed  atomic.Bool
}

// NewStream wraps an SSE body. The stream owns body and closes it in Close.
func NewStream(ctx context.Context, body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{ctx: ctx, body: body, scanner: scanner}
}

// Next advances to the next non-empty delta. It returns false when the
// sequence is over; Err reports why.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}

	for {
		if s.closed.Load() {
			s.done = true
			return false
		}
		if err := s.ctx.Err(); err != nil {
			return s.fail(context.Cause(s.ctx))
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil && !s.closed.Load() {
				if s.ctx.Err() != nil {
					return s.fail(context.Cause(s.ctx))
				}
				return s.fail(fmt.Errorf("SSE stream read error: %w", err))
			}
			s.done = true
			return false
		}

		line := s.scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		data := strings.TrimPrefix(line, dataPrefix)
		if data == doneSentinel {
			s.done = true
			return false
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return s.fail(&DecodeError{Payload: data, Err: err})
		}

		d := chunk.delta()
		if d.Empty() {
			continue
		}
		s.current = d
		return true
	}
}

// Delta returns the delta produced by the last successful Next.
func (s *Stream) Delta() Delta {
	return s.current
}

// Err returns the error that ended the sequence, if any. A clean end of
// stream yields nil.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the underlying response body. It is safe to call more
// than once, and from another goroutine to abort a Next blocked on a
// slow upstream.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) || s.body == nil {
		return nil
	}
	err := s.body.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Stream) fail(err error) bool {
	s.err = err
	s.done = true
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
