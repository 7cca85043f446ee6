// Package stream turns a completion's delta sequence into a small number
// of progressively edited chat messages.
//
// Reasoning and content are buffered separately. Reasoning is shown as
// plain text while the model thinks and removed once the answer starts;
// content is shown formatted and replaced in place. Buffers that outgrow
// the platform's message size are flushed at once and continued in a new
// message. Everything else is flushed on the caller's sampling tick.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/gavinyap/bigseek/internal/llm"
	"github.com/gavinyap/bigseek/internal/sink"
	"github.com/gavinyap/bigseek/internal/telegram"
)

// ErrEmptyResponse is returned when a stream ends without any reasoning
// or content.
var ErrEmptyResponse = errors.New("completion stream ended without output")

// Sink is where the aggregator materializes its buffers.
type Sink interface {
	Update(ctx context.Context, h sink.Handle, text string, opts sink.WriteOptions) (sink.Handle, error)
	DeleteMany(ctx context.Context, handles []sink.Handle) error
	Notice(ctx context.Context, text string) error
}

// Options configures an Aggregator.
type Options struct {
	// MaxLength is the buffer size, in characters, above which a buffer
	// is flushed immediately and continued in a new message.
	MaxLength int
	// ThinkingDone is posted when reasoning messages make way for the answer.
	ThinkingDone string
	// Restart is posted when DeleteAllReasoningMessages removed anything.
	Restart string
	// Controls are attached to flushes that happen outside a Tick.
	Controls []telegram.Button
	Logger   zerolog.Logger
}

// Stats are byte counts of the aggregation state, for diagnostics.
type Stats struct {
	Deltas         int
	ReasoningBytes int
	ContentBytes   int
	FinalBytes     int
}

// Aggregator holds the per-turn buffers and message handles. It is owned
// by a single job and is not safe for concurrent use.
type Aggregator struct {
	sink Sink
	opts Options

	reasoning strings.Builder
	content   strings.Builder
	final     strings.Builder

	reasoningLen int
	contentLen   int
	deltas       int

	reasoningHandles handleSet
	contentHandle    sink.Handle

	// retired is the last message closed by an overflow, kept so Finish
	// can swap its controls when nothing followed it.
	retired retiredMessage

	controls []telegram.Button
}

type retiredMessage struct {
	handle sink.Handle
	text   string
	format sink.Format
}

// New returns an Aggregator writing to s.
func New(s Sink, opts Options) *Aggregator {
	return &Aggregator{sink: s, opts: opts, controls: opts.Controls}
}

// Process consumes one delta. A reasoning fragment wins over a content
// fragment carried by the same event. Overflowing buffers are flushed
// before Process returns.
func (a *Aggregator) Process(ctx context.Context, d llm.Delta) error {
	switch {
	case d.Reasoning != "":
		if d.Content != "" {
			a.opts.Logger.Debug().Int("content_bytes", len(d.Content)).Msg("dropping content carried with reasoning")
		}
		a.reasoning.WriteString(d.Reasoning)
		a.reasoningLen += utf8.RuneCountInString(d.Reasoning)
	case d.Content != "":
		a.content.WriteString(d.Content)
		a.contentLen += utf8.RuneCountInString(d.Content)
		a.final.WriteString(d.Content)
	default:
		return nil
	}
	a.deltas++

	if a.reasoningLen > a.opts.MaxLength {
		if err := a.overflowReasoning(ctx); err != nil {
			return err
		}
	}
	if a.contentLen > a.opts.MaxLength {
		if err := a.overflowContent(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) overflowReasoning(ctx context.Context) error {
	h, err := a.sink.Update(ctx, a.reasoningHandles.last(), a.reasoning.String(), sink.WriteOptions{
		Format:   sink.Plain,
		Controls: a.controls,
		Final:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to flush reasoning overflow: %w", err)
	}

	a.reasoningHandles.add(h)
	a.reasoningHandles.retire()
	a.retired = retiredMessage{handle: h, text: a.reasoning.String(), format: sink.Plain}
	a.resetReasoning()
	return nil
}

func (a *Aggregator) overflowContent(ctx context.Context) error {
	if err := a.finishThinking(ctx); err != nil {
		return err
	}

	text := a.content.String()
	h, err := a.sink.Update(ctx, a.contentHandle, text, sink.WriteOptions{
		Format:   sink.Markdown,
		Controls: a.controls,
		Final:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to flush content overflow: %w", err)
	}

	a.retired = retiredMessage{handle: h, text: text, format: sink.Markdown}
	a.contentHandle = sink.NoHandle
	a.content.Reset()
	a.contentLen = 0
	return nil
}

// Tick flushes the buffers with the given controls. Pending content takes
// over from reasoning: reasoning messages are deleted and the
// ThinkingDone notice is posted before the content is shown.
func (a *Aggregator) Tick(ctx context.Context, controls []telegram.Button) error {
	a.controls = controls
	return a.flush(ctx, controls, false)
}

// Finish performs the last flush with the terminal controls and returns
// the full assistant answer. It reports ErrEmptyResponse when nothing at
// all was received.
func (a *Aggregator) Finish(ctx context.Context, controls []telegram.Button) (string, error) {
	if a.deltas == 0 {
		return "", ErrEmptyResponse
	}
	a.controls = controls

	if a.contentLen == 0 && a.reasoningLen == 0 && a.retired.handle != sink.NoHandle {
		if _, err := a.sink.Update(ctx, a.retired.handle, a.retired.text, sink.WriteOptions{
			Format:   a.retired.format,
			Controls: controls,
			Final:    true,
		}); err != nil {
			return "", fmt.Errorf("failed to finalize answer: %w", err)
		}
	} else if err := a.flush(ctx, controls, true); err != nil {
		return "", err
	}

	return a.final.String(), nil
}

func (a *Aggregator) flush(ctx context.Context, controls []telegram.Button, final bool) error {
	switch {
	case a.contentLen > 0:
		if err := a.finishThinking(ctx); err != nil {
			return err
		}
		h, err := a.sink.Update(ctx, a.contentHandle, a.content.String(), sink.WriteOptions{
			Format:   sink.Markdown,
			Controls: controls,
			Final:    final,
		})
		if err != nil {
			return fmt.Errorf("failed to flush content: %w", err)
		}
		a.contentHandle = h

	case a.reasoningLen > 0:
		h, err := a.sink.Update(ctx, a.reasoningHandles.last(), a.reasoning.String(), sink.WriteOptions{
			Format:   sink.Plain,
			Controls: controls,
			Final:    final,
		})
		if err != nil {
			return fmt.Errorf("failed to flush reasoning: %w", err)
		}
		a.reasoningHandles.add(h)
	}
	return nil
}

// finishThinking drops unsent reasoning and replaces the reasoning
// messages with the ThinkingDone notice.
func (a *Aggregator) finishThinking(ctx context.Context) error {
	a.resetReasoning()
	if a.retired.format == sink.Plain {
		a.retired = retiredMessage{}
	}

	live := a.reasoningHandles.live()
	if len(live) == 0 {
		a.reasoningHandles.clear()
		return nil
	}

	if err := a.sink.DeleteMany(ctx, live); err != nil {
		return fmt.Errorf("failed to delete reasoning messages: %w", err)
	}
	a.reasoningHandles.clear()

	if a.opts.ThinkingDone != "" {
		if err := a.sink.Notice(ctx, a.opts.ThinkingDone); err != nil {
			return fmt.Errorf("failed to post thinking notice: %w", err)
		}
	}
	return nil
}

// DeleteAllReasoningMessages removes every reasoning message this
// aggregator created and, if there were any, posts the Restart notice.
func (a *Aggregator) DeleteAllReasoningMessages(ctx context.Context) error {
	live := a.reasoningHandles.live()
	a.reasoningHandles.clear()
	if len(live) == 0 {
		return nil
	}

	if err := a.sink.DeleteMany(ctx, live); err != nil {
		return fmt.Errorf("failed to delete reasoning messages: %w", err)
	}
	if a.opts.Restart != "" {
		if err := a.sink.Notice(ctx, a.opts.Restart); err != nil {
			return fmt.Errorf("failed to post restart notice: %w", err)
		}
	}
	return nil
}

// Clear resets buffers and handles so a new attempt starts from scratch.
// Messages already on screen are left alone.
func (a *Aggregator) Clear() {
	a.resetReasoning()
	a.content.Reset()
	a.contentLen = 0
	a.final.Reset()
	a.deltas = 0
	a.reasoningHandles.clear()
	a.contentHandle = sink.NoHandle
	a.retired = retiredMessage{}
	a.controls = a.opts.Controls
}

// Stats returns the current buffer sizes.
func (a *Aggregator) Stats() Stats {
	return Stats{
		Deltas:         a.deltas,
		ReasoningBytes: a.reasoning.Len(),
		ContentBytes:   a.content.Len(),
		FinalBytes:     a.final.Len(),
	}
}

func (a *Aggregator) resetReasoning() {
	a.reasoning.Reset()
	a.reasoningLen = 0
}
