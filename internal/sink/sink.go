// Package sink materializes text into chat messages: it creates or edits
// one message per handle, skips writes that would change nothing, falls
// back to plain text when the platform rejects markup, and retries
// transient platform failures with backoff.
package sink

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gavinyap/bigseek/internal/markdown"
	"github.com/gavinyap/bigseek/internal/retry"
	"github.com/gavinyap/bigseek/internal/telegram"
)

// Handle identifies a message previously written by a Sink. The zero
// value means "not sent yet": the next write creates a message.
type Handle int

// NoHandle is the zero Handle.
const NoHandle Handle = 0

// Transport is the chat platform surface a Sink writes through.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, mode telegram.ParseMode, buttons []telegram.Button) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, mode telegram.ParseMode, buttons []telegram.Button) error
	Delete(ctx context.Context, chatID int64, messageIDs []int) error
	Typing(ctx context.Context, chatID int64) error
}

// Format selects how text is rendered.
type Format int

const (
	Plain Format = iota
	Markdown
)

// WriteOptions describe a single Update.
type WriteOptions struct {
	Format   Format
	Controls []telegram.Button
	// Final writes must land: a markup rejection always falls back to
	// plain text instead of being dropped until the next write.
	Final bool
}

// Options configures a Sink.
type Options struct {
	Retry retry.Config
	// MaxMarkupFailures is how many consecutive markup rejections of
	// non-final writes are dropped before falling back to plain text.
	// Values below 1 mean 1, i.e. always fall back at once.
	MaxMarkupFailures int
	// Formatter renders Markdown writes. Defaults to markdown.FormatV2.
	Formatter func(string) string
	Logger    zerolog.Logger
}

// Sink writes to one chat. It belongs to a single job and is not safe
// for concurrent use.
type Sink struct {
	transport Transport
	chatID    int64
	opts      Options

	written        map[Handle]string
	markupFailures int
}

// New returns a Sink for chatID.
func New(transport Transport, chatID int64, opts Options) *Sink {
	if opts.Formatter == nil {
		opts.Formatter = markdown.FormatV2
	}
	if opts.MaxMarkupFailures < 1 {
		opts.MaxMarkupFailures = 1
	}
	return &Sink{
		transport: transport,
		chatID:    chatID,
		opts:      opts,
		written:   make(map[Handle]string),
	}
}

// Update creates a message when h is NoHandle and edits it otherwise,
// returning the handle that now shows text. Empty text and text identical
// to what h already shows are no-ops.
func (s *Sink) Update(ctx context.Context, h Handle, text string, opts WriteOptions) (Handle, error) {
	if text == "" {
		return h, nil
	}

	sig := signature(text, opts)
	if h != NoHandle && s.written[h] == sig {
		return h, nil
	}

	out := h
	err := retry.Do(ctx, s.opts.Retry, Retryable, func(ctx context.Context) error {
		next, written, err := s.write(ctx, h, text, opts)
		if err != nil {
			return err
		}
		out = next
		if written {
			s.written[next] = sig
		}
		return nil
	})
	if err != nil {
		return h, err
	}
	return out, nil
}

// write performs one attempt. written is false when a markup rejection
// was dropped and nothing changed on screen.
func (s *Sink) write(ctx context.Context, h Handle, text string, opts WriteOptions) (Handle, bool, error) {
	if opts.Format == Markdown {
		out, err := s.call(ctx, h, s.opts.Formatter(text), telegram.ModeMarkdownV2, opts.Controls)
		if !telegram.IsMarkupError(err) {
			if err == nil {
				s.markupFailures = 0
			}
			return out, err == nil, err
		}

		s.markupFailures++
		if !opts.Final && s.markupFailures < s.opts.MaxMarkupFailures {
			s.opts.Logger.Debug().Err(err).Int64("chat_id", s.chatID).Int("failures", s.markupFailures).Msg("markup rejected, dropping write")
			return h, false, nil
		}
		s.opts.Logger.Debug().Err(err).Int64("chat_id", s.chatID).Msg("markup rejected, falling back to plain text")
		s.markupFailures = 0
	}

	out, err := s.call(ctx, h, text, telegram.ModePlain, opts.Controls)
	return out, err == nil, err
}

func (s *Sink) call(ctx context.Context, h Handle, text string, mode telegram.ParseMode, buttons []telegram.Button) (Handle, error) {
	if h == NoHandle {
		id, err := s.transport.Send(ctx, s.chatID, text, mode, buttons)
		if err != nil {
			return h, err
		}
		// The message exists now, but a superseded job must not keep
		// building on it.
		if ctx.Err() != nil {
			return Handle(id), context.Cause(ctx)
		}
		return Handle(id), nil
	}

	err := s.transport.Edit(ctx, s.chatID, int(h), text, mode, buttons)
	if telegram.IsNotModified(err) {
		err = nil
	}
	if err == nil && ctx.Err() != nil {
		return h, context.Cause(ctx)
	}
	return h, err
}

// DeleteMany removes the messages behind handles, ignoring NoHandle.
func (s *Sink) DeleteMany(ctx context.Context, handles []Handle) error {
	ids := make([]int, 0, len(handles))
	for _, h := range handles {
		if h != NoHandle {
			ids = append(ids, int(h))
		}
	}
	if len(ids) == 0 {
		return nil
	}

	err := retry.Do(ctx, s.opts.Retry, Retryable, func(ctx context.Context) error {
		return s.transport.Delete(ctx, s.chatID, ids)
	})
	if err != nil {
		return err
	}

	for _, h := range handles {
		delete(s.written, h)
	}
	return nil
}

// Notice posts a standalone plain message without controls.
func (s *Sink) Notice(ctx context.Context, text string) error {
	_, err := s.Update(ctx, NoHandle, text, WriteOptions{Final: true})
	return err
}

// Typing shows the typing indicator. It is cosmetic and never retried.
func (s *Sink) Typing(ctx context.Context) error {
	return s.transport.Typing(ctx, s.chatID)
}

// Retryable reports platform failures worth another attempt: throttling
// and edits racing the platform's propagation of a fresh message.
func Retryable(err error) bool {
	return telegram.IsRateLimited(err) || telegram.IsEditTargetMissing(err)
}

func signature(text string, opts WriteOptions) string {
	var b strings.Builder
	b.Grow(len(text) + 32)
	b.WriteByte(byte('0' + opts.Format))
	for _, c := range opts.Controls {
		b.WriteString(c.Data)
		b.WriteByte(',')
	}
	b.WriteByte(0)
	b.WriteString(text)
	return b.String()
}
