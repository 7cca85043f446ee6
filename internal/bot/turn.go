package bot

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/gavinyap/bigseek/internal/i18n"
	"github.com/gavinyap/bigseek/internal/llm"
	"github.com/gavinyap/bigseek/internal/retry"
	"github.com/gavinyap/bigseek/internal/session"
	"github.com/gavinyap/bigseek/internal/sink"
	"github.com/gavinyap/bigseek/internal/stream"
)

type turnRequest struct {
	chatID   int64
	text     string
	lang     i18n.Language
	thinking bool
}

// turn returns the job body that answers one user message.
func (b *Bot) turn(req turnRequest) session.Func {
	return func(ctx context.Context, job *session.Job) error {
		logger := b.logger.With().
			Int64("chat_id", req.chatID).
			Str("job_id", job.ID).
			Logger()

		select {
		case b.slots <- struct{}{}:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
		defer func() { <-b.slots }()

		t := &turnState{
			bot:    b,
			req:    req,
			logger: logger,
			sink:   b.newSink(req.chatID, logger),
		}
		err := t.run(ctx)
		t.report(ctx, err)
		return err
	}
}

type turnState struct {
	bot    *Bot
	req    turnRequest
	logger zerolog.Logger
	sink   *sink.Sink
	agg    *stream.Aggregator

	notice     sink.Handle
	noticeText string
	attempts   int
}

func (t *turnState) run(ctx context.Context) error {
	b, req := t.bot, t.req
	stop := keyboard(req.lang, ControlStop)
	running := keyboard(req.lang, ControlStop, ControlClearHistory)

	t.noticeText = i18n.Text(i18n.Response, req.lang)
	if req.thinking {
		t.noticeText = i18n.Text(i18n.Thinking, req.lang)
	}
	notice, err := t.sink.Update(ctx, sink.NoHandle, t.noticeText, sink.WriteOptions{Controls: stop, Final: true})
	if err != nil {
		return err
	}
	t.notice = notice
	defer t.stripNotice(context.WithoutCancel(ctx))
	t.typing(ctx)

	past, err := b.history.Get(ctx, req.chatID)
	if err != nil {
		return err
	}
	user := llm.Message{Role: llm.RoleUser, Content: req.text}
	chat := llm.ChatRequest{
		Model:            b.cfg.OpenRouter.Model,
		Messages:         buildMessages(req.lang, past, user),
		IncludeReasoning: true,
	}
	if req.thinking {
		chat.Model = b.cfg.OpenRouter.ReasoningModel
	}

	t.agg = stream.New(t.sink, stream.Options{
		MaxLength:    b.cfg.Stream.MaxMessageLength,
		ThinkingDone: i18n.Text(i18n.ThinkingCompleted, req.lang),
		Restart:      i18n.Text(i18n.Restart, req.lang),
		Controls:     running,
		Logger:       t.logger,
	})

	policy := b.cfg.Retry.Job.Backoff()
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		t.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("turn failed, retrying")
	}

	var final string
	err = retry.Do(ctx, policy, retryableTurn, func(ctx context.Context) error {
		t.attempts++
		if err := t.agg.DeleteAllReasoningMessages(ctx); err != nil {
			return err
		}
		t.agg.Clear()

		s, err := b.llm.StreamChat(ctx, chat)
		if err != nil {
			return err
		}
		defer s.Close()

		final, err = t.agg.Run(ctx, s, stream.RunOptions{
			Interval:      b.cfg.Stream.SampleInterval,
			Controls:      running,
			FinalControls: keyboard(req.lang, ControlClearHistory),
			OnFirstDelta:  t.stripNotice,
			OnFlush:       t.typing,
		})
		return err
	})
	if err != nil {
		return err
	}

	// A reasoning-only answer has nothing to remember.
	if final == "" {
		return nil
	}

	// The answer is on screen; keep it even if the job is cancelled now.
	persistCtx := context.WithoutCancel(ctx)
	assistant := llm.Message{Role: llm.RoleAssistant, Content: final}
	if err := b.history.Append(persistCtx, req.chatID, user, assistant); err != nil {
		t.logger.Error().Err(err).Msg("failed to save history")
	}
	return nil
}

// stripNotice removes the stop button from the responding notice once the
// answer starts streaming.
func (t *turnState) stripNotice(ctx context.Context) {
	if t.notice == sink.NoHandle {
		return
	}
	if _, err := t.sink.Update(ctx, t.notice, t.noticeText, sink.WriteOptions{Final: true}); err != nil {
		t.logger.Debug().Err(err).Msg("failed to strip notice buttons")
		return
	}
	t.notice = sink.NoHandle
}

func (t *turnState) typing(ctx context.Context) {
	if err := t.sink.Typing(ctx); err != nil {
		t.logger.Debug().Err(err).Msg("typing action failed")
	}
}

// report logs the outcome and tells the user why a turn ended early.
func (t *turnState) report(ctx context.Context, err error) {
	var stats stream.Stats
	if t.agg != nil {
		stats = t.agg.Stats()
	}
	event := func(e *zerolog.Event) *zerolog.Event {
		return e.
			Int("attempts", t.attempts).
			Int("deltas", stats.Deltas).
			Int("reasoning_bytes", stats.ReasoningBytes).
			Int("content_bytes", stats.ContentBytes).
			Int("final_bytes", stats.FinalBytes)
	}

	if err == nil {
		event(t.logger.Info()).Msg("turn completed")
		return
	}

	lang := t.req.lang
	var text string
	if cause, ok := session.CauseOf(err); ok {
		event(t.logger.Info()).Stringer("cause", cause).Msg("turn cancelled")
		switch cause {
		case session.UserRequestedStop:
			text = i18n.Text(i18n.StoppedByUser, lang)
		case session.SupersededByNewMessage:
			text = i18n.Text(i18n.StoppedByNewMessage, lang)
		default:
			return
		}
	} else {
		event(t.logger.Error()).Err(err).Msg("turn failed")
		if retry.IsExhausted(err) {
			text = i18n.Text(i18n.RetryExhausted, lang)
		} else {
			text = i18n.Text(i18n.Error, lang, err.Error())
		}
	}

	if err := t.sink.Notice(context.WithoutCancel(ctx), text); err != nil {
		t.logger.Error().Err(err).Msg("failed to send outcome notice")
	}
}

func buildMessages(lang i18n.Language, past []llm.Message, user llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(past)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: i18n.Text(i18n.SystemPrompt, lang)})
	msgs = append(msgs, past...)
	return append(msgs, user)
}

// retryableTurn decides whether a whole turn is worth another attempt.
// Cancellations and failures that already went through their own retry
// loop are final.
func retryableTurn(err error) bool {
	if _, ok := session.CauseOf(err); ok {
		return false
	}
	if retry.IsExhausted(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var decodeErr *llm.DecodeError
	return sink.Retryable(err) ||
		errors.Is(err, stream.ErrEmptyResponse) ||
		errors.As(err, &decodeErr) ||
		isTransportError(err)
}

// isTransportError matches connection-level failures of the completion
// request, including a stream cut off mid-body.
func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}
