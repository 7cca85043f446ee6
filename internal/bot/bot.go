// Package bot wires the chat platform, the completion client and the
// per-chat job supervisor into the running bot.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/gavinyap/bigseek/internal/config"
	"github.com/gavinyap/bigseek/internal/i18n"
	"github.com/gavinyap/bigseek/internal/llm"
	"github.com/gavinyap/bigseek/internal/session"
	"github.com/gavinyap/bigseek/internal/sink"
	"github.com/gavinyap/bigseek/internal/store"
)

const (
	commandStart = "/start"
	commandStats = "/stats"
)

// Telegram is the chat platform surface the bot needs.
type Telegram interface {
	sink.Transport
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Completer opens completion streams.
type Completer interface {
	StreamChat(ctx context.Context, req llm.ChatRequest) (*llm.Stream, error)
}

// History is the per-chat conversation memory.
type History interface {
	Get(ctx context.Context, chatID int64) ([]llm.Message, error)
	Append(ctx context.Context, chatID int64, msgs ...llm.Message) error
	Clear(ctx context.Context, chatID int64) error
}

// Users records activity and answers the admin's questions about it.
type Users interface {
	StatsSource
	RecordMessage(ctx context.Context, userID int64, username string) error
	Users(ctx context.Context) ([]store.User, error)
}

// Options wires a Bot.
type Options struct {
	Telegram   Telegram
	LLM        Completer
	Supervisor *session.Supervisor
	History    History
	Users      Users
	Config     config.Config
	Logger     zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Bot handles updates. Each chat's updates are handled in arrival order on
// that chat's lane; turn jobs share a pool of Telegram.MaxConcurrency slots.
type Bot struct {
	tg       Telegram
	llm      Completer
	sessions *session.Supervisor
	history  History
	users    Users
	cfg      config.Config
	logger   zerolog.Logger
	now      func() time.Time

	slots chan struct{}
	lanes *lanes
}

// New validates opts and returns a Bot.
func New(opts Options) (*Bot, error) {
	switch {
	case opts.Telegram == nil:
		return nil, errors.New("bot: nil telegram client")
	case opts.LLM == nil:
		return nil, errors.New("bot: nil completion client")
	case opts.Supervisor == nil:
		return nil, errors.New("bot: nil supervisor")
	case opts.History == nil:
		return nil, errors.New("bot: nil history")
	case opts.Users == nil:
		return nil, errors.New("bot: nil user repository")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	slots := opts.Config.Telegram.MaxConcurrency
	if slots < 1 {
		slots = 1
	}

	return &Bot{
		tg:       opts.Telegram,
		llm:      opts.LLM,
		sessions: opts.Supervisor,
		history:  opts.History,
		users:    opts.Users,
		cfg:      opts.Config,
		logger:   opts.Logger,
		now:      opts.Now,
		slots:    make(chan struct{}, slots),
		lanes:    newLanes(),
	}, nil
}

// Run dispatches updates until ctx is done or updates is closed. A slow
// chat never holds up the others. On the way out updates still queued are
// dropped and every running job is cancelled and awaited.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go b.sessions.RunJanitor(janitorCtx)

	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.dispatch(ctx, u)
		}
	}
}

// dispatch queues u on its chat's lane.
func (b *Bot) dispatch(ctx context.Context, u tgbotapi.Update) {
	chatID, ok := updateChat(u)
	if !ok {
		b.HandleUpdate(ctx, u)
		return
	}
	b.lanes.Go(chatID, func() {
		if ctx.Err() != nil {
			return
		}
		b.HandleUpdate(ctx, u)
	})
}

func updateChat(u tgbotapi.Update) (int64, bool) {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return u.CallbackQuery.Message.Chat.ID, true
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.Chat.ID, true
	default:
		return 0, false
	}
}

func (b *Bot) shutdown() {
	b.lanes.Wait()
	b.logger.Info().Msg("cancelling running jobs")
	b.sessions.CancelAll(session.Shutdown)
	b.sessions.Wait()
}

// HandleUpdate processes one update. Message turns are started on the
// supervisor and run after HandleUpdate returns.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Text != "":
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := msg.Text
	logger := b.logger.With().Int64("chat_id", chatID).Logger()

	switch strings.TrimSpace(text) {
	case commandStart:
		b.notice(ctx, chatID, i18n.Text(i18n.Start, b.sessions.Language(chatID)))
		return
	case commandStats:
		if b.isAdmin(msg.From) {
			b.sendStats(ctx, chatID)
		}
		return
	}

	lang := i18n.Detect(text)
	b.sessions.SetLanguage(chatID, lang)

	if !b.sessions.Admit(chatID, b.now()) {
		logger.Info().Msg("rate limited")
		b.notice(ctx, chatID, i18n.Text(i18n.RateLimit, lang))
		return
	}

	if msg.From != nil {
		if err := b.users.RecordMessage(ctx, msg.From.ID, msg.From.UserName); err != nil {
			logger.Error().Err(err).Msg("failed to record user message")
		}
	}

	// Jobs outlive the update loop's context; shutdown cancels them with
	// their own cause.
	job := b.sessions.Start(context.WithoutCancel(ctx), chatID, b.turn(turnRequest{
		chatID:   chatID,
		text:     text,
		lang:     lang,
		thinking: i18n.IsThinking(text),
	}))
	logger.Debug().Str("job_id", job.ID).Msg("job started")
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		b.answer(ctx, cq.ID, "")
		return
	}
	chatID := cq.Message.Chat.ID
	lang := b.sessions.Language(chatID)
	logger := b.logger.With().Int64("chat_id", chatID).Str("callback", cq.Data).Logger()

	control, ok := parseControl(cq.Data)
	if !ok {
		logger.Warn().Msg("unknown callback")
		b.answer(ctx, cq.ID, "")
		return
	}

	switch control {
	case ControlStop:
		if b.sessions.Stop(chatID) {
			b.answer(ctx, cq.ID, i18n.Text(i18n.StopSuccess, lang))
		} else {
			b.answer(ctx, cq.ID, i18n.Text(i18n.NothingRunning, lang))
		}

	case ControlClearHistory:
		b.sessions.Stop(chatID)
		b.awaitJob(ctx, chatID)
		if err := b.history.Clear(ctx, chatID); err != nil {
			logger.Error().Err(err).Msg("failed to clear history")
			b.answer(ctx, cq.ID, i18n.Text(i18n.Error, lang, err.Error()))
			return
		}
		b.answer(ctx, cq.ID, i18n.Text(i18n.ClearAnswer, lang))
		b.notice(ctx, chatID, i18n.Text(i18n.ClearMessage, lang))

	case ControlUsersList:
		if !b.isAdmin(cq.From) {
			b.answer(ctx, cq.ID, "")
			return
		}
		b.answer(ctx, cq.ID, "Ok")
		b.sendUsersList(ctx, chatID)
	}
}

// awaitJob waits for the chat's current job to return so nothing it does
// lands after what the caller does next.
func (b *Bot) awaitJob(ctx context.Context, chatID int64) {
	job, ok := b.sessions.Job(chatID)
	if !ok {
		return
	}
	select {
	case <-job.Done():
	case <-ctx.Done():
	}
}

func (b *Bot) isAdmin(u *tgbotapi.User) bool {
	return u != nil && b.cfg.Telegram.AdminUserID != 0 && u.ID == b.cfg.Telegram.AdminUserID
}

func (b *Bot) newSink(chatID int64, logger zerolog.Logger) *sink.Sink {
	return sink.New(b.tg, chatID, sink.Options{
		Retry:             b.cfg.Retry.Sink.Backoff(),
		MaxMarkupFailures: b.cfg.Retry.MarkupFailures,
		Logger:            logger,
	})
}

func (b *Bot) notice(ctx context.Context, chatID int64, text string) {
	logger := b.logger.With().Int64("chat_id", chatID).Logger()
	if err := b.newSink(chatID, logger).Notice(ctx, text); err != nil {
		logger.Error().Err(err).Msg("failed to send notice")
	}
}

func (b *Bot) answer(ctx context.Context, callbackID, text string) {
	if err := b.tg.AnswerCallback(ctx, callbackID, text); err != nil {
		b.logger.Warn().Err(err).Str("callback_id", callbackID).Msg("failed to answer callback")
	}
}
