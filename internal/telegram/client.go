// Package telegram wraps the Bot API client with the handful of calls the
// bot makes, and classifies the platform's error responses.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// deleteBatch is the most ids deleteMessages accepts per call.
const deleteBatch = 100

// Client talks to the Bot API. It is shared by every chat.
//
// The underlying library has no per-call context, so each method checks
// ctx before issuing the request; an in-flight call always runs to
// completion and callers decide what to do with its result.
type Client struct {
	api    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// Options configures a Client.
type Options struct {
	Token string
	// Endpoint overrides the Bot API endpoint format. Useful for testing.
	Endpoint   string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewClient authenticates against the Bot API and returns a client.
func NewClient(opts Options) (*Client, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, httpClient)
	if err != nil {
		return nil, wrapError("connect to telegram", err)
	}

	return &Client{api: api, logger: opts.Logger}, nil
}

// Username returns the bot's own username.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Send posts a new message and returns its id.
func (c *Client) Send(ctx context.Context, chatID int64, text string, mode ParseMode, buttons []Button) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, context.Cause(ctx)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = string(mode)
	if kb := markup(buttons); kb != nil {
		msg.ReplyMarkup = *kb
	}

	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, wrapError("send message", err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text and keyboard of an existing message.
func (c *Client) Edit(ctx context.Context, chatID int64, messageID int, text string, mode ParseMode, buttons []Button) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = string(mode)
	edit.ReplyMarkup = markup(buttons)

	_, err := c.api.Request(edit)
	return wrapError("edit message", err)
}

// Delete removes messages, batching ids the way the platform requires.
func (c *Client) Delete(ctx context.Context, chatID int64, messageIDs []int) error {
	for start := 0; start < len(messageIDs); start += deleteBatch {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}

		end := min(start+deleteBatch, len(messageIDs))
		params := tgbotapi.Params{"chat_id": strconv.FormatInt(chatID, 10)}
		if err := params.AddInterface("message_ids", messageIDs[start:end]); err != nil {
			return fmt.Errorf("failed to encode message ids: %w", err)
		}
		if _, err := c.api.MakeRequest("deleteMessages", params); err != nil {
			return wrapError("delete messages", err)
		}
	}
	return nil
}

// Typing shows the "typing" chat action.
func (c *Client) Typing(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	_, err := c.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return wrapError("send chat action", err)
}

// AnswerCallback acknowledges a button press with a short toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	_, err := c.api.Request(tgbotapi.NewCallback(callbackID, text))
	return wrapError("answer callback", err)
}

// Updates starts long polling and returns the update channel. Polling
// stops when ctx is done.
func (c *Client) Updates(ctx context.Context, timeoutSeconds int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSeconds
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := c.api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		c.logger.Debug().Msg("stopping update polling")
		c.api.StopReceivingUpdates()
	}()
	return updates
}
