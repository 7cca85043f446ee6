// Package telegramtest provides an in-memory chat transport for tests.
package telegramtest

import (
	"context"
	"slices"
	"sync"

	"github.com/gavinyap/bigseek/internal/telegram"
)

// Operation names recorded in Call.Op.
const (
	OpSend     = "send"
	OpEdit     = "edit"
	OpDelete   = "delete"
	OpTyping   = "typing"
	OpCallback = "callback"
)

// Call is one recorded transport invocation.
type Call struct {
	Op         string
	ChatID     int64
	MessageID  int
	IDs        []int
	Text       string
	Mode       telegram.ParseMode
	Buttons    []telegram.Button
	CallbackID string
}

// Transport records every call and keeps the visible state of each chat.
// It is safe for concurrent use.
type Transport struct {
	// Fail, if set, is consulted for every call. A non-nil result fails
	// the call after it has been recorded.
	Fail func(c Call) error

	mu       sync.Mutex
	nextID   int
	calls    []Call
	messages map[int]message
}

type message struct {
	chatID  int64
	text    string
	buttons []telegram.Button
}

// New returns an empty transport. Message ids start at 100.
func New() *Transport {
	return &Transport{nextID: 100, messages: make(map[int]message)}
}

func (t *Transport) record(c Call) error {
	t.mu.Lock()
	t.calls = append(t.calls, c)
	fail := t.Fail
	t.mu.Unlock()

	if fail != nil {
		return fail(c)
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, chatID int64, text string, mode telegram.ParseMode, buttons []telegram.Button) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, context.Cause(ctx)
	}
	if err := t.record(Call{Op: OpSend, ChatID: chatID, Text: text, Mode: mode, Buttons: buttons}); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.messages[id] = message{chatID: chatID, text: text, buttons: buttons}
	return id, nil
}

func (t *Transport) Edit(ctx context.Context, chatID int64, messageID int, text string, mode telegram.ParseMode, buttons []telegram.Button) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	if err := t.record(Call{Op: OpEdit, ChatID: chatID, MessageID: messageID, Text: text, Mode: mode, Buttons: buttons}); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.messages[messageID]; !ok {
		return &telegram.APIError{Code: 400, Description: "Bad Request: message to edit not found"}
	}
	t.messages[messageID] = message{chatID: chatID, text: text, buttons: buttons}
	return nil
}

func (t *Transport) Delete(ctx context.Context, chatID int64, messageIDs []int) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	if err := t.record(Call{Op: OpDelete, ChatID: chatID, IDs: slices.Clone(messageIDs)}); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range messageIDs {
		delete(t.messages, id)
	}
	return nil
}

func (t *Transport) Typing(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	return t.record(Call{Op: OpTyping, ChatID: chatID})
}

func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	return t.record(Call{Op: OpCallback, CallbackID: callbackID, Text: text})
}

// Calls returns every recorded call in order.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.calls)
}

// CallsOf returns the recorded calls of one operation.
func (t *Transport) CallsOf(op string) []Call {
	var out []Call
	for _, c := range t.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls but keeps visible messages.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}

// Text returns the current text of a message and whether it is still visible.
func (t *Transport) Text(id int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.messages[id]
	return m.text, ok
}

// Buttons returns the current keyboard of a message.
func (t *Transport) Buttons(id int) []telegram.Button {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messages[id].buttons
}

// Visible returns the texts of the chat's messages that were not deleted,
// ordered by message id.
func (t *Transport) Visible(chatID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int, 0, len(t.messages))
	for id, m := range t.messages {
		if m.chatID == chatID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		texts = append(texts, t.messages[id].text)
	}
	return texts
}
