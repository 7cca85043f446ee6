package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// Button is an inline keyboard button with an opaque callback payload.
type Button struct {
	Text string
	Data string
}

// ParseMode selects how the platform interprets message text.
type ParseMode string

const (
	ModePlain      ParseMode = ""
	ModeMarkdown   ParseMode = tgbotapi.ModeMarkdown
	ModeMarkdownV2 ParseMode = tgbotapi.ModeMarkdownV2
)

// markup renders buttons as a single keyboard row. No buttons means no
// keyboard, which on edits also strips an existing one.
func markup(buttons []Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(row)
	return &kb
}
