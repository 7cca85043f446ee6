// Package i18n holds the user-facing strings of the bot in Russian and
// English, and the heuristics that pick between them.
package i18n

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Language is a supported chat language.
type Language int

const (
	EN Language = iota
	RU
)

func (l Language) String() string {
	if l == RU {
		return "ru"
	}
	return "en"
}

// Key names a catalog entry.
type Key int

const (
	Start Key = iota
	Thinking
	ThinkingCompleted
	Response
	RateLimit
	KeyboardStop
	KeyboardClear
	KeyboardUsersList
	StopSuccess
	NothingRunning
	ClearAnswer
	ClearMessage
	StoppedByUser
	StoppedByNewMessage
	Restart
	RetryExhausted
	Error
	SystemPrompt
)

type entry struct {
	ru, en string
}

var catalog = map[Key]entry{
	Start:               {"Го", "Let's go"},
	Thinking:            {"Думаю...", "Thinking..."},
	ThinkingCompleted:   {"Подумал, получается:", "Thought and it's:"},
	Response:            {"Так, ну смотри", "So, well, look"},
	RateLimit:           {"Превышен лимит запросов. Подожди пока", "Rate limit exceeded. Wait"},
	KeyboardStop:        {"🚫 Остановись", "🚫 Stop"},
	KeyboardClear:       {"🧹 Забудь все", "🧹 Clear history"},
	KeyboardUsersList:   {"Show users list", "Show users list"},
	StopSuccess:         {"Остановился!", "Stopped!"},
	NothingRunning:      {"Нечего останавливать", "Nothing to stop"},
	ClearAnswer:         {"Чисто!", "History cleared!"},
	ClearMessage:        {"Бот забыл историю. Давай по новой", "Bot forgot the history. Let's start over"},
	StoppedByUser:       {"Стою", "I'm stopped"},
	StoppedByNewMessage: {"Новое сообщение в чате, так, ща...", "There is a new message in the chat, so..."},
	Restart:             {"Ща, по новой...", "Hold on, starting over..."},
	RetryExhausted:      {"Что-то пошло не так, попробуй еще раз", "Something went wrong, try again"},
	Error:               {"Ошибка: %s", "Error: %s"},
	SystemPrompt: {
		"Ты полезный ассистент. Отвечай на русском языке.",
		"You are a helpful assistant. Answer in English.",
	},
}

// Text returns the string for key in lang. Args are applied with
// fmt.Sprintf when given.
func Text(key Key, lang Language, args ...any) string {
	e, ok := catalog[key]
	if !ok {
		return fmt.Sprintf("!(%d)", key)
	}
	s := e.en
	if lang == RU {
		s = e.ru
	}
	if len(args) > 0 {
		return fmt.Sprintf(s, args...)
	}
	return s
}

// Detect returns RU when more than half of the letters in text are
// Cyrillic, EN otherwise.
func Detect(text string) Language {
	var letters, cyrillic int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Cyrillic, r) {
			cyrillic++
		}
	}
	if letters > 0 && cyrillic*2 > letters {
		return RU
	}
	return EN
}

var thinkingPrefixes = []string{"Подумай", "Думай", "Think"}

const thinkingWindow = 20

// IsThinking reports whether text asks for an explicit reasoning pass: one
// of the thinking words appears within its first 20 characters.
func IsThinking(text string) bool {
	window := text
	if utf8.RuneCountInString(window) > thinkingWindow {
		window = string([]rune(window)[:thinkingWindow])
	}
	window = lowerFirst(window)
	for _, p := range thinkingPrefixes {
		if strings.Contains(window, lowerFirst(p)) {
			return true
		}
	}
	return false
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
