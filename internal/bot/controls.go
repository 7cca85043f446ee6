package bot

import (
	"github.com/gavinyap/bigseek/internal/i18n"
	"github.com/gavinyap/bigseek/internal/telegram"
)

// Control is an inline button the bot attaches to its messages.
type Control int

const (
	ControlStop Control = iota + 1
	ControlClearHistory
	ControlUsersList
)

// Callback payloads. They are part of the deployed bot's surface: buttons
// on old messages still carry them.
const (
	callbackForceStop    = "FORCESTOP"
	callbackClearHistory = "CLEARHISTORY"
	callbackUsersList    = "USERSLIST"
)

func (c Control) data() string {
	switch c {
	case ControlStop:
		return callbackForceStop
	case ControlClearHistory:
		return callbackClearHistory
	case ControlUsersList:
		return callbackUsersList
	default:
		return ""
	}
}

func (c Control) label(lang i18n.Language) string {
	switch c {
	case ControlStop:
		return i18n.Text(i18n.KeyboardStop, lang)
	case ControlClearHistory:
		return i18n.Text(i18n.KeyboardClear, lang)
	case ControlUsersList:
		return i18n.Text(i18n.KeyboardUsersList, lang)
	default:
		return ""
	}
}

func parseControl(data string) (Control, bool) {
	switch data {
	case callbackForceStop:
		return ControlStop, true
	case callbackClearHistory:
		return ControlClearHistory, true
	case callbackUsersList:
		return ControlUsersList, true
	default:
		return 0, false
	}
}

// keyboard renders controls as one row of buttons.
func keyboard(lang i18n.Language, controls ...Control) []telegram.Button {
	if len(controls) == 0 {
		return nil
	}
	buttons := make([]telegram.Button, 0, len(controls))
	for _, c := range controls {
		buttons = append(buttons, telegram.Button{Text: c.label(lang), Data: c.data()})
	}
	return buttons
}
