// Package markdown renders model output as Telegram MarkdownV2.
//
// Model answers use fenced code blocks heavily and little else that
// survives MarkdownV2's strict grammar, so everything outside fences is
// escaped literally and only fences are kept as formatting.
package markdown

import (
	"regexp"
	"strings"
)

var codeBlock = regexp.MustCompile("(?s)```(\\w+)?\\s*(.*?)```")

var escapes = map[byte]bool{
	'\\': true, '_': true, '*': true, '[': true, ']': true, '(': true,
	')': true, '~': true, '`': true, '>': true, '#': true, '+': true,
	'-': true, '=': true, '|': true, '{': true, '}': true, '.': true,
	'!': true,
}

// FormatV2 converts raw text into MarkdownV2.
func FormatV2(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + len(raw)/8)

	last := 0
	for _, m := range codeBlock.FindAllStringSubmatchIndex(raw, -1) {
		b.WriteString(Escape(raw[last:m[0]]))

		lang := ""
		if m[2] >= 0 {
			lang = raw[m[2]:m[3]]
		}
		code := raw[m[4]:m[5]]

		b.WriteString("```")
		b.WriteString(lang)
		b.WriteByte('\n')
		b.WriteString(escapeCode(strings.TrimRight(code, "\n")))
		b.WriteString("\n```")

		last = m[1]
	}
	b.WriteString(Escape(raw[last:]))

	return b.String()
}

// Escape escapes every MarkdownV2 special character.
func Escape(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 8)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if escapes[ch] {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// Inside pre blocks only the backslash and backtick need escaping.
func escapeCode(code string) string {
	code = strings.ReplaceAll(code, "\\", "\\\\")
	return strings.ReplaceAll(code, "`", "\\`")
}
