package domain

import "unicode/utf8"

// MaxChatLen caps the text of a relayed chat message, counted in
// characters. Longer input is truncated, never rejected.
const MaxChatLen = 1000

// ChatMessage is an ephemeral room message. Ordering is relay-arrival
// order; the timestamp is informational only.
type ChatMessage struct {
	From Handle `json:"from"`
	Name string `json:"name"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// TruncateChat enforces MaxChatLen. The limit is in runes, not bytes,
// so multibyte text keeps its full allowance.
func TruncateChat(text string) string {
	if utf8.RuneCountInString(text) <= MaxChatLen {
		return text
	}
	return string([]rune(text)[:MaxChatLen])
}
