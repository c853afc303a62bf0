package helpers

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest error text stored in the call log and sync state.
const MaxMessageLength = 500

// TruncateMessage trims s and cuts it to MaxMessageLength bytes without splitting a rune.
func TruncateMessage(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= MaxMessageLength {
		return s
	}

	cut := MaxMessageLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
