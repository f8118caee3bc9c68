package strings

import (
	"strings"
	"unicode"
)

// DefaultMaxLen bounds untrusted values echoed into log lines and table cells.
const DefaultMaxLen = 60

// MinTruncateLen is the minimum maxLen value for SingleLine.
// Values smaller than this would not leave room for meaningful content plus "...".
const MinTruncateLen = 4

// SingleLine collapses all whitespace to single spaces, drops other control
// characters and truncates the result to maxLen runes, ending in "..." when
// shortened. Use it for values that come from outside the process, such as
// query parameters returned by an identity provider, before logging them.
//
// maxLen is clamped to MinTruncateLen.
func SingleLine(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
