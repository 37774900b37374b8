package messaging

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage breaks body into parts of at most max characters, preferring line breaks,
// then spaces. Empty or blank bodies yield no parts.
func SplitMessage(body string, max int) []string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(body) <= max {
		return []string{body}
	}

	var parts []string
	for utf8.RuneCountInString(body) > max {
		cut := byteOffset(body, max)
		window := body[:cut]
		if i := strings.LastIndex(window, "\n"); i > 0 {
			cut = i
		} else if i := strings.LastIndex(window, " "); i > 0 {
			cut = i
		}
		if part := strings.TrimSpace(body[:cut]); part != "" {
			parts = append(parts, part)
		}
		body = strings.TrimSpace(body[cut:])
	}
	if body != "" {
		parts = append(parts, body)
	}
	return parts
}

// byteOffset returns the byte index just after the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
