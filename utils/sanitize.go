package utils

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	ugcPolicy    = bluemonday.UGCPolicy()
	strictPolicy = bluemonday.StrictPolicy()
)

// Sanitize cleans rich HTML content (descriptions, news bodies) to prevent XSS.
func Sanitize(input string) string {
	return ugcPolicy.Sanitize(input)
}

// PlainText strips every tag and trims surrounding whitespace. Used for titles, names and chat.
// Entities are decoded again; clients render the result as text, never as HTML.
func PlainText(input string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(input)))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
