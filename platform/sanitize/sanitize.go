// Package sanitize provides text sanitization for inbound and stored text.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// htmlTagRegex matches HTML tags
	htmlTagRegex  = regexp.MustCompile(`<[^>]*>`)
	spaceRunRegex = regexp.MustCompile(`[ \t]+`)
)

// StripHTML removes all HTML tags from a string, making it safe for text-only display.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = strings.ReplaceAll(result, "&lt;", "<")
	result = strings.ReplaceAll(result, "&gt;", ">")
	result = strings.ReplaceAll(result, "&amp;", "&")
	result = strings.ReplaceAll(result, "&quot;", "\"")
	result = strings.ReplaceAll(result, "&#39;", "'")
	// Re-strip after entity decode to catch encoded tags
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text prepares free text typed by an agent, such as a close reason, for
// storage: tags are stripped and the result is trimmed.
func Text(s string) string {
	return StripHTML(s)
}

// InboundText prepares a customer message for menu matching: control
// characters other than newlines are dropped, runs of spaces collapse and
// the result is trimmed.
func InboundText(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if r == '\u200b' || r == '\ufeff' {
			return -1
		}
		if unicode.IsControl(r) {
			if r == '\t' || r == '\r' {
				return ' '
			}
			return -1
		}
		return r
	}, s)
	cleaned = spaceRunRegex.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}
