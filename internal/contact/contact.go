// Package contact pulls an email address out of a relay's free-text
// contact line, undoing the usual "at"/"dot" obfuscations.
package contact

import (
	"net/mail"
	"regexp"
	"strings"
)

var (
	bracketAt  = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*(?:at|@)\s*[\]\)\}>]\s*`)
	bracketDot = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*(?:dot|\.)\s*[\]\)\}>]\s*`)
	emptyAt    = regexp.MustCompile(`\[\]`)
	spacedAt   = regexp.MustCompile(`(?i)\s+at\s+`)
	spacedDot  = regexp.MustCompile(`(?i)\s+dot\s+`)
	mailto     = regexp.MustCompile(`(?i)\bmailto:`)
	address    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)
)

// Extract returns the first deliverable email address found in text, or ""
// when none can be recovered.
func Extract(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if found := firstValid(text); found != "" {
		return found
	}

	normalized := mailto.ReplaceAllString(text, "")
	normalized = bracketAt.ReplaceAllString(normalized, "@")
	normalized = bracketDot.ReplaceAllString(normalized, ".")
	normalized = emptyAt.ReplaceAllString(normalized, "@")
	normalized = spacedAt.ReplaceAllString(normalized, "@")
	normalized = spacedDot.ReplaceAllString(normalized, ".")

	return firstValid(normalized)
}

// firstValid skips candidates that net/mail would refuse, such as local
// parts with leading, trailing or doubled dots.
func firstValid(text string) string {
	for _, candidate := range address.FindAllString(text, -1) {
		parsed, err := mail.ParseAddress(candidate)
		if err == nil && parsed.Address == candidate {
			return candidate
		}
	}
	return ""
}
