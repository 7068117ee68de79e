package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// PreviewRunes bounds utterance previews in log lines and feed events.
const PreviewRunes = 50

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: card and SSN numbers would otherwise read as phone numbers.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`(?i)\b(?:mrn|medical record(?: number)?)\s*(?:#|:|is)?\s*[a-z0-9-]*\d[a-z0-9-]{3,}\b`), "[REDACTED_MRN]"},
	{regexp.MustCompile(`\b(?:\d{1,2}[/.]\d{1,2}[/.](?:19|20)\d{2}|(?:19|20)\d{2}-\d{2}-\d{2})\b`), "[REDACTED_DATE]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII replaces emails, card numbers, SSNs, medical record numbers,
// dates of birth and phone numbers with markers.
func RedactPII(input string) (string, bool) {
	out := input
	for _, rule := range redactionRules {
		out = rule.pattern.ReplaceAllString(out, rule.marker)
	}
	return out, out != input
}

// Preview redacts text and truncates it to PreviewRunes.
func Preview(text string) string {
	out, _ := RedactPII(strings.TrimSpace(text))
	if utf8.RuneCountInString(out) <= PreviewRunes {
		return out
	}
	return string([]rune(out)[:PreviewRunes]) + "..."
}

// MaskPhone keeps the country prefix and last four digits of a caller number.
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) <= 6 {
		return strings.Repeat("*", len(phone))
	}
	head := 2
	if strings.HasPrefix(phone, "+") {
		head = 3
	}
	return phone[:head] + strings.Repeat("*", len(phone)-head-4) + phone[len(phone)-4:]
}
