package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	replyRoleLabel = regexp.MustCompile(`(?i)^\s*(assistant|ai|receptionist)\s*:\s*`)
	markdownLink   = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	bareURL        = regexp.MustCompile(`https?://\S+`)
)

type runeAction int

const (
	keepRune runeAction = iota
	gapRune
	dropRune
)

// SpeakableText rewrites a generated reply into plain words for synthesis.
// Appointment dates (3/14), times (10:30) and phone numbers (+1-555-0100)
// survive; markup, links and emoji do not.
func SpeakableText(raw string) string {
	raw = replyRoleLabel.ReplaceAllString(strings.TrimSpace(raw), "")
	raw = markdownLink.ReplaceAllString(raw, "$1")
	raw = bareURL.ReplaceAllString(raw, " ")

	runes := []rune(raw)
	var b strings.Builder
	b.Grow(len(raw))
	gap := false
	for i, r := range runes {
		var prev, next rune
		if i > 0 {
			prev = runes[i-1]
		}
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		switch classifySpeechRune(r, prev, next) {
		case gapRune:
			gap = true
		case keepRune:
			if gap && b.Len() > 0 {
				b.WriteByte(' ')
			}
			gap = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

func classifySpeechRune(r, prev, next rune) runeAction {
	switch {
	case r == '/':
		if unicode.IsDigit(prev) && unicode.IsDigit(next) {
			return keepRune
		}
		return gapRune
	case r == '+':
		if unicode.IsDigit(next) {
			return keepRune
		}
		return gapRune
	case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		return dropRune
	case unicode.IsSpace(r):
		return gapRune
	case unicode.In(r, unicode.Cc, unicode.Cf):
		return dropRune
	case strings.ContainsRune(".,!?:;'\"-()", r):
		return keepRune
	case unicode.IsPunct(r), unicode.IsSymbol(r):
		return gapRune
	}
	return keepRune
}
