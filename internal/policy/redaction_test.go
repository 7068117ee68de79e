package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPII(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		markers []string
		gone    []string
	}{
		{
			name:    "contact details and card",
			in:      "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242.",
			markers: []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"},
			gone:    []string{"sam@example.com", "4242"},
		},
		{
			name:    "date of birth",
			in:      "My date of birth is 04/12/1985 and I need a cleaning",
			markers: []string{"[REDACTED_DATE]"},
			gone:    []string{"1985"},
		},
		{
			name:    "social security number",
			in:      "my social is 123-45-6789",
			markers: []string{"[REDACTED_SSN]"},
			gone:    []string{"6789"},
		},
		{
			name:    "medical record number",
			in:      "My MRN is A1234567, can you check my results?",
			markers: []string{"[REDACTED_MRN]"},
			gone:    []string{"A1234567"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, changed := RedactPII(tc.in)
			assert.True(t, changed)
			for _, m := range tc.markers {
				assert.Contains(t, out, m)
			}
			for _, g := range tc.gone {
				assert.NotContains(t, out, g)
			}
		})
	}
}

func TestRedactPIILeavesPlainSpeech(t *testing.T) {
	for _, in := range []string{
		"I need to book an appointment for tomorrow",
		"Is the medical record office open at 9?",
	} {
		out, changed := RedactPII(in)
		assert.False(t, changed, in)
		assert.Equal(t, in, out)
	}
}

func TestPreviewTruncates(t *testing.T) {
	assert.Equal(t, strings.Repeat("a", PreviewRunes)+"...", Preview(strings.Repeat("a", 80)))
	assert.Equal(t, "call me at [REDACTED_PHONE]", Preview("  call me at +1 555 123 9876  "))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+15*****0123", MaskPhone("+15555550123"))
	assert.Equal(t, "****", MaskPhone("1234"))
}
