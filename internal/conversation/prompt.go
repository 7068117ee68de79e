package conversation

import "strings"

// SystemInstruction opens every turn prompt.
const SystemInstruction = `You are a helpful medical appointment booking assistant. Your role is to help patients schedule appointments.
You should:
1. Ask for appointment details (date, time, reason)
2. Confirm patient information
3. Provide clear next steps
4. Be professional but friendly
5. Maintain context from previous messages`

var (
	turnStop    = []string{"\n", "User:", "Assistant:"}
	summaryStop = []string{"\n"}
)

// TurnStop lists the markers at which a generated reply is cut.
func TurnStop() []string { return append([]string(nil), turnStop...) }

// SummaryStop lists the markers at which a generated summary is cut.
func SummaryStop() []string { return append([]string(nil), summaryStop...) }

// RenderTranscript writes turns as "Role: text" lines.
func RenderTranscript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// BuildPrompt renders the history under the system instruction and ends with
// an open Assistant line for the model to complete.
func BuildPrompt(history []Turn) string {
	var b strings.Builder
	b.WriteString(SystemInstruction)
	b.WriteString("\n\nPrevious conversation:\n")
	b.WriteString(RenderTranscript(history))
	b.WriteString("Assistant:")
	return b.String()
}
