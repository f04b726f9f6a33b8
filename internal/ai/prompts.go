package ai

import (
	"fmt"
	"strings"
)

const (
	summarizeSystem = "You are a concise email assistant. Summarize the " +
		"given email in at most three sentences, focusing on what the " +
		"sender wants and any deadline or action item. Output only the summary."

	threadSystem = "You are a concise email assistant. Summarize the given " +
		"email conversation in at most five sentences: the topic, the " +
		"positions taken, and where it currently stands. Output only the summary."

	polishSystem = "You are an email writing assistant. Rewrite the given " +
		"draft so it is clear, polite, and well structured. Preserve the " +
		"meaning and any factual content. Output only the rewritten draft."
)

// summarizePrompt builds the user prompt for a single email.
func summarizePrompt(subject, body string) string {
	return fmt.Sprintf("Subject: %s\n\n%s", subject, body)
}

// threadPrompt builds the user prompt for a conversation. Each entry is
// one message, oldest first.
func threadPrompt(subject string, messages []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	for i, msg := range messages {
		fmt.Fprintf(&b, "\n--- Message %d ---\n%s\n", i+1, msg)
	}
	return b.String()
}
