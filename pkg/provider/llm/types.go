package llm

import "unicode/utf8"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// EstimateTokens approximates the token count of text at four characters per
// token, rounded up. French prose tokenises slightly worse than English, so
// this errs on the high side for the local Mistral models the bot targets.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// EstimateMessages sums EstimateTokens over messages, adding a small
// per-message overhead for role and formatting tokens.
func EstimateMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}
