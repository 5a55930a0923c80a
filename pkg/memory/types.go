package memory

import "time"

// Turn is one message of a stored conversation.
type Turn struct {
	// Role is "user" or "assistant".
	Role string

	// Content is the message text as sent to or received from the model.
	Content string

	// CreatedAt is when the turn was recorded.
	CreatedAt time.Time
}
