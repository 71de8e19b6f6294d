// Package agent provides the conversational backend capability: exchange one
// prompt for one reply, given the conversation so far.
package agent

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Exchanger performs one prompt/reply exchange with a conversational
// backend. Implementations may ignore history when the backend keeps its own
// state across calls.
type Exchanger interface {
	Exchange(ctx context.Context, prompt string, history []Turn) (string, error)
}
