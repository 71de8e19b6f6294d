// Package protocol defines the bus message shapes the gateway publishes so
// other services on the NATS fabric can observe voice traffic.
package protocol

import "time"

// Transcript is published after speech recognition finishes for a session.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

// Reply is published after the conversation backend answers a prompt.
type Reply struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Degraded  bool      `json:"degraded,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestLifecycle announces a voice request status change. Transcript and
// Error mirror the result snapshot: set only in the matching terminal state.
type RequestLifecycle struct {
	RequestID  string    `json:"request_id"`
	Status     string    `json:"status"`
	Language   string    `json:"language,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptFinal  = "voice.transcript.final"
	SubjectReplyFinal       = "voice.reply.final"
	SubjectRequestLifecycle = "voice.request.lifecycle"
)
