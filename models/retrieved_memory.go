package models

import "time"

// RetrievedMemory is a past user turn matched against a new query, together
// with the assistant reply that followed it.
type RetrievedMemory struct {
	UserMessage    string    `json:"user_message"`
	AssistantReply *string   `json:"assistant_reply,omitempty"`
	Similarity     float64   `json:"similarity"`
	Timestamp      time.Time `json:"timestamp"`
}
