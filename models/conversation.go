package models

import (
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is one turn of a dialogue. Only user turns carry an Embedding.
type Conversation struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	Embedding  *Embedding `json:"-"`
	IsLiked    *bool      `json:"isLiked,omitempty"`
	IsDisliked *bool      `json:"isDisliked,omitempty"`
}

// ChatMessage is the {role, content} pair sent as the messages field of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
