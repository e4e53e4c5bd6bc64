package model

import (
	"time"
)

// Role represents the role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation. Identity and role are fixed at
// creation; content is mutable until the reply that fills it completes.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SendMessageRequest is the request to send a new user message.
type SendMessageRequest struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// TokenEvent is a streaming token event on the send stream.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// MessageCompleteEvent marks the completed assistant message on the send stream.
type MessageCompleteEvent struct {
	Message Message `json:"message"`
}

// ErrorEvent reports a failure on the send stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
