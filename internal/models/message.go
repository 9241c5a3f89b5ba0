package models

import "time"

// MessageKind is the content type of a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindVoice MessageKind = "voice"
)

// Valid reports whether k is a supported kind.
func (k MessageKind) Valid() bool {
	return k == KindText || k == KindVoice
}

// Message is a delivered chat message. Messages are never mutated after
// they are persisted.
type Message struct {
	ID             string      `json:"id"` // ULID
	Content        string      `json:"content"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName,omitempty"`
	RecipientID    string      `json:"recipientId"`
	ConversationID string      `json:"conversationId,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Kind           MessageKind `json:"type"`
	SafetyChecked  bool        `json:"safetyChecked"`
	IsBot          bool        `json:"isBot,omitempty"`
	AudioURL       string      `json:"audioUrl,omitempty"`
	Duration       float64     `json:"duration,omitempty"` // seconds
}
