package domain

import (
	"strconv"
	"time"
)

// MessageID identifies a stored anonymous message. Zero means "none".
type MessageID int64

// String returns the decimal form of the id.
func (id MessageID) String() string { return strconv.FormatInt(int64(id), 10) }

// Message is a stored anonymous message. Only Read ever changes after creation.
type Message struct {
	ID           MessageID `json:"id"`
	RecipientID  UserID    `json:"recipientId"`
	SenderID     UserID    `json:"senderId"`
	SenderName   string    `json:"senderName"`
	SenderHandle string    `json:"senderHandle,omitempty"`
	Body         string    `json:"body,omitempty"`
	MediaRef     string    `json:"mediaRef,omitempty"`
	SentAt       time.Time `json:"sentAt"`
	Read         bool      `json:"read"`
	ReplyTo      MessageID `json:"replyTo,omitempty"`
}

// NewMessage carries the fields supplied when appending a message.
// SenderName and SenderHandle are a snapshot taken at send time.
type NewMessage struct {
	RecipientID  UserID
	SenderID     UserID
	SenderName   string
	SenderHandle string
	Body         string
	MediaRef     string
	ReplyTo      MessageID
}
