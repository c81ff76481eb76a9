package domain

import "fmt"

// StateKind classifies a sender's pending conversation action.
type StateKind string

const (
	StateIdle               StateKind = "idle"
	StateAwaitingNewMessage StateKind = "awaiting_new_message"
	StateAwaitingReply      StateKind = "awaiting_reply"
)

// ConversationState is the ephemeral per-sender state. The zero value is Idle.
type ConversationState struct {
	Kind StateKind `json:"kind,omitempty"`

	// AwaitingNewMessage
	Recipient UserID `json:"recipient,omitempty"`

	// AwaitingReply
	ThreadMessageID MessageID `json:"threadMessageId,omitempty"`
	ThreadOwnerID   UserID    `json:"threadOwnerId,omitempty"`
}

// Idle returns the state with no pending action.
func Idle() ConversationState { return ConversationState{Kind: StateIdle} }

// AwaitingNewMessage returns the state in which the next content becomes a
// new message to recipient.
func AwaitingNewMessage(recipient UserID) ConversationState {
	return ConversationState{Kind: StateAwaitingNewMessage, Recipient: recipient}
}

// AwaitingReply returns the state in which the next content becomes a reply
// to messageID, addressed to owner.
func AwaitingReply(messageID MessageID, owner UserID) ConversationState {
	return ConversationState{Kind: StateAwaitingReply, ThreadMessageID: messageID, ThreadOwnerID: owner}
}

// IsIdle reports whether no action is pending.
func (s ConversationState) IsIdle() bool {
	return s.Kind == "" || s.Kind == StateIdle
}

func (s ConversationState) String() string {
	switch s.Kind {
	case StateAwaitingNewMessage:
		return fmt.Sprintf("AwaitingNewMessage{%d}", s.Recipient)
	case StateAwaitingReply:
		return fmt.Sprintf("AwaitingReply{%d,%d}", s.ThreadMessageID, s.ThreadOwnerID)
	default:
		return "Idle"
	}
}
