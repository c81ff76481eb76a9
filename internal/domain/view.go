package domain

import "time"

// MessageView is the projection of a Message for a particular viewer.
// It is either a BasicView (ordinary recipient) or an OperatorView.
type MessageView interface {
	Basic() BasicView
	messageView()
}

// BasicView is what an ordinary recipient sees. It has no sender fields.
type BasicView struct {
	ID       MessageID `json:"id"`
	Body     string    `json:"body,omitempty"`
	MediaRef string    `json:"mediaRef,omitempty"`
	SentAt   time.Time `json:"sentAt"`
	Read     bool      `json:"read"`
	ReplyTo  MessageID `json:"replyTo,omitempty"`
}

// Basic returns the view itself.
func (v BasicView) Basic() BasicView { return v }

func (BasicView) messageView() {}

// OperatorView adds the identities of both parties.
type OperatorView struct {
	BasicView
	SenderID     UserID `json:"senderId"`
	SenderName   string `json:"senderName"`
	SenderHandle string `json:"senderHandle,omitempty"`
	RecipientID  UserID `json:"recipientId"`
}

// Basic returns the sender-free part of the view.
func (v OperatorView) Basic() BasicView { return v.BasicView }

func (OperatorView) messageView() {}

// Project is the single place where a stored message becomes visible to a
// viewer. Sender fields only reach operators.
func Project(m Message, viewerIsOperator bool) MessageView {
	basic := BasicView{
		ID:       m.ID,
		Body:     m.Body,
		MediaRef: m.MediaRef,
		SentAt:   m.SentAt,
		Read:     m.Read,
		ReplyTo:  m.ReplyTo,
	}
	if !viewerIsOperator {
		return basic
	}
	return OperatorView{
		BasicView:    basic,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		SenderHandle: m.SenderHandle,
		RecipientID:  m.RecipientID,
	}
}

// AdminMessageView is the unrestricted audit projection. Sender names come
// from the per-message snapshot; recipient names are joined from the users
// table when the view is read.
type AdminMessageView struct {
	ID              MessageID `json:"id"`
	SenderID        UserID    `json:"senderId"`
	SenderName      string    `json:"senderName"`
	SenderHandle    string    `json:"senderHandle,omitempty"`
	RecipientID     UserID    `json:"recipientId"`
	RecipientName   string    `json:"recipientName,omitempty"`
	RecipientHandle string    `json:"recipientHandle,omitempty"`
	Body            string    `json:"body,omitempty"`
	MediaRef        string    `json:"mediaRef,omitempty"`
	SentAt          time.Time `json:"sentAt"`
	Read            bool      `json:"read"`
}
