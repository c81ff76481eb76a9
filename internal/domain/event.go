package domain

import (
	"strconv"
	"strings"
	"time"
)

// EventKind discriminates inbound events.
type EventKind string

const (
	EventEntry   EventKind = "entry"   // start command, optional link argument
	EventContent EventKind = "content" // text and/or media
	EventAction  EventKind = "action"  // button press
)

// InboundEvent is a transport event addressed to the relay.
type InboundEvent struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	Kind      EventKind `json:"kind"`
	From      Profile   `json:"from"`
	Timestamp time.Time `json:"timestamp"`

	// Entry
	Arg string `json:"arg,omitempty"`

	// Content
	Text     string `json:"text,omitempty"`
	MediaRef string `json:"mediaRef,omitempty"`

	// Action
	Action Action `json:"action,omitempty"`

	// CallbackID lets the transport acknowledge a button press.
	CallbackID string `json:"callbackId,omitempty"`
}

// ActionKind names a button the relay can present.
type ActionKind string

const (
	ActionMyMessages    ActionKind = "my_messages"
	ActionRead          ActionKind = "read"
	ActionReply         ActionKind = "reply"
	ActionQuickReply    ActionKind = "quick_reply"
	ActionMyLink        ActionKind = "my_link"
	ActionHelp          ActionKind = "help"
	ActionMenu          ActionKind = "menu"
	ActionAdminPanel    ActionKind = "admin_panel"
	ActionAdminUsers    ActionKind = "admin_users"
	ActionAdminMessages ActionKind = "admin_messages"
)

// OperatorOnly reports whether the action requires operator rights.
func (k ActionKind) OperatorOnly() bool {
	switch k {
	case ActionAdminPanel, ActionAdminUsers, ActionAdminMessages:
		return true
	}
	return false
}

// targeted reports whether the action addresses a specific message.
func (k ActionKind) targeted() bool {
	switch k {
	case ActionRead, ActionReply, ActionQuickReply:
		return true
	}
	return false
}

// Action is a button selection, addressed to a message or a menu section.
type Action struct {
	Kind      ActionKind `json:"kind"`
	MessageID MessageID  `json:"messageId,omitempty"`
}

// Encode renders the action as compact callback data ("read:12", "help").
func (a Action) Encode() string {
	if a.Kind.targeted() {
		return string(a.Kind) + ":" + a.MessageID.String()
	}
	return string(a.Kind)
}

// ParseAction decodes callback data produced by Encode.
func ParseAction(data string) (Action, bool) {
	kind, arg, hasArg := strings.Cut(data, ":")
	a := Action{Kind: ActionKind(kind)}
	switch a.Kind {
	case ActionRead, ActionReply, ActionQuickReply:
		if !hasArg {
			return Action{}, false
		}
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return Action{}, false
		}
		a.MessageID = MessageID(id)
		return a, true
	case ActionMyMessages, ActionMyLink, ActionHelp, ActionMenu,
		ActionAdminPanel, ActionAdminUsers, ActionAdminMessages:
		if hasArg {
			return Action{}, false
		}
		return a, true
	}
	return Action{}, false
}

// Button is a labeled action attached to an outbound message.
type Button struct {
	Label  string `json:"label"`
	Action Action `json:"action"`
}

// OutboundMessage is a notification delivered to a user through a channel.
// When MediaRef is set, Text is sent as the media caption.
type OutboundMessage struct {
	ChannelID string     `json:"channelId"`
	To        UserID     `json:"to"`
	Text      string     `json:"text"`
	MediaRef  string     `json:"mediaRef,omitempty"`
	Buttons   [][]Button `json:"buttons,omitempty"`
}
