package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage() Message {
	return Message{
		ID:           7,
		RecipientID:  100,
		SenderID:     200,
		SenderName:   "Vera",
		SenderHandle: "vera",
		Body:         "hello",
		MediaRef:     "file-1",
		SentAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ReplyTo:      3,
	}
}

// --- Projection tests ---

func TestProject_NonOperatorHasNoSenderFields(t *testing.T) {
	v := Project(sampleMessage(), false)

	basic, ok := v.(BasicView)
	require.True(t, ok, "non-operator projection must be a BasicView, got %T", v)
	assert.Equal(t, MessageID(7), basic.ID)
	assert.Equal(t, "hello", basic.Body)
	assert.Equal(t, "file-1", basic.MediaRef)
	assert.Equal(t, MessageID(3), basic.ReplyTo)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	raw := string(data)
	assert.NotContains(t, raw, "sender")
	assert.NotContains(t, raw, "Vera")
	assert.NotContains(t, raw, "200")
	assert.NotContains(t, raw, "recipient")
}

func TestProject_OperatorSeesBothParties(t *testing.T) {
	v := Project(sampleMessage(), true)

	op, ok := v.(OperatorView)
	require.True(t, ok, "operator projection must be an OperatorView, got %T", v)
	assert.Equal(t, UserID(200), op.SenderID)
	assert.Equal(t, "Vera", op.SenderName)
	assert.Equal(t, "vera", op.SenderHandle)
	assert.Equal(t, UserID(100), op.RecipientID)
	assert.Equal(t, Project(sampleMessage(), false), op.Basic())
}

func TestProject_ReadFlagCarried(t *testing.T) {
	m := sampleMessage()
	m.Read = true
	assert.True(t, Project(m, false).Basic().Read)
	assert.True(t, Project(m, true).Basic().Read)
}

// --- Action tests ---

func TestActionEncodeParse(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		data   string
	}{
		{"read", Action{Kind: ActionRead, MessageID: 12}, "read:12"},
		{"reply", Action{Kind: ActionReply, MessageID: 5}, "reply:5"},
		{"quick reply", Action{Kind: ActionQuickReply, MessageID: 99}, "quick_reply:99"},
		{"menu", Action{Kind: ActionMenu}, "menu"},
		{"help", Action{Kind: ActionHelp}, "help"},
		{"admin panel", Action{Kind: ActionAdminPanel}, "admin_panel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.data, tt.action.Encode())
			got, ok := ParseAction(tt.data)
			require.True(t, ok)
			assert.Equal(t, tt.action, got)
		})
	}
}

func TestParseAction_Rejects(t *testing.T) {
	for _, data := range []string{
		"", "read", "read:", "read:abc", "read:-1", "read:0",
		"help:3", "unknown", "admin_users:1", "reply:1:2",
	} {
		_, ok := ParseAction(data)
		assert.False(t, ok, "expected %q to be rejected", data)
	}
}

func TestActionKind_OperatorOnly(t *testing.T) {
	assert.True(t, ActionAdminPanel.OperatorOnly())
	assert.True(t, ActionAdminUsers.OperatorOnly())
	assert.True(t, ActionAdminMessages.OperatorOnly())
	assert.False(t, ActionMyMessages.OperatorOnly())
	assert.False(t, ActionRead.OperatorOnly())
	assert.False(t, ActionHelp.OperatorOnly())
}

// --- ConversationState tests ---

func TestConversationState(t *testing.T) {
	assert.True(t, Idle().IsIdle())
	assert.True(t, ConversationState{}.IsIdle())
	assert.False(t, AwaitingNewMessage(1).IsIdle())
	assert.False(t, AwaitingReply(2, 3).IsIdle())

	assert.Equal(t, "Idle", Idle().String())
	assert.Equal(t, "AwaitingNewMessage{1}", AwaitingNewMessage(1).String())
	assert.Equal(t, "AwaitingReply{2,3}", AwaitingReply(2, 3).String())
}

// --- Misc ---

func TestIDStrings(t *testing.T) {
	assert.Equal(t, "42", UserID(42).String())
	assert.Equal(t, "7", MessageID(7).String())
}

func TestUserProfile(t *testing.T) {
	u := User{ID: 1, DisplayName: "Uma", Handle: "uma", LinkToken: "abcDEF12"}
	assert.Equal(t, Profile{ID: 1, DisplayName: "Uma", Handle: "uma"}, u.Profile())
}

func TestChannelStatusJSON_OmitsEmpty(t *testing.T) {
	data, err := json.Marshal(ChannelStatus{ChannelID: "telegram"})
	require.NoError(t, err)

	raw := string(data)
	assert.NotContains(t, raw, "mode")
	assert.NotContains(t, raw, "lastError")
}
