package relay

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/soyeahso/anonrelay/internal/domain"
)

// Rendering is plain text; user content is never parsed as markup.

// Telegram's sendMessage and caption limits, used when the channel reports none.
const (
	defaultMaxText    = 4096
	defaultMaxCaption = 1024
)

const (
	textComposePrompt = "Write your anonymous message. You can send text or a photo with a caption.\n\nThe recipient will not see who you are."
	textSent          = "Message sent!"
	textReplySent     = "Reply sent!"
	textNoMessages    = "You have no messages yet."
	textInboxHeader   = "Your messages:"
	textChooseAction  = "Choose an action:"
	textMenu          = "Main menu"
	textNoCaption     = "No caption"
	textRestart       = "Send /start to begin again."

	textHelp = "How it works:\n\n" +
		"1. Open \"My link\" and share your personal link.\n" +
		"2. Anyone who follows it can write to you without revealing who they are.\n" +
		"3. New messages arrive here with a Reply button, so you can answer anonymously too.\n\n" +
		"Text and photos are supported."
)

const timeLayout = "2006-01-02 15:04"

// apology maps an outcome to a terse user-facing message without internals.
func apology(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidLink):
		return "This link is invalid. " + textRestart
	case errors.Is(err, domain.ErrSelfLink):
		return "This is your own link. Share it with others so they can write to you."
	case errors.Is(err, domain.ErrNoPendingAction):
		return "There is nothing to send right now. Open someone's link or press Reply first. " + textRestart
	case errors.Is(err, domain.ErrNotFound):
		return "Could not load that message. " + textRestart
	case errors.Is(err, domain.ErrDirectoryExhausted):
		return "Could not create your link right now. Please try again later."
	default:
		return "Something went wrong. Please try again later. " + textRestart
	}
}

func button(label string, kind domain.ActionKind, id domain.MessageID) domain.Button {
	return domain.Button{Label: label, Action: domain.Action{Kind: kind, MessageID: id}}
}

func mainMenu(isOp bool) [][]domain.Button {
	rows := [][]domain.Button{
		{button("My messages", domain.ActionMyMessages, 0)},
		{button("My link", domain.ActionMyLink, 0)},
		{button("Help", domain.ActionHelp, 0)},
	}
	if isOp {
		rows = append(rows, []domain.Button{button("Operator panel", domain.ActionAdminPanel, 0)})
	}
	return rows
}

func backToMenu() [][]domain.Button {
	return [][]domain.Button{{button("Back to menu", domain.ActionMenu, 0)}}
}

func dashboardMenu() [][]domain.Button {
	return [][]domain.Button{
		{button("Users", domain.ActionAdminUsers, 0)},
		{button("All messages", domain.ActionAdminMessages, 0)},
		{button("Back to menu", domain.ActionMenu, 0)},
	}
}

func backToDashboard() [][]domain.Button {
	return [][]domain.Button{{button("Back to panel", domain.ActionAdminPanel, 0)}}
}

func renderWelcome(link string, unread int, isOp bool) string {
	var b strings.Builder
	b.WriteString("Welcome to the anonymous relay!\n\n")
	b.WriteString("Your personal link:\n")
	b.WriteString(link)
	b.WriteString("\n\nShare it and anyone can write to you without revealing who they are.")
	fmt.Fprintf(&b, "\n\nUnread messages: %d", unread)
	if isOp {
		b.WriteString("\n\nYou are an operator.")
	}
	return b.String()
}

func renderLink(link string, unread int) string {
	return fmt.Sprintf("Your personal link:\n%s\n\nUnread messages: %d", link, unread)
}

func renderReplyPrompt(id domain.MessageID) string {
	return fmt.Sprintf("Reply to message #%d\n\nWrite your reply. It will be delivered anonymously.", id)
}

// preview truncates s to n runes, marking the cut with "...".
func preview(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// clip cuts s to at most n runes in total, ellipsis included.
func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// renderNotification builds the message delivered to the recipient of a
// newly stored message. It never names the sender.
func renderNotification(id domain.MessageID, m domain.NewMessage, unread, previewLen int) domain.OutboundMessage {
	var b strings.Builder
	switch {
	case m.ReplyTo != 0 && m.MediaRef != "":
		fmt.Fprintf(&b, "New anonymous photo in reply to message #%d!", m.ReplyTo)
	case m.ReplyTo != 0:
		fmt.Fprintf(&b, "New anonymous reply to message #%d!", m.ReplyTo)
	case m.MediaRef != "":
		b.WriteString("New anonymous photo!")
	default:
		b.WriteString("New anonymous message!")
	}

	body := preview(m.Body, previewLen)
	if m.MediaRef != "" && body == "" {
		body = textNoCaption
	}
	if body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	if unread >= 0 {
		fmt.Fprintf(&b, "\n\nUnread messages: %d", unread)
	}

	return domain.OutboundMessage{
		To:       m.RecipientID,
		Text:     b.String(),
		MediaRef: m.MediaRef,
		Buttons:  [][]domain.Button{{button("Reply", domain.ActionQuickReply, id)}},
	}
}

func readMark(read bool) string {
	if read {
		return "Read"
	}
	return "Unread"
}

// senderLine names the sender for operator views.
func senderLine(name, handle string, id domain.UserID) string {
	if handle != "" {
		return fmt.Sprintf("%s (@%s, id %d)", name, handle, id)
	}
	return fmt.Sprintf("%s (id %d)", name, id)
}

// header renders the metadata block. Sender details appear only when the
// view is an OperatorView.
func header(v domain.MessageView) string {
	basic := v.Basic()
	var b strings.Builder
	fmt.Fprintf(&b, "Message #%d", basic.ID)
	if basic.ReplyTo != 0 {
		fmt.Fprintf(&b, " (reply to #%d)", basic.ReplyTo)
	}
	if ov, ok := v.(domain.OperatorView); ok {
		b.WriteString("\nFrom: ")
		b.WriteString(senderLine(ov.SenderName, ov.SenderHandle, ov.SenderID))
		fmt.Fprintf(&b, "\nTo: id %d", ov.RecipientID)
	}
	fmt.Fprintf(&b, "\n%s\n%s", basic.SentAt.UTC().Format(timeLayout), readMark(basic.Read))
	return b.String()
}

func renderInboxEntry(v domain.MessageView, previewLen int) domain.OutboundMessage {
	basic := v.Basic()
	content := preview(basic.Body, previewLen)
	if basic.MediaRef != "" {
		content = "[Photo] " + content
	}
	return domain.OutboundMessage{
		Text: header(v) + "\n\n" + content,
		Buttons: [][]domain.Button{{
			button("Read", domain.ActionRead, basic.ID),
			button("Reply", domain.ActionReply, basic.ID),
		}},
	}
}

// renderOpened shows one message in full. When the header and content do
// not fit one message under limits, the content goes out alone first and
// the header follows with the buttons.
func renderOpened(v domain.MessageView, limits domain.ChannelCapabilities) []domain.OutboundMessage {
	basic := v.Basic()
	body := basic.Body
	if basic.MediaRef != "" && body == "" {
		body = textNoCaption
	}
	buttons := [][]domain.Button{
		{button("Reply", domain.ActionReply, basic.ID)},
		{button("Back to messages", domain.ActionMyMessages, 0)},
	}

	limit := limits.MaxText
	if basic.MediaRef != "" {
		limit = limits.MaxCaption
	}
	head := header(v)
	text := head + "\n\n" + body
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []domain.OutboundMessage{{Text: text, MediaRef: basic.MediaRef, Buttons: buttons}}
	}
	return []domain.OutboundMessage{
		{Text: clip(body, limit), MediaRef: basic.MediaRef},
		{Text: head, Buttons: buttons},
	}
}

func renderDashboard(users, recentMessages int) string {
	return fmt.Sprintf("Operator panel\n\nUsers: %d\nRecent messages: %d", users, recentMessages)
}

func renderUserList(users []domain.User, total int, allowList map[domain.UserID]bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Users (%d total):\n", total)
	for _, u := range users {
		role := "user"
		if u.IsOperator || allowList[u.ID] {
			role = "operator"
		}
		fmt.Fprintf(&b, "\n%s\njoined %s, %s", senderLine(u.DisplayName, u.Handle, u.ID),
			u.JoinedAt.UTC().Format(time.DateOnly), role)
	}
	if len(users) < total {
		fmt.Fprintf(&b, "\n\n... and %d more", total-len(users))
	}
	return b.String()
}

func renderAdminMessages(views []domain.AdminMessageView, previewLen int) string {
	if len(views) == 0 {
		return "No messages yet."
	}
	var b strings.Builder
	b.WriteString("Recent messages:\n")
	for _, v := range views {
		recipient := v.RecipientName
		if recipient == "" {
			recipient = "unknown"
		}
		content := preview(v.Body, previewLen)
		if v.MediaRef != "" {
			content = "[Photo] " + content
		}
		fmt.Fprintf(&b, "\n#%d %s\nFrom: %s\nTo: %s\n%s, %s\n",
			v.ID, v.SentAt.UTC().Format(timeLayout),
			senderLine(v.SenderName, v.SenderHandle, v.SenderID),
			senderLine(recipient, v.RecipientHandle, v.RecipientID),
			readMark(v.Read), content)
	}
	return strings.TrimRight(b.String(), "\n")
}
