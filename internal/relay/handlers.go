package relay

import (
	"context"
	"errors"

	"github.com/soyeahso/anonrelay/internal/directory"
	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/hooks"
)

func (r *Relay) handleEntry(ctx context.Context, ev domain.InboundEvent) error {
	if ev.Arg == "" {
		return r.welcome(ctx, ev)
	}

	owner, ok, err := r.dir.Resolve(ctx, ev.Arg)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	if !ok {
		return r.fail(ctx, ev, domain.ErrInvalidLink)
	}
	if owner == ev.From.ID {
		return r.fail(ctx, ev, domain.ErrSelfLink)
	}

	r.states.EnterAwaitingNewMessage(ev.From.ID, owner)
	r.reply(ctx, ev, domain.OutboundMessage{Text: textComposePrompt})
	return nil
}

// welcome registers the caller and shows their link and the main menu.
func (r *Relay) welcome(ctx context.Context, ev domain.InboundEvent) error {
	reg, err := r.register(ctx, ev)
	if err != nil {
		return r.fail(ctx, ev, err)
	}

	isOp := reg.User.IsOperator
	if r.operators[ev.From.ID] && !isOp {
		if err := r.users.PromoteOperator(ctx, ev.From.ID); err != nil {
			return r.fail(ctx, ev, err)
		}
		isOp = true
		r.log.Info().Str("user", ev.From.ID.String()).Msg("operator promoted")
	}

	unread, err := r.messages.UnreadCount(ctx, ev.From.ID)
	if err != nil {
		return r.fail(ctx, ev, err)
	}

	r.reply(ctx, ev, domain.OutboundMessage{
		Text:    renderWelcome(r.linkFor(reg.Token), unread, isOp),
		Buttons: mainMenu(isOp),
	})
	return nil
}

// register wraps Directory.Register with first-contact and exhaustion side effects.
func (r *Relay) register(ctx context.Context, ev domain.InboundEvent) (reg directory.Registration, err error) {
	reg, err = r.dir.Register(ctx, ev.From)
	if errors.Is(err, domain.ErrDirectoryExhausted) {
		r.metrics.DirectoryExhausted()
		r.log.Error().
			Err(err).
			Bool("alarm", true).
			Str("user", ev.From.ID.String()).
			Msg("link directory exhausted")
		r.emit(ctx, hooks.EventDirectoryExhausted, map[string]any{"userId": int64(ev.From.ID)})
		return reg, err
	}
	if err != nil {
		return reg, err
	}
	if reg.Created {
		r.metrics.Registered()
		r.log.Info().Str("user", ev.From.ID.String()).Msg("user registered")
		r.emit(ctx, hooks.EventUserRegistered, map[string]any{"userId": int64(ev.From.ID)})
	}
	return reg, nil
}

func (r *Relay) handleContent(ctx context.Context, ev domain.InboundEvent) error {
	st := r.states.Take(ev.From.ID)

	msg := domain.NewMessage{
		SenderID:     ev.From.ID,
		SenderName:   ev.From.DisplayName,
		SenderHandle: ev.From.Handle,
		Body:         ev.Text,
		MediaRef:     ev.MediaRef,
	}
	switch st.Kind {
	case domain.StateAwaitingNewMessage:
		msg.RecipientID = st.Recipient
	case domain.StateAwaitingReply:
		msg.RecipientID = st.ThreadOwnerID
		msg.ReplyTo = st.ThreadMessageID
	default:
		return r.fail(ctx, ev, domain.ErrNoPendingAction)
	}

	id, err := r.messages.Append(ctx, msg)
	if err != nil {
		return r.fail(ctx, ev, err)
	}

	isReply := msg.ReplyTo != 0
	r.metrics.Relayed(isReply)
	r.log.Info().
		Int64("message", int64(id)).
		Bool("reply", isReply).
		Bool("media", msg.MediaRef != "").
		Msg("message relayed")

	confirm := textSent
	if isReply {
		confirm = textReplySent
	}
	r.reply(ctx, ev, domain.OutboundMessage{Text: confirm, Buttons: backToMenu()})

	unread, err := r.messages.UnreadCount(ctx, msg.RecipientID)
	if err != nil {
		r.log.Warn().Err(err).Msg("unread count for notification")
		unread = -1
	}
	r.notify(ctx, ev, renderNotification(id, msg, unread, r.opts.PreviewLength), id)

	r.emit(ctx, hooks.EventMessageRelayed, map[string]any{
		"messageId":   int64(id),
		"recipientId": int64(msg.RecipientID),
		"senderId":    int64(msg.SenderID),
		"replyTo":     int64(msg.ReplyTo),
		"media":       msg.MediaRef != "",
	})
	return nil
}

func (r *Relay) handleAction(ctx context.Context, ev domain.InboundEvent) error {
	kind := ev.Action.Kind

	isOp, err := r.isOperator(ctx, ev.From.ID)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	if kind.OperatorOnly() && !isOp {
		r.metrics.Unauthorized()
		r.log.Debug().
			Str("user", ev.From.ID.String()).
			Str("action", string(kind)).
			Msg("operator action dropped")
		return domain.ErrUnauthorized
	}

	switch kind {
	case domain.ActionMyMessages:
		return r.showInbox(ctx, ev, isOp)
	case domain.ActionRead:
		return r.openMessage(ctx, ev, isOp)
	case domain.ActionReply, domain.ActionQuickReply:
		return r.beginReply(ctx, ev, isOp)
	case domain.ActionMyLink:
		return r.showLink(ctx, ev)
	case domain.ActionHelp:
		r.reply(ctx, ev, domain.OutboundMessage{Text: textHelp, Buttons: backToMenu()})
		return nil
	case domain.ActionMenu:
		r.reply(ctx, ev, domain.OutboundMessage{Text: textMenu, Buttons: mainMenu(isOp)})
		return nil
	case domain.ActionAdminPanel:
		return r.showDashboard(ctx, ev)
	case domain.ActionAdminUsers:
		return r.showUsers(ctx, ev)
	case domain.ActionAdminMessages:
		return r.showAllMessages(ctx, ev)
	}
	return r.fail(ctx, ev, domain.ErrNotFound)
}

func (r *Relay) showInbox(ctx context.Context, ev domain.InboundEvent, isOp bool) error {
	views, err := r.messages.ListFor(ctx, ev.From.ID, isOp)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	if len(views) == 0 {
		r.reply(ctx, ev, domain.OutboundMessage{Text: textNoMessages, Buttons: backToMenu()})
		return nil
	}

	r.reply(ctx, ev, domain.OutboundMessage{Text: textInboxHeader})
	for _, v := range views {
		r.reply(ctx, ev, renderInboxEntry(v, r.opts.PreviewLength))
	}
	r.reply(ctx, ev, domain.OutboundMessage{Text: textChooseAction, Buttons: backToMenu()})
	return nil
}

// visibleRecord loads the message an action targets. Non-operators only
// see messages addressed to them; anything else is not found.
func (r *Relay) visibleRecord(ctx context.Context, ev domain.InboundEvent, isOp bool) (domain.Message, error) {
	rec, err := r.messages.Record(ctx, ev.Action.MessageID)
	if err != nil {
		return domain.Message{}, err
	}
	if !isOp && rec.RecipientID != ev.From.ID {
		return domain.Message{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *Relay) openMessage(ctx context.Context, ev domain.InboundEvent, isOp bool) error {
	rec, err := r.visibleRecord(ctx, ev, isOp)
	if err != nil {
		return r.fail(ctx, ev, err)
	}

	// Opening marks read only for the recipient, not an auditing operator.
	if rec.RecipientID == ev.From.ID && !rec.Read {
		if err := r.messages.MarkRead(ctx, rec.ID); err != nil {
			return r.fail(ctx, ev, err)
		}
		rec.Read = true
	}

	for _, msg := range renderOpened(domain.Project(rec, isOp), r.opts.Limits) {
		r.reply(ctx, ev, msg)
	}
	return nil
}

func (r *Relay) beginReply(ctx context.Context, ev domain.InboundEvent, isOp bool) error {
	rec, err := r.visibleRecord(ctx, ev, isOp)
	if err != nil {
		return r.fail(ctx, ev, err)
	}

	r.states.EnterAwaitingReply(ev.From.ID, rec.ID, rec.SenderID)
	r.reply(ctx, ev, domain.OutboundMessage{Text: renderReplyPrompt(rec.ID)})
	return nil
}

func (r *Relay) showLink(ctx context.Context, ev domain.InboundEvent) error {
	reg, err := r.register(ctx, ev)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	unread, err := r.messages.UnreadCount(ctx, ev.From.ID)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	r.reply(ctx, ev, domain.OutboundMessage{
		Text:    renderLink(r.linkFor(reg.Token), unread),
		Buttons: backToMenu(),
	})
	return nil
}

func (r *Relay) showDashboard(ctx context.Context, ev domain.InboundEvent) error {
	users, err := r.users.Count(ctx)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	recent, err := r.messages.ListAdmin(ctx, r.opts.DashboardLimit)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	r.reply(ctx, ev, domain.OutboundMessage{
		Text:    renderDashboard(users, len(recent)),
		Buttons: dashboardMenu(),
	})
	return nil
}

func (r *Relay) showUsers(ctx context.Context, ev domain.InboundEvent) error {
	total, err := r.users.Count(ctx)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	users, err := r.users.List(ctx, r.opts.UserListLimit)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	r.reply(ctx, ev, domain.OutboundMessage{
		Text:    renderUserList(users, total, r.operators),
		Buttons: backToDashboard(),
	})
	return nil
}

func (r *Relay) showAllMessages(ctx context.Context, ev domain.InboundEvent) error {
	views, err := r.messages.ListAdmin(ctx, r.opts.AdminListLimit)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	if len(views) > r.opts.UserListLimit {
		views = views[:r.opts.UserListLimit]
	}
	r.reply(ctx, ev, domain.OutboundMessage{
		Text:    renderAdminMessages(views, r.opts.PreviewLength),
		Buttons: backToDashboard(),
	})
	return nil
}

func (r *Relay) linkFor(token string) string {
	if r.opts.BotUsername == "" {
		return token
	}
	return "https://t.me/" + r.opts.BotUsername + "?start=" + token
}
