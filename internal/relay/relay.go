// Package relay turns inbound transport events into directory lookups,
// conversation state changes, stored messages and outbound notifications.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/anonrelay/internal/directory"
	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/hooks"
	"github.com/soyeahso/anonrelay/internal/logging"
	"github.com/soyeahso/anonrelay/internal/metrics"
)

// Directory registers users and resolves link tokens.
type Directory interface {
	Register(ctx context.Context, p domain.Profile) (directory.Registration, error)
	Resolve(ctx context.Context, token string) (domain.UserID, bool, error)
}

// Users reads and promotes registered users.
type Users interface {
	Get(ctx context.Context, id domain.UserID) (domain.User, error)
	PromoteOperator(ctx context.Context, id domain.UserID) error
	List(ctx context.Context, limit int) ([]domain.User, error)
	Count(ctx context.Context) (int, error)
}

// Messages is the message store as seen by the orchestrator.
type Messages interface {
	Append(ctx context.Context, m domain.NewMessage) (domain.MessageID, error)
	MarkRead(ctx context.Context, id domain.MessageID) error
	UnreadCount(ctx context.Context, recipient domain.UserID) (int, error)
	ListFor(ctx context.Context, recipient domain.UserID, viewerIsOperator bool) ([]domain.MessageView, error)
	Get(ctx context.Context, id domain.MessageID, viewerIsOperator bool) (domain.MessageView, error)
	Record(ctx context.Context, id domain.MessageID) (domain.Message, error)
	ListAdmin(ctx context.Context, limit int) ([]domain.AdminMessageView, error)
}

// States is the per-sender conversation state machine.
type States interface {
	EnterAwaitingNewMessage(sender, recipient domain.UserID)
	EnterAwaitingReply(sender domain.UserID, msgID domain.MessageID, owner domain.UserID)
	Take(sender domain.UserID) domain.ConversationState
}

// Sender delivers outbound messages. Send errors are logged, never retried.
type Sender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) error
}

// Options tunes rendering and operator access.
type Options struct {
	Operators      []domain.UserID
	BotUsername    string
	PreviewLength  int
	AdminListLimit int
	DashboardLimit int
	UserListLimit  int
	// Limits caps outbound text and captions, usually taken from the
	// channel's capabilities.
	Limits domain.ChannelCapabilities
}

// Deps are the collaborators the orchestrator drives. Hooks and Metrics
// may be nil.
type Deps struct {
	Directory Directory
	Users     Users
	Messages  Messages
	States    States
	Sender    Sender
	Hooks     *hooks.Manager
	Metrics   *metrics.Metrics
	Log       *logging.Logger
	Options   Options
}

// Relay is the orchestrator. It is safe for concurrent use as long as
// events from one sender are handled in order.
type Relay struct {
	dir       Directory
	users     Users
	messages  Messages
	states    States
	sender    Sender
	hooks     *hooks.Manager
	metrics   *metrics.Metrics
	log       *logging.Logger
	opts      Options
	operators map[domain.UserID]bool
}

// New creates an orchestrator from deps, filling option defaults.
func New(deps Deps) *Relay {
	opts := deps.Options
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = 100
	}
	if opts.AdminListLimit <= 0 {
		opts.AdminListLimit = 20
	}
	if opts.DashboardLimit <= 0 {
		opts.DashboardLimit = 100
	}
	if opts.UserListLimit <= 0 {
		opts.UserListLimit = 15
	}
	if opts.Limits.MaxText <= 0 {
		opts.Limits.MaxText = defaultMaxText
	}
	if opts.Limits.MaxCaption <= 0 {
		opts.Limits.MaxCaption = defaultMaxCaption
	}
	ops := make(map[domain.UserID]bool, len(opts.Operators))
	for _, id := range opts.Operators {
		ops[id] = true
	}
	return &Relay{
		dir:       deps.Directory,
		users:     deps.Users,
		messages:  deps.Messages,
		states:    deps.States,
		sender:    deps.Sender,
		hooks:     deps.Hooks,
		metrics:   deps.Metrics,
		log:       deps.Log.Sub("relay"),
		opts:      opts,
		operators: ops,
	}
}

// Handle processes one inbound event. The returned error classifies the
// outcome for logging; any user-facing reply has already been sent.
func (r *Relay) Handle(ctx context.Context, ev domain.InboundEvent) error {
	start := time.Now()
	defer func() { r.metrics.ObserveEvent(string(ev.Kind), time.Since(start)) }()

	var err error
	switch ev.Kind {
	case domain.EventEntry:
		err = r.handleEntry(ctx, ev)
	case domain.EventContent:
		err = r.handleContent(ctx, ev)
	case domain.EventAction:
		err = r.handleAction(ctx, ev)
	default:
		err = fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	if err != nil {
		r.log.Debug().
			Err(err).
			Str("event", ev.ID).
			Str("kind", string(ev.Kind)).
			Str("from", ev.From.ID.String()).
			Msg("event handled with error")
	}
	return err
}

// isOperator reports whether the user is allow-listed or already promoted.
func (r *Relay) isOperator(ctx context.Context, id domain.UserID) (bool, error) {
	if r.operators[id] {
		return true, nil
	}
	u, err := r.users.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsOperator, nil
}

// reply sends msg to the event's sender. Failures are logged only.
func (r *Relay) reply(ctx context.Context, ev domain.InboundEvent, msg domain.OutboundMessage) {
	msg.ChannelID = ev.ChannelID
	msg.To = ev.From.ID
	if err := r.sender.Send(ctx, r.fit(msg)); err != nil {
		r.log.Warn().Err(err).Str("to", msg.To.String()).Msg("reply delivery failed")
	}
}

// notify delivers msg to another party. Failures are logged, counted and
// emitted as a hook; the sender never learns about them.
func (r *Relay) notify(ctx context.Context, ev domain.InboundEvent, msg domain.OutboundMessage, messageID domain.MessageID) {
	msg.ChannelID = ev.ChannelID
	err := r.sender.Send(ctx, r.fit(msg))
	if err == nil {
		return
	}
	r.metrics.DeliveryFailed()
	r.log.Warn().
		Err(err).
		Str("to", msg.To.String()).
		Int64("message", int64(messageID)).
		Msg("notification delivery failed")
	r.emit(ctx, hooks.EventDeliveryFailed, map[string]any{
		"messageId":   int64(messageID),
		"recipientId": int64(msg.To),
		"error":       err.Error(),
	})
}

// fit clips msg to the caption or text limit that applies to it.
func (r *Relay) fit(msg domain.OutboundMessage) domain.OutboundMessage {
	msg.Text = clip(msg.Text, r.limitFor(msg.MediaRef != ""))
	return msg
}

func (r *Relay) limitFor(media bool) int {
	if media {
		return r.opts.Limits.MaxCaption
	}
	return r.opts.Limits.MaxText
}

// fail renders a user-facing apology for err and returns it.
func (r *Relay) fail(ctx context.Context, ev domain.InboundEvent, err error) error {
	r.reply(ctx, ev, domain.OutboundMessage{Text: apology(err)})
	return err
}

func (r *Relay) emit(ctx context.Context, event string, data map[string]any) {
	if r.hooks == nil {
		return
	}
	r.hooks.EmitAsync(context.WithoutCancel(ctx), event, data)
}
