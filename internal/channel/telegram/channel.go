// Package telegram implements the relay's Telegram Bot API channel, fed
// either by long polling or by webhook deliveries.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/anonrelay/internal/config"
	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/logging"
)

const (
	channelID    = "telegram"
	secretHeader = "X-Telegram-Bot-Api-Secret-Token"
	startCommand = "/start"

	// Bot API size limits, in runes.
	maxTextRunes    = 4096
	maxCaptionRunes = 1024
)

// Channel implements domain.Channel for Telegram private chats.
type Channel struct {
	cfg    config.TelegramConfig
	client *Client
	log    *logging.Logger

	mu        sync.RWMutex
	handler   func(ev domain.InboundEvent)
	running   bool
	connected bool
	lastErr   string
	username  string
	cancel    context.CancelFunc

	// webhookMu hands webhook deliveries to the router one at a time.
	webhookMu sync.Mutex
}

// New creates a Telegram channel from configuration.
func New(cfg config.TelegramConfig, recorder Recorder, log *logging.Logger) *Channel {
	return &Channel{
		cfg:      cfg,
		client:   NewClient(cfg.APIBase, cfg.Token, cfg.RateLimitPerSecond, recorder),
		log:      log.Sub("telegram"),
		username: strings.TrimPrefix(cfg.BotUsername, "@"),
	}
}

func (c *Channel) ID() string { return channelID }

func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{Media: true, Buttons: true, MaxText: maxTextRunes, MaxCaption: maxCaptionRunes}
}

func (c *Channel) OnEvent(handler func(ev domain.InboundEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: channelID,
		Mode:      c.cfg.Mode,
		Connected: c.connected,
		Running:   c.running,
		LastError: c.lastErr,
	}
}

// BotUsername returns the configured username, or the one learned from
// getMe once the channel has started.
func (c *Channel) BotUsername() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// Identify asks Telegram for the bot's username when none is configured.
func (c *Channel) Identify(ctx context.Context) (string, error) {
	if name := c.BotUsername(); name != "" {
		return name, nil
	}
	me, err := c.client.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("telegram getMe: %w", err)
	}
	c.mu.Lock()
	c.username = me.Username
	c.mu.Unlock()
	return me.Username, nil
}

// Start identifies the bot and then either registers the webhook and waits,
// or long-polls for updates. It blocks until ctx is cancelled or Stop is called.
func (c *Channel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.connected = false
		c.mu.Unlock()
	}()

	me, err := c.client.GetMe(ctx)
	if err != nil {
		c.setErr(err)
		return fmt.Errorf("telegram getMe: %w", err)
	}
	c.mu.Lock()
	c.connected = true
	if c.username == "" {
		c.username = me.Username
	}
	c.mu.Unlock()

	c.log.Info().
		Str("bot", me.Username).
		Str("mode", c.cfg.Mode).
		Msg("connected to Telegram")

	if c.cfg.Mode == "webhook" {
		if err := c.client.SetWebhook(ctx, c.cfg.WebhookURL, c.cfg.WebhookSecret); err != nil {
			c.setErr(err)
			return fmt.Errorf("telegram setWebhook: %w", err)
		}
		c.log.Info().Str("url", c.cfg.WebhookURL).Msg("webhook registered")
		<-ctx.Done()
		return nil
	}

	if err := c.client.DeleteWebhook(ctx); err != nil {
		c.log.Warn().Err(err).Msg("failed to clear webhook before polling")
	}
	return c.poll(ctx)
}

func (c *Channel) poll(ctx context.Context) error {
	timeout := time.Duration(c.cfg.PollTimeoutSeconds) * time.Second
	var offset int64
	for {
		updates, err := c.client.GetUpdates(ctx, offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info().Msg("polling stopped")
				return nil
			}
			c.setErr(err)
			c.log.Warn().Err(err).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			c.handleUpdate(ctx, u)
		}
	}
}

// Stop ends polling or the webhook wait. A registered webhook stays in
// place so deliveries resume on the next start.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.log.Info().Msg("stopping Telegram channel")
		c.cancel()
	}
	c.running = false
	return nil
}

// Send delivers a text message, or a photo with the text as caption.
func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.To == 0 {
		return fmt.Errorf("telegram: no recipient specified")
	}
	kb := keyboard(msg.Buttons)
	chatID := int64(msg.To)

	var err error
	if msg.MediaRef != "" {
		err = c.client.SendPhoto(ctx, chatID, msg.MediaRef, msg.Text, kb)
	} else {
		err = c.client.SendMessage(ctx, chatID, msg.Text, kb)
	}
	if err != nil {
		return err
	}

	c.log.Debug().
		Int64("to", chatID).
		Bool("media", msg.MediaRef != "").
		Msg("sent Telegram message")
	return nil
}

// WebhookHandler accepts update deliveries from Telegram. When a webhook
// secret is configured, requests without the matching header are rejected.
func (c *Channel) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if secret := c.cfg.WebhookSecret; secret != "" {
			got := r.Header.Get(secretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				c.log.Warn().Str("remote", r.RemoteAddr).Msg("webhook request with bad secret")
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		var u Update
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&u); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		// Telegram retries non-2xx deliveries, so handling happens after the ack.
		w.WriteHeader(http.StatusOK)
		c.webhookMu.Lock()
		defer c.webhookMu.Unlock()
		c.handleUpdate(context.WithoutCancel(r.Context()), u)
	})
}

func (c *Channel) handleUpdate(ctx context.Context, u Update) {
	if cq := u.CallbackQuery; cq != nil {
		if err := c.client.AnswerCallbackQuery(ctx, cq.ID); err != nil {
			c.log.Debug().Err(err).Msg("failed to answer callback query")
		}
	}

	ev, ok := toEvent(u)
	if !ok {
		c.log.Debug().Int64("update", u.UpdateID).Msg("ignoring update")
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(ev)
	}
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err.Error()
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		c.connected = false
	}
}

// toEvent converts an update from a private chat into a relay event.
func toEvent(u Update) (domain.InboundEvent, bool) {
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.From == nil || cq.From.IsBot {
			return domain.InboundEvent{}, false
		}
		action, ok := domain.ParseAction(cq.Data)
		if !ok {
			return domain.InboundEvent{}, false
		}
		return domain.InboundEvent{
			ID:         uuid.New().String(),
			ChannelID:  channelID,
			Kind:       domain.EventAction,
			From:       profile(cq.From),
			Timestamp:  time.Now(),
			Action:     action,
			CallbackID: cq.ID,
		}, true

	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.From.IsBot || m.Chat == nil || m.Chat.Type != "private" {
			return domain.InboundEvent{}, false
		}
		ev := domain.InboundEvent{
			ID:        uuid.New().String(),
			ChannelID: channelID,
			From:      profile(m.From),
			Timestamp: time.Unix(m.Date, 0),
		}
		if arg, ok := startArg(m.Text); ok {
			ev.Kind = domain.EventEntry
			ev.Arg = arg
			return ev, true
		}
		if len(m.Photo) > 0 {
			ev.Kind = domain.EventContent
			ev.MediaRef = largest(m.Photo).FileID
			ev.Text = m.Caption
			return ev, true
		}
		if m.Text == "" {
			// Stickers, voice and other kinds are not relayed.
			return domain.InboundEvent{}, false
		}
		ev.Kind = domain.EventContent
		ev.Text = m.Text
		return ev, true
	}
	return domain.InboundEvent{}, false
}

// startArg recognizes "/start", "/start@bot" and "/start <arg>".
func startArg(text string) (string, bool) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	if cmd != startCommand {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func largest(sizes []PhotoSize) PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height >= best.Width*best.Height {
			best = s
		}
	}
	return best
}

func profile(u *User) domain.Profile {
	return domain.Profile{
		ID:          domain.UserID(u.ID),
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Handle:      u.Username,
	}
}

func keyboard(rows [][]domain.Button) *inlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := &inlineKeyboardMarkup{InlineKeyboard: make([][]inlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		out := make([]inlineKeyboardButton, 0, len(row))
		for _, b := range row {
			out = append(out, inlineKeyboardButton{Text: b.Label, CallbackData: b.Action.Encode()})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, out)
	}
	return kb
}
