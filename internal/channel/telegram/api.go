package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// APIError is a failure reported by the Bot API itself.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Recorder observes Bot API calls. status is 0 on transport failure.
type Recorder interface {
	APIRequest(method string, status int)
}

// Client calls the Telegram Bot API over HTTPS JSON.
type Client struct {
	base     string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	recorder Recorder
}

// NewClient creates a Bot API client. ratePerSecond <= 0 disables throttling.
func NewClient(base, token string, ratePerSecond float64, recorder Recorder) *Client {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = max(1, int(ratePerSecond))
	}
	return &Client{
		base:     strings.TrimRight(base, "/"),
		token:    token,
		http:     &http.Client{Timeout: 90 * time.Second},
		limiter:  rate.NewLimiter(limit, burst),
		recorder: recorder,
	}
}

func (c *Client) call(ctx context.Context, method string, req, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("telegram %s: encoding request: %w", method, err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.base, c.token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.record(method, 0)
		// The URL carries the token; keep it out of error strings.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()
	c.record(method, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("telegram %s: reading response: %w", method, err)
	}
	var env apiResponse
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("telegram %s: decoding response (status %d): %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: env.Description}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decoding result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) record(method string, status int) {
	if c.recorder != nil {
		c.recorder.APIRequest(method, status)
	}
}

// GetMe returns the bot's own account.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var u User
	err := c.call(ctx, "getMe", struct{}{}, &u)
	return u, err
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: allowedUpdates,
	}, &updates)
	return updates, err
}

// SendMessage sends a plain-text message. No parse mode is set, so user
// content is never interpreted as markup.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, kb *inlineKeyboardMarkup) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: kb}, nil)
}

// SendPhoto re-sends a photo by file id with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, fileID, caption string, kb *inlineKeyboardMarkup) error {
	return c.call(ctx, "sendPhoto", sendPhotoRequest{ChatID: chatID, Photo: fileID, Caption: caption, ReplyMarkup: kb}, nil)
}

// AnswerCallbackQuery stops the client's loading indicator for a button press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: id}, nil)
}

// SetWebhook points Telegram at hookURL. Deliveries carry secret in the
// X-Telegram-Bot-Api-Secret-Token header. One connection at a time keeps
// deliveries in order.
func (c *Client) SetWebhook(ctx context.Context, hookURL, secret string) error {
	return c.call(ctx, "setWebhook", setWebhookRequest{
		URL:            hookURL,
		SecretToken:    secret,
		MaxConnections: 1,
		AllowedUpdates: allowedUpdates,
	}, nil)
}

// DeleteWebhook switches the bot back to getUpdates delivery.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", struct{}{}, nil)
}
