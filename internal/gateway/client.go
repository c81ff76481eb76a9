package gateway

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/anonrelay/internal/logging"
)

// writeTimeout bounds a single frame write so one stalled console cannot
// hold up a broadcast.
const writeTimeout = 10 * time.Second

// Client is an authenticated operator console connection.
type Client struct {
	ConnID      string
	Console     ConsoleInfo
	AuthMethod  string
	ConnectedAt time.Time

	socket *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewClient wraps a socket that has completed the handshake.
func NewClient(conn *websocket.Conn, console ConsoleInfo, authMethod string) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		Console:     console,
		AuthMethod:  authMethod,
		ConnectedAt: time.Now(),
		socket:      conn,
	}
}

// Send writes one frame. Safe for concurrent use.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.socket == nil {
		return ErrClientClosed
	}
	c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.socket.WriteJSON(frame)
}

// Respond sends a success response to request reqID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends a failed response to request reqID.
func (c *Client) RespondError(reqID, code, message string) error {
	return c.Send(NewErrorResponse(reqID, code, message))
}

// ReadFrame blocks for the next inbound frame.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return f, nil
}

// Close shuts the socket once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.socket == nil {
		return nil
	}
	return c.socket.Close()
}

// ClientRegistry tracks connected consoles.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

// NewClientRegistry returns an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

// Add registers c under its connection ID.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("console", c.Console.ID).Msg("console connected")
}

// Remove drops a connection; unknown IDs are ignored.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	_, ok := r.clients[connID]
	delete(r.clients, connID)
	r.mu.Unlock()
	if ok {
		r.log.Info().Str("connId", connID).Msg("console disconnected")
	}
}

// Get looks up a connection.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected consoles.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// snapshot copies the current connections in connection-ID order.
func (r *ClientRegistry) snapshot() []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}

// Broadcast pushes an event to every console and returns how many received
// it. A console whose write fails is closed and dropped.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) int {
	frame, err := NewEvent(event, payload, seq)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encoding broadcast")
		return 0
	}
	delivered := 0
	for _, c := range r.snapshot() {
		if err := c.Send(frame); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Msg("dropping console after failed send")
			c.Close()
			r.Remove(c.ConnID)
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll disconnects every console.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
