package gateway

import (
	"cmp"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/anonrelay/internal/channel"
	"github.com/soyeahso/anonrelay/internal/config"
	"github.com/soyeahso/anonrelay/internal/hooks"
	"github.com/soyeahso/anonrelay/internal/logging"
	"github.com/soyeahso/anonrelay/internal/metrics"
	"github.com/soyeahso/anonrelay/internal/version"
)

var (
	ErrClientClosed   = errors.New("client connection closed")
	errMalformedFrame = errors.New("malformed frame")
)

// Server is the relay's HTTP server: liveness, webhook ingestion, metrics
// and the operator WebSocket.
type Server struct {
	cfg      config.Config
	auth     Credentials
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  version.Build
	eventSeq atomic.Int64

	mu        sync.RWMutex
	configRaw map[string]any

	// Optional collaborators; nil disables the routes and RPCs that need them.
	channels *channel.Registry
	hooks    *hooks.Manager
	metrics  *metrics.Metrics
	admin    Admin
	webhook  http.Handler

	startedAt   time.Time
	httpAddr    string
	ready       chan struct{}
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *failureLimiter
}

const handshakeTimeout = 10 * time.Second

// ServerOption configures optional collaborators.
type ServerOption func(*Server)

// WithConfigRaw exposes raw to the config.get and config.set RPCs.
func WithConfigRaw(raw map[string]any) ServerOption {
	return func(s *Server) { s.configRaw = raw }
}

// WithChannels enables channels.status.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithHooks emits lifecycle events and forwards relay activity to consoles.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// WithMetrics exposes the registry at /metrics when enabled in config.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithAdmin enables the admin.* RPCs.
func WithAdmin(a Admin) ServerOption {
	return func(s *Server) { s.admin = a }
}

// WithWebhook mounts the transport's update handler at the webhook path.
func WithWebhook(h http.Handler) ServerOption {
	return func(s *Server) { s.webhook = h }
}

// New builds a server; Start binds it.
func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveCredentials(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Current(),
		configRaw:   make(map[string]any),
		ready:       make(chan struct{}),
		authLimiter: newFailureLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	s.registerActivityHooks()
	return s
}

// Handle registers an RPC method. Call before Start.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods lists the registered RPC methods in sorted order.
func (s *Server) Methods() []string {
	return slices.Sorted(maps.Keys(s.handlers))
}

// resolveBindAddr maps the bind mode to a listen address. Unknown modes
// fall back to loopback.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan", "auto":
		host = "0.0.0.0"
	case "custom":
		host = cmp.Or(cfg.CustomBindHost, "0.0.0.0")
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

// listen binds the configured address, wrapping it in TLS when enabled.
func (s *Server) listen() (net.Listener, error) {
	gw := s.cfg.Gateway
	addr := resolveBindAddr(gw)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if !gw.TLS.Enabled {
		if gw.Bind != "loopback" {
			s.log.Warn().Msg("TLS is not enabled; operator credentials travel in cleartext")
		}
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(gw.TLS.CertPath, gw.TLS.KeyPath)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Start serves HTTP and console connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	s.httpServer = &http.Server{
		Handler:           withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := ln.Addr().String()
	s.mu.Lock()
	s.startedAt = time.Now()
	s.httpAddr = addr
	s.mu.Unlock()

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": addr})
	}
	s.log.Info().
		Str("addr", addr).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Bool("tls", s.cfg.Gateway.TLS.Enabled).
		Bool("webhook", s.webhook != nil).
		Bool("metrics", s.metricsEnabled()).
		Msg("gateway listening")
	close(s.ready)

	go s.shutdownOnDone(ctx)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownOnDone drains the server once ctx ends.
func (s *Server) shutdownOnDone(ctx context.Context) {
	<-ctx.Done()
	s.log.Info().Msg("gateway shutting down")
	if s.hooks != nil {
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, map[string]any{
			"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
		})
		removed := 0
		for _, event := range s.hooks.Events() {
			removed += s.hooks.Off(event, activityHook)
		}
		s.log.Debug().Int("handlers", removed).Msg("console activity hooks removed")
	}
	s.clients.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("gateway shutdown incomplete")
	}
}

// Addr returns the bound listen address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpAddr
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

func (s *Server) metricsEnabled() bool {
	return s.metrics != nil && s.cfg.Gateway.MetricsEnabled()
}

// handleWebSocket upgrades an operator console connection and serves it
// until either side closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after repeated auth failures")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(client)
}

// handshake runs challenge, connect and hello on a fresh socket.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(eventChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		rejectHandshake(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%q method=%q", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		rejectHandshake(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if !params.supports(ProtocolVersion) {
		rejectHandshake(conn, frame.ID, CodeProtocol, fmt.Sprintf("protocol %d not in requested range", ProtocolVersion))
		return nil, fmt.Errorf("protocol range %d-%d excludes %d", params.MinProtocol, params.MaxProtocol, ProtocolVersion)
	}

	method, err := s.auth.Verify(params.Auth)
	if err != nil {
		rejectHandshake(conn, frame.ID, CodeUnauthorized, err.Error())
		return nil, fmt.Errorf("auth failed: %w", err)
	}

	conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params.Console, method)

	resp, err := NewResponse(frame.ID, HelloOK{
		Protocol:   ProtocolVersion,
		Version:    s.version.Version,
		Commit:     s.version.Commit,
		ConnID:     client.ConnID,
		Methods:    s.Methods(),
		Events:     []string{eventChallenge, activityEvent},
		MaxPayload: maxFrameBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("creating hello: %w", err)
	}
	if err := client.Send(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("console", params.Console.ID).
		Str("consoleVersion", params.Console.Version).
		Str("authMethod", method).
		Msg("console authenticated")
	return client, nil
}

// readLoop serves requests from an authenticated console until it goes away.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if errors.Is(err, errMalformedFrame) {
				client.RespondError("", CodeProtocol, "malformed frame")
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("console closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(client, frame)
	}
}

// dispatch runs the handler registered for frame.Method.
func (s *Server) dispatch(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, CodeMethodNotFound, "unknown method: "+frame.Method)
		return
	}
	handler(&RequestContext{Client: client, Frame: frame, Server: s})
}

// rejectHandshake answers the connect request with an error and closes.
func rejectHandshake(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, code, message))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
