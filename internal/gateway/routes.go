package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/soyeahso/anonrelay/internal/config"
	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/hooks"
	"github.com/soyeahso/anonrelay/internal/store"
)

// Admin is the read side the operator RPCs are served from.
type Admin interface {
	Stats(ctx context.Context) (store.Stats, error)
	ListUsers(ctx context.Context, limit int) ([]domain.User, error)
	ListMessages(ctx context.Context, limit int) ([]domain.AdminMessageView, error)
}

// rpcConfigKeys are the config subtrees an operator console may read and
// write. Secrets, the operator list and the store path are never exposed.
var rpcConfigKeys = []config.KeyPath{
	{"gateway", "port"},
	{"gateway", "bind"},
	{"gateway", "customBindHost"},
	{"gateway", "allowedOrigins"},
	{"gateway", "metrics"},
	{"telegram", "mode"},
	{"telegram", "botUsername"},
	{"relay", "previewLength"},
	{"relay", "adminListLimit"},
	{"relay", "dashboardLimit"},
	{"relay", "userListLimit"},
	{"relay", "stateTtlMinutes"},
	{"logging"},
}

func isAllowedConfigPath(key config.KeyPath) bool {
	for _, allowed := range rpcConfigKeys {
		if key.HasPrefix(allowed) {
			return true
		}
	}
	return false
}

const (
	rpcTimeout        = 10 * time.Second
	defaultAdminLimit = 50
	maxAdminLimit     = 500
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", handleLiveness)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	if s.metricsEnabled() {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.webhook != nil {
		mux.Handle(s.cfg.Gateway.WebhookPath, s.webhook)
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("config.set", s.rpcConfigSet)
	s.Handle("channels.status", s.rpcChannelsStatus)
	if s.admin != nil {
		s.Handle("admin.stats", s.rpcAdminStats)
		s.Handle("admin.users", s.rpcAdminUsers)
		s.Handle("admin.messages", s.rpcAdminMessages)
	}
}

// registerActivityHooks forwards relay events to connected operators.
// activityHook names the handlers that forward relay events to consoles.
const activityHook = "gateway:activity"

func (s *Server) registerActivityHooks() {
	if s.hooks == nil {
		return
	}
	for _, event := range []string{
		hooks.EventUserRegistered,
		hooks.EventMessageRelayed,
		hooks.EventDeliveryFailed,
		hooks.EventDirectoryExhausted,
	} {
		s.hooks.On(event, activityHook, func(_ context.Context, p hooks.Payload) error {
			s.clients.Broadcast(activityEvent, p, s.eventSeq.Add(1))
			return nil
		})
	}
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	s.mu.RLock()
	started := s.startedAt
	s.mu.RUnlock()

	resp := HealthResponse{
		Status:  "ok",
		Version: s.version.Version,
		Clients: s.clients.Count(),
	}
	if !started.IsZero() {
		resp.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if s.hooks != nil {
		resp.Hooks = s.hooks.Events()
	}
	rc.Respond(resp)
}

type configParams struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

// configKey decodes the request and resolves an allowed key, answering the
// request itself when it cannot.
func configKey(rc *RequestContext) (configParams, config.KeyPath, bool) {
	var p configParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return p, nil, false
	}
	key, err := config.ParseKeyPath(p.Key)
	if err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return p, nil, false
	}
	if !isAllowedConfigPath(key) {
		rc.RespondError(CodeForbidden, "config key not available over RPC: "+p.Key)
		return p, nil, false
	}
	return p, key, true
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	p, key, ok := configKey(rc)
	if !ok {
		return
	}
	s.mu.RLock()
	val, found := key.Get(s.configRaw)
	s.mu.RUnlock()
	if !found {
		rc.RespondError(CodeNotFound, "key not found: "+p.Key)
		return
	}
	rc.Respond(configParams{Key: p.Key, Value: val})
}

// rpcConfigSet edits the in-memory raw config. Changes take effect on the
// next start; use "anonrelay config set" to persist them.
func (s *Server) rpcConfigSet(rc *RequestContext) {
	p, key, ok := configKey(rc)
	if !ok {
		return
	}
	s.mu.Lock()
	key.Set(s.configRaw, p.Value)
	s.mu.Unlock()

	s.log.Info().Str("key", p.Key).Str("connId", rc.Client.ConnID).Msg("config value changed over RPC")
	rc.Respond(p)
}

func (s *Server) rpcChannelsStatus(rc *RequestContext) {
	if s.channels != nil {
		rc.Respond(map[string]any{"channels": s.channels.Status()})
		return
	}
	rc.Respond(map[string]any{"channels": []any{}})
}

func (s *Server) rpcAdminStats(rc *RequestContext) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	stats, err := s.admin.Stats(ctx)
	if err != nil {
		s.respondStoreError(rc, err)
		return
	}
	rc.Respond(stats)
}

type adminListParams struct {
	Limit int `json:"limit,omitempty"`
}

func (p adminListParams) limit() int {
	switch {
	case p.Limit <= 0:
		return defaultAdminLimit
	case p.Limit > maxAdminLimit:
		return maxAdminLimit
	}
	return p.Limit
}

func (s *Server) rpcAdminUsers(rc *RequestContext) {
	var p adminListParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	users, err := s.admin.ListUsers(ctx, p.limit())
	if err != nil {
		s.respondStoreError(rc, err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	rc.Respond(map[string]any{"users": users})
}

func (s *Server) rpcAdminMessages(rc *RequestContext) {
	var p adminListParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	msgs, err := s.admin.ListMessages(ctx, p.limit())
	if err != nil {
		s.respondStoreError(rc, err)
		return
	}
	if msgs == nil {
		msgs = []domain.AdminMessageView{}
	}
	rc.Respond(map[string]any{"messages": msgs})
}

func (s *Server) respondStoreError(rc *RequestContext, err error) {
	s.log.Error().Err(err).Str("method", rc.Frame.Method).Msg("admin query failed")
	rc.RespondError(CodeUnavailable, "storage unavailable")
}
