package config

// Config is the root configuration for anonrelay.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway,omitempty"`
	Telegram TelegramConfig `yaml:"telegram,omitempty"`
	Relay    RelayConfig    `yaml:"relay,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
	Hooks    HooksConfig    `yaml:"hooks,omitempty"`
}

// GatewayConfig controls the HTTP server that carries the liveness probe,
// the webhook ingestion point, metrics and the operator WebSocket.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	WebhookPath    string      `yaml:"webhookPath,omitempty"`
	Metrics        *bool       `yaml:"metrics,omitempty"` // expose /metrics; defaults to true
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures operator RPC authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// TelegramConfig configures the Telegram Bot API channel.
type TelegramConfig struct {
	Token              string  `yaml:"token,omitempty"`
	BotUsername        string  `yaml:"botUsername,omitempty"`
	Mode               string  `yaml:"mode,omitempty"` // "webhook" | "polling"
	WebhookURL         string  `yaml:"webhookUrl,omitempty"`
	WebhookSecret      string  `yaml:"webhookSecret,omitempty"`
	APIBase            string  `yaml:"apiBase,omitempty"`
	PollTimeoutSeconds int     `yaml:"pollTimeoutSeconds,omitempty"`
	RateLimitPerSecond float64 `yaml:"rateLimitPerSecond,omitempty"`
}

// Enabled reports whether a bot token is configured.
func (t TelegramConfig) Enabled() bool { return t.Token != "" }

// RelayConfig tunes the relay core.
type RelayConfig struct {
	Operators        []int64 `yaml:"operators,omitempty"`
	LinkLength       int     `yaml:"linkLength,omitempty"`
	MaxTokenAttempts int     `yaml:"maxTokenAttempts,omitempty"`
	StateTTLMinutes  int     `yaml:"stateTtlMinutes,omitempty"`
	PreviewLength    int     `yaml:"previewLength,omitempty"`
	AdminListLimit   int     `yaml:"adminListLimit,omitempty"`
	DashboardLimit   int     `yaml:"dashboardLimit,omitempty"`
	UserListLimit    int     `yaml:"userListLimit,omitempty"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // defaults to <data>/anonrelay.db
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// HooksConfig defines shell command hooks per relay event.
type HooksConfig struct {
	UserRegistered     []HookEntry `yaml:"userRegistered,omitempty"`
	MessageRelayed     []HookEntry `yaml:"messageRelayed,omitempty"`
	DeliveryFailed     []HookEntry `yaml:"deliveryFailed,omitempty"`
	DirectoryExhausted []HookEntry `yaml:"directoryExhausted,omitempty"`
	GatewayStart       []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop        []HookEntry `yaml:"gatewayStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}
