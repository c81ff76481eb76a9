package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort             = 18790
	DefaultWebhookPath      = "/webhook"
	DefaultLinkLength       = 8
	DefaultMaxTokenAttempts = 64
	DefaultStateTTLMinutes  = 30
	DefaultPreviewLength    = 100
	DefaultAdminListLimit   = 20
	DefaultDashboardLimit   = 100
	DefaultUserListLimit    = 15
	DefaultPollTimeout      = 30
	DefaultTelegramRate     = 25
	DefaultTelegramAPIBase  = "https://api.telegram.org"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port:        DefaultPort,
			Bind:        "loopback",
			WebhookPath: DefaultWebhookPath,
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Telegram: TelegramConfig{
			Mode:               "polling",
			APIBase:            DefaultTelegramAPIBase,
			PollTimeoutSeconds: DefaultPollTimeout,
			RateLimitPerSecond: DefaultTelegramRate,
		},
		Relay: RelayConfig{
			LinkLength:       DefaultLinkLength,
			MaxTokenAttempts: DefaultMaxTokenAttempts,
			StateTTLMinutes:  DefaultStateTTLMinutes,
			PreviewLength:    DefaultPreviewLength,
			AdminListLimit:   DefaultAdminListLimit,
			DashboardLimit:   DefaultDashboardLimit,
			UserListLimit:    DefaultUserListLimit,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}

// MetricsEnabled reports whether /metrics should be served.
func (g GatewayConfig) MetricsEnabled() bool {
	return g.Metrics == nil || *g.Metrics
}

// IsOperator reports whether id is on the operator allow-list.
func (r RelayConfig) IsOperator(id int64) bool {
	for _, op := range r.Operators {
		if op == id {
			return true
		}
	}
	return false
}
