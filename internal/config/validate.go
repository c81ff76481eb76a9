package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}

	validAuthModes := []string{"token", "password"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.auth.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode),
		})
	}

	if cfg.Gateway.WebhookPath != "" && !strings.HasPrefix(cfg.Gateway.WebhookPath, "/") {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.webhookPath",
			Message: "must start with /",
		})
	}

	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}

	// Telegram validation
	validTelegramModes := []string{"webhook", "polling"}
	if cfg.Telegram.Mode != "" && !slices.Contains(validTelegramModes, cfg.Telegram.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "telegram.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validTelegramModes, cfg.Telegram.Mode),
		})
	}
	if cfg.Telegram.Enabled() && cfg.Telegram.Mode == "webhook" {
		if cfg.Telegram.WebhookURL == "" {
			issues = append(issues, ValidationIssue{
				Path:    "telegram.webhookUrl",
				Message: "required when mode is webhook",
			})
		} else if u, err := url.Parse(cfg.Telegram.WebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
			issues = append(issues, ValidationIssue{
				Path:    "telegram.webhookUrl",
				Message: fmt.Sprintf("must be an absolute https URL, got %q", cfg.Telegram.WebhookURL),
			})
		}
	}
	if cfg.Telegram.PollTimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "telegram.pollTimeoutSeconds",
			Message: "must not be negative",
		})
	}
	if cfg.Telegram.RateLimitPerSecond < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "telegram.rateLimitPerSecond",
			Message: "must not be negative",
		})
	}

	// Relay validation
	if cfg.Relay.LinkLength != 0 && (cfg.Relay.LinkLength < 6 || cfg.Relay.LinkLength > 64) {
		issues = append(issues, ValidationIssue{
			Path:    "relay.linkLength",
			Message: fmt.Sprintf("must be 6-64, got %d", cfg.Relay.LinkLength),
		})
	}
	if cfg.Relay.MaxTokenAttempts < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "relay.maxTokenAttempts",
			Message: "must not be negative",
		})
	}
	for _, op := range cfg.Relay.Operators {
		if op <= 0 {
			issues = append(issues, ValidationIssue{
				Path:    "relay.operators",
				Message: fmt.Sprintf("operator ids must be positive, got %d", op),
			})
		}
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Hook validation
	for event, entries := range cfg.Hooks.ByEvent() {
		for i, h := range entries {
			if strings.TrimSpace(h.Command) == "" {
				issues = append(issues, ValidationIssue{
					Path:    fmt.Sprintf("hooks.%s[%d].command", event, i),
					Message: "command is required",
				})
			}
		}
	}

	return issues
}

// ByEvent maps hook event names to their configured entries.
func (h HooksConfig) ByEvent() map[string][]HookEntry {
	return map[string][]HookEntry{
		"user_registered":     h.UserRegistered,
		"message_relayed":     h.MessageRelayed,
		"delivery_failed":     h.DeliveryFailed,
		"directory_exhausted": h.DirectoryExhausted,
		"gateway_start":       h.GatewayStart,
		"gateway_stop":        h.GatewayStop,
	}
}
