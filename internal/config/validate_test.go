package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	issues := Validate(&cfg)
	assert.Empty(t, issues)
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()

	cfg.Gateway.Port = -1
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "gateway.port")

	cfg.Gateway.Port = 70000
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
}

func TestValidate_ValidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = 0
	assert.Empty(t, Validate(&cfg))

	cfg.Gateway.Port = 65535
	assert.Empty(t, Validate(&cfg))

	cfg.Gateway.Port = 8080
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"bind", func(c *Config) { c.Gateway.Bind = "invalid" }, "gateway.bind"},
		{"auth mode", func(c *Config) { c.Gateway.Auth.Mode = "oauth" }, "gateway.auth.mode"},
		{"webhook path", func(c *Config) { c.Gateway.WebhookPath = "webhook" }, "gateway.webhookPath"},
		{"tls without cert", func(c *Config) { c.Gateway.TLS.Enabled = true }, "gateway.tls"},
		{"telegram mode", func(c *Config) { c.Telegram.Mode = "push" }, "telegram.mode"},
		{"poll timeout", func(c *Config) { c.Telegram.PollTimeoutSeconds = -1 }, "telegram.pollTimeoutSeconds"},
		{"rate", func(c *Config) { c.Telegram.RateLimitPerSecond = -2 }, "telegram.rateLimitPerSecond"},
		{"link length short", func(c *Config) { c.Relay.LinkLength = 4 }, "relay.linkLength"},
		{"link length long", func(c *Config) { c.Relay.LinkLength = 65 }, "relay.linkLength"},
		{"token attempts", func(c *Config) { c.Relay.MaxTokenAttempts = -1 }, "relay.maxTokenAttempts"},
		{"operator id", func(c *Config) { c.Relay.Operators = []int64{5, 0} }, "relay.operators"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"console style", func(c *Config) { c.Logging.ConsoleStyle = "fancy" }, "logging.consoleStyle"},
		{"hook command", func(c *Config) { c.Hooks.DeliveryFailed = []HookEntry{{Command: "  "}} }, "hooks.delivery_failed[0].command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			issues := Validate(&cfg)
			require.Len(t, issues, 1)
			assert.Equal(t, tt.path, issues[0].Path)
		})
	}
}

func TestValidate_ValidBinds(t *testing.T) {
	for _, bind := range []string{"auto", "lan", "loopback", "custom", ""} {
		cfg := Defaults()
		cfg.Gateway.Bind = bind
		assert.Empty(t, Validate(&cfg), "bind %q should be valid", bind)
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"} {
		cfg := Defaults()
		cfg.Logging.Level = level
		assert.Empty(t, Validate(&cfg), "level %q should be valid", level)
	}
}

func TestValidate_WebhookMode(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Mode = "webhook"

	// Without a token the channel is disabled and the URL is not required.
	assert.Empty(t, Validate(&cfg))

	cfg.Telegram.Token = "123:abc"
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "telegram.webhookUrl", issues[0].Path)

	cfg.Telegram.WebhookURL = "http://relay.example.com/webhook"
	issues = Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "https")

	cfg.Telegram.WebhookURL = "https://relay.example.com/webhook"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_MultipleIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = -1
	cfg.Logging.Level = "bogus"
	cfg.Relay.LinkLength = 2
	issues := Validate(&cfg)
	assert.Len(t, issues, 3)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "bad port"}
	assert.Equal(t, "gateway.port: bad port", issue.String())
}

func TestHooksByEvent(t *testing.T) {
	h := HooksConfig{UserRegistered: []HookEntry{{Command: "true"}}}
	byEvent := h.ByEvent()
	assert.Len(t, byEvent, 6)
	assert.Len(t, byEvent["user_registered"], 1)
	assert.Empty(t, byEvent["gateway_stop"])
}
