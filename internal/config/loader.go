package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens and secrets can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Telegram.Token = expandEnvVars(cfg.Telegram.Token)
	cfg.Telegram.WebhookSecret = expandEnvVars(cfg.Telegram.WebhookSecret)
	cfg.Telegram.WebhookURL = expandEnvVars(cfg.Telegram.WebhookURL)
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment. Missing files are skipped and variables that are
// already set are never overridden.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return &ConfigError{Message: "failed to load " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}
	if cfg.Gateway.WebhookPath == "" {
		cfg.Gateway.WebhookPath = DefaultWebhookPath
	}
	if cfg.Telegram.Mode == "" {
		cfg.Telegram.Mode = "polling"
	}
	if cfg.Telegram.APIBase == "" {
		cfg.Telegram.APIBase = DefaultTelegramAPIBase
	}
	if cfg.Telegram.PollTimeoutSeconds == 0 {
		cfg.Telegram.PollTimeoutSeconds = DefaultPollTimeout
	}
	if cfg.Telegram.RateLimitPerSecond == 0 {
		cfg.Telegram.RateLimitPerSecond = DefaultTelegramRate
	}
	if cfg.Relay.LinkLength == 0 {
		cfg.Relay.LinkLength = DefaultLinkLength
	}
	if cfg.Relay.MaxTokenAttempts == 0 {
		cfg.Relay.MaxTokenAttempts = DefaultMaxTokenAttempts
	}
	if cfg.Relay.StateTTLMinutes == 0 {
		cfg.Relay.StateTTLMinutes = DefaultStateTTLMinutes
	}
	if cfg.Relay.PreviewLength == 0 {
		cfg.Relay.PreviewLength = DefaultPreviewLength
	}
	if cfg.Relay.AdminListLimit == 0 {
		cfg.Relay.AdminListLimit = DefaultAdminListLimit
	}
	if cfg.Relay.DashboardLimit == 0 {
		cfg.Relay.DashboardLimit = DefaultDashboardLimit
	}
	if cfg.Relay.UserListLimit == 0 {
		cfg.Relay.UserListLimit = DefaultUserListLimit
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// applyEnvOverrides reads ANONRELAY_* environment variables and overrides config values.
// PORT and TELEGRAM_TOKEN are honored as fallbacks for hosted deployments.
func applyEnvOverrides(cfg *Config) {
	port := os.Getenv("ANONRELAY_GATEWAY_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = p
		}
	}
	if v := os.Getenv("ANONRELAY_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("ANONRELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	token := os.Getenv("ANONRELAY_TELEGRAM_TOKEN")
	if token == "" {
		token = os.Getenv("TELEGRAM_TOKEN")
	}
	if token != "" {
		cfg.Telegram.Token = token
	}
	if v := os.Getenv("ANONRELAY_TELEGRAM_BOT_USERNAME"); v != "" {
		cfg.Telegram.BotUsername = v
	}
	if v := os.Getenv("ANONRELAY_TELEGRAM_MODE"); v != "" {
		cfg.Telegram.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("ANONRELAY_TELEGRAM_WEBHOOK_URL"); v != "" {
		cfg.Telegram.WebhookURL = v
	}
	if v := os.Getenv("ANONRELAY_OPERATORS"); v != "" {
		if ids, ok := parseIDList(v); ok {
			cfg.Relay.Operators = ids
		}
	}
	if v := os.Getenv("ANONRELAY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

// parseIDList parses a comma-separated list of numeric ids.
func parseIDList(s string) ([]int64, bool) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
