package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/logging"
	"github.com/soyeahso/anonrelay/internal/store"
	"github.com/soyeahso/anonrelay/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against an isolated ANONRELAY_HOME.
func run(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ANONRELAY_HOME", home)
	for _, key := range []string{"ANONRELAY_TELEGRAM_TOKEN", "TELEGRAM_TOKEN", "ANONRELAY_STORE_PATH", "ANONRELAY_TELEGRAM_MODE"} {
		t.Setenv(key, "")
	}
	cfgFile, logLevel = "", ""

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func seed(t *testing.T, home string) {
	t.Helper()
	db, err := store.Open(filepath.Join(home, "data", "anonrelay.db"), logging.New(nil, "silent"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	admin := store.NewAdmin(db)
	_, _, err = admin.Users.EnsureUser(ctx, domain.Profile{ID: 100, DisplayName: "Uma", Handle: "uma"})
	require.NoError(t, err)
	_, _, err = admin.Users.EnsureUser(ctx, domain.Profile{ID: 200, DisplayName: "Vera"})
	require.NoError(t, err)
	_, err = admin.Messages.Append(ctx, domain.NewMessage{
		RecipientID: 100, SenderID: 200, SenderName: "Vera", Body: "hello",
	})
	require.NoError(t, err)
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "anonrelay")
}

func TestVersionCmdJSON(t *testing.T) {
	out, err := run(t, t.TempDir(), "version", "--json")
	require.NoError(t, err)

	var build version.Build
	require.NoError(t, json.Unmarshal([]byte(out), &build))
	assert.NotEmpty(t, build.Version)
	assert.NotEmpty(t, build.GoVersion)
	assert.Contains(t, build.Platform, "/")
}

func TestConfigSetGetUnset(t *testing.T) {
	home := t.TempDir()

	out, err := run(t, home, "config", "set", "relay.previewLength", "80")
	require.NoError(t, err)
	assert.Contains(t, out, "Set relay.previewLength = 80")

	out, err = run(t, home, "config", "get", "relay.previewLength")
	require.NoError(t, err)
	assert.Equal(t, "80\n", out)

	_, err = run(t, home, "config", "unset", "relay.previewLength")
	require.NoError(t, err)

	_, err = run(t, home, "config", "get", "relay.previewLength")
	assert.ErrorContains(t, err, "not found")
}

func TestConfigValidate(t *testing.T) {
	home := t.TempDir()

	out, err := run(t, home, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Config OK")

	_, err = run(t, home, "config", "set", "telegram.mode", "carrier-pigeon")
	require.NoError(t, err)

	out, err = run(t, home, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "telegram.mode")
}

func TestAdminCommands(t *testing.T) {
	home := t.TempDir()
	seed(t, home)

	out, err := run(t, home, "admin", "users")
	require.NoError(t, err)
	assert.Contains(t, out, "@uma")
	assert.Contains(t, out, "Vera")

	out, err = run(t, home, "admin", "messages")
	require.NoError(t, err)
	assert.Contains(t, out, "Vera (200)")
	assert.Contains(t, out, "Uma (100)")
	assert.Contains(t, out, "hello")

	out, err = run(t, home, "admin", "promote", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "User 100 is now an operator")

	out, err = run(t, home, "admin", "users")
	require.NoError(t, err)
	assert.Contains(t, out, "operator")

	_, err = run(t, home, "admin", "promote", "999")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = run(t, home, "admin", "promote", "abc")
	assert.ErrorContains(t, err, "invalid user id")
}

func TestStatusCmd(t *testing.T) {
	home := t.TempDir()

	out, err := run(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not created yet")
	assert.Contains(t, out, "no Telegram token")

	seed(t, home)
	out, err = run(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "users=2")
	assert.Contains(t, out, "messages=1")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"false", false},
		{"80", 80},
		{"-3", -3},
		{"0.5", 0.5},
		{"TRUE", "TRUE"},
		{"polling", "polling"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseValue(tt.in), "input %q", tt.in)
	}
}
