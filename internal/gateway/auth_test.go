package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/soyeahso/anonrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "wrong"))
	assert.False(t, safeEqual("short", "longer-string"))
	assert.False(t, safeEqual("secret", ""))
}

func TestResolveCredentials(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.GatewayAuth
		envToken  string
		envPass   string
		wantMode  string
		wantToken string
		wantPass  string
	}{
		{
			name:      "token from config",
			cfg:       config.GatewayAuth{Mode: "token", Token: "config-token"},
			wantMode:  "token",
			wantToken: "config-token",
		},
		{
			name:     "password from config",
			cfg:      config.GatewayAuth{Mode: "password", Password: "config-pass"},
			wantMode: "password",
			wantPass: "config-pass",
		},
		{
			name:      "mode defaults to token",
			cfg:       config.GatewayAuth{Token: "t"},
			wantMode:  "token",
			wantToken: "t",
		},
		{
			name:     "password-only selects password mode",
			envPass:  "env-pass",
			wantMode: "password",
			wantPass: "env-pass",
		},
		{
			name:      "config beats env",
			cfg:       config.GatewayAuth{Token: "config-token"},
			envToken:  "env-token",
			wantMode:  "token",
			wantToken: "config-token",
		},
		{
			name:      "env fills the gaps",
			envToken:  "env-token",
			envPass:   "env-pass",
			wantMode:  "token",
			wantToken: "env-token",
			wantPass:  "env-pass",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANONRELAY_GATEWAY_TOKEN", tt.envToken)
			t.Setenv("ANONRELAY_GATEWAY_PASSWORD", tt.envPass)

			c := ResolveCredentials(tt.cfg)
			assert.Equal(t, tt.wantMode, c.Mode)
			assert.Equal(t, tt.wantToken, c.Token)
			assert.Equal(t, tt.wantPass, c.Password)
		})
	}
}

func TestCredentialsVerify(t *testing.T) {
	tokenAuth := Credentials{Mode: AuthModeToken, Token: "secret"}
	passAuth := Credentials{Mode: AuthModePassword, Password: "pass123"}

	tests := []struct {
		name      string
		creds     Credentials
		presented *ConnectAuth
		want      string
		wantErr   error
	}{
		{"token ok", tokenAuth, &ConnectAuth{Token: "secret"}, "token", nil},
		{"token mismatch", tokenAuth, &ConnectAuth{Token: "wrong"}, "", ErrCredentialsMismatch},
		{"token missing", tokenAuth, &ConnectAuth{Password: "secret"}, "", ErrNoCredentials},
		{"no auth block", tokenAuth, nil, "", ErrNoCredentials},
		{"server token unset", Credentials{Mode: AuthModeToken}, &ConnectAuth{Token: "x"}, "", ErrAuthNotConfigured},
		{"password ok", passAuth, &ConnectAuth{Password: "pass123"}, "password", nil},
		{"password mismatch", passAuth, &ConnectAuth{Password: "nope"}, "", ErrCredentialsMismatch},
		{"password ignores token", passAuth, &ConnectAuth{Token: "pass123"}, "", ErrNoCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, err := tt.creds.Verify(tt.presented)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, method)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, method)
		})
	}
}

func TestCredentialsVerify_UnknownMode(t *testing.T) {
	_, err := Credentials{Mode: "oauth"}.Verify(&ConnectAuth{Token: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown auth mode")
}

// limiterAt returns a limiter whose clock the test advances.
func limiterAt(start time.Time) (*failureLimiter, *time.Time) {
	now := start
	l := newFailureLimiter()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestFailureLimiter_BlocksAfterBudget(t *testing.T) {
	l, _ := limiterAt(time.Unix(1_700_000_000, 0))

	assert.True(t, l.allow("192.168.1.1:12345"))
	for range authMaxFails - 1 {
		l.recordFailure("192.168.1.1:12345")
	}
	assert.True(t, l.allow("192.168.1.1:12345"))

	l.recordFailure("192.168.1.1:12345")
	assert.False(t, l.allow("192.168.1.1:12345"))
	assert.False(t, l.allow("192.168.1.1:40000"), "port does not matter")
	assert.True(t, l.allow("192.168.1.2:12345"), "other hosts unaffected")
}

func TestFailureLimiter_HostWithoutPort(t *testing.T) {
	l, _ := limiterAt(time.Unix(1_700_000_000, 0))
	for range authMaxFails {
		l.recordFailure("10.0.0.9")
	}
	assert.False(t, l.allow("10.0.0.9"))
	assert.False(t, l.allow("10.0.0.9:5555"))
}

func TestFailureLimiter_Refills(t *testing.T) {
	l, now := limiterAt(time.Unix(1_700_000_000, 0))
	for range authMaxFails {
		l.recordFailure("192.168.1.1:1")
	}
	require.False(t, l.allow("192.168.1.1:1"))

	*now = now.Add(authFailWindow/authMaxFails + time.Second)
	assert.True(t, l.allow("192.168.1.1:1"), "one attempt refills per interval")

	l.recordFailure("192.168.1.1:1")
	assert.False(t, l.allow("192.168.1.1:1"))
}

func TestFailureLimiter_EvictsAtCapacity(t *testing.T) {
	l, now := limiterAt(time.Unix(1_700_000_000, 0))
	for i := range authMaxHosts {
		l.recordFailure(fmt.Sprintf("10.%d.%d.%d:1", i>>16&0xff, i>>8&0xff, i&0xff))
		*now = now.Add(time.Millisecond)
	}
	require.Len(t, l.hosts, authMaxHosts)

	l.recordFailure("172.16.0.1:1")
	assert.Len(t, l.hosts, authMaxHosts)
	_, kept := l.hosts["172.16.0.1"]
	assert.True(t, kept)
	_, oldest := l.hosts["10.0.0.0"]
	assert.False(t, oldest, "least recently seen host is evicted")
}
