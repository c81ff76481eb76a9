package gateway

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/soyeahso/anonrelay/internal/config"
	"golang.org/x/time/rate"
)

// Authentication failures reported by Credentials.Verify.
var (
	ErrNoCredentials       = errors.New("no credentials provided")
	ErrCredentialsMismatch = errors.New("credentials do not match")
	ErrAuthNotConfigured   = errors.New("gateway secret not configured")
)

// Auth modes.
const (
	AuthModeToken    = "token"
	AuthModePassword = "password"
)

// Credentials is the gateway's resolved console secret.
type Credentials struct {
	Mode     string
	Token    string
	Password string
}

// ResolveCredentials merges the configured secret with ANONRELAY_GATEWAY_TOKEN
// and ANONRELAY_GATEWAY_PASSWORD. Config wins; the mode defaults to password
// when only a password is available.
func ResolveCredentials(cfg config.GatewayAuth) Credentials {
	c := Credentials{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if c.Token == "" {
		c.Token = os.Getenv("ANONRELAY_GATEWAY_TOKEN")
	}
	if c.Password == "" {
		c.Password = os.Getenv("ANONRELAY_GATEWAY_PASSWORD")
	}
	if c.Mode == "" {
		c.Mode = AuthModeToken
		if c.Password != "" && c.Token == "" {
			c.Mode = AuthModePassword
		}
	}
	return c
}

// Verify checks what a console presented and returns the method it passed.
func (c Credentials) Verify(presented *ConnectAuth) (string, error) {
	if presented == nil {
		return "", ErrNoCredentials
	}

	var want, got string
	switch c.Mode {
	case AuthModeToken:
		want, got = c.Token, presented.Token
	case AuthModePassword:
		want, got = c.Password, presented.Password
	default:
		return "", fmt.Errorf("unknown auth mode %q", c.Mode)
	}

	if want == "" {
		return "", fmt.Errorf("%w: %s", ErrAuthNotConfigured, c.Mode)
	}
	if got == "" {
		return "", fmt.Errorf("%w: %s required", ErrNoCredentials, c.Mode)
	}
	if !safeEqual(got, want) {
		return "", fmt.Errorf("%w: %s", ErrCredentialsMismatch, c.Mode)
	}
	return c.Mode, nil
}

// safeEqual compares in constant time without leaking the secret's length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

const (
	authFailWindow = 5 * time.Minute
	authMaxFails   = 10
	authMaxHosts   = 10000
)

// failureLimiter throttles hosts that keep failing the handshake. Each host
// gets a bucket of authMaxFails failures that refills over authFailWindow.
type failureLimiter struct {
	mu    sync.Mutex
	hosts map[string]*hostFailures
	now   func() time.Time
}

type hostFailures struct {
	bucket *rate.Limiter
	last   time.Time
}

func newFailureLimiter() *failureLimiter {
	return &failureLimiter{hosts: make(map[string]*hostFailures), now: time.Now}
}

func hostOf(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// allow reports whether remoteAddr may attempt another handshake.
func (l *failureLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.hosts[hostOf(remoteAddr)]
	if !ok {
		return true
	}
	return h.bucket.TokensAt(l.now()) >= 1
}

// recordFailure charges one failed handshake to remoteAddr's host.
func (l *failureLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.hosts[host]
	if !ok {
		if len(l.hosts) >= authMaxHosts {
			l.evictLocked(now)
		}
		h = &hostFailures{
			bucket: rate.NewLimiter(rate.Every(authFailWindow/authMaxFails), authMaxFails),
		}
		l.hosts[host] = h
	}
	h.bucket.AllowN(now, 1)
	h.last = now
}

// evictLocked forgets hosts whose bucket has refilled, and the least
// recently seen host if that frees nothing.
func (l *failureLimiter) evictLocked(now time.Time) {
	var oldest string
	for host, h := range l.hosts {
		if h.bucket.TokensAt(now) >= authMaxFails {
			delete(l.hosts, host)
			continue
		}
		if oldest == "" || h.last.Before(l.hosts[oldest].last) {
			oldest = host
		}
	}
	if len(l.hosts) >= authMaxHosts && oldest != "" {
		delete(l.hosts, oldest)
	}
}
