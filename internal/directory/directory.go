// Package directory maps unguessable link tokens to the users who own them.
package directory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/logging"
	"github.com/soyeahso/anonrelay/internal/store"
)

// Alphabet is the set of characters a link token is drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	DefaultLength      = 8
	DefaultMaxAttempts = 64
)

// Users is the durable side of the directory.
type Users interface {
	EnsureUser(ctx context.Context, p domain.Profile) (domain.User, bool, error)
	ClaimToken(ctx context.Context, id domain.UserID, token string) (bool, error)
	TokenOf(ctx context.Context, id domain.UserID) (string, bool, error)
	ByToken(ctx context.Context, token string) (domain.UserID, bool, error)
}

// Generator produces candidate tokens of the given length.
type Generator func(length int) (string, error)

// Options tunes token generation. Zero values select the defaults.
type Options struct {
	Length      int
	MaxAttempts int
	Generate    Generator
}

// Directory registers users and resolves link tokens.
type Directory struct {
	users       Users
	length      int
	maxAttempts int
	generate    Generator
	log         *logging.Logger
}

// New creates a directory backed by users.
func New(users Users, opts Options, log *logging.Logger) *Directory {
	if opts.Length <= 0 {
		opts.Length = DefaultLength
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Generate == nil {
		opts.Generate = RandomToken
	}
	return &Directory{
		users:       users,
		length:      opts.Length,
		maxAttempts: opts.MaxAttempts,
		generate:    opts.Generate,
		log:         log.Sub("directory"),
	}
}

// Registration is the outcome of Register.
type Registration struct {
	User    domain.User
	Token   string
	Created bool // the user row did not exist before
}

// Register ensures the user exists and owns a token, generating one on first
// call. Later calls return the same token.
func (d *Directory) Register(ctx context.Context, p domain.Profile) (Registration, error) {
	u, created, err := d.users.EnsureUser(ctx, p)
	if err != nil {
		return Registration{}, err
	}
	reg := Registration{User: u, Token: u.LinkToken, Created: created}
	if reg.Token != "" {
		return reg, nil
	}

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		candidate, err := d.generate(d.length)
		if err != nil {
			return Registration{}, fmt.Errorf("generating link token: %w", err)
		}
		claimed, err := d.users.ClaimToken(ctx, p.ID, candidate)
		if errors.Is(err, store.ErrTokenTaken) {
			d.log.Debug().Int("attempt", attempt).Msg("link token collision")
			continue
		}
		if err != nil {
			return Registration{}, err
		}
		if !claimed {
			// A concurrent Register for the same user won; use its token.
			token, ok, err := d.users.TokenOf(ctx, p.ID)
			if err != nil {
				return Registration{}, err
			}
			if !ok {
				return Registration{}, fmt.Errorf("claim token: user %s vanished: %w", p.ID, domain.ErrStorageUnavailable)
			}
			candidate = token
		}
		reg.Token = candidate
		reg.User.LinkToken = candidate
		return reg, nil
	}

	return Registration{}, fmt.Errorf("register %s after %d attempts: %w", p.ID, d.maxAttempts, domain.ErrDirectoryExhausted)
}

// Resolve returns the owner of token. Tokens that cannot have been issued
// are reported as not found without a store lookup.
func (d *Directory) Resolve(ctx context.Context, token string) (domain.UserID, bool, error) {
	if !d.WellFormed(token) {
		return 0, false, nil
	}
	return d.users.ByToken(ctx, token)
}

// LinkOf returns the token assigned to id, if any.
func (d *Directory) LinkOf(ctx context.Context, id domain.UserID) (string, bool, error) {
	return d.users.TokenOf(ctx, id)
}

// WellFormed reports whether token has the configured length and alphabet.
func (d *Directory) WellFormed(token string) bool {
	if len(token) != d.length {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// RandomToken draws length characters uniformly from Alphabet using crypto/rand.
func RandomToken(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(Alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf), nil
}
