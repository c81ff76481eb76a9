package directory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/logging"
	"github.com/soyeahso/anonrelay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUsers(t *testing.T) *store.UserStore {
	t.Helper()
	db, err := store.Open(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewUserStore(db)
}

func testLog() *logging.Logger { return logging.New(nil, "silent") }

// scripted returns the given tokens in order, then repeats the last one.
func scripted(tokens ...string) Generator {
	var mu sync.Mutex
	i := 0
	return func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		tok := tokens[min(i, len(tokens)-1)]
		i++
		return tok, nil
	}
}

func TestRandomToken_Shape(t *testing.T) {
	d := New(nil, Options{}, testLog())
	for i := 0; i < 200; i++ {
		tok, err := RandomToken(8)
		require.NoError(t, err)
		assert.True(t, d.WellFormed(tok), "token %q", tok)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	ctx := context.Background()
	d := New(testUsers(t), Options{}, testLog())

	first, err := d.Register(ctx, domain.Profile{ID: 100, DisplayName: "Una"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Len(t, first.Token, DefaultLength)

	second, err := d.Register(ctx, domain.Profile{ID: 100, DisplayName: "Una"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Token, second.Token)

	token, ok, err := d.LinkOf(ctx, 100)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first.Token, token)
}

func TestRegister_Unique(t *testing.T) {
	ctx := context.Background()
	d := New(testUsers(t), Options{}, testLog())

	seen := map[string]domain.UserID{}
	for id := domain.UserID(1); id <= 200; id++ {
		reg, err := d.Register(ctx, domain.Profile{ID: id})
		require.NoError(t, err)
		prev, dup := seen[reg.Token]
		require.False(t, dup, "token %s issued to %s and %s", reg.Token, prev, id)
		seen[reg.Token] = id

		owner, ok, err := d.Resolve(ctx, reg.Token)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, owner)
	}
}

func TestRegister_RetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	users := testUsers(t)
	d := New(users, Options{Generate: scripted("AAAAAAAA", "AAAAAAAA", "AAAAAAAA", "BBBBBBBB")}, testLog())

	a, err := d.Register(ctx, domain.Profile{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", a.Token)

	b, err := d.Register(ctx, domain.Profile{ID: 2})
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", b.Token)
}

func TestRegister_Exhausted(t *testing.T) {
	ctx := context.Background()
	users := testUsers(t)
	d := New(users, Options{MaxAttempts: 3, Generate: scripted("SAMESAME")}, testLog())

	_, err := d.Register(ctx, domain.Profile{ID: 1})
	require.NoError(t, err)

	_, err = d.Register(ctx, domain.Profile{ID: 2})
	assert.ErrorIs(t, err, domain.ErrDirectoryExhausted)

	// The user row exists but still has no token; a later attempt may succeed.
	_, ok, err := d.LinkOf(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegister_Concurrent(t *testing.T) {
	ctx := context.Background()
	d := New(testUsers(t), Options{}, testLog())

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg, err := d.Register(ctx, domain.Profile{ID: 55})
			if err == nil {
				tokens[i] = reg.Token
			}
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
	assert.NotEmpty(t, tokens[0])
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	d := New(testUsers(t), Options{Generate: scripted("Abc12345")}, testLog())
	_, err := d.Register(ctx, domain.Profile{ID: 9})
	require.NoError(t, err)

	tests := []struct {
		token string
		found bool
	}{
		{"Abc12345", true},
		{"abc12345", false},
		{"Abc1234", false},
		{"Abc12345 ", false},
		{"Abc-2345", false},
		{"", false},
		{"Zzz99999", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.token), func(t *testing.T) {
			id, ok, err := d.Resolve(ctx, tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, domain.UserID(9), id)
			}
		})
	}
}

func TestWellFormed_CustomLength(t *testing.T) {
	d := New(nil, Options{Length: 12}, testLog())
	assert.True(t, d.WellFormed("abcdefABCDEF"))
	assert.False(t, d.WellFormed("abcdefgh"))
}
