package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func fileDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "relay.db"), logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func profile(id int64, name, handle string) domain.Profile {
	return domain.Profile{ID: domain.UserID(id), DisplayName: name, Handle: handle}
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
	assert.NoError(t, db.Ping(context.Background()))
}

func TestOpen_File(t *testing.T) {
	path := t.TempDir() + "/nested/relay.db"
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening applies no migrations twice.
	db, err = Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestOpen_PragmasOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	db := fileDB(t)

	// Hold several connections at once so the pool has to open new ones.
	for i := range 4 {
		conn, err := db.sql.Conn(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		var timeout, fk int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 5000, timeout, "conn %d", i)
		assert.Equal(t, 1, fk, "conn %d", i)
	}
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	err := db.migrate()
	require.NoError(t, err)

	var count int
	err = db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"users", "messages"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

// --- UserStore tests ---

func TestUserStore_EnsureUser_CreatesThenRefreshes(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(testDB(t))

	u, created, err := users.EnsureUser(ctx, profile(100, "Una", "una"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.UserID(100), u.ID)
	assert.Equal(t, "Una", u.DisplayName)
	assert.Empty(t, u.LinkToken)
	assert.False(t, u.IsOperator)
	assert.False(t, u.JoinedAt.IsZero())

	u2, created, err := users.EnsureUser(ctx, profile(100, "Una Renamed", ""))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Una Renamed", u2.DisplayName)
	assert.Empty(t, u2.Handle)
	assert.Equal(t, u.JoinedAt, u2.JoinedAt)
}

func TestUserStore_Get_NotFound(t *testing.T) {
	users := NewUserStore(testDB(t))
	_, err := users.Get(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserStore_ClaimToken(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(testDB(t))
	_, _, err := users.EnsureUser(ctx, profile(1, "A", ""))
	require.NoError(t, err)
	_, _, err = users.EnsureUser(ctx, profile(2, "B", ""))
	require.NoError(t, err)

	claimed, err := users.ClaimToken(ctx, 1, "AbCd1234")
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim for the same user never replaces the first token.
	claimed, err = users.ClaimToken(ctx, 1, "ZzZz9999")
	require.NoError(t, err)
	assert.False(t, claimed)

	token, ok, err := users.TokenOf(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "AbCd1234", token)

	// Another user cannot take the same token.
	_, err = users.ClaimToken(ctx, 2, "AbCd1234")
	assert.ErrorIs(t, err, ErrTokenTaken)

	_, ok, err = users.TokenOf(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserStore_ByToken_Exact(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(testDB(t))
	_, _, err := users.EnsureUser(ctx, profile(7, "Seven", ""))
	require.NoError(t, err)
	_, err = users.ClaimToken(ctx, 7, "Tok3nAbc")
	require.NoError(t, err)

	id, ok, err := users.ByToken(ctx, "Tok3nAbc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.UserID(7), id)

	_, ok, err = users.ByToken(ctx, "tok3nabc")
	require.NoError(t, err)
	assert.False(t, ok, "lookup is case sensitive")
}

func TestUserStore_PromoteOperator(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(testDB(t))
	_, _, err := users.EnsureUser(ctx, profile(5, "Op", ""))
	require.NoError(t, err)

	require.NoError(t, users.PromoteOperator(ctx, 5))
	require.NoError(t, users.PromoteOperator(ctx, 5))
	u, err := users.Get(ctx, 5)
	require.NoError(t, err)
	assert.True(t, u.IsOperator)

	assert.ErrorIs(t, users.PromoteOperator(ctx, 6), domain.ErrNotFound)
}

func TestUserStore_ListAndCount(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(testDB(t))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 4; i++ {
		users.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		_, _, err := users.EnsureUser(ctx, profile(i, "user", ""))
		require.NoError(t, err)
	}

	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	list, err := users.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, domain.UserID(4), list[0].ID, "newest first")
	assert.Equal(t, domain.UserID(2), list[2].ID)

	all, err := users.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

// --- MessageStore tests ---

func TestMessageStore_AppendAndGet(t *testing.T) {
	ctx := context.Background()
	msgs := NewMessageStore(testDB(t))
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs.now = func() time.Time { return fixed }

	id, err := msgs.Append(ctx, domain.NewMessage{
		RecipientID: 100, SenderID: 200, SenderName: "Vera", SenderHandle: "vera",
		Body: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(1), id)

	rec, err := msgs.Record(ctx, id)
	require.NoError(t, err)
	want := domain.Message{
		ID: id, RecipientID: 100, SenderID: 200, SenderName: "Vera", SenderHandle: "vera",
		Body: "hello", SentAt: fixed,
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	basic, err := msgs.Get(ctx, id, false)
	require.NoError(t, err)
	_, isOperator := basic.(domain.OperatorView)
	assert.False(t, isOperator)
	assert.Equal(t, "hello", basic.Basic().Body)

	op, err := msgs.Get(ctx, id, true)
	require.NoError(t, err)
	ov, ok := op.(domain.OperatorView)
	require.True(t, ok)
	assert.Equal(t, domain.UserID(200), ov.SenderID)
	assert.Equal(t, "Vera", ov.SenderName)
}

func TestMessageStore_Get_NotFound(t *testing.T) {
	msgs := NewMessageStore(testDB(t))
	_, err := msgs.Get(context.Background(), 999, true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMessageStore_IDsIncrease(t *testing.T) {
	ctx := context.Background()
	msgs := NewMessageStore(testDB(t))
	var last domain.MessageID
	for i := 0; i < 5; i++ {
		id, err := msgs.Append(ctx, domain.NewMessage{RecipientID: 1, SenderID: 2, Body: "x"})
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestMessageStore_ReadMonotonic(t *testing.T) {
	ctx := context.Background()
	msgs := NewMessageStore(testDB(t))
	id, err := msgs.Append(ctx, domain.NewMessage{RecipientID: 1, SenderID: 2, Body: "x"})
	require.NoError(t, err)

	n, err := msgs.UnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Listing never marks read.
	_, err = msgs.ListFor(ctx, 1, false)
	require.NoError(t, err)
	n, err = msgs.UnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, msgs.MarkRead(ctx, id))
	require.NoError(t, msgs.MarkRead(ctx, id))
	require.NoError(t, msgs.MarkRead(ctx, 12345))

	n, err = msgs.UnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rec, err := msgs.Record(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Read)
}

func TestMessageStore_ListFor_NewestFirstAndProjected(t *testing.T) {
	ctx := context.Background()
	msgs := NewMessageStore(testDB(t))
	for _, body := range []string{"first", "second", "third"} {
		_, err := msgs.Append(ctx, domain.NewMessage{RecipientID: 1, SenderID: 2, SenderName: "S", Body: body})
		require.NoError(t, err)
	}
	_, err := msgs.Append(ctx, domain.NewMessage{RecipientID: 9, SenderID: 2, Body: "elsewhere"})
	require.NoError(t, err)

	views, err := msgs.ListFor(ctx, 1, false)
	require.NoError(t, err)
	var bodies []string
	for _, v := range views {
		_, isOperator := v.(domain.OperatorView)
		assert.False(t, isOperator)
		bodies = append(bodies, v.Basic().Body)
	}
	assert.Equal(t, []string{"third", "second", "first"}, bodies)

	opViews, err := msgs.ListFor(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, opViews, 3)
	for _, v := range opViews {
		ov, ok := v.(domain.OperatorView)
		require.True(t, ok)
		assert.Equal(t, domain.UserID(2), ov.SenderID)
	}

	empty, err := msgs.ListFor(ctx, 42, false)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMessageStore_ReplyThreading(t *testing.T) {
	ctx := context.Background()
	msgs := NewMessageStore(testDB(t))
	first, err := msgs.Append(ctx, domain.NewMessage{RecipientID: 100, SenderID: 200, Body: "hi"})
	require.NoError(t, err)
	reply, err := msgs.Append(ctx, domain.NewMessage{RecipientID: 200, SenderID: 100, Body: "back", ReplyTo: first})
	require.NoError(t, err)

	rec, err := msgs.Record(ctx, reply)
	require.NoError(t, err)
	assert.Equal(t, first, rec.ReplyTo)
	assert.Equal(t, domain.UserID(200), rec.RecipientID)
}

func TestMessageStore_ListAdmin(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	users := NewUserStore(db)
	msgs := NewMessageStore(db)

	_, _, err := users.EnsureUser(ctx, profile(100, "Una", "una"))
	require.NoError(t, err)
	_, err = msgs.Append(ctx, domain.NewMessage{RecipientID: 100, SenderID: 200, SenderName: "Vera", Body: "one"})
	require.NoError(t, err)
	_, err = msgs.Append(ctx, domain.NewMessage{RecipientID: 300, SenderID: 200, SenderName: "Vera", MediaRef: "file-1"})
	require.NoError(t, err)

	views, err := msgs.ListAdmin(ctx, 10)
	require.NoError(t, err)
	require.Len(t, views, 2)

	want := []domain.AdminMessageView{
		{ID: 2, SenderID: 200, SenderName: "Vera", RecipientID: 300, MediaRef: "file-1"},
		{ID: 1, SenderID: 200, SenderName: "Vera", RecipientID: 100, RecipientName: "Una", RecipientHandle: "una", Body: "one"},
	}
	if diff := cmp.Diff(want, views, cmpopts.IgnoreFields(domain.AdminMessageView{}, "SentAt")); diff != "" {
		t.Errorf("admin views mismatch (-want +got):\n%s", diff)
	}

	// Recipient names are joined live.
	_, _, err = users.EnsureUser(ctx, profile(100, "Una Renamed", "una"))
	require.NoError(t, err)
	views, err = msgs.ListAdmin(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	views, err = msgs.ListAdmin(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Una Renamed", views[1].RecipientName)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	users := NewUserStore(db)
	msgs := NewMessageStore(db)

	_, _, err := users.EnsureUser(ctx, profile(1, "A", ""))
	require.NoError(t, err)
	_, _, err = users.EnsureUser(ctx, profile(2, "B", ""))
	require.NoError(t, err)
	require.NoError(t, users.PromoteOperator(ctx, 2))
	id, err := msgs.Append(ctx, domain.NewMessage{RecipientID: 1, SenderID: 2, Body: "x"})
	require.NoError(t, err)
	_, err = msgs.Append(ctx, domain.NewMessage{RecipientID: 1, SenderID: 2, Body: "y"})
	require.NoError(t, err)
	require.NoError(t, msgs.MarkRead(ctx, id))

	st, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Users: 2, Operators: 1, Messages: 2, Unread: 1}, st)

	n, err := msgs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAdmin_ReadModel(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	admin := NewAdmin(db)

	_, _, err := admin.Users.EnsureUser(ctx, profile(1, "Uma", "uma"))
	require.NoError(t, err)
	_, _, err = admin.Users.EnsureUser(ctx, profile(2, "Vera", "vera"))
	require.NoError(t, err)
	_, err = admin.Messages.Append(ctx, domain.NewMessage{
		RecipientID: 1, SenderID: 2, SenderName: "Vera", SenderHandle: "vera", Body: "hello",
	})
	require.NoError(t, err)

	st, err := admin.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Users: 2, Messages: 1, Unread: 1}, st)

	users, err := admin.ListUsers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, users, 1)

	msgs, err := admin.ListMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.UserID(2), msgs[0].SenderID)
	assert.Equal(t, domain.UserID(1), msgs[0].RecipientID)
}

func TestClosedDB_StorageUnavailable(t *testing.T) {
	ctx := context.Background()
	db, err := Open(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	users := NewUserStore(db)
	msgs := NewMessageStore(db)
	require.NoError(t, db.Close())

	_, err = msgs.Append(ctx, domain.NewMessage{RecipientID: 1, SenderID: 2})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	_, _, err = users.EnsureUser(ctx, profile(1, "A", ""))
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	_, err = msgs.Get(ctx, 1, false)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.False(t, errors.Is(err, domain.ErrNotFound))

	_, err = db.Stats(ctx)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestMessageStore_ConcurrentAppend_FileDB(t *testing.T) {
	ctx := context.Background()
	msgs := NewMessageStore(fileDB(t))

	const senders, perSender = 32, 50
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ids    = make(map[domain.MessageID]bool)
		failed []error
	)
	for s := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perSender {
				id, err := msgs.Append(ctx, domain.NewMessage{
					RecipientID: 1,
					SenderID:    domain.UserID(100 + s),
					Body:        fmt.Sprintf("msg %d", i),
				})
				mu.Lock()
				if err != nil {
					failed = append(failed, err)
				} else {
					ids[id] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failed)
	assert.Len(t, ids, senders*perSender)
	n, err := msgs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, senders*perSender, n)
}

func TestUserStore_ConcurrentRegistration_FileDB(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(fileDB(t))

	var wg sync.WaitGroup
	errs := make([]error, 24)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := int64(i + 1)
			if _, _, err := users.EnsureUser(ctx, profile(id, "user", "")); err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = users.ClaimToken(ctx, domain.UserID(id), fmt.Sprintf("Tok%05d", id))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "user %d", i+1)
	}
	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(errs), n)
}

func TestMessageStore_OptionalFieldsStoredAsNull(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	msgs := NewMessageStore(db)

	bare, err := msgs.Append(ctx, domain.NewMessage{RecipientID: 1, SenderID: 2, SenderName: "S"})
	require.NoError(t, err)
	full, err := msgs.Append(ctx, domain.NewMessage{
		RecipientID: 2, SenderID: 1, SenderName: "R", SenderHandle: "r",
		Body: "hi", MediaRef: "file-1", ReplyTo: bare,
	})
	require.NoError(t, err)

	nulls := func(id domain.MessageID) [4]bool {
		var n [4]bool
		require.NoError(t, db.sql.QueryRow(
			`SELECT sender_handle IS NULL, body IS NULL, media_ref IS NULL, reply_to IS NULL
			 FROM messages WHERE id = ?`, int64(id)).Scan(&n[0], &n[1], &n[2], &n[3]))
		return n
	}
	assert.Equal(t, [4]bool{true, true, true, true}, nulls(bare))
	assert.Equal(t, [4]bool{false, false, false, false}, nulls(full))

	m, err := msgs.Record(ctx, bare)
	require.NoError(t, err)
	assert.Empty(t, m.SenderHandle)
	assert.Empty(t, m.Body)
	assert.Empty(t, m.MediaRef)
	assert.Zero(t, m.ReplyTo)

	m, err = msgs.Record(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Body)
	assert.Equal(t, bare, m.ReplyTo)

	admin, err := msgs.ListAdmin(ctx, 0)
	require.NoError(t, err)
	require.Len(t, admin, 2)
	assert.Empty(t, admin[1].Body)
}

func TestUserStore_HandleStoredAsNull(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	users := NewUserStore(db)

	_, _, err := users.EnsureUser(ctx, profile(3, "Three", ""))
	require.NoError(t, err)

	var isNull bool
	require.NoError(t, db.sql.QueryRow(`SELECT handle IS NULL FROM users WHERE user_id = 3`).Scan(&isNull))
	assert.True(t, isNull)

	u, _, err := users.EnsureUser(ctx, profile(3, "Three", "three"))
	require.NoError(t, err)
	assert.Equal(t, "three", u.Handle)
}
