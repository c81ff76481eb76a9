package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/soyeahso/anonrelay/internal/domain"
)

// ErrTokenTaken is returned by ClaimToken when another user already holds
// the token.
var ErrTokenTaken = errors.New("link token already taken")

// UserStore persists users and their link tokens.
type UserStore struct {
	db  *DB
	now func() time.Time
}

// NewUserStore creates a user store using the given database.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db, now: time.Now}
}

const userColumns = `user_id, display_name, handle, join_date, link_token, is_operator`

// EnsureUser creates the user on first contact and refreshes the display
// name and handle on later calls. created reports whether the row is new.
func (s *UserStore) EnsureUser(ctx context.Context, p domain.Profile) (u domain.User, created bool, err error) {
	res, err := s.db.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id, display_name, handle, join_date) VALUES (?, ?, ?, ?)`,
		int64(p.ID), p.DisplayName, nullText(p.Handle), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.User{}, false, unavailable("ensure user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.User{}, false, unavailable("ensure user", err)
	}
	created = n == 1

	if !created {
		if _, err := s.db.sql.ExecContext(ctx,
			`UPDATE users SET display_name = ?, handle = ? WHERE user_id = ?`,
			p.DisplayName, nullText(p.Handle), int64(p.ID),
		); err != nil {
			return domain.User{}, false, unavailable("refresh user", err)
		}
	}

	u, err = s.Get(ctx, p.ID)
	return u, created, err
}

// Get returns a user by id, or domain.ErrNotFound.
func (s *UserStore) Get(ctx context.Context, id domain.UserID) (domain.User, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, int64(id))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, unavailable("get user", err)
	}
	return u, nil
}

// ClaimToken assigns token to the user if they have none yet. It is a single
// conditional UPDATE guarded by the unique index: claimed is false when the
// user already holds a token, and ErrTokenTaken is returned when another
// user holds this one.
func (s *UserStore) ClaimToken(ctx context.Context, id domain.UserID, token string) (claimed bool, err error) {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE users SET link_token = ? WHERE user_id = ? AND link_token IS NULL`,
		token, int64(id),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrTokenTaken
		}
		return false, unavailable("claim token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("claim token", err)
	}
	return n == 1, nil
}

// TokenOf returns the user's link token, if one has been assigned.
func (s *UserStore) TokenOf(ctx context.Context, id domain.UserID) (string, bool, error) {
	var token sql.NullString
	err := s.db.sql.QueryRowContext(ctx, `SELECT link_token FROM users WHERE user_id = ?`, int64(id)).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("token of", err)
	}
	return token.String, token.Valid, nil
}

// ByToken resolves a link token to its owner. Matching is exact.
func (s *UserStore) ByToken(ctx context.Context, token string) (domain.UserID, bool, error) {
	var id int64
	err := s.db.sql.QueryRowContext(ctx, `SELECT user_id FROM users WHERE link_token = ?`, token).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("resolve token", err)
	}
	return domain.UserID(id), true, nil
}

// PromoteOperator sets the operator flag. There is no demotion.
func (s *UserStore) PromoteOperator(ctx context.Context, id domain.UserID) error {
	res, err := s.db.sql.ExecContext(ctx, `UPDATE users SET is_operator = 1 WHERE user_id = ?`, int64(id))
	if err != nil {
		return unavailable("promote operator", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("promote operator", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns users, most recently joined first. A limit <= 0 means all.
func (s *UserStore) List(ctx context.Context, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY join_date DESC, user_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("list users", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, unavailable("list users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list users", err)
	}
	return users, nil
}

// Count returns the number of registered users.
func (s *UserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, unavailable("count users", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (domain.User, error) {
	var (
		u        domain.User
		id       int64
		joinedAt string
		handle   sql.NullString
		token    sql.NullString
		operator int
	)
	if err := r.Scan(&id, &u.DisplayName, &handle, &joinedAt, &token, &operator); err != nil {
		return domain.User{}, err
	}
	u.ID = domain.UserID(id)
	u.JoinedAt, _ = time.Parse(time.RFC3339Nano, joinedAt)
	u.Handle = handle.String
	u.LinkToken = token.String
	u.IsOperator = operator == 1
	return u, nil
}
