package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/soyeahso/anonrelay/internal/domain"
)

// MessageStore persists anonymous messages and serves viewer projections.
type MessageStore struct {
	db  *DB
	now func() time.Time
}

// NewMessageStore creates a message store using the given database.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db, now: time.Now}
}

const messageColumns = `id, recipient_id, sender_id, sender_name, sender_handle, body, media_ref, sent_at, is_read, reply_to`

// Append stores a new unread message timestamped now and returns its id.
func (s *MessageStore) Append(ctx context.Context, m domain.NewMessage) (domain.MessageID, error) {
	res, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO messages (recipient_id, sender_id, sender_name, sender_handle, body, media_ref, sent_at, reply_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(m.RecipientID), int64(m.SenderID), m.SenderName, nullText(m.SenderHandle),
		nullText(m.Body), nullText(m.MediaRef), s.now().UTC().Format(time.RFC3339Nano), nullID(int64(m.ReplyTo)),
	)
	if err != nil {
		return 0, unavailable("append message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, unavailable("append message", err)
	}
	return domain.MessageID(id), nil
}

// MarkRead flips the read flag. Repeating it, or naming an unknown id, is a no-op.
func (s *MessageStore) MarkRead(ctx context.Context, id domain.MessageID) error {
	if _, err := s.db.sql.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE id = ? AND is_read = 0`, int64(id)); err != nil {
		return unavailable("mark read", err)
	}
	return nil
}

// UnreadCount returns the number of unread messages addressed to recipient.
func (s *MessageStore) UnreadCount(ctx context.Context, recipient domain.UserID) (int, error) {
	var n int
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE recipient_id = ? AND is_read = 0`, int64(recipient)).Scan(&n)
	if err != nil {
		return 0, unavailable("unread count", err)
	}
	return n, nil
}

// ListFor returns every message addressed to recipient, newest first,
// projected for the viewer. Listing never marks anything read.
func (s *MessageStore) ListFor(ctx context.Context, recipient domain.UserID, viewerIsOperator bool) ([]domain.MessageView, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE recipient_id = ? ORDER BY id DESC`, int64(recipient))
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	defer rows.Close()

	var views []domain.MessageView
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, unavailable("list messages", err)
		}
		views = append(views, domain.Project(m, viewerIsOperator))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list messages", err)
	}
	return views, nil
}

// Get returns one message projected for the viewer, or domain.ErrNotFound.
func (s *MessageStore) Get(ctx context.Context, id domain.MessageID, viewerIsOperator bool) (domain.MessageView, error) {
	m, err := s.Record(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.Project(m, viewerIsOperator), nil
}

// Record returns the full stored row. It is meant for authorization
// decisions and must not be rendered to non-operators.
func (s *MessageStore) Record(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, int64(id))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, unavailable("get message", err)
	}
	return m, nil
}

// ListAdmin returns the most recent messages across all users with both
// parties identified. Recipient names are joined live; an unknown recipient
// yields empty names.
func (s *MessageStore) ListAdmin(ctx context.Context, limit int) ([]domain.AdminMessageView, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT m.id, m.sender_id, m.sender_name, COALESCE(m.sender_handle, ''), m.recipient_id,
		       COALESCE(u.display_name, ''), COALESCE(u.handle, ''),
		       COALESCE(m.body, ''), COALESCE(m.media_ref, ''), m.sent_at, m.is_read
		FROM messages m
		LEFT JOIN users u ON u.user_id = m.recipient_id
		ORDER BY m.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("list admin messages", err)
	}
	defer rows.Close()

	var views []domain.AdminMessageView
	for rows.Next() {
		var (
			v                     domain.AdminMessageView
			id, sender, recipient int64
			sentAt                string
			read                  int
		)
		if err := rows.Scan(&id, &sender, &v.SenderName, &v.SenderHandle, &recipient,
			&v.RecipientName, &v.RecipientHandle, &v.Body, &v.MediaRef, &sentAt, &read); err != nil {
			return nil, unavailable("list admin messages", err)
		}
		v.ID = domain.MessageID(id)
		v.SenderID = domain.UserID(sender)
		v.RecipientID = domain.UserID(recipient)
		v.SentAt, _ = time.Parse(time.RFC3339Nano, sentAt)
		v.Read = read == 1
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list admin messages", err)
	}
	return views, nil
}

// Count returns the total number of stored messages.
func (s *MessageStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, unavailable("count messages", err)
	}
	return n, nil
}

func scanMessage(r rowScanner) (domain.Message, error) {
	var (
		m                     domain.Message
		id, recipient, sender int64
		handle, body, media   sql.NullString
		replyTo               sql.NullInt64
		sentAt                string
		read                  int
	)
	if err := r.Scan(&id, &recipient, &sender, &m.SenderName, &handle,
		&body, &media, &sentAt, &read, &replyTo); err != nil {
		return domain.Message{}, err
	}
	m.ID = domain.MessageID(id)
	m.RecipientID = domain.UserID(recipient)
	m.SenderID = domain.UserID(sender)
	m.SentAt, _ = time.Parse(time.RFC3339Nano, sentAt)
	m.Read = read == 1
	m.SenderHandle = handle.String
	m.Body = body.String
	m.MediaRef = media.String
	m.ReplyTo = domain.MessageID(replyTo.Int64)
	return m, nil
}

// nullText stores an absent optional field as NULL.
func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullID stores a missing reference as NULL.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
