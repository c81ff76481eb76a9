package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create users and messages",
		SQL: `
			CREATE TABLE users (
				user_id      INTEGER PRIMARY KEY,
				display_name TEXT NOT NULL DEFAULT '',
				handle       TEXT,
				join_date    TEXT NOT NULL,
				link_token   TEXT,
				is_operator  INTEGER NOT NULL DEFAULT 0
			);

			CREATE UNIQUE INDEX idx_users_link_token ON users (link_token);
			CREATE INDEX idx_users_join_date ON users (join_date);

			CREATE TABLE messages (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				recipient_id  INTEGER NOT NULL,
				sender_id     INTEGER NOT NULL,
				sender_name   TEXT NOT NULL DEFAULT '',
				sender_handle TEXT,
				body          TEXT,
				media_ref     TEXT,
				sent_at       TEXT NOT NULL,
				is_read       INTEGER NOT NULL DEFAULT 0,
				reply_to      INTEGER
			);

			CREATE INDEX idx_messages_recipient ON messages (recipient_id, id);
			CREATE INDEX idx_messages_unread ON messages (recipient_id, is_read);
		`,
	},
}
