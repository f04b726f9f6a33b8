package cache

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	account_id      TEXT NOT NULL,
	uid             INTEGER NOT NULL,
	message_id      TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	from_addr       TEXT NOT NULL DEFAULT '',
	from_name       TEXT NOT NULL DEFAULT '',
	to_addr         TEXT NOT NULL DEFAULT '',
	date            INTEGER NOT NULL,
	flags           INTEGER NOT NULL DEFAULT 0,
	has_attachments INTEGER NOT NULL DEFAULT 0,
	preview         TEXT NOT NULL DEFAULT '',
	body_cached     INTEGER NOT NULL DEFAULT 0,
	in_reply_to     TEXT NOT NULL DEFAULT '',
	references_json TEXT NOT NULL DEFAULT '[]',
	folder          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (account_id, uid)
);

CREATE INDEX IF NOT EXISTS idx_emails_account_date_uid
	ON emails(account_id, date DESC, uid DESC);
CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(message_id);

CREATE TABLE IF NOT EXISTS bodies (
	account_id TEXT NOT NULL,
	uid        INTEGER NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (account_id, uid)
);

CREATE VIRTUAL TABLE IF NOT EXISTS bodies_fts USING fts5(
	account_id UNINDEXED,
	uid UNINDEXED,
	body
);

CREATE TABLE IF NOT EXISTS attachments (
	account_id TEXT NOT NULL,
	uid        INTEGER NOT NULL,
	idx        INTEGER NOT NULL,
	filename   TEXT NOT NULL DEFAULT '',
	mime_type  TEXT NOT NULL DEFAULT '',
	size       INTEGER NOT NULL DEFAULT 0,
	path       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (account_id, uid, idx)
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	folder     TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL,
	read       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_account ON notifications(account_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE bodies ADD COLUMN raw BLOB NOT NULL DEFAULT X'';

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
