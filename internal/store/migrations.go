package store

type migration struct {
	version    int
	statements []string
}

// migrations is the ordered list of schema migrations.
// The DDL is shared between sqlite and postgres.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS email_accounts (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	email          TEXT NOT NULL,
	provider       TEXT NOT NULL,
	access_token   TEXT NOT NULL DEFAULT '',
	refresh_token  TEXT NOT NULL DEFAULT '',
	token_expiry   TIMESTAMP NULL,
	is_active      INTEGER NOT NULL DEFAULT 1,
	last_synced_at TIMESTAMP NULL,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL,
	UNIQUE (user_id, email, provider)
)`,
			`CREATE INDEX IF NOT EXISTS idx_email_accounts_user ON email_accounts (user_id, is_active)`,
			`CREATE TABLE IF NOT EXISTS oauth_states (
	id          TEXT PRIMARY KEY,
	state       TEXT NOT NULL UNIQUE,
	provider    TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	expires_at  TIMESTAMP NOT NULL,
	consumed_at TIMESTAMP NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_oauth_states_expires ON oauth_states (expires_at)`,
			`CREATE TABLE IF NOT EXISTS email_messages (
	id                  TEXT PRIMARY KEY,
	account_id          TEXT NOT NULL REFERENCES email_accounts (id) ON DELETE CASCADE,
	user_id             TEXT NOT NULL,
	provider_message_id TEXT NOT NULL,
	thread_id           TEXT NOT NULL DEFAULT '',
	owner               TEXT NOT NULL DEFAULT '',
	sender              TEXT NOT NULL DEFAULT '',
	recipients          TEXT NOT NULL DEFAULT '',
	subject             TEXT NOT NULL DEFAULT '',
	body                TEXT NOT NULL DEFAULT '',
	summary             TEXT NOT NULL DEFAULT '',
	is_read             INTEGER NOT NULL DEFAULT 0,
	folder              TEXT NOT NULL DEFAULT 'inbox',
	received_at         TIMESTAMP NOT NULL,
	secondary_id        TEXT NOT NULL DEFAULT '',
	raw_data            TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL,
	UNIQUE (account_id, provider_message_id)
)`,
			`CREATE INDEX IF NOT EXISTS idx_email_messages_user ON email_messages (user_id, folder, received_at)`,
		},
	},
}
