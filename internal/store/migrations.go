package store

import (
	"context"
	"fmt"
	"strings"
)

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations, written against
// portable SQL with dialect-specific column types substituted at run time.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS email_account (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	email         TEXT NOT NULL,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    {{TIMESTAMP}},
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    {{TIMESTAMP}} NOT NULL,
	updated_at    {{TIMESTAMP}} NOT NULL,
	UNIQUE (user_id, provider, email)
);

CREATE INDEX IF NOT EXISTS idx_email_account_user ON email_account(user_id);

CREATE TABLE IF NOT EXISTS email_lead (
	user_id                     TEXT NOT NULL,
	lead_id                     TEXT NOT NULL,
	owner                       TEXT NOT NULL DEFAULT '',
	subject                     TEXT NOT NULL DEFAULT '',
	summary                     TEXT NOT NULL DEFAULT '',
	internal_date               BIGINT NOT NULL DEFAULT 0,
	intent_category             TEXT NOT NULL,
	intent_confidence           {{REAL}} NOT NULL CHECK (intent_confidence >= 0 AND intent_confidence <= 1),
	intent_reason               TEXT NOT NULL,
	purchase_intent_score       INTEGER NOT NULL CHECK (purchase_intent_score >= 0 AND purchase_intent_score <= 100),
	purchase_intent_reason      TEXT NOT NULL,
	sentiment_label             TEXT NOT NULL CHECK (sentiment_label IN ('Positive', 'Neutral', 'Negative')),
	sentiment_score             {{REAL}} NOT NULL CHECK (sentiment_score >= -1 AND sentiment_score <= 1),
	sentiment_reason            TEXT NOT NULL,
	urgency_level               TEXT NOT NULL CHECK (urgency_level IN ('High', 'Medium', 'Low')),
	urgency_reason              TEXT NOT NULL,
	pain_points                 {{JSON}} NOT NULL,
	keywords                    {{JSON}} NOT NULL,
	upsell_value                BOOLEAN NOT NULL DEFAULT FALSE,
	upsell_reason               TEXT NOT NULL DEFAULT '',
	cross_sell_value            BOOLEAN NOT NULL DEFAULT FALSE,
	cross_sell_reason           TEXT NOT NULL DEFAULT '',
	discount_sensitivity_level  TEXT NOT NULL CHECK (discount_sensitivity_level IN ('High', 'Medium', 'Low')),
	discount_sensitivity_reason TEXT NOT NULL DEFAULT '',
	recommended_steps           {{JSON}} NOT NULL,
	priority_level              TEXT NOT NULL CHECK (priority_level IN ('High', 'Medium', 'Low')),
	created_at                  {{TIMESTAMP}} NOT NULL,
	updated_at                  {{TIMESTAMP}} NOT NULL,
	PRIMARY KEY (user_id, lead_id)
);

CREATE TABLE IF NOT EXISTS email_message (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	account_id    TEXT NOT NULL REFERENCES email_account(id) ON DELETE CASCADE,
	message_id    TEXT NOT NULL,
	lead_id       TEXT,
	thread_id     TEXT NOT NULL DEFAULT '',
	owner         TEXT NOT NULL DEFAULT '',
	sender        TEXT NOT NULL DEFAULT '',
	receiver      TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	summary       TEXT NOT NULL DEFAULT '',
	is_read       BOOLEAN NOT NULL DEFAULT FALSE,
	folder        TEXT NOT NULL DEFAULT '',
	internal_date BIGINT NOT NULL DEFAULT 0,
	history_id    TEXT NOT NULL DEFAULT '',
	raw_data      {{JSON}},
	created_at    {{TIMESTAMP}} NOT NULL,
	updated_at    {{TIMESTAMP}} NOT NULL,
	UNIQUE (account_id, message_id),
	FOREIGN KEY (user_id, lead_id) REFERENCES email_lead(user_id, lead_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_email_message_user ON email_message(user_id, folder);
CREATE INDEX IF NOT EXISTS idx_email_message_lead ON email_message(user_id, lead_id);

CREATE TABLE IF NOT EXISTS sync_state (
	account_id     TEXT PRIMARY KEY REFERENCES email_account(id) ON DELETE CASCADE,
	user_id        TEXT NOT NULL,
	status         TEXT NOT NULL,
	last_error     TEXT NOT NULL DEFAULT '',
	last_synced_at {{TIMESTAMP}},
	messages_seen  INTEGER NOT NULL DEFAULT 0,
	updated_at     {{TIMESTAMP}} NOT NULL
);

CREATE TABLE IF NOT EXISTS oauth_state (
	state      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	created_at {{TIMESTAMP}} NOT NULL,
	expires_at {{TIMESTAMP}} NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS event_outbox (
	id              {{SERIAL}},
	user_id         TEXT NOT NULL,
	subject         TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	payload         TEXT NOT NULL,
	msg_id          TEXT NOT NULL UNIQUE,
	retries         INTEGER NOT NULL DEFAULT 0,
	next_attempt_at BIGINT NOT NULL,
	published_at    BIGINT,
	created_at      BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_event_outbox_pending ON event_outbox(published_at, next_attempt_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS email_draft (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	account_id TEXT NOT NULL REFERENCES email_account(id) ON DELETE CASCADE,
	to_emails  {{JSON}} NOT NULL,
	cc_emails  {{JSON}} NOT NULL,
	bcc_emails {{JSON}} NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	is_html    BOOLEAN NOT NULL DEFAULT FALSE,
	status     TEXT NOT NULL CHECK (status IN ('draft', 'sent')),
	sent_at    {{TIMESTAMP}},
	created_at {{TIMESTAMP}} NOT NULL,
	updated_at {{TIMESTAMP}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_email_draft_user ON email_draft(user_id, updated_at);

CREATE TABLE IF NOT EXISTS sent_email (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	account_id          TEXT NOT NULL REFERENCES email_account(id) ON DELETE CASCADE,
	provider_message_id TEXT NOT NULL DEFAULT '',
	draft_id            TEXT,
	subject             TEXT NOT NULL DEFAULT '',
	recipients          {{JSON}} NOT NULL,
	cc_recipients       {{JSON}} NOT NULL,
	bcc_recipients      {{JSON}} NOT NULL,
	body_preview        TEXT NOT NULL DEFAULT '',
	sent_at             {{TIMESTAMP}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sent_email_user ON sent_email(user_id, sent_at);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}

func (s *Store) columnTypes() *strings.Replacer {
	if s.dialect == DialectPostgres {
		return strings.NewReplacer(
			"{{TIMESTAMP}}", "TIMESTAMPTZ",
			"{{REAL}}", "DOUBLE PRECISION",
			"{{JSON}}", "JSONB",
			"{{SERIAL}}", "BIGSERIAL PRIMARY KEY",
		)
	}
	return strings.NewReplacer(
		"{{TIMESTAMP}}", "TIMESTAMP",
		"{{REAL}}", "REAL",
		"{{JSON}}", "TEXT",
		"{{SERIAL}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
	)
}

// migrate checks the current schema version and applies any outstanding
// migrations in order, each in its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)",
	); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	currentVersion := 0
	if err := s.db.GetContext(ctx, &currentVersion,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version",
	); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	types := s.columnTypes()
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := s.applyMigration(ctx, types.Replace(m.sql)); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, script string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return tx.Commit()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	return v, err
}
