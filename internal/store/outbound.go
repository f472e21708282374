package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Martian-dev/leadsync/internal/model"
)

const sentColumns = `id, user_id, account_id, provider_message_id, draft_id, subject,
	recipients, cc_recipients, bcc_recipients, body_preview, sent_at`

const draftColumns = `id, user_id, account_id, to_emails, cc_emails, bcc_emails,
	subject, body, is_html, status, sent_at, created_at, updated_at`

// RecordSent appends e to the sent history.
func (s *Store) RecordSent(ctx context.Context, e *model.SentEmail) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.SentAt.IsZero() {
		e.SentAt = now()
	}
	e.SentAt = e.SentAt.UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO sent_email ("+sentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		e.ID, e.UserID, e.AccountID, e.ProviderMessageID, e.DraftID, e.Subject,
		e.Recipients, e.Cc, e.Bcc, e.BodyPreview, e.SentAt,
	)
	if err != nil {
		return storageErr("recording sent email", err)
	}
	return nil
}

// ListSent returns userID's sent history, newest first.
func (s *Store) ListSent(ctx context.Context, userID string, f model.SentFilter) ([]model.SentEmail, error) {
	query := "SELECT " + sentColumns + " FROM sent_email WHERE user_id = ?"
	args := []any{userID}
	if f.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, f.AccountID)
	}
	query += " ORDER BY sent_at DESC, id" + s.pageClause(0, f.Limit)

	sent := []model.SentEmail{}
	if err := s.db.SelectContext(ctx, &sent, s.rebind(query), args...); err != nil {
		return nil, storageErr("listing sent emails", err)
	}
	return sent, nil
}

// PurgeOutbound deletes userID's sent history and sent drafts older than
// before. Unsent drafts are kept regardless of age.
func (s *Store) PurgeOutbound(ctx context.Context, userID string, before time.Time) (sent, drafts int64, err error) {
	before = before.UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, storageErr("purging outbound mail", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(
		"DELETE FROM sent_email WHERE user_id = ? AND sent_at < ?"), userID, before)
	if err != nil {
		return 0, 0, storageErr("purging sent emails", err)
	}
	if sent, err = res.RowsAffected(); err != nil {
		return 0, 0, storageErr("purging sent emails", err)
	}

	res, err = tx.ExecContext(ctx, s.rebind(
		"DELETE FROM email_draft WHERE user_id = ? AND status = ? AND updated_at < ?"),
		userID, model.DraftStatusSent, before)
	if err != nil {
		return 0, 0, storageErr("purging drafts", err)
	}
	if drafts, err = res.RowsAffected(); err != nil {
		return 0, 0, storageErr("purging drafts", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, storageErr("purging outbound mail", err)
	}
	return sent, drafts, nil
}

// CreateDraft inserts d with a fresh ID in the draft state.
func (s *Store) CreateDraft(ctx context.Context, d *model.Draft) error {
	ts := now()
	d.ID = uuid.New().String()
	d.Status = model.DraftStatusDraft
	d.SentAt = nil
	d.CreatedAt = ts
	d.UpdatedAt = ts
	if d.To == nil {
		d.To = model.StringList{}
	}
	if d.Cc == nil {
		d.Cc = model.StringList{}
	}
	if d.Bcc == nil {
		d.Bcc = model.StringList{}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO email_draft ("+draftColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		d.ID, d.UserID, d.AccountID, d.To, d.Cc, d.Bcc,
		d.Subject, d.Body, d.IsHTML, d.Status, d.SentAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return storageErr("creating draft", err)
	}
	return nil
}

// GetDraft returns one draft of userID.
func (s *Store) GetDraft(ctx context.Context, userID, draftID string) (*model.Draft, error) {
	var d model.Draft
	err := s.db.GetContext(ctx, &d, s.rebind(
		"SELECT "+draftColumns+" FROM email_draft WHERE user_id = ? AND id = ?"),
		userID, draftID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("getting draft "+draftID, err)
	}
	return &d, nil
}

// UpdateDraft writes the editable fields and state of an existing draft.
func (s *Store) UpdateDraft(ctx context.Context, d *model.Draft) error {
	d.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE email_draft SET
			to_emails = ?, cc_emails = ?, bcc_emails = ?, subject = ?, body = ?,
			is_html = ?, status = ?, sent_at = ?, updated_at = ?
		WHERE user_id = ? AND id = ?`),
		d.To, d.Cc, d.Bcc, d.Subject, d.Body,
		d.IsHTML, d.Status, d.SentAt, d.UpdatedAt,
		d.UserID, d.ID,
	)
	if err != nil {
		return storageErr("updating draft "+d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("draft %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

// DeleteDraft removes a draft. ErrNotFound is returned unless a row was deleted.
func (s *Store) DeleteDraft(ctx context.Context, userID, draftID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM email_draft WHERE user_id = ? AND id = ?"), userID, draftID)
	if err != nil {
		return storageErr("deleting draft "+draftID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("deleting draft "+draftID, err)
	}
	if n == 0 {
		return fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	return nil
}

// ListDrafts returns userID's drafts matching f, most recently edited first.
func (s *Store) ListDrafts(ctx context.Context, userID string, f model.DraftFilter) ([]model.Draft, error) {
	conditions := []string{"user_id = ?"}
	args := []any{userID}
	if f.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Search != "" {
		cond, sargs := s.searchCondition(f.Search, "subject", "body")
		conditions = append(conditions, cond)
		args = append(args, sargs...)
	}
	query := "SELECT " + draftColumns + " FROM email_draft WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY updated_at DESC, id" + s.pageClause(0, f.Limit)

	drafts := []model.Draft{}
	if err := s.db.SelectContext(ctx, &drafts, s.rebind(query), args...); err != nil {
		return nil, storageErr("listing drafts", err)
	}
	return drafts, nil
}
