package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Martian-dev/leadsync/internal/model"
)

const messageColumns = `id, user_id, account_id, message_id, lead_id, thread_id, owner,
	sender, receiver, subject, body, summary, is_read, folder, internal_date,
	history_id, raw_data, created_at, updated_at`

// UpsertMessage writes one message keyed by (account_id, message_id). An
// existing row only has its mutable fields replaced: read flag, folder,
// body, summary and revision marker.
func (s *Store) UpsertMessage(ctx context.Context, m *model.Message) error {
	if m.MessageID == "" {
		return fmt.Errorf("%w: message without provider id", ErrStorage)
	}
	ts := now()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = ts
	m.UpdatedAt = ts

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO email_message (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, message_id) DO UPDATE SET
			is_read = excluded.is_read,
			folder = excluded.folder,
			body = excluded.body,
			summary = excluded.summary,
			history_id = excluded.history_id,
			updated_at = excluded.updated_at`),
		m.ID, m.UserID, m.AccountID, m.MessageID, m.LeadID, m.ThreadID, m.Owner,
		m.Sender, m.Receiver, m.Subject, m.Body, m.Summary, m.IsRead, m.Folder, m.InternalDate,
		m.HistoryID, m.RawData, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return storageErr("upserting message "+m.MessageID, err)
	}
	return nil
}

// MessageRevisions maps each stored provider message id of an account to
// its revision marker.
func (s *Store) MessageRevisions(ctx context.Context, userID, accountID string) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx, s.rebind(
		"SELECT message_id, history_id FROM email_message WHERE user_id = ? AND account_id = ?"),
		userID, accountID,
	)
	if err != nil {
		return nil, storageErr("loading message revisions", err)
	}
	defer rows.Close()

	revisions := make(map[string]string)
	for rows.Next() {
		var id, rev string
		if err := rows.Scan(&id, &rev); err != nil {
			return nil, storageErr("scanning message revision", err)
		}
		revisions[id] = rev
	}
	return revisions, rows.Err()
}

// GetMessage returns one stored message by provider id.
func (s *Store) GetMessage(ctx context.Context, userID, accountID, messageID string) (*model.Message, error) {
	var m model.Message
	err := s.db.GetContext(ctx, &m, s.rebind(
		"SELECT "+messageColumns+" FROM email_message WHERE user_id = ? AND account_id = ? AND message_id = ?"),
		userID, accountID, messageID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("getting message "+messageID, err)
	}
	return &m, nil
}

func (s *Store) messageWhere(userID string, f model.MessageFilter) (string, []any) {
	conditions := []string{"user_id = ?"}
	args := []any{userID}

	if f.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Folder != "" {
		conditions = append(conditions, "folder = ?")
		args = append(args, f.Folder)
	}
	if f.LeadID != "" {
		conditions = append(conditions, "lead_id = ?")
		args = append(args, f.LeadID)
	}
	if f.UnreadOnly {
		conditions = append(conditions, "is_read = ?")
		args = append(args, false)
	}
	if f.Search != "" {
		cond, sargs := s.searchCondition(f.Search, "subject", "summary", "body")
		conditions = append(conditions, cond)
		args = append(args, sargs...)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListMessages returns userID's messages matching f, newest first.
func (s *Store) ListMessages(ctx context.Context, userID string, f model.MessageFilter) ([]model.Message, error) {
	where, args := s.messageWhere(userID, f)
	query := "SELECT " + messageColumns + " FROM email_message" + where +
		" ORDER BY internal_date DESC, id" + s.pageClause(f.Offset, f.Limit)

	messages := []model.Message{}
	if err := s.db.SelectContext(ctx, &messages, s.rebind(query), args...); err != nil {
		return nil, storageErr("listing messages", err)
	}
	return messages, nil
}

// CountMessages counts userID's messages matching f, ignoring pagination.
func (s *Store) CountMessages(ctx context.Context, userID string, f model.MessageFilter) (int, error) {
	where, args := s.messageWhere(userID, f)
	var n int
	if err := s.db.GetContext(ctx, &n, s.rebind("SELECT COUNT(*) FROM email_message"+where), args...); err != nil {
		return 0, storageErr("counting messages", err)
	}
	return n, nil
}

// SetMessageRead updates the local read flag of a message.
func (s *Store) SetMessageRead(ctx context.Context, userID, accountID, messageID string, read bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE email_message SET is_read = ?, updated_at = ?
		WHERE user_id = ? AND account_id = ? AND message_id = ?`),
		read, now(), userID, accountID, messageID,
	)
	if err != nil {
		return storageErr("marking message "+messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// LinkMessageLead points a message at a lead, or clears the link when
// leadID is nil.
func (s *Store) LinkMessageLead(ctx context.Context, userID, accountID, messageID string, leadID *string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE email_message SET lead_id = ?, updated_at = ?
		WHERE user_id = ? AND account_id = ? AND message_id = ?`),
		leadID, now(), userID, accountID, messageID,
	)
	if err != nil {
		return storageErr("linking message "+messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// DeleteMessage removes one stored message.
func (s *Store) DeleteMessage(ctx context.Context, userID, accountID, messageID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM email_message WHERE user_id = ? AND account_id = ? AND message_id = ?"),
		userID, accountID, messageID,
	)
	if err != nil {
		return storageErr("deleting message "+messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// SyncStatus summarises userID's stored mail and per-account sync state.
func (s *Store) SyncStatus(ctx context.Context, userID string) (*model.SyncStatus, error) {
	status := &model.SyncStatus{FolderCounts: map[string]int{}}

	var counts []struct {
		Folder string `db:"folder"`
		Total  int    `db:"total"`
		Unread int    `db:"unread"`
	}
	err := s.db.SelectContext(ctx, &counts, s.rebind(`
		SELECT folder,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN is_read THEN 0 ELSE 1 END), 0) AS unread
		FROM email_message WHERE user_id = ?
		GROUP BY folder ORDER BY folder`), userID)
	if err != nil {
		return nil, storageErr("counting messages by folder", err)
	}
	for _, c := range counts {
		status.FolderCounts[c.Folder] = c.Total
		status.TotalMessages += c.Total
		status.UnreadMessages += c.Unread
	}

	states, err := s.ListSyncStates(ctx, userID)
	if err != nil {
		return nil, err
	}
	status.Accounts = states
	for i := range states {
		ts := states[i].LastSyncedAt
		if ts != nil && (status.LatestSync == nil || ts.After(*status.LatestSync)) {
			status.LatestSync = ts
		}
	}
	return status, nil
}
