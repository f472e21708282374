package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Martian-dev/leadsync/internal/model"
)

// SaveSyncState upserts the sync bookkeeping row of an account. A nil
// LastSyncedAt keeps the previous value.
func (s *Store) SaveSyncState(ctx context.Context, st *model.SyncState) error {
	st.UpdatedAt = now()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sync_state (account_id, user_id, status, last_error, last_synced_at, messages_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			last_synced_at = COALESCE(excluded.last_synced_at, sync_state.last_synced_at),
			messages_seen = CASE WHEN excluded.last_synced_at IS NULL THEN sync_state.messages_seen ELSE excluded.messages_seen END,
			updated_at = excluded.updated_at`),
		st.AccountID, st.UserID, st.Status, st.LastError, st.LastSyncedAt, st.MessagesSeen, st.UpdatedAt,
	)
	if err != nil {
		return storageErr("saving sync state for account "+st.AccountID, err)
	}
	return nil
}

// GetSyncState returns the sync state of one account.
func (s *Store) GetSyncState(ctx context.Context, userID, accountID string) (*model.SyncState, error) {
	var st model.SyncState
	err := s.db.GetContext(ctx, &st, s.rebind(`
		SELECT account_id, user_id, status, last_error, last_synced_at, messages_seen, updated_at
		FROM sync_state WHERE user_id = ? AND account_id = ?`), userID, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync state for account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("getting sync state", err)
	}
	return &st, nil
}

// ListSyncStates returns the sync state of each of userID's accounts.
func (s *Store) ListSyncStates(ctx context.Context, userID string) ([]model.SyncState, error) {
	states := []model.SyncState{}
	err := s.db.SelectContext(ctx, &states, s.rebind(`
		SELECT account_id, user_id, status, last_error, last_synced_at, messages_seen, updated_at
		FROM sync_state WHERE user_id = ? ORDER BY account_id`), userID)
	if err != nil {
		return nil, storageErr("listing sync states", err)
	}
	return states, nil
}

// CreateOAuthState stores a pending authorization request.
func (s *Store) CreateOAuthState(ctx context.Context, st *model.OAuthState) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO oauth_state (state, user_id, provider, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`),
		st.State, st.UserID, st.Provider, st.CreatedAt.UTC(), st.ExpiresAt.UTC(),
	)
	if err != nil {
		return storageErr("creating oauth state", err)
	}
	return nil
}

// ConsumeOAuthState deletes and returns a pending state. A state can be
// consumed once; an expired state is deleted and reported as ErrExpired.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string, at time.Time) (*model.OAuthState, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, storageErr("consuming oauth state", err)
	}
	defer tx.Rollback()

	var st model.OAuthState
	err = tx.GetContext(ctx, &st, s.rebind(`
		SELECT state, user_id, provider, created_at, expires_at
		FROM oauth_state WHERE state = ?`), state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("oauth state: %w", ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("consuming oauth state", err)
	}

	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM oauth_state WHERE state = ?"), state)
	if err != nil {
		return nil, storageErr("consuming oauth state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// consumed concurrently
		return nil, fmt.Errorf("oauth state: %w", ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("consuming oauth state", err)
	}

	if !at.Before(st.ExpiresAt) {
		return nil, fmt.Errorf("oauth state: %w", ErrExpired)
	}
	return &st, nil
}

// PurgeOAuthStates removes states that expired before at.
func (s *Store) PurgeOAuthStates(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM oauth_state WHERE expires_at < ?"), at.UTC())
	if err != nil {
		return 0, storageErr("purging oauth states", err)
	}
	return res.RowsAffected()
}
