package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/model"
)

const accountColumns = `id, user_id, provider, email, access_token, refresh_token,
	expires_at, is_active, created_at, updated_at`

// SaveAccount stores a newly connected account. Reconnecting the same
// mailbox replaces its tokens and reactivates it; acct.ID is set to the
// stored row's ID either way.
func (s *Store) SaveAccount(ctx context.Context, acct *model.Account) error {
	ts := now()
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	acct.IsActive = true
	acct.CreatedAt = ts
	acct.UpdatedAt = ts

	var id string
	err := s.db.QueryRowxContext(ctx, s.rebind(`
		INSERT INTO email_account (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider, email) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN email_account.refresh_token ELSE excluded.refresh_token END,
			expires_at = excluded.expires_at,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		RETURNING id`),
		acct.ID, acct.UserID, acct.Provider, acct.Email, acct.AccessToken, acct.RefreshToken,
		acct.ExpiresAt, acct.IsActive, acct.CreatedAt, acct.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return storageErr("saving account", err)
	}
	acct.ID = id
	return nil
}

// GetAccount returns one account of userID.
func (s *Store) GetAccount(ctx context.Context, userID, accountID string) (*model.Account, error) {
	var acct model.Account
	err := s.db.GetContext(ctx, &acct, s.rebind(
		"SELECT "+accountColumns+" FROM email_account WHERE user_id = ? AND id = ?"),
		userID, accountID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("getting account "+accountID, err)
	}
	return &acct, nil
}

// ListAccounts returns userID's accounts, oldest first.
func (s *Store) ListAccounts(ctx context.Context, userID string, activeOnly bool) ([]model.Account, error) {
	query := "SELECT " + accountColumns + " FROM email_account WHERE user_id = ?"
	args := []any{userID}
	if activeOnly {
		query += " AND is_active = ?"
		args = append(args, true)
	}
	query += " ORDER BY created_at, id"

	accounts := []model.Account{}
	if err := s.db.SelectContext(ctx, &accounts, s.rebind(query), args...); err != nil {
		return nil, storageErr("listing accounts", err)
	}
	return accounts, nil
}

// DeleteAccount disconnects an account. Its messages and sync state are
// removed by cascade.
func (s *Store) DeleteAccount(ctx context.Context, userID, accountID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM email_account WHERE user_id = ? AND id = ?"), userID, accountID)
	if err != nil {
		return storageErr("deleting account "+accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("deleting account "+accountID, err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

// GetCredential loads the OAuth credential of an account.
func (s *Store) GetCredential(ctx context.Context, userID, accountID string) (*auth.Credential, error) {
	acct, err := s.GetAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	return CredentialOf(acct)
}

// CredentialOf converts a stored account to its credential.
func CredentialOf(acct *model.Account) (*auth.Credential, error) {
	p, err := auth.ParseProvider(acct.Provider)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", acct.ID, err)
	}
	cred := &auth.Credential{
		UserID:    acct.UserID,
		AccountID: acct.ID,
		Provider:  p,
		Email:     acct.Email,
		Token: auth.Token{
			AccessToken:  acct.AccessToken,
			RefreshToken: acct.RefreshToken,
		},
	}
	if acct.ExpiresAt != nil {
		cred.Expiry = *acct.ExpiresAt
	}
	return cred, nil
}

// UpdateTokens persists refreshed tokens. An empty refresh token keeps the
// stored one.
func (s *Store) UpdateTokens(ctx context.Context, userID, accountID string, tok auth.Token) error {
	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiresAt = &e
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE email_account SET
			access_token = ?,
			refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
			expires_at = ?,
			updated_at = ?
		WHERE user_id = ? AND id = ?`),
		tok.AccessToken, tok.RefreshToken, tok.RefreshToken, expiresAt, now(), userID, accountID,
	)
	if err != nil {
		return storageErr("updating tokens for account "+accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

// MarkInactive deactivates an account whose credentials can no longer be
// refreshed and records reason on its sync state.
func (s *Store) MarkInactive(ctx context.Context, userID, accountID, reason string) error {
	ts := now()
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE email_account SET is_active = ?, updated_at = ? WHERE user_id = ? AND id = ?"),
		false, ts, userID, accountID,
	)
	if err != nil {
		return storageErr("deactivating account "+accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return s.SaveSyncState(ctx, &model.SyncState{
		AccountID: accountID,
		UserID:    userID,
		Status:    model.SyncStatusExpired,
		LastError: reason,
	})
}
