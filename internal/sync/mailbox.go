package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/store"
)

// withClient runs fn against the provider client of an active account,
// refreshing the access token at most once.
func (s *Service) withClient(ctx context.Context, userID, accountID string, fn func(context.Context, Client) error) error {
	acct, err := s.store.GetAccount(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if !acct.IsActive {
		return fmt.Errorf("account %s is inactive: %w", accountID, auth.ErrCredentialsExpired)
	}
	cred, err := store.CredentialOf(acct)
	if err != nil {
		return err
	}

	session := auth.NewSession(cred, s.refresher)
	err = session.Do(ctx, func(ctx context.Context, cred *auth.Credential) error {
		client, err := s.registry.Client(ctx, cred)
		if err != nil {
			return err
		}
		return fn(ctx, client)
	})
	if errors.Is(err, auth.ErrCredentialsExpired) {
		if merr := s.store.MarkInactive(ctx, userID, accountID, err.Error()); merr != nil {
			s.log.Error().Err(merr).Str("account_id", accountID).Msg("deactivating account")
		}
	}
	return err
}

// Folders lists the provider folders of an account.
func (s *Service) Folders(ctx context.Context, userID, accountID string) ([]Folder, error) {
	var folders []Folder
	err := s.withClient(ctx, userID, accountID, func(ctx context.Context, c Client) error {
		var err error
		folders, err = c.ListFolders(ctx)
		return err
	})
	return folders, err
}

// RemoteMessage fetches a single message from the provider without storing it.
func (s *Service) RemoteMessage(ctx context.Context, userID, accountID, messageID string) (*NormalizedMessage, error) {
	var msg *NormalizedMessage
	err := s.withClient(ctx, userID, accountID, func(ctx context.Context, c Client) error {
		var err error
		msg, err = c.GetMessage(ctx, messageID)
		return err
	})
	return msg, err
}

// MarkRead sets the read flag at the provider and then on the stored row.
func (s *Service) MarkRead(ctx context.Context, userID, accountID, messageID string, read bool) error {
	err := s.withClient(ctx, userID, accountID, func(ctx context.Context, c Client) error {
		return c.MarkRead(ctx, messageID, read)
	})
	if err != nil {
		return err
	}
	return s.store.SetMessageRead(ctx, userID, accountID, messageID, read)
}

// Send delivers msg from an account. The returned id may be empty.
func (s *Service) Send(ctx context.Context, userID, accountID string, msg OutgoingMessage) (string, error) {
	var id string
	err := s.withClient(ctx, userID, accountID, func(ctx context.Context, c Client) error {
		var err error
		id, err = c.Send(ctx, msg)
		return err
	})
	return id, err
}
