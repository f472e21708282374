package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/model"
)

// StateTTL is how long an authorization request stays valid.
const StateTTL = 10 * time.Minute

// StateStore persists pending OAuth authorization requests.
type StateStore interface {
	CreateOAuthState(ctx context.Context, st *model.OAuthState) error
	ConsumeOAuthState(ctx context.Context, state string, at time.Time) (*model.OAuthState, error)
}

// Connect stores an account for tokens obtained from the consent flow. The
// mailbox address is read from the provider.
func (s *Service) Connect(ctx context.Context, userID string, provider auth.Provider, tok *auth.Token) (*model.Account, error) {
	cred := &auth.Credential{UserID: userID, Provider: provider, Token: *tok}
	client, err := s.registry.Client(ctx, cred)
	if err != nil {
		return nil, err
	}
	email, err := client.AccountEmail(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve mailbox address: %w", err)
	}

	acct := &model.Account{
		UserID:       userID,
		Provider:     string(provider),
		Email:        email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		acct.ExpiresAt = &exp
	}
	if err := s.store.SaveAccount(ctx, acct); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("user_id", userID).
		Str("account_id", acct.ID).
		Str("provider", string(provider)).
		Msg("account connected")
	return acct, nil
}

// Disconnect removes an account and its stored messages.
func (s *Service) Disconnect(ctx context.Context, userID, accountID string) error {
	if err := s.store.DeleteAccount(ctx, userID, accountID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Str("account_id", accountID).Msg("account disconnected")
	return nil
}

// Connector drives the OAuth consent flow for new accounts.
type Connector struct {
	configs auth.OAuthConfigs
	states  StateStore
	service *Service
	now     func() time.Time
}

// NewConnector creates a connector
func NewConnector(configs auth.OAuthConfigs, states StateStore, service *Service) *Connector {
	return &Connector{configs: configs, states: states, service: service, now: time.Now}
}

// Begin records a single-use state for userID and returns the provider
// consent URL carrying it.
func (c *Connector) Begin(ctx context.Context, userID string, provider auth.Provider) (string, error) {
	created := c.now().UTC()
	st := &model.OAuthState{
		State:     uuid.NewString(),
		UserID:    userID,
		Provider:  string(provider),
		CreatedAt: created,
		ExpiresAt: created.Add(StateTTL),
	}
	url, err := c.configs.AuthCodeURL(provider, st.State)
	if err != nil {
		return "", err
	}
	if err := c.states.CreateOAuthState(ctx, st); err != nil {
		return "", err
	}
	return url, nil
}

// Complete consumes state, exchanges code for tokens and connects the
// account for the user that started the flow.
func (c *Connector) Complete(ctx context.Context, state, code string) (*model.Account, error) {
	st, err := c.states.ConsumeOAuthState(ctx, state, c.now().UTC())
	if err != nil {
		return nil, err
	}
	provider, err := auth.ParseProvider(st.Provider)
	if err != nil {
		return nil, err
	}
	tok, err := c.configs.Exchange(ctx, provider, code)
	if err != nil {
		return nil, err
	}
	return c.service.Connect(ctx, st.UserID, provider, tok)
}
