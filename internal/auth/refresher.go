package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// TokenWriter persists refreshed tokens for an account.
type TokenWriter interface {
	UpdateTokens(ctx context.Context, userID, accountID string, tok Token) error
}

// Refresher exchanges refresh tokens at the provider token endpoint and
// writes the result back to the token store.
type Refresher struct {
	configs OAuthConfigs
	store   TokenWriter
	log     zerolog.Logger
}

// NewRefresher creates a refresher for the given provider configs
func NewRefresher(configs OAuthConfigs, store TokenWriter, log zerolog.Logger) *Refresher {
	return &Refresher{
		configs: configs,
		store:   store,
		log:     log.With().Str("component", "refresher").Logger(),
	}
}

// EnsureValid exchanges cred's refresh token for a new access token,
// persists it (plus a rotated refresh token when the provider issues one)
// and returns the refreshed credential. The input is not modified.
func (r *Refresher) EnsureValid(ctx context.Context, cred *Credential) (*Credential, error) {
	cfg, err := r.configs.config(cred.Provider)
	if err != nil {
		return nil, err
	}
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("account %s has no refresh token: %w", cred.AccountID, ErrCredentialsExpired)
	}

	// An empty access token is never valid, so the source always hits the
	// token endpoint with grant_type=refresh_token.
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	next := *cred
	next.AccessToken = tok.AccessToken
	next.Expiry = tok.Expiry
	rotated := tok.RefreshToken != "" && tok.RefreshToken != cred.RefreshToken
	if rotated {
		next.RefreshToken = tok.RefreshToken
	}

	if err := r.store.UpdateTokens(ctx, cred.UserID, cred.AccountID, next.Token); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}

	r.log.Info().
		Str("user_id", cred.UserID).
		Str("account_id", cred.AccountID).
		Str("provider", string(cred.Provider)).
		Bool("rotated", rotated).
		Msg("access token refreshed")
	return &next, nil
}

func classifyRefreshError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "invalid_grant", "unauthorized_client", "invalid_client":
			return fmt.Errorf("refresh rejected (%s): %w", rerr.ErrorCode, ErrCredentialsExpired)
		}
		if rerr.Response != nil {
			switch rerr.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized:
				return fmt.Errorf("refresh rejected (status %d): %w", rerr.Response.StatusCode, ErrCredentialsExpired)
			}
		}
	}
	return fmt.Errorf("refresh token: %v: %w", err, ErrProviderUnavailable)
}
