package auth

import (
	"context"
	"errors"
	"fmt"
)

// SessionState is the authentication state of one sync call.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateRefreshAttempted
	StateAuthenticated
	StateExpired
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateRefreshAttempted:
		return "refresh_attempted"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CredentialRefresher is implemented by *Refresher.
type CredentialRefresher interface {
	EnsureValid(ctx context.Context, cred *Credential) (*Credential, error)
}

// Session wraps provider calls made during a single sync. The first call
// rejected with ErrUnauthorized triggers one refresh and one retry; any later
// rejection, or a rejected retry, moves the session to StateExpired.
type Session struct {
	refresher CredentialRefresher
	cred      *Credential
	state     SessionState
	refreshed bool
}

// NewSession starts a session for cred
func NewSession(cred *Credential, refresher CredentialRefresher) *Session {
	return &Session{refresher: refresher, cred: cred}
}

// State returns the current state
func (s *Session) State() SessionState { return s.state }

// Credential returns the credential in use, refreshed if a refresh happened.
func (s *Session) Credential() *Credential { return s.cred }

// Do runs fn with the current credential.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context, cred *Credential) error) error {
	if s.state == StateExpired {
		return fmt.Errorf("account %s: %w", s.cred.AccountID, ErrCredentialsExpired)
	}

	err := fn(ctx, s.cred)
	if !errors.Is(err, ErrUnauthorized) {
		if err == nil {
			s.state = StateAuthenticated
		}
		return err
	}

	if s.refreshed {
		s.state = StateExpired
		return fmt.Errorf("account %s rejected after refresh: %w", s.cred.AccountID, ErrCredentialsExpired)
	}

	s.refreshed = true
	s.state = StateRefreshAttempted
	next, err := s.refresher.EnsureValid(ctx, s.cred)
	if err != nil {
		if errors.Is(err, ErrCredentialsExpired) {
			s.state = StateExpired
		}
		return err
	}
	s.cred = next

	err = fn(ctx, s.cred)
	switch {
	case err == nil:
		s.state = StateAuthenticated
	case errors.Is(err, ErrUnauthorized):
		s.state = StateExpired
		return fmt.Errorf("account %s rejected after refresh: %w", s.cred.AccountID, ErrCredentialsExpired)
	}
	return err
}
