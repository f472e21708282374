package auth

import (
	"fmt"
	"strings"
	"time"
)

// Provider represents OAuth mailbox providers
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

// ParseProvider maps a provider tag to a Provider. "google" and "microsoft"
// are accepted as aliases because the connect flow historically used them.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gmail", "google":
		return ProviderGmail, nil
	case "outlook", "microsoft":
		return ProviderOutlook, nil
	default:
		return "", fmt.Errorf("unsupported provider %q", s)
	}
}

// Token represents OAuth tokens
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Credential is the stored OAuth credential of one connected account.
type Credential struct {
	UserID    string
	AccountID string
	Provider  Provider
	Email     string
	Token
}
