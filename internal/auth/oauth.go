package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// ClientConfig holds the OAuth client registration for one provider.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

var (
	gmailScopes = []string{
		"https://www.googleapis.com/auth/gmail.modify",
		"https://www.googleapis.com/auth/userinfo.email",
	}
	outlookScopes = []string{
		"offline_access",
		"https://graph.microsoft.com/Mail.ReadWrite",
		"https://graph.microsoft.com/Mail.Send",
		"https://graph.microsoft.com/User.Read",
	}
)

// GoogleConfig returns the oauth2 config for Gmail accounts.
func GoogleConfig(c ClientConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       gmailScopes,
		Endpoint:     google.Endpoint,
	}
}

// MicrosoftConfig returns the oauth2 config for Outlook accounts. An empty
// tenant means "common".
func MicrosoftConfig(c ClientConfig, tenant string) *oauth2.Config {
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       outlookScopes,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
	}
}

// OAuthConfigs maps each provider to its oauth2 client config.
type OAuthConfigs map[Provider]*oauth2.Config

func (o OAuthConfigs) config(p Provider) (*oauth2.Config, error) {
	cfg, ok := o[p]
	if !ok || cfg == nil {
		return nil, fmt.Errorf("no oauth config for provider %q", p)
	}
	return cfg, nil
}

// AuthCodeURL builds the consent URL carrying state. Offline access is
// requested so the provider issues a refresh token.
func (o OAuthConfigs) AuthCodeURL(p Provider, state string) (string, error) {
	cfg, err := o.config(p)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for tokens.
func (o OAuthConfigs) Exchange(ctx context.Context, p Provider, code string) (*Token, error) {
	cfg, err := o.config(p)
	if err != nil {
		return nil, err
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w: %v", ErrProviderUnavailable, err)
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}
