package auth

import "errors"

var (
	// ErrUnauthorized is returned by provider clients when the access token
	// was rejected (401, or 403 that is not a rate limit).
	ErrUnauthorized = errors.New("access token rejected")

	// ErrCredentialsExpired is terminal for an account: the refresh token is
	// revoked or expired and the user has to grant consent again.
	ErrCredentialsExpired = errors.New("credentials expired")

	// ErrProviderUnavailable covers transient provider failures (rate limits,
	// 5xx, malformed responses). Callers may retry with backoff.
	ErrProviderUnavailable = errors.New("provider unavailable")
)
