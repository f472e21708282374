package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// User represents an authenticated user from JWT token
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// JWTVerifier handles JWT token verification with cached JWKS
type JWTVerifier struct {
	jwksURL     string
	cache       *jwk.Cache
	keySet      jwk.Set
	keySetMutex sync.RWMutex
	lastFetch   time.Time
	refreshTTL  time.Duration
}

// NewJWTVerifier creates a verifier backed by a JWKS endpoint. Keys are
// cached and refreshed in the background so verification does no network I/O.
func NewJWTVerifier(ctx context.Context, jwksURL string) (*JWTVerifier, error) {
	verifier := &JWTVerifier{
		jwksURL:    jwksURL,
		refreshTTL: 5 * time.Minute,
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(verifier.refreshTTL)); err != nil {
		return nil, fmt.Errorf("register JWKS URL: %w", err)
	}
	verifier.cache = cache

	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	keySet, err := verifier.fetchKeySet(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("initial JWKS fetch: %w", err)
	}
	verifier.keySet = keySet
	verifier.lastFetch = time.Now()

	go verifier.backgroundRefresh(ctx)

	return verifier, nil
}

// NewStaticVerifier verifies tokens against a fixed key set.
func NewStaticVerifier(keySet jwk.Set) *JWTVerifier {
	return &JWTVerifier{keySet: keySet, lastFetch: time.Now()}
}

func (v *JWTVerifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

func (v *JWTVerifier) backgroundRefresh(ctx context.Context) {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		keySet, err := v.fetchKeySet(fetchCtx)
		cancel()

		// keep the previous set on error, retry on next tick
		if err == nil {
			v.keySetMutex.Lock()
			v.keySet = keySet
			v.lastFetch = time.Now()
			v.keySetMutex.Unlock()
		}
	}
}

func (v *JWTVerifier) getKeySet() jwk.Set {
	v.keySetMutex.RLock()
	defer v.keySetMutex.RUnlock()
	return v.keySet
}

// UserFromRequest extracts and validates the bearer token of r. The token
// subject becomes the user ID every store call is scoped by.
func (v *JWTVerifier) UserFromRequest(r *http.Request) (*User, error) {
	token, err := jwt.ParseRequest(
		r,
		jwt.WithKeySet(v.getKeySet()),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("parse JWT: %w", err)
	}

	userID := token.Subject()
	if userID == "" {
		return nil, fmt.Errorf("token missing user ID (subject)")
	}

	var email, name string
	if emailClaim, ok := token.Get("email"); ok {
		email, _ = emailClaim.(string)
	}
	if nameClaim, ok := token.Get("name"); ok {
		name, _ = nameClaim.(string)
	}

	return &User{
		ID:    userID,
		Email: email,
		Name:  name,
	}, nil
}

// Stats returns statistics about the JWKS cache
func (v *JWTVerifier) Stats() map[string]interface{} {
	v.keySetMutex.RLock()
	defer v.keySetMutex.RUnlock()

	keyCount := 0
	if v.keySet != nil {
		keyCount = v.keySet.Len()
	}

	return map[string]interface{}{
		"keys_cached": keyCount,
		"last_fetch":  v.lastFetch,
		"age_seconds": time.Since(v.lastFetch).Seconds(),
		"jwks_url":    v.jwksURL,
	}
}
