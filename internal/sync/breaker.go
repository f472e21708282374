package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/Martian-dev/leadsync/internal/auth"
)

// BreakerSettings tunes the per-provider circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures of ErrProviderUnavailable open the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings is used by WithBreaker.
var DefaultBreakerSettings = BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}

// WithBreaker shares one circuit breaker between every client of p. Only
// provider outages count as failures; rejected tokens and unknown messages
// do not.
func WithBreaker(name string, p Provider, settings BreakerSettings, log zerolog.Logger) Provider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, auth.ErrProviderUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	next := p.NewClient
	p.NewClient = func(ctx context.Context, cred *auth.Credential) (Client, error) {
		c, err := next(ctx, cred)
		if err != nil {
			return nil, err
		}
		return &breakerClient{next: c, cb: cb}, nil
	}
	return p
}

type breakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

func guarded[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	v, err := cb.Execute(func() (interface{}, error) { return fn() })
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return zero, fmt.Errorf("%s %v: %w", cb.Name(), err, auth.ErrProviderUnavailable)
	case err != nil:
		return zero, err
	}
	return v.(T), nil
}

func (b *breakerClient) ListFolders(ctx context.Context) ([]Folder, error) {
	return guarded(b.cb, func() ([]Folder, error) { return b.next.ListFolders(ctx) })
}

func (b *breakerClient) ListMessages(ctx context.Context, opts ListOptions) (*Page, error) {
	return guarded(b.cb, func() (*Page, error) { return b.next.ListMessages(ctx, opts) })
}

func (b *breakerClient) GetMessage(ctx context.Context, id string) (*NormalizedMessage, error) {
	return guarded(b.cb, func() (*NormalizedMessage, error) { return b.next.GetMessage(ctx, id) })
}

func (b *breakerClient) MarkRead(ctx context.Context, id string, read bool) error {
	_, err := guarded(b.cb, func() (struct{}, error) { return struct{}{}, b.next.MarkRead(ctx, id, read) })
	return err
}

func (b *breakerClient) AccountEmail(ctx context.Context) (string, error) {
	return guarded(b.cb, func() (string, error) { return b.next.AccountEmail(ctx) })
}

func (b *breakerClient) Send(ctx context.Context, msg OutgoingMessage) (string, error) {
	return guarded(b.cb, func() (string, error) { return b.next.Send(ctx, msg) })
}
