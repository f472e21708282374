package natsjs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Martian-dev/leadsync/internal/model"
)

const (
	defaultBatch = 100
	defaultIdle  = 500 * time.Millisecond
	retryBase    = 10 * time.Second
	retryMax     = 10 * time.Minute
	errorBackoff = time.Second
)

// Outbox is the durable queue of pending events.
type Outbox interface {
	DequeueOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error
}

// EventPublisher sends one event to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, msgID string) error
}

// Dispatcher moves outbox events to the bus. Failed publishes are retried
// with exponential backoff.
type Dispatcher struct {
	outbox Outbox
	pub    EventPublisher
	log    zerolog.Logger
	batch  int
	idle   time.Duration
}

// NewDispatcher creates a dispatcher
func NewDispatcher(outbox Outbox, pub EventPublisher, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{outbox: outbox, pub: pub, log: log, batch: defaultBatch, idle: defaultIdle}
}

// DispatchOnce publishes one batch of due events and reports how many were
// published.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.outbox.DequeueOutbox(ctx, d.batch)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, ev := range events {
		if err := d.pub.Publish(ctx, ev.Subject, ev.Payload, ev.MsgID); err != nil {
			backoff := retryBackoff(ev.Retries)
			d.log.Warn().Err(err).
				Int64("event_id", ev.ID).
				Int("retries", ev.Retries).
				Dur("backoff", backoff).
				Msg("publishing event")
			if err := d.outbox.MarkOutboxRetry(ctx, ev.ID, backoff); err != nil {
				return published, err
			}
			continue
		}
		if err := d.outbox.MarkPublished(ctx, ev.ID); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info().Msg("event dispatcher started")
	defer d.log.Info().Msg("event dispatcher stopped")

	for {
		wait := d.idle
		n, err := d.DispatchOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			d.log.Error().Err(err).Msg("dispatching outbox")
			wait = errorBackoff
		case n == d.batch:
			// More may be due.
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func retryBackoff(retries int) time.Duration {
	backoff := retryBase
	for i := 0; i < retries && backoff < retryMax; i++ {
		backoff *= 2
	}
	return min(backoff, retryMax)
}
