// Package mailer sends mail from connected accounts and keeps the sent
// history and editable drafts.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Martian-dev/leadsync/internal/leads"
	"github.com/Martian-dev/leadsync/internal/model"
	"github.com/Martian-dev/leadsync/internal/sync"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000

	// DefaultRetentionDays is the age past which Purge drops sent mail.
	DefaultRetentionDays = 30

	previewRunes = 500
)

// Sender delivers a message through the provider of an account.
type Sender interface {
	Send(ctx context.Context, userID, accountID string, msg sync.OutgoingMessage) (string, error)
}

// Store is the persistence used by Service.
type Store interface {
	GetAccount(ctx context.Context, userID, accountID string) (*model.Account, error)

	RecordSent(ctx context.Context, e *model.SentEmail) error
	ListSent(ctx context.Context, userID string, f model.SentFilter) ([]model.SentEmail, error)
	PurgeOutbound(ctx context.Context, userID string, before time.Time) (sent, drafts int64, err error)

	CreateDraft(ctx context.Context, d *model.Draft) error
	GetDraft(ctx context.Context, userID, draftID string) (*model.Draft, error)
	UpdateDraft(ctx context.Context, d *model.Draft) error
	DeleteDraft(ctx context.Context, userID, draftID string) error
	ListDrafts(ctx context.Context, userID string, f model.DraftFilter) ([]model.Draft, error)
}

// Message is an outgoing mail as submitted by a client.
type Message struct {
	To      []string `json:"to" validate:"min=1,dive,email"`
	Cc      []string `json:"cc" validate:"omitempty,dive,email"`
	Bcc     []string `json:"bcc" validate:"omitempty,dive,email"`
	Subject string   `json:"subject" validate:"notblank,max=998"`
	Body    string   `json:"body" validate:"notblank"`
	IsHTML  bool     `json:"is_html"`
}

func (m Message) outgoing() sync.OutgoingMessage {
	return sync.OutgoingMessage{To: m.To, Cc: m.Cc, Bcc: m.Bcc, Subject: m.Subject, Body: m.Body, HTML: m.IsHTML}
}

// Service sends mail and manages drafts
type Service struct {
	store      Store
	sender     Sender
	validate   *validator.Validate
	batchPause time.Duration
	log        zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBatchPause sets the wait between two batches of a bulk send.
func WithBatchPause(d time.Duration) Option {
	return func(s *Service) { s.batchPause = d }
}

// NewService creates a mail service
func NewService(st Store, sender Sender, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      st,
		sender:     sender,
		validate:   leads.NewValidator(),
		batchPause: time.Second,
		log:        log.With().Str("component", "mailer").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send validates msg, delivers it from accountID and records it in the sent
// history.
func (s *Service) Send(ctx context.Context, userID, accountID string, msg Message) (*model.SentEmail, error) {
	return s.send(ctx, userID, accountID, msg, nil)
}

func (s *Service) send(ctx context.Context, userID, accountID string, msg Message, draftID *string) (*model.SentEmail, error) {
	if err := s.validate.Struct(msg); err != nil {
		return nil, leads.ValidationError(err)
	}
	out := msg.outgoing()
	id, err := s.sender.Send(ctx, userID, accountID, out)
	if err != nil {
		return nil, err
	}

	rec := &model.SentEmail{
		UserID:            userID,
		AccountID:         accountID,
		ProviderMessageID: id,
		DraftID:           draftID,
		Subject:           msg.Subject,
		Recipients:        list(msg.To),
		Cc:                list(msg.Cc),
		Bcc:               list(msg.Bcc),
		BodyPreview:       preview(msg.Body),
	}
	// a delivered mail is reported even when the history write fails
	if err := s.store.RecordSent(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("account_id", accountID).Msg("recording sent email")
		rec.SentAt = time.Now().UTC()
	}
	s.log.Info().Str("user_id", userID).Str("account_id", accountID).Int("recipients", len(out.Recipients())).Msg("email sent")
	return rec, nil
}

// Sent returns the sent history, newest first. Limits are clamped to
// [1, MaxLimit].
func (s *Service) Sent(ctx context.Context, userID string, f model.SentFilter) ([]model.SentEmail, error) {
	f.Limit = clamp(f.Limit)
	return s.store.ListSent(ctx, userID, f)
}

// PurgeResult counts the rows removed by Purge.
type PurgeResult struct {
	DeletedSentEmails int64 `json:"deleted_sent_emails"`
	DeletedDrafts     int64 `json:"deleted_drafts"`
}

// Purge drops sent mail and sent drafts older than daysOld days. Zero
// selects DefaultRetentionDays.
func (s *Service) Purge(ctx context.Context, userID string, daysOld int) (*PurgeResult, error) {
	if daysOld == 0 {
		daysOld = DefaultRetentionDays
	}
	if daysOld < 1 {
		return nil, fmt.Errorf("%w: days_old must be at least 1", leads.ErrInvalid)
	}
	before := time.Now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	sent, drafts, err := s.store.PurgeOutbound(ctx, userID, before)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", userID).Int64("sent", sent).Int64("drafts", drafts).Msg("outbound mail purged")
	return &PurgeResult{DeletedSentEmails: sent, DeletedDrafts: drafts}, nil
}

func clamp(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func list(v []string) model.StringList {
	if v == nil {
		return model.StringList{}
	}
	return model.StringList(v)
}

// preview keeps the first previewRunes runes of body.
func preview(body string) string {
	n := 0
	for i := range body {
		if n == previewRunes {
			return body[:i] + "..."
		}
		n++
	}
	return body
}
