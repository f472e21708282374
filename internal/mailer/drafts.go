package mailer

import (
	"context"
	"fmt"

	"github.com/Martian-dev/leadsync/internal/leads"
	"github.com/Martian-dev/leadsync/internal/model"
	"github.com/Martian-dev/leadsync/internal/store"
)

// CreateDraft stores d for userID. Recipients, subject and body may be
// incomplete until the draft is sent.
func (s *Service) CreateDraft(ctx context.Context, userID string, d *model.Draft) error {
	d.UserID = userID
	if err := s.validate.Struct(d); err != nil {
		return leads.ValidationError(err)
	}
	if _, err := s.store.GetAccount(ctx, userID, d.AccountID); err != nil {
		return err
	}
	return s.store.CreateDraft(ctx, d)
}

// Draft returns one draft.
func (s *Service) Draft(ctx context.Context, userID, draftID string) (*model.Draft, error) {
	return s.store.GetDraft(ctx, userID, draftID)
}

// Drafts lists drafts, most recently edited first.
func (s *Service) Drafts(ctx context.Context, userID string, f model.DraftFilter) ([]model.Draft, error) {
	f.Limit = clamp(f.Limit)
	return s.store.ListDrafts(ctx, userID, f)
}

// UpdateDraft applies a partial update to an unsent draft.
func (s *Service) UpdateDraft(ctx context.Context, userID, draftID string, u model.DraftUpdate) (*model.Draft, error) {
	if err := s.validate.Struct(u); err != nil {
		return nil, leads.ValidationError(err)
	}
	d, err := s.unsent(ctx, userID, draftID)
	if err != nil {
		return nil, err
	}
	u.Apply(d)
	if err := s.store.UpdateDraft(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDraft removes a draft whatever its state.
func (s *Service) DeleteDraft(ctx context.Context, userID, draftID string) error {
	return s.store.DeleteDraft(ctx, userID, draftID)
}

// SendDraft sends an unsent draft and marks it sent. The draft must pass the
// same checks as Send.
func (s *Service) SendDraft(ctx context.Context, userID, draftID string) (*model.SentEmail, error) {
	d, err := s.unsent(ctx, userID, draftID)
	if err != nil {
		return nil, err
	}
	rec, err := s.send(ctx, userID, d.AccountID, Message{
		To:      d.To,
		Cc:      d.Cc,
		Bcc:     d.Bcc,
		Subject: d.Subject,
		Body:    d.Body,
		IsHTML:  d.IsHTML,
	}, &d.ID)
	if err != nil {
		return nil, err
	}

	sentAt := rec.SentAt
	d.Status = model.DraftStatusSent
	d.SentAt = &sentAt
	if err := s.store.UpdateDraft(ctx, d); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("draft_id", draftID).Msg("marking draft sent")
	}
	return rec, nil
}

// DuplicateDraft copies a draft, sent or not, into a new unsent draft.
func (s *Service) DuplicateDraft(ctx context.Context, userID, draftID string) (*model.Draft, error) {
	orig, err := s.store.GetDraft(ctx, userID, draftID)
	if err != nil {
		return nil, err
	}
	dup := &model.Draft{
		UserID:    userID,
		AccountID: orig.AccountID,
		To:        append(model.StringList{}, orig.To...),
		Cc:        append(model.StringList{}, orig.Cc...),
		Bcc:       append(model.StringList{}, orig.Bcc...),
		Subject:   "Copy of " + orig.Subject,
		Body:      orig.Body,
		IsHTML:    orig.IsHTML,
	}
	if err := s.store.CreateDraft(ctx, dup); err != nil {
		return nil, err
	}
	return dup, nil
}

func (s *Service) unsent(ctx context.Context, userID, draftID string) (*model.Draft, error) {
	d, err := s.store.GetDraft(ctx, userID, draftID)
	if err != nil {
		return nil, err
	}
	if d.Status == model.DraftStatusSent {
		return nil, fmt.Errorf("draft %s was already sent: %w", draftID, store.ErrConflict)
	}
	return d, nil
}
