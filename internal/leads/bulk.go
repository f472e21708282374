package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/Martian-dev/leadsync/internal/model"
	"github.com/Martian-dev/leadsync/internal/store"
)

// BulkRequest carries leads and messages to apply in one call. Leads are
// applied first so messages in the same request can reference them.
type BulkRequest struct {
	Leads    []model.Lead    `json:"leads"`
	Messages []model.Message `json:"messages"`
}

// ItemError describes one rejected item of a bulk request.
type ItemError struct {
	Kind  string `json:"kind"`
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// BulkResult tallies a bulk request. Every item is applied independently,
// so a failure never undoes an earlier item.
type BulkResult struct {
	Success           bool        `json:"success"`
	Message           string      `json:"message"`
	LeadsProcessed    int         `json:"leads_processed"`
	LeadsCreated      int         `json:"leads_created"`
	LeadsUpdated      int         `json:"leads_updated"`
	LeadsFailed       int         `json:"leads_failed"`
	MessagesProcessed int         `json:"messages_processed"`
	MessagesCreated   int         `json:"messages_created"`
	MessagesUpdated   int         `json:"messages_updated"`
	MessagesFailed    int         `json:"messages_failed"`
	Errors            []ItemError `json:"errors,omitempty"`
}

// BulkSync applies req for userID.
func (s *Service) BulkSync(ctx context.Context, userID string, req BulkRequest) (*BulkResult, error) {
	res := &BulkResult{}

	for i := range req.Leads {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		l := req.Leads[i]
		res.LeadsProcessed++
		created, err := s.Save(ctx, userID, &l)
		if err != nil {
			res.LeadsFailed++
			res.Errors = append(res.Errors, ItemError{Kind: "lead", Index: i, ID: l.LeadID, Error: err.Error()})
			continue
		}
		if created {
			res.LeadsCreated++
		} else {
			res.LeadsUpdated++
		}
	}

	for i := range req.Messages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m := req.Messages[i]
		res.MessagesProcessed++
		created, err := s.applyMessage(ctx, userID, &m)
		if err != nil {
			res.MessagesFailed++
			res.Errors = append(res.Errors, ItemError{Kind: "message", Index: i, ID: m.MessageID, Error: err.Error()})
			continue
		}
		if created {
			res.MessagesCreated++
		} else {
			res.MessagesUpdated++
		}
	}

	failed := res.LeadsFailed + res.MessagesFailed
	res.Success = failed == 0
	res.Message = fmt.Sprintf("%d leads and %d messages applied, %d failed",
		res.LeadsCreated+res.LeadsUpdated, res.MessagesCreated+res.MessagesUpdated, failed)

	s.log.Info().
		Str("user_id", userID).
		Int("leads", res.LeadsProcessed).
		Int("messages", res.MessagesProcessed).
		Int("failed", failed).
		Msg("bulk sync finished")
	return res, nil
}

// applyMessage stores one message. A lead reference that does not resolve
// is stored as NULL.
func (s *Service) applyMessage(ctx context.Context, userID string, m *model.Message) (created bool, err error) {
	m.UserID = userID
	if err := s.validate.Struct(m); err != nil {
		return false, ValidationError(err)
	}
	if _, err := s.store.GetAccount(ctx, userID, m.AccountID); err != nil {
		return false, err
	}

	_, err = s.store.GetMessage(ctx, userID, m.AccountID, m.MessageID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		created = true
	case err != nil:
		return false, err
	}

	if m.LeadID != nil {
		ok, err := s.store.LeadExists(ctx, userID, *m.LeadID)
		if err != nil {
			return false, err
		}
		if !ok {
			m.LeadID = nil
		}
	}
	if err := s.store.UpsertMessage(ctx, m); err != nil {
		return false, err
	}
	if !created && m.LeadID != nil {
		if err := s.store.LinkMessageLead(ctx, userID, m.AccountID, m.MessageID, m.LeadID); err != nil {
			return false, err
		}
	}
	return created, nil
}
