// Package leads manages lead records and the messages linked to them.
package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Martian-dev/leadsync/internal/model"
	"github.com/Martian-dev/leadsync/internal/store"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store is the persistence used by Service.
type Store interface {
	CreateLead(ctx context.Context, l *model.Lead) error
	GetLead(ctx context.Context, userID, leadID string) (*model.Lead, error)
	LeadExists(ctx context.Context, userID, leadID string) (bool, error)
	UpdateLead(ctx context.Context, l *model.Lead) error
	DeleteLead(ctx context.Context, userID, leadID string) error
	ListLeads(ctx context.Context, userID string, f store.LeadFilter) ([]model.Lead, error)
	CountLeads(ctx context.Context, userID string, f store.LeadFilter) (int, error)
	LeadAnalytics(ctx context.Context, userID string) (*model.LeadAnalytics, error)

	GetAccount(ctx context.Context, userID, accountID string) (*model.Account, error)
	GetMessage(ctx context.Context, userID, accountID, messageID string) (*model.Message, error)
	UpsertMessage(ctx context.Context, m *model.Message) error
	LinkMessageLead(ctx context.Context, userID, accountID, messageID string, leadID *string) error
	ListMessages(ctx context.Context, userID string, f model.MessageFilter) ([]model.Message, error)
}

// Service validates and stores leads
type Service struct {
	store    Store
	validate *validator.Validate
	log      zerolog.Logger
}

// NewService creates a lead service
func NewService(st Store, log zerolog.Logger) *Service {
	return &Service{store: st, validate: NewValidator(), log: log}
}

// Page is one page of a lead listing.
type Page struct {
	Leads  []model.Lead `json:"leads"`
	Total  int          `json:"total"`
	Offset int          `json:"offset"`
	Limit  int          `json:"limit"`
}

// Validate checks the lead invariants.
func (s *Service) Validate(l *model.Lead) error {
	if err := s.validate.Struct(l); err != nil {
		return ValidationError(err)
	}
	return nil
}

// Create validates l and inserts it for userID.
func (s *Service) Create(ctx context.Context, userID string, l *model.Lead) error {
	l.UserID = userID
	if err := s.Validate(l); err != nil {
		return err
	}
	if err := s.store.CreateLead(ctx, l); err != nil {
		return err
	}
	s.log.Debug().Str("user_id", userID).Str("lead_id", l.LeadID).Msg("lead created")
	return nil
}

// Get returns one lead.
func (s *Service) Get(ctx context.Context, userID, leadID string) (*model.Lead, error) {
	return s.store.GetLead(ctx, userID, leadID)
}

// GetWithMessages returns a lead and every stored message linked to it.
func (s *Service) GetWithMessages(ctx context.Context, userID, leadID string) (*model.LeadWithMessages, error) {
	l, err := s.store.GetLead(ctx, userID, leadID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, userID, model.MessageFilter{LeadID: leadID})
	if err != nil {
		return nil, err
	}
	return &model.LeadWithMessages{Lead: *l, Messages: msgs}, nil
}

// Update applies a partial update. The merged lead is validated as a whole
// before it is written.
func (s *Service) Update(ctx context.Context, userID, leadID string, u model.LeadUpdate) (*model.Lead, error) {
	if err := s.validate.Struct(u); err != nil {
		return nil, ValidationError(err)
	}
	l, err := s.store.GetLead(ctx, userID, leadID)
	if err != nil {
		return nil, err
	}
	u.Apply(l)
	if err := s.Validate(l); err != nil {
		return nil, err
	}
	if err := s.store.UpdateLead(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Delete removes a lead and, by cascade, its messages.
func (s *Service) Delete(ctx context.Context, userID, leadID string) error {
	if err := s.store.DeleteLead(ctx, userID, leadID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Str("lead_id", leadID).Msg("lead deleted")
	return nil
}

// List returns a page of leads. Limits are clamped to [1, MaxLimit].
func (s *Service) List(ctx context.Context, userID string, f store.LeadFilter) (*Page, error) {
	f.Offset = max(f.Offset, 0)
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}

	leads, err := s.store.ListLeads(ctx, userID, f)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountLeads(ctx, userID, f)
	if err != nil {
		return nil, err
	}
	return &Page{Leads: leads, Total: total, Offset: f.Offset, Limit: f.Limit}, nil
}

// Analytics summarises userID's leads.
func (s *Service) Analytics(ctx context.Context, userID string) (*model.LeadAnalytics, error) {
	return s.store.LeadAnalytics(ctx, userID)
}

// Save validates l and creates it, or replaces the stored lead with the same
// id. created reports which happened.
func (s *Service) Save(ctx context.Context, userID string, l *model.Lead) (created bool, err error) {
	l.UserID = userID
	if err := s.Validate(l); err != nil {
		return false, err
	}
	err = s.store.CreateLead(ctx, l)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return false, err
	}
	if err := s.store.UpdateLead(ctx, l); err != nil {
		return false, fmt.Errorf("replacing lead %s: %w", l.LeadID, err)
	}
	return false, nil
}
