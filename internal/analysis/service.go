package analysis

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Martian-dev/leadsync/internal/model"
)

// MessageStore reads stored messages and links them to leads.
type MessageStore interface {
	GetMessage(ctx context.Context, userID, accountID, messageID string) (*model.Message, error)
	LinkMessageLead(ctx context.Context, userID, accountID, messageID string, leadID *string) error
}

// LeadSaver validates and stores a lead.
type LeadSaver interface {
	Save(ctx context.Context, userID string, l *model.Lead) (bool, error)
}

// LeadAnalyzer produces a lead from a message.
type LeadAnalyzer interface {
	Analyze(ctx context.Context, msg *model.Message) (*model.Lead, error)
}

// Service turns stored messages into leads.
type Service struct {
	analyzer LeadAnalyzer
	messages MessageStore
	leads    LeadSaver
	log      zerolog.Logger
}

// NewService creates an analysis service
func NewService(analyzer LeadAnalyzer, messages MessageStore, leads LeadSaver, log zerolog.Logger) *Service {
	return &Service{analyzer: analyzer, messages: messages, leads: leads, log: log}
}

// Result is the outcome of AnalyzeMessage.
type Result struct {
	Lead    *model.Lead `json:"lead"`
	Created bool        `json:"created"`
}

// AnalyzeMessage analyses one stored message, saves the resulting lead and
// links the message to it. An invalid model answer writes nothing.
func (s *Service) AnalyzeMessage(ctx context.Context, userID, accountID, messageID string) (*Result, error) {
	msg, err := s.messages.GetMessage(ctx, userID, accountID, messageID)
	if err != nil {
		return nil, err
	}

	lead, err := s.analyzer.Analyze(ctx, msg)
	if err != nil {
		return nil, err
	}
	created, err := s.leads.Save(ctx, userID, lead)
	if err != nil {
		return nil, err
	}
	if err := s.messages.LinkMessageLead(ctx, userID, accountID, messageID, &lead.LeadID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", userID).
		Str("message_id", messageID).
		Str("lead_id", lead.LeadID).
		Bool("created", created).
		Msg("lead built from message")
	return &Result{Lead: lead, Created: created}, nil
}
