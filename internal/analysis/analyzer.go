// Package analysis builds lead records from stored messages with an OpenAI
// chat model.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/Martian-dev/leadsync/internal/model"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

var (
	// ErrBadAnswer is returned when the model reply is not a lead document.
	ErrBadAnswer = errors.New("unusable model answer")

	// ErrUnavailable wraps OpenAI API and transport failures.
	ErrUnavailable = errors.New("analysis service unavailable")
)

// maxBodyChars bounds the message text sent to the model.
const maxBodyChars = 12000

const systemPrompt = `You analyse sales emails. Reply with a single JSON object and nothing else.
Fields:
  intent_category (string), intent_confidence (0..1), intent_reason (string),
  purchase_intent_score (integer 0..100), purchase_intent_reason (string),
  sentiment_label ("Positive"|"Neutral"|"Negative"), sentiment_score (-1..1), sentiment_reason (string),
  urgency_level ("High"|"Medium"|"Low"), urgency_reason (string),
  pain_points (array of strings), keywords (array of strings),
  upsell_value (bool), upsell_reason (string), cross_sell_value (bool), cross_sell_reason (string),
  discount_sensitivity_level ("High"|"Medium"|"Low"), discount_sensitivity_reason (string),
  recommended_steps (array of strings), priority_level ("High"|"Medium"|"Low"), summary (string).`

// Config holds the OpenAI settings.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxRetries  int
}

// Analyzer asks the chat model for a lead assessment of one message.
type Analyzer struct {
	client      openai.Client
	model       string
	temperature float64
	log         zerolog.Logger
}

// NewAnalyzer creates an analyzer. Extra request options are applied last.
func NewAnalyzer(cfg Config, log zerolog.Logger, opts ...option.RequestOption) *Analyzer {
	all := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.BaseURL != "" {
		all = append(all, option.WithBaseURL(cfg.BaseURL))
	}
	all = append(all, opts...)

	m := cfg.Model
	if m == "" {
		m = DefaultModel
	}
	return &Analyzer{
		client:      openai.NewClient(all...),
		model:       m,
		temperature: cfg.Temperature,
		log:         log,
	}
}

// Analyze returns the lead assessment of msg. The lead id is the message's
// thread id, or its provider id when there is no thread.
func (a *Analyzer) Analyze(ctx context.Context, msg *model.Message) (*model.Lead, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(renderMessage(msg)),
		},
		Temperature: openai.Float(a.temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrBadAnswer)
	}

	lead, err := parseAnswer(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	lead.LeadID = msg.ThreadID
	if lead.LeadID == "" {
		lead.LeadID = msg.MessageID
	}
	lead.Owner = msg.Owner
	lead.Subject = msg.Subject
	lead.InternalDate = msg.InternalDate
	if lead.Summary == "" {
		lead.Summary = msg.Summary
	}

	a.log.Debug().
		Str("message_id", msg.MessageID).
		Str("lead_id", lead.LeadID).
		Int64("tokens", resp.Usage.TotalTokens).
		Msg("message analysed")
	return lead, nil
}

func renderMessage(msg *model.Message) string {
	body := msg.Body
	if body == "" {
		body = msg.Summary
	}
	if len(body) > maxBodyChars {
		cut := maxBodyChars
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return fmt.Sprintf("From: %s\nTo: %s\nSubject: %s\n\n%s", msg.Sender, msg.Receiver, msg.Subject, body)
}

// parseAnswer decodes the model reply, tolerating a markdown code fence
// around the JSON object.
func parseAnswer(content string) (*model.Lead, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object", ErrBadAnswer)
	}

	var lead model.Lead
	if err := json.Unmarshal([]byte(s[start:end+1]), &lead); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAnswer, err)
	}
	return &lead, nil
}
