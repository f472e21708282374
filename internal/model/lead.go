package model

import "time"

// Level values shared by urgency, priority and discount sensitivity.
const (
	LevelHigh   = "High"
	LevelMedium = "Medium"
	LevelLow    = "Low"
)

// Sentiment labels
const (
	SentimentPositive = "Positive"
	SentimentNeutral  = "Neutral"
	SentimentNegative = "Negative"
)

// Lead is the analysis record of one email. LeadID is unique per user and
// is usually the provider thread id of the analysed message.
type Lead struct {
	UserID       string `db:"user_id" json:"user_id"`
	LeadID       string `db:"lead_id" json:"lead_id" validate:"required"`
	Owner        string `db:"owner" json:"owner,omitempty" validate:"max=255"`
	Subject      string `db:"subject" json:"subject,omitempty"`
	Summary      string `db:"summary" json:"summary,omitempty"`
	InternalDate int64  `db:"internal_date" json:"internal_date,omitempty"`

	IntentCategory   string  `db:"intent_category" json:"intent_category" validate:"required"`
	IntentConfidence float64 `db:"intent_confidence" json:"intent_confidence" validate:"gte=0,lte=1"`
	IntentReason     string  `db:"intent_reason" json:"intent_reason" validate:"required"`

	PurchaseIntentScore  int    `db:"purchase_intent_score" json:"purchase_intent_score" validate:"gte=0,lte=100"`
	PurchaseIntentReason string `db:"purchase_intent_reason" json:"purchase_intent_reason" validate:"required"`

	SentimentLabel  string  `db:"sentiment_label" json:"sentiment_label" validate:"oneof=Positive Neutral Negative"`
	SentimentScore  float64 `db:"sentiment_score" json:"sentiment_score" validate:"gte=-1,lte=1"`
	SentimentReason string  `db:"sentiment_reason" json:"sentiment_reason" validate:"required"`

	UrgencyLevel  string `db:"urgency_level" json:"urgency_level" validate:"oneof=High Medium Low"`
	UrgencyReason string `db:"urgency_reason" json:"urgency_reason" validate:"required"`

	PainPoints StringList `db:"pain_points" json:"pain_points"`
	Keywords   StringList `db:"keywords" json:"keywords"`

	UpsellValue     bool   `db:"upsell_value" json:"upsell_value"`
	UpsellReason    string `db:"upsell_reason" json:"upsell_reason,omitempty"`
	CrossSellValue  bool   `db:"cross_sell_value" json:"cross_sell_value"`
	CrossSellReason string `db:"cross_sell_reason" json:"cross_sell_reason,omitempty"`

	DiscountSensitivityLevel  string `db:"discount_sensitivity_level" json:"discount_sensitivity_level" validate:"oneof=High Medium Low"`
	DiscountSensitivityReason string `db:"discount_sensitivity_reason" json:"discount_sensitivity_reason,omitempty"`

	RecommendedSteps StringList `db:"recommended_steps" json:"recommended_steps"`
	PriorityLevel    string     `db:"priority_level" json:"priority_level" validate:"oneof=High Medium Low"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LeadUpdate is a partial update. Nil fields are left unchanged.
type LeadUpdate struct {
	Owner        *string `json:"owner" validate:"omitempty,max=255"`
	Subject      *string `json:"subject"`
	Summary      *string `json:"summary"`
	InternalDate *int64  `json:"internal_date"`

	IntentCategory   *string  `json:"intent_category"`
	IntentConfidence *float64 `json:"intent_confidence" validate:"omitempty,gte=0,lte=1"`
	IntentReason     *string  `json:"intent_reason"`

	PurchaseIntentScore  *int    `json:"purchase_intent_score" validate:"omitempty,gte=0,lte=100"`
	PurchaseIntentReason *string `json:"purchase_intent_reason"`

	SentimentLabel  *string  `json:"sentiment_label" validate:"omitempty,oneof=Positive Neutral Negative"`
	SentimentScore  *float64 `json:"sentiment_score" validate:"omitempty,gte=-1,lte=1"`
	SentimentReason *string  `json:"sentiment_reason"`

	UrgencyLevel  *string `json:"urgency_level" validate:"omitempty,oneof=High Medium Low"`
	UrgencyReason *string `json:"urgency_reason"`

	PainPoints *[]string `json:"pain_points"`
	Keywords   *[]string `json:"keywords"`

	UpsellValue     *bool   `json:"upsell_value"`
	UpsellReason    *string `json:"upsell_reason"`
	CrossSellValue  *bool   `json:"cross_sell_value"`
	CrossSellReason *string `json:"cross_sell_reason"`

	DiscountSensitivityLevel  *string `json:"discount_sensitivity_level" validate:"omitempty,oneof=High Medium Low"`
	DiscountSensitivityReason *string `json:"discount_sensitivity_reason"`

	RecommendedSteps *[]string `json:"recommended_steps"`
	PriorityLevel    *string   `json:"priority_level" validate:"omitempty,oneof=High Medium Low"`
}

// Apply copies the set fields of u onto l.
func (u LeadUpdate) Apply(l *Lead) {
	setString(&l.Owner, u.Owner)
	setString(&l.Subject, u.Subject)
	setString(&l.Summary, u.Summary)
	if u.InternalDate != nil {
		l.InternalDate = *u.InternalDate
	}
	setString(&l.IntentCategory, u.IntentCategory)
	if u.IntentConfidence != nil {
		l.IntentConfidence = *u.IntentConfidence
	}
	setString(&l.IntentReason, u.IntentReason)
	if u.PurchaseIntentScore != nil {
		l.PurchaseIntentScore = *u.PurchaseIntentScore
	}
	setString(&l.PurchaseIntentReason, u.PurchaseIntentReason)
	setString(&l.SentimentLabel, u.SentimentLabel)
	if u.SentimentScore != nil {
		l.SentimentScore = *u.SentimentScore
	}
	setString(&l.SentimentReason, u.SentimentReason)
	setString(&l.UrgencyLevel, u.UrgencyLevel)
	setString(&l.UrgencyReason, u.UrgencyReason)
	if u.PainPoints != nil {
		l.PainPoints = StringList(*u.PainPoints)
	}
	if u.Keywords != nil {
		l.Keywords = StringList(*u.Keywords)
	}
	if u.UpsellValue != nil {
		l.UpsellValue = *u.UpsellValue
	}
	setString(&l.UpsellReason, u.UpsellReason)
	if u.CrossSellValue != nil {
		l.CrossSellValue = *u.CrossSellValue
	}
	setString(&l.CrossSellReason, u.CrossSellReason)
	setString(&l.DiscountSensitivityLevel, u.DiscountSensitivityLevel)
	setString(&l.DiscountSensitivityReason, u.DiscountSensitivityReason)
	if u.RecommendedSteps != nil {
		l.RecommendedSteps = StringList(*u.RecommendedSteps)
	}
	setString(&l.PriorityLevel, u.PriorityLevel)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// LeadWithMessages is a lead and the stored messages linked to it.
type LeadWithMessages struct {
	Lead
	Messages []Message `json:"messages"`
}

// LeadAnalytics summarises a user's leads.
type LeadAnalytics struct {
	TotalLeads              int            `json:"total_leads"`
	BySentiment             map[string]int `json:"by_sentiment"`
	ByPriority              map[string]int `json:"by_priority"`
	ByUrgency               map[string]int `json:"by_urgency"`
	AveragePurchaseIntent   float64        `json:"average_purchase_intent"`
	AverageIntentConfidence float64        `json:"average_intent_confidence"`
	UpsellOpportunities     int            `json:"upsell_opportunities"`
	CrossSellOpportunities  int            `json:"cross_sell_opportunities"`
}
