package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Martian-dev/leadsync/internal/model"
)

const leadColumns = `user_id, lead_id, owner, subject, summary, internal_date,
	intent_category, intent_confidence, intent_reason,
	purchase_intent_score, purchase_intent_reason,
	sentiment_label, sentiment_score, sentiment_reason,
	urgency_level, urgency_reason, pain_points, keywords,
	upsell_value, upsell_reason, cross_sell_value, cross_sell_reason,
	discount_sensitivity_level, discount_sensitivity_reason,
	recommended_steps, priority_level, created_at, updated_at`

// LeadFilter controls search and pagination of ListLeads.
type LeadFilter struct {
	Search   string
	Priority string
	Offset   int
	Limit    int
}

func leadArgs(l *model.Lead) []any {
	return []any{
		l.UserID, l.LeadID, l.Owner, l.Subject, l.Summary, l.InternalDate,
		l.IntentCategory, l.IntentConfidence, l.IntentReason,
		l.PurchaseIntentScore, l.PurchaseIntentReason,
		l.SentimentLabel, l.SentimentScore, l.SentimentReason,
		l.UrgencyLevel, l.UrgencyReason, l.PainPoints, l.Keywords,
		l.UpsellValue, l.UpsellReason, l.CrossSellValue, l.CrossSellReason,
		l.DiscountSensitivityLevel, l.DiscountSensitivityReason,
		l.RecommendedSteps, l.PriorityLevel, l.CreatedAt, l.UpdatedAt,
	}
}

// CreateLead inserts a lead. It returns ErrConflict if userID already has
// a lead with the same lead_id.
func (s *Store) CreateLead(ctx context.Context, l *model.Lead) error {
	ts := now()
	l.CreatedAt = ts
	l.UpdatedAt = ts
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 28), ", ")

	res, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO email_lead ("+leadColumns+") VALUES ("+placeholders+
			") ON CONFLICT (user_id, lead_id) DO NOTHING"),
		leadArgs(l)...,
	)
	if err != nil {
		return storageErr("creating lead "+l.LeadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("creating lead "+l.LeadID, err)
	}
	if n == 0 {
		return fmt.Errorf("lead %s: %w", l.LeadID, ErrConflict)
	}
	return nil
}

// GetLead returns one lead of userID.
func (s *Store) GetLead(ctx context.Context, userID, leadID string) (*model.Lead, error) {
	var l model.Lead
	err := s.db.GetContext(ctx, &l, s.rebind(
		"SELECT "+leadColumns+" FROM email_lead WHERE user_id = ? AND lead_id = ?"),
		userID, leadID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("getting lead "+leadID, err)
	}
	return &l, nil
}

// LeadExists reports whether userID has a lead with leadID.
func (s *Store) LeadExists(ctx context.Context, userID, leadID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.rebind(
		"SELECT COUNT(*) FROM email_lead WHERE user_id = ? AND lead_id = ?"), userID, leadID)
	if err != nil {
		return false, storageErr("checking lead "+leadID, err)
	}
	return n > 0, nil
}

// UpdateLead replaces every analysis field of an existing lead.
func (s *Store) UpdateLead(ctx context.Context, l *model.Lead) error {
	l.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE email_lead SET
			owner = ?, subject = ?, summary = ?, internal_date = ?,
			intent_category = ?, intent_confidence = ?, intent_reason = ?,
			purchase_intent_score = ?, purchase_intent_reason = ?,
			sentiment_label = ?, sentiment_score = ?, sentiment_reason = ?,
			urgency_level = ?, urgency_reason = ?, pain_points = ?, keywords = ?,
			upsell_value = ?, upsell_reason = ?, cross_sell_value = ?, cross_sell_reason = ?,
			discount_sensitivity_level = ?, discount_sensitivity_reason = ?,
			recommended_steps = ?, priority_level = ?, updated_at = ?
		WHERE user_id = ? AND lead_id = ?`),
		l.Owner, l.Subject, l.Summary, l.InternalDate,
		l.IntentCategory, l.IntentConfidence, l.IntentReason,
		l.PurchaseIntentScore, l.PurchaseIntentReason,
		l.SentimentLabel, l.SentimentScore, l.SentimentReason,
		l.UrgencyLevel, l.UrgencyReason, l.PainPoints, l.Keywords,
		l.UpsellValue, l.UpsellReason, l.CrossSellValue, l.CrossSellReason,
		l.DiscountSensitivityLevel, l.DiscountSensitivityReason,
		l.RecommendedSteps, l.PriorityLevel, l.UpdatedAt,
		l.UserID, l.LeadID,
	)
	if err != nil {
		return storageErr("updating lead "+l.LeadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lead %s: %w", l.LeadID, ErrNotFound)
	}
	return nil
}

// DeleteLead removes a lead; messages linked to it are deleted by the
// foreign key cascade. ErrNotFound is returned unless a row was deleted.
func (s *Store) DeleteLead(ctx context.Context, userID, leadID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM email_lead WHERE user_id = ? AND lead_id = ?"), userID, leadID)
	if err != nil {
		return storageErr("deleting lead "+leadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("deleting lead "+leadID, err)
	}
	if n == 0 {
		return fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}
	return nil
}

func (s *Store) leadWhere(userID string, f LeadFilter) (string, []any) {
	conditions := []string{"user_id = ?"}
	args := []any{userID}
	if f.Priority != "" {
		conditions = append(conditions, "priority_level = ?")
		args = append(args, f.Priority)
	}
	if f.Search != "" {
		cond, sargs := s.searchCondition(f.Search, "subject", "summary", "owner")
		conditions = append(conditions, cond)
		args = append(args, sargs...)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListLeads returns userID's leads matching f, most recently updated first.
func (s *Store) ListLeads(ctx context.Context, userID string, f LeadFilter) ([]model.Lead, error) {
	where, args := s.leadWhere(userID, f)
	query := "SELECT " + leadColumns + " FROM email_lead" + where +
		" ORDER BY updated_at DESC, lead_id" + s.pageClause(f.Offset, f.Limit)

	leads := []model.Lead{}
	if err := s.db.SelectContext(ctx, &leads, s.rebind(query), args...); err != nil {
		return nil, storageErr("listing leads", err)
	}
	return leads, nil
}

// CountLeads counts userID's leads matching f, ignoring pagination.
func (s *Store) CountLeads(ctx context.Context, userID string, f LeadFilter) (int, error) {
	where, args := s.leadWhere(userID, f)
	var n int
	if err := s.db.GetContext(ctx, &n, s.rebind("SELECT COUNT(*) FROM email_lead"+where), args...); err != nil {
		return 0, storageErr("counting leads", err)
	}
	return n, nil
}

// LeadAnalytics aggregates userID's leads.
func (s *Store) LeadAnalytics(ctx context.Context, userID string) (*model.LeadAnalytics, error) {
	a := &model.LeadAnalytics{
		BySentiment: map[string]int{},
		ByPriority:  map[string]int{},
		ByUrgency:   map[string]int{},
	}

	var totals struct {
		Total      int     `db:"total"`
		Intent     float64 `db:"avg_intent"`
		Confidence float64 `db:"avg_confidence"`
		Upsell     int     `db:"upsell"`
		CrossSell  int     `db:"cross_sell"`
	}
	err := s.db.GetContext(ctx, &totals, s.rebind(`
		SELECT COUNT(*) AS total,
			COALESCE(AVG(purchase_intent_score), 0) AS avg_intent,
			COALESCE(AVG(intent_confidence), 0) AS avg_confidence,
			COALESCE(SUM(CASE WHEN upsell_value THEN 1 ELSE 0 END), 0) AS upsell,
			COALESCE(SUM(CASE WHEN cross_sell_value THEN 1 ELSE 0 END), 0) AS cross_sell
		FROM email_lead WHERE user_id = ?`), userID)
	if err != nil {
		return nil, storageErr("aggregating leads", err)
	}
	a.TotalLeads = totals.Total
	a.AveragePurchaseIntent = totals.Intent
	a.AverageIntentConfidence = totals.Confidence
	a.UpsellOpportunities = totals.Upsell
	a.CrossSellOpportunities = totals.CrossSell

	for column, dst := range map[string]map[string]int{
		"sentiment_label": a.BySentiment,
		"priority_level":  a.ByPriority,
		"urgency_level":   a.ByUrgency,
	} {
		var groups []struct {
			Label string `db:"label"`
			N     int    `db:"n"`
		}
		err := s.db.SelectContext(ctx, &groups, s.rebind(
			"SELECT "+column+" AS label, COUNT(*) AS n FROM email_lead WHERE user_id = ? GROUP BY "+column),
			userID,
		)
		if err != nil {
			return nil, storageErr("grouping leads by "+column, err)
		}
		for _, g := range groups {
			dst[g.Label] = g.N
		}
	}
	return a, nil
}
