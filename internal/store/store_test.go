package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/model"
)

// newTestStore creates an in-memory SQLite store with all migrations
// applied. It is closed when the test completes.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func seedAccount(t *testing.T, s *Store, userID, email string) *model.Account {
	t.Helper()
	acct := &model.Account{
		UserID:       userID,
		Provider:     string(auth.ProviderGmail),
		Email:        email,
		AccessToken:  "access",
		RefreshToken: "refresh",
	}
	require.NoError(t, s.SaveAccount(context.Background(), acct))
	return acct
}

func testLead(userID, leadID string) *model.Lead {
	return &model.Lead{
		UserID:                   userID,
		LeadID:                   leadID,
		Subject:                  "Pricing for 40 seats",
		Summary:                  "Prospect asks for volume pricing",
		IntentCategory:           "pricing",
		IntentConfidence:         0.8,
		IntentReason:             "asks for a quote",
		PurchaseIntentScore:      70,
		PurchaseIntentReason:     "budget approved",
		SentimentLabel:           model.SentimentPositive,
		SentimentScore:           0.4,
		SentimentReason:          "friendly tone",
		UrgencyLevel:             model.LevelHigh,
		UrgencyReason:            "needs it this quarter",
		PainPoints:               model.StringList{"manual reporting"},
		Keywords:                 model.StringList{"pricing", "seats"},
		UpsellValue:              true,
		DiscountSensitivityLevel: model.LevelMedium,
		RecommendedSteps:         model.StringList{"send quote"},
		PriorityLevel:            model.LevelHigh,
	}
}

func testMessage(acct *model.Account, id, rev string) *model.Message {
	return &model.Message{
		UserID:       acct.UserID,
		AccountID:    acct.ID,
		MessageID:    id,
		Sender:       "buyer@example.com",
		Receiver:     acct.Email,
		Subject:      "Subject " + id,
		Body:         "body of " + id,
		Summary:      "summary " + id,
		Folder:       "inbox",
		InternalDate: 1700000000000,
		HistoryID:    rev,
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	require.NoError(t, s.migrate(ctx))
	v, err = s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestOpen_UnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), Dialect("oracle"), "")
	assert.Error(t, err)
}

func TestPageClause(t *testing.T) {
	s := &Store{dialect: DialectSQLite}
	assert.Equal(t, "", s.pageClause(0, 0))
	assert.Equal(t, " LIMIT 10", s.pageClause(0, 10))
	assert.Equal(t, " LIMIT 10 OFFSET 20", s.pageClause(20, 10))
	assert.Equal(t, " LIMIT -1 OFFSET 5", s.pageClause(5, 0))

	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t, " OFFSET 5", pg.pageClause(5, 0))
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%invoice%", likePattern("Invoice"))
	assert.Equal(t, `%50\% off%`, likePattern("50% off"))
	assert.Equal(t, `%a\_b%`, likePattern("a_b"))
}

func TestSearchCondition(t *testing.T) {
	lite := &Store{dialect: DialectSQLite}
	cond, args := lite.searchCondition("Ärger", "subject", "body")
	assert.Equal(t, `(leadsync_fold(subject) LIKE ? ESCAPE '\' OR leadsync_fold(body) LIKE ? ESCAPE '\')`, cond)
	assert.Equal(t, []any{"%ärger%", "%ärger%"}, args)

	pg := &Store{dialect: DialectPostgres}
	cond, _ = pg.searchCondition("x", "owner")
	assert.Equal(t, `(LOWER(owner) LIKE ? ESCAPE '\')`, cond)
}

func TestOAuthState_ConsumedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC()

	require.NoError(t, s.CreateOAuthState(ctx, &model.OAuthState{
		State:     "abc",
		UserID:    "user-1",
		Provider:  "gmail",
		CreatedAt: created,
		ExpiresAt: created.Add(10 * time.Minute),
	}))

	st, err := s.ConsumeOAuthState(ctx, "abc", created.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "user-1", st.UserID)
	assert.Equal(t, "gmail", st.Provider)

	_, err = s.ConsumeOAuthState(ctx, "abc", created.Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOAuthState_Expired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC()

	require.NoError(t, s.CreateOAuthState(ctx, &model.OAuthState{
		State:     "old",
		UserID:    "user-1",
		Provider:  "outlook",
		CreatedAt: created,
		ExpiresAt: created.Add(10 * time.Minute),
	}))

	_, err := s.ConsumeOAuthState(ctx, "old", created.Add(11*time.Minute))
	assert.ErrorIs(t, err, ErrExpired)

	// expired states are still single use
	_, err = s.ConsumeOAuthState(ctx, "old", created)
	assert.ErrorIs(t, err, ErrNotFound)
}
