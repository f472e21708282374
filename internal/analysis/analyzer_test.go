package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/leads"
	"github.com/Martian-dev/leadsync/internal/model"
	"github.com/Martian-dev/leadsync/internal/store"
)

const leadAnswer = `{
  "intent_category": "pricing",
  "intent_confidence": 0.85,
  "intent_reason": "asks for a quote",
  "purchase_intent_score": 72,
  "purchase_intent_reason": "mentions budget",
  "sentiment_label": "Positive",
  "sentiment_score": %s,
  "sentiment_reason": "friendly",
  "urgency_level": "High",
  "urgency_reason": "deadline this week",
  "pain_points": ["manual exports"],
  "keywords": ["quote", "seats"],
  "upsell_value": true,
  "upsell_reason": "team growth",
  "cross_sell_value": false,
  "discount_sensitivity_level": "Medium",
  "recommended_steps": ["send quote"],
  "priority_level": "High",
  "summary": "Buyer wants a quote for 40 seats"
}`

// newChatServer serves a single chat completion whose content is answer.
func newChatServer(t *testing.T, answer string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.Len(t, req.Messages, 2)

		content, _ := json.Marshal(answer)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}],
			"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`, content)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func newTestAnalyzer(srv *httptest.Server) *Analyzer {
	return NewAnalyzer(Config{APIKey: "test-key", Model: "gpt-test", BaseURL: srv.URL + "/"}, zerolog.Nop())
}

type fixture struct {
	store   *store.Store
	account *model.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	acct := &model.Account{UserID: "u1", Provider: string(auth.ProviderGmail), Email: "me@x.com", AccessToken: "a"}
	require.NoError(t, st.SaveAccount(ctx, acct))
	require.NoError(t, st.UpsertMessage(ctx, &model.Message{
		UserID:    "u1",
		AccountID: acct.ID,
		MessageID: "m1",
		ThreadID:  "thread-1",
		Owner:     "me@x.com",
		Sender:    "buyer@x.com",
		Subject:   "Quote for 40 seats",
		Body:      "Could you send pricing for 40 seats by Friday?",
	}))
	return &fixture{store: st, account: acct}
}

func TestParseAnswer(t *testing.T) {
	fenced := "```json\n" + fmt.Sprintf(leadAnswer, "0.6") + "\n```"
	l, err := parseAnswer(fenced)
	require.NoError(t, err)
	assert.Equal(t, 72, l.PurchaseIntentScore)
	assert.Equal(t, model.StringList{"quote", "seats"}, l.Keywords)

	_, err = parseAnswer("I cannot help with that.")
	assert.ErrorIs(t, err, ErrBadAnswer)

	_, err = parseAnswer(`{"purchase_intent_score": "lots"}`)
	assert.ErrorIs(t, err, ErrBadAnswer)
}

func TestRenderMessageTruncatesOnRuneBoundary(t *testing.T) {
	// "é" is two bytes, so byte maxBodyChars falls inside a rune
	body := "x" + strings.Repeat("é", maxBodyChars)
	out := renderMessage(&model.Message{Sender: "a@x.com", Subject: "s", Body: body})

	assert.True(t, utf8.ValidString(out))
	text := out[strings.Index(out, "\n\n")+2:]
	assert.LessOrEqual(t, len(text), maxBodyChars)
	assert.Equal(t, maxBodyChars-1, len(text))
	assert.True(t, strings.HasPrefix(text, "xé"))
}

func TestAnalyzeMessageCreatesAndLinksLead(t *testing.T) {
	f := newFixture(t)
	srv, calls := newChatServer(t, "```json\n"+fmt.Sprintf(leadAnswer, "0.6")+"\n```")
	svc := NewService(newTestAnalyzer(srv), f.store, leads.NewService(f.store, zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	res, err := svc.AnalyzeMessage(ctx, "u1", f.account.ID, "m1")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "thread-1", res.Lead.LeadID)
	assert.Equal(t, "Quote for 40 seats", res.Lead.Subject)

	stored, err := f.store.GetLead(ctx, "u1", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, model.LevelHigh, stored.PriorityLevel)
	assert.Equal(t, "Buyer wants a quote for 40 seats", stored.Summary)

	msg, err := f.store.GetMessage(ctx, "u1", f.account.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg.LeadID)
	assert.Equal(t, "thread-1", *msg.LeadID)

	// A second analysis replaces the lead.
	res, err = svc.AnalyzeMessage(ctx, "u1", f.account.ID, "m1")
	require.NoError(t, err)
	assert.False(t, res.Created)
}

func TestAnalyzeMessageRejectsInvalidAnswer(t *testing.T) {
	f := newFixture(t)
	srv, _ := newChatServer(t, fmt.Sprintf(leadAnswer, "1.5"))
	svc := NewService(newTestAnalyzer(srv), f.store, leads.NewService(f.store, zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	_, err := svc.AnalyzeMessage(ctx, "u1", f.account.ID, "m1")
	require.ErrorIs(t, err, leads.ErrInvalid)

	exists, err := f.store.LeadExists(ctx, "u1", "thread-1")
	require.NoError(t, err)
	assert.False(t, exists)

	msg, err := f.store.GetMessage(ctx, "u1", f.account.ID, "m1")
	require.NoError(t, err)
	assert.Nil(t, msg.LeadID)
}

func TestAnalyzeMessageUnknownMessage(t *testing.T) {
	f := newFixture(t)
	srv, calls := newChatServer(t, "{}")
	svc := NewService(newTestAnalyzer(srv), f.store, leads.NewService(f.store, zerolog.Nop()), zerolog.Nop())

	_, err := svc.AnalyzeMessage(context.Background(), "u1", f.account.ID, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, calls.Load())
}

func TestAnalyzeUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	_, err := newTestAnalyzer(srv).Analyze(context.Background(), &model.Message{MessageID: "m1"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
