package outlook

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/sync"
)

func ptr[T any](v T) *T { return &v }

func recipient(name, addr string) models.Recipientable {
	e := models.NewEmailAddress()
	e.SetName(ptr(name))
	e.SetAddress(ptr(addr))
	r := models.NewRecipient()
	r.SetEmailAddress(e)
	return r
}

func testMessage() models.Messageable {
	m := models.NewMessage()
	m.SetId(ptr("AAMk-1"))
	m.SetConversationId(ptr("conv-1"))
	m.SetChangeKey(ptr("ck-1"))
	m.SetSubject(ptr("Pricing"))
	m.SetBodyPreview(ptr("Can you send"))
	m.SetIsRead(ptr(false))
	m.SetFrom(recipient("Alice", "alice@x.com"))
	m.SetToRecipients([]models.Recipientable{recipient("me@x.com", "me@x.com"), recipient("", "bob@x.com")})

	body := models.NewItemBody()
	body.SetContentType(ptr(models.HTML_BODYTYPE))
	body.SetContent(ptr("<p>Can you send <b>pricing</b>?</p>"))
	m.SetBody(body)

	m.SetReceivedDateTime(ptr(time.UnixMilli(1700000000000).UTC()))
	return m
}

func TestNormalize(t *testing.T) {
	nm, err := normalize(testMessage(), "me@x.com", "inbox")
	require.NoError(t, err)

	assert.Equal(t, "AAMk-1", nm.ProviderMessageID)
	assert.Equal(t, "conv-1", nm.ThreadID)
	assert.Equal(t, "ck-1", nm.Revision)
	assert.Equal(t, "me@x.com", nm.AccountOwner)
	assert.Equal(t, "Alice <alice@x.com>", nm.Sender)
	assert.Equal(t, "me@x.com, bob@x.com", nm.Receiver)
	assert.Equal(t, "Pricing", nm.Subject)
	assert.Equal(t, "Can you send", nm.Summary)
	assert.Contains(t, nm.Body, "**pricing**")
	assert.NotContains(t, nm.Body, "<p>")
	assert.False(t, nm.IsRead)
	assert.Equal(t, "inbox", nm.Folder)
	assert.Equal(t, int64(1700000000000), nm.InternalDate)
	assert.Contains(t, string(nm.Raw), "ck-1")
}

func TestNormalizePlainBody(t *testing.T) {
	m := testMessage()
	body := models.NewItemBody()
	body.SetContentType(ptr(models.TEXT_BODYTYPE))
	body.SetContent(ptr("<not html>"))
	m.SetBody(body)

	nm, err := normalize(m, "me@x.com", "inbox")
	require.NoError(t, err)
	assert.Equal(t, "<not html>", nm.Body)
}

func TestNormalizeMissingID(t *testing.T) {
	_, err := normalize(models.NewMessage(), "me@x.com", "inbox")
	assert.ErrorIs(t, err, sync.ErrMissingMessageID)
}

func odataError(status int) error {
	e := odataerrors.NewODataError()
	e.ResponseStatusCode = status
	return e
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"401", odataError(401), auth.ErrUnauthorized},
		{"403", odataError(403), auth.ErrUnauthorized},
		{"404", odataError(404), sync.ErrRemoteNotFound},
		{"429", odataError(429), auth.ErrProviderUnavailable},
		{"503", odataError(503), auth.ErrProviderUnavailable},
		{"transport", errors.New("dial tcp: timeout"), auth.ErrProviderUnavailable},
		{"deadline", context.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}
}

func TestStaticTokenCredential(t *testing.T) {
	c := &staticTokenCredential{token: "abc"}
	tok, err := c.GetToken(context.Background(), policy.TokenRequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.Token)
	assert.True(t, tok.ExpiresOn.After(time.Now()))
}

const graphPrefix = "/v1.0/me"

type fakeGraph struct {
	mu            stdsync.Mutex
	srv           *httptest.Server
	filters       []string
	authz         []string
	folderLookups map[string]int
	patched       map[string]map[string]any
	sent          []map[string]any
}

func graphMessage(id, folder string, received int) string {
	return fmt.Sprintf(`{"id":%q,"conversationId":"c-%s","changeKey":"ck-%s","subject":"subject %s",
		"parentFolderId":%q,"isRead":false,
		"body":{"contentType":"text","content":"body %s"},
		"from":{"emailAddress":{"name":"Alice","address":"alice@x.com"}},
		"toRecipients":[{"emailAddress":{"address":"me@x.com"}}],
		"receivedDateTime":"2024-01-%02dT10:00:00Z"}`, id, id, id, id, folder, id, received)
}

// requestBody reads a JSON request body, undoing the client's gzip.
func requestBody(t *testing.T, r *http.Request) map[string]any {
	var rd io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if !assert.NoError(t, err) {
			return nil
		}
		defer zr.Close()
		rd = zr
	}
	var out map[string]any
	assert.NoError(t, json.NewDecoder(rd).Decode(&out))
	return out
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()
	f := &fakeGraph{folderLookups: map[string]int{}, patched: map[string]map[string]any{}}
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+graphPrefix+"/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.filters = append(f.filters, r.URL.Query().Get("$filter"))
		f.authz = append(f.authz, r.Header.Get("Authorization"))
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("$skip") == "2" {
			fmt.Fprintf(w, `{"value":[%s,%s]}`, graphMessage("m3", "f-1", 3), graphMessage("m4", "f-2", 4))
			return
		}
		fmt.Fprintf(w, `{"value":[%s,%s],"@odata.nextLink":%q}`,
			graphMessage("m1", "f-1", 1), graphMessage("m2", "f-1", 2), f.srv.URL+graphPrefix+"/messages?$skip=2")
	})
	mux.HandleFunc("GET "+graphPrefix+"/mailFolders/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"value":[%s]}`, graphMessage("m9", r.PathValue("id"), 9))
	})
	mux.HandleFunc("GET "+graphPrefix+"/mailFolders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		f.folderLookups[id]++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		names := map[string]string{"f-1": "Inbox", "f-2": "Leads Q3"}
		fmt.Fprintf(w, `{"id":%q,"displayName":%q}`, id, names[id])
	})
	mux.HandleFunc("GET "+graphPrefix+"/mailFolders", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[{"id":"f-1","displayName":"Inbox","totalItemCount":12,"unreadItemCount":3}]}`)
	})
	mux.HandleFunc("GET "+graphPrefix+"/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.PathValue("id") == "gone" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":"ErrorItemNotFound","message":"not found"}}`)
			return
		}
		fmt.Fprint(w, graphMessage(r.PathValue("id"), "f-1", 5))
	})
	mux.HandleFunc("PATCH "+graphPrefix+"/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		body := requestBody(t, r)
		f.mu.Lock()
		f.patched[r.PathValue("id")] = body
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%q}`, r.PathValue("id"))
	})
	mux.HandleFunc("POST "+graphPrefix+"/sendMail", func(w http.ResponseWriter, r *http.Request) {
		body := requestBody(t, r)
		f.mu.Lock()
		f.sent = append(f.sent, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET "+graphPrefix, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"u1","mail":null,"userPrincipalName":"me@x.onmicrosoft.com"}`)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newGraphAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	cred := &auth.Credential{Email: "me@x.com", Token: auth.Token{AccessToken: "tok"}}
	a, err := New(context.Background(), cred, WithBaseURL(baseURL+"/v1.0"))
	require.NoError(t, err)
	return a
}

func TestListMessagesFollowsNextLink(t *testing.T) {
	f := newFakeGraph(t)
	a := newGraphAdapter(t, f.srv.URL)

	page, err := a.ListMessages(context.Background(), sync.ListOptions{Folder: AllFolders, MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, page.Messages, 4)
	assert.Empty(t, page.Rejected)

	ids := make([]string, 0, len(page.Messages))
	for _, m := range page.Messages {
		ids = append(ids, m.ProviderMessageID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids)

	m1 := page.Messages[0]
	assert.Equal(t, "c-m1", m1.ThreadID)
	assert.Equal(t, "ck-m1", m1.Revision)
	assert.Equal(t, "Alice <alice@x.com>", m1.Sender)
	assert.Equal(t, "body m1", m1.Body)
	assert.Equal(t, "inbox", m1.Folder)
	assert.Equal(t, "leads q3", page.Messages[3].Folder)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"", ""}, f.filters)
	assert.Equal(t, []string{"Bearer tok", "Bearer tok"}, f.authz)
	assert.Equal(t, map[string]int{"f-1": 1, "f-2": 1}, f.folderLookups)
}

func TestListMessagesStopsAtLimit(t *testing.T) {
	f := newFakeGraph(t)
	a := newGraphAdapter(t, f.srv.URL)

	page, err := a.ListMessages(context.Background(), sync.ListOptions{MaxResults: 3})
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, "m3", page.Messages[2].ProviderMessageID)
}

func TestListMessagesSinceFilter(t *testing.T) {
	f := newFakeGraph(t)
	a := newGraphAdapter(t, f.srv.URL)

	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	_, err := a.ListMessages(context.Background(), sync.ListOptions{MaxResults: 2, Since: since})
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.filters)
	assert.Equal(t, "receivedDateTime ge 2024-01-02T02:04:05Z", f.filters[0])
}

func TestListMessagesInFolder(t *testing.T) {
	f := newFakeGraph(t)
	a := newGraphAdapter(t, f.srv.URL)

	page, err := a.ListMessages(context.Background(), sync.ListOptions{Folder: "f-2"})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m9", page.Messages[0].ProviderMessageID)
	assert.Equal(t, "leads q3", page.Messages[0].Folder)
}

func TestGraphMailboxOperations(t *testing.T) {
	f := newFakeGraph(t)
	a := newGraphAdapter(t, f.srv.URL)
	ctx := context.Background()

	folders, err := a.ListFolders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []sync.Folder{{ID: "f-1", Name: "Inbox", Total: 12, Unread: 3}}, folders)

	// ListFolders primed the cache
	m, err := a.GetMessage(ctx, "m5")
	require.NoError(t, err)
	assert.Equal(t, "inbox", m.Folder)
	f.mu.Lock()
	assert.Zero(t, f.folderLookups["f-1"])
	f.mu.Unlock()

	_, err = a.GetMessage(ctx, "gone")
	assert.ErrorIs(t, err, sync.ErrRemoteNotFound)

	require.NoError(t, a.MarkRead(ctx, "m5", true))
	f.mu.Lock()
	assert.Equal(t, true, f.patched["m5"]["isRead"])
	f.mu.Unlock()

	email, err := a.AccountEmail(ctx)
	require.NoError(t, err)
	assert.Equal(t, "me@x.onmicrosoft.com", email)
}

func TestSendMail(t *testing.T) {
	f := newFakeGraph(t)
	a := newGraphAdapter(t, f.srv.URL)

	id, err := a.Send(context.Background(), sync.OutgoingMessage{
		To:      []string{"bob@x.com"},
		Cc:      []string{"carol@x.com"},
		Subject: "Quote",
		Body:    "<p>attached</p>",
		HTML:    true,
	})
	require.NoError(t, err)
	assert.Empty(t, id)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.sent, 1)
	assert.Equal(t, true, f.sent[0]["saveToSentItems"])
	msg, ok := f.sent[0]["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Quote", msg["subject"])
	body, ok := msg["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "html", body["contentType"])
	assert.Equal(t, "<p>attached</p>", body["content"])
	to, ok := msg["toRecipients"].([]any)
	require.True(t, ok)
	require.Len(t, to, 1)
	addr, ok := to[0].(map[string]any)["emailAddress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bob@x.com", addr["address"])
	assert.Len(t, msg["ccRecipients"], 1)
	assert.NotContains(t, msg, "bccRecipients")
}

func TestGraphUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"InvalidAuthenticationToken","message":"token expired"}}`)
	}))
	defer srv.Close()
	a := newGraphAdapter(t, srv.URL)

	_, err := a.ListMessages(context.Background(), sync.ListOptions{})
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Contains(t, err.Error(), "InvalidAuthenticationToken")
}

func TestGraphUnavailableIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"code":"ServiceUnavailable","message":"down"}}`)
	}))
	defer srv.Close()
	a := newGraphAdapter(t, srv.URL)

	_, err := a.ListMessages(context.Background(), sync.ListOptions{})
	assert.ErrorIs(t, err, auth.ErrProviderUnavailable)
	assert.Equal(t, int32(1), hits.Load())

	_, err = a.Send(context.Background(), sync.OutgoingMessage{To: []string{"bob@x.com"}, Subject: "s", Body: "b"})
	assert.ErrorIs(t, err, auth.ErrProviderUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}
