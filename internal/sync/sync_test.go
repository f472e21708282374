package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/model"
	"github.com/Martian-dev/leadsync/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAccount(t *testing.T, s *store.Store, userID, email string) *model.Account {
	t.Helper()
	acct := &model.Account{
		UserID:       userID,
		Provider:     string(auth.ProviderGmail),
		Email:        email,
		AccessToken:  "stale",
		RefreshToken: "refresh",
	}
	require.NoError(t, s.SaveAccount(context.Background(), acct))
	return acct
}

func remoteMessage(id, rev string) NormalizedMessage {
	return NormalizedMessage{
		ProviderMessageID: id,
		AccountOwner:      "owner@example.com",
		Sender:            "buyer@example.com",
		Receiver:          "owner@example.com",
		Subject:           "Subject " + id,
		Body:              "body " + id,
		Summary:           "summary " + id,
		Folder:            "inbox",
		InternalDate:      1700000000000,
		Revision:          rev,
	}
}

// fakeClient serves the shared mailbox. Calls made with a token listed in
// reject fail with auth.ErrUnauthorized.
type fakeClient struct {
	token  string
	shared *fakeMailbox
}

type fakeMailbox struct {
	mu      stdsync.Mutex
	page    *Page
	listErr error
	reject  map[string]bool
	email   string
	folders []Folder
	marked  map[string]bool
	tokens  []string
	sent    []OutgoingMessage
	sendErr error
}

func newFakeMailbox(msgs ...NormalizedMessage) *fakeMailbox {
	return &fakeMailbox{
		page:   &Page{Messages: msgs},
		reject: map[string]bool{},
		marked: map[string]bool{},
		email:  "owner@example.com",
	}
}

func (m *fakeMailbox) factory() ClientFactory {
	return func(_ context.Context, cred *auth.Credential) (Client, error) {
		return &fakeClient{token: cred.AccessToken, shared: m}, nil
	}
}

func (m *fakeMailbox) seenTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

func (c *fakeClient) check() error {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.tokens = append(c.shared.tokens, c.token)
	if c.shared.reject[c.token] {
		return fmt.Errorf("fake: %w", auth.ErrUnauthorized)
	}
	return nil
}

func (c *fakeClient) ListFolders(context.Context) ([]Folder, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.shared.folders, nil
}

func (c *fakeClient) ListMessages(_ context.Context, opts ListOptions) (*Page, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.shared.listErr != nil {
		return nil, c.shared.listErr
	}
	page := *c.shared.page
	if opts.MaxResults > 0 && len(page.Messages) > opts.MaxResults {
		page.Messages = page.Messages[:opts.MaxResults]
	}
	return &page, nil
}

func (c *fakeClient) GetMessage(_ context.Context, id string) (*NormalizedMessage, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	for i := range c.shared.page.Messages {
		if c.shared.page.Messages[i].ProviderMessageID == id {
			m := c.shared.page.Messages[i]
			return &m, nil
		}
	}
	return nil, fmt.Errorf("fake get %s: %w", id, auth.ErrProviderUnavailable)
}

func (c *fakeClient) MarkRead(_ context.Context, id string, read bool) error {
	if err := c.check(); err != nil {
		return err
	}
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.marked[id] = read
	return nil
}

func (c *fakeClient) AccountEmail(context.Context) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	return c.shared.email, nil
}

func (c *fakeClient) Send(_ context.Context, msg OutgoingMessage) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	if c.shared.sendErr != nil {
		return "", c.shared.sendErr
	}
	c.shared.sent = append(c.shared.sent, msg)
	return fmt.Sprintf("sent-%d", len(c.shared.sent)), nil
}

type countingRefresher struct {
	mu    stdsync.Mutex
	calls int
	err   error
}

func (r *countingRefresher) EnsureValid(_ context.Context, cred *auth.Credential) (*auth.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	next := *cred
	next.AccessToken = "fresh"
	return &next, nil
}

func newTestService(t *testing.T, st *store.Store, mailbox *fakeMailbox, refresher auth.CredentialRefresher) *Service {
	t.Helper()
	reg := NewRegistry()
	reg.Register(auth.ProviderGmail, Provider{NewClient: mailbox.factory(), DefaultFolder: "INBOX"})
	return NewService(st, reg, refresher, zerolog.Nop(), WithEvents(st))
}
