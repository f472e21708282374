package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Martian-dev/leadsync/internal/auth"
)

// NormalizedMessage is a provider message mapped onto the common record.
type NormalizedMessage struct {
	ProviderMessageID string          `json:"message_id"`
	ThreadID          string          `json:"thread_id,omitempty"` // Gmail threadId, Outlook conversationId
	AccountOwner      string          `json:"owner"`
	Sender            string          `json:"sender"`
	Receiver          string          `json:"receiver"`
	Subject           string          `json:"subject"`
	Body              string          `json:"body"`
	Summary           string          `json:"summary"`
	IsRead            bool            `json:"is_read"`
	Folder            string          `json:"folder"`
	InternalDate      int64           `json:"internal_date"` // epoch millis
	Revision          string          `json:"revision"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// Folder is a provider mail folder. IDs are opaque and provider specific.
type Folder struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Total  int    `json:"total"`
	Unread int    `json:"unread"`
}

// ListOptions bounds a ListMessages call. A zero Since means no lower bound.
type ListOptions struct {
	Folder     string
	MaxResults int
	Since      time.Time
}

// Page is the result of ListMessages. Records that could not be
// normalized are reported in Rejected instead of failing the call.
type Page struct {
	Messages []NormalizedMessage
	Rejected []ItemError
}

// OutgoingMessage is a message handed to the provider for delivery.
type OutgoingMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	HTML    bool
}

// Recipients returns every address the message is delivered to.
func (m OutgoingMessage) Recipients() []string {
	all := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	return append(all, m.Bcc...)
}

// Client is the capability set of one provider mailbox. Implementations
// return errors wrapping auth.ErrUnauthorized when the access token is
// rejected and auth.ErrProviderUnavailable otherwise.
type Client interface {
	ListFolders(ctx context.Context) ([]Folder, error)
	ListMessages(ctx context.Context, opts ListOptions) (*Page, error)
	GetMessage(ctx context.Context, id string) (*NormalizedMessage, error)
	MarkRead(ctx context.Context, id string, read bool) error
	AccountEmail(ctx context.Context) (string, error)
	// Send delivers msg and returns the provider message id, which is empty
	// when the provider does not report one.
	Send(ctx context.Context, msg OutgoingMessage) (string, error)
}

// ClientFactory builds a Client bound to cred's access token.
type ClientFactory func(ctx context.Context, cred *auth.Credential) (Client, error)

// Provider describes one registered mail provider.
type Provider struct {
	NewClient     ClientFactory
	DefaultFolder string
}

// Registry selects the client implementation by the account's provider tag.
type Registry struct {
	providers map[auth.Provider]Provider
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[auth.Provider]Provider)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(name auth.Provider, p Provider) {
	r.providers[name] = p
}

// Client creates a client for cred.
func (r *Registry) Client(ctx context.Context, cred *auth.Credential) (Client, error) {
	p, ok := r.providers[cred.Provider]
	if !ok {
		return nil, fmt.Errorf("no mail client registered for provider %q", cred.Provider)
	}
	return p.NewClient(ctx, cred)
}

// DefaultFolder returns the folder synced when a request names none.
func (r *Registry) DefaultFolder(name auth.Provider) string {
	return r.providers[name].DefaultFolder
}

// ItemError records a failure of one message in a batch.
type ItemError struct {
	MessageID string
	Err       error
}

func (e ItemError) Error() string {
	if e.MessageID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("message %s: %v", e.MessageID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// MarshalJSON implements json.Marshaler.
func (e ItemError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MessageID string `json:"message_id,omitempty"`
		Error     string `json:"error"`
	}{e.MessageID, e.Err.Error()})
}
