package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/providers"
	"github.com/Martian-dev/leadsync/internal/sync"
)

const (
	me = "me"

	// DefaultFolder is synced when a request names no folder.
	DefaultFolder = "INBOX"

	// AllFolders disables the folder restriction of a listing.
	AllFolders = "ALL"

	maxPageSize = 500
)

var folderLabels = []struct{ label, folder string }{
	{"INBOX", "inbox"},
	{"SENT", "sent"},
	{"DRAFT", "drafts"},
	{"SPAM", "spam"},
	{"TRASH", "trash"},
	{"IMPORTANT", "important"},
	{"STARRED", "starred"},
}

var errEnoughMessages = errors.New("enough messages")

// Adapter implements sync.Client for Gmail
type Adapter struct {
	svc   *gmail.Service
	owner string
}

// New creates a Gmail adapter bound to cred's access token. Extra options are
// applied after the token source, so tests can point the client elsewhere.
func New(ctx context.Context, cred *auth.Credential, opts ...option.ClientOption) (*Adapter, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"})
	all := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)

	svc, err := gmail.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Adapter{svc: svc, owner: cred.Email}, nil
}

// NewClientFactory returns a factory suitable for sync.Registry.
func NewClientFactory(opts ...option.ClientOption) sync.ClientFactory {
	return func(ctx context.Context, cred *auth.Credential) (sync.Client, error) {
		return New(ctx, cred, opts...)
	}
}

// Provider returns the registry entry for Gmail.
func Provider(opts ...option.ClientOption) sync.Provider {
	return sync.Provider{NewClient: NewClientFactory(opts...), DefaultFolder: DefaultFolder}
}

// ListFolders returns the mailbox labels with their message counts.
func (a *Adapter) ListFolders(ctx context.Context) ([]sync.Folder, error) {
	resp, err := a.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	folders := make([]sync.Folder, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		// List omits counts.
		full, err := a.svc.Users.Labels.Get(me, l.Id).Context(ctx).Do()
		if err != nil {
			return nil, classify(err)
		}
		folders = append(folders, sync.Folder{
			ID:     full.Id,
			Name:   full.Name,
			Total:  int(full.MessagesTotal),
			Unread: int(full.MessagesUnread),
		})
	}
	return folders, nil
}

// ListMessages fetches up to opts.MaxResults messages, newest first.
func (a *Adapter) ListMessages(ctx context.Context, opts sync.ListOptions) (*sync.Page, error) {
	limit := opts.MaxResults
	if limit <= 0 {
		limit = sync.DefaultMaxMessages
	}

	call := a.svc.Users.Messages.List(me).IncludeSpamTrash(false).MaxResults(int64(min(limit, maxPageSize)))
	if q := searchQuery(opts); q != "" {
		call = call.Q(q)
	}

	var ids []string
	err := call.Pages(ctx, func(page *gmail.ListMessagesResponse) error {
		for _, m := range page.Messages {
			ids = append(ids, m.Id)
			if len(ids) >= limit {
				return errEnoughMessages
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errEnoughMessages) {
		return nil, classify(err)
	}

	page := &sync.Page{Messages: make([]sync.NormalizedMessage, 0, len(ids))}
	for _, id := range ids {
		msg, err := a.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
		if err != nil {
			if isNotFound(err) {
				// Deleted between list and get.
				page.Rejected = append(page.Rejected, sync.ItemError{MessageID: id, Err: sync.ErrRemoteNotFound})
				continue
			}
			return nil, classify(err)
		}
		nm, err := normalize(msg, a.owner)
		if err != nil {
			page.Rejected = append(page.Rejected, sync.ItemError{MessageID: id, Err: err})
			continue
		}
		page.Messages = append(page.Messages, nm)
	}
	return page, nil
}

// GetMessage fetches a single message.
func (a *Adapter) GetMessage(ctx context.Context, id string) (*sync.NormalizedMessage, error) {
	msg, err := a.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	nm, err := normalize(msg, a.owner)
	if err != nil {
		return nil, err
	}
	return &nm, nil
}

// MarkRead adds or removes the UNREAD label.
func (a *Adapter) MarkRead(ctx context.Context, id string, read bool) error {
	req := &gmail.ModifyMessageRequest{}
	if read {
		req.RemoveLabelIds = []string{"UNREAD"}
	} else {
		req.AddLabelIds = []string{"UNREAD"}
	}
	if _, err := a.svc.Users.Messages.Modify(me, id, req).Context(ctx).Do(); err != nil {
		return classify(err)
	}
	return nil
}

// Send submits msg as a raw RFC 822 message and returns the new message id.
func (a *Adapter) Send(ctx context.Context, msg sync.OutgoingMessage) (string, error) {
	raw := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(rawMessage(msg))}
	sent, err := a.svc.Users.Messages.Send(me, raw).Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	return sent.Id, nil
}

// AccountEmail returns the address of the authenticated mailbox.
func (a *Adapter) AccountEmail(ctx context.Context) (string, error) {
	profile, err := a.svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	return profile.EmailAddress, nil
}

func rawMessage(msg sync.OutgoingMessage) []byte {
	var b strings.Builder
	header := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", name, value)
		}
	}
	header("To", strings.Join(msg.To, ", "))
	header("Cc", strings.Join(msg.Cc, ", "))
	header("Bcc", strings.Join(msg.Bcc, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("MIME-Version", "1.0")
	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}
	header("Content-Type", contentType+"; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

func searchQuery(opts sync.ListOptions) string {
	var terms []string
	if opts.Folder != "" && opts.Folder != AllFolders {
		terms = append(terms, "in:"+searchTerm(opts.Folder))
	}
	if !opts.Since.IsZero() {
		terms = append(terms, fmt.Sprintf("after:%d", opts.Since.Unix()))
	}
	return strings.Join(terms, " ")
}

// searchTerm quotes label names that would otherwise split into several
// search terms. Gmail search has no escape for a literal quote.
func searchTerm(v string) string {
	if !strings.ContainsAny(v, " \t\"(){}") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, "") + `"`
}

// normalize converts a Gmail message to the common record
func normalize(m *gmail.Message, owner string) (sync.NormalizedMessage, error) {
	if m.Id == "" {
		return sync.NormalizedMessage{}, sync.ErrMissingMessageID
	}
	if m.Payload == nil {
		return sync.NormalizedMessage{}, fmt.Errorf("%w: message has no payload", sync.ErrMalformedMessage)
	}

	headers := make(map[string]string)
	for _, kv := range m.Payload.Headers {
		headers[strings.ToLower(kv.Name)] = kv.Value
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return sync.NormalizedMessage{}, fmt.Errorf("%w: %v", sync.ErrMalformedMessage, err)
	}

	nm := sync.NormalizedMessage{
		ProviderMessageID: m.Id,
		ThreadID:          m.ThreadId,
		AccountOwner:      owner,
		Sender:            headers["from"],
		Receiver:          headers["to"],
		Subject:           headers["subject"],
		Body:              extractBody(m.Payload),
		Summary:           m.Snippet,
		IsRead:            true,
		Folder:            primaryFolder(m.LabelIds),
		InternalDate:      m.InternalDate,
		Raw:               raw,
	}
	if m.HistoryId != 0 {
		nm.Revision = fmt.Sprintf("%d", m.HistoryId)
	}
	for _, l := range m.LabelIds {
		if l == "UNREAD" {
			nm.IsRead = false
		}
	}
	return nm, nil
}

// extractBody prefers the first text/plain part and falls back to the first
// text/html part converted to text.
func extractBody(p *gmail.MessagePart) string {
	if text := findPart(p, "text/plain"); text != "" {
		return text
	}
	return providers.HTMLToText(findPart(p, "text/html"))
}

func findPart(p *gmail.MessagePart, mimeType string) string {
	if p == nil {
		return ""
	}
	if strings.HasPrefix(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
		if text, err := decodeData(p.Body.Data); err == nil {
			return text
		}
	}
	for _, part := range p.Parts {
		if text := findPart(part, mimeType); text != "" {
			return text
		}
	}
	return ""
}

// decodeData decodes base64url part data with or without padding.
func decodeData(data string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func primaryFolder(labels []string) string {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	for _, fl := range folderLabels {
		if set[fl.label] {
			return fl.folder
		}
	}
	for _, l := range labels {
		if l == "UNREAD" || strings.HasPrefix(l, "Label_") || strings.HasPrefix(l, "CATEGORY_") {
			continue
		}
		return l
	}
	return "inbox"
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// classify maps Gmail API errors onto the auth error taxonomy. A 403 is a
// token rejection unless Google reports a rate limit.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: gmail: %v", auth.ErrUnauthorized, err)
		case gerr.Code == http.StatusForbidden && !rateLimited(gerr):
			return fmt.Errorf("%w: gmail: %v", auth.ErrUnauthorized, err)
		case gerr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: gmail: %v", sync.ErrRemoteNotFound, err)
		}
	}
	return fmt.Errorf("%w: gmail: %v", auth.ErrProviderUnavailable, err)
}

func rateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
