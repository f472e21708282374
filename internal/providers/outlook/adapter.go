package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	khttp "github.com/microsoft/kiota-http-go"
	jsonserialization "github.com/microsoft/kiota-serialization-json-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	msgraphauth "github.com/microsoftgraph/msgraph-sdk-go-core/authentication"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/providers"
	"github.com/Martian-dev/leadsync/internal/sync"
)

const (
	// DefaultFolder is the well-known name of the Outlook inbox.
	DefaultFolder = "inbox"

	// AllFolders lists messages across every folder.
	AllFolders = "ALL"

	maxPageSize = 1000
)

var graphScopes = []string{"https://graph.microsoft.com/.default"}

// graphHosts are the national cloud endpoints that receive the bearer token.
var graphHosts = []string{
	"graph.microsoft.com", "graph.microsoft.us", "dod-graph.microsoft.us",
	"graph.microsoft.de", "microsoftgraph.chinacloudapi.cn", "canary.graph.microsoft.com",
}

var messageFields = []string{
	"id", "conversationId", "changeKey", "subject", "from", "toRecipients",
	"body", "bodyPreview", "receivedDateTime", "isRead", "parentFolderId",
}

// Adapter implements sync.Client for Outlook/Microsoft Graph
type Adapter struct {
	client  *msgraphsdk.GraphServiceClient
	owner   string
	folders map[string]string // folder id or well-known name -> display name
}

// Option configures the Graph client.
type Option func(*graphOptions)

type graphOptions struct {
	baseURL string
}

// WithBaseURL points the client at another Graph root, e.g. a national cloud.
func WithBaseURL(u string) Option {
	return func(o *graphOptions) { o.baseURL = u }
}

// New creates a new Outlook adapter
func New(ctx context.Context, cred *auth.Credential, opts ...Option) (*Adapter, error) {
	var o graphOptions
	for _, opt := range opts {
		opt(&o)
	}
	client, err := newGraphClient(&staticTokenCredential{token: cred.AccessToken}, o)
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}
	return &Adapter{client: client, owner: cred.Email, folders: make(map[string]string)}, nil
}

// newGraphClient builds the Graph client on the default middleware minus
// the retry handler. Retries belong to the sync layer and its breaker.
func newGraphClient(cred azcore.TokenCredential, o graphOptions) (*msgraphsdk.GraphServiceClient, error) {
	hosts := graphHosts
	if o.baseURL != "" {
		u, err := url.Parse(o.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base url: %w", err)
		}
		hosts = append(append([]string{}, graphHosts...), u.Hostname())
	}

	authProvider, err := msgraphauth.NewAzureIdentityAuthenticationProviderWithScopesAndValidHosts(cred, graphScopes, hosts)
	if err != nil {
		return nil, err
	}

	clientOpts := msgraphsdk.GetDefaultClientOptions()
	httpClient := msgraphcore.GetDefaultClient(&clientOpts, withoutRetry(msgraphcore.GetDefaultMiddlewaresWithOptions(&clientOpts))...)

	adapter, err := msgraphsdk.NewGraphRequestAdapterWithParseNodeFactoryAndSerializationWriterFactoryAndHttpClient(authProvider, nil, nil, httpClient)
	if err != nil {
		return nil, err
	}
	if o.baseURL != "" {
		adapter.SetBaseUrl(strings.TrimSuffix(o.baseURL, "/"))
	}
	return msgraphsdk.NewGraphServiceClient(adapter), nil
}

func withoutRetry(middleware []khttp.Middleware) []khttp.Middleware {
	kept := make([]khttp.Middleware, 0, len(middleware))
	for _, m := range middleware {
		if _, ok := m.(*khttp.RetryHandler); ok {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// Provider returns the registry entry for Outlook.
func Provider(opts ...Option) sync.Provider {
	return sync.Provider{
		NewClient: func(ctx context.Context, cred *auth.Credential) (sync.Client, error) {
			return New(ctx, cred, opts...)
		},
		DefaultFolder: DefaultFolder,
	}
}

// ListFolders returns the top level mail folders.
func (a *Adapter) ListFolders(ctx context.Context) ([]sync.Folder, error) {
	result, err := a.client.Me().MailFolders().Get(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}

	var folders []sync.Folder
	for _, f := range result.GetValue() {
		folder := sync.Folder{
			ID:     deref(f.GetId()),
			Name:   deref(f.GetDisplayName()),
			Total:  int(derefInt(f.GetTotalItemCount())),
			Unread: int(derefInt(f.GetUnreadItemCount())),
		}
		a.folders[folder.ID] = folder.Name
		folders = append(folders, folder)
	}
	return folders, nil
}

// ListMessages pages through a folder newest first until opts.MaxResults
// messages were collected.
func (a *Adapter) ListMessages(ctx context.Context, opts sync.ListOptions) (*sync.Page, error) {
	limit := opts.MaxResults
	if limit <= 0 {
		limit = sync.DefaultMaxMessages
	}
	top := int32(min(limit, maxPageSize))
	var filter *string
	if !opts.Since.IsZero() {
		f := "receivedDateTime ge " + opts.Since.UTC().Format(time.RFC3339)
		filter = &f
	}

	var (
		result models.MessageCollectionResponseable
		err    error
	)
	if opts.Folder == "" || opts.Folder == AllFolders {
		result, err = a.client.Me().Messages().Get(ctx, &users.ItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
				Top:     &top,
				Select:  messageFields,
				Orderby: []string{"receivedDateTime desc"},
				Filter:  filter,
			},
		})
	} else {
		result, err = a.client.Me().MailFolders().ByMailFolderId(opts.Folder).Messages().Get(ctx, &users.ItemMailFoldersItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMailFoldersItemMessagesRequestBuilderGetQueryParameters{
				Top:     &top,
				Select:  messageFields,
				Orderby: []string{"receivedDateTime desc"},
				Filter:  filter,
			},
		})
	}
	if err != nil {
		return nil, classify(err)
	}

	iter, err := msgraphcore.NewPageIterator[models.Messageable](result, a.client.GetAdapter(), models.CreateMessageCollectionResponseFromDiscriminatorValue)
	if err != nil {
		return nil, fmt.Errorf("%w: outlook: %v", auth.ErrProviderUnavailable, err)
	}

	page := &sync.Page{}
	var collected []models.Messageable
	err = iter.Iterate(ctx, func(m models.Messageable) bool {
		collected = append(collected, m)
		return len(collected) < limit
	})
	if err != nil {
		return nil, classify(err)
	}

	for _, m := range collected {
		nm, err := normalize(m, a.owner, a.folderName(ctx, deref(m.GetParentFolderId())))
		if err != nil {
			page.Rejected = append(page.Rejected, sync.ItemError{MessageID: deref(m.GetId()), Err: err})
			continue
		}
		page.Messages = append(page.Messages, nm)
	}
	return page, nil
}

// GetMessage fetches a single message.
func (a *Adapter) GetMessage(ctx context.Context, id string) (*sync.NormalizedMessage, error) {
	m, err := a.client.Me().Messages().ByMessageId(id).Get(ctx, &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{Select: messageFields},
	})
	if err != nil {
		return nil, classify(err)
	}
	nm, err := normalize(m, a.owner, a.folderName(ctx, deref(m.GetParentFolderId())))
	if err != nil {
		return nil, err
	}
	return &nm, nil
}

// MarkRead patches the isRead flag of a message.
func (a *Adapter) MarkRead(ctx context.Context, id string, read bool) error {
	body := models.NewMessage()
	body.SetIsRead(&read)
	if _, err := a.client.Me().Messages().ByMessageId(id).Patch(ctx, body, nil); err != nil {
		return classify(err)
	}
	return nil
}

// Send delivers msg through sendMail and keeps a copy in Sent Items.
// Graph does not return the new message id.
func (a *Adapter) Send(ctx context.Context, msg sync.OutgoingMessage) (string, error) {
	body := models.NewItemBody()
	contentType := models.TEXT_BODYTYPE
	if msg.HTML {
		contentType = models.HTML_BODYTYPE
	}
	body.SetContentType(&contentType)
	body.SetContent(&msg.Body)

	m := models.NewMessage()
	m.SetSubject(&msg.Subject)
	m.SetBody(body)
	m.SetToRecipients(recipients(msg.To))
	if len(msg.Cc) > 0 {
		m.SetCcRecipients(recipients(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		m.SetBccRecipients(recipients(msg.Bcc))
	}

	req := users.NewItemSendMailPostRequestBody()
	req.SetMessage(m)
	save := true
	req.SetSaveToSentItems(&save)
	if err := a.client.Me().SendMail().Post(ctx, req, nil); err != nil {
		return "", classify(err)
	}
	return "", nil
}

// AccountEmail returns the signed-in user's mail address.
func (a *Adapter) AccountEmail(ctx context.Context) (string, error) {
	user, err := a.client.Me().Get(ctx, nil)
	if err != nil {
		return "", classify(err)
	}
	if mail := deref(user.GetMail()); mail != "" {
		return mail, nil
	}
	return deref(user.GetUserPrincipalName()), nil
}

// folderName resolves a parent folder id to its lowercased display name.
// Lookup failures fall back to the inbox.
func (a *Adapter) folderName(ctx context.Context, id string) string {
	if id == "" {
		return DefaultFolder
	}
	if name, ok := a.folders[id]; ok {
		return strings.ToLower(name)
	}
	f, err := a.client.Me().MailFolders().ByMailFolderId(id).Get(ctx, nil)
	if err != nil || f.GetDisplayName() == nil {
		return DefaultFolder
	}
	a.folders[id] = *f.GetDisplayName()
	return strings.ToLower(*f.GetDisplayName())
}

// normalize converts a Graph message to the common record. The
// changeKey changes on every modification and serves as the revision.
func normalize(m models.Messageable, owner, folder string) (sync.NormalizedMessage, error) {
	id := deref(m.GetId())
	if id == "" {
		return sync.NormalizedMessage{}, sync.ErrMissingMessageID
	}

	raw, err := serialize(m)
	if err != nil {
		return sync.NormalizedMessage{}, fmt.Errorf("%w: %v", sync.ErrMalformedMessage, err)
	}

	nm := sync.NormalizedMessage{
		ProviderMessageID: id,
		ThreadID:          deref(m.GetConversationId()),
		AccountOwner:      owner,
		Subject:           deref(m.GetSubject()),
		Summary:           deref(m.GetBodyPreview()),
		IsRead:            m.GetIsRead() != nil && *m.GetIsRead(),
		Folder:            folder,
		Revision:          deref(m.GetChangeKey()),
		Raw:               raw,
	}

	if from := m.GetFrom(); from != nil {
		nm.Sender = address(from.GetEmailAddress())
	}
	nm.Receiver = strings.Join(extractAddresses(m.GetToRecipients()), ", ")

	if body := m.GetBody(); body != nil {
		content := deref(body.GetContent())
		if ct := body.GetContentType(); ct != nil && *ct == models.HTML_BODYTYPE {
			content = providers.HTMLToText(content)
		}
		nm.Body = content
	}
	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		nm.InternalDate = rcvd.UnixMilli()
	}
	return nm, nil
}

func serialize(m models.Messageable) ([]byte, error) {
	w := jsonserialization.NewJsonSerializationWriter()
	defer w.Close()
	if err := w.WriteObjectValue("", m); err != nil {
		return nil, err
	}
	return w.GetSerializedContent()
}

// extractAddresses extracts email addresses from recipients
func extractAddresses(recipients []models.Recipientable) []string {
	var addrs []string
	for _, r := range recipients {
		if addr := address(r.GetEmailAddress()); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

func recipients(addrs []string) []models.Recipientable {
	out := make([]models.Recipientable, 0, len(addrs))
	for _, addr := range addrs {
		e := models.NewEmailAddress()
		e.SetAddress(&addr)
		r := models.NewRecipient()
		r.SetEmailAddress(e)
		out = append(out, r)
	}
	return out
}

func address(e models.EmailAddressable) string {
	if e == nil {
		return ""
	}
	addr := deref(e.GetAddress())
	if name := deref(e.GetName()); name != "" && name != addr {
		return fmt.Sprintf("%s <%s>", name, addr)
	}
	return addr
}

// classify maps Graph errors onto the auth error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var oerr *odataerrors.ODataError
	if errors.As(err, &oerr) {
		switch oerr.ResponseStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: outlook: %v", auth.ErrUnauthorized, describe(oerr))
		case http.StatusNotFound:
			return fmt.Errorf("%w: outlook: %v", sync.ErrRemoteNotFound, describe(oerr))
		}
		return fmt.Errorf("%w: outlook: %v", auth.ErrProviderUnavailable, describe(oerr))
	}
	return fmt.Errorf("%w: outlook: %v", auth.ErrProviderUnavailable, err)
}

func describe(oerr *odataerrors.ODataError) string {
	if main := oerr.GetErrorEscaped(); main != nil {
		return fmt.Sprintf("status %d: %s: %s", oerr.ResponseStatusCode, deref(main.GetCode()), deref(main.GetMessage()))
	}
	return fmt.Sprintf("status %d", oerr.ResponseStatusCode)
}

// staticTokenCredential serves an access token that was already obtained
// through the OAuth flow. Refresh is handled by auth.Refresher.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int32) int32 {
	if i == nil {
		return 0
	}
	return *i
}
