package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/model"
	"github.com/Martian-dev/leadsync/internal/store"
)

// DefaultMaxMessages bounds a sync request that does not set MaxMessages.
const DefaultMaxMessages = 100

// Store is the persistence used by the sync service.
type Store interface {
	MessageWriter
	ListAccounts(ctx context.Context, userID string, activeOnly bool) ([]model.Account, error)
	GetAccount(ctx context.Context, userID, accountID string) (*model.Account, error)
	SaveAccount(ctx context.Context, acct *model.Account) error
	DeleteAccount(ctx context.Context, userID, accountID string) error
	MessageRevisions(ctx context.Context, userID, accountID string) (map[string]string, error)
	SetMessageRead(ctx context.Context, userID, accountID, messageID string, read bool) error
	MarkInactive(ctx context.Context, userID, accountID, reason string) error
	SaveSyncState(ctx context.Context, st *model.SyncState) error
}

// EventSink receives the event emitted after each account sync.
type EventSink interface {
	EnqueueEvent(ctx context.Context, ev *model.OutboxEvent) error
}

// Request parameterises a sync. Zero values select the defaults.
type Request struct {
	MaxMessages int        `json:"max_messages"`
	Folder      string     `json:"folder"`
	Since       *time.Time `json:"since"`
}

// AccountResult is the outcome of syncing one account.
type AccountResult struct {
	Result
	AccountID string `json:"account_id"`
	Provider  string `json:"provider"`
	Email     string `json:"email"`
	Folder    string `json:"folder"`
	Fetched   int    `json:"fetched"`
}

// UserResult aggregates the sync of every active account of a user.
type UserResult struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Created  int             `json:"created"`
	Updated  int             `json:"updated"`
	Skipped  int             `json:"skipped"`
	Accounts []AccountResult `json:"accounts"`
	Errors   []string        `json:"errors"`
}

// MailSynced is the payload of the user.<id>.mail.synced event.
type MailSynced struct {
	EventID   string `json:"event_id"`
	Timestamp int64  `json:"ts"`
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Provider  string `json:"provider"`
	Folder    string `json:"folder"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// Service runs mailbox syncs for stored accounts.
type Service struct {
	store      Store
	registry   *Registry
	refresher  auth.CredentialRefresher
	reconciler *Reconciler
	events     EventSink
	log        zerolog.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes a MailSynced event through sink after every sync.
func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires a sync service.
func NewService(st Store, registry *Registry, refresher auth.CredentialRefresher, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      st,
		registry:   registry,
		refresher:  refresher,
		reconciler: NewReconciler(st, log),
		log:        log.With().Str("component", "sync").Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncUser syncs every active account of userID. Account failures are
// collected in the result; the error is only set when the accounts could
// not be listed.
func (s *Service) SyncUser(ctx context.Context, userID string, req Request) (*UserResult, error) {
	accounts, err := s.store.ListAccounts(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	out := &UserResult{Accounts: []AccountResult{}, Errors: []string{}}
	if len(accounts) == 0 {
		out.Success = true
		out.Message = "no active email accounts"
		return out, nil
	}

	for i := range accounts {
		res, err := s.syncAccount(ctx, &accounts[i], req)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s (%s): %v", accounts[i].Email, accounts[i].Provider, err))
			continue
		}
		out.Accounts = append(out.Accounts, *res)
		out.Created += res.Created
		out.Updated += res.Updated
		out.Skipped += res.Skipped
		for _, ie := range res.Errors {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", accounts[i].Email, ie))
		}
	}

	out.Success = len(out.Errors) == 0
	out.Message = fmt.Sprintf("synced %d accounts: %d created, %d updated, %d skipped",
		len(accounts), out.Created, out.Updated, out.Skipped)
	if n := len(out.Errors); n > 0 {
		out.Message += fmt.Sprintf(", %d errors", n)
	}
	return out, nil
}

// SyncAccount syncs one account of userID. An error is returned when the
// account could not be synced at all; it wraps auth.ErrCredentialsExpired
// when the user has to reconnect, in which case the account is also
// deactivated.
func (s *Service) SyncAccount(ctx context.Context, userID, accountID string, req Request) (*AccountResult, error) {
	acct, err := s.store.GetAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	return s.syncAccount(ctx, acct, req)
}

func (s *Service) syncAccount(ctx context.Context, acct *model.Account, req Request) (*AccountResult, error) {
	if !acct.IsActive {
		return nil, fmt.Errorf("account %s is inactive: %w", acct.ID, auth.ErrCredentialsExpired)
	}
	cred, err := store.CredentialOf(acct)
	if err != nil {
		return nil, err
	}

	opts := ListOptions{Folder: req.Folder, MaxResults: req.MaxMessages}
	if opts.Folder == "" {
		opts.Folder = s.registry.DefaultFolder(cred.Provider)
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxMessages
	}
	if req.Since != nil {
		opts.Since = *req.Since
	}

	log := s.log.With().
		Str("user_id", acct.UserID).
		Str("account_id", acct.ID).
		Str("provider", acct.Provider).
		Logger()

	state := &model.SyncState{AccountID: acct.ID, UserID: acct.UserID, Status: model.SyncStatusSyncing}
	if err := s.store.SaveSyncState(ctx, state); err != nil {
		log.Error().Err(err).Msg("saving sync state")
	}

	started := s.now()
	var page *Page
	session := auth.NewSession(cred, s.refresher)
	err = session.Do(ctx, func(ctx context.Context, cred *auth.Credential) error {
		client, err := s.registry.Client(ctx, cred)
		if err != nil {
			return err
		}
		page, err = client.ListMessages(ctx, opts)
		return err
	})
	if err != nil {
		s.recordFailure(ctx, log, acct, err)
		return nil, err
	}

	existing, err := s.store.MessageRevisions(ctx, acct.UserID, acct.ID)
	if err != nil {
		s.recordFailure(ctx, log, acct, err)
		return nil, err
	}

	res := s.reconciler.Reconcile(ctx, acct.UserID, acct.ID, page.Messages, existing)
	if len(page.Rejected) > 0 {
		res.Errors = append(append([]ItemError{}, page.Rejected...), res.Errors...)
		res.finish()
	}

	out := &AccountResult{
		Result:    res,
		AccountID: acct.ID,
		Provider:  acct.Provider,
		Email:     acct.Email,
		Folder:    opts.Folder,
		Fetched:   len(page.Messages) + len(page.Rejected),
	}

	synced := s.now().UTC()
	state = &model.SyncState{
		AccountID:    acct.ID,
		UserID:       acct.UserID,
		Status:       model.SyncStatusOK,
		LastSyncedAt: &synced,
		MessagesSeen: out.Fetched,
	}
	if !res.Success {
		state.LastError = res.Message
	}
	if err := s.store.SaveSyncState(ctx, state); err != nil {
		log.Error().Err(err).Msg("saving sync state")
	}
	s.emit(ctx, log, acct.UserID, out)

	log.Info().
		Str("folder", opts.Folder).
		Int("fetched", out.Fetched).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("failed", len(res.Errors)).
		Dur("took", s.now().Sub(started)).
		Msg("account synced")
	return out, nil
}

func (s *Service) recordFailure(ctx context.Context, log zerolog.Logger, acct *model.Account, err error) {
	if errors.Is(err, auth.ErrCredentialsExpired) {
		log.Warn().Err(err).Msg("credentials expired, deactivating account")
		if merr := s.store.MarkInactive(ctx, acct.UserID, acct.ID, err.Error()); merr != nil {
			log.Error().Err(merr).Msg("deactivating account")
		}
		return
	}
	log.Error().Err(err).Msg("account sync failed")
	st := &model.SyncState{AccountID: acct.ID, UserID: acct.UserID, Status: model.SyncStatusError, LastError: err.Error()}
	if serr := s.store.SaveSyncState(ctx, st); serr != nil {
		log.Error().Err(serr).Msg("saving sync state")
	}
}

func (s *Service) emit(ctx context.Context, log zerolog.Logger, userID string, res *AccountResult) {
	if s.events == nil {
		return
	}
	ev := MailSynced{
		EventID:   uuid.NewString(),
		Timestamp: s.now().Unix(),
		UserID:    userID,
		AccountID: res.AccountID,
		Provider:  res.Provider,
		Folder:    res.Folder,
		Created:   res.Created,
		Updated:   res.Updated,
		Skipped:   res.Skipped,
		Failed:    len(res.Errors),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("encoding sync event")
		return
	}
	err = s.events.EnqueueEvent(ctx, &model.OutboxEvent{
		UserID:  userID,
		Subject: fmt.Sprintf("user.%s.mail.synced", userID),
		Type:    "mail.synced",
		Payload: payload,
		MsgID:   fmt.Sprintf("mail.synced|%s|%s", res.AccountID, ev.EventID),
	})
	if err != nil {
		log.Error().Err(err).Msg("enqueueing sync event")
	}
}
