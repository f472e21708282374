package sync

import (
	"context"
	"fmt"
	"maps"

	"github.com/rs/zerolog"

	"github.com/Martian-dev/leadsync/internal/model"
)

// MessageWriter is the storage used by the reconciler.
type MessageWriter interface {
	UpsertMessage(ctx context.Context, m *model.Message) error
	LeadExists(ctx context.Context, userID, leadID string) (bool, error)
}

// Result is the outcome of reconciling one batch.
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Skipped int         `json:"skipped"`
	Errors  []ItemError `json:"errors"`
}

func (r *Result) finish() {
	r.Success = len(r.Errors) == 0
	r.Message = fmt.Sprintf("%d created, %d updated, %d skipped", r.Created, r.Updated, r.Skipped)
	if n := len(r.Errors); n > 0 {
		r.Message += fmt.Sprintf(", %d failed", n)
	}
}

// Reconciler diffs remote messages against stored revisions and writes
// new or changed rows one at a time.
type Reconciler struct {
	store MessageWriter
	log   zerolog.Logger
}

// NewReconciler creates a reconciler writing to store
func NewReconciler(store MessageWriter, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, log: log.With().Str("component", "reconciler").Logger()}
}

// Reconcile applies remote to the account in provider order. existing maps
// stored provider message ids to their revision marker and is not
// modified. A message whose revision matches is skipped without a write.
// Failures are recorded per message and never undo rows already written.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	userID, accountID string,
	remote []NormalizedMessage,
	existing map[string]string,
) Result {
	res := Result{Errors: []ItemError{}}
	known := maps.Clone(existing)
	if known == nil {
		known = map[string]string{}
	}
	leads := map[string]bool{}

	for i := range remote {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, ItemError{Err: fmt.Errorf("sync interrupted after %d of %d messages: %w", i, len(remote), err)})
			break
		}

		msg := &remote[i]
		if msg.ProviderMessageID == "" {
			res.Errors = append(res.Errors, ItemError{Err: fmt.Errorf("message at position %d: %w", i, ErrMissingMessageID)})
			continue
		}

		rev, stored := known[msg.ProviderMessageID]
		if stored && rev == msg.Revision {
			res.Skipped++
			continue
		}

		row := toRow(userID, accountID, msg)
		if !stored && msg.ThreadID != "" {
			ok, err := r.leadExists(ctx, leads, userID, msg.ThreadID)
			if err != nil {
				res.Errors = append(res.Errors, ItemError{MessageID: msg.ProviderMessageID, Err: err})
				continue
			}
			if ok {
				leadID := msg.ThreadID
				row.LeadID = &leadID
			}
		}

		if err := r.store.UpsertMessage(ctx, row); err != nil {
			r.log.Warn().Err(err).
				Str("account_id", accountID).
				Str("message_id", msg.ProviderMessageID).
				Msg("message write failed")
			res.Errors = append(res.Errors, ItemError{MessageID: msg.ProviderMessageID, Err: err})
			continue
		}

		if stored {
			res.Updated++
		} else {
			res.Created++
		}
		known[msg.ProviderMessageID] = msg.Revision
	}

	res.finish()
	return res
}

func (r *Reconciler) leadExists(ctx context.Context, cache map[string]bool, userID, leadID string) (bool, error) {
	if ok, hit := cache[leadID]; hit {
		return ok, nil
	}
	ok, err := r.store.LeadExists(ctx, userID, leadID)
	if err != nil {
		return false, err
	}
	cache[leadID] = ok
	return ok, nil
}

func toRow(userID, accountID string, msg *NormalizedMessage) *model.Message {
	return &model.Message{
		UserID:       userID,
		AccountID:    accountID,
		MessageID:    msg.ProviderMessageID,
		ThreadID:     msg.ThreadID,
		Owner:        msg.AccountOwner,
		Sender:       msg.Sender,
		Receiver:     msg.Receiver,
		Subject:      msg.Subject,
		Body:         msg.Body,
		Summary:      msg.Summary,
		IsRead:       msg.IsRead,
		Folder:       msg.Folder,
		InternalDate: msg.InternalDate,
		HistoryID:    msg.Revision,
		RawData:      model.RawJSON(msg.Raw),
	}
}
