package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/model"
)

func TestSyncAccount_StoresMessagesAndEmitsEvent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, st, "user-1", "owner@example.com")
	mailbox := newFakeMailbox(remoteMessage("m1", "1"), remoteMessage("m2", "1"))
	refresher := &countingRefresher{}
	svc := newTestService(t, st, mailbox, refresher)

	res, err := svc.SyncAccount(ctx, "user-1", acct.ID, Request{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, "INBOX", res.Folder)
	assert.Equal(t, 2, res.Fetched)
	assert.Zero(t, refresher.calls)

	state, err := st.GetSyncState(ctx, "user-1", acct.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusOK, state.Status)
	assert.NotNil(t, state.LastSyncedAt)
	assert.Equal(t, 2, state.MessagesSeen)

	events, err := st.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "user.user-1.mail.synced", events[0].Subject)
	var payload MailSynced
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, acct.ID, payload.AccountID)
	assert.Equal(t, 2, payload.Created)

	// nothing changed remotely
	res, err = svc.SyncAccount(ctx, "user-1", acct.ID, Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, res.Skipped)
}

func TestSyncAccount_RespectsMaxMessages(t *testing.T) {
	st := newTestStore(t)
	acct := seedAccount(t, st, "user-1", "owner@example.com")
	mailbox := newFakeMailbox(remoteMessage("m1", "1"), remoteMessage("m2", "1"), remoteMessage("m3", "1"))
	svc := newTestService(t, st, mailbox, &countingRefresher{})

	res, err := svc.SyncAccount(context.Background(), "user-1", acct.ID, Request{MaxMessages: 2, Folder: "SENT"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, "SENT", res.Folder)
}

func TestSyncAccount_RefreshesOnceThenSucceeds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, st, "user-1", "owner@example.com")
	mailbox := newFakeMailbox(remoteMessage("m1", "1"))
	mailbox.reject["stale"] = true
	refresher := &countingRefresher{}
	svc := newTestService(t, st, mailbox, refresher)

	res, err := svc.SyncAccount(ctx, "user-1", acct.ID, Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, []string{"stale", "fresh"}, mailbox.seenTokens())
}

func TestSyncAccount_AlwaysUnauthorizedDeactivatesAccount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, st, "user-1", "owner@example.com")
	mailbox := newFakeMailbox(remoteMessage("m1", "1"))
	mailbox.reject["stale"] = true
	mailbox.reject["fresh"] = true
	refresher := &countingRefresher{}
	svc := newTestService(t, st, mailbox, refresher)

	_, err := svc.SyncAccount(ctx, "user-1", acct.ID, Request{})
	require.ErrorIs(t, err, auth.ErrCredentialsExpired)
	assert.Equal(t, 1, refresher.calls)
	assert.Len(t, mailbox.seenTokens(), 2)

	stored, err := st.GetAccount(ctx, "user-1", acct.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	state, err := st.GetSyncState(ctx, "user-1", acct.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusExpired, state.Status)

	// inactive accounts are not contacted again
	_, err = svc.SyncAccount(ctx, "user-1", acct.ID, Request{})
	require.ErrorIs(t, err, auth.ErrCredentialsExpired)
	assert.Len(t, mailbox.seenTokens(), 2)
}

func TestSyncAccount_ProviderUnavailableKeepsAccountActive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, st, "user-1", "owner@example.com")
	mailbox := newFakeMailbox()
	mailbox.listErr = fmt.Errorf("429: %w", auth.ErrProviderUnavailable)
	refresher := &countingRefresher{}
	svc := newTestService(t, st, mailbox, refresher)

	_, err := svc.SyncAccount(ctx, "user-1", acct.ID, Request{})
	require.ErrorIs(t, err, auth.ErrProviderUnavailable)
	assert.Zero(t, refresher.calls)

	stored, err := st.GetAccount(ctx, "user-1", acct.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	state, err := st.GetSyncState(ctx, "user-1", acct.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusError, state.Status)
	assert.Contains(t, state.LastError, "429")
}

func TestSyncAccount_RejectedRecordsAreItemErrors(t *testing.T) {
	st := newTestStore(t)
	acct := seedAccount(t, st, "user-1", "owner@example.com")
	mailbox := newFakeMailbox(remoteMessage("m1", "1"))
	mailbox.page.Rejected = []ItemError{{MessageID: "bad", Err: ErrMalformedMessage}}
	svc := newTestService(t, st, mailbox, &countingRefresher{})

	res, err := svc.SyncAccount(context.Background(), "user-1", acct.ID, Request{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Fetched)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrMalformedMessage)
}

func TestSyncUser_AggregatesAccounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "user-1", "a@example.com")
	second := seedAccount(t, st, "user-1", "b@example.com")
	require.NoError(t, st.MarkInactive(ctx, "user-1", second.ID, "revoked"))
	seedAccount(t, st, "user-1", "c@example.com")

	mailbox := newFakeMailbox(remoteMessage("m1", "1"), remoteMessage("m2", "1"))
	svc := newTestService(t, st, mailbox, &countingRefresher{})

	res, err := svc.SyncUser(ctx, "user-1", Request{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Accounts, 2, "inactive accounts are skipped")
	assert.Equal(t, 4, res.Created)
	assert.Contains(t, res.Message, "synced 2 accounts")
}

func TestSyncUser_NoAccounts(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st, newFakeMailbox(), &countingRefresher{})

	res, err := svc.SyncUser(context.Background(), "nobody", Request{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Accounts)
}

func TestSyncUser_CollectsAccountFailures(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "user-1", "a@example.com")
	mailbox := newFakeMailbox()
	mailbox.listErr = fmt.Errorf("503: %w", auth.ErrProviderUnavailable)
	svc := newTestService(t, st, mailbox, &countingRefresher{})

	res, err := svc.SyncUser(ctx, "user-1", Request{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "a@example.com")
}

func TestMarkRead_UpdatesProviderAndStore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, st, "user-1", "owner@example.com")
	mailbox := newFakeMailbox(remoteMessage("m1", "1"))
	svc := newTestService(t, st, mailbox, &countingRefresher{})
	_, err := svc.SyncAccount(ctx, "user-1", acct.ID, Request{})
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(ctx, "user-1", acct.ID, "m1", true))
	assert.True(t, mailbox.marked["m1"])
	got, err := st.GetMessage(ctx, "user-1", acct.ID, "m1")
	require.NoError(t, err)
	assert.True(t, got.IsRead)
}

func TestSend_RetriesOnceWithFreshToken(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, st, "user-1", "owner@example.com")
	mailbox := newFakeMailbox()
	mailbox.reject["stale"] = true
	refresher := &countingRefresher{}
	svc := newTestService(t, st, mailbox, refresher)

	msg := OutgoingMessage{To: []string{"buyer@example.com"}, Cc: []string{"cc@example.com"}, Subject: "Quote", Body: "attached"}
	id, err := svc.Send(ctx, "user-1", acct.ID, msg)
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)
	assert.Equal(t, []OutgoingMessage{msg}, mailbox.sent)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, []string{"buyer@example.com", "cc@example.com"}, msg.Recipients())

	mailbox.sendErr = fmt.Errorf("fake: %w", auth.ErrProviderUnavailable)
	_, err = svc.Send(ctx, "user-1", acct.ID, msg)
	assert.ErrorIs(t, err, auth.ErrProviderUnavailable)
}

func TestFolders(t *testing.T) {
	st := newTestStore(t)
	acct := seedAccount(t, st, "user-1", "owner@example.com")
	mailbox := newFakeMailbox()
	mailbox.folders = []Folder{{ID: "INBOX", Name: "INBOX", Total: 3, Unread: 1}}
	svc := newTestService(t, st, mailbox, &countingRefresher{})

	folders, err := svc.Folders(context.Background(), "user-1", acct.ID)
	require.NoError(t, err)
	assert.Equal(t, mailbox.folders, folders)

	_, err = svc.Folders(context.Background(), "user-2", acct.ID)
	assert.Error(t, err)
}

func TestConnect_ResolvesMailboxAddress(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mailbox := newFakeMailbox()
	mailbox.email = "new@example.com"
	svc := newTestService(t, st, mailbox, &countingRefresher{})

	acct, err := svc.Connect(ctx, "user-1", auth.ProviderGmail, &auth.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", acct.Email)

	cred, err := st.GetCredential(ctx, "user-1", acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "refresh", cred.RefreshToken)

	require.NoError(t, svc.Disconnect(ctx, "user-1", acct.ID))
	_, err = st.GetAccount(ctx, "user-1", acct.ID)
	assert.Error(t, err)
}
