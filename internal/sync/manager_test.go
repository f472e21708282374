package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingSyncer struct {
	mu      stdsync.Mutex
	release chan struct{}
	started chan string
	calls   int
}

func (b *blockingSyncer) SyncAccount(ctx context.Context, userID, accountID string, _ Request) (*AccountResult, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- accountID
	select {
	case <-b.release:
		return &AccountResult{AccountID: accountID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newBlockingSyncer() *blockingSyncer {
	return &blockingSyncer{release: make(chan struct{}), started: make(chan string, 4)}
}

func TestManager_OneSyncPerAccount(t *testing.T) {
	syncer := newBlockingSyncer()
	m := NewManager(context.Background(), syncer, zerolog.Nop())

	require.NoError(t, m.Start("user-1", "acct-1", Request{}))
	<-syncer.started
	assert.True(t, m.IsRunning("user-1", "acct-1"))

	err := m.Start("user-1", "acct-1", Request{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, m.Start("user-1", "acct-2", Request{}))
	<-syncer.started
	assert.Equal(t, []string{"acct-1", "acct-2"}, m.Running("user-1"))
	assert.Empty(t, m.Running("user-2"))

	close(syncer.release)
	m.Wait()
	assert.False(t, m.IsRunning("user-1", "acct-1"))
	assert.Equal(t, 2, syncer.calls)
}

func TestManager_StopCancels(t *testing.T) {
	syncer := newBlockingSyncer()
	m := NewManager(context.Background(), syncer, zerolog.Nop())

	require.NoError(t, m.Start("user-1", "acct-1", Request{}))
	<-syncer.started
	require.NoError(t, m.Stop("user-1", "acct-1"))
	assert.False(t, m.IsRunning("user-1", "acct-1"))
	assert.ErrorIs(t, m.Stop("user-1", "acct-1"), ErrNotRunning)

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled sync did not return")
	}
}

func TestManager_StopAll(t *testing.T) {
	syncer := newBlockingSyncer()
	m := NewManager(context.Background(), syncer, zerolog.Nop())
	require.NoError(t, m.Start("user-1", "acct-1", Request{}))
	require.NoError(t, m.Start("user-2", "acct-9", Request{}))
	<-syncer.started
	<-syncer.started

	m.StopAll()
	assert.Empty(t, m.Running("user-1"))
	assert.Empty(t, m.Running("user-2"))
}
