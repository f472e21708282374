package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// AccountSyncer is implemented by *Service.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, userID, accountID string, req Request) (*AccountResult, error)
}

// Manager runs account syncs in the background, at most one per account.
type Manager struct {
	base         context.Context
	syncer       AccountSyncer
	log          zerolog.Logger
	runners      map[string]*runner
	runnersMutex sync.RWMutex
	wg           sync.WaitGroup
}

// NewManager creates a manager. Background syncs are cancelled when ctx is.
func NewManager(ctx context.Context, syncer AccountSyncer, log zerolog.Logger) *Manager {
	return &Manager{
		base:    ctx,
		syncer:  syncer,
		log:     log.With().Str("component", "sync-manager").Logger(),
		runners: make(map[string]*runner),
	}
}

type runner struct {
	cancel context.CancelFunc
}

func runnerKey(userID, accountID string) string {
	return fmt.Sprintf("%s:%s", userID, accountID)
}

// Start launches a sync of one account and returns immediately. It fails
// with ErrAlreadyRunning while a sync of the same account is in progress.
func (m *Manager) Start(userID, accountID string, req Request) error {
	key := runnerKey(userID, accountID)

	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	if _, exists := m.runners[key]; exists {
		return fmt.Errorf("%s: %w", key, ErrAlreadyRunning)
	}

	runnerCtx, cancel := context.WithCancel(m.base)
	r := &runner{cancel: cancel}
	m.runners[key] = r
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer cancel()

		m.log.Debug().Str("key", key).Msg("sync start")
		res, err := m.syncer.SyncAccount(runnerCtx, userID, accountID, req)
		if err != nil {
			m.log.Error().Err(err).Str("key", key).Msg("background sync failed")
		} else {
			m.log.Info().Str("key", key).Str("result", res.Message).Msg("background sync done")
		}

		m.runnersMutex.Lock()
		if m.runners[key] == r {
			delete(m.runners, key)
		}
		m.runnersMutex.Unlock()
	}()

	return nil
}

// Stop cancels the running sync of an account. It fails with ErrNotRunning
// when there is none.
func (m *Manager) Stop(userID, accountID string) error {
	key := runnerKey(userID, accountID)

	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	r, exists := m.runners[key]
	if !exists {
		return fmt.Errorf("%s: %w", key, ErrNotRunning)
	}

	r.cancel()
	delete(m.runners, key)
	return nil
}

// IsRunning checks if a sync is running for an account
func (m *Manager) IsRunning(userID, accountID string) bool {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	_, exists := m.runners[runnerKey(userID, accountID)]
	return exists
}

// Running returns the keys of running syncs for userID, sorted.
func (m *Manager) Running(userID string) []string {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	prefix := userID + ":"
	syncs := []string{}
	for key := range m.runners {
		if accountID, ok := strings.CutPrefix(key, prefix); ok {
			syncs = append(syncs, accountID)
		}
	}
	sort.Strings(syncs)
	return syncs
}

// StopAll cancels all running syncs and waits for them to return.
func (m *Manager) StopAll() {
	m.runnersMutex.Lock()
	for key, r := range m.runners {
		m.log.Info().Str("key", key).Msg("stopping sync")
		r.cancel()
	}
	m.runners = make(map[string]*runner)
	m.runnersMutex.Unlock()

	m.wg.Wait()
}

// Wait blocks until every started sync has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
