// Package tokens manages provider access tokens: storage, expiry-window
// refresh, and single-flight refresh across goroutines and processes.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/provider"
	"github.com/finlake/finsync/internal/domain/shared"
)

const (
	// refreshLockTTL bounds how long a crashed refresher can block others.
	refreshLockTTL = 60 * time.Second

	// refreshWaitStep and refreshWaitMax pace losers of the cross-process
	// lock while they poll for the winner's token.
	refreshWaitStep = time.Second
	refreshWaitMax  = 30 * time.Second
)

// AuthenticateFunc exchanges an integration's stored credentials for a fresh
// bearer token.
type AuthenticateFunc func(ctx context.Context, integration org.Integration) (string, time.Time, error)

// Manager hands out per-integration token sources. A refresh is single-flight:
// concurrent callers inside the process serialize on a per-integration mutex,
// and across processes on a state store lock.
type Manager struct {
	repo   org.TokenRepository
	store  statestore.Store
	clock  shared.Clock
	window time.Duration
	auth   map[provider.Kind]AuthenticateFunc
	logger zerolog.Logger

	mu          sync.Mutex
	flight      map[int64]*sync.Mutex
	lastRefresh map[int64]time.Time
}

// NewManager creates a token manager. window is how close to expiry a token
// may get before it is refreshed proactively.
func NewManager(repo org.TokenRepository, store statestore.Store, clock shared.Clock, window time.Duration, auth map[provider.Kind]AuthenticateFunc, logger zerolog.Logger) *Manager {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Manager{
		repo:        repo,
		store:       store,
		clock:       clock,
		window:      window,
		auth:        auth,
		logger:      logger.With().Str("component", "tokens").Logger(),
		flight:      make(map[int64]*sync.Mutex),
		lastRefresh: make(map[int64]time.Time),
	}
}

// Source returns the rest.TokenSource for one integration.
func (m *Manager) Source(integration org.Integration) *Source {
	return &Source{manager: m, integration: integration}
}

// RefreshExpiring refreshes every stored token that falls inside the expiry
// window. Called on a schedule so workers rarely hit a 401.
func (m *Manager) RefreshExpiring(ctx context.Context, integrations []org.Integration) (int, error) {
	refreshed := 0
	var firstErr error
	for _, integration := range integrations {
		if !integration.HasCredentials() {
			continue
		}
		token, err := m.repo.Find(ctx, integration.ID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if token != nil && !token.ExpiresWithin(m.window, m.clock.Now()) {
			continue
		}
		if _, err := m.Refresh(ctx, integration); err != nil {
			m.logger.Warn().
				Err(err).
				Int64("integration_id", integration.ID).
				Msg("token refresh failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		refreshed++
	}
	return refreshed, firstErr
}

// Token returns a valid token for the integration, refreshing when the stored
// one is missing or expiring.
func (m *Manager) Token(ctx context.Context, integration org.Integration) (string, error) {
	token, err := m.repo.Find(ctx, integration.ID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return "", err
	}
	if token != nil && !token.ExpiresWithin(m.window, m.clock.Now()) {
		return token.Token, nil
	}
	return m.Refresh(ctx, integration)
}

// Refresh obtains and stores a new token. Exactly one caller performs the
// provider round-trip; the rest wait and reuse its result.
func (m *Manager) Refresh(ctx context.Context, integration org.Integration) (string, error) {
	lock := m.flightLock(integration.ID)
	lock.Lock()
	defer lock.Unlock()

	var previous string
	if current, err := m.repo.Find(ctx, integration.ID); err == nil && current != nil {
		previous = current.Token
		// A caller that waited on the mutex reuses the winner's token
		// instead of burning another provider round-trip. The stamp, not
		// the expiry, decides: a forced refresh after a 401 must go
		// through even when the rejected token still looks valid.
		if m.refreshedRecently(integration.ID) {
			return current.Token, nil
		}
	}

	key := statestore.TokenRefreshLockKey(integration.ID)
	acquired, err := m.store.Add(ctx, key, statestore.LockValue, refreshLockTTL)
	if err != nil {
		return "", fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	if !acquired {
		return m.awaitPeerRefresh(ctx, integration.ID, previous)
	}
	defer func() {
		if err := m.store.Delete(context.WithoutCancel(ctx), key); err != nil {
			m.logger.Warn().Err(err).Int64("integration_id", integration.ID).Msg("failed to release refresh lock")
		}
	}()

	authenticate, ok := m.auth[integration.Kind]
	if !ok {
		return "", fmt.Errorf("no authenticator for provider %s", integration.Kind)
	}
	value, expiresAt, err := authenticate(ctx, integration)
	if err != nil {
		return "", fmt.Errorf("authentication failed for integration %d: %w", integration.ID, err)
	}

	if err := m.repo.Save(ctx, &org.AccessToken{
		IntegrationID: integration.ID,
		Kind:          integration.Kind,
		Token:         value,
		ExpiresAt:     expiresAt,
	}); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}

	m.mu.Lock()
	m.lastRefresh[integration.ID] = m.clock.Now()
	m.mu.Unlock()

	m.logger.Info().
		Int64("integration_id", integration.ID).
		Str("provider", integration.Kind.String()).
		Time("expires_at", expiresAt).
		Msg("token refreshed")
	return value, nil
}

// refreshedRecently reports whether this process refreshed the integration's
// token inside the last few seconds.
func (m *Manager) refreshedRecently(integrationID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.lastRefresh[integrationID]
	return ok && m.clock.Now().Sub(at) < 10*time.Second
}

// awaitPeerRefresh polls the token store while another process refreshes.
func (m *Manager) awaitPeerRefresh(ctx context.Context, integrationID int64, previous string) (string, error) {
	deadline := m.clock.Now().Add(refreshWaitMax)
	for m.clock.Now().Before(deadline) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.clock.Sleep(refreshWaitStep)

		token, err := m.repo.Find(ctx, integrationID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return "", err
		}
		if token.Token != previous && !token.ExpiresWithin(0, m.clock.Now()) {
			return token.Token, nil
		}
	}
	return "", fmt.Errorf("refresh for integration %d: %w", integrationID, shared.ErrLockHeld)
}

func (m *Manager) flightLock(integrationID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.flight[integrationID]
	if !ok {
		lock = &sync.Mutex{}
		m.flight[integrationID] = lock
	}
	return lock
}

// Source adapts the manager to the rest.TokenSource contract for one
// integration.
type Source struct {
	manager     *Manager
	integration org.Integration
}

// Token returns a valid token, refreshing proactively near expiry.
func (s *Source) Token(ctx context.Context) (string, error) {
	return s.manager.Token(ctx, s.integration)
}

// Refresh forces a new token after the provider rejected the current one.
func (s *Source) Refresh(ctx context.Context) (string, error) {
	return s.manager.Refresh(ctx, s.integration)
}
