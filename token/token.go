// Package token owns the access/identity/refresh token triple: persistence
// through the credential store, pre-emptive expiry, and the single refresh
// attempt behind EnsureValid.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	session "github.com/lumilens/session-go"
)

// The four fixed logical keys a token set occupies in the credential store.
const (
	keyAccessToken   = "session.access_token"
	keyIdentityToken = "session.identity_token"
	keyRefreshToken  = "session.refresh_token"
	keyExpiresAt     = "session.expires_at"
)

// DefaultExpiryBuffer is how long before the stored expiry a token set is
// treated as expired, to stay ahead of server-side clock skew.
const DefaultExpiryBuffer = 5 * time.Minute

// Refresher exchanges a refresh token for a fresh token set.
// Implementation: identity.HTTPBackend.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (session.TokenSet, error)
}

// Manager implements session.TokenManager over a CredentialStore, scoped to
// a named sharing group.
type Manager struct {
	store       session.CredentialStore
	refresher   Refresher
	group       string
	legacyGroup string
	buffer      time.Duration
	log         *slog.Logger
	now         func() time.Time
	onRefresh   func(result string)

	mu sync.Mutex
	sf singleflight.Group
}

var _ session.TokenManager = (*Manager)(nil)

// Option configures the Manager.
type Option func(*Manager)

// WithExpiryBuffer overrides the pre-emptive expiry buffer.
func WithExpiryBuffer(d time.Duration) Option {
	return func(m *Manager) { m.buffer = d }
}

// WithLegacyGroup names the unscoped store group a pre-sharing app version
// wrote to; MigrateLegacy moves its keys into the shared group once.
func WithLegacyGroup(group string) Option {
	return func(m *Manager) { m.legacyGroup = group }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRefreshHook registers a callback invoked with "success" or "failure"
// after every refresh attempt, e.g. metrics.RecordTokenRefresh.
func WithRefreshHook(fn func(result string)) Option {
	return func(m *Manager) { m.onRefresh = fn }
}

// New creates a Manager storing tokens in the given group of the store.
func New(store session.CredentialStore, refresher Refresher, group string, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		group:     group,
		buffer:    DefaultExpiryBuffer,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Current returns the stored token set, or nil when none exists. A set
// without an identity token counts as none.
func (m *Manager) Current() *session.TokenSet {
	idTok, err := m.store.Load(keyIdentityToken, m.group)
	if err != nil || len(idTok) == 0 {
		return nil
	}
	access, _ := m.store.Load(keyAccessToken, m.group)
	refresh, _ := m.store.Load(keyRefreshToken, m.group)

	var expiresAt time.Time
	if raw, _ := m.store.Load(keyExpiresAt, m.group); len(raw) > 0 {
		expiresAt, _ = time.Parse(time.RFC3339Nano, string(raw))
	}

	return &session.TokenSet{
		AccessToken:   string(access),
		IdentityToken: string(idTok),
		RefreshToken:  string(refresh),
		ExpiresAt:     expiresAt,
	}
}

// IsExpired is true when no token set exists or fewer than the buffer of
// validity remain.
func (m *Manager) IsExpired() bool {
	ts := m.Current()
	return ts == nil || m.expired(ts)
}

func (m *Manager) expired(ts *session.TokenSet) bool {
	return !m.now().Add(m.buffer).Before(ts.ExpiresAt)
}

// Save overwrites all four stored fields. When the incoming set carries no
// refresh token (some refresh responses omit it) the previously stored one
// is retained. A failure on any key clears the whole set before
// returning, so the worst outcome is a forced re-login.
func (m *Manager) Save(ts session.TokenSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	refresh := ts.RefreshToken
	if refresh == "" {
		if prev, _ := m.store.Load(keyRefreshToken, m.group); len(prev) > 0 {
			refresh = string(prev)
		}
	}

	writes := []struct {
		key   string
		value string
	}{
		{keyAccessToken, ts.AccessToken},
		{keyIdentityToken, ts.IdentityToken},
		{keyRefreshToken, refresh},
		{keyExpiresAt, ts.ExpiresAt.Format(time.RFC3339Nano)},
	}
	for _, w := range writes {
		if err := m.store.Save(w.key, []byte(w.value), m.group); err != nil {
			m.clearLocked()
			return fmt.Errorf("token: save %s: %w", w.key, err)
		}
	}
	return nil
}

// Clear removes all four keys. Idempotent: absent keys are fine.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked()
}

func (m *Manager) clearLocked() error {
	var firstErr error
	for _, key := range []string{keyAccessToken, keyIdentityToken, keyRefreshToken, keyExpiresAt} {
		if err := m.store.Delete(key, m.group); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("token: clear %s: %w", key, err)
		}
	}
	return firstErr
}

// EnsureValid returns an identity token fit to present to the protected API.
// If the stored set is expired it attempts exactly one refresh; concurrent
// callers share a single flight. A failed refresh clears all tokens and
// returns ErrTokenExpired so the caller treats it as "must re-authenticate",
// not a transient network error.
func (m *Manager) EnsureValid(ctx context.Context) (string, error) {
	cur := m.Current()
	if cur == nil {
		return "", session.ErrNotAuthenticated
	}
	if !m.expired(cur) {
		return cur.IdentityToken, nil
	}

	v, err, _ := m.sf.Do("refresh", func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may already
		// have refreshed.
		cur := m.Current()
		if cur == nil {
			return "", session.ErrNotAuthenticated
		}
		if !m.expired(cur) {
			return cur.IdentityToken, nil
		}
		if m.refresher == nil || cur.RefreshToken == "" {
			_ = m.Clear()
			return "", session.ErrTokenExpired
		}

		fresh, rerr := m.refresher.Refresh(ctx, cur.RefreshToken)
		if rerr != nil {
			m.log.Warn("token: refresh failed, clearing tokens", "err", rerr)
			m.refreshed("failure")
			_ = m.Clear()
			return "", fmt.Errorf("token: refresh: %w", session.ErrTokenExpired)
		}
		if serr := m.Save(fresh); serr != nil {
			m.refreshed("failure")
			return "", serr
		}
		m.refreshed("success")
		return fresh.IdentityToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refreshed(result string) {
	if m.onRefresh != nil {
		m.onRefresh(result)
	}
}

// MigrateLegacy copies the four keys from the legacy unscoped group into the
// shared group, once. It is a no-op when the shared group already holds an
// identity token, so stale legacy data never clobbers a fresher session.
// Best-effort: an individual key failure is logged and the rest proceed.
func (m *Manager) MigrateLegacy() {
	if m.legacyGroup == "" {
		return
	}
	if cur, err := m.store.Load(keyIdentityToken, m.group); err == nil && len(cur) > 0 {
		return
	}
	if legacy, err := m.store.Load(keyIdentityToken, m.legacyGroup); err != nil || len(legacy) == 0 {
		return
	}

	for _, key := range []string{keyAccessToken, keyIdentityToken, keyRefreshToken, keyExpiresAt} {
		v, err := m.store.Load(key, m.legacyGroup)
		if err != nil {
			m.log.Warn("token: migrate load failed", "key", key, "err", err)
			continue
		}
		if v == nil {
			continue
		}
		if err := m.store.Save(key, v, m.group); err != nil {
			m.log.Warn("token: migrate save failed", "key", key, "err", err)
			continue
		}
		if err := m.store.Delete(key, m.legacyGroup); err != nil {
			m.log.Warn("token: migrate delete failed", "key", key, "err", err)
		}
	}
	m.log.Info("token: migrated legacy credentials", "group", m.group)
}
