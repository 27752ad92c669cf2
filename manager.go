// Package session implements the session and entitlement lifecycle for the
// Lumilens client: the rules by which a device-local identity (guest or
// registered), its tokens, and its subscription/trial entitlement are
// created, persisted, refreshed, migrated, and torn down.
//
// The Manager is the single orchestrator UI code talks to. Concrete
// implementations of each concern are injected via Option functions:
//
//	mgr, err := session.New(
//	    session.WithTokenManager(tokens),
//	    session.WithIdentityService(ids),
//	    session.WithQuotaTracker(tracker),
//	    session.WithReconciler(rec),
//	)
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lumilens/session-go/events"
	"github.com/lumilens/session-go/metrics"
)

// Manager is the session façade: it owns the one current Identity and
// serializes every session-mutating transition, so a sign-out always fully
// completes before a subsequent session-start begins.
type Manager struct {
	log          *slog.Logger
	tokens       TokenManager
	identity     IdentityService
	quota        QuotaTracker
	reconciler   Reconciler
	events       *events.Logger
	metrics      *metrics.Metrics
	invalidators []CacheInvalidator

	mu          sync.Mutex
	current     *Identity
	scopeCtx    context.Context
	scopeCancel context.CancelFunc
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithTokenManager sets the token manager implementation.
func WithTokenManager(t TokenManager) Option {
	return func(m *Manager) { m.tokens = t }
}

// WithIdentityService sets the identity service implementation.
func WithIdentityService(s IdentityService) Option {
	return func(m *Manager) { m.identity = s }
}

// WithQuotaTracker sets the quota tracker implementation.
func WithQuotaTracker(q QuotaTracker) Option {
	return func(m *Manager) { m.quota = q }
}

// WithReconciler sets the entitlement reconciler implementation.
func WithReconciler(r Reconciler) Option {
	return func(m *Manager) { m.reconciler = r }
}

// WithEvents sets the lifecycle event logger.
func WithEvents(l *events.Logger) Option {
	return func(m *Manager) { m.events = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithCacheInvalidator registers per-identity cache storage (thumbnails,
// analysis results) to be dropped on every transition into the
// unauthenticated state. May be given multiple times.
func WithCacheInvalidator(inv CacheInvalidator) Option {
	return func(m *Manager) { m.invalidators = append(m.invalidators, inv) }
}

// New creates a Manager in the unauthenticated state. The token manager,
// identity service, quota tracker, and reconciler are required.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		log:     slog.Default(),
		metrics: metrics.New(false),
	}
	for _, o := range opts {
		o(m)
	}
	if m.tokens == nil || m.identity == nil || m.quota == nil || m.reconciler == nil {
		return nil, fmt.Errorf("session: token manager, identity service, quota tracker, and reconciler are required")
	}

	// The scope context is pre-cancelled while unauthenticated: nothing
	// identity-scoped may run.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.scopeCtx, m.scopeCancel = ctx, cancel
	return m, nil
}

// Snapshot returns the unified session view.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining, unlimited := m.quota.Remaining()
	return State{
		Authenticated:    m.current != nil,
		Guest:            m.current.IsGuest(),
		User:             m.current,
		RemainingUploads: remaining,
		UnlimitedUploads: unlimited,
		Subscription:     m.reconciler.Status(),
	}
}

// ScopeContext returns the context for per-identity work (data loads,
// uploads). It carries the current Identity and is cancelled, not merely
// abandoned, on every transition into the unauthenticated state, so a load
// started under one identity can never complete into the next one's view.
// While unauthenticated the returned context is already cancelled.
func (m *Manager) ScopeContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scopeCtx
}

// SignUp registers a new account. No session state changes: sign-up does
// not imply sign-in.
func (m *Manager) SignUp(ctx context.Context, email, password, givenName, familyName string) (string, error) {
	userID, err := m.identity.SignUp(ctx, email, password, givenName, familyName)
	if err != nil {
		m.metrics.RecordAuthFailure("sign_up", reason(err))
		return "", err
	}
	m.metrics.RecordAuthSuccess("sign_up")
	return userID, nil
}

// SignIn authenticates with real credentials and enters
// Authenticated(Registered).
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return fmt.Errorf("session: already authenticated; sign out first")
	}

	id, err := m.identity.SignIn(ctx, email, password)
	if err != nil {
		m.metrics.RecordAuthFailure("sign_in", reason(err))
		m.emit(events.Event{Action: events.ActionSignedIn, Result: "failure", Error: err.Error()})
		return err
	}
	m.metrics.RecordAuthSuccess("sign_in")
	m.startSessionLocked(id)
	m.emit(events.Event{Action: events.ActionSignedIn, UserID: id.UserID, Result: "success"})
	return nil
}

// TryAsGuest creates a synthetic guest account and enters
// Authenticated(Guest).
func (m *Manager) TryAsGuest(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return fmt.Errorf("session: already authenticated; sign out first")
	}

	id, err := m.identity.CreateGuest(ctx)
	if err != nil {
		m.metrics.RecordAuthFailure("guest_create", reason(err))
		m.emit(events.Event{Action: events.ActionGuestCreated, Result: "failure", Error: err.Error()})
		return err
	}
	m.metrics.RecordAuthSuccess("guest_create")
	m.startSessionLocked(id)
	m.emit(events.Event{Action: events.ActionGuestCreated, UserID: id.UserID, Guest: true, Result: "success"})
	return nil
}

// Resume restores a persisted session on app launch, refreshing the stored
// tokens if needed. With no usable tokens it returns ErrNotAuthenticated
// (or ErrTokenExpired) and the Manager stays unauthenticated.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil
	}
	id, err := m.identity.Resume(ctx)
	if err != nil {
		return err
	}
	m.startSessionLocked(id)
	m.emit(events.Event{Action: events.ActionSignedIn, UserID: id.UserID, Guest: id.IsGuest(), Result: "success", Details: "resumed"})
	return nil
}

// Upgrade claims the current guest account with real credentials. The
// upgrade is one-way and preserves continuity: the trial upload count
// carries over under the new registered key and no cache invalidation runs,
// because it is the same underlying account.
func (m *Manager) Upgrade(ctx context.Context, email, password, givenName, familyName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNotAuthenticated
	}
	if !m.current.IsGuest() {
		return fmt.Errorf("session: only a guest session can be upgraded")
	}

	id, err := m.identity.Upgrade(ctx, email, password, givenName, familyName)
	if err != nil {
		m.metrics.RecordAuthFailure("upgrade", reason(err))
		m.emit(events.Event{Action: events.ActionUpgraded, Result: "failure", Error: err.Error()})
		return err
	}

	m.quota.Rekey(id.UserID)
	m.quota.SetIdentity(id.Kind, id.UserID)
	// The scope context is left untouched: same account, in-flight work
	// keeps its continuity. The identity it carries shares this UserID.
	m.current = id
	m.metrics.RecordAuthSuccess("upgrade")
	m.emit(events.Event{Action: events.ActionUpgraded, UserID: id.UserID, Result: "success"})
	return nil
}

// SignOut tears the session down locally: cancels identity-scoped work,
// drops per-identity caches, clears tokens and the guest flag, resets the
// guest counter if the departing identity was a guest, and resets the
// subscription status to Trial. Idempotent while unauthenticated.
func (m *Manager) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	wasGuest := m.current.IsGuest()
	userID := m.current.UserID

	m.teardownLocked()
	if wasGuest {
		m.quota.ResetGuest()
	}
	m.emit(events.Event{Action: events.ActionSignedOut, UserID: userID, Guest: wasGuest, Result: "success"})
}

// DeleteAccount deletes the account remotely, then performs the full local
// teardown including both guest- and user-keyed counters.
func (m *Manager) DeleteAccount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNotAuthenticated
	}
	userID := m.current.UserID

	if err := m.identity.DeleteAccount(ctx); err != nil {
		m.emit(events.Event{Action: events.ActionDeleted, UserID: userID, Result: "failure", Error: err.Error()})
		return err
	}

	m.teardownLocked()
	m.quota.ResetGuest()
	m.quota.ClearUser(userID)
	m.emit(events.Event{Action: events.ActionDeleted, UserID: userID, Result: "success"})
	return nil
}

// teardownLocked is the shared transition into Unauthenticated. Cache
// invalidation runs synchronously before anything else can read state, so a
// later identity can never observe the departing one's data.
func (m *Manager) teardownLocked() {
	m.scopeCancel()
	for _, inv := range m.invalidators {
		inv.Invalidate()
	}
	m.identity.SignOut()
	m.reconciler.ResetToTrial()
	m.quota.SetStatus(Trial())
	m.quota.SetIdentity(KindGuest, "")
	m.current = nil
	m.log.Info("session: ended")
}

func (m *Manager) startSessionLocked(id *Identity) {
	m.quota.SetIdentity(id.Kind, id.UserID)
	ctx, cancel := context.WithCancel(WithIdentity(context.Background(), id))
	m.scopeCtx, m.scopeCancel = ctx, cancel
	m.current = id
	m.log.Info("session: started", "user", id.UserID, "kind", id.Kind)
}

// CanUpload reports whether the active identity may upload under its
// entitlement. Advisory: callers should check it before RecordUpload.
func (m *Manager) CanUpload() bool {
	ok := m.quota.CanUpload()
	if !ok {
		m.metrics.RecordQuotaExhausted()
	}
	return ok
}

// RecordUpload counts one successful upload against the active identity.
func (m *Manager) RecordUpload() {
	m.quota.RecordUpload()
	m.metrics.RecordUpload()
	m.emit(events.Event{Action: events.ActionUploadRecorded, Result: "success"})
}

// OnForeground reruns entitlement reconciliation for an authenticated
// registered user. Guests cannot hold purchases, and while unauthenticated
// there is nothing to reconcile.
func (m *Manager) OnForeground(ctx context.Context) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	if current == nil || current.IsGuest() {
		return
	}
	status := m.reconciler.Reconcile(ctx)
	m.quota.SetStatus(status)
	m.metrics.RecordReconciliation(string(status.Plan))
	m.emit(events.Event{Action: events.ActionReconciled, UserID: current.UserID, Result: "success", Details: string(status.Plan)})
}

// Purchase buys a subscription product and, on success, reconciles
// immediately. Pending results return (false, nil) and complete later
// through the update listener.
func (m *Manager) Purchase(ctx context.Context, productID string) (bool, error) {
	ok, err := m.reconciler.Purchase(ctx, productID)
	switch {
	case err != nil:
		m.metrics.RecordPurchase(reason(err))
		m.emit(events.Event{Action: events.ActionPurchase, Result: "failure", Error: err.Error()})
		return false, err
	case !ok:
		m.metrics.RecordPurchase("pending")
		m.emit(events.Event{Action: events.ActionPurchase, Result: "success", Details: "pending"})
		return false, nil
	}
	m.quota.SetStatus(m.reconciler.Status())
	m.metrics.RecordPurchase("success")
	m.emit(events.Event{Action: events.ActionPurchase, Result: "success"})
	return true, nil
}

// Restore replays past purchases through a store sync and reconciles.
func (m *Manager) Restore(ctx context.Context) error {
	if err := m.reconciler.Restore(ctx); err != nil {
		return err
	}
	m.quota.SetStatus(m.reconciler.Status())
	return nil
}

// Run services the purchase store's background transaction updates until
// ctx is cancelled. Call it once, in its own goroutine, for the lifetime of
// the process.
func (m *Manager) Run(ctx context.Context) {
	m.reconciler.Run(ctx)
}

func (m *Manager) emit(e events.Event) {
	if m.events != nil {
		m.events.Emit(e)
	}
}

// reason condenses an error into a stable metrics label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrUserAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrPasswordRequirements):
		return "password_policy"
	case errors.Is(err, ErrInvalidConfirmationCode):
		return "bad_code"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPurchaseCancelled):
		return "cancelled"
	case errors.Is(err, ErrPurchaseVerification):
		return "verification_failed"
	}
	return "error"
}
