package session

import "context"

// CredentialStore is opaque key-to-secret storage with an explicit access-group
// boundary, so a companion process (e.g. a share extension) can read the same
// credentials without a second sign-in.
// Implementations: keyring/ (memory, encrypted file), fake/ (testing).
type CredentialStore interface {
	// Save writes the value under key within the named group.
	Save(key string, value []byte, group string) error

	// Load returns the stored value, or (nil, nil) when the key is absent.
	Load(key string, group string) ([]byte, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string, group string) error
}

// PrefStore is the UserDefaults-like local key/value store backing the upload
// counters and the guest flag. Reads and writes are synchronous.
// Implementations: prefs/ (memory, JSON file).
type PrefStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// TokenManager owns the token triple and its expiry.
// Implementation: token/.
type TokenManager interface {
	// Current returns the stored token set, or nil. Read-only.
	Current() *TokenSet

	// IsExpired is true if no token set exists or fewer than the
	// pre-emptive buffer (5 minutes) of validity remain.
	IsExpired() bool

	// Save overwrites all four stored fields. A partial failure clears
	// everything so the worst case is a forced re-login, never silent
	// corruption.
	Save(ts TokenSet) error

	// Clear removes all stored fields. Idempotent.
	Clear() error

	// EnsureValid returns an identity token fit to present to the
	// protected API, refreshing once if expired. On refresh failure it
	// clears all tokens and returns ErrTokenExpired; with no tokens at
	// all it returns ErrNotAuthenticated.
	EnsureValid(ctx context.Context) (string, error)
}

// IdentityService performs account operations against the remote identity API
// and keeps the TokenManager and the local guest flag in step.
// Implementation: identity/.
type IdentityService interface {
	// SignUp registers a new account. No local session side effect:
	// sign-up does not imply sign-in.
	SignUp(ctx context.Context, email, password, givenName, familyName string) (userID string, err error)

	// SignIn authenticates and persists the token set. The follow-up
	// profile fetch is best-effort enrichment; its failure does not
	// revert the authenticated state.
	SignIn(ctx context.Context, email, password string) (*Identity, error)

	// CreateGuest synthesizes random local-only credentials, registers
	// and signs in with them, and flags the identity as a guest.
	CreateGuest(ctx context.Context) (*Identity, error)

	// Upgrade claims the current guest account with real credentials.
	// The same underlying account remains; the identity kind flips to
	// registered.
	Upgrade(ctx context.Context, email, password, givenName, familyName string) (*Identity, error)

	// Resume rebuilds the Identity from persisted tokens on app launch,
	// refreshing them if needed. ErrNotAuthenticated with no stored
	// tokens; ErrTokenExpired if the stored set can no longer refresh.
	Resume(ctx context.Context) (*Identity, error)

	// DeleteAccount deletes the account remotely, then clears the token
	// set and the guest flag.
	DeleteAccount(ctx context.Context) error

	ForgotPassword(ctx context.Context, email string) error
	ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error

	// SignOut is local-only: clears the token set and the guest flag.
	SignOut()

	// IsGuest reports the persisted guest flag.
	IsGuest() bool
}

// QuotaTracker maps the active identity to an upload counter and the
// effective quota limit. Enforcement is advisory to the UI, not a security
// boundary: concurrent uploads may overshoot by the number in flight.
// Implementation: quota/.
type QuotaTracker interface {
	// SetIdentity selects the counter key: guest-scoped for guests,
	// userId-scoped otherwise (falling back to the guest key while no
	// userId is resolvable).
	SetIdentity(kind IdentityKind, userID string)

	// Remaining returns max(0, limit-count); unlimited is true while an
	// active Pro entitlement lifts the limit.
	Remaining() (n int, unlimited bool)

	// CanUpload is true off-Trial, or while the count is under the limit.
	CanUpload() bool

	// RecordUpload increments the active identity's counter. Callers
	// guard with CanUpload; the counter itself never rejects.
	RecordUpload()

	// Rekey moves the guest-scoped count under the now-known userId,
	// preserving the value across a guest upgrade.
	Rekey(userID string)

	// ResetGuest zeroes the guest-scoped counter.
	ResetGuest()

	// ClearUser removes a userId-scoped counter (account deletion).
	ClearUser(userID string)

	// SetStatus feeds the reconciled entitlement into the limit.
	SetStatus(status SubscriptionStatus)
}

// Reconciler recomputes canonical subscription status from the purchase
// store's source of truth, replacing any previously cached value.
// Implementation: purchase/.
type Reconciler interface {
	// Reconcile runs the full recomputation and returns the new status.
	// Store errors degrade to the conservative Trial fallback.
	Reconcile(ctx context.Context) SubscriptionStatus

	// Status returns the cached status from the last reconciliation.
	Status() SubscriptionStatus

	// ResetToTrial drops the cached status, so a freshly signed-in
	// identity never inherits the previous one's entitlement.
	ResetToTrial()

	// Purchase buys the product. A pending result (e.g. parental
	// approval) returns (false, nil) and is revisited by the update
	// listener later; an unverified result is ErrPurchaseVerification.
	Purchase(ctx context.Context, productID string) (bool, error)

	// Restore triggers a store-level sync, then reconciles.
	Restore(ctx context.Context) error

	// Run consumes the purchase store's transaction-update stream until
	// ctx is cancelled, reconciling on every verified update.
	Run(ctx context.Context)
}

// CacheInvalidator drops per-identity cached data (thumbnails, analysis
// results). The Manager invalidates synchronously on every transition into
// the unauthenticated state, before any component can read stale state.
type CacheInvalidator interface {
	Invalidate()
}

// InvalidatorFunc adapts a function to CacheInvalidator.
type InvalidatorFunc func()

// Invalidate calls f.
func (f InvalidatorFunc) Invalidate() { f() }
