// Package quota tracks per-identity upload usage against the trial quota.
// The count is advisory to the UI, not a security boundary: two concurrent
// uploads can overshoot the limit by the number in flight, which is
// accepted.
package quota

import (
	"log/slog"
	"strconv"
	"sync"

	session "github.com/lumilens/session-go"
)

// DefaultTrialLimit is the trial plan's upload quota.
const DefaultTrialLimit = 10

// Counter keys. The guest key covers guest sessions and any window where no
// userId is resolvable yet; registered users get a key of their own so the
// count survives their sign-outs.
const (
	keyGuestCount      = "quota.guest.uploads"
	keyUserCountPrefix = "quota.user.uploads."
)

// Tracker implements session.QuotaTracker over a PrefStore.
type Tracker struct {
	prefs session.PrefStore
	limit int
	log   *slog.Logger

	mu     sync.Mutex
	key    string
	status session.SubscriptionStatus
}

var _ session.QuotaTracker = (*Tracker)(nil)

// Option configures the Tracker.
type Option func(*Tracker)

// WithLimit overrides the trial upload limit.
func WithLimit(n int) Option {
	return func(t *Tracker) { t.limit = n }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// New creates a Tracker keyed to the guest counter until an identity is set.
func New(prefs session.PrefStore, opts ...Option) *Tracker {
	t := &Tracker{
		prefs:  prefs,
		limit:  DefaultTrialLimit,
		log:    slog.Default(),
		key:    keyGuestCount,
		status: session.Trial(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetIdentity selects the active counter key.
func (t *Tracker) SetIdentity(kind session.IdentityKind, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if kind == session.KindRegistered && userID != "" {
		t.key = keyUserCountPrefix + userID
		return
	}
	t.key = keyGuestCount
}

// SetStatus feeds the reconciled entitlement into the effective limit.
func (t *Tracker) SetStatus(status session.SubscriptionStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

func (t *Tracker) unlimitedLocked() bool {
	return t.status.Plan == session.PlanPro && t.status.IsActive()
}

func (t *Tracker) countLocked() int {
	raw, ok := t.prefs.Get(t.key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		t.log.Warn("quota: unreadable counter, treating as zero", "key", t.key, "value", raw)
		return 0
	}
	return n
}

// Remaining returns max(0, limit-count); unlimited is true while an active
// Pro entitlement lifts the limit.
func (t *Tracker) Remaining() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unlimitedLocked() {
		return 0, true
	}
	n := t.limit - t.countLocked()
	if n < 0 {
		n = 0
	}
	return n, false
}

// CanUpload is true off-Trial, or while the count is under the limit.
func (t *Tracker) CanUpload() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unlimitedLocked() || t.countLocked() < t.limit
}

// RecordUpload increments the active identity's counter. Guarding with
// CanUpload is the caller's job; the counter never decrements except by
// explicit reset.
func (t *Tracker) RecordUpload() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefs.Set(t.key, strconv.Itoa(t.countLocked()+1))
}

// Rekey moves the guest-scoped count under the now-known userId, preserving
// the value across a guest upgrade: upgrading never resets the trial.
func (t *Tracker) Rekey(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if raw, ok := t.prefs.Get(keyGuestCount); ok {
		t.prefs.Set(keyUserCountPrefix+userID, raw)
		t.prefs.Delete(keyGuestCount)
	}
	t.key = keyUserCountPrefix + userID
}

// ResetGuest zeroes the guest-scoped counter: a new guest session starts
// fresh.
func (t *Tracker) ResetGuest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefs.Delete(keyGuestCount)
}

// ClearUser removes a userId-scoped counter (account deletion).
func (t *Tracker) ClearUser(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefs.Delete(keyUserCountPrefix + userID)
}
