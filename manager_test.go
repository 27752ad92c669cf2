package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	session "github.com/lumilens/session-go"
	"github.com/lumilens/session-go/fake"
	"github.com/lumilens/session-go/identity"
	"github.com/lumilens/session-go/purchase"
)

// newIdentityOver builds a second identity service over the fixture's
// stores, simulating a process restart.
func newIdentityOver(f *fake.Fixture) session.IdentityService {
	return identity.New(f.Backend, f.Tokens, f.Prefs)
}

const (
	email    = "alice@example.com"
	password = "correct-horse-1A"
)

func newFixture(t *testing.T, opts ...fake.ManagerOption) *fake.Fixture {
	t.Helper()
	opts = append([]fake.ManagerOption{
		fake.WithBackendOptions(fake.WithAccount(email, password, "Alice", "Adler")),
	}, opts...)
	f, err := fake.NewManager(opts...)
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return f
}

func TestGuestExhaustsTrialQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.Manager.TryAsGuest(ctx); err != nil {
		t.Fatalf("TryAsGuest() error: %v", err)
	}
	st := f.Manager.Snapshot()
	if !st.Authenticated || !st.Guest {
		t.Fatalf("Snapshot = %+v, want authenticated guest", st)
	}
	if st.RemainingUploads != 10 || st.UnlimitedUploads {
		t.Fatalf("remaining = %d unlimited = %v, want 10 limited", st.RemainingUploads, st.UnlimitedUploads)
	}

	for i := 0; i < 10; i++ {
		if !f.Manager.CanUpload() {
			t.Fatalf("CanUpload() false at upload %d", i)
		}
		f.Manager.RecordUpload()
	}
	if f.Manager.CanUpload() {
		t.Error("CanUpload() true after 10 uploads")
	}
	if st := f.Manager.Snapshot(); st.RemainingUploads != 0 {
		t.Errorf("remaining = %d, want 0", st.RemainingUploads)
	}
}

func TestUpgradePreservesUploadCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.Manager.TryAsGuest(ctx); err != nil {
		t.Fatalf("TryAsGuest() error: %v", err)
	}
	for i := 0; i < 3; i++ {
		f.Manager.RecordUpload()
	}

	if err := f.Manager.Upgrade(ctx, "bob@example.com", "upgraded-pass-1A", "Bob", "Baker"); err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}

	st := f.Manager.Snapshot()
	if st.Guest {
		t.Error("still guest after upgrade")
	}
	if st.RemainingUploads != 7 {
		t.Errorf("remaining = %d, want 7 (count carried over)", st.RemainingUploads)
	}
	if !f.Backend.HasAccount("bob@example.com") {
		t.Error("upgraded account missing on backend")
	}
}

func TestUpgradeRequiresGuest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.Manager.Upgrade(ctx, "x@example.com", "whatever-pass-1A", "X", "Y"); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Errorf("unauthenticated upgrade err = %v, want ErrNotAuthenticated", err)
	}

	if err := f.Manager.SignIn(ctx, email, password); err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}
	if err := f.Manager.Upgrade(ctx, "x@example.com", "whatever-pass-1A", "X", "Y"); err == nil {
		t.Error("registered-user upgrade succeeded, want error")
	}
}

func TestTransparentRefresh(t *testing.T) {
	// A one-minute TTL is inside the five-minute pre-emptive expiry
	// buffer, so the very next protected call must refresh first.
	f := newFixture(t, fake.WithBackendOptions(fake.WithTokenTTL(time.Minute)))
	ctx := context.Background()

	if err := f.Manager.SignIn(ctx, email, password); err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}
	if !f.Tokens.IsExpired() {
		t.Fatal("short-lived token set not treated as expired")
	}

	if _, err := f.Tokens.EnsureValid(ctx); err != nil {
		t.Fatalf("EnsureValid() error: %v", err)
	}
	if got := f.Backend.RefreshCalls(); got != 1 {
		t.Errorf("RefreshCalls() = %d, want 1", got)
	}
}

func TestRefreshFailureForcesReLogin(t *testing.T) {
	f := newFixture(t, fake.WithBackendOptions(fake.WithTokenTTL(time.Minute)))
	ctx := context.Background()

	if err := f.Manager.SignIn(ctx, email, password); err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}
	f.Backend.SetRefreshError(errors.New("refresh token revoked"))

	if _, err := f.Tokens.EnsureValid(ctx); !errors.Is(err, session.ErrTokenExpired) {
		t.Fatalf("EnsureValid() err = %v, want ErrTokenExpired", err)
	}
	if f.Tokens.Current() != nil {
		t.Error("tokens survived a failed refresh")
	}
}

func TestDeleteAccountClearsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.Manager.SignIn(ctx, email, password); err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}
	f.Manager.RecordUpload()
	f.Manager.RecordUpload()

	if err := f.Manager.DeleteAccount(ctx); err != nil {
		t.Fatalf("DeleteAccount() error: %v", err)
	}

	if f.Backend.HasAccount(email) {
		t.Error("account still on backend")
	}
	if f.Tokens.Current() != nil {
		t.Error("token set survived deletion")
	}
	st := f.Manager.Snapshot()
	if st.Authenticated {
		t.Error("still authenticated after deletion")
	}
	if st.Subscription.Plan != session.PlanTrial {
		t.Errorf("plan = %v, want trial", st.Subscription.Plan)
	}
	if st.RemainingUploads != 10 {
		t.Errorf("remaining = %d, want fresh 10", st.RemainingUploads)
	}
}

func TestSignOutInvalidatesCachesAndCancelsScope(t *testing.T) {
	var invalidations atomic.Int32
	f := newFixture(t, fake.WithManagerOptions(
		session.WithCacheInvalidator(session.InvalidatorFunc(func() {
			invalidations.Add(1)
		})),
	))
	ctx := context.Background()

	if err := f.Manager.TryAsGuest(ctx); err != nil {
		t.Fatalf("TryAsGuest() error: %v", err)
	}
	scope := f.Manager.ScopeContext()
	if scope.Err() != nil {
		t.Fatal("scope context cancelled while authenticated")
	}
	if id := session.IdentityFromContext(scope); id == nil || !id.IsGuest() {
		t.Fatal("scope context missing guest identity")
	}

	f.Manager.SignOut()

	if got := invalidations.Load(); got != 1 {
		t.Errorf("invalidations = %d, want 1", got)
	}
	if scope.Err() == nil {
		t.Error("scope context not cancelled on sign-out")
	}
	if f.Manager.ScopeContext().Err() == nil {
		t.Error("unauthenticated scope context not pre-cancelled")
	}
}

func TestUpgradeDoesNotInvalidateCaches(t *testing.T) {
	var invalidations atomic.Int32
	f := newFixture(t, fake.WithManagerOptions(
		session.WithCacheInvalidator(session.InvalidatorFunc(func() {
			invalidations.Add(1)
		})),
	))
	ctx := context.Background()

	if err := f.Manager.TryAsGuest(ctx); err != nil {
		t.Fatalf("TryAsGuest() error: %v", err)
	}
	scope := f.Manager.ScopeContext()

	if err := f.Manager.Upgrade(ctx, "bob@example.com", "upgraded-pass-1A", "Bob", "Baker"); err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}
	if got := invalidations.Load(); got != 0 {
		t.Errorf("invalidations = %d, want 0 (same account)", got)
	}
	if scope.Err() != nil {
		t.Error("scope context cancelled by upgrade")
	}
}

func TestNoCrossIdentityQuotaLeakage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Guest burns three uploads, then leaves.
	if err := f.Manager.TryAsGuest(ctx); err != nil {
		t.Fatalf("TryAsGuest() error: %v", err)
	}
	for i := 0; i < 3; i++ {
		f.Manager.RecordUpload()
	}
	f.Manager.SignOut()

	// A registered user starts with a clean slate of their own.
	if err := f.Manager.SignIn(ctx, email, password); err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}
	if st := f.Manager.Snapshot(); st.RemainingUploads != 10 {
		t.Errorf("remaining = %d, want 10", st.RemainingUploads)
	}
	f.Manager.RecordUpload()
	f.Manager.SignOut()

	// The next guest also starts fresh: the old guest counter was reset
	// on its departure.
	if err := f.Manager.TryAsGuest(ctx); err != nil {
		t.Fatalf("TryAsGuest() error: %v", err)
	}
	if st := f.Manager.Snapshot(); st.RemainingUploads != 10 {
		t.Errorf("guest remaining = %d, want 10", st.RemainingUploads)
	}
	f.Manager.SignOut()

	// The registered user's own count survived their sign-out.
	if err := f.Manager.SignIn(ctx, email, password); err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}
	if st := f.Manager.Snapshot(); st.RemainingUploads != 9 {
		t.Errorf("remaining = %d, want 9", st.RemainingUploads)
	}
}

func TestSignInWhileAuthenticatedFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.Manager.TryAsGuest(ctx); err != nil {
		t.Fatalf("TryAsGuest() error: %v", err)
	}
	if err := f.Manager.SignIn(ctx, email, password); err == nil {
		t.Error("SignIn() while authenticated succeeded, want error")
	}
}

func TestPurchaseLiftsQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.Manager.SignIn(ctx, email, password); err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}

	const product = "app.lumilens.pro.monthly"
	tx := purchase.Transaction{ID: "tx-1", ProductID: product, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	f.Store.ScriptPurchase(product, purchase.Result{
		Outcome: purchase.OutcomeSuccess,
		Tx:      purchase.TransactionResult{Tx: tx, Verified: true},
	})
	f.Store.SetStatuses(product, purchase.ProductStatus{
		State:         purchase.StateSubscribed,
		Result:        purchase.TransactionResult{Tx: tx, Verified: true},
		WillAutoRenew: true,
	})

	ok, err := f.Manager.Purchase(ctx, product)
	if err != nil || !ok {
		t.Fatalf("Purchase() = %v, %v, want true, nil", ok, err)
	}

	st := f.Manager.Snapshot()
	if st.Subscription.Plan != session.PlanPro {
		t.Fatalf("plan = %v, want pro", st.Subscription.Plan)
	}
	if !st.UnlimitedUploads {
		t.Error("uploads still limited under pro")
	}
	if got := f.Store.FinishCount("tx-1"); got != 1 {
		t.Errorf("FinishCount = %d, want 1", got)
	}
}

func TestSignOutResetsSubscriptionToTrial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.Manager.SignIn(ctx, email, password); err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}

	const product = "app.lumilens.pro.monthly"
	tx := purchase.Transaction{ID: "tx-1", ProductID: product, ExpiresAt: time.Now().Add(time.Hour)}
	f.Store.SetStatuses(product, purchase.ProductStatus{
		State:  purchase.StateSubscribed,
		Result: purchase.TransactionResult{Tx: tx, Verified: true},
	})
	f.Manager.OnForeground(ctx)
	if st := f.Manager.Snapshot(); st.Subscription.Plan != session.PlanPro {
		t.Fatalf("plan = %v, want pro after foreground reconcile", st.Subscription.Plan)
	}

	f.Manager.SignOut()
	if st := f.Manager.Snapshot(); st.Subscription.Plan != session.PlanTrial {
		t.Errorf("plan = %v, want trial after sign-out", st.Subscription.Plan)
	}
}

func TestOnForegroundSkipsGuestsAndUnauthenticated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const product = "app.lumilens.pro.monthly"
	tx := purchase.Transaction{ID: "tx-1", ProductID: product, ExpiresAt: time.Now().Add(time.Hour)}
	f.Store.SetStatuses(product, purchase.ProductStatus{
		State:  purchase.StateSubscribed,
		Result: purchase.TransactionResult{Tx: tx, Verified: true},
	})

	f.Manager.OnForeground(ctx)
	if st := f.Manager.Snapshot(); st.Subscription.Plan != session.PlanTrial {
		t.Errorf("unauthenticated foreground reconciled, plan = %v", st.Subscription.Plan)
	}

	if err := f.Manager.TryAsGuest(ctx); err != nil {
		t.Fatalf("TryAsGuest() error: %v", err)
	}
	f.Manager.OnForeground(ctx)
	if st := f.Manager.Snapshot(); st.Subscription.Plan != session.PlanTrial {
		t.Errorf("guest foreground reconciled, plan = %v", st.Subscription.Plan)
	}
}

func TestResumeRestoresSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.Manager.TryAsGuest(ctx); err != nil {
		t.Fatalf("TryAsGuest() error: %v", err)
	}
	guestID := f.Manager.Snapshot().User.UserID

	// A second Manager over the same stores simulates an app relaunch.
	mgr2, err := session.New(
		session.WithTokenManager(f.Tokens),
		session.WithIdentityService(newIdentityOver(f)),
		session.WithQuotaTracker(f.Quota),
		session.WithReconciler(f.Reconciler),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := mgr2.Resume(ctx); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	st := mgr2.Snapshot()
	if !st.Authenticated || !st.Guest {
		t.Fatalf("Snapshot = %+v, want authenticated guest", st)
	}
	if st.User.UserID != guestID {
		t.Errorf("UserID = %q, want %q", st.User.UserID, guestID)
	}
}

func TestResumeWithoutTokens(t *testing.T) {
	f := newFixture(t)

	if err := f.Manager.Resume(context.Background()); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Errorf("Resume() err = %v, want ErrNotAuthenticated", err)
	}
}
