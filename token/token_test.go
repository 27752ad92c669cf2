package token_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	session "github.com/lumilens/session-go"
	"github.com/lumilens/session-go/keyring"
	"github.com/lumilens/session-go/token"
)

const group = "group.test.shared"

type stubRefresher struct {
	calls atomic.Int32
	set   session.TokenSet
	err   error
	delay time.Duration
}

func (r *stubRefresher) Refresh(_ context.Context, _ string) (session.TokenSet, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.set, r.err
}

func validSet(expiresIn time.Duration) session.TokenSet {
	return session.TokenSet{
		AccessToken:   "access",
		IdentityToken: "identity",
		RefreshToken:  "refresh",
		ExpiresAt:     time.Now().Add(expiresIn),
	}
}

func TestCurrent_EmptyStore(t *testing.T) {
	m := token.New(keyring.NewMemory(), nil, group)
	if m.Current() != nil {
		t.Fatal("Current() on empty store should be nil")
	}
	if !m.IsExpired() {
		t.Fatal("IsExpired() with no tokens should be true")
	}
}

func TestSaveCurrent_RoundTrip(t *testing.T) {
	m := token.New(keyring.NewMemory(), nil, group)
	in := validSet(time.Hour)
	if err := m.Save(in); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got := m.Current()
	if got == nil {
		t.Fatal("Current() = nil after Save")
	}
	if got.AccessToken != in.AccessToken || got.IdentityToken != in.IdentityToken || got.RefreshToken != in.RefreshToken {
		t.Errorf("Current() = %+v, want %+v", got, in)
	}
	if !got.ExpiresAt.Equal(in.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, in.ExpiresAt)
	}
}

func TestSave_RetainsRefreshTokenWhenOmitted(t *testing.T) {
	m := token.New(keyring.NewMemory(), nil, group)
	if err := m.Save(validSet(time.Hour)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	refreshed := validSet(time.Hour)
	refreshed.RefreshToken = ""
	if err := m.Save(refreshed); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if got := m.Current().RefreshToken; got != "refresh" {
		t.Errorf("RefreshToken = %q, want retained %q", got, "refresh")
	}
}

func TestIsExpired_Boundary(t *testing.T) {
	// Expired means fewer than 5 minutes of validity remain: 4:59 left is
	// expired, 5:01 left is not.
	for _, tc := range []struct {
		remaining time.Duration
		want      bool
	}{
		{4*time.Minute + 59*time.Second, true},
		{5 * time.Minute, true},
		{5*time.Minute + 1*time.Second, false},
		{time.Hour, false},
		{-time.Minute, true},
	} {
		m := token.New(keyring.NewMemory(), nil, group)
		if err := m.Save(validSet(tc.remaining)); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		if got := m.IsExpired(); got != tc.want {
			t.Errorf("IsExpired() with %v remaining = %v, want %v", tc.remaining, got, tc.want)
		}
	}
}

func TestClear_Idempotent(t *testing.T) {
	m := token.New(keyring.NewMemory(), nil, group)
	if err := m.Save(validSet(time.Hour)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("second Clear() error: %v", err)
	}
	if m.Current() != nil {
		t.Fatal("Current() should be nil after Clear")
	}
}

func TestEnsureValid_NoTokens(t *testing.T) {
	m := token.New(keyring.NewMemory(), &stubRefresher{}, group)
	_, err := m.EnsureValid(context.Background())
	if !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("EnsureValid() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestEnsureValid_FreshTokenNoRefresh(t *testing.T) {
	r := &stubRefresher{}
	m := token.New(keyring.NewMemory(), r, group)
	if err := m.Save(validSet(time.Hour)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	tok, err := m.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid() error: %v", err)
	}
	if tok != "identity" {
		t.Errorf("token = %q, want %q", tok, "identity")
	}
	if r.calls.Load() != 0 {
		t.Errorf("refresher called %d times, want 0", r.calls.Load())
	}
}

func TestEnsureValid_RefreshesExpired(t *testing.T) {
	fresh := validSet(time.Hour)
	fresh.IdentityToken = "identity-2"
	r := &stubRefresher{set: fresh}
	m := token.New(keyring.NewMemory(), r, group)
	if err := m.Save(validSet(time.Minute)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	tok, err := m.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid() error: %v", err)
	}
	if tok != "identity-2" {
		t.Errorf("token = %q, want refreshed %q", tok, "identity-2")
	}
	if r.calls.Load() != 1 {
		t.Errorf("refresher called %d times, want 1", r.calls.Load())
	}
	if m.IsExpired() {
		t.Error("IsExpired() after successful refresh should be false")
	}
}

func TestEnsureValid_RefreshFailureClearsAll(t *testing.T) {
	r := &stubRefresher{err: fmt.Errorf("backend down")}
	m := token.New(keyring.NewMemory(), r, group)
	if err := m.Save(validSet(time.Minute)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	_, err := m.EnsureValid(context.Background())
	if !errors.Is(err, session.ErrTokenExpired) {
		t.Fatalf("EnsureValid() error = %v, want ErrTokenExpired", err)
	}
	if m.Current() != nil {
		t.Fatal("tokens must be fully cleared after refresh failure")
	}
}

func TestEnsureValid_RefreshHookRecordsResult(t *testing.T) {
	var results []string
	hook := token.WithRefreshHook(func(result string) { results = append(results, result) })

	r := &stubRefresher{set: validSet(time.Hour)}
	m := token.New(keyring.NewMemory(), r, group, hook)
	if err := m.Save(validSet(time.Minute)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() error: %v", err)
	}

	failing := &stubRefresher{err: errors.New("revoked")}
	m2 := token.New(keyring.NewMemory(), failing, group, hook)
	if err := m2.Save(validSet(time.Minute)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := m2.EnsureValid(context.Background()); !errors.Is(err, session.ErrTokenExpired) {
		t.Fatalf("EnsureValid() err = %v, want ErrTokenExpired", err)
	}

	want := []string{"success", "failure"}
	if len(results) != len(want) {
		t.Fatalf("hook results = %v, want %v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, results[i], want[i])
		}
	}
}

func TestEnsureValid_Singleflight(t *testing.T) {
	fresh := validSet(time.Hour)
	r := &stubRefresher{set: fresh, delay: 50 * time.Millisecond}
	m := token.New(keyring.NewMemory(), r, group)
	if err := m.Save(validSet(time.Minute)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.EnsureValid(context.Background()); err != nil {
				t.Errorf("EnsureValid() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if r.calls.Load() != 1 {
		t.Errorf("refresher called %d times, want 1 (single flight)", r.calls.Load())
	}
}

// failingStore rejects writes of one key to exercise the consistency
// fallback in Save.
type failingStore struct {
	session.CredentialStore
	failKey string
}

func (s *failingStore) Save(key string, value []byte, group string) error {
	if key == s.failKey {
		return fmt.Errorf("store write rejected")
	}
	return s.CredentialStore.Save(key, value, group)
}

func TestSave_PartialFailureClearsAll(t *testing.T) {
	store := &failingStore{CredentialStore: keyring.NewMemory(), failKey: "session.refresh_token"}
	m := token.New(store, nil, group)

	if err := m.Save(validSet(time.Hour)); err == nil {
		t.Fatal("Save() should fail when a key write fails")
	}
	if m.Current() != nil {
		t.Fatal("a partially written set must be cleared, never left behind")
	}
}

func TestMigrateLegacy(t *testing.T) {
	store := keyring.NewMemory()
	legacy := "group.test.legacy"

	// Seed the legacy group through a manager scoped to it.
	old := token.New(store, nil, legacy)
	if err := old.Save(validSet(time.Hour)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	m := token.New(store, nil, group, token.WithLegacyGroup(legacy))
	m.MigrateLegacy()

	if m.Current() == nil {
		t.Fatal("shared group should hold tokens after migration")
	}
	if old.Current() != nil {
		t.Fatal("legacy group should be emptied after migration")
	}

	// Running again is a no-op, not an error or a duplication.
	m.MigrateLegacy()
	if m.Current() == nil {
		t.Fatal("second migration must not disturb the shared group")
	}
}

func TestMigrateLegacy_DoesNotClobberFresherSession(t *testing.T) {
	store := keyring.NewMemory()
	legacy := "group.test.legacy"

	old := token.New(store, nil, legacy)
	stale := validSet(time.Hour)
	stale.IdentityToken = "stale"
	if err := old.Save(stale); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	m := token.New(store, nil, group, token.WithLegacyGroup(legacy))
	if err := m.Save(validSet(time.Hour)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	m.MigrateLegacy()

	if got := m.Current().IdentityToken; got != "identity" {
		t.Errorf("IdentityToken = %q, migration clobbered the fresher session", got)
	}
}
