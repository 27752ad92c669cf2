// Package fake provides in-memory implementations of the remote identity
// backend and the purchase store for testing.
//
// Use fake.NewManager() in unit tests to get a fully wired Manager with no
// network calls or platform store. The fake backend returns the same error
// message strings the production API does, so message classification is
// exercised end to end.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	session "github.com/lumilens/session-go"
	"github.com/lumilens/session-go/identity"
	"github.com/lumilens/session-go/token"
)

// signKey signs the fake identity tokens. Claims are read unverified by the
// client, so the key only needs to exist.
var signKey = []byte("fake-signing-key")

// account is one registered account on the fake backend.
type account struct {
	userID     string
	email      string
	password   string
	givenName  string
	familyName string
}

// Backend is an in-memory identity.Backend. It also satisfies
// token.Refresher, so it can sit behind a real token.Manager.
type Backend struct {
	mu       sync.Mutex
	accounts map[string]*account // email -> account
	byID     map[string]*account // userID -> account
	refresh  map[string]string   // refresh token -> email
	codes    map[string]string   // email -> pending reset code
	seq      int

	tokenTTL   time.Duration
	now        func() time.Time
	refreshErr error
	profileErr error

	refreshCalls int
}

var _ identity.Backend = (*Backend)(nil)
var _ token.Refresher = (*Backend)(nil)

// BackendOption configures the fake backend.
type BackendOption func(*Backend)

// WithAccount pre-registers an account.
func WithAccount(email, password, givenName, familyName string) BackendOption {
	return func(b *Backend) { b.register(email, password, givenName, familyName) }
}

// WithTokenTTL sets the validity of issued token sets.
func WithTokenTTL(d time.Duration) BackendOption {
	return func(b *Backend) { b.tokenTTL = d }
}

// WithClock sets the time source for token expiry.
func WithClock(now func() time.Time) BackendOption {
	return func(b *Backend) { b.now = now }
}

// NewBackend creates the fake identity backend.
func NewBackend(opts ...BackendOption) *Backend {
	b := &Backend{
		accounts: make(map[string]*account),
		byID:     make(map[string]*account),
		refresh:  make(map[string]string),
		codes:    make(map[string]string),
		tokenTTL: time.Hour,
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) register(email, password, givenName, familyName string) *account {
	b.seq++
	a := &account{
		userID:     fmt.Sprintf("user-%04d", b.seq),
		email:      email,
		password:   password,
		givenName:  givenName,
		familyName: familyName,
	}
	b.accounts[email] = a
	b.byID[a.userID] = a
	return a
}

// SetRefreshError forces subsequent Refresh calls to fail, simulating a
// revoked or rotated refresh token.
func (b *Backend) SetRefreshError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshErr = err
}

// SetProfileError forces subsequent Profile calls to fail.
func (b *Backend) SetProfileError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profileErr = err
}

// RefreshCalls returns how many times Refresh was invoked.
func (b *Backend) RefreshCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

// HasAccount reports whether an account exists for the email.
func (b *Backend) HasAccount(email string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.accounts[email]
	return ok
}

func (b *Backend) SignUp(_ context.Context, email, password, givenName, familyName string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.accounts[email]; ok {
		return "", session.NewAPIError(409, "User already exists")
	}
	if len(password) < 8 {
		return "", session.NewAPIError(400, "Password did not conform with policy: Password not long enough")
	}
	a := b.register(email, password, givenName, familyName)
	return a.userID, nil
}

func (b *Backend) SignIn(_ context.Context, email, password string) (session.TokenSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.accounts[email]
	if !ok || a.password != password {
		return session.TokenSet{}, session.NewAPIError(400, "Incorrect username or password.")
	}
	return b.issueLocked(a)
}

func (b *Backend) Refresh(_ context.Context, refreshToken string) (session.TokenSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refreshCalls++
	if b.refreshErr != nil {
		return session.TokenSet{}, b.refreshErr
	}
	email, ok := b.refresh[refreshToken]
	if !ok {
		return session.TokenSet{}, fmt.Errorf("refresh token: %w", session.ErrUnauthorized)
	}
	return b.issueLocked(b.accounts[email])
}

// issueLocked mints a fresh token set for the account. The identity token is
// a real signed JWT so claim parsing behaves as in production.
func (b *Backend) issueLocked(a *account) (session.TokenSet, error) {
	now := b.now()
	expiresAt := now.Add(b.tokenTTL)

	idTok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   a.userID,
		"email": a.email,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
	}).SignedString(signKey)
	if err != nil {
		return session.TokenSet{}, fmt.Errorf("fake: sign token: %w", err)
	}

	rt, err := uuid.NewV4()
	if err != nil {
		return session.TokenSet{}, fmt.Errorf("fake: refresh token: %w", err)
	}
	b.refresh[rt.String()] = a.email

	return session.TokenSet{
		AccessToken:   "access-" + a.userID,
		IdentityToken: idTok,
		RefreshToken:  rt.String(),
		ExpiresAt:     expiresAt,
	}, nil
}

func (b *Backend) ForgotPassword(_ context.Context, email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Same response for unknown addresses, as the production API avoids
	// account enumeration.
	if _, ok := b.accounts[email]; ok {
		b.codes[email] = "123456"
	}
	return nil
}

func (b *Backend) ConfirmForgotPassword(_ context.Context, email, code, newPassword string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.codes[email] != code {
		return session.NewAPIError(400, "Invalid verification code provided, please try again.")
	}
	if len(newPassword) < 8 {
		return session.NewAPIError(400, "Password did not conform with policy: Password not long enough")
	}
	delete(b.codes, email)
	b.accounts[email].password = newPassword
	return nil
}

func (b *Backend) Profile(_ context.Context, identityToken string) (*session.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.profileErr != nil {
		return nil, b.profileErr
	}
	a, err := b.accountForTokenLocked(identityToken)
	if err != nil {
		return nil, err
	}
	return &session.Profile{
		UserID:     a.userID,
		Email:      a.email,
		GivenName:  a.givenName,
		FamilyName: a.familyName,
		Role:       string(session.RoleUser),
	}, nil
}

func (b *Backend) Upgrade(_ context.Context, identityToken, email, password, givenName, familyName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, err := b.accountForTokenLocked(identityToken)
	if err != nil {
		return err
	}
	if other, ok := b.accounts[email]; ok && other != a {
		return session.NewAPIError(409, "User already exists")
	}
	if len(password) < 8 {
		return session.NewAPIError(400, "Password did not conform with policy: Password not long enough")
	}

	// Same account, new credentials.
	delete(b.accounts, a.email)
	a.email = email
	a.password = password
	a.givenName = givenName
	a.familyName = familyName
	b.accounts[email] = a
	return nil
}

func (b *Backend) DeleteAccount(_ context.Context, identityToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, err := b.accountForTokenLocked(identityToken)
	if err != nil {
		return err
	}
	delete(b.accounts, a.email)
	delete(b.byID, a.userID)
	for rt, email := range b.refresh {
		if email == a.email {
			delete(b.refresh, rt)
		}
	}
	return nil
}

func (b *Backend) accountForTokenLocked(identityToken string) (*account, error) {
	claims, err := token.ParseIdentityClaims(identityToken)
	if err != nil {
		return nil, fmt.Errorf("bearer token: %w", session.ErrUnauthorized)
	}
	if b.now().After(claims.ExpiresAt) {
		return nil, fmt.Errorf("bearer token expired: %w", session.ErrUnauthorized)
	}
	a, ok := b.byID[claims.UserID]
	if !ok {
		return nil, fmt.Errorf("unknown subject: %w", session.ErrUnauthorized)
	}
	return a, nil
}
