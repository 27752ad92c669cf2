// Package identity performs account operations against the remote identity
// API and keeps the token manager and the local guest flag in step with the
// current account.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"

	session "github.com/lumilens/session-go"
	"github.com/lumilens/session-go/token"
)

// prefKeyGuest is the persisted guest flag: present means the current
// account was created from synthetic credentials and not yet claimed.
const prefKeyGuest = "identity.guest"

// guestEmailDomain hosts the synthetic, local-only guest identifiers. These
// addresses are never delivered to; they just satisfy the sign-up contract.
const guestEmailDomain = "guest.lumilens.app"

// Service implements session.IdentityService.
type Service struct {
	backend Backend
	tokens  session.TokenManager
	prefs   session.PrefStore
	log     *slog.Logger
}

var _ session.IdentityService = (*Service)(nil)

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates the identity service.
func New(backend Backend, tokens session.TokenManager, prefs session.PrefStore, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		tokens:  tokens,
		prefs:   prefs,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SignUp registers a new account. It has no local session side effect:
// sign-up does not imply sign-in.
func (s *Service) SignUp(ctx context.Context, email, password, givenName, familyName string) (string, error) {
	userID, err := s.backend.SignUp(ctx, email, password, givenName, familyName)
	if err != nil {
		return "", fmt.Errorf("identity: sign up: %w", err)
	}
	return userID, nil
}

// SignIn authenticates, persists the token set, and returns the identity.
// The profile fetch that follows is enrichment only: its failure is logged
// and does not revert the authenticated state.
func (s *Service) SignIn(ctx context.Context, email, password string) (*session.Identity, error) {
	id, err := s.signIn(ctx, email, password, session.KindRegistered)
	if err != nil {
		return nil, err
	}
	s.prefs.Delete(prefKeyGuest)
	return id, nil
}

func (s *Service) signIn(ctx context.Context, email, password string, kind session.IdentityKind) (*session.Identity, error) {
	ts, err := s.backend.SignIn(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("identity: sign in: %w", err)
	}
	if err := s.tokens.Save(ts); err != nil {
		return nil, fmt.Errorf("identity: persist tokens: %w", err)
	}

	id := &session.Identity{Kind: kind, Email: email, Role: session.RoleUser}
	if claims, err := token.ParseIdentityClaims(ts.IdentityToken); err == nil {
		id.UserID = claims.UserID
		if id.Email == "" {
			id.Email = claims.Email
		}
	} else {
		s.log.Warn("identity: identity token claims unreadable", "err", err)
	}

	// Best-effort enrichment. Authentication stands once tokens are valid.
	if p, err := s.backend.Profile(ctx, ts.IdentityToken); err != nil {
		s.log.Warn("identity: profile fetch failed", "err", err)
	} else {
		s.applyProfile(id, p)
	}
	return id, nil
}

func (s *Service) applyProfile(id *session.Identity, p *session.Profile) {
	if p.UserID != "" {
		id.UserID = p.UserID
	}
	if p.Email != "" {
		id.Email = p.Email
	}
	id.GivenName = p.GivenName
	id.FamilyName = p.FamilyName
	if p.Role == string(session.RoleAdmin) {
		id.Role = session.RoleAdmin
	}
}

// CreateGuest synthesizes random, unguessable local-only credentials,
// registers and signs in with them against the normal endpoints, and flags
// the identity as a guest. The backend has no guest concept; guest-ness is
// this client-local flag plus the synthetic credential.
func (s *Service) CreateGuest(ctx context.Context) (*session.Identity, error) {
	email, password, err := guestCredentials()
	if err != nil {
		return nil, fmt.Errorf("identity: create guest: %w", err)
	}
	if _, err := s.backend.SignUp(ctx, email, password, "Guest", "User"); err != nil {
		return nil, fmt.Errorf("identity: create guest: %w", err)
	}
	id, err := s.signIn(ctx, email, password, session.KindGuest)
	if err != nil {
		return nil, err
	}
	s.prefs.Set(prefKeyGuest, "1")
	return id, nil
}

// guestCredentials returns a synthetic email-like identifier and a password
// satisfying the backend policy. Both carry a full UUID of entropy.
func guestCredentials() (email, password string, err error) {
	emailID, err := uuid.NewV4()
	if err != nil {
		return "", "", err
	}
	passID, err := uuid.NewV4()
	if err != nil {
		return "", "", err
	}
	email = fmt.Sprintf("guest-%s@%s", emailID, guestEmailDomain)
	// Prefix guarantees the upper/lower/digit classes the policy wants.
	password = "Gp1-" + passID.String()
	return email, password, nil
}

// Resume rebuilds the Identity from persisted tokens on app launch,
// refreshing them through EnsureValid if needed. The identity kind comes
// from the persisted guest flag; claims supply the subject and email, and
// the profile fetch enriches best-effort as in SignIn.
func (s *Service) Resume(ctx context.Context) (*session.Identity, error) {
	idTok, err := s.tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	kind := session.KindRegistered
	if s.IsGuest() {
		kind = session.KindGuest
	}
	id := &session.Identity{Kind: kind, Role: session.RoleUser}
	if claims, err := token.ParseIdentityClaims(idTok); err == nil {
		id.UserID = claims.UserID
		id.Email = claims.Email
	} else {
		s.log.Warn("identity: identity token claims unreadable", "err", err)
	}

	if p, err := s.backend.Profile(ctx, idTok); err != nil {
		s.log.Warn("identity: profile fetch failed", "err", err)
	} else {
		s.applyProfile(id, p)
	}
	return id, nil
}

// Upgrade claims the current guest account in place with real credentials.
// The same underlying account remains reachable with the new credentials;
// only the local kind flips to registered.
func (s *Service) Upgrade(ctx context.Context, email, password, givenName, familyName string) (*session.Identity, error) {
	idTok, err := s.tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Upgrade(ctx, idTok, email, password, givenName, familyName); err != nil {
		s.clearOnUnauthorized(err)
		return nil, fmt.Errorf("identity: upgrade: %w", err)
	}
	s.prefs.Delete(prefKeyGuest)

	id := &session.Identity{
		Kind:       session.KindRegistered,
		Email:      email,
		GivenName:  givenName,
		FamilyName: familyName,
		Role:       session.RoleUser,
	}
	// The subject is unchanged: same underlying account.
	if claims, err := token.ParseIdentityClaims(idTok); err == nil {
		id.UserID = claims.UserID
	}
	return id, nil
}

// DeleteAccount deletes the account remotely, then clears the token set and
// the guest flag.
func (s *Service) DeleteAccount(ctx context.Context) error {
	idTok, err := s.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}
	if err := s.backend.DeleteAccount(ctx, idTok); err != nil {
		s.clearOnUnauthorized(err)
		return fmt.Errorf("identity: delete account: %w", err)
	}
	if err := s.tokens.Clear(); err != nil {
		s.log.Warn("identity: clear tokens after deletion", "err", err)
	}
	s.prefs.Delete(prefKeyGuest)
	return nil
}

// ForgotPassword starts a password reset.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if err := s.backend.ForgotPassword(ctx, email); err != nil {
		return fmt.Errorf("identity: forgot password: %w", err)
	}
	return nil
}

// ConfirmForgotPassword completes a password reset with the emailed code.
func (s *Service) ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error {
	if err := s.backend.ConfirmForgotPassword(ctx, email, code, newPassword); err != nil {
		return fmt.Errorf("identity: confirm forgot password: %w", err)
	}
	return nil
}

// SignOut is local-only: clears the token set and the guest flag. The
// remote session simply expires.
func (s *Service) SignOut() {
	if err := s.tokens.Clear(); err != nil {
		s.log.Warn("identity: clear tokens on sign out", "err", err)
	}
	s.prefs.Delete(prefKeyGuest)
}

// IsGuest reports the persisted guest flag.
func (s *Service) IsGuest() bool {
	_, ok := s.prefs.Get(prefKeyGuest)
	return ok
}

// clearOnUnauthorized drops local tokens when the server rejected the one it
// was given: a token the server refuses is unusable regardless of the
// locally-computed expiry.
func (s *Service) clearOnUnauthorized(err error) {
	if errors.Is(err, session.ErrUnauthorized) {
		if cerr := s.tokens.Clear(); cerr != nil {
			s.log.Warn("identity: clear tokens after 401", "err", cerr)
		}
	}
}
