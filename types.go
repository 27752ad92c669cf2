package session

import "time"

// IdentityKind distinguishes a synthetically-credentialed guest account from a
// registered one.
type IdentityKind int

const (
	// KindGuest is a real backend account created from random local-only
	// credentials and flagged locally as not yet claimed.
	KindGuest IdentityKind = iota

	// KindRegistered is an account claimed with a real email and password.
	KindRegistered
)

// String returns the lowercase name of the kind.
func (k IdentityKind) String() string {
	if k == KindGuest {
		return "guest"
	}
	return "registered"
}

// Role is the backend-assigned role of an identity.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity represents who is using the app right now. Exactly one Identity is
// current at a time; replacing it invalidates all per-identity cached state.
type Identity struct {
	Kind       IdentityKind
	UserID     string
	Email      string
	GivenName  string
	FamilyName string
	Role       Role
}

// IsGuest reports whether the identity is a guest account.
func (i *Identity) IsGuest() bool { return i != nil && i.Kind == KindGuest }

// TokenSet is the credential bundle for the current Identity. The identity
// token, not the access token, is what the protected API validates.
type TokenSet struct {
	AccessToken   string
	IdentityToken string
	// RefreshToken may be empty: some refresh responses omit it, in which
	// case the previously stored refresh token remains in effect.
	RefreshToken string
	// ExpiresAt is absolute, derived from the server's relative expiresIn
	// at the moment the set was received.
	ExpiresAt time.Time
}

// Plan is the entitlement tier.
type Plan string

const (
	// PlanTrial is the default tier, bounded by an upload quota rather
	// than by time. Absence of purchase evidence always means Trial.
	PlanTrial Plan = "trial"

	// PlanPro is the paid tier, active while its expiration is in the
	// future.
	PlanPro Plan = "pro"
)

// SubscriptionStatus is the entitlement snapshot produced by reconciliation.
type SubscriptionStatus struct {
	Plan Plan
	// ExpirationDate is set for Pro only.
	ExpirationDate time.Time
	WillRenew      bool
}

// Trial is the default/fallback status.
func Trial() SubscriptionStatus { return SubscriptionStatus{Plan: PlanTrial} }

// IsActive reports whether the entitlement currently applies. Trial is always
// active (its bound is the upload quota, not time); Pro is active while
// unexpired.
func (s SubscriptionStatus) IsActive() bool {
	if s.Plan == PlanTrial {
		return true
	}
	return time.Now().Before(s.ExpirationDate)
}

// State is the unified session view consumed by UI code. It is a plain value:
// read it via Manager.Snapshot, observe changes through the events logger.
type State struct {
	Authenticated    bool
	Guest            bool
	User             *Identity
	RemainingUploads int
	// UnlimitedUploads is true when an active Pro entitlement lifts the
	// trial quota; RemainingUploads is meaningless while it is set.
	UnlimitedUploads bool
	Subscription     SubscriptionStatus
}

// Profile is the enrichment payload returned by the remote profile endpoint.
// Fetching it is best-effort: a failed fetch never reverts authentication.
type Profile struct {
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
	Role       string `json:"role"`
}
