package session

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used across packages for stable error mapping. Callers
// branch with errors.Is; wrapped transport errors (network, decoding) pass
// through unchanged.
var (
	// ErrNotAuthenticated indicates no token set exists at all.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrTokenExpired is raised only after a refresh attempt has already
	// failed, and always after the local tokens have been cleared. Treat
	// it as "drop to signed-out state"; no further cleanup is needed.
	ErrTokenExpired = errors.New("token expired")

	// ErrUnauthorized indicates the server rejected a token it was given
	// (HTTP 401), regardless of locally-computed expiry. The local tokens
	// are cleared before it is returned.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials indicates a failed email/password sign-in.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserAlreadyExists indicates the sign-up email is taken.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidConfirmationCode indicates a wrong or expired
	// password-reset confirmation code.
	ErrInvalidConfirmationCode = errors.New("invalid confirmation code")

	// ErrPasswordRequirements indicates the password failed the backend
	// password policy.
	ErrPasswordRequirements = errors.New("password requirements not met")

	// ErrNoData indicates a success envelope that carried no payload where
	// one was required.
	ErrNoData = errors.New("no data in response")

	// ErrPurchaseCancelled indicates the user dismissed the purchase
	// sheet.
	ErrPurchaseCancelled = errors.New("purchase cancelled")

	// ErrPurchaseVerification indicates the store returned a transaction
	// whose verification failed. Such a transaction is never accepted.
	ErrPurchaseVerification = errors.New("purchase verification failed")
)

// APIError is a non-success response from the remote identity API: either a
// success:false envelope or a non-2xx status. Its message is classified into
// one of the sentinel errors above on a best-effort basis; errors.Is matches
// the classified sentinel through Unwrap. Unmapped messages stay unclassified
// rather than being swallowed.
type APIError struct {
	Status  int
	Message string
	kind    error
}

// NewAPIError builds an APIError, classifying the server message.
func NewAPIError(status int, message string) *APIError {
	return &APIError{Status: status, Message: message, kind: classify(message)}
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: %s (status %d)", e.Message, e.Status)
}

// Unwrap exposes the classified sentinel, if any.
func (e *APIError) Unwrap() error { return e.kind }

// classify maps a free-text server error message onto the local taxonomy.
// The backend does not emit structured error codes, so this is substring
// matching by necessity; unmapped messages return nil and surface verbatim.
func classify(message string) error {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "already exists"):
		return ErrUserAlreadyExists
	case strings.Contains(m, "incorrect username or password"),
		strings.Contains(m, "invalid credentials"):
		return ErrInvalidCredentials
	case strings.Contains(m, "confirmation code"),
		strings.Contains(m, "verification code"):
		return ErrInvalidConfirmationCode
	case strings.Contains(m, "password"):
		return ErrPasswordRequirements
	}
	return nil
}
