package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	session "github.com/lumilens/session-go"
)

// Backend is the transport contract for the remote identity API.
// Implementations: HTTPBackend, fake/ (testing).
type Backend interface {
	SignUp(ctx context.Context, email, password, givenName, familyName string) (userID string, err error)
	SignIn(ctx context.Context, email, password string) (session.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (session.TokenSet, error)
	ForgotPassword(ctx context.Context, email string) error
	ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error
	Profile(ctx context.Context, identityToken string) (*session.Profile, error)
	Upgrade(ctx context.Context, identityToken, email, password, givenName, familyName string) error
	DeleteAccount(ctx context.Context, identityToken string) error
}

// DefaultTimeout is the request timeout for these small auth calls. Large
// uploads live elsewhere with their own budget.
const DefaultTimeout = 30 * time.Second

// HTTPBackend implements Backend against the /api/auth endpoints. All
// responses arrive wrapped in a {success, message?, data?, error?} envelope;
// non-success envelopes and non-2xx statuses are mapped into the error
// taxonomy via message classification.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

var _ Backend = (*HTTPBackend)(nil)

// BackendOption configures the HTTPBackend.
type BackendOption func(*HTTPBackend)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) BackendOption {
	return func(b *HTTPBackend) { b.httpClient = c }
}

// WithBackendLogger sets a structured logger.
func WithBackendLogger(l *slog.Logger) BackendOption {
	return func(b *HTTPBackend) { b.log = l }
}

// NewHTTPBackend creates a backend rooted at baseURL (e.g.
// "https://api.lumilens.app").
func NewHTTPBackend(baseURL string, opts ...BackendOption) *HTTPBackend {
	b := &HTTPBackend{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// envelope is the wire wrapper every auth endpoint uses.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// tokenPayload is the sign-in/refresh data payload. expiresIn is relative
// seconds; the absolute expiry is derived at the moment of receipt.
type tokenPayload struct {
	AccessToken  string `json:"accessToken"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (p tokenPayload) toTokenSet() session.TokenSet {
	return session.TokenSet{
		AccessToken:   p.AccessToken,
		IdentityToken: p.IDToken,
		RefreshToken:  p.RefreshToken,
		ExpiresAt:     time.Now().Add(time.Duration(p.ExpiresIn) * time.Second),
	}
}

// do performs one call and returns the envelope data payload. bearer, when
// non-empty, is sent as the Authorization token. The identity token, not the
// access token, is what the protected-resource authorizer validates. A 401
// maps to ErrUnauthorized regardless of envelope content.
func (b *HTTPBackend) do(ctx context.Context, method, path, bearer string, body any) (json.RawMessage, error) {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("identity: encode request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, buf)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("identity: read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("identity: %s %s: %w", method, path, session.ErrUnauthorized)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("identity: decode response (%s %s, status %d): %w", method, path, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return nil, session.NewAPIError(resp.StatusCode, msg)
	}
	return env.Data, nil
}

func (b *HTTPBackend) SignUp(ctx context.Context, email, password, givenName, familyName string) (string, error) {
	data, err := b.do(ctx, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":      email,
		"password":   password,
		"givenName":  givenName,
		"familyName": familyName,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		UserID string `json:"userId"`
	}
	if err := decodeData(data, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

func (b *HTTPBackend) SignIn(ctx context.Context, email, password string) (session.TokenSet, error) {
	data, err := b.do(ctx, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return session.TokenSet{}, err
	}
	var out tokenPayload
	if err := decodeData(data, &out); err != nil {
		return session.TokenSet{}, err
	}
	return out.toTokenSet(), nil
}

func (b *HTTPBackend) Refresh(ctx context.Context, refreshToken string) (session.TokenSet, error) {
	data, err := b.do(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": refreshToken,
	})
	if err != nil {
		return session.TokenSet{}, err
	}
	var out tokenPayload
	if err := decodeData(data, &out); err != nil {
		return session.TokenSet{}, err
	}
	return out.toTokenSet(), nil
}

func (b *HTTPBackend) ForgotPassword(ctx context.Context, email string) error {
	_, err := b.do(ctx, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{
		"email": email,
	})
	return err
}

func (b *HTTPBackend) ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error {
	_, err := b.do(ctx, http.MethodPost, "/api/auth/confirm-forgot-password", "", map[string]string{
		"email":            email,
		"confirmationCode": code,
		"newPassword":      newPassword,
	})
	return err
}

func (b *HTTPBackend) Profile(ctx context.Context, identityToken string) (*session.Profile, error) {
	data, err := b.do(ctx, http.MethodGet, "/api/auth/me", identityToken, nil)
	if err != nil {
		return nil, err
	}
	var out session.Profile
	if err := decodeData(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *HTTPBackend) Upgrade(ctx context.Context, identityToken, email, password, givenName, familyName string) error {
	_, err := b.do(ctx, http.MethodPost, "/api/auth/upgrade", identityToken, map[string]string{
		"email":      email,
		"password":   password,
		"givenName":  givenName,
		"familyName": familyName,
	})
	return err
}

func (b *HTTPBackend) DeleteAccount(ctx context.Context, identityToken string) error {
	_, err := b.do(ctx, http.MethodDelete, "/api/auth/me", identityToken, nil)
	return err
}

// decodeData unmarshals a required data payload; an absent payload on a
// success envelope is ErrNoData, never a silent zero value.
func decodeData(data json.RawMessage, out any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("identity: %w", session.ErrNoData)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("identity: decode data: %w", err)
	}
	return nil
}
