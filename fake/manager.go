package fake

import (
	session "github.com/lumilens/session-go"
	"github.com/lumilens/session-go/identity"
	"github.com/lumilens/session-go/keyring"
	"github.com/lumilens/session-go/metrics"
	"github.com/lumilens/session-go/prefs"
	"github.com/lumilens/session-go/purchase"
	"github.com/lumilens/session-go/quota"
	"github.com/lumilens/session-go/token"
)

// sharedGroup mirrors the access group a real deployment shares with its
// companion process.
const sharedGroup = "group.app.lumilens.shared"

// Fixture is a fully wired Manager over in-memory parts, with every part
// exposed for scripting and assertion.
type Fixture struct {
	Manager    *session.Manager
	Backend    *Backend
	Store      *Store
	Keyring    *keyring.Memory
	Prefs      *prefs.Memory
	Tokens     *token.Manager
	Quota      *quota.Tracker
	Reconciler *purchase.Reconciler
	Metrics    *metrics.Metrics
}

// ManagerOption configures the fixture.
type ManagerOption func(*fixtureConfig)

type fixtureConfig struct {
	backendOpts []BackendOption
	products    []string
	trialLimit  int
	managerOpts []session.Option
}

// WithBackendOptions forwards options to the fake backend.
func WithBackendOptions(opts ...BackendOption) ManagerOption {
	return func(c *fixtureConfig) { c.backendOpts = append(c.backendOpts, opts...) }
}

// WithProducts sets the known subscription product identifiers.
func WithProducts(ids ...string) ManagerOption {
	return func(c *fixtureConfig) { c.products = ids }
}

// WithTrialLimit overrides the trial upload limit.
func WithTrialLimit(n int) ManagerOption {
	return func(c *fixtureConfig) { c.trialLimit = n }
}

// WithManagerOptions forwards extra options to session.New, e.g. cache
// invalidators under test.
func WithManagerOptions(opts ...session.Option) ManagerOption {
	return func(c *fixtureConfig) { c.managerOpts = append(c.managerOpts, opts...) }
}

// NewManager wires a Manager from fakes. It never fails given valid
// options; the error return mirrors session.New for callers that pass
// their own.
func NewManager(opts ...ManagerOption) (*Fixture, error) {
	cfg := fixtureConfig{
		products:   []string{"app.lumilens.pro.monthly", "app.lumilens.pro.yearly"},
		trialLimit: quota.DefaultTrialLimit,
	}
	for _, o := range opts {
		o(&cfg)
	}

	f := &Fixture{
		Backend: NewBackend(cfg.backendOpts...),
		Store:   NewStore(),
		Keyring: keyring.NewMemory(),
		Prefs:   prefs.NewMemory(),
		Metrics: metrics.New(false),
	}
	f.Tokens = token.New(f.Keyring, f.Backend, sharedGroup,
		token.WithRefreshHook(f.Metrics.RecordTokenRefresh))
	f.Quota = quota.New(f.Prefs, quota.WithLimit(cfg.trialLimit))
	f.Reconciler = purchase.New(f.Store, cfg.products,
		purchase.WithStatusHook(f.Quota.SetStatus))

	mopts := append([]session.Option{
		session.WithTokenManager(f.Tokens),
		session.WithIdentityService(identity.New(f.Backend, f.Tokens, f.Prefs)),
		session.WithQuotaTracker(f.Quota),
		session.WithReconciler(f.Reconciler),
		session.WithMetrics(f.Metrics),
	}, cfg.managerOpts...)

	mgr, err := session.New(mopts...)
	if err != nil {
		return nil, err
	}
	f.Manager = mgr
	return f, nil
}
