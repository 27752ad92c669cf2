package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	session "github.com/lumilens/session-go"
)

// Reconciler implements session.Reconciler over a Store and a fixed set of
// known subscription product identifiers.
type Reconciler struct {
	store    Store
	products []string
	log      *slog.Logger
	onChange func(session.SubscriptionStatus)

	mu     sync.RWMutex
	status session.SubscriptionStatus
}

var _ session.Reconciler = (*Reconciler)(nil)

// Option configures the Reconciler.
type Option func(*Reconciler)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// WithStatusHook registers a callback invoked with every status replacement
// (reconciliation or reset). The session manager uses it to drive the quota
// limit.
func WithStatusHook(fn func(session.SubscriptionStatus)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// New creates a Reconciler for the given known product identifiers. The
// cached status starts at Trial.
func New(store Store, products []string, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		products: products,
		log:      slog.Default(),
		status:   session.Trial(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Status returns the cached status from the last reconciliation.
func (r *Reconciler) Status() session.SubscriptionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Reconcile recomputes the status from the store and fully replaces the
// cached value. Store errors degrade toward the Trial fallback: absence of
// purchase evidence is never read as Pro.
func (r *Reconciler) Reconcile(ctx context.Context) session.SubscriptionStatus {
	status := r.compute(ctx)
	r.replace(status)
	r.log.Debug("purchase: reconciled", "plan", status.Plan, "will_renew", status.WillRenew)
	return status
}

func (r *Reconciler) replace(status session.SubscriptionStatus) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
	if r.onChange != nil {
		r.onChange(status)
	}
}

func (r *Reconciler) compute(ctx context.Context) session.SubscriptionStatus {
	known := make(map[string]bool, len(r.products))
	for _, p := range r.products {
		known[p] = true
	}

	// Product-level renewal status first: it carries the accurate
	// auto-renew flag. First active match wins.
	for _, pid := range r.products {
		statuses, err := r.store.Statuses(ctx, pid)
		if err != nil {
			r.log.Debug("purchase: product status unavailable", "product", pid, "err", err)
			continue
		}
		for _, st := range statuses {
			if !st.Result.Verified {
				continue
			}
			if st.State != StateSubscribed && st.State != StateInGracePeriod {
				continue
			}
			if !known[st.Result.Tx.ProductID] {
				continue
			}
			return session.SubscriptionStatus{
				Plan:           session.PlanPro,
				ExpirationDate: st.Result.Tx.ExpiresAt,
				WillRenew:      st.WillAutoRenew,
			}
		}
	}

	// Fall back to the entitlements snapshot (products may not be loaded
	// yet). Plan and expiry are still right; willRenew defaults
	// conservatively to true.
	ents, err := r.store.CurrentEntitlements(ctx)
	if err != nil {
		r.log.Warn("purchase: entitlements unavailable", "err", err)
		return session.Trial()
	}
	for _, e := range ents {
		if e.Verified && known[e.Tx.ProductID] {
			return session.SubscriptionStatus{
				Plan:           session.PlanPro,
				ExpirationDate: e.Tx.ExpiresAt,
				WillRenew:      true,
			}
		}
	}
	return session.Trial()
}

// ResetToTrial drops the cached status so a fresh identity never inherits
// the previous one's entitlement before its own reconciliation runs.
func (r *Reconciler) ResetToTrial() {
	r.replace(session.Trial())
}

// Purchase runs the purchase flow for a product. A cancelled purchase is
// ErrPurchaseCancelled; an unverified transaction is ErrPurchaseVerification
// and is never accepted; a pending result returns (false, nil) without
// finishing the transaction, leaving it for the update listener. A verified
// success is finished and reconciliation reruns immediately.
func (r *Reconciler) Purchase(ctx context.Context, productID string) (bool, error) {
	res, err := r.store.Purchase(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("purchase: %w", err)
	}
	switch res.Outcome {
	case OutcomeCancelled:
		return false, session.ErrPurchaseCancelled
	case OutcomePending:
		r.log.Info("purchase: pending approval", "product", productID)
		return false, nil
	}
	if !res.Tx.Verified {
		return false, fmt.Errorf("purchase: %s: %w", productID, session.ErrPurchaseVerification)
	}
	if err := r.store.Finish(ctx, res.Tx.Tx.ID); err != nil {
		// The update listener will see the transaction again; finishing
		// twice is harmless.
		r.log.Warn("purchase: finish failed", "tx", res.Tx.Tx.ID, "err", err)
	}
	r.Reconcile(ctx)
	return true, nil
}

// Restore triggers a store-level sync, then reconciles.
func (r *Reconciler) Restore(ctx context.Context) error {
	if err := r.store.Sync(ctx); err != nil {
		return fmt.Errorf("purchase: restore sync: %w", err)
	}
	r.Reconcile(ctx)
	return nil
}

// Run consumes the store's transaction-update stream until ctx is cancelled
// or the stream closes. Every verified update is finished (idempotently,
// since the purchase path may have finished it already) and triggers a
// fresh reconciliation; unverified updates are logged and ignored.
func (r *Reconciler) Run(ctx context.Context) {
	updates := r.store.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-updates:
			if !ok {
				return
			}
			if !res.Verified {
				r.log.Warn("purchase: unverified transaction update ignored", "tx", res.Tx.ID)
				continue
			}
			if err := r.store.Finish(ctx, res.Tx.ID); err != nil {
				r.log.Warn("purchase: finish failed", "tx", res.Tx.ID, "err", err)
			}
			r.Reconcile(ctx)
		}
	}
}
