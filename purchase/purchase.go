// Package purchase reconciles the purchase store's transaction state into a
// canonical subscription status. The store itself (the platform's in-app
// purchase machinery) is consumed through the Store interface; only its
// observable contract matters here.
package purchase

import (
	"context"
	"time"
)

// TransactionState is the renewal state the store reports for a product.
type TransactionState int

const (
	StateSubscribed TransactionState = iota
	StateInGracePeriod
	StateExpired
	StateRevoked
)

// String returns the state name.
func (s TransactionState) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateInGracePeriod:
		return "in_grace_period"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	}
	return "unknown"
}

// Transaction is one store transaction.
type Transaction struct {
	ID        string
	ProductID string
	ExpiresAt time.Time
}

// TransactionResult pairs a transaction with its verification outcome. An
// unverified transaction is never acted on beyond logging.
type TransactionResult struct {
	Tx       Transaction
	Verified bool
}

// ProductStatus is one entry of a product's live renewal status.
type ProductStatus struct {
	State         TransactionState
	Result        TransactionResult
	WillAutoRenew bool
}

// Outcome is the result kind of a purchase call.
type Outcome int

const (
	// OutcomeSuccess carries a transaction (verified or not).
	OutcomeSuccess Outcome = iota

	// OutcomePending means the purchase needs external approval (e.g.
	// parental consent) and will arrive later through Updates.
	OutcomePending

	// OutcomeCancelled means the user dismissed the purchase.
	OutcomeCancelled
)

// Result is what a purchase call produced.
type Result struct {
	Outcome Outcome
	Tx      TransactionResult
}

// Store is the purchase-store contract: product-level status, the
// current-entitlements snapshot, purchasing, acknowledgement, restore sync,
// and the live transaction-update stream. Finish must be idempotent: the
// purchase path and the update listener can both observe one transaction.
// Implementations: fake/ (testing); production bindings live with the host
// app.
type Store interface {
	// Statuses returns the live renewal status entries for a product.
	Statuses(ctx context.Context, productID string) ([]ProductStatus, error)

	// CurrentEntitlements returns the store's entitlement snapshot.
	CurrentEntitlements(ctx context.Context) ([]TransactionResult, error)

	// Purchase runs the purchase flow for a product.
	Purchase(ctx context.Context, productID string) (Result, error)

	// Finish acknowledges a transaction. Finishing twice is harmless.
	Finish(ctx context.Context, transactionID string) error

	// Sync forces a store-level refresh (restore purchases).
	Sync(ctx context.Context) error

	// Updates delivers asynchronous transaction updates for the lifetime
	// of the process.
	Updates() <-chan TransactionResult
}
