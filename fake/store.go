package fake

import (
	"context"
	"sync"

	"github.com/lumilens/session-go/purchase"
)

// Store is an in-memory, scriptable purchase.Store. Tests seed product
// statuses, entitlements, and per-product purchase results, then observe
// Finish acknowledgements and push asynchronous transaction updates.
type Store struct {
	mu           sync.Mutex
	statuses     map[string][]purchase.ProductStatus
	entitlements []purchase.TransactionResult
	results      map[string]purchase.Result
	finished     map[string]int
	statusErr    error
	syncErr      error
	syncCalls    int

	updates chan purchase.TransactionResult
}

var _ purchase.Store = (*Store)(nil)

// NewStore creates an empty fake purchase store.
func NewStore() *Store {
	return &Store{
		statuses: make(map[string][]purchase.ProductStatus),
		results:  make(map[string]purchase.Result),
		finished: make(map[string]int),
		updates:  make(chan purchase.TransactionResult, 16),
	}
}

// SetStatuses seeds the renewal status entries returned for a product.
func (s *Store) SetStatuses(productID string, entries ...purchase.ProductStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[productID] = entries
}

// SetEntitlements seeds the current-entitlements snapshot.
func (s *Store) SetEntitlements(entries ...purchase.TransactionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entitlements = entries
}

// ScriptPurchase sets the result the next Purchase of productID returns.
func (s *Store) ScriptPurchase(productID string, res purchase.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[productID] = res
}

// SetStatusError forces Statuses and CurrentEntitlements to fail.
func (s *Store) SetStatusError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusErr = err
}

// SetSyncError forces Sync to fail.
func (s *Store) SetSyncError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncErr = err
}

// FinishCount returns how many times a transaction was acknowledged.
func (s *Store) FinishCount(transactionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished[transactionID]
}

// SyncCalls returns how many times Sync was invoked.
func (s *Store) SyncCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncCalls
}

// PushUpdate delivers one asynchronous transaction update.
func (s *Store) PushUpdate(tr purchase.TransactionResult) {
	s.updates <- tr
}

// CloseUpdates ends the update stream.
func (s *Store) CloseUpdates() {
	close(s.updates)
}

func (s *Store) Statuses(_ context.Context, productID string) ([]purchase.ProductStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.statuses[productID], nil
}

func (s *Store) CurrentEntitlements(_ context.Context) ([]purchase.TransactionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.entitlements, nil
}

func (s *Store) Purchase(_ context.Context, productID string) (purchase.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[productID]
	if !ok {
		return purchase.Result{Outcome: purchase.OutcomeCancelled}, nil
	}
	return res, nil
}

func (s *Store) Finish(_ context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[transactionID]++
	return nil
}

func (s *Store) Sync(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncCalls++
	return s.syncErr
}

func (s *Store) Updates() <-chan purchase.TransactionResult {
	return s.updates
}
