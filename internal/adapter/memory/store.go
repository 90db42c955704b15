// Package memory keeps every repository in process memory. A single mutex
// serialises all mutations, so wallet updates and item transitions are atomic
// the same way the PostgreSQL repositories are under row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidkvd/nomnom-studio/internal/domain"
)

// Store implements the wallet, batch, bundle and notification repositories.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	wallets       map[string]*domain.Wallet
	entries       map[string][]domain.LedgerEntry
	batches       map[string]*domain.Batch
	items         map[string]*domain.Item
	batchItems    map[string][]string
	bundles       map[string]*domain.Bundle
	notifications map[string][]domain.Notification
}

func NewStore() *Store {
	return &Store{
		now:           time.Now,
		wallets:       make(map[string]*domain.Wallet),
		entries:       make(map[string][]domain.LedgerEntry),
		batches:       make(map[string]*domain.Batch),
		items:         make(map[string]*domain.Item),
		batchItems:    make(map[string][]string),
		bundles:       make(map[string]*domain.Bundle),
		notifications: make(map[string][]domain.Notification),
	}
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetWallet returns a snapshot of the wallet; unknown users have a zero wallet.
func (s *Store) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		cp := *w
		return &cp, nil
	}
	return &domain.Wallet{UserID: userID}, nil
}

// UpdateWallet applies mutate to a copy and commits it together with the
// entry only when mutate succeeds.
func (s *Store) UpdateWallet(ctx context.Context, userID, reference string, mutate domain.WalletMutation) (*domain.Wallet, *domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := domain.Wallet{UserID: userID}
	if cur, ok := s.wallets[userID]; ok {
		w = *cur
	}
	var outstanding domain.PoolSplit
	if reference != "" {
		outstanding = s.outstandingLocked(userID, reference)
	}
	entry, err := mutate(&w, outstanding)
	if err != nil {
		return nil, nil, err
	}
	if w.MonthlyBalance < 0 || w.TopupBalance < 0 || w.UsedThisCycle < 0 {
		return nil, nil, domain.ErrInsufficientCredits
	}
	now := s.now()
	w.UpdatedAt = now
	s.wallets[userID] = &w
	if entry != nil {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.UserID = userID
		entry.CreatedAt = now
		s.entries[userID] = append(s.entries[userID], *entry)
	}
	cp := w
	return &cp, entry, nil
}

func (s *Store) outstandingLocked(userID, reference string) domain.PoolSplit {
	var p domain.PoolSplit
	for _, e := range s.entries[userID] {
		if e.Reference != reference {
			continue
		}
		if e.Source == domain.LedgerSourceCharge || e.Source == domain.LedgerSourceRefund {
			p.Monthly -= e.Monthly
			p.Topup -= e.Topup
		}
	}
	return p
}

// ListEntries returns the newest entries first.
func (s *Store) ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.entries[userID]
	out := make([]domain.LedgerEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	batch.Status = domain.BatchStatusQueued
	batch.CreatedAt, batch.UpdatedAt = now, now
	cp := *batch
	s.batches[batch.ID] = &cp
	return nil
}

func (s *Store) InsertItem(ctx context.Context, item *domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[item.BatchID]; !ok {
		return domain.ErrNotFound
	}
	for _, id := range s.batchItems[item.BatchID] {
		if s.items[id].Position == item.Position {
			return domain.ErrValidation
		}
	}
	now := s.now()
	item.Status = domain.ItemStatusQueued
	item.CreatedAt, item.UpdatedAt = now, now
	cp := *item
	s.items[item.ID] = &cp
	s.batchItems[item.BatchID] = append(s.batchItems[item.BatchID], item.ID)
	return nil
}

func (s *Store) FinalizeIngestion(ctx context.Context, batchID string, total int, creditsCharged int64) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.IngestedAt != nil {
		return nil, domain.ErrNotFound
	}
	now := s.now()
	b.TotalItems = total
	b.CreditsCharged = creditsCharged
	b.IngestedAt = &now
	b.UpdatedAt = now
	cp := *b
	return &cp, nil
}

func (s *Store) FailIngestion(ctx context.Context, batchID, reason string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.IngestedAt != nil {
		return nil, domain.ErrNotFound
	}
	now := s.now()
	b.Status = domain.BatchStatusFailed
	b.TotalItems = 0
	b.CreditsCharged = 0
	b.ErrorMessage = reason
	b.IngestedAt = &now
	b.CompletedAt = &now
	b.UpdatedAt = now
	cp := *b
	return &cp, nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListBatches(ctx context.Context, userID string, limit int) ([]domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Batch
	for _, b := range s.batches {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListItems(ctx context.Context, batchID string) ([]domain.Item, error) {
	return s.listItems(batchID, func(domain.Item) bool { return true }), nil
}

func (s *Store) ListCompletedItems(ctx context.Context, batchID string) ([]domain.Item, error) {
	return s.listItems(batchID, func(it domain.Item) bool { return it.Status == domain.ItemStatusCompleted }), nil
}

func (s *Store) listItems(batchID string, keep func(domain.Item) bool) []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Item
	for _, id := range s.batchItems[batchID] {
		if it := *s.items[id]; keep(it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (s *Store) StartBatch(ctx context.Context, batchID string) (*domain.Batch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	started := false
	if b.Status == domain.BatchStatusQueued {
		now := s.now()
		b.Status = domain.BatchStatusProcessing
		if b.StartedAt == nil {
			b.StartedAt = &now
		}
		b.UpdatedAt = now
		started = true
	}
	cp := *b
	return &cp, started, nil
}

func (s *Store) ClaimItem(ctx context.Context, itemID string) (*domain.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok || it.Status != domain.ItemStatusQueued {
		return nil, false, nil
	}
	it.Status = domain.ItemStatusProcessing
	it.Progress = max(it.Progress, 5)
	it.UpdatedAt = s.now()
	cp := *it
	return &cp, true, nil
}

func (s *Store) UpdateItemProgress(ctx context.Context, itemID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[itemID]; ok && it.Status == domain.ItemStatusProcessing {
		it.Progress = max(it.Progress, min(progress, 100))
		it.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) SetItemExternalRef(ctx context.Context, itemID, ref string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[itemID]; ok && it.Status == domain.ItemStatusProcessing {
		it.ExternalRef = ref
		it.Progress = max(it.Progress, min(progress, 100))
		it.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) CompleteItem(ctx context.Context, itemID string, out domain.ItemOutput) (*domain.Batch, bool, error) {
	return s.finishItem(itemID, true, func(it *domain.Item) {
		expires := out.ExpiresAt
		it.Status = domain.ItemStatusCompleted
		it.Progress = 100
		it.OutputPath = out.Path
		it.OutputContentType = out.ContentType
		it.OutputSize = out.Size
		it.SignedURL = out.SignedURL
		it.SignedURLExpiresAt = &expires
	})
}

func (s *Store) FailItem(ctx context.Context, itemID, reason string) (*domain.Batch, bool, error) {
	return s.finishItem(itemID, false, func(it *domain.Item) {
		it.Status = domain.ItemStatusFailed
		it.ErrorMessage = reason
	})
}

func (s *Store) finishItem(itemID string, succeeded bool, apply func(*domain.Item)) (*domain.Batch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	b, ok := s.batches[it.BatchID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if it.Status.Terminal() {
		cp := *b
		return &cp, false, nil
	}
	now := s.now()
	apply(it)
	it.CompletedAt = &now
	it.UpdatedAt = now
	b.RecordItemOutcome(succeeded, now)
	cp := *b
	return &cp, true, nil
}

func (s *Store) MarkNotified(ctx context.Context, batchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if b.NotifiedAt != nil {
		return false, nil
	}
	now := s.now()
	b.NotifiedAt = &now
	return true, nil
}

func (s *Store) ClearNotified(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	b.NotifiedAt = nil
	return nil
}

func (s *Store) ClaimStaleBatch(ctx context.Context, queuedBefore, processingBefore time.Time) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *domain.Batch
	for _, b := range s.batches {
		if b.IngestedAt == nil {
			continue
		}
		stale := (b.Status == domain.BatchStatusQueued && b.UpdatedAt.Before(queuedBefore)) ||
			(b.Status == domain.BatchStatusProcessing && b.UpdatedAt.Before(processingBefore))
		if !stale {
			continue
		}
		if oldest == nil || b.CreatedAt.Before(oldest.CreatedAt) {
			oldest = b
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	oldest.UpdatedAt = s.now()
	cp := *oldest
	return &cp, nil
}

func (s *Store) ListAbandonedBatches(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Batch
	for _, b := range s.batches {
		if b.Status == domain.BatchStatusQueued && b.IngestedAt == nil && b.CreatedAt.Before(createdBefore) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batchID]; !ok {
		return domain.ErrNotFound
	}
	for _, id := range s.batchItems[batchID] {
		delete(s.items, id)
	}
	delete(s.batchItems, batchID)
	delete(s.bundles, batchID)
	delete(s.batches, batchID)
	for _, list := range s.notifications {
		for i := range list {
			if list[i].BatchID == batchID {
				list[i].BatchID = ""
			}
		}
	}
	return nil
}

func (s *Store) GetBundle(ctx context.Context, batchID string) (*domain.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) UpsertBundle(ctx context.Context, bundle *domain.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[bundle.BatchID]; !ok {
		return domain.ErrNotFound
	}
	bundle.CreatedAt = s.now()
	cp := *bundle
	s.bundles[bundle.BatchID] = &cp
	return nil
}

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = s.now()
	s.notifications[n.UserID] = append(s.notifications[n.UserID], *n)
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.notifications[userID]
	out := make([]domain.Notification, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var (
	_ domain.WalletRepository       = (*Store)(nil)
	_ domain.BatchRepository        = (*Store)(nil)
	_ domain.BundleRepository       = (*Store)(nil)
	_ domain.NotificationRepository = (*Store)(nil)
)
