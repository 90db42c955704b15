package domain

import (
	"context"
	"time"
)

// WalletMutation changes a locked wallet and describes the change as a ledger
// entry. outstanding is the net amount still charged per pool under the
// update's reference. Returning an error aborts the update without side effects.
type WalletMutation func(w *Wallet, outstanding PoolSplit) (*LedgerEntry, error)

// WalletRepository persists wallets and their ledger.
type WalletRepository interface {
	// GetWallet returns the user's wallet, or a zero wallet when none exists yet.
	GetWallet(ctx context.Context, userID string) (*Wallet, error)
	// UpdateWallet locks the wallet, applies mutate and appends the returned
	// entry in one atomic unit.
	UpdateWallet(ctx context.Context, userID, reference string, mutate WalletMutation) (*Wallet, *LedgerEntry, error)
	// ListEntries returns the newest entries first.
	ListEntries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
}

// BatchRepository persists batches and their items.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *Batch) error
	InsertItem(ctx context.Context, item *Item) error
	// FinalizeIngestion records how many items were actually stored.
	// It returns ErrNotFound once ingestion has already ended.
	FinalizeIngestion(ctx context.Context, batchID string, total int, creditsCharged int64) (*Batch, error)
	// FailIngestion marks a batch whose ingestion could not finish. Like
	// FinalizeIngestion it only applies while the batch is still ingesting.
	FailIngestion(ctx context.Context, batchID, reason string) (*Batch, error)
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	ListBatches(ctx context.Context, userID string, limit int) ([]Batch, error)
	// ListItems returns the batch's items ordered by position.
	ListItems(ctx context.Context, batchID string) ([]Item, error)
	ListCompletedItems(ctx context.Context, batchID string) ([]Item, error)
	// StartBatch moves a queued batch to processing. The flag reports
	// whether this call performed the transition.
	StartBatch(ctx context.Context, batchID string) (*Batch, bool, error)
	// ClaimItem moves a queued item to processing. The flag is false when
	// another worker already owns the item.
	ClaimItem(ctx context.Context, itemID string) (*Item, bool, error)
	// UpdateItemProgress never lowers the stored progress.
	UpdateItemProgress(ctx context.Context, itemID string, progress int) error
	SetItemExternalRef(ctx context.Context, itemID, ref string, progress int) error
	// CompleteItem and FailItem move a non-terminal item to its terminal
	// state and count it on the batch exactly once. The flag is false when
	// the item was already terminal.
	CompleteItem(ctx context.Context, itemID string, out ItemOutput) (*Batch, bool, error)
	FailItem(ctx context.Context, itemID, reason string) (*Batch, bool, error)
	// MarkNotified stamps notified_at once; later calls return false.
	MarkNotified(ctx context.Context, batchID string) (bool, error)
	// ClearNotified removes the stamp after a notification could not be stored.
	ClearNotified(ctx context.Context, batchID string) error
	// ClaimStaleBatch returns one ingested batch still queued since before
	// queuedBefore, or processing without progress since before
	// processingBefore. It returns ErrNotFound when there is none.
	ClaimStaleBatch(ctx context.Context, queuedBefore, processingBefore time.Time) (*Batch, error)
	// ListAbandonedBatches returns queued batches created before
	// createdBefore whose ingestion never finished, oldest first.
	ListAbandonedBatches(ctx context.Context, createdBefore time.Time, limit int) ([]Batch, error)
	DeleteBatch(ctx context.Context, batchID string) error
}

// BundleRepository persists the bundle cache, one row per batch.
type BundleRepository interface {
	GetBundle(ctx context.Context, batchID string) (*Bundle, error)
	UpsertBundle(ctx context.Context, bundle *Bundle) error
}

// NotificationRepository persists in-app notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)
}
