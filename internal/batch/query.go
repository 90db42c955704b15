package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/storage"
)

// Detail is a batch with its items ordered by position.
type Detail struct {
	Batch domain.Batch
	Items []domain.Item
}

// Get returns a batch owned by userID. Expired output links are re-signed for
// the response without being persisted.
func (o *Orchestrator) Get(ctx context.Context, userID, batchID string) (*Detail, error) {
	b, err := o.owned(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	items, err := o.batches.ListItems(ctx, batchID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range items {
		it := &items[i]
		if it.Status != domain.ItemStatusCompleted || it.OutputPath == "" {
			continue
		}
		if it.SignedURLExpiresAt != nil && it.SignedURLExpiresAt.After(now) {
			continue
		}
		url, expires, err := o.store.SignedURL(ctx, it.OutputPath, o.opts.OutputURLTTL)
		if err != nil {
			o.logger.Warn().Err(err).Str("item_id", it.ID).Msg("batch: re-sign output failed")
			continue
		}
		it.SignedURL = url
		it.SignedURLExpiresAt = &expires
	}
	return &Detail{Batch: *b, Items: items}, nil
}

// List returns the user's newest batches.
func (o *Orchestrator) List(ctx context.Context, userID string, limit int) ([]domain.Batch, error) {
	return o.batches.ListBatches(ctx, userID, limit)
}

// Delete removes a finished batch with its items, bundle record and stored
// objects.
func (o *Orchestrator) Delete(ctx context.Context, userID, batchID string) error {
	b, err := o.owned(ctx, userID, batchID)
	if err != nil {
		return err
	}
	if !b.Status.Terminal() {
		return domain.ErrBatchNotTerminal
	}
	items, err := o.batches.ListItems(ctx, batchID)
	if err != nil {
		return err
	}
	keys := []string{storage.BundleKey(b.UserID, b.ID)}
	for _, it := range items {
		if it.SourcePath != "" {
			keys = append(keys, it.SourcePath)
		}
		if it.OutputPath != "" {
			keys = append(keys, it.OutputPath)
		}
	}
	if err := o.batches.DeleteBatch(ctx, batchID); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if err := o.store.Remove(ctx, keys...); err != nil {
		o.logger.Warn().Err(err).Str("batch_id", batchID).Msg("batch: remove objects failed")
	}
	o.logger.Info().Str("batch_id", batchID).Int("objects", len(keys)).Msg("batch: deleted")
	return nil
}

// owned loads a batch and hides batches of other users as not found.
func (o *Orchestrator) owned(ctx context.Context, userID, batchID string) (*domain.Batch, error) {
	b, err := o.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, fmt.Errorf("%w: batch belongs to another user", domain.ErrForbidden)
	}
	return b, nil
}
