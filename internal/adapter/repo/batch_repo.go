package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/infra"
	"github.com/davidkvd/nomnom-studio/internal/sqlinline"
)

// BatchRepositoryPG implements domain.BatchRepository backed by PostgreSQL.
type BatchRepositoryPG struct {
	db infra.TxRunner
}

// NewBatchRepository creates a new BatchRepositoryPG.
func NewBatchRepository(db infra.TxRunner) *BatchRepositoryPG {
	return &BatchRepositoryPG{db: db}
}

// CreateBatch inserts a queued batch.
func (r *BatchRepositoryPG) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	batch.Status = domain.BatchStatusQueued
	return r.db.QueryRow(ctx, sqlinline.QInsertBatch,
		batch.ID,
		batch.UserID,
		batch.Mode,
		batch.Shape,
		batch.Locale,
		batch.TotalItems,
		batch.CreditsCharged,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
}

// InsertItem stores a queued item.
func (r *BatchRepositoryPG) InsertItem(ctx context.Context, item *domain.Item) error {
	item.Status = domain.ItemStatusQueued
	return r.db.QueryRow(ctx, sqlinline.QInsertBatchItem,
		item.ID,
		item.BatchID,
		item.Position,
		item.OriginalName,
		item.SourcePath,
		item.SourceContentType,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

// FinalizeIngestion and FailIngestion only touch a batch that is still
// ingesting; otherwise they return domain.ErrNotFound.
func (r *BatchRepositoryPG) FinalizeIngestion(ctx context.Context, batchID string, total int, creditsCharged int64) (*domain.Batch, error) {
	return scanBatch(r.db.QueryRow(ctx, sqlinline.QFinalizeBatchIngestion, batchID, total, creditsCharged))
}

func (r *BatchRepositoryPG) FailIngestion(ctx context.Context, batchID, reason string) (*domain.Batch, error) {
	return scanBatch(r.db.QueryRow(ctx, sqlinline.QFailBatchIngestion, batchID, reason))
}

func (r *BatchRepositoryPG) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	return scanBatch(r.db.QueryRow(ctx, sqlinline.QSelectBatch, batchID))
}

func (r *BatchRepositoryPG) ListBatches(ctx context.Context, userID string, limit int) ([]domain.Batch, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListBatchesByUser, userID, clampLimit(limit, 20, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

func (r *BatchRepositoryPG) ListItems(ctx context.Context, batchID string) ([]domain.Item, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListBatchItems, batchID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (r *BatchRepositoryPG) ListCompletedItems(ctx context.Context, batchID string) ([]domain.Item, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListCompletedBatchItems, batchID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// StartBatch moves a queued batch to processing.
func (r *BatchRepositoryPG) StartBatch(ctx context.Context, batchID string) (*domain.Batch, bool, error) {
	b, err := scanBatch(r.db.QueryRow(ctx, sqlinline.QStartBatch, batchID))
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	b, err = r.GetBatch(ctx, batchID)
	if err != nil {
		return nil, false, err
	}
	return b, false, nil
}

// ClaimItem moves a queued item to processing.
func (r *BatchRepositoryPG) ClaimItem(ctx context.Context, itemID string) (*domain.Item, bool, error) {
	it, err := scanItem(r.db.QueryRow(ctx, sqlinline.QClaimBatchItem, itemID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return it, true, nil
}

func (r *BatchRepositoryPG) UpdateItemProgress(ctx context.Context, itemID string, progress int) error {
	_, err := r.db.Exec(ctx, sqlinline.QUpdateBatchItemProgress, itemID, progress)
	return err
}

func (r *BatchRepositoryPG) SetItemExternalRef(ctx context.Context, itemID, ref string, progress int) error {
	_, err := r.db.Exec(ctx, sqlinline.QSetBatchItemExternalRef, itemID, ref, progress)
	return err
}

// CompleteItem stores the output metadata and counts the item on its batch.
func (r *BatchRepositoryPG) CompleteItem(ctx context.Context, itemID string, out domain.ItemOutput) (*domain.Batch, bool, error) {
	return r.finishItem(ctx, itemID, true, func(tx infra.SQLExecutor) pgx.Row {
		return tx.QueryRow(ctx, sqlinline.QCompleteBatchItem,
			itemID,
			out.Path,
			out.ContentType,
			out.Size,
			out.SignedURL,
			out.ExpiresAt,
		)
	})
}

// FailItem records the failure reason and counts the item on its batch.
func (r *BatchRepositoryPG) FailItem(ctx context.Context, itemID, reason string) (*domain.Batch, bool, error) {
	return r.finishItem(ctx, itemID, false, func(tx infra.SQLExecutor) pgx.Row {
		return tx.QueryRow(ctx, sqlinline.QFailBatchItem, itemID, reason)
	})
}

// finishItem runs the guarded item transition and the batch counter update
// in one transaction. The counter only moves when the item row changed.
func (r *BatchRepositoryPG) finishItem(ctx context.Context, itemID string, succeeded bool, transition func(tx infra.SQLExecutor) pgx.Row) (*domain.Batch, bool, error) {
	var (
		batch        *domain.Batch
		transitioned bool
	)
	err := r.db.InTx(ctx, func(tx infra.SQLExecutor) error {
		var batchID string
		err := transition(tx).Scan(&batchID)
		switch {
		case infra.IsNoRows(err):
			if err := tx.QueryRow(ctx, sqlinline.QSelectBatchIDForItem, itemID).Scan(&batchID); err != nil {
				if infra.IsNoRows(err) {
					return domain.ErrNotFound
				}
				return err
			}
			b, err := scanBatch(tx.QueryRow(ctx, sqlinline.QSelectBatch, batchID))
			batch = b
			return err
		case err != nil:
			return fmt.Errorf("transition item: %w", err)
		}

		transitioned = true
		completed, failed := 0, 1
		if succeeded {
			completed, failed = 1, 0
		}
		b, err := scanBatch(tx.QueryRow(ctx, sqlinline.QRecordItemOutcome, batchID, completed, failed))
		if errors.Is(err, domain.ErrNotFound) {
			b, err = scanBatch(tx.QueryRow(ctx, sqlinline.QSelectBatch, batchID))
		}
		batch = b
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return batch, transitioned, nil
}

func (r *BatchRepositoryPG) MarkNotified(ctx context.Context, batchID string) (bool, error) {
	tag, err := r.db.Exec(ctx, sqlinline.QMarkBatchNotified, batchID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClearNotified undoes MarkNotified so a later run can notify again.
func (r *BatchRepositoryPG) ClearNotified(ctx context.Context, batchID string) error {
	_, err := r.db.Exec(ctx, sqlinline.QClearBatchNotified, batchID)
	return err
}

// ClaimStaleBatch uses FOR UPDATE SKIP LOCKED so concurrent sweepers never
// pick the same batch.
func (r *BatchRepositoryPG) ClaimStaleBatch(ctx context.Context, queuedBefore, processingBefore time.Time) (*domain.Batch, error) {
	return scanBatch(r.db.QueryRow(ctx, sqlinline.QWorkerClaimStaleBatch, queuedBefore, processingBefore))
}

func (r *BatchRepositoryPG) ListAbandonedBatches(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Batch, error) {
	rows, err := r.db.Query(ctx, sqlinline.QWorkerListAbandonedBatches, createdBefore, clampLimit(limit, 20, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// DeleteBatch removes the batch; items and bundle rows cascade.
func (r *BatchRepositoryPG) DeleteBatch(ctx context.Context, batchID string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QDeleteBatch, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
