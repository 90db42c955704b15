package repo

import (
	"context"

	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/infra"
	"github.com/davidkvd/nomnom-studio/internal/sqlinline"
)

// BundleRepositoryPG implements domain.BundleRepository.
type BundleRepositoryPG struct {
	db infra.SQLExecutor
}

func NewBundleRepository(db infra.SQLExecutor) *BundleRepositoryPG {
	return &BundleRepositoryPG{db: db}
}

func (r *BundleRepositoryPG) GetBundle(ctx context.Context, batchID string) (*domain.Bundle, error) {
	var b domain.Bundle
	err := r.db.QueryRow(ctx, sqlinline.QSelectBatchBundle, batchID).Scan(
		&b.BatchID,
		&b.UserID,
		&b.StoragePath,
		&b.SignedURL,
		&b.SignedURLExpiry,
		&b.Size,
		&b.ItemCount,
		&b.CreatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// UpsertBundle replaces the cached bundle row for the batch.
func (r *BundleRepositoryPG) UpsertBundle(ctx context.Context, b *domain.Bundle) error {
	return r.db.QueryRow(ctx, sqlinline.QUpsertBatchBundle,
		b.BatchID,
		b.UserID,
		b.StoragePath,
		b.SignedURL,
		b.SignedURLExpiry,
		b.Size,
		b.ItemCount,
	).Scan(&b.CreatedAt)
}
