package repo

import (
	"github.com/jackc/pgx/v5"

	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/infra"
)

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := row.Scan(&w.UserID, &w.MonthlyBalance, &w.TopupBalance, &w.UsedThisCycle, &w.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	if err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.Monthly, &e.Topup, &e.BalanceAfter, &e.Source, &e.Reference, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanBatch(row pgx.Row) (*domain.Batch, error) {
	var b domain.Batch
	if err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.Mode,
		&b.Shape,
		&b.Locale,
		&b.Status,
		&b.TotalItems,
		&b.CompletedCount,
		&b.FailedCount,
		&b.CreditsCharged,
		&b.ErrorMessage,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.IngestedAt,
		&b.StartedAt,
		&b.CompletedAt,
		&b.NotifiedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanItem(row pgx.Row) (*domain.Item, error) {
	var it domain.Item
	if err := row.Scan(
		&it.ID,
		&it.BatchID,
		&it.Position,
		&it.OriginalName,
		&it.SourcePath,
		&it.SourceContentType,
		&it.OutputPath,
		&it.OutputContentType,
		&it.OutputSize,
		&it.Status,
		&it.Progress,
		&it.ExternalRef,
		&it.SignedURL,
		&it.SignedURLExpiresAt,
		&it.ErrorMessage,
		&it.CreatedAt,
		&it.UpdatedAt,
		&it.CompletedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &it, nil
}

func collectItems(rows pgx.Rows) ([]domain.Item, error) {
	defer rows.Close()
	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
