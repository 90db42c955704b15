package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/infra"
	"github.com/davidkvd/nomnom-studio/internal/sqlinline"
)

// WalletRepositoryPG implements domain.WalletRepository backed by PostgreSQL.
type WalletRepositoryPG struct {
	db infra.TxRunner
}

// NewWalletRepository creates a new WalletRepositoryPG.
func NewWalletRepository(db infra.TxRunner) *WalletRepositoryPG {
	return &WalletRepositoryPG{db: db}
}

// GetWallet returns the stored wallet or a zero wallet for unknown users.
func (r *WalletRepositoryPG) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx, sqlinline.QSelectWallet, userID))
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Wallet{UserID: userID}, nil
	}
	return w, err
}

// UpdateWallet locks the wallet row with SELECT ... FOR UPDATE, applies
// mutate and appends the ledger entry inside one transaction. The outstanding
// charge under reference is read after the lock so concurrent refunds of the
// same reference see each other.
func (r *WalletRepositoryPG) UpdateWallet(ctx context.Context, userID, reference string, mutate domain.WalletMutation) (*domain.Wallet, *domain.LedgerEntry, error) {
	var (
		wallet *domain.Wallet
		entry  *domain.LedgerEntry
	)
	err := r.db.InTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QEnsureWallet, userID); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}
		w, err := scanWallet(tx.QueryRow(ctx, sqlinline.QSelectWalletForUpdate, userID))
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		var outstanding domain.PoolSplit
		if reference != "" {
			if outstanding, err = selectOutstanding(ctx, tx, userID, reference); err != nil {
				return err
			}
		}
		e, err := mutate(w, outstanding)
		if err != nil {
			return err
		}
		if w.MonthlyBalance < 0 || w.TopupBalance < 0 || w.UsedThisCycle < 0 {
			return domain.ErrInsufficientCredits
		}
		if err := tx.QueryRow(ctx, sqlinline.QUpdateWalletBalances, userID, w.MonthlyBalance, w.TopupBalance, w.UsedThisCycle).Scan(&w.UpdatedAt); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
		if e != nil {
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			e.UserID = userID
			if err := tx.QueryRow(ctx, sqlinline.QInsertLedgerEntry,
				e.ID,
				e.UserID,
				e.Amount,
				e.Monthly,
				e.Topup,
				e.BalanceAfter,
				string(e.Source),
				e.Reference,
			).Scan(&e.CreatedAt); err != nil {
				return fmt.Errorf("insert ledger entry: %w", err)
			}
		}
		wallet, entry = w, e
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return wallet, entry, nil
}

// selectOutstanding sums what is still charged per pool under reference,
// i.e. charges minus refunds, as positive numbers.
func selectOutstanding(ctx context.Context, q infra.SQLExecutor, userID, reference string) (domain.PoolSplit, error) {
	var p domain.PoolSplit
	if err := q.QueryRow(ctx, sqlinline.QSelectOutstandingCharge, userID, reference).Scan(&p.Monthly, &p.Topup); err != nil {
		return domain.PoolSplit{}, fmt.Errorf("outstanding charge: %w", err)
	}
	return p, nil
}

// ListEntries returns the newest ledger entries first.
func (r *WalletRepositoryPG) ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListLedgerEntries, userID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
