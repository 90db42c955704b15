// Package credits owns every change to wallet balances. Other components
// never touch balances directly.
package credits

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/davidkvd/nomnom-studio/internal/domain"
)

// Ledger applies atomic wallet operations and records their audit trail.
type Ledger struct {
	repo   domain.WalletRepository
	logger zerolog.Logger
}

func NewLedger(repo domain.WalletRepository, logger zerolog.Logger) *Ledger {
	return &Ledger{repo: repo, logger: logger.With().Str("component", "credits").Logger()}
}

// Available returns the user's spendable balance.
func (l *Ledger) Available(ctx context.Context, userID string) (int64, error) {
	w, err := l.repo.GetWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return w.Available(), nil
}

// Wallet returns a snapshot of the user's wallet.
func (l *Ledger) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return l.repo.GetWallet(ctx, userID)
}

// History returns the newest ledger entries first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	return l.repo.ListEntries(ctx, userID, limit)
}

// ReserveAndCharge deducts amount under the wallet lock. Insufficient funds
// returns domain.ErrInsufficientCredits and leaves wallet and ledger as they were.
func (l *Ledger) ReserveAndCharge(ctx context.Context, userID string, amount int64, reference string) (*domain.Wallet, error) {
	return l.apply(ctx, userID, domain.LedgerSourceCharge, amount, reference)
}

// Grant credits a monthly allowance and resets the cycle usage.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int64, reference string) (*domain.Wallet, error) {
	return l.apply(ctx, userID, domain.LedgerSourceGrant, amount, reference)
}

// TopUp adds non-expiring credits.
func (l *Ledger) TopUp(ctx context.Context, userID string, amount int64, reference string) (*domain.Wallet, error) {
	return l.apply(ctx, userID, domain.LedgerSourceTopup, amount, reference)
}

// Refund returns credits for work that never ran. The credits go back to
// the pools the charge under the same reference drew from, top-up first.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int64, reference string) (*domain.Wallet, error) {
	return l.apply(ctx, userID, domain.LedgerSourceRefund, amount, reference)
}

// RefundOutstanding returns whatever is still charged under reference and
// reports the refunded amount. Calling it again refunds nothing.
func (l *Ledger) RefundOutstanding(ctx context.Context, userID, reference string) (int64, error) {
	if userID == "" || reference == "" {
		return 0, fmt.Errorf("%w: user id and reference are required", domain.ErrValidation)
	}
	var refunded int64
	_, entry, err := l.repo.UpdateWallet(ctx, userID, reference, func(w *domain.Wallet, outstanding domain.PoolSplit) (*domain.LedgerEntry, error) {
		amount := max(outstanding.Monthly, 0) + max(outstanding.Topup, 0)
		if amount == 0 {
			return nil, nil
		}
		split, err := w.Refund(amount, outstanding)
		if err != nil {
			return nil, err
		}
		refunded = amount
		return &domain.LedgerEntry{
			Amount:       amount,
			Monthly:      split.Monthly,
			Topup:        split.Topup,
			BalanceAfter: w.Available(),
			Source:       domain.LedgerSourceRefund,
			Reference:    reference,
		}, nil
	})
	if err != nil {
		return 0, err
	}
	if entry != nil {
		l.logger.Info().
			Str("user_id", userID).
			Int64("amount", refunded).
			Int64("balance_after", entry.BalanceAfter).
			Str("reference", reference).
			Msg("credits: outstanding charge refunded")
	}
	return refunded, nil
}

func (l *Ledger) apply(ctx context.Context, userID string, source domain.LedgerSource, amount int64, reference string) (*domain.Wallet, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	signed := amount
	if source == domain.LedgerSourceCharge {
		signed = -amount
	}
	wallet, entry, err := l.repo.UpdateWallet(ctx, userID, reference, func(w *domain.Wallet, outstanding domain.PoolSplit) (*domain.LedgerEntry, error) {
		split, err := w.Apply(source, amount, outstanding)
		if err != nil {
			return nil, err
		}
		return &domain.LedgerEntry{
			Amount:       signed,
			Monthly:      split.Monthly,
			Topup:        split.Topup,
			BalanceAfter: w.Available(),
			Source:       source,
			Reference:    reference,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().
		Str("user_id", userID).
		Str("source", string(source)).
		Int64("amount", signed).
		Int64("balance_after", entry.BalanceAfter).
		Str("reference", reference).
		Msg("credits: ledger entry appended")
	return wallet, nil
}
