package domain

import "time"

// LedgerSource classifies a balance change.
type LedgerSource string

const (
	LedgerSourceGrant  LedgerSource = "grant"
	LedgerSourceTopup  LedgerSource = "topup"
	LedgerSourceCharge LedgerSource = "charge"
	LedgerSourceRefund LedgerSource = "refund"
)

// Valid reports whether s is a known ledger source.
func (s LedgerSource) Valid() bool {
	switch s {
	case LedgerSourceGrant, LedgerSourceTopup, LedgerSourceCharge, LedgerSourceRefund:
		return true
	}
	return false
}

// Wallet holds a user's prepaid credits.
type Wallet struct {
	UserID         string
	MonthlyBalance int64
	TopupBalance   int64
	UsedThisCycle  int64
	UpdatedAt      time.Time
}

// Available is the spendable balance across both pools.
func (w Wallet) Available() int64 {
	return w.MonthlyBalance + w.TopupBalance
}

// PoolSplit is a signed per-pool balance change.
type PoolSplit struct {
	Monthly int64
	Topup   int64
}

// Total is the combined change across both pools.
func (p PoolSplit) Total() int64 {
	return p.Monthly + p.Topup
}

// Charge deducts amount, draining the monthly pool before the top-up pool.
// The wallet is left untouched when the amount cannot be covered.
func (w *Wallet) Charge(amount int64) (PoolSplit, error) {
	if amount <= 0 {
		return PoolSplit{}, ErrInvalidAmount
	}
	if w.Available() < amount {
		return PoolSplit{}, ErrInsufficientCredits
	}
	fromMonthly := min(amount, w.MonthlyBalance)
	fromTopup := amount - fromMonthly
	w.MonthlyBalance -= fromMonthly
	w.TopupBalance -= fromTopup
	w.UsedThisCycle += amount
	return PoolSplit{Monthly: -fromMonthly, Topup: -fromTopup}, nil
}

// Grant credits a new billing cycle's allowance and restarts cycle usage.
func (w *Wallet) Grant(amount int64) (PoolSplit, error) {
	if amount <= 0 {
		return PoolSplit{}, ErrInvalidAmount
	}
	w.MonthlyBalance += amount
	w.UsedThisCycle = 0
	return PoolSplit{Monthly: amount}, nil
}

// TopUp adds non-expiring credits.
func (w *Wallet) TopUp(amount int64) (PoolSplit, error) {
	if amount <= 0 {
		return PoolSplit{}, ErrInvalidAmount
	}
	w.TopupBalance += amount
	return PoolSplit{Topup: amount}, nil
}

// Refund returns previously charged credits to the pools they came from.
// outstanding is what is still charged under the same reference. Top-up
// credits go back first, so a partial refund never turns top-up credits into
// monthly ones. Anything beyond outstanding lands in the top-up pool.
func (w *Wallet) Refund(amount int64, outstanding PoolSplit) (PoolSplit, error) {
	if amount <= 0 {
		return PoolSplit{}, ErrInvalidAmount
	}
	toTopup := min(amount, max(outstanding.Topup, 0))
	toMonthly := min(amount-toTopup, max(outstanding.Monthly, 0))
	toTopup += amount - toTopup - toMonthly
	w.MonthlyBalance += toMonthly
	w.TopupBalance += toTopup
	w.UsedThisCycle -= min(amount, w.UsedThisCycle)
	return PoolSplit{Monthly: toMonthly, Topup: toTopup}, nil
}

// Apply performs the wallet mutation matching source and returns the signed
// per-pool change. Charges are passed as a positive amount. outstanding is
// only consulted by refunds.
func (w *Wallet) Apply(source LedgerSource, amount int64, outstanding PoolSplit) (PoolSplit, error) {
	switch source {
	case LedgerSourceCharge:
		return w.Charge(amount)
	case LedgerSourceGrant:
		return w.Grant(amount)
	case LedgerSourceTopup:
		return w.TopUp(amount)
	case LedgerSourceRefund:
		return w.Refund(amount, outstanding)
	}
	return PoolSplit{}, ErrInvalidAmount
}

// LedgerEntry is an immutable audit record of one balance change. Monthly
// and Topup split Amount across the two pools.
type LedgerEntry struct {
	ID           string
	UserID       string
	Amount       int64
	Monthly      int64
	Topup        int64
	BalanceAfter int64
	Source       LedgerSource
	Reference    string
	CreatedAt    time.Time
}
