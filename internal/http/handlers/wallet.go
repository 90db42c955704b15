package handlers

import (
	"net/http"
	"time"
)

type walletDTO struct {
	MonthlyBalance int64     `json:"monthly_balance"`
	TopupBalance   int64     `json:"topup_balance"`
	Available      int64     `json:"available"`
	UsedThisCycle  int64     `json:"used_this_cycle"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ledgerEntryDTO struct {
	ID           string    `json:"id"`
	Amount       int64     `json:"amount"`
	Monthly      int64     `json:"monthly"`
	Topup        int64     `json:"topup"`
	BalanceAfter int64     `json:"balance_after"`
	Source       string    `json:"source"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (a *App) Wallet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	wallet, err := a.Ledger.Wallet(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, walletDTO{
		MonthlyBalance: wallet.MonthlyBalance,
		TopupBalance:   wallet.TopupBalance,
		Available:      wallet.Available(),
		UsedThisCycle:  wallet.UsedThisCycle,
		UpdatedAt:      wallet.UpdatedAt,
	})
}

func (a *App) WalletLedger(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	entries, err := a.Ledger.History(r.Context(), userID, queryLimit(r, 50))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]ledgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryDTO{
			ID:           e.ID,
			Amount:       e.Amount,
			Monthly:      e.Monthly,
			Topup:        e.Topup,
			BalanceAfter: e.BalanceAfter,
			Source:       string(e.Source),
			Reference:    e.Reference,
			CreatedAt:    e.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"entries": out})
}
