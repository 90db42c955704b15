package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/davidkvd/nomnom-studio/internal/adapter/repo"
	"github.com/davidkvd/nomnom-studio/internal/credits"
	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/infra"
)

var (
	userFlag      string
	amountFlag    int64
	referenceFlag string
	limitFlag     int
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Grant, top up and inspect credit wallets",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Add a monthly allowance and reset the cycle usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeWallet(cmd, domain.LedgerSourceGrant)
	},
}

var creditsTopupCmd = &cobra.Command{
	Use:   "topup",
	Short: "Add non-expiring credits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeWallet(cmd, domain.LedgerSourceTopup)
	},
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print a wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		return withLedger(cmd, func(ctx context.Context, ledger *credits.Ledger) error {
			w, err := ledger.Wallet(ctx, userFlag)
			if err != nil {
				return err
			}
			printWallet(cmd, w)
			return nil
		})
	},
}

var creditsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the newest ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		return withLedger(cmd, func(ctx context.Context, ledger *credits.Ledger) error {
			entries, err := ledger.History(ctx, userFlag, limitFlag)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %-7s %+6d  balance=%-6d %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Source, e.Amount, e.BalanceAfter, e.Reference)
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{creditsGrantCmd, creditsTopupCmd, creditsBalanceCmd, creditsHistoryCmd} {
		c.Flags().StringVar(&userFlag, "user", "", "user id")
		creditsCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{creditsGrantCmd, creditsTopupCmd} {
		c.Flags().Int64Var(&amountFlag, "amount", 0, "credits to add")
		c.Flags().StringVar(&referenceFlag, "reference", "", "ledger reference, e.g. an invoice id")
	}
	creditsHistoryCmd.Flags().IntVar(&limitFlag, "limit", 20, "number of entries")
}

func requireUser() error {
	userFlag = strings.TrimSpace(userFlag)
	if userFlag == "" {
		return errors.New("--user is required")
	}
	return nil
}

func changeWallet(cmd *cobra.Command, source domain.LedgerSource) error {
	if err := requireUser(); err != nil {
		return err
	}
	if amountFlag <= 0 {
		return errors.New("--amount must be positive")
	}
	reference := strings.TrimSpace(referenceFlag)
	if reference == "" {
		reference = "studioctl:" + string(source)
	}
	return withLedger(cmd, func(ctx context.Context, ledger *credits.Ledger) error {
		var (
			w   *domain.Wallet
			err error
		)
		if source == domain.LedgerSourceGrant {
			w, err = ledger.Grant(ctx, userFlag, amountFlag, reference)
		} else {
			w, err = ledger.TopUp(ctx, userFlag, amountFlag, reference)
		}
		if err != nil {
			return err
		}
		printWallet(cmd, w)
		return nil
	})
}

func withLedger(cmd *cobra.Command, fn func(ctx context.Context, ledger *credits.Ledger) error) error {
	return withRunner(cmd, func(ctx context.Context, runner *infra.SQLRunner) error {
		return fn(ctx, credits.NewLedger(repo.NewWalletRepository(runner), zerolog.Nop()))
	})
}

func printWallet(cmd *cobra.Command, w *domain.Wallet) {
	fmt.Fprintf(cmd.OutOrStdout(), "user=%s monthly=%d topup=%d available=%d used_this_cycle=%d\n",
		w.UserID, w.MonthlyBalance, w.TopupBalance, w.Available(), w.UsedThisCycle)
}
