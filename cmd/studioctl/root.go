package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/davidkvd/nomnom-studio/internal/infra"
)

var (
	databaseURL string
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "studioctl",
	Short: "Operator tools for credit wallets and provider keys",
	Long: `studioctl changes state the API does not expose to users:

  - credit grants and top-ups, recorded in the ledger
  - wallet balance and ledger history lookups
  - the enhancement provider API key stored in integration_tokens`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout for each command")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	}

	rootCmd.AddCommand(creditsCmd)
	rootCmd.AddCommand(providerKeyCmd)
}

// withRunner opens the database for the duration of fn.
func withRunner(cmd *cobra.Command, fn func(ctx context.Context, runner *infra.SQLRunner) error) error {
	dbURL := strings.TrimSpace(databaseURL)
	if dbURL == "" {
		dbURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dbURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", cmd.CommandPath()).Logger()
	return fn(ctx, infra.NewSQLRunner(pool, logger))
}
