package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidkvd/nomnom-studio/internal/infra"
	"github.com/davidkvd/nomnom-studio/internal/infra/credentials"
)

var keyFlag string

var providerKeyCmd = &cobra.Command{
	Use:   "provider-key",
	Short: "Manage the enhancement provider API key",
}

var providerKeySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the provider API key in integration_tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.TrimSpace(keyFlag)
		if key == "" {
			key = strings.TrimSpace(os.Getenv("ENHANCE_API_KEY"))
		}
		if key == "" {
			return errors.New("API key is required via --key or ENHANCE_API_KEY")
		}
		return withRunner(cmd, func(ctx context.Context, runner *infra.SQLRunner) error {
			store := credentials.NewStore(runner)
			if err := store.SetEnhanceAPIKey(ctx, key, map[string]any{"source": "studioctl"}); err != nil {
				return fmt.Errorf("store key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s API key stored\n", credentials.ProviderEnhance)
			return nil
		})
	},
}

func init() {
	providerKeySetCmd.Flags().StringVar(&keyFlag, "key", "", "API key (default: $ENHANCE_API_KEY)")
	providerKeyCmd.AddCommand(providerKeySetCmd)
}
