// Package cli wires the rebasegate commands: a long-running API server and
// one-shot contract actions driven by a local signing key.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"rebasegate/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rebasegate",
	Short: "Gateway to a rebasing token pair on a Soroban ledger",
	Long: `rebasegate talks to a collateral token and its rebasing counterpart on a
Soroban-style ledger: it aggregates balances, manages the collateral
allowance, and submits mint and burn transactions to finality.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// a local .env is optional
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "rebasegate.toml", "path to the TOML config file")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rebasegate: %v\n", err)
		os.Exit(1)
	}
}
