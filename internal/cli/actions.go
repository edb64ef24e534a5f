package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rebasegate/internal/amount"
	"rebasegate/internal/ledger"
	"rebasegate/internal/session"
	"rebasegate/internal/wallet"
)

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Print the signing account's view of the token pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := oneShotSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Disconnect()

		snap := sess.CurrentSnapshot()
		if snap == nil {
			return fmt.Errorf("balance refresh failed: %s", sess.LastError())
		}

		fmt.Printf("Account:     %s\n", sess.Account())
		fmt.Printf("Collateral:  %s\n", amount.Format(snap.CollateralBalance, snap.Decimals))
		fmt.Printf("Issued:      %s\n", amount.Format(snap.IssuedBalance, snap.Decimals))
		fmt.Printf("Allowance:   %s\n", amount.Format(snap.Allowance, snap.Decimals))
		fmt.Printf("Reserve:     %s\n", amount.Format(snap.Reserve, snap.Decimals))
		fmt.Printf("Supply:      %s\n", amount.Format(snap.TotalSupply, snap.Decimals))
		fmt.Printf("Rate:        %s\n", snap.ExchangeRate())
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve AMOUNT",
	Short: "Raise the collateral allowance to cover AMOUNT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := oneShotSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Disconnect()

		sess.SetMintAmount(args[0])
		if err := sess.Approve(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("approved %s (tx %s)\n", args[0], sess.LastTxHash())
		return nil
	},
}

var mintCmd = &cobra.Command{
	Use:   "mint AMOUNT",
	Short: "Mint AMOUNT issued tokens against deposited collateral",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := oneShotSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Disconnect()

		sess.SetMintAmount(args[0])
		if sess.NeedsApproval() {
			return fmt.Errorf("allowance below %s: run 'rebasegate approve %s' first", args[0], args[0])
		}
		if err := sess.Mint(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("minted %s (tx %s)\n", args[0], sess.LastTxHash())
		return nil
	},
}

var burnCmd = &cobra.Command{
	Use:   "burn AMOUNT",
	Short: "Burn AMOUNT issued tokens and release collateral",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := oneShotSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Disconnect()

		sess.SetBurnAmount(args[0])
		if err := sess.Burn(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("burned %s (tx %s)\n", args[0], sess.LastTxHash())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(balancesCmd, approveCmd, mintCmd, burnCmd)
}

// oneShotSession builds a session around the configured RPC endpoint and
// local signing key, connects it and waits for the first refresh.
func oneShotSession(cmd *cobra.Command) (*session.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("REBASEGATE_SECRET_KEY is required for one-shot commands")
	}

	signer, err := wallet.NewKeySigner(cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	client, err := ledger.NewClient(ledger.ClientConfig{
		RPC:               ledger.NewHTTPRPC(cfg.RPCURL),
		NetworkPassphrase: cfg.Network.Passphrase(),
	})
	if err != nil {
		return nil, err
	}
	sess, err := session.New(session.Config{
		CollateralContract: cfg.CollateralContract,
		IssuedContract:     cfg.IssuedContract,
		Ledger:             client,
		Signer:             signer,
		NetworkPassphrase:  cfg.Network.Passphrase(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := sess.Connect(cmd.Context()); err != nil {
		return nil, err
	}
	return sess, nil
}
