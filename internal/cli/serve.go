package cli

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"

	"rebasegate/internal/ledger"
	"rebasegate/internal/server"
	"rebasegate/internal/session"
	"rebasegate/internal/wallet"
)

var serveFake bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveFake, "fake", false, "serve against an in-memory ledger instead of an RPC endpoint")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveFake {
		fillFakeDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	signer, err := buildSigner()
	if err != nil {
		return err
	}

	// the server is created last, so its metric hooks bind late
	var srv *server.Server

	rpc, seedFake := buildRPC()
	client, err := ledger.NewClient(ledger.ClientConfig{
		RPC:               rpc,
		NetworkPassphrase: cfg.Network.Passphrase(),
		PollObserver: func() {
			if srv != nil {
				srv.ObservePoll()
			}
		},
	})
	if err != nil {
		return err
	}

	sess, err := session.New(session.Config{
		CollateralContract: cfg.CollateralContract,
		IssuedContract:     cfg.IssuedContract,
		Ledger:             client,
		Signer:             signer,
		NetworkPassphrase:  cfg.Network.Passphrase(),
		RefreshObserver: func(err error) {
			if srv != nil {
				srv.ObserveRefresh(err)
			}
		},
	})
	if err != nil {
		return err
	}

	if seedFake != nil {
		account, err := signer.Connect(cmd.Context(), cfg.Network.Passphrase())
		if err != nil {
			return err
		}
		seedFake(account)
	}

	srv = server.NewServer(cfg, sess)
	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	sess.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildRPC picks the backend. The returned seed function is non-nil only for
// the in-memory one; it funds the given account so the demo has something to
// mint against.
func buildRPC() (ledger.RPC, func(account string)) {
	if !serveFake {
		return ledger.NewHTTPRPC(cfg.RPCURL), nil
	}

	fake := ledger.NewFakeRPC(cfg.CollateralContract, cfg.IssuedContract)
	return fake, func(account string) {
		fake.SetBalance(cfg.CollateralContract, account, big.NewInt(1_000_0000000))
		log.Printf("fake ledger: funded %s with 1000 collateral units", account)
	}
}

func buildSigner() (wallet.Signer, error) {
	if cfg.SecretKey == "" && serveFake {
		kp := keypair.MustRandom()
		log.Printf("fake ledger: generated throwaway signing key for %s", kp.Address())
		return wallet.NewKeySigner(kp.Seed())
	}
	return wallet.NewKeySigner(cfg.SecretKey)
}

// fillFakeDefaults synthesizes contract identifiers and an RPC URL so that
// --fake needs no configuration at all.
func fillFakeDefaults() {
	if cfg.CollateralContract == "" {
		cfg.CollateralContract = fakeContract(0x01)
	}
	if cfg.IssuedContract == "" {
		cfg.IssuedContract = fakeContract(0x02)
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = "fake"
	}
}

func fakeContract(fill byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = fill
	}
	id, err := strkey.Encode(strkey.VersionByteContract, raw)
	if err != nil {
		panic(err)
	}
	return id
}
