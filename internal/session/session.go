// Package session owns one user's connection to the token pair: the wallet
// account, the periodically refreshed balance snapshot, and the busy gate
// that serializes state-changing actions. All state lives on the Session
// handle; nothing ambient.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rebasegate/internal/amount"
	"rebasegate/internal/ledger"
	"rebasegate/internal/wallet"
)

var (
	// ErrBusy rejects a state-changing action while another is in flight.
	ErrBusy = errors.New("another action is in flight")

	// ErrNotConnected rejects operations that need a wallet account.
	ErrNotConnected = errors.New("no wallet connected")
)

// State is the session's lifecycle position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateBusy         State = "busy"
)

const (
	defaultRefreshInterval = 12 * time.Second

	// fallbackDecimals applies until the issued token's declared
	// precision has been read once.
	fallbackDecimals = 7

	// allowanceHorizonLedgers is added to the latest closed ledger to
	// form the allowance's absolute expiration.
	allowanceHorizonLedgers = 100_000

	refreshTimeout = 30 * time.Second
)

// Config wires a Session.
type Config struct {
	CollateralContract string
	IssuedContract     string
	Ledger             *ledger.Client
	Signer             wallet.Signer
	NetworkPassphrase  string

	// RefreshInterval defaults to 12s.
	RefreshInterval time.Duration

	// RefreshObserver, if set, sees the outcome of every refresh cycle.
	RefreshObserver func(err error)
}

// Session sequences connect, refresh, approve, mint and burn for one
// account.
type Session struct {
	collateral string
	issued     string
	client     *ledger.Client
	signer     wallet.Signer
	passphrase string
	interval   time.Duration
	observer   func(err error)

	mu         sync.Mutex
	account    string
	snap       *Snapshot
	decimals   uint32
	busy       bool
	status     string
	lastError  string
	mintInput  string
	burnInput  string
	lastTxHash string
	stop       chan struct{}
}

func New(cfg Config) (*Session, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("wallet signer is required")
	}
	if cfg.CollateralContract == "" || cfg.IssuedContract == "" {
		return nil, fmt.Errorf("both contract identifiers are required")
	}
	if cfg.NetworkPassphrase == "" {
		return nil, fmt.Errorf("network passphrase is required")
	}
	s := &Session{
		collateral: cfg.CollateralContract,
		issued:     cfg.IssuedContract,
		client:     cfg.Ledger,
		signer:     cfg.Signer,
		passphrase: cfg.NetworkPassphrase,
		interval:   cfg.RefreshInterval,
		observer:   cfg.RefreshObserver,
		decimals:   fallbackDecimals,
	}
	if s.interval <= 0 {
		s.interval = defaultRefreshInterval
	}
	return s, nil
}

// Connect resolves the wallet account, performs an immediate refresh and
// starts the periodic refresh loop. Connecting twice is a no-op returning
// the current account.
func (s *Session) Connect(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.account != "" {
		account := s.account
		s.mu.Unlock()
		return account, nil
	}
	s.mu.Unlock()

	account, err := s.signer.Connect(ctx, s.passphrase)
	if err != nil {
		s.setError(fmt.Sprintf("Failed to connect wallet: %v", err))
		return "", fmt.Errorf("connect wallet: %w", err)
	}

	s.mu.Lock()
	if s.account != "" {
		// a concurrent connect won the race; keep its refresh loop
		existing := s.account
		s.mu.Unlock()
		return existing, nil
	}
	s.account = account
	s.status = "Wallet connected."
	s.lastError = ""
	s.stop = make(chan struct{})
	go s.refreshLoop(s.stop, account)
	s.mu.Unlock()

	if err := s.refreshFor(ctx, account); err != nil {
		// connected but stale; the periodic loop keeps trying
		return account, nil
	}
	return account, nil
}

// Disconnect discards the snapshot entirely and stops the refresh loop.
// Balances go back to unknown, not zero.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.account = ""
	s.snap = nil
	s.status = ""
	s.lastError = ""
	s.lastTxHash = ""
}

func (s *Session) refreshLoop(stop <-chan struct{}, account string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			err := s.refreshFor(ctx, account)
			cancel()
			if s.observer != nil {
				s.observer(err)
			}
		}
	}
}

// Refresh runs one aggregation cycle for the connected account.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	account := s.account
	s.mu.Unlock()
	if account == "" {
		return ErrNotConnected
	}
	return s.refreshFor(ctx, account)
}

// refreshFor issues the six reads concurrently and publishes a snapshot only
// if every read succeeded. A failed cycle leaves the previous snapshot in
// place: stale but consistent beats partially updated.
func (s *Session) refreshFor(ctx context.Context, account string) error {
	var (
		issuedBal, collateralBal *big.Int
		allowance, reserve       *big.Int
		supply                   *big.Int
		decimals                 uint32
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		issuedBal, err = s.readInt(ctx, account, s.issued, "balance", ledger.Address(account))
		return
	})
	g.Go(func() (err error) {
		collateralBal, err = s.readInt(ctx, account, s.collateral, "balance", ledger.Address(account))
		return
	})
	g.Go(func() (err error) {
		allowance, err = s.readInt(ctx, account, s.collateral, "allowance",
			ledger.Address(account), ledger.Address(s.issued))
		return
	})
	g.Go(func() (err error) {
		reserve, err = s.readInt(ctx, account, s.collateral, "balance", ledger.Address(s.issued))
		return
	})
	g.Go(func() (err error) {
		supply, err = s.readInt(ctx, account, s.issued, "total_supply")
		return
	})
	g.Go(func() error {
		v, err := s.client.ReadContractValue(ctx, ledger.Call{
			Contract: s.issued, Method: "decimals", Source: account,
		})
		if err != nil {
			return err
		}
		d, ok := v.Uint32()
		if !ok {
			return fmt.Errorf("decimals: unexpected value")
		}
		decimals = d
		return nil
	})

	if err := g.Wait(); err != nil {
		s.setError(fmt.Sprintf("Failed to refresh balances: %v", err))
		return fmt.Errorf("refresh balances: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account != account {
		// disconnected while the reads were in flight; drop the result
		return nil
	}
	s.decimals = decimals
	s.snap = &Snapshot{
		IssuedBalance:     issuedBal,
		CollateralBalance: collateralBal,
		Allowance:         allowance,
		Reserve:           reserve,
		TotalSupply:       supply,
		Decimals:          decimals,
		TakenAt:           time.Now(),
	}
	return nil
}

func (s *Session) readInt(ctx context.Context, source, contract, method string, args ...ledger.Arg) (*big.Int, error) {
	v, err := s.client.ReadContractValue(ctx, ledger.Call{
		Contract: contract, Method: method, Args: args, Source: source,
	})
	if err != nil {
		return nil, err
	}
	i, ok := v.BigInt()
	if !ok {
		return nil, fmt.Errorf("%s: unexpected value", method)
	}
	return i, nil
}

// NeedsApproval reports whether the typed mint amount exceeds the last known
// allowance. With no snapshot yet the answer is always true.
func (s *Session) NeedsApproval() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil || s.snap.Allowance == nil {
		return true
	}
	amt, err := amount.Parse(s.mintInput, s.decimals)
	if err != nil {
		return false
	}
	return amt.Sign() > 0 && s.snap.Allowance.Cmp(amt) < 0
}

// Approve raises the collateral allowance to cover at least the typed mint
// amount, bounded by an absolute expiration ledger. It never chains into a
// mint; the user mints again once the allowance lands.
func (s *Session) Approve(ctx context.Context) error {
	account, amt, err := s.actionAmount(s.MintAmount, "approval")
	if err != nil {
		return err
	}
	if err := s.beginAction("Submitting approval..."); err != nil {
		return err
	}
	defer s.endAction()
	defer s.refreshAfter(ctx, account)

	latest, err := s.client.LatestLedger(ctx)
	if err != nil {
		s.setError(fmt.Sprintf("Approval failed: %v", err))
		return err
	}
	expiration := latest + allowanceHorizonLedgers

	res, err := s.client.SubmitContractCall(ctx, ledger.Call{
		Contract: s.collateral,
		Method:   "approve",
		Args: []ledger.Arg{
			ledger.Address(account),
			ledger.Address(s.issued),
			ledger.I128(amt),
			ledger.U32(expiration),
		},
		Source: account,
	}, s.sign)
	if err != nil {
		s.setError(fmt.Sprintf("Approval failed: %v", err))
		return err
	}

	s.mu.Lock()
	s.lastTxHash = res.Hash
	s.status = "Approval confirmed."
	s.mu.Unlock()
	return nil
}

// Mint issues tokens against deposited collateral. The typed amount is
// cleared only on success so a failed attempt can be corrected and resent.
func (s *Session) Mint(ctx context.Context) error {
	account, amt, err := s.actionAmount(s.MintAmount, "mint")
	if err != nil {
		return err
	}
	if err := s.beginAction("Minting rUSD..."); err != nil {
		return err
	}
	defer s.endAction()
	defer s.refreshAfter(ctx, account)

	res, err := s.client.SubmitContractCall(ctx, ledger.Call{
		Contract: s.issued,
		Method:   "mint",
		Args:     []ledger.Arg{ledger.Address(account), ledger.I128(amt)},
		Source:   account,
	}, s.sign)
	if err != nil {
		s.setError(fmt.Sprintf("Mint failed: %v", err))
		return err
	}

	s.mu.Lock()
	s.mintInput = ""
	s.lastTxHash = res.Hash
	s.status = "Mint confirmed."
	s.mu.Unlock()
	return nil
}

// Burn redeems issued tokens for collateral. Same input-clearing rules as
// Mint.
func (s *Session) Burn(ctx context.Context) error {
	account, amt, err := s.actionAmount(s.BurnAmount, "burn")
	if err != nil {
		return err
	}
	if err := s.beginAction("Burning rUSD..."); err != nil {
		return err
	}
	defer s.endAction()
	defer s.refreshAfter(ctx, account)

	res, err := s.client.SubmitContractCall(ctx, ledger.Call{
		Contract: s.issued,
		Method:   "burn",
		Args:     []ledger.Arg{ledger.Address(account), ledger.I128(amt)},
		Source:   account,
	}, s.sign)
	if err != nil {
		s.setError(fmt.Sprintf("Burn failed: %v", err))
		return err
	}

	s.mu.Lock()
	s.burnInput = ""
	s.lastTxHash = res.Hash
	s.status = "Burn confirmed."
	s.mu.Unlock()
	return nil
}

// actionAmount validates the typed amount for a state-changing action before
// any network traffic.
func (s *Session) actionAmount(input func() string, verb string) (string, *big.Int, error) {
	s.mu.Lock()
	account := s.account
	decimals := s.decimals
	s.mu.Unlock()
	if account == "" {
		return "", nil, ErrNotConnected
	}

	amt, err := amount.Parse(input(), decimals)
	if err != nil {
		s.setError(fmt.Sprintf("Enter a valid %s amount.", verb))
		return "", nil, err
	}
	if amt.Sign() <= 0 {
		s.setError(fmt.Sprintf("Enter a %s amount above zero.", verb))
		return "", nil, fmt.Errorf("%w: %s amount must be positive", amount.ErrInvalidAmount, verb)
	}
	return account, amt, nil
}

func (s *Session) beginAction(status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == "" {
		return ErrNotConnected
	}
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.status = status
	s.lastError = ""
	return nil
}

func (s *Session) endAction() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// refreshAfter re-reads state once the action settles, whatever the outcome.
func (s *Session) refreshAfter(ctx context.Context, account string) {
	_ = s.refreshFor(ctx, account)
}

func (s *Session) sign(ctx context.Context, envelopeXDR, passphrase string) (string, error) {
	return s.signer.SignTransaction(ctx, envelopeXDR, passphrase)
}

// SetMintAmount records the typed mint amount.
func (s *Session) SetMintAmount(v string) {
	s.mu.Lock()
	s.mintInput = v
	s.mu.Unlock()
}

// SetBurnAmount records the typed burn amount.
func (s *Session) SetBurnAmount(v string) {
	s.mu.Lock()
	s.burnInput = v
	s.mu.Unlock()
}

func (s *Session) MintAmount() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintInput
}

func (s *Session) BurnAmount() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.burnInput
}

// Account returns the connected account identifier, empty when
// disconnected.
func (s *Session) Account() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// State derives the lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.account == "":
		return StateDisconnected
	case s.busy:
		return StateBusy
	default:
		return StateConnected
	}
}

// CurrentSnapshot returns the last published snapshot, nil when none.
func (s *Session) CurrentSnapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Decimals is the precision used for formatting and parsing amounts.
func (s *Session) Decimals() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decimals
}

// Status is the last user-facing progress message.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastTxHash identifies the most recently confirmed transaction.
func (s *Session) LastTxHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTxHash
}

// LastError is the last user-facing failure message, empty when the most
// recent operation succeeded.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}
