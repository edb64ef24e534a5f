package session

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"

	"rebasegate/internal/amount"
	"rebasegate/internal/ledger"
	"rebasegate/internal/wallet"
)

type testSigner struct {
	addr       string
	connectErr error
	signErr    error
	block      chan struct{}

	// connectEntered/connectGate hold callers inside Connect so tests can
	// line up concurrent attempts.
	connectEntered chan struct{}
	connectGate    chan struct{}
}

func (t *testSigner) Connect(context.Context, string) (string, error) {
	if t.connectEntered != nil {
		t.connectEntered <- struct{}{}
	}
	if t.connectGate != nil {
		<-t.connectGate
	}
	if t.connectErr != nil {
		return "", t.connectErr
	}
	return t.addr, nil
}

func (t *testSigner) SignTransaction(_ context.Context, envelopeXDR, _ string) (string, error) {
	if t.block != nil {
		<-t.block
	}
	if t.signErr != nil {
		return "", t.signErr
	}
	return envelopeXDR, nil
}

type world struct {
	fake       *ledger.FakeRPC
	session    *Session
	signer     *testSigner
	collateral string
	issued     string
	user       string
}

func contractID(t *testing.T, fill byte) string {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = fill
	}
	id, err := strkey.Encode(strkey.VersionByteContract, raw)
	if err != nil {
		t.Fatalf("encode contract id: %v", err)
	}
	return id
}

func newWorld(t *testing.T, opts ...func(*Config)) *world {
	t.Helper()
	collateral := contractID(t, 0xC0)
	issued := contractID(t, 0xD0)
	user := keypair.MustRandom().Address()

	fake := ledger.NewFakeRPC(collateral, issued)
	client, err := ledger.NewClient(ledger.ClientConfig{
		RPC:               fake,
		NetworkPassphrase: network.TestNetworkPassphrase,
		Sleep:             func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	signer := &testSigner{addr: user}
	cfg := Config{
		CollateralContract: collateral,
		IssuedContract:     issued,
		Ledger:             client,
		Signer:             signer,
		NetworkPassphrase:  network.TestNetworkPassphrase,
		RefreshInterval:    time.Hour, // tests drive refresh explicitly
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	sess, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(sess.Disconnect)

	return &world{fake: fake, session: sess, signer: signer, collateral: collateral, issued: issued, user: user}
}

func (w *world) connect(t *testing.T) {
	t.Helper()
	if _, err := w.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestConnectPublishesSnapshot(t *testing.T) {
	w := newWorld(t)
	w.fake.SetBalance(w.collateral, w.user, big.NewInt(500_0000000))

	w.connect(t)

	snap := w.session.CurrentSnapshot()
	if snap == nil {
		t.Fatalf("no snapshot after connect")
	}
	if snap.CollateralBalance.Cmp(big.NewInt(500_0000000)) != 0 {
		t.Fatalf("collateral balance = %s", snap.CollateralBalance)
	}
	if snap.Decimals != 7 || w.session.Decimals() != 7 {
		t.Fatalf("decimals = %d / %d", snap.Decimals, w.session.Decimals())
	}
	if got := amount.Format(snap.CollateralBalance, snap.Decimals); got != "500" {
		t.Fatalf("formatted collateral = %q", got)
	}
	if w.session.State() != StateConnected {
		t.Fatalf("state = %s", w.session.State())
	}
}

func TestConnectCanceled(t *testing.T) {
	w := newWorld(t)
	w.signer.connectErr = wallet.ErrConnectionCanceled

	if _, err := w.session.Connect(context.Background()); !errors.Is(err, wallet.ErrConnectionCanceled) {
		t.Fatalf("err = %v, want ErrConnectionCanceled", err)
	}
	if w.session.State() != StateDisconnected {
		t.Fatalf("state = %s after canceled connect", w.session.State())
	}
}

func TestNeedsApprovalGate(t *testing.T) {
	w := newWorld(t)

	// no snapshot yet: approval is always required, even for zero input
	w.session.SetMintAmount("0")
	if !w.session.NeedsApproval() {
		t.Fatalf("expected approval required before first snapshot")
	}

	w.fake.SetAllowance(w.user, w.issued, big.NewInt(50_0000000))
	w.connect(t)

	cases := []struct {
		input string
		want  bool
	}{
		{"40", false},
		{"50", false},
		{"60", true},
		{"0", false},
		{"", false},
	}
	for _, tc := range cases {
		w.session.SetMintAmount(tc.input)
		if got := w.session.NeedsApproval(); got != tc.want {
			t.Fatalf("NeedsApproval(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestApproveRaisesAllowance(t *testing.T) {
	w := newWorld(t)
	w.fake.SetBalance(w.collateral, w.user, big.NewInt(100_0000000))
	w.connect(t)

	w.session.SetMintAmount("60")
	if !w.session.NeedsApproval() {
		t.Fatalf("expected approval required")
	}
	if err := w.session.Approve(context.Background()); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if got := w.fake.Allowance(w.user, w.issued); got.Cmp(big.NewInt(60_0000000)) != 0 {
		t.Fatalf("allowance = %s", got)
	}
	// approval never chains into a mint
	if got := w.fake.Balance(w.issued, w.user); got.Sign() != 0 {
		t.Fatalf("issued balance after approve = %s", got)
	}
	// the post-action refresh picked up the new allowance
	if w.session.NeedsApproval() {
		t.Fatalf("approval still required after approve confirmed")
	}
	if w.session.MintAmount() != "60" {
		t.Fatalf("approve must not clear the mint input")
	}
}

func TestMintClearsInputOnSuccess(t *testing.T) {
	w := newWorld(t)
	w.fake.SetBalance(w.collateral, w.user, big.NewInt(100_0000000))
	w.fake.SetAllowance(w.user, w.issued, big.NewInt(100_0000000))
	w.connect(t)

	w.session.SetMintAmount("40")
	if err := w.session.Mint(context.Background()); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if w.session.MintAmount() != "" {
		t.Fatalf("mint input not cleared on success")
	}

	snap := w.session.CurrentSnapshot()
	if snap.IssuedBalance.Cmp(big.NewInt(40_0000000)) != 0 {
		t.Fatalf("issued balance = %s", snap.IssuedBalance)
	}
	if snap.Reserve.Cmp(big.NewInt(40_0000000)) != 0 {
		t.Fatalf("reserve = %s", snap.Reserve)
	}
	if w.session.Status() != "Mint confirmed." {
		t.Fatalf("status = %q", w.session.Status())
	}
}

func TestMintFailureKeepsInput(t *testing.T) {
	w := newWorld(t)
	w.fake.SetBalance(w.collateral, w.user, big.NewInt(100_0000000))
	// no allowance seeded: the fake rejects the mint at apply time
	w.connect(t)

	w.session.SetMintAmount("40")
	err := w.session.Mint(context.Background())
	if !errors.Is(err, ledger.ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
	if w.session.MintAmount() != "40" {
		t.Fatalf("failed mint must keep the typed amount")
	}
	if w.session.LastError() == "" {
		t.Fatalf("failure not surfaced to the user")
	}
	if w.session.State() != StateConnected {
		t.Fatalf("busy flag not cleared after failure")
	}
}

func TestMintRejectsNonPositiveAmountLocally(t *testing.T) {
	w := newWorld(t)
	w.connect(t)

	for _, input := range []string{"0", "-3", "abc", ""} {
		w.session.SetMintAmount(input)
		if err := w.session.Mint(context.Background()); !errors.Is(err, amount.ErrInvalidAmount) {
			t.Fatalf("Mint(%q) err = %v, want ErrInvalidAmount", input, err)
		}
	}
}

func TestBurnRoundTrip(t *testing.T) {
	w := newWorld(t)
	w.fake.SetBalance(w.collateral, w.user, big.NewInt(100_0000000))
	w.fake.SetAllowance(w.user, w.issued, big.NewInt(100_0000000))
	w.connect(t)

	w.session.SetMintAmount("40")
	if err := w.session.Mint(context.Background()); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	w.session.SetBurnAmount("40")
	if err := w.session.Burn(context.Background()); err != nil {
		t.Fatalf("Burn: %v", err)
	}

	snap := w.session.CurrentSnapshot()
	if snap.IssuedBalance.Sign() != 0 {
		t.Fatalf("issued balance after burn = %s", snap.IssuedBalance)
	}
	if snap.CollateralBalance.Cmp(big.NewInt(100_0000000)) != 0 {
		t.Fatalf("collateral balance after burn = %s", snap.CollateralBalance)
	}
	if w.session.BurnAmount() != "" {
		t.Fatalf("burn input not cleared on success")
	}
}

func TestBusyGateSerializesActions(t *testing.T) {
	w := newWorld(t)
	w.fake.SetBalance(w.collateral, w.user, big.NewInt(100_0000000))
	w.fake.SetAllowance(w.user, w.issued, big.NewInt(100_0000000))
	w.connect(t)

	w.signer.block = make(chan struct{})
	w.session.SetMintAmount("10")

	first := make(chan error, 1)
	go func() { first <- w.session.Mint(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for w.session.State() != StateBusy {
		if time.Now().After(deadline) {
			t.Fatalf("first mint never reached the signer")
		}
		time.Sleep(time.Millisecond)
	}

	if err := w.session.Mint(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second mint err = %v, want ErrBusy", err)
	}

	close(w.signer.block)
	if err := <-first; err != nil {
		t.Fatalf("first mint: %v", err)
	}
	if w.session.State() != StateConnected {
		t.Fatalf("state = %s after action settled", w.session.State())
	}
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	w := newWorld(t)
	w.fake.SetBalance(w.collateral, w.user, big.NewInt(500_0000000))
	w.connect(t)

	before := w.session.CurrentSnapshot()
	w.fake.SimulateError = "host panicked"

	err := w.session.Refresh(context.Background())
	if !errors.Is(err, ledger.ErrSimulationFailed) {
		t.Fatalf("err = %v, want ErrSimulationFailed", err)
	}
	if w.session.CurrentSnapshot() != before {
		t.Fatalf("failed refresh must not replace the snapshot")
	}
	if w.session.LastError() == "" {
		t.Fatalf("refresh failure not surfaced")
	}
}

func TestDisconnectClearsEverythingAndStopsRefresh(t *testing.T) {
	refreshes := make(chan error, 64)
	w := newWorld(t, func(cfg *Config) {
		cfg.RefreshInterval = 5 * time.Millisecond
		cfg.RefreshObserver = func(err error) { refreshes <- err }
	})
	w.connect(t)

	// wait for at least one periodic cycle
	select {
	case <-refreshes:
	case <-time.After(2 * time.Second):
		t.Fatalf("periodic refresh never fired")
	}

	w.session.Disconnect()
	if w.session.CurrentSnapshot() != nil {
		t.Fatalf("snapshot must be discarded on disconnect")
	}
	if w.session.Account() != "" || w.session.State() != StateDisconnected {
		t.Fatalf("session still connected")
	}

	// drain anything already in flight, then verify silence
	time.Sleep(20 * time.Millisecond)
	for len(refreshes) > 0 {
		<-refreshes
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(refreshes); n != 0 {
		t.Fatalf("%d refresh cycles observed after disconnect", n)
	}
}

func TestConcurrentConnectStartsOneRefreshLoop(t *testing.T) {
	refreshes := make(chan error, 64)
	w := newWorld(t, func(cfg *Config) {
		cfg.RefreshInterval = 5 * time.Millisecond
		cfg.RefreshObserver = func(err error) { refreshes <- err }
	})
	w.signer.connectEntered = make(chan struct{}, 2)
	w.signer.connectGate = make(chan struct{})

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := w.session.Connect(context.Background())
			results <- err
		}()
	}

	// hold both attempts inside the signer, then release them together
	<-w.signer.connectEntered
	<-w.signer.connectEntered
	close(w.signer.connectGate)
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	if w.session.Account() != w.user {
		t.Fatalf("account = %s after concurrent connects", w.session.Account())
	}

	select {
	case <-refreshes:
	case <-time.After(2 * time.Second):
		t.Fatalf("periodic refresh never fired")
	}

	// disconnect must silence every loop, not just the latest one
	w.session.Disconnect()
	time.Sleep(20 * time.Millisecond)
	for len(refreshes) > 0 {
		<-refreshes
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(refreshes); n != 0 {
		t.Fatalf("%d refresh cycles observed after disconnect", n)
	}
}

func TestRefreshWhileDisconnectedRejected(t *testing.T) {
	w := newWorld(t)
	if err := w.session.Refresh(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestExchangeRate(t *testing.T) {
	if got := (&Snapshot{}).ExchangeRate(); got != "1.000000" {
		t.Fatalf("empty snapshot rate = %q", got)
	}
	snap := &Snapshot{
		Reserve:     big.NewInt(150_0000000),
		TotalSupply: big.NewInt(100_0000000),
	}
	if got := snap.ExchangeRate(); got != "1.500000" {
		t.Fatalf("rate = %q, want 1.500000", got)
	}
	var none *Snapshot
	if got := none.ExchangeRate(); got != "1.000000" {
		t.Fatalf("nil snapshot rate = %q", got)
	}
}
