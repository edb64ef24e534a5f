package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
)

func newFakeWorld(t *testing.T) (*FakeRPC, *Client, string, string, string) {
	t.Helper()
	collateral := testContractID(t, 0x0C)
	issued := testContractID(t, 0x0D)
	user := keypair.MustRandom().Address()

	fake := NewFakeRPC(collateral, issued)
	client, err := NewClient(ClientConfig{
		RPC:               fake,
		NetworkPassphrase: network.TestNetworkPassphrase,
		Sleep:             func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return fake, client, collateral, issued, user
}

func TestFakeReadBalanceAndDecimals(t *testing.T) {
	fake, client, collateral, _, user := newFakeWorld(t)
	fake.SetBalance(collateral, user, big.NewInt(500_0000000))

	v, err := client.ReadContractValue(context.Background(), Call{
		Contract: collateral,
		Method:   "balance",
		Args:     []Arg{Address(user)},
		Source:   user,
	})
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if i, ok := v.BigInt(); !ok || i.Cmp(big.NewInt(500_0000000)) != 0 {
		t.Fatalf("balance = %+v", v)
	}

	v, err = client.ReadContractValue(context.Background(), Call{
		Contract: collateral,
		Method:   "decimals",
		Source:   user,
	})
	if err != nil {
		t.Fatalf("read decimals: %v", err)
	}
	if d, ok := v.Uint32(); !ok || d != 7 {
		t.Fatalf("decimals = %+v", v)
	}
}

func TestFakeApproveMintBurnFlow(t *testing.T) {
	fake, client, collateral, issued, user := newFakeWorld(t)
	fake.SetBalance(collateral, user, big.NewInt(100_0000000))

	ctx := context.Background()
	amount := big.NewInt(60_0000000)

	_, err := client.SubmitContractCall(ctx, Call{
		Contract: collateral,
		Method:   "approve",
		Args:     []Arg{Address(user), Address(issued), I128(amount), U32(101_000)},
		Source:   user,
	}, passthroughSign)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := fake.Allowance(user, issued); got.Cmp(amount) != 0 {
		t.Fatalf("allowance after approve = %s", got)
	}

	_, err = client.SubmitContractCall(ctx, Call{
		Contract: issued,
		Method:   "mint",
		Args:     []Arg{Address(user), I128(amount)},
		Source:   user,
	}, passthroughSign)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if got := fake.Balance(issued, user); got.Cmp(amount) != 0 {
		t.Fatalf("issued balance after mint = %s", got)
	}
	if got := fake.Balance(collateral, user); got.Cmp(big.NewInt(40_0000000)) != 0 {
		t.Fatalf("collateral balance after mint = %s", got)
	}
	if got := fake.Balance(collateral, issued); got.Cmp(amount) != 0 {
		t.Fatalf("reserve after mint = %s", got)
	}
	// allowance is consumed monotonically
	if got := fake.Allowance(user, issued); got.Sign() != 0 {
		t.Fatalf("allowance after mint = %s, want 0", got)
	}

	_, err = client.SubmitContractCall(ctx, Call{
		Contract: issued,
		Method:   "burn",
		Args:     []Arg{Address(user), I128(amount)},
		Source:   user,
	}, passthroughSign)
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := fake.Balance(collateral, user); got.Cmp(big.NewInt(100_0000000)) != 0 {
		t.Fatalf("collateral balance after burn = %s", got)
	}
	if got := fake.Balance(issued, user); got.Sign() != 0 {
		t.Fatalf("issued balance after burn = %s", got)
	}
}

func TestFakeMintWithoutAllowanceFails(t *testing.T) {
	fake, client, collateral, issued, user := newFakeWorld(t)
	fake.SetBalance(collateral, user, big.NewInt(100_0000000))

	_, err := client.SubmitContractCall(context.Background(), Call{
		Contract: issued,
		Method:   "mint",
		Args:     []Arg{Address(user), I128(big.NewInt(10_0000000))},
		Source:   user,
	}, passthroughSign)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
}
