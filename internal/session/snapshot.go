package session

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is one consistent view of the token pair, taken by a single
// refresh cycle. Snapshots are replaced whole, never patched.
type Snapshot struct {
	IssuedBalance     *big.Int // user's rUSD
	CollateralBalance *big.Int // user's USDC
	Allowance         *big.Int // USDC the issuer may pull
	Reserve           *big.Int // USDC held by the issuer contract
	TotalSupply       *big.Int // rUSD outstanding
	Decimals          uint32
	TakenAt           time.Time
}

// ExchangeRate renders the collateral backing one issued token, six fixed
// decimals. Until both sides are known it reports par.
func (s *Snapshot) ExchangeRate() string {
	if s == nil || s.Reserve == nil || s.TotalSupply == nil ||
		s.Reserve.Sign() == 0 || s.TotalSupply.Sign() == 0 {
		return "1.000000"
	}
	rate := decimal.NewFromBigInt(s.Reserve, 0).Div(decimal.NewFromBigInt(s.TotalSupply, 0))
	return rate.Truncate(6).StringFixed(6)
}
