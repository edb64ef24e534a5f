// Package amount converts between human-typed decimal strings and the
// fixed-point integer amounts carried on chain. The precision (decimals) is
// supplied by the token contract, not hardcoded here.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidAmount reports input that is not a plain decimal number.
var ErrInvalidAmount = errors.New("invalid amount")

func pow10(decimals uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Format renders an integer amount as a decimal string at the given
// precision. Trailing zeros in the fraction are stripped; a "-" prefix is
// emitted only for negative nonzero values.
func Format(v *big.Int, decimals uint32) string {
	if v == nil {
		return "0"
	}
	negative := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	base := pow10(decimals)

	whole, fraction := new(big.Int).QuoRem(abs, base, new(big.Int))
	fractionStr := fraction.String()
	if pad := int(decimals) - len(fractionStr); pad > 0 {
		fractionStr = strings.Repeat("0", pad) + fractionStr
	}
	fractionStr = strings.TrimRight(fractionStr, "0")

	formatted := whole.String()
	if fractionStr != "" {
		formatted = whole.String() + "." + fractionStr
	}
	if negative && abs.Sign() != 0 {
		return "-" + formatted
	}
	return formatted
}

// Parse converts a decimal string to an integer amount at the given
// precision. Whitespace is trimmed and an empty string parses to zero.
// Fractional digits beyond the precision are truncated, never rounded:
// rounding here would change the amount sent on chain.
func Parse(input string, decimals uint32) (*big.Int, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return new(big.Int), nil
	}

	negative := strings.HasPrefix(trimmed, "-")
	sanitized := strings.TrimPrefix(trimmed, "-")

	wholePart, fracPart, _ := strings.Cut(sanitized, ".")
	if !digitsOnly(wholePart) || !digitsOnly(fracPart) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}

	whole := new(big.Int)
	if wholePart != "" {
		whole.SetString(wholePart, 10)
	}

	padded := fracPart
	for uint32(len(padded)) < decimals {
		padded += "0"
	}
	padded = padded[:decimals]

	fraction := new(big.Int)
	if padded != "" {
		fraction.SetString(padded, 10)
	}

	value := whole.Mul(whole, pow10(decimals))
	value.Add(value, fraction)
	if negative {
		value.Neg(value)
	}
	return value, nil
}

// digitsOnly reports whether s consists solely of ASCII digits. The empty
// string counts as valid so "12." and ".5" both parse.
func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Shorten abbreviates a long identifier for display, e.g. "GBXN...K2QM".
// Never use the result for comparisons.
func Shorten(id string, width int) string {
	if id == "" {
		return ""
	}
	if width <= 0 || len(id) <= 2*width {
		return id
	}
	return id[:width] + "..." + id[len(id)-width:]
}
