package ledger

import (
	"fmt"
	"math/big"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// Value is the closed set of host-level results a contract call can return
// through this client. Downstream code switches on Kind and never sees the
// ledger's native value encoding.
type Value struct {
	Kind    ValueKind
	Int     *big.Int
	Address string
}

type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueInt
	ValueAddress
)

// BigInt returns the integer payload, if any.
func (v Value) BigInt() (*big.Int, bool) {
	if v.Kind != ValueInt || v.Int == nil {
		return nil, false
	}
	return v.Int, true
}

// Uint32 narrows an integer value, reporting false when it does not fit.
func (v Value) Uint32() (uint32, bool) {
	i, ok := v.BigInt()
	if !ok || i.Sign() < 0 || !i.IsUint64() || i.Uint64() > 1<<32-1 {
		return 0, false
	}
	return uint32(i.Uint64()), true
}

// IsNull reports a call with no return value.
func (v Value) IsNull() bool { return v.Kind == ValueNull }

// Arg is one contract-call argument. Arguments are typed at the call site
// with I128, U32 or Address and converted to the wire encoding inside the
// client, so callers never touch xdr.
type Arg struct {
	kind argKind
	num  *big.Int
	u32  uint32
	addr string
}

type argKind int

const (
	argI128 argKind = iota
	argU32
	argAddress
)

// I128 wraps a signed 128-bit amount argument.
func I128(v *big.Int) Arg { return Arg{kind: argI128, num: v} }

// U32 wraps an unsigned 32-bit argument (ledger sequences, expirations).
func U32(v uint32) Arg { return Arg{kind: argU32, u32: v} }

// Address wraps an account or contract identifier argument.
func Address(addr string) Arg { return Arg{kind: argAddress, addr: addr} }

func (a Arg) scVal() (xdr.ScVal, error) {
	switch a.kind {
	case argI128:
		parts, err := i128Parts(a.num)
		if err != nil {
			return xdr.ScVal{}, err
		}
		return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}, nil
	case argU32:
		u := xdr.Uint32(a.u32)
		return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}, nil
	case argAddress:
		sc, err := scAddress(a.addr)
		if err != nil {
			return xdr.ScVal{}, err
		}
		return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &sc}, nil
	}
	return xdr.ScVal{}, fmt.Errorf("unknown argument kind %d", a.kind)
}

var (
	i128Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	i128Min = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	mask64  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))
	mask128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

func i128Parts(v *big.Int) (xdr.Int128Parts, error) {
	if v == nil {
		v = new(big.Int)
	}
	if v.Cmp(i128Min) < 0 || v.Cmp(i128Max) > 0 {
		return xdr.Int128Parts{}, fmt.Errorf("amount %s out of i128 range", v)
	}
	// big.Int bitwise ops act on the infinite two's-complement form, so
	// masking to 128 bits handles negatives directly.
	tc := new(big.Int).And(v, mask128)
	hi := new(big.Int).Rsh(tc, 64).Uint64()
	lo := new(big.Int).And(tc, mask64).Uint64()
	return xdr.Int128Parts{Hi: xdr.Int64(int64(hi)), Lo: xdr.Uint64(lo)}, nil
}

func i128ToBig(parts xdr.Int128Parts) *big.Int {
	v := big.NewInt(int64(parts.Hi))
	v.Lsh(v, 64)
	return v.Add(v, new(big.Int).SetUint64(uint64(parts.Lo)))
}

func scAddress(addr string) (xdr.ScAddress, error) {
	if strkey.IsValidEd25519PublicKey(addr) {
		aid, err := xdr.AddressToAccountId(addr)
		if err != nil {
			return xdr.ScAddress{}, fmt.Errorf("parse account %q: %w", addr, err)
		}
		return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &aid}, nil
	}
	raw, err := strkey.Decode(strkey.VersionByteContract, addr)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("parse contract %q: %w", addr, err)
	}
	var h xdr.Hash
	copy(h[:], raw)
	return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &h}, nil
}

func scAddressString(sc xdr.ScAddress) (string, error) {
	switch sc.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if sc.AccountId == nil {
			return "", fmt.Errorf("account address without account id")
		}
		return sc.AccountId.Address(), nil
	case xdr.ScAddressTypeScAddressTypeContract:
		if sc.ContractId == nil {
			return "", fmt.Errorf("contract address without contract id")
		}
		return strkey.Encode(strkey.VersionByteContract, sc.ContractId[:])
	}
	return "", fmt.Errorf("unsupported address type %v", sc.Type)
}

// valueFromScVal decodes the ledger's native encoding into the closed Value
// variant. Anything outside the contract surface we invoke is an error, not
// a silent null.
func valueFromScVal(sv xdr.ScVal) (Value, error) {
	switch sv.Type {
	case xdr.ScValTypeScvVoid:
		return Value{Kind: ValueNull}, nil
	case xdr.ScValTypeScvI128:
		if sv.I128 == nil {
			return Value{}, fmt.Errorf("i128 value without payload")
		}
		return Value{Kind: ValueInt, Int: i128ToBig(*sv.I128)}, nil
	case xdr.ScValTypeScvU32:
		if sv.U32 == nil {
			return Value{}, fmt.Errorf("u32 value without payload")
		}
		return Value{Kind: ValueInt, Int: new(big.Int).SetUint64(uint64(*sv.U32))}, nil
	case xdr.ScValTypeScvI32:
		if sv.I32 == nil {
			return Value{}, fmt.Errorf("i32 value without payload")
		}
		return Value{Kind: ValueInt, Int: big.NewInt(int64(*sv.I32))}, nil
	case xdr.ScValTypeScvU64:
		if sv.U64 == nil {
			return Value{}, fmt.Errorf("u64 value without payload")
		}
		return Value{Kind: ValueInt, Int: new(big.Int).SetUint64(uint64(*sv.U64))}, nil
	case xdr.ScValTypeScvI64:
		if sv.I64 == nil {
			return Value{}, fmt.Errorf("i64 value without payload")
		}
		return Value{Kind: ValueInt, Int: big.NewInt(int64(*sv.I64))}, nil
	case xdr.ScValTypeScvAddress:
		if sv.Address == nil {
			return Value{}, fmt.Errorf("address value without payload")
		}
		addr, err := scAddressString(*sv.Address)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueAddress, Address: addr}, nil
	}
	return Value{}, fmt.Errorf("unsupported return value type %v", sv.Type)
}
