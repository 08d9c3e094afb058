package perpmath

import (
	"math/big"

	ui "github.com/holiman/uint256"
)

// Q96 and Q128 are the binary fixed-point scales used across the engine:
// sqrt prices are Q64.96, fee-growth accumulators are X128.
var (
	Q96  = ui.MustFromHex("0x1000000000000000000000000")
	Q128 = ui.MustFromHex("0x100000000000000000000000000000000")

	// WeiPerEther is the canonical 1e18 amount scale.
	WeiPerEther = big.NewInt(1_000_000_000_000_000_000)

	// FeeDenominator: fee ratios are expressed in parts-per-million.
	FeeDenominator = uint64(1_000_000)
)

// MulDiv computes floor(a * b / denominator) with a 512-bit intermediate.
// The result is truncated mod 2^256, matching accumulator wraparound
// semantics. Panics on zero denominator.
func MulDiv(a, b, denominator *ui.Int) *ui.Int {
	if denominator.IsZero() {
		panic("FATAL: perpmath: MulDiv by zero")
	}
	prod := new(big.Int).Mul(a.ToBig(), b.ToBig())
	prod.Quo(prod, denominator.ToBig())
	out := new(ui.Int)
	out.SetFromBig(prod)
	return out
}

// MulDivRoundingUp computes ceil(a * b / denominator).
func MulDivRoundingUp(a, b, denominator *ui.Int) *ui.Int {
	if denominator.IsZero() {
		panic("FATAL: perpmath: MulDivRoundingUp by zero")
	}
	prod := new(big.Int).Mul(a.ToBig(), b.ToBig())
	quo, rem := new(big.Int).QuoRem(prod, denominator.ToBig(), new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	out := new(ui.Int)
	out.SetFromBig(quo)
	return out
}

// DivRoundingUp computes ceil(a / denominator).
func DivRoundingUp(a, denominator *ui.Int) *ui.Int {
	quo := new(ui.Int)
	rem := new(ui.Int)
	quo.DivMod(a, denominator, rem)
	if !rem.IsZero() {
		quo.AddUint64(quo, 1)
	}
	return quo
}

// WrappingSub computes a - b mod 2^256. Fee-growth accumulators rely on
// modular subtraction so that a wrapped accumulator never loses credit.
func WrappingSub(a, b *ui.Int) *ui.Int {
	return new(ui.Int).Sub(a, b)
}

// ToBig converts an unsigned amount to a signed big.Int.
func ToBig(a *ui.Int) *big.Int {
	return a.ToBig()
}

// FromBig converts a non-negative big.Int into a uint256.
// Panics if the value is negative or exceeds 256 bits.
func FromBig(a *big.Int) *ui.Int {
	if a.Sign() < 0 {
		panic("FATAL: perpmath: FromBig on negative value")
	}
	out, overflow := ui.FromBig(a)
	if overflow {
		panic("FATAL: perpmath: FromBig overflow")
	}
	return out
}

// BigMulDiv computes floor(a * b / denominator) on signed big.Ints with
// truncation toward zero, matching the unsigned MulDiv on magnitudes.
func BigMulDiv(a, b, denominator *big.Int) *big.Int {
	if denominator.Sign() == 0 {
		panic("FATAL: perpmath: BigMulDiv by zero")
	}
	prod := new(big.Int).Mul(a, b)
	return prod.Quo(prod, denominator)
}

// BigAbs returns |a| as a fresh big.Int.
func BigAbs(a *big.Int) *big.Int {
	return new(big.Int).Abs(a)
}

// BigNeg returns -a as a fresh big.Int.
func BigNeg(a *big.Int) *big.Int {
	return new(big.Int).Neg(a)
}
