package account

import (
	"math/big"
)

// TokenBalance is the non-negative split representation of a signed
// token balance: net = Available - Debt. After every mutation at most
// one of the two is nonzero; AddBalance nets incoming deltas against the
// opposing side before persisting.
type TokenBalance struct {
	Available *big.Int
	Debt      *big.Int
}

func newTokenBalance() TokenBalance {
	return TokenBalance{Available: new(big.Int), Debt: new(big.Int)}
}

// Net returns Available - Debt.
func (b *TokenBalance) Net() *big.Int {
	return new(big.Int).Sub(b.Available, b.Debt)
}

// IsZero reports whether both sides are exactly zero.
func (b *TokenBalance) IsZero() bool {
	return b.Available.Sign() == 0 && b.Debt.Sign() == 0
}

// apply nets a signed delta into the split representation. A positive
// delta pays down debt first, spilling into available; a negative delta
// consumes available first, the excess becoming debt.
func (b *TokenBalance) apply(delta *big.Int) {
	if delta.Sign() >= 0 {
		rest := new(big.Int).Set(delta)
		if b.Debt.Sign() > 0 {
			if rest.Cmp(b.Debt) >= 0 {
				rest.Sub(rest, b.Debt)
				b.Debt.SetInt64(0)
			} else {
				b.Debt.Sub(b.Debt, rest)
				rest.SetInt64(0)
			}
		}
		b.Available.Add(b.Available, rest)
	} else {
		rest := new(big.Int).Neg(delta)
		if b.Available.Cmp(rest) >= 0 {
			b.Available.Sub(b.Available, rest)
		} else {
			rest.Sub(rest, b.Available)
			b.Available.SetInt64(0)
			b.Debt.Add(b.Debt, rest)
		}
	}
	b.assertExclusive()
}

// mint borrows fresh tokens: the amount is credited to available and
// recorded as debt, leaving the net balance unchanged. Both sides are
// transiently nonzero until the settlement's closing reconcile.
func (b *TokenBalance) mint(amount *big.Int) {
	if amount.Sign() < 0 {
		panic("FATAL: account: negative mint")
	}
	b.Available.Add(b.Available, amount)
	b.Debt.Add(b.Debt, amount)
}

// reconcile nets available against debt in place and returns the burned
// amount.
func (b *TokenBalance) reconcile() *big.Int {
	burned := new(big.Int)
	if b.Available.Sign() > 0 && b.Debt.Sign() > 0 {
		if b.Available.Cmp(b.Debt) >= 0 {
			burned.Set(b.Debt)
			b.Available.Sub(b.Available, b.Debt)
			b.Debt.SetInt64(0)
		} else {
			burned.Set(b.Available)
			b.Debt.Sub(b.Debt, b.Available)
			b.Available.SetInt64(0)
		}
	}
	b.assertExclusive()
	return burned
}

func (b *TokenBalance) assertExclusive() {
	if b.Available.Sign() < 0 || b.Debt.Sign() < 0 {
		panic("FATAL: account: negative balance magnitude")
	}
	if b.Available.Sign() > 0 && b.Debt.Sign() > 0 {
		panic("FATAL: account: available and debt both nonzero after reconciliation")
	}
}

func (b *TokenBalance) clone() TokenBalance {
	return TokenBalance{
		Available: new(big.Int).Set(b.Available),
		Debt:      new(big.Int).Set(b.Debt),
	}
}
