package perpmath

import (
	ui "github.com/holiman/uint256"
)

// LiquidityForBase returns the liquidity purchasable with the given base
// amount over [sqrtA, sqrtB]: amount * (sqrtA * sqrtB / Q96) / (sqrtB - sqrtA).
func LiquidityForBase(sqrtA, sqrtB, amount *ui.Int) *ui.Int {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	intermediate := MulDiv(sqrtA, sqrtB, Q96)
	return MulDiv(amount, intermediate, new(ui.Int).Sub(sqrtB, sqrtA))
}

// LiquidityForQuote returns the liquidity purchasable with the given
// quote amount over [sqrtA, sqrtB]: amount * Q96 / (sqrtB - sqrtA).
func LiquidityForQuote(sqrtA, sqrtB, amount *ui.Int) *ui.Int {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	return MulDiv(amount, Q96, new(ui.Int).Sub(sqrtB, sqrtA))
}

// LiquidityForAmounts returns the maximum liquidity mintable without
// exceeding either amount. When the current price is below the range only
// base is consumed; above it only quote; inside it, both, and the smaller
// implied liquidity wins.
func LiquidityForAmounts(sqrtCurrent, sqrtA, sqrtB, amountBase, amountQuote *ui.Int) *ui.Int {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	switch {
	case !sqrtCurrent.Gt(sqrtA):
		return LiquidityForBase(sqrtA, sqrtB, amountBase)
	case sqrtCurrent.Lt(sqrtB):
		l0 := LiquidityForBase(sqrtCurrent, sqrtB, amountBase)
		l1 := LiquidityForQuote(sqrtA, sqrtCurrent, amountQuote)
		if l0.Lt(l1) {
			return l0
		}
		return l1
	default:
		return LiquidityForQuote(sqrtA, sqrtB, amountQuote)
	}
}

// AmountsForLiquidity returns the base and quote owed for the given
// liquidity over [sqrtA, sqrtB] at the current price. roundUp is set when
// charging a minter, clear when paying a burner.
func AmountsForLiquidity(sqrtCurrent, sqrtA, sqrtB, liquidity *ui.Int, roundUp bool) (amountBase, amountQuote *ui.Int) {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	amountBase = ui.NewInt(0)
	amountQuote = ui.NewInt(0)
	switch {
	case !sqrtCurrent.Gt(sqrtA):
		amountBase = BaseAmountDelta(sqrtA, sqrtB, liquidity, roundUp)
	case sqrtCurrent.Lt(sqrtB):
		amountBase = BaseAmountDelta(sqrtCurrent, sqrtB, liquidity, roundUp)
		amountQuote = QuoteAmountDelta(sqrtA, sqrtCurrent, liquidity, roundUp)
	default:
		amountQuote = QuoteAmountDelta(sqrtA, sqrtB, liquidity, roundUp)
	}
	return amountBase, amountQuote
}
