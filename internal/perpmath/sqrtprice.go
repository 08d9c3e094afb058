package perpmath

import (
	"math/big"

	ui "github.com/holiman/uint256"
)

// The pool is base/quote: amount0 is the base token, amount1 the quote
// token. Price (quote per base) rises when base is bought.

// BaseAmountDelta returns the base owed between two sqrt prices for the
// given liquidity: liquidity * (sqrtB - sqrtA) / (sqrtA * sqrtB).
func BaseAmountDelta(sqrtA, sqrtB, liquidity *ui.Int, roundUp bool) *ui.Int {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	numerator1 := new(ui.Int).Lsh(liquidity, 96)
	numerator2 := new(ui.Int).Sub(sqrtB, sqrtA)
	if sqrtA.IsZero() {
		panic("FATAL: perpmath: zero sqrt price")
	}
	if roundUp {
		return DivRoundingUp(MulDivRoundingUp(numerator1, numerator2, sqrtB), sqrtA)
	}
	return new(ui.Int).Div(MulDiv(numerator1, numerator2, sqrtB), sqrtA)
}

// QuoteAmountDelta returns the quote owed between two sqrt prices:
// liquidity * (sqrtB - sqrtA) / Q96.
func QuoteAmountDelta(sqrtA, sqrtB, liquidity *ui.Int, roundUp bool) *ui.Int {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	diff := new(ui.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return MulDivRoundingUp(liquidity, diff, Q96)
	}
	return MulDiv(liquidity, diff, Q96)
}

// NextSqrtPriceFromInput returns the price after swapping amountIn of the
// input token, rounded so the pool never gives out more than it should.
func NextSqrtPriceFromInput(sqrtPrice, liquidity, amountIn *ui.Int, baseForQuote bool) *ui.Int {
	if baseForQuote {
		return nextSqrtPriceFromBase(sqrtPrice, liquidity, amountIn, true)
	}
	return nextSqrtPriceFromQuote(sqrtPrice, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput returns the price after the pool pays out
// amountOut of the output token.
func NextSqrtPriceFromOutput(sqrtPrice, liquidity, amountOut *ui.Int, baseForQuote bool) *ui.Int {
	if baseForQuote {
		return nextSqrtPriceFromQuote(sqrtPrice, liquidity, amountOut, false)
	}
	return nextSqrtPriceFromBase(sqrtPrice, liquidity, amountOut, false)
}

// nextSqrtPriceFromBase solves for the price after adding (or removing)
// base: ceil(L * sqrtP * Q96 / (L * Q96 ± amount * sqrtP)). Computed with
// arbitrary-precision intermediates so no overflow branch is needed.
func nextSqrtPriceFromBase(sqrtPrice, liquidity, amount *ui.Int, add bool) *ui.Int {
	if amount.IsZero() {
		return new(ui.Int).Set(sqrtPrice)
	}
	numerator1 := new(big.Int).Lsh(liquidity.ToBig(), 96)
	product := new(big.Int).Mul(amount.ToBig(), sqrtPrice.ToBig())

	denominator := new(big.Int)
	if add {
		denominator.Add(numerator1, product)
	} else {
		if numerator1.Cmp(product) < 0 {
			panic("FATAL: perpmath: base output exceeds reserves")
		}
		denominator.Sub(numerator1, product)
	}

	quo, rem := new(big.Int).QuoRem(
		new(big.Int).Mul(numerator1, sqrtPrice.ToBig()), denominator, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return FromBig(quo)
}

// nextSqrtPriceFromQuote moves the price by amount/L: rounding down when
// adding quote, up when removing it.
func nextSqrtPriceFromQuote(sqrtPrice, liquidity, amount *ui.Int, add bool) *ui.Int {
	if add {
		quotient := MulDiv(amount, Q96, liquidity)
		return new(ui.Int).Add(sqrtPrice, quotient)
	}
	quotient := MulDivRoundingUp(amount, Q96, liquidity)
	if sqrtPrice.Lt(quotient) {
		panic("FATAL: perpmath: quote output exceeds reserves")
	}
	return new(ui.Int).Sub(sqrtPrice, quotient)
}
