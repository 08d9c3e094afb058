package perpmath

import (
	ui "github.com/holiman/uint256"
)

// SwapStep is the result of swapping within a single liquidity range up
// to a target price or until the remaining amount is exhausted.
type SwapStep struct {
	SqrtPriceNext *ui.Int
	AmountIn      *ui.Int // input-token amount consumed, fee excluded
	AmountOut     *ui.Int // output-token amount produced
	FeeAmount     *ui.Int // fee charged on the input token
}

// ComputeSwapStep advances the price toward sqrtPriceTarget given the
// active liquidity and the amount remaining. exactIn selects whether
// amountRemaining is an input or a desired output. feePips is the fee
// ratio in parts-per-million, charged on the input side; callers that
// charge fees on the quote leg of a base-input swap pass feePips == 0
// and net the fee out of AmountOut themselves.
func ComputeSwapStep(sqrtPriceCurrent, sqrtPriceTarget, liquidity, amountRemaining *ui.Int, exactIn bool, feePips uint64) SwapStep {
	baseForQuote := !sqrtPriceCurrent.Lt(sqrtPriceTarget)

	var step SwapStep
	var reachedTarget bool

	if exactIn {
		remainingLessFee := MulDiv(amountRemaining, ui.NewInt(FeeDenominator-feePips), ui.NewInt(FeeDenominator))
		if baseForQuote {
			step.AmountIn = BaseAmountDelta(sqrtPriceTarget, sqrtPriceCurrent, liquidity, true)
		} else {
			step.AmountIn = QuoteAmountDelta(sqrtPriceCurrent, sqrtPriceTarget, liquidity, true)
		}
		if !remainingLessFee.Lt(step.AmountIn) {
			step.SqrtPriceNext = new(ui.Int).Set(sqrtPriceTarget)
			reachedTarget = true
		} else {
			step.SqrtPriceNext = NextSqrtPriceFromInput(sqrtPriceCurrent, liquidity, remainingLessFee, baseForQuote)
		}
	} else {
		if baseForQuote {
			step.AmountOut = QuoteAmountDelta(sqrtPriceTarget, sqrtPriceCurrent, liquidity, false)
		} else {
			step.AmountOut = BaseAmountDelta(sqrtPriceCurrent, sqrtPriceTarget, liquidity, false)
		}
		if !amountRemaining.Lt(step.AmountOut) {
			step.SqrtPriceNext = new(ui.Int).Set(sqrtPriceTarget)
			reachedTarget = true
		} else {
			step.SqrtPriceNext = NextSqrtPriceFromOutput(sqrtPriceCurrent, liquidity, amountRemaining, baseForQuote)
		}
	}

	if baseForQuote {
		if !(reachedTarget && exactIn) {
			step.AmountIn = BaseAmountDelta(step.SqrtPriceNext, sqrtPriceCurrent, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			step.AmountOut = QuoteAmountDelta(step.SqrtPriceNext, sqrtPriceCurrent, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			step.AmountIn = QuoteAmountDelta(sqrtPriceCurrent, step.SqrtPriceNext, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			step.AmountOut = BaseAmountDelta(sqrtPriceCurrent, step.SqrtPriceNext, liquidity, false)
		}
	}

	// Cap the output at what the caller asked for; rounding in the price
	// inversion can overshoot by a unit.
	if !exactIn && step.AmountOut.Gt(amountRemaining) {
		step.AmountOut = new(ui.Int).Set(amountRemaining)
	}

	if exactIn && !reachedTarget {
		// The whole remaining input is consumed; the difference is fee.
		step.FeeAmount = new(ui.Int).Sub(amountRemaining, step.AmountIn)
	} else {
		step.FeeAmount = MulDivRoundingUp(step.AmountIn, ui.NewInt(feePips), ui.NewInt(FeeDenominator-feePips))
	}
	return step
}
