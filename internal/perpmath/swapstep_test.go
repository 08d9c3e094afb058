package perpmath

import (
	"testing"

	ui "github.com/holiman/uint256"
)

func testLiquidity() *ui.Int {
	return ui.MustFromDecimal("884690658835870366575")
}

func TestComputeSwapStepExactInWithinRange(t *testing.T) {
	sp, _ := SqrtRatioAtTick(50200)
	target, _ := SqrtRatioAtTick(100000)
	amount := ui.MustFromDecimal("1000000000000000000")

	step := ComputeSwapStep(sp, target, testLiquidity(), amount, true, 10000)

	if !step.SqrtPriceNext.Gt(sp) {
		t.Error("quote input must move the price up")
	}
	if step.SqrtPriceNext.Gt(target) {
		t.Error("price must not pass the target")
	}
	// The full input is consumed: amountIn + fee == amount.
	consumed := new(ui.Int).Add(step.AmountIn, step.FeeAmount)
	if !consumed.Eq(amount) {
		t.Errorf("amountIn+fee = %s, want %s", consumed.Dec(), amount.Dec())
	}
	// 1% fee on the input.
	wantFee := ui.MustFromDecimal("10000000000000000")
	if !step.FeeAmount.Eq(wantFee) {
		t.Errorf("fee = %s, want %s", step.FeeAmount.Dec(), wantFee.Dec())
	}
	if step.AmountOut.IsZero() {
		t.Error("expected nonzero output")
	}
}

func TestComputeSwapStepExactInReachesTarget(t *testing.T) {
	sp, _ := SqrtRatioAtTick(50200)
	target, _ := SqrtRatioAtTick(50210)
	// Far more input than the narrow span can absorb.
	amount := ui.MustFromDecimal("1000000000000000000000000")

	step := ComputeSwapStep(sp, target, testLiquidity(), amount, true, 10000)

	if !step.SqrtPriceNext.Eq(target) {
		t.Errorf("price = %s, want target %s", step.SqrtPriceNext.Dec(), target.Dec())
	}
	consumed := new(ui.Int).Add(step.AmountIn, step.FeeAmount)
	if !consumed.Lt(amount) {
		t.Error("partial fill must not consume the whole input")
	}
	// Fee is ceil(amountIn * pips / (denom - pips)) on a partial fill.
	wantFee := MulDivRoundingUp(step.AmountIn, ui.NewInt(10000), ui.NewInt(990000))
	if !step.FeeAmount.Eq(wantFee) {
		t.Errorf("fee = %s, want %s", step.FeeAmount.Dec(), wantFee.Dec())
	}
}

func TestComputeSwapStepExactOut(t *testing.T) {
	sp, _ := SqrtRatioAtTick(50200)
	target, _ := SqrtRatioAtTick(100000)
	out := ui.MustFromDecimal("1000000000000000000")

	step := ComputeSwapStep(sp, target, testLiquidity(), out, false, 0)

	if !step.AmountOut.Eq(out) {
		t.Errorf("amountOut = %s, want %s", step.AmountOut.Dec(), out.Dec())
	}
	if step.AmountIn.IsZero() {
		t.Error("expected nonzero input")
	}
	if !step.FeeAmount.IsZero() {
		t.Errorf("fee-free step charged %s", step.FeeAmount.Dec())
	}
}

func TestAmountDeltaRounding(t *testing.T) {
	sa, _ := SqrtRatioAtTick(50200)
	sb, _ := SqrtRatioAtTick(50300)
	l := testLiquidity()

	up := QuoteAmountDelta(sa, sb, l, true)
	down := QuoteAmountDelta(sa, sb, l, false)
	if up.Lt(down) {
		t.Error("round-up quote delta smaller than round-down")
	}
	diff := new(ui.Int).Sub(up, down)
	if diff.GtUint64(1) {
		t.Errorf("rounding divergence %s > 1", diff.Dec())
	}

	bup := BaseAmountDelta(sa, sb, l, true)
	bdown := BaseAmountDelta(sa, sb, l, false)
	if bup.Lt(bdown) {
		t.Error("round-up base delta smaller than round-down")
	}
}

func TestNextSqrtPriceDirections(t *testing.T) {
	sp, _ := SqrtRatioAtTick(50200)
	l := testLiquidity()
	amt := ui.MustFromDecimal("1000000000000000000")

	if next := NextSqrtPriceFromInput(sp, l, amt, true); !next.Lt(sp) {
		t.Error("base input must push the price down")
	}
	if next := NextSqrtPriceFromInput(sp, l, amt, false); !next.Gt(sp) {
		t.Error("quote input must push the price up")
	}
	if next := NextSqrtPriceFromOutput(sp, l, amt, true); !next.Lt(sp) {
		t.Error("paying out quote must push the price down")
	}
	if next := NextSqrtPriceFromOutput(sp, l, amt, false); !next.Gt(sp) {
		t.Error("paying out base must push the price up")
	}
}

func TestLiquidityForAmountsTakesSmallerSide(t *testing.T) {
	// Pool initialized at price 151.373306858723226652, which lands
	// inside tick 50200 but not exactly on its boundary ratio.
	cur := ui.MustFromDecimal("974774664819573627711176820911")
	sa, _ := SqrtRatioAtTick(0)
	sb, _ := SqrtRatioAtTick(100000)

	base := ui.MustFromDecimal("65943787000000000000")
	quote := ui.MustFromDecimal("10000000000000000000000")

	l := LiquidityForAmounts(cur, sa, sb, base, quote)
	want := ui.MustFromDecimal("884690658835870366575")
	if !l.Eq(want) {
		t.Errorf("liquidity = %s, want %s", l.Dec(), want.Dec())
	}

	// Charging that liquidity back must not exceed either input amount.
	gotBase, gotQuote := AmountsForLiquidity(cur, sa, sb, l, true)
	if gotBase.Gt(base) {
		t.Errorf("base charged %s exceeds offered %s", gotBase.Dec(), base.Dec())
	}
	if gotQuote.Gt(quote) {
		t.Errorf("quote charged %s exceeds offered %s", gotQuote.Dec(), quote.Dec())
	}
}
