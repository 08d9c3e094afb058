package pool

import (
	"errors"
	"math/big"
	"testing"

	ui "github.com/holiman/uint256"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/perpmath"
)

// Fixture pool: 1% fee, price 151.373306858723226652 (tick 50200), one
// maker over [0, 100000) funded with base 65.943787 / quote 10000.
const (
	fixtureSqrtPrice = "974774664819573627711176820911"
	fixtureLiquidity = "884690658835870366575"
)

func newFixturePool(t *testing.T) *Pool {
	t.Helper()
	p := New(10000)
	if err := p.Initialize(ui.MustFromDecimal(fixtureSqrtPrice), 1000); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, _, err := p.Mint(0, 100000, ui.MustFromDecimal(fixtureLiquidity)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return p
}

func TestInitializeOnce(t *testing.T) {
	p := New(10000)
	sp := ui.MustFromDecimal(fixtureSqrtPrice)
	if err := p.Initialize(sp, 0); err != nil {
		t.Fatal(err)
	}
	if got := p.CurrentTick(); got != 50200 {
		t.Errorf("tick = %d, want 50200", got)
	}
	if err := p.Initialize(sp, 0); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second initialize: %v, want ErrAlreadyInitialized", err)
	}
}

func TestMintAmounts(t *testing.T) {
	p := newFixturePool(t)

	if got := p.Liquidity(); !got.Eq(ui.MustFromDecimal(fixtureLiquidity)) {
		t.Errorf("active liquidity = %s", got.Dec())
	}

	// A second identical mint charges the same amounts.
	base, quote, err := p.Mint(0, 100000, ui.MustFromDecimal(fixtureLiquidity))
	if err != nil {
		t.Fatal(err)
	}
	if base.Dec() != "65943786079805109815" {
		t.Errorf("base owed = %s, want 65943786079805109815", base.Dec())
	}
	if quote.Dec() != "9999999999999999999990" {
		t.Errorf("quote owed = %s, want 9999999999999999999990", quote.Dec())
	}
}

func TestMintInvalidRange(t *testing.T) {
	p := newFixturePool(t)
	if _, _, err := p.Mint(100, 100, ui.NewInt(1)); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("empty range: %v, want ErrInvalidRange", err)
	}
	if _, _, err := p.Mint(200, 100, ui.NewInt(1)); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("inverted range: %v, want ErrInvalidRange", err)
	}
	if _, _, err := p.Mint(0, 100, ui.NewInt(0)); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("zero liquidity: %v, want ErrInvalidRange", err)
	}
}

func TestSwapExactInputQuote(t *testing.T) {
	p := newFixturePool(t)

	res, err := p.Swap(false, true, ui.MustFromDecimal("1000000000000000000"), nil, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if res.Base.String() != "-6539527905092835" {
		t.Errorf("base = %s, want -6539527905092835", res.Base)
	}
	if res.Quote.String() != "1000000000000000000" {
		t.Errorf("quote = %s, want 1000000000000000000", res.Quote)
	}
	if res.Fee.String() != "10000000000000000" {
		t.Errorf("fee = %s, want 10000000000000000", res.Fee)
	}
}

func TestSwapExactOutputBase(t *testing.T) {
	p := newFixturePool(t)

	res, err := p.Swap(false, false, ui.MustFromDecimal("1000000000000000000"), nil, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if res.Base.String() != "-1000000000000000000" {
		t.Errorf("base = %s, want -1000000000000000000", res.Base)
	}
	// Gross quote paid in: 153508143394151325059 principal plus fee.
	if res.Quote.String() != "155058730701162954606" {
		t.Errorf("quote = %s, want 155058730701162954606", res.Quote)
	}
	if res.Fee.String() != "1550587307011629547" {
		t.Errorf("fee = %s, want 1550587307011629547", res.Fee)
	}
}

func TestSwapRoundTrip(t *testing.T) {
	p := newFixturePool(t)

	long, err := p.Swap(false, false, ui.MustFromDecimal("1000000000000000000"), nil, 1001)
	if err != nil {
		t.Fatal(err)
	}
	short, err := p.Swap(true, true, ui.MustFromDecimal("1000000000000000000"), nil, 1002)
	if err != nil {
		t.Fatal(err)
	}
	net := new(big.Int).Add(long.Base, short.Base)
	if net.CmpAbs(big.NewInt(1)) > 0 {
		t.Errorf("round-trip base residue = %s, want within 1 unit", net)
	}
	if short.Quote.Sign() >= 0 {
		t.Error("short must receive quote")
	}
}

func TestSwapBaseToQuoteFeeNetted(t *testing.T) {
	p := newFixturePool(t)

	res, err := p.Swap(true, true, ui.MustFromDecimal("1000000000000000000"), nil, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if res.Base.String() != "1000000000000000000" {
		t.Errorf("base = %s, want 1000000000000000000", res.Base)
	}
	// Quote out is net of fee: |quote| + fee is the gross leg.
	gross := new(big.Int).Add(new(big.Int).Neg(res.Quote), res.Fee)
	wantFee := new(big.Int).Div(
		new(big.Int).Add(new(big.Int).Mul(gross, big.NewInt(10000)), big.NewInt(999999)),
		big.NewInt(1000000))
	diff := new(big.Int).Sub(res.Fee, wantFee)
	if diff.CmpAbs(big.NewInt(1)) > 0 {
		t.Errorf("fee = %s, want about 1%% of gross %s", res.Fee, gross)
	}
}

func TestSwapFeeGrowthAttribution(t *testing.T) {
	p := newFixturePool(t)

	res, err := p.Swap(false, true, ui.MustFromDecimal("1000000000000000000"), nil, 1001)
	if err != nil {
		t.Fatal(err)
	}

	growth := p.FeeGrowthInsideX128(0, 100000)
	earned := perpmath.MulDiv(growth, ui.MustFromDecimal(fixtureLiquidity), perpmath.Q128)
	diff := new(big.Int).Sub(res.Fee, earned.ToBig())
	if diff.Sign() < 0 || diff.Cmp(big.NewInt(1)) > 0 {
		t.Errorf("maker earned %s of fee %s, want within 1 unit under", earned.Dec(), res.Fee)
	}
}

func TestFeeGrowthInsideOutOfRange(t *testing.T) {
	p := newFixturePool(t)
	if _, _, err := p.Mint(60000, 100000, ui.MustFromDecimal("100000000000000000000")); err != nil {
		t.Fatal(err)
	}

	// Small swap stays well below tick 60000.
	if _, err := p.Swap(false, true, ui.MustFromDecimal("1000000000000000000"), nil, 1001); err != nil {
		t.Fatal(err)
	}

	if got := p.FeeGrowthInsideX128(60000, 100000); !got.IsZero() {
		t.Errorf("idle range accrued growth %s", got.Dec())
	}
	if got := p.FeeGrowthInsideX128(0, 100000); got.IsZero() {
		t.Error("active range accrued no growth")
	}
}

func TestBurnKeepsSharedBoundaryTick(t *testing.T) {
	p := New(10000)
	if err := p.Initialize(ui.MustFromDecimal(fixtureSqrtPrice), 1000); err != nil {
		t.Fatal(err)
	}
	l := ui.MustFromDecimal("100000000000000000000")
	if _, _, err := p.Mint(0, 50400, l); err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Mint(50400, 100000, l); err != nil {
		t.Fatal(err)
	}

	// Both ranges reference tick 50400; their net deltas cancel there.
	info := p.book.get(50400)
	if info == nil {
		t.Fatal("boundary tick not initialized")
	}
	if want := new(ui.Int).Lsh(l, 1); !info.LiquidityGross.Eq(want) {
		t.Errorf("gross = %s, want %s", info.LiquidityGross.Dec(), want.Dec())
	}
	if info.LiquidityNet.Sign() != 0 {
		t.Errorf("net = %s, want 0", info.LiquidityNet)
	}

	// A full burn of the lower range clears tick 0 but must leave the
	// shared boundary initialized for the surviving range.
	if _, _, err := p.Burn(0, 50400, l); err != nil {
		t.Fatal(err)
	}
	if p.book.get(0) != nil {
		t.Error("tick 0 still initialized after full burn")
	}
	info = p.book.get(50400)
	if info == nil {
		t.Fatal("boundary tick cleared while still referenced")
	}
	if !info.LiquidityGross.Eq(l) {
		t.Errorf("gross = %s, want %s", info.LiquidityGross.Dec(), l.Dec())
	}
	if info.LiquidityNet.Cmp(l.ToBig()) != 0 {
		t.Errorf("net = %s, want %s", info.LiquidityNet, l.Dec())
	}

	// An upward swap still picks up the surviving range's liquidity.
	if _, err := p.Swap(false, true, ui.MustFromDecimal("1000000000000000000"), nil, 1001); err != nil {
		t.Fatal(err)
	}
	if tick := p.CurrentTick(); tick < 50400 {
		t.Errorf("tick = %d, want >= 50400", tick)
	}
	if got := p.Liquidity(); !got.Eq(l) {
		t.Errorf("active liquidity = %s, want %s", got.Dec(), l.Dec())
	}
}

func TestSwapCrossesTick(t *testing.T) {
	p := New(10000)
	if err := p.Initialize(ui.MustFromDecimal(fixtureSqrtPrice), 1000); err != nil {
		t.Fatal(err)
	}
	l := ui.MustFromDecimal("100000000000000000000")
	if _, _, err := p.Mint(0, 50400, l); err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Mint(50400, 100000, l); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Swap(false, true, ui.MustFromDecimal("30000000000000000000"), nil, 1001); err != nil {
		t.Fatal(err)
	}
	if tick := p.CurrentTick(); tick <= 50400 || tick >= 100000 {
		t.Errorf("tick = %d, want inside (50400, 100000)", tick)
	}
	// Net liquidity at 50400 is zero, so active liquidity is unchanged.
	if got := p.Liquidity(); !got.Eq(l) {
		t.Errorf("liquidity after cross = %s, want %s", got.Dec(), l.Dec())
	}
}

func TestSwapZeroLiquiditySpanTeleports(t *testing.T) {
	p := New(10000)
	if err := p.Initialize(ui.MustFromDecimal(fixtureSqrtPrice), 1000); err != nil {
		t.Fatal(err)
	}
	// Only liquidity well above the current price.
	if _, _, err := p.Mint(60000, 100000, ui.MustFromDecimal("100000000000000000000")); err != nil {
		t.Fatal(err)
	}
	if got := p.Liquidity(); !got.IsZero() {
		t.Fatalf("out-of-range mint activated liquidity %s", got.Dec())
	}

	res, err := p.Swap(false, true, ui.MustFromDecimal("1000000000000000000"), nil, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentTick() < 60000 {
		t.Errorf("tick = %d, want >= 60000 after teleport", p.CurrentTick())
	}
	if res.Base.Sign() >= 0 {
		t.Error("expected base paid out")
	}
}

func TestSwapInsufficientLiquidity(t *testing.T) {
	p := newFixturePool(t)
	_, err := p.Swap(false, true, ui.MustFromDecimal("20000000000000000000000000"), nil, 1001)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestSwapPriceLimit(t *testing.T) {
	p := newFixturePool(t)

	limit := new(ui.Int).Add(p.SqrtPriceX96(), ui.MustFromDecimal("1000000000000000000000000"))
	_, err := p.Swap(false, true, ui.MustFromDecimal("10000000000000000000000"), limit, 1001)
	if !errors.Is(err, ErrPriceLimitReached) {
		t.Errorf("got %v, want ErrPriceLimitReached", err)
	}

	// A limit on the wrong side is rejected outright.
	wrong := new(ui.Int).Sub(p.SqrtPriceX96(), ui.NewInt(1))
	_, err = p.Swap(false, true, ui.NewInt(1000), wrong, 1002)
	if !errors.Is(err, ErrInvalidPriceLimit) {
		t.Errorf("got %v, want ErrInvalidPriceLimit", err)
	}
}

func TestBurnReturnsAmounts(t *testing.T) {
	p := newFixturePool(t)

	base, quote, err := p.Burn(0, 100000, ui.MustFromDecimal(fixtureLiquidity))
	if err != nil {
		t.Fatal(err)
	}
	// Burn rounds down: at most what the mint charged.
	if base.Gt(ui.MustFromDecimal("65943786079805109815")) {
		t.Errorf("burn returned more base (%s) than minted", base.Dec())
	}
	if quote.Gt(ui.MustFromDecimal("9999999999999999999990")) {
		t.Errorf("burn returned more quote (%s) than minted", quote.Dec())
	}
	if !p.Liquidity().IsZero() {
		t.Errorf("liquidity after full burn = %s", p.Liquidity().Dec())
	}
}

func TestSnapshotRestore(t *testing.T) {
	p := newFixturePool(t)
	snap := p.Snapshot()

	if _, err := p.Swap(false, true, ui.MustFromDecimal("1000000000000000000"), nil, 1001); err != nil {
		t.Fatal(err)
	}
	if p.SqrtPriceX96().Eq(snap.SqrtPriceX96()) {
		t.Fatal("swap did not move the price")
	}

	p.Restore(snap)
	if !p.SqrtPriceX96().Eq(ui.MustFromDecimal(fixtureSqrtPrice)) {
		t.Errorf("restored price = %s", p.SqrtPriceX96().Dec())
	}
	if p.CurrentTick() != 50200 {
		t.Errorf("restored tick = %d", p.CurrentTick())
	}
	if !p.FeeGrowthInsideX128(0, 100000).IsZero() {
		t.Error("restored fee growth not zero")
	}
}

func TestObserveTwap(t *testing.T) {
	p := newFixturePool(t)

	// Move the price, then advance time so the new tick accumulates.
	if _, err := p.Swap(false, true, ui.MustFromDecimal("100000000000000000000"), nil, 2000); err != nil {
		t.Fatal(err)
	}
	tickAfter := p.CurrentTick()

	cums, err := p.Observe([]uint32{0, 500}, 2500)
	if err != nil {
		t.Fatal(err)
	}
	avg := (cums[0] - cums[1]) / 500
	if avg != int64(tickAfter) {
		t.Errorf("twap tick = %d, want %d", avg, tickAfter)
	}
}
