package pool

import (
	"errors"
	"fmt"
	"math/big"

	ui "github.com/holiman/uint256"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/perpmath"
)

var (
	ErrNotInitialized        = errors.New("pool not initialized")
	ErrAlreadyInitialized    = errors.New("pool already initialized")
	ErrInvalidRange          = errors.New("invalid tick range")
	ErrInvalidPriceLimit     = errors.New("price limit on wrong side of current price")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPriceLimitReached     = errors.New("price limit reached before amount satisfied")
)

// Pool is an in-memory concentrated-liquidity pool for one market. The
// base token is amount0 and the quote token amount1; the protocol fee is
// charged entirely in quote terms and accrued to a single quote fee
// growth accumulator, not the two-token pair a generic AMM would carry.
//
// The pool is not goroutine safe; the settlement engine serializes all
// access per market.
type Pool struct {
	sqrtPriceX96 *ui.Int
	tick         int
	liquidity    *ui.Int

	feePips             uint64 // parts-per-million
	feeGrowthGlobalX128 *ui.Int

	book *tickBook

	// observation state for TWAP reads
	lastTimestamp  int64
	tickCumulative int64
	observations   []observation

	initialized bool
}

type observation struct {
	Timestamp      int64
	TickCumulative int64
}

// SwapResult reports a completed swap in pool convention: positive
// amounts flow into the pool, negative amounts flow out to the swapper.
// Fee is the quote-denominated protocol fee, included in Quote for
// quote-input swaps and already netted out of Quote for quote-output
// swaps.
type SwapResult struct {
	Base  *big.Int
	Quote *big.Int
	Fee   *big.Int
}

func New(feePips uint64) *Pool {
	return &Pool{
		sqrtPriceX96:        ui.NewInt(0),
		liquidity:           ui.NewInt(0),
		feePips:             feePips,
		feeGrowthGlobalX128: ui.NewInt(0),
		book:                newTickBook(),
	}
}

// Initialize sets the starting price. One-shot.
func (p *Pool) Initialize(sqrtPriceX96 *ui.Int, now int64) error {
	if p.initialized {
		return ErrAlreadyInitialized
	}
	tick, err := perpmath.TickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return err
	}
	p.sqrtPriceX96 = new(ui.Int).Set(sqrtPriceX96)
	p.tick = tick
	p.lastTimestamp = now
	p.observations = append(p.observations, observation{Timestamp: now})
	p.initialized = true
	return nil
}

func (p *Pool) Initialized() bool     { return p.initialized }
func (p *Pool) SqrtPriceX96() *ui.Int { return new(ui.Int).Set(p.sqrtPriceX96) }
func (p *Pool) CurrentTick() int      { return p.tick }
func (p *Pool) Liquidity() *ui.Int    { return new(ui.Int).Set(p.liquidity) }
func (p *Pool) FeePips() uint64       { return p.feePips }

// Mint adds liquidity over [lowerTick, upperTick) and returns the base
// and quote amounts owed by the minter, rounded up.
func (p *Pool) Mint(lowerTick, upperTick int, liquidity *ui.Int) (base, quote *ui.Int, err error) {
	if err := p.checkRange(lowerTick, upperTick); err != nil {
		return nil, nil, err
	}
	if liquidity.IsZero() {
		return nil, nil, fmt.Errorf("%w: zero liquidity", ErrInvalidRange)
	}
	base, quote = p.modifyLiquidity(lowerTick, upperTick, liquidity.ToBig(), true)
	return base, quote, nil
}

// Burn removes liquidity and returns the base and quote amounts released
// to the burner, rounded down.
func (p *Pool) Burn(lowerTick, upperTick int, liquidity *ui.Int) (base, quote *ui.Int, err error) {
	if err := p.checkRange(lowerTick, upperTick); err != nil {
		return nil, nil, err
	}
	delta := new(big.Int).Neg(liquidity.ToBig())
	base, quote = p.modifyLiquidity(lowerTick, upperTick, delta, false)
	return base, quote, nil
}

func (p *Pool) checkRange(lowerTick, upperTick int) error {
	if !p.initialized {
		return ErrNotInitialized
	}
	if lowerTick >= upperTick || lowerTick < perpmath.MinTick || upperTick > perpmath.MaxTick {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, lowerTick, upperTick)
	}
	return nil
}

func (p *Pool) modifyLiquidity(lowerTick, upperTick int, liquidityDelta *big.Int, roundUp bool) (base, quote *ui.Int) {
	p.book.update(lowerTick, p.tick, liquidityDelta, false, p.feeGrowthGlobalX128)
	p.book.update(upperTick, p.tick, liquidityDelta, true, p.feeGrowthGlobalX128)

	sqrtLower, _ := perpmath.SqrtRatioAtTick(lowerTick)
	sqrtUpper, _ := perpmath.SqrtRatioAtTick(upperTick)

	absLiquidity := perpmath.FromBig(new(big.Int).Abs(liquidityDelta))
	base, quote = perpmath.AmountsForLiquidity(p.sqrtPriceX96, sqrtLower, sqrtUpper, absLiquidity, roundUp)

	if lowerTick <= p.tick && p.tick < upperTick {
		active := p.liquidity.ToBig()
		active.Add(active, liquidityDelta)
		if active.Sign() < 0 {
			panic("FATAL: pool: active liquidity underflow")
		}
		p.liquidity.SetFromBig(active)
	}
	return base, quote
}

// FeeGrowthInsideX128 returns the cumulative quote fee growth per unit
// of liquidity inside [lowerTick, upperTick). Modular arithmetic keeps
// the value meaningful across accumulator wraparound.
func (p *Pool) FeeGrowthInsideX128(lowerTick, upperTick int) *ui.Int {
	// growthBelow normalizes both bounds to cumulative growth strictly
	// below the tick, so the inside span is one modular difference no
	// matter where the current price sits relative to the range.
	below := p.growthBelow(lowerTick)
	above := p.growthBelow(upperTick)
	return perpmath.WrappingSub(above, below)
}

func (p *Pool) growthBelow(tick int) *ui.Int {
	info := p.book.get(tick)
	if info == nil {
		return ui.NewInt(0)
	}
	if tick <= p.tick {
		return new(ui.Int).Set(info.FeeGrowthOutsideX128)
	}
	return perpmath.WrappingSub(p.feeGrowthGlobalX128, info.FeeGrowthOutsideX128)
}

// Snapshot captures the full pool state so a failed settlement can roll
// back atomically.
func (p *Pool) Snapshot() *Pool {
	out := &Pool{
		sqrtPriceX96:        new(ui.Int).Set(p.sqrtPriceX96),
		tick:                p.tick,
		liquidity:           new(ui.Int).Set(p.liquidity),
		feePips:             p.feePips,
		feeGrowthGlobalX128: new(ui.Int).Set(p.feeGrowthGlobalX128),
		book:                p.book.clone(),
		lastTimestamp:       p.lastTimestamp,
		tickCumulative:      p.tickCumulative,
		observations:        append([]observation(nil), p.observations...),
		initialized:         p.initialized,
	}
	return out
}

// Restore overwrites the pool state with a snapshot taken earlier.
func (p *Pool) Restore(snap *Pool) {
	*p = *snap
}
