package pool

import (
	"math/big"
	"sort"

	ui "github.com/holiman/uint256"
)

// TickInfo carries the per-tick bookkeeping for one initialized tick.
type TickInfo struct {
	// LiquidityGross is the total liquidity referencing this tick from
	// either side; the tick is uninitialized when it reaches zero.
	LiquidityGross *ui.Int
	// LiquidityNet is added to the active liquidity when the tick is
	// crossed left-to-right, subtracted right-to-left.
	LiquidityNet *big.Int
	// FeeGrowthOutsideX128 is the quote fee growth on the far side of
	// this tick relative to the current price (flip-on-cross semantics).
	FeeGrowthOutsideX128 *ui.Int
}

func (t *TickInfo) clone() *TickInfo {
	return &TickInfo{
		LiquidityGross:       new(ui.Int).Set(t.LiquidityGross),
		LiquidityNet:         new(big.Int).Set(t.LiquidityNet),
		FeeGrowthOutsideX128: new(ui.Int).Set(t.FeeGrowthOutsideX128),
	}
}

// tickBook indexes initialized ticks so the swap loop can find the next
// one in either direction.
type tickBook struct {
	ticks  map[int]*TickInfo
	sorted []int
}

func newTickBook() *tickBook {
	return &tickBook{ticks: make(map[int]*TickInfo)}
}

func (tb *tickBook) get(tick int) *TickInfo {
	return tb.ticks[tick]
}

// update applies a signed liquidity delta (positive mint, negative burn)
// to a tick, initializing or clearing it as needed. The delta always
// moves LiquidityGross; upper flips its contribution to LiquidityNet so
// crossing left-to-right adds at the lower bound and removes at the
// upper. feeGrowthGlobalX128 seeds FeeGrowthOutside for ticks at or
// below the current tick, per the growth-outside convention.
func (tb *tickBook) update(tick, currentTick int, liquidityDelta *big.Int, upper bool, feeGrowthGlobalX128 *ui.Int) {
	info := tb.ticks[tick]
	if info == nil {
		outside := ui.NewInt(0)
		if tick <= currentTick {
			outside = new(ui.Int).Set(feeGrowthGlobalX128)
		}
		info = &TickInfo{
			LiquidityGross:       ui.NewInt(0),
			LiquidityNet:         new(big.Int),
			FeeGrowthOutsideX128: outside,
		}
		tb.ticks[tick] = info
		idx := sort.SearchInts(tb.sorted, tick)
		tb.sorted = append(tb.sorted, 0)
		copy(tb.sorted[idx+1:], tb.sorted[idx:])
		tb.sorted[idx] = tick
	}

	gross := info.LiquidityGross.ToBig()
	gross.Add(gross, liquidityDelta)
	if gross.Sign() < 0 {
		panic("FATAL: pool: tick liquidity underflow")
	}
	info.LiquidityGross.SetFromBig(gross)
	if upper {
		info.LiquidityNet.Sub(info.LiquidityNet, liquidityDelta)
	} else {
		info.LiquidityNet.Add(info.LiquidityNet, liquidityDelta)
	}

	if info.LiquidityGross.IsZero() {
		delete(tb.ticks, tick)
		idx := sort.SearchInts(tb.sorted, tick)
		tb.sorted = append(tb.sorted[:idx], tb.sorted[idx+1:]...)
	}
}

// nextBelow returns the nearest initialized tick at or below the given
// tick. Swaps moving down target the current tick's own lower boundary.
func (tb *tickBook) nextBelow(tick int) (int, bool) {
	idx := sort.SearchInts(tb.sorted, tick+1)
	if idx == 0 {
		return 0, false
	}
	return tb.sorted[idx-1], true
}

// nextAbove returns the nearest initialized tick strictly above tick.
func (tb *tickBook) nextAbove(tick int) (int, bool) {
	idx := sort.SearchInts(tb.sorted, tick+1)
	if idx == len(tb.sorted) {
		return 0, false
	}
	return tb.sorted[idx], true
}

func (tb *tickBook) clone() *tickBook {
	out := newTickBook()
	out.sorted = append([]int(nil), tb.sorted...)
	for k, v := range tb.ticks {
		out.ticks[k] = v.clone()
	}
	return out
}
