package pool

import (
	"fmt"
	"math/big"

	ui "github.com/holiman/uint256"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/perpmath"
)

// Swap moves the pool price by trading base against quote.
//
// isBaseToQuote selects the direction (base in, quote out when true).
// exactInput selects whether amount is the input consumed or the output
// demanded; for base-to-quote exact output, amount is the net quote the
// swapper wants after fees. sqrtPriceLimitX96 of zero means no limit.
//
// State is mutated in place; callers needing atomicity snapshot first.
func (p *Pool) Swap(isBaseToQuote, exactInput bool, amount *ui.Int, sqrtPriceLimitX96 *ui.Int, now int64) (SwapResult, error) {
	if !p.initialized {
		return SwapResult{}, ErrNotInitialized
	}
	if amount == nil || amount.IsZero() {
		return SwapResult{}, fmt.Errorf("%w: zero swap amount", ErrInvalidRange)
	}

	limit := sqrtPriceLimitX96
	if limit == nil || limit.IsZero() {
		if isBaseToQuote {
			limit = new(ui.Int).AddUint64(perpmath.MinSqrtRatio, 1)
		} else {
			limit = new(ui.Int).Sub(perpmath.MaxSqrtRatio, ui.NewInt(1))
		}
	}
	if isBaseToQuote {
		if !limit.Lt(p.sqrtPriceX96) || !limit.Gt(perpmath.MinSqrtRatio) {
			return SwapResult{}, ErrInvalidPriceLimit
		}
	} else {
		if !limit.Gt(p.sqrtPriceX96) || !limit.Lt(perpmath.MaxSqrtRatio) {
			return SwapResult{}, ErrInvalidPriceLimit
		}
	}

	p.advanceObservation(now)

	// The protocol fee is always charged in quote terms. Quote-input
	// swaps use the fee-on-input step math; base-input swaps run the
	// step fee-free and net the fee out of the quote output.
	stepFeePips := uint64(0)
	if !isBaseToQuote {
		stepFeePips = p.feePips
	}

	remaining := new(ui.Int).Set(amount)
	if isBaseToQuote && !exactInput {
		// Track the gross quote output needed to leave amount net.
		remaining = perpmath.MulDivRoundingUp(amount, ui.NewInt(perpmath.FeeDenominator), ui.NewInt(perpmath.FeeDenominator-p.feePips))
	}

	totalIn := ui.NewInt(0)
	totalOut := ui.NewInt(0)
	totalFee := ui.NewInt(0)

	for !remaining.IsZero() && !p.sqrtPriceX96.Eq(limit) {
		var (
			tickNext  int
			hasNext   bool
			crossing  bool
			sqrtStart = new(ui.Int).Set(p.sqrtPriceX96)
		)
		if isBaseToQuote {
			tickNext, hasNext = p.book.nextBelow(p.tick)
		} else {
			tickNext, hasNext = p.book.nextAbove(p.tick)
		}
		if !hasNext {
			// No liquidity further in this direction.
			break
		}

		sqrtTarget, err := perpmath.SqrtRatioAtTick(tickNext)
		if err != nil {
			return SwapResult{}, err
		}
		crossing = true
		if isBaseToQuote && sqrtTarget.Lt(limit) {
			sqrtTarget = new(ui.Int).Set(limit)
			crossing = false
		} else if !isBaseToQuote && sqrtTarget.Gt(limit) {
			sqrtTarget = new(ui.Int).Set(limit)
			crossing = false
		}
		if sqrtTarget.Eq(sqrtStart) {
			// Already at the boundary; cross and continue.
			if crossing {
				p.crossTick(tickNext, !isBaseToQuote)
				if isBaseToQuote {
					p.tick = tickNext - 1
				} else {
					p.tick = tickNext
				}
			}
			continue
		}

		if p.liquidity.IsZero() {
			// Empty span: price teleports to the target.
			p.sqrtPriceX96 = new(ui.Int).Set(sqrtTarget)
			if crossing {
				p.crossTick(tickNext, !isBaseToQuote)
				if isBaseToQuote {
					p.tick = tickNext - 1
				} else {
					p.tick = tickNext
				}
			} else {
				p.tick, _ = perpmath.TickAtSqrtRatio(p.sqrtPriceX96)
			}
			continue
		}

		step := perpmath.ComputeSwapStep(sqrtStart, sqrtTarget, p.liquidity, remaining, exactInput, stepFeePips)

		if isBaseToQuote {
			// Quote-side fee, netted out of the output of this step.
			fee := perpmath.MulDivRoundingUp(step.AmountOut, ui.NewInt(p.feePips), ui.NewInt(perpmath.FeeDenominator))
			step.AmountOut = new(ui.Int).Sub(step.AmountOut, fee)
			step.FeeAmount = fee
		}

		if step.SqrtPriceNext.Eq(sqrtStart) && step.AmountIn.IsZero() && step.AmountOut.IsZero() && step.FeeAmount.IsZero() {
			// Sub-unit dust cannot move the price; stop here.
			break
		}

		if exactInput {
			consumed := new(ui.Int).Add(step.AmountIn, step.FeeAmount)
			if isBaseToQuote {
				consumed = step.AmountIn // fee is on the quote output side
			}
			if consumed.Gt(remaining) {
				remaining = ui.NewInt(0)
			} else {
				remaining = new(ui.Int).Sub(remaining, consumed)
			}
		} else {
			produced := new(ui.Int).Set(step.AmountOut)
			if isBaseToQuote {
				produced = new(ui.Int).Add(step.AmountOut, step.FeeAmount) // gross terms
			}
			if produced.Gt(remaining) {
				remaining = ui.NewInt(0)
			} else {
				remaining = new(ui.Int).Sub(remaining, produced)
			}
		}

		totalIn = new(ui.Int).Add(totalIn, step.AmountIn)
		if !isBaseToQuote {
			totalIn = new(ui.Int).Add(totalIn, step.FeeAmount) // swapper pays fee on top
		}
		totalOut = new(ui.Int).Add(totalOut, step.AmountOut)
		totalFee = new(ui.Int).Add(totalFee, step.FeeAmount)

		// Fees earned in this span belong to the liquidity active in it,
		// attributed before any tick is crossed.
		if !step.FeeAmount.IsZero() {
			growth := perpmath.MulDiv(step.FeeAmount, perpmath.Q128, p.liquidity)
			p.feeGrowthGlobalX128 = new(ui.Int).Add(p.feeGrowthGlobalX128, growth)
		}

		p.sqrtPriceX96 = new(ui.Int).Set(step.SqrtPriceNext)
		if crossing && step.SqrtPriceNext.Eq(sqrtTarget) {
			p.crossTick(tickNext, !isBaseToQuote)
			if isBaseToQuote {
				p.tick = tickNext - 1
			} else {
				p.tick = tickNext
			}
		} else if !step.SqrtPriceNext.Eq(sqrtStart) {
			p.tick, _ = perpmath.TickAtSqrtRatio(p.sqrtPriceX96)
		}
	}

	if totalIn.IsZero() && totalOut.IsZero() {
		return SwapResult{}, ErrInsufficientLiquidity
	}
	if !remaining.IsZero() {
		if p.sqrtPriceX96.Eq(limit) {
			return SwapResult{}, ErrPriceLimitReached
		}
		return SwapResult{}, ErrInsufficientLiquidity
	}

	p.recordObservation(now)

	res := SwapResult{Fee: totalFee.ToBig()}
	if isBaseToQuote {
		res.Base = totalIn.ToBig()
		res.Quote = new(big.Int).Neg(totalOut.ToBig())
	} else {
		res.Base = new(big.Int).Neg(totalOut.ToBig())
		res.Quote = totalIn.ToBig()
	}
	return res, nil
}

// crossTick flips the fee-growth-outside of the crossed tick and applies
// its net liquidity to the active liquidity.
func (p *Pool) crossTick(tick int, up bool) {
	info := p.book.get(tick)
	if info == nil {
		panic(fmt.Sprintf("FATAL: pool: crossing uninitialized tick %d", tick))
	}
	info.FeeGrowthOutsideX128 = perpmath.WrappingSub(p.feeGrowthGlobalX128, info.FeeGrowthOutsideX128)

	net := new(big.Int).Set(info.LiquidityNet)
	if !up {
		net.Neg(net)
	}
	active := p.liquidity.ToBig()
	active.Add(active, net)
	if active.Sign() < 0 {
		panic("FATAL: pool: active liquidity underflow on cross")
	}
	p.liquidity.SetFromBig(active)
}

func (p *Pool) advanceObservation(now int64) {
	if now <= p.lastTimestamp {
		return
	}
	p.tickCumulative += int64(p.tick) * (now - p.lastTimestamp)
	p.lastTimestamp = now
}

func (p *Pool) recordObservation(now int64) {
	obs := observation{Timestamp: p.lastTimestamp, TickCumulative: p.tickCumulative}
	if n := len(p.observations); n > 0 && p.observations[n-1].Timestamp == obs.Timestamp {
		p.observations[n-1] = obs
		return
	}
	p.observations = append(p.observations, obs)
	if len(p.observations) > maxObservations {
		p.observations = p.observations[len(p.observations)-maxObservations:]
	}
}

const maxObservations = 1024

// Observe returns tick cumulatives at the requested seconds-ago offsets,
// newest state extrapolated with the current tick.
func (p *Pool) Observe(secondsAgo []uint32, now int64) ([]int64, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]int64, len(secondsAgo))
	for i, sa := range secondsAgo {
		target := now - int64(sa)
		out[i] = p.tickCumulativeAt(target)
	}
	return out, nil
}

func (p *Pool) tickCumulativeAt(target int64) int64 {
	if target >= p.lastTimestamp {
		return p.tickCumulative + int64(p.tick)*(target-p.lastTimestamp)
	}
	obs := p.observations
	if len(obs) == 0 || target <= obs[0].Timestamp {
		if len(obs) == 0 {
			return 0
		}
		return obs[0].TickCumulative
	}
	// Binary search for the surrounding pair and interpolate.
	lo, hi := 0, len(obs)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if obs[mid].Timestamp <= target {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	at := obs[lo]
	if lo+1 < len(obs) {
		next := obs[lo+1]
		dt := next.Timestamp - at.Timestamp
		if dt > 0 {
			return at.TickCumulative + (next.TickCumulative-at.TickCumulative)*(target-at.Timestamp)/dt
		}
	}
	return at.TickCumulative + (p.tickCumulative-at.TickCumulative)
}
