package perpmath

import (
	"fmt"

	ui "github.com/holiman/uint256"
)

// Tick bounds of the price space. A tick i corresponds to the price
// 1.0001^i (quote per base); sqrt prices are stored as Q64.96.
const (
	MinTick = -887272
	MaxTick = 887272
)

var (
	// MinSqrtRatio is SqrtRatioAtTick(MinTick).
	MinSqrtRatio = ui.NewInt(4295128739)
	// MaxSqrtRatio is SqrtRatioAtTick(MaxTick).
	MaxSqrtRatio = ui.MustFromDecimal("1461446703485210103287273052203988822378723970342")

	maxUint256 = new(ui.Int).Not(ui.NewInt(0))

	// Per-bit multipliers for sqrt(1.0001^-2^n) in Q128.128.
	tickMultipliers = []*ui.Int{
		ui.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
		ui.MustFromHex("0xfff97272373d413259a46990580e213a"),
		ui.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		ui.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		ui.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		ui.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		ui.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		ui.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		ui.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		ui.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		ui.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		ui.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		ui.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		ui.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		ui.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		ui.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		ui.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		ui.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		ui.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		ui.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}
)

// SqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96 value.
func SqrtRatioAtTick(tick int) (*ui.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("tick %d out of range [%d, %d]", tick, MinTick, MaxTick)
	}

	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(ui.Int).Set(Q128)
	if absTick&1 != 0 {
		ratio.Set(tickMultipliers[0])
	}
	for i := 1; i < len(tickMultipliers); i++ {
		if absTick&(1<<i) != 0 {
			ratio = MulDiv(ratio, tickMultipliers[i], Q128)
		}
	}

	if tick > 0 {
		ratio = new(ui.Int).Div(maxUint256, ratio)
	}

	// Q128.128 -> Q64.96, rounding up so the tick boundary is inclusive
	// from above.
	shifted := new(ui.Int).Rsh(ratio, 32)
	rem := new(ui.Int).And(ratio, ui.NewInt(0xffffffff))
	if !rem.IsZero() {
		shifted.AddUint64(shifted, 1)
	}
	return shifted, nil
}

// TickAtSqrtRatio returns the largest tick whose sqrt ratio is <= the
// given Q64.96 sqrt price.
func TickAtSqrtRatio(sqrtPriceX96 *ui.Int) (int, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || !sqrtPriceX96.Lt(MaxSqrtRatio) {
		return 0, fmt.Errorf("sqrt price %s out of range", sqrtPriceX96.Dec())
	}

	lo, hi := MinTick, MaxTick
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		ratio, err := SqrtRatioAtTick(mid)
		if err != nil {
			return 0, err
		}
		if ratio.Gt(sqrtPriceX96) {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo, nil
}
