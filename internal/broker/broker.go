package broker

import (
	"errors"
	"fmt"
	"math/big"

	ui "github.com/holiman/uint256"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/market"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/perpmath"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/pool"
)

var (
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrZeroLiquidity         = errors.New("amounts too small for any liquidity")
)

// Broker converts range-order intents into pool liquidity operations and
// executes swaps against pool liquidity. It owns no state of its own.
type Broker struct {
	markets *market.Registry
}

func New(markets *market.Registry) *Broker {
	return &Broker{markets: markets}
}

// SwapParams describes one swap intent against a market's pool.
type SwapParams struct {
	MarketID          string
	IsBaseToQuote     bool
	IsExactInput      bool
	Amount            *big.Int
	SqrtPriceLimitX96 *ui.Int // nil or zero = no limit
	Now               int64
}

// SwapResponse reports trader-perspective deltas: positive amounts are
// received by the trader, negative amounts paid.
type SwapResponse struct {
	Base  *big.Int
	Quote *big.Int
	// Fee is the quote-denominated protocol fee charged on the trade.
	Fee *big.Int
	// SqrtPriceAfterX96 is the pool price after the swap.
	SqrtPriceAfterX96 *ui.Int
}

// Swap executes the swap on the market's pool. Pool state is mutated;
// the settlement engine snapshots beforehand for atomicity.
func (b *Broker) Swap(params SwapParams) (SwapResponse, error) {
	m, err := b.markets.Get(params.MarketID)
	if err != nil {
		return SwapResponse{}, err
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return SwapResponse{}, fmt.Errorf("swap amount must be positive")
	}

	res, err := m.Pool.Swap(params.IsBaseToQuote, params.IsExactInput, perpmath.FromBig(params.Amount), params.SqrtPriceLimitX96, params.Now)
	if err != nil {
		switch {
		case errors.Is(err, pool.ErrPriceLimitReached):
			return SwapResponse{}, fmt.Errorf("%w: price limit hit before amount satisfied", ErrSlippageExceeded)
		case errors.Is(err, pool.ErrInsufficientLiquidity):
			return SwapResponse{}, fmt.Errorf("%w: market %s", ErrInsufficientLiquidity, params.MarketID)
		default:
			return SwapResponse{}, err
		}
	}

	return SwapResponse{
		Base:              new(big.Int).Neg(res.Base),
		Quote:             new(big.Int).Neg(res.Quote),
		Fee:               res.Fee,
		SqrtPriceAfterX96: m.Pool.SqrtPriceX96(),
	}, nil
}

// LiquidityForAmounts computes the liquidity units mintable over the
// range without exceeding either desired amount. Single-sided ranges
// (entirely above or below the current price) require only one token.
func (b *Broker) LiquidityForAmounts(marketID string, lowerTick, upperTick int, amountBase, amountQuote *big.Int) (*ui.Int, error) {
	m, err := b.markets.Get(marketID)
	if err != nil {
		return nil, err
	}
	sqrtLower, err := perpmath.SqrtRatioAtTick(lowerTick)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := perpmath.SqrtRatioAtTick(upperTick)
	if err != nil {
		return nil, err
	}
	liquidity := perpmath.LiquidityForAmounts(
		m.Pool.SqrtPriceX96(), sqrtLower, sqrtUpper,
		perpmath.FromBig(amountBase), perpmath.FromBig(amountQuote))
	if liquidity.IsZero() {
		return nil, fmt.Errorf("%w: range [%d, %d)", ErrZeroLiquidity, lowerTick, upperTick)
	}
	return liquidity, nil
}

// Mint adds liquidity to the pool and returns the base and quote amounts
// actually consumed.
func (b *Broker) Mint(marketID string, lowerTick, upperTick int, liquidity *ui.Int) (base, quote *big.Int, err error) {
	m, err := b.markets.Get(marketID)
	if err != nil {
		return nil, nil, err
	}
	baseUsed, quoteUsed, err := m.Pool.Mint(lowerTick, upperTick, liquidity)
	if err != nil {
		return nil, nil, err
	}
	return baseUsed.ToBig(), quoteUsed.ToBig(), nil
}

// Burn removes liquidity and returns the amounts released.
func (b *Broker) Burn(marketID string, lowerTick, upperTick int, liquidity *ui.Int) (base, quote *big.Int, err error) {
	m, err := b.markets.Get(marketID)
	if err != nil {
		return nil, nil, err
	}
	baseFreed, quoteFreed, err := m.Pool.Burn(lowerTick, upperTick, liquidity)
	if err != nil {
		return nil, nil, err
	}
	return baseFreed.ToBig(), quoteFreed.ToBig(), nil
}

// FeeGrowthInsideX128 reads the pool's current fee growth inside a range.
func (b *Broker) FeeGrowthInsideX128(marketID string, lowerTick, upperTick int) (*ui.Int, error) {
	m, err := b.markets.Get(marketID)
	if err != nil {
		return nil, err
	}
	return m.Pool.FeeGrowthInsideX128(lowerTick, upperTick), nil
}
