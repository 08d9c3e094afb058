package clearing

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	ui "github.com/holiman/uint256"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/event"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/feegrowth"
)

// TokenInfo is the split balance of one virtual token.
type TokenInfo struct {
	Available *big.Int
	Debt      *big.Int
}

// GetTokenInfo returns the trader's balance of one of the market's two
// tokens. Unknown records read as zero.
func (e *Engine) GetTokenInfo(trader uuid.UUID, marketID, token string) (TokenInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(marketID)
	if err != nil {
		return TokenInfo{}, err
	}
	zero := TokenInfo{Available: new(big.Int), Debt: new(big.Int)}
	mi := e.accounts.Get(trader, marketID)
	if mi == nil {
		return zero, nil
	}
	switch token {
	case m.BaseToken:
		return TokenInfo{Available: new(big.Int).Set(mi.Base.Available), Debt: new(big.Int).Set(mi.Base.Debt)}, nil
	case m.QuoteToken:
		return TokenInfo{Available: new(big.Int).Set(mi.Quote.Available), Debt: new(big.Int).Set(mi.Quote.Debt)}, nil
	default:
		return TokenInfo{}, fmt.Errorf("token %s not traded on market %s", token, marketID)
	}
}

// GetPositionSize returns the trader's signed base position.
func (e *Engine) GetPositionSize(trader uuid.UUID, marketID string) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	mi := e.accounts.Get(trader, marketID)
	if mi == nil {
		return new(big.Int)
	}
	return mi.PositionSize()
}

// GetOpenNotional returns the position's cost basis, the negation of
// the net quote balance.
func (e *Engine) GetOpenNotional(trader uuid.UUID, marketID string) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Neg(e.quoteNet(trader, marketID))
}

// GetOwedRealizedPnl returns realized PnL not yet settled to custody.
func (e *Engine) GetOwedRealizedPnl(trader uuid.UUID, marketID string) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	mi := e.accounts.Get(trader, marketID)
	if mi == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(mi.OwedRealizedPnl)
}

// GetNetQuoteBalance sums the trader's net quote balance over all
// active markets.
func (e *Engine) GetNetQuoteBalance(trader uuid.UUID) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := new(big.Int)
	for _, marketID := range e.accounts.ActiveMarkets(trader) {
		total.Add(total, e.quoteNet(trader, marketID))
	}
	return total
}

// ActiveMarkets returns the markets the trader currently has balances in.
func (e *Engine) ActiveMarkets(trader uuid.UUID) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accounts.ActiveMarkets(trader)
}

// GetOpenOrderLiquidity returns the liquidity of one range order, or
// zero when no order exists.
func (e *Engine) GetOpenOrderLiquidity(trader uuid.UUID, marketID string, lowerTick, upperTick int) *ui.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.orders.Get(feegrowth.OrderKey{Trader: trader, Market: marketID, LowerTick: lowerTick, UpperTick: upperTick})
	if order == nil {
		return new(ui.Int)
	}
	return new(ui.Int).Set(order.Liquidity)
}

// GetSqrtMarkPriceX96 reads the pool's current sqrt price.
func (e *Engine) GetSqrtMarkPriceX96(marketID string) (*ui.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(marketID)
	if err != nil {
		return nil, err
	}
	return m.Pool.SqrtPriceX96(), nil
}

// GetMarkTwapTick returns the time-weighted average tick over the
// given lookback.
func (e *Engine) GetMarkTwapTick(marketID string, intervalSec uint32) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(marketID)
	if err != nil {
		return 0, err
	}
	if intervalSec == 0 {
		return int64(m.Pool.CurrentTick()), nil
	}
	cumulatives, err := m.Pool.Observe([]uint32{intervalSec, 0}, e.now().Unix())
	if err != nil {
		return 0, err
	}
	return (cumulatives[1] - cumulatives[0]) / int64(intervalSec), nil
}

// SettleOwedPnl sweeps the trader's owed realized PnL across all
// markets and returns the signed total. Called by the vault when
// applying PnL to custody.
func (e *Engine) SettleOwedPnl(trader uuid.UUID) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	settled := e.accounts.Settle(trader)
	if settled.Sign() != 0 {
		e.emit(&event.PnlSettled{
			EventID: uuid.New(),
			Trader:  trader,
			Amount:  settled,
		})
		if e.metrics != nil {
			e.metrics.PnlSettled.Inc()
		}
	}
	return settled
}

// FreeCollateral computes the trader's free collateral given their
// deposited collateral value. Fails closed on any missing price.
func (e *Engine) FreeCollateral(trader uuid.UUID, collateralValue *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marginCalc.FreeCollateral(trader, collateralValue)
}

// AccountValue is collateral plus unrealized and owed realized PnL.
func (e *Engine) AccountValue(trader uuid.UUID, collateralValue *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marginCalc.AccountValue(trader, collateralValue)
}
