package margin

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/account"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/oracle"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/perpmath"
)

var (
	ErrInsufficientMargin = errors.New("insufficient free collateral")
	ErrNoPriceFeed        = errors.New("no price feed for market")
)

// FeedSource resolves the index price feed for a market.
type FeedSource interface {
	Feed(marketID string) (oracle.PriceFeed, bool)
}

// Config carries the margin ratios in parts-per-million.
type Config struct {
	// InitialMarginRatioPips scales total absolute position notional.
	InitialMarginRatioPips uint64
	// DebtMarginRatioPips scales total debt value; the margin
	// requirement is the max of the two bases.
	DebtMarginRatioPips uint64
	// TwapIntervalSec is the index price lookback for margin reads.
	TwapIntervalSec uint32
}

// Calculator derives margin requirement, account value, and free
// collateral from balances and index prices. All conversions use the
// index price, never the mark price, so margin checks resist spot
// manipulation. Any unavailable price fails the dependent computation
// closed instead of degrading to a zero requirement.
type Calculator struct {
	cfg      Config
	accounts *account.Registry
	feeds    FeedSource
}

func NewCalculator(cfg Config, accounts *account.Registry, feeds FeedSource) *Calculator {
	return &Calculator{cfg: cfg, accounts: accounts, feeds: feeds}
}

// indexPrice reads the feed for a market. A closed market degrades to
// its last-known index price (interval 0); a missing or erroring feed
// is a hard failure.
func (c *Calculator) indexPrice(marketID string) (*big.Int, error) {
	feed, ok := c.feeds.Feed(marketID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPriceFeed, marketID)
	}
	interval := c.cfg.TwapIntervalSec
	if !feed.IsMarketOpen() {
		interval = 0
	}
	price, err := feed.GetIndexPrice(interval)
	if err != nil {
		return nil, fmt.Errorf("index price for %s: %w", marketID, err)
	}
	return price, nil
}

// UnrealizedPnl returns positionSize*price - openNotional for one
// market, which with the signed quote ledger is size*price + quoteNet.
func (c *Calculator) UnrealizedPnl(trader uuid.UUID, marketID string) (*big.Int, error) {
	mi := c.accounts.Get(trader, marketID)
	if mi == nil {
		return new(big.Int), nil
	}
	price, err := c.indexPrice(marketID)
	if err != nil {
		return nil, err
	}
	pnl := perpmath.BigMulDiv(mi.PositionSize(), price, perpmath.WeiPerEther)
	pnl.Add(pnl, mi.QuoteNet())
	return pnl, nil
}

// AccountValue is collateral plus the sum of unrealized PnL and owed
// realized PnL across the trader's markets.
func (c *Calculator) AccountValue(trader uuid.UUID, collateralValue *big.Int) (*big.Int, error) {
	total := new(big.Int).Set(collateralValue)
	for _, marketID := range c.accounts.ActiveMarkets(trader) {
		pnl, err := c.UnrealizedPnl(trader, marketID)
		if err != nil {
			return nil, err
		}
		total.Add(total, pnl)
	}
	total.Add(total, c.accounts.OwedRealizedPnlTotal(trader))
	return total, nil
}

// MarginRequirement is max(totalAbsPositionNotional * imRatio,
// totalDebtValue * debtRatio), both in settlement-token terms.
func (c *Calculator) MarginRequirement(trader uuid.UUID) (*big.Int, error) {
	totalNotional := new(big.Int)
	totalDebt := new(big.Int)

	for _, marketID := range c.accounts.ActiveMarkets(trader) {
		mi := c.accounts.Get(trader, marketID)
		if mi == nil {
			continue
		}
		price, err := c.indexPrice(marketID)
		if err != nil {
			return nil, err
		}
		notional := perpmath.BigMulDiv(perpmath.BigAbs(mi.PositionSize()), price, perpmath.WeiPerEther)
		totalNotional.Add(totalNotional, notional)

		baseDebtValue := perpmath.BigMulDiv(mi.Base.Debt, price, perpmath.WeiPerEther)
		totalDebt.Add(totalDebt, baseDebtValue)
		totalDebt.Add(totalDebt, mi.Quote.Debt)
	}

	imBase := new(big.Int).Mul(totalNotional, new(big.Int).SetUint64(c.cfg.InitialMarginRatioPips))
	imBase.Quo(imBase, new(big.Int).SetUint64(perpmath.FeeDenominator))
	debtBase := new(big.Int).Mul(totalDebt, new(big.Int).SetUint64(c.cfg.DebtMarginRatioPips))
	debtBase.Quo(debtBase, new(big.Int).SetUint64(perpmath.FeeDenominator))

	if imBase.Cmp(debtBase) >= 0 {
		return imBase, nil
	}
	return debtBase, nil
}

// FreeCollateral is the conservative margin basis minus the margin
// requirement. The basis is min(collateral + owed realized PnL, account
// value), so unrealized gains never free up collateral while unrealized
// losses immediately reduce it.
func (c *Calculator) FreeCollateral(trader uuid.UUID, collateralValue *big.Int) (*big.Int, error) {
	req, err := c.MarginRequirement(trader)
	if err != nil {
		return nil, err
	}
	av, err := c.AccountValue(trader, collateralValue)
	if err != nil {
		return nil, err
	}
	basis := new(big.Int).Add(collateralValue, c.accounts.OwedRealizedPnlTotal(trader))
	if av.Cmp(basis) < 0 {
		basis = av
	}
	return basis.Sub(basis, req), nil
}

// CheckFreeCollateral fails with ErrInsufficientMargin when the trader's
// free collateral would be negative.
func (c *Calculator) CheckFreeCollateral(trader uuid.UUID, collateralValue *big.Int) error {
	free, err := c.FreeCollateral(trader, collateralValue)
	if err != nil {
		return err
	}
	if free.Sign() < 0 {
		return fmt.Errorf("%w: free collateral %s", ErrInsufficientMargin, free)
	}
	return nil
}
