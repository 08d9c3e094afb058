package clearing

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	ui "github.com/holiman/uint256"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/account"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/event"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/feegrowth"
)

type AddLiquidityParams struct {
	Trader   uuid.UUID
	MarketID string
	// Base and Quote are the maximum amounts the maker will deposit.
	Base      *big.Int
	Quote     *big.Int
	LowerTick int
	UpperTick int
	Deadline  int64
}

type AddLiquidityResult struct {
	// Base and Quote are the amounts actually pulled into the pool.
	Base      *big.Int
	Quote     *big.Int
	Liquidity *ui.Int
	// Fee is the previously accrued maker fee collected by this touch.
	Fee *big.Int
}

// AddLiquidity converts the maker's amounts into liquidity units over
// the tick range, pulls the required tokens (minting any shortfall as
// debt), and collects fees accrued to an existing order in the range.
func (e *Engine) AddLiquidity(p AddLiquidityParams) (AddLiquidityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	res, err := e.addLiquidity(p)
	e.observeAction("add_liquidity", start, err)
	if err != nil {
		return AddLiquidityResult{}, err
	}

	e.logger.Info().
		Str("trader", p.Trader.String()).
		Str("market_id", p.MarketID).
		Int("lower_tick", p.LowerTick).
		Int("upper_tick", p.UpperTick).
		Str("liquidity", res.Liquidity.Dec()).
		Str("fee", res.Fee.String()).
		Msg("liquidity added")
	return res, nil
}

func (e *Engine) addLiquidity(p AddLiquidityParams) (AddLiquidityResult, error) {
	base := bigOrZero(p.Base)
	quote := bigOrZero(p.Quote)
	if base.Sign() < 0 || quote.Sign() < 0 || (base.Sign() == 0 && quote.Sign() == 0) {
		return AddLiquidityResult{}, fmt.Errorf("%w", ErrZeroAmount)
	}
	now := e.now()
	if p.Deadline > 0 && now.Unix() > p.Deadline {
		return AddLiquidityResult{}, fmt.Errorf("%w: deadline %d", ErrDeadlineExpired, p.Deadline)
	}
	m, err := e.markets.Get(p.MarketID)
	if err != nil {
		return AddLiquidityResult{}, err
	}
	if feed, ok := e.feeds[p.MarketID]; ok && !feed.IsMarketOpen() {
		return AddLiquidityResult{}, fmt.Errorf("%w: %s", ErrMarketClosed, p.MarketID)
	}
	if !e.accounts.CanActivate(p.Trader, p.MarketID) {
		return AddLiquidityResult{}, fmt.Errorf("%w: trader %s", account.ErrTooManyMarkets, p.Trader)
	}

	snapPool := m.Pool.Snapshot()
	snapInfo := e.accounts.SnapshotInfo(p.Trader, p.MarketID)
	snapOrders := e.orders.SnapshotOrders(p.Trader, p.MarketID)
	rollback := func() {
		m.Pool.Restore(snapPool)
		e.orders.RestoreOrders(p.Trader, p.MarketID, snapOrders)
		e.accounts.RestoreInfo(p.Trader, p.MarketID, snapInfo)
	}

	liquidity, err := e.broker.LiquidityForAmounts(p.MarketID, p.LowerTick, p.UpperTick, base, quote)
	if err != nil {
		return AddLiquidityResult{}, err
	}

	basePulled, quotePulled, err := e.broker.Mint(p.MarketID, p.LowerTick, p.UpperTick, liquidity)
	if err != nil {
		rollback()
		return AddLiquidityResult{}, err
	}

	growthInside, err := e.broker.FeeGrowthInsideX128(p.MarketID, p.LowerTick, p.UpperTick)
	if err != nil {
		rollback()
		return AddLiquidityResult{}, err
	}
	key := feegrowth.OrderKey{Trader: p.Trader, Market: p.MarketID, LowerTick: p.LowerTick, UpperTick: p.UpperTick}
	fee := e.orders.AddLiquidity(key, liquidity, growthInside)

	mi := e.accounts.GetOrCreate(p.Trader, p.MarketID)
	var minted []*event.Minted
	mintShortfall := func(isBase bool, required *big.Int) {
		avail := mi.Quote.Available
		token := m.QuoteToken
		if isBase {
			avail = mi.Base.Available
			token = m.BaseToken
		}
		short := new(big.Int).Sub(required, avail)
		if short.Sign() <= 0 {
			return
		}
		e.accounts.MintDebt(p.Trader, p.MarketID, isBase, short)
		minted = append(minted, &event.Minted{
			EventID: uuid.New(),
			Trader:  p.Trader,
			Market:  p.MarketID,
			Token:   token,
			Amount:  short,
		})
	}
	mintShortfall(true, basePulled)
	mintShortfall(false, quotePulled)

	e.accounts.AddBalance(p.Trader, p.MarketID,
		new(big.Int).Neg(basePulled),
		new(big.Int).Neg(quotePulled),
		fee)
	baseBurned, quoteBurned := e.accounts.Reconcile(p.Trader, p.MarketID)

	if len(minted) > 0 {
		if err := e.checkMargin(p.Trader); err != nil {
			rollback()
			return AddLiquidityResult{}, err
		}
	}

	for _, mintEvt := range minted {
		e.emit(mintEvt)
		if e.metrics != nil {
			e.metrics.TokensMinted.WithLabelValues(p.MarketID, mintEvt.Token).Add(bigToFloat(mintEvt.Amount))
		}
	}
	e.emitBurns(p.Trader, m, baseBurned, quoteBurned)
	e.emit(&event.LiquidityChanged{
		EventID:   uuid.New(),
		Trader:    p.Trader,
		Market:    p.MarketID,
		LowerTick: p.LowerTick,
		UpperTick: p.UpperTick,
		Base:      new(big.Int).Neg(basePulled),
		Quote:     new(big.Int).Neg(quotePulled),
		Liquidity: liquidity.ToBig(),
		Fee:       fee,
		Timestamp: now.Unix(),
	})

	if e.metrics != nil {
		e.metrics.PoolLiquidity.WithLabelValues(p.MarketID).Set(uint256ToFloat(m.Pool.Liquidity()))
	}

	return AddLiquidityResult{
		Base:      basePulled,
		Quote:     quotePulled,
		Liquidity: liquidity,
		Fee:       fee,
	}, nil
}

type RemoveLiquidityParams struct {
	Trader   uuid.UUID
	MarketID string
	// Liquidity to burn. Zero burns nothing and only collects fees.
	Liquidity *ui.Int
	LowerTick int
	UpperTick int
	Deadline  int64
}

type RemoveLiquidityResult struct {
	// Base and Quote are the amounts returned from the pool.
	Base  *big.Int
	Quote *big.Int
	// Fee is the maker fee accrued since the order's last touch.
	Fee *big.Int
}

// RemoveLiquidity burns liquidity from the maker's range order and
// returns the freed tokens plus accrued fees. Burning the order to
// zero deletes it; its fee is flushed to owed realized PnL first.
func (e *Engine) RemoveLiquidity(p RemoveLiquidityParams) (RemoveLiquidityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	res, err := e.removeLiquidity(p)
	e.observeAction("remove_liquidity", start, err)
	if err != nil {
		return RemoveLiquidityResult{}, err
	}

	e.logger.Info().
		Str("trader", p.Trader.String()).
		Str("market_id", p.MarketID).
		Int("lower_tick", p.LowerTick).
		Int("upper_tick", p.UpperTick).
		Str("fee", res.Fee.String()).
		Msg("liquidity removed")
	return res, nil
}

func (e *Engine) removeLiquidity(p RemoveLiquidityParams) (RemoveLiquidityResult, error) {
	now := e.now()
	if p.Deadline > 0 && now.Unix() > p.Deadline {
		return RemoveLiquidityResult{}, fmt.Errorf("%w: deadline %d", ErrDeadlineExpired, p.Deadline)
	}
	m, err := e.markets.Get(p.MarketID)
	if err != nil {
		return RemoveLiquidityResult{}, err
	}

	liquidity := p.Liquidity
	if liquidity == nil {
		liquidity = new(ui.Int)
	}

	snapPool := m.Pool.Snapshot()
	snapInfo := e.accounts.SnapshotInfo(p.Trader, p.MarketID)
	snapOrders := e.orders.SnapshotOrders(p.Trader, p.MarketID)
	rollback := func() {
		m.Pool.Restore(snapPool)
		e.orders.RestoreOrders(p.Trader, p.MarketID, snapOrders)
		e.accounts.RestoreInfo(p.Trader, p.MarketID, snapInfo)
	}

	baseOut := new(big.Int)
	quoteOut := new(big.Int)
	if !liquidity.IsZero() {
		baseOut, quoteOut, err = e.broker.Burn(p.MarketID, p.LowerTick, p.UpperTick, liquidity)
		if err != nil {
			rollback()
			return RemoveLiquidityResult{}, err
		}
	}

	growthInside, err := e.broker.FeeGrowthInsideX128(p.MarketID, p.LowerTick, p.UpperTick)
	if err != nil {
		rollback()
		return RemoveLiquidityResult{}, err
	}
	key := feegrowth.OrderKey{Trader: p.Trader, Market: p.MarketID, LowerTick: p.LowerTick, UpperTick: p.UpperTick}
	fee, err := e.orders.RemoveLiquidity(key, liquidity, growthInside)
	if err != nil {
		rollback()
		return RemoveLiquidityResult{}, err
	}

	e.accounts.AddBalance(p.Trader, p.MarketID, baseOut, quoteOut, fee)
	baseBurned, quoteBurned := e.accounts.Reconcile(p.Trader, p.MarketID)

	e.emitBurns(p.Trader, m, baseBurned, quoteBurned)
	e.emit(&event.LiquidityChanged{
		EventID:   uuid.New(),
		Trader:    p.Trader,
		Market:    p.MarketID,
		LowerTick: p.LowerTick,
		UpperTick: p.UpperTick,
		Base:      baseOut,
		Quote:     quoteOut,
		Liquidity: new(big.Int).Neg(liquidity.ToBig()),
		Fee:       fee,
		Timestamp: now.Unix(),
	})

	if e.metrics != nil {
		e.metrics.PoolLiquidity.WithLabelValues(p.MarketID).Set(uint256ToFloat(m.Pool.Liquidity()))
	}

	return RemoveLiquidityResult{
		Base:  baseOut,
		Quote: quoteOut,
		Fee:   fee,
	}, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
