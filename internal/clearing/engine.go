package clearing

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	ui "github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/account"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/broker"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/event"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/feegrowth"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/margin"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/market"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/observability"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/oracle"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/perpmath"
)

var (
	ErrZeroAmount      = errors.New("amount must be positive")
	ErrDeadlineExpired = errors.New("transaction too old")
	ErrMarketClosed    = errors.New("market not open")
)

// EventSink receives domain events after a settlement commits. Events
// are emitted post-commit only; a rolled-back action emits nothing.
type EventSink interface {
	Publish(evt event.Event)
}

// CollateralSource reports a trader's deposited settlement token value
// at the canonical 1e18 scale.
type CollateralSource interface {
	CollateralValue(trader uuid.UUID) *big.Int
}

type Config struct {
	// MaxMarketsPerTrader bounds the active-market set per trader.
	MaxMarketsPerTrader int
	// TwapIntervalSec is the index price lookback for margin checks.
	TwapIntervalSec uint32
	// InitialMarginRatioPips scales absolute position notional for the
	// margin requirement (parts-per-million).
	InitialMarginRatioPips uint64
	// DebtMarginRatioPips scales total debt value.
	DebtMarginRatioPips uint64
}

// Engine is the swap settlement engine: it orchestrates swaps and
// liquidity changes through the broker, settles the resulting deltas
// into trader accounts, realizes PnL, and enforces margin on any
// freshly minted debt. All actions are atomic: state is staged and
// rolled back wholesale on any failure.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	markets  *market.Registry
	broker   *broker.Broker
	accounts *account.Registry
	orders   *feegrowth.Ledger
	feeds    map[string]oracle.PriceFeed

	marginCalc *margin.Calculator
	collateral CollateralSource

	sink    EventSink
	logger  zerolog.Logger
	metrics *observability.Metrics

	now func() time.Time
}

func NewEngine(cfg Config, markets *market.Registry, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	e := &Engine{
		cfg:      cfg,
		markets:  markets,
		broker:   broker.New(markets),
		accounts: account.NewRegistry(cfg.MaxMarketsPerTrader),
		orders:   feegrowth.NewLedger(),
		feeds:    make(map[string]oracle.PriceFeed),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
	e.accounts.SetOpenOrderCheck(e.orders.HasOrders)
	e.marginCalc = margin.NewCalculator(margin.Config{
		InitialMarginRatioPips: cfg.InitialMarginRatioPips,
		DebtMarginRatioPips:    cfg.DebtMarginRatioPips,
		TwapIntervalSec:        cfg.TwapIntervalSec,
	}, e.accounts, e)
	return e
}

// SetCollateralSource wires the vault in after construction. The vault
// and the engine reference each other, so one side attaches late.
func (e *Engine) SetCollateralSource(src CollateralSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collateral = src
}

// SetEventSink attaches the post-commit event publisher.
func (e *Engine) SetEventSink(sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// SetClock overrides the wall clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Feed implements margin.FeedSource.
func (e *Engine) Feed(marketID string) (oracle.PriceFeed, bool) {
	f, ok := e.feeds[marketID]
	return f, ok
}

// AddMarket registers a market, initializes its pool at the given
// price, and attaches its index price feed. Owner-only.
func (e *Engine) AddMarket(caller, id, baseToken, quoteToken string, feeRatioPips uint64, initialSqrtPriceX96 *ui.Int, feed oracle.PriceFeed) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.AddMarket(caller, id, baseToken, quoteToken, feeRatioPips)
	if err != nil {
		return err
	}
	if err := m.Pool.Initialize(initialSqrtPriceX96, e.now().Unix()); err != nil {
		return err
	}
	e.feeds[id] = feed

	e.logger.Info().
		Str("market_id", id).
		Str("base_token", baseToken).
		Str("quote_token", quoteToken).
		Uint64("fee_ratio_pips", feeRatioPips).
		Msg("market added")
	if e.metrics != nil {
		e.metrics.MarketsRegistered.Set(float64(len(e.markets.IDs())))
	}
	e.emit(&event.MarketAdded{
		EventID:      uuid.New(),
		Market:       id,
		BaseToken:    baseToken,
		QuoteToken:   quoteToken,
		FeeRatioPips: feeRatioPips,
	})
	return nil
}

type OpenPositionParams struct {
	Trader   uuid.UUID
	MarketID string
	// IsBaseToQuote: true sells base (short), false buys base (long).
	IsBaseToQuote bool
	// IsExactInput: Amount is the input side when true, output when false.
	IsExactInput bool
	Amount       *big.Int
	// OppositeAmountBound is the slippage bound on the non-exact side:
	// minimum received for exact input, maximum paid for exact output.
	// Nil disables the check.
	OppositeAmountBound *big.Int
	// SqrtPriceLimitX96 optionally bounds the execution price.
	SqrtPriceLimitX96 *ui.Int
	// Deadline is a unix timestamp; zero disables the check.
	Deadline int64
}

type PositionResult struct {
	// Base and Quote are the trader's signed deltas from this swap.
	Base  *big.Int
	Quote *big.Int
	// Fee is the quote-denominated protocol fee charged.
	Fee *big.Int
	// RealizedPnl is the PnL realized by reducing, closing, or flipping.
	RealizedPnl *big.Int
	// OpenNotional is the position's cost basis after settlement.
	OpenNotional *big.Int
}

// OpenPosition executes a taker swap and settles it into the trader's
// account.
func (e *Engine) OpenPosition(p OpenPositionParams) (PositionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	res, err := e.openPosition(p)
	e.observeAction("open_position", start, err)
	if err != nil {
		e.logger.Debug().
			Err(err).
			Str("trader", p.Trader.String()).
			Str("market_id", p.MarketID).
			Msg("open position rejected")
		return PositionResult{}, err
	}

	e.logger.Info().
		Str("trader", p.Trader.String()).
		Str("market_id", p.MarketID).
		Str("base", res.Base.String()).
		Str("quote", res.Quote.String()).
		Str("fee", res.Fee.String()).
		Str("realized_pnl", res.RealizedPnl.String()).
		Msg("position changed")
	return res, nil
}

func (e *Engine) openPosition(p OpenPositionParams) (PositionResult, error) {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return PositionResult{}, fmt.Errorf("%w", ErrZeroAmount)
	}
	now := e.now()
	if p.Deadline > 0 && now.Unix() > p.Deadline {
		return PositionResult{}, fmt.Errorf("%w: deadline %d", ErrDeadlineExpired, p.Deadline)
	}
	m, err := e.markets.Get(p.MarketID)
	if err != nil {
		return PositionResult{}, err
	}
	if feed, ok := e.feeds[p.MarketID]; ok && !feed.IsMarketOpen() {
		return PositionResult{}, fmt.Errorf("%w: %s", ErrMarketClosed, p.MarketID)
	}
	if !e.accounts.CanActivate(p.Trader, p.MarketID) {
		return PositionResult{}, fmt.Errorf("%w: trader %s", account.ErrTooManyMarkets, p.Trader)
	}

	snapPool := m.Pool.Snapshot()
	snapInfo := e.accounts.SnapshotInfo(p.Trader, p.MarketID)
	rollback := func() {
		m.Pool.Restore(snapPool)
		e.accounts.RestoreInfo(p.Trader, p.MarketID, snapInfo)
	}

	mi := e.accounts.GetOrCreate(p.Trader, p.MarketID)
	oldBase := mi.PositionSize()
	oldQuoteNet := mi.QuoteNet()

	var minted []*event.Minted
	mintShortfall := func(base bool, required *big.Int) {
		avail := mi.Quote.Available
		token := m.QuoteToken
		if base {
			avail = mi.Base.Available
			token = m.BaseToken
		}
		short := new(big.Int).Sub(required, avail)
		if short.Sign() <= 0 {
			return
		}
		e.accounts.MintDebt(p.Trader, p.MarketID, base, short)
		minted = append(minted, &event.Minted{
			EventID: uuid.New(),
			Trader:  p.Trader,
			Market:  p.MarketID,
			Token:   token,
			Amount:  short,
		})
	}

	// Exact input: the input requirement is known up front, so the
	// shortfall is minted before the swap.
	if p.IsExactInput {
		mintShortfall(p.IsBaseToQuote, p.Amount)
	}

	resp, err := e.broker.Swap(broker.SwapParams{
		MarketID:          p.MarketID,
		IsBaseToQuote:     p.IsBaseToQuote,
		IsExactInput:      p.IsExactInput,
		Amount:            p.Amount,
		SqrtPriceLimitX96: p.SqrtPriceLimitX96,
		Now:               now.Unix(),
	})
	if err != nil {
		rollback()
		return PositionResult{}, err
	}

	// Exact output: the input side is only known after the swap.
	if !p.IsExactInput {
		if p.IsBaseToQuote {
			mintShortfall(true, perpmath.BigAbs(resp.Base))
		} else {
			mintShortfall(false, perpmath.BigAbs(resp.Quote))
		}
	}

	if err := checkOppositeBound(p, resp); err != nil {
		rollback()
		return PositionResult{}, err
	}

	realized, quoteApplied := settleDeltas(oldBase, oldQuoteNet, resp.Base, resp.Quote)
	e.accounts.AddBalance(p.Trader, p.MarketID, resp.Base, quoteApplied, realized)

	baseBurned, quoteBurned := e.accounts.Reconcile(p.Trader, p.MarketID)

	if len(minted) > 0 {
		if err := e.checkMargin(p.Trader); err != nil {
			rollback()
			return PositionResult{}, err
		}
	}

	openNotional := new(big.Int).Neg(e.quoteNet(p.Trader, p.MarketID))

	for _, mintEvt := range minted {
		e.emit(mintEvt)
		if e.metrics != nil {
			e.metrics.TokensMinted.WithLabelValues(p.MarketID, mintEvt.Token).Add(bigToFloat(mintEvt.Amount))
		}
	}
	e.emitBurns(p.Trader, m, baseBurned, quoteBurned)
	e.emit(&event.PositionChanged{
		EventID:                   uuid.New(),
		Trader:                    p.Trader,
		Market:                    p.MarketID,
		ExchangedPositionSize:     resp.Base,
		ExchangedPositionNotional: new(big.Int).Add(resp.Quote, resp.Fee),
		Fee:                       resp.Fee,
		OpenNotional:              openNotional,
		RealizedPnl:               realized,
		Timestamp:                 now.Unix(),
	})

	if e.metrics != nil {
		e.metrics.SwapQuoteVolume.WithLabelValues(p.MarketID).Add(bigToFloat(perpmath.BigAbs(resp.Quote)))
		e.metrics.FeesCollected.WithLabelValues(p.MarketID).Add(bigToFloat(resp.Fee))
		e.metrics.PoolTick.WithLabelValues(p.MarketID).Set(float64(m.Pool.CurrentTick()))
		e.metrics.PoolLiquidity.WithLabelValues(p.MarketID).Set(uint256ToFloat(m.Pool.Liquidity()))
	}

	return PositionResult{
		Base:         resp.Base,
		Quote:        resp.Quote,
		Fee:          resp.Fee,
		RealizedPnl:  realized,
		OpenNotional: openNotional,
	}, nil
}

// checkOppositeBound verifies the realized non-exact-side amount
// against the caller's slippage bound, after the swap completes.
func checkOppositeBound(p OpenPositionParams, resp broker.SwapResponse) error {
	if p.OppositeAmountBound == nil || p.OppositeAmountBound.Sign() == 0 {
		return nil
	}
	if p.IsExactInput {
		received := resp.Quote
		if !p.IsBaseToQuote {
			received = resp.Base
		}
		if received.Cmp(p.OppositeAmountBound) < 0 {
			return fmt.Errorf("%w: received %s below bound %s", broker.ErrSlippageExceeded, received, p.OppositeAmountBound)
		}
		return nil
	}
	paid := perpmath.BigAbs(resp.Quote)
	if p.IsBaseToQuote {
		paid = perpmath.BigAbs(resp.Base)
	}
	if paid.Cmp(p.OppositeAmountBound) > 0 {
		return fmt.Errorf("%w: paid %s above bound %s", broker.ErrSlippageExceeded, paid, p.OppositeAmountBound)
	}
	return nil
}

// settleDeltas computes the realized PnL and the quote delta actually
// applied to the position's ledger.
//
// Increasing (or opening) keeps the full quote delta as cost basis.
// Reducing or closing realizes deltaQuote plus the proportional slice
// of the old cost basis, and moves exactly that slice out of the quote
// ledger. Flipping realizes the closed leg's PnL against owed realized
// PnL while the quote ledger keeps the full swap delta, so the
// surviving position's cost basis absorbs the realized amount.
func settleDeltas(oldBase, oldQuoteNet, deltaBase, deltaQuote *big.Int) (realized, quoteApplied *big.Int) {
	realized = new(big.Int)
	quoteApplied = new(big.Int).Set(deltaQuote)

	if oldBase.Sign() == 0 || deltaBase.Sign() == 0 || oldBase.Sign() == deltaBase.Sign() {
		return realized, quoteApplied
	}

	absOld := perpmath.BigAbs(oldBase)
	absDelta := perpmath.BigAbs(deltaBase)

	if absDelta.Cmp(absOld) <= 0 {
		// Reduce or full close.
		reduced := perpmath.BigMulDiv(oldQuoteNet, absDelta, absOld)
		realized = new(big.Int).Add(deltaQuote, reduced)
		quoteApplied = new(big.Int).Neg(reduced)
		return realized, quoteApplied
	}

	// Flip: realize PnL on the fraction of the swap that closed the
	// old position.
	closedNotional := perpmath.BigMulDiv(deltaQuote, absOld, absDelta)
	realized = new(big.Int).Add(closedNotional, oldQuoteNet)
	return realized, quoteApplied
}

func (e *Engine) checkMargin(trader uuid.UUID) error {
	collateral := new(big.Int)
	if e.collateral != nil {
		collateral = e.collateral.CollateralValue(trader)
	}
	return e.marginCalc.CheckFreeCollateral(trader, collateral)
}

func (e *Engine) quoteNet(trader uuid.UUID, marketID string) *big.Int {
	mi := e.accounts.Get(trader, marketID)
	if mi == nil {
		return new(big.Int)
	}
	return mi.QuoteNet()
}

func (e *Engine) emit(evt event.Event) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(evt)
	if e.metrics != nil {
		e.metrics.EventsPublished.WithLabelValues(evt.EventType().String()).Inc()
	}
}

func (e *Engine) emitBurns(trader uuid.UUID, m *market.Market, baseBurned, quoteBurned *big.Int) {
	if baseBurned.Sign() > 0 {
		e.emit(&event.Burned{
			EventID: uuid.New(),
			Trader:  trader,
			Market:  m.ID,
			Token:   m.BaseToken,
			Amount:  baseBurned,
		})
		if e.metrics != nil {
			e.metrics.TokensBurned.WithLabelValues(m.ID, m.BaseToken).Add(bigToFloat(baseBurned))
		}
	}
	if quoteBurned.Sign() > 0 {
		e.emit(&event.Burned{
			EventID: uuid.New(),
			Trader:  trader,
			Market:  m.ID,
			Token:   m.QuoteToken,
			Amount:  quoteBurned,
		})
		if e.metrics != nil {
			e.metrics.TokensBurned.WithLabelValues(m.ID, m.QuoteToken).Add(bigToFloat(quoteBurned))
		}
	}
}

func (e *Engine) observeAction(action string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.ActionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.ActionsRejected.WithLabelValues(action, rejectionReason(err)).Inc()
		return
	}
	e.metrics.ActionsApplied.WithLabelValues(action).Inc()
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrDeadlineExpired):
		return "deadline_expired"
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, market.ErrUnknownMarket):
		return "unknown_market"
	case errors.Is(err, account.ErrTooManyMarkets):
		return "too_many_markets"
	case errors.Is(err, broker.ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, broker.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, broker.ErrZeroLiquidity):
		return "zero_liquidity"
	case errors.Is(err, feegrowth.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, feegrowth.ErrInsufficientLiquidity):
		return "insufficient_order_liquidity"
	case errors.Is(err, margin.ErrInsufficientMargin):
		return "insufficient_margin"
	default:
		return "internal"
	}
}

func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func uint256ToFloat(v *ui.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
