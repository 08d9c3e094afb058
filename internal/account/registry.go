package account

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrTooManyMarkets = errors.New("active market ceiling exceeded")
	ErrMarketNotFlat  = errors.New("market still has a position or open order")
)

// MarketInfo is the per (trader, market) balance record.
type MarketInfo struct {
	Base  TokenBalance
	Quote TokenBalance

	// OwedRealizedPnl accumulates PnL realized by reduces, closes and
	// maker fee collection; swept to custody by Settle.
	OwedRealizedPnl *big.Int

	// LastTwPremiumGrowthGlobal is the funding premium accumulator
	// snapshot consumed by the external funding module.
	LastTwPremiumGrowthGlobal *big.Int
}

func newMarketInfo() *MarketInfo {
	return &MarketInfo{
		Base:                      newTokenBalance(),
		Quote:                     newTokenBalance(),
		OwedRealizedPnl:           new(big.Int),
		LastTwPremiumGrowthGlobal: new(big.Int),
	}
}

// PositionSize returns the signed net base balance.
func (mi *MarketInfo) PositionSize() *big.Int { return mi.Base.Net() }

// QuoteNet returns the signed net quote balance; for a pure taker this
// is the negated open notional.
func (mi *MarketInfo) QuoteNet() *big.Int { return mi.Quote.Net() }

// IsFlat reports whether every token side is exactly zero.
func (mi *MarketInfo) IsFlat() bool { return mi.Base.IsZero() && mi.Quote.IsZero() }

func (mi *MarketInfo) clone() *MarketInfo {
	return &MarketInfo{
		Base:                      mi.Base.clone(),
		Quote:                     mi.Quote.clone(),
		OwedRealizedPnl:           new(big.Int).Set(mi.OwedRealizedPnl),
		LastTwPremiumGrowthGlobal: new(big.Int).Set(mi.LastTwPremiumGrowthGlobal),
	}
}

type infoKey struct {
	Trader uuid.UUID
	Market string
}

// Registry owns all per-trader, per-market balances and the active
// market sets. Mutation happens only through the settlement engine.
type Registry struct {
	maxMarkets int
	info       map[infoKey]*MarketInfo
	active     map[uuid.UUID]map[string]struct{}

	// hasOrders reports open maker orders for a trader/market pair. The
	// order book lives outside this package, so the owner wires it in.
	hasOrders func(trader uuid.UUID, marketID string) bool
}

func NewRegistry(maxMarketsPerTrader int) *Registry {
	return &Registry{
		maxMarkets: maxMarketsPerTrader,
		info:       make(map[infoKey]*MarketInfo),
		active:     make(map[uuid.UUID]map[string]struct{}),
	}
}

// SetOpenOrderCheck wires in the open-order lookup. Markets with open
// maker orders stay active and refuse deregistration even when every
// token balance nets to zero.
func (r *Registry) SetOpenOrderCheck(fn func(trader uuid.UUID, marketID string) bool) {
	r.hasOrders = fn
}

func (r *Registry) openOrders(trader uuid.UUID, marketID string) bool {
	return r.hasOrders != nil && r.hasOrders(trader, marketID)
}

// Get returns the balance record, or nil when the trader never touched
// the market.
func (r *Registry) Get(trader uuid.UUID, marketID string) *MarketInfo {
	return r.info[infoKey{trader, marketID}]
}

// GetOrCreate lazily creates the record on first balance-affecting use.
func (r *Registry) GetOrCreate(trader uuid.UUID, marketID string) *MarketInfo {
	key := infoKey{trader, marketID}
	mi := r.info[key]
	if mi == nil {
		mi = newMarketInfo()
		r.info[key] = mi
	}
	return mi
}

// AddBalance applies signed base/quote deltas with debt netting, and a
// realized PnL delta, then refreshes the active-market set.
func (r *Registry) AddBalance(trader uuid.UUID, marketID string, baseDelta, quoteDelta, pnlDelta *big.Int) {
	mi := r.GetOrCreate(trader, marketID)
	if baseDelta != nil && baseDelta.Sign() != 0 {
		mi.Base.apply(baseDelta)
	}
	if quoteDelta != nil && quoteDelta.Sign() != 0 {
		mi.Quote.apply(quoteDelta)
	}
	if pnlDelta != nil && pnlDelta.Sign() != 0 {
		mi.OwedRealizedPnl.Add(mi.OwedRealizedPnl, pnlDelta)
	}
	r.syncActive(trader, marketID, mi)
}

// MintDebt records freshly minted margin tokens as debt on one side.
func (r *Registry) MintDebt(trader uuid.UUID, marketID string, base bool, amount *big.Int) {
	mi := r.GetOrCreate(trader, marketID)
	if base {
		mi.Base.mint(amount)
	} else {
		mi.Quote.mint(amount)
	}
	r.syncActive(trader, marketID, mi)
}

// CanActivate reports whether an action may add this market to the
// trader's active set without breaching the ceiling. Markets already
// active never count twice.
func (r *Registry) CanActivate(trader uuid.UUID, marketID string) bool {
	set := r.active[trader]
	if set != nil {
		if _, ok := set[marketID]; ok {
			return true
		}
		if len(set) >= r.maxMarkets {
			return false
		}
	}
	return r.maxMarkets > 0
}

// RegisterMarket adds a market to the trader's active set explicitly.
func (r *Registry) RegisterMarket(trader uuid.UUID, marketID string) error {
	if !r.CanActivate(trader, marketID) {
		return fmt.Errorf("%w: trader %s at limit %d", ErrTooManyMarkets, trader, r.maxMarkets)
	}
	set := r.active[trader]
	if set == nil {
		set = make(map[string]struct{})
		r.active[trader] = set
	}
	set[marketID] = struct{}{}
	return nil
}

// DeregisterMarket removes a market from the active set. Fails closed
// while any balance or open order remains.
func (r *Registry) DeregisterMarket(trader uuid.UUID, marketID string) error {
	mi := r.Get(trader, marketID)
	if mi != nil && !mi.IsFlat() {
		return fmt.Errorf("%w: %s/%s", ErrMarketNotFlat, trader, marketID)
	}
	if r.openOrders(trader, marketID) {
		return fmt.Errorf("%w: %s/%s has open orders", ErrMarketNotFlat, trader, marketID)
	}
	if set := r.active[trader]; set != nil {
		delete(set, marketID)
		if len(set) == 0 {
			delete(r.active, trader)
		}
	}
	return nil
}

// syncActive maintains membership from balances and orders: first
// nonzero balance activates, full zero with no orders deactivates.
func (r *Registry) syncActive(trader uuid.UUID, marketID string, mi *MarketInfo) {
	if mi.IsFlat() && !r.openOrders(trader, marketID) {
		if set := r.active[trader]; set != nil {
			delete(set, marketID)
			if len(set) == 0 {
				delete(r.active, trader)
			}
		}
		if mi.OwedRealizedPnl.Sign() == 0 && mi.LastTwPremiumGrowthGlobal.Sign() == 0 {
			delete(r.info, infoKey{trader, marketID})
		}
		return
	}
	set := r.active[trader]
	if set == nil {
		set = make(map[string]struct{})
		r.active[trader] = set
	}
	set[marketID] = struct{}{}
}

// ActiveMarkets returns the trader's active markets in sorted order.
func (r *Registry) ActiveMarkets(trader uuid.UUID) []string {
	set := r.active[trader]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ActiveCount returns the number of markets the trader is active in.
func (r *Registry) ActiveCount(trader uuid.UUID) int {
	return len(r.active[trader])
}

// IsActive reports active-set membership.
func (r *Registry) IsActive(trader uuid.UUID, marketID string) bool {
	set := r.active[trader]
	if set == nil {
		return false
	}
	_, ok := set[marketID]
	return ok
}

// Reconcile nets available against debt on both token sides of one
// record, returning the burned amounts. Call this at the end of every
// settlement so the exclusivity invariant holds between actions.
func (r *Registry) Reconcile(trader uuid.UUID, marketID string) (baseBurned, quoteBurned *big.Int) {
	mi := r.Get(trader, marketID)
	if mi == nil {
		return new(big.Int), new(big.Int)
	}
	baseBurned = mi.Base.reconcile()
	quoteBurned = mi.Quote.reconcile()
	r.syncActive(trader, marketID, mi)
	return baseBurned, quoteBurned
}

// OwedRealizedPnlTotal sums owed realized PnL over every record the
// trader has, including flat markets that still carry residual PnL.
func (r *Registry) OwedRealizedPnlTotal(trader uuid.UUID) *big.Int {
	total := new(big.Int)
	for key, mi := range r.info {
		if key.Trader == trader {
			total.Add(total, mi.OwedRealizedPnl)
		}
	}
	return total
}

// Settle sweeps and zeroes the trader's owed realized PnL across all
// markets, returning the signed total. This is the only path that moves
// realized PnL out toward custody.
func (r *Registry) Settle(trader uuid.UUID) *big.Int {
	total := new(big.Int)
	for key, mi := range r.info {
		if key.Trader != trader {
			continue
		}
		if mi.OwedRealizedPnl.Sign() != 0 {
			total.Add(total, mi.OwedRealizedPnl)
			mi.OwedRealizedPnl.SetInt64(0)
		}
		if mi.IsFlat() && mi.OwedRealizedPnl.Sign() == 0 && mi.LastTwPremiumGrowthGlobal.Sign() == 0 {
			delete(r.info, key)
		}
	}
	return total
}

// ExportRecord is one trader/market balance record with its keys, for
// state export.
type ExportRecord struct {
	Trader uuid.UUID
	Market string
	Info   *MarketInfo
}

// Export returns deep copies of every balance record, sorted by trader
// then market for deterministic output.
func (r *Registry) Export() []ExportRecord {
	out := make([]ExportRecord, 0, len(r.info))
	for key, mi := range r.info {
		out = append(out, ExportRecord{Trader: key.Trader, Market: key.Market, Info: mi.clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Trader != out[j].Trader {
			return out[i].Trader.String() < out[j].Trader.String()
		}
		return out[i].Market < out[j].Market
	})
	return out
}

// SnapshotInfo deep-copies one balance record for settlement staging.
// A nil return means the record does not exist yet.
func (r *Registry) SnapshotInfo(trader uuid.UUID, marketID string) *MarketInfo {
	mi := r.Get(trader, marketID)
	if mi == nil {
		return nil
	}
	return mi.clone()
}

// RestoreInfo reinstates a staged snapshot, deleting the record when the
// snapshot is nil (the record did not exist before the action).
func (r *Registry) RestoreInfo(trader uuid.UUID, marketID string, snap *MarketInfo) {
	key := infoKey{trader, marketID}
	if snap == nil {
		delete(r.info, key)
	} else {
		r.info[key] = snap
	}
	mi := r.info[key]
	if mi == nil {
		mi = newMarketInfo()
	}
	r.syncActive(trader, marketID, mi)
}
