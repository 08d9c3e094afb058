package feegrowth

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"
	ui "github.com/holiman/uint256"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/perpmath"
)

var (
	ErrOrderNotFound         = errors.New("open order not found")
	ErrInsufficientLiquidity = errors.New("order has less liquidity than requested")
)

// OrderKey identifies one maker range order.
type OrderKey struct {
	Trader    uuid.UUID
	Market    string
	LowerTick int
	UpperTick int
}

// OpenOrder is a maker's liquidity in one tick range, together with the
// accumulator snapshots taken at last touch. A zero-liquidity order is
// never stored: it is deleted after its accrued fee is flushed.
type OpenOrder struct {
	Liquidity *ui.Int

	// LastFeeGrowthInsideX128 is the protocol fee-growth-inside value at
	// last touch; accrual is the modular difference times liquidity.
	LastFeeGrowthInsideX128 *ui.Int

	// Funding accumulator snapshots, maintained here and consumed by the
	// external funding module.
	LastPremiumGrowthInside               *big.Int
	LastPremiumGrowthBelow                *big.Int
	LastPremiumDivBySqrtPriceGrowthInside *big.Int
}

func (o *OpenOrder) clone() *OpenOrder {
	return &OpenOrder{
		Liquidity:                             new(ui.Int).Set(o.Liquidity),
		LastFeeGrowthInsideX128:               new(ui.Int).Set(o.LastFeeGrowthInsideX128),
		LastPremiumGrowthInside:               new(big.Int).Set(o.LastPremiumGrowthInside),
		LastPremiumGrowthBelow:                new(big.Int).Set(o.LastPremiumGrowthBelow),
		LastPremiumDivBySqrtPriceGrowthInside: new(big.Int).Set(o.LastPremiumDivBySqrtPriceGrowthInside),
	}
}

// Ledger is the open-order registry for all makers. It does not talk to
// the pool itself: callers feed it the current fee-growth-inside of the
// order's range, read from the pool in the same action.
type Ledger struct {
	orders map[OrderKey]*OpenOrder
}

func NewLedger() *Ledger {
	return &Ledger{orders: make(map[OrderKey]*OpenOrder)}
}

// Get returns an order, or nil when none exists for the key.
func (l *Ledger) Get(key OrderKey) *OpenOrder {
	return l.orders[key]
}

// HasOrders reports whether the trader holds any open order in the market.
func (l *Ledger) HasOrders(trader uuid.UUID, marketID string) bool {
	for key := range l.orders {
		if key.Trader == trader && key.Market == marketID {
			return true
		}
	}
	return false
}

// OrderKeys returns the trader's order keys for a market in a
// deterministic order.
func (l *Ledger) OrderKeys(trader uuid.UUID, marketID string) []OrderKey {
	out := make([]OrderKey, 0, 4)
	for key := range l.orders {
		if key.Trader == trader && key.Market == marketID {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LowerTick != out[j].LowerTick {
			return out[i].LowerTick < out[j].LowerTick
		}
		return out[i].UpperTick < out[j].UpperTick
	})
	return out
}

// AllKeys returns every order key in a deterministic order, for state
// export.
func (l *Ledger) AllKeys() []OrderKey {
	out := make([]OrderKey, 0, len(l.orders))
	for key := range l.orders {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Trader != b.Trader {
			return a.Trader.String() < b.Trader.String()
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		if a.LowerTick != b.LowerTick {
			return a.LowerTick < b.LowerTick
		}
		return a.UpperTick < b.UpperTick
	})
	return out
}

// accrue computes the fee owed since last touch and advances the
// snapshot. The subtraction is modular so accumulator wraparound never
// loses fee credit.
func (o *OpenOrder) accrue(growthInsideX128 *ui.Int) *big.Int {
	delta := perpmath.WrappingSub(growthInsideX128, o.LastFeeGrowthInsideX128)
	fee := perpmath.MulDiv(delta, o.Liquidity, perpmath.Q128)
	o.LastFeeGrowthInsideX128 = new(ui.Int).Set(growthInsideX128)
	return fee.ToBig()
}

// AddLiquidity credits liquidity to the order (creating it on first
// touch) and returns the fee accrued on the pre-existing liquidity.
func (l *Ledger) AddLiquidity(key OrderKey, liquidity, growthInsideX128 *ui.Int) *big.Int {
	order := l.orders[key]
	if order == nil {
		order = &OpenOrder{
			Liquidity:                             ui.NewInt(0),
			LastFeeGrowthInsideX128:               new(ui.Int).Set(growthInsideX128),
			LastPremiumGrowthInside:               new(big.Int),
			LastPremiumGrowthBelow:                new(big.Int),
			LastPremiumDivBySqrtPriceGrowthInside: new(big.Int),
		}
		l.orders[key] = order
	}
	fee := order.accrue(growthInsideX128)
	order.Liquidity = new(ui.Int).Add(order.Liquidity, liquidity)
	return fee
}

// RemoveLiquidity debits liquidity from the order and returns the fee
// accrued since last touch. liquidity may be zero for a pure fee
// collection. The order is deleted when its liquidity reaches zero; the
// accrued fee is always returned to the caller first, never dropped.
func (l *Ledger) RemoveLiquidity(key OrderKey, liquidity, growthInsideX128 *ui.Int) (*big.Int, error) {
	order := l.orders[key]
	if order == nil {
		return nil, fmt.Errorf("%w: %s/%s [%d, %d)", ErrOrderNotFound, key.Trader, key.Market, key.LowerTick, key.UpperTick)
	}
	if liquidity.Gt(order.Liquidity) {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrInsufficientLiquidity, order.Liquidity.Dec(), liquidity.Dec())
	}
	fee := order.accrue(growthInsideX128)
	order.Liquidity = new(ui.Int).Sub(order.Liquidity, liquidity)
	if order.Liquidity.IsZero() {
		delete(l.orders, key)
	}
	return fee, nil
}

// SnapshotOrders deep-copies the trader's orders in a market for
// settlement staging.
func (l *Ledger) SnapshotOrders(trader uuid.UUID, marketID string) map[OrderKey]*OpenOrder {
	out := make(map[OrderKey]*OpenOrder)
	for key, order := range l.orders {
		if key.Trader == trader && key.Market == marketID {
			out[key] = order.clone()
		}
	}
	return out
}

// RestoreOrders reinstates a staged snapshot for the trader and market,
// removing orders created since the snapshot was taken.
func (l *Ledger) RestoreOrders(trader uuid.UUID, marketID string, snap map[OrderKey]*OpenOrder) {
	for key := range l.orders {
		if key.Trader == trader && key.Market == marketID {
			delete(l.orders, key)
		}
	}
	for key, order := range snap {
		l.orders[key] = order
	}
}
