package event

import (
	"math/big"

	"github.com/google/uuid"
)

// Type tags every outbound engine event.
type Type int32

const (
	TypeUnknown Type = iota
	TypePositionChanged
	TypeLiquidityChanged
	TypeMinted
	TypeBurned
	TypeMarketAdded
	TypePnlSettled
)

func (t Type) String() string {
	switch t {
	case TypePositionChanged:
		return "position_changed"
	case TypeLiquidityChanged:
		return "liquidity_changed"
	case TypeMinted:
		return "minted"
	case TypeBurned:
		return "burned"
	case TypeMarketAdded:
		return "market_added"
	case TypePnlSettled:
		return "pnl_settled"
	default:
		return "unknown"
	}
}

// Event is implemented by every outbound record.
type Event interface {
	EventType() Type
	IdempotencyKey() string
	MarketID() string
}

// PositionChanged records one settled taker action.
type PositionChanged struct {
	EventID uuid.UUID `json:"event_id"`
	Trader  uuid.UUID `json:"trader"`
	Market  string    `json:"market"`

	// ExchangedPositionSize is the signed base delta of this action.
	ExchangedPositionSize *big.Int `json:"exchanged_position_size"`
	// ExchangedPositionNotional is the signed quote leg, fee excluded.
	ExchangedPositionNotional *big.Int `json:"exchanged_position_notional"`
	Fee                       *big.Int `json:"fee"`
	OpenNotional              *big.Int `json:"open_notional"`
	RealizedPnl               *big.Int `json:"realized_pnl"`

	Timestamp int64 `json:"timestamp"`
}

func (e *PositionChanged) EventType() Type         { return TypePositionChanged }
func (e *PositionChanged) IdempotencyKey() string  { return e.EventID.String() }
func (e *PositionChanged) MarketID() string        { return e.Market }

// LiquidityChanged records a maker add/remove, including collected fees.
type LiquidityChanged struct {
	EventID   uuid.UUID `json:"event_id"`
	Trader    uuid.UUID `json:"trader"`
	Market    string    `json:"market"`
	LowerTick int       `json:"lower_tick"`
	UpperTick int       `json:"upper_tick"`

	// Base and Quote are the trader's signed token deltas.
	Base      *big.Int `json:"base"`
	Quote     *big.Int `json:"quote"`
	Liquidity *big.Int `json:"liquidity"` // signed: negative on remove
	Fee       *big.Int `json:"fee"`

	Timestamp int64 `json:"timestamp"`
}

func (e *LiquidityChanged) EventType() Type        { return TypeLiquidityChanged }
func (e *LiquidityChanged) IdempotencyKey() string { return e.EventID.String() }
func (e *LiquidityChanged) MarketID() string       { return e.Market }

// Minted is emitted when the engine mints margin-token debt to cover an
// input shortfall. Never emitted for a zero shortfall.
type Minted struct {
	EventID uuid.UUID `json:"event_id"`
	Trader  uuid.UUID `json:"trader"`
	Market  string    `json:"market"`
	Token   string    `json:"token"`
	Amount  *big.Int  `json:"amount"`
}

func (e *Minted) EventType() Type        { return TypeMinted }
func (e *Minted) IdempotencyKey() string { return e.EventID.String() }
func (e *Minted) MarketID() string       { return e.Market }

// Burned is emitted when debt is burned during reconciliation.
type Burned struct {
	EventID uuid.UUID `json:"event_id"`
	Trader  uuid.UUID `json:"trader"`
	Market  string    `json:"market"`
	Token   string    `json:"token"`
	Amount  *big.Int  `json:"amount"`
}

func (e *Burned) EventType() Type        { return TypeBurned }
func (e *Burned) IdempotencyKey() string { return e.EventID.String() }
func (e *Burned) MarketID() string       { return e.Market }

// MarketAdded records an admin market registration.
type MarketAdded struct {
	EventID      uuid.UUID `json:"event_id"`
	Market       string    `json:"market"`
	BaseToken    string    `json:"base_token"`
	QuoteToken   string    `json:"quote_token"`
	FeeRatioPips uint64    `json:"fee_ratio_pips"`
}

func (e *MarketAdded) EventType() Type        { return TypeMarketAdded }
func (e *MarketAdded) IdempotencyKey() string { return e.EventID.String() }
func (e *MarketAdded) MarketID() string       { return e.Market }

// PnlSettled records a sweep of owed realized PnL into custody.
type PnlSettled struct {
	EventID uuid.UUID `json:"event_id"`
	Trader  uuid.UUID `json:"trader"`
	Amount  *big.Int  `json:"amount"`
}

func (e *PnlSettled) EventType() Type        { return TypePnlSettled }
func (e *PnlSettled) IdempotencyKey() string { return e.EventID.String() }
func (e *PnlSettled) MarketID() string       { return "" }
