package clearing

import (
	"encoding/json"
	"time"
)

// balanceExport is the serializable form of one trader/market record.
type balanceExport struct {
	Trader          string `json:"trader"`
	Market          string `json:"market"`
	BaseAvailable   string `json:"base_available"`
	BaseDebt        string `json:"base_debt"`
	QuoteAvailable  string `json:"quote_available"`
	QuoteDebt       string `json:"quote_debt"`
	OwedRealizedPnl string `json:"owed_realized_pnl"`
}

type orderExport struct {
	Trader               string `json:"trader"`
	Market               string `json:"market"`
	LowerTick            int    `json:"lower_tick"`
	UpperTick            int    `json:"upper_tick"`
	Liquidity            string `json:"liquidity"`
	LastFeeGrowthInside  string `json:"last_fee_growth_inside_x128"`
}

type marketExport struct {
	ID           string `json:"id"`
	BaseToken    string `json:"base_token"`
	QuoteToken   string `json:"quote_token"`
	FeeRatioPips uint64 `json:"fee_ratio_pips"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Tick         int    `json:"tick"`
	Liquidity    string `json:"liquidity"`
}

type stateExport struct {
	Markets   []marketExport  `json:"markets"`
	Balances  []balanceExport `json:"balances"`
	Orders    []orderExport   `json:"orders"`
	CreatedAt time.Time       `json:"created_at"`
}

// MarshalState serializes the engine's account, order, and market
// state to JSON for audit snapshots. Big integers are encoded as
// decimal strings.
func (e *Engine) MarshalState() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	export := stateExport{CreatedAt: time.Now().UTC()}

	for _, id := range e.markets.IDs() {
		m, err := e.markets.Get(id)
		if err != nil {
			continue
		}
		export.Markets = append(export.Markets, marketExport{
			ID:           m.ID,
			BaseToken:    m.BaseToken,
			QuoteToken:   m.QuoteToken,
			FeeRatioPips: m.FeeRatioPips,
			SqrtPriceX96: m.Pool.SqrtPriceX96().Dec(),
			Tick:         m.Pool.CurrentTick(),
			Liquidity:    m.Pool.Liquidity().Dec(),
		})
	}

	for _, rec := range e.accounts.Export() {
		export.Balances = append(export.Balances, balanceExport{
			Trader:          rec.Trader.String(),
			Market:          rec.Market,
			BaseAvailable:   rec.Info.Base.Available.String(),
			BaseDebt:        rec.Info.Base.Debt.String(),
			QuoteAvailable:  rec.Info.Quote.Available.String(),
			QuoteDebt:       rec.Info.Quote.Debt.String(),
			OwedRealizedPnl: rec.Info.OwedRealizedPnl.String(),
		})
	}

	for _, key := range e.orders.AllKeys() {
		order := e.orders.Get(key)
		if order == nil {
			continue
		}
		export.Orders = append(export.Orders, orderExport{
			Trader:              key.Trader.String(),
			Market:              key.Market,
			LowerTick:           key.LowerTick,
			UpperTick:           key.UpperTick,
			Liquidity:           order.Liquidity.Dec(),
			LastFeeGrowthInside: order.LastFeeGrowthInsideX128.Dec(),
		})
	}

	return json.Marshal(export)
}
