package market

import (
	"errors"
	"fmt"
	"sort"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/pool"
)

var (
	ErrUnknownMarket = errors.New("unknown market")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrDuplicate     = errors.New("market already registered")
)

// Market identifies one trading pair. Immutable once registered.
type Market struct {
	ID         string
	BaseToken  string
	QuoteToken string
	// FeeRatioPips is the protocol fee charged on the quote leg of every
	// swap, in parts-per-million (10000 = 1%).
	FeeRatioPips uint64

	Pool *pool.Pool
}

// Registry is the admin-gated market table. The owner handle is fixed at
// construction; AddMarket from anyone else fails with ErrUnauthorized.
type Registry struct {
	owner   string
	markets map[string]*Market
}

func NewRegistry(owner string) *Registry {
	return &Registry{
		owner:   owner,
		markets: make(map[string]*Market),
	}
}

// AddMarket registers a new market with a fresh pool. Admin only.
func (r *Registry) AddMarket(caller, id, baseToken, quoteToken string, feeRatioPips uint64) (*Market, error) {
	if caller != r.owner {
		return nil, fmt.Errorf("%w: caller %s is not the owner", ErrUnauthorized, caller)
	}
	if id == "" || baseToken == "" || quoteToken == "" {
		return nil, fmt.Errorf("add market: empty identifier")
	}
	if _, ok := r.markets[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	m := &Market{
		ID:           id,
		BaseToken:    baseToken,
		QuoteToken:   quoteToken,
		FeeRatioPips: feeRatioPips,
		Pool:         pool.New(feeRatioPips),
	}
	r.markets[id] = m
	return m, nil
}

// Get returns a registered market.
func (r *Registry) Get(id string) (*Market, error) {
	m, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}
	return m, nil
}

// Has reports whether a market is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.markets[id]
	return ok
}

// IDs returns all market identifiers in deterministic order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.markets))
	for id := range r.markets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
