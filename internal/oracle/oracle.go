package oracle

import (
	"errors"
	"math/big"
	"sync"
)

var ErrPriceUnavailable = errors.New("index price unavailable")

// PriceFeed is the per-market index price collaborator. Prices are 1e18
// fixed point in quote per base. A feed that cannot produce a fresh
// price must return ErrPriceUnavailable; consumers fail closed on it.
type PriceFeed interface {
	// GetIndexPrice returns the time-weighted index price over the given
	// interval in seconds (0 = spot).
	GetIndexPrice(twapIntervalSec uint32) (*big.Int, error)
	// IsMarketOpen reports whether the underlying market is trading.
	IsMarketOpen() bool
}

// StaticFeed is a settable in-memory feed used in tests and local runs.
type StaticFeed struct {
	mu    sync.RWMutex
	price *big.Int
	open  bool
}

func NewStaticFeed(price *big.Int) *StaticFeed {
	return &StaticFeed{price: new(big.Int).Set(price), open: true}
}

func (f *StaticFeed) SetPrice(price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Set(price)
}

func (f *StaticFeed) SetOpen(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = open
}

func (f *StaticFeed) GetIndexPrice(twapIntervalSec uint32) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil || f.price.Sign() <= 0 {
		return nil, ErrPriceUnavailable
	}
	return new(big.Int).Set(f.price), nil
}

func (f *StaticFeed) IsMarketOpen() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.open
}
