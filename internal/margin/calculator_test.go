package margin

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/account"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/oracle"
)

type feedMap map[string]oracle.PriceFeed

func (m feedMap) Feed(marketID string) (oracle.PriceFeed, bool) {
	f, ok := m[marketID]
	return f, ok
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func newTestCalc(feeds feedMap) (*Calculator, *account.Registry) {
	accounts := account.NewRegistry(5)
	calc := NewCalculator(Config{
		InitialMarginRatioPips: 100_000, // 10%
		DebtMarginRatioPips:    100_000,
		TwapIntervalSec:        900,
	}, accounts, feeds)
	return calc, accounts
}

func TestUnrealizedPnl(t *testing.T) {
	calc, accounts := newTestCalc(feedMap{"ETH-USD": oracle.NewStaticFeed(ether(160))})
	trader := uuid.New()

	// Long 1 base opened at 150 quote: quoteNet = -150.
	accounts.AddBalance(trader, "ETH-USD", ether(1), ether(-150), nil)

	pnl, err := calc.UnrealizedPnl(trader, "ETH-USD")
	if err != nil {
		t.Fatal(err)
	}
	if pnl.Cmp(ether(10)) != 0 {
		t.Errorf("pnl = %s, want %s", pnl, ether(10))
	}

	// Untouched market is flat.
	pnl, err = calc.UnrealizedPnl(uuid.New(), "ETH-USD")
	if err != nil {
		t.Fatal(err)
	}
	if pnl.Sign() != 0 {
		t.Errorf("fresh trader pnl = %s, want 0", pnl)
	}
}

func TestMarginRequirementPositionNotional(t *testing.T) {
	calc, accounts := newTestCalc(feedMap{"ETH-USD": oracle.NewStaticFeed(ether(150))})
	trader := uuid.New()

	accounts.AddBalance(trader, "ETH-USD", ether(2), ether(-300), nil)

	req, err := calc.MarginRequirement(trader)
	if err != nil {
		t.Fatal(err)
	}
	// 10% of 2*150 notional; the 300 quote debt yields the same base.
	if req.Cmp(ether(30)) != 0 {
		t.Errorf("requirement = %s, want %s", req, ether(30))
	}
}

func TestMarginRequirementDebtDominates(t *testing.T) {
	calc, accounts := newTestCalc(feedMap{"ETH-USD": oracle.NewStaticFeed(ether(150))})
	trader := uuid.New()

	// Maker-style exposure: debt on both sides, no net position.
	accounts.MintDebt(trader, "ETH-USD", true, ether(2))
	accounts.MintDebt(trader, "ETH-USD", false, ether(100))

	req, err := calc.MarginRequirement(trader)
	if err != nil {
		t.Fatal(err)
	}
	// Position notional is zero (mint is net-zero); debt value is
	// 2*150 + 100 = 400, so the debt base wins.
	if req.Cmp(ether(40)) != 0 {
		t.Errorf("requirement = %s, want %s", req, ether(40))
	}
}

func TestFreeCollateralConservativeBasis(t *testing.T) {
	calc, accounts := newTestCalc(feedMap{"ETH-USD": oracle.NewStaticFeed(ether(200))})
	trader := uuid.New()

	// Long 1 at 150, price now 200: +50 unrealized.
	accounts.AddBalance(trader, "ETH-USD", ether(1), ether(-150), nil)

	free, err := calc.FreeCollateral(trader, ether(100))
	if err != nil {
		t.Fatal(err)
	}
	// Unrealized gain does not free collateral: basis is min(100, 150)
	// = 100, requirement 10% of 200.
	if free.Cmp(ether(80)) != 0 {
		t.Errorf("free = %s, want %s", free, ether(80))
	}
}

func TestFreeCollateralUnrealizedLossBites(t *testing.T) {
	calc, accounts := newTestCalc(feedMap{"ETH-USD": oracle.NewStaticFeed(ether(100))})
	trader := uuid.New()

	// Long 1 at 150, price dropped to 100: -50 unrealized.
	accounts.AddBalance(trader, "ETH-USD", ether(1), ether(-150), nil)

	free, err := calc.FreeCollateral(trader, ether(55))
	if err != nil {
		t.Fatal(err)
	}
	// Basis is min(55, 55-50) = 5; the 150 quote debt sets the
	// requirement at 15.
	if free.Cmp(ether(-10)) != 0 {
		t.Errorf("free = %s, want %s", free, ether(-10))
	}
	if err := calc.CheckFreeCollateral(trader, ether(55)); !errors.Is(err, ErrInsufficientMargin) {
		t.Errorf("got %v, want ErrInsufficientMargin", err)
	}
}

func TestMissingFeedFailsClosed(t *testing.T) {
	calc, accounts := newTestCalc(feedMap{})
	trader := uuid.New()

	accounts.AddBalance(trader, "ETH-USD", ether(1), ether(-150), nil)

	if _, err := calc.MarginRequirement(trader); !errors.Is(err, ErrNoPriceFeed) {
		t.Errorf("got %v, want ErrNoPriceFeed", err)
	}
	if _, err := calc.AccountValue(trader, ether(100)); !errors.Is(err, ErrNoPriceFeed) {
		t.Errorf("got %v, want ErrNoPriceFeed", err)
	}
}

func TestErroringFeedFailsClosed(t *testing.T) {
	feed := oracle.NewStaticFeed(ether(1))
	feed.SetPrice(big.NewInt(0)) // unpriceable
	calc, accounts := newTestCalc(feedMap{"ETH-USD": feed})
	trader := uuid.New()

	accounts.AddBalance(trader, "ETH-USD", ether(1), ether(-150), nil)

	if _, err := calc.FreeCollateral(trader, ether(100)); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Errorf("got %v, want ErrPriceUnavailable", err)
	}
}

func TestClosedMarketUsesSpotInterval(t *testing.T) {
	feed := oracle.NewStaticFeed(ether(120))
	feed.SetOpen(false)
	calc, accounts := newTestCalc(feedMap{"ETH-USD": feed})
	trader := uuid.New()

	accounts.AddBalance(trader, "ETH-USD", ether(1), ether(-100), nil)

	pnl, err := calc.UnrealizedPnl(trader, "ETH-USD")
	if err != nil {
		t.Fatal(err)
	}
	if pnl.Cmp(ether(20)) != 0 {
		t.Errorf("pnl = %s, want %s", pnl, ether(20))
	}
}
