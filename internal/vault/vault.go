package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/observability"
)

var (
	ErrZeroAmount          = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient vault balance")
	ErrNotFreeCollateral   = errors.New("withdrawal exceeds free collateral")
)

// MarginGate is the slice of the settlement engine the vault needs:
// sweeping owed realized PnL into custody and gating withdrawals on
// free collateral. The vault must not hold its own lock across these
// calls, the engine takes its lock internally.
type MarginGate interface {
	SettleOwedPnl(trader uuid.UUID) *big.Int
	FreeCollateral(trader uuid.UUID, collateralValue *big.Int) (*big.Int, error)
}

// Vault custodies the settlement token. Balances are held at the
// canonical 1e18 scale; Decimals reports the external token's scale
// for the deposit/withdraw edge.
type Vault struct {
	mu       sync.Mutex
	balances map[uuid.UUID]*big.Int
	decimals uint8

	gate    MarginGate
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func New(decimals uint8, gate MarginGate, logger zerolog.Logger, metrics *observability.Metrics) *Vault {
	return &Vault{
		balances: make(map[uuid.UUID]*big.Int),
		decimals: decimals,
		gate:     gate,
		logger:   logger,
		metrics:  metrics,
	}
}

// SettlementTokenDecimals reports the settlement token's decimals.
func (v *Vault) SettlementTokenDecimals() uint8 { return v.decimals }

// CollateralValue implements the engine's collateral source.
func (v *Vault) CollateralValue(trader uuid.UUID) *big.Int {
	return v.BalanceOf(trader)
}

// BalanceOf returns the trader's deposited balance.
func (v *Vault) BalanceOf(trader uuid.UUID) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.balances[trader]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

// Deposit credits settlement tokens to the trader.
func (v *Vault) Deposit(trader uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w", ErrZeroAmount)
	}
	v.mu.Lock()
	bal, ok := v.balances[trader]
	if !ok {
		bal = new(big.Int)
		v.balances[trader] = bal
	}
	bal.Add(bal, amount)
	v.mu.Unlock()

	v.logger.Info().
		Str("trader", trader.String()).
		Str("amount", amount.String()).
		Msg("deposit")
	if v.metrics != nil {
		v.metrics.VaultDeposits.Inc()
	}
	return nil
}

// Settle sweeps the trader's owed realized PnL from the engine into
// their vault balance and returns the settled amount. A negative
// balance after settling a loss is allowed, it is collected by the
// margin gate blocking further withdrawals.
func (v *Vault) Settle(trader uuid.UUID) *big.Int {
	settled := v.gate.SettleOwedPnl(trader)
	if settled.Sign() == 0 {
		return settled
	}
	v.mu.Lock()
	bal, ok := v.balances[trader]
	if !ok {
		bal = new(big.Int)
		v.balances[trader] = bal
	}
	bal.Add(bal, settled)
	v.mu.Unlock()
	return settled
}

// Withdraw settles owed PnL, then releases tokens if the remaining
// balance keeps free collateral non-negative.
func (v *Vault) Withdraw(trader uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w", ErrZeroAmount)
	}
	v.Settle(trader)

	balance := v.BalanceOf(trader)
	if balance.Cmp(amount) < 0 {
		if v.metrics != nil {
			v.metrics.VaultRejections.WithLabelValues("insufficient_balance").Inc()
		}
		return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, balance, amount)
	}
	remaining := new(big.Int).Sub(balance, amount)
	free, err := v.gate.FreeCollateral(trader, remaining)
	if err != nil {
		if v.metrics != nil {
			v.metrics.VaultRejections.WithLabelValues("price_unavailable").Inc()
		}
		return err
	}
	if free.Sign() < 0 {
		if v.metrics != nil {
			v.metrics.VaultRejections.WithLabelValues("free_collateral").Inc()
		}
		return fmt.Errorf("%w: free collateral would be %s", ErrNotFreeCollateral, free)
	}

	v.mu.Lock()
	if bal, ok := v.balances[trader]; ok {
		bal.Sub(bal, amount)
		if bal.Sign() == 0 {
			delete(v.balances, trader)
		}
	}
	v.mu.Unlock()

	v.logger.Info().
		Str("trader", trader.String()).
		Str("amount", amount.String()).
		Msg("withdraw")
	if v.metrics != nil {
		v.metrics.VaultWithdrawals.Inc()
	}
	return nil
}
