package swap

import (
	"context"
	"errors"
	"testing"
)

// testEnv wires a ledger, registry, vault store and matcher around fixed
// prices for SOL (150, scaled) and USDC (1, scaled).
type testEnv struct {
	ledger  *memLedger
	vaults  *VaultStore
	oracle  *OracleAggregator
	matcher *Matcher
	engine  *Engine
	now     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ledger := newMemLedger()
	registry := NewRegistry(ledger)
	if err := registry.Init("admin"); err != nil {
		t.Fatalf("init registry: %v", err)
	}
	for _, sym := range []string{"SOL", "USDC"} {
		if err := registry.RegisterAsset("admin", sym, 9); err != nil {
			t.Fatalf("register %s: %v", sym, err)
		}
	}
	env := &testEnv{
		ledger: ledger,
		vaults: NewVaultStore(ledger),
		now:    1_700_000_000,
	}
	env.vaults.SetClock(fixedClock(env.now))
	cfg := Config{WeightAmount: 1, WeightTime: 1}
	env.oracle = NewOracleAggregator(ledger, nil, cfg)
	env.matcher = NewMatcher(ledger, env.oracle, cfg)
	env.matcher.SetClock(fixedClock(env.now))
	env.engine = NewEngine(ledger, env.matcher)
	env.engine.SetClock(fixedClock(env.now))
	env.setPrice(t, "SOL", 150_000_000_000)
	env.setPrice(t, "USDC", 1_000_000_000)
	return env
}

func (e *testEnv) setPrice(t *testing.T, symbol string, price uint64) {
	t.Helper()
	record, version, ok, err := loadCoinPrice(e.ledger, symbol)
	if err != nil || !ok {
		t.Fatalf("load price %s: ok=%v err=%v", symbol, ok, err)
	}
	record.Price = price
	record.LastUpdate = e.now
	data, err := encodeCoinPrice(record)
	if err != nil {
		t.Fatalf("encode price: %v", err)
	}
	if err := e.ledger.WriteAccountsAtomic([]AccountWrite{{ID: priceKey(symbol), Data: data, ExpectedVersion: version}}); err != nil {
		t.Fatalf("write price: %v", err)
	}
}

// addProvider creates a SOL receiving vault and a funded USDC providing vault
// for the owner.
func (e *testEnv) addProvider(t *testing.T, owner string, buyFee, sellFee uint32, usdcAmount, min, max uint64) {
	t.Helper()
	if _, err := e.vaults.InitVault(owner, "SOL", VaultParams{BuyFeeBps: buyFee, ReceiveEnabled: true}); err != nil {
		t.Fatalf("init %s/SOL: %v", owner, err)
	}
	if _, err := e.vaults.InitVault(owner, "USDC", VaultParams{SellFeeBps: sellFee, Min: min, Max: max, ProvideEnabled: true}); err != nil {
		t.Fatalf("init %s/USDC: %v", owner, err)
	}
	if usdcAmount == 0 {
		return
	}
	if err := e.vaults.CreditHolding(owner, "USDC", usdcAmount); err != nil {
		t.Fatalf("credit %s: %v", owner, err)
	}
	if _, err := e.vaults.Deposit(owner, owner, "USDC", usdcAmount); err != nil {
		t.Fatalf("deposit %s: %v", owner, err)
	}
}

func TestMatchGoldenAllocation(t *testing.T) {
	env := newTestEnv(t)
	env.addProvider(t, "lp1", 300, 100, 300_000_000_000, 0, 0)

	plan, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 2_000_000_000, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(plan.Fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(plan.Fills))
	}
	fill := plan.Fills[0]
	if fill.Owner != "lp1" || fill.AmountIn != 2_000_000_000 {
		t.Fatalf("fill = %+v", fill)
	}
	if want := uint64(288_118_811_880); fill.AmountOut != want || plan.TotalOut != want {
		t.Fatalf("amount out = %d, want %d", fill.AmountOut, want)
	}
	if fill.FeeBps != 400 {
		t.Fatalf("fee = %d, want 400", fill.FeeBps)
	}
}

func TestMatchOrdersByFee(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	env.addProvider(t, "pricey", 100, 100, 1_000_000, 0, 0)
	env.addProvider(t, "cheap", 0, 0, 1_000_000, 0, 0)

	plan, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 500_000, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(plan.Fills) != 1 || plan.Fills[0].Owner != "cheap" {
		t.Fatalf("expected the zero-fee provider to fill first: %+v", plan.Fills)
	}
	// With equal prices and no fees the rate is identity.
	if plan.Fills[0].AmountOut != 500_000 {
		t.Fatalf("amount out = %d", plan.Fills[0].AmountOut)
	}
}

func TestMatchScoreBreaksFeeTies(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	env.addProvider(t, "small", 0, 0, 400_000, 0, 0)
	env.addProvider(t, "big", 0, 0, 900_000, 0, 0)

	plan, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 100_000, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(plan.Fills) != 1 || plan.Fills[0].Owner != "big" {
		t.Fatalf("expected the larger vault to rank first: %+v", plan.Fills)
	}
}

func TestMatchDeterministicKeyTiebreak(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	// Identical fees, balances and timestamps: the stable vault key decides.
	env.addProvider(t, "zeta", 0, 0, 500_000, 0, 0)
	env.addProvider(t, "alpha", 0, 0, 500_000, 0, 0)

	for i := 0; i < 3; i++ {
		plan, err := env.matcher.Match(context.Background(), "bob", "SOL", "USDC", 100_000, 0)
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if len(plan.Fills) != 1 || plan.Fills[0].Owner != "alpha" {
			t.Fatalf("iteration %d: fills = %+v", i, plan.Fills)
		}
	}
}

func TestMatchHonoursMaxAndSpills(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	env.addProvider(t, "capped", 0, 0, 1_000_000, 0, 100_000)
	env.addProvider(t, "open", 100, 0, 1_000_000, 0, 0)

	plan, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 250_000, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(plan.Fills) != 2 {
		t.Fatalf("fills = %+v", plan.Fills)
	}
	if plan.Fills[0].Owner != "capped" || plan.Fills[0].AmountIn != 100_000 {
		t.Fatalf("first fill = %+v", plan.Fills[0])
	}
	if plan.Fills[1].Owner != "open" || plan.Fills[1].AmountIn != 150_000 {
		t.Fatalf("second fill = %+v", plan.Fills[1])
	}
}

func TestMatchSkipsBelowMin(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	env.addProvider(t, "selective", 0, 0, 1_000_000, 500_000, 0)
	env.addProvider(t, "flexible", 100, 0, 1_000_000, 0, 0)

	// 200k is below the first provider's minimum fill, so the pricier
	// provider takes everything.
	plan, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 200_000, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(plan.Fills) != 1 || plan.Fills[0].Owner != "flexible" {
		t.Fatalf("fills = %+v", plan.Fills)
	}
}

func TestMatchNeverStrandsResidualBelowMin(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	env.addProvider(t, "lp1", 0, 0, 1_000_000, 300_000, 0)
	env.addProvider(t, "lp2", 100, 0, 1_000_000, 0, 0)

	// A naive fill of 800k would leave lp1 with 200k, below its own
	// minimum; the contribution is clipped to 700k instead.
	plan, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 800_000, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(plan.Fills) != 2 {
		t.Fatalf("fills = %+v", plan.Fills)
	}
	if plan.Fills[0].Owner != "lp1" || plan.Fills[0].AmountIn != 700_000 {
		t.Fatalf("clipped fill = %+v", plan.Fills[0])
	}
	if plan.Fills[1].AmountIn != 100_000 {
		t.Fatalf("spill fill = %+v", plan.Fills[1])
	}
}

func TestMatchAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	env.addProvider(t, "lp1", 0, 0, 100_000, 0, 0)

	_, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 500_000, 0)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestMatchSlippageGuard(t *testing.T) {
	env := newTestEnv(t)
	env.addProvider(t, "lp1", 300, 100, 300_000_000_000, 0, 0)

	_, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 2_000_000_000, 288_118_811_881)
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("err = %v, want ErrSlippageExceeded", err)
	}
}

func TestMatchIgnoresIneligibleVaults(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	// Provider that is the requester.
	env.addProvider(t, "alice", 0, 0, 1_000_000, 0, 0)
	// Provider with providing disabled on the out side.
	if _, err := env.vaults.InitVault("paused", "SOL", VaultParams{ReceiveEnabled: true}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := env.vaults.InitVault("paused", "USDC", VaultParams{ProvideEnabled: false}); err != nil {
		t.Fatalf("init: %v", err)
	}
	// Provider with no receiving vault for the in asset.
	if _, err := env.vaults.InitVault("deaf", "USDC", VaultParams{ProvideEnabled: true}); err != nil {
		t.Fatalf("init: %v", err)
	}

	_, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 10_000, 0)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestMatchLimitPriceGates(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)

	// The provider only sells USDC when its price is at least 2 (scaled);
	// at 1 the vault stays out of the match.
	if _, err := env.vaults.InitVault("guarded", "SOL", VaultParams{ReceiveEnabled: true}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := env.vaults.InitVault("guarded", "USDC", VaultParams{
		ProvideEnabled:    true,
		LimitPrice:        2_000_000_000,
		LimitPriceEnabled: true,
	}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := env.vaults.CreditHolding("guarded", "USDC", 1_000_000); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := env.vaults.Deposit("guarded", "guarded", "USDC", 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 10_000, 0); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}

	// Once the market reaches the limit the vault participates.
	env.setPrice(t, "USDC", 2_000_000_000)
	plan, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 10_000, 0)
	if err != nil {
		t.Fatalf("match after limit cleared: %v", err)
	}
	if len(plan.Fills) != 1 || plan.Fills[0].Owner != "guarded" {
		t.Fatalf("fills = %+v", plan.Fills)
	}
}

func TestMatchRejectsStalePrice(t *testing.T) {
	env := newTestEnv(t)
	env.addProvider(t, "lp1", 0, 0, 1_000_000, 0, 0)
	env.setPrice(t, "SOL", 0)

	if _, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 10_000, 0); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("err = %v, want ErrStalePrice", err)
	}
}

func TestMatchValidatesArguments(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 0, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v", err)
	}
	if _, err := env.matcher.Match(context.Background(), "alice", "SOL", "SOL", 1, 0); err == nil {
		t.Fatal("identical assets should fail")
	}
}
