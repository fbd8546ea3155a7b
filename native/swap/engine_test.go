package swap

import (
	"context"
	"errors"
	"testing"
)

func TestRequestSwapSettlesGoldenOrder(t *testing.T) {
	env := newTestEnv(t)
	env.addProvider(t, "lp1", 300, 100, 300_000_000_000, 0, 0)
	if err := env.vaults.CreditHolding("alice", "SOL", 2_000_000_000); err != nil {
		t.Fatalf("credit: %v", err)
	}

	receipt, err := env.engine.RequestSwap(context.Background(), "alice", "SOL", "USDC", 2_000_000_000, 288_000_000_000)
	if err != nil {
		t.Fatalf("request swap: %v", err)
	}
	if receipt.ID == "" {
		t.Fatal("receipt missing identifier")
	}
	if want := uint64(288_118_811_880); receipt.AmountOut != want {
		t.Fatalf("amount out = %d, want %d", receipt.AmountOut, want)
	}

	// Requester holdings moved by the plan totals.
	if balance, _ := env.vaults.Holding("alice", "SOL"); balance != 0 {
		t.Fatalf("requester SOL holding = %d", balance)
	}
	if balance, _ := env.vaults.Holding("alice", "USDC"); balance != 288_118_811_880 {
		t.Fatalf("requester USDC holding = %d", balance)
	}

	// Provider vaults moved by the fill amounts.
	inVault, err := env.vaults.Vault("lp1", "SOL")
	if err != nil {
		t.Fatalf("provider SOL vault: %v", err)
	}
	if inVault.Amount != 2_000_000_000 {
		t.Fatalf("provider SOL vault = %d", inVault.Amount)
	}
	outVault, err := env.vaults.Vault("lp1", "USDC")
	if err != nil {
		t.Fatalf("provider USDC vault: %v", err)
	}
	if outVault.Amount != 300_000_000_000-288_118_811_880 {
		t.Fatalf("provider USDC vault = %d", outVault.Amount)
	}
}

func TestRequestSwapInsufficientBalanceLeavesState(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	env.addProvider(t, "lp1", 0, 0, 1_000_000, 0, 0)
	if err := env.vaults.CreditHolding("alice", "SOL", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_, err := env.engine.RequestSwap(context.Background(), "alice", "SOL", "USDC", 500, 0)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if balance, _ := env.vaults.Holding("alice", "SOL"); balance != 100 {
		t.Fatalf("holding mutated: %d", balance)
	}
	vault, err := env.vaults.Vault("lp1", "USDC")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if vault.Amount != 1_000_000 {
		t.Fatalf("provider vault mutated: %d", vault.Amount)
	}
}

func TestCommitDetectsConcurrentVaultChange(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	env.addProvider(t, "lp1", 0, 0, 1_000_000, 0, 0)
	if err := env.vaults.CreditHolding("alice", "SOL", 10_000); err != nil {
		t.Fatalf("credit: %v", err)
	}

	plan, err := env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 10_000, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	// Another writer touches the out vault between match and commit.
	if err := env.ledger.bump(vaultKey("lp1", "USDC")); err != nil {
		t.Fatalf("bump: %v", err)
	}

	if _, err := env.engine.Commit(context.Background(), plan); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("err = %v, want ErrConcurrentModification", err)
	}
	if balance, _ := env.vaults.Holding("alice", "SOL"); balance != 10_000 {
		t.Fatalf("holding mutated: %d", balance)
	}

	// Re-matching against the fresh snapshot succeeds.
	plan, err = env.matcher.Match(context.Background(), "alice", "SOL", "USDC", 10_000, 0)
	if err != nil {
		t.Fatalf("rematch: %v", err)
	}
	if _, err := env.engine.Commit(context.Background(), plan); err != nil {
		t.Fatalf("commit after rematch: %v", err)
	}
}

func TestCommitConservation(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "SOL", 1_000_000_000)
	env.addProvider(t, "lp1", 0, 0, 600_000, 0, 300_000)
	env.addProvider(t, "lp2", 50, 0, 600_000, 0, 0)
	if err := env.vaults.CreditHolding("alice", "SOL", 500_000); err != nil {
		t.Fatalf("credit: %v", err)
	}

	receipt, err := env.engine.RequestSwap(context.Background(), "alice", "SOL", "USDC", 500_000, 0)
	if err != nil {
		t.Fatalf("request swap: %v", err)
	}
	if len(receipt.Fills) != 2 {
		t.Fatalf("fills = %+v", receipt.Fills)
	}

	// Every unit the requester paid sits in the providers' SOL vaults and
	// every USDC unit they received left the providers' USDC vaults.
	var providerSol, providerUsdcDelta uint64
	for _, owner := range []string{"lp1", "lp2"} {
		inVault, err := env.vaults.Vault(owner, "SOL")
		if err != nil {
			t.Fatalf("vault %s: %v", owner, err)
		}
		providerSol += inVault.Amount
		outVault, err := env.vaults.Vault(owner, "USDC")
		if err != nil {
			t.Fatalf("vault %s: %v", owner, err)
		}
		providerUsdcDelta += 600_000 - outVault.Amount
	}
	if providerSol != 500_000 {
		t.Fatalf("provider SOL total = %d, want 500000", providerSol)
	}
	requesterUsdc, _ := env.vaults.Holding("alice", "USDC")
	if providerUsdcDelta != requesterUsdc {
		t.Fatalf("USDC created or destroyed: providers -%d, requester +%d", providerUsdcDelta, requesterUsdc)
	}
	if requesterUsdc != receipt.AmountOut {
		t.Fatalf("receipt total %d, holding %d", receipt.AmountOut, requesterUsdc)
	}
}

func TestCommitRejectsEmptyPlan(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Commit(context.Background(), &AllocationPlan{}); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}
}
