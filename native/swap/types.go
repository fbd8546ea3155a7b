package swap

import (
	"strings"
	"time"
)

// Vault holds one liquidity provider's balance and trading parameters for a
// single asset. A provider owns at most one vault per asset.
type Vault struct {
	Owner             string
	Asset             string
	Amount            uint64
	BuyFeeBps         uint32
	SellFeeBps        uint32
	Min               uint64
	Max               uint64
	ReceiveEnabled    bool
	ProvideEnabled    bool
	LimitPrice        uint64
	LimitPriceEnabled bool
	Delegate          string
	LastUpdate        int64
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// Authorized reports whether the caller may mutate the vault's configuration
// or withdraw from it.
func (v *Vault) Authorized(caller string) bool {
	if v == nil {
		return false
	}
	principal := normalisePrincipal(caller)
	if principal == "" {
		return false
	}
	if principal == normalisePrincipal(v.Owner) {
		return true
	}
	delegate := normalisePrincipal(v.Delegate)
	return delegate != "" && principal == delegate
}

// VaultParams captures the owner-configurable subset of a vault. Balance is
// never part of a parameter update.
type VaultParams struct {
	BuyFeeBps         uint32
	SellFeeBps        uint32
	Min               uint64
	Max               uint64
	ReceiveEnabled    bool
	ProvideEnabled    bool
	LimitPrice        uint64
	LimitPriceEnabled bool
	Delegate          string
}

// Validate rejects parameter sets that cannot be stored.
func (p VaultParams) Validate() error {
	if p.BuyFeeBps > basisPointDenominator || p.SellFeeBps > basisPointDenominator {
		return ErrInvalidParams
	}
	if p.Max != 0 && p.Min > p.Max {
		return ErrInvalidParams
	}
	return nil
}

// CoinPrice is the canonical oracle record for one asset symbol.
type CoinPrice struct {
	Symbol       string
	Decimals     uint8
	Price        uint64
	SourcePrices [maxPriceSources]uint64
	LastUpdate   int64
}

// Clone returns a deep copy of the price record.
func (c *CoinPrice) Clone() *CoinPrice {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// GlobalState is the process-wide registry: the admin principal and the
// ordered set of registered asset symbols.
type GlobalState struct {
	Admin   string
	Symbols []string
}

// Clone returns a deep copy of the registry.
func (g *GlobalState) Clone() *GlobalState {
	if g == nil {
		return nil
	}
	clone := *g
	clone.Symbols = append([]string{}, g.Symbols...)
	return &clone
}

// HasSymbol reports whether the symbol has been registered.
func (g *GlobalState) HasSymbol(symbol string) bool {
	if g == nil {
		return false
	}
	needle := normaliseSymbol(symbol)
	for _, sym := range g.Symbols {
		if sym == needle {
			return true
		}
	}
	return false
}

// Fill is one vault pair's contribution to an allocation plan.
type Fill struct {
	Owner     string
	AmountIn  uint64
	AmountOut uint64
	FeeBps    uint32
	Rate      uint64
}

// AllocationPlan is the ordered multi-vault fill produced by matching. The
// recorded account versions pin the vault states the plan was computed
// against so settlement can detect concurrent mutations.
type AllocationPlan struct {
	Requester    string
	AssetIn      string
	AssetOut     string
	AmountIn     uint64
	MinAmountOut uint64
	TotalOut     uint64
	Fills        []Fill
	versions     map[string]uint64
}

// Clone returns a deep copy of the plan.
func (p *AllocationPlan) Clone() *AllocationPlan {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Fills = append([]Fill{}, p.Fills...)
	if p.versions != nil {
		clone.versions = make(map[string]uint64, len(p.versions))
		for k, v := range p.versions {
			clone.versions[k] = v
		}
	}
	return &clone
}

// Receipt proves a committed swap.
type Receipt struct {
	ID          string
	Requester   string
	AssetIn     string
	AssetOut    string
	AmountIn    uint64
	AmountOut   uint64
	Fills       []Fill
	CommittedAt time.Time
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func normalisePrincipal(principal string) string {
	return strings.ToLower(strings.TrimSpace(principal))
}
