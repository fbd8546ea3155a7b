package swap

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"
)

// Matcher ranks eligible vault pairs and greedily allocates an incoming
// order across them. Matching is a pure read over a snapshot of vault state
// and may run unboundedly in parallel with other matches; only settlement
// mutates shared state.
type Matcher struct {
	ledger       Ledger
	oracle       *OracleAggregator
	weightAmount uint64
	weightTime   uint64
	clock        func() time.Time
}

// NewMatcher constructs a matcher bound to the ledger and oracle.
func NewMatcher(ledger Ledger, oracle *OracleAggregator, cfg Config) *Matcher {
	cfg = cfg.Normalise()
	return &Matcher{
		ledger:       ledger,
		oracle:       oracle,
		weightAmount: cfg.WeightAmount,
		weightTime:   cfg.WeightTime,
		clock:        time.Now,
	}
}

// SetClock overrides the time source, primarily for deterministic testing.
func (m *Matcher) SetClock(clock func() time.Time) {
	if m == nil || clock == nil {
		return
	}
	m.clock = clock
}

// candidate is one provider's vault pair: the out vault supplying the asset
// the requester buys and the in vault absorbing the asset they sell.
type candidate struct {
	out        *Vault
	in         *Vault
	outVersion uint64
	inVersion  uint64
	feeBps     uint32
	score      *uint256.Int
	key        []byte
}

// Match produces an allocation plan for the order or fails without side
// effects. The ranked walk is a deterministic total order: ascending total
// fee, then descending amount/recency score, then the stable vault key.
func (m *Matcher) Match(ctx context.Context, requester, assetIn, assetOut string, amountIn, minAmountOut uint64) (*AllocationPlan, error) {
	if m == nil || m.ledger == nil || m.oracle == nil {
		return nil, fmt.Errorf("matcher not initialised")
	}
	if amountIn == 0 {
		return nil, ErrInvalidAmount
	}
	symIn := normaliseSymbol(assetIn)
	symOut := normaliseSymbol(assetOut)
	principal := normalisePrincipal(requester)
	if symIn == "" || symOut == "" || symIn == symOut || principal == "" {
		return nil, fmt.Errorf("matcher: requester and distinct assets required")
	}
	priceIn, err := m.canonicalPrice(symIn)
	if err != nil {
		return nil, err
	}
	priceOut, err := m.canonicalPrice(symOut)
	if err != nil {
		return nil, err
	}

	now := m.clock().Unix()
	candidates, err := m.eligible(principal, symIn, symOut, priceIn, priceOut, now)
	if err != nil {
		return nil, err
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.feeBps != b.feeBps {
			return a.feeBps < b.feeBps
		}
		if cmp := a.score.Cmp(b.score); cmp != 0 {
			return cmp > 0
		}
		return bytes.Compare(a.key, b.key) < 0
	})

	plan := &AllocationPlan{
		Requester:    principal,
		AssetIn:      symIn,
		AssetOut:     symOut,
		AmountIn:     amountIn,
		MinAmountOut: minAmountOut,
		versions:     make(map[string]uint64),
	}
	remaining := amountIn
	for _, cand := range candidates {
		if remaining == 0 {
			break
		}
		rate := SwapRate(priceIn, priceOut, cand.in.BuyFeeBps, cand.out.SellFeeBps)
		if rate == 0 {
			continue
		}
		contribution, amountOut, ok := allocate(cand.out, remaining, rate)
		if !ok {
			continue
		}
		plan.Fills = append(plan.Fills, Fill{
			Owner:     cand.out.Owner,
			AmountIn:  contribution,
			AmountOut: amountOut,
			FeeBps:    cand.feeBps,
			Rate:      rate,
		})
		plan.versions[string(vaultKey(cand.out.Owner, symOut))] = cand.outVersion
		plan.versions[string(vaultKey(cand.in.Owner, symIn))] = cand.inVersion
		plan.TotalOut += amountOut
		remaining -= contribution
	}
	if remaining > 0 {
		return nil, ErrInsufficientLiquidity
	}
	if plan.TotalOut < minAmountOut {
		return nil, ErrSlippageExceeded
	}
	return plan, nil
}

func (m *Matcher) canonicalPrice(symbol string) (uint64, error) {
	record, err := m.oracle.Price(symbol)
	if err != nil {
		return 0, err
	}
	if record.Price == 0 {
		return 0, ErrStalePrice
	}
	return record.Price, nil
}

// eligible enumerates the vault pairs able to back the order: the provider
// must sell the out asset, hold a receiving vault for the in asset, clear
// any limit-price gates and not be the requester.
func (m *Matcher) eligible(requester, symIn, symOut string, priceIn, priceOut uint64, now int64) ([]candidate, error) {
	records, err := m.ledger.ListAccounts(vaultKeyPrefix)
	if err != nil {
		return nil, err
	}
	candidates := make([]candidate, 0, len(records))
	for _, record := range records {
		out, err := decodeVault(record.State.Data)
		if err != nil {
			return nil, err
		}
		if out.Asset != symOut || !out.ProvideEnabled || out.Amount == 0 {
			continue
		}
		if out.Owner == requester {
			continue
		}
		if out.LimitPriceEnabled && priceOut < out.LimitPrice {
			continue
		}
		in, inVersion, ok, err := loadVault(m.ledger, out.Owner, symIn)
		if err != nil {
			return nil, err
		}
		if !ok || !in.ReceiveEnabled {
			continue
		}
		if in.LimitPriceEnabled && priceIn > in.LimitPrice {
			continue
		}
		candidates = append(candidates, candidate{
			out:        out,
			in:         in,
			outVersion: record.State.Version,
			inVersion:  inVersion,
			feeBps:     in.BuyFeeBps + out.SellFeeBps,
			score:      m.rankScore(out, now),
			key:        append([]byte{}, record.ID...),
		})
	}
	return candidates, nil
}

// rankScore orders providers within an equal-fee group: larger balances and
// staler vaults fill first. The 256-bit accumulator keeps weighted sums from
// wrapping.
func (m *Matcher) rankScore(out *Vault, now int64) *uint256.Int {
	score := new(uint256.Int).Mul(uint256.NewInt(out.Amount), uint256.NewInt(m.weightAmount))
	if now > out.LastUpdate {
		age := new(uint256.Int).Mul(uint256.NewInt(uint64(now-out.LastUpdate)), uint256.NewInt(m.weightTime))
		score.Add(score, age)
	}
	return score
}

// allocate computes one vault's contribution in input units and its priced
// output. The contribution never exceeds the vault's per-fill maximum, never
// drops below its stated minimum and never strands a nonzero residual
// balance under that minimum.
func allocate(out *Vault, remaining, rate uint64) (uint64, uint64, bool) {
	cap := out.Amount
	if out.Max != 0 && out.Max < cap {
		cap = out.Max
	}
	contribution := remaining
	if contribution > cap {
		contribution = cap
	}
	contribution, ok := clipToMin(out, contribution)
	if !ok {
		return 0, 0, false
	}
	amountOut := SwapOutput(contribution, rate)
	if amountOut == 0 {
		return 0, 0, false
	}
	if amountOut > out.Amount {
		// The priced output cannot overdraw the vault; shrink the
		// contribution through the inverse rate and re-apply the bounds.
		contribution = mulDiv(out.Amount, RateScale, rate)
		contribution, ok = clipToMin(out, contribution)
		if !ok {
			return 0, 0, false
		}
		amountOut = SwapOutput(contribution, rate)
		if amountOut == 0 || amountOut > out.Amount {
			return 0, 0, false
		}
	}
	return contribution, amountOut, true
}

func clipToMin(out *Vault, contribution uint64) (uint64, bool) {
	if contribution == 0 {
		return 0, false
	}
	if residual := out.Amount - min64(contribution, out.Amount); residual > 0 && residual < out.Min {
		if out.Amount <= out.Min {
			return 0, false
		}
		contribution = out.Amount - out.Min
	}
	if contribution < out.Min {
		return 0, false
	}
	return contribution, true
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
