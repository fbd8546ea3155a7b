package swap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ExternalPriceFeed resolves one upstream reading for a symbol. Sources are
// addressed by index in priority order; index zero is the primary feed.
type ExternalPriceFeed interface {
	ReadPrice(ctx context.Context, symbol string, sourceIndex int) (uint64, time.Time, error)
}

// OracleAggregator maintains the canonical price per registered symbol from
// up to three independent sources. Updates for different symbols proceed in
// parallel; updates for the same symbol serialize so a slow writer cannot
// regress the record to a stale value.
type OracleAggregator struct {
	ledger Ledger
	feed   ExternalPriceFeed
	policy string
	maxAge time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	symbols map[string]*sync.Mutex
}

// NewOracleAggregator constructs an aggregator bound to the ledger and feed
// collaborators.
func NewOracleAggregator(ledger Ledger, feed ExternalPriceFeed, cfg Config) *OracleAggregator {
	cfg = cfg.Normalise()
	return &OracleAggregator{
		ledger:  ledger,
		feed:    feed,
		policy:  cfg.OraclePolicy,
		maxAge:  cfg.MaxPriceAge(),
		clock:   time.Now,
		symbols: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source, primarily for deterministic testing.
func (o *OracleAggregator) SetClock(clock func() time.Time) {
	if o == nil || clock == nil {
		return
	}
	o.clock = clock
}

func (o *OracleAggregator) symbolLock(symbol string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.symbols[symbol]
	if !ok {
		lock = &sync.Mutex{}
		o.symbols[symbol] = lock
	}
	return lock
}

// Update refreshes the canonical price for the symbol from the configured
// sources. When no source yields a fresh non-zero reading the update fails
// with ErrStalePrice and the stored record is left untouched; the canonical
// price is never overwritten with zero. Callers decide whether to retry.
func (o *OracleAggregator) Update(ctx context.Context, symbol string) (*CoinPrice, error) {
	if o == nil || o.ledger == nil || o.feed == nil {
		return nil, fmt.Errorf("oracle aggregator not configured")
	}
	sym := normaliseSymbol(symbol)
	if sym == "" {
		return nil, fmt.Errorf("oracle: symbol required")
	}
	lock := o.symbolLock(sym)
	lock.Lock()
	defer lock.Unlock()

	record, version, ok, err := loadCoinPrice(o.ledger, sym)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownAsset
	}

	now := o.clock()
	cutoff := now.Add(-o.maxAge)
	valid := make([]uint64, 0, maxPriceSources)
	for i := 0; i < maxPriceSources; i++ {
		value, observed, err := o.feed.ReadPrice(ctx, sym, i)
		if err != nil || value == 0 {
			record.SourcePrices[i] = 0
			continue
		}
		record.SourcePrices[i] = value
		if o.maxAge > 0 && observed.Before(cutoff) {
			continue
		}
		valid = append(valid, value)
	}
	if len(valid) == 0 {
		return nil, ErrStalePrice
	}

	switch o.policy {
	case PolicyMedianOfValid:
		record.Price = medianPrice(valid)
	default:
		record.Price = valid[0]
	}
	record.LastUpdate = now.Unix()

	data, err := encodeCoinPrice(record)
	if err != nil {
		return nil, err
	}
	if err := o.ledger.WriteAccountsAtomic([]AccountWrite{{ID: priceKey(sym), Data: data, ExpectedVersion: version}}); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Price returns the stored canonical record for the symbol.
func (o *OracleAggregator) Price(symbol string) (*CoinPrice, error) {
	if o == nil || o.ledger == nil {
		return nil, fmt.Errorf("oracle aggregator not configured")
	}
	record, _, ok, err := loadCoinPrice(o.ledger, symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownAsset
	}
	return record, nil
}

// medianPrice returns the median of the readings, averaging the middle pair
// for even counts. The input order is preserved for the caller.
func medianPrice(values []uint64) uint64 {
	sorted := append([]uint64{}, values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1]/2 + sorted[mid]/2 + (sorted[mid-1]%2+sorted[mid]%2)/2
}
