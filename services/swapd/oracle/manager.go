package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"swapnet/observability"

	swap "swapnet/native/swap"
	"swapnet/services/swapd/storage"
)

// Aggregator is the subset of the swap oracle the manager drives.
type Aggregator interface {
	Update(ctx context.Context, symbol string) (*swap.CoinPrice, error)
}

// Manager polls upstream feeds for every registered symbol on a fixed
// interval and records each aggregated price into the history store.
type Manager struct {
	logger     *slog.Logger
	aggregator Aggregator
	storage    *storage.Storage
	symbols    []string
	interval   time.Duration
	policy     string
	metrics    *observability.OracleMetrics
	once       sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// New constructs a manager instance. The history store is optional; when nil
// aggregated prices are not archived.
func New(agg Aggregator, store *storage.Storage, symbols []string, interval time.Duration, policy string, opts ...Option) (*Manager, error) {
	if agg == nil {
		return nil, fmt.Errorf("aggregator required")
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	mgr := &Manager{
		logger:     slog.Default(),
		aggregator: agg,
		storage:    store,
		symbols:    append([]string{}, symbols...),
		interval:   interval,
		policy:     policy,
		metrics:    observability.Oracle(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, polling upstream feeds until the context is cancelled. The
// first cycle runs immediately so prices are available before the first tick.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("oracle manager started",
			"symbols", len(m.symbols), "interval", m.interval.String())
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("oracle tick", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single aggregation cycle across all configured symbols. A
// stale symbol does not abort the cycle; the last error is returned once
// every symbol has been attempted.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	var lastErr error
	for _, symbol := range m.symbols {
		if err := m.processSymbol(ctx, symbol); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) processSymbol(ctx context.Context, symbol string) error {
	price, err := m.aggregator.Update(ctx, symbol)
	m.metrics.ObserveUpdate(symbol, err)
	if err != nil {
		if errors.Is(err, swap.ErrStalePrice) {
			m.logger.Warn("all price sources stale", "symbol", symbol)
			return nil
		}
		return fmt.Errorf("update %s: %w", symbol, err)
	}
	if m.storage == nil {
		return nil
	}
	if err := m.storage.RecordSnapshot(ctx, *price, m.policy); err != nil {
		m.logger.Warn("record snapshot", "symbol", symbol, "error", err)
	}
	return nil
}
