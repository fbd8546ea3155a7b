package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	swap "swapnet/native/swap"
)

// Storage wraps the swapd history layer: committed swap receipts and the
// oracle price snapshots observed by the polling loop.
type Storage struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("swapd storage path must be configured")

	// ErrNotFound is returned when a requested history record does not exist.
	ErrNotFound = errors.New("swapd storage: record not found")
)

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

// FileDSN converts a filesystem path into an on-disk SQLite DSN with sensible
// defaults. Callers must ensure the path is non-empty.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSnapshot stores the canonical price picked by the aggregator together
// with the raw per-source readings.
func (s *Storage) RecordSnapshot(ctx context.Context, price swap.CoinPrice, policy string) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	sources := make([]string, 0, len(price.SourcePrices))
	for _, p := range price.SourcePrices {
		sources = append(sources, fmt.Sprintf("%d", p))
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_snapshots(symbol, price, source_prices, policy, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, price.Symbol, price.Price, strings.Join(sources, ","), strings.TrimSpace(policy), price.LastUpdate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Snapshot captures one aggregated oracle observation.
type Snapshot struct {
	Symbol         string
	Price          uint64
	SourcePrices   []string
	Policy         string
	ObservedAtUnix int64
	RecordedAt     time.Time
}

// LatestSnapshot returns the most recent aggregated price for the symbol.
func (s *Storage) LatestSnapshot(ctx context.Context, symbol string) (Snapshot, error) {
	result := Snapshot{}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT symbol, price, source_prices, policy, observed_at, recorded_at
        FROM oracle_snapshots
        WHERE symbol = ?
        ORDER BY id DESC
        LIMIT 1
    `, strings.ToUpper(strings.TrimSpace(symbol)))
	var sources string
	if err := row.Scan(&result.Symbol, &result.Price, &sources, &result.Policy, &result.ObservedAtUnix, &result.RecordedAt); err != nil {
		if err == sql.ErrNoRows {
			return result, ErrNotFound
		}
		return result, fmt.Errorf("query snapshot: %w", err)
	}
	if sources != "" {
		result.SourcePrices = strings.Split(sources, ",")
	}
	return result, nil
}

// RecordReceipt persists a committed settlement for later audit.
func (s *Storage) RecordReceipt(ctx context.Context, receipt swap.Receipt) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	fills, err := json.Marshal(receipt.Fills)
	if err != nil {
		return fmt.Errorf("encode fills: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO swap_receipts(receipt_id, requester, asset_in, asset_out, amount_in, amount_out, fills, committed_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)
    `, receipt.ID, receipt.Requester, receipt.AssetIn, receipt.AssetOut,
		receipt.AmountIn, receipt.AmountOut, string(fills), receipt.CommittedAt)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// Receipt returns the stored settlement with the given identifier.
func (s *Storage) Receipt(ctx context.Context, id string) (swap.Receipt, error) {
	result := swap.Receipt{}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT receipt_id, requester, asset_in, asset_out, amount_in, amount_out, fills, committed_at
        FROM swap_receipts
        WHERE receipt_id = ?
    `, strings.TrimSpace(id))
	var fills string
	if err := row.Scan(&result.ID, &result.Requester, &result.AssetIn, &result.AssetOut,
		&result.AmountIn, &result.AmountOut, &fills, &result.CommittedAt); err != nil {
		if err == sql.ErrNoRows {
			return result, ErrNotFound
		}
		return result, fmt.Errorf("query receipt: %w", err)
	}
	if fills != "" {
		if err := json.Unmarshal([]byte(fills), &result.Fills); err != nil {
			return result, fmt.Errorf("decode fills: %w", err)
		}
	}
	return result, nil
}

// ReceiptsByRequester lists the most recent settlements for a principal.
func (s *Storage) ReceiptsByRequester(ctx context.Context, requester string, limit int) ([]swap.Receipt, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT receipt_id, requester, asset_in, asset_out, amount_in, amount_out, fills, committed_at
        FROM swap_receipts
        WHERE requester = ?
        ORDER BY id DESC
        LIMIT ?
    `, strings.ToLower(strings.TrimSpace(requester)), limit)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()
	receipts := make([]swap.Receipt, 0, limit)
	for rows.Next() {
		var receipt swap.Receipt
		var fills string
		if err := rows.Scan(&receipt.ID, &receipt.Requester, &receipt.AssetIn, &receipt.AssetOut,
			&receipt.AmountIn, &receipt.AmountOut, &fills, &receipt.CommittedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		if fills != "" {
			if err := json.Unmarshal([]byte(fills), &receipt.Fills); err != nil {
				return nil, fmt.Errorf("decode fills: %w", err)
			}
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return receipts, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS oracle_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    price INTEGER NOT NULL,
    source_prices TEXT NOT NULL,
    policy TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_snapshots_symbol_ts ON oracle_snapshots(symbol, observed_at);

CREATE TABLE IF NOT EXISTS swap_receipts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    receipt_id TEXT NOT NULL UNIQUE,
    requester TEXT NOT NULL,
    asset_in TEXT NOT NULL,
    asset_out TEXT NOT NULL,
    amount_in INTEGER NOT NULL,
    amount_out INTEGER NOT NULL,
    fills TEXT NOT NULL,
    committed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_swap_receipts_requester ON swap_receipts(requester, id);
`
