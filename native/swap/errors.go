package swap

import "errors"

var (
	// ErrStalePrice is returned when no price source produced a fresh,
	// non-zero reading inside the configured age window.
	ErrStalePrice = errors.New("swap: price data is stale")
	// ErrAlreadyExists is returned when initialising a record that is
	// already present.
	ErrAlreadyExists = errors.New("swap: record already exists")
	// ErrInvalidAmount rejects zero-valued amounts.
	ErrInvalidAmount = errors.New("swap: amount must be positive")
	// ErrInvalidParams rejects vault parameter sets that cannot be stored.
	ErrInvalidParams = errors.New("swap: invalid vault parameters")
	// ErrInsufficientBalance is returned when a debit exceeds the available
	// balance.
	ErrInsufficientBalance = errors.New("swap: insufficient balance")
	// ErrUnauthorized is returned when the caller is neither the owner nor
	// the configured delegate.
	ErrUnauthorized = errors.New("swap: caller not authorized")
	// ErrInsufficientLiquidity is returned when eligible vaults cannot
	// absorb the full requested amount.
	ErrInsufficientLiquidity = errors.New("swap: insufficient liquidity")
	// ErrSlippageExceeded is returned when the computed output falls below
	// the requester's minimum.
	ErrSlippageExceeded = errors.New("swap: slippage limit exceeded")
	// ErrConcurrentModification is returned when a vault changed between
	// matching and settlement.
	ErrConcurrentModification = errors.New("swap: state modified concurrently")
	// ErrStaleState is the ledger-level version conflict wrapped by
	// storage backends.
	ErrStaleState = errors.New("swap: stale account version")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("swap: record not found")
	// ErrUnknownAsset is returned for symbols that were never registered.
	ErrUnknownAsset = errors.New("swap: unknown asset symbol")
)
