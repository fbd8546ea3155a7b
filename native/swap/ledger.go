package swap

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// AccountState is the opaque persisted form of one ledger account together
// with its optimistic-concurrency version. Version zero means the account
// has never been written.
type AccountState struct {
	Data    []byte
	Version uint64
}

// AccountWrite is one entry of an atomic write set. ExpectedVersion carries
// the version observed when the new state was computed; a mismatch at write
// time fails the entire batch.
type AccountWrite struct {
	ID              []byte
	Data            []byte
	ExpectedVersion uint64
}

// AccountRecord pairs an account identifier with its current state, as
// returned by prefix enumeration.
type AccountRecord struct {
	ID    []byte
	State AccountState
}

// Ledger is the external collaborator persisting all swap module accounts.
// Implementations must provide per-batch compare-and-write semantics: a
// WriteAccountsAtomic call applies every write or none, and fails with an
// error wrapping ErrStaleState when any account's version differs from the
// expected one.
type Ledger interface {
	ReadAccount(id []byte) (AccountState, bool, error)
	WriteAccountsAtomic(writes []AccountWrite) error
	ListAccounts(prefix []byte) ([]AccountRecord, error)
}

type storedVault struct {
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
	LastUpdate        uint64
}

type storedCoinPrice struct {
	Symbol       string
	Decimals     uint8
	Price        uint64
	SourcePrices []uint64
	LastUpdate   uint64
}

type storedHolding struct {
	Amount uint64
}

type storedGlobalState struct {
	Admin   string
	Symbols []string
}

func encodeVault(v *Vault) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("swap: nil vault")
	}
	stored := storedVault{
		Owner:             normalisePrincipal(v.Owner),
		Asset:             normaliseSymbol(v.Asset),
		Amount:            v.Amount,
		BuyFeeBps:         v.BuyFeeBps,
		SellFeeBps:        v.SellFeeBps,
		Min:               v.Min,
		Max:               v.Max,
		ReceiveEnabled:    v.ReceiveEnabled,
		ProvideEnabled:    v.ProvideEnabled,
		LimitPrice:        v.LimitPrice,
		LimitPriceEnabled: v.LimitPriceEnabled,
		Delegate:          normalisePrincipal(v.Delegate),
	}
	if v.LastUpdate > 0 {
		stored.LastUpdate = uint64(v.LastUpdate)
	}
	return rlp.EncodeToBytes(&stored)
}

func decodeVault(data []byte) (*Vault, error) {
	var stored storedVault
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("swap: decode vault: %w", err)
	}
	return &Vault{
		Owner:             stored.Owner,
		Asset:             stored.Asset,
		Amount:            stored.Amount,
		BuyFeeBps:         stored.BuyFeeBps,
		SellFeeBps:        stored.SellFeeBps,
		Min:               stored.Min,
		Max:               stored.Max,
		ReceiveEnabled:    stored.ReceiveEnabled,
		ProvideEnabled:    stored.ProvideEnabled,
		LimitPrice:        stored.LimitPrice,
		LimitPriceEnabled: stored.LimitPriceEnabled,
		Delegate:          stored.Delegate,
		LastUpdate:        int64(stored.LastUpdate),
	}, nil
}

func encodeCoinPrice(c *CoinPrice) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("swap: nil price record")
	}
	stored := storedCoinPrice{
		Symbol:       normaliseSymbol(c.Symbol),
		Decimals:     c.Decimals,
		Price:        c.Price,
		SourcePrices: append([]uint64{}, c.SourcePrices[:]...),
	}
	if c.LastUpdate > 0 {
		stored.LastUpdate = uint64(c.LastUpdate)
	}
	return rlp.EncodeToBytes(&stored)
}

func decodeCoinPrice(data []byte) (*CoinPrice, error) {
	var stored storedCoinPrice
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("swap: decode price: %w", err)
	}
	record := &CoinPrice{
		Symbol:     stored.Symbol,
		Decimals:   stored.Decimals,
		Price:      stored.Price,
		LastUpdate: int64(stored.LastUpdate),
	}
	for i := 0; i < len(stored.SourcePrices) && i < maxPriceSources; i++ {
		record.SourcePrices[i] = stored.SourcePrices[i]
	}
	return record, nil
}

func encodeHolding(amount uint64) ([]byte, error) {
	return rlp.EncodeToBytes(&storedHolding{Amount: amount})
}

func decodeHolding(data []byte) (uint64, error) {
	var stored storedHolding
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return 0, fmt.Errorf("swap: decode holding: %w", err)
	}
	return stored.Amount, nil
}

func encodeGlobalState(g *GlobalState) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("swap: nil global state")
	}
	stored := storedGlobalState{
		Admin:   normalisePrincipal(g.Admin),
		Symbols: append([]string{}, g.Symbols...),
	}
	return rlp.EncodeToBytes(&stored)
}

func decodeGlobalState(data []byte) (*GlobalState, error) {
	var stored storedGlobalState
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("swap: decode global state: %w", err)
	}
	return &GlobalState{Admin: stored.Admin, Symbols: stored.Symbols}, nil
}

// loadVault reads and decodes a vault account, returning the observed
// version for subsequent compare-and-write.
func loadVault(ledger Ledger, owner, asset string) (*Vault, uint64, bool, error) {
	state, ok, err := ledger.ReadAccount(vaultKey(owner, asset))
	if err != nil || !ok {
		return nil, 0, false, err
	}
	vault, err := decodeVault(state.Data)
	if err != nil {
		return nil, 0, false, err
	}
	return vault, state.Version, true, nil
}

// loadHolding reads a principal's external holding balance. Missing accounts
// read as zero with version zero.
func loadHolding(ledger Ledger, owner, asset string) (uint64, uint64, error) {
	state, ok, err := ledger.ReadAccount(holdingKey(owner, asset))
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, nil
	}
	amount, err := decodeHolding(state.Data)
	if err != nil {
		return 0, 0, err
	}
	return amount, state.Version, nil
}

// loadCoinPrice reads and decodes a symbol's canonical price record.
func loadCoinPrice(ledger Ledger, symbol string) (*CoinPrice, uint64, bool, error) {
	state, ok, err := ledger.ReadAccount(priceKey(symbol))
	if err != nil || !ok {
		return nil, 0, false, err
	}
	record, err := decodeCoinPrice(state.Data)
	if err != nil {
		return nil, 0, false, err
	}
	return record, state.Version, true, nil
}

// loadGlobalState reads the registry record.
func loadGlobalState(ledger Ledger) (*GlobalState, uint64, bool, error) {
	state, ok, err := ledger.ReadAccount(globalStateKey)
	if err != nil || !ok {
		return nil, 0, false, err
	}
	global, err := decodeGlobalState(state.Data)
	if err != nil {
		return nil, 0, false, err
	}
	return global, state.Version, true, nil
}
