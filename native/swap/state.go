package swap

import "fmt"

// Registry manages the global admin/symbol state.
type Registry struct {
	ledger Ledger
}

// NewRegistry constructs a registry bound to the ledger collaborator.
func NewRegistry(ledger Ledger) *Registry {
	return &Registry{ledger: ledger}
}

// Init creates the global state with the supplied admin principal. Fails
// with ErrAlreadyExists when the registry has been initialised before.
func (r *Registry) Init(admin string) error {
	if r == nil || r.ledger == nil {
		return fmt.Errorf("registry not initialised")
	}
	principal := normalisePrincipal(admin)
	if principal == "" {
		return fmt.Errorf("registry: admin principal required")
	}
	_, _, ok, err := loadGlobalState(r.ledger)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyExists
	}
	data, err := encodeGlobalState(&GlobalState{Admin: principal})
	if err != nil {
		return err
	}
	return r.ledger.WriteAccountsAtomic([]AccountWrite{{ID: globalStateKey, Data: data, ExpectedVersion: 0}})
}

// RegisterAsset appends a symbol to the registry and creates its empty price
// record. Only the admin may register assets.
func (r *Registry) RegisterAsset(caller, symbol string, decimals uint8) error {
	if r == nil || r.ledger == nil {
		return fmt.Errorf("registry not initialised")
	}
	sym := normaliseSymbol(symbol)
	if sym == "" {
		return fmt.Errorf("registry: symbol required")
	}
	global, version, ok, err := loadGlobalState(r.ledger)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if normalisePrincipal(caller) != global.Admin {
		return ErrUnauthorized
	}
	if global.HasSymbol(sym) {
		return ErrAlreadyExists
	}
	updated := global.Clone()
	updated.Symbols = append(updated.Symbols, sym)
	globalData, err := encodeGlobalState(updated)
	if err != nil {
		return err
	}
	priceData, err := encodeCoinPrice(&CoinPrice{Symbol: sym, Decimals: decimals})
	if err != nil {
		return err
	}
	return r.ledger.WriteAccountsAtomic([]AccountWrite{
		{ID: globalStateKey, Data: globalData, ExpectedVersion: version},
		{ID: priceKey(sym), Data: priceData, ExpectedVersion: 0},
	})
}

// Global returns a copy of the registry state.
func (r *Registry) Global() (*GlobalState, error) {
	if r == nil || r.ledger == nil {
		return nil, fmt.Errorf("registry not initialised")
	}
	global, _, ok, err := loadGlobalState(r.ledger)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return global, nil
}
