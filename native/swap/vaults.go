package swap

import (
	"fmt"
	"time"
)

// VaultStore performs CRUD and balance mutation over per-(owner, asset)
// liquidity vaults. Every mutation is applied through the ledger's atomic
// compare-and-write so concurrent callers fail fast instead of clobbering
// each other.
type VaultStore struct {
	ledger Ledger
	clock  func() time.Time
}

// NewVaultStore constructs a store bound to the ledger collaborator.
func NewVaultStore(ledger Ledger) *VaultStore {
	return &VaultStore{ledger: ledger, clock: time.Now}
}

// SetClock overrides the time source, primarily for deterministic testing.
func (s *VaultStore) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

// InitVault creates an empty vault for the caller and asset. Fails with
// ErrAlreadyExists when the (owner, asset) vault has been created before.
func (s *VaultStore) InitVault(caller, asset string, params VaultParams) (*Vault, error) {
	if s == nil || s.ledger == nil {
		return nil, fmt.Errorf("vault store not initialised")
	}
	owner := normalisePrincipal(caller)
	sym := normaliseSymbol(asset)
	if owner == "" || sym == "" {
		return nil, fmt.Errorf("vault: owner and asset required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	_, _, ok, err := loadVault(s.ledger, owner, sym)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, ErrAlreadyExists
	}
	vault := &Vault{
		Owner:             owner,
		Asset:             sym,
		BuyFeeBps:         params.BuyFeeBps,
		SellFeeBps:        params.SellFeeBps,
		Min:               params.Min,
		Max:               params.Max,
		ReceiveEnabled:    params.ReceiveEnabled,
		ProvideEnabled:    params.ProvideEnabled,
		LimitPrice:        params.LimitPrice,
		LimitPriceEnabled: params.LimitPriceEnabled,
		Delegate:          normalisePrincipal(params.Delegate),
		LastUpdate:        s.clock().Unix(),
	}
	data, err := encodeVault(vault)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.WriteAccountsAtomic([]AccountWrite{{ID: vaultKey(owner, sym), Data: data, ExpectedVersion: 0}}); err != nil {
		return nil, err
	}
	return vault.Clone(), nil
}

// UpdateVaultConfig mutates the fee, bound, flag, limit-price and delegate
// fields of an existing vault. The balance is never touched. The caller must
// be the owner or the vault's authorized delegate.
func (s *VaultStore) UpdateVaultConfig(caller, owner, asset string, params VaultParams) (*Vault, error) {
	if s == nil || s.ledger == nil {
		return nil, fmt.Errorf("vault store not initialised")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	vault, version, ok, err := loadVault(s.ledger, owner, asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !vault.Authorized(caller) {
		return nil, ErrUnauthorized
	}
	vault.BuyFeeBps = params.BuyFeeBps
	vault.SellFeeBps = params.SellFeeBps
	vault.Min = params.Min
	vault.Max = params.Max
	vault.ReceiveEnabled = params.ReceiveEnabled
	vault.ProvideEnabled = params.ProvideEnabled
	vault.LimitPrice = params.LimitPrice
	vault.LimitPriceEnabled = params.LimitPriceEnabled
	vault.Delegate = normalisePrincipal(params.Delegate)
	vault.LastUpdate = s.clock().Unix()
	data, err := encodeVault(vault)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.WriteAccountsAtomic([]AccountWrite{{ID: vaultKey(owner, asset), Data: data, ExpectedVersion: version}}); err != nil {
		return nil, err
	}
	return vault.Clone(), nil
}

// Deposit moves amount from the caller's external holding into the owner's
// vault. Any principal may deposit on behalf of an owner; the credit always
// lands in the owner's vault.
func (s *VaultStore) Deposit(caller, owner, asset string, amount uint64) (*Vault, error) {
	if s == nil || s.ledger == nil {
		return nil, fmt.Errorf("vault store not initialised")
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	vault, version, ok, err := loadVault(s.ledger, owner, asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	balance, holdingVersion, err := loadHolding(s.ledger, caller, asset)
	if err != nil {
		return nil, err
	}
	if balance < amount {
		return nil, ErrInsufficientBalance
	}
	vault.Amount += amount
	vault.LastUpdate = s.clock().Unix()
	vaultData, err := encodeVault(vault)
	if err != nil {
		return nil, err
	}
	holdingData, err := encodeHolding(balance - amount)
	if err != nil {
		return nil, err
	}
	writes := []AccountWrite{
		{ID: vaultKey(owner, asset), Data: vaultData, ExpectedVersion: version},
		{ID: holdingKey(caller, asset), Data: holdingData, ExpectedVersion: holdingVersion},
	}
	if err := s.ledger.WriteAccountsAtomic(writes); err != nil {
		return nil, err
	}
	return vault.Clone(), nil
}

// Withdraw moves amount from the caller's own vault back into the caller's
// external holding.
func (s *VaultStore) Withdraw(caller, asset string, amount uint64) (*Vault, error) {
	return s.WithdrawFrom(caller, caller, asset, amount)
}

// WithdrawFrom debits an owner's vault and credits the owner's external
// holding. The caller must be the owner or the vault's authorized delegate;
// the credit lands in the owner's holding, never the delegate's.
func (s *VaultStore) WithdrawFrom(caller, owner, asset string, amount uint64) (*Vault, error) {
	if s == nil || s.ledger == nil {
		return nil, fmt.Errorf("vault store not initialised")
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	vault, version, ok, err := loadVault(s.ledger, owner, asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !vault.Authorized(caller) {
		return nil, ErrUnauthorized
	}
	if vault.Amount < amount {
		return nil, ErrInsufficientBalance
	}
	balance, holdingVersion, err := loadHolding(s.ledger, vault.Owner, asset)
	if err != nil {
		return nil, err
	}
	vault.Amount -= amount
	vault.LastUpdate = s.clock().Unix()
	vaultData, err := encodeVault(vault)
	if err != nil {
		return nil, err
	}
	holdingData, err := encodeHolding(balance + amount)
	if err != nil {
		return nil, err
	}
	writes := []AccountWrite{
		{ID: vaultKey(vault.Owner, asset), Data: vaultData, ExpectedVersion: version},
		{ID: holdingKey(vault.Owner, asset), Data: holdingData, ExpectedVersion: holdingVersion},
	}
	if err := s.ledger.WriteAccountsAtomic(writes); err != nil {
		return nil, err
	}
	return vault.Clone(), nil
}

// Vault returns a copy of the stored vault.
func (s *VaultStore) Vault(owner, asset string) (*Vault, error) {
	if s == nil || s.ledger == nil {
		return nil, fmt.Errorf("vault store not initialised")
	}
	vault, _, ok, err := loadVault(s.ledger, owner, asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return vault, nil
}

// Holding returns the external holding balance for a principal and asset.
func (s *VaultStore) Holding(owner, asset string) (uint64, error) {
	if s == nil || s.ledger == nil {
		return 0, fmt.Errorf("vault store not initialised")
	}
	balance, _, err := loadHolding(s.ledger, owner, asset)
	return balance, err
}

// CreditHolding adds amount to a principal's external holding. This is the
// on-ramp hook for the out-of-scope custody collaborator.
func (s *VaultStore) CreditHolding(owner, asset string, amount uint64) error {
	if s == nil || s.ledger == nil {
		return fmt.Errorf("vault store not initialised")
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	balance, version, err := loadHolding(s.ledger, owner, asset)
	if err != nil {
		return err
	}
	data, err := encodeHolding(balance + amount)
	if err != nil {
		return err
	}
	return s.ledger.WriteAccountsAtomic([]AccountWrite{{ID: holdingKey(owner, asset), Data: data, ExpectedVersion: version}})
}
