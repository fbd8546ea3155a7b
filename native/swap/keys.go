package swap

var (
	vaultKeyPrefix   = []byte("swap/vault/")
	holdingKeyPrefix = []byte("swap/holding/")
	priceKeyPrefix   = []byte("swap/price/")
	globalStateKey   = []byte("swap/global")
)

// vaultKey derives the deterministic account identifier for an owner's vault.
// Lookup never needs a separate index: the key is a pure function of the
// (owner, asset) pair.
func vaultKey(owner, asset string) []byte {
	return compositeKey(vaultKeyPrefix, normalisePrincipal(owner), normaliseSymbol(asset))
}

// holdingKey derives the account identifier for a principal's external
// holding of an asset.
func holdingKey(owner, asset string) []byte {
	return compositeKey(holdingKeyPrefix, normalisePrincipal(owner), normaliseSymbol(asset))
}

// priceKey derives the account identifier for a symbol's canonical price.
func priceKey(symbol string) []byte {
	return compositeKey(priceKeyPrefix, normaliseSymbol(symbol))
}

func compositeKey(prefix []byte, parts ...string) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, part...)
	}
	return buf
}
