package swap

import "github.com/holiman/uint256"

const (
	// basisPointDenominator is the fee unit: 1 bps = 1/10000.
	basisPointDenominator = 10000
	// RateScale is the fixed-point scale applied to exchange rates.
	RateScale = 1_000_000_000
	// maxPriceSources bounds the independent readings per symbol.
	maxPriceSources = 3
)

// mulDiv computes a*b/denom with a 128-bit intermediate product. All
// divisions truncate toward zero.
func mulDiv(a, b, denom uint64) uint64 {
	if denom == 0 {
		return 0
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	product.Div(product, uint256.NewInt(denom))
	return product.Uint64()
}

// applyFeeDown reduces the price by the fee: price * (10000 - fee) / 10000.
func applyFeeDown(price uint64, feeBps uint32) uint64 {
	if feeBps >= basisPointDenominator {
		return 0
	}
	return mulDiv(price, uint64(basisPointDenominator-feeBps), basisPointDenominator)
}

// applyFeeUp inflates the price by the fee: price * (10000 + fee) / 10000.
func applyFeeUp(price uint64, feeBps uint32) uint64 {
	return mulDiv(price, uint64(basisPointDenominator)+uint64(feeBps), basisPointDenominator)
}

// SwapRate computes the fee-adjusted exchange rate between the input and
// output assets, scaled by RateScale. The inner truncations happen before
// the rate division; the ordering is part of the settlement contract and
// must not be rearranged.
func SwapRate(priceIn, priceOut uint64, buyFeeBps, sellFeeBps uint32) uint64 {
	adjustedIn := applyFeeDown(priceIn, buyFeeBps)
	adjustedOut := applyFeeUp(priceOut, sellFeeBps)
	if adjustedOut == 0 {
		return 0
	}
	return mulDiv(adjustedIn, RateScale, adjustedOut)
}

// SwapOutput converts an input amount through a scaled rate, truncating.
func SwapOutput(amountIn, rate uint64) uint64 {
	return mulDiv(amountIn, rate, RateScale)
}
