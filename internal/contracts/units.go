package contracts

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the EVM-facing precision of the native asset (wei-style, as reported by the JSON-RPC relay).
const NativeDecimals = 18

// UnitAmount returns 1 whole token expressed in its smallest units.
func UnitAmount(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// ToDecimal scales a raw on-chain amount down by decimals.
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// ToFloat scales a raw on-chain amount down by decimals.
func ToFloat(amount *big.Int, decimals uint8) float64 {
	return ToDecimal(amount, decimals).InexactFloat64()
}
