package settlement

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	MaxDecimals = 18
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// AmountToBaseUnits converts a human-readable amount ("1.25") to base units.
// Digits beyond decimals are rejected instead of silently truncated.
func AmountToBaseUnits(amount string, decimals int32) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, &InvalidParamError{Message: fmt.Sprintf("decimals must be between 0 and %d, got: %d", MaxDecimals, decimals)}
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, &InvalidParamError{Message: fmt.Sprintf("invalid amount %q: %v", amount, err)}
	}
	if d.IsNegative() {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount must not be negative, got: %s", amount)}
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount %s has more than %d decimals", amount, decimals)}
	}

	result := scaled.BigInt()
	if result.Cmp(maxUint256) > 0 {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount too large for uint256: %s", result.String())}
	}

	return result, nil
}

// BaseUnitsToAmount formats base units as a human-readable amount
func BaseUnitsToAmount(units *big.Int, decimals int32) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -decimals).String()
}
