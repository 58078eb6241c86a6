package settlement

import (
	"fmt"
	"math/big"
)

// ComputeFee returns floor(price * rate / divisor)
func ComputeFee(price, rate, divisor *big.Int) (*big.Int, error) {
	if divisor == nil || divisor.Sign() <= 0 {
		return nil, &InvalidParamError{Message: "fee divisor must be positive"}
	}
	if price == nil || price.Sign() < 0 {
		return nil, &InvalidParamError{Message: "price must not be negative"}
	}
	if rate == nil || rate.Sign() == 0 {
		return new(big.Int), nil
	}
	if rate.Sign() < 0 || rate.Cmp(divisor) > 0 {
		return nil, &InvalidParamError{Message: fmt.Sprintf("fee rate %s outside [0, %s]", rate, divisor)}
	}

	fee := new(big.Int).Mul(price, rate)
	return fee.Quo(fee, divisor), nil
}

// SplitPayment returns the fee and the seller proceeds for price
func SplitPayment(price, rate, divisor *big.Int) (fee, proceeds *big.Int, err error) {
	fee, err = ComputeFee(price, rate, divisor)
	if err != nil {
		return nil, nil, err
	}
	return fee, new(big.Int).Sub(price, fee), nil
}
