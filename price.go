package settlement

import (
	"math/big"

	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/pkg/errors"
)

// Kind classifies order pricing. An order is fixed-price exactly when its start
// time is zero; a fixed order carrying a non-zero end price is ambiguous.
func Kind(order *chain.OrderTypedData) (PriceKind, error) {
	if isZero(order.Start) {
		if !isZero(order.EndPrice) {
			return 0, errors.Wrap(ErrAmbiguousPricing, "fixed-price order (start = 0) must have endPrice = 0")
		}
		return PriceKindFixed, nil
	}
	return PriceKindDutch, nil
}

// CurrentPrice returns the settlement price of order at now. Dutch prices are
// interpolated linearly between start and deadline and are not clamped to the
// window; callers reject out-of-window orders themselves.
func CurrentPrice(order *chain.OrderTypedData, now uint64) (*big.Int, error) {
	order = order.Copy()
	kind, err := Kind(order)
	if err != nil {
		return nil, err
	}
	if kind == PriceKindFixed {
		return new(big.Int).Set(order.StartPrice), nil
	}

	duration := new(big.Int).Sub(order.Deadline, order.Start)
	if duration.Sign() <= 0 {
		return nil, errors.Wrapf(ErrInvalidPriceWindow, "deadline %s must be after start %s", order.Deadline, order.Start)
	}

	elapsed := new(big.Int).Sub(new(big.Int).SetUint64(now), order.Start)

	// (startPrice - endPrice) * elapsed / duration, multiplied before dividing
	span := new(big.Int).Sub(order.StartPrice, order.EndPrice)
	delta := new(big.Int).Mul(new(big.Int).Abs(span), new(big.Int).Abs(elapsed))
	delta.Quo(delta, duration)
	if span.Sign()*elapsed.Sign() < 0 {
		delta.Neg(delta)
	}

	price := new(big.Int).Sub(order.StartPrice, delta)
	if price.Sign() < 0 {
		return nil, errors.Wrapf(ErrInvalidPriceWindow, "price at %d is negative", now)
	}
	return price, nil
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}
