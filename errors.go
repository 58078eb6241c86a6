package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Settlement rejections. Every rejection discards the whole attempt.
var (
	// ErrAssetNotWhitelisted represents an asset contract or payment asset that is not whitelisted
	ErrAssetNotWhitelisted = errors.New("asset not whitelisted")

	// ErrOrderExpired represents an order whose deadline has passed
	ErrOrderExpired = errors.New("order expired")

	// ErrOrderNotStarted represents a dutch order evaluated before its start time
	ErrOrderNotStarted = errors.New("order not started")

	// ErrSignatureReplayed represents an already settled digest or a stale nonce
	ErrSignatureReplayed = errors.New("signature replayed")

	// ErrSignatureInvalid represents a signature that does not recover to the seller
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrInsufficientPayment represents native value below the current price
	ErrInsufficientPayment = errors.New("insufficient payment")

	// ErrUnexpectedValue represents native value sent with a fungible-asset order
	ErrUnexpectedValue = errors.New("unexpected native value")

	// ErrTransferFailed represents a failed asset, token or native transfer
	ErrTransferFailed = errors.New("transfer failed")

	// ErrInvalidPriceWindow represents a dutch order whose window cannot be priced
	ErrInvalidPriceWindow = errors.New("invalid price window")

	// ErrAmbiguousPricing represents an order that is neither clearly fixed nor dutch
	ErrAmbiguousPricing = errors.New("ambiguous pricing")

	// ErrUnauthorized represents an admin operation by a caller lacking the role
	ErrUnauthorized = errors.New("unauthorized")
)

// InvalidParamError represents an invalid parameter error with context
type InvalidParamError struct {
	Message string
}

func (e *InvalidParamError) Error() string {
	return e.Message
}

// RejectionError carries the digest of the order a settlement rejected
type RejectionError struct {
	Digest common.Hash
	Err    error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("settlement of %s rejected: %v", e.Digest.Hex(), e.Err)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Reason returns the taxonomy error behind err, or nil when err is not a rejection
func Reason(err error) error {
	for _, reason := range []error{
		ErrAssetNotWhitelisted,
		ErrOrderExpired,
		ErrOrderNotStarted,
		ErrSignatureReplayed,
		ErrSignatureInvalid,
		ErrInsufficientPayment,
		ErrUnexpectedValue,
		ErrTransferFailed,
		ErrInvalidPriceWindow,
		ErrAmbiguousPricing,
		ErrUnauthorized,
	} {
		if errors.Is(err, reason) {
			return reason
		}
	}
	return nil
}
