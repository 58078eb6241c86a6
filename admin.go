package settlement

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Admin owns the whitelist, the per-collection fee rates and the fee address.
// Every mutator takes the caller explicitly and checks its role.
type Admin struct {
	mu         sync.RWMutex
	owner      common.Address
	feeAddress common.Address
	divisor    *big.Int
	whitelist  map[common.Address]bool
	feeRates   map[common.Address]*big.Int
	logger     *zap.Logger
}

// NewAdmin creates an Admin with an empty whitelist and no fees configured
func NewAdmin(owner, feeAddress common.Address, divisor *big.Int, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.L()
	}
	return &Admin{
		owner:      owner,
		feeAddress: feeAddress,
		divisor:    new(big.Int).Set(divisor),
		whitelist:  make(map[common.Address]bool),
		feeRates:   make(map[common.Address]*big.Int),
		logger:     logger,
	}
}

func (a *Admin) requireOwner(caller common.Address) error {
	if caller != a.owner {
		return errors.Wrapf(ErrUnauthorized, "%s is not the owner", caller.Hex())
	}
	return nil
}

// Owner returns the current owner
func (a *Admin) Owner() common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.owner
}

// FeeAddress returns the current fee recipient
func (a *Admin) FeeAddress() common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.feeAddress
}

// FeeDivisor returns the fixed-point divisor fee rates are expressed in
func (a *Admin) FeeDivisor() *big.Int {
	return new(big.Int).Set(a.divisor)
}

// IsWhitelisted reports whether asset may be traded or used as payment
func (a *Admin) IsWhitelisted(asset common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.whitelist[asset]
}

// FeeRate returns the fee rate of collection, zero when unconfigured
func (a *Admin) FeeRate(collection common.Address) *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if rate, ok := a.feeRates[collection]; ok {
		return new(big.Int).Set(rate)
	}
	return new(big.Int)
}

// SetWhitelisted adds or removes asset from the whitelist. The native currency
// sentinel is whitelisted the same way.
func (a *Admin) SetWhitelisted(caller, asset common.Address, whitelisted bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if whitelisted {
		a.whitelist[asset] = true
	} else {
		delete(a.whitelist, asset)
	}

	a.logger.With(zap.String("asset", asset.Hex()), zap.Bool("whitelisted", whitelisted)).Info("Admin: whitelist updated")
	return nil
}

// SetFeeRate sets the fee rate of collection, in parts of the fee divisor
func (a *Admin) SetFeeRate(caller, collection common.Address, rate *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if rate == nil || rate.Sign() < 0 || rate.Cmp(a.divisor) > 0 {
		return &InvalidParamError{Message: "fee rate must be between 0 and the fee divisor"}
	}
	a.feeRates[collection] = new(big.Int).Set(rate)

	a.logger.With(zap.String("collection", collection.Hex()), zap.String("rate", rate.String())).Info("Admin: fee rate updated")
	return nil
}

// SetFeeAddress rotates the fee recipient. Allowed for the owner and the current fee address.
func (a *Admin) SetFeeAddress(caller, feeAddress common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner && caller != a.feeAddress {
		return errors.Wrapf(ErrUnauthorized, "%s may not change the fee address", caller.Hex())
	}
	if feeAddress == (common.Address{}) {
		return &InvalidParamError{Message: "fee address must not be zero"}
	}
	a.feeAddress = feeAddress

	a.logger.With(zap.String("feeAddress", feeAddress.Hex())).Info("Admin: fee address updated")
	return nil
}

// TransferOwnership hands the owner role to newOwner
func (a *Admin) TransferOwnership(caller, newOwner common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return &InvalidParamError{Message: "new owner must not be zero"}
	}
	a.owner = newOwner

	a.logger.With(zap.String("owner", newOwner.Hex())).Info("Admin: ownership transferred")
	return nil
}
