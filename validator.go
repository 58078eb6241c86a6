package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StateReader is the read-only view of a settlement deployment and the assets
// it moves. The local Engine and RemoteState both implement it.
type StateReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Time(ctx context.Context) (uint64, error)
	IsWhitelisted(ctx context.Context, asset common.Address) (bool, error)
	IsSettled(ctx context.Context, digest common.Hash) (bool, error)
	Nonce(ctx context.Context, seller common.Address) (*big.Int, error)
	OwnerOf(ctx context.Context, collection common.Address, assetID *big.Int) (common.Address, error)
	IsApproved(ctx context.Context, collection common.Address, assetID *big.Int, owner, operator common.Address) (bool, error)
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// verifiedOrder is an order that passed every pre-settlement check
type verifiedOrder struct {
	order  *chain.OrderTypedData
	digest common.Hash
	kind   PriceKind
	now    uint64
}

// verifyOrder runs the checks that must pass before any state is touched:
// pricing shape, whitelist, time window, replay and signer.
func verifyOrder(ctx context.Context, state StateReader, separator *chain.DomainSeparator, mode ReplayMode, order *chain.OrderTypedData, sig []byte) (*verifiedOrder, error) {
	order = order.Copy()
	if err := order.Validate(); err != nil {
		return nil, &InvalidParamError{Message: err.Error() + ": out of uint256 range"}
	}

	kind, err := Kind(order)
	if err != nil {
		return nil, err
	}
	if kind == PriceKindDutch && order.Deadline.Cmp(order.Start) <= 0 {
		return nil, errors.Wrapf(ErrInvalidPriceWindow, "deadline %s must be after start %s", order.Deadline, order.Start)
	}

	chainID, err := state.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read chain id")
	}
	now, err := state.Time(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read block time")
	}
	digest := chain.CreateOrderSignHash(separator.Current(chainID), order)

	for _, asset := range []common.Address{order.AssetContract, order.PaymentAsset} {
		ok, err := state.IsWhitelisted(ctx, asset)
		if err != nil {
			return nil, errors.Wrap(err, "read whitelist")
		}
		if !ok {
			return nil, errors.Wrapf(ErrAssetNotWhitelisted, "%s", asset.Hex())
		}
	}

	nowBig := new(big.Int).SetUint64(now)
	if order.Deadline.Cmp(nowBig) < 0 {
		return nil, errors.Wrapf(ErrOrderExpired, "deadline %s, now %d", order.Deadline, now)
	}
	if kind == PriceKindDutch && nowBig.Cmp(order.Start) < 0 {
		return nil, errors.Wrapf(ErrOrderNotStarted, "start %s, now %d", order.Start, now)
	}

	if err := checkReplay(ctx, mode, state, order, digest); err != nil {
		return nil, err
	}

	signer := chain.RecoverSigner(digest, sig)
	if signer == (common.Address{}) || signer != order.Seller {
		return nil, errors.Wrapf(ErrSignatureInvalid, "recovered %s, seller %s", signer.Hex(), order.Seller.Hex())
	}

	return &verifiedOrder{order: order, digest: digest, kind: kind, now: now}, nil
}

// Validator is the read-only pre-flight check relayers run before submitting
// an order for settlement.
type Validator struct {
	separator *chain.DomainSeparator
	mode      ReplayMode
	state     StateReader
	logger    *zap.Logger
}

// NewValidator creates a Validator over state for the deployment separator is bound to
func NewValidator(separator *chain.DomainSeparator, mode ReplayMode, state StateReader, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.L()
	}
	return &Validator{
		separator: separator,
		mode:      mode,
		state:     state,
		logger:    logger,
	}
}

// Settlement returns the address of the deployment being validated against
func (v *Validator) Settlement() common.Address {
	return v.separator.VerifyingContract()
}

// Domain returns the EIP712 domain orders must currently be signed under
func (v *Validator) Domain(ctx context.Context) (*chain.EIP712Domain, error) {
	chainID, err := v.state.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	return v.separator.Domain(chainID), nil
}

// DomainSeparator returns the separator orders must currently be signed under
func (v *Validator) DomainSeparator(ctx context.Context) (common.Hash, error) {
	chainID, err := v.state.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return v.separator.Current(chainID), nil
}

// SigningDigest returns the digest a seller signs for order
func (v *Validator) SigningDigest(ctx context.Context, order *chain.OrderTypedData) (common.Hash, error) {
	separator, err := v.DomainSeparator(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return chain.CreateOrderSignHash(separator, order.Copy()), nil
}

// Check returns the first reason order could not settle right now, or nil.
// A zero probeBuyer skips the affordability check.
func (v *Validator) Check(ctx context.Context, order *chain.OrderTypedData, sig []byte, probeBuyer common.Address) error {
	verified, err := verifyOrder(ctx, v.state, v.separator, v.mode, order, sig)
	if err != nil {
		return err
	}
	order = verified.order
	settlement := v.Settlement()

	owner, err := v.state.OwnerOf(ctx, order.AssetContract, order.AssetID)
	if err != nil {
		return errors.Wrap(err, "read owner")
	}
	if owner != order.Seller {
		return errors.Wrapf(ErrTransferFailed, "seller %s no longer owns asset, owner is %s", order.Seller.Hex(), owner.Hex())
	}

	approved, err := v.state.IsApproved(ctx, order.AssetContract, order.AssetID, order.Seller, settlement)
	if err != nil {
		return errors.Wrap(err, "read approval")
	}
	if !approved {
		return errors.Wrapf(ErrTransferFailed, "settlement %s is not approved to move the asset", settlement.Hex())
	}

	price, err := CurrentPrice(order, verified.now)
	if err != nil {
		return err
	}

	if probeBuyer == NoProbeBuyer || order.PaymentAsset == NativeCurrency {
		return nil
	}

	balance, err := v.state.BalanceOf(ctx, order.PaymentAsset, probeBuyer)
	if err != nil {
		return errors.Wrap(err, "read buyer balance")
	}
	if balance.Cmp(price) < 0 {
		return errors.Wrapf(ErrTransferFailed, "buyer balance %s below price %s", balance, price)
	}

	allowance, err := v.state.Allowance(ctx, order.PaymentAsset, probeBuyer, settlement)
	if err != nil {
		return errors.Wrap(err, "read buyer allowance")
	}
	if allowance.Cmp(price) < 0 {
		return errors.Wrapf(ErrTransferFailed, "buyer allowance %s below price %s", allowance, price)
	}

	return nil
}

// IsValid reports whether order would currently pass settlement checks
func (v *Validator) IsValid(ctx context.Context, order *chain.OrderTypedData, sig []byte, probeBuyer common.Address) bool {
	if err := v.Check(ctx, order, sig, probeBuyer); err != nil {
		v.logger.With(
			zap.String("seller", order.Seller.Hex()),
			zap.String("assetContract", order.AssetContract.Hex()),
			zap.Error(err),
		).Debug("Validator: order invalid")
		return false
	}
	return true
}
