package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Engine executes signed orders against a Ledger. Each settlement is atomic:
// it either completes every transfer or leaves no trace.
type Engine struct {
	cfg       Config
	separator *chain.DomainSeparator
	ledger    *Ledger
	admin     *Admin
	replay    ReplayGuard
	validator *Validator
	logger    *zap.Logger
}

// NewEngine creates a settlement engine deployed at cfg.Address on ledger.
// The domain separator is computed for the ledger's chain id at this point.
func NewEngine(cfg Config, ledger *Ledger, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ChainID.Big().Cmp(ledger.ChainID()) != 0 {
		return nil, &InvalidParamError{Message: "config chain id does not match the ledger"}
	}
	if cfg.Owner == (common.Address{}) {
		return nil, &InvalidParamError{Message: "owner address is required"}
	}
	if cfg.FeeAddress == (common.Address{}) {
		return nil, &InvalidParamError{Message: "fee address is required"}
	}
	if logger == nil {
		logger = zap.L()
	}

	e := &Engine{
		cfg:       cfg,
		separator: chain.NewDomainSeparator(ledger.ChainID(), cfg.Address),
		ledger:    ledger,
		admin:     NewAdmin(cfg.Owner, cfg.FeeAddress, cfg.FeeDivisor, logger),
		replay:    NewReplayGuard(cfg.ReplayMode),
		logger:    logger,
	}
	e.validator = NewValidator(e.separator, cfg.ReplayMode, localState{e}, logger)

	logger.With(
		zap.String("address", cfg.Address.Hex()),
		zap.String("chainId", ledger.ChainID().String()),
		zap.Stringer("replayMode", cfg.ReplayMode),
	).Info("Settlement: engine deployed")
	return e, nil
}

// Address returns the engine's identity on the ledger
func (e *Engine) Address() common.Address {
	return e.cfg.Address
}

// Admin returns the collaborator holding the whitelist, fee rates and roles
func (e *Engine) Admin() *Admin {
	return e.admin
}

// Ledger returns the host ledger the engine settles against
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Validator returns the read-only validator bound to this deployment
func (e *Engine) Validator() *Validator {
	return e.validator
}

// ReplayMode returns the replay protection the engine was deployed with
func (e *Engine) ReplayMode() ReplayMode {
	return e.replay.Mode()
}

// DomainSeparator returns the separator for the ledger's current chain id
func (e *Engine) DomainSeparator() common.Hash {
	return e.separator.Current(e.ledger.ChainID())
}

// StructHash returns the EIP712 struct hash of order
func (e *Engine) StructHash(order *chain.OrderTypedData) common.Hash {
	return order.Copy().Hash()
}

// SigningDigest returns the digest the seller of order must sign
func (e *Engine) SigningDigest(order *chain.OrderTypedData) common.Hash {
	return chain.CreateOrderSignHash(e.DomainSeparator(), order.Copy())
}

// IsSettled reports whether digest was settled (digest mode only)
func (e *Engine) IsSettled(digest common.Hash) bool {
	return e.replay.IsSettled(digest)
}

// Nonce returns the seller's next usable nonce (nonce mode only)
func (e *Engine) Nonce(seller common.Address) *big.Int {
	return e.replay.Nonce(seller)
}

// Check returns the reason order would be rejected now, or nil
func (e *Engine) Check(order *chain.OrderTypedData, sig []byte, probeBuyer common.Address) error {
	return e.validator.Check(context.Background(), order, sig, probeBuyer)
}

// IsValid reports whether order would settle now
func (e *Engine) IsValid(order *chain.OrderTypedData, sig []byte, probeBuyer common.Address) bool {
	return e.validator.IsValid(context.Background(), order, sig, probeBuyer)
}

// Settle executes order for msg.From as one ledger transaction
func (e *Engine) Settle(msg Msg, order *chain.OrderTypedData, sig []byte) (*Receipt, error) {
	var receipt *Receipt
	err := e.ledger.Apply(func() error {
		var err error
		receipt, err = e.settle(msg, order, sig)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// SettleNested executes order inside the ledger transaction already running,
// as a receiver hook does when it calls back into the engine. A rejected
// nested settlement reverts only its own changes.
func (e *Engine) SettleNested(msg Msg, order *chain.OrderTypedData, sig []byte) (*Receipt, error) {
	if !e.ledger.InTransaction() {
		return nil, errors.New("no transaction in progress, use Settle")
	}
	return e.settle(msg, order, sig)
}

func (e *Engine) settle(msg Msg, order *chain.OrderTypedData, sig []byte) (*Receipt, error) {
	snapshot := e.ledger.Snapshot()
	receipt, err := e.execute(msg, order, sig)
	if err != nil {
		e.ledger.RevertToSnapshot(snapshot)

		digest := e.SigningDigest(order)
		e.logger.With(
			zap.String("digest", digest.Hex()),
			zap.String("buyer", msg.From.Hex()),
			zap.Error(err),
		).Debug("Settlement: order rejected")
		return nil, &RejectionError{Digest: digest, Err: err}
	}

	e.logger.With(
		zap.String("digest", receipt.Digest.Hex()),
		zap.String("seller", receipt.Seller.Hex()),
		zap.String("buyer", receipt.Buyer.Hex()),
		zap.String("price", receipt.Price.String()),
		zap.String("fee", receipt.Fee.String()),
	).Info("Settlement: order settled")
	return receipt, nil
}

func (e *Engine) execute(msg Msg, order *chain.OrderTypedData, sig []byte) (*Receipt, error) {
	value := new(big.Int)
	if msg.Value != nil {
		value.Set(msg.Value)
	}
	if value.Sign() < 0 {
		return nil, &InvalidParamError{Message: "value must not be negative"}
	}

	// attached value arrives before any check runs
	if value.Sign() > 0 {
		if err := e.ledger.TransferNative(msg.From, e.cfg.Address, value); err != nil {
			return nil, err
		}
	}

	verified, err := verifyOrder(context.Background(), localState{e}, e.separator, e.replay.Mode(), order, sig)
	if err != nil {
		return nil, err
	}
	order = verified.order
	native := order.PaymentAsset == NativeCurrency
	if !native && value.Sign() > 0 {
		return nil, errors.Wrapf(ErrUnexpectedValue, "order pays in %s", order.PaymentAsset.Hex())
	}

	if err := e.replay.Mark(e.ledger, order, verified.digest); err != nil {
		return nil, err
	}

	price, err := CurrentPrice(order, verified.now)
	if err != nil {
		return nil, err
	}
	fee, proceeds, err := SplitPayment(price, e.admin.FeeRate(order.AssetContract), e.admin.FeeDivisor())
	if err != nil {
		return nil, err
	}

	if native {
		if value.Cmp(price) < 0 {
			return nil, errors.Wrapf(ErrInsufficientPayment, "sent %s, price %s", value, price)
		}
		// fee and any excess stay with the engine until swept
		if err := e.ledger.TransferNative(e.cfg.Address, order.Seller, proceeds); err != nil {
			return nil, err
		}
	} else {
		if err := e.ledger.TransferFrom(order.PaymentAsset, e.cfg.Address, msg.From, order.Seller, proceeds); err != nil {
			return nil, err
		}
		if fee.Sign() > 0 {
			if err := e.ledger.TransferFrom(order.PaymentAsset, e.cfg.Address, msg.From, e.admin.FeeAddress(), fee); err != nil {
				return nil, err
			}
		}
	}

	if err := e.ledger.TransferAsset(order.AssetContract, e.cfg.Address, order.Seller, msg.From, order.AssetID); err != nil {
		return nil, err
	}

	e.ledger.AddLog(&SettledEvent{
		Seller:        order.Seller,
		Buyer:         msg.From,
		AssetContract: order.AssetContract,
		PaymentAsset:  order.PaymentAsset,
		AssetID:       new(big.Int).Set(order.AssetID),
		Price:         new(big.Int).Set(price),
		Fee:           new(big.Int).Set(fee),
		Deadline:      new(big.Int).Set(order.Deadline),
		Digest:        verified.digest,
	})

	return &Receipt{
		Digest:        verified.digest,
		Seller:        order.Seller,
		Buyer:         msg.From,
		AssetContract: order.AssetContract,
		PaymentAsset:  order.PaymentAsset,
		AssetID:       order.AssetID,
		Price:         price,
		Fee:           fee,
		Proceeds:      proceeds,
		Deadline:      order.Deadline,
	}, nil
}

// Sweep moves the engine's native balance (fees and excess payments) to the
// fee address. Allowed for the owner and the fee address.
func (e *Engine) Sweep(caller common.Address) (*big.Int, error) {
	var swept *big.Int
	err := e.ledger.Apply(func() error {
		feeAddress := e.admin.FeeAddress()
		if caller != e.admin.Owner() && caller != feeAddress {
			return errors.Wrapf(ErrUnauthorized, "%s may not sweep", caller.Hex())
		}
		swept = e.ledger.NativeBalance(e.cfg.Address)
		if swept.Sign() == 0 {
			return nil
		}
		return e.ledger.TransferNative(e.cfg.Address, feeAddress, swept)
	})
	if err != nil {
		return nil, err
	}

	e.logger.With(zap.String("amount", swept.String())).Info("Settlement: native balance swept")
	return swept, nil
}

// localState adapts the engine and its ledger to StateReader
type localState struct {
	e *Engine
}

func (s localState) ChainID(context.Context) (*big.Int, error) {
	return s.e.ledger.ChainID(), nil
}

func (s localState) Time(context.Context) (uint64, error) {
	return s.e.ledger.Time(), nil
}

func (s localState) IsWhitelisted(_ context.Context, asset common.Address) (bool, error) {
	return s.e.admin.IsWhitelisted(asset), nil
}

func (s localState) IsSettled(_ context.Context, digest common.Hash) (bool, error) {
	return s.e.replay.IsSettled(digest), nil
}

func (s localState) Nonce(_ context.Context, seller common.Address) (*big.Int, error) {
	return s.e.replay.Nonce(seller), nil
}

func (s localState) OwnerOf(_ context.Context, collection common.Address, assetID *big.Int) (common.Address, error) {
	return s.e.ledger.OwnerOf(collection, assetID), nil
}

func (s localState) IsApproved(_ context.Context, collection common.Address, assetID *big.Int, owner, operator common.Address) (bool, error) {
	l := s.e.ledger
	return operator == owner || l.GetApproved(collection, assetID) == operator || l.IsApprovedForAll(collection, owner, operator), nil
}

func (s localState) BalanceOf(_ context.Context, token, holder common.Address) (*big.Int, error) {
	return s.e.ledger.BalanceOf(token, holder), nil
}

func (s localState) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return s.e.ledger.Allowance(token, owner, spender), nil
}
