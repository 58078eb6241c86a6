package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// WhitelistCacheTTL is how long a remote whitelist lookup is reused
const WhitelistCacheTTL = 5 * time.Minute

// RemoteState reads a deployed settlement contract over RPC
type RemoteState struct {
	caller    *chain.ContractCaller
	whitelist *cache.Cache
}

// NewRemoteState creates a StateReader backed by caller
func NewRemoteState(caller *chain.ContractCaller) *RemoteState {
	return &RemoteState{
		caller:    caller,
		whitelist: cache.New(WhitelistCacheTTL, 10*time.Minute),
	}
}

// NewRemoteValidator builds a Validator for the deployment caller reads from.
// The separator is bound to the chain id the node reports now.
func NewRemoteValidator(ctx context.Context, caller *chain.ContractCaller, mode ReplayMode, logger *zap.Logger) (*Validator, error) {
	chainID, err := caller.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	separator := chain.NewDomainSeparator(chainID, caller.SettlementAddress())
	return NewValidator(separator, mode, NewRemoteState(caller), logger), nil
}

func (r *RemoteState) ChainID(ctx context.Context) (*big.Int, error) {
	return r.caller.ChainID(ctx)
}

func (r *RemoteState) Time(ctx context.Context) (uint64, error) {
	return r.caller.BlockTime(ctx)
}

func (r *RemoteState) IsWhitelisted(ctx context.Context, asset common.Address) (bool, error) {
	if cached, ok := r.whitelist.Get(asset.Hex()); ok {
		return cached.(bool), nil
	}
	whitelisted, err := r.caller.IsWhitelisted(ctx, asset)
	if err != nil {
		return false, err
	}
	r.whitelist.SetDefault(asset.Hex(), whitelisted)
	return whitelisted, nil
}

func (r *RemoteState) IsSettled(ctx context.Context, digest common.Hash) (bool, error) {
	return r.caller.IsSettled(ctx, digest)
}

func (r *RemoteState) Nonce(ctx context.Context, seller common.Address) (*big.Int, error) {
	return r.caller.Nonce(ctx, seller)
}

func (r *RemoteState) OwnerOf(ctx context.Context, collection common.Address, assetID *big.Int) (common.Address, error) {
	return r.caller.OwnerOf(ctx, collection, assetID)
}

// IsApproved reports whether operator may move assetID on behalf of owner
func (r *RemoteState) IsApproved(ctx context.Context, collection common.Address, assetID *big.Int, owner, operator common.Address) (bool, error) {
	if operator == owner {
		return true, nil
	}
	approved, err := r.caller.GetApproved(ctx, collection, assetID)
	if err != nil {
		return false, err
	}
	if approved == operator {
		return true, nil
	}
	return r.caller.IsApprovedForAll(ctx, collection, owner, operator)
}

func (r *RemoteState) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return r.caller.BalanceOf(ctx, token, holder)
}

func (r *RemoteState) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return r.caller.Allowance(ctx, token, owner, spender)
}
