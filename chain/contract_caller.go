package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/patrickmn/go-cache"
)

// RPCRetryMax is how many times an HTTP RPC request is retried
const RPCRetryMax = 3

// Backend is the subset of an Ethereum RPC client the caller reads through.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ContractCaller handles read-only contract interactions against a settlement
// deployment and the asset contracts it moves.
type ContractCaller struct {
	backend        Backend
	client         *ethclient.Client
	settlementAddr common.Address
	decimalsCache  *cache.Cache
}

// NewContractCaller dials rpcURL and creates a new ContractCaller instance
func NewContractCaller(rpcURL string, settlementAddr string) (*ContractCaller, error) {
	if !common.IsHexAddress(settlementAddr) {
		return nil, fmt.Errorf("invalid settlement address: %q", settlementAddr)
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = RPCRetryMax
	httpClient.Logger = nil

	rpcClient, err := rpc.DialOptions(context.Background(), rpcURL, rpc.WithHTTPClient(httpClient.StandardClient()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	client := ethclient.NewClient(rpcClient)

	cc := NewContractCallerWithBackend(client, common.HexToAddress(settlementAddr))
	cc.client = client
	return cc, nil
}

// NewContractCallerWithBackend creates a ContractCaller over an existing backend
func NewContractCallerWithBackend(backend Backend, settlementAddr common.Address) *ContractCaller {
	return &ContractCaller{
		backend:        backend,
		settlementAddr: settlementAddr,
		decimalsCache:  cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// SettlementAddress returns the settlement deployment the caller reads from
func (cc *ContractCaller) SettlementAddress() common.Address {
	return cc.settlementAddr
}

// ChainID returns the live chain id
func (cc *ContractCaller) ChainID(ctx context.Context) (*big.Int, error) {
	chainID, err := cc.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return chainID, nil
}

// BlockTime returns the timestamp of the latest block
func (cc *ContractCaller) BlockTime(ctx context.Context) (uint64, error) {
	header, err := cc.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest header: %w", err)
	}
	return header.Time, nil
}

// NativeBalance returns the native currency balance of account
func (cc *ContractCaller) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := cc.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// OwnerOf returns the owner of assetID in collection
func (cc *ContractCaller) OwnerOf(ctx context.Context, collection common.Address, assetID *big.Int) (common.Address, error) {
	out, err := cc.call(ctx, collection, erc721ABI, "ownerOf", assetID)
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := out.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected ownerOf result %T", out)
	}
	return owner, nil
}

// GetApproved returns the per-token approved operator of assetID
func (cc *ContractCaller) GetApproved(ctx context.Context, collection common.Address, assetID *big.Int) (common.Address, error) {
	out, err := cc.call(ctx, collection, erc721ABI, "getApproved", assetID)
	if err != nil {
		return common.Address{}, err
	}
	approved, ok := out.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getApproved result %T", out)
	}
	return approved, nil
}

// IsApprovedForAll checks if an operator is approved for all of owner's assets in collection
func (cc *ContractCaller) IsApprovedForAll(ctx context.Context, collection, owner, operator common.Address) (bool, error) {
	out, err := cc.call(ctx, collection, erc721ABI, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	approved, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isApprovedForAll result %T", out)
	}
	return approved, nil
}

// BalanceOf returns the ERC20 balance for an account
func (cc *ContractCaller) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return cc.callUint(ctx, token, erc20ABI, "balanceOf", account)
}

// Allowance returns the ERC20 allowance for owner to spender
func (cc *ContractCaller) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return cc.callUint(ctx, token, erc20ABI, "allowance", owner, spender)
}

// GetTokenDecimals gets token decimals with caching
func (cc *ContractCaller) GetTokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	if cached, ok := cc.decimalsCache.Get(token.Hex()); ok {
		return cached.(uint8), nil
	}

	out, err := cc.call(ctx, token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out.(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals result %T", out)
	}

	cc.decimalsCache.Set(token.Hex(), decimals, cache.NoExpiration)
	return decimals, nil
}

// IsWhitelisted reads the settlement whitelist for asset
func (cc *ContractCaller) IsWhitelisted(ctx context.Context, asset common.Address) (bool, error) {
	out, err := cc.call(ctx, cc.settlementAddr, settlementABI, "isWhitelisted", asset)
	if err != nil {
		return false, err
	}
	whitelisted, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isWhitelisted result %T", out)
	}
	return whitelisted, nil
}

// FeeRate reads the fee rate configured for collection
func (cc *ContractCaller) FeeRate(ctx context.Context, collection common.Address) (*big.Int, error) {
	return cc.callUint(ctx, cc.settlementAddr, settlementABI, "feeRate", collection)
}

// IsSettled reads whether the order digest has already been settled
func (cc *ContractCaller) IsSettled(ctx context.Context, digest common.Hash) (bool, error) {
	out, err := cc.call(ctx, cc.settlementAddr, settlementABI, "isSettled", digest)
	if err != nil {
		return false, err
	}
	settled, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isSettled result %T", out)
	}
	return settled, nil
}

// Nonce reads the current nonce of seller
func (cc *ContractCaller) Nonce(ctx context.Context, seller common.Address) (*big.Int, error) {
	return cc.callUint(ctx, cc.settlementAddr, settlementABI, "nonces", seller)
}

// DomainSeparator reads the separator the deployment currently signs against
func (cc *ContractCaller) DomainSeparator(ctx context.Context) (common.Hash, error) {
	out, err := cc.call(ctx, cc.settlementAddr, settlementABI, "domainSeparator")
	if err != nil {
		return common.Hash{}, err
	}
	separator, ok := out.([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected domainSeparator result %T", out)
	}
	return common.Hash(separator), nil
}

// BlockNumber returns the latest block number
func (cc *ContractCaller) BlockNumber(ctx context.Context) (uint64, error) {
	number, err := cc.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return number, nil
}

// SettledLogs returns the Settled events emitted in blocks [from, to]
func (cc *ContractCaller) SettledLogs(ctx context.Context, from, to uint64) ([]*SettledLog, error) {
	event := settlementABI.Events["Settled"]
	logs, err := cc.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{cc.settlementAddr},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter Settled logs: %w", err)
	}

	out := make([]*SettledLog, 0, len(logs))
	for _, l := range logs {
		decoded, err := decodeSettledLog(l)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

func decodeSettledLog(l types.Log) (*SettledLog, error) {
	if len(l.Topics) != 4 {
		return nil, fmt.Errorf("unexpected Settled log with %d topics", len(l.Topics))
	}

	fields := make(map[string]interface{})
	if err := settlementABI.UnpackIntoMap(fields, "Settled", l.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack Settled log: %w", err)
	}

	paymentAsset, _ := fields["paymentAsset"].(common.Address)
	assetID, _ := fields["assetId"].(*big.Int)
	price, _ := fields["price"].(*big.Int)
	fee, _ := fields["fee"].(*big.Int)
	deadline, _ := fields["deadline"].(*big.Int)
	digest, _ := fields["digest"].([32]byte)
	if assetID == nil || price == nil || fee == nil || deadline == nil {
		return nil, fmt.Errorf("malformed Settled log in tx %s", l.TxHash.Hex())
	}

	return &SettledLog{
		Seller:        common.BytesToAddress(l.Topics[1].Bytes()),
		Buyer:         common.BytesToAddress(l.Topics[2].Bytes()),
		AssetContract: common.BytesToAddress(l.Topics[3].Bytes()),
		PaymentAsset:  paymentAsset,
		AssetID:       assetID,
		Price:         price,
		Fee:           fee,
		Deadline:      deadline,
		Digest:        common.Hash(digest),
		BlockNumber:   l.BlockNumber,
		TxHash:        l.TxHash,
	}, nil
}

func (cc *ContractCaller) callUint(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	out, err := cc.call(ctx, to, contractABI, method, args...)
	if err != nil {
		return nil, err
	}
	value, ok := out.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result %T", method, out)
	}
	return value, nil
}

// call performs an eth_call and returns the single unpacked output
func (cc *ContractCaller) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) (interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	result, err := cc.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, to.Hex(), err)
	}

	out, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("expected 1 output from %s, got %d", method, len(out))
	}

	return out[0], nil
}

// Close closes the Ethereum client connection
func (cc *ContractCaller) Close() {
	if cc.client != nil {
		cc.client.Close()
	}
}
