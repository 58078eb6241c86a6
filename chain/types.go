package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// OrderData represents the data for building an order
type OrderData struct {
	Seller        string
	AssetContract string
	PaymentAsset  string
	AssetID       string
	StartPrice    string
	EndPrice      string
	Start         string
	Deadline      string
	Nonce         string
}

// Order represents an EIP712 order structure in its decimal-string wire form
type Order struct {
	Seller        string `json:"seller"`
	AssetContract string `json:"assetContract"`
	PaymentAsset  string `json:"paymentAsset"`
	AssetID       string `json:"assetId"`
	StartPrice    string `json:"startPrice"`
	EndPrice      string `json:"endPrice"`
	Start         string `json:"start"`
	Deadline      string `json:"deadline"`
	Nonce         string `json:"nonce"`
}

// SignedOrder represents an order with its signature
type SignedOrder struct {
	Order     *Order `json:"order"`
	Signature string `json:"signature"`
}

// SettledLog is a decoded Settled event of the settlement contract
type SettledLog struct {
	Seller        common.Address
	Buyer         common.Address
	AssetContract common.Address
	PaymentAsset  common.Address
	AssetID       *big.Int
	Price         *big.Int
	Fee           *big.Int
	Deadline      *big.Int
	Digest        common.Hash
	BlockNumber   uint64
	TxHash        common.Hash
}

// ERC20 ABI JSON for balanceOf and allowance
const erc20ABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "account", "type": "address"}
		],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"type": "function"
	}
]`

// ERC721 ABI JSON for ownership and approval queries
const erc721ABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "tokenId", "type": "uint256"}
		],
		"name": "ownerOf",
		"outputs": [{"name": "", "type": "address"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "tokenId", "type": "uint256"}
		],
		"name": "getApproved",
		"outputs": [{"name": "", "type": "address"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "operator", "type": "address"}
		],
		"name": "isApprovedForAll",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

// Settlement ABI JSON for the read-only state the settlement contract exposes
const settlementABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "asset", "type": "address"}
		],
		"name": "isWhitelisted",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "collection", "type": "address"}
		],
		"name": "feeRate",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "digest", "type": "bytes32"}
		],
		"name": "isSettled",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "seller", "type": "address"}
		],
		"name": "nonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "domainSeparator",
		"outputs": [{"name": "", "type": "bytes32"}],
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "seller", "type": "address"},
			{"indexed": true, "name": "buyer", "type": "address"},
			{"indexed": true, "name": "assetContract", "type": "address"},
			{"indexed": false, "name": "paymentAsset", "type": "address"},
			{"indexed": false, "name": "assetId", "type": "uint256"},
			{"indexed": false, "name": "price", "type": "uint256"},
			{"indexed": false, "name": "fee", "type": "uint256"},
			{"indexed": false, "name": "deadline", "type": "uint256"},
			{"indexed": false, "name": "digest", "type": "bytes32"}
		],
		"name": "Settled",
		"type": "event"
	}
]`

var (
	erc20ABI      = mustParseABI("ERC20", erc20ABIJSON)
	erc721ABI     = mustParseABI("ERC721", erc721ABIJSON)
	settlementABI = mustParseABI("Settlement", settlementABIJSON)
)

// GetERC20ABI returns the parsed ERC20 ABI
func GetERC20ABI() abi.ABI {
	return erc20ABI
}

// GetERC721ABI returns the parsed ERC721 ABI
func GetERC721ABI() abi.ABI {
	return erc721ABI
}

// GetSettlementABI returns the parsed settlement contract ABI
func GetSettlementABI() abi.ABI {
	return settlementABI
}

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}
