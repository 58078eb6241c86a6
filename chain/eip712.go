package chain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712 related errors
var (
	ErrInvalidAssetID    = errors.New("invalid asset ID")
	ErrInvalidStartPrice = errors.New("invalid start price")
	ErrInvalidEndPrice   = errors.New("invalid end price")
	ErrInvalidStart      = errors.New("invalid start time")
	ErrInvalidDeadline   = errors.New("invalid deadline")
	ErrInvalidNonce      = errors.New("invalid nonce")
	ErrInvalidAddress    = errors.New("invalid address")
)

// EIP712 Domain constants
const (
	EIP712DomainName    = "NFT Order Settlement"
	EIP712DomainVersion = "1"
)

// Type definitions. Changing OrderType invalidates every outstanding signature.
const (
	EIP712DomainType = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	OrderType        = "Order(address seller,address assetContract,address paymentAsset,uint256 assetId,uint256 startPrice,uint256 endPrice,uint256 start,uint256 deadline,uint256 nonce)"
)

// Pre-computed type hashes using keccak256
var (
	EIP712DomainTypeHash = crypto.Keccak256Hash([]byte(EIP712DomainType))
	OrderTypeHash        = crypto.Keccak256Hash([]byte(OrderType))
)

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)

	domainArguments = abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: bytes32Type}, // nameHash
		{Type: bytes32Type}, // versionHash
		{Type: uint256Type}, // chainId
		{Type: addressType}, // verifyingContract
	}

	orderArguments = abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: addressType}, // seller
		{Type: addressType}, // assetContract
		{Type: addressType}, // paymentAsset
		{Type: uint256Type}, // assetId
		{Type: uint256Type}, // startPrice
		{Type: uint256Type}, // endPrice
		{Type: uint256Type}, // start
		{Type: uint256Type}, // deadline
		{Type: uint256Type}, // nonce
	}
)

// EIP712Domain represents the EIP712 domain separator data
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewEIP712Domain creates a new EIP712Domain with the standard values
func NewEIP712Domain(chainID *big.Int, verifyingContract common.Address) *EIP712Domain {
	return &EIP712Domain{
		Name:              EIP712DomainName,
		Version:           EIP712DomainVersion,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: verifyingContract,
	}
}

// Hash computes the EIP712 domain separator hash
func (d *EIP712Domain) Hash() common.Hash {
	// typeHash ++ keccak256(name) ++ keccak256(version) ++ chainId ++ verifyingContract
	encoded, err := domainArguments.Pack(
		EIP712DomainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.VerifyingContract,
	)
	if err != nil {
		panic("failed to encode domain separator: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// DomainSeparator caches the separator of one deployment. The cached value is
// only served while the live chain id equals the one seen at construction.
type DomainSeparator struct {
	domain *EIP712Domain
	cached common.Hash
}

// NewDomainSeparator computes the separator for chainID and verifyingContract
func NewDomainSeparator(chainID *big.Int, verifyingContract common.Address) *DomainSeparator {
	domain := NewEIP712Domain(chainID, verifyingContract)
	return &DomainSeparator{
		domain: domain,
		cached: domain.Hash(),
	}
}

// Current returns the separator for the live chain id, recomputing it when the
// chain id differs from the one observed at construction (e.g. after a fork).
func (s *DomainSeparator) Current(liveChainID *big.Int) common.Hash {
	if liveChainID == nil || liveChainID.Cmp(s.domain.ChainID) == 0 {
		return s.cached
	}
	return s.Domain(liveChainID).Hash()
}

// Domain returns the domain data for the given live chain id
func (s *DomainSeparator) Domain(liveChainID *big.Int) *EIP712Domain {
	if liveChainID == nil {
		liveChainID = s.domain.ChainID
	}
	return NewEIP712Domain(liveChainID, s.domain.VerifyingContract)
}

// VerifyingContract returns the identity the separator is bound to
func (s *DomainSeparator) VerifyingContract() common.Address {
	return s.domain.VerifyingContract
}

// OrderTypedData represents the order data for EIP712 hashing
type OrderTypedData struct {
	Seller        common.Address
	AssetContract common.Address
	PaymentAsset  common.Address
	AssetID       *big.Int
	StartPrice    *big.Int
	EndPrice      *big.Int
	Start         *big.Int
	Deadline      *big.Int
	Nonce         *big.Int
}

// Hash computes the struct hash for the order
func (o *OrderTypedData) Hash() common.Hash {
	encoded, err := orderArguments.Pack(
		OrderTypeHash,
		o.Seller,
		o.AssetContract,
		o.PaymentAsset,
		orZero(o.AssetID),
		orZero(o.StartPrice),
		orZero(o.EndPrice),
		orZero(o.Start),
		orZero(o.Deadline),
		orZero(o.Nonce),
	)
	if err != nil {
		panic("failed to encode order struct: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// Validate returns the error of the first numeric field outside uint256 range.
// Hash reduces such values modulo 2^256, so they must be refused before use.
func (o *OrderTypedData) Validate() error {
	fields := []struct {
		value *big.Int
		err   error
	}{
		{o.AssetID, ErrInvalidAssetID},
		{o.StartPrice, ErrInvalidStartPrice},
		{o.EndPrice, ErrInvalidEndPrice},
		{o.Start, ErrInvalidStart},
		{o.Deadline, ErrInvalidDeadline},
		{o.Nonce, ErrInvalidNonce},
	}
	for _, f := range fields {
		if v := orZero(f.value); v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
			return f.err
		}
	}
	return nil
}

// Copy returns a deep copy of the order
func (o *OrderTypedData) Copy() *OrderTypedData {
	return &OrderTypedData{
		Seller:        o.Seller,
		AssetContract: o.AssetContract,
		PaymentAsset:  o.PaymentAsset,
		AssetID:       new(big.Int).Set(orZero(o.AssetID)),
		StartPrice:    new(big.Int).Set(orZero(o.StartPrice)),
		EndPrice:      new(big.Int).Set(orZero(o.EndPrice)),
		Start:         new(big.Int).Set(orZero(o.Start)),
		Deadline:      new(big.Int).Set(orZero(o.Deadline)),
		Nonce:         new(big.Int).Set(orZero(o.Nonce)),
	}
}

// TypedData returns the eth_signTypedData_v4 payload for the order under domain.
// Wallets signing this payload produce the digest CreateOrderSignHash computes.
func (o *OrderTypedData) TypedData(domain *EIP712Domain) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "seller", Type: "address"},
				{Name: "assetContract", Type: "address"},
				{Name: "paymentAsset", Type: "address"},
				{Name: "assetId", Type: "uint256"},
				{Name: "startPrice", Type: "uint256"},
				{Name: "endPrice", Type: "uint256"},
				{Name: "start", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(domain.ChainID)),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"seller":        o.Seller.Hex(),
			"assetContract": o.AssetContract.Hex(),
			"paymentAsset":  o.PaymentAsset.Hex(),
			"assetId":       orZero(o.AssetID).String(),
			"startPrice":    orZero(o.StartPrice).String(),
			"endPrice":      orZero(o.EndPrice).String(),
			"start":         orZero(o.Start).String(),
			"deadline":      orZero(o.Deadline).String(),
			"nonce":         orZero(o.Nonce).String(),
		},
	}
}

// CreateOrderSignHash creates the final EIP712 hash to be signed:
// keccak256("\x19\x01" ++ domainSeparator ++ structHash)
func CreateOrderSignHash(domainSeparator common.Hash, order *OrderTypedData) common.Hash {
	structHash := order.Hash()

	data := make([]byte, 0, 2+32+32)
	data = append(data, 0x19, 0x01)
	data = append(data, domainSeparator.Bytes()...)
	data = append(data, structHash.Bytes()...)

	return crypto.Keccak256Hash(data)
}

// OrderToTypedData converts an Order to OrderTypedData for EIP712 hashing
func OrderToTypedData(order *Order) (*OrderTypedData, error) {
	for _, addr := range []string{order.Seller, order.AssetContract, order.PaymentAsset} {
		if !common.IsHexAddress(addr) {
			return nil, ErrInvalidAddress
		}
	}

	assetID, ok := parseUint256(order.AssetID)
	if !ok {
		return nil, ErrInvalidAssetID
	}

	startPrice, ok := parseUint256(order.StartPrice)
	if !ok {
		return nil, ErrInvalidStartPrice
	}

	endPrice, ok := parseUint256OrZero(order.EndPrice)
	if !ok {
		return nil, ErrInvalidEndPrice
	}

	start, ok := parseUint256OrZero(order.Start)
	if !ok {
		return nil, ErrInvalidStart
	}

	deadline, ok := parseUint256(order.Deadline)
	if !ok {
		return nil, ErrInvalidDeadline
	}

	nonce, ok := parseUint256OrZero(order.Nonce)
	if !ok {
		return nil, ErrInvalidNonce
	}

	return &OrderTypedData{
		Seller:        common.HexToAddress(order.Seller),
		AssetContract: common.HexToAddress(order.AssetContract),
		PaymentAsset:  common.HexToAddress(order.PaymentAsset),
		AssetID:       assetID,
		StartPrice:    startPrice,
		EndPrice:      endPrice,
		Start:         start,
		Deadline:      deadline,
		Nonce:         nonce,
	}, nil
}

// TypedDataToOrder converts OrderTypedData back into its wire form
func TypedDataToOrder(o *OrderTypedData) *Order {
	return &Order{
		Seller:        o.Seller.Hex(),
		AssetContract: o.AssetContract.Hex(),
		PaymentAsset:  o.PaymentAsset.Hex(),
		AssetID:       orZero(o.AssetID).String(),
		StartPrice:    orZero(o.StartPrice).String(),
		EndPrice:      orZero(o.EndPrice).String(),
		Start:         orZero(o.Start).String(),
		Deadline:      orZero(o.Deadline).String(),
		Nonce:         orZero(o.Nonce).String(),
	}
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func parseUint256(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, false
	}
	return v, true
}

func parseUint256OrZero(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	return parseUint256(s)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
