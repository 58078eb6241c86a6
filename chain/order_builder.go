package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// OrderBuilder builds and signs orders against one settlement deployment
type OrderBuilder struct {
	separator *DomainSeparator
	chainID   *big.Int
	signer    *ecdsa.PrivateKey
}

// NewOrderBuilder creates a new OrderBuilder
func NewOrderBuilder(settlementAddr string, chainID int64, signer *ecdsa.PrivateKey) (*OrderBuilder, error) {
	if !common.IsHexAddress(settlementAddr) {
		return nil, fmt.Errorf("invalid settlement address: %q", settlementAddr)
	}
	if signer == nil {
		return nil, fmt.Errorf("signer key is required")
	}

	id := big.NewInt(chainID)
	return &OrderBuilder{
		separator: NewDomainSeparator(id, common.HexToAddress(settlementAddr)),
		chainID:   id,
		signer:    signer,
	}, nil
}

// SignerAddress returns the address orders are signed by
func (ob *OrderBuilder) SignerAddress() common.Address {
	return crypto.PubkeyToAddress(ob.signer.PublicKey)
}

// BuildOrder builds an order from OrderData
func (ob *OrderBuilder) BuildOrder(data *OrderData) (*Order, error) {
	if data.Seller == "" {
		data.Seller = ob.SignerAddress().Hex()
	}
	if data.EndPrice == "" {
		data.EndPrice = "0"
	}
	if data.Start == "" {
		data.Start = "0"
	}
	if data.Nonce == "" {
		data.Nonce = "0"
	}

	if err := ob.validateInputs(data); err != nil {
		return nil, err
	}

	order := &Order{
		Seller:        normalizeAddress(data.Seller),
		AssetContract: normalizeAddress(data.AssetContract),
		PaymentAsset:  normalizeAddress(data.PaymentAsset),
		AssetID:       data.AssetID,
		StartPrice:    data.StartPrice,
		EndPrice:      data.EndPrice,
		Start:         data.Start,
		Deadline:      data.Deadline,
		Nonce:         data.Nonce,
	}

	// Reject anything the hasher would refuse before it gets signed
	if _, err := OrderToTypedData(order); err != nil {
		return nil, err
	}

	return order, nil
}

// BuildSignedOrder builds and signs an order
func (ob *OrderBuilder) BuildSignedOrder(data *OrderData) (*SignedOrder, error) {
	order, err := ob.BuildOrder(data)
	if err != nil {
		return nil, err
	}

	signature, err := ob.SignOrder(order)
	if err != nil {
		return nil, err
	}

	return &SignedOrder{
		Order:     order,
		Signature: signature,
	}, nil
}

// SignOrder signs an order using EIP712 and returns the 0x-prefixed signature
func (ob *OrderBuilder) SignOrder(order *Order) (string, error) {
	typed, err := OrderToTypedData(order)
	if err != nil {
		return "", err
	}

	if typed.Seller != ob.SignerAddress() {
		return "", fmt.Errorf("seller %s does not match signer %s", typed.Seller.Hex(), ob.SignerAddress().Hex())
	}

	hash := CreateOrderSignHash(ob.separator.Current(ob.chainID), typed)
	signature, err := SignDigest(hash, ob.signer)
	if err != nil {
		return "", fmt.Errorf("failed to sign order: %w", err)
	}

	return hexutil.Encode(signature), nil
}

func (ob *OrderBuilder) validateInputs(data *OrderData) error {
	if data.AssetContract == "" {
		return fmt.Errorf("assetContract is required")
	}
	if data.PaymentAsset == "" {
		return fmt.Errorf("paymentAsset is required")
	}
	if data.AssetID == "" {
		return fmt.Errorf("assetId is required")
	}
	if data.StartPrice == "" {
		return fmt.Errorf("startPrice is required")
	}
	if data.Deadline == "" {
		return fmt.Errorf("deadline is required")
	}
	for _, addr := range []string{data.Seller, data.AssetContract, data.PaymentAsset} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
	}
	return nil
}

func normalizeAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}
