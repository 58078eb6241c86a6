package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeCurrency is the payment asset sentinel meaning the chain's native currency
var NativeCurrency = common.Address{}

// NoProbeBuyer skips the affordability check of the validator
var NoProbeBuyer = common.Address{}

// ReplayMode selects how a deployment prevents signature replay
type ReplayMode int

const (
	// ReplayDigest records every settled order digest in a write-once set
	ReplayDigest ReplayMode = iota
	// ReplayNonce requires the signed nonce to equal the seller's counter
	ReplayNonce
)

func (m ReplayMode) String() string {
	switch m {
	case ReplayDigest:
		return "digest"
	case ReplayNonce:
		return "nonce"
	default:
		return "unknown"
	}
}

// PriceKind is how an order is priced over time
type PriceKind int

const (
	PriceKindFixed PriceKind = iota
	PriceKindDutch
)

// Msg is the caller context of a settlement attempt
type Msg struct {
	From  common.Address
	Value *big.Int
}

// Receipt describes a completed settlement
type Receipt struct {
	Digest        common.Hash
	Seller        common.Address
	Buyer         common.Address
	AssetContract common.Address
	PaymentAsset  common.Address
	AssetID       *big.Int
	Price         *big.Int
	Fee           *big.Int
	Proceeds      *big.Int
	Deadline      *big.Int
}

// SettledEvent is the log emitted for every completed settlement
type SettledEvent struct {
	Seller        common.Address `json:"seller"`
	Buyer         common.Address `json:"buyer"`
	AssetContract common.Address `json:"assetContract"`
	PaymentAsset  common.Address `json:"paymentAsset"`
	AssetID       *big.Int       `json:"assetId"`
	Price         *big.Int       `json:"price"`
	Fee           *big.Int       `json:"fee"`
	Deadline      *big.Int       `json:"deadline"`
	Digest        common.Hash    `json:"digest"`
}
