// Example usage of the NFT settlement SDK: sign a dutch auction order and
// settle it against an in-memory ledger.
package main

import (
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	settlement "github.com/kaifufi/nft-settlement-sdk-go"
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	settlementlog "github.com/kaifufi/nft-settlement-sdk-go/log"
)

func main() {
	logger := settlementlog.NewLogger(true, "console")
	defer logger.Sync()

	sellerKey, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}
	seller := crypto.PubkeyToAddress(sellerKey.PublicKey)

	var (
		engineAddr = common.HexToAddress("0x5e771e0000000000000000000000000000000001")
		owner      = common.HexToAddress("0x0000000000000000000000000000000000000a11")
		feeAddr    = common.HexToAddress("0x0000000000000000000000000000000000000fee")
		collection = common.HexToAddress("0x00000000000000000000000000000000000c011e")
		token      = common.HexToAddress("0x0000000000000000000000000000000000070ce1")
		buyer      = common.HexToAddress("0x00000000000000000000000000000000000b0b0b")
		assetID    = big.NewInt(7)
	)

	ledger := settlement.NewLedger(settlement.ChainIDSepolia.Big(), 1_000)
	engine, err := settlement.NewEngine(settlement.Config{
		ChainID:    settlement.ChainIDSepolia,
		Address:    engineAddr,
		Owner:      owner,
		FeeAddress: feeAddr,
		ReplayMode: settlement.ReplayDigest,
		FeeDivisor: big.NewInt(settlement.DefaultFeeDivisor),
	}, ledger, logger)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	admin := engine.Admin()
	for _, asset := range []common.Address{collection, token} {
		if err := admin.SetWhitelisted(owner, asset, true); err != nil {
			log.Fatalf("Failed to whitelist: %v", err)
		}
	}
	if err := admin.SetFeeRate(owner, collection, big.NewInt(250)); err != nil {
		log.Fatalf("Failed to set fee rate: %v", err)
	}

	if err := ledger.MintAsset(collection, seller, assetID); err != nil {
		log.Fatalf("Failed to mint: %v", err)
	}
	ledger.SetApprovalForAll(collection, seller, engineAddr, true)

	price, err := settlement.AmountToBaseUnits("2", 18)
	if err != nil {
		log.Fatalf("Failed to convert amount: %v", err)
	}
	ledger.MintToken(token, buyer, price)
	ledger.Approve(token, buyer, engineAddr, price)

	// Seller signs a dutch auction from 2 down to 1 between t=1000 and t=2000
	builder, err := chain.NewOrderBuilder(engineAddr.Hex(), int64(settlement.ChainIDSepolia), sellerKey)
	if err != nil {
		log.Fatalf("Failed to create order builder: %v", err)
	}
	signed, err := builder.BuildSignedOrder(&chain.OrderData{
		AssetContract: collection.Hex(),
		PaymentAsset:  token.Hex(),
		AssetID:       assetID.String(),
		StartPrice:    price.String(),
		EndPrice:      new(big.Int).Div(price, big.NewInt(2)).String(),
		Start:         "1000",
		Deadline:      "2000",
	})
	if err != nil {
		log.Fatalf("Failed to sign order: %v", err)
	}
	fmt.Printf("Signed order: %+v\n", signed.Order)

	order, err := chain.OrderToTypedData(signed.Order)
	if err != nil {
		log.Fatalf("Failed to convert order: %v", err)
	}
	sig, err := hexutil.Decode(signed.Signature)
	if err != nil {
		log.Fatalf("Failed to decode signature: %v", err)
	}

	ledger.SetTime(1_500)
	if err := engine.Check(order, sig, buyer); err != nil {
		log.Fatalf("Order is not valid: %v", err)
	}

	ledger.Subscribe(func(ev *settlement.SettledEvent) {
		fmt.Printf("Settled %s #%s for %s (fee %s)\n", ev.AssetContract.Hex(), ev.AssetID, ev.Price, ev.Fee)
	})

	receipt, err := engine.Settle(settlement.Msg{From: buyer}, order, sig)
	if err != nil {
		log.Fatalf("Failed to settle: %v", err)
	}
	fmt.Printf("Price: %s, seller received: %s, fee: %s\n",
		settlement.BaseUnitsToAmount(receipt.Price, 18),
		settlement.BaseUnitsToAmount(receipt.Proceeds, 18),
		settlement.BaseUnitsToAmount(receipt.Fee, 18))
	fmt.Printf("New owner: %s\n", ledger.OwnerOf(collection, assetID).Hex())

	// Settling the same signature again is rejected
	if _, err := engine.Settle(settlement.Msg{From: buyer}, order, sig); err != nil {
		fmt.Printf("Replay rejected: %v\n", settlement.Reason(err))
	}
}
