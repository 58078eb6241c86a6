package settlement

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	engineAddr = common.HexToAddress("0x5e771e0000000000000000000000000000000001")
	ownerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	feeAddr    = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	collection = common.HexToAddress("0x00000000000000000000000000000000000c011e")
	token      = common.HexToAddress("0x0000000000000000000000000000000000070ce1")
	buyer      = common.HexToAddress("0x00000000000000000000000000000000000b0b0b")
	assetID    = big.NewInt(7)
)

const funding = 1_000_000

var twoTo256 = new(big.Int).Lsh(big.NewInt(1), 256)

type fixture struct {
	ledger    *Ledger
	engine    *Engine
	sellerKey *ecdsa.PrivateKey
	seller    common.Address
}

func newFixture(t *testing.T, mode ReplayMode) *fixture {
	t.Helper()

	ledger := NewLedger(ChainIDSepolia.Big(), 1_000)
	engine, err := NewEngine(Config{
		ChainID:    ChainIDSepolia,
		Address:    engineAddr,
		Owner:      ownerAddr,
		FeeAddress: feeAddr,
		ReplayMode: mode,
		FeeDivisor: big.NewInt(DefaultFeeDivisor),
	}, ledger, zap.NewNop())
	require.NoError(t, err)

	admin := engine.Admin()
	for _, asset := range []common.Address{collection, token, NativeCurrency} {
		require.NoError(t, admin.SetWhitelisted(ownerAddr, asset, true))
	}
	require.NoError(t, admin.SetFeeRate(ownerAddr, collection, big.NewInt(250)))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	seller := crypto.PubkeyToAddress(key.PublicKey)

	require.NoError(t, ledger.MintAsset(collection, seller, assetID))
	ledger.SetApprovalForAll(collection, seller, engineAddr, true)
	ledger.MintToken(token, buyer, big.NewInt(funding))
	ledger.Approve(token, buyer, engineAddr, big.NewInt(funding))
	ledger.MintNative(buyer, big.NewInt(funding))

	return &fixture{ledger: ledger, engine: engine, sellerKey: key, seller: seller}
}

// fixedOrder is a fixed-price order of 10_000 token units valid until t=2000
func (f *fixture) fixedOrder() *chain.OrderTypedData {
	return &chain.OrderTypedData{
		Seller:        f.seller,
		AssetContract: collection,
		PaymentAsset:  token,
		AssetID:       new(big.Int).Set(assetID),
		StartPrice:    big.NewInt(10_000),
		EndPrice:      big.NewInt(0),
		Start:         big.NewInt(0),
		Deadline:      big.NewInt(2_000),
		Nonce:         big.NewInt(0),
	}
}

func (f *fixture) sign(t *testing.T, order *chain.OrderTypedData) []byte {
	t.Helper()
	sig, err := chain.SignDigest(f.engine.SigningDigest(order), f.sellerKey)
	require.NoError(t, err)
	return sig
}

type balances struct {
	owner        common.Address
	buyerToken   string
	sellerToken  string
	feeToken     string
	buyerNative  string
	engineNative string
	sellerNative string
	logs         int
}

// balances snapshots everything a settlement can touch
func (f *fixture) balances() balances {
	return balances{
		owner:        f.ledger.OwnerOf(collection, assetID),
		buyerToken:   f.ledger.BalanceOf(token, buyer).String(),
		sellerToken:  f.ledger.BalanceOf(token, f.seller).String(),
		feeToken:     f.ledger.BalanceOf(token, feeAddr).String(),
		buyerNative:  f.ledger.NativeBalance(buyer).String(),
		engineNative: f.ledger.NativeBalance(engineAddr).String(),
		sellerNative: f.ledger.NativeBalance(f.seller).String(),
		logs:         len(f.ledger.Logs()),
	}
}

func TestNewEngineValidation(t *testing.T) {
	ledger := NewLedger(ChainIDSepolia.Big(), 0)
	base := Config{
		ChainID:    ChainIDSepolia,
		Address:    engineAddr,
		Owner:      ownerAddr,
		FeeAddress: feeAddr,
		FeeDivisor: big.NewInt(DefaultFeeDivisor),
	}

	_, err := NewEngine(base, ledger, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"chain mismatch", func(c *Config) { c.ChainID = ChainIDEthereumMainnet }},
		{"no owner", func(c *Config) { c.Owner = common.Address{} }},
		{"no fee address", func(c *Config) { c.FeeAddress = common.Address{} }},
		{"no address", func(c *Config) { c.Address = common.Address{} }},
		{"no divisor", func(c *Config) { c.FeeDivisor = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := NewEngine(cfg, ledger, nil)
			var paramErr *InvalidParamError
			require.ErrorAs(t, err, &paramErr)
		})
	}
}

func TestSettleFixedPrice(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	sig := f.sign(t, order)

	var events []*SettledEvent
	f.ledger.Subscribe(func(ev *SettledEvent) { events = append(events, ev) })

	receipt, err := f.engine.Settle(Msg{From: buyer}, order, sig)
	require.NoError(t, err)

	require.Equal(t, int64(10_000), receipt.Price.Int64())
	require.Equal(t, int64(250), receipt.Fee.Int64())
	require.Equal(t, int64(9_750), receipt.Proceeds.Int64())
	require.Equal(t, f.engine.SigningDigest(order), receipt.Digest)

	require.Equal(t, buyer, f.ledger.OwnerOf(collection, assetID))
	require.Equal(t, int64(9_750), f.ledger.BalanceOf(token, f.seller).Int64())
	require.Equal(t, int64(250), f.ledger.BalanceOf(token, feeAddr).Int64())
	require.Equal(t, int64(funding-10_000), f.ledger.BalanceOf(token, buyer).Int64())
	require.True(t, f.engine.IsSettled(receipt.Digest))

	require.Len(t, events, 1)
	require.Equal(t, f.seller, events[0].Seller)
	require.Equal(t, buyer, events[0].Buyer)
	require.Equal(t, receipt.Digest, events[0].Digest)
	require.Equal(t, int64(250), events[0].Fee.Int64())
}

func TestSettleDutchAuction(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	order.StartPrice = big.NewInt(1_000)
	order.Start = big.NewInt(1_000)
	order.Deadline = big.NewInt(1_100)
	sig := f.sign(t, order)

	f.ledger.SetTime(1_050)
	receipt, err := f.engine.Settle(Msg{From: buyer}, order, sig)
	require.NoError(t, err)
	require.Equal(t, int64(500), receipt.Price.Int64())
	require.Equal(t, int64(12), receipt.Fee.Int64())
	require.Equal(t, int64(488), receipt.Proceeds.Int64())
}

func TestSettleReplayLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	sig := f.sign(t, order)

	_, err := f.engine.Settle(Msg{From: buyer}, order, sig)
	require.NoError(t, err)
	after := f.balances()

	// hand the asset back so only the replay guard can stop the second attempt
	require.NoError(t, f.ledger.Apply(func() error {
		return f.ledger.TransferAsset(collection, buyer, buyer, f.seller, assetID)
	}))
	after.owner = f.seller

	_, err = f.engine.Settle(Msg{From: buyer}, order, sig)
	require.ErrorIs(t, err, ErrSignatureReplayed)
	require.Equal(t, ErrSignatureReplayed, Reason(err))

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, f.engine.SigningDigest(order), rejection.Digest)
	require.Equal(t, after, f.balances())
}

func TestSettleExpiredOrder(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	order.Deadline = big.NewInt(999)
	sig := f.sign(t, order)
	before := f.balances()

	require.False(t, f.engine.IsValid(order, sig, buyer))

	_, err := f.engine.Settle(Msg{From: buyer}, order, sig)
	require.ErrorIs(t, err, ErrOrderExpired)
	require.Equal(t, before, f.balances())
	require.False(t, f.engine.IsSettled(f.engine.SigningDigest(order)))
}

func TestSettleRejectsDeadlineOffsetByTwoTo256(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	order.Deadline = big.NewInt(500)
	sig := f.sign(t, order)
	before := f.balances()

	_, err := f.engine.Settle(Msg{From: buyer}, order, sig)
	require.ErrorIs(t, err, ErrOrderExpired)

	// the struct hash reduces modulo 2^256, so the signature still recovers
	forged := order.Copy()
	forged.Deadline.Add(forged.Deadline, twoTo256)
	require.Equal(t, f.engine.SigningDigest(order), f.engine.SigningDigest(forged))

	var pe *InvalidParamError
	require.ErrorAs(t, f.engine.Check(forged, sig, buyer), &pe)
	_, err = f.engine.Settle(Msg{From: buyer}, forged, sig)
	require.ErrorAs(t, err, &pe)
	require.Equal(t, before, f.balances())
	require.Equal(t, f.seller, f.ledger.OwnerOf(collection, assetID))
	require.False(t, f.engine.IsSettled(f.engine.SigningDigest(order)))
}

func TestSettleRejectsOutOfRangeFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *chain.OrderTypedData)
	}{
		{"negative deadline", func(o *chain.OrderTypedData) { o.Deadline = big.NewInt(-1) }},
		{"oversized deadline", func(o *chain.OrderTypedData) { o.Deadline = new(big.Int).Add(o.Deadline, twoTo256) }},
		{"negative start", func(o *chain.OrderTypedData) { o.Start = new(big.Int).Sub(big.NewInt(1_000), twoTo256) }},
		{"oversized start", func(o *chain.OrderTypedData) { o.Start = new(big.Int).Add(big.NewInt(1_000), twoTo256) }},
		{"negative end price", func(o *chain.OrderTypedData) { o.EndPrice = big.NewInt(-100) }},
		{"oversized end price", func(o *chain.OrderTypedData) { o.EndPrice = new(big.Int).Set(twoTo256) }},
		{"oversized start price", func(o *chain.OrderTypedData) { o.StartPrice = new(big.Int).Add(o.StartPrice, twoTo256) }},
		{"negative asset id", func(o *chain.OrderTypedData) { o.AssetID = big.NewInt(-7) }},
		{"oversized nonce", func(o *chain.OrderTypedData) { o.Nonce = new(big.Int).Set(twoTo256) }},
	}

	for _, mode := range []ReplayMode{ReplayDigest, ReplayNonce} {
		for _, tt := range tests {
			t.Run(mode.String()+"/"+tt.name, func(t *testing.T) {
				f := newFixture(t, mode)
				order := f.fixedOrder()
				tt.mutate(order)
				sig := f.sign(t, order)
				before := f.balances()

				require.False(t, f.engine.IsValid(order, sig, buyer))

				_, err := f.engine.Settle(Msg{From: buyer}, order, sig)
				var pe *InvalidParamError
				require.ErrorAs(t, err, &pe)
				require.Equal(t, before, f.balances())
				require.False(t, f.engine.IsSettled(f.engine.SigningDigest(order)))
				require.Zero(t, f.engine.Nonce(f.seller).Sign())
			})
		}
	}
}

func TestSettleDeadlineIsInclusive(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	order.Deadline = big.NewInt(1_000)

	_, err := f.engine.Settle(Msg{From: buyer}, order, f.sign(t, order))
	require.NoError(t, err)
}

func TestSettleRejections(t *testing.T) {
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	unlisted := common.HexToAddress("0x0000000000000000000000000000000000000bad")

	tests := []struct {
		name   string
		mutate func(o *chain.OrderTypedData)
		sign   func(f *fixture, o *chain.OrderTypedData) []byte
		want   error
	}{
		{
			name:   "collection not whitelisted",
			mutate: func(o *chain.OrderTypedData) { o.AssetContract = unlisted },
			want:   ErrAssetNotWhitelisted,
		},
		{
			name:   "payment asset not whitelisted",
			mutate: func(o *chain.OrderTypedData) { o.PaymentAsset = unlisted },
			want:   ErrAssetNotWhitelisted,
		},
		{
			name: "dutch order not started",
			mutate: func(o *chain.OrderTypedData) {
				o.Start = big.NewInt(1_500)
				o.EndPrice = big.NewInt(1)
			},
			want: ErrOrderNotStarted,
		},
		{
			name: "dutch window inverted",
			mutate: func(o *chain.OrderTypedData) {
				o.Start = big.NewInt(900)
				o.Deadline = big.NewInt(900)
			},
			want: ErrInvalidPriceWindow,
		},
		{
			name:   "ambiguous pricing",
			mutate: func(o *chain.OrderTypedData) { o.EndPrice = big.NewInt(5) },
			want:   ErrAmbiguousPricing,
		},
		{
			name: "signed by someone else",
			sign: func(f *fixture, o *chain.OrderTypedData) []byte {
				sig, _ := chain.SignDigest(f.engine.SigningDigest(o), otherKey)
				return sig
			},
			want: ErrSignatureInvalid,
		},
		{
			name: "malformed signature",
			sign: func(*fixture, *chain.OrderTypedData) []byte { return []byte{1, 2, 3} },
			want: ErrSignatureInvalid,
		},
		{
			name:   "seller does not own the asset",
			mutate: func(o *chain.OrderTypedData) { o.AssetID = big.NewInt(8) },
			want:   ErrTransferFailed,
		},
		{
			name:   "buyer cannot afford",
			mutate: func(o *chain.OrderTypedData) { o.StartPrice = big.NewInt(funding + 1) },
			want:   ErrTransferFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, ReplayDigest)
			order := f.fixedOrder()
			if tt.mutate != nil {
				tt.mutate(order)
			}
			var sig []byte
			if tt.sign != nil {
				sig = tt.sign(f, order)
			} else {
				sig = f.sign(t, order)
			}
			before := f.balances()

			require.ErrorIs(t, f.engine.Check(order, sig, buyer), tt.want)

			_, err := f.engine.Settle(Msg{From: buyer}, order, sig)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, before, f.balances())
			require.False(t, f.engine.IsSettled(f.engine.SigningDigest(order)))
		})
	}
}

func TestSettleRollsBackOnAssetTransferFailure(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	sig := f.sign(t, order)

	// payment succeeds first, then the asset transfer fails
	f.ledger.SetApprovalForAll(collection, f.seller, engineAddr, false)
	before := f.balances()

	_, err := f.engine.Settle(Msg{From: buyer}, order, sig)
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, before, f.balances())
	require.Equal(t, int64(funding), f.ledger.Allowance(token, buyer, engineAddr).Int64())
	require.False(t, f.engine.IsSettled(f.engine.SigningDigest(order)))

	// the same signature is still usable once the seller approves
	f.ledger.SetApprovalForAll(collection, f.seller, engineAddr, true)
	_, err = f.engine.Settle(Msg{From: buyer}, order, sig)
	require.NoError(t, err)
}

func TestSettleNative(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	order.PaymentAsset = NativeCurrency
	sig := f.sign(t, order)

	receipt, err := f.engine.Settle(Msg{From: buyer, Value: big.NewInt(12_000)}, order, sig)
	require.NoError(t, err)
	require.Equal(t, int64(250), receipt.Fee.Int64())

	require.Equal(t, buyer, f.ledger.OwnerOf(collection, assetID))
	require.Equal(t, int64(9_750), f.ledger.NativeBalance(f.seller).Int64())
	require.Equal(t, int64(funding-12_000), f.ledger.NativeBalance(buyer).Int64())
	// fee and excess wait in the engine
	require.Equal(t, int64(2_250), f.ledger.NativeBalance(engineAddr).Int64())

	_, err = f.engine.Sweep(buyer)
	require.ErrorIs(t, err, ErrUnauthorized)

	swept, err := f.engine.Sweep(feeAddr)
	require.NoError(t, err)
	require.Equal(t, int64(2_250), swept.Int64())
	require.Equal(t, int64(2_250), f.ledger.NativeBalance(feeAddr).Int64())
	require.Zero(t, f.ledger.NativeBalance(engineAddr).Sign())

	swept, err = f.engine.Sweep(ownerAddr)
	require.NoError(t, err)
	require.Zero(t, swept.Sign())
}

func TestSettleNativeRejections(t *testing.T) {
	t.Run("insufficient payment", func(t *testing.T) {
		f := newFixture(t, ReplayDigest)
		order := f.fixedOrder()
		order.PaymentAsset = NativeCurrency
		before := f.balances()

		_, err := f.engine.Settle(Msg{From: buyer, Value: big.NewInt(9_999)}, order, f.sign(t, order))
		require.ErrorIs(t, err, ErrInsufficientPayment)
		require.Equal(t, before, f.balances())
	})

	t.Run("value with token order", func(t *testing.T) {
		f := newFixture(t, ReplayDigest)
		order := f.fixedOrder()
		before := f.balances()

		_, err := f.engine.Settle(Msg{From: buyer, Value: big.NewInt(1)}, order, f.sign(t, order))
		require.ErrorIs(t, err, ErrUnexpectedValue)
		require.Equal(t, before, f.balances())
	})

	t.Run("value exceeds balance", func(t *testing.T) {
		f := newFixture(t, ReplayDigest)
		order := f.fixedOrder()
		order.PaymentAsset = NativeCurrency

		_, err := f.engine.Settle(Msg{From: buyer, Value: big.NewInt(funding + 1)}, order, f.sign(t, order))
		require.ErrorIs(t, err, ErrTransferFailed)
		require.Equal(t, int64(funding), f.ledger.NativeBalance(buyer).Int64())
	})
}

func TestSettleReentrancyIsReplayed(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	order.PaymentAsset = NativeCurrency
	sig := f.sign(t, order)

	var nestedErr error
	f.ledger.SetReceiver(f.seller, func(r Received) error {
		if r.Kind != ReceivedNative {
			return nil
		}
		_, nestedErr = f.engine.SettleNested(Msg{From: buyer}, order, sig)
		return nil
	})

	_, err := f.engine.Settle(Msg{From: buyer, Value: big.NewInt(10_000)}, order, sig)
	require.NoError(t, err)
	require.ErrorIs(t, nestedErr, ErrSignatureReplayed)
	require.Equal(t, buyer, f.ledger.OwnerOf(collection, assetID))
	require.Len(t, f.ledger.Logs(), 1)
}

func TestSettleFailingReceiverRollsBack(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	order.PaymentAsset = NativeCurrency
	sig := f.sign(t, order)
	before := f.balances()

	f.ledger.SetReceiver(f.seller, func(Received) error {
		return errors.New("not accepting")
	})

	_, err := f.engine.Settle(Msg{From: buyer, Value: big.NewInt(10_000)}, order, sig)
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, before, f.balances())
}

func TestSettleNestedOutsideTransaction(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()

	_, err := f.engine.SettleNested(Msg{From: buyer}, order, f.sign(t, order))
	require.Error(t, err)
}

func TestSettleNonceMode(t *testing.T) {
	f := newFixture(t, ReplayNonce)
	require.Equal(t, ReplayNonce, f.engine.ReplayMode())

	order := f.fixedOrder()
	sig := f.sign(t, order)

	_, err := f.engine.Settle(Msg{From: buyer}, order, sig)
	require.NoError(t, err)
	require.Equal(t, int64(1), f.engine.Nonce(f.seller).Int64())
	require.False(t, f.engine.IsSettled(f.engine.SigningDigest(order)))

	// the buyer lists it back; the old nonce is spent
	require.NoError(t, f.ledger.Apply(func() error {
		return f.ledger.TransferAsset(collection, buyer, buyer, f.seller, assetID)
	}))
	_, err = f.engine.Settle(Msg{From: buyer}, order, sig)
	require.ErrorIs(t, err, ErrSignatureReplayed)

	future := f.fixedOrder()
	future.Nonce = big.NewInt(5)
	_, err = f.engine.Settle(Msg{From: buyer}, future, f.sign(t, future))
	require.ErrorIs(t, err, ErrSignatureReplayed)
	require.Equal(t, int64(1), f.engine.Nonce(f.seller).Int64())

	next := f.fixedOrder()
	next.Nonce = big.NewInt(1)
	_, err = f.engine.Settle(Msg{From: buyer}, next, f.sign(t, next))
	require.NoError(t, err)
	require.Equal(t, int64(2), f.engine.Nonce(f.seller).Int64())
}

func TestSettleAfterChainSplit(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	staleSig := f.sign(t, order)
	staleDigest := f.engine.SigningDigest(order)

	f.ledger.SetChainID(big.NewInt(10_001))
	require.NotEqual(t, staleDigest, f.engine.SigningDigest(order))
	require.Equal(t, chain.NewEIP712Domain(big.NewInt(10_001), engineAddr).Hash(), f.engine.DomainSeparator())

	_, err := f.engine.Settle(Msg{From: buyer}, order, staleSig)
	require.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = f.engine.Settle(Msg{From: buyer}, order, f.sign(t, order))
	require.NoError(t, err)
}

func TestSettleDoesNotMutateOrder(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	sig := f.sign(t, order)

	receipt, err := f.engine.Settle(Msg{From: buyer}, order, sig)
	require.NoError(t, err)

	receipt.Price.SetInt64(1)
	require.Equal(t, int64(10_000), order.StartPrice.Int64())
	require.Equal(t, int64(10_000), f.ledger.Logs()[0].Price.Int64())
}

func TestStructHash(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	order := f.fixedOrder()
	require.Equal(t, order.Hash(), f.engine.StructHash(order))
	require.Equal(t, chain.CreateOrderSignHash(f.engine.DomainSeparator(), order), f.engine.SigningDigest(order))
}
