package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"
)

var (
	testSettlement = common.HexToAddress("0x5e771e0000000000000000000000000000000001")
	testCollection = common.HexToAddress("0x00000000000000000000000000000000000c011e")
	testToken      = common.HexToAddress("0x0000000000000000000000000000000000070ce1")
	testSeller     = common.HexToAddress("0x000000000000000000000000000000000005e11e")
)

func testOrder() *OrderTypedData {
	return &OrderTypedData{
		Seller:        testSeller,
		AssetContract: testCollection,
		PaymentAsset:  testToken,
		AssetID:       big.NewInt(42),
		StartPrice:    big.NewInt(10_000),
		EndPrice:      big.NewInt(0),
		Start:         big.NewInt(0),
		Deadline:      big.NewInt(2_000_000_000),
		Nonce:         big.NewInt(0),
	}
}

func TestDomainSeparatorMatchesTypedData(t *testing.T) {
	domain := NewEIP712Domain(big.NewInt(1), testSettlement)
	td := testOrder().TypedData(domain)

	separator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	require.NoError(t, err)
	require.Equal(t, common.BytesToHash(separator), domain.Hash())
}

func TestSigningDigestMatchesTypedData(t *testing.T) {
	order := testOrder()
	order.Start = big.NewInt(1_000)
	order.EndPrice = big.NewInt(100)
	order.Nonce = big.NewInt(7)
	domain := NewEIP712Domain(big.NewInt(56), testSettlement)

	td := order.TypedData(domain)
	structHash, err := td.HashStruct("Order", td.Message)
	require.NoError(t, err)
	require.Equal(t, common.BytesToHash(structHash), order.Hash())

	digest, _, err := apitypes.TypedDataAndHash(td)
	require.NoError(t, err)
	require.Equal(t, common.BytesToHash(digest), CreateOrderSignHash(domain.Hash(), order))
}

func TestDomainSeparatorBindsChainAndContract(t *testing.T) {
	base := NewEIP712Domain(big.NewInt(1), testSettlement).Hash()

	require.NotEqual(t, base, NewEIP712Domain(big.NewInt(56), testSettlement).Hash())
	require.NotEqual(t, base, NewEIP712Domain(big.NewInt(1), testCollection).Hash())
	require.Equal(t, base, NewEIP712Domain(big.NewInt(1), testSettlement).Hash())
}

func TestDomainSeparatorRecomputesAfterChainSplit(t *testing.T) {
	separator := NewDomainSeparator(big.NewInt(1), testSettlement)
	cached := separator.Current(big.NewInt(1))

	require.Equal(t, NewEIP712Domain(big.NewInt(1), testSettlement).Hash(), cached)
	require.Equal(t, cached, separator.Current(nil))

	forked := separator.Current(big.NewInt(10001))
	require.NotEqual(t, cached, forked)
	require.Equal(t, NewEIP712Domain(big.NewInt(10001), testSettlement).Hash(), forked)
	require.Equal(t, big.NewInt(10001), separator.Domain(big.NewInt(10001)).ChainID)

	// returning to the original chain serves the cached value again
	require.Equal(t, cached, separator.Current(big.NewInt(1)))
}

func TestStructHashCoversEveryField(t *testing.T) {
	base := testOrder().Hash()

	mutations := map[string]func(o *OrderTypedData){
		"seller":        func(o *OrderTypedData) { o.Seller = testCollection },
		"assetContract": func(o *OrderTypedData) { o.AssetContract = testToken },
		"paymentAsset":  func(o *OrderTypedData) { o.PaymentAsset = common.Address{} },
		"assetId":       func(o *OrderTypedData) { o.AssetID = big.NewInt(43) },
		"startPrice":    func(o *OrderTypedData) { o.StartPrice = big.NewInt(10_001) },
		"endPrice":      func(o *OrderTypedData) { o.EndPrice = big.NewInt(1) },
		"start":         func(o *OrderTypedData) { o.Start = big.NewInt(1) },
		"deadline":      func(o *OrderTypedData) { o.Deadline = big.NewInt(2_000_000_001) },
		"nonce":         func(o *OrderTypedData) { o.Nonce = big.NewInt(1) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			o := testOrder()
			mutate(o)
			require.NotEqual(t, base, o.Hash())
		})
	}
}

func TestStructHashNilFieldsAreZero(t *testing.T) {
	o := testOrder()
	o.EndPrice = nil
	o.Start = nil
	o.Nonce = nil
	require.Equal(t, testOrder().Hash(), o.Hash())
}

func TestOrderToTypedData(t *testing.T) {
	order := &Order{
		Seller:        testSeller.Hex(),
		AssetContract: testCollection.Hex(),
		PaymentAsset:  testToken.Hex(),
		AssetID:       "42",
		StartPrice:    "10000",
		Deadline:      "2000000000",
	}

	typed, err := OrderToTypedData(order)
	require.NoError(t, err)
	require.Equal(t, testOrder().Hash(), typed.Hash())
	require.Equal(t, 0, typed.Start.Sign())

	back := TypedDataToOrder(typed)
	require.Equal(t, "0", back.EndPrice)
	require.Equal(t, "0", back.Start)
	require.Equal(t, "0", back.Nonce)
	require.Equal(t, testCollection.Hex(), back.AssetContract)
}

func TestOrderToTypedDataRejects(t *testing.T) {
	valid := func() *Order {
		return TypedDataToOrder(testOrder())
	}
	tooBig := new(big.Int).Add(maxUint256, big.NewInt(1)).String()

	cases := []struct {
		name   string
		mutate func(o *Order)
		err    error
	}{
		{"bad seller", func(o *Order) { o.Seller = "0x1234" }, ErrInvalidAddress},
		{"bad payment", func(o *Order) { o.PaymentAsset = "native" }, ErrInvalidAddress},
		{"missing asset id", func(o *Order) { o.AssetID = "" }, ErrInvalidAssetID},
		{"negative start price", func(o *Order) { o.StartPrice = "-1" }, ErrInvalidStartPrice},
		{"end price overflow", func(o *Order) { o.EndPrice = tooBig }, ErrInvalidEndPrice},
		{"hex start", func(o *Order) { o.Start = "0x10" }, ErrInvalidStart},
		{"missing deadline", func(o *Order) { o.Deadline = "" }, ErrInvalidDeadline},
		{"bad nonce", func(o *Order) { o.Nonce = "one" }, ErrInvalidNonce},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := valid()
			tc.mutate(o)
			_, err := OrderToTypedData(o)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestValidateRange(t *testing.T) {
	require.NoError(t, testOrder().Validate())

	edge := testOrder()
	edge.Deadline = new(big.Int).Set(maxUint256)
	edge.Nonce = nil
	require.NoError(t, edge.Validate())

	overflow := new(big.Int).Add(maxUint256, big.NewInt(1))
	cases := []struct {
		name   string
		mutate func(o *OrderTypedData)
		err    error
	}{
		{"negative asset id", func(o *OrderTypedData) { o.AssetID = big.NewInt(-1) }, ErrInvalidAssetID},
		{"start price overflow", func(o *OrderTypedData) { o.StartPrice = overflow }, ErrInvalidStartPrice},
		{"negative end price", func(o *OrderTypedData) { o.EndPrice = big.NewInt(-1) }, ErrInvalidEndPrice},
		{"start overflow", func(o *OrderTypedData) { o.Start = overflow }, ErrInvalidStart},
		{"deadline overflow", func(o *OrderTypedData) { o.Deadline = overflow }, ErrInvalidDeadline},
		{"negative nonce", func(o *OrderTypedData) { o.Nonce = big.NewInt(-1) }, ErrInvalidNonce},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := testOrder()
			tc.mutate(o)
			require.ErrorIs(t, o.Validate(), tc.err)
		})
	}
}

func TestCopyIsDeep(t *testing.T) {
	o := testOrder()
	c := o.Copy()
	c.AssetID.SetInt64(99)
	require.Equal(t, big.NewInt(42), o.AssetID)

	empty := (&OrderTypedData{}).Copy()
	require.Equal(t, 0, empty.Nonce.Sign())
}
