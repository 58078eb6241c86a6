package settlement

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAdmin() *Admin {
	return NewAdmin(ownerAddr, feeAddr, big.NewInt(DefaultFeeDivisor), zap.NewNop())
}

func TestAdminWhitelist(t *testing.T) {
	admin := newTestAdmin()
	require.False(t, admin.IsWhitelisted(collection))

	require.ErrorIs(t, admin.SetWhitelisted(buyer, collection, true), ErrUnauthorized)
	require.False(t, admin.IsWhitelisted(collection))

	require.NoError(t, admin.SetWhitelisted(ownerAddr, collection, true))
	require.True(t, admin.IsWhitelisted(collection))
	require.False(t, admin.IsWhitelisted(NativeCurrency))

	require.NoError(t, admin.SetWhitelisted(ownerAddr, collection, false))
	require.False(t, admin.IsWhitelisted(collection))
}

func TestAdminFeeRate(t *testing.T) {
	admin := newTestAdmin()
	require.Zero(t, admin.FeeRate(collection).Sign())
	require.Equal(t, int64(DefaultFeeDivisor), admin.FeeDivisor().Int64())

	require.ErrorIs(t, admin.SetFeeRate(feeAddr, collection, big.NewInt(1)), ErrUnauthorized)

	var paramErr *InvalidParamError
	require.ErrorAs(t, admin.SetFeeRate(ownerAddr, collection, big.NewInt(DefaultFeeDivisor+1)), &paramErr)
	require.ErrorAs(t, admin.SetFeeRate(ownerAddr, collection, big.NewInt(-1)), &paramErr)

	rate := big.NewInt(250)
	require.NoError(t, admin.SetFeeRate(ownerAddr, collection, rate))
	rate.SetInt64(9_000)
	require.Equal(t, int64(250), admin.FeeRate(collection).Int64())
}

func TestAdminRoles(t *testing.T) {
	admin := newTestAdmin()
	newFee := common.HexToAddress("0x0000000000000000000000000000000000000fe2")
	newOwner := common.HexToAddress("0x0000000000000000000000000000000000000a12")

	require.ErrorIs(t, admin.SetFeeAddress(buyer, newFee), ErrUnauthorized)
	require.NoError(t, admin.SetFeeAddress(feeAddr, newFee))
	require.Equal(t, newFee, admin.FeeAddress())

	var paramErr *InvalidParamError
	require.ErrorAs(t, admin.SetFeeAddress(ownerAddr, common.Address{}), &paramErr)

	// the previous fee address lost its role
	require.ErrorIs(t, admin.SetFeeAddress(feeAddr, feeAddr), ErrUnauthorized)

	require.ErrorIs(t, admin.TransferOwnership(newFee, newOwner), ErrUnauthorized)
	require.ErrorAs(t, admin.TransferOwnership(ownerAddr, common.Address{}), &paramErr)
	require.NoError(t, admin.TransferOwnership(ownerAddr, newOwner))
	require.Equal(t, newOwner, admin.Owner())

	require.ErrorIs(t, admin.SetWhitelisted(ownerAddr, token, true), ErrUnauthorized)
	require.NoError(t, admin.SetWhitelisted(newOwner, token, true))
}

func TestEngineUsesRotatedFeeAddress(t *testing.T) {
	f := newFixture(t, ReplayDigest)
	newFee := common.HexToAddress("0x0000000000000000000000000000000000000fe2")
	require.NoError(t, f.engine.Admin().SetFeeAddress(ownerAddr, newFee))

	order := f.fixedOrder()
	_, err := f.engine.Settle(Msg{From: buyer}, order, f.sign(t, order))
	require.NoError(t, err)
	require.Equal(t, int64(250), f.ledger.BalanceOf(token, newFee).Int64())
	require.Zero(t, f.ledger.BalanceOf(token, feeAddr).Sign())
}
