package acl_test

import (
	"testing"

	dbm "github.com/cosmos/cosmos-db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"darkforge/internal/acl"
	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

func handle(b byte) fhe.Handle {
	var h fhe.Handle
	for i := range h {
		h[i] = b
	}
	return h
}

func TestGrant_ExactTripleOnly(t *testing.T) {
	r := acl.NewRegistry(dbm.NewMemDB())
	contract := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	h := handle(7)

	ok, err := r.IsGranted(h, contract, alice)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Grant(h, contract, alice))
	// Idempotent.
	require.NoError(t, r.Grant(h, contract, alice))

	ok, err = r.IsGranted(h, contract, alice)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.IsGranted(h, contract, bob)
	require.NoError(t, err)
	require.False(t, ok)

	other := common.HexToAddress("0x00000000000000000000000000000000000000c2")
	ok, err = r.IsGranted(h, other, alice)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = r.IsGranted(handle(8), contract, alice)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGrant_RejectsZeroHandle(t *testing.T) {
	r := acl.NewRegistry(dbm.NewMemDB())
	err := r.Grant(fhe.ZeroHandle, common.HexToAddress("0xc1"), common.HexToAddress("0xa1"))
	require.ErrorIs(t, err, types.ErrInvalidRequest)

	ok, err := r.IsGranted(fhe.ZeroHandle, common.HexToAddress("0xc1"), common.HexToAddress("0xa1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCanUse_CreatorOrSelfGrant(t *testing.T) {
	r := acl.NewRegistry(dbm.NewMemDB())
	creator := common.HexToAddress("0xc1")
	stranger := common.HexToAddress("0xc2")
	h := handle(3)

	require.NoError(t, r.SetCreator(h, creator))

	ok, err := r.CanUse(h, creator)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.CanUse(h, stranger)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Grant(h, stranger, stranger))
	ok, err = r.CanUse(h, stranger)
	require.NoError(t, err)
	require.True(t, ok)
}
