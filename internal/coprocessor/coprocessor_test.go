package coprocessor_test

import (
	"bytes"
	"testing"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"darkforge/internal/coprocessor"
	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func newCoprocessor(t *testing.T, seed []byte) *coprocessor.Coprocessor {
	t.Helper()
	c, err := coprocessor.New(dbm.NewMemDB(), seed, log.NewNopLogger())
	require.NoError(t, err)
	return c
}

func testSeed(b byte) []byte {
	return bytes.Repeat([]byte{b}, coprocessor.SeedBytes)
}

func TestRandRange_StaysInBoundsAndCoversEnds(t *testing.T) {
	c := newCoprocessor(t, testSeed(1))
	c.BeginBlock(1)
	s := c.BeginTx(contract, 0)
	a := fhe.NewAdapter(s)

	var handles []fhe.Handle
	for i := 0; i < 3000; i++ {
		h, err := a.RandRange(10, 100)
		require.NoError(t, err)
		require.Equal(t, fhe.TypeUint32, h.Type())
		handles = append(handles, h)
	}
	s.Commit()
	require.NoError(t, c.Commit())

	lo, hi := uint64(1000), uint64(0)
	for _, h := range handles {
		v, err := c.Decrypt(h)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, uint64(10))
		require.LessOrEqual(t, v, uint64(100))
		lo = min(lo, v)
		hi = max(hi, v)
	}
	require.Equal(t, uint64(10), lo)
	require.Equal(t, uint64(100), hi)
}

func TestSession_DiscardLeavesNothing(t *testing.T) {
	c := newCoprocessor(t, testSeed(2))
	c.BeginBlock(1)

	s := c.BeginTx(contract, 0)
	h, err := s.TrivialEncrypt(5, fhe.TypeUint32)
	require.NoError(t, err)
	require.NoError(t, s.Allow(h, alice))
	s.Discard()
	require.NoError(t, c.Commit())

	_, err = c.Decrypt(h)
	require.ErrorIs(t, err, types.ErrHandleNotFound)
	ok, err := c.IsGranted(h, contract, alice)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSession_WritesInvisibleUntilCommit(t *testing.T) {
	c := newCoprocessor(t, testSeed(3))
	c.BeginBlock(1)

	s := c.BeginTx(contract, 0)
	h, err := s.TrivialEncrypt(42, fhe.TypeUint32)
	require.NoError(t, err)
	require.NoError(t, s.Allow(h, alice))
	s.Commit()

	_, err = c.Decrypt(h)
	require.ErrorIs(t, err, types.ErrHandleNotFound)

	require.NoError(t, c.Commit())
	v, err := c.Decrypt(h)
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)

	ok, err := c.IsGranted(h, contract, alice)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSession_CompareAndSelect(t *testing.T) {
	c := newCoprocessor(t, testSeed(4))
	c.BeginBlock(1)
	s := c.BeginTx(contract, 0)
	a := fhe.NewAdapter(s)

	seven, err := a.Const(7)
	require.NoError(t, err)
	nine, err := a.Const(9)
	require.NoError(t, err)

	ge, err := a.Ge(nine, seven)
	require.NoError(t, err)
	require.Equal(t, fhe.TypeBool, ge.Type())
	lt, err := a.Ge(seven, nine)
	require.NoError(t, err)

	picked, err := a.Select(ge, nine, seven)
	require.NoError(t, err)
	other, err := a.Select(lt, nine, seven)
	require.NoError(t, err)

	sum, err := a.Add(picked, other)
	require.NoError(t, err)

	_, err = a.Select(seven, nine, seven)
	require.ErrorIs(t, err, types.ErrHandleType)
	_, err = a.Add(ge, seven)
	require.ErrorIs(t, err, types.ErrHandleType)

	s.Commit()
	require.NoError(t, c.Commit())

	for h, want := range map[fhe.Handle]uint64{ge: 1, lt: 0, picked: 9, other: 7, sum: 16} {
		v, err := c.Decrypt(h)
		require.NoError(t, err)
		require.Equal(t, want, v, "handle %s", h)
	}
}

func TestSession_AddWrapsAt32Bits(t *testing.T) {
	c := newCoprocessor(t, testSeed(5))
	s := c.BeginTx(contract, 0)
	a := fhe.NewAdapter(s)

	top, err := a.Const(^uint32(0))
	require.NoError(t, err)
	wrapped, err := a.AddConst(top, 2)
	require.NoError(t, err)
	s.Commit()
	require.NoError(t, c.Commit())

	v, err := c.Decrypt(wrapped)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
}

func TestSession_ForeignContractCannotUseOrGrant(t *testing.T) {
	c := newCoprocessor(t, testSeed(6))
	c.BeginBlock(1)

	owner := c.BeginTx(contract, 0)
	h, err := owner.TrivialEncrypt(1, fhe.TypeUint32)
	require.NoError(t, err)
	owner.Commit()

	thief := common.HexToAddress("0x00000000000000000000000000000000000000c2")
	s := c.BeginTx(thief, 1)
	_, err = s.Add(h, h)
	require.ErrorIs(t, err, types.ErrAuthorization)
	err = s.Allow(h, thief)
	require.ErrorIs(t, err, types.ErrAuthorization)
}

func TestSession_AllowThisSurvivesAcrossTransactions(t *testing.T) {
	c := newCoprocessor(t, testSeed(7))
	c.BeginBlock(1)
	s := c.BeginTx(contract, 0)
	h, err := s.TrivialEncrypt(3, fhe.TypeUint32)
	require.NoError(t, err)
	require.NoError(t, fhe.NewAdapter(s).AllowThis(h))
	s.Commit()
	require.NoError(t, c.Commit())

	c.BeginBlock(2)
	next := c.BeginTx(contract, 0)
	_, err = next.Add(h, h)
	require.NoError(t, err)
}

func TestHandles_DeterministicAcrossReplicas(t *testing.T) {
	run := func(c *coprocessor.Coprocessor) (fhe.Handle, uint64) {
		c.BeginBlock(9)
		s := c.BeginTx(contract, 3)
		h, err := fhe.NewAdapter(s).RandRange(10, 100)
		require.NoError(t, err)
		s.Commit()
		require.NoError(t, c.Commit())
		v, err := c.Decrypt(h)
		require.NoError(t, err)
		return h, v
	}

	h1, v1 := run(newCoprocessor(t, testSeed(8)))
	h2, v2 := run(newCoprocessor(t, testSeed(8)))
	require.Equal(t, h1, h2)
	require.Equal(t, v1, v2)
}

func TestSeed_GeneratedOnceAndPersisted(t *testing.T) {
	db := dbm.NewMemDB()
	c1, err := coprocessor.New(db, nil, log.NewNopLogger())
	require.NoError(t, err)

	c1.BeginBlock(1)
	s := c1.BeginTx(contract, 0)
	h, err := s.Rand(1000)
	require.NoError(t, err)
	s.Commit()
	require.NoError(t, c1.Commit())
	want, err := c1.Decrypt(h)
	require.NoError(t, err)

	c2, err := coprocessor.New(db, nil, log.NewNopLogger())
	require.NoError(t, err)
	got, err := c2.Decrypt(h)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestNew_RejectsShortSeed(t *testing.T) {
	_, err := coprocessor.New(dbm.NewMemDB(), []byte{1, 2, 3}, log.NewNopLogger())
	require.Error(t, err)
}

func TestAdapter_AddSaturatingClampsAtMax(t *testing.T) {
	c := newCoprocessor(t, testSeed(9))
	c.BeginBlock(1)
	s := c.BeginTx(contract, 0)
	a := fhe.NewAdapter(s)

	nearTop, err := a.Const(^uint32(0) - 3)
	require.NoError(t, err)
	ten, err := a.Const(10)
	require.NoError(t, err)
	three, err := a.Const(3)
	require.NoError(t, err)

	clamped, err := a.AddSaturating(nearTop, ten)
	require.NoError(t, err)
	exact, err := a.AddSaturating(nearTop, three)
	require.NoError(t, err)
	small, err := a.AddSaturating(three, ten)
	require.NoError(t, err)
	s.Commit()
	require.NoError(t, c.Commit())

	for h, want := range map[fhe.Handle]uint64{clamped: uint64(^uint32(0)), exact: uint64(^uint32(0)), small: 13} {
		v, err := c.Decrypt(h)
		require.NoError(t, err)
		require.Equal(t, want, v, "handle %s", h)
	}
}
