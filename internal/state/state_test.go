package state

import (
	"bytes"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func testHandle(b byte) fhe.Handle {
	var h fhe.Handle
	h[0] = b
	h[30] = byte(fhe.TypeUint32)
	return h
}

func TestAppHash_StableAcrossMapOrder(t *testing.T) {
	s1 := NewState()
	s1.Height = 7
	s1.SetPoints(bob, testHandle(2))
	s1.SetPoints(alice, testHandle(1))
	s1.NonceMax["x"] = 3

	s2 := NewState()
	s2.Height = 7
	s2.SetPoints(alice, testHandle(1))
	s2.SetPoints(bob, testHandle(2))
	s2.NonceMax["x"] = 3

	h1 := s1.AppHash()
	h2 := s2.AppHash()
	if !bytes.Equal(h1, h2) {
		t.Fatalf("expected stable app hash; h1=%x h2=%x", h1, h2)
	}

	// Any semantic change should change the hash.
	s2.SetPoints(alice, testHandle(9))
	if bytes.Equal(h1, s2.AppHash()) {
		t.Fatalf("expected hash to change after state mutation")
	}
}

func TestMint_AssignsMonotonicIDsInInsertionOrder(t *testing.T) {
	s := NewState()
	var got []uint64
	for _, owner := range []common.Address{alice, bob, alice} {
		id, err := s.Mint(owner)
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		got = append(got, id)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected ids: %v", got)
	}

	ids := s.IDsOf(alice)
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("unexpected alice ids: %v", ids)
	}
	if ids := s.IDsOf(common.HexToAddress("0x01")); len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}

	owner, ok := s.OwnerOf(2)
	if !ok || owner != bob {
		t.Fatalf("unexpected owner of 2: %s ok=%v", owner.Hex(), ok)
	}
	if _, ok := s.OwnerOf(99); ok {
		t.Fatalf("expected unknown token")
	}
}

func TestIDsOf_ReturnsCopy(t *testing.T) {
	s := NewState()
	if _, err := s.Mint(alice); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	ids := s.IDsOf(alice)
	ids[0] = 42
	if s.IDsOf(alice)[0] != 1 {
		t.Fatalf("IDsOf leaked internal slice")
	}
}

func TestMint_OverflowIsReported(t *testing.T) {
	s := NewState()
	s.NextTokenID = math.MaxUint64
	_, err := s.Mint(alice)
	if !types.ErrOverflow.Is(err) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if len(s.IDsOf(alice)) != 0 {
		t.Fatalf("failed mint must not record ownership")
	}
}

func TestSetStats_WrittenOnce(t *testing.T) {
	s := NewState()
	id, err := s.Mint(alice)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := s.SetStats(id, fhe.ZeroHandle, testHandle(1)); !types.ErrInvalidRequest.Is(err) {
		t.Fatalf("expected zero handle rejection, got %v", err)
	}
	if err := s.SetStats(id, testHandle(1), testHandle(2)); err != nil {
		t.Fatalf("SetStats: %v", err)
	}
	if err := s.SetStats(id, testHandle(3), testHandle(4)); !types.ErrStatsAlreadySet.Is(err) {
		t.Fatalf("expected already-set error, got %v", err)
	}
	atk, def, err := s.StatsOf(id)
	if err != nil {
		t.Fatalf("StatsOf: %v", err)
	}
	if atk != testHandle(1) || def != testHandle(2) {
		t.Fatalf("stats overwritten: %s %s", atk, def)
	}
	if _, _, err := s.StatsOf(77); !types.ErrSoldierNotFound.Is(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPointsOf_ZeroUntilSeeded(t *testing.T) {
	s := NewState()
	if !s.PointsOf(alice).IsZero() {
		t.Fatalf("expected zero sentinel")
	}
	s.SetPoints(alice, testHandle(5))
	if s.PointsOf(alice) != testHandle(5) {
		t.Fatalf("points not stored")
	}
	if !s.PointsOf(bob).IsZero() {
		t.Fatalf("bob should be unseeded")
	}
}

func TestSaveLoadClone_RoundTripPreservesHash(t *testing.T) {
	dir := t.TempDir()
	s := NewState()
	s.Height = 3
	id, err := s.Mint(alice)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := s.SetStats(id, testHandle(1), testHandle(2)); err != nil {
		t.Fatalf("SetStats: %v", err)
	}
	s.SetPoints(alice, testHandle(3))

	if err := s.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(s.AppHash(), loaded.AppHash()) {
		t.Fatalf("hash changed across save/load")
	}

	c, err := s.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if _, err := c.Mint(bob); err != nil {
		t.Fatalf("Mint on clone: %v", err)
	}
	if len(s.IDsOf(bob)) != 0 {
		t.Fatalf("clone mutation leaked into original")
	}
}

func TestLoad_MissingFileGivesFreshState(t *testing.T) {
	s, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.NextTokenID != 1 || s.Params != DefaultParams() {
		t.Fatalf("unexpected fresh state: %+v", s)
	}
}

func TestParams_Validate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	p := DefaultParams()
	p.ConsolationPoints = 0
	if err := p.Validate(); err == nil {
		t.Fatalf("expected error for zero reward")
	}
	p = DefaultParams()
	p.StatMin, p.StatMax = 50, 40
	if err := p.Validate(); err == nil {
		t.Fatalf("expected error for inverted range")
	}
}
