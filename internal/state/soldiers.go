package state

import (
	"math"

	"github.com/ethereum/go-ethereum/common"

	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

// Soldier is a minted token. Attack and Defense are set once, at mint.
type Soldier struct {
	ID       uint64     `json:"id"`
	Owner    string     `json:"owner"`
	Attack   fhe.Handle `json:"attack"`
	Defense  fhe.Handle `json:"defense"`
	MintedAt int64      `json:"mintedAt"`
}

func ownerKey(owner common.Address) string {
	return owner.Hex()
}

// Mint allocates the next token id for owner.
func (s *State) Mint(owner common.Address) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, types.ErrInvalidRequest.Wrap("owner is the zero address")
	}
	id := s.NextTokenID
	if id == math.MaxUint64 {
		return 0, types.ErrOverflow.Wrap("token id counter exhausted")
	}
	key := ownerKey(owner)
	s.NextTokenID = id + 1
	s.Soldiers[id] = &Soldier{ID: id, Owner: key, MintedAt: s.Height}
	s.OwnerTokens[key] = append(s.OwnerTokens[key], id)
	return id, nil
}

// IDsOf returns owner's token ids in mint order.
func (s *State) IDsOf(owner common.Address) []uint64 {
	ids := s.OwnerTokens[ownerKey(owner)]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

func (s *State) OwnerOf(tokenID uint64) (common.Address, bool) {
	sd, ok := s.Soldiers[tokenID]
	if !ok {
		return common.Address{}, false
	}
	return common.HexToAddress(sd.Owner), true
}

// SetStats records a soldier's stat handles. It fails if they were already assigned.
func (s *State) SetStats(tokenID uint64, attack, defense fhe.Handle) error {
	sd, ok := s.Soldiers[tokenID]
	if !ok {
		return types.ErrSoldierNotFound.Wrapf("token %d", tokenID)
	}
	if attack.IsZero() || defense.IsZero() {
		return types.ErrInvalidRequest.Wrap("stat handles must be non-zero")
	}
	if !sd.Attack.IsZero() || !sd.Defense.IsZero() {
		return types.ErrStatsAlreadySet.Wrapf("token %d", tokenID)
	}
	sd.Attack = attack
	sd.Defense = defense
	return nil
}

func (s *State) StatsOf(tokenID uint64) (attack, defense fhe.Handle, err error) {
	sd, ok := s.Soldiers[tokenID]
	if !ok {
		return fhe.Handle{}, fhe.Handle{}, types.ErrSoldierNotFound.Wrapf("token %d", tokenID)
	}
	return sd.Attack, sd.Defense, nil
}
