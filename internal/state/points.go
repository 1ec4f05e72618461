package state

import (
	"github.com/ethereum/go-ethereum/common"

	"darkforge/internal/fhe"
)

// PointsOf returns owner's points handle, or the zero handle if owner never attacked.
func (s *State) PointsOf(owner common.Address) fhe.Handle {
	return s.Points[ownerKey(owner)]
}

func (s *State) SetPoints(owner common.Address, h fhe.Handle) {
	s.Points[ownerKey(owner)] = h
}
