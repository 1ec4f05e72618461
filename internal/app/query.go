package app

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	errorsmod "cosmossdk.io/errors"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"

	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

type contractView struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
	ChainID string         `json:"chainId"`
	Height  int64          `json:"height"`
}

type soldiersView struct {
	Owner    common.Address `json:"owner"`
	TokenIDs []uint64       `json:"tokenIds"`
}

type soldierView struct {
	TokenID uint64         `json:"tokenId"`
	Owner   common.Address `json:"owner"`
	Attack  fhe.Handle     `json:"attack"`
	Defense fhe.Handle     `json:"defense"`
}

type pointsView struct {
	Owner  common.Address `json:"owner"`
	Points fhe.Handle     `json:"points"`
}

// Query serves public state. Encrypted values appear only as handles.
//
// Paths:
//   - /contract
//   - /params
//   - /soldiers/<owner>
//   - /soldier/<id>
//   - /points/<owner>
func (a *ForgeApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, err := a.query(strings.TrimSpace(req.Path))
	if err != nil {
		codespace, code, logMsg := errorsmod.ABCIInfo(err, false)
		return &abci.QueryResponse{Code: code, Codespace: codespace, Log: logMsg, Height: a.committed.Height}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &abci.QueryResponse{Code: 0, Value: b, Height: a.committed.Height}, nil
}

func (a *ForgeApp) query(path string) (any, error) {
	switch {
	case path == types.QueryPathContract:
		return contractView{Name: a.contractName, Address: a.contract, ChainID: a.chainID, Height: a.committed.Height}, nil

	case path == types.QueryPathParams:
		return a.committed.Params, nil

	case strings.HasPrefix(path, types.QueryPathSoldiers):
		owner, err := parseOwner(strings.TrimPrefix(path, types.QueryPathSoldiers))
		if err != nil {
			return nil, err
		}
		return soldiersView{Owner: owner, TokenIDs: a.committed.IDsOf(owner)}, nil

	case strings.HasPrefix(path, types.QueryPathSoldier):
		raw := strings.TrimPrefix(path, types.QueryPathSoldier)
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, types.ErrInvalidRequest.Wrapf("invalid token id %q", raw)
		}
		owner, ok := a.committed.OwnerOf(id)
		if !ok {
			return nil, types.ErrSoldierNotFound.Wrapf("token %d", id)
		}
		attack, defense, err := a.committed.StatsOf(id)
		if err != nil {
			return nil, err
		}
		return soldierView{TokenID: id, Owner: owner, Attack: attack, Defense: defense}, nil

	case strings.HasPrefix(path, types.QueryPathPoints):
		owner, err := parseOwner(strings.TrimPrefix(path, types.QueryPathPoints))
		if err != nil {
			return nil, err
		}
		return pointsView{Owner: owner, Points: a.committed.PointsOf(owner)}, nil

	default:
		return nil, types.ErrInvalidRequest.Wrapf("unknown query path %q", path)
	}
}

func parseOwner(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, types.ErrInvalidRequest.Wrapf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
