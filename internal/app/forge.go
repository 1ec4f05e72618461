package app

import (
	"encoding/json"
	"strconv"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"darkforge/internal/codec"
	"darkforge/internal/fhe"
	"darkforge/internal/state"
	"darkforge/internal/types"
)

const contractDomain = "darkforge/contract/"

// ContractAddress derives the game contract address from its registered name.
func ContractAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(contractDomain + name))[12:])
}

func knownTxType(typ string) bool {
	switch typ {
	case types.TxTypeMintSoldier, types.TxTypeAttackMonster:
		return true
	default:
		return false
	}
}

func (a *ForgeApp) route(st *state.State, exec fhe.Executor, caller common.Address, env codec.TxEnvelope) (*abci.ExecTxResult, error) {
	fx := fhe.NewAdapter(exec)
	switch env.Type {
	case types.TxTypeMintSoldier:
		var msg codec.MintSoldierTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		return mintSoldier(st, fx, caller)

	case types.TxTypeAttackMonster:
		var msg codec.AttackMonsterTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		return attackMonster(st, fx, caller, msg.TokenID)

	default:
		return nil, types.ErrUnknownTx.Wrapf("%q", env.Type)
	}
}

func decodeValue(env codec.TxEnvelope, out any) error {
	if len(env.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return types.ErrInvalidRequest.Wrapf("bad %s value", env.Type)
	}
	return nil
}

// mintSoldier forges a soldier with encrypted attack and defense drawn
// uniformly from [StatMin, StatMax]. Only the owner and the contract may use them.
func mintSoldier(st *state.State, fx *fhe.Adapter, owner common.Address) (*abci.ExecTxResult, error) {
	id, err := st.Mint(owner)
	if err != nil {
		return nil, err
	}
	attack, err := fx.RandRange(st.Params.StatMin, st.Params.StatMax)
	if err != nil {
		return nil, err
	}
	defense, err := fx.RandRange(st.Params.StatMin, st.Params.StatMax)
	if err != nil {
		return nil, err
	}
	if err := fx.Grant(owner, attack, defense); err != nil {
		return nil, err
	}
	if err := st.SetStats(id, attack, defense); err != nil {
		return nil, err
	}
	return okEvent(types.EventTypeSoldierMinted, map[string]string{
		types.AttributeKeyTokenID: strconv.FormatUint(id, 10),
		types.AttributeKeyOwner:   owner.Hex(),
		types.AttributeKeyAttack:  attack.Hex(),
		types.AttributeKeyDefense: defense.Hex(),
	}), nil
}

// attackMonster pits the soldier's attack against a freshly drawn monster
// defense and folds the encrypted reward into the caller's points:
//
//	win    = attack >= monster
//	delta  = win ? VictoryPoints : ConsolationPoints
//	points = min(points + delta, 2^32-1)
//
// The outcome never leaves the coprocessor; only the new points handle is public.
func attackMonster(st *state.State, fx *fhe.Adapter, caller common.Address, tokenID uint64) (*abci.ExecTxResult, error) {
	owner, ok := st.OwnerOf(tokenID)
	if !ok {
		return nil, types.ErrOwnership.Wrapf("token %d does not exist", tokenID)
	}
	if owner != caller {
		return nil, types.ErrOwnership.Wrapf("token %d belongs to %s", tokenID, owner.Hex())
	}
	attack, _, err := st.StatsOf(tokenID)
	if err != nil {
		return nil, err
	}

	monster, err := fx.RandRange(st.Params.StatMin, st.Params.StatMax)
	if err != nil {
		return nil, err
	}
	win, err := fx.Ge(attack, monster)
	if err != nil {
		return nil, err
	}
	victory, err := fx.Const(st.Params.VictoryPoints)
	if err != nil {
		return nil, err
	}
	consolation, err := fx.Const(st.Params.ConsolationPoints)
	if err != nil {
		return nil, err
	}
	delta, err := fx.Select(win, victory, consolation)
	if err != nil {
		return nil, err
	}

	points := st.PointsOf(caller)
	if points.IsZero() {
		if points, err = fx.Zero(); err != nil {
			return nil, err
		}
	}
	points, err = fx.AddSaturating(points, delta)
	if err != nil {
		return nil, err
	}
	if err := fx.Grant(caller, points); err != nil {
		return nil, err
	}
	st.SetPoints(caller, points)

	return okEvent(types.EventTypeMonsterAttacked, map[string]string{
		types.AttributeKeyTokenID: strconv.FormatUint(tokenID, 10),
		types.AttributeKeyOwner:   caller.Hex(),
		types.AttributeKeyPoints:  points.Hex(),
	}), nil
}
