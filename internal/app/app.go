package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"

	"darkforge/internal/codec"
	"darkforge/internal/coprocessor"
	"darkforge/internal/metrics"
	"darkforge/internal/state"
	"darkforge/internal/types"
)

const (
	AppVersion uint64 = 1
)

type Options struct {
	// ChainID binds tx signatures. When empty it is taken from InitChain.
	ChainID      string
	ContractName string
	Logger       log.Logger
	Metrics      *metrics.Metrics
}

// ForgeApp is the DarkForge ABCI application. Public state lives in a JSON
// snapshot (state.json in the directory given to New); encrypted values live
// in the coprocessor.
type ForgeApp struct {
	*abci.BaseApplication

	dir          string
	contractName string
	contract     common.Address
	cop          *coprocessor.Coprocessor
	logger       log.Logger
	metrics      *metrics.Metrics

	mu       sync.Mutex
	chainID  string
	st       *state.State
	lastHash []byte

	// committed is the state as of the last Commit. Queries read only this, so
	// they never return handles the coprocessor has not persisted yet.
	committed *state.State
}

// New loads state from dir (state.json) and binds it to cop.
func New(dir string, cop *coprocessor.Coprocessor, opts Options) (*ForgeApp, error) {
	if cop == nil {
		return nil, fmt.Errorf("app: coprocessor is nil")
	}
	if opts.ContractName == "" {
		opts.ContractName = types.DefaultContractName
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	st, err := state.Load(dir)
	if err != nil {
		return nil, err
	}
	committed, err := st.Clone()
	if err != nil {
		return nil, err
	}
	return &ForgeApp{
		BaseApplication: abci.NewBaseApplication(),
		dir:             dir,
		contractName:    opts.ContractName,
		contract:        ContractAddress(opts.ContractName),
		cop:             cop,
		logger:          opts.Logger.With("module", "app"),
		metrics:         opts.Metrics,
		chainID:         opts.ChainID,
		st:              st,
		lastHash:        st.AppHash(),
		committed:       committed,
	}, nil
}

// Contract is the address every confidential value of the game is bound to.
func (a *ForgeApp) Contract() common.Address {
	return a.contract
}

func (a *ForgeApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "DarkForge (v1)",
		Version:          "v1",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.committed.Height,
		LastBlockAppHash: a.committed.AppHash(),
	}, nil
}

// CheckTx admits well-formed, correctly signed envelopes of a known type.
// Nonces and ownership are checked at execution.
func (a *ForgeApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	a.mu.Lock()
	chainID := a.chainID
	a.mu.Unlock()

	env, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return checkErr(types.ErrInvalidRequest.Wrap(err.Error())), nil
	}
	if !knownTxType(env.Type) {
		return checkErr(types.ErrUnknownTx.Wrapf("%q", env.Type)), nil
	}
	if _, err := verifySignature(chainID, env); err != nil {
		return checkErr(err), nil
	}
	return &abci.CheckTxResponse{Code: 0}, nil
}

func checkErr(err error) *abci.CheckTxResponse {
	codespace, code, logMsg := errorsmod.ABCIInfo(err, false)
	return &abci.CheckTxResponse{Code: code, Codespace: codespace, Log: logMsg}
}

type genesisState struct {
	Params *state.Params `json:"params,omitempty"`
}

func (a *ForgeApp) InitChain(_ context.Context, req *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.chainID == "" {
		a.chainID = req.ChainId
	} else if req.ChainId != "" && req.ChainId != a.chainID {
		return nil, fmt.Errorf("genesis chain id %q does not match configured %q", req.ChainId, a.chainID)
	}

	if len(req.AppStateBytes) > 0 {
		var gs genesisState
		if err := json.Unmarshal(req.AppStateBytes, &gs); err != nil {
			return nil, fmt.Errorf("decode app_state: %w", err)
		}
		if gs.Params != nil {
			if err := gs.Params.Validate(); err != nil {
				return nil, fmt.Errorf("app_state params: %w", err)
			}
			a.st.Params = *gs.Params
		}
	}
	a.lastHash = a.st.AppHash()
	committed, err := a.st.Clone()
	if err != nil {
		return nil, err
	}
	a.committed = committed
	a.logger.Info("chain initialized", "chain_id", a.chainID, "contract", a.contract.Hex(), "params", fmt.Sprintf("%+v", a.st.Params))
	return &abci.InitChainResponse{AppHash: a.lastHash}, nil
}

func (a *ForgeApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height
	a.cop.BeginBlock(req.Height)

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	failed := 0
	for i, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height, i)
		if res.Code != 0 {
			failed++
		}
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()
	a.metrics.SetHeight(req.Height)
	a.logger.Debug("finalized block", "height", req.Height, "txs", len(req.Txs), "failed", failed)

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

// Commit persists the coprocessor first so saved state never points at
// ciphertexts that were not written.
func (a *ForgeApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.cop.Commit(); err != nil {
		return nil, fmt.Errorf("commit coprocessor: %w", err)
	}
	if err := a.st.Save(a.dir); err != nil {
		return nil, err
	}
	committed, err := a.st.Clone()
	if err != nil {
		return nil, err
	}
	a.committed = committed
	return &abci.CommitResponse{}, nil
}

// deliverTx executes one tx against a staged copy of state and a coprocessor
// session. Both are kept only if the handler succeeds.
func (a *ForgeApp) deliverTx(txBytes []byte, height int64, txIndex int) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return a.fail("", types.ErrInvalidRequest.Wrap(err.Error()))
	}
	if !knownTxType(env.Type) {
		return a.fail(env.Type, types.ErrUnknownTx.Wrapf("%q", env.Type))
	}

	caller, nonce, err := authenticate(a.st, a.chainID, env)
	if err != nil {
		return a.fail(env.Type, err)
	}
	// A consumed nonce stays consumed even if execution fails.
	a.st.NonceMax[caller.Hex()] = nonce

	staged, err := a.st.Clone()
	if err != nil {
		return a.fail(env.Type, fmt.Errorf("clone state: %w", err))
	}
	sess := a.cop.BeginTx(a.contract, txIndex)

	res, err := a.route(staged, sess, caller, env)
	if err != nil {
		sess.Discard()
		return a.fail(env.Type, err)
	}
	sess.Commit()
	a.st = staged
	a.metrics.ObserveTx(env.Type, 0)
	return res
}

func (a *ForgeApp) fail(typ string, err error) *abci.ExecTxResult {
	codespace, code, logMsg := errorsmod.ABCIInfo(err, false)
	a.metrics.ObserveTx(typ, code)
	a.logger.Info("tx rejected", "type", typ, "codespace", codespace, "code", code, "log", logMsg)
	return &abci.ExecTxResult{Code: code, Codespace: codespace, Log: logMsg}
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{ev},
	}
}
