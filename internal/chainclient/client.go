// Package chainclient submits forge transactions to a CometBFT node and reads
// game state through ABCI queries.
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/cenkalti/backoff/v4"
	abci "github.com/cometbft/cometbft/abci/types"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"darkforge/internal/codec"
	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

// RPC is the subset of the CometBFT RPC client used here.
type RPC interface {
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*coretypes.ResultABCIQuery, error)
	BroadcastTxSync(ctx context.Context, tx cmttypes.Tx) (*coretypes.ResultBroadcastTx, error)
	Tx(ctx context.Context, hash []byte, prove bool) (*coretypes.ResultTx, error)
}

type Client struct {
	rpc          RPC
	chainID      string
	pollInterval time.Duration
	maxRetries   uint64
	logger       log.Logger

	mu        sync.Mutex
	lastNonce uint64
}

// Dial connects to a node RPC endpoint such as http://127.0.0.1:26657.
func Dial(remote, chainID string, logger log.Logger) (*Client, error) {
	rpc, err := rpchttp.New(remote)
	if err != nil {
		return nil, fmt.Errorf("rpc client: %w", err)
	}
	return New(rpc, chainID, logger), nil
}

func New(rpc RPC, chainID string, logger log.Logger) *Client {
	if rpc == nil {
		panic("chainclient: rpc is nil")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{
		rpc:          rpc,
		chainID:      chainID,
		pollInterval: 500 * time.Millisecond,
		maxRetries:   5,
		logger:       logger.With("module", "chainclient"),
	}
}

// WithPollInterval sets how often Submit checks for inclusion.
func (c *Client) WithPollInterval(d time.Duration) *Client {
	c.pollInterval = d
	return c
}

func (c *Client) WithMaxRetries(n uint64) *Client {
	c.maxRetries = n
	return c
}

// TxResult is a committed transaction.
type TxResult struct {
	Hash   string
	Height int64
	Events []abci.Event
}

// Attr returns the first value of key on the first event of type typ.
func (r *TxResult) Attr(typ, key string) (string, bool) {
	for _, ev := range r.Events {
		if ev.Type != typ {
			continue
		}
		for _, a := range ev.Attributes {
			if a.Key == key {
				return a.Value, true
			}
		}
	}
	return "", false
}

// nextNonce is wall-clock based and strictly increasing within the process.
func (c *Client) nextNonce() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := uint64(time.Now().UnixNano())
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

// Submit signs, broadcasts and waits until the tx is committed or ctx ends.
// Rejections come back as the registered error for their code.
func (c *Client) Submit(ctx context.Context, key *ecdsa.PrivateKey, typ string, value any) (*TxResult, error) {
	env, err := codec.SignTx(key, c.chainID, typ, value, c.nextNonce())
	if err != nil {
		return nil, err
	}
	txBytes, err := codec.EncodeTxEnvelope(env)
	if err != nil {
		return nil, err
	}

	res, err := c.rpc.BroadcastTxSync(ctx, txBytes)
	if err != nil {
		return nil, types.ErrTransientNetwork.Wrapf("broadcast: %s", err)
	}
	if res.Code != 0 {
		return nil, errorsmod.ABCIError(res.Codespace, res.Code, res.Log)
	}
	hash := cmttypes.Tx(txBytes).Hash()
	logger := c.logger.With("type", typ, "hash", fmt.Sprintf("%X", hash))
	logger.Debug("tx accepted into mempool")

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		got, err := c.rpc.Tx(ctx, hash, false)
		if err == nil {
			if got.TxResult.Code != 0 {
				return nil, errorsmod.ABCIError(got.TxResult.Codespace, got.TxResult.Code, got.TxResult.Log)
			}
			logger.Debug("tx committed", "height", got.Height)
			return &TxResult{
				Hash:   fmt.Sprintf("%X", hash),
				Height: got.Height,
				Events: got.TxResult.Events,
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, types.ErrTransientNetwork.Wrapf("tx %X not committed: %s", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// MintSoldier returns the new token id.
func (c *Client) MintSoldier(ctx context.Context, key *ecdsa.PrivateKey) (uint64, *TxResult, error) {
	res, err := c.Submit(ctx, key, types.TxTypeMintSoldier, codec.MintSoldierTx{})
	if err != nil {
		return 0, nil, err
	}
	raw, ok := res.Attr(types.EventTypeSoldierMinted, types.AttributeKeyTokenID)
	if !ok {
		return 0, res, fmt.Errorf("tx %s: missing %s event", res.Hash, types.EventTypeSoldierMinted)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, res, fmt.Errorf("tx %s: bad token id %q", res.Hash, raw)
	}
	return id, res, nil
}

func (c *Client) AttackMonster(ctx context.Context, key *ecdsa.PrivateKey, tokenID uint64) (*TxResult, error) {
	return c.Submit(ctx, key, types.TxTypeAttackMonster, codec.AttackMonsterTx{TokenID: tokenID})
}

// query runs an ABCI query with backoff on transport errors only.
func (c *Client) query(ctx context.Context, path string, out any) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(3*time.Second),
	), c.maxRetries), ctx)

	res, err := backoff.RetryNotifyWithData(func() (*coretypes.ResultABCIQuery, error) {
		r, err := c.rpc.ABCIQuery(ctx, path, nil)
		if err != nil {
			return nil, types.ErrTransientNetwork.Wrapf("query %s: %s", path, err)
		}
		return r, nil
	}, b, func(err error, next time.Duration) {
		c.logger.Debug("query failed, retrying", "path", path, "err", err, "in", next)
	})
	if err != nil {
		return err
	}
	if res.Response.Code != 0 {
		return errorsmod.ABCIError(res.Response.Codespace, res.Response.Code, res.Response.Log)
	}
	if err := json.Unmarshal(res.Response.Value, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ContractInfo identifies the game contract and the chain it lives on.
type ContractInfo struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
	ChainID string         `json:"chainId"`
	Height  int64          `json:"height"`
}

// SoldierView is the public record of a soldier. Stats are handles, never values.
type SoldierView struct {
	TokenID uint64         `json:"tokenId"`
	Owner   common.Address `json:"owner"`
	Attack  fhe.Handle     `json:"attack"`
	Defense fhe.Handle     `json:"defense"`
}

type PointsView struct {
	Owner  common.Address `json:"owner"`
	Points fhe.Handle     `json:"points"`
}

func (c *Client) Contract(ctx context.Context) (ContractInfo, error) {
	var out ContractInfo
	err := c.query(ctx, types.QueryPathContract, &out)
	return out, err
}

// ContractAddress resolves the contract address, checking it serves name.
func (c *Client) ContractAddress(ctx context.Context, name string) (common.Address, error) {
	info, err := c.Contract(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if name != "" && name != info.Name {
		return common.Address{}, types.ErrInvalidRequest.Wrapf("node serves contract %q, not %q", info.Name, name)
	}
	return info.Address, nil
}

func (c *Client) SoldierIDs(ctx context.Context, owner common.Address) ([]uint64, error) {
	var out struct {
		TokenIDs []uint64 `json:"tokenIds"`
	}
	if err := c.query(ctx, types.QueryPathSoldiers+owner.Hex(), &out); err != nil {
		return nil, err
	}
	return out.TokenIDs, nil
}

func (c *Client) SoldierStats(ctx context.Context, tokenID uint64) (SoldierView, error) {
	var out SoldierView
	err := c.query(ctx, types.QueryPathSoldier+strconv.FormatUint(tokenID, 10), &out)
	return out, err
}

func (c *Client) Points(ctx context.Context, owner common.Address) (fhe.Handle, error) {
	var out PointsView
	if err := c.query(ctx, types.QueryPathPoints+owner.Hex(), &out); err != nil {
		return fhe.Handle{}, err
	}
	return out.Points, nil
}

// Address is the account behind key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, types.ErrTransientNetwork)
}
