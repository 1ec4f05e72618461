package app

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"darkforge/internal/codec"
	"darkforge/internal/state"
	"darkforge/internal/types"
)

func requireSignedEnvelope(env codec.TxEnvelope) error {
	if env.Nonce == "" {
		return fmt.Errorf("missing tx.nonce")
	}
	if env.Signer == "" {
		return fmt.Errorf("missing tx.signer")
	}
	if len(env.Sig) == 0 {
		return fmt.Errorf("missing tx.sig")
	}
	if len(env.Sig) != crypto.SignatureLength {
		return fmt.Errorf("invalid tx.sig length: got %d want %d", len(env.Sig), crypto.SignatureLength)
	}
	if !common.IsHexAddress(env.Signer) {
		return fmt.Errorf("invalid tx.signer %q", env.Signer)
	}
	return nil
}

// verifySignature checks that env was signed by env.Signer for chainID.
func verifySignature(chainID string, env codec.TxEnvelope) (common.Address, error) {
	if err := requireSignedEnvelope(env); err != nil {
		return common.Address{}, types.ErrUnauthorizedTx.Wrap(err.Error())
	}
	signer := common.HexToAddress(env.Signer)
	recovered, err := codec.RecoverSigner(chainID, env)
	if err != nil {
		return common.Address{}, types.ErrUnauthorizedTx.Wrap(err.Error())
	}
	if recovered != signer {
		return common.Address{}, types.ErrUnauthorizedTx.Wrapf("invalid signature: recovered %s, tx.signer %s", recovered.Hex(), signer.Hex())
	}
	return signer, nil
}

// authenticate verifies the signature and that the nonce is fresh for the signer.
func authenticate(st *state.State, chainID string, env codec.TxEnvelope) (common.Address, uint64, error) {
	signer, err := verifySignature(chainID, env)
	if err != nil {
		return common.Address{}, 0, err
	}
	nonce, err := strconv.ParseUint(env.Nonce, 10, 64)
	if err != nil {
		return common.Address{}, 0, types.ErrUnauthorizedTx.Wrapf("invalid tx.nonce %q", env.Nonce)
	}
	if last := st.NonceMax[signer.Hex()]; nonce <= last {
		return common.Address{}, 0, types.ErrUnauthorizedTx.Wrapf("replayed tx.nonce: got %d, last %d", nonce, last)
	}
	return signer, nonce, nil
}
