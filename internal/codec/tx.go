package codec

import (
	"encoding/json"
	"fmt"
)

// TxEnvelope is the transaction container.
//
// CometBFT transactions are opaque bytes; DarkForge uses JSON-encoded envelopes
// signed by an Ethereum-style secp256k1 account key.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// Auth:
	// - Nonce: decimal u64, must increase per signer.
	// - Signer: 0x-prefixed account address; the caller of the contract.
	// - Sig: 65-byte recoverable secp256k1 signature over SignBytes.
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

func EncodeTxEnvelope(env TxEnvelope) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("missing tx.type")
	}
	if len(env.Value) == 0 {
		env.Value = json.RawMessage("{}")
	}
	return json.Marshal(env)
}

// ---- Forge ----

// MintSoldierTx mints a soldier for the signer. It carries no fields.
type MintSoldierTx struct{}

type AttackMonsterTx struct {
	TokenID uint64 `json:"tokenId"`
}
