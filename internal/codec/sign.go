package codec

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const txAuthDomainV1 = "darkforge/tx/v1"

// SignBytes returns the 32-byte digest a tx signer signs:
//
//	keccak256(DOMAIN || 0x00 || chainID || 0x00 || type || 0x00 || nonce || 0x00 || signer || 0x00 || sha256(value))
func SignBytes(chainID, typ string, value []byte, nonce, signer string) []byte {
	sum := sha256.Sum256(value)
	out := make([]byte, 0, len(txAuthDomainV1)+len(chainID)+len(typ)+len(nonce)+len(signer)+5+sha256.Size)
	out = append(out, txAuthDomainV1...)
	out = append(out, 0)
	out = append(out, chainID...)
	out = append(out, 0)
	out = append(out, typ...)
	out = append(out, 0)
	out = append(out, nonce...)
	out = append(out, 0)
	out = append(out, signer...)
	out = append(out, 0)
	out = append(out, sum[:]...)
	return crypto.Keccak256(out)
}

// SignTx builds a signed envelope for the key's address.
func SignTx(key *ecdsa.PrivateKey, chainID, typ string, value any, nonce uint64) (TxEnvelope, error) {
	if key == nil {
		return TxEnvelope{}, fmt.Errorf("sign tx: key is nil")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return TxEnvelope{}, fmt.Errorf("sign tx: encode value: %w", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	nonceStr := strconv.FormatUint(nonce, 10)
	sig, err := crypto.Sign(SignBytes(chainID, typ, raw, nonceStr, signer), key)
	if err != nil {
		return TxEnvelope{}, fmt.Errorf("sign tx: %w", err)
	}
	return TxEnvelope{
		Type:   typ,
		Value:  raw,
		Nonce:  nonceStr,
		Signer: signer,
		Sig:    sig,
	}, nil
}

// RecoverSigner returns the address that produced env.Sig for chainID.
func RecoverSigner(chainID string, env TxEnvelope) (common.Address, error) {
	if len(env.Sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid tx.sig length: got %d want %d", len(env.Sig), crypto.SignatureLength)
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, env.Sig)
	// Accept wallet-style v in {27, 28}.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(SignBytes(chainID, env.Type, env.Value, env.Nonce, env.Signer), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
