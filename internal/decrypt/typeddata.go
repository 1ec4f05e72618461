package decrypt

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DomainName    = "Decryption"
	DomainVersion = "1"
	PrimaryType   = "UserDecryptRequestVerification"
)

// Domain separates decrypt authorizations per chain and per verifying relayer.
type Domain struct {
	ChainID           uint64         `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// Authorization is the struct the account key signs.
type Authorization struct {
	PublicKey         []byte
	ContractAddresses []common.Address
	StartTimestamp    int64
	DurationDays      uint64
}

func (d Domain) TypedData(a Authorization) apitypes.TypedData {
	contracts := make([]interface{}, 0, len(a.ContractAddresses))
	for _, c := range a.ContractAddresses {
		contracts = append(contracts, c.Hex())
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			PrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(d.ChainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(a.PublicKey),
			"contractAddresses": contracts,
			"startTimestamp":    strconv.FormatInt(a.StartTimestamp, 10),
			"durationDays":      strconv.FormatUint(a.DurationDays, 10),
		},
	}
}

// Hash is the EIP-712 digest of the authorization under d.
func (d Domain) Hash(a Authorization) ([]byte, error) {
	h, _, err := apitypes.TypedDataAndHash(d.TypedData(a))
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}
	return h, nil
}

// SignAuthorization signs like a wallet's eth_signTypedData_v4: 65 bytes, v in {27, 28}.
func SignAuthorization(key *ecdsa.PrivateKey, d Domain, a Authorization) ([]byte, error) {
	h, err := d.Hash(a)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(h, key)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverAuthorizer returns the address that signed a under d.
func RecoverAuthorizer(d Domain, a Authorization, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	h, err := d.Hash(a)
	if err != nil {
		return common.Address{}, err
	}
	norm := make([]byte, crypto.SignatureLength)
	copy(norm, sig)
	if norm[crypto.RecoveryIDOffset] >= 27 {
		norm[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(h, norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Signer is the long-lived account key that authorizes decrypt requests.
type Signer interface {
	Address() common.Address
	SignAuthorization(d Domain, a Authorization) ([]byte, error)
}

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	if key == nil {
		panic("decrypt: key is nil")
	}
	return &KeySigner{key: key}
}

func (s *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *KeySigner) SignAuthorization(d Domain, a Authorization) ([]byte, error) {
	return SignAuthorization(s.key, d, a)
}
