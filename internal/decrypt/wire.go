package decrypt

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"darkforge/internal/dfcrypto"
	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

const (
	// MaxBatchSize bounds the handle pairs in one request.
	MaxBatchSize = 32
	// DefaultDurationDays is the validity window a client asks for.
	DefaultDurationDays = 7
	// DefaultMaxDurationDays is the longest window a relayer accepts.
	DefaultMaxDurationDays = 365

	SecondsPerDay = 86400
)

type HandleContractPair struct {
	Handle          string `json:"handle"`
	ContractAddress string `json:"contractAddress"`
}

// UserDecryptRequest is the relayer wire request. Byte fields are hex; the
// signature carries no 0x prefix.
type UserDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	PublicKey           string               `json:"publicKey"`
	StartTimestamp      string               `json:"startTimestamp"`
	DurationDays        string               `json:"durationDays"`
	ContractAddresses   []string             `json:"contractAddresses"`
	Signature           string               `json:"signature"`
	UserAddress         string               `json:"userAddress"`
}

// UserDecryptResponse maps each requested handle (0x hex) to its sealed payload (hex).
type UserDecryptResponse struct {
	Payloads map[string]string `json:"payloads"`
}

// ErrorResponse is the relayer error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pair is a parsed handle with the contract that holds it.
type Pair struct {
	Handle   fhe.Handle
	Contract common.Address
}

// ParsedRequest is a structurally valid UserDecryptRequest. It says nothing
// about whether the request is authorized.
type ParsedRequest struct {
	Pairs         []Pair
	PublicKey     dfcrypto.Point
	Authorization Authorization
	Signature     []byte
	User          common.Address
}

// Window returns the unix seconds [start, end) the authorization covers.
func (p *ParsedRequest) Window() (start, end int64) {
	start = p.Authorization.StartTimestamp
	return start, start + int64(p.Authorization.DurationDays)*SecondsPerDay
}

// ParseUserDecryptRequest checks the shape of req. Every failure is ErrMalformedRequest.
func ParseUserDecryptRequest(req UserDecryptRequest, maxDurationDays uint64) (*ParsedRequest, error) {
	if maxDurationDays == 0 {
		maxDurationDays = DefaultMaxDurationDays
	}
	n := len(req.HandleContractPairs)
	if n == 0 {
		return nil, types.ErrMalformedRequest.Wrap("no handles requested")
	}
	if n > MaxBatchSize {
		return nil, types.ErrMalformedRequest.Wrapf("%d handles requested, at most %d allowed", n, MaxBatchSize)
	}

	out := &ParsedRequest{}

	listed := make(map[common.Address]bool, len(req.ContractAddresses))
	if len(req.ContractAddresses) == 0 {
		return nil, types.ErrMalformedRequest.Wrap("missing contractAddresses")
	}
	for _, s := range req.ContractAddresses {
		addr, err := parseAddress("contractAddresses", s)
		if err != nil {
			return nil, err
		}
		if listed[addr] {
			return nil, types.ErrMalformedRequest.Wrapf("duplicate contract address %s", addr.Hex())
		}
		listed[addr] = true
		out.Authorization.ContractAddresses = append(out.Authorization.ContractAddresses, addr)
	}

	seen := make(map[Pair]bool, n)
	for i, p := range req.HandleContractPairs {
		h, err := fhe.ParseHandle(p.Handle)
		if err != nil {
			return nil, types.ErrMalformedRequest.Wrapf("handleContractPairs[%d]: %s", i, err)
		}
		if h.IsZero() {
			return nil, types.ErrMalformedRequest.Wrapf("handleContractPairs[%d]: uninitialized handle", i)
		}
		contract, err := parseAddress("contractAddress", p.ContractAddress)
		if err != nil {
			return nil, err
		}
		if !listed[contract] {
			return nil, types.ErrMalformedRequest.Wrapf("contract %s not listed in contractAddresses", contract.Hex())
		}
		pair := Pair{Handle: h, Contract: contract}
		if seen[pair] {
			return nil, types.ErrMalformedRequest.Wrapf("duplicate handle %s", h.Hex())
		}
		seen[pair] = true
		out.Pairs = append(out.Pairs, pair)
	}

	pk, err := hex.DecodeString(strings.TrimPrefix(req.PublicKey, "0x"))
	if err != nil {
		return nil, types.ErrMalformedRequest.Wrap("publicKey is not hex")
	}
	point, err := dfcrypto.PointFromBytesCanonical(pk)
	if err != nil || point.IsIdentity() {
		return nil, types.ErrMalformedRequest.Wrap("publicKey is not a valid point")
	}
	out.PublicKey = point
	out.Authorization.PublicKey = pk

	start, err := strconv.ParseInt(req.StartTimestamp, 10, 64)
	if err != nil || start < 0 {
		return nil, types.ErrMalformedRequest.Wrapf("invalid startTimestamp %q", req.StartTimestamp)
	}
	days, err := strconv.ParseUint(req.DurationDays, 10, 64)
	if err != nil || days == 0 || days > maxDurationDays {
		return nil, types.ErrMalformedRequest.Wrapf("durationDays must be in [1, %d], got %q", maxDurationDays, req.DurationDays)
	}
	if days > uint64(math.MaxInt64-start)/SecondsPerDay {
		return nil, types.ErrMalformedRequest.Wrapf("window of %d days from %d overflows", days, start)
	}
	out.Authorization.StartTimestamp = start
	out.Authorization.DurationDays = days

	if strings.HasPrefix(req.Signature, "0x") {
		return nil, types.ErrMalformedRequest.Wrap("signature must not carry a 0x prefix")
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return nil, types.ErrMalformedRequest.Wrapf("signature must be %d hex-encoded bytes", crypto.SignatureLength)
	}
	out.Signature = sig

	user, err := parseAddress("userAddress", req.UserAddress)
	if err != nil {
		return nil, err
	}
	out.User = user
	return out, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, types.ErrMalformedRequest.Wrapf("invalid %s %q", field, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, types.ErrMalformedRequest.Wrapf("zero %s", field)
	}
	return addr, nil
}

// EncodeValue is the plaintext layout sealed for one handle.
func EncodeValue(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func DecodeValue(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, types.ErrMalformedRequest.Wrapf("cleartext must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
