package decrypt

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

// State is the lifecycle position of a Request.
type State int

const (
	StateUnkeyed State = iota
	StateKeyed
	StateAuthorized
	StateRequested
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnkeyed:
		return "unkeyed"
	case StateKeyed:
		return "keyed"
	case StateAuthorized:
		return "authorized"
	case StateRequested:
		return "requested"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request is one user decryption: a fresh keypair, a signed time-boxed
// authorization, and the relayer round trip. It moves strictly forward
// through its states and is not safe for concurrent use.
type Request struct {
	id           uuid.UUID
	state        State
	domain       Domain
	pairs        []Pair
	start        time.Time
	durationDays uint64

	keypair   *Keypair
	auth      Authorization
	user      common.Address
	signature []byte

	results map[fhe.Handle]uint64
	err     error
}

// NewRequest validates pairs and prepares an unkeyed request. Zero handles
// are rejected; callers short-circuit them before building a request.
func NewRequest(domain Domain, pairs []Pair, start time.Time, durationDays uint64) (*Request, error) {
	if len(pairs) == 0 {
		return nil, types.ErrMalformedRequest.Wrap("no handles requested")
	}
	if len(pairs) > MaxBatchSize {
		return nil, types.ErrMalformedRequest.Wrapf("%d handles requested, at most %d allowed", len(pairs), MaxBatchSize)
	}
	if durationDays == 0 {
		return nil, types.ErrMalformedRequest.Wrap("durationDays must be positive")
	}
	for _, p := range pairs {
		if p.Handle.IsZero() {
			return nil, types.ErrMalformedRequest.Wrap("uninitialized handle")
		}
	}
	return &Request{
		id:           uuid.New(),
		domain:       domain,
		pairs:        append([]Pair(nil), pairs...),
		start:        start,
		durationDays: durationDays,
	}, nil
}

func (r *Request) ID() uuid.UUID { return r.id }
func (r *Request) State() State  { return r.state }

// Err is the failure that moved the request to StateFailed.
func (r *Request) Err() error { return r.err }

// Results holds the cleartexts once resolved.
func (r *Request) Results() map[fhe.Handle]uint64 { return r.results }

func (r *Request) expect(s State) error {
	if r.state != s {
		return types.ErrInvalidState.Wrapf("request is %s, want %s", r.state, s)
	}
	return nil
}

// GenerateKeypair moves Unkeyed to Keyed.
func (r *Request) GenerateKeypair() error {
	if err := r.expect(StateUnkeyed); err != nil {
		return err
	}
	kp, err := GenerateKeypair()
	if err != nil {
		return err
	}
	r.keypair = kp
	r.state = StateKeyed
	return nil
}

// Authorize signs the authorization with the account key, moving Keyed to Authorized.
func (r *Request) Authorize(signer Signer) error {
	if err := r.expect(StateKeyed); err != nil {
		return err
	}
	var contracts []common.Address
	listed := make(map[common.Address]bool)
	for _, p := range r.pairs {
		if !listed[p.Contract] {
			listed[p.Contract] = true
			contracts = append(contracts, p.Contract)
		}
	}
	auth := Authorization{
		PublicKey:         r.keypair.PublicKey(),
		ContractAddresses: contracts,
		StartTimestamp:    r.start.Unix(),
		DurationDays:      r.durationDays,
	}
	sig, err := signer.SignAuthorization(r.domain, auth)
	if err != nil {
		return err
	}
	r.auth = auth
	r.user = signer.Address()
	r.signature = sig
	r.state = StateAuthorized
	return nil
}

// Wire renders the request body sent to the relayer. Only valid once authorized.
func (r *Request) Wire() (UserDecryptRequest, error) {
	if r.state != StateAuthorized && r.state != StateRequested {
		return UserDecryptRequest{}, types.ErrInvalidState.Wrapf("request is %s", r.state)
	}
	out := UserDecryptRequest{
		PublicKey:      hex.EncodeToString(r.auth.PublicKey),
		StartTimestamp: strconv.FormatInt(r.auth.StartTimestamp, 10),
		DurationDays:   strconv.FormatUint(r.auth.DurationDays, 10),
		Signature:      hex.EncodeToString(r.signature),
		UserAddress:    r.user.Hex(),
	}
	for _, p := range r.pairs {
		out.HandleContractPairs = append(out.HandleContractPairs, HandleContractPair{
			Handle:          p.Handle.Hex(),
			ContractAddress: p.Contract.Hex(),
		})
	}
	for _, c := range r.auth.ContractAddresses {
		out.ContractAddresses = append(out.ContractAddresses, c.Hex())
	}
	return out, nil
}

// Submit sends the request and opens every payload. The ephemeral secret is
// wiped whatever the outcome.
func (r *Request) Submit(ctx context.Context, t Transport) (map[fhe.Handle]uint64, error) {
	if err := r.expect(StateAuthorized); err != nil {
		return nil, err
	}
	wire, err := r.Wire()
	if err != nil {
		return nil, err
	}
	r.state = StateRequested
	defer r.keypair.Wipe()

	resp, err := t.UserDecrypt(ctx, wire)
	if err != nil {
		return nil, r.fail(err)
	}
	results, err := r.open(resp)
	if err != nil {
		return nil, r.fail(err)
	}
	r.results = results
	r.state = StateResolved
	return results, nil
}

// Cancel abandons the request and wipes its key. Resolved requests are left as is.
func (r *Request) Cancel() {
	if r.state == StateResolved || r.state == StateFailed {
		return
	}
	r.keypair.Wipe()
	r.fail(context.Canceled)
}

func (r *Request) fail(err error) error {
	r.err = err
	r.state = StateFailed
	return err
}

func (r *Request) open(resp UserDecryptResponse) (map[fhe.Handle]uint64, error) {
	payloads := make(map[fhe.Handle]string, len(resp.Payloads))
	for k, v := range resp.Payloads {
		h, err := fhe.ParseHandle(k)
		if err != nil {
			return nil, types.ErrMalformedRequest.Wrapf("relayer returned bad handle %q", k)
		}
		payloads[h] = v
	}
	out := make(map[fhe.Handle]uint64, len(r.pairs))
	for _, p := range r.pairs {
		enc, ok := payloads[p.Handle]
		if !ok {
			return nil, types.ErrMalformedRequest.Wrapf("relayer response missing %s", p.Handle.Hex())
		}
		sealed, err := hex.DecodeString(enc)
		if err != nil {
			return nil, types.ErrMalformedRequest.Wrapf("payload for %s is not hex", p.Handle.Hex())
		}
		plain, err := r.keypair.Open(sealed, p.Handle.Bytes())
		if err != nil {
			return nil, types.ErrMalformedRequest.Wrapf("open payload for %s: %s", p.Handle.Hex(), err)
		}
		v, err := DecodeValue(plain)
		if err != nil {
			return nil, err
		}
		out[p.Handle] = v
	}
	return out, nil
}
