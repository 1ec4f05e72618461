package decrypt_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"darkforge/internal/decrypt"
	"darkforge/internal/dfcrypto"
	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

var (
	testDomain   = decrypt.Domain{ChainID: 9000, VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000fe")}
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return k
}

func handle(b byte) fhe.Handle {
	var h fhe.Handle
	h[0] = b
	h[30] = byte(fhe.TypeUint32)
	return h
}

// fakeRelayer answers like the real relayer minus the ACL check.
type fakeRelayer struct {
	domain decrypt.Domain
	values map[fhe.Handle]uint64
	errs   []error
	calls  int
	drop   bool
}

func (f *fakeRelayer) Domain(context.Context) (decrypt.Domain, error) { return f.domain, nil }

func (f *fakeRelayer) UserDecrypt(_ context.Context, req decrypt.UserDecryptRequest) (decrypt.UserDecryptResponse, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return decrypt.UserDecryptResponse{}, err
	}
	parsed, err := decrypt.ParseUserDecryptRequest(req, 0)
	if err != nil {
		return decrypt.UserDecryptResponse{}, err
	}
	signer, err := decrypt.RecoverAuthorizer(f.domain, parsed.Authorization, parsed.Signature)
	if err != nil || signer != parsed.User {
		return decrypt.UserDecryptResponse{}, types.ErrAuthorization
	}
	out := decrypt.UserDecryptResponse{Payloads: map[string]string{}}
	for i, p := range parsed.Pairs {
		if f.drop && i == 0 {
			continue
		}
		sealed, err := dfcrypto.Seal(parsed.PublicKey, decrypt.EncodeValue(f.values[p.Handle]), p.Handle.Bytes())
		if err != nil {
			return decrypt.UserDecryptResponse{}, err
		}
		out.Payloads[p.Handle.Hex()] = hex.EncodeToString(sealed)
	}
	return out, nil
}

func TestAuthorization_SignAndRecover(t *testing.T) {
	key := mustKey(t)
	auth := decrypt.Authorization{
		PublicKey:         make([]byte, 32),
		ContractAddresses: []common.Address{testContract},
		StartTimestamp:    1_700_000_000,
		DurationDays:      7,
	}
	sig, err := decrypt.SignAuthorization(key, testDomain, auth)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	require.Contains(t, []byte{27, 28}, sig[64])

	got, err := decrypt.RecoverAuthorizer(testDomain, auth, sig)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), got)

	longer := auth
	longer.DurationDays = 30
	got, err = decrypt.RecoverAuthorizer(testDomain, longer, sig)
	require.NoError(t, err)
	require.NotEqual(t, crypto.PubkeyToAddress(key.PublicKey), got)

	other := testDomain
	other.ChainID++
	got, err = decrypt.RecoverAuthorizer(other, auth, sig)
	require.NoError(t, err)
	require.NotEqual(t, crypto.PubkeyToAddress(key.PublicKey), got)

	_, err = decrypt.RecoverAuthorizer(testDomain, auth, sig[:64])
	require.Error(t, err)
}

func TestAuthorization_ChainIDAboveInt64(t *testing.T) {
	key := mustKey(t)
	d := decrypt.Domain{ChainID: math.MaxUint64, VerifyingContract: testDomain.VerifyingContract}
	auth := decrypt.Authorization{
		PublicKey:         make([]byte, 32),
		ContractAddresses: []common.Address{testContract},
		StartTimestamp:    1_700_000_000,
		DurationDays:      1,
	}

	td := d.TypedData(auth)
	require.NotNil(t, td.Domain.ChainId)
	require.Zero(t, (*big.Int)(td.Domain.ChainId).Cmp(new(big.Int).SetUint64(math.MaxUint64)))

	sig, err := decrypt.SignAuthorization(key, d, auth)
	require.NoError(t, err)
	got, err := decrypt.RecoverAuthorizer(d, auth, sig)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), got)
}

func authorizedRequest(t *testing.T, key *ecdsa.PrivateKey, pairs ...decrypt.Pair) *decrypt.Request {
	t.Helper()
	req, err := decrypt.NewRequest(testDomain, pairs, time.Now(), decrypt.DefaultDurationDays)
	require.NoError(t, err)
	require.NoError(t, req.GenerateKeypair())
	require.NoError(t, req.Authorize(decrypt.NewKeySigner(key)))
	return req
}

func TestParseUserDecryptRequest(t *testing.T) {
	key := mustKey(t)
	req := authorizedRequest(t, key, decrypt.Pair{Handle: handle(1), Contract: testContract})
	valid, err := req.Wire()
	require.NoError(t, err)

	parsed, err := decrypt.ParseUserDecryptRequest(valid, 0)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), parsed.User)
	require.Equal(t, []decrypt.Pair{{Handle: handle(1), Contract: testContract}}, parsed.Pairs)
	start, end := parsed.Window()
	require.Equal(t, int64(decrypt.DefaultDurationDays*decrypt.SecondsPerDay), end-start)

	tests := []struct {
		name   string
		mutate func(r *decrypt.UserDecryptRequest)
	}{
		{"no pairs", func(r *decrypt.UserDecryptRequest) { r.HandleContractPairs = nil }},
		{"too many pairs", func(r *decrypt.UserDecryptRequest) {
			for i := 0; i < decrypt.MaxBatchSize; i++ {
				r.HandleContractPairs = append(r.HandleContractPairs, decrypt.HandleContractPair{Handle: handle(byte(i + 2)).Hex(), ContractAddress: testContract.Hex()})
			}
		}},
		{"bad handle", func(r *decrypt.UserDecryptRequest) { r.HandleContractPairs[0].Handle = "0x1234" }},
		{"zero handle", func(r *decrypt.UserDecryptRequest) { r.HandleContractPairs[0].Handle = fhe.ZeroHandle.Hex() }},
		{"duplicate pair", func(r *decrypt.UserDecryptRequest) {
			r.HandleContractPairs = append(r.HandleContractPairs, r.HandleContractPairs[0])
		}},
		{"unlisted contract", func(r *decrypt.UserDecryptRequest) {
			r.HandleContractPairs[0].ContractAddress = "0x00000000000000000000000000000000000000c2"
		}},
		{"missing contract list", func(r *decrypt.UserDecryptRequest) { r.ContractAddresses = nil }},
		{"public key not hex", func(r *decrypt.UserDecryptRequest) { r.PublicKey = "zz" }},
		{"public key wrong length", func(r *decrypt.UserDecryptRequest) { r.PublicKey = "abcd" }},
		{"negative start", func(r *decrypt.UserDecryptRequest) { r.StartTimestamp = "-5" }},
		{"non-numeric start", func(r *decrypt.UserDecryptRequest) { r.StartTimestamp = "soon" }},
		{"zero duration", func(r *decrypt.UserDecryptRequest) { r.DurationDays = "0" }},
		{"duration over max", func(r *decrypt.UserDecryptRequest) { r.DurationDays = "366" }},
		{"prefixed signature", func(r *decrypt.UserDecryptRequest) { r.Signature = "0x" + r.Signature }},
		{"short signature", func(r *decrypt.UserDecryptRequest) { r.Signature = r.Signature[:10] }},
		{"bad user", func(r *decrypt.UserDecryptRequest) { r.UserAddress = "player-one" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(valid)
			require.NoError(t, err)
			var r decrypt.UserDecryptRequest
			require.NoError(t, json.Unmarshal(raw, &r))
			tc.mutate(&r)
			_, err = decrypt.ParseUserDecryptRequest(r, 0)
			require.ErrorIs(t, err, types.ErrMalformedRequest)
		})
	}
}

func TestParseUserDecryptRequest_WindowOverflowIsMalformed(t *testing.T) {
	key := mustKey(t)
	req := authorizedRequest(t, key, decrypt.Pair{Handle: handle(1), Contract: testContract})
	wire, err := req.Wire()
	require.NoError(t, err)

	wire.StartTimestamp = "9223372036854775000"
	wire.DurationDays = "1"
	_, err = decrypt.ParseUserDecryptRequest(wire, math.MaxUint64)
	require.ErrorIs(t, err, types.ErrMalformedRequest)
	require.ErrorContains(t, err, "overflows")

	wire.StartTimestamp = "1700000000"
	wire.DurationDays = "106751991167300"
	_, err = decrypt.ParseUserDecryptRequest(wire, math.MaxUint64)
	require.ErrorIs(t, err, types.ErrMalformedRequest)
}

func TestRequest_Lifecycle(t *testing.T) {
	key := mustKey(t)
	relayer := &fakeRelayer{domain: testDomain, values: map[fhe.Handle]uint64{handle(1): 42, handle(2): 77}}

	req, err := decrypt.NewRequest(testDomain, []decrypt.Pair{
		{Handle: handle(1), Contract: testContract},
		{Handle: handle(2), Contract: testContract},
	}, time.Now(), 1)
	require.NoError(t, err)
	require.Equal(t, decrypt.StateUnkeyed, req.State())

	require.ErrorIs(t, req.Authorize(decrypt.NewKeySigner(key)), types.ErrInvalidState)
	_, err = req.Submit(context.Background(), relayer)
	require.ErrorIs(t, err, types.ErrInvalidState)
	_, err = req.Wire()
	require.ErrorIs(t, err, types.ErrInvalidState)

	require.NoError(t, req.GenerateKeypair())
	require.Equal(t, decrypt.StateKeyed, req.State())
	require.ErrorIs(t, req.GenerateKeypair(), types.ErrInvalidState)

	require.NoError(t, req.Authorize(decrypt.NewKeySigner(key)))
	require.Equal(t, decrypt.StateAuthorized, req.State())

	got, err := req.Submit(context.Background(), relayer)
	require.NoError(t, err)
	require.Equal(t, decrypt.StateResolved, req.State())
	require.Equal(t, map[fhe.Handle]uint64{handle(1): 42, handle(2): 77}, got)

	_, err = req.Submit(context.Background(), relayer)
	require.ErrorIs(t, err, types.ErrInvalidState)
	require.Equal(t, 1, relayer.calls)
}

func TestRequest_FailureStates(t *testing.T) {
	key := mustKey(t)
	pair := decrypt.Pair{Handle: handle(1), Contract: testContract}

	denied := &fakeRelayer{domain: testDomain, errs: []error{types.ErrAuthorization.Wrap("not authorized")}}
	req := authorizedRequest(t, key, pair)
	_, err := req.Submit(context.Background(), denied)
	require.ErrorIs(t, err, types.ErrAuthorization)
	require.Equal(t, decrypt.StateFailed, req.State())
	require.ErrorIs(t, req.Err(), types.ErrAuthorization)

	partial := &fakeRelayer{domain: testDomain, values: map[fhe.Handle]uint64{}, drop: true}
	req = authorizedRequest(t, key, pair)
	_, err = req.Submit(context.Background(), partial)
	require.ErrorIs(t, err, types.ErrMalformedRequest)
	require.Equal(t, decrypt.StateFailed, req.State())

	// A relayer on another domain cannot produce a signature match.
	wrongDomain := &fakeRelayer{domain: decrypt.Domain{ChainID: 1}}
	req = authorizedRequest(t, key, pair)
	_, err = req.Submit(context.Background(), wrongDomain)
	require.ErrorIs(t, err, types.ErrAuthorization)

	req = authorizedRequest(t, key, pair)
	req.Cancel()
	require.Equal(t, decrypt.StateFailed, req.State())
	require.ErrorIs(t, req.Err(), context.Canceled)
}

func TestNewRequest_Validation(t *testing.T) {
	_, err := decrypt.NewRequest(testDomain, nil, time.Now(), 1)
	require.ErrorIs(t, err, types.ErrMalformedRequest)

	_, err = decrypt.NewRequest(testDomain, []decrypt.Pair{{Contract: testContract}}, time.Now(), 1)
	require.ErrorIs(t, err, types.ErrMalformedRequest)

	_, err = decrypt.NewRequest(testDomain, []decrypt.Pair{{Handle: handle(1), Contract: testContract}}, time.Now(), 0)
	require.ErrorIs(t, err, types.ErrMalformedRequest)
}

type panicTransport struct{ t *testing.T }

func (p panicTransport) Domain(context.Context) (decrypt.Domain, error) {
	p.t.Fatal("relayer must not be contacted")
	return decrypt.Domain{}, nil
}

func (p panicTransport) UserDecrypt(context.Context, decrypt.UserDecryptRequest) (decrypt.UserDecryptResponse, error) {
	p.t.Fatal("relayer must not be contacted")
	return decrypt.UserDecryptResponse{}, nil
}

func TestClient_UninitializedPointsReadZero(t *testing.T) {
	c := decrypt.NewClient(panicTransport{t})
	v, err := c.DecryptPoints(context.Background(), decrypt.NewKeySigner(mustKey(t)), testContract, fhe.ZeroHandle)
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestClient_DecryptStatsFetchesDomain(t *testing.T) {
	relayer := &fakeRelayer{domain: testDomain, values: map[fhe.Handle]uint64{handle(1): 55, handle(2): 13}}
	c := decrypt.NewClient(relayer, decrypt.WithDurationDays(2))
	atk, def, err := c.DecryptStats(context.Background(), decrypt.NewKeySigner(mustKey(t)), testContract, handle(1), handle(2))
	require.NoError(t, err)
	require.Equal(t, uint32(55), atk)
	require.Equal(t, uint32(13), def)
	require.Equal(t, 1, relayer.calls)
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestRetryTransport_RetriesTransientOnly(t *testing.T) {
	key := mustKey(t)
	pair := decrypt.Pair{Handle: handle(1), Contract: testContract}

	flaky := &fakeRelayer{domain: testDomain, values: map[fhe.Handle]uint64{handle(1): 9}, errs: []error{
		types.ErrTransientNetwork.Wrap("connection reset"),
		types.ErrTransientNetwork.Wrap("503"),
	}}
	rt := decrypt.NewRetryTransport(flaky, 5, nil).WithBackOff(zeroBackOff)
	got, err := authorizedRequest(t, key, pair).Submit(context.Background(), rt)
	require.NoError(t, err)
	require.Equal(t, uint64(9), got[handle(1)])
	require.Equal(t, 3, flaky.calls)

	denied := &fakeRelayer{domain: testDomain, errs: []error{types.ErrAuthorization.Wrap("not authorized")}}
	rt = decrypt.NewRetryTransport(denied, 5, nil).WithBackOff(zeroBackOff)
	_, err = authorizedRequest(t, key, pair).Submit(context.Background(), rt)
	require.ErrorIs(t, err, types.ErrAuthorization)
	require.Equal(t, 1, denied.calls)

	down := &fakeRelayer{domain: testDomain}
	for i := 0; i < 10; i++ {
		down.errs = append(down.errs, types.ErrTransientNetwork.Wrap("down"))
	}
	rt = decrypt.NewRetryTransport(down, 2, nil).WithBackOff(zeroBackOff)
	_, err = authorizedRequest(t, key, pair).Submit(context.Background(), rt)
	require.ErrorIs(t, err, types.ErrTransientNetwork)
	require.Equal(t, 3, down.calls)
}

func TestHTTPTransport_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, types.ErrMalformedRequest},
		{http.StatusForbidden, types.ErrAuthorization},
		{http.StatusUnauthorized, types.ErrAuthorization},
		{http.StatusTooManyRequests, types.ErrTransientNetwork},
		{http.StatusBadGateway, types.ErrTransientNetwork},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(decrypt.ErrorResponse{Code: "x", Message: "nope"})
			}))
			defer srv.Close()

			_, err := decrypt.NewHTTPTransport(srv.URL, srv.Client()).UserDecrypt(context.Background(), decrypt.UserDecryptRequest{})
			require.ErrorIs(t, err, tc.want)
			require.Contains(t, err.Error(), "nope")
		})
	}
}

func TestHTTPTransport_RoundTrip(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case decrypt.PathDomain:
			_ = json.NewEncoder(w).Encode(testDomain)
		case decrypt.PathUserDecrypt:
			gotID = r.Header.Get(decrypt.HeaderRequestID)
			_ = json.NewEncoder(w).Encode(decrypt.UserDecryptResponse{Payloads: map[string]string{"0x01": "ff"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr := decrypt.NewHTTPTransport(srv.URL+"/", nil)
	d, err := tr.Domain(context.Background())
	require.NoError(t, err)
	require.Equal(t, testDomain, d)

	resp, err := tr.UserDecrypt(decrypt.WithRequestID(context.Background(), "req-1"), decrypt.UserDecryptRequest{})
	require.NoError(t, err)
	require.Equal(t, "ff", resp.Payloads["0x01"])
	require.Equal(t, "req-1", gotID)
}

func TestHTTPTransport_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := decrypt.NewHTTPTransport(url, nil).Domain(context.Background())
	require.True(t, errors.Is(err, types.ErrTransientNetwork), "got %v", err)
}
