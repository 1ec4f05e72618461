package decrypt

import (
	"context"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"

	"darkforge/internal/fhe"
)

// Client runs user decryptions against a relayer.
type Client struct {
	transport    Transport
	domain       *Domain
	durationDays uint64
	now          func() time.Time
	logger       log.Logger
}

type ClientOption func(*Client)

// WithDomain pins the signing domain instead of asking the relayer for it.
func WithDomain(d Domain) ClientOption {
	return func(c *Client) { c.domain = &d }
}

func WithDurationDays(days uint64) ClientOption {
	return func(c *Client) {
		if days > 0 {
			c.durationDays = days
		}
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func WithLogger(logger log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func NewClient(t Transport, opts ...ClientOption) *Client {
	if t == nil {
		panic("decrypt: transport is nil")
	}
	c := &Client{
		transport:    t,
		durationDays: DefaultDurationDays,
		now:          time.Now,
		logger:       log.NewNopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("module", "decrypt")
	return c
}

func (c *Client) signingDomain(ctx context.Context) (Domain, error) {
	if c.domain != nil {
		return *c.domain, nil
	}
	d, err := c.transport.Domain(ctx)
	if err != nil {
		return Domain{}, err
	}
	c.domain = &d
	return d, nil
}

// DecryptHandles returns the cleartext of every pair. Uninitialized handles
// read as 0 without a relayer round trip.
func (c *Client) DecryptHandles(ctx context.Context, signer Signer, pairs []Pair) (map[fhe.Handle]uint64, error) {
	out := make(map[fhe.Handle]uint64, len(pairs))
	var pending []Pair
	seen := make(map[Pair]bool, len(pairs))
	for _, p := range pairs {
		if p.Handle.IsZero() {
			out[p.Handle] = 0
			continue
		}
		if !seen[p] {
			seen[p] = true
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return out, nil
	}

	domain, err := c.signingDomain(ctx)
	if err != nil {
		return nil, err
	}
	req, err := NewRequest(domain, pending, c.now(), c.durationDays)
	if err != nil {
		return nil, err
	}
	defer req.Cancel()
	if err := req.GenerateKeypair(); err != nil {
		return nil, err
	}
	if err := req.Authorize(signer); err != nil {
		return nil, err
	}

	logger := c.logger.With("request_id", req.ID().String(), "user", signer.Address().Hex())
	logger.Debug("submitting user decrypt", "handles", len(pending))
	results, err := req.Submit(WithRequestID(ctx, req.ID().String()), c.transport)
	if err != nil {
		logger.Debug("user decrypt failed", "err", err)
		return nil, err
	}
	for h, v := range results {
		out[h] = v
	}
	return out, nil
}

// DecryptPoints decrypts one points balance held by contract.
func (c *Client) DecryptPoints(ctx context.Context, signer Signer, contract common.Address, h fhe.Handle) (uint64, error) {
	if h.IsZero() {
		return 0, nil
	}
	out, err := c.DecryptHandles(ctx, signer, []Pair{{Handle: h, Contract: contract}})
	if err != nil {
		return 0, err
	}
	return out[h], nil
}

// DecryptStats decrypts a soldier's attack and defense in one request.
func (c *Client) DecryptStats(ctx context.Context, signer Signer, contract common.Address, attack, defense fhe.Handle) (uint32, uint32, error) {
	out, err := c.DecryptHandles(ctx, signer, []Pair{
		{Handle: attack, Contract: contract},
		{Handle: defense, Contract: contract},
	})
	if err != nil {
		return 0, 0, err
	}
	return uint32(out[attack]), uint32(out[defense]), nil
}
