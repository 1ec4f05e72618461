package relayer

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"

	"darkforge/internal/decrypt"
	"darkforge/internal/dfcrypto"
	"darkforge/internal/fhe"
	"darkforge/internal/metrics"
	"darkforge/internal/types"
)

// Oracle is the committed view of the coprocessor: ACL lookups and cleartexts.
type Oracle interface {
	IsGranted(h fhe.Handle, contract, account common.Address) (bool, error)
	Decrypt(h fhe.Handle) (uint64, error)
}

type Config struct {
	Domain          decrypt.Domain
	MaxDurationDays uint64
}

// Service authorizes user decrypt requests and seals cleartexts to the
// requester's ephemeral key.
type Service struct {
	oracle  Oracle
	cfg     Config
	now     func() time.Time
	logger  log.Logger
	metrics *metrics.Metrics
}

func NewService(oracle Oracle, cfg Config, logger log.Logger, m *metrics.Metrics) *Service {
	if oracle == nil {
		panic("relayer: oracle is nil")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.MaxDurationDays == 0 {
		cfg.MaxDurationDays = decrypt.DefaultMaxDurationDays
	}
	return &Service{
		oracle:  oracle,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With("module", "relayer"),
		metrics: m,
	}
}

// WithClock overrides the wall clock used for window checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Domain() decrypt.Domain {
	return s.cfg.Domain
}

// errDenied is the only authorization failure callers ever see, whichever
// check failed.
var errDenied = types.ErrAuthorization.Wrap("user decrypt not authorized")

// UserDecrypt releases every requested handle or none.
func (s *Service) UserDecrypt(ctx context.Context, req decrypt.UserDecryptRequest) (decrypt.UserDecryptResponse, error) {
	resp, n, err := s.userDecrypt(ctx, req)
	s.metrics.ObserveDecrypt(outcome(err), n)
	return resp, err
}

func (s *Service) userDecrypt(ctx context.Context, req decrypt.UserDecryptRequest) (decrypt.UserDecryptResponse, int, error) {
	parsed, err := decrypt.ParseUserDecryptRequest(req, s.cfg.MaxDurationDays)
	if err != nil {
		return decrypt.UserDecryptResponse{}, 0, err
	}
	logger := s.logger.With("user", parsed.User.Hex(), "handles", len(parsed.Pairs))

	if err := s.authorize(parsed); err != nil {
		if errors.Is(err, types.ErrAuthorization) {
			logger.Debug("user decrypt denied", "reason", err)
			return decrypt.UserDecryptResponse{}, 0, errDenied
		}
		logger.Error("user decrypt acl lookup failed", "err", err)
		return decrypt.UserDecryptResponse{}, 0, err
	}
	if err := ctx.Err(); err != nil {
		return decrypt.UserDecryptResponse{}, 0, err
	}

	out := decrypt.UserDecryptResponse{Payloads: make(map[string]string, len(parsed.Pairs))}
	for _, p := range parsed.Pairs {
		v, err := s.oracle.Decrypt(p.Handle)
		if err != nil {
			logger.Error("decrypt failed", "handle", p.Handle.Hex(), "err", err)
			return decrypt.UserDecryptResponse{}, 0, err
		}
		sealed, err := dfcrypto.Seal(parsed.PublicKey, decrypt.EncodeValue(v), p.Handle.Bytes())
		if err != nil {
			return decrypt.UserDecryptResponse{}, 0, err
		}
		out.Payloads[p.Handle.Hex()] = hex.EncodeToString(sealed)
	}
	logger.Info("user decrypt served")
	return out, len(parsed.Pairs), nil
}

// authorize runs every check before any cleartext is touched. Denials wrap
// ErrAuthorization with the failing step for debug logs only.
func (s *Service) authorize(p *decrypt.ParsedRequest) error {
	signer, err := decrypt.RecoverAuthorizer(s.cfg.Domain, p.Authorization, p.Signature)
	if err != nil {
		return types.ErrAuthorization.Wrapf("signature: %s", err)
	}
	if signer != p.User {
		return types.ErrAuthorization.Wrapf("signature recovers to %s", signer.Hex())
	}

	start, end := p.Window()
	now := s.now().Unix()
	if now < start || now >= end {
		return types.ErrAuthorization.Wrapf("now %d outside [%d, %d)", now, start, end)
	}

	for _, pair := range p.Pairs {
		ok, err := s.oracle.IsGranted(pair.Handle, pair.Contract, p.User)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrAuthorization.Wrapf("%s not granted to user", pair.Handle.Hex())
		}
		ok, err = s.oracle.IsGranted(pair.Handle, pair.Contract, pair.Contract)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrAuthorization.Wrapf("%s not granted to contract", pair.Handle.Hex())
		}
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, types.ErrMalformedRequest):
		return metrics.OutcomeMalformed
	case errors.Is(err, types.ErrAuthorization):
		return metrics.OutcomeUnauthorized
	default:
		return metrics.OutcomeError
	}
}
