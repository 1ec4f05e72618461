package decrypt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/cenkalti/backoff/v4"

	"darkforge/internal/types"
)

const (
	PathUserDecrypt = "/v1/user-decrypt"
	PathDomain      = "/v1/domain"

	// HeaderRequestID carries the client request id for log correlation.
	HeaderRequestID = "X-Request-Id"
)

// Transport reaches a relayer.
type Transport interface {
	Domain(ctx context.Context) (Domain, error)
	UserDecrypt(ctx context.Context, req UserDecryptRequest) (UserDecryptResponse, error)
}

// HTTPTransport speaks the relayer's JSON API.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *HTTPTransport) Domain(ctx context.Context) (Domain, error) {
	var out Domain
	err := t.do(ctx, http.MethodGet, PathDomain, "", nil, &out)
	return out, err
}

func (t *HTTPTransport) UserDecrypt(ctx context.Context, req UserDecryptRequest) (UserDecryptResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return UserDecryptResponse{}, err
	}
	var out UserDecryptResponse
	err = t.do(ctx, http.MethodPost, PathUserDecrypt, requestIDFrom(ctx), body, &out)
	return out, err
}

func (t *HTTPTransport) do(ctx context.Context, method, path, reqID string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, rd)
	if err != nil {
		return types.ErrMalformedRequest.Wrap(err.Error())
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if reqID != "" {
		httpReq.Header.Set(HeaderRequestID, reqID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.ErrTransientNetwork.Wrap(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.ErrTransientNetwork.Wrapf("read relayer response: %s", err)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return types.ErrMalformedRequest.Wrapf("invalid relayer response: %s", err)
	}
	return nil
}

func statusError(status int, raw []byte) error {
	msg := http.StatusText(status)
	var body ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.ErrAuthorization.Wrap(msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return types.ErrTransientNetwork.Wrapf("relayer returned %d: %s", status, msg)
	default:
		return types.ErrMalformedRequest.Wrapf("relayer returned %d: %s", status, msg)
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx so transports forward id to the relayer.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RetryTransport retries a Transport on ErrTransientNetwork only. Every other
// failure is returned on first sight.
type RetryTransport struct {
	inner      Transport
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     log.Logger
}

func NewRetryTransport(inner Transport, maxRetries uint64, logger log.Logger) *RetryTransport {
	if inner == nil {
		panic("decrypt: inner transport is nil")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RetryTransport{
		inner:      inner,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(250*time.Millisecond),
				backoff.WithMaxInterval(5*time.Second),
				backoff.WithMaxElapsedTime(0),
			)
		},
		logger: logger,
	}
}

// WithBackOff replaces the delay schedule. Tests use a zero backoff.
func (t *RetryTransport) WithBackOff(f func() backoff.BackOff) *RetryTransport {
	t.newBackOff = f
	return t
}

func (t *RetryTransport) Domain(ctx context.Context) (Domain, error) {
	return retry(ctx, t, "domain", func() (Domain, error) { return t.inner.Domain(ctx) })
}

func (t *RetryTransport) UserDecrypt(ctx context.Context, req UserDecryptRequest) (UserDecryptResponse, error) {
	return retry(ctx, t, "user-decrypt", func() (UserDecryptResponse, error) { return t.inner.UserDecrypt(ctx, req) })
}

func retry[T any](ctx context.Context, t *RetryTransport, op string, f func() (T, error)) (T, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(t.newBackOff(), t.maxRetries), ctx)
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := f()
		if err != nil && !errors.Is(err, types.ErrTransientNetwork) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b, func(err error, next time.Duration) {
		t.logger.Debug("relayer call failed, retrying", "op", op, "err", err, "in", next)
	})
}

var _ Transport = (*HTTPTransport)(nil)
var _ Transport = (*RetryTransport)(nil)

func (d Domain) String() string {
	return fmt.Sprintf("%s v%s chain=%d verifier=%s", DomainName, DomainVersion, d.ChainID, d.VerifyingContract.Hex())
}
