package fhe

import (
	"encoding/hex"
	"strings"

	"darkforge/internal/types"
)

// HandleLength is the byte width of a ciphertext handle.
const HandleLength = 32

// HandleVersion is stamped into the last byte of every handle the coprocessor issues.
const HandleVersion byte = 0

// Type identifies the plaintext type behind a handle. It is stored in byte 30 of the handle.
type Type uint8

const (
	TypeBool   Type = 0
	TypeUint32 Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "ebool"
	case TypeUint32:
		return "euint32"
	default:
		return "unknown"
	}
}

// Handle is an opaque reference to an encrypted value held by the coprocessor.
// The all-zero handle means "no value".
type Handle [HandleLength]byte

// ZeroHandle is the canonical uninitialized sentinel.
var ZeroHandle Handle

func (h Handle) IsZero() bool {
	return h == ZeroHandle
}

func (h Handle) Bytes() []byte {
	out := make([]byte, HandleLength)
	copy(out, h[:])
	return out
}

// Type returns the plaintext type encoded in the handle.
func (h Handle) Type() Type {
	return Type(h[30])
}

func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Handle) String() string {
	return h.Hex()
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Handle) UnmarshalText(b []byte) error {
	parsed, err := ParseHandle(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHandle decodes a hex handle; the 0x prefix is optional.
func ParseHandle(s string) (Handle, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != 2*HandleLength {
		return Handle{}, types.ErrMalformedRequest.Wrapf("handle must be %d bytes, got %d hex chars", HandleLength, len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Handle{}, types.ErrMalformedRequest.Wrapf("handle is not hex: %v", err)
	}
	var h Handle
	copy(h[:], b)
	return h, nil
}

// FormatHandle renders a handle for humans: "Uninitialized" for the sentinel,
// otherwise the first and last four hex digits.
func FormatHandle(h Handle) string {
	if h.IsZero() {
		return "Uninitialized"
	}
	s := h.Hex()
	return s[:6] + "..." + s[len(s)-4:]
}
