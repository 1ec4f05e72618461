package dfcrypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var sealInfo = []byte("darkforge/seal/v1")

// SealOverhead is the number of bytes Seal adds to a plaintext.
const SealOverhead = PointBytes + chacha20poly1305.NonceSize + chacha20poly1305.Overhead

// Seal encrypts plaintext to the holder of pk's secret scalar.
//
//	r random, R = r*G, S = r*PK
//	key = HKDF-SHA256(ikm = S, salt = R || PK, info)
//	out = R || nonce || ChaCha20-Poly1305(key, nonce, plaintext, ad)
func Seal(pk Point, plaintext, ad []byte) ([]byte, error) {
	if pk.IsIdentity() {
		return nil, fmt.Errorf("seal: public key is the identity")
	}
	r, err := RandomScalar(rand.Reader)
	if err != nil {
		return nil, err
	}
	defer r.Wipe()

	ephemeral := MulBase(r)
	shared := MulPoint(pk, r)
	aead, err := sealAEAD(shared, ephemeral, pk)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(plaintext)+SealOverhead)
	out = append(out, ephemeral.Bytes()...)
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, ad), nil
}

// Open reverses Seal with the secret scalar sk.
func Open(sk Scalar, sealed, ad []byte) ([]byte, error) {
	if len(sealed) < SealOverhead {
		return nil, fmt.Errorf("open: sealed payload too short")
	}
	ephemeral, err := PointFromBytesCanonical(sealed[:PointBytes])
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	nonce := sealed[PointBytes : PointBytes+chacha20poly1305.NonceSize]
	body := sealed[PointBytes+chacha20poly1305.NonceSize:]

	shared := MulPoint(ephemeral, sk)
	aead, err := sealAEAD(shared, ephemeral, MulBase(sk))
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, body, ad)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return pt, nil
}

func sealAEAD(shared, ephemeral, pk Point) (cipher.AEAD, error) {
	salt := make([]byte, 0, 2*PointBytes)
	salt = append(salt, ephemeral.Bytes()...)
	salt = append(salt, pk.Bytes()...)

	key := make([]byte, chacha20poly1305.KeySize)
	defer clear(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared.Bytes(), salt, sealInfo), key); err != nil {
		return nil, fmt.Errorf("seal: derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return aead, nil
}
