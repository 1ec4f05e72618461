package coprocessor

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// fheRNG is a sha256 hash chain (state, counter). It is seeded from the coprocessor
// secret and the handle being produced, so replicas agree on the value while nothing
// on chain is enough to predict it.
type fheRNG struct {
	state   [32]byte
	counter uint64
}

func newRNG(secret []byte, nonce []byte) *fheRNG {
	buf := make([]byte, 0, len(secret)+len(nonce))
	buf = append(buf, secret...)
	buf = append(buf, nonce...)
	return &fheRNG{state: sha256.Sum256(buf)}
}

func (r *fheRNG) advance() [32]byte {
	var data [40]byte
	copy(data[:32], r.state[:])
	binary.LittleEndian.PutUint64(data[32:], r.counter)
	r.counter++
	r.state = sha256.Sum256(data[:])
	return r.state
}

func (r *fheRNG) uint64() uint64 {
	b := r.advance()
	return binary.LittleEndian.Uint64(b[:8])
}

// uint32n returns a value uniform on [0, n). Draws from the biased tail are rejected.
func (r *fheRNG) uint32n(n uint32) uint32 {
	if n <= 1 {
		return 0
	}
	bound := uint64(n)
	rem := (math.MaxUint64%bound + 1) % bound
	for {
		x := r.uint64()
		if x <= math.MaxUint64-rem {
			return uint32(x % bound)
		}
	}
}
