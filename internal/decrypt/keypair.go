package decrypt

import (
	"crypto/rand"

	"darkforge/internal/dfcrypto"
	"darkforge/internal/types"
)

// Keypair is the single-use key a decrypt response is sealed to.
type Keypair struct {
	secret dfcrypto.Scalar
	public dfcrypto.Point
	wiped  bool
}

func GenerateKeypair() (*Keypair, error) {
	sk, err := dfcrypto.RandomScalar(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{secret: sk, public: dfcrypto.MulBase(sk)}, nil
}

// PublicKey returns the 32-byte encoding sent to the relayer.
func (k *Keypair) PublicKey() []byte {
	return k.public.Bytes()
}

func (k *Keypair) Open(sealed, ad []byte) ([]byte, error) {
	if k.wiped {
		return nil, types.ErrInvalidRequest.Wrap("ephemeral key already discarded")
	}
	return dfcrypto.Open(k.secret, sealed, ad)
}

// Wipe zeroes the secret. The keypair is unusable afterwards.
func (k *Keypair) Wipe() {
	if k == nil {
		return
	}
	k.secret.Wipe()
	k.wiped = true
}
