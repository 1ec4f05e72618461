// Package coprocessor is an in-process stand-in for the FHE coprocessor. It keeps the
// same contract as the real service (handles in, handles out, ACL-gated decryption)
// but stores values sealed under its own key instead of as FHE ciphertexts.
package coprocessor

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"darkforge/internal/acl"
	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

const (
	SeedBytes = 32

	dbName = "coprocessor"
)

var (
	// MetaKeyPrefix holds coprocessor bookkeeping, e.g. the generated seed.
	MetaKeyPrefix = []byte{0x00}

	// CiphertextKeyPrefix stores sealed values: CiphertextKeyPrefix || handle.
	CiphertextKeyPrefix = []byte{0x01}

	seedKey = append(append([]byte{}, MetaKeyPrefix...), []byte("seed")...)
)

func CiphertextKey(h fhe.Handle) []byte {
	bz := make([]byte, 0, 1+fhe.HandleLength)
	bz = append(bz, CiphertextKeyPrefix...)
	bz = append(bz, h[:]...)
	return bz
}

// Config selects the backing database and the secret seed.
type Config struct {
	// Backend is a cosmos-db backend name, e.g. "goleveldb" or "memdb".
	Backend string
	// Dir is where on-disk backends keep their files.
	Dir string
	// Seed is the coprocessor secret. When empty a seed is loaded from, or generated into, the db.
	Seed []byte
}

type Coprocessor struct {
	logger log.Logger
	db     dbm.DB

	aead    cipher.AEAD
	rngSeed []byte

	mu     sync.Mutex
	height int64
	block  *overlay
}

// Open creates the configured database and wraps it.
func Open(cfg Config, logger log.Logger) (*Coprocessor, error) {
	backend := dbm.BackendType(cfg.Backend)
	if backend == "" {
		backend = dbm.GoLevelDBBackend
	}
	db, err := dbm.NewDB(dbName, backend, filepath.Clean(cfg.Dir))
	if err != nil {
		return nil, fmt.Errorf("open coprocessor db: %w", err)
	}
	c, err := New(db, cfg.Seed, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an already opened database.
func New(db dbm.DB, seed []byte, logger log.Logger) (*Coprocessor, error) {
	if db == nil {
		return nil, fmt.Errorf("coprocessor: db is nil")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.With("module", "coprocessor")

	seed, err := loadOrCreateSeed(db, seed, logger)
	if err != nil {
		return nil, err
	}
	sealKey, err := deriveKey(seed, "darkforge/coprocessor/at-rest")
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(sealKey)
	if err != nil {
		return nil, fmt.Errorf("coprocessor: init aead: %w", err)
	}
	rngSeed, err := deriveKey(seed, "darkforge/coprocessor/rng")
	if err != nil {
		return nil, err
	}
	return &Coprocessor{
		logger:  logger,
		db:      db,
		aead:    aead,
		rngSeed: rngSeed,
	}, nil
}

func loadOrCreateSeed(db dbm.DB, seed []byte, logger log.Logger) ([]byte, error) {
	if len(seed) != 0 {
		if len(seed) != SeedBytes {
			return nil, fmt.Errorf("coprocessor: seed must be %d bytes, got %d", SeedBytes, len(seed))
		}
		return seed, nil
	}
	stored, err := db.Get(seedKey)
	if err != nil {
		return nil, fmt.Errorf("coprocessor: read seed: %w", err)
	}
	if len(stored) == SeedBytes {
		return stored, nil
	}
	fresh := make([]byte, SeedBytes)
	if _, err := io.ReadFull(rand.Reader, fresh); err != nil {
		return nil, fmt.Errorf("coprocessor: generate seed: %w", err)
	}
	if err := db.SetSync(seedKey, fresh); err != nil {
		return nil, fmt.Errorf("coprocessor: persist seed: %w", err)
	}
	logger.Warn("generated new coprocessor seed; replicas must share it to agree on random values")
	return fresh, nil
}

func deriveKey(seed []byte, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("coprocessor: derive key: %w", err)
	}
	return key, nil
}

// BeginBlock starts buffering writes for height. Uncommitted writes from a previous
// block are dropped.
func (c *Coprocessor) BeginBlock(height int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.block != nil && c.block.len() > 0 {
		c.logger.Error("dropping uncommitted coprocessor writes", "height", c.height, "keys", c.block.len())
	}
	c.height = height
	c.block = newOverlay(c.db)
}

// BeginTx opens a session for one transaction executed by contract. Its writes become
// part of the block only if Session.Commit is called.
func (c *Coprocessor) BeginTx(contract common.Address, txIndex int) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.block == nil {
		c.block = newOverlay(c.db)
	}
	kv := newOverlay(c.block)
	return &Session{
		c:        c,
		contract: contract,
		height:   c.height,
		txIndex:  uint32(txIndex),
		kv:       kv,
		acl:      acl.NewRegistry(kv),
	}
}

// Commit persists every session committed since BeginBlock.
func (c *Coprocessor) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.block == nil {
		return nil
	}
	n := c.block.len()
	if err := c.block.flush(c.db); err != nil {
		return err
	}
	c.block = nil
	c.logger.Debug("coprocessor committed", "height", c.height, "keys", n)
	return nil
}

func (c *Coprocessor) Close() error {
	return c.db.Close()
}

func (c *Coprocessor) mergeSession(s *overlay) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.block == nil {
		c.block = newOverlay(c.db)
	}
	s.mergeInto(c.block)
}

// IsGranted checks the committed ACL.
func (c *Coprocessor) IsGranted(h fhe.Handle, contract, account common.Address) (bool, error) {
	return acl.NewRegistry(c.db).IsGranted(h, contract, account)
}

// Decrypt returns the plaintext behind a committed handle. Callers are expected to have
// checked the ACL first.
func (c *Coprocessor) Decrypt(h fhe.Handle) (uint64, error) {
	_, v, err := c.load(c.db, h)
	return v, err
}

func (c *Coprocessor) seal(h fhe.Handle, typ fhe.Type, value uint64) []byte {
	var pt [9]byte
	pt[0] = byte(typ)
	binary.BigEndian.PutUint64(pt[1:], value)
	return c.aead.Seal(nil, h[:chacha20poly1305.NonceSize], pt[:], h[:])
}

func (c *Coprocessor) load(kv kvReader, h fhe.Handle) (fhe.Type, uint64, error) {
	if h.IsZero() {
		return 0, 0, types.ErrHandleNotFound.Wrap("zero handle")
	}
	sealed, err := kv.Get(CiphertextKey(h))
	if err != nil {
		return 0, 0, err
	}
	if sealed == nil {
		return 0, 0, types.ErrHandleNotFound.Wrapf("handle %s", h)
	}
	pt, err := c.aead.Open(nil, h[:chacha20poly1305.NonceSize], sealed, h[:])
	if err != nil {
		return 0, 0, fmt.Errorf("coprocessor: open ciphertext %s: %w", h, err)
	}
	if len(pt) != 9 {
		return 0, 0, fmt.Errorf("coprocessor: bad ciphertext length for %s", h)
	}
	return fhe.Type(pt[0]), binary.BigEndian.Uint64(pt[1:]), nil
}
