package coprocessor

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"darkforge/internal/acl"
	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

type opcode byte

const (
	opTrivialEncrypt opcode = iota + 1
	opAdd
	opGe
	opSelect
	opRand
)

var handleDomain = []byte("darkforge/coprocessor/handle/v0")

// Session executes confidential operations for one contract within one transaction.
// It implements fhe.Executor.
type Session struct {
	c        *Coprocessor
	contract common.Address
	height   int64
	txIndex  uint32
	seq      uint32

	kv     *overlay
	acl    *acl.Registry
	closed bool
}

var _ fhe.Executor = (*Session)(nil)

func (s *Session) Contract() common.Address {
	return s.contract
}

// Commit hands the session's writes to the current block.
func (s *Session) Commit() {
	if s.closed {
		return
	}
	s.closed = true
	s.c.mergeSession(s.kv)
}

// Discard drops every write made by the session.
func (s *Session) Discard() {
	s.closed = true
	s.kv.writes = map[string][]byte{}
}

func (s *Session) nextHandle(op opcode, typ fhe.Type, inputs ...[]byte) fhe.Handle {
	s.seq++
	var ctx [8 + 4 + 4]byte
	binary.BigEndian.PutUint64(ctx[0:8], uint64(s.height))
	binary.BigEndian.PutUint32(ctx[8:12], s.txIndex)
	binary.BigEndian.PutUint32(ctx[12:16], s.seq)

	parts := make([][]byte, 0, 4+len(inputs))
	parts = append(parts, handleDomain, []byte{byte(op)}, s.contract.Bytes(), ctx[:])
	parts = append(parts, inputs...)

	var h fhe.Handle
	copy(h[:], crypto.Keccak256(parts...))
	h[30] = byte(typ)
	h[31] = fhe.HandleVersion
	return h
}

func (s *Session) store(h fhe.Handle, typ fhe.Type, value uint64) error {
	if err := s.kv.Set(CiphertextKey(h), s.c.seal(h, typ, value)); err != nil {
		return err
	}
	return s.acl.SetCreator(h, s.contract)
}

// operand loads a value the contract is allowed to use and checks its type.
func (s *Session) operand(h fhe.Handle, want fhe.Type) (uint64, error) {
	ok, err := s.acl.CanUse(h, s.contract)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, types.ErrAuthorization.Wrapf("contract %s may not use handle %s", s.contract.Hex(), h)
	}
	typ, v, err := s.c.load(s.kv, h)
	if err != nil {
		return 0, err
	}
	if typ != want {
		return 0, types.ErrHandleType.Wrapf("handle %s is %s, want %s", h, typ, want)
	}
	return v, nil
}

func (s *Session) TrivialEncrypt(value uint32, typ fhe.Type) (fhe.Handle, error) {
	switch typ {
	case fhe.TypeUint32:
	case fhe.TypeBool:
		if value > 1 {
			return fhe.Handle{}, types.ErrHandleType.Wrapf("bool value %d", value)
		}
	default:
		return fhe.Handle{}, types.ErrHandleType.Wrapf("unsupported type %d", typ)
	}
	var in [5]byte
	in[0] = byte(typ)
	binary.BigEndian.PutUint32(in[1:], value)
	h := s.nextHandle(opTrivialEncrypt, typ, in[:])
	return h, s.store(h, typ, uint64(value))
}

// Add wraps modulo 2^32, as encrypted integer addition does.
func (s *Session) Add(a, b fhe.Handle) (fhe.Handle, error) {
	x, err := s.operand(a, fhe.TypeUint32)
	if err != nil {
		return fhe.Handle{}, err
	}
	y, err := s.operand(b, fhe.TypeUint32)
	if err != nil {
		return fhe.Handle{}, err
	}
	h := s.nextHandle(opAdd, fhe.TypeUint32, a[:], b[:])
	return h, s.store(h, fhe.TypeUint32, uint64(uint32(x)+uint32(y)))
}

func (s *Session) Ge(a, b fhe.Handle) (fhe.Handle, error) {
	x, err := s.operand(a, fhe.TypeUint32)
	if err != nil {
		return fhe.Handle{}, err
	}
	y, err := s.operand(b, fhe.TypeUint32)
	if err != nil {
		return fhe.Handle{}, err
	}
	var out uint64
	if x >= y {
		out = 1
	}
	h := s.nextHandle(opGe, fhe.TypeBool, a[:], b[:])
	return h, s.store(h, fhe.TypeBool, out)
}

func (s *Session) Select(cond, ifTrue, ifFalse fhe.Handle) (fhe.Handle, error) {
	c, err := s.operand(cond, fhe.TypeBool)
	if err != nil {
		return fhe.Handle{}, err
	}
	typ := ifTrue.Type()
	if ifFalse.Type() != typ {
		return fhe.Handle{}, types.ErrHandleType.Wrapf("select branches differ: %s vs %s", typ, ifFalse.Type())
	}
	t, err := s.operand(ifTrue, typ)
	if err != nil {
		return fhe.Handle{}, err
	}
	f, err := s.operand(ifFalse, typ)
	if err != nil {
		return fhe.Handle{}, err
	}
	out := f
	if c == 1 {
		out = t
	}
	h := s.nextHandle(opSelect, typ, cond[:], ifTrue[:], ifFalse[:])
	return h, s.store(h, typ, out)
}

func (s *Session) Rand(upperBound uint32) (fhe.Handle, error) {
	if upperBound == 0 {
		return fhe.Handle{}, types.ErrInvalidRequest.Wrap("rand upper bound must be positive")
	}
	var in [4]byte
	binary.BigEndian.PutUint32(in[:], upperBound)
	h := s.nextHandle(opRand, fhe.TypeUint32, in[:])
	v := newRNG(s.c.rngSeed, h[:]).uint32n(upperBound)
	return h, s.store(h, fhe.TypeUint32, uint64(v))
}

func (s *Session) Allow(h fhe.Handle, account common.Address) error {
	ok, err := s.acl.CanUse(h, s.contract)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrAuthorization.Wrapf("contract %s may not grant handle %s", s.contract.Hex(), h)
	}
	return s.acl.Grant(h, s.contract, account)
}

func (s *Session) IsAllowed(h fhe.Handle, account common.Address) (bool, error) {
	return s.acl.IsGranted(h, s.contract, account)
}
