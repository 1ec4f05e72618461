package fhe

import (
	"github.com/ethereum/go-ethereum/common"

	"darkforge/internal/types"
)

// Executor is the coprocessor surface available to a contract inside one transaction.
// Every handle it returns is usable by the calling contract for the rest of the
// transaction; persisting access beyond that requires Allow.
type Executor interface {
	// Contract is the address the executor acts for.
	Contract() common.Address

	TrivialEncrypt(value uint32, typ Type) (Handle, error)
	Add(a, b Handle) (Handle, error)
	Ge(a, b Handle) (Handle, error)
	Select(cond, ifTrue, ifFalse Handle) (Handle, error)
	// Rand returns an encrypted value uniform on [0, upperBound).
	Rand(upperBound uint32) (Handle, error)

	Allow(h Handle, account common.Address) error
	IsAllowed(h Handle, account common.Address) (bool, error)
}

// Adapter exposes the handful of confidential operations the game needs on top of an Executor.
type Adapter struct {
	exec Executor
}

func NewAdapter(exec Executor) *Adapter {
	if exec == nil {
		panic("fhe adapter: executor is nil")
	}
	return &Adapter{exec: exec}
}

func (a *Adapter) Contract() common.Address {
	return a.exec.Contract()
}

// Zero returns a fresh encryption of 0.
func (a *Adapter) Zero() (Handle, error) {
	return a.exec.TrivialEncrypt(0, TypeUint32)
}

func (a *Adapter) Const(v uint32) (Handle, error) {
	return a.exec.TrivialEncrypt(v, TypeUint32)
}

// RandRange returns an encrypted value uniform on [lo, hi].
func (a *Adapter) RandRange(lo, hi uint32) (Handle, error) {
	if hi < lo {
		return Handle{}, types.ErrInvalidRequest.Wrapf("empty range [%d, %d]", lo, hi)
	}
	span := uint64(hi) - uint64(lo) + 1
	if span > uint64(^uint32(0)) {
		return Handle{}, types.ErrOverflow.Wrapf("range [%d, %d] does not fit a 32-bit bound", lo, hi)
	}
	r, err := a.exec.Rand(uint32(span))
	if err != nil {
		return Handle{}, err
	}
	if lo == 0 {
		return r, nil
	}
	return a.AddConst(r, lo)
}

func (a *Adapter) Add(x, y Handle) (Handle, error) {
	return a.exec.Add(x, y)
}

func (a *Adapter) AddConst(x Handle, v uint32) (Handle, error) {
	c, err := a.Const(v)
	if err != nil {
		return Handle{}, err
	}
	return a.exec.Add(x, c)
}

// AddSaturating returns x + y clamped to the largest uint32. Add alone wraps,
// which a running total must never do: the sum wrapped iff it is below x.
func (a *Adapter) AddSaturating(x, y Handle) (Handle, error) {
	sum, err := a.exec.Add(x, y)
	if err != nil {
		return Handle{}, err
	}
	fits, err := a.exec.Ge(sum, x)
	if err != nil {
		return Handle{}, err
	}
	ceiling, err := a.Const(^uint32(0))
	if err != nil {
		return Handle{}, err
	}
	return a.exec.Select(fits, sum, ceiling)
}

// Ge returns an encrypted bool x >= y.
func (a *Adapter) Ge(x, y Handle) (Handle, error) {
	return a.exec.Ge(x, y)
}

// Select returns ifTrue when cond decrypts to true, ifFalse otherwise, without revealing cond.
func (a *Adapter) Select(cond, ifTrue, ifFalse Handle) (Handle, error) {
	return a.exec.Select(cond, ifTrue, ifFalse)
}

// AllowThis keeps the contract itself able to operate on h in later transactions.
func (a *Adapter) AllowThis(h Handle) error {
	return a.exec.Allow(h, a.exec.Contract())
}

func (a *Adapter) Allow(h Handle, account common.Address) error {
	return a.exec.Allow(h, account)
}

// Grant authorizes both the contract and account on every handle.
func (a *Adapter) Grant(account common.Address, handles ...Handle) error {
	for _, h := range handles {
		if err := a.AllowThis(h); err != nil {
			return err
		}
		if err := a.Allow(h, account); err != nil {
			return err
		}
	}
	return nil
}
