// Package acl is the access-control ledger the coprocessor consults before it lets a
// contract operate on a handle or an account decrypt one.
package acl

import (
	"github.com/ethereum/go-ethereum/common"

	"darkforge/internal/fhe"
	"darkforge/internal/types"
)

var (
	// GrantKeyPrefix stores grants: GrantKeyPrefix || handle || contract || account.
	GrantKeyPrefix = []byte{0x02}

	// CreatorKeyPrefix stores the contract that produced a handle: CreatorKeyPrefix || handle.
	CreatorKeyPrefix = []byte{0x03}
)

var granted = []byte{0x01}

// KVStore is the subset of a key-value store the registry needs.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

type Registry struct {
	store KVStore
}

func NewRegistry(store KVStore) *Registry {
	if store == nil {
		panic("acl registry: store is nil")
	}
	return &Registry{store: store}
}

func GrantKey(h fhe.Handle, contract, account common.Address) []byte {
	bz := make([]byte, 0, 1+fhe.HandleLength+2*common.AddressLength)
	bz = append(bz, GrantKeyPrefix...)
	bz = append(bz, h[:]...)
	bz = append(bz, contract.Bytes()...)
	bz = append(bz, account.Bytes()...)
	return bz
}

func CreatorKey(h fhe.Handle) []byte {
	bz := make([]byte, 0, 1+fhe.HandleLength)
	bz = append(bz, CreatorKeyPrefix...)
	bz = append(bz, h[:]...)
	return bz
}

// Grant records that account may decrypt h through contract. Re-granting is a no-op.
func (r *Registry) Grant(h fhe.Handle, contract, account common.Address) error {
	if h.IsZero() {
		return types.ErrInvalidRequest.Wrap("cannot grant the zero handle")
	}
	if account == (common.Address{}) || contract == (common.Address{}) {
		return types.ErrInvalidRequest.Wrap("grant requires non-zero contract and account")
	}
	return r.store.Set(GrantKey(h, contract, account), granted)
}

func (r *Registry) IsGranted(h fhe.Handle, contract, account common.Address) (bool, error) {
	if h.IsZero() {
		return false, nil
	}
	bz, err := r.store.Get(GrantKey(h, contract, account))
	if err != nil {
		return false, err
	}
	return len(bz) > 0, nil
}

func (r *Registry) SetCreator(h fhe.Handle, contract common.Address) error {
	return r.store.Set(CreatorKey(h), contract.Bytes())
}

func (r *Registry) CreatorOf(h fhe.Handle) (common.Address, bool, error) {
	bz, err := r.store.Get(CreatorKey(h))
	if err != nil {
		return common.Address{}, false, err
	}
	if len(bz) != common.AddressLength {
		return common.Address{}, false, nil
	}
	return common.BytesToAddress(bz), true, nil
}

// CanUse reports whether contract may compute on or grant h: it produced the handle,
// or it was granted access to it for itself.
func (r *Registry) CanUse(h fhe.Handle, contract common.Address) (bool, error) {
	creator, ok, err := r.CreatorOf(h)
	if err != nil {
		return false, err
	}
	if ok && creator == contract {
		return true, nil
	}
	return r.IsGranted(h, contract, contract)
}
