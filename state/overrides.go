package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StorageOverrideMode selects how an override's storage map is interpreted
// relative to the underlying reader's existing slots.
type StorageOverrideMode int

const (
	// StorageDiff layers the override's slots on top of the underlying
	// reader's storage: untouched slots still read through.
	StorageDiff StorageOverrideMode = iota
	// StorageFull replaces an account's entire storage with the override's
	// slots: any slot absent from the override reads as zero regardless of
	// what the underlying reader holds.
	StorageFull
)

// AccountOverride is the override applied to a single address. Nil fields
// leave the underlying reader's value in place.
type AccountOverride struct {
	Balance     *uint256.Int
	Nonce       *uint64
	Code        []byte
	CodeHash    *common.Hash
	StorageMode StorageOverrideMode
	Storage     map[common.Hash]*uint256.Int
}

// Overrides is a read-only layer over a Reader that substitutes per-account
// balance, nonce, code and storage values without mutating the underlying
// state, the shape of an `eth_call`-style override map. It cannot be applied
// to a pending block's state: callers needing that distinction should apply
// overrides only over a Reader snapshot taken at a concrete, already-mined
// state root.
type Overrides struct {
	base      Reader
	overrides map[common.Address]AccountOverride
}

// NewOverrides wraps base with the given per-address overrides.
func NewOverrides(base Reader, overrides map[common.Address]AccountOverride) *Overrides {
	return &Overrides{base: base, overrides: overrides}
}

func (o *Overrides) Basic(addr common.Address) (AccountInfo, bool) {
	info, ok := o.base.Basic(addr)
	ov, hasOverride := o.overrides[addr]
	if !hasOverride {
		return info, ok
	}
	if !ok {
		info = AccountInfo{Balance: new(uint256.Int)}
	}
	if ov.Balance != nil {
		info.Balance = ov.Balance
	}
	if ov.Nonce != nil {
		info.Nonce = *ov.Nonce
	}
	if ov.CodeHash != nil {
		info.CodeHash = *ov.CodeHash
	}
	return info, true
}

func (o *Overrides) CodeByHash(hash common.Hash) ([]byte, bool) {
	for _, ov := range o.overrides {
		if ov.CodeHash != nil && *ov.CodeHash == hash {
			return ov.Code, true
		}
	}
	return o.base.CodeByHash(hash)
}

func (o *Overrides) Storage(addr common.Address, slot common.Hash) *uint256.Int {
	ov, hasOverride := o.overrides[addr]
	if !hasOverride {
		return o.base.Storage(addr, slot)
	}
	if v, ok := ov.Storage[slot]; ok {
		return v
	}
	if ov.StorageMode == StorageFull {
		return new(uint256.Int)
	}
	return o.base.Storage(addr, slot)
}

func (o *Overrides) StateRoot() common.Hash {
	return o.base.StateRoot()
}
