package trie

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestSetAccountRoundTrip(t *testing.T) {
	s := NewAccountStore()
	a := addr(1)
	info := Account{Balance: uint256.NewInt(100), Nonce: 3, CodeHash: KeccakEmpty}
	s.SetAccount(a, info)

	got, ok := s.Account(a)
	if !ok {
		t.Fatalf("expected account to exist")
	}
	if got.Balance.Cmp(info.Balance) != 0 || got.Nonce != info.Nonce {
		t.Fatalf("account mismatch: %+v vs %+v", got, info)
	}
}

func TestStorageZeroDeletesSlot(t *testing.T) {
	s := NewAccountStore()
	a := addr(2)
	idx := common.HexToHash("0x1")
	s.SetStorageSlot(a, idx, uint256.NewInt(42))
	if v := s.StorageSlot(a, idx); v.Cmp(uint256.NewInt(42)) != 0 {
		t.Fatalf("expected 42, got %v", v)
	}
	s.SetStorageSlot(a, idx, uint256.NewInt(0))
	if v := s.StorageSlot(a, idx); !v.IsZero() {
		t.Fatalf("expected zero after clearing slot, got %v", v)
	}
}

func TestStateRootDeterministic(t *testing.T) {
	s1 := NewAccountStore()
	s2 := NewAccountStore()
	a := addr(3)
	info := Account{Balance: uint256.NewInt(7), Nonce: 1, CodeHash: KeccakEmpty}
	s1.SetAccount(a, info)
	s2.SetAccount(a, info)

	if s1.StateRoot() != s2.StateRoot() {
		t.Fatalf("equal content must produce equal roots")
	}

	s2.SetAccount(a, Account{Balance: uint256.NewInt(8), Nonce: 1, CodeHash: KeccakEmpty})
	if s1.StateRoot() == s2.StateRoot() {
		t.Fatalf("differing content must produce different roots")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s1 := NewAccountStore()
	a := addr(4)
	s1.SetAccount(a, Account{Balance: uint256.NewInt(1), CodeHash: KeccakEmpty})

	s2 := s1.Clone()
	s2.SetAccount(a, Account{Balance: uint256.NewInt(2), CodeHash: KeccakEmpty})

	got1, _ := s1.Account(a)
	got2, _ := s2.Account(a)
	if got1.Balance.Cmp(uint256.NewInt(1)) != 0 {
		t.Fatalf("mutating clone must not affect original, got %v", got1.Balance)
	}
	if got2.Balance.Cmp(uint256.NewInt(2)) != 0 {
		t.Fatalf("clone mutation lost, got %v", got2.Balance)
	}
}

func TestCloneStorageIndependence(t *testing.T) {
	s1 := NewAccountStore()
	a := addr(5)
	idx := common.HexToHash("0x2")
	s1.SetStorageSlot(a, idx, uint256.NewInt(10))

	s2 := s1.Clone()
	s2.SetStorageSlot(a, idx, uint256.NewInt(20))

	if v := s1.StorageSlot(a, idx); v.Cmp(uint256.NewInt(10)) != 0 {
		t.Fatalf("original storage mutated by clone write: %v", v)
	}
	if v := s2.StorageSlot(a, idx); v.Cmp(uint256.NewInt(20)) != 0 {
		t.Fatalf("clone storage write lost: %v", v)
	}
}

func TestCodeRegistryRefcount(t *testing.T) {
	reg := NewCodeRegistry()
	code := []byte{0x60, 0x00}
	h := reg.Insert(code)
	reg.Insert(code) // second reference
	reg.Release(h)
	if _, ok := reg.Get(h); !ok {
		t.Fatalf("code should still be resident with one ref left")
	}
	reg.Release(h)
	if _, ok := reg.Get(h); ok {
		t.Fatalf("code should be evicted at zero refs")
	}
}

func TestKeccakEmptyNeverEvicted(t *testing.T) {
	reg := NewCodeRegistry()
	reg.Release(KeccakEmpty)
	reg.Release(KeccakEmpty)
	if _, ok := reg.Get(KeccakEmpty); !ok {
		t.Fatalf("KECCAK_EMPTY must never be evicted")
	}
}
