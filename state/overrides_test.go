package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestOverridesBalanceAndStorageDiffMode(t *testing.T) {
	base := NewLocal()
	addr := common.HexToAddress("0x1")
	slotA := common.HexToHash("0x1")
	slotB := common.HexToHash("0x2")
	base.InsertAccount(addr, AccountInfo{Balance: uint256.NewInt(10)})
	base.SetStorageSlot(addr, slotA, uint256.NewInt(1))

	ov := NewOverrides(base, map[common.Address]AccountOverride{
		addr: {
			Balance:     uint256.NewInt(999),
			StorageMode: StorageDiff,
			Storage:     map[common.Hash]*uint256.Int{slotB: uint256.NewInt(2)},
		},
	})

	info, ok := ov.Basic(addr)
	if !ok || info.Balance.Cmp(uint256.NewInt(999)) != 0 {
		t.Fatalf("expected overridden balance 999, got %v", info.Balance)
	}
	if v := ov.Storage(addr, slotA); v.Cmp(uint256.NewInt(1)) != 0 {
		t.Fatalf("diff mode must read through untouched slots, got %v", v)
	}
	if v := ov.Storage(addr, slotB); v.Cmp(uint256.NewInt(2)) != 0 {
		t.Fatalf("expected overridden slot value 2, got %v", v)
	}
}

func TestOverridesStorageFullModeHidesUnderlyingSlots(t *testing.T) {
	base := NewLocal()
	addr := common.HexToAddress("0x2")
	slotA := common.HexToHash("0x1")
	base.InsertAccount(addr, AccountInfo{Balance: new(uint256.Int)})
	base.SetStorageSlot(addr, slotA, uint256.NewInt(5))

	ov := NewOverrides(base, map[common.Address]AccountOverride{
		addr: {StorageMode: StorageFull, Storage: map[common.Hash]*uint256.Int{}},
	})

	if v := ov.Storage(addr, slotA); !v.IsZero() {
		t.Fatalf("full mode must hide untouched underlying slots, got %v", v)
	}
}

func TestOverridesUntouchedAddressPassesThrough(t *testing.T) {
	base := NewLocal()
	addr := common.HexToAddress("0x3")
	base.InsertAccount(addr, AccountInfo{Balance: uint256.NewInt(42)})

	ov := NewOverrides(base, map[common.Address]AccountOverride{})
	info, ok := ov.Basic(addr)
	if !ok || info.Balance.Cmp(uint256.NewInt(42)) != 0 {
		t.Fatalf("expected pass-through balance 42, got %v", info.Balance)
	}
}
