package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestLocalCheckpointRevertRoundTrip(t *testing.T) {
	l := NewLocal()
	addr := common.HexToAddress("0x1")
	l.InsertAccount(addr, AccountInfo{Balance: uint256.NewInt(10)})
	rootBefore := l.StateRoot()

	l.Checkpoint()
	l.ModifyAccount(addr, AccountChange{Balance: uint256.NewInt(999)})
	if got, _ := l.Basic(addr); got.Balance.Cmp(uint256.NewInt(999)) != 0 {
		t.Fatalf("expected mutation to apply before revert")
	}

	if err := l.Revert(); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if l.StateRoot() != rootBefore {
		t.Fatalf("state root after revert must equal root before checkpoint")
	}
	got, _ := l.Basic(addr)
	if got.Balance.Cmp(uint256.NewInt(10)) != 0 {
		t.Fatalf("expected balance restored to 10, got %v", got.Balance)
	}
}

func TestLocalRevertWithoutCheckpointFails(t *testing.T) {
	l := NewLocal()
	if err := l.Revert(); err != ErrNoCheckpoint {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestLocalSnapshotRoundTrip(t *testing.T) {
	l := NewLocal()
	addr := common.HexToAddress("0x2")
	l.InsertAccount(addr, AccountInfo{Balance: uint256.NewInt(5)})
	root := l.MakeSnapshot()

	l.ModifyAccount(addr, AccountChange{Balance: uint256.NewInt(77)})
	if l.StateRoot() == root {
		t.Fatalf("state root should change after mutation")
	}

	if err := l.SetBlockContext(root, nil); err != nil {
		t.Fatalf("set block context: %v", err)
	}
	if l.StateRoot() != root {
		t.Fatalf("expected state root restored to snapshot root")
	}
	got, _ := l.Basic(addr)
	if got.Balance.Cmp(uint256.NewInt(5)) != 0 {
		t.Fatalf("expected balance restored to 5, got %v", got.Balance)
	}
}

func TestLocalSetStateRootUnknown(t *testing.T) {
	l := NewLocal()
	if err := l.SetStateRoot(common.HexToHash("0xdead")); err != ErrUnknownSnapshot {
		t.Fatalf("expected ErrUnknownSnapshot, got %v", err)
	}
}

func TestLocalRemoveAccountReleasesCode(t *testing.T) {
	l := NewLocal()
	addr := common.HexToAddress("0x3")
	l.InsertAccount(addr, AccountInfo{Balance: new(uint256.Int)})
	l.ModifyAccount(addr, AccountChange{Code: []byte{0x60, 0x01}})
	info, _ := l.Basic(addr)
	if _, ok := l.CodeByHash(info.CodeHash); !ok {
		t.Fatalf("expected code resident after insert")
	}
	l.RemoveAccount(addr)
	if _, ok := l.CodeByHash(info.CodeHash); ok {
		t.Fatalf("expected code released after account removal")
	}
}

func TestLocalCommitDiff(t *testing.T) {
	l := NewLocal()
	a1 := common.HexToAddress("0x10")
	a2 := common.HexToAddress("0x20")
	nonce := uint64(3)
	diff := NewDiff()
	diff.Accounts[a1] = AccountChange{Balance: uint256.NewInt(1), Nonce: &nonce}
	diff.Storage[a2] = map[common.Hash]*uint256.Int{common.HexToHash("0x1"): uint256.NewInt(55)}
	l.Commit(diff)

	got, ok := l.Basic(a1)
	if !ok || got.Nonce != 3 || got.Balance.Cmp(uint256.NewInt(1)) != 0 {
		t.Fatalf("unexpected account state: %+v ok=%v", got, ok)
	}
	if v := l.Storage(a2, common.HexToHash("0x1")); v.Cmp(uint256.NewInt(55)) != 0 {
		t.Fatalf("expected storage slot 55, got %v", v)
	}
}
