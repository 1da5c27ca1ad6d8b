package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/hardhat-sub002/log"
	"github.com/NomicFoundation/hardhat-sub002/trie"
)

var localLog = log.Default().Module("state")

// Local is the state engine realization backed purely by a local
// trie.AccountStore. Checkpoints are a stack of O(1) store clones;
// snapshots are a root-keyed table of the same clones, taken explicitly
// and kept until removed.
type Local struct {
	store *trie.AccountStore

	checkpoints []*trie.AccountStore
	snapshots   map[common.Hash]*trie.AccountStore
}

// NewLocal creates a Local state engine over an empty account store.
func NewLocal() *Local {
	return &Local{
		store:     trie.NewAccountStore(),
		snapshots: make(map[common.Hash]*trie.AccountStore),
	}
}

// NewLocalFromStore wraps an already-populated account store, e.g. one built
// by applying genesis allocations.
func NewLocalFromStore(store *trie.AccountStore) *Local {
	return &Local{
		store:     store,
		snapshots: make(map[common.Hash]*trie.AccountStore),
	}
}

func (l *Local) Basic(addr common.Address) (AccountInfo, bool) {
	acct, ok := l.store.Account(addr)
	if !ok {
		return AccountInfo{}, false
	}
	return AccountInfo{Balance: acct.Balance, Nonce: acct.Nonce, CodeHash: acct.CodeHash}, true
}

func (l *Local) CodeByHash(hash common.Hash) ([]byte, bool) {
	return l.store.CodeRegistry().Get(hash)
}

func (l *Local) Storage(addr common.Address, slot common.Hash) *uint256.Int {
	return l.store.StorageSlot(addr, slot)
}

func (l *Local) StateRoot() common.Hash {
	return l.store.StateRoot()
}

func (l *Local) Commit(diff *Diff) {
	applyDiffToStore(l.store, diff)
}

func (l *Local) InsertAccount(addr common.Address, info AccountInfo) {
	l.store.SetAccount(addr, trie.Account{Balance: info.Balance, Nonce: info.Nonce, CodeHash: info.CodeHash})
}

func (l *Local) ModifyAccount(addr common.Address, change AccountChange) {
	applyDiffToStore(l.store, &Diff{Accounts: map[common.Address]AccountChange{addr: change}})
}

func (l *Local) RemoveAccount(addr common.Address) {
	l.store.RemoveAccount(addr)
}

func (l *Local) SetStorageSlot(addr common.Address, slot common.Hash, value *uint256.Int) {
	l.store.SetStorageSlot(addr, slot, value)
}

// SetStateRoot rewinds to a previously taken snapshot of that exact root.
// Roots not held as a snapshot cannot be recalled.
func (l *Local) SetStateRoot(root common.Hash) error {
	snap, ok := l.snapshots[root]
	if !ok {
		return ErrUnknownSnapshot
	}
	l.store = snap.Clone()
	return nil
}

// Checkpoint pushes the current store onto the checkpoint stack. The clone
// is O(1): only the branches mutated between Checkpoint and Revert pay a
// copy cost.
func (l *Local) Checkpoint() {
	l.checkpoints = append(l.checkpoints, l.store.Clone())
}

// Revert pops the most recent checkpoint, discarding every mutation made
// since it was taken.
func (l *Local) Revert() error {
	n := len(l.checkpoints)
	if n == 0 {
		return ErrNoCheckpoint
	}
	l.store = l.checkpoints[n-1]
	l.checkpoints = l.checkpoints[:n-1]
	return nil
}

// DiscardCheckpoint drops the most recent checkpoint without reverting to
// it, used once a staged change has been accepted and no longer needs a
// rollback path (e.g. a finalized block builder).
func (l *Local) DiscardCheckpoint() {
	if n := len(l.checkpoints); n > 0 {
		l.checkpoints = l.checkpoints[:n-1]
	}
}

// MakeSnapshot records the current store under its state root and returns
// that root, for later recall via SetStateRoot or SetBlockContext.
func (l *Local) MakeSnapshot() common.Hash {
	root := l.store.StateRoot()
	l.snapshots[root] = l.store.Clone()
	return root
}

// RemoveSnapshot drops a previously taken snapshot. It is not an error to
// remove a root that was never snapshotted.
func (l *Local) RemoveSnapshot(root common.Hash) {
	delete(l.snapshots, root)
}

// SetBlockContext rebinds the engine to the state as of root, e.g. when the
// blockchain engine re-points the state after a reorg. blockNumber is
// informational only for the local realization.
func (l *Local) SetBlockContext(root common.Hash, blockNumber *uint64) error {
	if err := l.SetStateRoot(root); err != nil {
		localLog.Warn("set block context: unknown root", "root", root)
		return err
	}
	return nil
}
