// Package state implements the state engine (C2): the read, mutation and
// history capabilities exposed to the blockchain, mempool and block builder.
// Local wraps a trie.AccountStore directly; Forked layers a remote baseline
// underneath one, falling back to the remote cache only for data the local
// overlay has never touched.
package state

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/hardhat-sub002/trie"
)

// ErrUnknownSnapshot is returned when SetStateRoot is given a root no
// snapshot was ever taken for.
var ErrUnknownSnapshot = errors.New("state: unknown snapshot")

// ErrNoCheckpoint is returned by Revert when the checkpoint stack is empty.
var ErrNoCheckpoint = errors.New("state: no checkpoint to revert to")

// AccountInfo is the externally visible account representation: balance,
// nonce and code hash. Code bytes are resolved separately via CodeByHash,
// a reference-counted, shared bytecode model.
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
}

// AccountChange describes a full or partial account mutation for Commit and
// ModifyAccount. Nil fields are left untouched.
type AccountChange struct {
	Balance *uint256.Int
	Nonce   *uint64
	Code    []byte
}

// Diff is a batch of account and storage mutations applied atomically by
// Commit, the bulk-mutation entry point used by the block builder after
// executing a transaction.
type Diff struct {
	Accounts map[common.Address]AccountChange
	Removed  map[common.Address]struct{}
	Storage  map[common.Address]map[common.Hash]*uint256.Int
}

// NewDiff returns an empty, ready-to-populate Diff.
func NewDiff() *Diff {
	return &Diff{
		Accounts: make(map[common.Address]AccountChange),
		Removed:  make(map[common.Address]struct{}),
		Storage:  make(map[common.Address]map[common.Hash]*uint256.Int),
	}
}

// Reader is the read capability every state realization provides: basic
// account info, code by hash, and storage slot lookups.
type Reader interface {
	Basic(addr common.Address) (AccountInfo, bool)
	CodeByHash(hash common.Hash) ([]byte, bool)
	Storage(addr common.Address, slot common.Hash) *uint256.Int
	StateRoot() common.Hash
}

// Mutator is the mutation capability: apply a Diff, or make individual
// account/storage edits outside of one.
type Mutator interface {
	Commit(diff *Diff)
	InsertAccount(addr common.Address, info AccountInfo)
	ModifyAccount(addr common.Address, change AccountChange)
	RemoveAccount(addr common.Address)
	SetStorageSlot(addr common.Address, slot common.Hash, value *uint256.Int)
	SetStateRoot(root common.Hash) error
}

// History is the checkpoint/snapshot capability used to support reverts
// within a single block's execution (checkpoints) and cross-block state
// recall (snapshots), plus the block-context binding used when a caller asks
// "what did the state look like as of this root".
type History interface {
	Checkpoint()
	Revert() error
	DiscardCheckpoint()
	MakeSnapshot() common.Hash
	RemoveSnapshot(root common.Hash)
	SetBlockContext(root common.Hash, blockNumber *uint64) error
}

// State is the full state engine capability: reads, mutations and history
// combined.
type State interface {
	Reader
	Mutator
	History
}

func applyDiffToStore(store *trie.AccountStore, diff *Diff) {
	for addr := range diff.Removed {
		store.RemoveAccount(addr)
	}
	for addr, change := range diff.Accounts {
		acct, ok := store.Account(addr)
		if !ok {
			acct = trie.DefaultAccount()
		}
		if change.Balance != nil {
			acct.Balance = change.Balance
		}
		if change.Nonce != nil {
			acct.Nonce = *change.Nonce
		}
		if change.Code != nil {
			if old := acct.CodeHash; old != trie.KeccakEmpty && old != (common.Hash{}) {
				store.CodeRegistry().Release(old)
			}
			acct.CodeHash = store.CodeRegistry().Insert(change.Code)
		}
		store.SetAccount(addr, acct)
	}
	for addr, slots := range diff.Storage {
		for slot, value := range slots {
			store.SetStorageSlot(addr, slot, value)
		}
	}
}
