package state

import (
	"context"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/hardhat-sub002/remote"
	"github.com/NomicFoundation/hardhat-sub002/trie"
)

var forkedLog = localLog

// randomHashGenerator deterministically produces a stream of hashes from a
// fixed seed. Forked state roots are not content-addressed commitments (the
// remote trie is never fully materialized locally), so they are instead
// opaque tokens handed out in sequence and resolved back to a concrete
// overlay snapshot through generatedRoots.
type randomHashGenerator struct {
	seed    common.Hash
	counter uint64
}

func newRandomHashGenerator(seed common.Hash) *randomHashGenerator {
	return &randomHashGenerator{seed: seed}
}

func (g *randomHashGenerator) next() common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], g.counter)
	g.counter++
	return crypto.Keccak256Hash(g.seed[:], buf[:])
}

// forkedSnapshot captures everything needed to restore a Forked engine to a
// prior overlay state: the local overlay store plus the tombstone sets that
// suppress remote fallback for explicitly removed data.
type forkedSnapshot struct {
	store           *trie.AccountStore
	removedAccounts map[common.Address]struct{}
	removedSlots    map[common.Address]map[common.Hash]struct{}
}

func cloneRemovedAccounts(m map[common.Address]struct{}) map[common.Address]struct{} {
	cp := make(map[common.Address]struct{}, len(m))
	for k := range m {
		cp[k] = struct{}{}
	}
	return cp
}

func cloneRemovedSlots(m map[common.Address]map[common.Hash]struct{}) map[common.Address]map[common.Hash]struct{} {
	cp := make(map[common.Address]map[common.Hash]struct{}, len(m))
	for addr, slots := range m {
		s := make(map[common.Hash]struct{}, len(slots))
		for slot := range slots {
			s[slot] = struct{}{}
		}
		cp[addr] = s
	}
	return cp
}

// Forked is the state engine realization of the forked case: a local
// overlay of explicit mutations over a remote baseline fetched lazily
// through a remote.StateCache fixed at the fork block. Removed
// accounts and cleared storage slots are tombstoned so a later remote fetch
// never resurrects data the local overlay deliberately deleted.
type Forked struct {
	local *trie.AccountStore
	cache *remote.StateCache

	removedAccounts map[common.Address]struct{}
	removedSlots    map[common.Address]map[common.Hash]struct{}

	rootGen        *randomHashGenerator
	rootDirty      bool
	currentRoot    common.Hash
	generatedRoots map[common.Hash]*forkedSnapshot

	checkpoints []*forkedSnapshot
}

// NewForked creates a Forked state engine over an empty local overlay,
// reading through to cache for anything the overlay has not touched. seed
// fixes the sequence of synthetic state roots this engine will hand out.
func NewForked(cache *remote.StateCache, seed common.Hash) *Forked {
	return &Forked{
		local:           trie.NewAccountStore(),
		cache:           cache,
		removedAccounts: make(map[common.Address]struct{}),
		removedSlots:    make(map[common.Address]map[common.Hash]struct{}),
		rootGen:         newRandomHashGenerator(seed),
		rootDirty:       true,
		generatedRoots:  make(map[common.Hash]*forkedSnapshot),
	}
}

func (f *Forked) snapshotNow() *forkedSnapshot {
	return &forkedSnapshot{
		store:           f.local.Clone(),
		removedAccounts: cloneRemovedAccounts(f.removedAccounts),
		removedSlots:    cloneRemovedSlots(f.removedSlots),
	}
}

func (f *Forked) restore(snap *forkedSnapshot) {
	f.local = snap.store.Clone()
	f.removedAccounts = cloneRemovedAccounts(snap.removedAccounts)
	f.removedSlots = cloneRemovedSlots(snap.removedSlots)
	f.rootDirty = true
}

func (f *Forked) Basic(addr common.Address) (AccountInfo, bool) {
	if acct, ok := f.local.Account(addr); ok {
		return AccountInfo{Balance: acct.Balance, Nonce: acct.Nonce, CodeHash: acct.CodeHash}, true
	}
	if _, removed := f.removedAccounts[addr]; removed {
		return AccountInfo{}, false
	}
	info, err := f.cache.Account(context.Background(), addr)
	if err != nil {
		forkedLog.Warn("remote account fetch failed", "address", addr, "err", err)
		return AccountInfo{}, false
	}
	return AccountInfo{Balance: info.Balance, Nonce: info.Nonce, CodeHash: info.CodeHash}, true
}

func (f *Forked) CodeByHash(hash common.Hash) ([]byte, bool) {
	if hash == trie.KeccakEmpty {
		return nil, true
	}
	if code, ok := f.local.CodeRegistry().Get(hash); ok {
		return code, true
	}
	code, err := f.cache.Code(context.Background(), hash)
	if err != nil {
		forkedLog.Warn("remote code fetch failed", "hash", hash, "err", err)
		return nil, false
	}
	return code, true
}

func (f *Forked) Storage(addr common.Address, slot common.Hash) *uint256.Int {
	if slots, ok := f.removedSlots[addr]; ok {
		if _, cleared := slots[slot]; cleared {
			return new(uint256.Int)
		}
	}
	if v := f.local.StorageSlot(addr, slot); !v.IsZero() {
		return v
	}
	v, err := f.cache.Storage(context.Background(), addr, slot)
	if err != nil {
		forkedLog.Warn("remote storage fetch failed", "address", addr, "slot", slot, "err", err)
		return new(uint256.Int)
	}
	return v
}

// StateRoot returns the opaque, non-content-addressed token identifying the
// current overlay state. It is stable across repeated calls between
// mutations and resolvable back to a concrete snapshot via SetStateRoot.
func (f *Forked) StateRoot() common.Hash {
	if !f.rootDirty {
		return f.currentRoot
	}
	root := f.rootGen.next()
	f.generatedRoots[root] = f.snapshotNow()
	f.currentRoot = root
	f.rootDirty = false
	return root
}

func (f *Forked) touch() { f.rootDirty = true }

func (f *Forked) Commit(diff *Diff) {
	for addr := range diff.Removed {
		f.RemoveAccount(addr)
	}
	for addr, change := range diff.Accounts {
		f.ModifyAccount(addr, change)
	}
	for addr, slots := range diff.Storage {
		for slot, value := range slots {
			f.SetStorageSlot(addr, slot, value)
		}
	}
}

func (f *Forked) InsertAccount(addr common.Address, info AccountInfo) {
	delete(f.removedAccounts, addr)
	f.local.SetAccount(addr, trie.Account{Balance: info.Balance, Nonce: info.Nonce, CodeHash: info.CodeHash})
	f.touch()
}

func (f *Forked) ModifyAccount(addr common.Address, change AccountChange) {
	delete(f.removedAccounts, addr)
	acct, ok := f.local.Account(addr)
	if !ok {
		base := f.readThroughAccount(addr)
		acct = trie.Account{Balance: base.Balance, Nonce: base.Nonce, CodeHash: base.CodeHash}
	}
	if change.Balance != nil {
		acct.Balance = change.Balance
	}
	if change.Nonce != nil {
		acct.Nonce = *change.Nonce
	}
	if change.Code != nil {
		acct.CodeHash = f.local.CodeRegistry().Insert(change.Code)
	}
	f.local.SetAccount(addr, acct)
	f.touch()
}

func (f *Forked) readThroughAccount(addr common.Address) AccountInfo {
	info, err := f.cache.Account(context.Background(), addr)
	if err != nil {
		return AccountInfo{Balance: new(uint256.Int), CodeHash: trie.KeccakEmpty}
	}
	if info.Balance == nil {
		info.Balance = new(uint256.Int)
	}
	return AccountInfo{Balance: info.Balance, Nonce: info.Nonce, CodeHash: info.CodeHash}
}

func (f *Forked) RemoveAccount(addr common.Address) {
	f.removedAccounts[addr] = struct{}{}
	delete(f.removedSlots, addr)
	f.local.RemoveAccount(addr)
	f.touch()
}

func (f *Forked) SetStorageSlot(addr common.Address, slot common.Hash, value *uint256.Int) {
	if value == nil || value.IsZero() {
		slots, ok := f.removedSlots[addr]
		if !ok {
			slots = make(map[common.Hash]struct{})
			f.removedSlots[addr] = slots
		}
		slots[slot] = struct{}{}
		f.local.SetStorageSlot(addr, slot, new(uint256.Int))
		f.touch()
		return
	}
	if slots, ok := f.removedSlots[addr]; ok {
		delete(slots, slot)
	}
	f.local.SetStorageSlot(addr, slot, value)
	f.touch()
}

// SetStateRoot recalls the overlay captured when root was handed out by
// StateRoot. Roots this engine never generated cannot be recalled.
func (f *Forked) SetStateRoot(root common.Hash) error {
	snap, ok := f.generatedRoots[root]
	if !ok {
		return ErrUnknownSnapshot
	}
	f.restore(snap)
	f.currentRoot = root
	f.rootDirty = false
	return nil
}

func (f *Forked) Checkpoint() {
	f.checkpoints = append(f.checkpoints, f.snapshotNow())
}

func (f *Forked) Revert() error {
	n := len(f.checkpoints)
	if n == 0 {
		return ErrNoCheckpoint
	}
	snap := f.checkpoints[n-1]
	f.checkpoints = f.checkpoints[:n-1]
	f.restore(snap)
	return nil
}

// DiscardCheckpoint drops the most recent checkpoint without restoring it.
func (f *Forked) DiscardCheckpoint() {
	if n := len(f.checkpoints); n > 0 {
		f.checkpoints = f.checkpoints[:n-1]
	}
}

func (f *Forked) MakeSnapshot() common.Hash {
	return f.StateRoot()
}

func (f *Forked) RemoveSnapshot(root common.Hash) {
	delete(f.generatedRoots, root)
}

func (f *Forked) SetBlockContext(root common.Hash, blockNumber *uint64) error {
	if err := f.SetStateRoot(root); err != nil {
		forkedLog.Warn("set block context: unknown generated root", "root", root)
		return err
	}
	return nil
}
