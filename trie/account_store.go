package trie

import (
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// KeccakEmpty is the hash of the empty byte string, the code hash every
// account without code must carry.
var KeccakEmpty = crypto.Keccak256Hash(nil)

// Account is the persistent representation of an externally owned or
// contract account. Code is resolved on demand from the shared registry,
// never stored inline.
type Account struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
}

// HasCode reports whether the account's code hash refers to non-empty code.
func (a Account) HasCode() bool {
	return a.CodeHash != (common.Hash{}) && a.CodeHash != KeccakEmpty
}

func defaultAccount() Account {
	return Account{Balance: new(uint256.Int), CodeHash: KeccakEmpty}
}

// ErrNodeNotFound is returned when a storage or account root cannot be
// resolved against the registry; kept for parity with the corpus's trie
// error taxonomy even though this store never evicts resident data.
var ErrNodeNotFound = errors.New("trie: node not found")

// CodeRegistry is a shared, reference-counted bytecode table. It is shared
// by pointer across every clone of an AccountStore: cloning state must
// never duplicate contract code.
type CodeRegistry struct {
	mu   sync.RWMutex
	code map[common.Hash][]byte
	refs map[common.Hash]int
}

// NewCodeRegistry creates a registry with KECCAK_EMPTY resident and
// permanently pinned.
func NewCodeRegistry() *CodeRegistry {
	r := &CodeRegistry{
		code: make(map[common.Hash][]byte),
		refs: make(map[common.Hash]int),
	}
	r.code[KeccakEmpty] = nil
	r.refs[KeccakEmpty] = 1
	return r
}

// Get returns the code for a hash, or (nil, false) if absent.
func (r *CodeRegistry) Get(hash common.Hash) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.code[hash]
	return c, ok
}

// Insert stores code and increments its reference count, inserting it if
// new. Returns the keccak256 hash of the code.
func (r *CodeRegistry) Insert(code []byte) common.Hash {
	if len(code) == 0 {
		return KeccakEmpty
	}
	hash := crypto.Keccak256Hash(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.code[hash]; !ok {
		cp := make([]byte, len(code))
		copy(cp, code)
		r.code[hash] = cp
	}
	r.refs[hash]++
	return hash
}

// Release decrements the reference count for hash, deleting the code once
// it reaches zero. KECCAK_EMPTY is never evicted.
func (r *CodeRegistry) Release(hash common.Hash) {
	if hash == KeccakEmpty {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs[hash] <= 0 {
		return
	}
	r.refs[hash]--
	if r.refs[hash] == 0 {
		delete(r.code, hash)
		delete(r.refs, hash)
	}
}

// storageTrie is the per-account storage slot table. Absence and a
// zero-value entry are observationally identical; set(idx, 0) deletes the
// entry so root and the slot count reflect only non-zero slots.
type storageTrie struct {
	slots *cowMap[common.Hash, *uint256.Int]
}

func newStorageTrie() *storageTrie {
	return &storageTrie{slots: newCowMap[common.Hash, *uint256.Int]()}
}

func (s *storageTrie) clone() *storageTrie {
	return &storageTrie{slots: s.slots.clone()}
}

func (s *storageTrie) get(idx common.Hash) *uint256.Int {
	if v, ok := s.slots.get(idx); ok {
		return v
	}
	return new(uint256.Int)
}

// set writes value at idx; a nil or zero value deletes the slot. It does not
// report whether the slot table became empty.
func (s *storageTrie) set(idx common.Hash, value *uint256.Int) {
	if value == nil || value.IsZero() {
		s.slots.delete(idx)
		return
	}
	s.slots.set(idx, value)
}

func (s *storageTrie) root() common.Hash {
	if s.slots.len() == 0 {
		return common.Hash{}
	}
	type kv struct {
		k common.Hash
		v *uint256.Int
	}
	entries := make([]kv, 0, s.slots.len())
	s.slots.each(func(k common.Hash, v *uint256.Int) {
		entries = append(entries, kv{k, v})
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].k.Cmp(entries[j].k) < 0 })
	enc := make([][]byte, 0, len(entries)*2)
	for _, e := range entries {
		b := e.v.Bytes32()
		enc = append(enc, append([]byte{}, e.k[:]...), append([]byte{}, b[:]...))
	}
	data, err := rlp.EncodeToBytes(enc)
	if err != nil {
		panic("trie: storage root encode: " + err.Error())
	}
	return crypto.Keccak256Hash(data)
}

// AccountStore is the trie-backed account/storage/code store. Clone is
// O(1): the account table and every per-account storage table are
// structurally shared until mutated.
type AccountStore struct {
	accounts *cowMap[common.Address, Account]
	storage  *cowMap[common.Address, *storageTrie]
	code     *CodeRegistry

	rootDirty bool
	rootCache common.Hash
}

// NewAccountStore creates an empty store with a fresh code registry.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts:  newCowMap[common.Address, Account](),
		storage:   newCowMap[common.Address, *storageTrie](),
		code:      NewCodeRegistry(),
		rootDirty: true,
	}
}

// Clone returns a logically independent store. The account table, every
// per-account storage table, and the bytecode registry are shared until
// one side mutates them (the code registry is shared permanently).
func (s *AccountStore) Clone() *AccountStore {
	return &AccountStore{
		accounts:  s.accounts.clone(),
		storage:   s.storage.clone(),
		code:      s.code,
		rootDirty: true,
		rootCache: s.rootCache,
	}
}

// Account returns the account at addr, or (zero, false) if absent.
func (s *AccountStore) Account(addr common.Address) (Account, bool) {
	return s.accounts.get(addr)
}

// SetAccount overwrites the account at addr. If info.CodeHash refers to
// non-empty code not yet in the registry, the caller must have already
// inserted it via CodeRegistry(); SetAccount only records the hash.
func (s *AccountStore) SetAccount(addr common.Address, info Account) {
	s.accounts.set(addr, info)
	s.rootDirty = true
}

// RemoveAccount deletes the account and releases its code reference.
func (s *AccountStore) RemoveAccount(addr common.Address) {
	if acct, ok := s.accounts.get(addr); ok && acct.HasCode() {
		s.code.Release(acct.CodeHash)
	}
	s.accounts.delete(addr)
	s.storage.delete(addr)
	s.rootDirty = true
}

// DefaultAccount returns a fresh zero-value account, used by callers that
// need to materialize an account on first storage write.
func DefaultAccount() Account { return defaultAccount() }

// CodeRegistry exposes the shared bytecode table.
func (s *AccountStore) CodeRegistry() *CodeRegistry { return s.code }

// StorageSlot returns the value at (addr, idx), zero if absent.
func (s *AccountStore) StorageSlot(addr common.Address, idx common.Hash) *uint256.Int {
	t, ok := s.storage.get(addr)
	if !ok {
		return new(uint256.Int)
	}
	return t.get(idx)
}

// SetStorageSlot writes (addr, idx) = value. A zero value deletes the slot.
// If the account does not exist, it is created with DefaultAccount (§4.1).
func (s *AccountStore) SetStorageSlot(addr common.Address, idx common.Hash, value *uint256.Int) {
	if _, ok := s.accounts.get(addr); !ok {
		s.accounts.set(addr, defaultAccount())
	}
	t, ok := s.storage.get(addr)
	if !ok {
		t = newStorageTrie()
		s.storage.set(addr, t)
	} else {
		// t may still be shared with a clone; clone-on-write at this layer.
		t = t.clone()
		s.storage.set(addr, t)
	}
	t.set(idx, value)
	s.rootDirty = true
}

// StorageRoot returns the root of addr's storage table, or the zero hash if
// the account is absent or has no storage.
func (s *AccountStore) StorageRoot(addr common.Address) (common.Hash, bool) {
	if _, ok := s.accounts.get(addr); !ok {
		return common.Hash{}, false
	}
	t, ok := s.storage.get(addr)
	if !ok {
		return common.Hash{}, true
	}
	return t.root(), true
}

// StateRoot returns the top-level commitment over every resident account
// (§3 State Root invariants a, b). It is cached and only recomputed when
// the store has been mutated since the last call.
func (s *AccountStore) StateRoot() common.Hash {
	if !s.rootDirty {
		return s.rootCache
	}
	type kv struct {
		addr common.Address
		acct Account
		root common.Hash
	}
	entries := make([]kv, 0, s.accounts.len())
	s.accounts.each(func(addr common.Address, acct Account) {
		root, _ := s.StorageRoot(addr)
		entries = append(entries, kv{addr, acct, root})
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].addr.Cmp(entries[j].addr) < 0
	})
	enc := make([][]byte, 0, len(entries)*4)
	for _, e := range entries {
		bal := e.acct.Balance
		if bal == nil {
			bal = new(uint256.Int)
		}
		balBytes := bal.Bytes32()
		enc = append(enc,
			append([]byte{}, e.addr[:]...),
			append([]byte{}, balBytes[:]...),
			uint64ToBytes(e.acct.Nonce),
			append([]byte{}, e.acct.CodeHash[:]...),
			append([]byte{}, e.root[:]...),
		)
	}
	data, err := rlp.EncodeToBytes(enc)
	if err != nil {
		panic("trie: state root encode: " + err.Error())
	}
	s.rootCache = crypto.Keccak256Hash(data)
	s.rootDirty = false
	return s.rootCache
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
