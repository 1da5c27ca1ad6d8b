// Package chain implements the block storage layouts and the blockchain
// engine (C4+C5): sparse, contiguous and reservable storage, and a unified
// engine with local and forked realizations.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrBlockNotFound is returned when a block lookup misses.
var ErrBlockNotFound = errors.New("chain: block not found")

// ErrNonContiguousInsert is returned by ContiguousStorage when a block is
// inserted out of sequence.
var ErrNonContiguousInsert = errors.New("chain: block number is not contiguous with the current chain")

// StoredBlock pairs a block with the receipts produced by executing it.
type StoredBlock struct {
	Block    *types.Block
	Receipts []*types.Receipt
}

// Storage is the block storage capability shared by every blockchain
// layout: insert a block, look it up by hash or number, and report the
// current chain length.
type Storage interface {
	Insert(stored *StoredBlock) error
	BlockByHash(hash common.Hash) (*StoredBlock, bool)
	BlockByNumber(number uint64) (*StoredBlock, bool)
	LastBlockNumber() uint64
}

// SparseStorage stores blocks keyed by number with gaps allowed. This is the
// layout a forked blockchain uses above the fork point: only blocks this
// node has actually mined or received are resident, while numbers below the
// populated range belong to the remote chain and are never stored here.
// Grounded on the blockCache/canonCache map pair in core/blockchain.go,
// generalized to tolerate non-contiguous numbers.
type SparseStorage struct {
	mu          sync.RWMutex
	byHash      map[common.Hash]*StoredBlock
	byNumber    map[uint64]*StoredBlock
	txToBlock   map[common.Hash]*StoredBlock
	txToReceipt map[common.Hash]*types.Receipt
	lastNumber  uint64
	hasAny      bool
}

// NewSparseStorage creates an empty sparse storage.
func NewSparseStorage() *SparseStorage {
	return &SparseStorage{
		byHash:      make(map[common.Hash]*StoredBlock),
		byNumber:    make(map[uint64]*StoredBlock),
		txToBlock:   make(map[common.Hash]*StoredBlock),
		txToReceipt: make(map[common.Hash]*types.Receipt),
	}
}

func (s *SparseStorage) Insert(stored *StoredBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	num := stored.Block.NumberU64()
	hash := stored.Block.Hash()
	s.byHash[hash] = stored
	s.byNumber[num] = stored
	indexTransactions(stored, s.txToBlock, s.txToReceipt)
	if !s.hasAny || num > s.lastNumber {
		s.lastNumber = num
		s.hasAny = true
	}
	return nil
}

// BlockByTransactionHash looks up the block a transaction was included in.
func (s *SparseStorage) BlockByTransactionHash(hash common.Hash) (*StoredBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.txToBlock[hash]
	return b, ok
}

// ReceiptByTransactionHash looks up the receipt a transaction produced.
func (s *SparseStorage) ReceiptByTransactionHash(hash common.Hash) (*types.Receipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.txToReceipt[hash]
	return r, ok
}

// indexTransactions records stored's transactions in the two transaction-hash
// indices every storage layout keeps, pairing each transaction with the
// receipt at the same position.
func indexTransactions(stored *StoredBlock, txToBlock map[common.Hash]*StoredBlock, txToReceipt map[common.Hash]*types.Receipt) {
	for i, tx := range stored.Block.Transactions() {
		hash := tx.Hash()
		txToBlock[hash] = stored
		if i < len(stored.Receipts) {
			txToReceipt[hash] = stored.Receipts[i]
		}
	}
}

func (s *SparseStorage) BlockByHash(hash common.Hash) (*StoredBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byHash[hash]
	return b, ok
}

func (s *SparseStorage) BlockByNumber(number uint64) (*StoredBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byNumber[number]
	return b, ok
}

func (s *SparseStorage) LastBlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastNumber
}

// ContiguousStorage stores blocks in a dense slice starting at whatever
// number its seed block carries: number 0 for a local chain's genesis, or a
// real high block number for a forked chain's fork point. Every insert must
// extend the chain by exactly one. Grounded directly on core/blockchain.go's
// local-only, re-execute-from-genesis model, with the ad-hoc map pair
// replaced by an index slice offset by firstBlockNumber.
type ContiguousStorage struct {
	mu               sync.RWMutex
	firstBlockNumber uint64
	blocks           []*StoredBlock
	byHash           map[common.Hash]*StoredBlock
	txToBlock        map[common.Hash]*StoredBlock
	txToReceipt      map[common.Hash]*types.Receipt
}

// NewContiguousStorage creates storage seeded with genesis at its own block
// number, which becomes slice index 0 internally.
func NewContiguousStorage(genesis *StoredBlock) *ContiguousStorage {
	s := &ContiguousStorage{
		firstBlockNumber: genesis.Block.NumberU64(),
		byHash:           make(map[common.Hash]*StoredBlock),
		txToBlock:        make(map[common.Hash]*StoredBlock),
		txToReceipt:      make(map[common.Hash]*types.Receipt),
	}
	s.blocks = append(s.blocks, genesis)
	s.byHash[genesis.Block.Hash()] = genesis
	indexTransactions(genesis, s.txToBlock, s.txToReceipt)
	return s
}

func (s *ContiguousStorage) Insert(stored *StoredBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := s.firstBlockNumber + uint64(len(s.blocks))
	got := stored.Block.NumberU64()
	if got != want {
		return fmt.Errorf("%w: want %d, got %d", ErrNonContiguousInsert, want, got)
	}
	s.blocks = append(s.blocks, stored)
	s.byHash[stored.Block.Hash()] = stored
	indexTransactions(stored, s.txToBlock, s.txToReceipt)
	return nil
}

func (s *ContiguousStorage) BlockByHash(hash common.Hash) (*StoredBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byHash[hash]
	return b, ok
}

func (s *ContiguousStorage) BlockByNumber(number uint64) (*StoredBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if number < s.firstBlockNumber {
		return nil, false
	}
	idx := number - s.firstBlockNumber
	if idx >= uint64(len(s.blocks)) {
		return nil, false
	}
	return s.blocks[idx], true
}

// BlockByTransactionHash looks up the block a transaction was included in.
func (s *ContiguousStorage) BlockByTransactionHash(hash common.Hash) (*StoredBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.txToBlock[hash]
	return b, ok
}

// ReceiptByTransactionHash looks up the receipt a transaction produced.
func (s *ContiguousStorage) ReceiptByTransactionHash(hash common.Hash) (*types.Receipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.txToReceipt[hash]
	return r, ok
}

func (s *ContiguousStorage) LastBlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstBlockNumber + uint64(len(s.blocks)-1)
}

// Truncate drops every block above (and including) number, used by
// RevertToBlock style reorgs. number must be strictly greater than
// firstBlockNumber (the seed block is never dropped).
func (s *ContiguousStorage) Truncate(number uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if number < s.firstBlockNumber {
		return fmt.Errorf("%w: cannot truncate at %d", ErrBlockNotFound, number)
	}
	idx := number - s.firstBlockNumber
	if idx == uint64(len(s.blocks)) {
		return nil
	}
	if idx == 0 || idx > uint64(len(s.blocks)) {
		return fmt.Errorf("%w: cannot truncate at %d", ErrBlockNotFound, number)
	}
	for _, b := range s.blocks[idx:] {
		delete(s.byHash, b.Block.Hash())
		for _, tx := range b.Block.Transactions() {
			delete(s.txToBlock, tx.Hash())
			delete(s.txToReceipt, tx.Hash())
		}
	}
	s.blocks = s.blocks[:idx]
	return nil
}

// reservation is a contiguous run of block numbers that have been reserved
// as an interval-mining fast path but never executed: their headers are
// synthesized on demand rather than stored. prevStateRoot and prevBaseFee
// are carried forward from the last materialized block so a synthesized
// header within the run does not read back as an empty, zero-fee block.
type reservation struct {
	first, last   uint64
	interval      uint64
	baseTimestamp uint64
	parentHash    common.Hash
	prevStateRoot common.Hash
	prevBaseFee   *big.Int
}

// ReservableStorage layers reservation synthesis on top of ContiguousStorage:
// `Reserve` extends the logical chain length by `additional` blocks spaced
// `interval` seconds apart without materializing them, and a concrete
// `Insert` landing inside a reserved range splits it into the untouched
// prefix and suffix.
type ReservableStorage struct {
	mu           sync.RWMutex
	base         *ContiguousStorage
	reservations []reservation
}

// NewReservableStorage wraps base with reservation support.
func NewReservableStorage(base *ContiguousStorage) *ReservableStorage {
	return &ReservableStorage{base: base}
}

// Reserve extends the chain by `additional` synthetic blocks, each spaced
// `interval` seconds after the previous block's timestamp.
func (s *ReservableStorage) Reserve(additional, interval uint64) error {
	if additional == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastBlockLocked()
	next := reservation{
		first:         last.Block.NumberU64() + 1,
		interval:      interval,
		baseTimestamp: last.Block.Time(),
		parentHash:    last.Block.Hash(),
		prevStateRoot: last.Block.Root(),
		prevBaseFee:   last.Block.BaseFee(),
	}
	if len(s.reservations) > 0 {
		prev := s.reservations[len(s.reservations)-1]
		next.first = prev.last + 1
		next.baseTimestamp = prev.baseTimestamp + (prev.last-prev.first+1)*prev.interval
		next.parentHash = synthesizeReservedBlock(prev, prev.last).Block.Hash()
		next.prevStateRoot = prev.prevStateRoot
		next.prevBaseFee = prev.prevBaseFee
	}
	next.last = next.first + additional - 1
	s.reservations = append(s.reservations, next)
	return nil
}

func (s *ReservableStorage) lastBlockLocked() *StoredBlock {
	b, _ := s.base.BlockByNumber(s.base.LastBlockNumber())
	return b
}

// Insert materializes a concrete block. If the number falls inside a
// reservation, that reservation is split around it: the run before the
// insertion point and the run after it survive as two reservations (either
// may be empty and is dropped).
func (s *ReservableStorage) Insert(stored *StoredBlock) error {
	s.mu.Lock()
	num := stored.Block.NumberU64()
	for i, r := range s.reservations {
		if num < r.first || num > r.last {
			continue
		}
		var replacement []reservation
		if num > r.first {
			replacement = append(replacement, reservation{
				first: r.first, last: num - 1, interval: r.interval,
				baseTimestamp: r.baseTimestamp, parentHash: r.parentHash,
				prevStateRoot: r.prevStateRoot, prevBaseFee: r.prevBaseFee,
			})
		}
		if num < r.last {
			replacement = append(replacement, reservation{
				first: num + 1, last: r.last, interval: r.interval,
				baseTimestamp: r.baseTimestamp + (num-r.first+1)*r.interval,
				parentHash:    stored.Block.Hash(),
				prevStateRoot: stored.Block.Root(),
				prevBaseFee:   stored.Block.BaseFee(),
			})
		}
		s.reservations = append(append(append([]reservation{}, s.reservations[:i]...), replacement...), s.reservations[i+1:]...)
		break
	}
	s.mu.Unlock()
	return s.base.Insert(stored)
}

func (s *ReservableStorage) BlockByHash(hash common.Hash) (*StoredBlock, bool) {
	return s.base.BlockByHash(hash)
}

// BlockByTransactionHash looks up the block a transaction was included in.
// Reservations are never materialized with transactions, so this only ever
// resolves through the concrete, contiguous layer.
func (s *ReservableStorage) BlockByTransactionHash(hash common.Hash) (*StoredBlock, bool) {
	return s.base.BlockByTransactionHash(hash)
}

// ReceiptByTransactionHash looks up the receipt a transaction produced.
func (s *ReservableStorage) ReceiptByTransactionHash(hash common.Hash) (*types.Receipt, bool) {
	return s.base.ReceiptByTransactionHash(hash)
}

func (s *ReservableStorage) BlockByNumber(number uint64) (*StoredBlock, bool) {
	if b, ok := s.base.BlockByNumber(number); ok {
		return b, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := sort.Search(len(s.reservations), func(i int) bool { return s.reservations[i].last >= number })
	if idx == len(s.reservations) {
		return nil, false
	}
	r := s.reservations[idx]
	if number < r.first || number > r.last {
		return nil, false
	}
	return synthesizeReservedBlock(r, number), true
}

func (s *ReservableStorage) LastBlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.reservations) > 0 {
		return s.reservations[len(s.reservations)-1].last
	}
	return s.base.LastBlockNumber()
}

func synthesizeReservedBlock(r reservation, number uint64) *StoredBlock {
	offset := number - r.first + 1
	header := &types.Header{
		ParentHash: r.parentHash,
		Number:     new(big.Int).SetUint64(number),
		Time:       r.baseTimestamp + offset*r.interval,
		GasLimit:   0,
		Root:       r.prevStateRoot,
		BaseFee:    r.prevBaseFee,
	}
	return &StoredBlock{Block: types.NewBlockWithHeader(header)}
}
