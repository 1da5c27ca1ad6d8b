package chain

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/NomicFoundation/hardhat-sub002/filters"
	"github.com/NomicFoundation/hardhat-sub002/log"
	"github.com/NomicFoundation/hardhat-sub002/remote"
	"github.com/NomicFoundation/hardhat-sub002/state"
)

var engineLog = log.Default().Module("chain")

var (
	// ErrUnknownParent is returned when a block's parent hash is not
	// present in the engine's storage.
	ErrUnknownParent = fmt.Errorf("chain: unknown parent block")
	// ErrTimestampNotIncreasing is returned when a candidate block's
	// timestamp does not satisfy the engine's timestamp policy.
	ErrTimestampNotIncreasing = fmt.Errorf("chain: block timestamp must increase over parent")
	// ErrCannotDeleteRemote is returned by RevertToBlock when asked to
	// revert to a number at or below a forked engine's fork point: those
	// blocks belong to the remote chain and were never inserted locally.
	ErrCannotDeleteRemote = fmt.Errorf("chain: cannot revert into blocks before the fork point")
)

// Engine is the unified blockchain engine capability (C5): block insertion,
// lookup, and the state as of any stored block. Local and Forked are its two
// realizations.
type Engine struct {
	mu     sync.RWMutex
	config *Config
	storage *ReservableStorage

	genesisState state.State
	headState    state.State

	remoteCache *remote.StateCache // nil for Local
}

// NewLocalEngine creates an engine with no remote baseline: every block
// from genesis forward is stored and executed locally. Grounded on
// core/blockchain.go's NewBlockchain.
func NewLocalEngine(config *Config, genesis *types.Block, genesisState state.State) *Engine {
	contiguous := NewContiguousStorage(&StoredBlock{Block: genesis})
	genesisState.MakeSnapshot()
	return &Engine{
		config:       config,
		storage:      NewReservableStorage(contiguous),
		genesisState: genesisState,
		headState:    genesisState,
	}
}

// NewForkedEngine creates an engine whose state and blocks below
// config.Fork.ForkBlockNumber are read through to a remote chain. The
// genesis block here is synthetic: it stands in for the fork point, not
// block zero.
func NewForkedEngine(config *Config, forkPointBlock *types.Block, cache *remote.StateCache, seed common.Hash) *Engine {
	contiguous := NewContiguousStorage(&StoredBlock{Block: forkPointBlock})
	forkedState := state.NewForked(cache, seed)
	forkedState.MakeSnapshot()
	return &Engine{
		config:       config,
		storage:      NewReservableStorage(contiguous),
		genesisState: forkedState,
		headState:    forkedState,
		remoteCache:  cache,
	}
}

// IsForked reports whether this engine overlays a remote chain.
func (e *Engine) IsForked() bool { return e.remoteCache != nil }

// LastBlockNumber returns the highest block number the engine has (stored
// or reserved).
func (e *Engine) LastBlockNumber() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.storage.LastBlockNumber()
}

// HeadState returns the state engine bound to the current chain head.
func (e *Engine) HeadState() state.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.headState
}

// BlockByHash looks up a concretely inserted block by hash.
// Reservation synthesis only resolves by number, so a hash lookup only ever
// hits concretely inserted blocks.
func (e *Engine) BlockByHash(hash common.Hash) (*StoredBlock, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.storage.BlockByHash(hash)
}

// BlockByNumber looks up a block (stored or synthesized) by number.
func (e *Engine) BlockByNumber(number uint64) (*StoredBlock, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.storage.BlockByNumber(number)
}

// BlockByTransactionHash looks up the block that included a transaction.
func (e *Engine) BlockByTransactionHash(hash common.Hash) (*StoredBlock, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.storage.BlockByTransactionHash(hash)
}

// ReceiptByTransactionHash looks up the receipt a transaction produced.
func (e *Engine) ReceiptByTransactionHash(hash common.Hash) (*types.Receipt, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.storage.ReceiptByTransactionHash(hash)
}

// Logs walks every stored block in [from, to] and returns the logs from its
// receipts that match addresses and topics. A nil addresses or topics
// position is a wildcard, the same semantics filters.Matches applies to an
// installed log filter's criteria.
func (e *Engine) Logs(from, to uint64, addresses []common.Address, topics [][]common.Hash) []*types.Log {
	criteria := filters.Criteria{Addresses: addresses, Topics: topics}

	e.mu.RLock()
	defer e.mu.RUnlock()
	var matched []*types.Log
	for number := from; number <= to; number++ {
		stored, ok := e.storage.BlockByNumber(number)
		if !ok {
			continue
		}
		for _, receipt := range stored.Receipts {
			for _, l := range receipt.Logs {
				if filters.Matches(l, criteria) {
					matched = append(matched, l)
				}
			}
		}
	}
	return matched
}

// ValidateNextBlock checks a candidate block's header against the current
// head before accepting it into the chain: the parent must be known and the
// timestamp policy must hold.
func (e *Engine) ValidateNextBlock(header *types.Header) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	parent, ok := e.storage.BlockByHash(header.ParentHash)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownParent, header.ParentHash)
	}
	if e.config.AllowBlocksWithSameTimestamp {
		if header.Time < parent.Block.Time() {
			return ErrTimestampNotIncreasing
		}
		return nil
	}
	if header.Time <= parent.Block.Time() {
		return ErrTimestampNotIncreasing
	}
	return nil
}

// InsertBlock validates and appends a mined block. diff is the state
// mutation the block represents; pass nil when the head state has already
// been advanced to this block's root (e.g. a builder that committed each
// transaction's diff as it executed), and non-nil when inserting a block
// whose transactions have not yet been applied to the engine's state (e.g.
// one received from a peer).
func (e *Engine) InsertBlock(block *types.Block, receipts []*types.Receipt, diff *state.Diff) error {
	if err := e.ValidateNextBlock(block.Header()); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if diff != nil {
		e.headState.Commit(diff)
	}
	if err := e.storage.Insert(&StoredBlock{Block: block, Receipts: receipts}); err != nil {
		return err
	}
	e.headState.MakeSnapshot()
	engineLog.Info("inserted block", "number", block.NumberU64(), "hash", block.Hash(), "txs", len(block.Transactions()))
	return nil
}

// Reserve extends the chain by additional synthetic blocks without
// executing them, an interval-mining fast path.
func (e *Engine) Reserve(additional, interval uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storage.Reserve(additional, interval)
}

// RevertToBlock truncates the chain back to n, blocks above n are removed
// permanently, and rebinds the head state to n's own state root recalled
// from the state engine's snapshot table. A forked engine refuses to revert
// at or below its fork point: those blocks were never inserted locally and
// have no snapshot to recall. Grounded on core/blockchain.go's SetHead,
// replacing its re-execute-from-genesis approach with direct recall from the
// state engine's snapshot table, and resolving the target root internally
// instead of requiring the caller to already know it.
func (e *Engine) RevertToBlock(n uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.config.Fork != nil && n <= e.config.Fork.ForkBlockNumber {
		return ErrCannotDeleteRemote
	}
	target, ok := e.storage.base.BlockByNumber(n)
	if !ok {
		return fmt.Errorf("%w: %d", ErrBlockNotFound, n)
	}
	if err := e.storage.base.Truncate(n + 1); err != nil {
		return err
	}
	e.storage.mu.Lock()
	kept := e.storage.reservations[:0]
	for _, r := range e.storage.reservations {
		if r.first > n {
			continue
		}
		if r.last > n {
			r.last = n
		}
		kept = append(kept, r)
	}
	e.storage.reservations = kept
	e.storage.mu.Unlock()
	if err := e.headState.SetStateRoot(target.Block.Root()); err != nil {
		return fmt.Errorf("chain: revert head state to %d: %w", n, err)
	}
	return nil
}
