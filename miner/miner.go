package miner

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/NomicFoundation/hardhat-sub002/builder"
	"github.com/NomicFoundation/hardhat-sub002/chain"
	"github.com/NomicFoundation/hardhat-sub002/log"
	"github.com/NomicFoundation/hardhat-sub002/txpool"
)

var minerLog = log.Default().Module("miner")

// Pool is the subset of txpool.Pool the miner needs, kept narrow so tests can
// fake it.
type Pool interface {
	Pending() map[common.Address][]*types.Transaction
	RemoveTransaction(hash common.Hash)
	Update()
}

// Config carries the fee recipient and per-block gas limit new blocks are
// built with. Random is the prevrandao value stamped on every block this
// miner produces, chosen once per engine the way a local Hardhat node seeds
// its own mix digest.
type Config struct {
	FeeRecipient         common.Address
	GasLimit             uint64
	Random               common.Hash
	AllowSameTimestamp   bool
	MaxTransactionsPerBlock int
}

// Miner drives block production for one chain.Engine, pulling candidate
// transactions from a Pool and executing them through an injected
// builder.Executor. Grounded on core/block_builder.go's BuildBlock loop,
// generalized to the builder/engine split.
type Miner struct {
	config   Config
	engine   *chain.Engine
	pool     Pool
	executor builder.Executor

	mu                 sync.Mutex
	nextBlockTimestamp *uint64
	offset             int64
}

// New creates a miner bound to engine and pool, executing transactions
// through executor.
func New(config Config, engine *chain.Engine, pool Pool, executor builder.Executor) *Miner {
	return &Miner{config: config, engine: engine, pool: pool, executor: executor}
}

// SetNextBlockTimestamp pins the timestamp of the next block this miner
// produces, mirroring evm_setNextBlockTimestamp. It is consumed the moment
// it is used by MineBlock, and resets the cumulative offset so later blocks
// continue counting forward from it rather than from whatever the wall
// clock happened to read at the time it was set. PendingBlockView reads it
// without consuming it.
func (m *Miner) SetNextBlockTimestamp(ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBlockTimestamp = &ts
}

// IncreaseTime adds seconds to the cumulative offset applied to the wall
// clock when no override or pending next-block timestamp is set, mirroring
// evm_increaseTime, and returns the new total offset.
func (m *Miner) IncreaseTime(seconds int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset += seconds
	return m.offset
}

// resolveMineTimestamp picks the timestamp the next block should carry and,
// if it consumed a pending next-block timestamp, re-anchors the cumulative
// offset so later blocks keep counting forward from it.
func (m *Miner) resolveMineTimestamp(parentTime uint64, override *uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := resolveTimestamp(parentTime, override, m.nextBlockTimestamp, m.offset, m.config.AllowSameTimestamp)
	if override == nil && m.nextBlockTimestamp != nil {
		m.offset = int64(ts) - int64(nowFunc())
		m.nextBlockTimestamp = nil
	}
	return ts
}

// selectTransactions flattens the mempool's pending set into a single
// sequence ordered by effective gas price, highest first. The sort is
// stable, so transactions of equal price keep the order they had in
// pending; a sender's transactions with different prices are not kept in
// nonce order. Grounded on
// core/block_builder.go's sortedTxLists, stripped of its blob-transaction
// split since blob transactions are out of scope here.
func selectTransactions(pending map[common.Address][]*types.Transaction, baseFee *big.Int, limit int) []*types.Transaction {
	var all []*types.Transaction
	for _, txs := range pending {
		all = append(all, txs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return txpool.EffectiveGasPrice(all[i], baseFee).Cmp(txpool.EffectiveGasPrice(all[j], baseFee)) > 0
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// MineBlock builds one block on top of the engine's current head: it
// resolves the next timestamp (an explicit one-shot override, a pending
// evm_setNextBlockTimestamp value, or the wall clock plus any cumulative
// evm_increaseTime offset, in that order) and the next base fee from the
// parent header, drains candidate transactions from the pool in
// effective-gas-price order, executes as many as fit the block's gas limit,
// finalizes the block, and inserts it into the engine. Mined transactions
// are removed from the pool and the pool is re-evaluated against the new
// head state. timestampOverride corresponds to evm_mine's optional
// timestamp argument; pass nil to use the miner's usual timestamp policy.
func (m *Miner) MineBlock(ctx context.Context, timestampOverride *uint64) (*types.Block, []*types.Receipt, error) {
	headNumber := m.engine.LastBlockNumber()
	parent, ok := m.engine.BlockByNumber(headNumber)
	if !ok {
		return nil, nil, chain.ErrUnknownParent
	}
	parentHeader := parent.Block.Header()

	timestamp := m.resolveMineTimestamp(parentHeader.Time, timestampOverride)
	if err := ValidateTimestamp(timestamp, parentHeader.Time, m.config.AllowSameTimestamp); err != nil {
		return nil, nil, err
	}
	baseFee := CalcBaseFee(parentHeader.BaseFee, parentHeader.GasLimit, parentHeader.GasUsed)

	gasLimit := m.config.GasLimit
	if gasLimit == 0 {
		gasLimit = parentHeader.GasLimit
	}

	attrs := builder.Attributes{
		Timestamp:    timestamp,
		FeeRecipient: m.config.FeeRecipient,
		Random:       m.config.Random,
		GasLimit:     gasLimit,
		BaseFee:      baseFee,
	}

	st := m.engine.HeadState()
	b := builder.New(parentHeader, attrs, st, m.executor)

	candidates := selectTransactions(m.pool.Pending(), baseFee, m.config.MaxTransactionsPerBlock)
	var included []*types.Transaction
	for _, tx := range candidates {
		if _, err := b.AddTransaction(ctx, tx); err != nil {
			if err == builder.ErrExceedsBlockGasLimit {
				continue
			}
			minerLog.Warn("dropping transaction that failed execution", "hash", tx.Hash(), "err", err)
			continue
		}
		included = append(included, tx)
	}

	block, receipts, err := b.Finalize(nil)
	if err != nil {
		return nil, nil, err
	}

	if err := m.engine.InsertBlock(block, receipts, nil); err != nil {
		return nil, nil, err
	}

	for _, tx := range included {
		m.pool.RemoveTransaction(tx.Hash())
	}
	m.pool.Update()

	minerLog.Info("mined block", "number", block.NumberU64(), "txs", len(included))
	return block, receipts, nil
}

// PendingBlockView computes the chain.PendingBlockView this miner would
// produce if MineBlock ran right now: the same timestamp/base-fee policy
// and the same effective-gas-price transaction ordering, but executed
// read-only against a diff overlay instead of the engine's real state.
func (m *Miner) PendingBlockView(ctx context.Context) (*chain.PendingBlockView, error) {
	headNumber := m.engine.LastBlockNumber()
	parent, ok := m.engine.BlockByNumber(headNumber)
	if !ok {
		return nil, chain.ErrUnknownParent
	}
	parentHeader := parent.Block.Header()

	m.mu.Lock()
	timestamp := resolveTimestamp(parentHeader.Time, nil, m.nextBlockTimestamp, m.offset, m.config.AllowSameTimestamp)
	m.mu.Unlock()
	baseFee := CalcBaseFee(parentHeader.BaseFee, parentHeader.GasLimit, parentHeader.GasUsed)

	gasLimit := m.config.GasLimit
	if gasLimit == 0 {
		gasLimit = parentHeader.GasLimit
	}

	attrs := builder.Attributes{
		Timestamp:    timestamp,
		FeeRecipient: m.config.FeeRecipient,
		Random:       m.config.Random,
		GasLimit:     gasLimit,
		BaseFee:      baseFee,
	}

	candidates := selectTransactions(m.pool.Pending(), baseFee, m.config.MaxTransactionsPerBlock)
	return chain.NewPendingBlockView(ctx, m.engine, m.executor, attrs, candidates)
}
