// Package builder implements staged block construction (C7): transactions
// are executed one at a time against a checkpointed state, accumulating
// gas usage and receipts, until the candidate block is finalized into a
// concrete, hashed block or aborted and discarded.
package builder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/hardhat-sub002/log"
	"github.com/NomicFoundation/hardhat-sub002/state"
)

var builderLog = log.Default().Module("builder")

// ErrExceedsBlockGasLimit is returned by AddTransaction when including the
// transaction would push cumulative gas usage past the block's gas limit.
var ErrExceedsBlockGasLimit = errors.New("builder: transaction exceeds remaining block gas limit")

// ErrAlreadyFinalized is returned by AddTransaction/Abort once Finalize has
// already been called.
var ErrAlreadyFinalized = errors.New("builder: block already finalized")

// Executor is the external collaborator that actually runs a transaction
// against EVM semantics (opcode execution is out of scope here) and reports
// what happened: the receipt, the state mutation it produced, and the gas it
// consumed.
type Executor interface {
	Execute(ctx context.Context, st state.Reader, header *types.Header, tx *types.Transaction) (*types.Receipt, *state.Diff, error)
}

// Reward is a single block-reward credit applied by Finalize, e.g. the
// miner/fee-recipient reward on a pre-merge hardfork. Amount is denominated
// in wei.
type Reward struct {
	Address common.Address
	Amount  *uint256.Int
}

// Attributes carries the payload attributes requested for the block being
// built, analogous to an Engine API payload attributes object: fee
// recipient, timestamp, prevrandao and withdrawals.
type Attributes struct {
	Timestamp    uint64
	FeeRecipient common.Address
	Random       common.Hash
	GasLimit     uint64
	BaseFee      *big.Int
	Withdrawals  []*types.Withdrawal
}

// Builder constructs one candidate block by staged transaction execution.
// Grounded on core/block_builder.go's BlockBuilder, stripped of the
// blob/calldata-floor EIP machinery that component is out of scope for, and
// generalized to execute through the injected Executor rather than an
// in-tree EVM.
type Builder struct {
	config      *types.Header // parent header, kept for context
	state       state.State
	executor    Executor
	header      *types.Header
	withdrawals []*types.Withdrawal

	txs      []*types.Transaction
	receipts []*types.Receipt
	gasUsed  uint64

	finalized bool
}

// New starts building a block on top of parent, checkpointing st so that
// Abort can discard every mutation made while assembling it.
func New(parent *types.Header, attrs Attributes, st state.State, executor Executor) *Builder {
	st.Checkpoint()
	header := &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number, big.NewInt(1)),
		GasLimit:   attrs.GasLimit,
		Time:       attrs.Timestamp,
		Coinbase:   attrs.FeeRecipient,
		Difficulty: new(big.Int),
		MixDigest:  attrs.Random,
		BaseFee:    attrs.BaseFee,
	}
	return &Builder{
		config:      parent,
		state:       st,
		executor:    executor,
		header:      header,
		withdrawals: attrs.Withdrawals,
	}
}

// AddTransaction executes tx against the staged state and appends it to the
// block if it fits within the remaining gas limit.
func (b *Builder) AddTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if b.finalized {
		return nil, ErrAlreadyFinalized
	}
	if b.gasUsed+tx.Gas() > b.header.GasLimit {
		return nil, ErrExceedsBlockGasLimit
	}

	receipt, diff, err := b.executor.Execute(ctx, b.state, b.header, tx)
	if err != nil {
		return nil, fmt.Errorf("builder: execute tx %v: %w", tx.Hash(), err)
	}

	b.state.Commit(diff)
	b.gasUsed += receipt.GasUsed
	b.header.GasUsed = b.gasUsed
	b.txs = append(b.txs, tx)
	b.receipts = append(b.receipts, receipt)
	return receipt, nil
}

// Abort discards every mutation made while assembling this block, reverting
// the underlying state to its pre-New checkpoint.
func (b *Builder) Abort() error {
	if b.finalized {
		return ErrAlreadyFinalized
	}
	b.finalized = true
	return b.state.Revert()
}

// Finalize applies rewards (the pre-merge block-reward credits; pass nil on
// a proof-of-stake chain where it is always empty), credits withdrawal
// balances if Attributes.Withdrawals was set, computes the block's
// transaction/receipt roots and state root, hashes the header, stamps each
// receipt with the finished block's identity, and returns the assembled
// block together with its receipts. The underlying state is left committed
// to the new block's state root (the checkpoint taken in New is consumed,
// not reverted).
func (b *Builder) Finalize(rewards []Reward) (*types.Block, []*types.Receipt, error) {
	if b.finalized {
		return nil, nil, ErrAlreadyFinalized
	}
	b.finalized = true

	for _, reward := range rewards {
		if reward.Amount == nil || reward.Amount.IsZero() {
			continue
		}
		info, _ := b.state.Basic(reward.Address)
		balance := info.Balance
		if balance == nil {
			balance = new(uint256.Int)
		}
		newBalance := new(uint256.Int).Add(balance, reward.Amount)
		b.state.ModifyAccount(reward.Address, state.AccountChange{Balance: newBalance})
	}

	if b.withdrawals != nil {
		for _, w := range b.withdrawals {
			info, _ := b.state.Basic(w.Address)
			balance := info.Balance
			if balance == nil {
				balance = new(uint256.Int)
			}
			amount := new(uint256.Int).Mul(uint256.NewInt(w.Amount), uint256.NewInt(params.GWei))
			newBalance := new(uint256.Int).Add(balance, amount)
			b.state.ModifyAccount(w.Address, state.AccountChange{Balance: newBalance})
		}
	}

	b.header.Root = b.state.StateRoot()
	b.state.DiscardCheckpoint()

	body := &types.Body{Transactions: b.txs, Withdrawals: b.withdrawals}
	block := types.NewBlock(b.header, body, b.receipts, gethtrie.NewStackTrie(nil))

	hash := block.Hash()
	for i, receipt := range b.receipts {
		receipt.BlockHash = hash
		receipt.BlockNumber = block.Number()
		receipt.TransactionIndex = uint(i)
	}

	builderLog.Info("finalized block", "number", block.NumberU64(), "txs", len(b.txs), "gasUsed", b.gasUsed)
	return block, b.receipts, nil
}
