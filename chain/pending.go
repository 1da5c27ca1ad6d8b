package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/hardhat-sub002/builder"
	"github.com/NomicFoundation/hardhat-sub002/state"
)

// diffOverlay is a read-only Reader that layers an accumulated state.Diff
// over a base Reader, the same shape as state.Overrides but keyed by the
// mutations an Executor actually produced rather than a caller-supplied
// override map.
type diffOverlay struct {
	base state.Reader
	diff *state.Diff
}

func (o *diffOverlay) Basic(addr common.Address) (state.AccountInfo, bool) {
	if _, removed := o.diff.Removed[addr]; removed {
		return state.AccountInfo{}, false
	}
	info, ok := o.base.Basic(addr)
	change, hasChange := o.diff.Accounts[addr]
	if !hasChange {
		return info, ok
	}
	if !ok {
		info = state.AccountInfo{Balance: new(uint256.Int)}
		ok = true
	}
	if change.Balance != nil {
		info.Balance = change.Balance
	}
	if change.Nonce != nil {
		info.Nonce = *change.Nonce
	}
	if change.Code != nil {
		info.CodeHash = crypto.Keccak256Hash(change.Code)
	}
	return info, ok
}

func (o *diffOverlay) CodeByHash(hash common.Hash) ([]byte, bool) {
	for _, change := range o.diff.Accounts {
		if change.Code != nil && crypto.Keccak256Hash(change.Code) == hash {
			return change.Code, true
		}
	}
	return o.base.CodeByHash(hash)
}

func (o *diffOverlay) Storage(addr common.Address, slot common.Hash) *uint256.Int {
	if _, removed := o.diff.Removed[addr]; removed {
		return new(uint256.Int)
	}
	if slots, ok := o.diff.Storage[addr]; ok {
		if v, ok := slots[slot]; ok {
			return v
		}
	}
	return o.base.Storage(addr, slot)
}

func (o *diffOverlay) StateRoot() common.Hash {
	return o.base.StateRoot()
}

func mergeDiff(acc *state.Diff, next *state.Diff) {
	for addr, change := range next.Accounts {
		acc.Accounts[addr] = change
		delete(acc.Removed, addr)
	}
	for addr := range next.Removed {
		acc.Removed[addr] = struct{}{}
		delete(acc.Accounts, addr)
		delete(acc.Storage, addr)
	}
	for addr, slots := range next.Storage {
		dst, ok := acc.Storage[addr]
		if !ok {
			dst = make(map[common.Hash]*uint256.Int)
			acc.Storage[addr] = dst
		}
		for slot, v := range slots {
			dst[slot] = v
		}
	}
}

// PendingBlockView is a read-only "as if mined" view of the next block: the
// header it would get if it were mined right now, and the state that would
// result from speculatively executing a set of candidate transactions
// against the chain head. It never touches the head state itself — each
// transaction executes against a diffOverlay of the previous one's result,
// so nothing here leaks into the engine's real state.
//
// PendingBlockView only implements state.Reader: there is no concrete,
// already-mined state root a caller could layer state.Overrides onto, so
// that type is deliberately not meant to compose with this one.
type PendingBlockView struct {
	header *types.Header
	state.Reader
}

// NewPendingBlockView builds the pending view for engine on top of attrs
// (the payload attributes a caller such as a Miner has already derived from
// the parent header — next timestamp, base fee, gas limit), executing
// candidates in the order given and skipping any that no longer fit the
// block's gas limit or fail to execute.
func NewPendingBlockView(ctx context.Context, engine *Engine, executor builder.Executor, attrs builder.Attributes, candidates []*types.Transaction) (*PendingBlockView, error) {
	headNumber := engine.LastBlockNumber()
	parent, ok := engine.BlockByNumber(headNumber)
	if !ok {
		return nil, ErrUnknownParent
	}
	parentHeader := parent.Block.Header()

	header := &types.Header{
		ParentHash: parentHeader.Hash(),
		Number:     new(big.Int).Add(parentHeader.Number, big.NewInt(1)),
		GasLimit:   attrs.GasLimit,
		Time:       attrs.Timestamp,
		Coinbase:   attrs.FeeRecipient,
		Difficulty: new(big.Int),
		MixDigest:  attrs.Random,
		BaseFee:    attrs.BaseFee,
	}

	accumulated := state.NewDiff()
	reader := engine.HeadState()
	var gasUsed uint64

	for _, tx := range candidates {
		if gasUsed+tx.Gas() > header.GasLimit {
			continue
		}
		overlay := &diffOverlay{base: reader, diff: accumulated}
		receipt, diff, err := executor.Execute(ctx, overlay, header, tx)
		if err != nil {
			continue
		}
		mergeDiff(accumulated, diff)
		gasUsed += receipt.GasUsed
	}
	header.GasUsed = gasUsed

	return &PendingBlockView{
		header: header,
		Reader: &diffOverlay{base: reader, diff: accumulated},
	}, nil
}

// Header returns the speculative header this view assembled. Its Root field
// is left zero: no block was actually finalized, so there is no committed
// state root to stamp onto it.
func (v *PendingBlockView) Header() *types.Header {
	return v.header
}
