package chain_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/hardhat-sub002/builder"
	"github.com/NomicFoundation/hardhat-sub002/chain"
	"github.com/NomicFoundation/hardhat-sub002/state"
)

type transferExecutor struct {
	from common.Address
}

func (e *transferExecutor) Execute(ctx context.Context, st state.Reader, header *types.Header, tx *types.Transaction) (*types.Receipt, *state.Diff, error) {
	diff := state.NewDiff()
	fromInfo, _ := st.Basic(e.from)
	toInfo, _ := st.Basic(*tx.To())

	value, _ := uint256.FromBig(tx.Value())
	newFromBal := new(uint256.Int).Sub(fromInfo.Balance, value)
	newToBal := new(uint256.Int).Add(toInfo.Balance, value)
	nextNonce := fromInfo.Nonce + 1

	diff.Accounts[e.from] = state.AccountChange{Balance: newFromBal, Nonce: &nextNonce}
	diff.Accounts[*tx.To()] = state.AccountChange{Balance: newToBal}

	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 21000, TxHash: tx.Hash()}
	return receipt, diff, nil
}

func testGenesisBlock() *types.Block {
	header := &types.Header{Number: big.NewInt(0), Time: 0, GasLimit: 30_000_000, BaseFee: big.NewInt(1_000_000_000)}
	return types.NewBlockWithHeader(header)
}

func TestPendingBlockViewReflectsSpeculativeExecutionWithoutMutatingHead(t *testing.T) {
	from := common.HexToAddress("0x1")
	to := common.HexToAddress("0x2")

	st := state.NewLocal()
	st.InsertAccount(from, state.AccountInfo{Balance: uint256.NewInt(1_000_000_000_000)})
	st.InsertAccount(to, state.AccountInfo{Balance: new(uint256.Int)})

	genesis := testGenesisBlock()
	engine := chain.NewLocalEngine(&chain.Config{ChainConfig: chain.AllForksEnabledChainConfig(1337), GasLimit: 30_000_000}, genesis, st)

	tx := types.NewTransaction(0, to, big.NewInt(100), 21000, big.NewInt(2_000_000_000), nil)

	attrs := builder.Attributes{
		Timestamp:    1,
		FeeRecipient: common.HexToAddress("0xfee"),
		GasLimit:     30_000_000,
		BaseFee:      big.NewInt(1_000_000_000),
	}

	view, err := chain.NewPendingBlockView(context.Background(), engine, &transferExecutor{from: from}, attrs, []*types.Transaction{tx})
	if err != nil {
		t.Fatalf("new pending block view: %v", err)
	}

	if view.Header().Number.Uint64() != 1 {
		t.Fatalf("expected pending header number 1, got %d", view.Header().Number.Uint64())
	}
	if view.Header().GasUsed != 21000 {
		t.Fatalf("expected pending header gas used 21000, got %d", view.Header().GasUsed)
	}

	toInfo, _ := view.Basic(to)
	if toInfo.Balance.Cmp(uint256.NewInt(100)) != 0 {
		t.Fatalf("expected pending view to show recipient credited, got %v", toInfo.Balance)
	}

	headToInfo, _ := engine.HeadState().Basic(to)
	if headToInfo.Balance.Sign() != 0 {
		t.Fatalf("expected head state untouched by pending view, got balance %v", headToInfo.Balance)
	}
}

func TestPendingBlockViewSkipsTransactionsOverGasLimit(t *testing.T) {
	from := common.HexToAddress("0x1")
	to := common.HexToAddress("0x2")

	st := state.NewLocal()
	st.InsertAccount(from, state.AccountInfo{Balance: uint256.NewInt(1_000_000_000_000)})
	st.InsertAccount(to, state.AccountInfo{Balance: new(uint256.Int)})

	genesis := testGenesisBlock()
	engine := chain.NewLocalEngine(&chain.Config{ChainConfig: chain.AllForksEnabledChainConfig(1337), GasLimit: 21000}, genesis, st)

	tx1 := types.NewTransaction(0, to, big.NewInt(1), 21000, big.NewInt(2_000_000_000), nil)
	tx2 := types.NewTransaction(1, to, big.NewInt(1), 21000, big.NewInt(2_000_000_000), nil)

	attrs := builder.Attributes{GasLimit: 21000, BaseFee: big.NewInt(1_000_000_000)}

	view, err := chain.NewPendingBlockView(context.Background(), engine, &transferExecutor{from: from}, attrs, []*types.Transaction{tx1, tx2})
	if err != nil {
		t.Fatalf("new pending block view: %v", err)
	}
	if view.Header().GasUsed != 21000 {
		t.Fatalf("expected only the first transaction to fit, gas used %d", view.Header().GasUsed)
	}
}

var _ builder.Executor = (*transferExecutor)(nil)
