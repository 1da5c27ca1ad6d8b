package chain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"
)

func blockAt(number uint64, parent common.Hash, time uint64) *StoredBlock {
	header := &types.Header{
		Number:     new(big.Int).SetUint64(number),
		ParentHash: parent,
		Time:       time,
		GasLimit:   30_000_000,
	}
	return &StoredBlock{Block: types.NewBlockWithHeader(header)}
}

func TestContiguousStorageRejectsGap(t *testing.T) {
	genesis := blockAt(0, common.Hash{}, 0)
	s := NewContiguousStorage(genesis)
	bad := blockAt(2, genesis.Block.Hash(), 1)
	if err := s.Insert(bad); !errors.Is(err, ErrNonContiguousInsert) {
		t.Fatalf("expected ErrNonContiguousInsert, got %v", err)
	}
}

func TestContiguousStorageAppendsInOrder(t *testing.T) {
	genesis := blockAt(0, common.Hash{}, 0)
	s := NewContiguousStorage(genesis)
	b1 := blockAt(1, genesis.Block.Hash(), 1)
	if err := s.Insert(b1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if s.LastBlockNumber() != 1 {
		t.Fatalf("expected last block number 1, got %d", s.LastBlockNumber())
	}
	got, ok := s.BlockByNumber(1)
	if !ok || got.Block.Hash() != b1.Block.Hash() {
		t.Fatalf("block lookup by number failed")
	}
}

func TestReservableStorageSplitsReservationOnInsert(t *testing.T) {
	genesis := blockAt(0, common.Hash{}, 0)
	base := NewContiguousStorage(genesis)
	s := NewReservableStorage(base)

	if err := s.Reserve(5, 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if s.LastBlockNumber() != 5 {
		t.Fatalf("expected reserved chain length to extend to 5, got %d", s.LastBlockNumber())
	}

	synth, ok := s.BlockByNumber(3)
	if !ok {
		t.Fatalf("expected synthesized block at reserved number 3")
	}
	if synth.Block.NumberU64() != 3 {
		t.Fatalf("unexpected synthesized block number %d", synth.Block.NumberU64())
	}

	real := blockAt(3, synth.Block.ParentHash(), synth.Block.Time())
	if err := s.Insert(real); err != nil {
		t.Fatalf("insert into reservation: %v", err)
	}

	got, ok := s.BlockByNumber(3)
	if !ok || got.Block.Hash() != real.Block.Hash() {
		t.Fatalf("expected concrete block to replace synthesized one at 3")
	}
	if _, ok := s.BlockByNumber(2); !ok {
		t.Fatalf("expected reservation before insertion point to survive")
	}
	if _, ok := s.BlockByNumber(4); !ok {
		t.Fatalf("expected reservation after insertion point to survive")
	}
}

func TestContiguousStorageIndexesFromNonZeroForkPoint(t *testing.T) {
	forkPoint := blockAt(18_000_000, common.Hash{}, 1000)
	s := NewContiguousStorage(forkPoint)

	if s.LastBlockNumber() != 18_000_000 {
		t.Fatalf("expected last block number 18000000, got %d", s.LastBlockNumber())
	}
	got, ok := s.BlockByNumber(18_000_000)
	if !ok || got.Block.Hash() != forkPoint.Block.Hash() {
		t.Fatalf("expected fork point lookup by its real number to succeed")
	}

	next := blockAt(18_000_001, forkPoint.Block.Hash(), 1001)
	if err := s.Insert(next); err != nil {
		t.Fatalf("insert past fork point: %v", err)
	}
	if s.LastBlockNumber() != 18_000_001 {
		t.Fatalf("expected last block number 18000001, got %d", s.LastBlockNumber())
	}
	got, ok = s.BlockByNumber(18_000_001)
	if !ok || got.Block.Hash() != next.Block.Hash() {
		t.Fatalf("expected block lookup past fork point to succeed")
	}
	if _, ok := s.BlockByNumber(0); ok {
		t.Fatalf("expected lookup below the fork point to miss")
	}
}

func TestReservableStorageSynthesizesHeaderFromLastMaterializedBlock(t *testing.T) {
	root := common.HexToHash("0xaa")
	baseFee := big.NewInt(7)
	header := &types.Header{Number: big.NewInt(0), Time: 0, GasLimit: 30_000_000, Root: root, BaseFee: baseFee}
	genesis := &StoredBlock{Block: types.NewBlockWithHeader(header)}

	base := NewContiguousStorage(genesis)
	s := NewReservableStorage(base)

	if err := s.Reserve(3, 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	synth, ok := s.BlockByNumber(2)
	if !ok {
		t.Fatalf("expected synthesized block at reserved number 2")
	}
	if synth.Block.Root() != root {
		t.Fatalf("expected synthesized header to carry forward state root %v, got %v", root, synth.Block.Root())
	}
	if synth.Block.BaseFee().Cmp(baseFee) != 0 {
		t.Fatalf("expected synthesized header to carry forward base fee %v, got %v", baseFee, synth.Block.BaseFee())
	}
}

func TestContiguousStorageIndexesTransactionHashes(t *testing.T) {
	genesis := blockAt(0, common.Hash{}, 0)
	s := NewContiguousStorage(genesis)

	to := common.HexToAddress("0x2")
	tx := types.NewTransaction(0, to, big.NewInt(1), 21000, big.NewInt(1), nil)
	header := &types.Header{Number: big.NewInt(1), ParentHash: genesis.Block.Hash(), Time: 1, GasLimit: 30_000_000}
	body := &types.Body{Transactions: []*types.Transaction{tx}}
	receipt := &types.Receipt{TxHash: tx.Hash(), Status: types.ReceiptStatusSuccessful}
	block := types.NewBlock(header, body, []*types.Receipt{receipt}, gethtrie.NewStackTrie(nil))
	stored := &StoredBlock{Block: block, Receipts: []*types.Receipt{receipt}}

	if err := s.Insert(stored); err != nil {
		t.Fatalf("insert: %v", err)
	}

	gotBlock, ok := s.BlockByTransactionHash(tx.Hash())
	if !ok || gotBlock.Block.Hash() != block.Hash() {
		t.Fatalf("expected transaction hash to resolve to its containing block")
	}
	gotReceipt, ok := s.ReceiptByTransactionHash(tx.Hash())
	if !ok || gotReceipt.TxHash != tx.Hash() {
		t.Fatalf("expected transaction hash to resolve to its receipt")
	}

	if err := s.Truncate(1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if _, ok := s.BlockByTransactionHash(tx.Hash()); ok {
		t.Fatalf("expected transaction hash index to be cleared on truncate")
	}
}

func TestSparseStorageAllowsGaps(t *testing.T) {
	s := NewSparseStorage()
	b100 := blockAt(100, common.Hash{}, 1000)
	if err := s.Insert(b100); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if s.LastBlockNumber() != 100 {
		t.Fatalf("expected last block number 100, got %d", s.LastBlockNumber())
	}
	if _, ok := s.BlockByNumber(99); ok {
		t.Fatalf("expected gap at 99 to be absent")
	}
}
