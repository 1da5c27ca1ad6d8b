package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/NomicFoundation/hardhat-sub002/state"
)

func testGenesis() *types.Block {
	header := &types.Header{Number: big.NewInt(0), Time: 0, GasLimit: 30_000_000}
	return types.NewBlockWithHeader(header)
}

func testConfig() *Config {
	return &Config{ChainConfig: AllForksEnabledChainConfig(1337), GasLimit: 30_000_000}
}

func TestLocalEngineInsertAndLookup(t *testing.T) {
	genesis := testGenesis()
	st := state.NewLocal()
	e := NewLocalEngine(testConfig(), genesis, st)

	header := &types.Header{
		Number:     big.NewInt(1),
		ParentHash: genesis.Hash(),
		Time:       1,
		GasLimit:   30_000_000,
	}
	block := types.NewBlockWithHeader(header)

	if err := e.InsertBlock(block, nil, state.NewDiff()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if e.LastBlockNumber() != 1 {
		t.Fatalf("expected last block number 1, got %d", e.LastBlockNumber())
	}
	got, ok := e.BlockByHash(block.Hash())
	if !ok || got.Block.NumberU64() != 1 {
		t.Fatalf("expected to find inserted block by hash")
	}
}

func TestEngineRejectsUnknownParent(t *testing.T) {
	genesis := testGenesis()
	e := NewLocalEngine(testConfig(), genesis, state.NewLocal())

	header := &types.Header{
		Number:     big.NewInt(1),
		ParentHash: common.HexToHash("0xdead"),
		Time:       1,
	}
	err := e.ValidateNextBlock(header)
	if err == nil {
		t.Fatalf("expected error for unknown parent")
	}
}

func TestEngineEnforcesIncreasingTimestamp(t *testing.T) {
	genesis := testGenesis()
	e := NewLocalEngine(testConfig(), genesis, state.NewLocal())

	header := &types.Header{
		Number:     big.NewInt(1),
		ParentHash: genesis.Hash(),
		Time:       0,
	}
	if err := e.ValidateNextBlock(header); err != ErrTimestampNotIncreasing {
		t.Fatalf("expected ErrTimestampNotIncreasing, got %v", err)
	}
}

func TestEngineAllowsSameTimestampWhenConfigured(t *testing.T) {
	genesis := testGenesis()
	cfg := testConfig()
	cfg.AllowBlocksWithSameTimestamp = true
	e := NewLocalEngine(cfg, genesis, state.NewLocal())

	header := &types.Header{
		Number:     big.NewInt(1),
		ParentHash: genesis.Hash(),
		Time:       0,
	}
	if err := e.ValidateNextBlock(header); err != nil {
		t.Fatalf("expected same-timestamp block to validate, got %v", err)
	}
}

func TestActivationsForChainFallsBackToAllForksEnabled(t *testing.T) {
	cfg := ActivationsForChain(999999)
	if cfg.ShanghaiTime == nil || *cfg.ShanghaiTime != 0 {
		t.Fatalf("expected synthetic chain to have shanghai active at genesis")
	}
}

func TestActivationsForChainRecognizesMainnet(t *testing.T) {
	cfg := ActivationsForChain(params.MainnetChainConfig.ChainID.Uint64())
	if cfg != params.MainnetChainConfig {
		t.Fatalf("expected mainnet chain ID to resolve to the real mainnet config")
	}
}
