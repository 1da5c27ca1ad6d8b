package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/hardhat-sub002/state"
)

// GenesisAccount is one pre-funded account in a genesis allocation.
type GenesisAccount struct {
	Balance *big.Int
	Code    []byte
	Nonce   uint64
	Storage map[common.Hash]common.Hash
}

// GenesisAlloc maps addresses to their genesis allocation.
type GenesisAlloc map[common.Address]GenesisAccount

// Genesis specifies a chain's genesis header fields and initial account
// state. Grounded on core/genesis.go's Genesis/ToBlock, with fork-conditional
// header fields (base fee, withdrawals hash, blob gas and beacon root) now
// driven by go-ethereum's own params.ChainConfig IsLondon/IsShanghai/
// IsCancun instead of a hand-rolled ChainConfig, and state setup
// retargeted from an in-memory state DB onto this module's state.State.
// No Prague requests hash is set on the genesis header.
type Genesis struct {
	Config     *params.ChainConfig
	Timestamp  uint64
	ExtraData  []byte
	GasLimit   uint64
	Difficulty *big.Int
	MixHash    common.Hash
	Coinbase   common.Address
	BaseFee    *big.Int
	Alloc      GenesisAlloc
}

// ToHeader builds the genesis header, independent of state (the Root field
// is left zero; ApplyAlloc/ToBlock fill it in once the allocation has been
// applied to a state engine).
func (g *Genesis) ToHeader() *types.Header {
	header := &types.Header{
		ParentHash: common.Hash{},
		Coinbase:   g.Coinbase,
		Difficulty: g.Difficulty,
		Number:     new(big.Int),
		GasLimit:   g.GasLimit,
		Time:       g.Timestamp,
		MixDigest:  g.MixHash,
	}
	if header.Difficulty == nil {
		header.Difficulty = new(big.Int)
	}
	if len(g.ExtraData) > 0 {
		header.Extra = append([]byte(nil), g.ExtraData...)
	}

	if g.BaseFee != nil {
		header.BaseFee = new(big.Int).Set(g.BaseFee)
	} else if g.Config != nil && g.Config.IsLondon(header.Number) {
		header.BaseFee = big.NewInt(1_000_000_000)
	}

	if g.Config != nil && g.Config.IsShanghai(header.Number, g.Timestamp) {
		empty := types.EmptyWithdrawalsHash
		header.WithdrawalsHash = &empty
	}

	if g.Config != nil && g.Config.IsCancun(header.Number, g.Timestamp) {
		zero := uint64(0)
		header.ExcessBlobGas = &zero
		header.BlobGasUsed = &zero
		beaconRoot := common.Hash{}
		header.ParentBeaconRoot = &beaconRoot
	}

	return header
}

// ApplyAlloc writes every genesis account into st and returns the resulting
// state root, ready to stamp onto the genesis header.
func (g *Genesis) ApplyAlloc(st state.Mutator, root func() common.Hash) common.Hash {
	for addr, account := range g.Alloc {
		balance := new(uint256.Int)
		if account.Balance != nil {
			balance, _ = uint256.FromBig(account.Balance)
		}
		st.InsertAccount(addr, state.AccountInfo{Balance: balance, Nonce: account.Nonce})
		if len(account.Code) > 0 {
			code := account.Code
			st.ModifyAccount(addr, state.AccountChange{Code: code})
		}
		for slot, value := range account.Storage {
			v, _ := uint256.FromBig(value.Big())
			st.SetStorageSlot(addr, slot, v)
		}
	}
	return root()
}

// ToBlock applies the allocation to st and assembles the resulting genesis
// block with its state root set.
func (g *Genesis) ToBlock(st state.State) *types.Block {
	header := g.ToHeader()
	header.Root = g.ApplyAlloc(st, st.StateRoot)
	return types.NewBlockWithHeader(header)
}

// DefaultGenesis returns a bare mainnet-activated genesis with no
// allocation, the shape a local-only test chain starts from.
func DefaultGenesis() *Genesis {
	return &Genesis{
		Config:     params.MainnetChainConfig,
		GasLimit:   30_000_000,
		Difficulty: new(big.Int),
		Alloc:      GenesisAlloc{},
	}
}
