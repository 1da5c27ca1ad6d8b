package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

// Config is the node-level configuration needed to stand up a blockchain
// engine, besides the hardfork activation table, which is supplied by a
// go-ethereum params.ChainConfig rather than hand-rolled.
type Config struct {
	ChainConfig *params.ChainConfig

	GasLimit       uint64
	InitialBaseFee *big.Int
	InitialTime    uint64

	// AllowBlocksWithSameTimestamp permits mining a block whose timestamp
	// equals its parent's, used by test networks that mine many blocks per
	// wall-clock second.
	AllowBlocksWithSameTimestamp bool

	Coinbase       common.Address
	PrevRandaoSeed common.Hash

	// Fork, if non-nil, makes this a forked chain config: everything at or
	// below ForkBlockNumber is read from the remote chain.
	Fork *ForkConfig
}

// ForkConfig describes the remote chain a forked engine overlays.
type ForkConfig struct {
	ForkBlockNumber uint64
	CacheDir        string
}

// ActivationsForChain returns the hardfork activation table for a known
// chain ID, falling back to AllForksEnabledChainConfig for unrecognized
// IDs (mirrored from core/chain_config.go's TestConfig local dev network
// convention; see AllForksEnabledChainConfig for which forks it zeroes).
func ActivationsForChain(chainID uint64) *params.ChainConfig {
	switch chainID {
	case params.MainnetChainConfig.ChainID.Uint64():
		return params.MainnetChainConfig
	case params.SepoliaChainConfig.ChainID.Uint64():
		return params.SepoliaChainConfig
	case params.HoleskyChainConfig.ChainID.Uint64():
		return params.HoleskyChainConfig
	default:
		return AllForksEnabledChainConfig(chainID)
	}
}

// AllForksEnabledChainConfig returns a copy of the mainnet chain config with
// the given chain ID and the Shanghai, Cancun and Prague activation times
// set to zero, the default for a fresh local test network. The block-number
// forks (London and earlier) keep their mainnet activation heights, and so
// do any timestamp forks after Prague.
func AllForksEnabledChainConfig(chainID uint64) *params.ChainConfig {
	zero := uint64(0)
	cfg := *params.MainnetChainConfig
	cfg.ChainID = new(big.Int).SetUint64(chainID)
	cfg.ShanghaiTime = &zero
	cfg.CancunTime = &zero
	cfg.PragueTime = &zero
	return &cfg
}
