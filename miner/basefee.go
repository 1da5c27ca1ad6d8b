// Package miner implements the block timestamp policy, EIP-1559 base fee
// update rule, and the orchestration that drains the mempool into a block
// builder (C8).
package miner

import "math/big"

// EIP-1559 tuning constants (unchanged from mainnet).
const (
	ElasticityMultiplier     = 2
	BaseFeeChangeDenominator = 8

	// InitialBaseFee is used for the first block after a pre-EIP-1559
	// parent (i.e. one with no base fee at all).
	InitialBaseFee = 1_000_000_000
)

// CalcBaseFee computes the next block's base fee from the parent's gas
// usage and limit, following EIP-1559. Grounded on core/fee.go's
// CalcBaseFee, with one deliberate change: the result is clamped at zero
// (max(0, ...)) rather than at a 7-wei EIP-4844-era minimum. Each decrease
// is at most one eighth of the parent fee, rounded down, so a positive
// parent fee never decreases to zero.
func CalcBaseFee(parentBaseFee *big.Int, parentGasLimit, parentGasUsed uint64) *big.Int {
	if parentBaseFee == nil {
		return big.NewInt(InitialBaseFee)
	}

	target := parentGasLimit / ElasticityMultiplier
	if parentGasUsed == target {
		return new(big.Int).Set(parentBaseFee)
	}

	if parentGasUsed > target {
		delta := parentGasUsed - target
		change := new(big.Int).Mul(parentBaseFee, new(big.Int).SetUint64(delta))
		change.Div(change, new(big.Int).SetUint64(target))
		change.Div(change, big.NewInt(BaseFeeChangeDenominator))
		if change.Sign() == 0 {
			change.SetInt64(1)
		}
		return new(big.Int).Add(parentBaseFee, change)
	}

	delta := target - parentGasUsed
	change := new(big.Int).Mul(parentBaseFee, new(big.Int).SetUint64(delta))
	change.Div(change, new(big.Int).SetUint64(target))
	change.Div(change, big.NewInt(BaseFeeChangeDenominator))

	next := new(big.Int).Sub(parentBaseFee, change)
	if next.Sign() < 0 {
		return big.NewInt(0)
	}
	return next
}
