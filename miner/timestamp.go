package miner

import (
	"errors"
	"time"
)

// ErrNonIncreasingTimestamp is returned when a requested timestamp would
// not exceed the parent's, and same-timestamp blocks are not allowed.
var ErrNonIncreasingTimestamp = errors.New("miner: next block timestamp must exceed parent")

// nowFunc is overridable in tests.
var nowFunc = func() uint64 { return uint64(time.Now().Unix()) }

// NextTimestamp computes the next block's timestamp: prefer the wall clock,
// but never let a block's timestamp regress relative to its parent. If
// allowSameTimestamp is false, a block sharing its parent's timestamp is
// bumped forward by one second; if true, it is left alone (used by test
// networks mining faster than one block per second).
func NextTimestamp(parentTime uint64, allowSameTimestamp bool) uint64 {
	return bumpTimestamp(nowFunc(), parentTime, allowSameTimestamp)
}

// bumpTimestamp applies the same-timestamp-bump fallback against an
// already-resolved clock reading rather than always reading nowFunc, so
// resolveTimestamp can feed it a clock adjusted by evm_increaseTime's
// cumulative offset.
func bumpTimestamp(now, parentTime uint64, allowSameTimestamp bool) uint64 {
	if now > parentTime {
		return now
	}
	if allowSameTimestamp && now == parentTime {
		return now
	}
	return parentTime + 1
}

// ValidateTimestamp checks an explicitly requested timestamp (e.g. from
// evm_mine's timestamp argument) against the parent and policy.
func ValidateTimestamp(requested, parentTime uint64, allowSameTimestamp bool) error {
	if allowSameTimestamp && requested >= parentTime {
		return nil
	}
	if requested > parentTime {
		return nil
	}
	return ErrNonIncreasingTimestamp
}

// resolveTimestamp picks the next block's timestamp following the same
// precedence Hardhat's evm_mine/evm_setNextBlockTimestamp/evm_increaseTime
// give it: an explicit one-shot override wins outright, then a pending
// evm_setNextBlockTimestamp value (consumed once it is used), then the wall
// clock advanced by any cumulative evm_increaseTime offset, and finally the
// same-timestamp bump: whichever value was picked is moved to parent+1 when
// it equals the parent's timestamp and same-timestamp blocks are not
// allowed. A wall-clock reading behind the parent is also raised to
// parent+1; an override or pending value behind the parent is returned
// unchanged. nextBlockTimestamp is cleared by the caller once consumed.
func resolveTimestamp(parentTime uint64, override *uint64, nextBlockTimestamp *uint64, offset int64, allowSameTimestamp bool) uint64 {
	explicit := override
	if explicit == nil {
		explicit = nextBlockTimestamp
	}
	if explicit != nil {
		if *explicit == parentTime && !allowSameTimestamp {
			return parentTime + 1
		}
		return *explicit
	}
	now := int64(nowFunc()) + offset
	if now < 0 {
		now = 0
	}
	return bumpTimestamp(uint64(now), parentTime, allowSameTimestamp)
}
