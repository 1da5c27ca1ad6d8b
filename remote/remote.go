// Package remote provides the external-chain collaborator for forked state
// and blockchain engines (C3): a client seam for fetching account, code and
// storage data from a remote JSON-RPC endpoint, and a cache that memoizes
// those fetches for a block number fixed at construction time.
package remote

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// AccountInfo mirrors the subset of account state a remote node can answer
// questions about: balance, nonce and code hash. Code itself is fetched
// separately and keyed by hash.
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
}

// Client is the external collaborator this package never implements itself:
// a JSON-RPC (or equivalent) connection to a remote chain, queried at a
// specific block number. Production wiring supplies a real implementation;
// tests supply a fake.
type Client interface {
	AccountAt(ctx context.Context, addr common.Address, blockNumber uint64) (AccountInfo, error)
	CodeAt(ctx context.Context, codeHash common.Hash, blockNumber uint64) ([]byte, error)
	StorageAt(ctx context.Context, addr common.Address, slot common.Hash, blockNumber uint64) (*uint256.Int, error)
}

// StateCache is a lazily-populated, thread-safe cache of remote state as of
// a single fixed block number. It is shared by pointer across
// every clone of a forked state that was forked at the same block, the same
// way trie.CodeRegistry is shared across AccountStore clones: readers never
// refetch data another clone already pulled down.
type StateCache struct {
	client      Client
	blockNumber uint64

	mu       sync.RWMutex
	accounts map[common.Address]AccountInfo
	code     map[common.Hash][]byte
	storage  map[common.Address]map[common.Hash]*uint256.Int
}

// NewStateCache creates a cache bound to blockNumber. It never revisits that
// binding: a fork point is immutable for the lifetime of the cache.
func NewStateCache(client Client, blockNumber uint64) *StateCache {
	return &StateCache{
		client:      client,
		blockNumber: blockNumber,
		accounts:    make(map[common.Address]AccountInfo),
		code:        make(map[common.Hash][]byte),
		storage:     make(map[common.Address]map[common.Hash]*uint256.Int),
	}
}

// BlockNumber returns the fork point this cache answers questions as of.
func (c *StateCache) BlockNumber() uint64 { return c.blockNumber }

// Account returns the remote account at addr, fetching and memoizing it on
// first access.
func (c *StateCache) Account(ctx context.Context, addr common.Address) (AccountInfo, error) {
	c.mu.RLock()
	if info, ok := c.accounts[addr]; ok {
		c.mu.RUnlock()
		return info, nil
	}
	c.mu.RUnlock()

	info, err := c.client.AccountAt(ctx, addr, c.blockNumber)
	if err != nil {
		return AccountInfo{}, err
	}

	c.mu.Lock()
	if existing, ok := c.accounts[addr]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.accounts[addr] = info
	c.mu.Unlock()
	return info, nil
}

// Code returns the remote code for codeHash, fetching and memoizing it on
// first access. The empty hash always resolves to nil without a round trip.
func (c *StateCache) Code(ctx context.Context, codeHash common.Hash) ([]byte, error) {
	if codeHash == (common.Hash{}) || codeHash == types.EmptyCodeHash {
		return nil, nil
	}
	c.mu.RLock()
	if code, ok := c.code[codeHash]; ok {
		c.mu.RUnlock()
		return code, nil
	}
	c.mu.RUnlock()

	code, err := c.client.CodeAt(ctx, codeHash, c.blockNumber)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.code[codeHash]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.code[codeHash] = code
	c.mu.Unlock()
	return code, nil
}

// Storage returns the remote value at (addr, slot), fetching and memoizing
// it on first access.
func (c *StateCache) Storage(ctx context.Context, addr common.Address, slot common.Hash) (*uint256.Int, error) {
	c.mu.RLock()
	if byAddr, ok := c.storage[addr]; ok {
		if v, ok := byAddr[slot]; ok {
			c.mu.RUnlock()
			return v, nil
		}
	}
	c.mu.RUnlock()

	v, err := c.client.StorageAt(ctx, addr, slot, c.blockNumber)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	byAddr, ok := c.storage[addr]
	if !ok {
		byAddr = make(map[common.Hash]*uint256.Int)
		c.storage[addr] = byAddr
	}
	if existing, ok := byAddr[slot]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	byAddr[slot] = v
	c.mu.Unlock()
	return v, nil
}
