// Package txpool implements the mempool (C6): per-sender nonce-ordered
// pending and future transaction lists, same-nonce replacement with a
// minimum price bump, and cascade invalidation when a lower nonce is
// removed or a sender's balance can no longer cover its queued
// transactions.
package txpool

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/NomicFoundation/hardhat-sub002/log"
	"github.com/NomicFoundation/hardhat-sub002/state"
)

var poolLog = log.Default().Module("txpool")

// PriceBump is the minimum percentage increase in effective gas price (and,
// for dynamic-fee transactions, tip cap) a replacement transaction must
// offer over the one it replaces. Grounded on the corpus's tx_replacement.go
// DefaultMinPriceBump.
const PriceBump = 10

var (
	ErrAlreadyKnown          = errors.New("txpool: transaction already known")
	ErrNonceTooLow           = errors.New("txpool: nonce too low")
	ErrGasLimit              = errors.New("txpool: exceeds block gas limit")
	ErrIntrinsicGas          = errors.New("txpool: intrinsic gas too low")
	ErrPoolFull              = errors.New("txpool: pool is full")
	ErrUnderpriced           = errors.New("txpool: transaction underpriced")
	ErrReplacementUnderpriced = errors.New("txpool: replacement transaction underpriced")
	ErrInsufficientFunds     = errors.New("txpool: insufficient funds for gas * price + value")
)

// Config holds mempool configuration.
type Config struct {
	MaxSize       int
	MaxPerSender  int
	MinGasPrice   *big.Int
	BlockGasLimit uint64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:       4096,
		MaxPerSender:  64,
		MinGasPrice:   big.NewInt(1),
		BlockGasLimit: 30_000_000,
	}
}

// accountQueue holds nonce-sorted transactions for one sender, split at the
// point where the sequence stops being contiguous with the account's
// on-chain nonce: items[:readyPrefix(nonce)] are pending (immediately
// processable), the rest are future.
type accountQueue struct {
	items []*types.Transaction
}

func (q *accountQueue) insertOrReplace(tx *types.Transaction, baseFee *big.Int) (replaced bool, err error) {
	idx := sort.Search(len(q.items), func(i int) bool { return q.items[i].Nonce() >= tx.Nonce() })
	if idx < len(q.items) && q.items[idx].Nonce() == tx.Nonce() {
		old := q.items[idx]
		if !hasPriceBump(old, tx, baseFee) {
			return false, ErrReplacementUnderpriced
		}
		q.items[idx] = tx
		return true, nil
	}
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = tx
	return false, nil
}

func (q *accountQueue) remove(nonce uint64) bool {
	for i, tx := range q.items {
		if tx.Nonce() == nonce {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// readyPrefix returns the contiguous-from-baseNonce prefix length.
func (q *accountQueue) readyPrefix(baseNonce uint64) int {
	expected := baseNonce
	n := 0
	for _, tx := range q.items {
		if tx.Nonce() != expected {
			break
		}
		n++
		expected++
	}
	return n
}

// Pool is the mempool (C6): nonce-gated per-sender queues plus a hash
// index, split into pending (immediately processable against the current
// state nonce) and future (waiting on a lower nonce to land) subsets.
// Grounded on the corpus's txpool.go (pending/queue split, promote-on-add)
// and pending_list.go (same-nonce replace-by-fee with a price bump floor).
type Pool struct {
	config Config
	signer types.Signer
	reader state.Reader

	mu       sync.RWMutex
	byHash   map[common.Hash]*types.Transaction
	senderOf map[common.Hash]common.Address
	accounts map[common.Address]*accountQueue
	baseFee  *big.Int
}

// New creates a mempool bound to reader for nonce/balance gating and signer
// for sender recovery.
func New(config Config, signer types.Signer, reader state.Reader) *Pool {
	return &Pool{
		config:   config,
		signer:   signer,
		reader:   reader,
		byHash:   make(map[common.Hash]*types.Transaction),
		senderOf: make(map[common.Hash]common.Address),
		accounts: make(map[common.Address]*accountQueue),
	}
}

// SetBlockGasLimit updates the gas limit new transactions are validated
// against.
func (p *Pool) SetBlockGasLimit(limit uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.BlockGasLimit = limit
}

// SetBaseFee updates the base fee used for effective gas price comparisons
// during replacement.
func (p *Pool) SetBaseFee(baseFee *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseFee = baseFee
}

// AddTransaction validates and admits tx.
func (p *Pool) AddTransaction(tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := tx.Hash()
	if _, ok := p.byHash[hash]; ok {
		return ErrAlreadyKnown
	}
	if len(p.byHash) >= p.config.MaxSize {
		return ErrPoolFull
	}
	if err := p.validate(tx); err != nil {
		return err
	}

	from, err := types.Sender(p.signer, tx)
	if err != nil {
		return err
	}

	info, _ := p.reader.Basic(from)
	if tx.Nonce() < info.Nonce {
		return ErrNonceTooLow
	}

	acct, ok := p.accounts[from]
	if !ok {
		acct = &accountQueue{}
		p.accounts[from] = acct
	}
	var replacedHash common.Hash
	for _, queued := range acct.items {
		if queued.Nonce() == tx.Nonce() {
			replacedHash = queued.Hash()
		}
	}
	replaced, err := acct.insertOrReplace(tx, p.baseFee)
	if err != nil {
		return err
	}
	if replaced {
		delete(p.byHash, replacedHash)
		delete(p.senderOf, replacedHash)
	}

	p.byHash[hash] = tx
	p.senderOf[hash] = from
	poolLog.Debug("admitted transaction", "hash", hash, "from", from, "nonce", tx.Nonce())
	return nil
}

func (p *Pool) validate(tx *types.Transaction) error {
	if tx.Gas() > p.config.BlockGasLimit {
		return ErrGasLimit
	}
	if tx.Gas() < IntrinsicGas(tx.Data(), tx.To() == nil) {
		return ErrIntrinsicGas
	}
	if p.config.MinGasPrice != nil && tx.GasPrice() != nil && tx.GasPrice().Cmp(p.config.MinGasPrice) < 0 {
		return ErrUnderpriced
	}
	return nil
}

// RemoveTransaction drops a transaction from the pool, e.g. after its
// inclusion in a mined block. It does not cascade: callers that remove a
// low nonce should follow with Update to re-evaluate dependents.
func (p *Pool) RemoveTransaction(hash common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash)
}

func (p *Pool) removeLocked(hash common.Hash) {
	tx, ok := p.byHash[hash]
	if !ok {
		return
	}
	from := p.senderOf[hash]
	delete(p.byHash, hash)
	delete(p.senderOf, hash)
	if acct, ok := p.accounts[from]; ok {
		acct.remove(tx.Nonce())
		if len(acct.items) == 0 {
			delete(p.accounts, from)
		}
	}
}

// Update re-evaluates every sender's queue against the current state, meant
// to run after a new block lands: any transaction whose nonce is now stale
// is dropped, and senders whose balance can no longer cover their queued
// transactions' worst-case cost are cascade-invalidated from that point
// forward.
func (p *Pool) Update() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, acct := range p.accounts {
		info, _ := p.reader.Basic(addr)
		i := 0
		for i < len(acct.items) && acct.items[i].Nonce() < info.Nonce {
			i++
		}
		for _, stale := range acct.items[:i] {
			delete(p.byHash, stale.Hash())
			delete(p.senderOf, stale.Hash())
		}
		acct.items = acct.items[i:]

		balance := info.Balance
		if balance == nil {
			balance = new(uint256.Int)
		}
		remaining := new(uint256.Int).Set(balance)
		cut := len(acct.items)
		for j, tx := range acct.items {
			cost := transactionCost(tx)
			if remaining.Cmp(cost) < 0 {
				cut = j
				break
			}
			remaining.Sub(remaining, cost)
		}
		for _, dropped := range acct.items[cut:] {
			delete(p.byHash, dropped.Hash())
			delete(p.senderOf, dropped.Hash())
		}
		acct.items = acct.items[:cut]

		if len(acct.items) == 0 {
			delete(p.accounts, addr)
		}
	}
}

func transactionCost(tx *types.Transaction) *uint256.Int {
	gasPrice, overflow := uint256.FromBig(tx.GasPrice())
	if overflow {
		gasPrice = new(uint256.Int)
	}
	cost := new(uint256.Int).Mul(gasPrice, uint256.NewInt(tx.Gas()))
	if value, overflow := uint256.FromBig(tx.Value()); !overflow {
		cost.Add(cost, value)
	}
	return cost
}

// Pending returns, for each sender, the contiguous-from-current-nonce
// prefix of that sender's queued transactions — the set a block builder
// may draw from.
func (p *Pool) Pending() map[common.Address][]*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[common.Address][]*types.Transaction)
	for addr, acct := range p.accounts {
		info, _ := p.reader.Basic(addr)
		n := acct.readyPrefix(info.Nonce)
		if n == 0 {
			continue
		}
		txs := make([]*types.Transaction, n)
		copy(txs, acct.items[:n])
		result[addr] = txs
	}
	return result
}

// Get retrieves a transaction by hash.
func (p *Pool) Get(hash common.Hash) *types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byHash[hash]
}

// Count returns the total number of pooled transactions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash)
}

func isDynamicFeeTx(tx *types.Transaction) bool {
	return tx.Type() == types.DynamicFeeTxType
}

// EffectiveGasPrice returns the price a transaction actually pays per gas
// given baseFee: min(gasFeeCap, baseFee+tipCap) for dynamic-fee
// transactions, gasPrice otherwise.
func EffectiveGasPrice(tx *types.Transaction, baseFee *big.Int) *big.Int {
	if !isDynamicFeeTx(tx) || baseFee == nil {
		return tx.GasPrice()
	}
	tip := new(big.Int).Add(baseFee, tx.GasTipCap())
	if tip.Cmp(tx.GasFeeCap()) > 0 {
		return tx.GasFeeCap()
	}
	return tip
}

func hasPriceBump(oldTx, newTx *types.Transaction, baseFee *big.Int) bool {
	oldPrice := EffectiveGasPrice(oldTx, baseFee)
	newPrice := EffectiveGasPrice(newTx, baseFee)

	threshold := new(big.Int).Mul(oldPrice, big.NewInt(100+PriceBump))
	threshold.Div(threshold, big.NewInt(100))
	if newPrice.Cmp(threshold) < 0 {
		return false
	}
	if isDynamicFeeTx(oldTx) && isDynamicFeeTx(newTx) {
		tipThreshold := new(big.Int).Mul(oldTx.GasTipCap(), big.NewInt(100+PriceBump))
		tipThreshold.Div(tipThreshold, big.NewInt(100))
		if newTx.GasTipCap().Cmp(tipThreshold) < 0 {
			return false
		}
	}
	return true
}

// IntrinsicGas computes the minimum gas a transaction must offer.
func IntrinsicGas(data []byte, isContractCreation bool) uint64 {
	gas := uint64(21000)
	if isContractCreation {
		gas = 53000
	}
	if len(data) == 0 {
		return gas
	}
	var nz uint64
	for _, b := range data {
		if b != 0 {
			nz++
		}
	}
	z := uint64(len(data)) - nz
	gas += nz*16 + z*4
	return gas
}
