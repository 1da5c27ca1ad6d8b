// Package filters implements address/topic log filter matching and the
// install/poll/uninstall filter lifecycle: a filter registry with expiry,
// AND-across-positions/OR-within-position topic matching, and bloom
// pre-screening before exact matching, built against go-ethereum's own
// wire types.
package filters

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/NomicFoundation/hardhat-sub002/log"
)

var filterLog = log.Default().Module("filters")

var (
	ErrTooManyTopics  = errors.New("filters: too many topic positions")
	ErrInvalidRange   = errors.New("filters: fromBlock exceeds toBlock")
	ErrRangeTooLarge  = errors.New("filters: block range exceeds maximum")
	ErrFilterNotFound = errors.New("filters: filter not found")
	ErrWrongKind      = errors.New("filters: filter is not of the requested kind")
	ErrTooManyFilters = errors.New("filters: maximum number of active filters reached")
)

// Config bounds how large a filter's range may be, how many live at once,
// and how many logs accumulate per filter between polls. Block and
// pending-transaction hashes are not bounded.
type Config struct {
	MaxFilters    int
	MaxTopics     int
	MaxBlockRange uint64
	MaxLogsPerPoll int
	Timeout       time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxFilters:     100,
		MaxTopics:      4,
		MaxBlockRange:  10000,
		MaxLogsPerPoll: 10000,
		Timeout:        5 * time.Minute,
	}
}

// Criteria describes a log filter's matching rule: a block range, an
// OR-matched address set, and per-position OR-matched topic sets, ANDed
// across positions. A nil or empty Topics/Addresses position is a wildcard.
type Criteria struct {
	FromBlock uint64
	ToBlock   uint64 // 0 means "no upper bound"
	Addresses []common.Address
	Topics    [][]common.Hash
}

func (c Criteria) validate(cfg Config) error {
	if len(c.Topics) > cfg.MaxTopics {
		return ErrTooManyTopics
	}
	if c.ToBlock > 0 && c.FromBlock > c.ToBlock {
		return ErrInvalidRange
	}
	if c.ToBlock > 0 && c.ToBlock-c.FromBlock > cfg.MaxBlockRange {
		return ErrRangeTooLarge
	}
	return nil
}

// Matches reports whether log satisfies criteria: AND-across-positions,
// OR-within-position topic semantics and OR-across-addresses address
// semantics, the same rule go-ethereum's own filter system uses.
func Matches(l *types.Log, criteria Criteria) bool {
	if l.BlockNumber < criteria.FromBlock {
		return false
	}
	if criteria.ToBlock > 0 && l.BlockNumber > criteria.ToBlock {
		return false
	}
	if len(criteria.Addresses) > 0 {
		found := false
		for _, addr := range criteria.Addresses {
			if l.Address == addr {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, wanted := range criteria.Topics {
		if len(wanted) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		matched := false
		for _, t := range wanted {
			if l.Topics[i] == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// MatchesBloom reports whether bloom could possibly contain a log matching
// criteria; a false result proves no match, a true result requires an exact
// Matches check. Uses go-ethereum's own Bloom.Test instead of a
// reimplemented bit-index lookup.
func MatchesBloom(bloom types.Bloom, criteria Criteria) bool {
	if len(criteria.Addresses) > 0 {
		found := false
		for _, addr := range criteria.Addresses {
			if bloom.Test(addr.Bytes()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, wanted := range criteria.Topics {
		if len(wanted) == 0 {
			continue
		}
		found := false
		for _, t := range wanted {
			if bloom.Test(t.Bytes()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// FilterLogs applies criteria against logs directly, without bloom
// pre-screening.
func FilterLogs(logs []*types.Log, criteria Criteria) []*types.Log {
	var result []*types.Log
	for _, l := range logs {
		if Matches(l, criteria) {
			result = append(result, l)
		}
	}
	return result
}

// FilterLogsWithBloom only scans logs after confirming bloom could contain a
// match, letting a caller skip whole blocks whose header bloom rules a
// filter out entirely.
func FilterLogsWithBloom(bloom types.Bloom, logs []*types.Log, criteria Criteria) []*types.Log {
	if !MatchesBloom(bloom, criteria) {
		return nil
	}
	return FilterLogs(logs, criteria)
}

type filterKind int

const (
	kindLog filterKind = iota
	kindBlock
	kindPendingTransaction
)

type installedFilter struct {
	kind      filterKind
	criteria  Criteria
	createdAt time.Time
	lastPoll  time.Time

	// accumulated since the last poll
	logs            []*types.Log
	blockHashes     []common.Hash
	pendingTxHashes []common.Hash
}

// System is the installed-filter registry backing the create/get-changes/
// get-logs/uninstall filter lifecycle: a kind-tagged entry map, expiry by
// last poll, and keccak-derived filter IDs.
type System struct {
	mu      sync.RWMutex
	config  Config
	filters map[common.Hash]*installedFilter
	nextSeq uint64
}

// NewSystem creates an empty filter registry.
func NewSystem(config Config) *System {
	return &System{config: config, filters: make(map[common.Hash]*installedFilter)}
}

func (s *System) nextID() common.Hash {
	s.nextSeq++
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], s.nextSeq)
	binary.BigEndian.PutUint64(buf[8:], uint64(len(s.filters)))
	return crypto.Keccak256Hash(buf[:])
}

// NewLogFilter installs a log filter matching criteria and returns its ID.
func (s *System) NewLogFilter(criteria Criteria) (common.Hash, error) {
	if err := criteria.validate(s.config); err != nil {
		return common.Hash{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.filters) >= s.config.MaxFilters {
		return common.Hash{}, ErrTooManyFilters
	}
	id := s.nextID()
	now := time.Now()
	s.filters[id] = &installedFilter{kind: kindLog, criteria: criteria, createdAt: now, lastPoll: now}
	return id, nil
}

// NewBlockFilter installs a filter that accumulates new block hashes.
func (s *System) NewBlockFilter() (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.filters) >= s.config.MaxFilters {
		return common.Hash{}, ErrTooManyFilters
	}
	id := s.nextID()
	now := time.Now()
	s.filters[id] = &installedFilter{kind: kindBlock, createdAt: now, lastPoll: now}
	return id, nil
}

// NewPendingTransactionFilter installs a filter that accumulates hashes of
// transactions newly admitted to the mempool.
func (s *System) NewPendingTransactionFilter() (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.filters) >= s.config.MaxFilters {
		return common.Hash{}, ErrTooManyFilters
	}
	id := s.nextID()
	now := time.Now()
	s.filters[id] = &installedFilter{kind: kindPendingTransaction, createdAt: now, lastPoll: now}
	return id, nil
}

// NotifyLog delivers a log to every installed log filter whose criteria it
// matches, bounded by MaxLogsPerPoll per filter.
func (s *System) NotifyLog(l *types.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.filters {
		if f.kind != kindLog {
			continue
		}
		if !Matches(l, f.criteria) {
			continue
		}
		if len(f.logs) >= s.config.MaxLogsPerPoll {
			continue
		}
		f.logs = append(f.logs, l)
	}
}

// NotifyBlock delivers a new block hash to every installed block filter.
func (s *System) NotifyBlock(hash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.filters {
		if f.kind == kindBlock {
			f.blockHashes = append(f.blockHashes, hash)
		}
	}
}

// NotifyPendingTransaction delivers a newly pooled transaction hash to every
// installed pending-transaction filter.
func (s *System) NotifyPendingTransaction(hash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.filters {
		if f.kind == kindPendingTransaction {
			f.pendingTxHashes = append(f.pendingTxHashes, hash)
		}
	}
}

// GetFilterChanges drains and returns whatever has accumulated for id since
// the last poll: []*types.Log for a log filter, []common.Hash for a block
// or pending-transaction filter.
func (s *System) GetFilterChanges(id common.Hash) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filters[id]
	if !ok {
		return nil, ErrFilterNotFound
	}
	f.lastPoll = time.Now()
	switch f.kind {
	case kindLog:
		logs := f.logs
		f.logs = nil
		return logs, nil
	case kindBlock:
		hashes := f.blockHashes
		f.blockHashes = nil
		return hashes, nil
	default:
		hashes := f.pendingTxHashes
		f.pendingTxHashes = nil
		return hashes, nil
	}
}

// GetFilterLogs returns the logs a log filter has accumulated since its
// last GetFilterChanges poll, without clearing them. Logs already returned
// by GetFilterChanges are not included.
func (s *System) GetFilterLogs(id common.Hash) ([]*types.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.filters[id]
	if !ok {
		return nil, ErrFilterNotFound
	}
	if f.kind != kindLog {
		return nil, ErrWrongKind
	}
	out := make([]*types.Log, len(f.logs))
	copy(out, f.logs)
	return out, nil
}

// UninstallFilter removes a filter, reporting whether it existed.
func (s *System) UninstallFilter(id common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.filters[id]
	delete(s.filters, id)
	return ok
}

// PruneExpired removes every filter not polled within Config.Timeout.
func (s *System) PruneExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, f := range s.filters {
		if now.Sub(f.lastPoll) > s.config.Timeout {
			delete(s.filters, id)
			filterLog.Debug("pruned expired filter", "id", id)
		}
	}
}

// Count returns the number of currently installed filters.
func (s *System) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filters)
}
