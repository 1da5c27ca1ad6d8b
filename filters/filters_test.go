package filters

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestMatchesAddressAndTopicAnd(t *testing.T) {
	addr := common.HexToAddress("0x1")
	topic0 := common.HexToHash("0xaa")
	topic1 := common.HexToHash("0xbb")

	l := &types.Log{Address: addr, Topics: []common.Hash{topic0, topic1}, BlockNumber: 5}

	criteria := Criteria{
		FromBlock: 0,
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{topic0}, {topic1}},
	}
	if !Matches(l, criteria) {
		t.Fatalf("expected log to match criteria")
	}

	wrongTopic := Criteria{Addresses: []common.Address{addr}, Topics: [][]common.Hash{{topic0}, {common.HexToHash("0xcc")}}}
	if Matches(l, wrongTopic) {
		t.Fatalf("expected mismatched second topic to reject")
	}
}

func TestMatchesWildcardTopicPosition(t *testing.T) {
	addr := common.HexToAddress("0x1")
	topic0 := common.HexToHash("0xaa")
	l := &types.Log{Address: addr, Topics: []common.Hash{topic0, common.HexToHash("0xff")}, BlockNumber: 5}

	criteria := Criteria{Topics: [][]common.Hash{nil, {common.HexToHash("0xff")}}}
	if !Matches(l, criteria) {
		t.Fatalf("expected nil topic position to act as a wildcard")
	}
}

func TestMatchesBlockRange(t *testing.T) {
	l := &types.Log{BlockNumber: 10}
	if Matches(l, Criteria{FromBlock: 11}) {
		t.Fatalf("expected block below FromBlock to reject")
	}
	if !Matches(l, Criteria{FromBlock: 5, ToBlock: 20}) {
		t.Fatalf("expected block within range to match")
	}
	if Matches(l, Criteria{FromBlock: 0, ToBlock: 9}) {
		t.Fatalf("expected block above ToBlock to reject")
	}
}

func TestSystemLogFilterLifecycle(t *testing.T) {
	s := NewSystem(DefaultConfig())
	addr := common.HexToAddress("0x1")

	id, err := s.NewLogFilter(Criteria{Addresses: []common.Address{addr}})
	if err != nil {
		t.Fatalf("new log filter: %v", err)
	}

	matching := &types.Log{Address: addr, BlockNumber: 1}
	other := &types.Log{Address: common.HexToAddress("0x2"), BlockNumber: 1}
	s.NotifyLog(matching)
	s.NotifyLog(other)

	changes, err := s.GetFilterChanges(id)
	if err != nil {
		t.Fatalf("get filter changes: %v", err)
	}
	logs := changes.([]*types.Log)
	if len(logs) != 1 || logs[0] != matching {
		t.Fatalf("expected exactly the matching log, got %v", logs)
	}

	// a second poll with nothing new drains to empty
	changes, err = s.GetFilterChanges(id)
	if err != nil {
		t.Fatalf("get filter changes: %v", err)
	}
	if len(changes.([]*types.Log)) != 0 {
		t.Fatalf("expected no new logs on second poll")
	}

	if !s.UninstallFilter(id) {
		t.Fatalf("expected filter to have existed")
	}
	if _, err := s.GetFilterChanges(id); err != ErrFilterNotFound {
		t.Fatalf("expected ErrFilterNotFound after uninstall, got %v", err)
	}
}

func TestSystemBlockFilter(t *testing.T) {
	s := NewSystem(DefaultConfig())
	id, err := s.NewBlockFilter()
	if err != nil {
		t.Fatalf("new block filter: %v", err)
	}

	h1 := common.HexToHash("0x1")
	h2 := common.HexToHash("0x2")
	s.NotifyBlock(h1)
	s.NotifyBlock(h2)

	changes, err := s.GetFilterChanges(id)
	if err != nil {
		t.Fatalf("get filter changes: %v", err)
	}
	hashes := changes.([]common.Hash)
	if len(hashes) != 2 || hashes[0] != h1 || hashes[1] != h2 {
		t.Fatalf("expected both block hashes in order, got %v", hashes)
	}
}

func TestSystemRejectsInvalidRange(t *testing.T) {
	s := NewSystem(DefaultConfig())
	if _, err := s.NewLogFilter(Criteria{FromBlock: 10, ToBlock: 5}); err != ErrInvalidRange {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestSystemEnforcesMaxFilters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFilters = 1
	s := NewSystem(cfg)

	if _, err := s.NewBlockFilter(); err != nil {
		t.Fatalf("first filter: %v", err)
	}
	if _, err := s.NewBlockFilter(); err != ErrTooManyFilters {
		t.Fatalf("expected ErrTooManyFilters, got %v", err)
	}
}

func TestPruneExpiredRemovesStaleFilters(t *testing.T) {
	s := NewSystem(DefaultConfig())
	id, _ := s.NewBlockFilter()
	s.filters[id].lastPoll = s.filters[id].lastPoll.Add(-time.Hour)

	s.PruneExpired()
	if s.Count() != 0 {
		t.Fatalf("expected expired filter to be pruned")
	}
}
