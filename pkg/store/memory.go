package store

import (
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory NodeRepository fake for tests and for
// running the crawler with persistence disabled.
type MemoryStore struct {
	mu        sync.Mutex
	nodes     map[string]NodeRecord
	snapshots int
	lastNet   map[string]NetworkSnapshotSummary
	netHist   []NetworkSnapshotSummary
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:   make(map[string]NodeRecord),
		lastNet: make(map[string]NetworkSnapshotSummary),
	}
}

func (s *MemoryStore) UpsertNode(record NodeRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.LastSeen = time.Now().UTC()
	id := nodeKey(record.Chain, record.IP, record.Port)
	s.nodes[id] = record
	return id, nil
}

func (s *MemoryStore) AppendSnapshot(nodeID string, online bool, rttMS *float64, blockHeight *int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[nodeID]; !ok {
		return fmt.Errorf("store: unknown node %q", nodeID)
	}
	s.snapshots++
	return nil
}

func (s *MemoryStore) SaveNetworkSnapshot(chain string, totalNodes, onlineNodes int) (*NetworkSnapshotSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastNet[chain]; ok && time.Since(last.Timestamp) < snapshotDedupWindow {
		return nil, nil
	}
	summary := NetworkSnapshotSummary{Chain: chain, Timestamp: time.Now().UTC(), TotalNodes: totalNodes, OnlineNodes: onlineNodes}
	s.lastNet[chain] = summary
	s.netHist = append(s.netHist, summary)
	return &summary, nil
}

func (s *MemoryStore) PruneStale(chain string, olderThanHours int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-time.Duration(olderThanHours) * time.Hour)
	n := 0
	for id, rec := range s.nodes {
		if rec.Chain == chain && rec.LastSeen.Before(cutoff) {
			delete(s.nodes, id)
			n++
		}
	}
	return n, nil
}

// NodeCount returns the number of nodes currently tracked, for tests.
func (s *MemoryStore) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// SnapshotCount returns the number of AppendSnapshot calls recorded, for
// tests.
func (s *MemoryStore) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots
}
