package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// key prefixes partition the single leveldb keyspace the way the teacher's
// blockchain storage layer partitions its own: a one-byte (here,
// short-string) prefix per logical table.
const (
	prefixNode     = "node:"
	prefixSnapshot = "snap:"
	prefixNetSnap  = "netsnap:"
)

// snapshotDedupWindow is how long SaveNetworkSnapshot treats an existing
// snapshot as still current, matching the source system's automatic
// deduplication.
const snapshotDedupWindow = 55 * time.Minute

// LevelDBStore is a NodeRepository backed by a single embedded goleveldb
// database; every key carries the chain name, so several chains can share
// one database.
type LevelDBStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// NewLevelDBStore opens (or creates) the leveldb database at path. The
// database is closed automatically when ctx is cancelled.
func NewLevelDBStore(ctx context.Context, path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	s := &LevelDBStore{db: db}
	go func() {
		<-ctx.Done()
		db.Close()
	}()
	return s, nil
}

func nodeKey(chain, ip string, port uint16) string {
	return fmt.Sprintf("%s%s:%s:%d", prefixNode, chain, ip, port)
}

// UpsertNode implements NodeRepository.
func (s *LevelDBStore) UpsertNode(record NodeRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.LastSeen = time.Now().UTC()
	id := nodeKey(record.Chain, record.IP, record.Port)

	buf, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	if err := s.db.Put([]byte(id), buf, nil); err != nil {
		return "", err
	}
	return id, nil
}

// AppendSnapshot implements NodeRepository.
func (s *LevelDBStore) AppendSnapshot(nodeID string, online bool, rttMS *float64, blockHeight *int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type snapshot struct {
		NodeID      string
		Online      bool
		RTTMS       *float64
		BlockHeight *int32
		Timestamp   time.Time
	}
	snap := snapshot{NodeID: nodeID, Online: online, RTTMS: rttMS, BlockHeight: blockHeight, Timestamp: time.Now().UTC()}
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%s:%d", prefixSnapshot, nodeID, snap.Timestamp.UnixNano())
	return s.db.Put([]byte(key), buf, nil)
}

// SaveNetworkSnapshot implements NodeRepository, deduplicating within
// snapshotDedupWindow by checking the most recently written per-chain
// marker before writing a new one.
func (s *LevelDBStore) SaveNetworkSnapshot(chain string, totalNodes, onlineNodes int) (*NetworkSnapshotSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	markerKey := []byte(prefixNetSnap + chain + ":last")
	if raw, err := s.db.Get(markerKey, nil); err == nil {
		var last NetworkSnapshotSummary
		if jsonErr := json.Unmarshal(raw, &last); jsonErr == nil {
			if time.Since(last.Timestamp) < snapshotDedupWindow {
				return nil, nil
			}
		}
	} else if err != leveldb.ErrNotFound {
		return nil, err
	}

	summary := &NetworkSnapshotSummary{
		Chain:       chain,
		Timestamp:   time.Now().UTC(),
		TotalNodes:  totalNodes,
		OnlineNodes: onlineNodes,
	}
	buf, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	if err := s.db.Put(markerKey, buf, nil); err != nil {
		return nil, err
	}
	historyKey := fmt.Sprintf("%s%s:%d", prefixNetSnap, chain, summary.Timestamp.UnixNano())
	if err := s.db.Put([]byte(historyKey), buf, nil); err != nil {
		return nil, err
	}
	return summary, nil
}

// PruneStale implements NodeRepository by scanning every node keyed under
// this chain and deleting those whose LastSeen predates the cutoff.
func (s *LevelDBStore) PruneStale(chain string, olderThanHours int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-time.Duration(olderThanHours) * time.Hour)
	prefix := []byte(prefixNode + chain + ":")

	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var toDelete [][]byte
	for iter.Next() {
		var rec NodeRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if rec.LastSeen.Before(cutoff) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			toDelete = append(toDelete, key)
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}

	batch := new(leveldb.Batch)
	for _, k := range toDelete {
		batch.Delete(k)
	}
	if len(toDelete) > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}
