// Package store provides the persistence sink behind the crawl engine: a
// narrow NodeRepository interface plus a goleveldb-backed implementation
// and an in-memory fake for tests.
package store

import "time"

// NodeRecord is what gets upserted for one probed (or previously known)
// endpoint.
type NodeRecord struct {
	IP              string
	Port            uint16
	Chain           string
	ProtocolVersion uint32
	UserAgent       string
	Services        uint64
	StartHeight     int32
	Classification  string
	LastSeen        time.Time
	Country         string
	ASNOrg          string
}

// NetworkSnapshotSummary is the coarse, idempotent summary recorded once
// per ~55-minute window.
type NetworkSnapshotSummary struct {
	Chain       string
	Timestamp   time.Time
	TotalNodes  int
	OnlineNodes int
	BlockHeight int32
}

// NodeRepository is the persistence sink contract the crawl engine depends
// on. The core never imports a database driver directly; it only ever
// talks to this shape.
type NodeRepository interface {
	// UpsertNode upserts by (ip, port, chain) and returns a stable
	// identifier, or "" if the write was skipped (e.g. no backing store
	// configured).
	UpsertNode(record NodeRecord) (nodeID string, err error)
	// AppendSnapshot records a point-in-time liveness sample for nodeID.
	AppendSnapshot(nodeID string, online bool, rttMS *float64, blockHeight *int32) error
	// SaveNetworkSnapshot idempotently records a coarse snapshot,
	// deduplicating within roughly a 55-minute window. A nil summary with
	// no error means a recent snapshot already exists.
	SaveNetworkSnapshot(chain string, totalNodes, onlineNodes int) (*NetworkSnapshotSummary, error)
	// PruneStale deletes nodes whose LastSeen predates the cutoff and
	// returns the count removed.
	PruneStale(chain string, olderThanHours int) (int, error)
}

var (
	_ NodeRepository = (*LevelDBStore)(nil)
	_ NodeRepository = (*MemoryStore)(nil)
)
