package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertNodeIsKeyedByIPPortChain(t *testing.T) {
	s := NewMemoryStore()
	id1, err := s.UpsertNode(NodeRecord{IP: "1.2.3.4", Port: 8333, Chain: "BTC"})
	require.NoError(t, err)
	id2, err := s.UpsertNode(NodeRecord{IP: "1.2.3.4", Port: 8333, Chain: "BTC", UserAgent: "/updated/"})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, s.NodeCount())
}

func TestSaveNetworkSnapshotDeduplicatesWithinWindow(t *testing.T) {
	s := NewMemoryStore()
	first, err := s.SaveNetworkSnapshot("BTC", 100, 80)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.SaveNetworkSnapshot("BTC", 101, 81)
	require.NoError(t, err)
	assert.Nil(t, second, "within the dedup window, a second snapshot should be skipped")
}

func TestPruneStaleRemovesOnlyMatchingChainAndAge(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.UpsertNode(NodeRecord{IP: "1.2.3.4", Port: 8333, Chain: "BTC"})
	require.NoError(t, err)
	_, err = s.UpsertNode(NodeRecord{IP: "5.6.7.8", Port: 8333, Chain: "LTC"})
	require.NoError(t, err)

	// Neither node is actually stale yet (LastSeen = now), so a -1-hour
	// cutoff (one hour in the future) makes both old enough, but the chain
	// filter removes only the BTC one.
	n, err := s.PruneStale("BTC", -1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.NodeCount())
}

func TestAppendSnapshotRequiresKnownNode(t *testing.T) {
	s := NewMemoryStore()
	err := s.AppendSnapshot("unknown", true, nil, nil)
	assert.Error(t, err)
}
