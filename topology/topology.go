// Package topology tracks the hashes a cache moves through as members join
// and leave: the current hash, the pending hash a rebalance is moving toward,
// and the union of the two that writes go to while data is transferred.
package topology

import (
	"fmt"

	"github.com/gholt/segring"
)

// Phase is where a topology is in the rebalance cycle.
type Phase int

const (
	// NoRebalance means Current is the only hash.
	NoRebalance Phase = iota
	// ReadOldWriteAll means a rebalance is transferring data: reads go to
	// Current owners and writes go to the Union owners.
	ReadOldWriteAll
)

func (p Phase) String() string {
	switch p {
	case NoRebalance:
		return "NO_REBALANCE"
	case ReadOldWriteAll:
		return "READ_OLD_WRITE_ALL"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// CacheTopology is an immutable snapshot; the Manager swaps in a new one for
// every change.
type CacheTopology struct {
	// TopologyID increases with every change to the topology.
	TopologyID int
	// RebalanceID increases with every rebalance started.
	RebalanceID int
	// ViewID is the membership view the members came from.
	ViewID  int64
	Phase   Phase
	Members []segring.Address
	Current *segring.ConsistentHash
	// Pending and Union are nil unless Phase is ReadOldWriteAll.
	Pending *segring.ConsistentHash
	Union   *segring.ConsistentHash
}

// ReadHash is the hash reads should be routed by.
func (t *CacheTopology) ReadHash() *segring.ConsistentHash {
	return t.Current
}

// WriteHash is the hash writes should be routed by; during a rebalance every
// owner of either the current or pending hash gets the write.
func (t *CacheTopology) WriteHash() *segring.ConsistentHash {
	if t.Union != nil {
		return t.Union
	}
	return t.Current
}

func (t *CacheTopology) String() string {
	return fmt.Sprintf("CacheTopology{id=%d, rebalanceId=%d, viewId=%d, phase=%s, members=%d}", t.TopologyID, t.RebalanceID, t.ViewID, t.Phase, len(t.Members))
}
