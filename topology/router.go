package topology

import (
	"fmt"

	"github.com/gholt/segring"
	"github.com/gholt/segring/partition"
)

// Router answers which members a key's reads and writes go to, following
// the manager's latest topology.
type Router struct {
	partitioner partition.KeyPartitioner
	manager     *Manager
}

func NewRouter(partitioner partition.KeyPartitioner, manager *Manager) (*Router, error) {
	if partitioner.NumSegments() != manager.numSegments {
		return nil, &segring.ConfigurationError{Msg: fmt.Sprintf("partitioner has %d segments but the hash has %d", partitioner.NumSegments(), manager.numSegments)}
	}
	return &Router{partitioner: partitioner, manager: manager}, nil
}

func (r *Router) Segment(key []byte) int {
	return r.partitioner.Segment(key)
}

// ReadOwners returns the owners to read the key from, primary first.
func (r *Router) ReadOwners(key []byte) ([]segring.Address, error) {
	t := r.manager.Topology()
	if t == nil {
		return nil, ErrNoTopology
	}
	return t.ReadHash().LocateOwnersForSegment(r.partitioner.Segment(key)), nil
}

// WriteOwners returns the owners to write the key to; while a rebalance is
// in progress that includes the key's pending owners.
func (r *Router) WriteOwners(key []byte) ([]segring.Address, error) {
	t := r.manager.Topology()
	if t == nil {
		return nil, ErrNoTopology
	}
	return t.WriteHash().LocateOwnersForSegment(r.partitioner.Segment(key)), nil
}

// Primary returns the primary owner of the key.
func (r *Router) Primary(key []byte) (segring.Address, error) {
	t := r.manager.Topology()
	if t == nil {
		return nil, ErrNoTopology
	}
	return t.ReadHash().PrimaryOwner(r.partitioner.Segment(key))
}

// IsLocal reports whether self should hold a copy of the key.
func (r *Router) IsLocal(self segring.Address, key []byte) bool {
	t := r.manager.Topology()
	if t == nil {
		return false
	}
	return t.WriteHash().IsSegmentOwner(self, r.partitioner.Segment(key))
}
