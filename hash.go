package segring

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// ConsistentHash maps each segment to an ordered list of owners, the first
// being the primary owner. It is immutable; every change made through a
// Factory returns a new ConsistentHash and leaves the old one usable.
type ConsistentHash struct {
	kind         Kind
	numOwners    int
	numSegments  int
	members      []Address
	memberIndex  map[Address]NodeIndexType
	hashFunction string
	// capacityFactors is nil when every member has the default of 1.
	capacityFactors []float32
	// segmentOwners[segment] holds indexes into members.
	segmentOwners [][]NodeIndexType

	ownerSegmentsOnce sync.Once
	ownerSegments     [][]int
	primarySegments   [][]int
}

// newConsistentHash takes ownership of the slices given.
func newConsistentHash(kind Kind, numOwners int, members []Address, capacityFactors []float32, segmentOwners [][]NodeIndexType, hashFunction string) *ConsistentHash {
	ch := &ConsistentHash{
		kind:            kind,
		numOwners:       numOwners,
		numSegments:     len(segmentOwners),
		members:         members,
		memberIndex:     make(map[Address]NodeIndexType, len(members)),
		hashFunction:    hashFunction,
		capacityFactors: capacityFactors,
		segmentOwners:   segmentOwners,
	}
	for i, m := range members {
		ch.memberIndex[m] = NodeIndexType(i)
	}
	return ch
}

func (ch *ConsistentHash) Kind() Kind {
	return ch.kind
}

func (ch *ConsistentHash) NumOwners() int {
	return ch.numOwners
}

func (ch *ConsistentHash) NumSegments() int {
	return ch.numSegments
}

// HashFunction is the name of the hash function used to derive placement, if
// the kind of hash uses one.
func (ch *ConsistentHash) HashFunction() string {
	return ch.hashFunction
}

// Members returns a copy of the ordered member list.
func (ch *ConsistentHash) Members() []Address {
	return append([]Address(nil), ch.members...)
}

// IsMember reports whether the address is one of the hash's members.
func (ch *ConsistentHash) IsMember(a Address) bool {
	_, ok := ch.memberIndex[a]
	return ok
}

// LocateOwnersForSegment returns the owners of the segment, primary first.
// The list is empty only when no member has any capacity. It panics if the
// segment isn't in [0, NumSegments()).
func (ch *ConsistentHash) LocateOwnersForSegment(segment int) []Address {
	if segment < 0 || segment >= ch.numSegments {
		panic(fmt.Sprintf("segment %d out of range [0, %d)", segment, ch.numSegments))
	}
	owners := ch.segmentOwners[segment]
	rv := make([]Address, len(owners))
	for i, n := range owners {
		rv[i] = ch.members[n]
	}
	return rv
}

// PrimaryOwner returns the first owner of the segment or a *NoOwnerError. A
// segment out of range is a *ConfigurationError.
func (ch *ConsistentHash) PrimaryOwner(segment int) (Address, error) {
	if segment < 0 || segment >= ch.numSegments {
		return nil, configErrorf("segment %d out of range [0, %d)", segment, ch.numSegments)
	}
	owners := ch.segmentOwners[segment]
	if len(owners) == 0 {
		return nil, &NoOwnerError{Segment: segment}
	}
	return ch.members[owners[0]], nil
}

// IsSegmentOwner reports whether the address owns the segment; nobody owns
// a segment out of range.
func (ch *ConsistentHash) IsSegmentOwner(a Address, segment int) bool {
	n, ok := ch.memberIndex[a]
	if !ok || segment < 0 || segment >= ch.numSegments {
		return false
	}
	return containsIndex(ch.segmentOwners[segment], n)
}

func (ch *ConsistentHash) fillOwnerSegments() {
	ch.ownerSegmentsOnce.Do(func() {
		ch.ownerSegments = make([][]int, len(ch.members))
		ch.primarySegments = make([][]int, len(ch.members))
		for segment, owners := range ch.segmentOwners {
			for i, n := range owners {
				ch.ownerSegments[n] = append(ch.ownerSegments[n], segment)
				if i == 0 {
					ch.primarySegments[n] = append(ch.primarySegments[n], segment)
				}
			}
		}
	})
}

// SegmentsForOwner returns the segments the address owns, in ascending order.
// The inverse index is built on first use and shared afterwards, so callers
// must not modify the returned slice.
func (ch *ConsistentHash) SegmentsForOwner(a Address) []int {
	n, ok := ch.memberIndex[a]
	if !ok {
		return nil
	}
	ch.fillOwnerSegments()
	return ch.ownerSegments[n]
}

// PrimarySegmentsForOwner is like SegmentsForOwner but only includes the
// segments where the address is the primary owner.
func (ch *ConsistentHash) PrimarySegmentsForOwner(a Address) []int {
	n, ok := ch.memberIndex[a]
	if !ok {
		return nil
	}
	ch.fillOwnerSegments()
	return ch.primarySegments[n]
}

// CapacityFactors returns a new map of every member's capacity factor, or nil
// if all members have the default capacity factor of 1.
func (ch *ConsistentHash) CapacityFactors() map[Address]float32 {
	if ch.capacityFactors == nil {
		return nil
	}
	rv := make(map[Address]float32, len(ch.members))
	for i, m := range ch.members {
		rv[m] = ch.capacityFactors[i]
	}
	return rv
}

// CapacityFactor returns the member's capacity factor or 0 for non-members.
func (ch *ConsistentHash) CapacityFactor(a Address) float32 {
	n, ok := ch.memberIndex[a]
	if !ok {
		return 0
	}
	return ch.capacityFactorOf(n)
}

func (ch *ConsistentHash) capacityFactorOf(n NodeIndexType) float32 {
	if ch.capacityFactors == nil {
		return 1
	}
	return ch.capacityFactors[n]
}

// RemapAddresses returns a copy of the hash with every member replaced by
// what remap returns for it. If remap has no replacement for a member an
// *UnmappableMemberError is returned.
func (ch *ConsistentHash) RemapAddresses(remap func(Address) (Address, bool)) (*ConsistentHash, error) {
	members := make([]Address, len(ch.members))
	seen := make(map[Address]bool, len(ch.members))
	for i, m := range ch.members {
		r, ok := remap(m)
		if !ok || r == nil {
			return nil, &UnmappableMemberError{Member: m}
		}
		if seen[r] {
			return nil, configErrorf("members %s map to the same address %s", m, r)
		}
		seen[r] = true
		members[i] = r
	}
	var capacityFactors []float32
	if ch.capacityFactors != nil {
		capacityFactors = append([]float32(nil), ch.capacityFactors...)
	}
	return newConsistentHash(ch.kind, ch.numOwners, members, capacityFactors, copyOwners(ch.segmentOwners), ch.hashFunction), nil
}

// Equal reports whether the two hashes have the same segment count, owner
// count, members, capacity factors, and owner lists. Member order doesn't
// matter.
func (ch *ConsistentHash) Equal(other *ConsistentHash) bool {
	if ch == other {
		return true
	}
	if ch == nil || other == nil {
		return false
	}
	if ch.numSegments != other.numSegments || ch.numOwners != other.numOwners || len(ch.members) != len(other.members) {
		return false
	}
	otherIndex := make([]NodeIndexType, len(ch.members))
	for i, m := range ch.members {
		n, ok := other.memberIndex[m]
		if !ok {
			return false
		}
		if ch.capacityFactorOf(NodeIndexType(i)) != other.capacityFactorOf(n) {
			return false
		}
		otherIndex[i] = n
	}
	for segment, owners := range ch.segmentOwners {
		otherOwners := other.segmentOwners[segment]
		if len(owners) != len(otherOwners) {
			return false
		}
		for i, n := range owners {
			if otherIndex[n] != otherOwners[i] {
				return false
			}
		}
	}
	return true
}

// Verify checks the structural rules every hash produced by a Factory
// follows. A non-nil error means a bug in whatever built the hash.
func (ch *ConsistentHash) Verify() error {
	if ch.numSegments < 1 || ch.numSegments != len(ch.segmentOwners) {
		return fmt.Errorf("segment count %d does not match owner table length %d", ch.numSegments, len(ch.segmentOwners))
	}
	if ch.capacityFactors != nil && len(ch.capacityFactors) != len(ch.members) {
		return fmt.Errorf("%d capacity factors for %d members", len(ch.capacityFactors), len(ch.members))
	}
	eligible := 0
	for i := range ch.members {
		if ch.capacityFactorOf(NodeIndexType(i)) > 0 {
			eligible++
		}
	}
	for segment, owners := range ch.segmentOwners {
		if len(owners) == 0 && eligible > 0 {
			return fmt.Errorf("segment %d has no owners but %d members have capacity", segment, eligible)
		}
		for i, n := range owners {
			if int(n) >= len(ch.members) {
				return fmt.Errorf("segment %d owner %d is not a member", segment, n)
			}
			if ch.capacityFactorOf(n) == 0 {
				return fmt.Errorf("segment %d owner %s has a capacity factor of 0", segment, ch.members[n])
			}
			if containsIndex(owners[:i], n) {
				return fmt.Errorf("segment %d lists owner %s more than once", segment, ch.members[n])
			}
		}
	}
	return nil
}

func (ch *ConsistentHash) String() string {
	var buf bytes.Buffer
	stats := NewOwnershipStatistics(ch)
	fmt.Fprintf(&buf, "%s ConsistentHash{numSegments=%d, numOwners=%d, members=[", ch.kind, ch.numSegments, ch.numOwners)
	order := make([]int, len(ch.members))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return ch.members[order[i]].String() < ch.members[order[j]].String() })
	for i, n := range order {
		if i > 0 {
			buf.WriteString(", ")
		}
		m := ch.members[n]
		fmt.Fprintf(&buf, "%s: %d+%d", m, stats.PrimaryOwned(m), stats.Owned(m)-stats.PrimaryOwned(m))
	}
	buf.WriteString("]}")
	return buf.String()
}

func containsIndex(owners []NodeIndexType, n NodeIndexType) bool {
	for _, o := range owners {
		if o == n {
			return true
		}
	}
	return false
}

func copyOwners(segmentOwners [][]NodeIndexType) [][]NodeIndexType {
	rv := make([][]NodeIndexType, len(segmentOwners))
	for segment, owners := range segmentOwners {
		rv[segment] = append([]NodeIndexType(nil), owners...)
	}
	return rv
}
