package segring

import (
	"fmt"
	"math"
)

// Kind names a family of hashes and the factory that builds them.
type Kind uint8

const (
	// KindDefault balances owned and primary owned segments with greedy
	// minimal-movement passes.
	KindDefault Kind = iota + 1
	// KindReplicated has every member own every segment; only the primary
	// owner rotates.
	KindReplicated
	// KindSync derives placement from a hash function's sort order, needing no
	// knowledge of previous placements.
	KindSync
	// KindTopologyAware is KindSync that also tries to spread each segment's
	// owners across sites, racks, and machines.
	KindTopologyAware
)

func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindReplicated:
		return "replicated"
	case KindSync:
		return "sync"
	case KindTopologyAware:
		return "topology-aware"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "default", "":
		return KindDefault, nil
	case "replicated":
		return KindReplicated, nil
	case "sync":
		return KindSync, nil
	case "topology-aware", "topologyaware":
		return KindTopologyAware, nil
	}
	return 0, configErrorf("unknown factory %q", s)
}

// Factory builds ConsistentHash values. Implementations are stateless and
// every method is a pure function of its arguments, so any two nodes calling
// the same method with the same arguments get equal results.
type Factory interface {
	Kind() Kind
	// Create builds a balanced hash from scratch. A nil capacityFactors means
	// every member has a capacity factor of 1, as does any member missing
	// from a non-nil map.
	Create(numOwners, numSegments int, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error)
	// UpdateMembers removes departed members and members whose capacity
	// factor dropped to 0 from every owner list, keeping all other owners,
	// and fills segments left short of owners. It doesn't rebalance. If
	// nothing changed base itself is returned.
	UpdateMembers(base *ConsistentHash, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error)
	// Rebalance returns a balanced hash for base's members, moving as few
	// owners as it can. If nothing would change base itself is returned.
	Rebalance(base *ConsistentHash) *ConsistentHash
	// Union returns a hash whose owner lists are a's owners followed by
	// whichever of b's owners a doesn't have.
	Union(a, b *ConsistentHash) (*ConsistentHash, error)
	ToPersistentState(ch *ConsistentHash, state *ScopedState) error
	FromPersistentState(state *ScopedState) (*ConsistentHash, error)
}

// NewFactory returns the factory for the kind given. The hash is used by the
// kinds that derive placement from a hash function; nil means DefaultHash.
func NewFactory(kind Kind, hash Hash) (Factory, error) {
	if hash == nil {
		hash = DefaultHash
	}
	switch kind {
	case KindDefault:
		return &DefaultFactory{Hash: hash}, nil
	case KindReplicated:
		return &ReplicatedFactory{}, nil
	case KindSync:
		return &SyncFactory{Hash: hash}, nil
	case KindTopologyAware:
		return &TopologyAwareSyncFactory{SyncFactory{Hash: hash}}, nil
	}
	return nil, configErrorf("unknown factory kind %d", kind)
}

func validateShape(numOwners, numSegments int) error {
	if numOwners < 1 {
		return configErrorf("the number of owners must be at least 1; it was %d", numOwners)
	}
	if numSegments < 1 {
		return configErrorf("the number of segments must be at least 1; it was %d", numSegments)
	}
	return nil
}

// validateMembers copies the member list and flattens the capacity factors
// into a slice parallel to it, nil if the map was nil. Unless allowNoCapacity,
// at least one member must have a capacity factor above 0.
func validateMembers(members []Address, capacityFactors map[Address]float32, allowNoCapacity bool) ([]Address, []float32, error) {
	if len(members) == 0 {
		return nil, nil, configErrorf("can't construct a consistent hash without any members")
	}
	if len(members) > MaxMembers {
		return nil, nil, configErrorf("too many members; %d > %d", len(members), MaxMembers)
	}
	seen := make(map[Address]bool, len(members))
	for _, m := range members {
		if m == nil {
			return nil, nil, configErrorf("nil member")
		}
		if seen[m] {
			return nil, nil, configErrorf("member %s listed more than once", m)
		}
		seen[m] = true
	}
	members = append([]Address(nil), members...)
	if capacityFactors == nil {
		return members, nil, nil
	}
	cfs := make([]float32, len(members))
	var total float64
	for i, m := range members {
		cf, ok := capacityFactors[m]
		if !ok {
			cf = 1
		}
		if cf < 0 || math.IsNaN(float64(cf)) || math.IsInf(float64(cf), 0) {
			return nil, nil, configErrorf("invalid capacity factor %v for member %s", cf, m)
		}
		cfs[i] = cf
		total += float64(cf)
	}
	if total == 0 && !allowNoCapacity {
		return nil, nil, configErrorf("there must be at least one member with a capacity factor above 0")
	}
	return members, cfs, nil
}

func sameMembers(a, b []Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameCapacityFactors(a, b []float32, count int) bool {
	for i := 0; i < count; i++ {
		x, y := float32(1), float32(1)
		if a != nil {
			x = a[i]
		}
		if b != nil {
			y = b[i]
		}
		if x != y {
			return false
		}
	}
	return true
}

// eligibleCount is the number of members with a capacity factor above 0.
func eligibleCount(memberCount int, capacityFactors []float32) int {
	if capacityFactors == nil {
		return memberCount
	}
	c := 0
	for _, cf := range capacityFactors {
		if cf > 0 {
			c++
		}
	}
	return c
}

func actualNumOwners(numOwners, memberCount int, capacityFactors []float32) int {
	if e := eligibleCount(memberCount, capacityFactors); e < numOwners {
		return e
	}
	return numOwners
}

func union(a, b *ConsistentHash) (*ConsistentHash, error) {
	if a.numSegments != b.numSegments {
		return nil, configErrorf("can't union hashes with %d and %d segments", a.numSegments, b.numSegments)
	}
	members := append([]Address(nil), a.members...)
	bToUnion := make([]NodeIndexType, len(b.members))
	for i, m := range b.members {
		if n, ok := a.memberIndex[m]; ok {
			bToUnion[i] = n
		} else {
			bToUnion[i] = NodeIndexType(len(members))
			members = append(members, m)
		}
	}
	if len(members) > MaxMembers {
		return nil, configErrorf("too many members in union; %d > %d", len(members), MaxMembers)
	}
	var capacityFactors []float32
	if a.capacityFactors != nil || b.capacityFactors != nil {
		capacityFactors = make([]float32, len(members))
		for i := range a.members {
			capacityFactors[i] = a.capacityFactorOf(NodeIndexType(i))
		}
		for i := range b.members {
			if n := bToUnion[i]; int(n) >= len(a.members) {
				capacityFactors[n] = b.capacityFactorOf(NodeIndexType(i))
			}
		}
	}
	numOwners := a.numOwners
	if b.numOwners > numOwners {
		numOwners = b.numOwners
	}
	segmentOwners := make([][]NodeIndexType, a.numSegments)
	for segment := range segmentOwners {
		owners := append([]NodeIndexType(nil), a.segmentOwners[segment]...)
		for _, n := range b.segmentOwners[segment] {
			if u := bToUnion[n]; !containsIndex(owners, u) {
				owners = append(owners, u)
			}
		}
		segmentOwners[segment] = owners
	}
	return newConsistentHash(a.kind, numOwners, members, capacityFactors, segmentOwners, a.hashFunction), nil
}
