package segring

import (
	"math"
	"sort"
	"strconv"
)

const defaultVirtualNodes = 40

// DefaultFactory builds hashes that keep explicit owner lists per segment and
// balance both owned and primary owned segments to within about one segment
// of each member's share, moving as few owners as possible when rebalancing.
type DefaultFactory struct {
	// Hash places the virtual nodes of the initial hash wheel. Nil means
	// DefaultHash.
	Hash Hash
	// VirtualNodes is the number of wheel points per owner for a member with
	// the largest capacity factor. Less than 1 means 40.
	VirtualNodes int
}

func (f *DefaultFactory) Kind() Kind {
	return KindDefault
}

func (f *DefaultFactory) hash() Hash {
	if f.Hash == nil {
		return DefaultHash
	}
	return f.Hash
}

// Create places owners by walking a hash wheel of weighted virtual nodes and
// then balances the result.
func (f *DefaultFactory) Create(numOwners, numSegments int, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error) {
	if err := validateShape(numOwners, numSegments); err != nil {
		return nil, err
	}
	members, cfs, err := validateMembers(members, capacityFactors, false)
	if err != nil {
		return nil, err
	}
	b := newBuilder(numOwners, numSegments, members, cfs)
	f.placeOnWheel(b)
	newRebalancer(b).rebalance()
	return b.build(KindDefault, f.hash().Name()), nil
}

type wheelPoint struct {
	position uint64
	node     NodeIndexType
}

func (f *DefaultFactory) placeOnWheel(b *builder) {
	if b.actualNumOwners == 0 {
		return
	}
	virtualNodes := f.VirtualNodes
	if virtualNodes < 1 {
		virtualNodes = defaultVirtualNodes
	}
	var maxCapacity float32
	for n := range b.members {
		if cf := b.capacityFactor(NodeIndexType(n)); cf > maxCapacity {
			maxCapacity = cf
		}
	}
	hash := f.hash()
	var points []wheelPoint
	for n, m := range b.members {
		cf := b.capacityFactor(NodeIndexType(n))
		if cf == 0 {
			continue
		}
		count := int(math.Ceil(float64(cf/maxCapacity) * float64(virtualNodes*b.numOwners)))
		name := m.String()
		for i := 0; i < count; i++ {
			points = append(points, wheelPoint{
				position: hash.Hash64([]byte(name + "#" + strconv.Itoa(i))),
				node:     NodeIndexType(n),
			})
		}
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].position != points[j].position {
			return points[i].position < points[j].position
		}
		return b.members[points[i].node].String() < b.members[points[j].node].String()
	})
	step := math.MaxUint64 / uint64(b.numSegments())
	for segment := range b.segmentOwners {
		position := uint64(segment) * step
		start := sort.Search(len(points), func(i int) bool { return points[i].position >= position })
		for i := 0; i < len(points) && len(b.segmentOwners[segment]) < b.actualNumOwners; i++ {
			b.addOwner(segment, points[(start+i)%len(points)].node)
		}
	}
}

// UpdateMembers keeps every surviving owner. Segments left short of owners
// get the owners a rebalance of the survivors would give them, topped up with
// the least loaded members if that isn't enough.
func (f *DefaultFactory) UpdateMembers(base *ConsistentHash, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error) {
	members, cfs, err := validateMembers(members, capacityFactors, true)
	if err != nil {
		return nil, err
	}
	if sameMembers(members, base.members) && sameCapacityFactors(cfs, base.capacityFactors, len(members)) {
		return base, nil
	}
	b := newBuilderFrom(base, members, cfs)
	var balanced *builder
	var rb *rebalancer
	for segment := range b.segmentOwners {
		if len(b.segmentOwners[segment]) >= b.actualNumOwners {
			continue
		}
		if balanced == nil {
			balanced = b.clone()
			newRebalancer(balanced).rebalance()
			rb = newRebalancer(b)
		}
		for _, n := range balanced.segmentOwners[segment] {
			if len(b.segmentOwners[segment]) >= b.actualNumOwners {
				break
			}
			b.addOwner(segment, n)
		}
		for len(b.segmentOwners[segment]) < b.actualNumOwners {
			n := rb.findNewBackupOwner(b.segmentOwners[segment], NodeIndexNil)
			if n == NodeIndexNil {
				break
			}
			b.addOwner(segment, n)
		}
	}
	return b.build(KindDefault, f.hash().Name()), nil
}

func (f *DefaultFactory) Rebalance(base *ConsistentHash) *ConsistentHash {
	b := newBuilderFrom(base, base.members, base.capacityFactors)
	newRebalancer(b).rebalance()
	ch := b.build(KindDefault, base.hashFunction)
	if ch.Equal(base) {
		return base
	}
	return ch
}

func (f *DefaultFactory) Union(a, b *ConsistentHash) (*ConsistentHash, error) {
	return union(a, b)
}

func (f *DefaultFactory) ToPersistentState(ch *ConsistentHash, state *ScopedState) error {
	return toPersistentState(ch, state)
}

func (f *DefaultFactory) FromPersistentState(state *ScopedState) (*ConsistentHash, error) {
	return fromPersistentState(KindDefault, state)
}
