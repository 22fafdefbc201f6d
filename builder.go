package segring

// builder is a mutable working copy of a hash's owner table along with the
// ownership counts for it. Factories build one, adjust it, and then freeze it
// into a ConsistentHash with build.
type builder struct {
	numOwners       int
	actualNumOwners int
	members         []Address
	memberIndex     map[Address]NodeIndexType
	// capacityFactors is nil when every member has the default of 1.
	capacityFactors []float32
	segmentOwners   [][]NodeIndexType
	stats           *OwnershipStatistics
}

func newBuilder(numOwners, numSegments int, members []Address, capacityFactors []float32) *builder {
	b := &builder{
		numOwners:       numOwners,
		actualNumOwners: actualNumOwners(numOwners, len(members), capacityFactors),
		members:         members,
		memberIndex:     make(map[Address]NodeIndexType, len(members)),
		capacityFactors: capacityFactors,
		segmentOwners:   make([][]NodeIndexType, numSegments),
	}
	for i, m := range members {
		b.memberIndex[m] = NodeIndexType(i)
	}
	for segment := range b.segmentOwners {
		b.segmentOwners[segment] = make([]NodeIndexType, 0, b.actualNumOwners+1)
	}
	b.stats = newOwnershipStatistics(b.memberIndex, len(members))
	return b
}

// newBuilderFrom starts with base's owners, keeping only those that are in
// members and have a capacity factor above 0.
func newBuilderFrom(base *ConsistentHash, members []Address, capacityFactors []float32) *builder {
	b := newBuilder(base.numOwners, base.numSegments, members, capacityFactors)
	baseToNew := make([]NodeIndexType, len(base.members))
	for i, m := range base.members {
		baseToNew[i] = NodeIndexNil
		if n, ok := b.memberIndex[m]; ok && b.capacityFactor(n) > 0 {
			baseToNew[i] = n
		}
	}
	for segment, owners := range base.segmentOwners {
		for _, o := range owners {
			if n := baseToNew[o]; n != NodeIndexNil {
				b.addOwner(segment, n)
			}
		}
	}
	return b
}

func (b *builder) clone() *builder {
	return &builder{
		numOwners:       b.numOwners,
		actualNumOwners: b.actualNumOwners,
		members:         b.members,
		memberIndex:     b.memberIndex,
		capacityFactors: b.capacityFactors,
		segmentOwners:   copyOwners(b.segmentOwners),
		stats:           b.stats.clone(),
	}
}

func (b *builder) numSegments() int {
	return len(b.segmentOwners)
}

func (b *builder) capacityFactor(n NodeIndexType) float32 {
	if b.capacityFactors == nil {
		return 1
	}
	return b.capacityFactors[n]
}

func (b *builder) owned(n NodeIndexType) int {
	return b.stats.owned[n]
}

func (b *builder) primaryOwned(n NodeIndexType) int {
	return b.stats.primaryOwned[n]
}

// addOwner appends n to the segment's owners unless it's already there. The
// first owner added to a segment becomes its primary owner.
func (b *builder) addOwner(segment int, n NodeIndexType) bool {
	owners := b.segmentOwners[segment]
	if containsIndex(owners, n) {
		return false
	}
	b.segmentOwners[segment] = append(owners, n)
	b.stats.incOwned(n, len(owners) == 0)
	return true
}

func (b *builder) removeOwner(segment int, n NodeIndexType) bool {
	owners := b.segmentOwners[segment]
	for i, o := range owners {
		if o == n {
			b.segmentOwners[segment] = append(owners[:i], owners[i+1:]...)
			b.stats.decOwned(n, i == 0)
			if i == 0 && len(b.segmentOwners[segment]) > 0 {
				b.stats.incPrimaryOwned(b.segmentOwners[segment][0])
			}
			return true
		}
	}
	return false
}

// addPrimaryOwner puts n in front of the segment's owners; the old primary
// owner stays on as a backup owner. n must not already be an owner.
func (b *builder) addPrimaryOwner(segment int, n NodeIndexType) {
	owners := b.segmentOwners[segment]
	if containsIndex(owners, n) {
		panic("the new primary owner must not be an owner already")
	}
	if len(owners) > 0 {
		b.stats.decPrimaryOwned(owners[0])
	}
	owners = append(owners, NodeIndexNil)
	copy(owners[1:], owners)
	owners[0] = n
	b.segmentOwners[segment] = owners
	b.stats.incOwned(n, true)
}

// replacePrimaryOwnerWithBackup swaps backup owner n into the primary
// position.
func (b *builder) replacePrimaryOwnerWithBackup(segment int, n NodeIndexType) {
	owners := b.segmentOwners[segment]
	i := indexOfIndex(owners, n)
	if i <= 0 {
		panic("the new primary owner must already be a backup owner")
	}
	b.stats.decPrimaryOwned(owners[0])
	copy(owners[1:i+1], owners[:i])
	owners[0] = n
	b.stats.incPrimaryOwned(n)
}

// replaceOwner puts n in the position old held in the segment's owners.
func (b *builder) replaceOwner(segment int, old, n NodeIndexType) {
	owners := b.segmentOwners[segment]
	i := indexOfIndex(owners, old)
	owners[i] = n
	b.stats.decOwned(old, i == 0)
	b.stats.incOwned(n, i == 0)
}

func (b *builder) build(kind Kind, hashFunction string) *ConsistentHash {
	segmentOwners := make([][]NodeIndexType, len(b.segmentOwners))
	for segment, owners := range b.segmentOwners {
		segmentOwners[segment] = append(make([]NodeIndexType, 0, len(owners)), owners...)
	}
	return newConsistentHash(kind, b.numOwners, b.members, b.capacityFactors, segmentOwners, hashFunction)
}

func indexOfIndex(owners []NodeIndexType, n NodeIndexType) int {
	for i, o := range owners {
		if o == n {
			return i
		}
	}
	return -1
}
