package segring

// ReplicatedFactory builds hashes where every member with a capacity factor
// above 0 owns every segment. Only the primary owner varies, spread across
// members in proportion to their capacity factors.
type ReplicatedFactory struct{}

func (f *ReplicatedFactory) Kind() Kind {
	return KindReplicated
}

func (f *ReplicatedFactory) Create(numOwners, numSegments int, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error) {
	if err := validateShape(numOwners, numSegments); err != nil {
		return nil, err
	}
	members, cfs, err := validateMembers(members, capacityFactors, false)
	if err != nil {
		return nil, err
	}
	primaries := make([]NodeIndexType, numSegments)
	for segment := range primaries {
		primaries[segment] = NodeIndexNil
	}
	assignPrimaries(primaries, make([]int, len(members)), cfs)
	return buildReplicated(numOwners, members, cfs, primaries), nil
}

// UpdateMembers keeps the primary owner of every segment whose primary is
// still eligible and assigns new primaries, least loaded first, for the rest.
func (f *ReplicatedFactory) UpdateMembers(base *ConsistentHash, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error) {
	members, cfs, err := validateMembers(members, capacityFactors, true)
	if err != nil {
		return nil, err
	}
	if sameMembers(members, base.members) && sameCapacityFactors(cfs, base.capacityFactors, len(members)) {
		return base, nil
	}
	index := make(map[Address]NodeIndexType, len(members))
	for i, m := range members {
		index[m] = NodeIndexType(i)
	}
	primaries := make([]NodeIndexType, base.numSegments)
	counts := make([]int, len(members))
	for segment, owners := range base.segmentOwners {
		primaries[segment] = NodeIndexNil
		if len(owners) == 0 {
			continue
		}
		if n, ok := index[base.members[owners[0]]]; ok && capacityFactorIn(cfs, n) > 0 {
			primaries[segment] = n
			counts[n]++
		}
	}
	assignPrimaries(primaries, counts, cfs)
	return buildReplicated(base.numOwners, members, cfs, primaries), nil
}

// Rebalance moves primary ownership from the most loaded member to the least
// loaded one, relative to capacity, until no move would improve things.
func (f *ReplicatedFactory) Rebalance(base *ConsistentHash) *ConsistentHash {
	b := newBuilderFrom(base, base.members, base.capacityFactors)
	primaries := make([]NodeIndexType, base.numSegments)
	for segment, owners := range b.segmentOwners {
		primaries[segment] = NodeIndexNil
		if len(owners) > 0 {
			primaries[segment] = owners[0]
		}
	}
	counts := append([]int(nil), b.stats.primaryOwned...)
	assignPrimaries(primaries, counts, base.capacityFactors)
	for {
		worst, best := NodeIndexNil, NodeIndexNil
		var worstRatio, bestRatio float64
		for n := range base.members {
			cf := float64(capacityFactorIn(base.capacityFactors, NodeIndexType(n)))
			if cf == 0 {
				continue
			}
			if r := float64(counts[n]-1) / cf; worst == NodeIndexNil || r > worstRatio {
				worst, worstRatio = NodeIndexType(n), r
			}
			if r := float64(counts[n]+1) / cf; best == NodeIndexNil || r < bestRatio {
				best, bestRatio = NodeIndexType(n), r
			}
		}
		if worst == NodeIndexNil || worst == best || bestRatio > worstRatio {
			break
		}
		moved := false
		for segment := len(primaries) - 1; segment >= 0; segment-- {
			if primaries[segment] == worst {
				primaries[segment] = best
				counts[worst]--
				counts[best]++
				moved = true
				break
			}
		}
		if !moved {
			break
		}
	}
	ch := buildReplicated(base.numOwners, base.members, base.capacityFactors, primaries)
	if ch.Equal(base) {
		return base
	}
	return ch
}

func (f *ReplicatedFactory) Union(a, b *ConsistentHash) (*ConsistentHash, error) {
	return union(a, b)
}

func (f *ReplicatedFactory) ToPersistentState(ch *ConsistentHash, state *ScopedState) error {
	return toPersistentState(ch, state)
}

func (f *ReplicatedFactory) FromPersistentState(state *ScopedState) (*ConsistentHash, error) {
	return fromPersistentState(KindReplicated, state)
}

func capacityFactorIn(capacityFactors []float32, n NodeIndexType) float32 {
	if capacityFactors == nil {
		return 1
	}
	return capacityFactors[n]
}

// assignPrimaries fills every NodeIndexNil entry with the eligible member
// that would have the lowest primary-owned-to-capacity ratio afterwards,
// ties going to the earlier member. This is a weighted round robin.
func assignPrimaries(primaries []NodeIndexType, counts []int, capacityFactors []float32) {
	for segment, p := range primaries {
		if p != NodeIndexNil {
			continue
		}
		best := NodeIndexNil
		var bestRatio float64
		for n := range counts {
			cf := float64(capacityFactorIn(capacityFactors, NodeIndexType(n)))
			if cf == 0 {
				continue
			}
			if r := float64(counts[n]+1) / cf; best == NodeIndexNil || r < bestRatio {
				best, bestRatio = NodeIndexType(n), r
			}
		}
		if best == NodeIndexNil {
			return
		}
		primaries[segment] = best
		counts[best]++
	}
}

func buildReplicated(numOwners int, members []Address, capacityFactors []float32, primaries []NodeIndexType) *ConsistentHash {
	var eligible []NodeIndexType
	for n := range members {
		if capacityFactorIn(capacityFactors, NodeIndexType(n)) > 0 {
			eligible = append(eligible, NodeIndexType(n))
		}
	}
	segmentOwners := make([][]NodeIndexType, len(primaries))
	for segment, p := range primaries {
		if p == NodeIndexNil {
			segmentOwners[segment] = []NodeIndexType{}
			continue
		}
		owners := make([]NodeIndexType, 0, len(eligible))
		owners = append(owners, p)
		for _, n := range eligible {
			if n != p {
				owners = append(owners, n)
			}
		}
		segmentOwners[segment] = owners
	}
	return newConsistentHash(KindReplicated, numOwners, members, capacityFactors, segmentOwners, "")
}
