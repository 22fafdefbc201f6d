package segring

import (
	"encoding/binary"
	"math"
	"sort"
)

const (
	// syncSlack is how far, as a fraction of its target, a member's owned or
	// primary owned count may stray. A target under 4 may be off by one
	// segment instead.
	syncSlack = 0.25
	// syncMaxDraws caps the virtual draws per member; the minimum of any
	// number of draws has the same distribution, so this only bounds cost.
	syncMaxDraws = 64
)

// SyncFactory builds hashes purely from a hash function's sort order: each
// segment's owners are the members with the lowest sort keys for that
// segment, subject to per-member caps and floors that keep every member's
// owned and primary owned counts within 25% of its capacity share. Nothing about the previous hash is used, so every node computes the
// same placement from the member list alone and a member joining or leaving
// disturbs few other members' segments.
type SyncFactory struct {
	// Hash derives the sort keys. Nil means DefaultHash.
	Hash Hash
}

func (f *SyncFactory) Kind() Kind {
	return KindSync
}

func (f *SyncFactory) hash() Hash {
	if f.Hash == nil {
		return DefaultHash
	}
	return f.Hash
}

func (f *SyncFactory) Create(numOwners, numSegments int, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error) {
	return createSync(KindSync, f.hash(), numOwners, numSegments, members, capacityFactors)
}

func (f *SyncFactory) UpdateMembers(base *ConsistentHash, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error) {
	return updateSyncMembers(KindSync, f.hash(), base, members, capacityFactors)
}

func (f *SyncFactory) Rebalance(base *ConsistentHash) *ConsistentHash {
	return rebalanceSync(KindSync, f.hash(), base)
}

func (f *SyncFactory) Union(a, b *ConsistentHash) (*ConsistentHash, error) {
	return union(a, b)
}

func (f *SyncFactory) ToPersistentState(ch *ConsistentHash, state *ScopedState) error {
	return toPersistentState(ch, state)
}

func (f *SyncFactory) FromPersistentState(state *ScopedState) (*ConsistentHash, error) {
	return fromPersistentState(KindSync, state)
}

func createSync(kind Kind, hash Hash, numOwners, numSegments int, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error) {
	if err := validateShape(numOwners, numSegments); err != nil {
		return nil, err
	}
	members, cfs, err := validateMembers(members, capacityFactors, false)
	if err != nil {
		return nil, err
	}
	b := newBuilder(numOwners, numSegments, members, cfs)
	newSyncPlacer(b, hash, kind == KindTopologyAware).place()
	return b.build(kind, hash.Name()), nil
}

// updateSyncMembers keeps every surviving owner and fills short segments
// from what a fresh placement would give them.
func updateSyncMembers(kind Kind, hash Hash, base *ConsistentHash, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error) {
	members, cfs, err := validateMembers(members, capacityFactors, true)
	if err != nil {
		return nil, err
	}
	if sameMembers(members, base.members) && sameCapacityFactors(cfs, base.capacityFactors, len(members)) {
		return base, nil
	}
	b := newBuilderFrom(base, members, cfs)
	var placed *builder
	for segment := range b.segmentOwners {
		if len(b.segmentOwners[segment]) >= b.actualNumOwners {
			continue
		}
		if placed == nil {
			placed = newBuilder(b.numOwners, b.numSegments(), members, cfs)
			newSyncPlacer(placed, hash, kind == KindTopologyAware).place()
		}
		for _, n := range placed.segmentOwners[segment] {
			if len(b.segmentOwners[segment]) >= b.actualNumOwners {
				break
			}
			b.addOwner(segment, n)
		}
	}
	return b.build(kind, hash.Name()), nil
}

func rebalanceSync(kind Kind, hash Hash, base *ConsistentHash) *ConsistentHash {
	b := newBuilder(base.numOwners, base.numSegments, base.members, base.capacityFactors)
	newSyncPlacer(b, hash, kind == KindTopologyAware).place()
	ch := b.build(kind, hash.Name())
	if ch.Equal(base) {
		return base
	}
	return ch
}

// syncPlacer fills an empty builder. It is discarded once done.
type syncPlacer struct {
	b             *builder
	hash          Hash
	topologyAware bool
	names         [][]byte
	locations     []Location
	eligible      []NodeIndexType
	// order[segment] is the eligible members sorted by ascending sort key.
	order         [][]NodeIndexType
	primaryTarget []float64
	ownedTarget   []float64
	primaryCap    []int
	ownedCap      []int
	primaryFloor  []int
	ownedFloor    []int
	keyBuf        []byte
}

func newSyncPlacer(b *builder, hash Hash, topologyAware bool) *syncPlacer {
	p := &syncPlacer{
		b:             b,
		hash:          hash,
		topologyAware: topologyAware,
		names:         make([][]byte, len(b.members)),
		locations:     make([]Location, len(b.members)),
		primaryTarget: make([]float64, len(b.members)),
		ownedTarget:   make([]float64, len(b.members)),
		primaryCap:    make([]int, len(b.members)),
		ownedCap:      make([]int, len(b.members)),
		primaryFloor:  make([]int, len(b.members)),
		ownedFloor:    make([]int, len(b.members)),
	}
	var totalCapacity float64
	for i, m := range b.members {
		n := NodeIndexType(i)
		p.names[i] = []byte(m.String())
		p.locations[i] = LocationOf(m)
		if cf := b.capacityFactor(n); cf > 0 {
			p.eligible = append(p.eligible, n)
			totalCapacity += float64(cf)
		}
	}
	segments := float64(b.numSegments())
	for _, n := range p.eligible {
		share := float64(b.capacityFactor(n)) / totalCapacity
		p.primaryTarget[n] = segments * share
		p.ownedTarget[n] = math.Min(segments, segments*float64(b.actualNumOwners)*share)
		p.primaryCap[n] = syncCap(p.primaryTarget[n])
		p.ownedCap[n] = int(math.Min(segments, float64(syncCap(p.ownedTarget[n]))))
		p.primaryFloor[n] = syncFloor(p.primaryTarget[n])
		p.ownedFloor[n] = syncFloor(p.ownedTarget[n])
	}
	p.order = make([][]NodeIndexType, b.numSegments())
	keys := make([]float64, len(b.members))
	for segment := range p.order {
		order := append([]NodeIndexType(nil), p.eligible...)
		for _, n := range order {
			keys[n] = p.sortKey(segment, n)
		}
		sort.Slice(order, func(i, j int) bool {
			if keys[order[i]] != keys[order[j]] {
				return keys[order[i]] < keys[order[j]]
			}
			return b.members[order[i]].String() < b.members[order[j]].String()
		})
		p.order[segment] = order
	}
	return p
}

// syncCap is the most a member with the target given may hold: the largest
// count within syncSlack above it, but never less than the target rounded
// up.
func syncCap(target float64) int {
	return int(math.Max(1, math.Max(math.Ceil(target), math.Floor(target*(1+syncSlack)))))
}

// syncFloor is the least a member with the target given may hold: the
// smallest count within syncSlack below it, but never more than the target
// rounded down.
func syncFloor(target float64) int {
	return int(math.Min(math.Floor(target), math.Ceil(target*(1-syncSlack))))
}

// sortKey is the minimum over the member's virtual draws of an exponentially
// distributed score with a rate proportional to its capacity factor, so the
// chance of a member having the lowest key of a segment is its share of the
// total capacity.
func (p *syncPlacer) sortKey(segment int, n NodeIndexType) float64 {
	cf := float64(p.b.capacityFactor(n))
	draws := int(math.Ceil(cf))
	if draws < 1 {
		draws = 1
	} else if draws > syncMaxDraws {
		draws = syncMaxDraws
	}
	key := math.Inf(1)
	for draw := 0; draw < draws; draw++ {
		buf := binary.BigEndian.AppendUint32(p.keyBuf[:0], uint32(segment))
		buf = append(buf, 0)
		buf = append(buf, p.names[n]...)
		buf = append(buf, 0, byte(draw))
		p.keyBuf = buf
		u := (float64(p.hash.Hash64(buf)>>11) + 1) / (1 << 53)
		if k := -math.Log(u) * float64(draws) / cf; k < key {
			key = k
		}
	}
	return key
}

func (p *syncPlacer) place() {
	if len(p.eligible) == 0 {
		return
	}
	for slot := 0; slot < p.b.actualNumOwners; slot++ {
		for segment := range p.b.segmentOwners {
			if n := p.pick(segment, slot == 0); n != NodeIndexNil {
				p.b.addOwner(segment, n)
			}
		}
	}
	p.liftPrimaryOwners()
	p.trimPrimaryOwners()
	p.liftOwners()
	p.trimOwners()
}

// pick returns the lowest keyed member that isn't already an owner of the
// segment and is under its caps. If every candidate is capped the one that
// would end up least loaded relative to its capacity is used instead.
func (p *syncPlacer) pick(segment int, primary bool) NodeIndexType {
	owners := p.b.segmentOwners[segment]
	level := 0
	if p.topologyAware {
		level = -1
		for _, n := range p.order[segment] {
			if !containsIndex(owners, n) {
				if l := p.level(owners, n); l > level {
					level = l
				}
			}
		}
	}
	for _, n := range p.order[segment] {
		if containsIndex(owners, n) || (p.topologyAware && p.level(owners, n) < level) {
			continue
		}
		if p.b.owned(n) >= p.ownedCap[n] || (primary && p.b.primaryOwned(n) >= p.primaryCap[n]) {
			continue
		}
		return n
	}
	best := NodeIndexNil
	bestRatio := math.Inf(1)
	for _, n := range p.order[segment] {
		if containsIndex(owners, n) || (p.topologyAware && p.level(owners, n) < level) {
			continue
		}
		count := p.b.owned(n)
		if primary {
			count = p.b.primaryOwned(n)
		}
		if ratio := float64(count+1) / float64(p.b.capacityFactor(n)); ratio < bestRatio {
			best = n
			bestRatio = ratio
		}
	}
	return best
}

// level is how distinct n's location is from the owners': 3 for a new site,
// 2 for a new rack, 1 for a new machine, and 0 if it shares a machine.
func (p *syncPlacer) level(owners []NodeIndexType, n NodeIndexType) int {
	loc := p.locations[n]
	level := 3
	for _, o := range owners {
		ol := p.locations[o]
		switch {
		case ol.Site != loc.Site:
		case ol.Rack != loc.Rack:
			if level > 2 {
				level = 2
			}
		case ol.Machine != loc.Machine:
			if level > 1 {
				level = 1
			}
		default:
			return 0
		}
	}
	return level
}

// spread scores how spread out the owners are; higher is better.
func (p *syncPlacer) spread(owners []NodeIndexType) int {
	sites := map[string]bool{}
	racks := map[Location]bool{}
	machines := map[Location]bool{}
	for _, o := range owners {
		loc := p.locations[o]
		sites[loc.Site] = true
		racks[Location{Site: loc.Site, Rack: loc.Rack}] = true
		machines[loc] = true
	}
	return len(sites)*1000000 + len(racks)*1000 + len(machines)
}

// replaceKeepsSpread reports whether putting n in old's place in the segment
// keeps the owners at least as spread out.
func (p *syncPlacer) replaceKeepsSpread(segment int, old, n NodeIndexType) bool {
	if !p.topologyAware {
		return true
	}
	owners := p.b.segmentOwners[segment]
	replaced := append([]NodeIndexType(nil), owners...)
	replaced[indexOfIndex(replaced, old)] = n
	return p.spread(replaced) >= p.spread(owners)
}

// liftPrimaryOwners raises members below their primary floor by taking
// segments from primary owners above their target, preferring segments the
// member is already a backup of so the swap moves no data.
func (p *syncPlacer) liftPrimaryOwners() {
	for _, n := range p.eligible {
		for p.b.primaryOwned(n) < p.primaryFloor[n] {
			swapSegment, replaceSegment := -1, -1
			swapKey, replaceKey := math.Inf(1), math.Inf(1)
			for segment, owners := range p.b.segmentOwners {
				o := owners[0]
				if o == n || float64(p.b.primaryOwned(o)) <= p.primaryTarget[o] {
					continue
				}
				if i := indexOfIndex(owners, n); i > 0 {
					if k := p.sortKey(segment, n); k < swapKey {
						swapSegment, swapKey = segment, k
					}
				} else if swapSegment < 0 && p.b.owned(n) < p.ownedCap[n] && p.b.owned(o)-1 >= p.ownedFloor[o] && p.replaceKeepsSpread(segment, o, n) {
					if k := p.sortKey(segment, n); k < replaceKey {
						replaceSegment, replaceKey = segment, k
					}
				}
			}
			if swapSegment >= 0 {
				p.b.replacePrimaryOwnerWithBackup(swapSegment, n)
			} else if replaceSegment >= 0 {
				p.b.replaceOwner(replaceSegment, p.b.segmentOwners[replaceSegment][0], n)
			} else {
				break
			}
		}
	}
}

// liftOwners raises members below their owned floor by replacing backup
// owners that are above their target.
func (p *syncPlacer) liftOwners() {
	for _, n := range p.eligible {
		for p.b.owned(n) < p.ownedFloor[n] {
			bestSegment := -1
			bestDonor := NodeIndexNil
			bestKey := math.Inf(1)
			for segment, owners := range p.b.segmentOwners {
				if containsIndex(owners, n) {
					continue
				}
				donor := NodeIndexNil
				donorLoad := 1.0
				for _, o := range owners[1:] {
					load := float64(p.b.owned(o)) / p.ownedTarget[o]
					if load > donorLoad && p.replaceKeepsSpread(segment, o, n) {
						donor, donorLoad = o, load
					}
				}
				if donor == NodeIndexNil {
					continue
				}
				if k := p.sortKey(segment, n); k < bestKey {
					bestSegment, bestDonor, bestKey = segment, donor, k
				}
			}
			if bestSegment < 0 {
				break
			}
			p.b.replaceOwner(bestSegment, bestDonor, n)
		}
	}
}

// trimPrimaryOwners lowers members above their primary cap, handing the
// primary position to a backup owner below its primary target or, failing
// that, replacing the member with one that isn't an owner yet.
func (p *syncPlacer) trimPrimaryOwners() {
	for _, n := range p.eligible {
		for p.b.primaryOwned(n) > p.primaryCap[n] {
			swapSegment, replaceSegment := -1, -1
			swapTo, replaceWith := NodeIndexNil, NodeIndexNil
			swapKey, replaceKey := math.Inf(1), math.Inf(1)
			for segment, owners := range p.b.segmentOwners {
				if len(owners) == 0 || owners[0] != n {
					continue
				}
				for _, o := range owners[1:] {
					if float64(p.b.primaryOwned(o)) >= p.primaryTarget[o] {
						continue
					}
					if k := p.sortKey(segment, o); k < swapKey {
						swapSegment, swapTo, swapKey = segment, o, k
					}
				}
				if swapSegment >= 0 || p.b.owned(n)-1 < p.ownedFloor[n] {
					continue
				}
				for _, m := range p.order[segment] {
					if containsIndex(owners, m) || float64(p.b.primaryOwned(m)) >= p.primaryTarget[m] || p.b.owned(m) >= p.ownedCap[m] || !p.replaceKeepsSpread(segment, n, m) {
						continue
					}
					if k := p.sortKey(segment, m); k < replaceKey {
						replaceSegment, replaceWith, replaceKey = segment, m, k
					}
					break
				}
			}
			if swapSegment >= 0 {
				p.b.replacePrimaryOwnerWithBackup(swapSegment, swapTo)
			} else if replaceSegment >= 0 {
				p.b.replaceOwner(replaceSegment, n, replaceWith)
			} else {
				break
			}
		}
	}
}

// trimOwners lowers members above their owned cap by giving their backup
// positions to members below their owned target.
func (p *syncPlacer) trimOwners() {
	for _, n := range p.eligible {
		for p.b.owned(n) > p.ownedCap[n] {
			bestSegment := -1
			bestTaker := NodeIndexNil
			bestKey := math.Inf(1)
			for segment, owners := range p.b.segmentOwners {
				if indexOfIndex(owners, n) <= 0 {
					continue
				}
				for _, m := range p.order[segment] {
					if containsIndex(owners, m) || float64(p.b.owned(m)) >= p.ownedTarget[m] || !p.replaceKeepsSpread(segment, n, m) {
						continue
					}
					if k := p.sortKey(segment, m); k < bestKey {
						bestSegment, bestTaker, bestKey = segment, m, k
					}
					break
				}
			}
			if bestSegment < 0 {
				break
			}
			p.b.replaceOwner(bestSegment, n, bestTaker)
		}
	}
}
