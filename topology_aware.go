package segring

// TopologyAwareSyncFactory is SyncFactory that also spreads each segment's
// owners across sites, then racks, then machines, using the Location of
// addresses that implement Locator. When there are more owners than sites,
// racks, or machines some owners must share one; the spreading is best effort
// and can make the balance worse than SyncFactory's.
type TopologyAwareSyncFactory struct {
	SyncFactory
}

func (f *TopologyAwareSyncFactory) Kind() Kind {
	return KindTopologyAware
}

func (f *TopologyAwareSyncFactory) Create(numOwners, numSegments int, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error) {
	return createSync(KindTopologyAware, f.hash(), numOwners, numSegments, members, capacityFactors)
}

func (f *TopologyAwareSyncFactory) UpdateMembers(base *ConsistentHash, members []Address, capacityFactors map[Address]float32) (*ConsistentHash, error) {
	return updateSyncMembers(KindTopologyAware, f.hash(), base, members, capacityFactors)
}

func (f *TopologyAwareSyncFactory) Rebalance(base *ConsistentHash) *ConsistentHash {
	return rebalanceSync(KindTopologyAware, f.hash(), base)
}

func (f *TopologyAwareSyncFactory) FromPersistentState(state *ScopedState) (*ConsistentHash, error) {
	return fromPersistentState(KindTopologyAware, state)
}
