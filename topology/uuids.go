package topology

import (
	"sync"

	"github.com/gholt/segring"
)

// PersistentUUIDManager maps the live addresses of members to their
// persistent UUIDs and back. It's safe for concurrent use.
type PersistentUUIDManager struct {
	lock      sync.RWMutex
	byAddress map[segring.Address]segring.PersistentUUID
	byUUID    map[segring.PersistentUUID]segring.Address
}

func NewPersistentUUIDManager() *PersistentUUIDManager {
	return &PersistentUUIDManager{
		byAddress: map[segring.Address]segring.PersistentUUID{},
		byUUID:    map[segring.PersistentUUID]segring.Address{},
	}
}

// Add records the mapping, replacing any earlier mapping for either side.
func (m *PersistentUUIDManager) Add(a segring.Address, u segring.PersistentUUID) {
	m.lock.Lock()
	if old, ok := m.byAddress[a]; ok {
		delete(m.byUUID, old)
	}
	if old, ok := m.byUUID[u]; ok {
		delete(m.byAddress, old)
	}
	m.byAddress[a] = u
	m.byUUID[u] = a
	m.lock.Unlock()
}

func (m *PersistentUUIDManager) Remove(a segring.Address) {
	m.lock.Lock()
	if u, ok := m.byAddress[a]; ok {
		delete(m.byUUID, u)
		delete(m.byAddress, a)
	}
	m.lock.Unlock()
}

func (m *PersistentUUIDManager) PersistentUUID(a segring.Address) (segring.PersistentUUID, bool) {
	m.lock.RLock()
	u, ok := m.byAddress[a]
	m.lock.RUnlock()
	return u, ok
}

func (m *PersistentUUIDManager) Address(u segring.PersistentUUID) (segring.Address, bool) {
	m.lock.RLock()
	a, ok := m.byUUID[u]
	m.lock.RUnlock()
	return a, ok
}

// MapAddresses returns the UUIDs of the addresses given, skipping any
// address without one.
func (m *PersistentUUIDManager) MapAddresses(addresses []segring.Address) []segring.PersistentUUID {
	m.lock.RLock()
	defer m.lock.RUnlock()
	rv := make([]segring.PersistentUUID, 0, len(addresses))
	for _, a := range addresses {
		if u, ok := m.byAddress[a]; ok {
			rv = append(rv, u)
		}
	}
	return rv
}

// MapPersistentUUIDs returns the addresses of the UUIDs given, skipping any
// UUID without one.
func (m *PersistentUUIDManager) MapPersistentUUIDs(uuids []segring.PersistentUUID) []segring.Address {
	m.lock.RLock()
	defer m.lock.RUnlock()
	rv := make([]segring.Address, 0, len(uuids))
	for _, u := range uuids {
		if a, ok := m.byUUID[u]; ok {
			rv = append(rv, a)
		}
	}
	return rv
}

// AddressToPersistentUUID returns a lookup suitable for segring.Persist.
func (m *PersistentUUIDManager) AddressToPersistentUUID() func(segring.Address) (segring.PersistentUUID, bool) {
	return m.PersistentUUID
}

// PersistentUUIDToAddress returns a lookup suitable for segring.Restore.
func (m *PersistentUUIDManager) PersistentUUIDToAddress() func(segring.PersistentUUID) (segring.Address, bool) {
	return m.Address
}
