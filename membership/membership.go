// Package membership supplies the ordered member lists and capacity factors
// a topology manager builds hashes from.
//
// Members register themselves in etcd under a common prefix:
//
//	Key:   {prefix}{Name}
//	Value: CBOR encoded Member
//
// Each registration is attached to a lease, so a member that dies drops out
// of the view once its lease expires. A view lists members in the order they
// joined, which is the order of their keys' create revisions, and is
// identified by the etcd revision it was read at.
package membership

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/gholt/segring"
	"github.com/shirou/gopsutil/v4/mem"
	"go.etcd.io/etcd/api/v3/mvccpb"
)

// Member is one cache node as registered.
type Member struct {
	Name           string  `cbor:"1,keyasint"`
	Site           string  `cbor:"2,keyasint,omitempty"`
	Rack           string  `cbor:"3,keyasint,omitempty"`
	Machine        string  `cbor:"4,keyasint,omitempty"`
	CapacityFactor float32 `cbor:"5,keyasint"`
	PersistentUUID string  `cbor:"6,keyasint"`
}

func (m Member) Address() segring.NodeAddress {
	return segring.NodeAddress{Name: m.Name, Site: m.Site, Rack: m.Rack, Machine: m.Machine}
}

// View is the membership at one point in time.
type View struct {
	ID      int64
	Members []Member
}

func (v *View) Addresses() []segring.Address {
	rv := make([]segring.Address, len(v.Members))
	for i, m := range v.Members {
		rv[i] = m.Address()
	}
	return rv
}

func (v *View) CapacityFactors() map[segring.Address]float32 {
	rv := make(map[segring.Address]float32, len(v.Members))
	for _, m := range v.Members {
		rv[m.Address()] = m.CapacityFactor
	}
	return rv
}

// PersistentUUIDs maps each member's address to its persistent UUID,
// skipping members with an unparseable UUID.
func (v *View) PersistentUUIDs() map[segring.Address]segring.PersistentUUID {
	rv := make(map[segring.Address]segring.PersistentUUID, len(v.Members))
	for _, m := range v.Members {
		if u, err := segring.ParsePersistentUUID(m.PersistentUUID); err == nil {
			rv[m.Address()] = u
		}
	}
	return rv
}

func encodeMember(m Member) ([]byte, error) {
	return cbor.Marshal(m)
}

func decodeMember(data []byte) (Member, error) {
	var m Member
	err := cbor.Unmarshal(data, &m)
	return m, err
}

func validateMember(m Member) error {
	if m.Name == "" {
		return &segring.ConfigurationError{Msg: "member has no name"}
	}
	cf := float64(m.CapacityFactor)
	if cf < 0 || math.IsNaN(cf) || math.IsInf(cf, 0) {
		return &segring.ConfigurationError{Msg: fmt.Sprintf("member %s has invalid capacity factor %v", m.Name, m.CapacityFactor)}
	}
	if _, err := segring.ParsePersistentUUID(m.PersistentUUID); err != nil {
		return &segring.ConfigurationError{Msg: fmt.Sprintf("member %s has invalid persistent uuid %q", m.Name, m.PersistentUUID)}
	}
	return nil
}

// viewFromKVs builds a view from a prefix read, ordering members by join.
// Records that don't decode are skipped and returned as errs.
func viewFromKVs(revision int64, kvs []*mvccpb.KeyValue) (*View, []error) {
	sorted := append([]*mvccpb.KeyValue(nil), kvs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreateRevision < sorted[j].CreateRevision })
	v := &View{ID: revision}
	var errs []error
	for _, kv := range sorted {
		m, err := decodeMember(kv.Value)
		if err == nil {
			err = validateMember(m)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("member record %s: %w", kv.Key, err))
			continue
		}
		v.Members = append(v.Members, m)
	}
	return v, errs
}

// LocalCapacityFactor is this host's total memory relative to reference
// bytes, so a host with twice the reference memory gets a factor of 2.
func LocalCapacityFactor(ctx context.Context, reference uint64) (float32, error) {
	if reference == 0 {
		return 0, &segring.ConfigurationError{Msg: "reference memory must be above 0"}
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float32(float64(vm.Total) / float64(reference)), nil
}
