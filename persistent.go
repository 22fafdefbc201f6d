package segring

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PersistentUUID is a member identity that survives restarts, unlike
// transport addresses.
type PersistentUUID uuid.UUID

func NewPersistentUUID() PersistentUUID {
	return PersistentUUID(uuid.New())
}

// NameBasedPersistentUUID returns the same UUID for the same name every time.
func NameBasedPersistentUUID(name string) PersistentUUID {
	return PersistentUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("segring:"+name)))
}

func ParsePersistentUUID(s string) (PersistentUUID, error) {
	u, err := uuid.Parse(s)
	return PersistentUUID(u), err
}

func (u PersistentUUID) String() string {
	return uuid.UUID(u).String()
}

const (
	keyConsistentHash = "consistentHash"
	keyNumOwners      = "numOwners"
	keyNumSegments    = "numSegments"
	keyHashFunction   = "hashFunction"
	keyMembers        = "members"
	keyMember         = "member.%d"
	keyCapacities     = "capacityFactors"
	keyCapacity       = "capacityFactor.%d"
	keySegmentOwners  = "segmentOwners"
	keySegmentNum     = "segmentOwner.%d.num"
	keySegmentOwner   = "segmentOwner.%d.%d"
)

// toPersistentState writes the hash; its members must already be
// PersistentUUIDs. See Persist.
func toPersistentState(ch *ConsistentHash, state *ScopedState) error {
	for _, m := range ch.members {
		if _, ok := m.(PersistentUUID); !ok {
			return fmt.Errorf("member %s is not a persistent UUID", m)
		}
	}
	clearHashProperties(state)
	state.SetProperty(keyConsistentHash, ch.kind.String())
	state.SetPropertyInt(keyNumOwners, ch.numOwners)
	state.SetPropertyInt(keyNumSegments, ch.numSegments)
	state.SetProperty(keyHashFunction, ch.hashFunction)
	state.SetPropertyInt(keyMembers, len(ch.members))
	for i, m := range ch.members {
		state.SetProperty(fmt.Sprintf(keyMember, i), m.String())
	}
	if ch.capacityFactors != nil {
		state.SetPropertyInt(keyCapacities, len(ch.capacityFactors))
		for i, cf := range ch.capacityFactors {
			state.SetPropertyFloat(fmt.Sprintf(keyCapacity, i), cf)
		}
	}
	state.SetPropertyInt(keySegmentOwners, len(ch.segmentOwners))
	for segment, owners := range ch.segmentOwners {
		state.SetPropertyInt(fmt.Sprintf(keySegmentNum, segment), len(owners))
		for i, n := range owners {
			state.SetPropertyInt(fmt.Sprintf(keySegmentOwner, segment, i), int(n))
		}
	}
	return nil
}

// clearHashProperties removes a previously written hash so a smaller or
// uniform one doesn't inherit its keys.
func clearHashProperties(state *ScopedState) {
	for _, key := range []string{keyConsistentHash, keyNumOwners, keyNumSegments, keyHashFunction, keyMembers, keyCapacities, keySegmentOwners} {
		state.RemoveProperty(key)
	}
	for _, prefix := range []string{"member.", "capacityFactor.", "segmentOwner."} {
		state.RemovePropertiesWithPrefix(prefix)
	}
}

// fromPersistentState reads a hash whose members are PersistentUUIDs.
func fromPersistentState(kind Kind, state *ScopedState) (*ConsistentHash, error) {
	kindName, ok := state.Property(keyConsistentHash)
	if !ok {
		return nil, fmt.Errorf("%w: no consistent hash in scope %q", ErrStateMismatch, state.Scope())
	}
	if kindName != kind.String() {
		return nil, fmt.Errorf("%w: state holds a %s hash, not %s", ErrStateMismatch, kindName, kind)
	}
	numOwners, err := state.PropertyInt(keyNumOwners)
	if err != nil {
		return nil, err
	}
	numSegments, err := state.PropertyInt(keyNumSegments)
	if err != nil {
		return nil, err
	}
	if err = validateShape(numOwners, numSegments); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStateMismatch, err)
	}
	hashFunction, _ := state.Property(keyHashFunction)
	if hashFunction != "" {
		if _, err = HashByName(hashFunction); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrStateMismatch, err)
		}
	}
	memberCount, err := state.PropertyInt(keyMembers)
	if err != nil {
		return nil, err
	}
	if memberCount < 1 || memberCount > MaxMembers {
		return nil, fmt.Errorf("%w: member count %d", ErrStateMismatch, memberCount)
	}
	members := make([]Address, memberCount)
	seen := make(map[PersistentUUID]bool, memberCount)
	for i := range members {
		key := fmt.Sprintf(keyMember, i)
		v, ok := state.Property(key)
		if !ok {
			return nil, fmt.Errorf("%w: missing property %q", ErrStateMismatch, key)
		}
		u, err := ParsePersistentUUID(v)
		if err != nil {
			return nil, fmt.Errorf("%w: property %q: %s", ErrStateMismatch, key, err)
		}
		if seen[u] {
			return nil, fmt.Errorf("%w: member %s listed more than once", ErrStateMismatch, u)
		}
		seen[u] = true
		members[i] = u
	}
	var capacityFactors []float32
	if _, ok := state.Property(keyCapacities); ok {
		count, err := state.PropertyInt(keyCapacities)
		if err != nil {
			return nil, err
		}
		if count != memberCount {
			return nil, fmt.Errorf("%w: %d capacity factors for %d members", ErrStateMismatch, count, memberCount)
		}
		capacityFactors = make([]float32, count)
		for i := range capacityFactors {
			if capacityFactors[i], err = state.PropertyFloat(fmt.Sprintf(keyCapacity, i)); err != nil {
				return nil, err
			}
		}
	}
	segmentCount, err := state.PropertyInt(keySegmentOwners)
	if err != nil {
		return nil, err
	}
	if segmentCount != numSegments {
		return nil, fmt.Errorf("%w: %d owner lists for %d segments", ErrStateMismatch, segmentCount, numSegments)
	}
	segmentOwners := make([][]NodeIndexType, numSegments)
	for segment := range segmentOwners {
		count, err := state.PropertyInt(fmt.Sprintf(keySegmentNum, segment))
		if err != nil {
			return nil, err
		}
		if count < 0 || count > memberCount {
			return nil, fmt.Errorf("%w: segment %d has %d owners", ErrStateMismatch, segment, count)
		}
		owners := make([]NodeIndexType, count)
		for i := range owners {
			n, err := state.PropertyInt(fmt.Sprintf(keySegmentOwner, segment, i))
			if err != nil {
				return nil, err
			}
			if n < 0 || n >= memberCount {
				return nil, fmt.Errorf("%w: segment %d owner index %d out of range", ErrStateMismatch, segment, n)
			}
			owners[i] = NodeIndexType(n)
		}
		segmentOwners[segment] = owners
	}
	ch := newConsistentHash(kind, numOwners, members, capacityFactors, segmentOwners, hashFunction)
	if err = ch.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStateMismatch, err)
	}
	return ch, nil
}

// Persist writes the hash to state, first replacing each member with the
// persistent UUID lookup gives for it.
func Persist(f Factory, ch *ConsistentHash, state *ScopedState, lookup func(Address) (PersistentUUID, bool)) error {
	remapped, err := ch.RemapAddresses(func(a Address) (Address, bool) {
		u, ok := lookup(a)
		return u, ok
	})
	if err != nil {
		return err
	}
	return f.ToPersistentState(remapped, state)
}

// Restore reads a hash from state and maps its persistent UUIDs back onto
// live addresses with resolve. If any member can't be resolved, the member
// is gone for good and Restore returns nil with no error; the caller should
// Create a fresh hash instead.
func Restore(f Factory, state *ScopedState, resolve func(PersistentUUID) (Address, bool)) (*ConsistentHash, error) {
	ch, err := f.FromPersistentState(state)
	if err != nil {
		return nil, err
	}
	restored, err := ch.RemapAddresses(func(a Address) (Address, bool) {
		return resolve(a.(PersistentUUID))
	})
	if errors.Is(err, ErrUnmappableMember) {
		return nil, nil
	}
	return restored, err
}
