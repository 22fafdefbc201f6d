package segring

// OwnershipStatistics counts how many segments each member owns and primary
// owns in a given hash. It's computed on demand and never cached across
// hashes.
type OwnershipStatistics struct {
	memberIndex  map[Address]NodeIndexType
	owned        []int
	primaryOwned []int
	sumOwned     int
	sumPrimary   int
}

// NewOwnershipStatistics computes the statistics with a single pass over the
// hash's owner lists.
func NewOwnershipStatistics(ch *ConsistentHash) *OwnershipStatistics {
	s := newOwnershipStatistics(ch.memberIndex, len(ch.members))
	for _, owners := range ch.segmentOwners {
		for i, n := range owners {
			s.incOwned(n, i == 0)
		}
	}
	return s
}

func newOwnershipStatistics(memberIndex map[Address]NodeIndexType, memberCount int) *OwnershipStatistics {
	return &OwnershipStatistics{
		memberIndex:  memberIndex,
		owned:        make([]int, memberCount),
		primaryOwned: make([]int, memberCount),
	}
}

// Owned is the number of segments the address owns, as primary or backup.
func (s *OwnershipStatistics) Owned(a Address) int {
	n, ok := s.memberIndex[a]
	if !ok {
		return 0
	}
	return s.owned[n]
}

// PrimaryOwned is the number of segments the address is primary owner of.
func (s *OwnershipStatistics) PrimaryOwned(a Address) int {
	n, ok := s.memberIndex[a]
	if !ok {
		return 0
	}
	return s.primaryOwned[n]
}

func (s *OwnershipStatistics) SumOwned() int {
	return s.sumOwned
}

func (s *OwnershipStatistics) SumPrimaryOwned() int {
	return s.sumPrimary
}

func (s *OwnershipStatistics) incOwned(n NodeIndexType, primary bool) {
	s.owned[n]++
	s.sumOwned++
	if primary {
		s.incPrimaryOwned(n)
	}
}

func (s *OwnershipStatistics) decOwned(n NodeIndexType, primary bool) {
	s.owned[n]--
	s.sumOwned--
	if primary {
		s.decPrimaryOwned(n)
	}
}

func (s *OwnershipStatistics) incPrimaryOwned(n NodeIndexType) {
	s.primaryOwned[n]++
	s.sumPrimary++
}

func (s *OwnershipStatistics) decPrimaryOwned(n NodeIndexType) {
	s.primaryOwned[n]--
	s.sumPrimary--
}

func (s *OwnershipStatistics) clone() *OwnershipStatistics {
	return &OwnershipStatistics{
		memberIndex:  s.memberIndex,
		owned:        append([]int(nil), s.owned...),
		primaryOwned: append([]int(nil), s.primaryOwned...),
		sumOwned:     s.sumOwned,
		sumPrimary:   s.sumPrimary,
	}
}

type Stats struct {
	NumOwners       int
	NumSegments     int
	MemberCount     int
	EligibleCount   int
	TotalCapacity   float64
	ActualNumOwners int
	// MaxUnderOwnedPercentage is the percentage a member is underweight, or
	// owns fewer segments than its capacity factor would indicate it desires.
	MaxUnderOwnedPercentage float64
	MaxUnderOwnedMember     Address
	// MaxOverOwnedPercentage is the percentage a member is overweight, or owns
	// more segments than its capacity factor would indicate it desires.
	MaxOverOwnedPercentage    float64
	MaxOverOwnedMember        Address
	MaxUnderPrimaryPercentage float64
	MaxUnderPrimaryMember     Address
	MaxOverPrimaryPercentage  float64
	MaxOverPrimaryMember      Address
}

// Stats gives information about the hash and its health. The MaxUnder and
// MaxOver values specifically indicate how balanced the hash is.
func (ch *ConsistentHash) Stats() *Stats {
	stats := &Stats{
		NumOwners:   ch.numOwners,
		NumSegments: ch.numSegments,
		MemberCount: len(ch.members),
	}
	for n := range ch.members {
		if cf := ch.capacityFactorOf(NodeIndexType(n)); cf > 0 {
			stats.EligibleCount++
			stats.TotalCapacity += float64(cf)
		}
	}
	if stats.EligibleCount == 0 {
		return stats
	}
	stats.ActualNumOwners = ch.numOwners
	if ch.kind == KindReplicated || stats.EligibleCount < stats.ActualNumOwners {
		stats.ActualNumOwners = stats.EligibleCount
	}
	ownership := NewOwnershipStatistics(ch)
	for n, m := range ch.members {
		cf := float64(ch.capacityFactorOf(NodeIndexType(n)))
		if cf == 0 {
			continue
		}
		desiredOwned := cf / stats.TotalCapacity * float64(ch.numSegments*stats.ActualNumOwners)
		if desiredOwned > float64(ch.numSegments) {
			desiredOwned = float64(ch.numSegments)
		}
		desiredPrimary := cf / stats.TotalCapacity * float64(ch.numSegments)
		under, over := weight(desiredOwned, float64(ownership.owned[n]))
		if under > stats.MaxUnderOwnedPercentage {
			stats.MaxUnderOwnedPercentage = under
			stats.MaxUnderOwnedMember = m
		}
		if over > stats.MaxOverOwnedPercentage {
			stats.MaxOverOwnedPercentage = over
			stats.MaxOverOwnedMember = m
		}
		under, over = weight(desiredPrimary, float64(ownership.primaryOwned[n]))
		if under > stats.MaxUnderPrimaryPercentage {
			stats.MaxUnderPrimaryPercentage = under
			stats.MaxUnderPrimaryMember = m
		}
		if over > stats.MaxOverPrimaryPercentage {
			stats.MaxOverPrimaryPercentage = over
			stats.MaxOverPrimaryMember = m
		}
	}
	return stats
}

func weight(desired, actual float64) (under float64, over float64) {
	if desired > actual {
		under = 100.0 * (desired - actual) / desired
	} else if desired < actual {
		over = 100.0 * (actual - desired) / desired
	}
	return under, over
}

// MovedOwners counts the (segment, owner) pairs in to that aren't in from;
// roughly how many segment copies a cluster would have to transfer moving from
// one hash to the other. The hashes must have the same segment count.
func MovedOwners(from, to *ConsistentHash) int {
	moved := 0
	for segment := 0; segment < to.numSegments; segment++ {
		for _, n := range to.segmentOwners[segment] {
			if !from.IsSegmentOwner(to.members[n], segment) {
				moved++
			}
		}
	}
	return moved
}
