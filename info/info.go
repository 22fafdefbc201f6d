// Package info produces a detailed health report of a segring hash: balance
// per member and per owner position, segments whose owners share a failure
// domain, and how heavily pairs of members mirror each other.
package info

import (
	"fmt"
	"math"
	"time"

	"github.com/gholt/segring"
)

// Tier is a level of failure domain a segment's owners can share.
type Tier int

const (
	TierSite Tier = iota
	TierRack
	TierMachine
	TierCount
)

func (t Tier) String() string {
	switch t {
	case TierSite:
		return "site"
	case TierRack:
		return "rack"
	case TierMachine:
		return "machine"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

type Info struct {
	Time          time.Time
	Kind          segring.Kind
	HashFunction  string
	Members       []segring.Address
	MemberCount   int
	EligibleCount int
	// DrainingCount is the number of members with a capacity factor of 0.
	DrainingCount   int
	TotalCapacity   float64
	NumOwners       int
	ActualNumOwners int
	NumSegments     int
	// AssignmentCount is the total number of (segment, owner) pairs.
	AssignmentCount int
	// MostUnderweight and MostOverweight are fractions of desired; -0.1 is
	// 10% under.
	MostUnderweight        float64
	MostUnderweightMember  int
	MostOverweight         float64
	MostOverweightMember   int
	PrimaryMostUnderweight float64
	PrimaryUnderMember     int
	PrimaryMostOverweight  float64
	PrimaryOverMember      int
	// OwnerToMost is, per owner position, the highest fraction of any
	// member's assignments that sit at that position.
	OwnerToMost             []float64
	OwnerToMostCount        []int
	OwnerToMostMember       []int
	MemberToAssignmentCount []int
	MemberToPrimaryCount    []int
	// TierToRiskySegments lists, per tier, the segments with two or more
	// owners in the same site, rack, or machine, when the members span more
	// than one.
	TierToRiskySegments [TierCount][]*RiskySegment
	// WorstMirror is the pair of members that share the largest fraction of
	// one member's segments. Only filled in when mirroring was requested.
	WorstMirrorPercentage float64
	WorstMirrorCount      int
	WorstMirrorMemberA    int
	WorstMirrorMemberB    int
	Warnings              []string
}

type RiskySegment struct {
	Segment int
	Members []int
}

func tierKey(loc segring.Location, tier Tier) segring.Location {
	switch tier {
	case TierSite:
		return segring.Location{Site: loc.Site}
	case TierRack:
		return segring.Location{Site: loc.Site, Rack: loc.Rack}
	}
	return loc
}

// New reports on ch. Mirroring compares every pair of members, which is
// quadratic in the member count.
func New(ch *segring.ConsistentHash, mirroring bool) (*Info, error) {
	if err := ch.Verify(); err != nil {
		return nil, err
	}
	info := &Info{
		Time:         time.Now(),
		Kind:         ch.Kind(),
		HashFunction: ch.HashFunction(),
		Members:      ch.Members(),
		NumOwners:    ch.NumOwners(),
		NumSegments:  ch.NumSegments(),
	}
	info.MemberCount = len(info.Members)
	index := make(map[segring.Address]int, info.MemberCount)
	capacities := make([]float64, info.MemberCount)
	locations := make([]segring.Location, info.MemberCount)
	for i, m := range info.Members {
		index[m] = i
		capacities[i] = float64(ch.CapacityFactor(m))
		locations[i] = segring.LocationOf(m)
		if capacities[i] > 0 {
			info.EligibleCount++
			info.TotalCapacity += capacities[i]
		} else {
			info.DrainingCount++
		}
	}
	info.ActualNumOwners = info.NumOwners
	if info.Kind == segring.KindReplicated || info.EligibleCount < info.ActualNumOwners {
		info.ActualNumOwners = info.EligibleCount
	}
	if info.EligibleCount == 0 {
		info.Warnings = append(info.Warnings, "no member has a capacity factor above 0; no segment has an owner")
		return info, nil
	}
	// A tier is only worth reporting on if the eligible members span more
	// than one of it.
	var tierSpans [TierCount]bool
	for tier := TierSite; tier < TierCount; tier++ {
		seen := map[segring.Location]bool{}
		for i, loc := range locations {
			if capacities[i] > 0 {
				seen[tierKey(loc, tier)] = true
			}
		}
		tierSpans[tier] = len(seen) > 1
	}
	info.MemberToAssignmentCount = make([]int, info.MemberCount)
	info.MemberToPrimaryCount = make([]int, info.MemberCount)
	ownerToMemberToCount := make([][]int, info.ActualNumOwners)
	for owner := range ownerToMemberToCount {
		ownerToMemberToCount[owner] = make([]int, info.MemberCount)
	}
	for segment := 0; segment < info.NumSegments; segment++ {
		owners := ch.LocateOwnersForSegment(segment)
		if len(owners) < info.ActualNumOwners {
			info.Warnings = append(info.Warnings, fmt.Sprintf("segment %d has %d owners; wanted %d", segment, len(owners), info.ActualNumOwners))
		}
		ownerIndexes := make([]int, len(owners))
		for owner, a := range owners {
			m := index[a]
			ownerIndexes[owner] = m
			info.AssignmentCount++
			info.MemberToAssignmentCount[m]++
			if owner == 0 {
				info.MemberToPrimaryCount[m]++
			}
			if owner < len(ownerToMemberToCount) {
				ownerToMemberToCount[owner][m]++
			}
		}
		for tier := TierSite; tier < TierCount; tier++ {
			if !tierSpans[tier] {
				continue
			}
			var risky *RiskySegment
			used := map[segring.Location]bool{}
			for _, m := range ownerIndexes {
				key := tierKey(locations[m], tier)
				if used[key] {
					if risky == nil {
						risky = &RiskySegment{Segment: segment}
						info.TierToRiskySegments[tier] = append(info.TierToRiskySegments[tier], risky)
					}
					risky.Members = append(risky.Members, m)
				}
				used[key] = true
			}
		}
	}
	info.MostOverweight = -math.MaxFloat64
	info.MostUnderweight = math.MaxFloat64
	info.PrimaryMostOverweight = -math.MaxFloat64
	info.PrimaryMostUnderweight = math.MaxFloat64
	info.OwnerToMost = make([]float64, info.ActualNumOwners)
	info.OwnerToMostCount = make([]int, info.ActualNumOwners)
	info.OwnerToMostMember = make([]int, info.ActualNumOwners)
	info.WorstMirrorCount = -1
	info.WorstMirrorMemberA = -1
	info.WorstMirrorMemberB = -1
	var memberToSegments [][]int
	if mirroring {
		memberToSegments = make([][]int, info.MemberCount)
		for m, a := range info.Members {
			memberToSegments[m] = ch.SegmentsForOwner(a)
		}
	}
	for m := 0; m < info.MemberCount; m++ {
		count := info.MemberToAssignmentCount[m]
		if capacities[m] == 0 {
			if count != 0 {
				return nil, fmt.Errorf("member %s has a capacity factor of 0 but owns %d segments", info.Members[m], count)
			}
			continue
		}
		share := capacities[m] / info.TotalCapacity
		desire := math.Min(float64(info.NumSegments), share*float64(info.NumSegments*info.ActualNumOwners))
		weight := (float64(count) - desire) / desire
		if weight > info.MostOverweight {
			info.MostOverweight = weight
			info.MostOverweightMember = m
		}
		if weight < info.MostUnderweight {
			info.MostUnderweight = weight
			info.MostUnderweightMember = m
		}
		desire = share * float64(info.NumSegments)
		weight = (float64(info.MemberToPrimaryCount[m]) - desire) / desire
		if weight > info.PrimaryMostOverweight {
			info.PrimaryMostOverweight = weight
			info.PrimaryOverMember = m
		}
		if weight < info.PrimaryMostUnderweight {
			info.PrimaryMostUnderweight = weight
			info.PrimaryUnderMember = m
		}
		if count == 0 {
			info.Warnings = append(info.Warnings, fmt.Sprintf("member %s has capacity but owns nothing; it may need a rebalance", info.Members[m]))
			continue
		}
		for owner := 0; owner < info.ActualNumOwners; owner++ {
			ownerCount := ownerToMemberToCount[owner][m]
			if most := float64(ownerCount) / float64(count); most > info.OwnerToMost[owner] {
				info.OwnerToMost[owner] = most
				info.OwnerToMostCount[owner] = ownerCount
				info.OwnerToMostMember[owner] = m
			}
		}
		if mirroring && info.ActualNumOwners > 1 {
			used := make([]bool, info.NumSegments)
			for _, segment := range memberToSegments[m] {
				used[segment] = true
			}
			for b := m + 1; b < info.MemberCount; b++ {
				countB := info.MemberToAssignmentCount[b]
				if countB == 0 {
					continue
				}
				mirrorCount := 0
				for _, segment := range memberToSegments[b] {
					if used[segment] {
						mirrorCount++
					}
				}
				worst := math.Max(float64(mirrorCount)/float64(count), float64(mirrorCount)/float64(countB))
				if worst > info.WorstMirrorPercentage {
					info.WorstMirrorPercentage = worst
					info.WorstMirrorCount = mirrorCount
					info.WorstMirrorMemberA = m
					info.WorstMirrorMemberB = b
				}
			}
		}
	}
	if info.Kind == segring.KindTopologyAware {
		for tier := TierSite; tier < TierCount; tier++ {
			if n := len(info.TierToRiskySegments[tier]); n > 0 && !tierSpans[tier] {
				info.Warnings = append(info.Warnings, fmt.Sprintf("%d segments have owners sharing a %s", n, tier))
			}
		}
	}
	return info, nil
}
