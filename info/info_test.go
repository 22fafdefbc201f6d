package info

import (
	"fmt"
	"math"
	"testing"

	"github.com/gholt/segring"
)

func sitedMembers(sites, perSite int) []segring.Address {
	var members []segring.Address
	for s := 0; s < sites; s++ {
		for n := 0; n < perSite; n++ {
			members = append(members, segring.NodeAddress{
				Name:    fmt.Sprintf("s%dn%d", s, n),
				Site:    fmt.Sprintf("s%d", s),
				Rack:    fmt.Sprintf("r%d", n),
				Machine: "m0",
			})
		}
	}
	return members
}

func TestReplicated(t *testing.T) {
	ch, err := (&segring.ReplicatedFactory{}).Create(2, 60, segring.Addresses("a", "b", "c"), nil)
	if err != nil {
		t.Fatal(err)
	}
	info, err := New(ch, true)
	if err != nil {
		t.Fatal(err)
	}
	if info.MemberCount != 3 || info.EligibleCount != 3 || info.ActualNumOwners != 3 {
		t.Fatal(info.MemberCount, info.EligibleCount, info.ActualNumOwners)
	}
	if info.AssignmentCount != 180 {
		t.Fatal(info.AssignmentCount)
	}
	if math.Abs(info.MostOverweight) > 1e-9 || math.Abs(info.MostUnderweight) > 1e-9 {
		t.Fatal(info.MostOverweight, info.MostUnderweight)
	}
	for m, count := range info.MemberToPrimaryCount {
		if count != 20 {
			t.Fatal(info.Members[m], count)
		}
	}
	if info.WorstMirrorPercentage != 1 || info.WorstMirrorCount != 60 {
		t.Fatal(info.WorstMirrorPercentage, info.WorstMirrorCount)
	}
	if len(info.Warnings) != 0 {
		t.Fatal(info.Warnings)
	}
}

func TestRiskySegments(t *testing.T) {
	// Three owners across two sites means every segment has two owners in
	// one site.
	ch, err := (&segring.DefaultFactory{}).Create(3, 64, sitedMembers(2, 2), nil)
	if err != nil {
		t.Fatal(err)
	}
	info, err := New(ch, false)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(info.TierToRiskySegments[TierSite]); n != 64 {
		t.Fatal(n)
	}
	for _, risky := range info.TierToRiskySegments[TierSite] {
		if len(risky.Members) != 1 {
			t.Fatal(risky.Segment, risky.Members)
		}
	}
	if info.WorstMirrorMemberA != -1 {
		t.Fatal("mirroring was reported without being asked for")
	}
}

func TestTopologyAwareHasNoRiskySites(t *testing.T) {
	ch, err := (&segring.TopologyAwareSyncFactory{}).Create(2, 128, sitedMembers(2, 3), nil)
	if err != nil {
		t.Fatal(err)
	}
	info, err := New(ch, false)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(info.TierToRiskySegments[TierSite]); n != 0 {
		t.Fatal(n, info.TierToRiskySegments[TierSite][0])
	}
}

func TestSingleSiteIsNotRisky(t *testing.T) {
	ch, err := (&segring.SyncFactory{}).Create(2, 32, segring.Addresses("a", "b", "c"), nil)
	if err != nil {
		t.Fatal(err)
	}
	info, err := New(ch, false)
	if err != nil {
		t.Fatal(err)
	}
	for tier := TierSite; tier < TierCount; tier++ {
		if len(info.TierToRiskySegments[tier]) != 0 {
			t.Fatal(tier)
		}
	}
}

func TestDraining(t *testing.T) {
	members := segring.Addresses("a", "b", "c", "d")
	ch, err := (&segring.DefaultFactory{}).Create(2, 100, members, map[segring.Address]float32{members[3]: 0})
	if err != nil {
		t.Fatal(err)
	}
	info, err := New(ch, true)
	if err != nil {
		t.Fatal(err)
	}
	if info.DrainingCount != 1 || info.EligibleCount != 3 || info.TotalCapacity != 3 {
		t.Fatal(info.DrainingCount, info.EligibleCount, info.TotalCapacity)
	}
	if info.MemberToAssignmentCount[3] != 0 {
		t.Fatal(info.MemberToAssignmentCount)
	}
	if math.IsInf(info.MostOverweight, 0) || info.MostOverweight > 0.5 {
		t.Fatal(info.MostOverweight)
	}
	if info.WorstMirrorMemberA == 3 || info.WorstMirrorMemberB == 3 {
		t.Fatal("draining member reported as a mirror")
	}
}

func TestTierString(t *testing.T) {
	if TierRack.String() != "rack" || Tier(7).String() != "Tier(7)" {
		t.Fatal(TierRack, Tier(7))
	}
}
