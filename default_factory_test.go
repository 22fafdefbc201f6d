package segring

import (
	"math"
	"testing"
)

// checkDefaultBalance checks the bounds the default factory's rebalance aims
// for, loosened by a segment for rounding in the weighted case.
func checkDefaultBalance(t *testing.T, ch *ConsistentHash) {
	t.Helper()
	stats := NewOwnershipStatistics(ch)
	var total float64
	for _, m := range ch.Members() {
		total += float64(ch.CapacityFactor(m))
	}
	actual := ch.NumOwners()
	if len(ch.Members()) < actual {
		actual = len(ch.Members())
	}
	for _, m := range ch.Members() {
		share := float64(ch.CapacityFactor(m)) / total
		wantPrimary := share * float64(ch.NumSegments())
		wantOwned := math.Min(float64(ch.NumSegments()), share*float64(ch.NumSegments()*actual))
		if p := float64(stats.PrimaryOwned(m)); p < math.Floor(wantPrimary)-1 || p > math.Ceil(wantPrimary)+1 {
			t.Fatalf("%s primary owns %v segments; wanted about %.2f\n%s", m, p, wantPrimary, ch)
		}
		if o := float64(stats.Owned(m)); o < math.Floor(wantOwned)-1 || o > math.Ceil(wantOwned)+1 {
			t.Fatalf("%s owns %v segments; wanted about %.2f\n%s", m, o, wantOwned, ch)
		}
	}
}

func TestDefaultSingleMember(t *testing.T) {
	f := &DefaultFactory{}
	a := NodeAddress{Name: "A"}
	ch, err := f.Create(2, 60, []Address{a}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for segment := 0; segment < 60; segment++ {
		owners := ch.LocateOwnersForSegment(segment)
		if len(owners) != 1 || owners[0] != a {
			t.Fatalf("segment %d owners %v instead of [A]", segment, owners)
		}
	}
	if len(ch.SegmentsForOwner(a)) != 60 {
		t.Fatal(len(ch.SegmentsForOwner(a)))
	}
}

func TestDefaultJoinSecondMember(t *testing.T) {
	f := &DefaultFactory{}
	a, b := NodeAddress{Name: "A"}, NodeAddress{Name: "B"}
	ch, err := f.Create(2, 60, []Address{a}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ch2, err := f.UpdateMembers(ch, []Address{a, b}, nil)
	if err != nil {
		t.Fatal(err)
	}
	checkHash(t, ch2)
	ch3 := f.Rebalance(ch2)
	checkHash(t, ch3)
	stats := NewOwnershipStatistics(ch3)
	if stats.PrimaryOwned(a) != 30 || stats.PrimaryOwned(b) != 30 {
		t.Fatalf("primary owned %d and %d instead of 30 and 30", stats.PrimaryOwned(a), stats.PrimaryOwned(b))
	}
	if stats.Owned(a) != 60 || stats.Owned(b) != 60 {
		t.Fatalf("owned %d and %d instead of 60 and 60", stats.Owned(a), stats.Owned(b))
	}
	if stats.SumOwned() != 120 || stats.SumPrimaryOwned() != 60 {
		t.Fatal(stats.SumOwned(), stats.SumPrimaryOwned())
	}
}

func TestDefaultCapacityFactors(t *testing.T) {
	f := &DefaultFactory{}
	a, b := NodeAddress{Name: "A"}, NodeAddress{Name: "B"}
	ch, err := f.Create(1, 60, []Address{a, b}, map[Address]float32{a: 0.5, b: 1.5})
	if err != nil {
		t.Fatal(err)
	}
	checkHash(t, ch)
	stats := NewOwnershipStatistics(ch)
	if p := stats.PrimaryOwned(a); p < 14 || p > 16 {
		t.Fatalf("A primary owns %d instead of about 15", p)
	}
	if p := stats.PrimaryOwned(b); p < 44 || p > 46 {
		t.Fatalf("B primary owns %d instead of about 45", p)
	}
}

func TestDefaultBalance(t *testing.T) {
	f := &DefaultFactory{}
	for _, memberCount := range []int{2, 3, 5, 8, 20} {
		for _, numOwners := range []int{1, 2, 3} {
			ch, err := f.Create(numOwners, 256, testMembers(memberCount), nil)
			if err != nil {
				t.Fatal(err)
			}
			checkHash(t, ch)
			checkDefaultBalance(t, ch)
		}
	}
	members := testMembers(6)
	cfs := map[Address]float32{members[0]: 1, members[1]: 2, members[2]: 3, members[3]: 1, members[4]: 2, members[5]: 3}
	ch, err := f.Create(2, 240, members, cfs)
	if err != nil {
		t.Fatal(err)
	}
	checkHash(t, ch)
	checkDefaultBalance(t, ch)
}

func TestDefaultMovementBound(t *testing.T) {
	f := &DefaultFactory{}
	members := testMembers(9)
	ch, err := f.Create(2, 256, members[:8], nil)
	if err != nil {
		t.Fatal(err)
	}
	limit := 256 * 2 / 4
	joined, err := f.UpdateMembers(ch, members, nil)
	if err != nil {
		t.Fatal(err)
	}
	joined = f.Rebalance(joined)
	checkHash(t, joined)
	checkDefaultBalance(t, joined)
	if moved := MovedOwners(ch, joined); moved > limit {
		t.Fatalf("join moved %d owners; limit %d", moved, limit)
	}
	left, err := f.UpdateMembers(joined, append(append([]Address{}, members[:3]...), members[4:]...), nil)
	if err != nil {
		t.Fatal(err)
	}
	left = f.Rebalance(left)
	checkHash(t, left)
	checkDefaultBalance(t, left)
	if moved := MovedOwners(joined, left); moved > limit {
		t.Fatalf("leave moved %d owners; limit %d", moved, limit)
	}
}

func TestDefaultRebalanceIdempotent(t *testing.T) {
	f := &DefaultFactory{}
	members := testMembers(8)
	ch, err := f.Create(2, 256, members[:5], nil)
	if err != nil {
		t.Fatal(err)
	}
	ch, err = f.UpdateMembers(ch, members, nil)
	if err != nil {
		t.Fatal(err)
	}
	ch = f.Rebalance(ch)
	if ch2 := f.Rebalance(ch); ch2 != ch {
		t.Fatalf("second rebalance moved %d owners", MovedOwners(ch, ch2))
	}
}

func TestDefaultUpdateMembersFillsLostSegments(t *testing.T) {
	f := &DefaultFactory{}
	members := testMembers(4)
	ch, err := f.Create(2, 64, members, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Losing half the members at once leaves some segments with no owners at
	// all; they must still end up with two.
	ch2, err := f.UpdateMembers(ch, members[2:], nil)
	if err != nil {
		t.Fatal(err)
	}
	checkHash(t, ch2)
}
