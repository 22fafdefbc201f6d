package segring

import (
	"math"
	"testing"
)

// checkWithin fails if any member's owned or primary owned count is more
// than the fraction given away from its capacity share.
func checkWithin(t *testing.T, ch *ConsistentHash, fraction float64) {
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
		if p := float64(stats.PrimaryOwned(m)); math.Abs(p-wantPrimary) > wantPrimary*fraction {
			t.Fatalf("%s %s primary owns %v segments; wanted %.2f +/- %.0f%%", ch.Kind(), m, p, wantPrimary, fraction*100)
		}
		if o := float64(stats.Owned(m)); math.Abs(o-wantOwned) > wantOwned*fraction {
			t.Fatalf("%s %s owns %v segments; wanted %.2f +/- %.0f%%", ch.Kind(), m, o, wantOwned, fraction*100)
		}
	}
}

func TestSyncBalance(t *testing.T) {
	for _, h := range []Hash{MurmurHash3{}, XXHash{}, SipHash{K0: 1, K1: 2}} {
		f := &SyncFactory{Hash: h}
		for _, memberCount := range []int{2, 5, 8} {
			ch, err := f.Create(2, 1024, testMembers(memberCount), nil)
			if err != nil {
				t.Fatal(err)
			}
			checkHash(t, ch)
			checkWithin(t, ch, 0.25)
			if ch.HashFunction() != h.Name() {
				t.Fatal(ch.HashFunction())
			}
		}
	}
}

func TestSyncBalanceFewSegmentsPerMember(t *testing.T) {
	f := &SyncFactory{}
	ch, err := f.Create(2, 256, testMembers(50), nil)
	if err != nil {
		t.Fatal(err)
	}
	checkHash(t, ch)
	checkWithin(t, ch, 0.25)

	members := testMembers(200)
	cfs := map[Address]float32{}
	for i, m := range members {
		cfs[m] = float32(1 + i%8)
	}
	ch, err = f.Create(3, 4096, members, cfs)
	if err != nil {
		t.Fatal(err)
	}
	checkHash(t, ch)
	checkWithin(t, ch, 0.25)
}

func TestSyncCapAndFloor(t *testing.T) {
	for _, c := range []struct {
		target     float64
		cap, floor int
	}{
		{10.24, 12, 8},
		{5.12, 6, 4},
		{13.65, 17, 11},
		{2.5, 3, 2},
		{0.4, 1, 0},
	} {
		if got := syncCap(c.target); got != c.cap {
			t.Fatalf("cap for %v is %d; wanted %d", c.target, got, c.cap)
		}
		if got := syncFloor(c.target); got != c.floor {
			t.Fatalf("floor for %v is %d; wanted %d", c.target, got, c.floor)
		}
	}
}

func TestSyncWeightedBalance(t *testing.T) {
	f := &SyncFactory{}
	members := testMembers(8)
	cfs := map[Address]float32{}
	for i, m := range members {
		cfs[m] = float32(1 + i%2)
	}
	ch, err := f.Create(2, 1200, members, cfs)
	if err != nil {
		t.Fatal(err)
	}
	checkHash(t, ch)
	checkWithin(t, ch, 0.25)
}

func TestSyncMovementBound(t *testing.T) {
	f := &SyncFactory{}
	members := testMembers(9)
	ch, err := f.Create(2, 256, members[:8], nil)
	if err != nil {
		t.Fatal(err)
	}
	limit := 256 * 2 * 35 / 100
	joined, err := f.UpdateMembers(ch, members, nil)
	if err != nil {
		t.Fatal(err)
	}
	joined = f.Rebalance(joined)
	checkHash(t, joined)
	if moved := MovedOwners(ch, joined); moved > limit {
		t.Fatalf("join moved %d owners; limit %d", moved, limit)
	}
	left, err := f.UpdateMembers(joined, members[1:], nil)
	if err != nil {
		t.Fatal(err)
	}
	left = f.Rebalance(left)
	checkHash(t, left)
	if moved := MovedOwners(joined, left); moved > limit {
		t.Fatalf("leave moved %d owners; limit %d", moved, limit)
	}
}

func TestSyncMemoryless(t *testing.T) {
	f := &SyncFactory{}
	members := testMembers(6)
	ch, err := f.Create(3, 128, members[:4], nil)
	if err != nil {
		t.Fatal(err)
	}
	ch, err = f.UpdateMembers(ch, members, nil)
	if err != nil {
		t.Fatal(err)
	}
	ch = f.Rebalance(ch)
	fresh, err := f.Create(3, 128, members, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ch.Equal(fresh) {
		t.Fatal("rebalance after a join differs from creating with the new members")
	}
	if f.Rebalance(ch) != ch {
		t.Fatal("rebalance is not idempotent")
	}
}

func TestSyncSortKeyPrefersCapacity(t *testing.T) {
	members := testMembers(2)
	b := newBuilder(1, 4000, members, []float32{1, 3})
	p := newSyncPlacer(b, DefaultHash, false)
	wins := 0
	for segment := 0; segment < 4000; segment++ {
		if p.order[segment][0] == 1 {
			wins++
		}
	}
	// The heavier member should have the lowest key about 3/4 of the time.
	if wins < 2800 || wins > 3200 {
		t.Fatalf("capacity 3 member won %d of 4000 segments", wins)
	}
}
