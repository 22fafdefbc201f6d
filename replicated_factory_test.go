package segring

import "testing"

func TestReplicatedOwnsEverything(t *testing.T) {
	f := &ReplicatedFactory{}
	members := Addresses("A", "B", "C")
	for _, numOwners := range []int{1, 2, 7} {
		ch, err := f.Create(numOwners, 100, members, nil)
		if err != nil {
			t.Fatal(err)
		}
		checkHash(t, ch)
		for _, m := range members {
			if len(ch.SegmentsForOwner(m)) != 100 {
				t.Fatalf("%s owns %d segments instead of 100", m, len(ch.SegmentsForOwner(m)))
			}
		}
		stats := NewOwnershipStatistics(ch)
		for _, m := range members {
			if p := stats.PrimaryOwned(m); p < 33 || p > 34 {
				t.Fatalf("%s primary owns %d segments", m, p)
			}
		}
	}
}

func TestReplicatedWeightedPrimaries(t *testing.T) {
	f := &ReplicatedFactory{}
	members := Addresses("A", "B", "C")
	ch, err := f.Create(2, 60, members, map[Address]float32{members[0]: 1, members[1]: 2, members[2]: 3})
	if err != nil {
		t.Fatal(err)
	}
	stats := NewOwnershipStatistics(ch)
	for i, want := range []int{10, 20, 30} {
		if p := stats.PrimaryOwned(members[i]); p != want {
			t.Fatalf("%s primary owns %d instead of %d", members[i], p, want)
		}
	}
}

func TestReplicatedUpdateKeepsPrimaries(t *testing.T) {
	f := &ReplicatedFactory{}
	members := Addresses("A", "B", "C")
	ch, err := f.Create(2, 30, members, nil)
	if err != nil {
		t.Fatal(err)
	}
	ch2, err := f.UpdateMembers(ch, []Address{members[0], members[2]}, nil)
	if err != nil {
		t.Fatal(err)
	}
	checkHash(t, ch2)
	for segment := 0; segment < 30; segment++ {
		p, _ := ch.PrimaryOwner(segment)
		p2, _ := ch2.PrimaryOwner(segment)
		if p != members[1] && p2 != p {
			t.Fatalf("segment %d primary changed from %s to %s", segment, p, p2)
		}
	}
	stats := NewOwnershipStatistics(ch2)
	if stats.PrimaryOwned(members[0]) != 15 || stats.PrimaryOwned(members[2]) != 15 {
		t.Fatal(stats.PrimaryOwned(members[0]), stats.PrimaryOwned(members[2]))
	}
	// A joiner owns everything right away but gets no primaries until a
	// rebalance.
	d := NodeAddress{Name: "D"}
	ch3, err := f.UpdateMembers(ch2, []Address{members[0], members[2], d}, nil)
	if err != nil {
		t.Fatal(err)
	}
	checkHash(t, ch3)
	if len(ch3.PrimarySegmentsForOwner(d)) != 0 || len(ch3.SegmentsForOwner(d)) != 30 {
		t.Fatal(ch3)
	}
	ch4 := f.Rebalance(ch3)
	if p := len(ch4.PrimarySegmentsForOwner(d)); p != 10 {
		t.Fatalf("D primary owns %d after rebalance instead of 10", p)
	}
	if f.Rebalance(ch4) != ch4 {
		t.Fatal("rebalance is not idempotent")
	}
}
