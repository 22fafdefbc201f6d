package segring

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func testHash() *ConsistentHash {
	members := Addresses("A", "B", "C")
	return newConsistentHash(KindDefault, 2, members, []float32{1, 2, 0}, [][]NodeIndexType{
		{0, 1},
		{1, 0},
		{1},
		{},
	}, "murmur3")
}

func TestSegmentOutOfRange(t *testing.T) {
	ch := testHash()
	b := NodeAddress{Name: "B"}
	for _, segment := range []int{-1, 4, 1 << 20} {
		if _, err := ch.PrimaryOwner(segment); !errors.Is(err, ErrConfiguration) {
			t.Fatal(segment, err)
		}
		if ch.IsSegmentOwner(b, segment) {
			t.Fatal(segment)
		}
		func() {
			defer func() {
				r := recover()
				if r == nil || !strings.Contains(fmt.Sprint(r), "out of range") {
					t.Fatal(segment, r)
				}
			}()
			ch.LocateOwnersForSegment(segment)
		}()
	}
}

func TestConsistentHashAccessors(t *testing.T) {
	ch := testHash()
	if ch.NumSegments() != 4 || ch.NumOwners() != 2 || ch.Kind() != KindDefault || ch.HashFunction() != "murmur3" {
		t.Fatal(ch.NumSegments(), ch.NumOwners(), ch.Kind(), ch.HashFunction())
	}
	members := ch.Members()
	members[0] = NodeAddress{Name: "Z"}
	if ch.Members()[0].String() != "A" {
		t.Fatal("Members() exposed the internal slice")
	}
	owners := ch.LocateOwnersForSegment(1)
	if len(owners) != 2 || owners[0].String() != "B" || owners[1].String() != "A" {
		t.Fatalf("LocateOwnersForSegment(1) gave %v", owners)
	}
	p, err := ch.PrimaryOwner(2)
	if err != nil || p.String() != "B" {
		t.Fatal(p, err)
	}
	_, err = ch.PrimaryOwner(3)
	if !errors.Is(err, ErrNoOwner) {
		t.Fatal(err)
	}
	var nerr *NoOwnerError
	if !errors.As(err, &nerr) || nerr.Segment != 3 {
		t.Fatal(err)
	}
	b := NodeAddress{Name: "B"}
	if s := ch.SegmentsForOwner(b); len(s) != 3 || s[0] != 0 || s[1] != 1 || s[2] != 2 {
		t.Fatalf("SegmentsForOwner(B) gave %v", s)
	}
	if s := ch.PrimarySegmentsForOwner(b); len(s) != 2 || s[0] != 1 || s[1] != 2 {
		t.Fatalf("PrimarySegmentsForOwner(B) gave %v", s)
	}
	if s := ch.SegmentsForOwner(NodeAddress{Name: "nobody"}); s != nil {
		t.Fatal(s)
	}
	if !ch.IsSegmentOwner(b, 0) || ch.IsSegmentOwner(b, 3) || ch.IsSegmentOwner(NodeAddress{Name: "nobody"}, 0) {
		t.Fatal("IsSegmentOwner")
	}
	if cf := ch.CapacityFactor(b); cf != 2 {
		t.Fatal(cf)
	}
	if cf := ch.CapacityFactor(NodeAddress{Name: "nobody"}); cf != 0 {
		t.Fatal(cf)
	}
	cfs := ch.CapacityFactors()
	if len(cfs) != 3 || cfs[NodeAddress{Name: "C"}] != 0 {
		t.Fatal(cfs)
	}
	if !strings.Contains(ch.String(), "B: 2+1") {
		t.Fatal(ch.String())
	}
}

func TestConsistentHashUniformCapacity(t *testing.T) {
	ch := newConsistentHash(KindSync, 1, Addresses("A"), nil, [][]NodeIndexType{{0}}, "")
	if ch.CapacityFactors() != nil {
		t.Fatal(ch.CapacityFactors())
	}
	if ch.CapacityFactor(NodeAddress{Name: "A"}) != 1 {
		t.Fatal(ch.CapacityFactor(NodeAddress{Name: "A"}))
	}
}

func TestConsistentHashEqual(t *testing.T) {
	a := newConsistentHash(KindDefault, 2, Addresses("A", "B"), nil, [][]NodeIndexType{{0, 1}, {1, 0}}, "")
	// Same assignment with the members listed the other way around.
	b := newConsistentHash(KindDefault, 2, Addresses("B", "A"), nil, [][]NodeIndexType{{1, 0}, {0, 1}}, "")
	if !a.Equal(b) || !b.Equal(a) {
		t.Fatal("hashes differing only in member order should be equal")
	}
	c := newConsistentHash(KindDefault, 2, Addresses("A", "B"), nil, [][]NodeIndexType{{1, 0}, {1, 0}}, "")
	if a.Equal(c) {
		t.Fatal("hashes with different primaries should not be equal")
	}
	d := newConsistentHash(KindDefault, 2, Addresses("A", "B"), []float32{1, 2}, [][]NodeIndexType{{0, 1}, {1, 0}}, "")
	if a.Equal(d) {
		t.Fatal("hashes with different capacity factors should not be equal")
	}
	e := newConsistentHash(KindDefault, 2, Addresses("A", "B"), []float32{1, 1}, [][]NodeIndexType{{0, 1}, {1, 0}}, "")
	if !a.Equal(e) {
		t.Fatal("explicit capacity factors of 1 should equal the default")
	}
	if a.Equal(nil) {
		t.Fatal("equal to nil")
	}
}

func TestConsistentHashRemapAddresses(t *testing.T) {
	ch := testHash()
	remapped, err := ch.RemapAddresses(func(a Address) (Address, bool) {
		return NodeAddress{Name: "x" + a.String()}, true
	})
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := remapped.PrimaryOwner(1); p.String() != "xB" {
		t.Fatal(p)
	}
	if remapped.CapacityFactor(NodeAddress{Name: "xB"}) != 2 {
		t.Fatal(remapped.CapacityFactors())
	}
	_, err = ch.RemapAddresses(func(a Address) (Address, bool) {
		return a, a.String() != "C"
	})
	var uerr *UnmappableMemberError
	if !errors.As(err, &uerr) || uerr.Member.String() != "C" || !errors.Is(err, ErrUnmappableMember) {
		t.Fatal(err)
	}
	if _, err = ch.RemapAddresses(func(a Address) (Address, bool) { return NodeAddress{Name: "same"}, true }); err == nil {
		t.Fatal("mapping every member to the same address should fail")
	}
}

func TestConsistentHashVerify(t *testing.T) {
	for _, tc := range []struct {
		name   string
		cfs    []float32
		owners [][]NodeIndexType
	}{
		{"duplicate", nil, [][]NodeIndexType{{0, 0}}},
		{"not a member", nil, [][]NodeIndexType{{5}}},
		{"zero capacity owner", []float32{0, 1}, [][]NodeIndexType{{0}}},
		{"no owners", nil, [][]NodeIndexType{{}}},
	} {
		ch := newConsistentHash(KindDefault, 2, Addresses("A", "B"), tc.cfs, tc.owners, "")
		if err := ch.Verify(); err == nil {
			t.Fatalf("Verify passed a %s hash", tc.name)
		}
	}
	if err := testHash().Verify(); err == nil {
		t.Fatal("Verify passed a hash with an empty segment")
	}
}

func TestParseNodeAddress(t *testing.T) {
	a, err := ParseNodeAddress("n1@east/r7/m3")
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != "n1" || a.Location() != (Location{Site: "east", Rack: "r7", Machine: "m3"}) {
		t.Fatal(a)
	}
	a, err = ParseNodeAddress("n2@west")
	if err != nil {
		t.Fatal(err)
	}
	if a.Site != "west" || a.Rack != "" || a.Machine != "" {
		t.Fatal(a)
	}
	if _, err = ParseNodeAddress("@west"); !errors.Is(err, ErrConfiguration) {
		t.Fatal(err)
	}
	if LocationOf(PersistentUUID{}) != (Location{}) {
		t.Fatal("non-locator address has a location")
	}
}
