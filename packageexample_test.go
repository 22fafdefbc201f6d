package segring_test

import (
	"fmt"

	"github.com/gholt/segring"
)

func Example_overview() {
	// We'll create a replicated hash, where every member owns every segment
	// and only the primary owner rotates, with three members ABC:
	f := &segring.ReplicatedFactory{}
	ch, err := f.Create(2, 6, segring.Addresses("A", "B", "C"), nil)
	if err != nil {
		panic(err)
	}
	// Print out the owners: segments horizontally, owners vertically, with
	// the primary owner on the first row:
	// `  S0 S1 S2 S3 S4 S5
	// O0  A  B  C  A  B  C
	// O1  B  A  A  B  A  A
	// O2  C  C  B  C  C  B
	fmt.Print("` ")
	for segment := 0; segment < ch.NumSegments(); segment++ {
		fmt.Printf(" S%d", segment)
	}
	fmt.Println()
	for owner := 0; owner < 3; owner++ {
		fmt.Printf("O%d", owner)
		for segment := 0; segment < ch.NumSegments(); segment++ {
			fmt.Print("  " + ch.LocateOwnersForSegment(segment)[owner].String())
		}
		fmt.Println()
	}
	// Output:
	// `  S0 S1 S2 S3 S4 S5
	// O0  A  B  C  A  B  C
	// O1  B  A  A  B  A  A
	// O2  C  C  B  C  C  B
}

func Example_capacityFactors() {
	// A member with a capacity factor of 0 is kept as a member but never
	// owns anything.
	f := &segring.ReplicatedFactory{}
	members := segring.Addresses("A", "B", "C")
	ch, err := f.Create(2, 4, members, map[segring.Address]float32{members[1]: 0, members[2]: 3})
	if err != nil {
		panic(err)
	}
	fmt.Println(ch)
	// Output:
	// replicated ConsistentHash{numSegments=4, numOwners=2, members=[A: 1+3, B: 0+0, C: 3+1]}
}

func ExampleNameBasedPersistentUUID() {
	fmt.Println(segring.NameBasedPersistentUUID("node1"))
	// Output:
	// 035ec197-a9fa-56d8-9f00-072b6fcc78bf
}
