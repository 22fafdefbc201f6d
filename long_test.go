// Will be run if environment long_test=true
// Probably best to run as:
// $ long_test=true go test -timeout 30m -run Long

package segring

import (
	"fmt"
	"os"
	"testing"
	"time"
)

var RUN_LONG = false

func init() {
	if os.Getenv("long_test") == "true" {
		RUN_LONG = true
	}
}

func TestLongFactories(t *testing.T) {
	if !RUN_LONG {
		t.Skip("skipping unless env long_test=true")
	}
	fmt.Println("          kind members segments maxunder maxover  moved seconds")
	for _, f := range allFactories() {
		for _, varyingCapacities := range []bool{false, true} {
			for members := 10; members <= 200; {
				longFactoryTester(t, f, members, varyingCapacities)
				if members < 100 {
					members += 10
				} else {
					members += 100
				}
			}
		}
	}
}

func longFactoryTester(t *testing.T, f Factory, memberCount int, varyingCapacities bool) {
	members := testMembers(memberCount + 1)
	var cfs map[Address]float32
	if varyingCapacities {
		cfs = map[Address]float32{}
		for i, m := range members {
			cfs[m] = float32(1 + i%3)
		}
	}
	numSegments := memberCount * 64
	start := time.Now()
	ch, err := f.Create(3, numSegments, members[:memberCount], cfs)
	if err != nil {
		t.Fatal(err)
	}
	checkHash(t, ch)
	// One member joins, then the first leaves.
	joined, err := f.UpdateMembers(ch, members, cfs)
	if err != nil {
		t.Fatal(err)
	}
	joined = f.Rebalance(joined)
	checkHash(t, joined)
	left, err := f.UpdateMembers(joined, members[1:], cfs)
	if err != nil {
		t.Fatal(err)
	}
	left = f.Rebalance(left)
	checkHash(t, left)
	stats := left.Stats()
	moved := MovedOwners(ch, joined) + MovedOwners(joined, left)
	fmt.Printf("%14s %7d %8d %7.02f%% %6.02f%% %6d %7.03f\n", f.Kind(), memberCount, numSegments, stats.MaxUnderOwnedPercentage, stats.MaxOverOwnedPercentage, moved, float64(time.Since(start))/float64(time.Second))
}
