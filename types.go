package segring

import (
	"math"
	"sort"
	"strings"
)

// NodeIndexType is the type used when tracking member indexes.
//
// You can change this and NodeIndexNil and recompile to change the number of
// members allowed. This will impact memory usage, e.g. the segment owner table
// is a [][]NodeIndexType and so would use:
// segments * owners * unsafe.Sizeof(NodeIndexType)
type NodeIndexType uint16

// NodeIndexNil is the value used to represent no member assignment.
//
// It should be set to the maximum NodeIndexType value.
const NodeIndexNil NodeIndexType = math.MaxUint16

// MaxMembers is the largest member count a hash can hold.
const MaxMembers = int(NodeIndexNil)

// Address identifies a member. Implementations must be comparable, as they're
// used as map keys, and String must be unique per member since addresses are
// ordered by it.
type Address interface {
	String() string
}

// Location is where a member lives. Empty fields are treated as a single
// unnamed site, rack, or machine.
type Location struct {
	Site    string
	Rack    string
	Machine string
}

func (l Location) String() string {
	return l.Site + "/" + l.Rack + "/" + l.Machine
}

// Locator is implemented by addresses that know their location. The
// topology-aware factory uses it to spread owners apart.
type Locator interface {
	Location() Location
}

// LocationOf returns the location of the address, or the zero Location if the
// address isn't a Locator.
func LocationOf(a Address) Location {
	if l, ok := a.(Locator); ok {
		return l.Location()
	}
	return Location{}
}

// NodeAddress is a simple Address carrying a name and an optional location.
type NodeAddress struct {
	Name    string
	Site    string
	Rack    string
	Machine string
}

func (a NodeAddress) String() string {
	return a.Name
}

func (a NodeAddress) Location() Location {
	return Location{Site: a.Site, Rack: a.Rack, Machine: a.Machine}
}

// ParseNodeAddress parses "name" or "name@site/rack/machine". Missing
// trailing location parts are left empty.
func ParseNodeAddress(s string) (NodeAddress, error) {
	name, loc, hasLoc := strings.Cut(s, "@")
	if name == "" {
		return NodeAddress{}, configErrorf("empty node name in %q", s)
	}
	a := NodeAddress{Name: name}
	if hasLoc {
		parts := strings.SplitN(loc, "/", 3)
		a.Site = parts[0]
		if len(parts) > 1 {
			a.Rack = parts[1]
		}
		if len(parts) > 2 {
			a.Machine = parts[2]
		}
	}
	return a, nil
}

// Addresses is a convenience for building member lists from names.
func Addresses(names ...string) []Address {
	rv := make([]Address, len(names))
	for i, n := range names {
		rv[i] = NodeAddress{Name: n}
	}
	return rv
}

func sortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })
}
