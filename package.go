// Package segring provides a way to assign the segments of a partitioned key
// space to the members of a cluster, picking which members own each segment
// and which of those owners is primary.
//
// An example would be a distributed in-memory cache, storing copies of each
// entry on a couple of servers, where every server must be able to tell
// independently which servers hold any given key.
//
// Everything in this package is a pure function over immutable values. A
// ConsistentHash is never modified once built; a Factory takes hashes and
// membership information and returns new hashes. Two nodes given the same
// inputs compute the same hash, so no coordination is needed to agree on
// ownership. Holding the "current" hash and swapping it as the cluster changes
// is left to the topology subpackage.
//
// Terms Used With This Package
//
// Member: A single unit within a cluster, identified by an Address. Usually a
// server process.
//
// Segment: A numeric value from 0 up to, but not including, the segment count.
// Keys are mapped to segments by a partitioner (see the partition
// subpackage) and segments are the unit of ownership.
//
// Owner: A member holding a copy of a segment's data. The first owner of a
// segment is its primary owner and the rest are backup owners.
//
// Capacity Factor: The relative size of a member as compared to other members.
// A member with a capacity factor of 2 should own about twice as many
// segments as a member with a capacity factor of 1. A capacity factor of 0
// means the member should never own anything.
//
// Factory: Produces hashes. There are four kinds: default, replicated, sync,
// and topology-aware. See the Kind constants.
//
// Rebalance: Computing a balanced assignment for the current members while
// moving as few owners as possible.
//
// Union: The merge of two hashes' owner lists, used while a cluster moves from
// one hash to the next so reads and writes reach every member that might have
// the data.
//
// Persistent UUID: A member identity that survives restarts. Hashes are
// persisted with persistent UUIDs rather than transport addresses and remapped
// onto live addresses when restored.
package segring
