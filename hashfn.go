package segring

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dchest/siphash"
	"github.com/spaolacci/murmur3"
)

// Hash is a 64 bit hash function identified by name, so the name can be
// configured and persisted alongside the hashes that depend on it.
type Hash interface {
	Name() string
	Hash64(data []byte) uint64
}

// DefaultHash is used when no Hash is configured.
var DefaultHash Hash = MurmurHash3{}

type MurmurHash3 struct{}

func (MurmurHash3) Name() string {
	return "murmur3"
}

func (MurmurHash3) Hash64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

type XXHash struct{}

func (XXHash) Name() string {
	return "xxhash"
}

func (XXHash) Hash64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// SipHash is keyed; members of a cluster must agree on the keys. The zero
// value uses zero keys.
type SipHash struct {
	K0 uint64
	K1 uint64
}

func (SipHash) Name() string {
	return "siphash"
}

func (h SipHash) Hash64(data []byte) uint64 {
	return siphash.Hash(h.K0, h.K1, data)
}

// HashByName returns the hash function for the name given; an empty name
// returns DefaultHash.
func HashByName(name string) (Hash, error) {
	switch name {
	case "":
		return DefaultHash, nil
	case "murmur3":
		return MurmurHash3{}, nil
	case "xxhash":
		return XXHash{}, nil
	case "siphash":
		return SipHash{}, nil
	}
	return nil, configErrorf("unknown hash function %q", name)
}
