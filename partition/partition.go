// Package partition maps keys onto the segments of a segring hash.
//
// A cluster must agree on the partitioner just as it agrees on the hash, so
// partitioners are selected by name from configuration with New.
package partition

import (
	"math"

	"github.com/gholt/segring"
	"github.com/howeyc/crc16"
)

// KeyPartitioner gives the segment a key belongs to.
type KeyPartitioner interface {
	NumSegments() int
	Segment(key []byte) int
}

// HashPartitioner splits the positive 31 bit hash space into equal, contiguous
// ranges, one per segment. Neighboring hash values land in the same segment.
type HashPartitioner struct {
	hash        segring.Hash
	numSegments int
	segmentSize uint32
}

func NewHashPartitioner(hash segring.Hash, numSegments int) (*HashPartitioner, error) {
	if numSegments < 1 {
		return nil, &segring.ConfigurationError{Msg: "the number of segments must be at least 1"}
	}
	if hash == nil {
		hash = segring.DefaultHash
	}
	return &HashPartitioner{
		hash:        hash,
		numSegments: numSegments,
		segmentSize: uint32(math.Ceil(float64(uint64(1)<<31) / float64(numSegments))),
	}, nil
}

func (p *HashPartitioner) NumSegments() int {
	return p.numSegments
}

func (p *HashPartitioner) Segment(key []byte) int {
	h := uint32(p.hash.Hash64(key)) & math.MaxInt32
	return int(h / p.segmentSize)
}

// CRC16Partitioner assigns keys to slots with crc16 modulo the segment count,
// the way Redis Cluster style stores do.
type CRC16Partitioner struct {
	numSegments int
}

func NewCRC16Partitioner(numSegments int) (*CRC16Partitioner, error) {
	if numSegments < 1 {
		return nil, &segring.ConfigurationError{Msg: "the number of segments must be at least 1"}
	}
	if numSegments > math.MaxUint16+1 {
		return nil, &segring.ConfigurationError{Msg: "crc16 partitioning supports at most 65536 segments"}
	}
	return &CRC16Partitioner{numSegments: numSegments}, nil
}

func (p *CRC16Partitioner) NumSegments() int {
	return p.numSegments
}

func (p *CRC16Partitioner) Segment(key []byte) int {
	return int(crc16.Checksum(key, crc16.IBMTable)) % p.numSegments
}

// New returns the partitioner with the given name: "hash" (or "") or "crc16".
func New(name string, hash segring.Hash, numSegments int) (KeyPartitioner, error) {
	var p KeyPartitioner
	var err error
	switch name {
	case "", "hash":
		p, err = NewHashPartitioner(hash, numSegments)
	case "crc16":
		p, err = NewCRC16Partitioner(numSegments)
	default:
		return nil, &segring.ConfigurationError{Msg: "unknown partitioner " + name}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
