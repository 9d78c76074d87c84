package hashindex

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Comparator orders two keys; it returns 0 when they are equal. It is the only notion of
// key equality the index uses.
type Comparator[K any] func(a, b K) int

// Hasher produces the 32-bit hash whose low bits route a key through the directory.
type Hasher[K any] func(key K) uint32

// KeySerde encodes keys into their fixed-width on-page representation.
type KeySerde[K any] interface {
	Serialize(dest []byte, key K)
	Deserialize(src []byte) K
	Size() int
}

type Uint64Serde struct{}

var _ KeySerde[uint64] = Uint64Serde{}

func (Uint64Serde) Serialize(dest []byte, key uint64) {
	binary.LittleEndian.PutUint64(dest, key)
}

func (Uint64Serde) Deserialize(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

func (Uint64Serde) Size() int {
	return 8
}

func Uint64Comparator(a, b uint64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// XXHasher hashes the serialized form of the key and downcasts to 32 bits.
func XXHasher[K any](serde KeySerde[K]) Hasher[K] {
	return func(key K) uint32 {
		buf := make([]byte, serde.Size())
		serde.Serialize(buf, key)
		return uint32(xxhash.Sum64(buf))
	}
}
