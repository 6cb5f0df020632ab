// Package hotshot implements the consensus core of a HotStuff-family BFT
// state machine replication protocol: view progression, block proposal and
// voting, quorum/timeout certificate aggregation, and the pipelined
// three-chain commit rule.
package hotshot

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ID identifies a replica by its position in the validator set, not by its
// public key. Wire messages reference signers by ID so that a bitmap can
// index directly into the validator set.
type ID uint32

// View is a monotonically increasing round number. Each view has exactly
// one leader, determined by a LeaderRotation over the validator set.
type View uint64

// Command is an opaque client-supplied payload. The consensus core never
// interprets its contents; it only orders and commits it.
type Command []byte

// Hash is a 32-byte commitment, used for block, payload, and shard
// commitments alike.
type Hash [32]byte

// String renders a short hex prefix, matching the corpus's convention of
// logging truncated hashes (".8s"-style) rather than the full 64 hex chars.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])[:8]
}

// Full renders the complete hex-encoded hash.
func (h Hash) Full() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// TimeoutTarget is the sentinel commitment that both crypto backends place
// between the view and the high-QC view in every signed timeout message,
// so a timeout signature cannot be confused with a vote on a real block
// commitment (which would collide with probability 2^-256).
var TimeoutTarget = Hash{0xff}

// DATarget is a reserved sentinel commitment for data-availability votes.
// No code in this module uses it: a DA vote signs the payload commitment
// itself, and the aggregator keys DA collectors by (view, payload).
var DATarget = Hash{0xfe}

// LittleEndianUint64 is a small helper matching spec's "all integers
// little-endian" wire rule; used by signed-message hashing
// (hash(view || target)) and by the state store's encoded views.
func LittleEndianUint64(v uint64) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b
}

func (v View) String() string { return fmt.Sprintf("view=%d", uint64(v)) }

// IDSet is a set of replica IDs, represented as a bitmap indexed by
// validator-set position so that it can be used directly as a QC/TC signer
// bitmap on the wire.
type IDSet struct {
	bits []uint64
}

// NewIDSet returns an empty IDSet sized to hold IDs in [0, n).
func NewIDSet(n int) *IDSet {
	return &IDSet{bits: make([]uint64, (n+63)/64)}
}

// Add marks id as present in the set.
func (s *IDSet) Add(id ID) {
	word, bit := int(id)/64, uint(id)%64
	s.grow(word + 1)
	s.bits[word] |= 1 << bit
}

// Contains reports whether id is present in the set.
func (s *IDSet) Contains(id ID) bool {
	word, bit := int(id)/64, uint(id)%64
	if word >= len(s.bits) {
		return false
	}
	return s.bits[word]&(1<<bit) != 0
}

// Len returns the number of IDs present in the set.
func (s *IDSet) Len() int {
	n := 0
	for _, w := range s.bits {
		for w != 0 {
			n++
			w &= w - 1
		}
	}
	return n
}

// ForEach calls f for every ID present in the set, in ascending order.
func (s *IDSet) ForEach(f func(ID)) {
	for word, w := range s.bits {
		for bit := 0; bit < 64; bit++ {
			if w&(1<<uint(bit)) != 0 {
				f(ID(word*64 + bit))
			}
		}
	}
}

func (s *IDSet) grow(words int) {
	for len(s.bits) < words {
		s.bits = append(s.bits, 0)
	}
}

// Bytes returns the bitmap's canonical little-endian byte encoding, used
// by the wire codec for QC/TC signer bitmaps.
func (s *IDSet) Bytes() []byte {
	out := make([]byte, len(s.bits)*8)
	for i, w := range s.bits {
		binary.LittleEndian.PutUint64(out[i*8:], w)
	}
	return out
}

// IDSetFromBytes reconstructs an IDSet from its canonical byte encoding.
func IDSetFromBytes(b []byte) *IDSet {
	s := &IDSet{bits: make([]uint64, len(b)/8)}
	for i := range s.bits {
		s.bits[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return s
}

// Clone returns an independent copy of s.
func (s *IDSet) Clone() *IDSet {
	c := &IDSet{bits: make([]uint64, len(s.bits))}
	copy(c.bits, s.bits)
	return c
}
