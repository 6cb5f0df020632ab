package hotshot

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// Block is a node in the replicated block tree: height, view, parent
// commitment, payload commitment, and the QC that justifies its parent.
// The payload itself is opaque and retrieved separately via its
// commitment (see the da package).
type Block struct {
	height   uint64
	view     View
	parent   Hash
	payload  Hash
	justify  *QuorumCert
	proposer ID

	mut  sync.Mutex
	hash Hash
	set  bool
}

// NewBlock constructs a block. justify may be nil only for the genesis
// block; every other block must carry a QC over its parent.
func NewBlock(parent Hash, justify *QuorumCert, payload Hash, view View, height uint64, proposer ID) *Block {
	return &Block{
		height:   height,
		view:     view,
		parent:   parent,
		payload:  payload,
		justify:  justify,
		proposer: proposer,
	}
}

func (b *Block) Height() uint64        { return b.height }
func (b *Block) View() View            { return b.view }
func (b *Block) Parent() Hash          { return b.parent }
func (b *Block) PayloadCommitment() Hash { return b.payload }
func (b *Block) QuorumCert() *QuorumCert { return b.justify }
func (b *Block) Proposer() ID           { return b.proposer }

// Hash returns the block's commitment, computed once and memoized.
func (b *Block) Hash() Hash {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.set {
		return b.hash
	}
	h := sha256.New()
	h.Write(b.parent[:])
	h.Write(b.payload[:])
	var viewBuf [8]byte
	binary.LittleEndian.PutUint64(viewBuf[:], uint64(b.view))
	h.Write(viewBuf[:])
	var heightBuf [8]byte
	binary.LittleEndian.PutUint64(heightBuf[:], b.height)
	h.Write(heightBuf[:])
	if b.justify != nil {
		jh := b.justify.BlockHash()
		h.Write(jh[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	b.hash = out
	b.set = true
	return out
}

func (b *Block) String() string {
	return fmt.Sprintf("Block{view: %d, height: %d, hash: %s, parent: %s}",
		b.view, b.height, b.Hash(), b.parent)
}

// genesisHash is the well-known commitment of the genesis block, used as
// the sentinel parent for height 0.
var genesisHash = Hash{}

var (
	genesisOnce  sync.Once
	genesisBlock *Block
	genesisQC    *QuorumCert
)

// GetGenesis returns the canonical genesis block: height 0, view 0, and a
// trivially-valid sentinel QC (no signers required).
func GetGenesis() *Block {
	genesisOnce.Do(initGenesis)
	return genesisBlock
}

// GenesisQC returns the sentinel QC over the genesis block, used to seed
// high_qc/locked_qc before any real QC has formed.
func GenesisQC() *QuorumCert {
	genesisOnce.Do(initGenesis)
	return genesisQC
}

func initGenesis() {
	genesisBlock = &Block{height: 0, view: 0, parent: genesisHash, hash: genesisHash, set: true}
	genesisQC = &QuorumCert{view: 0, block: genesisHash, signers: NewIDSet(0)}
}
