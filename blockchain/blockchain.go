// Package blockchain implements the replicated block tree: an in-memory
// arena of blocks indexed by commitment hash, with pruning below the
// committed root, and a badger-backed persistent state store for the
// handful of fields (last vote, committed block, locked/high QC) that
// must survive a restart. Grounded on chainedhotstuff.go's
// hs.mod.BlockChain().Store/Get calls and the darigaaz86-hotstuff-cursor
// fork's blockchain.StateStore / consensus/persistent.go, which is the
// only place in the retrieved corpus that persists consensus state to
// disk.
package blockchain

import (
	"context"
	"sync"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/logging"
	"github.com/hkey0/HotShot/modules"
)

// blockChain is the default modules.BlockChain implementation: an arena of
// blocks keyed by commitment hash, pruned below the last committed
// height. Blocks missing locally are fetched from the Configuration,
// mirroring chainedhotstuff.go's fetchBlockForVote/OnDeliver flow.
type blockChain struct {
	config modules.Configuration
	logger logging.Logger

	mut          sync.Mutex
	blocks       map[hotshot.Hash]*hotshot.Block
	pendingFetch map[hotshot.Hash]context.CancelFunc
}

// New returns an empty modules.BlockChain seeded with the genesis block.
func New() modules.BlockChain {
	bc := &blockChain{
		blocks:       make(map[hotshot.Hash]*hotshot.Block),
		pendingFetch: make(map[hotshot.Hash]context.CancelFunc),
	}
	bc.blocks[hotshot.GetGenesis().Hash()] = hotshot.GetGenesis()
	return bc
}

func (bc *blockChain) InitModule(mods *modules.Core) {
	mods.Get(&bc.config, &bc.logger)
}

// Store inserts b into the arena, keyed by its own commitment hash.
func (bc *blockChain) Store(b *hotshot.Block) {
	bc.mut.Lock()
	defer bc.mut.Unlock()
	bc.blocks[b.Hash()] = b
}

// LocalGet returns a block by commitment without triggering a remote
// fetch.
func (bc *blockChain) LocalGet(hash hotshot.Hash) (*hotshot.Block, bool) {
	bc.mut.Lock()
	defer bc.mut.Unlock()
	b, ok := bc.blocks[hash]
	return b, ok
}

// Get returns a block by commitment, fetching it from the configuration
// if it is not already held locally. If another Get is already fetching
// the same hash, this call does not wait for it and reports a miss.
func (bc *blockChain) Get(hash hotshot.Hash) (*hotshot.Block, bool) {
	if b, ok := bc.LocalGet(hash); ok {
		return b, true
	}
	if bc.config == nil {
		return nil, false
	}

	bc.mut.Lock()
	if _, inFlight := bc.pendingFetch[hash]; inFlight {
		bc.mut.Unlock()
		// Another caller is already fetching; block briefly isn't
		// available synchronously here, so report a miss and let the
		// caller retry once the fetch delivers the block via Store.
		return nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	bc.pendingFetch[hash] = cancel
	bc.mut.Unlock()

	defer func() {
		bc.mut.Lock()
		delete(bc.pendingFetch, hash)
		bc.mut.Unlock()
	}()

	b, ok := bc.config.Fetch(ctx, hash)
	if !ok {
		return nil, false
	}
	bc.Store(b)
	return b, true
}

// PruneToHeight removes every block strictly below height, returning
// blocks that were pruned without ever sitting on the eventually
// committed path (i.e. forked branches the fork handler should observe).
func (bc *blockChain) PruneToHeight(height uint64) []*hotshot.Block {
	bc.mut.Lock()
	defer bc.mut.Unlock()

	committedAncestors := make(map[hotshot.Hash]bool)
	for _, b := range bc.blocks {
		if b.Height() == height {
			for cur := b; ; {
				committedAncestors[cur.Hash()] = true
				parent, ok := bc.blocks[cur.Parent()]
				if !ok || committedAncestors[cur.Parent()] {
					break
				}
				cur = parent
			}
		}
	}

	var forked []*hotshot.Block
	for hash, b := range bc.blocks {
		if b.Height() >= height {
			continue
		}
		if !committedAncestors[hash] {
			forked = append(forked, b)
		}
		delete(bc.blocks, hash)
	}
	return forked
}
