package safety_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/consensus/safety"
)

func qc(view hotshot.View, block hotshot.Hash) *hotshot.QuorumCert {
	return hotshot.NewQuorumCert(view, block, nil, hotshot.NewIDSet(0))
}

func TestSafeNodeRejectsProposalWithoutQC(t *testing.T) {
	block := hotshot.NewBlock(hotshot.Hash{1}, nil, hotshot.Hash{2}, 1, 1, 0)
	proposal := hotshot.ProposeMsg{ID: 0, Block: block}
	assert.False(t, safety.SafeNode(proposal, qc(1, hotshot.Hash{1})))
}

func TestSafeNodeAcceptsAnyQCWhenNoLock(t *testing.T) {
	block := hotshot.NewBlock(hotshot.Hash{1}, qc(1, hotshot.Hash{1}), hotshot.Hash{2}, 2, 2, 0)
	proposal := hotshot.ProposeMsg{ID: 0, Block: block}
	assert.True(t, safety.SafeNode(proposal, nil))
}

func TestSafeNodeAcceptsProposalExtendingLockedBranch(t *testing.T) {
	locked := qc(5, hotshot.Hash{1})
	block := hotshot.NewBlock(hotshot.Hash{1}, qc(5, hotshot.Hash{1}), hotshot.Hash{2}, 6, 6, 0)
	proposal := hotshot.ProposeMsg{ID: 0, Block: block}
	assert.True(t, safety.SafeNode(proposal, locked))
}

func TestSafeNodeRejectsProposalBehindLockWithoutTC(t *testing.T) {
	locked := qc(5, hotshot.Hash{1})
	block := hotshot.NewBlock(hotshot.Hash{9}, qc(2, hotshot.Hash{9}), hotshot.Hash{2}, 3, 3, 0)
	proposal := hotshot.ProposeMsg{ID: 0, Block: block}
	assert.False(t, safety.SafeNode(proposal, locked))
}

func TestSafeNodeAcceptsProposalBehindLockWithQualifyingTC(t *testing.T) {
	locked := qc(5, hotshot.Hash{1})
	block := hotshot.NewBlock(hotshot.Hash{9}, qc(2, hotshot.Hash{9}), hotshot.Hash{2}, 7, 7, 0)
	tc := hotshot.NewTimeoutCert(6, 2, nil, hotshot.NewIDSet(0))
	proposal := hotshot.ProposeMsg{ID: 0, Block: block, TC: tc}
	assert.True(t, safety.SafeNode(proposal, locked))
}

func TestSafeNodeRejectsProposalWithTCNotExceedingLock(t *testing.T) {
	locked := qc(5, hotshot.Hash{1})
	block := hotshot.NewBlock(hotshot.Hash{9}, qc(2, hotshot.Hash{9}), hotshot.Hash{2}, 6, 6, 0)
	tc := hotshot.NewTimeoutCert(5, 2, nil, hotshot.NewIDSet(0))
	proposal := hotshot.ProposeMsg{ID: 0, Block: block, TC: tc}
	assert.False(t, safety.SafeNode(proposal, locked))
}

func buildChain(t *testing.T) (tail *hotshot.Block, lookup safety.Lookup) {
	t.Helper()
	genesis := hotshot.GetGenesis()
	b0 := hotshot.NewBlock(genesis.Hash(), hotshot.GenesisQC(), hotshot.Hash{10}, 1, 1, 0)
	b1 := hotshot.NewBlock(b0.Hash(), qc(1, b0.Hash()), hotshot.Hash{11}, 2, 2, 0)
	b2 := hotshot.NewBlock(b1.Hash(), qc(2, b1.Hash()), hotshot.Hash{12}, 3, 3, 0)
	b3 := hotshot.NewBlock(b2.Hash(), qc(3, b2.Hash()), hotshot.Hash{13}, 4, 4, 0)

	blocks := map[hotshot.Hash]*hotshot.Block{
		genesis.Hash(): genesis,
		b0.Hash():      b0,
		b1.Hash():      b1,
		b2.Hash():      b2,
		b3.Hash():      b3,
	}
	return b3, func(h hotshot.Hash) (*hotshot.Block, bool) {
		b, ok := blocks[h]
		return b, ok
	}
}

func TestChainCommitCommitsThreeConsecutiveAncestors(t *testing.T) {
	tail, lookup := buildChain(t)
	committed, ok := safety.ChainCommit(tail, lookup)
	require.True(t, ok)
	assert.Equal(t, uint64(1), committed.Height())
}

func TestChainCommitFailsOnMissingAncestor(t *testing.T) {
	tail, lookup := buildChain(t)
	gapped := func(h hotshot.Hash) (*hotshot.Block, bool) {
		b, ok := lookup(h)
		if ok && b.Height() == 1 {
			return nil, false
		}
		return b, ok
	}
	_, ok := safety.ChainCommit(tail, gapped)
	assert.False(t, ok)
}

func TestChainCommitFailsOnNonConsecutiveViews(t *testing.T) {
	// Heights are consecutive (1, 2, 3, 4) exactly as any real justify-QC
	// chain's heights always are, but b1 was only proposed after a view
	// change skipped views 2-4 (a timed-out gap), so the views are not:
	// b0 is view 1, b1 is view 5.
	genesis := hotshot.GetGenesis()
	b0 := hotshot.NewBlock(genesis.Hash(), hotshot.GenesisQC(), hotshot.Hash{1}, 1, 1, 0)
	b1 := hotshot.NewBlock(b0.Hash(), qc(1, b0.Hash()), hotshot.Hash{2}, 5, 2, 0)
	b2 := hotshot.NewBlock(b1.Hash(), qc(5, b1.Hash()), hotshot.Hash{3}, 6, 3, 0)
	b3 := hotshot.NewBlock(b2.Hash(), qc(6, b2.Hash()), hotshot.Hash{4}, 7, 4, 0)

	blocks := map[hotshot.Hash]*hotshot.Block{
		genesis.Hash(): genesis,
		b0.Hash():      b0,
		b1.Hash():      b1,
		b2.Hash():      b2,
		b3.Hash():      b3,
	}
	lookup := func(h hotshot.Hash) (*hotshot.Block, bool) { b, ok := blocks[h]; return b, ok }

	_, ok := safety.ChainCommit(b3, lookup)
	assert.False(t, ok, "a height-consecutive but view-gapped chain must not commit")
}

func TestUpdateLockedQCKeepsHigherView(t *testing.T) {
	assert.Nil(t, safety.UpdateLockedQC(nil, nil))
	a := qc(3, hotshot.Hash{1})
	assert.Same(t, a, safety.UpdateLockedQC(nil, a))
	assert.Same(t, a, safety.UpdateLockedQC(a, nil))

	higher := qc(5, hotshot.Hash{2})
	assert.Same(t, higher, safety.UpdateLockedQC(a, higher))
	assert.Same(t, a, safety.UpdateLockedQC(a, qc(1, hotshot.Hash{3})))
}

func TestUpdateHighQCDelegatesToSameRule(t *testing.T) {
	a := qc(2, hotshot.Hash{1})
	higher := qc(4, hotshot.Hash{2})
	assert.Same(t, higher, safety.UpdateHighQC(a, higher))
}
