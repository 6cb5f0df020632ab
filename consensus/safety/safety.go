// Package safety implements the pure predicates behind HotShot's safety
// invariants: the safe-node test a proposal must pass before a replica
// votes for it, and the three-chain pipelined commit rule. Neither
// function touches the network, storage, or any module; both take the
// state they need as arguments and return a decision, so they can be
// tested directly against constructed block trees without any other
// module present. Grounded on chainedhotstuff.go's update/OnPropose
// safety checks, generalized from chainedhotstuff's two-chain lock to
// spec's explicit three-chain commit rule and locked-QC-with-TC-override
// safe-node predicate.
package safety

import "github.com/hkey0/HotShot"

// SafeNode reports whether a proposal may be voted for: either its
// justify-QC targets a block at or beyond the locked view (the proposal
// extends the locked branch), or the proposal carries a timeout
// certificate proving the locked view was abandoned at a strictly
// greater view than the lock.
func SafeNode(proposal hotshot.ProposeMsg, lockedQC *hotshot.QuorumCert) bool {
	qc := proposal.Block.QuorumCert()
	if qc == nil {
		return false
	}
	if lockedQC == nil {
		return true
	}
	if qc.View() >= lockedQC.View() {
		return true
	}
	if proposal.TC != nil && proposal.TC.View() > lockedQC.View() {
		return true
	}
	return false
}

// Lookup fetches a block by commitment hash, matching modules.BlockChain's
// Get/LocalGet signature so ChainCommit can be driven directly from either.
type Lookup func(hotshot.Hash) (*hotshot.Block, bool)

// ChainCommit walks back from tail through three QC-linked ancestors
// (tail's justify-QC block b2, b2's justify-QC block b1, b1's justify-QC
// block b0) and reports b0 as the new commit root if b0.view+1 == b1.view
// and b1.view+1 == b2.view — i.e. b0, b1, b2 form two *consecutive*
// views, the three-chain condition that makes committing b0 safe. It
// returns (nil, false) if any link is missing or the views are not
// consecutive.
func ChainCommit(tail *hotshot.Block, get Lookup) (*hotshot.Block, bool) {
	qc2 := tail.QuorumCert()
	if qc2 == nil {
		return nil, false
	}
	b2, ok := get(qc2.BlockHash())
	if !ok {
		return nil, false
	}

	qc1 := b2.QuorumCert()
	if qc1 == nil {
		return nil, false
	}
	b1, ok := get(qc1.BlockHash())
	if !ok {
		return nil, false
	}

	qc0 := b1.QuorumCert()
	if qc0 == nil {
		return nil, false
	}
	b0, ok := get(qc0.BlockHash())
	if !ok {
		return nil, false
	}

	if b0.View()+1 == b1.View() && b1.View()+1 == b2.View() {
		return b0, true
	}
	return nil, false
}

// UpdateLockedQC returns the new locked QC after observing candidate: the
// higher-view of current and candidate, per spec's locking rule ("set
// locked_qc := QC if v > locked_qc.view").
func UpdateLockedQC(current, candidate *hotshot.QuorumCert) *hotshot.QuorumCert {
	if current == nil {
		return candidate
	}
	if candidate == nil {
		return current
	}
	if candidate.View() > current.View() {
		return candidate
	}
	return current
}

// UpdateHighQC returns the new high QC after observing candidate: the
// higher-view of current and candidate, used both by the replica task
// (§4.2's "update high_qc to max with p.justify_qc") and the
// synchronizer.
func UpdateHighQC(current, candidate *hotshot.QuorumCert) *hotshot.QuorumCert {
	return UpdateLockedQC(current, candidate)
}
