// Package consensus implements the replica task: proposing, validating
// incoming proposals against the safe-node predicate, voting, and
// advancing the committed prefix via the three-chain rule. It is split
// into a pluggable Rules interface (the two predicates that define a
// commit/voting discipline) and consensusBase, which owns all module
// wiring, state persistence, and event-loop registration — mirroring the
// corpus's Rules/persistentConsensusBase split in
// consensus/persistent.go, the only place in the retrieved corpus that
// combines pluggable commit rules with on-disk state.
package consensus

import (
	"fmt"
	"sync"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/blockchain"
	"github.com/hkey0/HotShot/consensus/safety"
	"github.com/hkey0/HotShot/eventloop"
	"github.com/hkey0/HotShot/logging"
	"github.com/hkey0/HotShot/modules"
)

// Rules is the pluggable commit/voting discipline a consensusBase
// delegates to. The default ("chained") implementation applies spec's
// safe-node predicate and three-chain commit rule; alternative rule sets
// (e.g. a shorter or longer chain) can be registered by name via
// modules.RegisterNamed and selected at wiring time without changing
// consensusBase.
type Rules interface {
	// VoteRule decides whether proposal may be voted for, given the
	// replica's current locked QC.
	VoteRule(proposal hotshot.ProposeMsg, lockedQC *hotshot.QuorumCert) bool
	// CommitRule returns the new commit root (if any) reachable from
	// tail via get, the block-lookup function.
	CommitRule(tail *hotshot.Block, get safety.Lookup) (*hotshot.Block, bool)
	// ChainLength reports how many consecutive QC-links the rule set
	// requires before a block commits (3 for the default rule set).
	ChainLength() int
}

type chainedRules struct{}

// NewChainedRules returns the default three-chain Rules, matching spec's
// §4.2/§4.8 commit rule.
func NewChainedRules() Rules { return chainedRules{} }

func (chainedRules) VoteRule(proposal hotshot.ProposeMsg, lockedQC *hotshot.QuorumCert) bool {
	return safety.SafeNode(proposal, lockedQC)
}

func (chainedRules) CommitRule(tail *hotshot.Block, get safety.Lookup) (*hotshot.Block, bool) {
	return safety.ChainCommit(tail, get)
}

func (chainedRules) ChainLength() int { return 3 }

func init() {
	modules.RegisterNamed("chained", func() any { return NewChainedRules() })
}

// consensusBase implements modules.Consensus over a pluggable Rules,
// persisting last-vote and committed/locked state through a
// blockchain.StateStore so a restarted replica never double-votes or
// forgets its safety lock.
type consensusBase struct {
	rules Rules

	acceptor       modules.Acceptor
	blockChain     modules.BlockChain
	commandQueue   modules.CommandQueue
	configuration  modules.Configuration
	crypto         modules.Crypto
	da             modules.DataAvailability
	payloads       modules.PayloadProducer
	eventLoop      *eventloop.EventLoop
	executor       modules.Executor
	forkHandler    modules.ForkHandler
	leaderRotation modules.LeaderRotation
	logger         logging.Logger
	opts           *modules.Options
	synchronizer   modules.Synchronizer

	stateStore *blockchain.StateStore

	mut          sync.Mutex
	lastVote     hotshot.View
	lockedQC     *hotshot.QuorumCert
	bExec        *hotshot.Block
	proposedCmds map[hotshot.Hash]hotshot.Command // payload commitment -> command, for blocks this replica itself proposed
}

// New returns a modules.Consensus applying rules, with persistent state
// rooted at stateStore.
func New(rules Rules, stateStore *blockchain.StateStore) modules.Consensus {
	return &consensusBase{
		rules:        rules,
		stateStore:   stateStore,
		lockedQC:     hotshot.GenesisQC(),
		bExec:        hotshot.GetGenesis(),
		proposedCmds: make(map[hotshot.Hash]hotshot.Command),
	}
}

func (cs *consensusBase) InitModule(mods *modules.Core) {
	mods.Get(
		&cs.acceptor,
		&cs.blockChain,
		&cs.commandQueue,
		&cs.configuration,
		&cs.crypto,
		&cs.payloads,
		&cs.eventLoop,
		&cs.executor,
		&cs.forkHandler,
		&cs.leaderRotation,
		&cs.logger,
		&cs.opts,
		&cs.synchronizer,
	)
	mods.TryGet(&cs.da)

	if err := cs.loadState(); err != nil {
		cs.logger.Errorf("consensus: failed to load persistent state: %v", err)
	}

	cs.eventLoop.RegisterHandler(hotshot.ProposeMsg{}, func(event any) {
		cs.OnPropose(event.(hotshot.ProposeMsg))
	})
}

func (cs *consensusBase) loadState() error {
	cs.mut.Lock()
	defer cs.mut.Unlock()

	lastVote, err := cs.stateStore.GetLastVote()
	if err != nil {
		return fmt.Errorf("load last vote: %w", err)
	}
	cs.lastVote = lastVote

	committedHash, err := cs.stateStore.GetCommittedBlockHash()
	if err != nil {
		return fmt.Errorf("load committed hash: %w", err)
	}
	if !committedHash.IsZero() {
		if b, ok := cs.blockChain.LocalGet(committedHash); ok {
			cs.bExec = b
		}
	}

	lockedHash, err := cs.stateStore.GetLockedHash()
	if err != nil {
		return fmt.Errorf("load locked hash: %w", err)
	}
	if !lockedHash.IsZero() {
		if b, ok := cs.blockChain.LocalGet(lockedHash); ok {
			// The aggregate signature and signer bitmap are not
			// persisted: locked QC is only ever compared by view and
			// block hash (safety.SafeNode, safety.UpdateLockedQC), never
			// re-verified, so a placeholder signature is sufficient.
			cs.lockedQC = hotshot.NewQuorumCert(b.View(), lockedHash, nil, hotshot.NewIDSet(0))
		}
	}

	cs.logger.Infof("consensus: loaded persisted state: lastVote=%d bExec=%s lockedQC=%s",
		cs.lastVote, cs.bExec.Hash(), cs.lockedQC)
	return nil
}

// LastVote returns the highest view this replica has voted in.
func (cs *consensusBase) LastVote() hotshot.View {
	cs.mut.Lock()
	defer cs.mut.Unlock()
	return cs.lastVote
}

// CommittedBlock returns the most recently committed block.
func (cs *consensusBase) CommittedBlock() *hotshot.Block {
	cs.mut.Lock()
	defer cs.mut.Unlock()
	return cs.bExec
}

// StopVoting raises the floor below which this replica will no longer
// vote, persisting the change so a restart does not forget it.
func (cs *consensusBase) StopVoting(view hotshot.View) {
	cs.mut.Lock()
	updated := false
	if cs.lastVote < view {
		cs.lastVote = view
		updated = true
	}
	cs.mut.Unlock()

	if updated {
		if err := cs.stateStore.SetLastVote(view); err != nil {
			cs.logger.Errorf("consensus: failed to persist last vote: %v", err)
		}
	}
}

// Propose builds and broadcasts a new proposal for the current view,
// justified by cert (a QC for the ordinary case, a TC after a timeout).
func (cs *consensusBase) Propose(cert hotshot.SyncInfo) {
	cs.logger.Debug("consensus: Propose")

	if qc, ok := cert.QC(); ok {
		if qcBlock, ok := cs.blockChain.Get(qc.BlockHash()); ok {
			cs.mut.Lock()
			cmd, known := cs.proposedCmds[qcBlock.PayloadCommitment()]
			delete(cs.proposedCmds, qcBlock.PayloadCommitment())
			cs.mut.Unlock()
			if known {
				cs.acceptor.Proposed(cmd)
			}
		} else {
			cs.logger.Errorf("consensus: could not find block for QC: %s", qc)
		}
	}

	ctx := cs.synchronizer.ViewContext()
	cmd, ok := cs.commandQueue.Get(ctx)
	if !ok {
		cs.logger.Debug("consensus: no command available to propose")
		return
	}
	if !cs.acceptor.Accept(cmd) {
		cs.logger.Debug("consensus: acceptor rejected command")
		return
	}

	commitment, shards, err := cs.payloads.Produce(cmd)
	if err != nil {
		cs.logger.Errorf("consensus: failed to shard payload: %v", err)
		return
	}
	_ = shards // distributed to the configuration by the DA task, which Produce is expected to have already triggered

	qc, hasQC := cert.QC()
	var parent hotshot.Hash
	var justify *hotshot.QuorumCert
	view := cs.synchronizer.View()
	if hasQC {
		parent = qc.BlockHash()
		justify = qc
	} else if tc, ok := cert.TC(); ok {
		leaf := cs.synchronizer.LeafBlock()
		parent = leaf.Hash()
		justify = cs.synchronizer.HighQC()
		_ = tc
	} else {
		cs.logger.Error("consensus: Propose called with neither QC nor TC")
		return
	}

	parentBlock, ok := cs.blockChain.Get(parent)
	height := uint64(0)
	if ok {
		height = parentBlock.Height() + 1
	}

	block := hotshot.NewBlock(parent, justify, commitment, view, height, cs.opts.ID())

	cs.mut.Lock()
	cs.proposedCmds[commitment] = cmd
	cs.mut.Unlock()

	proposal := hotshot.ProposeMsg{ID: cs.opts.ID(), Block: block}
	if tc, ok := cert.TC(); ok {
		proposal.TC = tc
	}

	cs.blockChain.Store(block)
	cs.configuration.Propose(proposal)
	cs.eventLoop.AddEvent(proposal)
}

// OnPropose validates and (if safe and accepted) votes for an incoming
// proposal, matching spec §4.2's Proposal handler.
func (cs *consensusBase) OnPropose(proposal hotshot.ProposeMsg) {
	block := proposal.Block
	cs.logger.Debugf("consensus: OnPropose: %v", block)

	if proposal.ID != cs.leaderRotation.GetLeader(block.View()) {
		cs.logger.Info("consensus: proposal not from the expected leader")
		return
	}

	if block.QuorumCert() != nil && !cs.crypto.VerifyQuorumCert(block.QuorumCert()) {
		cs.logger.Info("consensus: proposal's justify-QC failed verification")
		return
	}
	if proposal.TC != nil && !cs.crypto.VerifyTimeoutCert(proposal.TC) {
		cs.logger.Info("consensus: proposal's TC failed verification")
		return
	}

	cs.mut.Lock()
	lockedQC := cs.lockedQC
	cs.mut.Unlock()

	if !cs.rules.VoteRule(proposal, lockedQC) {
		cs.logger.Info("consensus: proposal failed the safe-node predicate")
		return
	}

	if _, ok := cs.blockChain.Get(block.Parent()); !ok {
		cs.logger.Infof("consensus: parent %s not found, dropping proposal (will be fetched on demand)", block.Parent())
		return
	}

	if cs.da != nil && !cs.da.Certified(block.PayloadCommitment()) {
		if !cs.da.AwaitCertified(cs.synchronizer.ViewContext(), block.PayloadCommitment()) {
			cs.logger.Info("consensus: payload not certified before view ended")
			return
		}
	}

	cs.blockChain.Store(block)

	cs.mut.Lock()
	cs.lockedQC = safety.UpdateLockedQC(cs.lockedQC, block.QuorumCert())
	shouldVote := block.View() > cs.lastVote
	if shouldVote {
		cs.lastVote = block.View()
	}
	cs.mut.Unlock()

	cs.tryCommit(block)
	cs.synchronizer.AdvanceView(hotshot.NewSyncInfo().WithQC(block.QuorumCert()))

	if !shouldVote {
		cs.logger.Info("consensus: not voting, view already passed")
		return
	}
	if err := cs.stateStore.SetLastVote(block.View()); err != nil {
		cs.logger.Errorf("consensus: failed to persist last vote: %v", err)
	}

	pc, err := cs.crypto.CreatePartialCert(block.View(), block.Hash())
	if err != nil {
		cs.logger.Errorf("consensus: failed to sign vote: %v", err)
		return
	}

	leaderID := cs.leaderRotation.GetLeader(block.View() + 1)
	if leaderID == cs.opts.ID() {
		cs.eventLoop.AddEvent(hotshot.VoteMsg{ID: cs.opts.ID(), PartialCert: pc})
		return
	}
	leader, ok := cs.configuration.Replica(leaderID)
	if !ok {
		cs.logger.Warnf("consensus: leader %d not found in configuration", leaderID)
		return
	}
	leader.Vote(pc)
}

func (cs *consensusBase) tryCommit(tail *hotshot.Block) {
	root, ok := cs.rules.CommitRule(tail, cs.blockChain.Get)
	if !ok {
		return
	}
	cs.commit(root)
}

func (cs *consensusBase) commit(block *hotshot.Block) {
	cs.mut.Lock()
	err := cs.commitInner(block)
	cs.mut.Unlock()
	if err != nil {
		cs.logger.Warnf("consensus: commit failed: %v", err)
		return
	}

	if err := cs.stateStore.SetCommittedBlockHash(block.Hash()); err != nil {
		cs.logger.Errorf("consensus: failed to persist committed block: %v", err)
	}
	if lockedHash := cs.lockedCommitHash(); !lockedHash.IsZero() {
		if err := cs.stateStore.SetLockedHash(lockedHash); err != nil {
			cs.logger.Errorf("consensus: failed to persist locked block: %v", err)
		}
	}

	forked := cs.blockChain.PruneToHeight(block.Height())
	for _, b := range forked {
		cs.forkHandler.Fork(b)
	}
}

func (cs *consensusBase) lockedCommitHash() hotshot.Hash {
	cs.mut.Lock()
	defer cs.mut.Unlock()
	if cs.lockedQC == nil {
		return hotshot.Hash{}
	}
	return cs.lockedQC.BlockHash()
}

func (cs *consensusBase) commitInner(block *hotshot.Block) error {
	if cs.bExec.View() >= block.View() {
		return nil
	}
	parent, ok := cs.blockChain.Get(block.Parent())
	if !ok {
		return fmt.Errorf("failed to locate ancestor %s", block.Parent())
	}
	if err := cs.commitInner(parent); err != nil {
		return err
	}
	cs.logger.Debugf("consensus: EXEC %s", block)
	cs.executor.Exec(block)
	cs.eventLoop.AddEvent(hotshot.CommitEvent{Block: block})
	cs.bExec = block
	return nil
}

var _ modules.Consensus = (*consensusBase)(nil)
