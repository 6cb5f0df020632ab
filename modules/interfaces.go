package modules

import (
	"context"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/config"
)

// Consensus drives the replica's reaction to proposals: validating them,
// voting, and applying the commit rule. Implementations of Rules (in
// package consensus) are wrapped by a base that handles certificate
// verification and module plumbing, matching the corpus's
// Rules/consensusBase split.
type Consensus interface {
	Module
	// Propose builds and broadcasts a new proposal for the current view,
	// justified by cert (a QC for the normal case, a TC after a timeout).
	Propose(cert hotshot.SyncInfo)
	// OnPropose handles an incoming (or self-delivered) proposal.
	OnPropose(proposal hotshot.ProposeMsg)
	// StopVoting raises the floor below which this replica will no
	// longer emit any vote, used both for ordinary view advance and for
	// timeout-driven advance.
	StopVoting(view hotshot.View)
	// LastVote returns the highest view in which this replica has voted.
	LastVote() hotshot.View
	// CommittedBlock returns the most recently committed block.
	CommittedBlock() *hotshot.Block
}

// BlockChain is the replicated block tree: an arena of blocks indexed by
// commitment hash, with pruning below the committed root.
type BlockChain interface {
	// Store inserts a block, keyed by its own commitment hash.
	Store(b *hotshot.Block)
	// Get returns a block by commitment, fetching from peers via the
	// Configuration if not held locally.
	Get(hash hotshot.Hash) (*hotshot.Block, bool)
	// LocalGet returns a block by commitment without triggering a fetch.
	LocalGet(hash hotshot.Hash) (*hotshot.Block, bool)
	// PruneToHeight removes blocks below the given committed height and
	// returns any blocks that were pruned without ever being committed
	// (i.e. forked branches), for the fork handler to observe.
	PruneToHeight(height uint64) []*hotshot.Block
}

// Crypto is the cryptographic backend: creating and verifying partial
// certificates and aggregates. Its implementation (ECDSA multi-sig or BLS
// aggregate) is opaque to every other module.
type Crypto interface {
	// CreatePartialCert signs target (a block commitment for a vote, or a
	// payload commitment for a DA vote) on behalf of the local replica.
	CreatePartialCert(view hotshot.View, target hotshot.Hash) (hotshot.PartialCert, error)
	// VerifyPartialCert checks a single partial certificate's signature.
	VerifyPartialCert(cert hotshot.PartialCert) bool
	// CreateTimeoutSignature signs a TimeoutVote on behalf of the local
	// replica.
	CreateTimeoutSignature(view, highQCView hotshot.View) (hotshot.TimeoutVote, error)
	// VerifyTimeoutVote checks a single timeout vote's signature.
	VerifyTimeoutVote(vote hotshot.TimeoutVote) bool
	// CombinePartial combines a slice of already-verified partial
	// certificates for the same (view, target) into one aggregate
	// signature, returning it without checking stake (the aggregator
	// owns the stake accounting).
	CombinePartial(certs []hotshot.PartialCert) (hotshot.Signature, error)
	// CombineTimeout combines verified timeout votes into one aggregate.
	CombineTimeout(votes []hotshot.TimeoutVote) (hotshot.Signature, error)
	// VerifyQuorumCert checks a QC's aggregate signature.
	VerifyQuorumCert(qc *hotshot.QuorumCert) bool
	// VerifyTimeoutCert checks a TC's aggregate signature.
	VerifyTimeoutCert(tc *hotshot.TimeoutCert) bool
	// VerifyDACert checks a DA certificate's aggregate signature.
	VerifyDACert(cert *hotshot.DACert) bool
	// PartialSignatureFromBytes reconstructs a single signer's signature
	// from its wire encoding, for decoding a Vote/TimeoutVote/DAVote
	// message (package wire).
	PartialSignatureFromBytes(b []byte) (hotshot.Signature, error)
	// AggregateSignatureFromBytes reconstructs a combined signature from
	// its wire encoding, for decoding a QC/TC/DAC message (package wire).
	AggregateSignatureFromBytes(b []byte) (hotshot.Signature, error)
}

// LeaderRotation maps a view to the ID of its leader. Implementations must
// be deterministic and common knowledge: every correct replica must reach
// the same answer given the same validator set and view (the stake-weighted
// rotation seeds its draw from the genesis commitment and the view, not
// from any QC).
type LeaderRotation interface {
	GetLeader(view hotshot.View) hotshot.ID
}

// Synchronizer drives view progression: timers, timeout-vote broadcast,
// and advancing the view on a new QC or TC.
type Synchronizer interface {
	Module
	// View returns the current view.
	View() hotshot.View
	// LeafBlock returns the block this replica would currently extend.
	LeafBlock() *hotshot.Block
	// HighQC returns the highest QC this replica has observed.
	HighQC() *hotshot.QuorumCert
	// AdvanceView moves to a new view if cert justifies doing so (i.e.
	// its QC or TC view is >= the current view); a no-op otherwise.
	AdvanceView(cert hotshot.SyncInfo)
	// ViewContext returns a context that is canceled when the current
	// view ends, used to bound blocking calls like CommandQueue.Get.
	ViewContext() context.Context
	// SyncInfo returns the SyncInfo this replica would present to
	// justify starting the current view (its highest QC; no TC is
	// included).
	SyncInfo() hotshot.SyncInfo
}

// Acceptor decides whether to accept an already-safe, already-verified
// command into the chain, and is informed when a previously-accepted
// command's proposal succeeded (reached a QC).
type Acceptor interface {
	Accept(cmd hotshot.Command) bool
	Proposed(cmd hotshot.Command)
}

// CommandQueue supplies the next command for a new proposal. Get may
// block (subject to ctx) if no command is available yet.
type CommandQueue interface {
	Get(ctx context.Context) (hotshot.Command, bool)
}

// Executor applies a committed block's command to application state.
// Payload execution semantics are themselves out of scope for the
// consensus core; Executor is the seam where an external state machine
// plugs in.
type Executor interface {
	Exec(b *hotshot.Block)
}

// ForkHandler is notified of blocks pruned from the tree without ever
// being committed (i.e. blocks on a branch that lost to a sibling).
type ForkHandler interface {
	Fork(b *hotshot.Block)
}

// PayloadProducer shards and distributes a command for data availability,
// returning the payload commitment referenced by the block and the shard
// bytes themselves.
type PayloadProducer interface {
	Produce(cmd hotshot.Command) (commitment hotshot.Hash, shards [][]byte, err error)
}

// DataAvailability gates voting on proposal's payload until it is either
// locally held or certified by at least F+1 stake.
type DataAvailability interface {
	Module
	// Certified reports whether payload has a DA certificate or is held
	// locally.
	Certified(payload hotshot.Hash) bool
	// AwaitCertified blocks (subject to ctx) until payload becomes
	// certified, or returns false on context cancellation.
	AwaitCertified(ctx context.Context, payload hotshot.Hash) bool
}

// Configuration is the network adapter's view of the full validator set:
// broadcast, directed replica handles, and best-effort fetch.
type Configuration interface {
	// Replicas returns every replica in the configuration.
	Replicas() map[hotshot.ID]Replica
	// Replica returns one replica by ID, if present.
	Replica(id hotshot.ID) (Replica, bool)
	// Len returns the configuration size.
	Len() int
	// QuorumSize returns the number of replicas whose votes are required
	// to observe Q stake (not stake itself; callers that need stake
	// accounting use config.ReplicaSet directly).
	QuorumSize() int
	// Propose broadcasts a proposal to every replica.
	Propose(proposal hotshot.ProposeMsg)
	// Timeout broadcasts a timeout vote to every replica.
	Timeout(msg hotshot.TimeoutMsg)
	// DAProposal broadcasts a payload's shard assignment to every replica.
	DAProposal(msg hotshot.DAProposalMsg)
	// DAVote broadcasts a replica's data-availability vote, so every
	// replica can independently assemble the same DA certificate.
	DAVote(msg hotshot.DAVoteMsg)
	// Fetch requests a block by hash from the configuration, trying
	// replicas until one answers or ctx is done.
	Fetch(ctx context.Context, hash hotshot.Hash) (*hotshot.Block, bool)
}

// Replica is a single directed handle within a Configuration: unicast
// sends to one specific peer.
type Replica interface {
	ID() hotshot.ID
	// Vote unicasts a partial certificate to this replica (normally the
	// next leader).
	Vote(cert hotshot.PartialCert)
	// NewView unicasts this replica's SyncInfo, used as a fallback NEW-VIEW
	// style message when the sender has nothing new to vote on.
	NewView(si hotshot.SyncInfo)
}

// Orchestrator is the external collaborator that assigns replica
// identities and signals the run to start; consumed only via this
// interface, never implemented by the consensus core itself.
type Orchestrator interface {
	Register(id hotshot.ID) (set *config.ReplicaSet, startTime int64, seed uint64, err error)
	Run(ctx context.Context) error
}

// Options carries process-local, non-safety-affecting knobs threaded
// through the module graph (this replica's own ID, whether to verify
// votes synchronously, connection metadata, and so on), mirroring the
// corpus's modules.Options/OptionsBuilder split without needing a
// separate builder type here.
type Options struct {
	id                  hotshot.ID
	shouldVerifyVotesSync bool
	connectionMetadata  map[string]string
}

// NewOptions returns Options for replica id.
func NewOptions(id hotshot.ID) *Options {
	return &Options{id: id, connectionMetadata: map[string]string{}}
}

func (o *Options) ID() hotshot.ID { return o.id }

// SetShouldVerifyVotesSync sets the synchronous-vote-verification flag.
// No module in this repository reads the flag; votes are verified the
// same way whether it is set or not.
func (o *Options) SetShouldVerifyVotesSync() { o.shouldVerifyVotesSync = true }
func (o *Options) ShouldVerifyVotesSync() bool { return o.shouldVerifyVotesSync }

func (o *Options) ConnectionMetadata() map[string]string { return o.connectionMetadata }
func (o *Options) SetConnectionMetadata(k, v string)     { o.connectionMetadata[k] = v }
