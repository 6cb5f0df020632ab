package hotshot

import "time"

// ProposeMsg is the leader's proposal, broadcast to the configuration and
// delivered over the event bus as well as self-delivered by the leader.
type ProposeMsg struct {
	ID          ID
	Block       *Block
	TC          *TimeoutCert // non-nil when the block is justified by a TC rather than a normal QC chain
}

// VoteMsg carries one replica's partial certificate for a proposal,
// unicast to the leader of the next view.
type VoteMsg struct {
	ID          ID
	PartialCert PartialCert
}

// TimeoutMsg carries one replica's timeout vote, broadcast when its view
// timer expires with no accepted proposal.
type TimeoutMsg struct {
	ID           ID
	TimeoutVote  TimeoutVote
}

// NewViewMsg communicates a replica's current SyncInfo to the next
// leader, used both for the QC-only case (legacy NEW-VIEW) and the
// TC-carrying case.
type NewViewMsg struct {
	ID       ID
	SyncInfo SyncInfo
}

// DAProposalMsg disseminates one payload's shards to the configuration:
// Shards[i] is the fragment assigned to replica i, and ShardHashes is the
// per-shard commitment list whose concatenation's hash must equal
// Payload, letting every recipient verify the assignment before voting.
type DAProposalMsg struct {
	ID          ID
	View        View
	Payload     Hash
	Shards      [][]byte
	ShardHashes []Hash
}

// DAVoteMsg carries one replica's signed attestation that it holds (or
// has verified) a payload's shard set, broadcast so every replica can
// independently assemble the same data-availability certificate.
type DAVoteMsg struct {
	ID          ID
	PartialCert PartialCert
}

// RequestMsg asks a peer for a block or payload shard by commitment.
type RequestMsg struct {
	ID         ID
	Kind       RequestKind
	Commitment Hash
}

// RequestKind discriminates a RequestMsg's target kind.
type RequestKind int

const (
	RequestBlock RequestKind = iota
	RequestPayload
)

// ResponseMsg answers a RequestMsg, carrying the requested bytes if found.
type ResponseMsg struct {
	Commitment Hash
	Found      bool
	BlockData  *Block
	Payload    []byte
}

// QCFormedEvent is emitted by the aggregator exactly once when a quorum
// certificate finalizes.
type QCFormedEvent struct {
	QC *QuorumCert
}

// TCFormedEvent is emitted by the aggregator exactly once when a timeout
// certificate finalizes.
type TCFormedEvent struct {
	TC *TimeoutCert
}

// DACertFormedEvent is emitted once a data-availability certificate
// finalizes for a payload commitment.
type DACertFormedEvent struct {
	Cert *DACert
}

// ViewChangeEvent is published whenever the replica's current view
// advances, whether by QC, TC, or seeing a higher view number from a peer.
type ViewChangeEvent struct {
	View    View
	Timeout bool
}

// TimeoutEvent is published by a view's timer when it expires with no
// accepted proposal.
type TimeoutEvent struct {
	View View
}

// CommitEvent is published when the three-chain rule commits a new
// prefix, carrying the newly committed tail block.
type CommitEvent struct {
	Block   *Block
	Latency time.Duration
}

// ViewGapEvent is emitted by the view-sync task when the replica advances
// past one or more views it never executed (e.g. skipping straight to the
// view named in a TC), so the DA task knows not to wait for payloads in
// the skipped views.
type ViewGapEvent struct {
	From View
	To   View
}

// ShutdownEvent asks every task subscribed to the bus to drain its
// current work and return.
type ShutdownEvent struct{}

// TickEvent drives time-based polling in tests and in the metrics tap,
// matching the corpus's synthetic clock-tick convention for deterministic
// simulation.
type TickEvent struct {
	Timestamp time.Time
}
