package hotshot

import "fmt"

// Signature is an opaque signature value produced by whichever crypto
// backend (ECDSA multi-sig or BLS aggregate) is configured. The aggregator
// and consensus core never inspect its contents, only pass it through to
// Crypto.Verify* calls, matching spec's requirement that the signature
// scheme be "opaque to the aggregator".
type Signature interface {
	ToBytes() []byte
}

// PartialCert is one signer's vote over a view and a target commitment
// (a block commitment for a Vote, or a payload commitment for a DA vote;
// timeout votes use the separate TimeoutVote type).
type PartialCert struct {
	signer ID
	view   View
	target Hash
	sig    Signature
}

// NewPartialCert constructs a PartialCert. target is the block commitment
// for an ordinary vote, or the payload commitment for a DA vote.
func NewPartialCert(signer ID, view View, target Hash, sig Signature) PartialCert {
	return PartialCert{signer: signer, view: view, target: target, sig: sig}
}

func (c PartialCert) Signer() ID       { return c.signer }
func (c PartialCert) View() View       { return c.view }
func (c PartialCert) Target() Hash     { return c.target }
func (c PartialCert) BlockHash() Hash  { return c.target }
func (c PartialCert) Signature() Signature { return c.sig }

func (c PartialCert) String() string {
	return fmt.Sprintf("PartialCert{view: %d, signer: %d, target: %s}", c.view, c.signer, c.target)
}

// QuorumCert is an aggregated signature over (view, block) from signers
// whose combined stake meets the quorum threshold Q.
type QuorumCert struct {
	view    View
	block   Hash
	agg     Signature
	signers *IDSet
}

// NewQuorumCert constructs a QC. Callers are expected to have already
// verified stake >= Q and the aggregate signature.
func NewQuorumCert(view View, block Hash, agg Signature, signers *IDSet) *QuorumCert {
	return &QuorumCert{view: view, block: block, agg: agg, signers: signers}
}

func (qc *QuorumCert) View() View         { return qc.view }
func (qc *QuorumCert) BlockHash() Hash    { return qc.block }
func (qc *QuorumCert) Signature() Signature { return qc.agg }
func (qc *QuorumCert) Signers() *IDSet    { return qc.signers }

// Equals reports structural equality of the two QCs over view and block;
// the aggregate signature and signer set are not compared.
func (qc *QuorumCert) Equals(other *QuorumCert) bool {
	if qc == nil || other == nil {
		return qc == other
	}
	return qc.view == other.view && qc.block == other.block
}

func (qc *QuorumCert) String() string {
	return fmt.Sprintf("QC{view: %d, block: %s, signers: %d}", qc.view, qc.block, qc.signers.Len())
}

// TimeoutCert is an aggregated signature over a view from signers whose
// combined stake meets Q, carrying the highest QC view any signer
// reported so a new leader can propose on a safe branch.
type TimeoutCert struct {
	view       View
	highQCView View
	agg        Signature
	signers    *IDSet
}

// NewTimeoutCert constructs a TC.
func NewTimeoutCert(view, highQCView View, agg Signature, signers *IDSet) *TimeoutCert {
	return &TimeoutCert{view: view, highQCView: highQCView, agg: agg, signers: signers}
}

func (tc *TimeoutCert) View() View         { return tc.view }
func (tc *TimeoutCert) HighQCView() View   { return tc.highQCView }
func (tc *TimeoutCert) Signature() Signature { return tc.agg }
func (tc *TimeoutCert) Signers() *IDSet    { return tc.signers }

func (tc *TimeoutCert) String() string {
	return fmt.Sprintf("TC{view: %d, highQCView: %d, signers: %d}", tc.view, tc.highQCView, tc.signers.Len())
}

// TimeoutVote is a replica's signed report that it has abandoned a view,
// including the highest QC view it has observed (carried into TC
// formation so the next leader knows the safest branch to extend).
type TimeoutVote struct {
	signer     ID
	view       View
	highQCView View
	sig        Signature
}

// NewTimeoutVote constructs a TimeoutVote.
func NewTimeoutVote(signer ID, view, highQCView View, sig Signature) TimeoutVote {
	return TimeoutVote{signer: signer, view: view, highQCView: highQCView, sig: sig}
}

func (v TimeoutVote) Signer() ID         { return v.signer }
func (v TimeoutVote) View() View         { return v.view }
func (v TimeoutVote) HighQCView() View   { return v.highQCView }
func (v TimeoutVote) Signature() Signature { return v.sig }

// DACert is a data-availability certificate: same shape as a QC, but
// formed at the lower F+1 threshold and keyed against a payload
// commitment rather than a block commitment.
type DACert struct {
	view    View
	payload Hash
	agg     Signature
	signers *IDSet
}

// NewDACert constructs a DA certificate.
func NewDACert(view View, payload Hash, agg Signature, signers *IDSet) *DACert {
	return &DACert{view: view, payload: payload, agg: agg, signers: signers}
}

func (d *DACert) View() View            { return d.view }
func (d *DACert) PayloadCommitment() Hash { return d.payload }
func (d *DACert) Signature() Signature  { return d.agg }
func (d *DACert) Signers() *IDSet       { return d.signers }

func (d *DACert) String() string {
	return fmt.Sprintf("DACert{view: %d, payload: %s, signers: %d}", d.view, d.payload, d.signers.Len())
}

// SyncInfo carries whichever certificate justifies a view transition: a
// QC for a normal advance, a TC for a timeout-driven advance, or both
// when a TC also embeds a QC (used by the new leader's safe-node check).
type SyncInfo struct {
	qc *QuorumCert
	tc *TimeoutCert
}

// NewSyncInfo returns an empty SyncInfo to be populated with WithQC/WithTC.
func NewSyncInfo() SyncInfo { return SyncInfo{} }

func (s SyncInfo) WithQC(qc *QuorumCert) SyncInfo { s.qc = qc; return s }
func (s SyncInfo) WithTC(tc *TimeoutCert) SyncInfo { s.tc = tc; return s }

func (s SyncInfo) QC() (*QuorumCert, bool)   { return s.qc, s.qc != nil }
func (s SyncInfo) TC() (*TimeoutCert, bool)  { return s.tc, s.tc != nil }
