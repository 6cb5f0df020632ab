// Package certauth implements the vote/QC/TC/DA aggregator: a
// (view, target)-keyed collector of partial certificates and timeout
// votes that seals into a quorum certificate, timeout certificate, or
// data-availability certificate exactly once, the moment enough stake has
// signed. Grounded on chainedhotstuff.go's verifiedVotes/pendingVotes maps
// and OnVote's stake-counting + CreateQuorumCert logic, generalized per
// the (view, target) keying that lets the same shape serve QC, TC, and DA
// certificates. Each kind has its own table: votes are keyed by (view,
// block commitment), DA votes by (view, payload commitment), and timeout
// votes by view alone.
package certauth

import (
	"fmt"
	"sync"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/config"
	"github.com/hkey0/HotShot/eventloop"
	"github.com/hkey0/HotShot/logging"
	"github.com/hkey0/HotShot/modules"
)

type targetKey struct {
	view   hotshot.View
	target hotshot.Hash
}

// voteCollector accumulates partial certificates toward either a quorum
// certificate (stake >= Q) or a data-availability certificate (stake >=
// F+1), depending on which threshold the caller applies.
type voteCollector struct {
	signers *hotshot.IDSet
	certs   []hotshot.PartialCert
	stake   uint64
	sealed  bool
}

// timeoutCollector accumulates timeout votes toward a timeout certificate,
// tracking the highest highQCView any signer reported so the resulting TC
// points the new leader at the safest known branch.
type timeoutCollector struct {
	signers    *hotshot.IDSet
	votes      []hotshot.TimeoutVote
	stake      uint64
	sealed     bool
	highQCView hotshot.View
}

// Aggregator is a modules.Module: it resolves its Crypto, ReplicaConfig,
// and EventLoop dependencies from the Core container at wiring time.
type Aggregator struct {
	crypto modules.Crypto
	conf   *config.ReplicaConfig
	loop   *eventloop.EventLoop
	logger logging.Logger

	mut      sync.Mutex
	votes    map[targetKey]*voteCollector
	timeouts map[hotshot.View]*timeoutCollector
	daVotes  map[targetKey]*voteCollector
}

// New returns an Aggregator with no dependencies resolved yet; InitModule
// resolves them from the Core container.
func New() *Aggregator {
	return &Aggregator{
		votes:    make(map[targetKey]*voteCollector),
		timeouts: make(map[hotshot.View]*timeoutCollector),
		daVotes:  make(map[targetKey]*voteCollector),
	}
}

func (a *Aggregator) InitModule(mods *modules.Core) {
	mods.Get(&a.crypto, &a.conf, &a.loop, &a.logger)

	a.loop.RegisterObserver(hotshot.VoteMsg{}, func(event any) {
		if err := a.AddVote(event.(hotshot.VoteMsg)); err != nil {
			a.logger.Infof("certauth: dropped vote: %v", err)
		}
	})
	a.loop.RegisterObserver(hotshot.TimeoutMsg{}, func(event any) {
		if err := a.AddTimeout(event.(hotshot.TimeoutMsg)); err != nil {
			a.logger.Infof("certauth: dropped timeout vote: %v", err)
		}
	})
}

// AddVote folds one replica's vote into the quorum-certificate collector
// for its (view, block) target. Once the collector's accumulated stake
// reaches the quorum threshold Q, it seals: the partial certificates are
// combined into one aggregate signature, a QuorumCert is built, and a
// QCFormedEvent is published exactly once. Votes arriving after sealing
// (duplicates, or slow stragglers) are silently ignored rather than
// erroring, since at-least-once delivery on the event bus makes duplicate
// delivery an expected occurrence rather than a protocol violation.
func (a *Aggregator) AddVote(vote hotshot.VoteMsg) error {
	if !a.crypto.VerifyPartialCert(vote.PartialCert) {
		return fmt.Errorf("certauth: vote from %d failed verification", vote.ID)
	}
	key := targetKey{view: vote.PartialCert.View(), target: vote.PartialCert.BlockHash()}
	return a.fold(&a.votes, key, vote.ID, vote.PartialCert, a.conf.Set.QuorumThreshold(), func(agg hotshot.Signature, signers *hotshot.IDSet) {
		qc := hotshot.NewQuorumCert(key.view, key.target, agg, signers)
		a.loop.AddEvent(hotshot.QCFormedEvent{QC: qc})
	})
}

// AddDAVote folds one replica's data-availability vote into the
// DA-certificate collector for its (view, payload) target, sealing at the
// lower F+1 threshold (enough to guarantee at least one honest replica
// holds the payload) rather than the full quorum Q.
func (a *Aggregator) AddDAVote(view hotshot.View, signer hotshot.ID, cert hotshot.PartialCert) error {
	if !a.crypto.VerifyPartialCert(cert) {
		return fmt.Errorf("certauth: DA vote from %d failed verification", signer)
	}
	key := targetKey{view: view, target: cert.Target()}
	return a.fold(&a.daVotes, key, signer, cert, a.conf.Set.TimeoutThreshold(), func(agg hotshot.Signature, signers *hotshot.IDSet) {
		dac := hotshot.NewDACert(view, cert.Target(), agg, signers)
		a.loop.AddEvent(hotshot.DACertFormedEvent{Cert: dac})
	})
}

func (a *Aggregator) fold(table *map[targetKey]*voteCollector, key targetKey, signer hotshot.ID, cert hotshot.PartialCert, threshold uint64, onSeal func(hotshot.Signature, *hotshot.IDSet)) error {
	a.mut.Lock()
	defer a.mut.Unlock()

	col, ok := (*table)[key]
	if !ok {
		col = &voteCollector{signers: hotshot.NewIDSet(a.conf.Set.Len())}
		(*table)[key] = col
	}
	if col.sealed || col.signers.Contains(signer) {
		return nil
	}
	col.signers.Add(signer)
	col.certs = append(col.certs, cert)
	col.stake += a.conf.Set.StakeOf(uint32(signer))

	if col.stake < threshold {
		return nil
	}
	col.sealed = true
	agg, err := a.crypto.CombinePartial(col.certs)
	if err != nil {
		return fmt.Errorf("certauth: combine certs for view %d: %w", key.view, err)
	}
	onSeal(agg, col.signers.Clone())
	return nil
}

// AddTimeout folds one replica's timeout vote into the TC collector for
// its view, sealing at the quorum threshold Q. The resulting certificate
// carries the maximum highQCView across all contributing signers, so the
// next leader can safely extend the highest QC any honest replica saw.
func (a *Aggregator) AddTimeout(msg hotshot.TimeoutMsg) error {
	vote := msg.TimeoutVote
	if !a.crypto.VerifyTimeoutVote(vote) {
		return fmt.Errorf("certauth: timeout vote from %d failed verification", msg.ID)
	}

	a.mut.Lock()
	defer a.mut.Unlock()

	col, ok := a.timeouts[vote.View()]
	if !ok {
		col = &timeoutCollector{signers: hotshot.NewIDSet(a.conf.Set.Len())}
		a.timeouts[vote.View()] = col
	}
	if col.sealed || col.signers.Contains(msg.ID) {
		return nil
	}
	col.signers.Add(msg.ID)
	col.votes = append(col.votes, vote)
	col.stake += a.conf.Set.StakeOf(uint32(msg.ID))
	if vote.HighQCView() > col.highQCView {
		col.highQCView = vote.HighQCView()
	}

	if col.stake < a.conf.Set.QuorumThreshold() {
		return nil
	}
	col.sealed = true
	agg, err := a.crypto.CombineTimeout(col.votes)
	if err != nil {
		return fmt.Errorf("certauth: combine timeout votes for view %d: %w", vote.View(), err)
	}
	tc := hotshot.NewTimeoutCert(vote.View(), col.highQCView, agg, col.signers.Clone())
	a.loop.AddEvent(hotshot.TCFormedEvent{TC: tc})
	return nil
}

// Prune discards any collector for a view below the given bound, called
// by the synchronizer after advancing far enough that older in-flight
// votes can no longer form a useful certificate.
func (a *Aggregator) Prune(belowView hotshot.View) {
	a.mut.Lock()
	defer a.mut.Unlock()
	for k := range a.votes {
		if k.view < belowView {
			delete(a.votes, k)
		}
	}
	for k := range a.daVotes {
		if k.view < belowView {
			delete(a.daVotes, k)
		}
	}
	for v := range a.timeouts {
		if v < belowView {
			delete(a.timeouts, v)
		}
	}
}
