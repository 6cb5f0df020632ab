// Package synchronizer implements the view-sync task: the per-view timer,
// timeout-vote broadcast when a view's timer expires, and advancing the
// current view on a new QC or TC. Grounded on the twins-network.go test
// harness's timeoutManager (its tick-driven countdown, viewChange
// reaction, and synchronizer.ViewChangeEvent/TimeoutEvent shapes) and on
// persistent.go's synchronizer.TimeoutContext call site, generalized from
// a test-harness tick counter to a production timer plus the pluggable
// ViewDuration backoff described in duration.go.
package synchronizer

import (
	"context"
	"sync"
	"time"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/eventloop"
	"github.com/hkey0/HotShot/logging"
	"github.com/hkey0/HotShot/modules"
)

// Synchronizer implements modules.Synchronizer.
type Synchronizer struct {
	eventLoop      *eventloop.EventLoop
	crypto         modules.Crypto
	configuration  modules.Configuration
	leaderRotation modules.LeaderRotation
	blockChain     modules.BlockChain
	opts           *modules.Options
	logger         logging.Logger
	consensus      modules.Consensus

	duration ViewDuration

	mut    sync.Mutex
	view   hotshot.View
	highQC *hotshot.QuorumCert
	leaf   *hotshot.Block
	timer  *time.Timer
}

// New returns a modules.Synchronizer using duration to size its view
// timer.
func New(duration ViewDuration) modules.Synchronizer {
	return &Synchronizer{
		duration: duration,
		view:     1,
		highQC:   hotshot.GenesisQC(),
		leaf:     hotshot.GetGenesis(),
	}
}

func (s *Synchronizer) InitModule(mods *modules.Core) {
	mods.Get(&s.eventLoop, &s.crypto, &s.configuration, &s.leaderRotation, &s.blockChain, &s.opts, &s.logger)
	mods.TryGet(&s.consensus)

	s.eventLoop.RegisterObserver(hotshot.QCFormedEvent{}, func(event any) {
		qc := event.(hotshot.QCFormedEvent).QC
		s.AdvanceView(hotshot.NewSyncInfo().WithQC(qc))
	})
	s.eventLoop.RegisterObserver(hotshot.TCFormedEvent{}, func(event any) {
		tc := event.(hotshot.TCFormedEvent).TC
		s.AdvanceView(hotshot.NewSyncInfo().WithTC(tc))
	})
	s.eventLoop.RegisterObserver(hotshot.NewViewMsg{}, func(event any) {
		s.AdvanceView(event.(hotshot.NewViewMsg).SyncInfo)
	})

	s.startTimer()
}

// View returns the current view.
func (s *Synchronizer) View() hotshot.View {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.view
}

// LeafBlock returns the block this replica would currently extend.
func (s *Synchronizer) LeafBlock() *hotshot.Block {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.leaf
}

// HighQC returns the highest QC this replica has observed.
func (s *Synchronizer) HighQC() *hotshot.QuorumCert {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.highQC
}

// SyncInfo returns the SyncInfo this replica would present to justify
// starting the current view.
func (s *Synchronizer) SyncInfo() hotshot.SyncInfo {
	s.mut.Lock()
	defer s.mut.Unlock()
	return hotshot.NewSyncInfo().WithQC(s.highQC)
}

// ViewContext returns a context canceled when the current view ends.
func (s *Synchronizer) ViewContext() context.Context {
	return s.eventLoop.ViewContext()
}

// AdvanceView moves to a new view if cert justifies doing so, i.e. its
// QC or TC view is >= the current view. A no-op otherwise (guards
// against stale certificates arriving after the view has already moved
// on, which the at-least-once event bus makes a routine occurrence).
func (s *Synchronizer) AdvanceView(cert hotshot.SyncInfo) {
	qc, hasQC := cert.QC()
	tc, hasTC := cert.TC()

	newView := hotshot.View(0)
	if hasQC {
		newView = qc.View() + 1
	}
	if hasTC && tc.View()+1 > newView {
		newView = tc.View() + 1
	}
	if newView == 0 {
		return
	}

	s.mut.Lock()
	if newView <= s.view {
		s.mut.Unlock()
		return
	}
	wasTimeout := hasTC && (!hasQC || tc.View() >= qc.View())
	s.view = newView
	if hasQC && qc.View() >= s.highQC.View() {
		s.highQC = qc
		s.leaf = s.resolveLeaf(qc)
	}
	s.mut.Unlock()

	if wasTimeout {
		s.duration.ViewTimeout()
	} else {
		s.duration.ViewSucceeded()
	}
	s.duration.ViewStarted()

	s.eventLoop.NewView()
	s.eventLoop.AddEvent(hotshot.ViewChangeEvent{View: newView, Timeout: wasTimeout})
	s.startTimer()

	if s.consensus != nil && s.leaderRotation.GetLeader(newView) == s.opts.ID() {
		s.consensus.Propose(s.SyncInfo())
	}
}

func (s *Synchronizer) resolveLeaf(qc *hotshot.QuorumCert) *hotshot.Block {
	if b, ok := s.blockChain.LocalGet(qc.BlockHash()); ok {
		return b
	}
	return hotshot.GetGenesis()
}

func (s *Synchronizer) startTimer() {
	s.mut.Lock()
	view := s.view
	if s.timer != nil {
		s.timer.Stop()
	}
	d := s.duration.Duration()
	s.timer = time.AfterFunc(d, func() { s.onTimeout(view) })
	s.mut.Unlock()
}

func (s *Synchronizer) onTimeout(view hotshot.View) {
	s.mut.Lock()
	if view != s.view {
		s.mut.Unlock()
		return
	}
	highQC := s.highQC
	s.mut.Unlock()

	s.logger.Infof("synchronizer: view %d timed out", view)
	s.eventLoop.AddEvent(hotshot.TimeoutEvent{View: view})

	vote, err := s.crypto.CreateTimeoutSignature(view, highQC.View())
	if err != nil {
		s.logger.Errorf("synchronizer: failed to sign timeout vote: %v", err)
		return
	}
	msg := hotshot.TimeoutMsg{ID: s.opts.ID(), TimeoutVote: vote}
	s.configuration.Timeout(msg)
	s.eventLoop.AddEvent(msg)

	// Keep re-arming at the same view until a QC or TC moves it forward,
	// so a replica that misses other timeout votes the first time still
	// contributes on a later retry within the same view.
	s.startTimer()
}

var _ modules.Synchronizer = (*Synchronizer)(nil)
