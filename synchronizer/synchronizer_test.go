package synchronizer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/blockchain"
	"github.com/hkey0/HotShot/config"
	"github.com/hkey0/HotShot/crypto/ecdsa"
	"github.com/hkey0/HotShot/crypto/keygen"
	"github.com/hkey0/HotShot/eventloop"
	"github.com/hkey0/HotShot/logging"
	"github.com/hkey0/HotShot/modules"
	"github.com/hkey0/HotShot/synchronizer"
)

type fixedLeader struct{ id hotshot.ID }

func (f fixedLeader) GetLeader(view hotshot.View) hotshot.ID { return f.id }

// recordingConfiguration records broadcast timeout votes.
type recordingConfiguration struct {
	timeouts []hotshot.TimeoutMsg
}

func (r *recordingConfiguration) Replicas() map[hotshot.ID]modules.Replica     { return nil }
func (r *recordingConfiguration) Replica(id hotshot.ID) (modules.Replica, bool) { return nil, false }
func (r *recordingConfiguration) Len() int                                    { return 1 }
func (r *recordingConfiguration) QuorumSize() int                             { return 1 }
func (r *recordingConfiguration) Propose(hotshot.ProposeMsg)                  {}
func (r *recordingConfiguration) Timeout(msg hotshot.TimeoutMsg)              { r.timeouts = append(r.timeouts, msg) }
func (r *recordingConfiguration) DAProposal(hotshot.DAProposalMsg)            {}
func (r *recordingConfiguration) DAVote(hotshot.DAVoteMsg)                    {}
func (r *recordingConfiguration) Fetch(ctx context.Context, hash hotshot.Hash) (*hotshot.Block, bool) {
	return nil, false
}

var _ modules.Configuration = (*recordingConfiguration)(nil)

func oneReplicaConfig(t *testing.T) *config.ReplicaConfig {
	t.Helper()
	priv, err := keygen.GenerateECDSAPrivateKey()
	require.NoError(t, err)
	set := config.NewReplicaSet([]config.ReplicaInfo{{ID: 0, PubKey: &priv.PublicKey, Stake: 1}})
	return &config.ReplicaConfig{ID: 0, Set: set, PrivateKey: priv}
}

func newSynchronizer(t *testing.T, duration synchronizer.ViewDuration) (modules.Synchronizer, *recordingConfiguration, *eventloop.EventLoop) {
	t.Helper()
	conf := oneReplicaConfig(t)
	loop := eventloop.New(16)
	core := modules.NewCore()
	rc := &recordingConfiguration{}
	s := synchronizer.New(duration)
	core.Register(s, loop, ecdsa.New(conf), rc, fixedLeader{id: 0}, blockchain.New(), modules.NewOptions(0), logging.NewNop())
	core.Build()
	return s, rc, loop
}

func TestNewSynchronizerStartsAtViewOne(t *testing.T) {
	s, _, _ := newSynchronizer(t, synchronizer.FixedTimeout(time.Hour))
	assert.Equal(t, hotshot.View(1), s.View())
	assert.Equal(t, hotshot.GetGenesis().Hash(), s.LeafBlock().Hash())
}

func TestAdvanceViewOnNewerQCMovesViewForward(t *testing.T) {
	s, _, loop := newSynchronizer(t, synchronizer.FixedTimeout(time.Hour))

	qc := hotshot.NewQuorumCert(1, hotshot.GetGenesis().Hash(), nil, hotshot.NewIDSet(0))
	s.AdvanceView(hotshot.NewSyncInfo().WithQC(qc))

	assert.Equal(t, hotshot.View(2), s.View())
	assert.Equal(t, hotshot.View(1), s.HighQC().View())

	var changed hotshot.ViewChangeEvent
	loop.RegisterHandler(hotshot.ViewChangeEvent{}, func(event any) { changed = event.(hotshot.ViewChangeEvent) })
	require.True(t, loop.Tick())
	assert.Equal(t, hotshot.View(2), changed.View)
	assert.False(t, changed.Timeout)
}

func TestAdvanceViewIgnoresStaleCertificate(t *testing.T) {
	s, _, _ := newSynchronizer(t, synchronizer.FixedTimeout(time.Hour))

	qc := hotshot.NewQuorumCert(5, hotshot.GetGenesis().Hash(), nil, hotshot.NewIDSet(0))
	s.AdvanceView(hotshot.NewSyncInfo().WithQC(qc))
	require.Equal(t, hotshot.View(6), s.View())

	stale := hotshot.NewQuorumCert(1, hotshot.GetGenesis().Hash(), nil, hotshot.NewIDSet(0))
	s.AdvanceView(hotshot.NewSyncInfo().WithQC(stale))
	assert.Equal(t, hotshot.View(6), s.View(), "a stale QC must not move the view backward")
}

func TestAdvanceViewViaTCMarksTimeout(t *testing.T) {
	s, _, loop := newSynchronizer(t, synchronizer.FixedTimeout(time.Hour))

	tc := hotshot.NewTimeoutCert(1, 0, nil, hotshot.NewIDSet(0))
	s.AdvanceView(hotshot.NewSyncInfo().WithTC(tc))
	assert.Equal(t, hotshot.View(2), s.View())

	var changed hotshot.ViewChangeEvent
	loop.RegisterHandler(hotshot.ViewChangeEvent{}, func(event any) { changed = event.(hotshot.ViewChangeEvent) })
	require.True(t, loop.Tick())
	assert.True(t, changed.Timeout)
}

func TestTimerFiresAndBroadcastsTimeoutVote(t *testing.T) {
	_, rc, loop := newSynchronizer(t, synchronizer.FixedTimeout(20*time.Millisecond))

	require.Eventually(t, func() bool { return len(rc.timeouts) > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, hotshot.View(1), rc.timeouts[0].TimeoutVote.View())

	var sawTimeoutEvent bool
	loop.RegisterObserver(hotshot.TimeoutEvent{}, func(event any) { sawTimeoutEvent = true })
	for i := 0; i < 10 && !sawTimeoutEvent; i++ {
		loop.Tick()
	}
	assert.True(t, sawTimeoutEvent)
}

func TestNewViewMsgObserverAdvancesView(t *testing.T) {
	s, _, loop := newSynchronizer(t, synchronizer.FixedTimeout(time.Hour))

	qc := hotshot.NewQuorumCert(9, hotshot.GetGenesis().Hash(), nil, hotshot.NewIDSet(0))
	loop.AddEvent(hotshot.NewViewMsg{ID: 1, SyncInfo: hotshot.NewSyncInfo().WithQC(qc)})
	require.True(t, loop.Tick())

	assert.Equal(t, hotshot.View(10), s.View())
}

func TestSyncInfoReflectsHighQC(t *testing.T) {
	s, _, _ := newSynchronizer(t, synchronizer.FixedTimeout(time.Hour))

	qc := hotshot.NewQuorumCert(3, hotshot.GetGenesis().Hash(), nil, hotshot.NewIDSet(0))
	s.AdvanceView(hotshot.NewSyncInfo().WithQC(qc))

	si := s.SyncInfo()
	gotQC, ok := si.QC()
	require.True(t, ok)
	assert.Equal(t, hotshot.View(3), gotQC.View())
}
