package hotshot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkey0/HotShot"
)

func TestIDSetAddContains(t *testing.T) {
	s := hotshot.NewIDSet(4)
	assert.False(t, s.Contains(0))

	s.Add(0)
	s.Add(3)
	s.Add(130) // beyond the initial size; must grow

	assert.True(t, s.Contains(0))
	assert.True(t, s.Contains(3))
	assert.True(t, s.Contains(130))
	assert.False(t, s.Contains(1))
	assert.Equal(t, 3, s.Len())
}

func TestIDSetForEachAscending(t *testing.T) {
	s := hotshot.NewIDSet(0)
	s.Add(5)
	s.Add(1)
	s.Add(64)

	var got []hotshot.ID
	s.ForEach(func(id hotshot.ID) { got = append(got, id) })

	require.Len(t, got, 3)
	assert.Equal(t, []hotshot.ID{1, 5, 64}, got)
}

func TestIDSetBytesRoundTrip(t *testing.T) {
	s := hotshot.NewIDSet(200)
	s.Add(0)
	s.Add(7)
	s.Add(199)

	restored := hotshot.IDSetFromBytes(s.Bytes())

	assert.Equal(t, s.Len(), restored.Len())
	for _, id := range []hotshot.ID{0, 7, 199} {
		assert.True(t, restored.Contains(id))
	}
}

func TestIDSetClone(t *testing.T) {
	s := hotshot.NewIDSet(10)
	s.Add(2)

	c := s.Clone()
	c.Add(3)

	assert.False(t, s.Contains(3), "mutating the clone must not affect the original")
	assert.True(t, c.Contains(2))
}

func TestHashStringIsTruncatedFull(t *testing.T) {
	var h hotshot.Hash
	h[0] = 0xab
	h[1] = 0xcd

	assert.Len(t, h.String(), 8)
	assert.True(t, len(h.Full()) == 64)
	assert.Equal(t, h.Full()[:8], h.String())
}

func TestHashIsZero(t *testing.T) {
	var zero hotshot.Hash
	assert.True(t, zero.IsZero())

	nonZero := hotshot.Hash{1}
	assert.False(t, nonZero.IsZero())
}

func TestBlockHashIsDeterministicAndMemoized(t *testing.T) {
	parent := hotshot.Hash{1}
	payload := hotshot.Hash{2}
	b1 := hotshot.NewBlock(parent, nil, payload, 3, 1, 7)
	b2 := hotshot.NewBlock(parent, nil, payload, 3, 1, 7)

	assert.Equal(t, b1.Hash(), b2.Hash(), "identical block fields must hash identically")
	// calling Hash twice on the same block must be stable (memoized path)
	assert.Equal(t, b1.Hash(), b1.Hash())
}

func TestBlockHashChangesWithJustify(t *testing.T) {
	parent := hotshot.Hash{1}
	payload := hotshot.Hash{2}
	qc := hotshot.NewQuorumCert(1, hotshot.Hash{9}, nil, hotshot.NewIDSet(1))

	without := hotshot.NewBlock(parent, nil, payload, 3, 1, 7)
	with := hotshot.NewBlock(parent, qc, payload, 3, 1, 7)

	assert.NotEqual(t, without.Hash(), with.Hash())
}

func TestGenesisIsStable(t *testing.T) {
	g1 := hotshot.GetGenesis()
	g2 := hotshot.GetGenesis()

	assert.Same(t, g1, g2, "GetGenesis must return the same singleton on every call")
	assert.Equal(t, uint64(0), g1.Height())
	assert.Equal(t, hotshot.View(0), g1.View())

	qc := hotshot.GenesisQC()
	assert.Equal(t, hotshot.View(0), qc.View())
	assert.Equal(t, g1.Hash(), qc.BlockHash())
}

func TestSyncInfoQCAndTC(t *testing.T) {
	empty := hotshot.NewSyncInfo()
	_, hasQC := empty.QC()
	_, hasTC := empty.TC()
	assert.False(t, hasQC)
	assert.False(t, hasTC)

	qc := hotshot.NewQuorumCert(5, hotshot.Hash{1}, nil, hotshot.NewIDSet(1))
	withQC := empty.WithQC(qc)
	got, ok := withQC.QC()
	require.True(t, ok)
	assert.Equal(t, qc, got)

	tc := hotshot.NewTimeoutCert(6, 5, nil, hotshot.NewIDSet(1))
	withBoth := withQC.WithTC(tc)
	gotQC, ok := withBoth.QC()
	require.True(t, ok)
	assert.Equal(t, qc, gotQC)
	gotTC, ok := withBoth.TC()
	require.True(t, ok)
	assert.Equal(t, tc, gotTC)
}

func TestQuorumCertEquals(t *testing.T) {
	a := hotshot.NewQuorumCert(1, hotshot.Hash{1}, nil, hotshot.NewIDSet(1))
	b := hotshot.NewQuorumCert(1, hotshot.Hash{1}, nil, hotshot.NewIDSet(3))
	c := hotshot.NewQuorumCert(2, hotshot.Hash{1}, nil, hotshot.NewIDSet(1))

	assert.True(t, a.Equals(b), "Equals compares view/block only, not signers")
	assert.False(t, a.Equals(c))

	var nilQC *hotshot.QuorumCert
	assert.True(t, nilQC.Equals(nil))
	assert.False(t, nilQC.Equals(a))
}
