package bls_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/config"
	"github.com/hkey0/HotShot/crypto/bls"
	"github.com/hkey0/HotShot/crypto/keygen"
)

func buildBLSConfigs(t *testing.T, n int) []*config.ReplicaConfig {
	t.Helper()

	infos := make([]config.ReplicaInfo, n)
	blsPrivs := make([][]byte, n)
	for i := 0; i < n; i++ {
		priv, err := keygen.GenerateBLSPrivateKey()
		require.NoError(t, err)
		blsPrivs[i] = priv
		infos[i] = config.ReplicaInfo{
			ID:     uint32(i),
			BLSPub: keygen.BLSPublicKeyFromPrivate(priv),
			Stake:  1,
		}
	}
	set := config.NewReplicaSet(infos)

	confs := make([]*config.ReplicaConfig, n)
	for i := 0; i < n; i++ {
		confs[i] = &config.ReplicaConfig{ID: uint32(i), Set: set, BLSPriv: blsPrivs[i]}
	}
	return confs
}

func TestBLSSignAndVerifyPartialCert(t *testing.T) {
	confs := buildBLSConfigs(t, 3)
	signer := bls.New(confs[0])

	target := hotshot.Hash{1, 2, 3}
	cert, err := signer.CreatePartialCert(4, target)
	require.NoError(t, err)

	verifier := bls.New(confs[1])
	assert.True(t, verifier.VerifyPartialCert(cert))
}

func TestBLSAggregateQuorumCertVerifies(t *testing.T) {
	confs := buildBLSConfigs(t, 4)
	target := hotshot.Hash{9}
	view := hotshot.View(2)

	certs := make([]hotshot.PartialCert, 0, 4)
	signers := hotshot.NewIDSet(4)
	for _, c := range confs {
		cert, err := bls.New(c).CreatePartialCert(view, target)
		require.NoError(t, err)
		certs = append(certs, cert)
		signers.Add(cert.Signer())
	}

	agg, err := bls.New(confs[0]).CombinePartial(certs)
	require.NoError(t, err)

	qc := hotshot.NewQuorumCert(view, target, agg, signers)
	verifier := bls.New(confs[2])
	assert.True(t, verifier.VerifyQuorumCert(qc))
}

func TestBLSAggregateRejectsSubsetClaimingFullSet(t *testing.T) {
	confs := buildBLSConfigs(t, 4)
	target := hotshot.Hash{9}
	view := hotshot.View(2)

	certs := make([]hotshot.PartialCert, 0, 3)
	for _, c := range confs[:3] {
		cert, err := bls.New(c).CreatePartialCert(view, target)
		require.NoError(t, err)
		certs = append(certs, cert)
	}
	agg, err := bls.New(confs[0]).CombinePartial(certs)
	require.NoError(t, err)

	allFour := hotshot.NewIDSet(4)
	for i := 0; i < 4; i++ {
		allFour.Add(hotshot.ID(i))
	}

	qc := hotshot.NewQuorumCert(view, target, agg, allFour)
	verifier := bls.New(confs[3])
	assert.False(t, verifier.VerifyQuorumCert(qc), "aggregate over 3 signers must not verify against a 4-signer set")
}

func TestBLSTimeoutVoteRoundTrip(t *testing.T) {
	confs := buildBLSConfigs(t, 2)
	signer := bls.New(confs[0])

	vote, err := signer.CreateTimeoutSignature(7, 5)
	require.NoError(t, err)

	verifier := bls.New(confs[1])
	assert.True(t, verifier.VerifyTimeoutVote(vote))
}

func TestBLSSignatureWireRoundTrip(t *testing.T) {
	confs := buildBLSConfigs(t, 2)
	signer := bls.New(confs[0])

	cert, err := signer.CreatePartialCert(1, hotshot.Hash{2})
	require.NoError(t, err)

	backend := bls.New(confs[0])
	restored, err := backend.PartialSignatureFromBytes(cert.Signature().ToBytes())
	require.NoError(t, err)

	rebuilt := hotshot.NewPartialCert(cert.Signer(), cert.View(), cert.Target(), restored)
	verifier := bls.New(confs[1])
	assert.True(t, verifier.VerifyPartialCert(rebuilt))
}

func TestBLSDACertVerifies(t *testing.T) {
	confs := buildBLSConfigs(t, 2)
	payload := hotshot.Hash{5}
	view := hotshot.View(1)

	certs := make([]hotshot.PartialCert, 0, 2)
	signers := hotshot.NewIDSet(2)
	for _, c := range confs {
		cert, err := bls.New(c).CreatePartialCert(view, payload)
		require.NoError(t, err)
		certs = append(certs, cert)
		signers.Add(cert.Signer())
	}
	agg, err := bls.New(confs[0]).CombinePartial(certs)
	require.NoError(t, err)

	cert := hotshot.NewDACert(view, payload, agg, signers)
	verifier := bls.New(confs[1])
	assert.True(t, verifier.VerifyDACert(cert))
}
