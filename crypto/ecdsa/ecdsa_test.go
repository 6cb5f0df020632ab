package ecdsa_test

import (
	stdecdsa "crypto/ecdsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/config"
	"github.com/hkey0/HotShot/crypto/ecdsa"
	"github.com/hkey0/HotShot/crypto/keygen"
)

// buildConfigsSimple returns n ReplicaConfigs sharing one validator set,
// each holding its own private key, for exercising sign/verify across
// replicas sharing the same set.
func buildConfigsSimple(t *testing.T, n int) []*config.ReplicaConfig {
	t.Helper()

	infos := make([]config.ReplicaInfo, n)
	privs := make([]*stdecdsa.PrivateKey, n)
	for i := 0; i < n; i++ {
		priv, err := keygen.GenerateECDSAPrivateKey()
		require.NoError(t, err)
		infos[i] = config.ReplicaInfo{ID: uint32(i), PubKey: &priv.PublicKey, Stake: 1}
		privs[i] = priv
	}
	set := config.NewReplicaSet(infos)

	confs := make([]*config.ReplicaConfig, n)
	for i := 0; i < n; i++ {
		confs[i] = &config.ReplicaConfig{ID: uint32(i), Set: set, PrivateKey: privs[i]}
	}
	return confs
}

func TestECDSASignAndVerifyPartialCert(t *testing.T) {
	confs := buildConfigsSimple(t, 3)
	signer := ecdsa.New(confs[0])

	target := hotshot.Hash{1, 2, 3}
	cert, err := signer.CreatePartialCert(5, target)
	require.NoError(t, err)

	verifier := ecdsa.New(confs[1])
	assert.True(t, verifier.VerifyPartialCert(cert))
}

func TestECDSAVerifyPartialCertRejectsWrongView(t *testing.T) {
	confs := buildConfigsSimple(t, 2)
	signer := ecdsa.New(confs[0])
	verifier := ecdsa.New(confs[1])

	cert, err := signer.CreatePartialCert(5, hotshot.Hash{1})
	require.NoError(t, err)

	tampered := hotshot.NewPartialCert(cert.Signer(), 6, cert.Target(), cert.Signature())
	assert.False(t, verifier.VerifyPartialCert(tampered))
}

func TestECDSAQuorumCertAggregationRoundTrip(t *testing.T) {
	confs := buildConfigsSimple(t, 3)
	target := hotshot.Hash{7, 7, 7}
	view := hotshot.View(9)

	certs := make([]hotshot.PartialCert, 0, 3)
	signers := hotshot.NewIDSet(3)
	for _, c := range confs {
		cert, err := ecdsa.New(c).CreatePartialCert(view, target)
		require.NoError(t, err)
		certs = append(certs, cert)
		signers.Add(cert.Signer())
	}

	agg, err := ecdsa.New(confs[0]).CombinePartial(certs)
	require.NoError(t, err)

	qc := hotshot.NewQuorumCert(view, target, agg, signers)
	verifier := ecdsa.New(confs[1])
	assert.True(t, verifier.VerifyQuorumCert(qc))
}

func TestECDSAQuorumCertRejectsMissingSigner(t *testing.T) {
	confs := buildConfigsSimple(t, 3)
	target := hotshot.Hash{7}
	view := hotshot.View(1)

	certs := make([]hotshot.PartialCert, 0, 2)
	for _, c := range confs[:2] {
		cert, err := ecdsa.New(c).CreatePartialCert(view, target)
		require.NoError(t, err)
		certs = append(certs, cert)
	}
	agg, err := ecdsa.New(confs[0]).CombinePartial(certs)
	require.NoError(t, err)

	// claim a 3-of-3 set while only 2 actually signed
	claimedSigners := hotshot.NewIDSet(3)
	claimedSigners.Add(0)
	claimedSigners.Add(1)
	claimedSigners.Add(2)

	qc := hotshot.NewQuorumCert(view, target, agg, claimedSigners)
	verifier := ecdsa.New(confs[2])
	assert.False(t, verifier.VerifyQuorumCert(qc), "signer count mismatch must fail verification")
}

func TestECDSATimeoutVoteRoundTrip(t *testing.T) {
	confs := buildConfigsSimple(t, 2)
	signer := ecdsa.New(confs[0])

	vote, err := signer.CreateTimeoutSignature(10, 8)
	require.NoError(t, err)

	verifier := ecdsa.New(confs[1])
	assert.True(t, verifier.VerifyTimeoutVote(vote))
}

func TestECDSASignatureWireRoundTrip(t *testing.T) {
	confs := buildConfigsSimple(t, 2)
	signer := ecdsa.New(confs[0])

	cert, err := signer.CreatePartialCert(3, hotshot.Hash{4})
	require.NoError(t, err)

	backend := ecdsa.New(confs[0])
	restored, err := backend.PartialSignatureFromBytes(cert.Signature().ToBytes())
	require.NoError(t, err)

	rebuilt := hotshot.NewPartialCert(cert.Signer(), cert.View(), cert.Target(), restored)
	verifier := ecdsa.New(confs[1])
	assert.True(t, verifier.VerifyPartialCert(rebuilt))
}
