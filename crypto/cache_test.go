package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/crypto"
	"github.com/hkey0/HotShot/modules"
)

// countingCrypto wraps a fixed verification verdict and counts how many
// times each Verify* method actually ran, so tests can assert the cache
// short-circuits repeat calls instead of re-verifying.
type countingCrypto struct {
	verifyPartialCerts int
	verifyQCs          int
	result             bool
}

func (c *countingCrypto) CreatePartialCert(view hotshot.View, target hotshot.Hash) (hotshot.PartialCert, error) {
	return hotshot.NewPartialCert(0, view, target, nil), nil
}
func (c *countingCrypto) VerifyPartialCert(cert hotshot.PartialCert) bool {
	c.verifyPartialCerts++
	return c.result
}
func (c *countingCrypto) CreateTimeoutSignature(view, highQCView hotshot.View) (hotshot.TimeoutVote, error) {
	return hotshot.NewTimeoutVote(0, view, highQCView, nil), nil
}
func (c *countingCrypto) VerifyTimeoutVote(vote hotshot.TimeoutVote) bool { return c.result }
func (c *countingCrypto) CombinePartial(certs []hotshot.PartialCert) (hotshot.Signature, error) {
	return nil, nil
}
func (c *countingCrypto) CombineTimeout(votes []hotshot.TimeoutVote) (hotshot.Signature, error) {
	return nil, nil
}
func (c *countingCrypto) VerifyQuorumCert(qc *hotshot.QuorumCert) bool {
	c.verifyQCs++
	return c.result
}
func (c *countingCrypto) VerifyTimeoutCert(tc *hotshot.TimeoutCert) bool { return c.result }
func (c *countingCrypto) VerifyDACert(cert *hotshot.DACert) bool        { return c.result }
func (c *countingCrypto) PartialSignatureFromBytes(b []byte) (hotshot.Signature, error) {
	return nil, nil
}
func (c *countingCrypto) AggregateSignatureFromBytes(b []byte) (hotshot.Signature, error) {
	return nil, nil
}

var _ modules.Crypto = (*countingCrypto)(nil)

func TestCacheMemoizesVerifyPartialCert(t *testing.T) {
	inner := &countingCrypto{result: true}
	cached := crypto.NewCache(inner, 10)

	cert := hotshot.NewPartialCert(1, 5, hotshot.Hash{1}, nil)

	require.True(t, cached.VerifyPartialCert(cert))
	require.True(t, cached.VerifyPartialCert(cert))
	require.True(t, cached.VerifyPartialCert(cert))

	assert.Equal(t, 1, inner.verifyPartialCerts, "repeat verification of the same cert must hit the cache")
}

func TestCacheDistinguishesDifferentCerts(t *testing.T) {
	inner := &countingCrypto{result: true}
	cached := crypto.NewCache(inner, 10)

	a := hotshot.NewPartialCert(1, 5, hotshot.Hash{1}, nil)
	b := hotshot.NewPartialCert(2, 5, hotshot.Hash{1}, nil)

	cached.VerifyPartialCert(a)
	cached.VerifyPartialCert(b)

	assert.Equal(t, 2, inner.verifyPartialCerts)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingCrypto{result: true}
	cached := crypto.NewCache(inner, 2)

	signers := hotshot.NewIDSet(1)
	signers.Add(0)
	qc1 := hotshot.NewQuorumCert(1, hotshot.Hash{1}, nil, signers)
	qc2 := hotshot.NewQuorumCert(2, hotshot.Hash{2}, nil, signers)
	qc3 := hotshot.NewQuorumCert(3, hotshot.Hash{3}, nil, signers)

	cached.VerifyQuorumCert(qc1)
	cached.VerifyQuorumCert(qc2)
	cached.VerifyQuorumCert(qc3) // evicts qc1, the size-2 cache's oldest entry

	assert.Equal(t, 3, inner.verifyQCs)

	cached.VerifyQuorumCert(qc1) // must miss again
	assert.Equal(t, 4, inner.verifyQCs)

	cached.VerifyQuorumCert(qc3) // still warm
	assert.Equal(t, 4, inner.verifyQCs)
}

func TestCacheNilCertsAreRejectedNotCached(t *testing.T) {
	inner := &countingCrypto{result: true}
	cached := crypto.NewCache(inner, 10)

	assert.False(t, cached.VerifyQuorumCert(nil))
	assert.Equal(t, 0, inner.verifyQCs, "nil QC must short-circuit before reaching the inner backend")
}

func TestCacheSignOperationsPassThrough(t *testing.T) {
	inner := &countingCrypto{result: true}
	cached := crypto.NewCache(inner, 10)

	cert, err := cached.CreatePartialCert(1, hotshot.Hash{1})
	require.NoError(t, err)
	assert.Equal(t, hotshot.View(1), cert.View())
}
