// Package bls implements the modules.Crypto backend using true
// non-interactive BLS12-381 signature aggregation: one compact aggregate
// signature rather than one signature per signer. The specification
// allows either this or the ecdsa package's multi-sig scheme; which one
// an epoch uses is opaque to every other module, including the
// aggregator. Grounded on github.com/kilic/bls12-381, a direct dependency
// of the relab/hotstuff family in the reference corpus.
package bls

import (
	"fmt"

	bls12381 "github.com/kilic/bls12-381"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/config"
	"github.com/hkey0/HotShot/modules"
)

// domain separates HotShot's BLS signatures from any other protocol that
// might share the same curve, per standard hash-to-curve practice.
var domain = []byte("HOTSHOT-BLS12381-SIG-V1")

// signature wraps a compressed G2 point: individual signatures and
// aggregates are both represented this way, since a sum of G2 points is
// itself a valid (aggregate) signature.
type signature struct {
	compressed []byte
}

func (s signature) ToBytes() []byte { return s.compressed }

type blsCrypto struct {
	conf *config.ReplicaConfig
	priv *bls12381.Fr
	g1   *bls12381.G1
	g2   *bls12381.G2
}

// New returns a modules.Crypto backend signing with conf's BLS private
// scalar and verifying against the BLS public keys recorded in conf's
// validator set.
func New(conf *config.ReplicaConfig) modules.Crypto {
	return &blsCrypto{
		conf: conf,
		priv: bls12381.NewFr().FromBytes(conf.BLSPriv),
		g1:   bls12381.NewG1(),
		g2:   bls12381.NewG2(),
	}
}

func (c *blsCrypto) hashToG2(msg []byte) (*bls12381.PointG2, error) {
	p, err := c.g2.HashToCurve(msg, domain)
	if err != nil {
		return nil, fmt.Errorf("bls: hash to curve: %w", err)
	}
	return p, nil
}

func (c *blsCrypto) sign(msg []byte) (signature, error) {
	h, err := c.hashToG2(msg)
	if err != nil {
		return signature{}, err
	}
	sig := c.g2.New()
	c.g2.MulScalar(sig, h, c.priv)
	return signature{compressed: c.g2.ToCompressed(sig)}, nil
}

func (c *blsCrypto) CreatePartialCert(view hotshot.View, target hotshot.Hash) (hotshot.PartialCert, error) {
	sig, err := c.sign(signMessage(view, target))
	if err != nil {
		return hotshot.PartialCert{}, err
	}
	return hotshot.NewPartialCert(hotshot.ID(c.conf.ID), view, target, sig), nil
}

func signMessage(view hotshot.View, target hotshot.Hash) []byte {
	vb := hotshot.LittleEndianUint64(uint64(view))
	msg := make([]byte, 0, 40)
	msg = append(msg, vb[:]...)
	msg = append(msg, target[:]...)
	return msg
}

func timeoutMessage(view, highQCView hotshot.View) []byte {
	vb := hotshot.LittleEndianUint64(uint64(view))
	tb := hotshot.TimeoutTarget
	hb := hotshot.LittleEndianUint64(uint64(highQCView))
	msg := make([]byte, 0, 48)
	msg = append(msg, vb[:]...)
	msg = append(msg, tb[:]...)
	msg = append(msg, hb[:]...)
	return msg
}

func (c *blsCrypto) pubKeyOf(id hotshot.ID) (*bls12381.PointG1, error) {
	info, ok := c.conf.Set.Get(uint32(id))
	if !ok || info.BLSPub == nil {
		return nil, fmt.Errorf("bls: no BLS public key for signer %d", id)
	}
	return c.g1.FromCompressed(info.BLSPub)
}

func (c *blsCrypto) verifyOne(id hotshot.ID, sig signature, msg []byte) bool {
	pub, err := c.pubKeyOf(id)
	if err != nil {
		return false
	}
	sigPoint, err := c.g2.FromCompressed(sig.compressed)
	if err != nil {
		return false
	}
	h, err := c.hashToG2(msg)
	if err != nil {
		return false
	}
	engine := bls12381.NewEngine()
	engine.AddPair(pub, h)
	engine.AddPairInv(c.g1.One(), sigPoint)
	return engine.Check()
}

func (c *blsCrypto) VerifyPartialCert(cert hotshot.PartialCert) bool {
	sig, ok := cert.Signature().(signature)
	if !ok {
		return false
	}
	return c.verifyOne(cert.Signer(), sig, signMessage(cert.View(), cert.Target()))
}

func (c *blsCrypto) CreateTimeoutSignature(view, highQCView hotshot.View) (hotshot.TimeoutVote, error) {
	sig, err := c.sign(timeoutMessage(view, highQCView))
	if err != nil {
		return hotshot.TimeoutVote{}, err
	}
	return hotshot.NewTimeoutVote(hotshot.ID(c.conf.ID), view, highQCView, sig), nil
}

func (c *blsCrypto) VerifyTimeoutVote(vote hotshot.TimeoutVote) bool {
	sig, ok := vote.Signature().(signature)
	if !ok {
		return false
	}
	return c.verifyOne(vote.Signer(), sig, timeoutMessage(vote.View(), vote.HighQCView()))
}

// aggregatePoints sums every signature's G2 point into one compact
// aggregate, the heart of non-interactive BLS aggregation: the result
// verifies against the sum of the signers' public keys (for a shared
// message) without any further interaction between signers.
func (c *blsCrypto) aggregatePoints(sigs []signature) (signature, error) {
	if len(sigs) == 0 {
		return signature{}, fmt.Errorf("bls: cannot aggregate zero signatures")
	}
	acc := c.g2.Zero()
	for _, sig := range sigs {
		p, err := c.g2.FromCompressed(sig.compressed)
		if err != nil {
			return signature{}, fmt.Errorf("bls: decompress signature: %w", err)
		}
		c.g2.Add(acc, acc, p)
	}
	return signature{compressed: c.g2.ToCompressed(acc)}, nil
}

func (c *blsCrypto) CombinePartial(certs []hotshot.PartialCert) (hotshot.Signature, error) {
	sigs := make([]signature, 0, len(certs))
	for _, cert := range certs {
		sig, ok := cert.Signature().(signature)
		if !ok {
			return nil, fmt.Errorf("bls: cert from signer %d has wrong signature type", cert.Signer())
		}
		sigs = append(sigs, sig)
	}
	return c.aggregatePoints(sigs)
}

func (c *blsCrypto) CombineTimeout(votes []hotshot.TimeoutVote) (hotshot.Signature, error) {
	sigs := make([]signature, 0, len(votes))
	for _, vote := range votes {
		sig, ok := vote.Signature().(signature)
		if !ok {
			return nil, fmt.Errorf("bls: timeout vote from signer %d has wrong signature type", vote.Signer())
		}
		sigs = append(sigs, sig)
	}
	return c.aggregatePoints(sigs)
}

// aggregatePubKeys sums the public keys of the given signers, the
// counterpart used when verifying an aggregate signature.
func (c *blsCrypto) aggregatePubKeys(signers *hotshot.IDSet) (*bls12381.PointG1, error) {
	acc := c.g1.Zero()
	var err error
	signers.ForEach(func(id hotshot.ID) {
		if err != nil {
			return
		}
		var pub *bls12381.PointG1
		pub, err = c.pubKeyOf(id)
		if err != nil {
			return
		}
		c.g1.Add(acc, acc, pub)
	})
	return acc, err
}

func (c *blsCrypto) verifyAggregate(sig signature, msg []byte, signers *hotshot.IDSet) bool {
	if signers.Len() == 0 {
		return false
	}
	aggPub, err := c.aggregatePubKeys(signers)
	if err != nil {
		return false
	}
	sigPoint, err := c.g2.FromCompressed(sig.compressed)
	if err != nil {
		return false
	}
	h, err := c.hashToG2(msg)
	if err != nil {
		return false
	}
	engine := bls12381.NewEngine()
	engine.AddPair(aggPub, h)
	engine.AddPairInv(c.g1.One(), sigPoint)
	return engine.Check()
}

func (c *blsCrypto) VerifyQuorumCert(qc *hotshot.QuorumCert) bool {
	if qc == nil {
		return false
	}
	sig, ok := qc.Signature().(signature)
	if !ok {
		return false
	}
	return c.verifyAggregate(sig, signMessage(qc.View(), qc.BlockHash()), qc.Signers())
}

func (c *blsCrypto) VerifyTimeoutCert(tc *hotshot.TimeoutCert) bool {
	if tc == nil {
		return false
	}
	sig, ok := tc.Signature().(signature)
	if !ok {
		return false
	}
	return c.verifyAggregate(sig, timeoutMessage(tc.View(), tc.HighQCView()), tc.Signers())
}

// PartialSignatureFromBytes wraps a raw compressed G2 point as a
// signature; a single signature and an aggregate are indistinguishable in
// BLS, so the same compressed-point encoding serves both.
func (c *blsCrypto) PartialSignatureFromBytes(b []byte) (hotshot.Signature, error) {
	return signature{compressed: append([]byte(nil), b...)}, nil
}

// AggregateSignatureFromBytes wraps a raw compressed G2 point as an
// aggregate signature (see PartialSignatureFromBytes).
func (c *blsCrypto) AggregateSignatureFromBytes(b []byte) (hotshot.Signature, error) {
	return c.PartialSignatureFromBytes(b)
}

func (c *blsCrypto) VerifyDACert(cert *hotshot.DACert) bool {
	if cert == nil {
		return false
	}
	sig, ok := cert.Signature().(signature)
	if !ok {
		return false
	}
	return c.verifyAggregate(sig, signMessage(cert.View(), cert.PayloadCommitment()), cert.Signers())
}
