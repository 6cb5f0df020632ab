// Package crypto provides a verification-caching decorator over any
// modules.Crypto backend (ecdsa or bls), grounded on the corpus's
// twins-network test harness, which wires crypto.NewCache(ecdsa.New(),
// 100) in front of every simulated replica so that repeated verification
// of the same certificate during a test run doesn't re-run the
// underlying signature math.
package crypto

import (
	"container/list"
	"sync"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/modules"
)

// cache wraps an inner modules.Crypto, memoizing the boolean result of
// every Verify* call keyed by a cheap fingerprint of its arguments. Signing
// operations pass straight through: they are not repeated with identical
// arguments in practice, and caching them would require exposing a key we
// have no use for.
type cache struct {
	inner modules.Crypto

	mut   sync.Mutex
	size  int
	order *list.List
	index map[any]*list.Element
}

type entry struct {
	key   any
	valid bool
}

// NewCache returns a modules.Crypto that caches verification results from
// inner in an LRU of the given size.
func NewCache(inner modules.Crypto, size int) modules.Crypto {
	return &cache{
		inner: inner,
		size:  size,
		order: list.New(),
		index: make(map[any]*list.Element),
	}
}

func (c *cache) lookup(key any) (bool, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	el, ok := c.index[key]
	if !ok {
		return false, false
	}
	c.order.MoveToFront(el)
	return el.Value.(entry).valid, true
}

func (c *cache) store(key any, valid bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
		el.Value = entry{key: key, valid: valid}
		return
	}
	el := c.order.PushFront(entry{key: key, valid: valid})
	c.index[key] = el
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(entry).key)
	}
}

type partialCertKey struct {
	signer hotshot.ID
	view   hotshot.View
	target hotshot.Hash
}

type timeoutVoteKey struct {
	signer     hotshot.ID
	view       hotshot.View
	highQCView hotshot.View
}

type qcKey struct {
	view  hotshot.View
	block hotshot.Hash
}

type tcKey struct {
	view       hotshot.View
	highQCView hotshot.View
}

type daKey struct {
	view    hotshot.View
	payload hotshot.Hash
}

func (c *cache) CreatePartialCert(view hotshot.View, target hotshot.Hash) (hotshot.PartialCert, error) {
	return c.inner.CreatePartialCert(view, target)
}

func (c *cache) VerifyPartialCert(cert hotshot.PartialCert) bool {
	key := partialCertKey{signer: cert.Signer(), view: cert.View(), target: cert.Target()}
	if v, ok := c.lookup(key); ok {
		return v
	}
	v := c.inner.VerifyPartialCert(cert)
	c.store(key, v)
	return v
}

func (c *cache) CreateTimeoutSignature(view, highQCView hotshot.View) (hotshot.TimeoutVote, error) {
	return c.inner.CreateTimeoutSignature(view, highQCView)
}

func (c *cache) VerifyTimeoutVote(vote hotshot.TimeoutVote) bool {
	key := timeoutVoteKey{signer: vote.Signer(), view: vote.View(), highQCView: vote.HighQCView()}
	if v, ok := c.lookup(key); ok {
		return v
	}
	v := c.inner.VerifyTimeoutVote(vote)
	c.store(key, v)
	return v
}

func (c *cache) CombinePartial(certs []hotshot.PartialCert) (hotshot.Signature, error) {
	return c.inner.CombinePartial(certs)
}

func (c *cache) CombineTimeout(votes []hotshot.TimeoutVote) (hotshot.Signature, error) {
	return c.inner.CombineTimeout(votes)
}

func (c *cache) VerifyQuorumCert(qc *hotshot.QuorumCert) bool {
	if qc == nil {
		return false
	}
	key := qcKey{view: qc.View(), block: qc.BlockHash()}
	if v, ok := c.lookup(key); ok {
		return v
	}
	v := c.inner.VerifyQuorumCert(qc)
	c.store(key, v)
	return v
}

func (c *cache) VerifyTimeoutCert(tc *hotshot.TimeoutCert) bool {
	if tc == nil {
		return false
	}
	key := tcKey{view: tc.View(), highQCView: tc.HighQCView()}
	if v, ok := c.lookup(key); ok {
		return v
	}
	v := c.inner.VerifyTimeoutCert(tc)
	c.store(key, v)
	return v
}

func (c *cache) VerifyDACert(cert *hotshot.DACert) bool {
	if cert == nil {
		return false
	}
	key := daKey{view: cert.View(), payload: cert.PayloadCommitment()}
	if v, ok := c.lookup(key); ok {
		return v
	}
	v := c.inner.VerifyDACert(cert)
	c.store(key, v)
	return v
}

func (c *cache) PartialSignatureFromBytes(b []byte) (hotshot.Signature, error) {
	return c.inner.PartialSignatureFromBytes(b)
}

func (c *cache) AggregateSignatureFromBytes(b []byte) (hotshot.Signature, error) {
	return c.inner.AggregateSignatureFromBytes(b)
}
