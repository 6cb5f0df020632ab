// Package wire implements the canonical binary encoding for every
// consensus message kind: length-prefixed fields, little-endian
// integers, 32-byte hash commitments, and signer indices as
// validator-set positions rather than public keys. This is the
// consensus-level payload carried inside the network adapter's
// protobuf-framed RPC envelope (package internal/proto) — protobuf
// frames the call, wire encodes what is actually being agreed on,
// grounded on spec.md §6's explicit separation of the two concerns.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/modules"
)

// Kind discriminates the message carried in an encoded frame's first
// byte, letting a receiver dispatch to the right decoder before it has
// parsed anything else.
type Kind byte

const (
	KindProposal Kind = iota + 1
	KindVote
	KindTimeoutVote
	KindNewView
	KindDAProposal
	KindDAVote
	KindRequest
	KindResponse
)

// buffer is a small append-only byte writer for the fixed little-endian,
// length-prefixed primitives every encoder below is built from.
type buffer struct {
	b []byte
}

func (w *buffer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.b = append(w.b, b[:]...)
}

func (w *buffer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.b = append(w.b, b[:]...)
}

func (w *buffer) hash(h hotshot.Hash) {
	w.b = append(w.b, h[:]...)
}

func (w *buffer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.b = append(w.b, b...)
}

func (w *buffer) idSet(s *hotshot.IDSet) {
	w.bytes(s.Bytes())
}

// reader is the corresponding cursor over an encoded frame.
type reader struct {
	b   []byte
	off int
}

func (r *reader) u32() (uint32, error) {
	if r.off+4 > len(r.b) {
		return 0, fmt.Errorf("wire: truncated uint32")
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.off+8 > len(r.b) {
		return 0, fmt.Errorf("wire: truncated uint64")
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) hash() (hotshot.Hash, error) {
	var h hotshot.Hash
	if r.off+32 > len(r.b) {
		return h, fmt.Errorf("wire: truncated hash")
	}
	copy(h[:], r.b[r.off:r.off+32])
	r.off += 32
	return h, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.off+int(n) > len(r.b) {
		return nil, fmt.Errorf("wire: truncated byte field")
	}
	out := r.b[r.off : r.off+int(n)]
	r.off += int(n)
	return out, nil
}

func (r *reader) idSet() (*hotshot.IDSet, error) {
	b, err := r.bytes()
	if err != nil {
		return nil, err
	}
	return hotshot.IDSetFromBytes(b), nil
}

func (r *reader) done() bool { return r.off >= len(r.b) }

// Codec encodes and decodes wire messages, reconstructing signatures
// through crypto (the wire format itself never interprets signature
// bytes, only passes them through to the configured backend).
type Codec struct {
	crypto modules.Crypto
}

// NewCodec returns a Codec that reconstructs signatures via crypto.
func NewCodec(crypto modules.Crypto) *Codec {
	return &Codec{crypto: crypto}
}

// Encode dispatches msg to its type's encoder, returning a frame whose
// first byte is the Kind and whose remainder is that message's body.
func (c *Codec) Encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case hotshot.ProposeMsg:
		return c.encodeProposal(m), nil
	case hotshot.VoteMsg:
		return c.encodeVote(m), nil
	case hotshot.TimeoutMsg:
		return c.encodeTimeoutVote(m), nil
	case hotshot.NewViewMsg:
		return c.encodeNewView(m), nil
	case hotshot.DAProposalMsg:
		return c.encodeDAProposal(m), nil
	case hotshot.DAVoteMsg:
		return c.encodeDAVote(m), nil
	case hotshot.RequestMsg:
		return c.encodeRequest(m), nil
	case hotshot.ResponseMsg:
		return c.encodeResponse(m), nil
	default:
		return nil, fmt.Errorf("wire: unsupported message type %T", msg)
	}
}

// Decode parses an encoded frame back into its concrete message type.
func (c *Codec) Decode(frame []byte) (any, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("wire: empty frame")
	}
	kind := Kind(frame[0])
	r := &reader{b: frame[1:]}
	switch kind {
	case KindProposal:
		return c.decodeProposal(r)
	case KindVote:
		return c.decodeVote(r)
	case KindTimeoutVote:
		return c.decodeTimeoutVote(r)
	case KindNewView:
		return c.decodeNewView(r)
	case KindDAProposal:
		return c.decodeDAProposal(r)
	case KindDAVote:
		return c.decodeDAVote(r)
	case KindRequest:
		return c.decodeRequest(r)
	case KindResponse:
		return c.decodeResponse(r)
	default:
		return nil, fmt.Errorf("wire: unknown message kind %d", kind)
	}
}

func (c *Codec) encodeBlock(w *buffer, b *hotshot.Block) {
	w.hash(b.Parent())
	w.hash(b.PayloadCommitment())
	w.u64(uint64(b.View()))
	w.u64(b.Height())
	w.u64(uint64(b.Proposer()))
	c.encodeQCOpt(w, b.QuorumCert())
}

func (c *Codec) decodeBlock(r *reader) (*hotshot.Block, error) {
	parent, err := r.hash()
	if err != nil {
		return nil, err
	}
	payload, err := r.hash()
	if err != nil {
		return nil, err
	}
	view, err := r.u64()
	if err != nil {
		return nil, err
	}
	height, err := r.u64()
	if err != nil {
		return nil, err
	}
	proposer, err := r.u64()
	if err != nil {
		return nil, err
	}
	qc, err := c.decodeQCOpt(r)
	if err != nil {
		return nil, err
	}
	return hotshot.NewBlock(parent, qc, payload, hotshot.View(view), height, hotshot.ID(proposer)), nil
}

func (c *Codec) encodeQCOpt(w *buffer, qc *hotshot.QuorumCert) {
	if qc == nil {
		w.b = append(w.b, 0)
		return
	}
	w.b = append(w.b, 1)
	c.encodeQC(w, qc)
}

func (c *Codec) decodeQCOpt(r *reader) (*hotshot.QuorumCert, error) {
	if r.off >= len(r.b) {
		return nil, fmt.Errorf("wire: truncated QC presence flag")
	}
	present := r.b[r.off]
	r.off++
	if present == 0 {
		return nil, nil
	}
	return c.decodeQC(r)
}

func (c *Codec) encodeQC(w *buffer, qc *hotshot.QuorumCert) {
	w.u64(uint64(qc.View()))
	w.hash(qc.BlockHash())
	w.bytes(sigBytes(qc.Signature()))
	w.idSet(qc.Signers())
}

func (c *Codec) decodeQC(r *reader) (*hotshot.QuorumCert, error) {
	view, err := r.u64()
	if err != nil {
		return nil, err
	}
	block, err := r.hash()
	if err != nil {
		return nil, err
	}
	sigB, err := r.bytes()
	if err != nil {
		return nil, err
	}
	signers, err := r.idSet()
	if err != nil {
		return nil, err
	}
	sig, err := c.crypto.AggregateSignatureFromBytes(sigB)
	if err != nil {
		return nil, err
	}
	return hotshot.NewQuorumCert(hotshot.View(view), block, sig, signers), nil
}

func (c *Codec) encodeTCOpt(w *buffer, tc *hotshot.TimeoutCert) {
	if tc == nil {
		w.b = append(w.b, 0)
		return
	}
	w.b = append(w.b, 1)
	c.encodeTC(w, tc)
}

func (c *Codec) decodeTCOpt(r *reader) (*hotshot.TimeoutCert, error) {
	if r.off >= len(r.b) {
		return nil, fmt.Errorf("wire: truncated TC presence flag")
	}
	present := r.b[r.off]
	r.off++
	if present == 0 {
		return nil, nil
	}
	return c.decodeTC(r)
}

func (c *Codec) encodeTC(w *buffer, tc *hotshot.TimeoutCert) {
	w.u64(uint64(tc.View()))
	w.u64(uint64(tc.HighQCView()))
	w.bytes(sigBytes(tc.Signature()))
	w.idSet(tc.Signers())
}

func (c *Codec) decodeTC(r *reader) (*hotshot.TimeoutCert, error) {
	view, err := r.u64()
	if err != nil {
		return nil, err
	}
	highQCView, err := r.u64()
	if err != nil {
		return nil, err
	}
	sigB, err := r.bytes()
	if err != nil {
		return nil, err
	}
	signers, err := r.idSet()
	if err != nil {
		return nil, err
	}
	sig, err := c.crypto.AggregateSignatureFromBytes(sigB)
	if err != nil {
		return nil, err
	}
	return hotshot.NewTimeoutCert(hotshot.View(view), hotshot.View(highQCView), sig, signers), nil
}

func (c *Codec) encodePartialCert(w *buffer, pc hotshot.PartialCert) {
	w.u64(uint64(pc.Signer()))
	w.u64(uint64(pc.View()))
	w.hash(pc.Target())
	w.bytes(sigBytes(pc.Signature()))
}

func (c *Codec) decodePartialCert(r *reader) (hotshot.PartialCert, error) {
	signer, err := r.u64()
	if err != nil {
		return hotshot.PartialCert{}, err
	}
	view, err := r.u64()
	if err != nil {
		return hotshot.PartialCert{}, err
	}
	target, err := r.hash()
	if err != nil {
		return hotshot.PartialCert{}, err
	}
	sigB, err := r.bytes()
	if err != nil {
		return hotshot.PartialCert{}, err
	}
	sig, err := c.crypto.PartialSignatureFromBytes(sigB)
	if err != nil {
		return hotshot.PartialCert{}, err
	}
	return hotshot.NewPartialCert(hotshot.ID(signer), hotshot.View(view), target, sig), nil
}

func (c *Codec) encodeProposal(m hotshot.ProposeMsg) []byte {
	w := &buffer{b: []byte{byte(KindProposal)}}
	w.u64(uint64(m.ID))
	c.encodeBlock(w, m.Block)
	c.encodeTCOpt(w, m.TC)
	return w.b
}

func (c *Codec) decodeProposal(r *reader) (hotshot.ProposeMsg, error) {
	id, err := r.u64()
	if err != nil {
		return hotshot.ProposeMsg{}, err
	}
	block, err := c.decodeBlock(r)
	if err != nil {
		return hotshot.ProposeMsg{}, err
	}
	tc, err := c.decodeTCOpt(r)
	if err != nil {
		return hotshot.ProposeMsg{}, err
	}
	return hotshot.ProposeMsg{ID: hotshot.ID(id), Block: block, TC: tc}, nil
}

func (c *Codec) encodeVote(m hotshot.VoteMsg) []byte {
	w := &buffer{b: []byte{byte(KindVote)}}
	w.u64(uint64(m.ID))
	c.encodePartialCert(w, m.PartialCert)
	return w.b
}

func (c *Codec) decodeVote(r *reader) (hotshot.VoteMsg, error) {
	id, err := r.u64()
	if err != nil {
		return hotshot.VoteMsg{}, err
	}
	pc, err := c.decodePartialCert(r)
	if err != nil {
		return hotshot.VoteMsg{}, err
	}
	return hotshot.VoteMsg{ID: hotshot.ID(id), PartialCert: pc}, nil
}

func (c *Codec) encodeTimeoutVote(m hotshot.TimeoutMsg) []byte {
	w := &buffer{b: []byte{byte(KindTimeoutVote)}}
	w.u64(uint64(m.ID))
	w.u64(uint64(m.TimeoutVote.Signer()))
	w.u64(uint64(m.TimeoutVote.View()))
	w.u64(uint64(m.TimeoutVote.HighQCView()))
	w.bytes(sigBytes(m.TimeoutVote.Signature()))
	return w.b
}

func (c *Codec) decodeTimeoutVote(r *reader) (hotshot.TimeoutMsg, error) {
	id, err := r.u64()
	if err != nil {
		return hotshot.TimeoutMsg{}, err
	}
	signer, err := r.u64()
	if err != nil {
		return hotshot.TimeoutMsg{}, err
	}
	view, err := r.u64()
	if err != nil {
		return hotshot.TimeoutMsg{}, err
	}
	highQCView, err := r.u64()
	if err != nil {
		return hotshot.TimeoutMsg{}, err
	}
	sigB, err := r.bytes()
	if err != nil {
		return hotshot.TimeoutMsg{}, err
	}
	sig, err := c.crypto.PartialSignatureFromBytes(sigB)
	if err != nil {
		return hotshot.TimeoutMsg{}, err
	}
	vote := hotshot.NewTimeoutVote(hotshot.ID(signer), hotshot.View(view), hotshot.View(highQCView), sig)
	return hotshot.TimeoutMsg{ID: hotshot.ID(id), TimeoutVote: vote}, nil
}

func (c *Codec) encodeNewView(m hotshot.NewViewMsg) []byte {
	w := &buffer{b: []byte{byte(KindNewView)}}
	w.u64(uint64(m.ID))
	qc, _ := m.SyncInfo.QC()
	c.encodeQCOpt(w, qc)
	tc, _ := m.SyncInfo.TC()
	c.encodeTCOpt(w, tc)
	return w.b
}

func (c *Codec) decodeNewView(r *reader) (hotshot.NewViewMsg, error) {
	id, err := r.u64()
	if err != nil {
		return hotshot.NewViewMsg{}, err
	}
	qc, err := c.decodeQCOpt(r)
	if err != nil {
		return hotshot.NewViewMsg{}, err
	}
	tc, err := c.decodeTCOpt(r)
	if err != nil {
		return hotshot.NewViewMsg{}, err
	}
	si := hotshot.NewSyncInfo()
	if qc != nil {
		si = si.WithQC(qc)
	}
	if tc != nil {
		si = si.WithTC(tc)
	}
	return hotshot.NewViewMsg{ID: hotshot.ID(id), SyncInfo: si}, nil
}

func (c *Codec) encodeDAProposal(m hotshot.DAProposalMsg) []byte {
	w := &buffer{b: []byte{byte(KindDAProposal)}}
	w.u64(uint64(m.ID))
	w.u64(uint64(m.View))
	w.hash(m.Payload)
	w.u32(uint32(len(m.Shards)))
	for _, s := range m.Shards {
		w.bytes(s)
	}
	w.u32(uint32(len(m.ShardHashes)))
	for _, h := range m.ShardHashes {
		w.hash(h)
	}
	return w.b
}

func (c *Codec) decodeDAProposal(r *reader) (hotshot.DAProposalMsg, error) {
	id, err := r.u64()
	if err != nil {
		return hotshot.DAProposalMsg{}, err
	}
	view, err := r.u64()
	if err != nil {
		return hotshot.DAProposalMsg{}, err
	}
	payload, err := r.hash()
	if err != nil {
		return hotshot.DAProposalMsg{}, err
	}
	nShards, err := r.u32()
	if err != nil {
		return hotshot.DAProposalMsg{}, err
	}
	shards := make([][]byte, nShards)
	for i := range shards {
		shards[i], err = r.bytes()
		if err != nil {
			return hotshot.DAProposalMsg{}, err
		}
	}
	nHashes, err := r.u32()
	if err != nil {
		return hotshot.DAProposalMsg{}, err
	}
	hashes := make([]hotshot.Hash, nHashes)
	for i := range hashes {
		hashes[i], err = r.hash()
		if err != nil {
			return hotshot.DAProposalMsg{}, err
		}
	}
	return hotshot.DAProposalMsg{ID: hotshot.ID(id), View: hotshot.View(view), Payload: payload, Shards: shards, ShardHashes: hashes}, nil
}

func (c *Codec) encodeDAVote(m hotshot.DAVoteMsg) []byte {
	w := &buffer{b: []byte{byte(KindDAVote)}}
	w.u64(uint64(m.ID))
	c.encodePartialCert(w, m.PartialCert)
	return w.b
}

func (c *Codec) decodeDAVote(r *reader) (hotshot.DAVoteMsg, error) {
	id, err := r.u64()
	if err != nil {
		return hotshot.DAVoteMsg{}, err
	}
	pc, err := c.decodePartialCert(r)
	if err != nil {
		return hotshot.DAVoteMsg{}, err
	}
	return hotshot.DAVoteMsg{ID: hotshot.ID(id), PartialCert: pc}, nil
}

func (c *Codec) encodeRequest(m hotshot.RequestMsg) []byte {
	w := &buffer{b: []byte{byte(KindRequest)}}
	w.u64(uint64(m.ID))
	w.b = append(w.b, byte(m.Kind))
	w.hash(m.Commitment)
	return w.b
}

func (c *Codec) decodeRequest(r *reader) (hotshot.RequestMsg, error) {
	id, err := r.u64()
	if err != nil {
		return hotshot.RequestMsg{}, err
	}
	if r.off >= len(r.b) {
		return hotshot.RequestMsg{}, fmt.Errorf("wire: truncated request kind")
	}
	kind := hotshot.RequestKind(r.b[r.off])
	r.off++
	commitment, err := r.hash()
	if err != nil {
		return hotshot.RequestMsg{}, err
	}
	return hotshot.RequestMsg{ID: hotshot.ID(id), Kind: kind, Commitment: commitment}, nil
}

func (c *Codec) encodeResponse(m hotshot.ResponseMsg) []byte {
	w := &buffer{b: []byte{byte(KindResponse)}}
	w.hash(m.Commitment)
	if m.Found {
		w.b = append(w.b, 1)
	} else {
		w.b = append(w.b, 0)
	}
	c.encodeBlockOpt(w, m.BlockData)
	w.bytes(m.Payload)
	return w.b
}

func (c *Codec) encodeBlockOpt(w *buffer, b *hotshot.Block) {
	if b == nil {
		w.b = append(w.b, 0)
		return
	}
	w.b = append(w.b, 1)
	c.encodeBlock(w, b)
}

func (c *Codec) decodeResponse(r *reader) (hotshot.ResponseMsg, error) {
	commitment, err := r.hash()
	if err != nil {
		return hotshot.ResponseMsg{}, err
	}
	if r.off >= len(r.b) {
		return hotshot.ResponseMsg{}, fmt.Errorf("wire: truncated response found flag")
	}
	found := r.b[r.off] != 0
	r.off++
	var block *hotshot.Block
	if r.off >= len(r.b) {
		return hotshot.ResponseMsg{}, fmt.Errorf("wire: truncated response block flag")
	}
	hasBlock := r.b[r.off]
	r.off++
	if hasBlock != 0 {
		block, err = c.decodeBlock(r)
		if err != nil {
			return hotshot.ResponseMsg{}, err
		}
	}
	payload, err := r.bytes()
	if err != nil {
		return hotshot.ResponseMsg{}, err
	}
	return hotshot.ResponseMsg{Commitment: commitment, Found: found, BlockData: block, Payload: payload}, nil
}

func sigBytes(sig hotshot.Signature) []byte {
	if sig == nil {
		return nil
	}
	return sig.ToBytes()
}
