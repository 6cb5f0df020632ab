// Package backend is the modules.Configuration/modules.Replica network
// adapter: it dials every peer in the validator set, serves the Hotstuff
// RPCs (package internal/proto), and turns inbound wire-encoded messages
// into events on the shared eventloop.EventLoop, exactly as every other
// message source does (the aggregator, the synchronizer's self-delivered
// timeout vote, the DA task's self-delivered vote).
//
// Grounded on hotstuff.go's HotStuff/hotstuffServer: HotStuff.Start/
// startClient/startServer/Close for the dial/listen lifecycle,
// HotStuff.Propose/SendNewView for outbound sends, and
// hotstuffServer.getClientID for the per-connection ECDSA identity proof
// (a signature over a hash of the receiving replica's own ID, which only
// the claimed sender's private key could have produced). Per-peer
// backpressure uses golang.org/x/time/rate, a direct dependency of the
// zLimbo-hotstuff member of the reference corpus.
package backend

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/config"
	"github.com/hkey0/HotShot/eventloop"
	"github.com/hkey0/HotShot/internal/proto"
	"github.com/hkey0/HotShot/logging"
	"github.com/hkey0/HotShot/modules"
	"github.com/hkey0/HotShot/wire"
)

// failoverFailures and failoverWindow resolve the spec's combined-transport
// Open Question: each peer records the views in which a send to it failed,
// and once failures are recorded in failoverFailures distinct views, a
// unicast to that peer is broadcast to the whole configuration instead.
// Failures are not required to be consecutive. Entries more than
// failoverWindow views older than a newly recorded failure are dropped
// only when that failure is recorded, and a successful send removes only
// its own view's entry, so the broadcast fallback does not end with the
// view.
const (
	failoverFailures = 3
	failoverWindow   = 10
)

// rateLimit and burst bound how fast this replica sends to any one peer,
// a simple per-peer token bucket rather than a global one so one slow
// peer cannot starve sends to the rest of the configuration.
const (
	rateLimit = 500 // messages/sec
	burst     = 64
)

// peer is one configured connection: the dialed channel, its precomputed
// identity-proof metadata, and the sliding failure window backing the
// unicast-to-broadcast failover decision.
type peer struct {
	id      hotshot.ID
	info    config.ReplicaInfo
	conn    *grpc.ClientConn
	client  *proto.Client
	limiter *rate.Limiter
	proofMD metadata.MD

	mut          sync.Mutex
	failedAtView map[hotshot.View]bool
}

func (p *peer) outgoingContext(ctx context.Context) context.Context {
	return metadata.NewOutgoingContext(ctx, p.proofMD)
}

// recordFailure notes a unicast failure to this peer during view, and
// reports whether the failure count within the last failoverWindow views
// has reached failoverFailures.
func (p *peer) recordFailure(view hotshot.View) bool {
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.failedAtView == nil {
		p.failedAtView = make(map[hotshot.View]bool)
	}
	p.failedAtView[view] = true
	for v := range p.failedAtView {
		if v+failoverWindow < view {
			delete(p.failedAtView, v)
		}
	}
	return len(p.failedAtView) >= failoverFailures
}

func (p *peer) recordSuccess(view hotshot.View) {
	p.mut.Lock()
	defer p.mut.Unlock()
	delete(p.failedAtView, view)
}

// Backend implements modules.Configuration and hosts the proto.Receiver
// server side, wiring both to the shared event loop.
type Backend struct {
	conf        *config.ReplicaConfig
	selfID      hotshot.ID
	dialTimeout time.Duration

	loop       *eventloop.EventLoop
	crypto     modules.Crypto
	blockChain modules.BlockChain
	logger     logging.Logger
	codec      *wire.Codec

	mut      sync.RWMutex
	peers    map[hotshot.ID]*peer
	replicas map[hotshot.ID]modules.Replica

	listener net.Listener
	server   *grpc.Server
}

// New returns a Backend for conf, dialing peers with the given per-connect
// timeout.
func New(conf *config.ReplicaConfig, dialTimeout time.Duration) *Backend {
	return &Backend{
		conf:        conf,
		selfID:      hotshot.ID(conf.ID),
		dialTimeout: dialTimeout,
		peers:       make(map[hotshot.ID]*peer),
		replicas:    make(map[hotshot.ID]modules.Replica),
	}
}

func (b *Backend) InitModule(mods *modules.Core) {
	mods.Get(&b.loop, &b.crypto, &b.logger)
	mods.TryGet(&b.blockChain)
	b.codec = wire.NewCodec(b.crypto)
}

// identityProof signs a hash of dst's ID with this replica's ECDSA key,
// proving to dst that the sender of a connection claiming to be selfID
// really holds selfID's private key (dst independently computes the same
// hash of its own ID and verifies against the claimed sender's recorded
// public key).
func (b *Backend) identityProof(dst hotshot.ID) metadata.MD {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(dst))
	hash := sha256.Sum256(buf[:])
	r, s, err := ecdsa.Sign(rand.Reader, b.conf.PrivateKey, hash[:])
	if err != nil {
		panic(fmt.Errorf("backend: failed to sign identity proof: %w", err))
	}
	md := metadata.Pairs("id", strconv.FormatUint(uint64(b.selfID), 10))
	md.Append("proof", string(r.Bytes()), string(s.Bytes()))
	return md
}

// Start dials every other replica in the configuration and begins
// serving the Hotstuff RPCs on this replica's own configured address.
func (b *Backend) Start(ctx context.Context) error {
	self := b.conf.Self()

	lis, err := net.Listen("tcp", self.Address)
	if err != nil {
		return fmt.Errorf("backend: listen on %s: %w", self.Address, err)
	}
	b.listener = lis
	b.server = grpc.NewServer()
	proto.RegisterHotstuffServer(b.server, &receiver{b})
	go func() {
		if err := b.server.Serve(lis); err != nil {
			b.logger.Errorf("backend: server stopped: %v", err)
		}
	}()

	for _, id := range b.conf.Set.Order() {
		if hotshot.ID(id) == b.selfID {
			continue
		}
		info, _ := b.conf.Set.Get(id)
		dialCtx, cancel := context.WithTimeout(ctx, b.dialTimeout)
		conn, err := grpc.DialContext(dialCtx, info.Address,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithBlock(),
		)
		cancel()
		if err != nil {
			return fmt.Errorf("backend: dial replica %d at %s: %w", id, info.Address, err)
		}
		p := &peer{
			id:      hotshot.ID(id),
			info:    info,
			conn:    conn,
			client:  proto.NewClient(conn),
			limiter: rate.NewLimiter(rate.Limit(rateLimit), burst),
			proofMD: b.identityProof(hotshot.ID(id)),
		}
		b.mut.Lock()
		b.peers[p.id] = p
		b.replicas[p.id] = &replicaHandle{backend: b, peer: p}
		b.mut.Unlock()
	}
	return nil
}

// Close shuts down the server and every outbound connection, aggregating
// every peer's close error into one via multierr rather than stopping at
// the first failure, so a bad connection to one peer never leaves the
// rest of the configuration's sockets open.
func (b *Backend) Close() error {
	if b.server != nil {
		b.server.GracefulStop()
	}
	b.mut.RLock()
	defer b.mut.RUnlock()
	var err error
	for id, p := range b.peers {
		if cerr := p.conn.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("backend: closing connection to replica %d: %w", id, cerr))
		}
	}
	return err
}

func (b *Backend) send(ctx context.Context, p *peer, view hotshot.View, call func(context.Context, []byte) error, body []byte) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	err := call(p.outgoingContext(ctx), body)
	if err != nil {
		if p.recordFailure(view) {
			b.logger.Warnf("backend: replica %d past failover threshold, broadcasting instead", p.id)
		}
		return err
	}
	p.recordSuccess(view)
	return nil
}

// broadcast sends body to every configured peer concurrently, logging
// (not returning) individual failures: a broadcast's job is best-effort
// fan-out, not an all-or-nothing RPC.
func (b *Backend) broadcast(view hotshot.View, call func(*proto.Client, context.Context, []byte) error, body []byte) {
	b.mut.RLock()
	peers := make([]*peer, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	b.mut.RUnlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *peer) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), b.dialTimeout)
			defer cancel()
			err := b.send(ctx, p, view, func(ctx context.Context, b []byte) error { return call(p.client, ctx, b) }, body)
			if err != nil {
				b.logger.Warnf("backend: broadcast to replica %d failed: %v", p.id, err)
			}
		}(p)
	}
	wg.Wait()
}

func (b *Backend) encode(msg any) []byte {
	body, err := b.codec.Encode(msg)
	if err != nil {
		b.logger.Panicf("backend: failed to encode %T: %v", msg, err)
	}
	return body
}

// Replicas returns every dialed peer as a modules.Replica handle.
func (b *Backend) Replicas() map[hotshot.ID]modules.Replica {
	b.mut.RLock()
	defer b.mut.RUnlock()
	out := make(map[hotshot.ID]modules.Replica, len(b.replicas))
	for id, r := range b.replicas {
		out[id] = r
	}
	return out
}

// Replica returns one peer handle by ID.
func (b *Backend) Replica(id hotshot.ID) (modules.Replica, bool) {
	b.mut.RLock()
	defer b.mut.RUnlock()
	r, ok := b.replicas[id]
	return r, ok
}

// Len returns the number of dialed peers plus this replica itself.
func (b *Backend) Len() int {
	b.mut.RLock()
	defer b.mut.RUnlock()
	return len(b.peers) + 1
}

// QuorumSize returns a replica-count approximation of Q = ceil(2n/3)+1,
// for callers sizing fan-out or buffers; stake-weighted accounting uses
// config.ReplicaSet directly instead.
func (b *Backend) QuorumSize() int {
	n := b.Len()
	return (2*n+2)/3 + 1
}

func (b *Backend) currentView(msg any) hotshot.View {
	switch m := msg.(type) {
	case hotshot.ProposeMsg:
		return m.Block.View()
	case hotshot.TimeoutMsg:
		return m.TimeoutVote.View()
	case hotshot.DAProposalMsg:
		return m.View
	case hotshot.DAVoteMsg:
		return m.PartialCert.View()
	default:
		return 0
	}
}

// Propose broadcasts a proposal to every replica.
func (b *Backend) Propose(proposal hotshot.ProposeMsg) {
	body := b.encode(proposal)
	b.broadcast(b.currentView(proposal), func(c *proto.Client, ctx context.Context, b []byte) error { return c.Propose(ctx, b) }, body)
}

// Timeout broadcasts a timeout vote to every replica.
func (b *Backend) Timeout(msg hotshot.TimeoutMsg) {
	body := b.encode(msg)
	b.broadcast(b.currentView(msg), func(c *proto.Client, ctx context.Context, b []byte) error { return c.Timeout(ctx, b) }, body)
}

// DAProposal broadcasts a payload's shard assignment to every replica.
func (b *Backend) DAProposal(msg hotshot.DAProposalMsg) {
	body := b.encode(msg)
	b.broadcast(b.currentView(msg), func(c *proto.Client, ctx context.Context, b []byte) error { return c.DAProposal(ctx, b) }, body)
}

// DAVote broadcasts a replica's data-availability vote.
func (b *Backend) DAVote(msg hotshot.DAVoteMsg) {
	body := b.encode(msg)
	b.broadcast(b.currentView(msg), func(c *proto.Client, ctx context.Context, b []byte) error { return c.DAVote(ctx, b) }, body)
}

// Fetch requests a block by hash from the configuration, trying peers in
// turn until one answers or ctx is done.
func (b *Backend) Fetch(ctx context.Context, hash hotshot.Hash) (*hotshot.Block, bool) {
	req := hotshot.RequestMsg{ID: b.selfID, Kind: hotshot.RequestBlock, Commitment: hash}
	body := b.encode(req)

	b.mut.RLock()
	peers := make([]*peer, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	b.mut.RUnlock()

	for _, p := range peers {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}
		out, err := p.client.Request(p.outgoingContext(ctx), body)
		if err != nil {
			continue
		}
		msg, err := b.codec.Decode(out)
		if err != nil {
			continue
		}
		resp, ok := msg.(hotshot.ResponseMsg)
		if !ok || !resp.Found || resp.BlockData == nil {
			continue
		}
		return resp.BlockData, true
	}
	return nil, false
}

// replicaHandle implements modules.Replica for one configured peer.
type replicaHandle struct {
	backend *Backend
	peer    *peer
}

func (r *replicaHandle) ID() hotshot.ID { return r.peer.id }

// Vote unicasts a partial certificate to this peer, falling back to a
// configuration-wide broadcast once this peer has crossed the failover
// threshold (the broadcast still includes this peer, so the vote is sent
// to the intended leader directly along with every other replica).
func (r *replicaHandle) Vote(cert hotshot.PartialCert) {
	msg := hotshot.VoteMsg{ID: r.backend.selfID, PartialCert: cert}
	r.sendOrBroadcast(cert.View(), msg,
		func(c *proto.Client, ctx context.Context, b []byte) error { return c.Vote(ctx, b) })
}

// NewView unicasts this replica's SyncInfo to this peer.
func (r *replicaHandle) NewView(si hotshot.SyncInfo) {
	view := hotshot.View(0)
	if qc, ok := si.QC(); ok {
		view = qc.View()
	}
	if tc, ok := si.TC(); ok && tc.View() > view {
		view = tc.View()
	}
	msg := hotshot.NewViewMsg{ID: r.backend.selfID, SyncInfo: si}
	r.sendOrBroadcast(view, msg,
		func(c *proto.Client, ctx context.Context, b []byte) error { return c.NewView(ctx, b) })
}

func (r *replicaHandle) sendOrBroadcast(view hotshot.View, msg any, call func(*proto.Client, context.Context, []byte) error) {
	body := r.backend.encode(msg)
	r.peer.mut.Lock()
	failing := len(r.peer.failedAtView) >= failoverFailures
	r.peer.mut.Unlock()
	if failing {
		r.backend.broadcast(view, call, body)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.backend.dialTimeout)
	defer cancel()
	if err := r.backend.send(ctx, r.peer, view, func(ctx context.Context, b []byte) error { return call(r.peer.client, ctx, b) }, body); err != nil {
		r.backend.logger.Warnf("backend: unicast to replica %d failed: %v", r.peer.id, err)
	}
}

var _ modules.Configuration = (*Backend)(nil)

// receiver implements proto.Receiver over a Backend, verifying each RPC's
// identity proof before decoding and delivering its payload to the event
// loop.
type receiver struct {
	b *Backend
}

func (rv *receiver) verify(ctx context.Context) (hotshot.ID, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, fmt.Errorf("no metadata on stream")
	}
	idVals := md.Get("id")
	if len(idVals) < 1 {
		return 0, fmt.Errorf("missing id metadata")
	}
	id64, err := strconv.ParseUint(idVals[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed id metadata: %w", err)
	}
	id := hotshot.ID(id64)

	info, ok := rv.b.conf.Set.Get(uint32(id))
	if !ok {
		return 0, fmt.Errorf("unknown replica %d", id)
	}

	proofVals := md.Get("proof")
	if len(proofVals) < 2 {
		return 0, fmt.Errorf("missing identity proof")
	}
	var r, s big.Int
	r.SetBytes([]byte(proofVals[0]))
	s.SetBytes([]byte(proofVals[1]))

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(rv.b.selfID))
	hash := sha256.Sum256(buf[:])
	if !ecdsa.Verify(info.PubKey, hash[:], &r, &s) {
		return 0, fmt.Errorf("invalid identity proof from %d", id)
	}
	return id, nil
}

// withSender overrides a decoded message's claimed sender with the
// identity-proof-verified id, so a verified connection cannot relay a
// payload falsely attributed to a different replica.
func withSender(msg any, id hotshot.ID) any {
	switch m := msg.(type) {
	case hotshot.ProposeMsg:
		m.ID = id
		return m
	case hotshot.VoteMsg:
		m.ID = id
		return m
	case hotshot.TimeoutMsg:
		m.ID = id
		return m
	case hotshot.NewViewMsg:
		m.ID = id
		return m
	case hotshot.DAProposalMsg:
		m.ID = id
		return m
	case hotshot.DAVoteMsg:
		m.ID = id
		return m
	default:
		return msg
	}
}

func (rv *receiver) deliver(ctx context.Context, body []byte) error {
	id, err := rv.verify(ctx)
	if err != nil {
		rv.b.logger.Warnf("backend: rejected inbound message: %v", err)
		return err
	}
	msg, err := rv.b.codec.Decode(body)
	if err != nil {
		return fmt.Errorf("backend: decode: %w", err)
	}
	rv.b.loop.AddEvent(withSender(msg, id))
	return nil
}

func (rv *receiver) OnPropose(ctx context.Context, body []byte) error    { return rv.deliver(ctx, body) }
func (rv *receiver) OnVote(ctx context.Context, body []byte) error       { return rv.deliver(ctx, body) }
func (rv *receiver) OnTimeout(ctx context.Context, body []byte) error    { return rv.deliver(ctx, body) }
func (rv *receiver) OnNewView(ctx context.Context, body []byte) error    { return rv.deliver(ctx, body) }
func (rv *receiver) OnDAProposal(ctx context.Context, body []byte) error { return rv.deliver(ctx, body) }
func (rv *receiver) OnDAVote(ctx context.Context, body []byte) error     { return rv.deliver(ctx, body) }

// OnRequest answers a fetch request for a block by commitment from the
// local block chain, returning a ResponseMsg indicating whether it was
// found. Payload-shard requests are not answerable here: a held shard's
// bytes never transit onto this replica once DA voting completes (only
// its hash does), so there is nothing to serve beyond the DA certificate
// itself, which Synchronizer/DA reconstruct independently via their own
// vote aggregation rather than a point-to-point fetch.
func (rv *receiver) OnRequest(ctx context.Context, body []byte) ([]byte, error) {
	if _, err := rv.verify(ctx); err != nil {
		return nil, err
	}
	msg, err := rv.b.codec.Decode(body)
	if err != nil {
		return nil, err
	}
	req, ok := msg.(hotshot.RequestMsg)
	if !ok {
		return nil, fmt.Errorf("backend: expected RequestMsg")
	}

	resp := hotshot.ResponseMsg{Commitment: req.Commitment}
	if req.Kind == hotshot.RequestBlock && rv.b.blockChain != nil {
		if block, ok := rv.b.blockChain.LocalGet(req.Commitment); ok {
			resp.Found = true
			resp.BlockData = block
		}
	}
	return rv.b.codec.Encode(resp)
}

var _ proto.Receiver = (*receiver)(nil)
