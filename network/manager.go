package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	stdlog "log"

	"golang.org/x/time/rate"

	"github.com/frstrtr/rebot-sub001/config"
)

// Manager owns the node identity, the live peer set, the bootstrap address
// list and its reconnection policy. It accepts inbound connections, dials
// outbound ones, routes inbound messages to the dispatcher and fans accepted
// gossip back out to the network.
//
// The peer set and the dedup ledger are mutated only under the manager's
// mutex; neither collection is exposed for direct external mutation.
type Manager struct {
	cfg    config.P2PConfig
	nodeID string

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	peers   map[*Peer]struct{}
	dialing map[string]bool

	ledger  *Ledger
	limiter *rate.Limiter

	// Set before Start.
	dispatch    func(*Inbound) (forward bool, err error)
	onPeerReady func(*Peer)

	// Metrics
	messagesSent     int64
	messagesReceived int64
}

// NewManager creates a manager for the given node identity.
func NewManager(nodeID string, cfg config.P2PConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		nodeID:  nodeID,
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[*Peer]struct{}),
		dialing: make(map[string]bool),
		ledger:  NewLedger(cfg.DedupSize, cfg.DedupWindow),
		limiter: rate.NewLimiter(rate.Limit(100), 200), // 100 msgs/sec with burst of 200
	}
}

// NodeID returns this node's identity.
func (m *Manager) NodeID() string {
	return m.nodeID
}

// SetDispatcher installs the message dispatch function. It must be set
// before Start.
func (m *Manager) SetDispatcher(fn func(*Inbound) (bool, error)) {
	m.dispatch = fn
}

// SetPeerReadyHandler installs the callback invoked once per connection
// after its handshake completes.
func (m *Manager) SetPeerReadyHandler(fn func(*Peer)) {
	m.onPeerReady = fn
}

// Start opens the P2P listener and begins dialing bootstrap peers. Failed
// bootstrap addresses are retried on a capped exponential backoff and never
// block the listener: a node with zero reachable bootstrap peers still
// accepts inbound connections.
func (m *Manager) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", m.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("failed to listen on P2P port %d: %w", m.cfg.ListenPort, err)
	}
	m.ln = ln
	stdlog.Printf("P2P listening on %s (node %s)", ln.Addr(), m.nodeID)

	m.wg.Add(1)
	go m.acceptLoop()

	for _, addr := range m.cfg.BootstrapPeers {
		m.wg.Add(1)
		go m.bootstrapDialLoop(addr)
	}
	return nil
}

// Stop closes all peers and stops accepting new connections. Callers release
// the store only after Stop returns.
func (m *Manager) Stop() error {
	m.cancel()
	if m.ln != nil {
		m.ln.Close()
	}

	m.mu.Lock()
	for p := range m.peers {
		p.Close()
	}
	m.mu.Unlock()

	m.wg.Wait()
	stdlog.Printf("P2P manager stopped")
	return nil
}

func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			select {
			case <-m.ctx.Done():
				return
			default:
			}
			stdlog.Printf("Accept error: %v", err)
			continue
		}
		m.registerPeer(newPeer(conn, "", false, m.cfg.SendQueueSize))
	}
}

// bootstrapDialLoop keeps one bootstrap address connected for the lifetime
// of the manager: dial, wait for the connection to die, back off, redial.
func (m *Manager) bootstrapDialLoop(addr string) {
	defer m.wg.Done()

	delay := m.cfg.ReconnectDelay
	for {
		peer, err := m.dial(addr, true)
		if err == nil {
			delay = m.cfg.ReconnectDelay // Reset backoff on success
			select {
			case <-peer.done:
			case <-m.ctx.Done():
				return
			}
		} else {
			stdlog.Printf("Failed to connect to bootstrap peer %s: %v", addr, err)
		}

		select {
		case <-time.After(delay):
		case <-m.ctx.Done():
			return
		}
		delay *= 2
		if delay > m.cfg.MaxReconnectDelay {
			delay = m.cfg.MaxReconnectDelay
		}
	}
}

// ConnectTo dials a dynamically announced peer. Unlike bootstrap peers it is
// best-effort: no retry, no reconnection after loss.
func (m *Manager) ConnectTo(addr string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.dial(addr, false); err != nil {
			stdlog.Printf("Failed to connect to announced peer %s: %v", addr, err)
		}
	}()
}

func (m *Manager) dial(addr string, bootstrap bool) (*Peer, error) {
	m.mu.Lock()
	if m.dialing[addr] || m.hasAddrLocked(addr) {
		m.mu.Unlock()
		return nil, fmt.Errorf("already connected or dialing %s", addr)
	}
	m.dialing[addr] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.dialing, addr)
		m.mu.Unlock()
	}()

	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(m.ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	stdlog.Printf("Connected to peer %s", addr)

	peer := newPeer(conn, addr, bootstrap, m.cfg.SendQueueSize)
	m.registerPeer(peer)
	return peer, nil
}

// registerPeer adds a connection to the live set and starts its loops. The
// handshake is initiated immediately; the peer is not used for gossip until
// its identity is known.
func (m *Manager) registerPeer(p *Peer) {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		// An accept or dial can complete concurrently with Stop; a peer
		// registered here would have nothing left to tear it down.
		m.mu.Unlock()
		stdlog.Printf("Rejecting connection %s: manager stopped", p.Addr())
		p.Close()
		return
	}
	if len(m.peers) >= m.cfg.MaxPeers {
		m.mu.Unlock()
		stdlog.Printf("Peer limit reached, rejecting %s", p.Addr())
		p.Close()
		return
	}
	m.peers[p] = struct{}{}
	m.mu.Unlock()

	stdlog.Printf("P2P connection established with %s", p.Addr())

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		p.writeLoop()
	}()
	go func() {
		defer m.wg.Done()
		p.readLoop(m.cfg.MaxFrameSize, m.handleInbound)
		m.peerClosed(p)
	}()

	if err := p.Send(m.handshakeInit()); err != nil {
		stdlog.Printf("Failed to send handshake to %s: %v", p.Addr(), err)
	}
}

func (m *Manager) handshakeInit() *Message {
	return &Message{
		Kind:     KindHandshakeInit,
		OriginID: m.nodeID,
		Payload: map[string]interface{}{
			"listen_port": m.cfg.ListenPort,
		},
	}
}

// peerClosed removes a dead connection from the fan-out set. Bootstrap
// reconnection is driven by bootstrapDialLoop, which observes the close.
func (m *Manager) peerClosed(p *Peer) {
	m.mu.Lock()
	_, present := m.peers[p]
	delete(m.peers, p)
	m.mu.Unlock()
	if present {
		stdlog.Printf("P2P connection lost: %s", p.Addr())
	}
}

// AdoptIdentity records the UUID a peer presented during its handshake.
// A self-connection is closed. When two live connections share a UUID,
// simultaneous mutual dials have produced one inbound and one outbound
// connection on each side; both sides must agree on the survivor or they
// close each other's pick and lose both. The survivor is therefore chosen
// deterministically: the connection dialed by the node with the smaller
// UUID. Any other duplicate keeps the established connection. Returns true
// when the peer was accepted into the gossip fan-out set.
func (m *Manager) AdoptIdentity(p *Peer, uuid string, listenPort int) bool {
	if uuid == m.nodeID {
		stdlog.Printf("Disconnecting self-connection %s (UUID %s)", p.Addr(), uuid)
		p.Close()
		return false
	}

	var dup *Peer
	adopt := true
	m.mu.Lock()
	for other := range m.peers {
		if other != p && other.UUID() == uuid {
			dup = other
			break
		}
	}
	if dup != nil {
		wantOutbound := m.nodeID < uuid
		adopt = p.outbound() == wantOutbound && dup.outbound() != wantOutbound
	}
	if adopt {
		p.setIdentity(uuid, listenPort)
	}
	m.mu.Unlock()

	if !adopt {
		stdlog.Printf("Disconnecting duplicate connection %s (UUID %s)", p.Addr(), uuid)
		p.Close()
		return false
	}
	if dup != nil {
		stdlog.Printf("Replacing duplicate connection %s with %s (UUID %s)", dup.Addr(), p.Addr(), uuid)
		dup.Close()
	}

	if p.markReady() && m.onPeerReady != nil {
		m.onPeerReady(p)
	}
	return true
}

// handleInbound is the single entry point for decoded messages. Flooded
// kinds pass the dedup ledger first: a key already witnessed is dropped
// silently and not re-broadcast. After dispatch, accepted messages are
// forwarded to every peer except the one they arrived from and any peer
// whose identity equals the message origin.
func (m *Manager) handleInbound(in *Inbound) {
	m.mu.Lock()
	m.messagesReceived++
	m.mu.Unlock()

	msg := in.Msg
	var key string
	if msg.floodable() {
		key = msg.DedupKey()
		if !m.ledger.Witness(key) {
			return
		}
	}

	forward, err := m.dispatch(in)
	if err != nil {
		stdlog.Printf("Dispatch of %s from %s failed: %v", msg.Kind, in.Peer.Addr(), err)
		if key != "" {
			// Roll back the dedup bookkeeping so the message can be
			// legitimately re-received after a transient failure.
			m.ledger.Forget(key)
		}
		return
	}

	if forward && msg.floodable() {
		m.Broadcast(msg, in.Peer)
	}
}

// Broadcast sends a message to every ready peer except the excluded arrival
// connection and peers whose identity equals the message origin. It returns
// the number of peers the message was queued for.
func (m *Manager) Broadcast(msg *Message, except *Peer) int {
	if !m.limiter.Allow() {
		stdlog.Printf("Broadcast rate limit exceeded, dropping %s", msg.Kind)
		return 0
	}

	data, err := msg.Encode()
	if err != nil {
		stdlog.Printf("Failed to encode broadcast: %v", err)
		return 0
	}

	m.mu.Lock()
	targets := make([]*Peer, 0, len(m.peers))
	for p := range m.peers {
		if p == except {
			continue
		}
		uuid := p.UUID()
		if uuid == "" || uuid == msg.OriginID {
			continue
		}
		targets = append(targets, p)
	}
	m.mu.Unlock()

	sent := 0
	for _, p := range targets {
		if err := p.sendRaw(data); err != nil {
			stdlog.Printf("Failed to queue %s for %s: %v", msg.Kind, p.Addr(), err)
			continue
		}
		sent++
	}

	m.mu.Lock()
	m.messagesSent += int64(sent)
	m.mu.Unlock()
	return sent
}

// OriginateMessage wraps a payload in this node's identity and floods it.
func (m *Manager) OriginateMessage(kind string, payload map[string]interface{}) int {
	msg := &Message{Kind: kind, OriginID: m.nodeID, Payload: payload}
	if msg.floodable() {
		// Witness our own broadcast so the echo from a neighbor is dropped.
		m.ledger.Witness(msg.DedupKey())
	}
	return m.Broadcast(msg, nil)
}

func (m *Manager) hasAddrLocked(addr string) bool {
	for p := range m.peers {
		if p.Addr() == addr || p.dialAddr == addr || p.gossipAddr() == addr {
			return true
		}
	}
	return false
}

// HasPeerAddr reports whether a live connection already covers addr.
func (m *Manager) HasPeerAddr(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasAddrLocked(addr)
}

// PeerInfos describes every identified peer for announce-peer payloads.
// The invariant that a peer set never contains this node's own identity is
// enforced at handshake time by AdoptIdentity.
func (m *Manager) PeerInfos() []PeerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]PeerInfo, 0, len(m.peers))
	for p := range m.peers {
		if info, ok := p.info(); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// PeerCount returns the number of live connections.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Stats returns manager statistics for the status endpoints.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"node_id":           m.nodeID,
		"listen_port":       m.cfg.ListenPort,
		"connected_peers":   len(m.peers),
		"bootstrap_peers":   len(m.cfg.BootstrapPeers),
		"messages_sent":     m.messagesSent,
		"messages_received": m.messagesReceived,
		"dedup_entries":     m.ledger.Len(),
	}
}
