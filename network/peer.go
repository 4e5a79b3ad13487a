package network

import (
	"net"
	"strconv"
	"sync"
	"time"

	stdlog "log"
)

// Peer wraps one bidirectional TCP stream to a remote node. It owns an
// inbound framer and an outbound send queue drained by a writer goroutine,
// so Send never blocks the caller beyond queue capacity. A peer does not
// retry after failure; it reports to the manager and terminates.
type Peer struct {
	conn net.Conn
	addr string // remote host:port as observed on the socket

	// Learned during the handshake; empty until then.
	mu         sync.Mutex
	uuid       string
	listenPort int // remote node's advertised P2P listen port
	readyOnce  bool

	// Bootstrap-tier peers are reconnected by the manager after loss;
	// dynamically announced peers are not.
	fromBootstrap bool
	dialAddr      string // address the manager dialed, "" for inbound peers

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(conn net.Conn, dialAddr string, fromBootstrap bool, queueSize int) *Peer {
	return &Peer{
		conn:          conn,
		addr:          conn.RemoteAddr().String(),
		dialAddr:      dialAddr,
		fromBootstrap: fromBootstrap,
		sendCh:        make(chan []byte, queueSize),
		done:          make(chan struct{}),
	}
}

// Addr returns the remote address of the connection.
func (p *Peer) Addr() string {
	return p.addr
}

// UUID returns the remote node identity, or "" before the handshake.
func (p *Peer) UUID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uuid
}

func (p *Peer) setIdentity(id string, listenPort int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uuid = id
	p.listenPort = listenPort
}

// info describes the peer for announce-peer payloads.
func (p *Peer) info() (PeerInfo, bool) {
	p.mu.Lock()
	uuid := p.uuid
	port := p.listenPort
	p.mu.Unlock()
	if uuid == "" || port == 0 {
		return PeerInfo{}, false
	}
	host, _, err := net.SplitHostPort(p.addr)
	if err != nil {
		return PeerInfo{}, false
	}
	return PeerInfo{Host: host, Port: port, UUID: uuid}, true
}

// gossipAddr is the address other nodes can dial this peer on: the socket's
// remote host joined with the listen port it advertised at handshake.
// Empty until the handshake completes.
func (p *Peer) gossipAddr() string {
	p.mu.Lock()
	port := p.listenPort
	p.mu.Unlock()
	if port == 0 {
		return ""
	}
	host, _, err := net.SplitHostPort(p.addr)
	if err != nil {
		return ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// outbound reports whether this side initiated the connection.
func (p *Peer) outbound() bool {
	return p.dialAddr != ""
}

// markReady flags the first successful handshake on this connection and
// reports whether this call was the one that flipped it.
func (p *Peer) markReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readyOnce {
		return false
	}
	p.readyOnce = true
	return true
}

// Send enqueues a message for asynchronous write. It fails fast when the
// queue is full or the connection is closed.
func (p *Peer) Send(msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return p.sendRaw(data)
}

func (p *Peer) sendRaw(data []byte) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.sendCh <- data:
		return nil
	case <-p.done:
		return ErrPeerClosed
	default:
		return ErrQueueFull
	}
}

// SendWait enqueues a message, waiting for queue space instead of failing
// fast. Bulk transfers use it so backpressure slows the producer rather
// than dropping records.
func (p *Peer) SendWait(msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	select {
	case p.sendCh <- data:
		return nil
	case <-p.done:
		return ErrPeerClosed
	}
}

// Close tears the connection down deterministically: the socket is closed,
// which unblocks any pending read or write, and both loops exit.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// writeLoop drains the send queue onto the socket until the peer closes.
func (p *Peer) writeLoop() {
	for {
		select {
		case data := <-p.sendCh:
			if _, err := p.conn.Write(data); err != nil {
				stdlog.Printf("Write to peer %s failed: %v", p.addr, err)
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// readLoop feeds socket bytes through the framer and codec, timestamps each
// decoded message with local receipt time and hands it to the manager. It
// returns when the connection fails or is closed. Malformed message texts
// are logged and skipped; framing overflow is fatal to the connection. An
// unterminated partial message at close time is discarded, never emitted.
func (p *Peer) readLoop(maxFrame int, handle func(*Inbound)) {
	framer := NewFramer(maxFrame)
	buf := make([]byte, 4096)

	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			frames, ferr := framer.Push(buf[:n])
			for _, frame := range frames {
				value, derr := Decode(frame)
				if derr != nil {
					stdlog.Printf("Dropping malformed message from %s: %v", p.addr, derr)
					continue
				}
				msg, merr := MessageFromValue(value)
				if merr != nil {
					stdlog.Printf("Dropping message from %s: %v", p.addr, merr)
					continue
				}
				handle(&Inbound{Peer: p, Msg: msg, ReceivedAt: time.Now()})
			}
			if ferr != nil {
				stdlog.Printf("Framing error on %s: %v", p.addr, ferr)
				p.Close()
				return
			}
		}
		if err != nil {
			if framer.Pending() > 0 {
				stdlog.Printf("Discarding %d bytes of partial message from %s", framer.Pending(), p.addr)
			}
			p.Close()
			return
		}
	}
}
