package p2p

import (
	"net"
	"sort"
	"sync"
	"time"
)

// Peer is one live connection, inbound or outbound. Name and ListenAddress
// are learned from the CONNECT handshake.
type Peer struct {
	ID            uint64
	Address       string // dial address for outbound, remote address for inbound
	ListenAddress string
	Name          string
	Outbound      bool
	ConnectedAt   time.Time
	LastHeartbeat time.Time

	conn   net.Conn
	out    *outbox
	closed bool
}

// DialAddress is where other nodes can reach this peer, or "" if unknown.
func (p *Peer) DialAddress() string {
	if p.Outbound {
		return p.Address
	}
	return p.ListenAddress
}

// PeerInfo is a read-only copy of a Peer for callers outside the event loop.
type PeerInfo struct {
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	ListenAddress string    `json:"listenAddress,omitempty"`
	Outbound      bool      `json:"outbound"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

func (p *Peer) Info() PeerInfo {
	return PeerInfo{
		Name:          p.Name,
		Address:       p.Address,
		ListenAddress: p.ListenAddress,
		Outbound:      p.Outbound,
		LastHeartbeat: p.LastHeartbeat,
	}
}

// PeerManager is the neighbor table. It is owned by the server's event loop
// and is not safe for concurrent use.
type PeerManager struct {
	peers  map[uint64]*Peer
	nextID uint64
}

func NewPeerManager() *PeerManager {
	return &PeerManager{peers: make(map[uint64]*Peer)}
}

func (pm *PeerManager) AddPeer(conn net.Conn, address string, outbound bool, now time.Time) *Peer {
	pm.nextID++
	peer := &Peer{
		ID:            pm.nextID,
		Address:       address,
		Outbound:      outbound,
		ConnectedAt:   now,
		LastHeartbeat: now,
		conn:          conn,
		out:           newOutbox(),
	}
	pm.peers[peer.ID] = peer
	return peer
}

func (pm *PeerManager) RemovePeer(id uint64) {
	delete(pm.peers, id)
}

func (pm *PeerManager) Len() int {
	return len(pm.peers)
}

// Peers returns the table ordered by connection id.
func (pm *PeerManager) Peers() []*Peer {
	out := make([]*Peer, 0, len(pm.peers))
	for _, p := range pm.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (pm *PeerManager) HasName(name string) bool {
	if name == "" {
		return false
	}
	for _, p := range pm.peers {
		if p.Name == name {
			return true
		}
	}
	return false
}

// HasAddress matches against both the connection and the listen address.
func (pm *PeerManager) HasAddress(address string) bool {
	if address == "" {
		return false
	}
	for _, p := range pm.peers {
		if p.Address == address || p.ListenAddress == address {
			return true
		}
	}
	return false
}

// Stale returns peers whose last heartbeat is older than timeout.
func (pm *PeerManager) Stale(now time.Time, timeout time.Duration) []*Peer {
	var out []*Peer
	for _, p := range pm.Peers() {
		if now.Sub(p.LastHeartbeat) > timeout {
			out = append(out, p)
		}
	}
	return out
}

// outbox is a peer's write queue, bounded by total bytes. The event loop
// pushes, the peer's writer goroutine drains.
type outbox struct {
	mu     sync.Mutex
	frames [][]byte
	size   int
	closed bool
	wake   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

// push queues frame. It returns false if that would exceed limit bytes.
func (o *outbox) push(frame []byte, limit int) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return true
	}
	if o.size+len(frame) > limit {
		o.mu.Unlock()
		return false
	}
	o.frames = append(o.frames, frame)
	o.size += len(frame)
	o.mu.Unlock()

	o.signal()
	return true
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.frames = nil
	o.size = 0
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// wait blocks until frames are queued or the outbox is closed.
func (o *outbox) wait() ([][]byte, bool) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return nil, false
		}
		if len(o.frames) > 0 {
			frames := o.frames
			o.frames = nil
			o.size = 0
			o.mu.Unlock()
			return frames, true
		}
		o.mu.Unlock()
		<-o.wake
	}
}
