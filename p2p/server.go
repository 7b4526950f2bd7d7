package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"powledger/blockchain"
	"powledger/logger"
)

var (
	ErrServerClosed     = errors.New("p2p server closed")
	ErrWriteQueueFull   = errors.New("write queue full")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	ErrSelfConnection   = errors.New("connected to self")
)

// Ledger is the node state the gossip router feeds. stored is true when
// the data was new and kept, which is what triggers a rebroadcast.
type Ledger interface {
	OnNewBlock(block *blockchain.Block) (stored bool, err error)
	OnNewTransaction(tx *blockchain.Transaction) (stored bool, err error)
	ChainSnapshot() []*blockchain.Block
	MempoolSnapshot() []*blockchain.Transaction
}

// Config holds P2P server configuration
type Config struct {
	Name             string
	ListenAddress    string   // bind address, host:port
	AdvertiseAddress string   // sent in CONNECT; defaults to the bound address
	Seeds            []string // dialed on start and whenever the table is empty

	TargetNeighbors  int
	MaxNeighbors     int
	HeartbeatTimeout time.Duration
	TimerMin         time.Duration
	TimerMax         time.Duration
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxPayloadSize   int
	MaxQueuedBytes   int
}

func DefaultConfig() Config {
	return Config{
		ListenAddress:    "127.0.0.1:0",
		TargetNeighbors:  3,
		MaxNeighbors:     5,
		HeartbeatTimeout: 10 * time.Second,
		TimerMin:         4 * time.Second,
		TimerMax:         6 * time.Second,
		DialTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxPayloadSize:   DefaultMaxPayloadSize,
		MaxQueuedBytes:   64 << 20,
	}
}

type timerSpec struct {
	name   string
	lo, hi time.Duration
	fn     func()
}

// Server handles P2P networking and message passing. Run owns the node's
// single event loop: every packet, timer tick, dial result and external
// call submitted through Do executes there one at a time, so the ledger
// and the neighbor table never see concurrent access.
type Server struct {
	config   Config
	ledger   Ledger
	log      *slog.Logger
	listener net.Listener
	peers    *PeerManager
	pending  map[string]struct{}
	timers   []timerSpec

	events  chan func()
	done    chan struct{}
	life    context.Context
	runOnce sync.Once
	wg      sync.WaitGroup

	now  func() time.Time
	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewServer creates a new P2P server
func NewServer(config Config, ledger Ledger) *Server {
	def := DefaultConfig()
	if config.TargetNeighbors <= 0 {
		config.TargetNeighbors = def.TargetNeighbors
	}
	if config.MaxNeighbors <= 0 {
		config.MaxNeighbors = def.MaxNeighbors
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if config.TimerMin <= 0 {
		config.TimerMin = def.TimerMin
	}
	if config.TimerMax < config.TimerMin {
		config.TimerMax = config.TimerMin
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = def.DialTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.MaxPayloadSize <= 0 {
		config.MaxPayloadSize = def.MaxPayloadSize
	}
	if config.MaxQueuedBytes <= 0 {
		config.MaxQueuedBytes = def.MaxQueuedBytes
	}
	if config.ListenAddress == "" {
		config.ListenAddress = def.ListenAddress
	}

	dialer := &net.Dialer{Timeout: config.DialTimeout}
	return &Server{
		config:  config,
		ledger:  ledger,
		log:     logger.With("node", config.Name),
		peers:   NewPeerManager(),
		pending: make(map[string]struct{}),
		events:  make(chan func(), 256),
		done:    make(chan struct{}),
		life:    context.Background(),
		now:     time.Now,
		dial:    dialer.DialContext,
	}
}

// Start begins listening for P2P connections. Run calls it if needed.
func (s *Server) Start() error {
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = listener
	if s.config.AdvertiseAddress == "" {
		s.config.AdvertiseAddress = listener.Addr().String()
	}
	s.log.Info("P2P server listening", "address", listener.Addr().String())
	return nil
}

// Addr is the address announced to other nodes.
func (s *Server) Addr() string {
	return s.config.AdvertiseAddress
}

func (s *Server) Name() string {
	return s.config.Name
}

// AddTimer registers fn to run on the event loop at a random interval in
// [lo, hi). It must be called before Run.
func (s *Server) AddTimer(name string, lo, hi time.Duration, fn func()) {
	s.timers = append(s.timers, timerSpec{name: name, lo: lo, hi: hi, fn: fn})
}

// Run serves until ctx is cancelled, then closes every connection and
// waits for the server's goroutines. It may be called once.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	ran := false
	s.runOnce.Do(func() { ran = true })
	if !ran {
		return errors.New("p2p server already ran")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.life = ctx

	s.wg.Add(1)
	go s.acceptConnections()

	s.startTimer(ctx, timerSpec{"heartbeat", s.config.TimerMin, s.config.TimerMax, s.heartbeat})
	s.startTimer(ctx, timerSpec{"discovery", s.config.TimerMin, s.config.TimerMax, s.discover})
	s.startTimer(ctx, timerSpec{"neighbors", s.config.TimerMin, s.config.TimerMax, s.logNeighbors})
	for _, t := range s.timers {
		s.startTimer(ctx, t)
	}

	s.dialSeeds()

	for {
		select {
		case <-ctx.Done():
			s.shutdown(cancel)
			return nil
		case fn := <-s.events:
			fn()
		}
	}
}

func (s *Server) shutdown(cancel context.CancelFunc) {
	close(s.done)
	cancel()
	s.listener.Close()
	for _, p := range s.peers.Peers() {
		s.dropPeer(p, ErrServerClosed)
	}
	s.wg.Wait()
	s.log.Info("P2P server stopped")
}

// Do runs fn on the event loop and waits for it to finish. It must not be
// called from the event loop itself.
func (s *Server) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.events <- wrapped:
	case <-s.done:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue hands fn to the event loop. It returns false once the server
// has stopped.
func (s *Server) enqueue(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// acceptConnections handles incoming peer connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("Failed to accept connection", "error", err)
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if !s.enqueue(func() { s.addPeer(conn, conn.RemoteAddr().String(), false) }) {
			conn.Close()
			return
		}
	}
}

// connect dials address unless it is already connected or being dialed.
// Event loop only.
func (s *Server) connect(address string) bool {
	if address == "" || address == s.config.AdvertiseAddress {
		return false
	}
	if _, ok := s.pending[address]; ok || s.peers.HasAddress(address) {
		return false
	}
	s.pending[address] = struct{}{}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.life, s.config.DialTimeout)
		defer cancel()
		conn, err := s.dial(ctx, "tcp", address)

		delivered := s.enqueue(func() {
			delete(s.pending, address)
			if err != nil {
				s.log.Debug("Failed to connect to peer", "peer", address, "error", err)
				return
			}
			s.addPeer(conn, address, true)
		})
		if !delivered && conn != nil {
			conn.Close()
		}
	}()
	return true
}

// Connect dials address from outside the event loop.
func (s *Server) Connect(ctx context.Context, address string) error {
	return s.Do(ctx, func() { s.connect(address) })
}

func (s *Server) dialSeeds() {
	for _, seed := range s.config.Seeds {
		s.connect(seed)
	}
}

// addPeer registers a live connection and starts its reader and writer.
// Outbound connections open with the handshake and the bootstrap requests.
func (s *Server) addPeer(conn net.Conn, address string, outbound bool) {
	peer := s.peers.AddPeer(conn, address, outbound, s.now())
	s.log.Info("Neighbor connected", "peer", address, "outbound", outbound, "neighbors", s.peers.Len())

	s.wg.Add(2)
	go s.writeLoop(peer)
	go s.readLoop(peer)

	if outbound {
		s.sendConnect(peer, FlagRequest)
		s.sendEmpty(peer, PacketGetBlockchain, FlagRequest)
		s.sendEmpty(peer, PacketGetTransactionsPool, FlagRequest)
	}
}

// dropPeer closes the connection and forgets the neighbor. Events still in
// flight for it are ignored. Event loop only.
func (s *Server) dropPeer(peer *Peer, reason error) {
	if peer.closed {
		return
	}
	peer.closed = true
	s.peers.RemovePeer(peer.ID)
	peer.out.close()
	peer.conn.Close()
	s.log.Info("Neighbor removed", "peer", peer.Address, "name", peer.Name, "reason", reason, "neighbors", s.peers.Len())
}

func (s *Server) readLoop(peer *Peer) {
	defer s.wg.Done()

	decoder := NewDecoder(s.config.MaxPayloadSize)
	buf := make([]byte, 32<<10)
	for {
		n, err := peer.conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			for {
				pkt, ok, derr := decoder.Next()
				if derr != nil {
					terr := &TransportError{Addr: peer.Address, Op: "decode", Err: derr}
					s.enqueue(func() { s.dropPeer(peer, terr) })
					return
				}
				if !ok {
					break
				}
				if !s.enqueue(func() { s.handlePacket(peer, pkt) }) {
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
				if decoder.Buffered() == 0 {
					err = errors.New("closed by remote")
				}
			}
			terr := &TransportError{Addr: peer.Address, Op: "read", Err: err}
			s.enqueue(func() { s.dropPeer(peer, terr) })
			return
		}
	}
}

func (s *Server) writeLoop(peer *Peer) {
	defer s.wg.Done()
	for {
		frames, ok := peer.out.wait()
		if !ok {
			return
		}
		for _, frame := range frames {
			peer.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if _, err := peer.conn.Write(frame); err != nil {
				terr := &TransportError{Addr: peer.Address, Op: "write", Err: err}
				s.enqueue(func() { s.dropPeer(peer, terr) })
				return
			}
		}
	}
}

// sendTo queues pkt for peer. A peer that cannot keep up is dropped.
// Event loop only.
func (s *Server) sendTo(peer *Peer, pkt Packet) {
	if peer.closed {
		return
	}
	if !peer.out.push(EncodeFrame(pkt), s.config.MaxQueuedBytes) {
		s.dropPeer(peer, &TransportError{Addr: peer.Address, Op: "write", Err: ErrWriteQueueFull})
	}
}

func (s *Server) sendEmpty(peer *Peer, t PacketType, f Flag) {
	pkt, _ := NewPacket(t, f, nil)
	s.sendTo(peer, pkt)
}

func (s *Server) sendConnect(peer *Peer, f Flag) {
	pkt, err := NewPacket(PacketConnect, f, ConnectPayload{
		Name:             s.config.Name,
		ListeningAddress: s.config.AdvertiseAddress,
	})
	if err != nil {
		s.log.Error("Failed to encode handshake", "error", err)
		return
	}
	s.sendTo(peer, pkt)
}

func (s *Server) startTimer(ctx context.Context, t timerSpec) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			timer := time.NewTimer(jitter(t.lo, t.hi))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				if !s.enqueue(t.fn) {
					return
				}
			}
		}
	}()
}

// jitter returns a uniformly random duration in [lo, hi).
func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// Peers returns the neighbor table. Event loop only; see Neighbors.
func (s *Server) Peers() []PeerInfo {
	peers := s.peers.Peers()
	out := make([]PeerInfo, len(peers))
	for i, p := range peers {
		out[i] = p.Info()
	}
	return out
}

// Neighbors returns the neighbor table from outside the event loop.
func (s *Server) Neighbors(ctx context.Context) ([]PeerInfo, error) {
	var out []PeerInfo
	err := s.Do(ctx, func() { out = s.Peers() })
	return out, err
}
