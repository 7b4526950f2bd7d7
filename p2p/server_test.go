package p2p

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powledger/blockchain"
	"powledger/mocks"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

func testConfig(name string) Config {
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.TimerMin = 50 * time.Millisecond
	cfg.TimerMax = 100 * time.Millisecond
	cfg.HeartbeatTimeout = time.Second
	cfg.DialTimeout = time.Second
	return cfg
}

// startServer runs a server until the test ends.
func startServer(t *testing.T, cfg Config, ledger Ledger) *Server {
	t.Helper()
	s := NewServer(cfg, ledger)
	require.NoError(t, s.Start())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-stopped:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Errorf("server %s did not stop", cfg.Name)
		}
	})
	return s
}

func neighbors(t *testing.T, s *Server) []PeerInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	peers, err := s.Neighbors(ctx)
	assert.NoError(t, err)
	return peers
}

func neighborNames(t *testing.T, s *Server) map[string]bool {
	names := make(map[string]bool)
	for _, p := range neighbors(t, s) {
		if p.Name != "" {
			names[p.Name] = true
		}
	}
	return names
}

func connect(t *testing.T, from, to *Server) {
	t.Helper()
	require.NoError(t, from.Connect(context.Background(), to.Addr()))
	require.Eventually(t, func() bool {
		return neighborNames(t, from)[to.Name()] && neighborNames(t, to)[from.Name()]
	}, waitFor, tick)
}

// rawPeer speaks the wire protocol directly, without a Server.
type rawPeer struct {
	conn net.Conn
	dec  *Decoder
}

func dialRaw(t *testing.T, address string) *rawPeer {
	t.Helper()
	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rawPeer{conn: conn, dec: NewDecoder(0)}
}

func (r *rawPeer) send(t *testing.T, pt PacketType, f Flag, payload any) {
	t.Helper()
	_, err := r.conn.Write(EncodeFrame(mustPacket(t, pt, f, payload)))
	require.NoError(t, err)
}

// next returns the next packet that is not background traffic: heartbeats
// and the server's own discovery requests are skipped.
func (r *rawPeer) next(timeout time.Duration) (Packet, error) {
	r.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	for {
		for {
			pkt, ok, err := r.dec.Next()
			if err != nil {
				return Packet{}, err
			}
			if !ok {
				break
			}
			if pkt.Type == PacketHeartbeat || (pkt.Type == PacketGetNeighbors && pkt.Flag == FlagRequest) {
				continue
			}
			return pkt, nil
		}
		n, err := r.conn.Read(buf)
		r.dec.Feed(buf[:n])
		if err != nil && n == 0 {
			return Packet{}, err
		}
	}
}

func (r *rawPeer) expect(t *testing.T, pt PacketType, f Flag) Packet {
	t.Helper()
	pkt, err := r.next(waitFor)
	require.NoError(t, err)
	require.Equal(t, pt.String()+"/"+f.String(), pkt.String())
	return pkt
}

// waitClosed reads until the server closes the connection.
func (r *rawPeer) waitClosed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	buf := make([]byte, 4096)
	r.conn.SetReadDeadline(deadline)
	for {
		_, err := r.conn.Read(buf)
		if err != nil {
			var ne net.Error
			require.False(t, errors.As(err, &ne) && ne.Timeout(), "connection still open")
			return
		}
	}
}

func TestHandshakeRecordsNames(t *testing.T) {
	a := startServer(t, testConfig("alpha"), mocks.NewLedger())
	b := startServer(t, testConfig("bravo"), mocks.NewLedger())

	connect(t, b, a)

	fromA := neighbors(t, a)
	require.Len(t, fromA, 1)
	assert.Equal(t, "bravo", fromA[0].Name)
	assert.Equal(t, b.Addr(), fromA[0].ListenAddress)
	assert.False(t, fromA[0].Outbound)

	fromB := neighbors(t, b)
	require.Len(t, fromB, 1)
	assert.Equal(t, "alpha", fromB[0].Name)
	assert.Equal(t, a.Addr(), fromB[0].Address)
	assert.True(t, fromB[0].Outbound)
}

func TestOutboundHandshakeSequence(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := startServer(t, testConfig("dialer"), mocks.NewLedger())
	require.NoError(t, s.Connect(context.Background(), ln.Addr().String()))

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	r := &rawPeer{conn: conn, dec: NewDecoder(0)}

	var hello ConnectPayload
	require.NoError(t, r.expect(t, PacketConnect, FlagRequest).Decode(&hello))
	assert.Equal(t, ConnectPayload{Name: "dialer", ListeningAddress: s.Addr()}, hello)
	r.expect(t, PacketGetBlockchain, FlagRequest)
	r.expect(t, PacketGetTransactionsPool, FlagRequest)
}

func TestInboundHandshakeReply(t *testing.T) {
	s := startServer(t, testConfig("listener"), mocks.NewLedger())
	r := dialRaw(t, s.Addr())

	r.send(t, PacketConnect, FlagRequest, ConnectPayload{Name: "raw", ListeningAddress: "127.0.0.1:1"})

	var hello ConnectPayload
	require.NoError(t, r.expect(t, PacketConnect, FlagResponse).Decode(&hello))
	assert.Equal(t, "listener", hello.Name)
	assert.Equal(t, s.Addr(), hello.ListeningAddress)

	require.Eventually(t, func() bool {
		peers := neighbors(t, s)
		return len(peers) == 1 && peers[0].Name == "raw" && peers[0].ListenAddress == "127.0.0.1:1"
	}, waitFor, tick)
}

func TestBootstrapStreamsChainAndPool(t *testing.T) {
	miner := mocks.GenerateSigner()
	chain := []*blockchain.Block{blockchain.Genesis()}
	for range 3 {
		chain = append(chain, mocks.GenerateValidMinedBlock(chain, miner.Address(), nil))
	}
	tx, err := mocks.GenerateValidTransaction(chain, miner, mocks.GenerateSigner().Address(), 20)
	require.NoError(t, err)

	full := mocks.NewLedger(chain[1:]...)
	full.AddTransaction(tx)
	empty := mocks.NewLedger()

	a := startServer(t, testConfig("full"), full)
	b := startServer(t, testConfig("empty"), empty)
	connect(t, b, a)

	require.Eventually(t, func() bool {
		return len(empty.ChainSnapshot()) == len(chain) && empty.Has(tx.ID)
	}, waitFor, tick)
	for i, block := range empty.ChainSnapshot() {
		assert.Equal(t, chain[i].Hash, block.Hash)
	}
}

func TestGetBlockchainStreamsResponses(t *testing.T) {
	miner := mocks.GenerateSigner()
	chain := []*blockchain.Block{blockchain.Genesis()}
	chain = append(chain, mocks.GenerateValidMinedBlock(chain, miner.Address(), nil))

	s := startServer(t, testConfig("source"), mocks.NewLedger(chain[1:]...))
	r := dialRaw(t, s.Addr())
	r.send(t, PacketGetBlockchain, FlagRequest, nil)

	for _, want := range chain {
		var got blockchain.Block
		require.NoError(t, r.expect(t, PacketNewBlock, FlagResponse).Decode(&got))
		assert.Equal(t, want.Hash, got.Hash)
	}
}

func TestBlockFloodsAcrossHops(t *testing.T) {
	la, lb, lc := mocks.NewLedger(), mocks.NewLedger(), mocks.NewLedger()
	a := startServer(t, testConfig("a"), la)
	b := startServer(t, testConfig("b"), lb)
	c := startServer(t, testConfig("c"), lc)
	connect(t, b, a)
	connect(t, c, b)

	block := mocks.GenerateValidMinedBlock(la.ChainSnapshot(), mocks.GenerateSigner().Address(), nil)
	require.NoError(t, a.Do(context.Background(), func() {
		stored, err := la.OnNewBlock(block)
		require.NoError(t, err)
		require.True(t, stored)
		a.BroadcastBlock(block, nil)
	}))

	require.Eventually(t, func() bool { return lc.Has(block.Hash) }, waitFor, tick)
	assert.True(t, lb.Has(block.Hash))
}

func TestRelayExcludesOrigin(t *testing.T) {
	ledger := mocks.NewLedger()
	s := startServer(t, testConfig("relay"), ledger)
	origin := dialRaw(t, s.Addr())
	other := dialRaw(t, s.Addr())
	require.Eventually(t, func() bool { return len(neighbors(t, s)) == 2 }, waitFor, tick)

	block := mocks.GenerateValidMinedBlock(ledger.ChainSnapshot(), "miner", nil)
	origin.send(t, PacketNewBlock, FlagNone, block)

	var got blockchain.Block
	require.NoError(t, other.expect(t, PacketNewBlock, FlagNone).Decode(&got))
	assert.Equal(t, block.Hash, got.Hash)

	_, err := origin.next(300 * time.Millisecond)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout(), "origin should not receive its own block back")

	// a duplicate is not relayed again
	origin.send(t, PacketNewBlock, FlagNone, block)
	_, err = other.next(300 * time.Millisecond)
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestRejectedDataKeepsConnection(t *testing.T) {
	ledger := mocks.NewLedger()
	ledger.Reject = errors.New("nope")
	s := startServer(t, testConfig("strict"), ledger)
	r := dialRaw(t, s.Addr())

	r.send(t, PacketNewBlock, FlagNone, mocks.GenerateInvalidBlock(ledger.ChainSnapshot()))
	r.send(t, PacketConnect, FlagRequest, ConnectPayload{Name: "still-here"})
	r.expect(t, PacketConnect, FlagResponse)
	assert.Len(t, neighbors(t, s), 1)
}

func TestUnknownPacketKeepsConnection(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"unknown type", []byte{0x42, 0x00, 2, 0, 0, 0, '{', '}'}},
		{"zero type", []byte{0x00, 0x01, 0, 0, 0, 0}},
		{"unknown flag", []byte{0x03, 0x09, 2, 0, 0, 0, '{', '}'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startServer(t, testConfig("lenient"), mocks.NewLedger())
			r := dialRaw(t, s.Addr())

			_, err := r.conn.Write(tt.frame)
			require.NoError(t, err)
			r.send(t, PacketConnect, FlagRequest, ConnectPayload{Name: "still-here"})
			r.expect(t, PacketConnect, FlagResponse)
			assert.Equal(t, map[string]bool{"still-here": true}, neighborNames(t, s))
		})
	}
}

func TestMalformedFrameDropsConnection(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"bad json", append([]byte{0x01, 0x01, 3, 0, 0, 0}, "{{{"...)},
		{"truncated block", append([]byte{0x05, 0x00, 1, 0, 0, 0}, "["...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startServer(t, testConfig("victim"), mocks.NewLedger())
			r := dialRaw(t, s.Addr())
			require.Eventually(t, func() bool { return len(neighbors(t, s)) == 1 }, waitFor, tick)

			_, err := r.conn.Write(tt.frame)
			require.NoError(t, err)
			r.waitClosed(t)
			require.Eventually(t, func() bool { return len(neighbors(t, s)) == 0 }, waitFor, tick)
		})
	}
}

func TestOversizedFrameDropsConnection(t *testing.T) {
	cfg := testConfig("small")
	cfg.MaxPayloadSize = 64
	s := startServer(t, cfg, mocks.NewLedger())
	r := dialRaw(t, s.Addr())

	_, err := r.conn.Write([]byte{0x04, 0x00, 0x00, 0x10, 0x00, 0x00})
	require.NoError(t, err)
	r.waitClosed(t)
}

func TestSelfConnectionRejected(t *testing.T) {
	s := startServer(t, testConfig("mirror"), mocks.NewLedger())
	r := dialRaw(t, s.Addr())
	r.send(t, PacketConnect, FlagRequest, ConnectPayload{Name: "mirror"})
	r.waitClosed(t)
}

func TestHeartbeatEvictsSilentNeighbor(t *testing.T) {
	cfg := testConfig("watcher")
	cfg.TimerMin = 50 * time.Millisecond
	cfg.TimerMax = 50 * time.Millisecond
	cfg.HeartbeatTimeout = 200 * time.Millisecond
	s := startServer(t, cfg, mocks.NewLedger())

	liveCfg := testConfig("live")
	liveCfg.TimerMin = 50 * time.Millisecond
	liveCfg.TimerMax = 50 * time.Millisecond
	live := startServer(t, liveCfg, mocks.NewLedger())
	connect(t, live, s)

	silent := dialRaw(t, s.Addr())
	silent.waitClosed(t)

	time.Sleep(2 * cfg.HeartbeatTimeout)
	assert.Equal(t, map[string]bool{"live": true}, neighborNames(t, s))
	assert.Len(t, neighbors(t, s), 1)
}

func TestDiscoveryFillsNeighborTable(t *testing.T) {
	hub := startServer(t, testConfig("hub"), mocks.NewLedger())
	b := startServer(t, testConfig("b"), mocks.NewLedger())
	c := startServer(t, testConfig("c"), mocks.NewLedger())
	connect(t, b, hub)
	connect(t, c, hub)

	require.Eventually(t, func() bool {
		return neighborNames(t, b)["c"] && neighborNames(t, c)["b"]
	}, waitFor, tick)
}

func TestSeedsDialedOnStart(t *testing.T) {
	seed := startServer(t, testConfig("seed"), mocks.NewLedger())

	cfg := testConfig("joiner")
	cfg.Seeds = []string{seed.Addr()}
	joiner := startServer(t, cfg, mocks.NewLedger())

	require.Eventually(t, func() bool {
		return neighborNames(t, joiner)["seed"] && neighborNames(t, seed)["joiner"]
	}, waitFor, tick)
}

func TestShutdownCancelsPendingDials(t *testing.T) {
	cfg := testConfig("stopping")
	cfg.DialTimeout = time.Minute
	cfg.Seeds = []string{"127.0.0.1:1"}
	s := NewServer(cfg, mocks.NewLedger())
	require.NoError(t, s.Start())

	dialing := make(chan struct{}, 1)
	s.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		select {
		case dialing <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- s.Run(ctx) }()

	select {
	case <-dialing:
	case <-time.After(waitFor):
		t.Fatal("seed was never dialed")
	}
	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("shutdown waited for the dial timeout")
	}
}

func TestAddTimerRunsOnLoop(t *testing.T) {
	s := NewServer(testConfig("timed"), mocks.NewLedger())
	fired := make(chan struct{}, 8)
	s.AddTimer("probe", 10*time.Millisecond, 20*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for range 3 {
		select {
		case <-fired:
		case <-time.After(waitFor):
			t.Fatal("timer did not fire")
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.ErrorIs(t, s.Do(context.Background(), func() {}), ErrServerClosed)
}

func TestDialNeighborsFiltersAndCaps(t *testing.T) {
	cfg := testConfig("me")
	cfg.MaxNeighbors = 3
	s := NewServer(cfg, mocks.NewLedger())
	s.config.AdvertiseAddress = "10.0.0.1:7000"

	var dialed []string
	s.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, errors.New("unreachable")
	}

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	known := s.peers.AddPeer(local, "10.0.0.2:7000", true, time.Now())
	known.Name = "known"

	offered := []NeighborInfo{
		{Name: "me", Address: "10.0.0.9:7000"},
		{Name: "ghost", Address: ""},
		{Name: "known", Address: "10.0.0.3:7000"},
		{Name: "alias", Address: "10.0.0.2:7000"},
		{Name: "n1", Address: "10.0.1.1:7000"},
		{Name: "n2", Address: "10.0.1.2:7000"},
		{Name: "n3", Address: "10.0.1.3:7000"},
		{Name: "n4", Address: "10.0.1.4:7000"},
	}
	n := s.dialNeighbors(offered)
	s.wg.Wait()

	assert.Equal(t, 2, n)
	require.Len(t, s.pending, 2)
	fresh := map[string]bool{"10.0.1.1:7000": true, "10.0.1.2:7000": true, "10.0.1.3:7000": true, "10.0.1.4:7000": true}
	for addr := range s.pending {
		assert.True(t, fresh[addr], "unexpected dial to %s", addr)
		dialed = append(dialed, addr)
	}

	// a second offer dials nothing while the dials are still pending
	assert.Zero(t, s.dialNeighbors(offered))

	// failed dials are cleared when their results reach the loop
	for range dialed {
		(<-s.events)()
	}
	assert.Empty(t, s.pending)
}

func TestOutboxByteLimit(t *testing.T) {
	o := newOutbox()
	assert.True(t, o.push(make([]byte, 60), 100))
	assert.False(t, o.push(make([]byte, 41), 100))
	assert.True(t, o.push(make([]byte, 40), 100))

	frames, ok := o.wait()
	require.True(t, ok)
	assert.Len(t, frames, 2)
	assert.True(t, o.push(make([]byte, 100), 100))

	o.close()
	_, ok = o.wait()
	assert.False(t, ok)
}

func TestJitterWithinWindow(t *testing.T) {
	for range 100 {
		d := jitter(10*time.Millisecond, 20*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, jitter(5*time.Millisecond, 5*time.Millisecond))
}
