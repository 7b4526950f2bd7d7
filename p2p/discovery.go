package p2p

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// heartbeat announces liveness to every neighbor, then evicts the ones
// that have been silent for longer than the heartbeat timeout.
func (s *Server) heartbeat() {
	pkt, _ := NewPacket(PacketHeartbeat, FlagNone, nil)
	s.Broadcast(pkt, nil)

	now := s.now()
	for _, p := range s.peers.Stale(now, s.config.HeartbeatTimeout) {
		s.dropPeer(p, fmt.Errorf("%w: silent for %s", ErrHeartbeatTimeout, now.Sub(p.LastHeartbeat).Round(time.Millisecond)))
	}
}

// discover asks neighbors for theirs while the table is below target. An
// empty table falls back to the configured seeds.
func (s *Server) discover() {
	if s.peers.Len() >= s.config.TargetNeighbors {
		return
	}
	if s.peers.Len() == 0 {
		s.dialSeeds()
		return
	}
	pkt, _ := NewPacket(PacketGetNeighbors, FlagRequest, nil)
	s.Broadcast(pkt, nil)
}

// dialNeighbors connects to advertised nodes in random order, skipping
// this node, known neighbors and dials in flight, until the table plus
// pending dials reaches MaxNeighbors.
func (s *Server) dialNeighbors(list []NeighborInfo) int {
	candidates := make([]NeighborInfo, 0, len(list))
	for _, n := range list {
		if n.Name == s.config.Name || n.Address == "" {
			continue
		}
		if s.peers.HasName(n.Name) || s.peers.HasAddress(n.Address) {
			continue
		}
		candidates = append(candidates, n)
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	dialed := 0
	for _, n := range candidates {
		if s.peers.Len()+len(s.pending) >= s.config.MaxNeighbors {
			break
		}
		if s.connect(n.Address) {
			dialed++
		}
	}
	if dialed > 0 {
		s.log.Debug("Dialing discovered neighbors", "dialed", dialed, "offered", len(list))
	}
	return dialed
}

func (s *Server) logNeighbors() {
	for _, p := range s.peers.Peers() {
		s.log.Debug("Neighbor",
			"id", p.ID,
			"name", p.Name,
			"address", p.Address,
			"listen", p.ListenAddress,
			"outbound", p.Outbound,
			"last_heartbeat", p.LastHeartbeat.Format("15:04:05.000"),
		)
	}
	s.log.Debug("Neighbor table", "neighbors", s.peers.Len(), "pending", len(s.pending))
}
