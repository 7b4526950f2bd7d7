package p2p

import (
	"fmt"

	"powledger/blockchain"
)

// handlePacket routes one decoded packet by type and flag. Event loop only.
func (s *Server) handlePacket(peer *Peer, pkt Packet) {
	if peer.closed {
		return
	}
	if !pkt.Type.valid() || pkt.Flag > FlagResponse {
		s.log.Warn("Unknown packet type", "peer", peer.Address, "type", fmt.Sprintf("0x%02x", byte(pkt.Type)), "flag", fmt.Sprintf("0x%02x", byte(pkt.Flag)))
		return
	}

	var err error
	switch pkt.Type {
	case PacketConnect:
		err = s.handleConnect(peer, pkt)
	case PacketGetNeighbors:
		err = s.handleGetNeighbors(peer, pkt)
	case PacketHeartbeat:
		peer.LastHeartbeat = s.now()
	case PacketNewTransaction:
		err = s.handleNewTransaction(peer, pkt)
	case PacketNewBlock:
		err = s.handleNewBlock(peer, pkt)
	case PacketGetBlockchain:
		if pkt.Flag == FlagRequest {
			s.streamBlockchain(peer)
		}
	case PacketGetTransactionsPool:
		if pkt.Flag == FlagRequest {
			s.streamTransactionsPool(peer)
		}
	}

	if err != nil {
		s.dropPeer(peer, &TransportError{Addr: peer.Address, Op: "handle " + pkt.String(), Err: err})
	}
}

func (s *Server) handleConnect(peer *Peer, pkt Packet) error {
	var hello ConnectPayload
	if err := pkt.Decode(&hello); err != nil {
		return err
	}
	if hello.Name != "" && hello.Name == s.config.Name {
		return ErrSelfConnection
	}

	peer.Name = hello.Name
	peer.ListenAddress = hello.ListeningAddress
	s.log.Debug("Handshake", "peer", peer.Address, "name", hello.Name, "listen", hello.ListeningAddress, "flag", pkt.Flag)

	if pkt.Flag == FlagRequest {
		s.sendConnect(peer, FlagResponse)
	}
	return nil
}

func (s *Server) handleGetNeighbors(peer *Peer, pkt Packet) error {
	switch pkt.Flag {
	case FlagRequest:
		list := make([]NeighborInfo, 0, s.peers.Len())
		for _, p := range s.peers.Peers() {
			if p.ID == peer.ID || p.Name == "" || p.DialAddress() == "" {
				continue
			}
			list = append(list, NeighborInfo{Name: p.Name, Address: p.DialAddress()})
		}
		reply, err := NewPacket(PacketGetNeighbors, FlagResponse, list)
		if err != nil {
			return err
		}
		s.sendTo(peer, reply)
	case FlagResponse:
		var list []NeighborInfo
		if err := pkt.Decode(&list); err != nil {
			return err
		}
		s.dialNeighbors(list)
	}
	return nil
}

// handleNewTransaction feeds the ledger and floods what it kept. Rejected
// data is only logged; the sender stays connected.
func (s *Server) handleNewTransaction(peer *Peer, pkt Packet) error {
	var tx blockchain.Transaction
	if err := pkt.Decode(&tx); err != nil {
		return err
	}
	stored, err := s.ledger.OnNewTransaction(&tx)
	if err != nil {
		s.log.Debug("Dropped transaction", "peer", peer.Address, "tx", blockchain.Short(tx.ID), "error", err)
		return nil
	}
	if stored {
		s.BroadcastTransaction(&tx, peer)
	}
	return nil
}

func (s *Server) handleNewBlock(peer *Peer, pkt Packet) error {
	var block blockchain.Block
	if err := pkt.Decode(&block); err != nil {
		return err
	}
	stored, err := s.ledger.OnNewBlock(&block)
	if err != nil {
		s.log.Info("Dropped block", "peer", peer.Address, "hash", blockchain.Short(block.Hash), "error", err)
		return nil
	}
	if stored {
		s.BroadcastBlock(&block, peer)
	}
	return nil
}
