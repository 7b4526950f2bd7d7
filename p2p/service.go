package p2p

import (
	"powledger/blockchain"
)

// Broadcast sends pkt to every neighbor except the one it came from.
// Event loop only.
func (s *Server) Broadcast(pkt Packet, except *Peer) int {
	sent := 0
	for _, p := range s.peers.Peers() {
		if except != nil && p.ID == except.ID {
			continue
		}
		s.sendTo(p, pkt)
		sent++
	}
	return sent
}

// BroadcastBlock floods a block as NEW_BLOCK. except may be nil for
// locally produced blocks. Event loop only.
func (s *Server) BroadcastBlock(block *blockchain.Block, except *Peer) {
	pkt, err := blockPacket(block, FlagNone)
	if err != nil {
		s.log.Error("Failed to encode block", "hash", blockchain.Short(block.Hash), "error", err)
		return
	}
	n := s.Broadcast(pkt, except)
	s.log.Debug("Relayed block", "hash", blockchain.Short(block.Hash), "neighbors", n)
}

// BroadcastTransaction floods a transaction as NEW_TRANSACTION. Event loop only.
func (s *Server) BroadcastTransaction(tx *blockchain.Transaction, except *Peer) {
	pkt, err := transactionPacket(tx, FlagNone)
	if err != nil {
		s.log.Error("Failed to encode transaction", "tx", blockchain.Short(tx.ID), "error", err)
		return
	}
	n := s.Broadcast(pkt, except)
	s.log.Debug("Relayed transaction", "tx", blockchain.Short(tx.ID), "neighbors", n)
}

// streamBlockchain answers GET_BLOCKCHAIN with one NEW_BLOCK response per
// chain block, genesis first.
func (s *Server) streamBlockchain(peer *Peer) {
	for _, block := range s.ledger.ChainSnapshot() {
		pkt, err := blockPacket(block, FlagResponse)
		if err != nil {
			s.log.Error("Failed to encode block", "hash", blockchain.Short(block.Hash), "error", err)
			continue
		}
		s.sendTo(peer, pkt)
	}
}

// streamTransactionsPool answers GET_TRANSACTIONS_POOL with one
// NEW_TRANSACTION response per pooled transaction.
func (s *Server) streamTransactionsPool(peer *Peer) {
	for _, tx := range s.ledger.MempoolSnapshot() {
		pkt, err := transactionPacket(tx, FlagResponse)
		if err != nil {
			s.log.Error("Failed to encode transaction", "tx", blockchain.Short(tx.ID), "error", err)
			continue
		}
		s.sendTo(peer, pkt)
	}
}
