package api

import (
	"net/http"

	"powledger/api/handlers"
)

// Server represents the HTTP API server
type Server struct {
	node handlers.Node
	addr string
	mux  *http.ServeMux
}

// NewServer creates a new API server
func NewServer(node handlers.Node, addr string) *Server {
	server := &Server{
		node: node,
		addr: addr,
		mux:  http.NewServeMux(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP endpoints
func (s *Server) setupRoutes() {
	// Block endpoints
	s.mux.HandleFunc("/api/blocks", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleBlocks(w, r, s.node)
	})
	s.mux.HandleFunc("/api/blocks/", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleBlocks(w, r, s.node) // Handles /api/blocks/{hash}
	})

	// Chain endpoints
	s.mux.HandleFunc("/api/chain/height", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleChainHeight(w, r, s.node)
	})
	s.mux.HandleFunc("/api/chain/head", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleChainHead(w, r, s.node)
	})
	s.mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleStatus(w, r, s.node)
	})

	// Transaction endpoints
	s.mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleTransactions(w, r, s.node)
	})
	s.mux.HandleFunc("/api/balance/", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleBalance(w, r, s.node)
	})
	s.mux.HandleFunc("/api/mine", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleMine(w, r, s.node)
	})

	// Network endpoints
	s.mux.HandleFunc("/api/peers", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandlePeers(w, r, s.node)
	})
}

// Handler exposes the routes, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}
