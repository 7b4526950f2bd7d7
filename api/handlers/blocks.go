package handlers

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"powledger/blockchain"
)

func HandleBlocks(w http.ResponseWriter, r *http.Request, n Node) {
	switch r.Method {
	case http.MethodPost:
		handlePostBlock(w, r, n)
	case http.MethodGet:
		if strings.TrimPrefix(r.URL.Path, "/api/blocks") == "" {
			handleListBlocks(w, r, n)
			return
		}
		handleGetBlockByHash(w, r, n)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func handlePostBlock(w http.ResponseWriter, r *http.Request, n Node) {
	// 1. Deserialize
	var block blockchain.Block
	if err := json.NewDecoder(r.Body).Decode(&block); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// 2. Business Logic
	outcome, err := n.SubmitBlock(r.Context(), &block)
	if err != nil {
		writeError(w, err)
		return
	}

	// 3. Success Response
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":  "success",
		"hash":    block.Hash,
		"outcome": outcome.String(),
	})
}

func handleListBlocks(w http.ResponseWriter, r *http.Request, n Node) {
	blocks, err := n.Blocks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func handleGetBlockByHash(w http.ResponseWriter, r *http.Request, n Node) {
	// Extract hash from URL path: /api/blocks/{hash}
	hash := strings.TrimPrefix(r.URL.Path, "/api/blocks/")
	if hash == "" {
		http.Error(w, "Block hash required in URL", http.StatusBadRequest)
		return
	}
	if b, err := hex.DecodeString(hash); err != nil || len(b) != 32 {
		http.Error(w, "Invalid block hash format (must be 64 hex characters)", http.StatusBadRequest)
		return
	}

	block, err := n.Block(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}
