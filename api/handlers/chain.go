package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"powledger/blockchain"
)

func HandleChainHeight(w http.ResponseWriter, r *http.Request, n Node) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status, err := n.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"height": status.Height})
}

func HandleChainHead(w http.ResponseWriter, r *http.Request, n Node) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	blocks, err := n.Blocks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks[len(blocks)-1])
}

func HandleStatus(w http.ResponseWriter, r *http.Request, n Node) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status, err := n.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleBalance serves GET /api/balance/{address}.
func HandleBalance(w http.ResponseWriter, r *http.Request, n Node) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	address := strings.TrimPrefix(r.URL.Path, "/api/balance/")
	if err := blockchain.ValidateAddress(address); err != nil {
		writeError(w, err)
		return
	}
	balance, err := n.Balance(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// HandleMine mines one block synchronously and returns it. The request
// body is {"address": "..."}.
func HandleMine(w http.ResponseWriter, r *http.Request, n Node) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := blockchain.ValidateAddress(req.Address); err != nil {
		writeError(w, err)
		return
	}

	block, outcome, err := n.Mine(r.Context(), req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"outcome": outcome.String(),
		"block":   block,
	})
}
