package handlers

import (
	"encoding/json"
	"net/http"

	"powledger/blockchain"
	"powledger/logger"
)

func HandleTransactions(w http.ResponseWriter, r *http.Request, n Node) {
	switch r.Method {
	case http.MethodPost:
		handleSubmitTransaction(w, r, n)
	case http.MethodGet:
		handlePendingTransactions(w, r, n)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func handleSubmitTransaction(w http.ResponseWriter, r *http.Request, n Node) {
	var tx blockchain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		logger.Debug("Failed to decode transaction", "error", err)
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if err := n.SubmitTransaction(r.Context(), &tx); err != nil {
		logger.Info("Transaction rejected", "tx", blockchain.Short(tx.ID), "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "pooled",
		"id":      tx.ID,
		"message": "Transaction added to mempool",
	})
}

func handlePendingTransactions(w http.ResponseWriter, r *http.Request, n Node) {
	txs, err := n.PendingTransactions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}
