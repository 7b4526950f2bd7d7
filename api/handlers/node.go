package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"powledger/blockchain"
	"powledger/blockchain/processing"
	"powledger/mempool"
	"powledger/node"
	"powledger/p2p"
)

// Node is the driver surface the handlers call. *node.FullNode satisfies it.
type Node interface {
	Blocks(ctx context.Context) ([]*blockchain.Block, error)
	Block(ctx context.Context, hash string) (*blockchain.Block, error)
	SubmitBlock(ctx context.Context, block *blockchain.Block) (processing.Outcome, error)
	SubmitTransaction(ctx context.Context, tx *blockchain.Transaction) error
	PendingTransactions(ctx context.Context) ([]*blockchain.Transaction, error)
	Balance(ctx context.Context, address string) (blockchain.Balance, error)
	Peers(ctx context.Context) ([]p2p.PeerInfo, error)
	Connect(ctx context.Context, address string) error
	Mine(ctx context.Context, rewardAddress string) (*blockchain.Block, processing.Outcome, error)
	Status(ctx context.Context) (node.Status, error)
}

var _ Node = (*node.FullNode)(nil)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case blockchain.IsValidationError(err), blockchain.IsIntegrityError(err),
		errors.Is(err, blockchain.ErrInvalidAddress):
		status = http.StatusBadRequest
	case errors.Is(err, node.ErrBlockNotFound):
		status = http.StatusNotFound
	case errors.Is(err, mempool.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, p2p.ErrServerClosed), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": "error", "error": err.Error()})
}
