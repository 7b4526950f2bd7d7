package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powledger/blockchain"
	"powledger/blockchain/processing"
	"powledger/mempool"
	"powledger/mocks"
	"powledger/node"
	"powledger/p2p"
)

// fakeNode serves a fixed chain and records submissions.
type fakeNode struct {
	blocks    []*blockchain.Block
	pending   []*blockchain.Transaction
	submitErr error
	dialed    []string
}

func newFakeNode() *fakeNode {
	return &fakeNode{blocks: []*blockchain.Block{blockchain.Genesis()}}
}

func (f *fakeNode) Blocks(context.Context) ([]*blockchain.Block, error) { return f.blocks, nil }

func (f *fakeNode) Block(_ context.Context, hash string) (*blockchain.Block, error) {
	for _, b := range f.blocks {
		if b.Hash == hash {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", node.ErrBlockNotFound, hash)
}

func (f *fakeNode) SubmitBlock(_ context.Context, b *blockchain.Block) (processing.Outcome, error) {
	if err := blockchain.ValidateBlock(b); err != nil {
		return 0, err
	}
	f.blocks = append(f.blocks, b)
	return processing.Extended, nil
}

func (f *fakeNode) SubmitTransaction(_ context.Context, tx *blockchain.Transaction) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.pending = append(f.pending, tx)
	return nil
}

func (f *fakeNode) PendingTransactions(context.Context) ([]*blockchain.Transaction, error) {
	return f.pending, nil
}

func (f *fakeNode) Balance(_ context.Context, address string) (blockchain.Balance, error) {
	return blockchain.ComputeBalance(f.blocks, address), nil
}

func (f *fakeNode) Peers(context.Context) ([]p2p.PeerInfo, error) {
	return []p2p.PeerInfo{{Name: "peer", Address: "127.0.0.1:1"}}, nil
}

func (f *fakeNode) Connect(_ context.Context, address string) error {
	f.dialed = append(f.dialed, address)
	return nil
}

func (f *fakeNode) Mine(_ context.Context, addr string) (*blockchain.Block, processing.Outcome, error) {
	b := mocks.GenerateValidMinedBlock(f.blocks, addr, nil)
	f.blocks = append(f.blocks, b)
	return b, processing.Extended, nil
}

func (f *fakeNode) Status(context.Context) (node.Status, error) {
	return node.Status{Name: "fake", Height: len(f.blocks), Tip: f.blocks[len(f.blocks)-1].Hash}, nil
}

func do(t *testing.T, h func(http.ResponseWriter, *http.Request, Node), n Node, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h(rec, req, n)
	return rec
}

func TestHandleTransactions(t *testing.T) {
	alice, bob := mocks.GenerateSigner(), mocks.GenerateSigner()
	chain := []*blockchain.Block{blockchain.Genesis()}
	chain = append(chain, mocks.GenerateValidMinedBlock(chain, alice.Address(), nil))
	tx, err := mocks.GenerateValidTransaction(chain, alice, bob.Address(), 10)
	require.NoError(t, err)

	tests := []struct {
		name           string
		method         string
		body           any
		submitErr      error
		expectedStatus int
		expectedInBody string
	}{
		{"pooled", http.MethodPost, tx, nil, http.StatusAccepted, tx.ID},
		{"invalid json", http.MethodPost, "{not json", nil, http.StatusBadRequest, "Invalid JSON"},
		{"validation failure", http.MethodPost, tx,
			&blockchain.ValidationError{Kind: blockchain.ErrDoubleSpend, TxID: tx.ID}, http.StatusBadRequest, "already spent"},
		{"duplicate", http.MethodPost, tx, mempool.ErrDuplicate, http.StatusConflict, "already pooled"},
		{"method not allowed", http.MethodDelete, nil, nil, http.StatusMethodNotAllowed, "Method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newFakeNode()
			n.submitErr = tt.submitErr
			rec := do(t, HandleTransactions, n, tt.method, "/api/transactions", tt.body)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedInBody)
		})
	}
}

func TestHandlePendingTransactions(t *testing.T) {
	n := newFakeNode()
	n.pending = []*blockchain.Transaction{blockchain.NewCoinbaseTransaction("a", 1, 1)}

	rec := do(t, HandleTransactions, n, http.MethodGet, "/api/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []blockchain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, n.pending[0].ID, got[0].ID)
}

func TestHandleBlocks(t *testing.T) {
	n := newFakeNode()
	genesis := n.blocks[0]

	rec := do(t, HandleBlocks, n, http.MethodGet, "/api/blocks/"+genesis.Hash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), genesis.Hash)

	rec = do(t, HandleBlocks, n, http.MethodGet, "/api/blocks/"+strings.Repeat("ab", 32), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, HandleBlocks, n, http.MethodGet, "/api/blocks/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	block := mocks.GenerateValidMinedBlock(n.blocks, "miner", nil)
	rec = do(t, HandleBlocks, n, http.MethodPost, "/api/blocks", block)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"extended"`)

	rec = do(t, HandleBlocks, n, http.MethodPost, "/api/blocks", mocks.GenerateInvalidBlock(n.blocks))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, HandleBlocks, n, http.MethodGet, "/api/blocks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []blockchain.Block
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestHandleChain(t *testing.T) {
	n := newFakeNode()

	rec := do(t, HandleChainHeight, n, http.MethodGet, "/api/chain/height", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"height":1}`, rec.Body.String())

	rec = do(t, HandleChainHead, n, http.MethodGet, "/api/chain/head", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), n.blocks[0].Hash)

	rec = do(t, HandleChainHeight, n, http.MethodPost, "/api/chain/height", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleBalanceAndMine(t *testing.T) {
	n := newFakeNode()
	miner := mocks.GenerateSigner()

	rec := do(t, HandleMine, n, http.MethodPost, "/api/mine", map[string]string{"address": miner.Address()})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, HandleBalance, n, http.MethodGet, "/api/balance/"+miner.Address(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance blockchain.Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, uint64(mocks.MiningReward), balance.Balance)
	assert.Len(t, balance.UTXOs, 1)

	rec = do(t, HandleBalance, n, http.MethodGet, "/api/balance/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, HandleMine, n, http.MethodPost, "/api/mine", map[string]string{"address": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePeers(t *testing.T) {
	n := newFakeNode()

	rec := do(t, HandlePeers, n, http.MethodGet, "/api/peers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"peer"`)

	rec = do(t, HandlePeers, n, http.MethodPost, "/api/peers", map[string]string{"address": "127.0.0.1:9"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"127.0.0.1:9"}, n.dialed)

	rec = do(t, HandlePeers, n, http.MethodPost, "/api/peers", map[string]string{"address": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
