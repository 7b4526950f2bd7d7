package blockchain

import (
	"encoding/hex"
)

const (
	// CoinbaseTxOutID and CoinbaseTxOutIndex mark the single input of a
	// reward transaction, which has no real predecessor output.
	CoinbaseTxOutID    = "0"
	CoinbaseTxOutIndex = -1

	// GenesisPreviousHash is the fixed parent hash of block 0
	GenesisPreviousHash = "0"
)

// PublicKey is a compressed secp256k1 public key. It travels as hex in JSON.
type PublicKey []byte

func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(k)), nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = nil
		return nil
	}
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	*k = b
	return nil
}

type TxOut struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type TxIn struct {
	TxOutID    string    `json:"txOutId"`
	TxOutIndex int       `json:"txOutIndex"`
	PublicKey  PublicKey `json:"publicKey"`
	Signature  string    `json:"signature,omitempty"`
}

// IsCoinbase reports whether the input carries the coinbase sentinel pair.
func (in *TxIn) IsCoinbase() bool {
	return in.TxOutID == CoinbaseTxOutID && in.TxOutIndex == CoinbaseTxOutIndex
}

type Transaction struct {
	TxIns  []TxIn  `json:"txIns"`
	TxOuts []TxOut `json:"txOuts"`
	ID     string  `json:"id"`
}

type Block struct {
	PreviousHash string        `json:"previousHash"`
	Timestamp    int64         `json:"timestamp"` // unix milliseconds
	Transactions []Transaction `json:"transactions"`
	Difficulty   int           `json:"difficulty"`
	Nonce        uint64        `json:"nonce"`
	Hash         string        `json:"hash"`
}

// UTXO is an unspent output owned by some address. It is derived from the
// chain on demand and never stored.
type UTXO struct {
	TxOutID    string `json:"txOutId"`
	TxOutIndex int    `json:"txOutIndex"`
	Amount     uint64 `json:"amount"`
}

type Balance struct {
	Balance uint64 `json:"balance"`
	UTXOs   []UTXO `json:"utxos"`
}
