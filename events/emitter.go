package events

import (
	"encoding/json"
	"time"

	"powledger/blockchain"
)

const (
	TypeBlock       = "block"
	TypeTransaction = "transaction"
)

// LedgerEvent is the envelope published for every accepted block or
// transaction.
type LedgerEvent struct {
	Type      string `json:"type"`
	Node      string `json:"node"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type Emitter interface {
	EmitBlock(block *blockchain.Block) error
	EmitTransaction(tx *blockchain.Transaction) error
	Emit(event LedgerEvent) error
	Close()
}

// Publisher is the subset of *nats.Conn the emitter needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type emitter struct {
	pub           Publisher
	node          string
	subjectPrefix string
	close         func()
}

// NewEmitter publishes to <subjectPrefix>.block and
// <subjectPrefix>.transaction. closeFn runs on Close and may be nil.
func NewEmitter(pub Publisher, node, subjectPrefix string, closeFn func()) Emitter {
	return &emitter{
		pub:           pub,
		node:          node,
		subjectPrefix: subjectPrefix,
		close:         closeFn,
	}
}

func (e *emitter) EmitBlock(block *blockchain.Block) error {
	return e.Emit(LedgerEvent{
		Type:      TypeBlock,
		Node:      e.node,
		Data:      block,
		Timestamp: time.Now().UTC().Unix(),
	})
}

func (e *emitter) EmitTransaction(tx *blockchain.Transaction) error {
	return e.Emit(LedgerEvent{
		Type:      TypeTransaction,
		Node:      e.node,
		Data:      tx,
		Timestamp: time.Now().UTC().Unix(),
	})
}

func (e *emitter) Emit(event LedgerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return e.pub.Publish(e.subjectPrefix+"."+event.Type, data)
}

func (e *emitter) Close() {
	if e.close != nil {
		e.close()
	}
}

// Noop drops every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) EmitBlock(*blockchain.Block) error             { return nil }
func (Noop) EmitTransaction(*blockchain.Transaction) error { return nil }
func (Noop) Emit(LedgerEvent) error                        { return nil }
func (Noop) Close()                                        {}
