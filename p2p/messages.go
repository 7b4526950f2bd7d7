package p2p

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"powledger/blockchain"
)

// PacketType is the first header byte of a frame.
type PacketType uint8

const (
	PacketConnect             PacketType = 0x01
	PacketGetNeighbors        PacketType = 0x02
	PacketHeartbeat           PacketType = 0x03
	PacketNewTransaction      PacketType = 0x04
	PacketNewBlock            PacketType = 0x05
	PacketGetTransactionsPool PacketType = 0x06
	PacketGetBlockchain       PacketType = 0x07
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketGetNeighbors:
		return "GET_NEIGHBORS"
	case PacketHeartbeat:
		return "HEARTBEAT"
	case PacketNewTransaction:
		return "NEW_TRANSACTION"
	case PacketNewBlock:
		return "NEW_BLOCK"
	case PacketGetTransactionsPool:
		return "GET_TRANSACTIONS_POOL"
	case PacketGetBlockchain:
		return "GET_BLOCKCHAIN"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
	}
}

func (t PacketType) valid() bool {
	return t >= PacketConnect && t <= PacketGetBlockchain
}

// Flag is the second header byte of a frame.
type Flag uint8

const (
	FlagNone     Flag = 0x00
	FlagRequest  Flag = 0x01
	FlagResponse Flag = 0x02
)

func (f Flag) String() string {
	switch f {
	case FlagNone:
		return "NONE"
	case FlagRequest:
		return "REQUEST"
	case FlagResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(f)) + ")"
	}
}

// Packet is one decoded frame. Payload is raw JSON text.
type Packet struct {
	Type    PacketType
	Flag    Flag
	Payload []byte
}

func (p Packet) String() string {
	return p.Type.String() + "/" + p.Flag.String()
}

// ConnectPayload is the handshake body in both directions.
type ConnectPayload struct {
	Name             string `json:"name"`
	ListeningAddress string `json:"listeningAddress"`
}

// NeighborInfo is one entry of a GET_NEIGHBORS response.
type NeighborInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

var emptyPayload = []byte("{}")

// NewPacket encodes payload as ASCII JSON. A nil payload becomes {}.
func NewPacket(t PacketType, f Flag, payload any) (Packet, error) {
	if payload == nil {
		return Packet{Type: t, Flag: f, Payload: emptyPayload}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Packet{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Packet{Type: t, Flag: f, Payload: asciiJSON(data)}, nil
}

// Decode unmarshals the payload into v.
func (p Packet) Decode(v any) error {
	if err := json.Unmarshal(p.Payload, v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrMalformedFrame, p, err)
	}
	return nil
}

func blockPacket(block *blockchain.Block, f Flag) (Packet, error) {
	return NewPacket(PacketNewBlock, f, block)
}

func transactionPacket(tx *blockchain.Transaction, f Flag) (Packet, error) {
	return NewPacket(PacketNewTransaction, f, tx)
}

// asciiJSON rewrites any non-ASCII rune of a JSON document as a \u escape.
// Multi-byte runes only occur inside strings, where the escape is equivalent.
func asciiJSON(data []byte) []byte {
	ascii := true
	for _, b := range data {
		if b >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return data
	}

	out := make([]byte, 0, len(data)+16)
	for len(data) > 0 {
		if data[0] < utf8.RuneSelf {
			out = append(out, data[0])
			data = data[1:]
			continue
		}
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r >= 0x10000 {
			r -= 0x10000
			out = fmt.Appendf(out, `\u%04x\u%04x`, 0xd800+(r>>10), 0xdc00+(r&0x3ff))
			continue
		}
		out = fmt.Appendf(out, `\u%04x`, r)
	}
	return out
}
