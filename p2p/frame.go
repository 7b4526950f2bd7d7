package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is type (1) + flag (1) + little-endian payload length (4).
	HeaderSize = 6

	DefaultMaxPayloadSize = 32 << 20
)

var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrPayloadTooLarge = errors.New("frame payload too large")
)

// TransportError is a connection-level failure. The connection it names
// is closed; the node keeps running.
type TransportError struct {
	Addr string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EncodeFrame renders p as header plus payload.
func EncodeFrame(p Packet) []byte {
	frame := make([]byte, HeaderSize+len(p.Payload))
	frame[0] = byte(p.Type)
	frame[1] = byte(p.Flag)
	binary.LittleEndian.PutUint32(frame[2:HeaderSize], uint32(len(p.Payload)))
	copy(frame[HeaderSize:], p.Payload)
	return frame
}

// Decoder accumulates bytes from a stream and peels off complete frames.
// It handles frames split over several reads and several frames in one read.
type Decoder struct {
	buf        []byte
	maxPayload int
}

func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadSize
	}
	return &Decoder{maxPayload: maxPayload}
}

// Feed appends data to the receive buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Buffered is the number of bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete packet. ok is false when more bytes are
// needed. An error means the stream is corrupt and must be dropped.
// Unknown types and flags still frame correctly and are returned as is;
// the router decides what to do with them.
func (d *Decoder) Next() (p Packet, ok bool, err error) {
	if len(d.buf) < HeaderSize {
		return Packet{}, false, nil
	}

	t := PacketType(d.buf[0])
	f := Flag(d.buf[1])
	length := binary.LittleEndian.Uint32(d.buf[2:HeaderSize])
	if uint64(length) > uint64(d.maxPayload) {
		return Packet{}, false, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}
	end := HeaderSize + int(length)
	if len(d.buf) < end {
		return Packet{}, false, nil
	}

	payload := make([]byte, length)
	copy(payload, d.buf[HeaderSize:end])

	// shift the remainder down so the buffer does not grow without bound
	rest := copy(d.buf, d.buf[end:])
	d.buf = d.buf[:rest]

	return Packet{Type: t, Flag: f, Payload: payload}, true, nil
}
