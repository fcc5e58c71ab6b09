// Package wire implements the fixed-size binary payload codec every event
// in the executor carries. It follows the same writeElements/readElements
// shape as lnd's lnwire/message.go, generalized from wire-protocol
// messages to event payloads: a Message knows how to Encode itself into,
// and Decode itself from, an io.Writer/io.Reader, and Pack/Unpack wrap
// that with the fixed-size, zero-padded buffer the executor's event
// contract requires.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// PayloadSize is the maximum size of an event's opaque payload.
const PayloadSize = 1024

// byteOrder is big-endian throughout, matching lnd channeldb's convention
// that big-endian keys sort numerically under a cursor scan; we don't scan
// these bytes, but there is no reason to depart from the rest of the
// stack.
var byteOrder = binary.BigEndian

// Message is anything that can be packed into an event payload.
type Message interface {
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// Pack serializes m into a zero-padded, fixed-size payload buffer.
func Pack(m Message) ([PayloadSize]byte, error) {
	var buf [PayloadSize]byte

	var b bytes.Buffer
	if err := m.Encode(&b); err != nil {
		return buf, err
	}
	if b.Len() > PayloadSize {
		return buf, fmt.Errorf("wire: encoded message is %d bytes, exceeds payload size %d",
			b.Len(), PayloadSize)
	}
	copy(buf[:], b.Bytes())
	return buf, nil
}

// Unpack decodes m from a payload buffer previously produced by Pack. The
// reader is bounded by nothing but m's own Decode logic: trailing zero
// padding is simply never read.
func Unpack(buf []byte, m Message) error {
	return m.Decode(bytes.NewReader(buf))
}

// WriteUint64 writes a big-endian uint64.
func WriteUint64(w io.Writer, v uint64) error {
	var b [8]byte
	byteOrder.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadUint64 reads a big-endian uint64.
func ReadUint64(r io.Reader, v *uint64) error {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	*v = byteOrder.Uint64(b[:])
	return nil
}

// WriteInt64 writes a big-endian int64.
func WriteInt64(w io.Writer, v int64) error {
	return WriteUint64(w, uint64(v))
}

// ReadInt64 reads a big-endian int64.
func ReadInt64(r io.Reader, v *int64) error {
	var u uint64
	if err := ReadUint64(r, &u); err != nil {
		return err
	}
	*v = int64(u)
	return nil
}

// WriteUint32 writes a big-endian uint32.
func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	byteOrder.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadUint32 reads a big-endian uint32.
func ReadUint32(r io.Reader, v *uint32) error {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	*v = byteOrder.Uint32(b[:])
	return nil
}

// WriteUint8 writes a single byte.
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// ReadUint8 reads a single byte.
func ReadUint8(r io.Reader, v *uint8) error {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	*v = b[0]
	return nil
}

// WriteBool writes a boolean as a single byte.
func WriteBool(w io.Writer, v bool) error {
	if v {
		return WriteUint8(w, 1)
	}
	return WriteUint8(w, 0)
}

// ReadBool reads a boolean encoded as a single byte.
func ReadBool(r io.Reader, v *bool) error {
	var b uint8
	if err := ReadUint8(r, &b); err != nil {
		return err
	}
	*v = b != 0
	return nil
}

// WriteFloat64 writes a big-endian IEEE-754 double.
func WriteFloat64(w io.Writer, v float64) error {
	return WriteUint64(w, math.Float64bits(v))
}

// ReadFloat64 reads a big-endian IEEE-754 double.
func ReadFloat64(r io.Reader, v *float64) error {
	var u uint64
	if err := ReadUint64(r, &u); err != nil {
		return err
	}
	*v = math.Float64frombits(u)
	return nil
}

// WriteString writes a length-prefixed (uint16) UTF-8 string.
func WriteString(w io.Writer, s string) error {
	if len(s) > 65535 {
		return fmt.Errorf("wire: string too long to encode: %d bytes", len(s))
	}
	var lenBuf [2]byte
	byteOrder.PutUint16(lenBuf[:], uint16(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// ReadString reads a length-prefixed (uint16) UTF-8 string.
func ReadString(r io.Reader, s *string) error {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := byteOrder.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	*s = string(buf)
	return nil
}
