package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// sampleMsg exercises every element writer the codec offers.
type sampleMsg struct {
	U64 uint64
	I64 int64
	U32 uint32
	U8  uint8
	B   bool
	F   float64
	S   string
}

func (m *sampleMsg) Encode(w io.Writer) error {
	if err := WriteUint64(w, m.U64); err != nil {
		return err
	}
	if err := WriteInt64(w, m.I64); err != nil {
		return err
	}
	if err := WriteUint32(w, m.U32); err != nil {
		return err
	}
	if err := WriteUint8(w, m.U8); err != nil {
		return err
	}
	if err := WriteBool(w, m.B); err != nil {
		return err
	}
	if err := WriteFloat64(w, m.F); err != nil {
		return err
	}
	return WriteString(w, m.S)
}

func (m *sampleMsg) Decode(r io.Reader) error {
	if err := ReadUint64(r, &m.U64); err != nil {
		return err
	}
	if err := ReadInt64(r, &m.I64); err != nil {
		return err
	}
	if err := ReadUint32(r, &m.U32); err != nil {
		return err
	}
	if err := ReadUint8(r, &m.U8); err != nil {
		return err
	}
	if err := ReadBool(r, &m.B); err != nil {
		return err
	}
	if err := ReadFloat64(r, &m.F); err != nil {
		return err
	}
	return ReadString(r, &m.S)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	in := sampleMsg{
		U64: 1 << 60, I64: -12345, U32: 7, U8: 255,
		B: true, F: 3.25, S: "Intermediary-17",
	}
	payload, err := Pack(&in)
	require.NoError(t, err)

	var out sampleMsg
	require.NoError(t, Unpack(payload[:], &out))
	require.Equal(t, in, out)
}

func TestPackRejectsOversizedMessage(t *testing.T) {
	big := sampleMsg{S: string(bytes.Repeat([]byte{'x'}, PayloadSize))}
	_, err := Pack(&big)
	require.Error(t, err)
}
