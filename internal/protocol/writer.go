package protocol

import (
	"encoding/binary"
	"math"
	"math/big"
)

// Writer accumulates TL-serialized data.
// Uses Little-Endian byte order for all multi-byte values; variable-length
// fields are padded to a 4-byte boundary.
type Writer struct {
	buf []byte
}

// NewWriter creates a new writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// WriteInt writes an int32 (4 bytes, LE).
func (w *Writer) WriteInt(val int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(val))
}

// WriteUint writes a uint32 (4 bytes, LE).
func (w *Writer) WriteUint(val uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, val)
}

// WriteLong writes an int64 (8 bytes, LE).
func (w *Writer) WriteLong(val int64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(val))
}

// WriteDouble writes a float64 (8 bytes, LE).
func (w *Writer) WriteDouble(val float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(val))
}

// WriteInt128 writes 16 raw bytes.
func (w *Writer) WriteInt128(val [16]byte) {
	w.buf = append(w.buf, val[:]...)
}

// WriteInt256 writes 32 raw bytes.
func (w *Writer) WriteInt256(val [32]byte) {
	w.buf = append(w.buf, val[:]...)
}

// WriteRaw writes raw bytes with no length prefix and no padding.
func (w *Writer) WriteRaw(data []byte) {
	w.buf = append(w.buf, data...)
}

// WriteBytes writes a length-prefixed byte string using the two-tier TL
// encoding (see Reader.ReadBytes), padded to a 4-byte boundary.
func (w *Writer) WriteBytes(data []byte) {
	n := len(data)
	if n < 0xFE {
		w.buf = append(w.buf, byte(n))
	} else {
		w.buf = append(w.buf, 0xFE, byte(n), byte(n>>8), byte(n>>16))
	}
	w.buf = append(w.buf, data...)
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
}

// WriteString writes a length-prefixed string.
func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// WriteBigInt writes a big-endian arbitrary precision integer inside a
// length-prefixed byte string.
func (w *Writer) WriteBigInt(val *big.Int) {
	w.WriteBytes(val.Bytes())
}

// Bytes returns the accumulated data.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length of the accumulated data.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset clears the buffer for reuse.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}
