package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// Reader provides methods for reading TL-serialized data.
// Uses Little-Endian byte order for all multi-byte values; variable-length
// fields are padded to a 4-byte boundary.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a new reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ReadInt reads an int32 (4 bytes, LE).
func (r *Reader) ReadInt() (int32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ReadInt: %w (pos=%d, len=%d)", ErrTruncatedInput, r.pos, len(r.data))
	}
	val := int32(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return val, nil
}

// ReadUint reads a uint32 (4 bytes, LE).
func (r *Reader) ReadUint() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ReadUint: %w (pos=%d, len=%d)", ErrTruncatedInput, r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return val, nil
}

// ReadLong reads an int64 (8 bytes, LE).
func (r *Reader) ReadLong() (int64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("ReadLong: %w (pos=%d, len=%d)", ErrTruncatedInput, r.pos, len(r.data))
	}
	val := int64(binary.LittleEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return val, nil
}

// ReadDouble reads a float64 (8 bytes, LE).
func (r *Reader) ReadDouble() (float64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("ReadDouble: %w (pos=%d, len=%d)", ErrTruncatedInput, r.pos, len(r.data))
	}
	bits := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits), nil
}

// ReadInt128 reads 16 raw bytes (nonces and message keys).
func (r *Reader) ReadInt128() ([16]byte, error) {
	var out [16]byte
	if r.pos+16 > len(r.data) {
		return out, fmt.Errorf("ReadInt128: %w (pos=%d, len=%d)", ErrTruncatedInput, r.pos, len(r.data))
	}
	copy(out[:], r.data[r.pos:])
	r.pos += 16
	return out, nil
}

// ReadInt256 reads 32 raw bytes.
func (r *Reader) ReadInt256() ([32]byte, error) {
	var out [32]byte
	if r.pos+32 > len(r.data) {
		return out, fmt.Errorf("ReadInt256: %w (pos=%d, len=%d)", ErrTruncatedInput, r.pos, len(r.data))
	}
	copy(out[:], r.data[r.pos:])
	r.pos += 32
	return out, nil
}

// ReadRaw reads n bytes (ZERO-COPY — returns subslice of internal data).
// Caller must not modify the returned bytes; use ReadRawCopy for that.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("ReadRaw: negative count %d: %w", n, ErrLengthOverflow)
	}
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("ReadRaw: %w (pos=%d, need=%d, len=%d)", ErrTruncatedInput, r.pos, n, len(r.data))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadRawCopy reads n bytes and returns a mutable copy.
func (r *Reader) ReadRawCopy(n int) ([]byte, error) {
	b, err := r.ReadRaw(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadBytes reads a length-prefixed byte string using the two-tier TL
// encoding: a single length byte for strings shorter than 254 bytes, or a
// 0xFE marker followed by a 3-byte LE length otherwise. The field is padded
// to a 4-byte boundary; the padding is consumed but not returned.
// Always returns a copy: the caller retains ownership independently of the
// source buffer's lifetime.
func (r *Reader) ReadBytes() ([]byte, error) {
	if r.pos >= len(r.data) {
		return nil, fmt.Errorf("ReadBytes: %w (pos=%d, len=%d)", ErrTruncatedInput, r.pos, len(r.data))
	}
	marker := r.data[r.pos]
	var strLen, prefix int
	switch {
	case marker < 0xFE:
		strLen = int(marker)
		prefix = 1
	case marker == 0xFE:
		if r.pos+4 > len(r.data) {
			return nil, fmt.Errorf("ReadBytes: %w reading long length (pos=%d, len=%d)", ErrTruncatedInput, r.pos, len(r.data))
		}
		strLen = int(r.data[r.pos+1]) | int(r.data[r.pos+2])<<8 | int(r.data[r.pos+3])<<16
		prefix = 4
		if strLen < 0xFE {
			return nil, fmt.Errorf("ReadBytes: long encoding for short length %d: %w", strLen, ErrLengthOverflow)
		}
	default:
		return nil, fmt.Errorf("ReadBytes: invalid length marker 0xFF: %w", ErrLengthOverflow)
	}

	total := prefix + strLen
	if pad := total % 4; pad != 0 {
		total += 4 - pad
	}
	if r.pos+total > len(r.data) {
		return nil, fmt.Errorf("ReadBytes: declared length %d overruns buffer (pos=%d, len=%d): %w",
			strLen, r.pos, len(r.data), ErrLengthOverflow)
	}

	out := make([]byte, strLen)
	copy(out, r.data[r.pos+prefix:])
	r.pos += total
	return out, nil
}

// ReadString reads a length-prefixed string (same encoding as ReadBytes).
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBigInt reads a big-endian arbitrary precision integer carried inside
// a length-prefixed byte string.
func (r *Reader) ReadBigInt() (*big.Int, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("ReadBigInt: %w", err)
	}
	return new(big.Int).SetBytes(b), nil
}

// SubReader returns a reader bounded to the next n bytes and advances the
// cursor past them. Used to dispatch container sub-messages with their own
// byte budget.
func (r *Reader) SubReader(n int) (*Reader, error) {
	b, err := r.ReadRaw(n)
	if err != nil {
		return nil, fmt.Errorf("SubReader: %w", err)
	}
	return NewReader(b), nil
}

// ExpectEOF returns an error unless the cursor sits exactly at the end of
// the buffer. Dispatch handlers use it to assert exact payload consumption.
func (r *Reader) ExpectEOF() error {
	if r.pos != len(r.data) {
		return fmt.Errorf("expected end of input at %d, have %d bytes left: %w",
			r.pos, len(r.data)-r.pos, ErrLengthOverflow)
	}
	return nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Pos returns the current read position.
func (r *Reader) Pos() int {
	return r.pos
}
