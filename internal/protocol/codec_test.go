package protocol

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReader_FixedWidth(t *testing.T) {
	w := NewWriter(64)
	w.WriteInt(-42)
	w.WriteUint(0xDEADBEEF)
	w.WriteLong(1<<40 + 7)
	w.WriteDouble(3.5)

	r := NewReader(w.Bytes())

	i, err := r.ReadInt()
	require.NoError(t, err)
	require.Equal(t, int32(-42), i)

	u, err := r.ReadUint()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u)

	l, err := r.ReadLong()
	require.NoError(t, err)
	require.Equal(t, int64(1<<40+7), l)

	d, err := r.ReadDouble()
	require.NoError(t, err)
	require.Equal(t, 3.5, d)

	require.NoError(t, r.ExpectEOF())
}

func TestReader_Truncated(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if _, err := r.ReadInt(); !errors.Is(err, ErrTruncatedInput) {
		t.Errorf("expected ErrTruncatedInput, got %v", err)
	}

	r = NewReader([]byte{1, 2, 3, 4, 5})
	if _, err := r.ReadLong(); !errors.Is(err, ErrTruncatedInput) {
		t.Errorf("expected ErrTruncatedInput, got %v", err)
	}
}

func TestBytes_ShortEncoding(t *testing.T) {
	// Short strings: 1-byte length, padded so 1+len is a multiple of 4.
	for _, n := range []int{0, 1, 3, 4, 100, 253} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}

		w := NewWriter(0)
		w.WriteBytes(data)
		require.Zero(t, w.Len()%4, "len %d: unpadded output", n)

		r := NewReader(w.Bytes())
		got, err := r.ReadBytes()
		require.NoError(t, err, "len %d", n)
		require.Equal(t, data, got, "len %d", n)
		require.NoError(t, r.ExpectEOF(), "len %d", n)
	}
}

func TestBytes_LongEncoding(t *testing.T) {
	for _, n := range []int{254, 255, 1000} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i * 31)
		}

		w := NewWriter(0)
		w.WriteBytes(data)
		require.Equal(t, byte(0xFE), w.Bytes()[0])
		require.Zero(t, w.Len()%4)

		r := NewReader(w.Bytes())
		got, err := r.ReadBytes()
		require.NoError(t, err)
		require.Equal(t, data, got)
		require.NoError(t, r.ExpectEOF())
	}
}

func TestBytes_RejectsOverrun(t *testing.T) {
	// Declared length 10 but only 3 bytes of data follow.
	r := NewReader([]byte{10, 1, 2, 3})
	if _, err := r.ReadBytes(); !errors.Is(err, ErrLengthOverflow) {
		t.Errorf("expected ErrLengthOverflow, got %v", err)
	}
}

func TestBytes_RejectsFFMarker(t *testing.T) {
	r := NewReader([]byte{0xFF, 0, 0, 0})
	if _, err := r.ReadBytes(); !errors.Is(err, ErrLengthOverflow) {
		t.Errorf("expected ErrLengthOverflow, got %v", err)
	}
}

func TestBytes_RejectsLongEncodingOfShortLength(t *testing.T) {
	// 0xFE marker with a length that should have used the short form.
	r := NewReader([]byte{0xFE, 5, 0, 0, 1, 2, 3, 4, 5, 0, 0, 0})
	if _, err := r.ReadBytes(); !errors.Is(err, ErrLengthOverflow) {
		t.Errorf("expected ErrLengthOverflow, got %v", err)
	}
}

func TestBigInt_RoundTrip(t *testing.T) {
	vals := []*big.Int{
		big.NewInt(0),
		big.NewInt(255),
		new(big.Int).Lsh(big.NewInt(1), 1023),
	}
	for _, v := range vals {
		w := NewWriter(0)
		w.WriteBigInt(v)

		r := NewReader(w.Bytes())
		got, err := r.ReadBigInt()
		require.NoError(t, err)
		require.Zero(t, v.Cmp(got))
	}
}

func TestSubReader_Bounds(t *testing.T) {
	w := NewWriter(0)
	w.WriteInt(1)
	w.WriteInt(2)
	w.WriteInt(3)

	r := NewReader(w.Bytes())
	sub, err := r.SubReader(8)
	require.NoError(t, err)

	v, err := sub.ReadInt()
	require.NoError(t, err)
	require.Equal(t, int32(1), v)
	v, err = sub.ReadInt()
	require.NoError(t, err)
	require.Equal(t, int32(2), v)

	// Sub-reader must not see past its budget.
	if _, err := sub.ReadInt(); !errors.Is(err, ErrTruncatedInput) {
		t.Errorf("expected ErrTruncatedInput, got %v", err)
	}

	// Outer cursor advanced past the sub-message.
	v, err = r.ReadInt()
	require.NoError(t, err)
	require.Equal(t, int32(3), v)
}

func TestReadString_RoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.WriteString("hello, мир")

	r := NewReader(w.Bytes())
	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello, мир", s)
}

func TestExpectEOF_Leftover(t *testing.T) {
	r := NewReader([]byte{0, 0, 0, 0})
	if err := r.ExpectEOF(); err == nil {
		t.Error("expected error with leftover bytes")
	}
}
