package protocol

import "errors"

var (
	// ErrTruncatedInput is returned when a read runs past the end of the buffer.
	ErrTruncatedInput = errors.New("truncated input")

	// ErrLengthOverflow is returned when a declared length is inconsistent
	// with the remaining buffer (or exceeds the encoding's limits).
	ErrLengthOverflow = errors.New("length overflow")
)
