package mtproto

import (
	"bufio"
	"fmt"
	"io"
)

const (
	abridgedMarker   = 0xef
	abridgedExtended = 0x7f

	// maxFrameLen bounds a single transport frame. Anything larger is a
	// desynchronized or hostile stream.
	maxFrameLen = 1 << 24
)

// Framer speaks the abridged length-prefixed transport over a byte
// stream. The first outgoing frame is preceded by a one-byte protocol
// marker.
type Framer struct {
	r      *bufio.Reader
	w      io.Writer
	marked bool
}

// NewFramer wraps a transport stream.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{r: bufio.NewReader(rw), w: rw}
}

// WriteFrame sends one envelope. The envelope length must be a multiple
// of four.
func (f *Framer) WriteFrame(envelope []byte) error {
	if len(envelope)%4 != 0 {
		return fmt.Errorf("frame of %d bytes is not 4-aligned", len(envelope))
	}
	words := len(envelope) / 4
	if words >= maxFrameLen/4 {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(envelope))
	}

	head := make([]byte, 0, 5)
	if !f.marked {
		head = append(head, abridgedMarker)
		f.marked = true
	}
	if words < abridgedExtended {
		head = append(head, byte(words))
	} else {
		head = append(head, abridgedExtended, byte(words), byte(words>>8), byte(words>>16))
	}
	if _, err := f.w.Write(head); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := f.w.Write(envelope); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// ReadFrame receives one envelope.
func (f *Framer) ReadFrame() ([]byte, error) {
	first, err := f.r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading frame header: %w", err)
	}
	words := int(first)
	if first == abridgedExtended {
		var ext [3]byte
		if _, err := io.ReadFull(f.r, ext[:]); err != nil {
			return nil, fmt.Errorf("reading extended frame header: %w", err)
		}
		words = int(ext[0]) | int(ext[1])<<8 | int(ext[2])<<16
	}
	n := words * 4
	if n == 0 || n > maxFrameLen {
		return nil, fmt.Errorf("frame of %d bytes out of range", n)
	}
	envelope := make([]byte, n)
	if _, err := io.ReadFull(f.r, envelope); err != nil {
		return nil, fmt.Errorf("reading frame body of %d bytes: %w", n, err)
	}
	return envelope, nil
}
