package mtproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/gzip"

	"github.com/udmitri/mtgo/internal/protocol"
)

// Handlers routes decoded session-level messages upward. Nil fields mean
// the event is logged and dropped.
type Handlers struct {
	// OnRPCResult delivers a query answer. The reader is positioned at
	// the result body constructor.
	OnRPCResult func(reqMsgID int64, body *protocol.Reader) error

	// OnUpdate delivers an updates-family payload. The reader is
	// positioned just past the constructor tag.
	OnUpdate func(tag uint32, body *protocol.Reader) error

	// OnSaltChanged reports a server-assigned salt the session already
	// switched to.
	OnSaltChanged func(salt int64)

	// OnRetransmit asks the query layer to resend a message the server
	// rejected for a stale salt.
	OnRetransmit func(msgID int64)

	// OnResyncNeeded reports that the update sequence has a gap the
	// stream cannot fill (updates_too_long).
	OnResyncNeeded func()

	// OnAcks reports outgoing message ids the server confirmed.
	OnAcks func(msgIDs []int64)
}

// Dispatch routes one decrypted payload. Inbound content messages are
// queued for acknowledgement. Errors are connection-fatal: a payload that
// cannot be fully decoded leaves the stream position unknown.
func (s *Session) Dispatch(msgID int64, seqNo int32, payload []byte, h *Handlers) error {
	if seqNo&1 == 1 {
		s.RegisterAck(msgID)
	}
	return s.dispatch(msgID, protocol.NewReader(payload), h, false)
}

func (s *Session) dispatch(msgID int64, r *protocol.Reader, h *Handlers, unpacked bool) error {
	tag, err := r.ReadUint()
	if err != nil {
		return fmt.Errorf("reading response tag: %w", err)
	}

	switch tag {
	case tagMsgContainer:
		return s.dispatchContainer(r, h, unpacked)

	case tagGzipPacked:
		if unpacked {
			return fmt.Errorf("gzip inside gzip: %w", ErrNestedCompression)
		}
		return s.dispatchGzip(msgID, r, h)

	case tagRPCResult:
		reqMsgID, err := r.ReadLong()
		if err != nil {
			return err
		}
		// The result body itself may be gzip-packed.
		if err := maybeUnpack(r, func(body *protocol.Reader) error {
			if h.OnRPCResult == nil {
				slog.Debug("rpc result dropped", "req_msg_id", reqMsgID)
				return nil
			}
			return h.OnRPCResult(reqMsgID, body)
		}); err != nil {
			return fmt.Errorf("rpc result for %d: %w", reqMsgID, err)
		}
		return nil

	case tagMsgsAck:
		ids, err := readLongVector(r)
		if err != nil {
			return fmt.Errorf("reading msgs_ack: %w", err)
		}
		if h.OnAcks != nil {
			h.OnAcks(ids)
		}
		return nil

	case tagBadServerSalt:
		badMsgID, err := r.ReadLong()
		if err != nil {
			return err
		}
		if _, err := r.ReadInt(); err != nil { // bad_msg_seqno
			return err
		}
		errCode, err := r.ReadInt()
		if err != nil {
			return err
		}
		newSalt, err := r.ReadLong()
		if err != nil {
			return err
		}
		slog.Info("server salt replaced", "bad_msg_id", badMsgID, "code", errCode)
		s.SetSalt(newSalt)
		if h.OnSaltChanged != nil {
			h.OnSaltChanged(newSalt)
		}
		if h.OnRetransmit != nil {
			h.OnRetransmit(badMsgID)
		}
		return nil

	case tagBadMsgNotification:
		badMsgID, err := r.ReadLong()
		if err != nil {
			return err
		}
		if _, err := r.ReadInt(); err != nil {
			return err
		}
		errCode, err := r.ReadInt()
		if err != nil {
			return err
		}
		slog.Warn("bad msg notification", "bad_msg_id", badMsgID, "code", errCode)
		return nil

	case tagNewSessionCreated:
		if _, err := r.ReadLong(); err != nil { // first_msg_id
			return err
		}
		if _, err := r.ReadLong(); err != nil { // unique_id
			return err
		}
		salt, err := r.ReadLong()
		if err != nil {
			return err
		}
		s.SetSalt(salt)
		if h.OnSaltChanged != nil {
			h.OnSaltChanged(salt)
		}
		return nil

	case tagPong:
		reqMsgID, err := r.ReadLong()
		if err != nil {
			return err
		}
		pingID, err := r.ReadLong()
		if err != nil {
			return err
		}
		slog.Debug("pong", "req_msg_id", reqMsgID, "ping_id", pingID)
		return nil

	case tagMsgDetailedInfo, tagMsgNewDetailedInfo:
		// Informational only; skip the fixed body.
		skip := 8 + 4 + 4
		if tag == tagMsgDetailedInfo {
			skip += 8
		}
		if _, err := r.ReadRaw(skip); err != nil {
			return fmt.Errorf("skipping detailed info: %w", err)
		}
		return nil

	case tagUpdatesTooLong:
		if h.OnResyncNeeded != nil {
			h.OnResyncNeeded()
		}
		return nil

	case tagUpdateShort, tagUpdates, tagUpdateShortMessage, tagUpdateShortChatMessage:
		if h.OnUpdate == nil {
			slog.Debug("update dropped", "tag", fmt.Sprintf("0x%08x", tag))
			return nil
		}
		return h.OnUpdate(tag, r)

	default:
		return fmt.Errorf("response tag 0x%08x: %w", tag, ErrUnknownTag)
	}
}

func (s *Session) dispatchContainer(r *protocol.Reader, h *Handlers, unpacked bool) error {
	count, err := r.ReadInt()
	if err != nil {
		return fmt.Errorf("reading container size: %w", err)
	}
	for i := int32(0); i < count; i++ {
		innerID, err := r.ReadLong()
		if err != nil {
			return fmt.Errorf("container entry %d: %w", i, err)
		}
		innerSeq, err := r.ReadInt()
		if err != nil {
			return fmt.Errorf("container entry %d: %w", i, err)
		}
		size, err := r.ReadInt()
		if err != nil {
			return fmt.Errorf("container entry %d: %w", i, err)
		}
		sub, err := r.SubReader(int(size))
		if err != nil {
			return fmt.Errorf("container entry %d of %d bytes: %w", i, size, err)
		}
		if innerSeq&1 == 1 {
			s.RegisterAck(innerID)
		}
		if err := s.dispatch(innerID, sub, h, unpacked); err != nil {
			return err
		}
		if err := sub.ExpectEOF(); err != nil {
			return fmt.Errorf("container entry %d: %w", i, err)
		}
	}
	return nil
}

func (s *Session) dispatchGzip(msgID int64, r *protocol.Reader, h *Handlers) error {
	unpacked, err := unpack(r)
	if err != nil {
		return err
	}
	return s.dispatch(msgID, protocol.NewReader(unpacked), h, true)
}

// maybeUnpack runs fn on a reader positioned at the body constructor,
// transparently stripping a gzip_packed wrapper first.
func maybeUnpack(r *protocol.Reader, fn func(*protocol.Reader) error) error {
	tag, err := r.ReadUint()
	if err != nil {
		return err
	}
	if tag == tagGzipPacked {
		data, err := unpack(r)
		if err != nil {
			return err
		}
		if len(data) >= 4 && binary.LittleEndian.Uint32(data) == tagGzipPacked {
			return fmt.Errorf("gzip inside gzip: %w", ErrNestedCompression)
		}
		return fn(protocol.NewReader(data))
	}
	rest, err := r.ReadRaw(r.Remaining())
	if err != nil {
		return err
	}
	body := make([]byte, 4+len(rest))
	binary.LittleEndian.PutUint32(body, tag)
	copy(body[4:], rest)
	return fn(protocol.NewReader(body))
}

func unpack(r *protocol.Reader) ([]byte, error) {
	packed, err := r.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("reading packed data: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(io.LimitReader(zr, maxFrameLen+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	if len(data) > maxFrameLen {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxFrameLen)
	}
	return data, nil
}

func readLongVector(r *protocol.Reader) ([]int64, error) {
	tag, err := r.ReadUint()
	if err != nil {
		return nil, err
	}
	if tag != tagVector {
		return nil, fmt.Errorf("expected vector, got 0x%08x: %w", tag, ErrUnknownTag)
	}
	count, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("vector of %d entries: %w", count, protocol.ErrLengthOverflow)
	}
	ids := make([]int64, 0, count)
	for n := int32(0); n < count; n++ {
		id, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
