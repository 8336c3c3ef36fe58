package mtproto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/udmitri/mtgo/internal/crypto"
	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/protocol"
)

const (
	// Accepted skew-corrected message age on receive.
	maxMessagePast   = 300 * time.Second
	maxMessageFuture = 30 * time.Second

	envelopeHeadLen = 8 + 16 // auth_key_id + msg_key
	innerHeadLen    = 8 + 8 + 8 + 4 + 4
)

// SessionConfig is the key material a Session runs on, as produced by a
// completed handshake or restored from the binlog.
type SessionConfig struct {
	AuthKey   [model.AuthKeySize]byte
	AuthKeyID int64
	Salt      int64
	TimeSkew  int32
}

// Session owns the authenticated framing of one DC connection: message id
// and sequence allocation, envelope encryption, and acknowledgement
// bookkeeping. It is not safe for concurrent use.
type Session struct {
	authKey   [model.AuthKeySize]byte
	authKeyID int64
	salt      int64
	sessionID int64
	timeSkew  int32

	rnd io.Reader
	now func() time.Time

	lastMsgID   int64
	contentSeq  int32
	pendingAcks []int64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionRandom injects the randomness source (fixed in tests).
func WithSessionRandom(r io.Reader) SessionOption {
	return func(s *Session) { s.rnd = r }
}

// WithSessionClock injects the wall clock (fixed in tests).
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session from negotiated key material. A fresh
// random session id is drawn; restoring an old session id is deliberately
// unsupported.
func NewSession(cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	s := &Session{
		authKey:   cfg.AuthKey,
		authKeyID: cfg.AuthKeyID,
		salt:      cfg.Salt,
		timeSkew:  cfg.TimeSkew,
		rnd:       rand.Reader,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	var sid [8]byte
	if _, err := io.ReadFull(s.rnd, sid[:]); err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	s.sessionID = int64(binary.LittleEndian.Uint64(sid[:]))
	return s, nil
}

// SessionID returns the random id drawn at session creation.
func (s *Session) SessionID() int64 {
	return s.sessionID
}

// Salt returns the current server salt.
func (s *Session) Salt() int64 {
	return s.salt
}

// SetSalt replaces the server salt (bad_server_salt recovery).
func (s *Session) SetSalt(salt int64) {
	s.salt = salt
}

// SetTimeSkew replaces the server-minus-local clock offset.
func (s *Session) SetTimeSkew(skew int32) {
	s.timeSkew = skew
}

// NewMsgID allocates the next outgoing message id. Ids approximate
// skew-corrected unix time in the upper 32 bits, are divisible by 4, and
// are strictly increasing even when the clock stalls or steps back.
func (s *Session) NewMsgID() int64 {
	t := s.now().Add(time.Duration(s.timeSkew) * time.Second)
	sec := t.Unix()
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	id := (sec<<32 | int64(frac)) &^ 3
	if id <= s.lastMsgID {
		id = s.lastMsgID + 4
	}
	s.lastMsgID = id
	return id
}

// NextSeqNo allocates the next sequence number. Content-related messages
// get an odd number and advance the counter; service messages get the
// current even number without advancing it.
func (s *Session) NextSeqNo(content bool) int32 {
	if content {
		seq := s.contentSeq*2 + 1
		s.contentSeq++
		return seq
	}
	return s.contentSeq * 2
}

// RegisterAck queues an inbound content message id for acknowledgement.
func (s *Session) RegisterAck(msgID int64) {
	s.pendingAcks = append(s.pendingAcks, msgID)
}

// TakeAcks drains the pending acknowledgement queue.
func (s *Session) TakeAcks() []int64 {
	acks := s.pendingAcks
	s.pendingAcks = nil
	return acks
}

// AckPayload builds a msgs_ack covering the drained pending ids, or nil
// when nothing is pending.
func (s *Session) AckPayload() []byte {
	acks := s.TakeAcks()
	if len(acks) == 0 {
		return nil
	}
	w := protocol.NewWriter(12 + 8*len(acks))
	w.WriteUint(tagMsgsAck)
	w.WriteUint(tagVector)
	w.WriteInt(int32(len(acks)))
	for _, id := range acks {
		w.WriteLong(id)
	}
	return w.Bytes()
}

// Encrypt wraps payload in an authenticated envelope, allocating the
// message id and sequence number.
func (s *Session) Encrypt(payload []byte, content bool) (envelope []byte, msgID int64, err error) {
	msgID = s.NewMsgID()
	seqNo := s.NextSeqNo(content)

	inner := protocol.NewWriter(innerHeadLen + len(payload) + 16)
	inner.WriteLong(s.salt)
	inner.WriteLong(s.sessionID)
	inner.WriteLong(msgID)
	inner.WriteInt(seqNo)
	inner.WriteInt(int32(len(payload)))
	inner.WriteRaw(payload)

	plain := inner.Bytes()
	digest := crypto.SHA1(plain)
	var msgKey [16]byte
	copy(msgKey[:], digest[4:20])

	padded := make([]byte, 0, len(plain)+16)
	padded = append(padded, plain...)
	pad := make([]byte, (16-len(padded)%16)%16)
	if _, err := io.ReadFull(s.rnd, pad); err != nil {
		return nil, 0, fmt.Errorf("generating padding: %w", err)
	}
	padded = append(padded, pad...)
	defer crypto.Wipe(padded)

	key, iv := crypto.SessionKeyIV(&s.authKey, msgKey, true)
	defer crypto.Wipe(key)
	defer crypto.Wipe(iv)
	encrypted, err := crypto.IGEEncrypt(key, iv, padded)
	if err != nil {
		return nil, 0, fmt.Errorf("encrypting message %d: %w", msgID, err)
	}

	w := protocol.NewWriter(envelopeHeadLen + len(encrypted))
	w.WriteLong(s.authKeyID)
	w.WriteInt128(msgKey)
	w.WriteRaw(encrypted)
	return w.Bytes(), msgID, nil
}

// Decrypt opens an authenticated envelope and returns the inbound message
// id, sequence number, and payload. The payload slice is freshly
// allocated and safe to retain.
func (s *Session) Decrypt(envelope []byte) (msgID int64, seqNo int32, payload []byte, err error) {
	r := protocol.NewReader(envelope)
	keyID, err := r.ReadLong()
	if err != nil {
		return 0, 0, nil, err
	}
	if keyID != s.authKeyID {
		return 0, 0, nil, fmt.Errorf("envelope for key %016x, session holds %016x: %w",
			uint64(keyID), uint64(s.authKeyID), ErrNoMatchingKey)
	}
	msgKey, err := r.ReadInt128()
	if err != nil {
		return 0, 0, nil, err
	}
	encrypted, err := r.ReadRaw(r.Remaining())
	if err != nil {
		return 0, 0, nil, err
	}
	if len(encrypted) < innerHeadLen || len(encrypted)%16 != 0 {
		return 0, 0, nil, fmt.Errorf("encrypted body of %d bytes: %w", len(encrypted), ErrMacMismatch)
	}

	key, iv := crypto.SessionKeyIV(&s.authKey, msgKey, false)
	defer crypto.Wipe(key)
	defer crypto.Wipe(iv)
	plain, err := crypto.IGEDecrypt(key, iv, encrypted)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decrypting envelope: %w", err)
	}
	defer crypto.Wipe(plain)

	ir := protocol.NewReader(plain)
	if _, err := ir.ReadLong(); err != nil { // salt, not validated on receive
		return 0, 0, nil, err
	}
	sessionID, err := ir.ReadLong()
	if err != nil {
		return 0, 0, nil, err
	}
	if msgID, err = ir.ReadLong(); err != nil {
		return 0, 0, nil, err
	}
	if seqNo, err = ir.ReadInt(); err != nil {
		return 0, 0, nil, err
	}
	length, err := ir.ReadInt()
	if err != nil {
		return 0, 0, nil, err
	}
	if length < 0 || int(length) > ir.Remaining() {
		return 0, 0, nil, fmt.Errorf("declared length %d with %d remaining: %w",
			length, ir.Remaining(), ErrMacMismatch)
	}

	// The msg_key commits to exactly the unpadded plaintext.
	digest := crypto.SHA1(plain[:innerHeadLen+int(length)])
	if subtle.ConstantTimeCompare(digest[4:20], msgKey[:]) != 1 {
		return 0, 0, nil, fmt.Errorf("envelope digest check: %w", ErrMacMismatch)
	}
	if sessionID != s.sessionID {
		return 0, 0, nil, fmt.Errorf("envelope for session %016x: %w",
			uint64(sessionID), ErrProtocolStateViolation)
	}

	sent := time.Unix(msgID>>32, 0)
	local := s.now().Add(time.Duration(s.timeSkew) * time.Second)
	if sent.Before(local.Add(-maxMessagePast)) || sent.After(local.Add(maxMessageFuture)) {
		return 0, 0, nil, fmt.Errorf("message time %v vs local %v: %w", sent, local, ErrBadMessageTime)
	}

	payload = make([]byte, length)
	copy(payload, plain[innerHeadLen:innerHeadLen+int(length)])
	return msgID, seqNo, payload, nil
}

// PingPayload builds a ping request.
func PingPayload(pingID int64) []byte {
	w := protocol.NewWriter(12)
	w.WriteUint(tagPing)
	w.WriteLong(pingID)
	return w.Bytes()
}

// EncodePlain wraps payload in the unauthenticated envelope used during
// the handshake.
func (s *Session) EncodePlain(payload []byte) ([]byte, int64) {
	msgID := s.NewMsgID()
	return EncodePlain(msgID, payload), msgID
}

// EncodePlain builds an auth_key_id=0 envelope around payload.
func EncodePlain(msgID int64, payload []byte) []byte {
	w := protocol.NewWriter(20 + len(payload))
	w.WriteLong(0)
	w.WriteLong(msgID)
	w.WriteInt(int32(len(payload)))
	w.WriteRaw(payload)
	return w.Bytes()
}

// DecodePlain opens an unauthenticated envelope.
func DecodePlain(envelope []byte) (msgID int64, payload []byte, err error) {
	r := protocol.NewReader(envelope)
	keyID, err := r.ReadLong()
	if err != nil {
		return 0, nil, err
	}
	if keyID != 0 {
		return 0, nil, fmt.Errorf("plain envelope with key id %016x: %w",
			uint64(keyID), ErrProtocolStateViolation)
	}
	if msgID, err = r.ReadLong(); err != nil {
		return 0, nil, err
	}
	length, err := r.ReadInt()
	if err != nil {
		return 0, nil, err
	}
	if int(length) != r.Remaining() {
		return 0, nil, fmt.Errorf("plain envelope declares %d bytes, carries %d: %w",
			length, r.Remaining(), ErrProtocolStateViolation)
	}
	payload, err = r.ReadRawCopy(int(length))
	if err != nil {
		return 0, nil, err
	}
	return msgID, payload, nil
}
