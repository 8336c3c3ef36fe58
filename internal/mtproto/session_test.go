package mtproto

import (
	"bytes"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/udmitri/mtgo/internal/crypto"
	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/protocol"
)

func testSession(t *testing.T, now func() time.Time) *Session {
	t.Helper()
	var key [model.AuthKeySize]byte
	for i := range key {
		key[i] = byte(i * 7)
	}
	s, err := NewSession(SessionConfig{
		AuthKey:   key,
		AuthKeyID: 0x1234567890abcdef,
		Salt:      42,
	}, WithSessionRandom(constReader(0x3c)), WithSessionClock(now))
	require.NoError(t, err)
	return s
}

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

// encryptAsServer builds a server-to-client envelope for the session.
func encryptAsServer(t *testing.T, s *Session, msgID int64, seqNo int32, payload []byte) []byte {
	t.Helper()
	inner := protocol.NewWriter(innerHeadLen + len(payload) + 16)
	inner.WriteLong(s.Salt())
	inner.WriteLong(s.SessionID())
	inner.WriteLong(msgID)
	inner.WriteInt(seqNo)
	inner.WriteInt(int32(len(payload)))
	inner.WriteRaw(payload)

	plain := inner.Bytes()
	digest := crypto.SHA1(plain)
	var msgKey [16]byte
	copy(msgKey[:], digest[4:20])

	padded := append([]byte(nil), plain...)
	padded = append(padded, make([]byte, (16-len(padded)%16)%16)...)

	key, iv := crypto.SessionKeyIV(&s.authKey, msgKey, false)
	encrypted, err := crypto.IGEEncrypt(key, iv, padded)
	require.NoError(t, err)

	w := protocol.NewWriter(envelopeHeadLen + len(encrypted))
	w.WriteLong(s.authKeyID)
	w.WriteInt128(msgKey)
	w.WriteRaw(encrypted)
	return w.Bytes()
}

func TestMsgIDMonotonicUnderStalledClock(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))

	prev := s.NewMsgID()
	require.Zero(t, prev%4)
	require.Equal(t, int64(1_700_000_000), prev>>32)
	for i := 0; i < 100; i++ {
		id := s.NewMsgID()
		require.Equal(t, prev+4, id)
		prev = id
	}
}

func TestMsgIDClockStepBack(t *testing.T) {
	sec := int64(1_700_000_000)
	s := testSession(t, func() time.Time { return time.Unix(sec, 0) })

	first := s.NewMsgID()
	sec -= 3600
	second := s.NewMsgID()
	require.Greater(t, second, first)
}

func TestSeqNoAllocation(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))

	require.EqualValues(t, 0, s.NextSeqNo(false))
	require.EqualValues(t, 1, s.NextSeqNo(true))
	require.EqualValues(t, 2, s.NextSeqNo(false))
	require.EqualValues(t, 3, s.NextSeqNo(true))
	require.EqualValues(t, 5, s.NextSeqNo(true))
	require.EqualValues(t, 6, s.NextSeqNo(false))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	now := fixedClock(1_700_000_000)
	s := testSession(t, now)

	payload := []byte("abcdefgh12345678abcd")
	msgID := int64(1_700_000_000) << 32
	env := encryptAsServer(t, s, msgID, 1, payload)

	gotID, gotSeq, gotPayload, err := s.Decrypt(env)
	require.NoError(t, err)
	require.Equal(t, msgID, gotID)
	require.EqualValues(t, 1, gotSeq)
	require.Equal(t, payload, gotPayload)
}

func TestEnvelopeTamperDetected(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	msgID := int64(1_700_000_000) << 32
	env := encryptAsServer(t, s, msgID, 1, []byte("abcdefgh12345678"))

	for _, idx := range []int{8, 24, len(env) - 1} {
		tampered := append([]byte(nil), env...)
		tampered[idx] ^= 0x01
		_, _, _, err := s.Decrypt(tampered)
		require.Error(t, err, "flipped byte %d", idx)
	}
}

func TestEnvelopeWrongKeyID(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	env := encryptAsServer(t, s, int64(1_700_000_000)<<32, 1, []byte("abcd"))
	env[0] ^= 0xff
	_, _, _, err := s.Decrypt(env)
	require.ErrorIs(t, err, ErrNoMatchingKey)
}

func TestEnvelopeStaleTime(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	msgID := int64(1_700_000_000-600) << 32
	env := encryptAsServer(t, s, msgID, 1, []byte("abcd"))
	_, _, _, err := s.Decrypt(env)
	require.ErrorIs(t, err, ErrBadMessageTime)
}

func TestEncryptProducesOpenableEnvelope(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	payload := []byte("ping-payload-bytes--")
	env, msgID, err := s.Encrypt(payload, true)
	require.NoError(t, err)
	require.Zero(t, msgID%4)
	require.Zero(t, len(env)%4)

	// Reopen with the client-direction key pair.
	r := protocol.NewReader(env)
	keyID, err := r.ReadLong()
	require.NoError(t, err)
	require.Equal(t, s.authKeyID, keyID)
	msgKey, err := r.ReadInt128()
	require.NoError(t, err)
	encrypted, err := r.ReadRaw(r.Remaining())
	require.NoError(t, err)

	key, iv := crypto.SessionKeyIV(&s.authKey, msgKey, true)
	plain, err := crypto.IGEDecrypt(key, iv, encrypted)
	require.NoError(t, err)

	ir := protocol.NewReader(plain)
	salt, err := ir.ReadLong()
	require.NoError(t, err)
	require.Equal(t, s.Salt(), salt)
	sid, err := ir.ReadLong()
	require.NoError(t, err)
	require.Equal(t, s.SessionID(), sid)
	gotID, err := ir.ReadLong()
	require.NoError(t, err)
	require.Equal(t, msgID, gotID)
	seq, err := ir.ReadInt()
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)
	length, err := ir.ReadInt()
	require.NoError(t, err)
	require.EqualValues(t, len(payload), length)
	got, err := ir.ReadRaw(int(length))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPlainEnvelope(t *testing.T) {
	payload := []byte("plain-handshake-data")
	env := EncodePlain(1234567890<<32, payload)

	msgID, got, err := DecodePlain(env)
	require.NoError(t, err)
	require.Equal(t, int64(1234567890)<<32, msgID)
	require.Equal(t, payload, got)

	env[16]++ // declared length
	_, _, err = DecodePlain(env)
	require.ErrorIs(t, err, ErrProtocolStateViolation)
}

func TestFramerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	out := NewFramer(&buf)

	short := bytes.Repeat([]byte{0xaa}, 32)
	long := bytes.Repeat([]byte{0xbb}, 512)
	require.NoError(t, out.WriteFrame(short))
	require.NoError(t, out.WriteFrame(long))

	marker, err := buf.ReadByte()
	require.NoError(t, err)
	require.EqualValues(t, abridgedMarker, marker)

	in := NewFramer(&buf)
	got, err := in.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, short, got)
	got, err = in.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, long, got)
}

func TestFramerRejectsUnaligned(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(&buf)
	require.Error(t, f.WriteFrame([]byte{1, 2, 3}))
}

func gzipPack(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	w := protocol.NewWriter(8 + buf.Len())
	w.WriteUint(tagGzipPacked)
	w.WriteBytes(buf.Bytes())
	return w.Bytes()
}

func ackPayload(ids ...int64) []byte {
	w := protocol.NewWriter(12 + 8*len(ids))
	w.WriteUint(tagMsgsAck)
	w.WriteUint(tagVector)
	w.WriteInt(int32(len(ids)))
	for _, id := range ids {
		w.WriteLong(id)
	}
	return w.Bytes()
}

func TestDispatchMsgsAck(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	var got []int64
	h := &Handlers{OnAcks: func(ids []int64) { got = ids }}

	require.NoError(t, s.Dispatch(100, 0, ackPayload(11, 22, 33), h))
	require.Equal(t, []int64{11, 22, 33}, got)
	require.Empty(t, s.TakeAcks()) // service message, nothing to ack back
}

func TestDispatchBadServerSalt(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	var reported int64
	h := &Handlers{OnSaltChanged: func(salt int64) { reported = salt }}

	w := protocol.NewWriter(32)
	w.WriteUint(tagBadServerSalt)
	w.WriteLong(999) // bad_msg_id
	w.WriteInt(3)    // bad_msg_seqno
	w.WriteInt(48)   // error_code
	w.WriteLong(777) // new_server_salt

	require.NoError(t, s.Dispatch(100, 0, w.Bytes(), h))
	require.EqualValues(t, 777, s.Salt())
	require.EqualValues(t, 777, reported)
}

func TestDispatchNewSessionCreated(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))

	w := protocol.NewWriter(32)
	w.WriteUint(tagNewSessionCreated)
	w.WriteLong(1)
	w.WriteLong(2)
	w.WriteLong(555)

	require.NoError(t, s.Dispatch(100, 0, w.Bytes(), &Handlers{}))
	require.EqualValues(t, 555, s.Salt())
}

func TestDispatchUpdatesTooLong(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	resync := false
	h := &Handlers{OnResyncNeeded: func() { resync = true }}

	w := protocol.NewWriter(4)
	w.WriteUint(tagUpdatesTooLong)
	require.NoError(t, s.Dispatch(100, 0, w.Bytes(), h))
	require.True(t, resync)
}

func TestDispatchUpdateForwarded(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	var gotTag uint32
	var gotBody int32
	h := &Handlers{OnUpdate: func(tag uint32, body *protocol.Reader) error {
		gotTag = tag
		v, err := body.ReadInt()
		gotBody = v
		return err
	}}

	w := protocol.NewWriter(8)
	w.WriteUint(tagUpdateShort)
	w.WriteInt(-55)
	require.NoError(t, s.Dispatch(100, 1, w.Bytes(), h))
	require.Equal(t, tagUpdateShort, gotTag)
	require.EqualValues(t, -55, gotBody)

	// Content message queued for acknowledgement.
	require.Equal(t, []int64{100}, s.TakeAcks())
}

func TestDispatchUnknownTagFatal(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	w := protocol.NewWriter(4)
	w.WriteUint(0xdeadbeef)
	err := s.Dispatch(100, 0, w.Bytes(), &Handlers{})
	require.ErrorIs(t, err, ErrUnknownTag)
}

func TestDispatchContainer(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	var acked []int64
	resync := false
	h := &Handlers{
		OnAcks:         func(ids []int64) { acked = ids },
		OnResyncNeeded: func() { resync = true },
	}

	inner1 := ackPayload(7)
	inner2 := protocol.NewWriter(4)
	inner2.WriteUint(tagUpdatesTooLong)

	w := protocol.NewWriter(128)
	w.WriteUint(tagMsgContainer)
	w.WriteInt(2)
	w.WriteLong(201)
	w.WriteInt(2) // service
	w.WriteInt(int32(len(inner1)))
	w.WriteRaw(inner1)
	w.WriteLong(205)
	w.WriteInt(3) // content
	w.WriteInt(int32(inner2.Len()))
	w.WriteRaw(inner2.Bytes())

	require.NoError(t, s.Dispatch(100, 0, w.Bytes(), h))
	require.Equal(t, []int64{7}, acked)
	require.True(t, resync)
	require.Equal(t, []int64{205}, s.TakeAcks())
}

func TestDispatchContainerTrailingGarbage(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))

	inner := protocol.NewWriter(4)
	inner.WriteUint(tagUpdatesTooLong)

	w := protocol.NewWriter(64)
	w.WriteUint(tagMsgContainer)
	w.WriteInt(1)
	w.WriteLong(201)
	w.WriteInt(0)
	w.WriteInt(int32(inner.Len() + 4)) // declares more than the message holds
	w.WriteRaw(inner.Bytes())
	w.WriteUint(0x11111111)

	require.Error(t, s.Dispatch(100, 0, w.Bytes(), &Handlers{}))
}

func TestDispatchGzip(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	var acked []int64
	h := &Handlers{OnAcks: func(ids []int64) { acked = ids }}

	require.NoError(t, s.Dispatch(100, 0, gzipPack(t, ackPayload(91)), h))
	require.Equal(t, []int64{91}, acked)
}

func TestDispatchNestedGzipRejected(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	nested := gzipPack(t, gzipPack(t, ackPayload(1)))
	err := s.Dispatch(100, 0, nested, &Handlers{})
	require.ErrorIs(t, err, ErrNestedCompression)
}

func TestDispatchRPCResult(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))

	body := protocol.NewWriter(8)
	body.WriteUint(0xcafe0001)
	body.WriteInt(42)

	build := func(resultBody []byte) []byte {
		w := protocol.NewWriter(16 + len(resultBody))
		w.WriteUint(tagRPCResult)
		w.WriteLong(31337)
		w.WriteRaw(resultBody)
		return w.Bytes()
	}

	for name, payload := range map[string][]byte{
		"plain": build(body.Bytes()),
		"gzip":  build(gzipPack(t, body.Bytes())),
	} {
		var gotReq int64
		var gotCtor uint32
		h := &Handlers{OnRPCResult: func(reqMsgID int64, r *protocol.Reader) error {
			gotReq = reqMsgID
			ctor, err := r.ReadUint()
			gotCtor = ctor
			return err
		}}
		require.NoError(t, s.Dispatch(100, 1, payload, h), name)
		require.EqualValues(t, 31337, gotReq, name)
		require.EqualValues(t, 0xcafe0001, gotCtor, name)
	}
	s.TakeAcks()
}

func TestDispatchRPCResultNestedGzipRejected(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))

	body := protocol.NewWriter(8)
	body.WriteUint(0xcafe0001)

	w := protocol.NewWriter(64)
	w.WriteUint(tagRPCResult)
	w.WriteLong(31337)
	w.WriteRaw(gzipPack(t, gzipPack(t, body.Bytes())))

	h := &Handlers{OnRPCResult: func(int64, *protocol.Reader) error {
		t.Fatal("compressed result delivered")
		return nil
	}}
	require.ErrorIs(t, s.Dispatch(100, 1, w.Bytes(), h), ErrNestedCompression)
	s.TakeAcks()
}

func TestAckPayloadDrains(t *testing.T) {
	s := testSession(t, fixedClock(1_700_000_000))
	require.Nil(t, s.AckPayload())

	s.RegisterAck(5)
	s.RegisterAck(9)
	payload := s.AckPayload()
	require.NotNil(t, payload)
	require.Nil(t, s.AckPayload())

	r := protocol.NewReader(payload)
	tag, err := r.ReadUint()
	require.NoError(t, err)
	require.Equal(t, tagMsgsAck, tag)
	ids, err := readLongVector(protocol.NewReader(payload[4:]))
	require.NoError(t, err)
	require.Equal(t, []int64{5, 9}, ids)
}
