package mtproto

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	mathrand "math/rand"
	"time"

	"github.com/udmitri/mtgo/internal/crypto"
	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/protocol"
)

// HandshakeState is the linear key-exchange state machine. There are no
// backward transitions: any validation failure is terminal.
type HandshakeState int

const (
	StateInit HandshakeState = iota
	StatePqSent
	StateDhRequested
	StateClientDhSent
	StateAuthorized
	StateError
)

func (s HandshakeState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePqSent:
		return "PQ_SENT"
	case StateDhRequested:
		return "DH_REQUESTED"
	case StateClientDhSent:
		return "CLIENT_DH_SENT"
	case StateAuthorized:
		return "AUTHORIZED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// HandshakeResult is the negotiated long-term key material.
type HandshakeResult struct {
	AuthKey   [model.AuthKeySize]byte
	AuthKeyID int64
	Salt      int64
	TimeSkew  int32
}

// HandshakeOption configures a Handshake.
type HandshakeOption func(*Handshake)

// WithRandom injects the randomness source (fixed in tests).
func WithRandom(r io.Reader) HandshakeOption {
	return func(h *Handshake) { h.rnd = r }
}

// WithClock injects the wall clock (fixed in tests).
func WithClock(now func() time.Time) HandshakeOption {
	return func(h *Handshake) { h.now = now }
}

// Handshake drives the unauthenticated-to-authenticated key exchange for
// one DC connection. It consumes decoded plain messages and produces the
// next outgoing payload; it never retries by itself.
type Handshake struct {
	dcID  int32
	state HandshakeState
	keys  []*crypto.ServerKey
	rnd   io.Reader
	now   func() time.Time

	nonce       [16]byte
	serverNonce [16]byte
	newNonce    [32]byte

	result HandshakeResult
}

// NewHandshake creates a handshake for dcID trusting the given server keys.
func NewHandshake(dcID int32, keys []*crypto.ServerKey, opts ...HandshakeOption) *Handshake {
	h := &Handshake{
		dcID:  dcID,
		state: StateInit,
		keys:  keys,
		rnd:   rand.Reader,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the current handshake state.
func (h *Handshake) State() HandshakeState {
	return h.state
}

// Result returns the negotiated key material. Valid only in StateAuthorized.
func (h *Handshake) Result() HandshakeResult {
	return h.result
}

// Start generates the client nonce and returns the req_pq payload.
func (h *Handshake) Start() ([]byte, error) {
	if h.state != StateInit {
		return nil, fmt.Errorf("start in state %v: %w", h.state, ErrProtocolStateViolation)
	}
	if _, err := io.ReadFull(h.rnd, h.nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	w := protocol.NewWriter(20)
	w.WriteUint(tagReqPQ)
	w.WriteInt128(h.nonce)
	h.state = StatePqSent
	return w.Bytes(), nil
}

// Handle consumes one plain handshake message and returns the next
// outgoing payload, or nil once authorized. Any error is fatal for the
// handshake and moves it to StateError.
func (h *Handshake) Handle(r *protocol.Reader) ([]byte, error) {
	out, err := h.handle(r)
	if err != nil {
		h.state = StateError
	}
	return out, err
}

func (h *Handshake) handle(r *protocol.Reader) ([]byte, error) {
	tag, err := r.ReadUint()
	if err != nil {
		return nil, fmt.Errorf("reading handshake tag: %w", err)
	}

	switch tag {
	case tagResPQ:
		if h.state != StatePqSent {
			return nil, fmt.Errorf("resPQ in state %v: %w", h.state, ErrProtocolStateViolation)
		}
		return h.handleResPQ(r)
	case tagServerDHParamsOK:
		if h.state != StateDhRequested {
			return nil, fmt.Errorf("server_DH_params_ok in state %v: %w", h.state, ErrProtocolStateViolation)
		}
		return h.handleServerDHParams(r)
	case tagServerDHParamsFail:
		return nil, fmt.Errorf("server rejected DH params: %w", ErrHandshakeFailed)
	case tagDHGenOK:
		if h.state != StateClientDhSent {
			return nil, fmt.Errorf("dh_gen_ok in state %v: %w", h.state, ErrProtocolStateViolation)
		}
		return h.handleDHGenOK(r)
	case tagDHGenRetry, tagDHGenFail:
		return nil, fmt.Errorf("server rejected client DH value (0x%08x): %w", tag, ErrHandshakeFailed)
	default:
		return nil, fmt.Errorf("handshake tag 0x%08x in state %v: %w", tag, h.state, ErrUnknownTag)
	}
}

func (h *Handshake) handleResPQ(r *protocol.Reader) ([]byte, error) {
	nonce, err := r.ReadInt128()
	if err != nil {
		return nil, err
	}
	if nonce != h.nonce {
		return nil, fmt.Errorf("resPQ nonce mismatch: %w", ErrHandshakeFailed)
	}
	if h.serverNonce, err = r.ReadInt128(); err != nil {
		return nil, err
	}
	pqBytes, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	if len(pqBytes) > 8 {
		return nil, fmt.Errorf("pq of %d bytes: %w", len(pqBytes), ErrHandshakeFailed)
	}

	vec, err := r.ReadUint()
	if err != nil {
		return nil, err
	}
	if vec != tagVector {
		return nil, fmt.Errorf("expected fingerprint vector, got 0x%08x: %w", vec, ErrHandshakeFailed)
	}
	count, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	var key *crypto.ServerKey
	for n := int32(0); n < count; n++ {
		fp, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		if key != nil {
			continue
		}
		for _, k := range h.keys {
			if k.Fingerprint == fp {
				key = k
				break
			}
		}
	}
	if key == nil {
		return nil, fmt.Errorf("%d fingerprints announced: %w", count, ErrNoMatchingKey)
	}

	var pq uint64
	for _, b := range pqBytes {
		pq = pq<<8 | uint64(b)
	}
	seed := int64(binary.LittleEndian.Uint64(h.nonce[:8]))
	p, q, err := crypto.FactorizePQ(pq, mathrand.New(mathrand.NewSource(seed)))
	if err != nil {
		return nil, fmt.Errorf("factorizing pq %d: %w", pq, err)
	}
	slog.Debug("pq factorized", "dc", h.dcID, "pq", pq, "p", p, "q", q)

	if _, err := io.ReadFull(h.rnd, h.newNonce[:]); err != nil {
		return nil, fmt.Errorf("generating new nonce: %w", err)
	}

	inner := protocol.NewWriter(96)
	inner.WriteUint(tagPQInnerData)
	inner.WriteBytes(pqBytes)
	inner.WriteBytes(beBytes(p))
	inner.WriteBytes(beBytes(q))
	inner.WriteInt128(h.nonce)
	inner.WriteInt128(h.serverNonce)
	inner.WriteInt256(h.newNonce)

	encrypted, err := crypto.RSAEncryptPadded(inner.Bytes(), key, h.rnd)
	crypto.Wipe(inner.Bytes())
	if err != nil {
		return nil, fmt.Errorf("encrypting inner data: %w", err)
	}

	w := protocol.NewWriter(512)
	w.WriteUint(tagReqDHParams)
	w.WriteInt128(h.nonce)
	w.WriteInt128(h.serverNonce)
	w.WriteBytes(beBytes(p))
	w.WriteBytes(beBytes(q))
	w.WriteLong(key.Fingerprint)
	w.WriteBytes(encrypted)

	h.state = StateDhRequested
	return w.Bytes(), nil
}

func (h *Handshake) handleServerDHParams(r *protocol.Reader) ([]byte, error) {
	if err := h.checkNonces(r, "server_DH_params_ok"); err != nil {
		return nil, err
	}
	encrypted, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}

	key, iv := crypto.TmpAESKeyIV(h.serverNonce, h.newNonce, false)
	defer crypto.Wipe(key)
	defer crypto.Wipe(iv)

	answer, err := crypto.IGEDecrypt(key, iv, encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypting DH answer: %w", err)
	}
	defer crypto.Wipe(answer)
	if len(answer) < 20 {
		return nil, fmt.Errorf("DH answer of %d bytes: %w", len(answer), ErrHandshakeFailed)
	}

	ir := protocol.NewReader(answer[20:])
	tag, err := ir.ReadUint()
	if err != nil {
		return nil, err
	}
	if tag != tagServerDHInnerData {
		return nil, fmt.Errorf("expected server_DH_inner_data, got 0x%08x: %w", tag, ErrHandshakeFailed)
	}
	if err := h.checkNonces(ir, "server_DH_inner_data"); err != nil {
		return nil, err
	}
	g, err := ir.ReadInt()
	if err != nil {
		return nil, err
	}
	prime, err := ir.ReadBigInt()
	if err != nil {
		return nil, err
	}
	gA, err := ir.ReadBigInt()
	if err != nil {
		return nil, err
	}
	serverTime, err := ir.ReadInt()
	if err != nil {
		return nil, err
	}

	// Byte-exact integrity check: the SHA-1 prefix must cover precisely
	// the consumed inner data, no more and no less.
	consumed := ir.Pos()
	digest := crypto.SHA1(answer[20 : 20+consumed])
	if subtle.ConstantTimeCompare(digest, answer[:20]) != 1 {
		return nil, fmt.Errorf("DH answer digest mismatch: %w", ErrHandshakeFailed)
	}

	if err := crypto.ValidateDHParams(prime, g); err != nil {
		return nil, fmt.Errorf("validating DH modulus: %w", err)
	}
	if err := crypto.ValidateDHValue(prime, gA); err != nil {
		return nil, fmt.Errorf("validating g_a: %w", err)
	}

	h.result.TimeSkew = serverTime - int32(h.now().Unix())

	bBytes := make([]byte, 256)
	if _, err := io.ReadFull(h.rnd, bBytes); err != nil {
		return nil, fmt.Errorf("generating DH secret: %w", err)
	}
	b := new(big.Int).SetBytes(bBytes)
	crypto.Wipe(bBytes)

	gB := new(big.Int).Exp(big.NewInt(int64(g)), b, prime)
	if err := crypto.ValidateDHValue(prime, gB); err != nil {
		return nil, fmt.Errorf("validating g_b: %w", err)
	}
	shared := new(big.Int).Exp(gA, b, prime)
	shared.FillBytes(h.result.AuthKey[:])

	inner := protocol.NewWriter(320)
	inner.WriteUint(tagClientDHInnerData)
	inner.WriteInt128(h.nonce)
	inner.WriteInt128(h.serverNonce)
	inner.WriteLong(0) // retry_id
	inner.WriteBigInt(gB)

	payload := inner.Bytes()
	withHash := make([]byte, 0, 20+len(payload)+16)
	withHash = append(withHash, crypto.SHA1(payload)...)
	withHash = append(withHash, payload...)
	pad := make([]byte, (16-len(withHash)%16)%16)
	if _, err := io.ReadFull(h.rnd, pad); err != nil {
		return nil, fmt.Errorf("generating padding: %w", err)
	}
	withHash = append(withHash, pad...)
	defer crypto.Wipe(withHash)

	// Encrypt with the client-direction pair, never the decrypt pair.
	sendKey, sendIV := crypto.TmpAESKeyIV(h.serverNonce, h.newNonce, true)
	defer crypto.Wipe(sendKey)
	defer crypto.Wipe(sendIV)
	encryptedData, err := crypto.IGEEncrypt(sendKey, sendIV, withHash)
	if err != nil {
		return nil, fmt.Errorf("encrypting client DH data: %w", err)
	}

	w := protocol.NewWriter(64 + len(encryptedData))
	w.WriteUint(tagSetClientDHParams)
	w.WriteInt128(h.nonce)
	w.WriteInt128(h.serverNonce)
	w.WriteBytes(encryptedData)

	h.state = StateClientDhSent
	return w.Bytes(), nil
}

func (h *Handshake) handleDHGenOK(r *protocol.Reader) ([]byte, error) {
	if err := h.checkNonces(r, "dh_gen_ok"); err != nil {
		return nil, err
	}
	confirm, err := r.ReadInt128()
	if err != nil {
		return nil, err
	}

	keyDigest := crypto.SHA1(h.result.AuthKey[:])
	defer crypto.Wipe(keyDigest)

	expect := crypto.SHA1(h.newNonce[:], []byte{1}, keyDigest[:8])
	if subtle.ConstantTimeCompare(confirm[:], expect[4:20]) != 1 {
		return nil, fmt.Errorf("new nonce hash mismatch: %w", ErrHandshakeFailed)
	}

	h.result.AuthKeyID = 0
	for i := 0; i < 8; i++ {
		h.result.AuthKeyID |= int64(keyDigest[12+i]) << (8 * i)
	}
	h.result.Salt = int64(binary.LittleEndian.Uint64(h.serverNonce[:8]) ^
		binary.LittleEndian.Uint64(h.newNonce[:8]))

	h.state = StateAuthorized
	slog.Info("handshake authorized", "dc", h.dcID, "key_id", h.result.AuthKeyID)
	return nil, nil
}

func (h *Handshake) checkNonces(r *protocol.Reader, what string) error {
	nonce, err := r.ReadInt128()
	if err != nil {
		return err
	}
	serverNonce, err := r.ReadInt128()
	if err != nil {
		return err
	}
	if nonce != h.nonce || serverNonce != h.serverNonce {
		return fmt.Errorf("%s nonce mismatch: %w", what, ErrHandshakeFailed)
	}
	return nil
}

// beBytes encodes v big-endian with no leading zeros.
func beBytes(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for buf[i] == 0 {
		i++
	}
	return bytes.Clone(buf[i:])
}
