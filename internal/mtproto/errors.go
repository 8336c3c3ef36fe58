package mtproto

import "errors"

var (
	// ErrHandshakeFailed is any fatal key-exchange failure. The connection
	// must be closed; retrying means a fresh handshake with new nonces.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrProtocolStateViolation is a message arriving in a state that does
	// not expect it. Fatal, never silently ignored.
	ErrProtocolStateViolation = errors.New("protocol state violation")

	// ErrNoMatchingKey means none of the server-announced fingerprints
	// matches a known server public key.
	ErrNoMatchingKey = errors.New("no matching server key")

	// ErrMacMismatch is a message-key integrity failure on decrypt.
	ErrMacMismatch = errors.New("message key mismatch")

	// ErrUnknownTag is an unrecognized response type tag. Connection-fatal:
	// anything following it in a container cannot be framed.
	ErrUnknownTag = errors.New("unknown response tag")

	// ErrNestedCompression rejects gzip-packed inside gzip-packed.
	ErrNestedCompression = errors.New("nested compression not supported")

	// ErrBadMessageTime rejects messages whose embedded time falls outside
	// the replay window.
	ErrBadMessageTime = errors.New("message time outside accepted window")
)
