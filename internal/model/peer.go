package model

import "github.com/udmitri/mtgo/internal/crypto"

// PeerKind discriminates the peer variants.
type PeerKind int32

const (
	PeerUser PeerKind = iota + 1
	PeerChat
	PeerSecretChat
)

func (k PeerKind) String() string {
	switch k {
	case PeerUser:
		return "USER"
	case PeerChat:
		return "CHAT"
	case PeerSecretChat:
		return "SECRET_CHAT"
	default:
		return "UNKNOWN"
	}
}

// PeerID is the composite peer key. Immutable after creation.
type PeerID struct {
	Kind PeerKind
	ID   int32
}

// Peer flags.
const (
	PeerFlagCreated = 1 << iota
	PeerFlagDeleted
)

// Peer is a user, chat or secret chat. Only the variant matching ID.Kind
// is populated. Fields other than the id and print name must not be
// trusted until PeerFlagCreated is set.
type Peer struct {
	ID        PeerID
	Flags     int32
	PrintName string

	User       *User
	Chat       *Chat
	SecretChat *SecretChat
}

// Created reports whether the peer has been fully created (not just
// referenced as a stub).
func (p *Peer) Created() bool {
	return p.Flags&PeerFlagCreated != 0
}

// OnlineStatus is a user's presence with its expiry timestamp.
type OnlineStatus struct {
	Online int32 // 1 online, -1 offline, 0 unknown
	When   int32
}

// User holds the user-variant fields.
type User struct {
	FirstName     string
	LastName      string
	RealFirstName string
	RealLastName  string
	Phone         string
	AccessHash    int64
	Contact       bool
	Blocked       bool
	PhotoID       int64
	Status        OnlineStatus
}

// ChatParticipant is one member of a chat's participant list.
type ChatParticipant struct {
	UserID    int32
	InviterID int32
	Date      int32
}

// Chat holds the chat-variant fields. Participant mutations are only
// accepted with a strictly greater version.
type Chat struct {
	Title        string
	Version      int32
	UsersNum     int32
	Date         int32
	PhotoID      int64
	Participants []ChatParticipant
}

// SecretChatState is the secret chat lifecycle.
type SecretChatState int32

const (
	SecretChatNone SecretChatState = iota
	SecretChatWaiting
	SecretChatRequest
	SecretChatOK
	SecretChatDeleted
)

func (s SecretChatState) String() string {
	switch s {
	case SecretChatNone:
		return "NONE"
	case SecretChatWaiting:
		return "WAITING"
	case SecretChatRequest:
		return "REQUEST"
	case SecretChatOK:
		return "OK"
	case SecretChatDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// SecretChat holds the secret-chat-variant fields, including the DH key
// material. The byte buffers are wiped before being dropped.
type SecretChat struct {
	State          SecretChatState
	UserID         int32
	AdminID        int32
	AccessHash     int64
	Date           int32
	TTL            int32
	KeyFingerprint int64
	Key            []byte // 256 bytes once established
	GKey           []byte
	Nonce          []byte
}

// WipeKeys zeroes and drops all key material. Must be called before a
// secret chat is deleted or its keys are superseded.
func (sc *SecretChat) WipeKeys() {
	crypto.Wipe(sc.Key)
	crypto.Wipe(sc.GKey)
	crypto.Wipe(sc.Nonce)
	sc.Key = nil
	sc.GKey = nil
	sc.Nonce = nil
	sc.KeyFingerprint = 0
}
