package model

// Message flags.
const (
	MessageFlagCreated = 1 << iota
	MessageFlagPending
	MessageFlagEncrypted
	MessageFlagDeleted
	MessageFlagEmpty
	MessageFlagUnread
	MessageFlagOut
)

// Media is the closed set of message payload variants.
type Media interface{ mediaKind() string }

type (
	// MediaNone marks a plain text message.
	MediaNone struct{}
	// MediaPhoto is a photo descriptor.
	MediaPhoto struct{ PhotoID int64 }
	// MediaVideo is a video descriptor.
	MediaVideo struct{ VideoID int64 }
	// MediaAudio is an audio descriptor.
	MediaAudio struct{ AudioID int64 }
	// MediaDocument is a document descriptor.
	MediaDocument struct{ DocumentID int64 }
	// MediaGeo is a geo point.
	MediaGeo struct{ Latitude, Longitude float64 }
	// MediaContact is a shared contact card.
	MediaContact struct {
		Phone     string
		FirstName string
		LastName  string
		UserID    int32
	}
	// MediaUnsupported is a payload the client cannot decode.
	MediaUnsupported struct{}
	// MediaEncrypted is an encrypted-chat attachment (photo/video/audio/
	// document before decryption).
	MediaEncrypted struct {
		Kind string // "photo", "video", "audio", "document"
		Size int32
	}
)

func (MediaNone) mediaKind() string        { return "none" }
func (MediaPhoto) mediaKind() string       { return "photo" }
func (MediaVideo) mediaKind() string       { return "video" }
func (MediaAudio) mediaKind() string       { return "audio" }
func (MediaDocument) mediaKind() string    { return "document" }
func (MediaGeo) mediaKind() string         { return "geo" }
func (MediaContact) mediaKind() string     { return "contact" }
func (MediaUnsupported) mediaKind() string { return "unsupported" }
func (MediaEncrypted) mediaKind() string   { return "encrypted" }

// ServiceAction is the closed set of service-message payloads.
type ServiceAction interface{ actionKind() string }

type (
	// ActionChatCreated is emitted when a chat is created.
	ActionChatCreated struct {
		Title   string
		UserIDs []int32
	}
	// ActionTitleChanged carries the chat's new title.
	ActionTitleChanged struct{ Title string }
	// ActionPhotoChanged marks a chat photo change (or deletion).
	ActionPhotoChanged struct{ Deleted bool }
	// ActionUserAdded names a user joining a chat.
	ActionUserAdded struct{ UserID int32 }
	// ActionUserRemoved names a user removed from a chat.
	ActionUserRemoved struct{ UserID int32 }
)

func (ActionChatCreated) actionKind() string  { return "chat_created" }
func (ActionTitleChanged) actionKind() string { return "title_changed" }
func (ActionPhotoChanged) actionKind() string { return "photo_changed" }
func (ActionUserAdded) actionKind() string    { return "user_added" }
func (ActionUserRemoved) actionKind() string  { return "user_removed" }

// Message is one logical message. IDs are client-random int64 while the
// message is pending and the server-assigned id (widened int32) once
// confirmed; RekeyMessage moves a message between the two.
type Message struct {
	ID     int64
	Flags  int32
	FromID int32
	To     PeerID
	Date   int32

	Text   string
	Media  Media
	Action ServiceAction

	// Forward origin, zero when not forwarded.
	FwdFromID int32
	FwdDate   int32

	// Per-conversation doubly linked list, owned by the Store.
	prev, next *Message
}

// Created reports whether the message was explicitly created (not a stub).
func (m *Message) Created() bool { return m.Flags&MessageFlagCreated != 0 }

// Pending reports whether the message still awaits server confirmation.
func (m *Message) Pending() bool { return m.Flags&MessageFlagPending != 0 }

// Service reports whether the message carries a service action.
func (m *Message) Service() bool { return m.Action != nil }
