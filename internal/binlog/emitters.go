package binlog

import (
	"bytes"
	"fmt"

	"github.com/udmitri/mtgo/internal/crypto"
	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/protocol"
)

// The Do* helpers are the only way new events enter the log. Each one
// first checks whether the mutation is already reflected in current state
// and skips emission entirely when so: the log only ever records changes,
// which is what keeps replay deterministic and the file compact.

// keyFingerprint is the low 8 bytes of SHA-1 over the auth key,
// little-endian.
func keyFingerprint(key []byte) int64 {
	digest := crypto.SHA1(key)
	var fp int64
	for i := 0; i < 8; i++ {
		fp |= int64(digest[12+i]) << (8 * i)
	}
	return fp
}

func (s *Store) newEvent(tag uint32) *protocol.Writer {
	w := protocol.NewWriter(64)
	w.WriteUint(tag)
	return w
}

// DoSetAuthKey records a DC's long-term auth key.
func (s *Store) DoSetAuthKey(dcID int32, key []byte) error {
	if len(key) != model.AuthKeySize {
		return fmt.Errorf("auth key must be %d bytes, got %d", model.AuthKeySize, len(key))
	}
	if dc, ok := s.ent.DCs[dcID]; ok && dc.HasKey && bytes.Equal(dc.AuthKey[:], key) {
		return nil
	}
	w := s.newEvent(TagAuthKey)
	w.WriteInt(dcID)
	w.WriteRaw(key)
	return s.emit(w)
}

// DoDeleteAuthKey wipes a DC's auth key.
func (s *Store) DoDeleteAuthKey(dcID int32) error {
	dc, ok := s.ent.DCs[dcID]
	if !ok || !dc.HasKey {
		return nil
	}
	w := s.newEvent(TagDeleteAuthKey)
	w.WriteInt(dcID)
	return s.emit(w)
}

// DoDCOption records a DC endpoint.
func (s *Store) DoDCOption(dcID int32, host string, port int32) error {
	if dc, ok := s.ent.DCs[dcID]; ok && dc.Host == host && dc.Port == port {
		return nil
	}
	w := s.newEvent(TagDCOption)
	w.WriteInt(dcID)
	w.WriteString(host)
	w.WriteInt(port)
	return s.emit(w)
}

// DoSetWorkingDC records the primary DC.
func (s *Store) DoSetWorkingDC(dcID int32) error {
	if s.ent.WorkingDC == dcID {
		return nil
	}
	w := s.newEvent(TagDefaultDC)
	w.WriteInt(dcID)
	return s.emit(w)
}

// DoSetDCSalt records a DC's current server salt.
func (s *Store) DoSetDCSalt(dcID int32, salt int64) error {
	if dc, ok := s.ent.DCs[dcID]; ok && dc.Salt == salt {
		return nil
	}
	w := s.newEvent(TagDCSalt)
	w.WriteInt(dcID)
	w.WriteLong(salt)
	return s.emit(w)
}

// DoSetOurID records the logged-in user's id.
func (s *Store) DoSetOurID(id int32) error {
	if s.ent.OurID == id {
		return nil
	}
	w := s.newEvent(TagOurID)
	w.WriteInt(id)
	return s.emit(w)
}

// DoSetDHParams records the global secret-chat DH parameters.
func (s *Store) DoSetDHParams(prime []byte, g, version int32) error {
	if dh := s.ent.DH; dh != nil && dh.Version == version && dh.G == g && bytes.Equal(dh.Prime, prime) {
		return nil
	}
	w := s.newEvent(TagDHParams)
	w.WriteBytes(prime)
	w.WriteInt(g)
	w.WriteInt(version)
	return s.emit(w)
}

// DoSetPts advances the pts counter. Equal is a dedup no-op; going
// backwards is ErrStaleVersion.
func (s *Store) DoSetPts(pts int32) error { return s.doCounter(TagSetPts, s.ent.State.Pts, pts) }

// DoSetQts advances the qts counter.
func (s *Store) DoSetQts(qts int32) error { return s.doCounter(TagSetQts, s.ent.State.Qts, qts) }

// DoSetSeq advances the seq counter.
func (s *Store) DoSetSeq(seq int32) error { return s.doCounter(TagSetSeq, s.ent.State.Seq, seq) }

// DoSetDate advances the server date watermark.
func (s *Store) DoSetDate(date int32) error {
	if date <= s.ent.State.Date {
		return nil
	}
	w := s.newEvent(TagSetDate)
	w.WriteInt(date)
	return s.emit(w)
}

func (s *Store) doCounter(tag uint32, current, v int32) error {
	if v == current {
		return nil
	}
	if v < current {
		return fmt.Errorf("%s %d -> %d: %w", tagName(tag), current, v, ErrStaleVersion)
	}
	w := s.newEvent(tag)
	w.WriteInt(v)
	return s.emit(w)
}

// DoNewUser records a fully described user.
func (s *Store) DoNewUser(id int32, first, last string, accessHash int64, phone string, contact bool) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: id}); ok && p.Created() {
		u := p.User
		if u.FirstName == first && u.LastName == last && u.AccessHash == accessHash &&
			u.Phone == phone && u.Contact == contact && p.Flags&model.PeerFlagDeleted == 0 {
			return nil
		}
	}
	w := s.newEvent(TagNewUser)
	w.WriteInt(id)
	w.WriteString(first)
	w.WriteString(last)
	w.WriteLong(accessHash)
	w.WriteString(phone)
	w.WriteInt(boolInt(contact))
	return s.emit(w)
}

// DoDeleteUser marks a user deleted.
func (s *Store) DoDeleteUser(id int32) error {
	p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: id})
	if !ok || p.Flags&model.PeerFlagDeleted != 0 {
		return nil
	}
	w := s.newEvent(TagDeleteUser)
	w.WriteInt(id)
	return s.emit(w)
}

// DoSetUserName records a user's display name.
func (s *Store) DoSetUserName(id int32, first, last string) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: id}); ok {
		if p.User.FirstName == first && p.User.LastName == last {
			return nil
		}
	}
	w := s.newEvent(TagSetUserName)
	w.WriteInt(id)
	w.WriteString(first)
	w.WriteString(last)
	return s.emit(w)
}

// DoSetUserRealName records a user's address-book name.
func (s *Store) DoSetUserRealName(id int32, first, last string) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: id}); ok {
		if p.User.RealFirstName == first && p.User.RealLastName == last {
			return nil
		}
	}
	w := s.newEvent(TagSetUserRealName)
	w.WriteInt(id)
	w.WriteString(first)
	w.WriteString(last)
	return s.emit(w)
}

// DoSetUserPhone records a user's phone number.
func (s *Store) DoSetUserPhone(id int32, phone string) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: id}); ok && p.User.Phone == phone {
		return nil
	}
	w := s.newEvent(TagSetUserPhone)
	w.WriteInt(id)
	w.WriteString(phone)
	return s.emit(w)
}

// DoSetUserAccessHash records a user's access hash.
func (s *Store) DoSetUserAccessHash(id int32, hash int64) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: id}); ok && p.User.AccessHash == hash {
		return nil
	}
	w := s.newEvent(TagSetUserAccessHash)
	w.WriteInt(id)
	w.WriteLong(hash)
	return s.emit(w)
}

// DoSetUserContact records the contact flag.
func (s *Store) DoSetUserContact(id int32, contact bool) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: id}); ok && p.User.Contact == contact {
		return nil
	}
	w := s.newEvent(TagSetUserContact)
	w.WriteInt(id)
	w.WriteInt(boolInt(contact))
	return s.emit(w)
}

// DoSetUserBlocked records the blocked flag.
func (s *Store) DoSetUserBlocked(id int32, blocked bool) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: id}); ok && p.User.Blocked == blocked {
		return nil
	}
	w := s.newEvent(TagSetUserBlocked)
	w.WriteInt(id)
	w.WriteInt(boolInt(blocked))
	return s.emit(w)
}

// DoSetUserPhoto records a user's profile photo id.
func (s *Store) DoSetUserPhoto(id int32, photoID int64) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: id}); ok && p.User.PhotoID == photoID {
		return nil
	}
	w := s.newEvent(TagSetUserPhoto)
	w.WriteInt(id)
	w.WriteLong(photoID)
	return s.emit(w)
}

// DoChatCreate records a fully described chat.
func (s *Store) DoChatCreate(id int32, title string, usersNum, date, version int32) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerChat, ID: id}); ok && p.Created() {
		c := p.Chat
		if c.Title == title && c.UsersNum == usersNum && c.Date == date && c.Version == version {
			return nil
		}
	}
	w := s.newEvent(TagChatCreate)
	w.WriteInt(id)
	w.WriteString(title)
	w.WriteInt(usersNum)
	w.WriteInt(date)
	w.WriteInt(version)
	return s.emit(w)
}

// DoChatSetTitle records a chat title change.
func (s *Store) DoChatSetTitle(id int32, title string) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerChat, ID: id}); ok && p.Chat.Title == title {
		return nil
	}
	w := s.newEvent(TagChatSetTitle)
	w.WriteInt(id)
	w.WriteString(title)
	return s.emit(w)
}

// DoChatSetPhoto records a chat photo change.
func (s *Store) DoChatSetPhoto(id int32, photoID int64) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerChat, ID: id}); ok && p.Chat.PhotoID == photoID {
		return nil
	}
	w := s.newEvent(TagChatSetPhoto)
	w.WriteInt(id)
	w.WriteLong(photoID)
	return s.emit(w)
}

// DoChatAddParticipant appends one participant; version must be strictly
// newer than the stored one.
func (s *Store) DoChatAddParticipant(id, version, userID, inviterID, date int32) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerChat, ID: id}); ok {
		if version <= p.Chat.Version {
			return fmt.Errorf("chat %d version %d -> %d: %w", id, p.Chat.Version, version, ErrStaleVersion)
		}
	}
	w := s.newEvent(TagChatAddParticipant)
	w.WriteInt(id)
	w.WriteInt(version)
	w.WriteInt(userID)
	w.WriteInt(inviterID)
	w.WriteInt(date)
	return s.emit(w)
}

// DoChatDelParticipant removes one participant.
func (s *Store) DoChatDelParticipant(id, version, userID int32) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerChat, ID: id}); ok {
		if version <= p.Chat.Version {
			return fmt.Errorf("chat %d version %d -> %d: %w", id, p.Chat.Version, version, ErrStaleVersion)
		}
	}
	w := s.newEvent(TagChatDelParticipant)
	w.WriteInt(id)
	w.WriteInt(version)
	w.WriteInt(userID)
	return s.emit(w)
}

// DoChatSetParticipants replaces the whole participant list.
func (s *Store) DoChatSetParticipants(id, version int32, parts []model.ChatParticipant) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerChat, ID: id}); ok {
		if version <= p.Chat.Version {
			return fmt.Errorf("chat %d version %d -> %d: %w", id, p.Chat.Version, version, ErrStaleVersion)
		}
	}
	w := s.newEvent(TagChatSetParticipants)
	w.WriteInt(id)
	w.WriteInt(version)
	w.WriteInt(int32(len(parts)))
	for _, cp := range parts {
		w.WriteInt(cp.UserID)
		w.WriteInt(cp.InviterID)
		w.WriteInt(cp.Date)
	}
	return s.emit(w)
}

// DoEncrChatRequest records an incoming secret chat request.
func (s *Store) DoEncrChatRequest(id int32, accessHash int64, date, adminID, userID int32, gKey, nonce []byte) error {
	return s.doEncrChatInit(TagEncrChatRequest, id, accessHash, date, adminID, userID, gKey, nonce)
}

// DoEncrChatWaiting records an outgoing secret chat awaiting acceptance.
func (s *Store) DoEncrChatWaiting(id int32, accessHash int64, date, adminID, userID int32, gKey, nonce []byte) error {
	return s.doEncrChatInit(TagEncrChatWaiting, id, accessHash, date, adminID, userID, gKey, nonce)
}

func (s *Store) doEncrChatInit(tag uint32, id int32, accessHash int64, date, adminID, userID int32, gKey, nonce []byte) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerSecretChat, ID: id}); ok && p.Created() {
		sc := p.SecretChat
		if sc.AccessHash == accessHash && sc.Date == date &&
			bytes.Equal(sc.GKey, gKey) && bytes.Equal(sc.Nonce, nonce) {
			return nil
		}
	}
	w := s.newEvent(tag)
	w.WriteInt(id)
	w.WriteLong(accessHash)
	w.WriteInt(date)
	w.WriteInt(adminID)
	w.WriteInt(userID)
	w.WriteBytes(gKey)
	w.WriteBytes(nonce)
	return s.emit(w)
}

// DoEncrChatSetKey records the established secret chat key.
func (s *Store) DoEncrChatSetKey(id int32, key []byte, fingerprint int64) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerSecretChat, ID: id}); ok {
		sc := p.SecretChat
		if sc.KeyFingerprint == fingerprint && bytes.Equal(sc.Key, key) {
			return nil
		}
	}
	w := s.newEvent(TagEncrChatSetKey)
	w.WriteInt(id)
	w.WriteBytes(key)
	w.WriteLong(fingerprint)
	return s.emit(w)
}

// DoEncrChatSetState records a secret chat state transition.
func (s *Store) DoEncrChatSetState(id int32, state model.SecretChatState) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerSecretChat, ID: id}); ok && p.SecretChat.State == state {
		return nil
	}
	w := s.newEvent(TagEncrChatSetState)
	w.WriteInt(id)
	w.WriteInt(int32(state))
	return s.emit(w)
}

// DoEncrChatDelete deletes a secret chat, wiping its key material.
func (s *Store) DoEncrChatDelete(id int32) error {
	if p, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerSecretChat, ID: id}); ok &&
		p.SecretChat.State == model.SecretChatDeleted {
		return nil
	}
	w := s.newEvent(TagEncrChatDelete)
	w.WriteInt(id)
	return s.emit(w)
}

// MessageArgs carries the common arguments of the message emitters.
type MessageArgs struct {
	ID        int64
	Flags     int32
	FromID    int32
	To        model.PeerID
	Date      int32
	FwdFromID int32
	FwdDate   int32
}

func (a MessageArgs) head() messageHead {
	return messageHead{
		id:        a.ID,
		flags:     a.Flags,
		fromID:    a.FromID,
		to:        a.To,
		date:      a.Date,
		fwdFromID: a.FwdFromID,
		fwdDate:   a.FwdDate,
	}
}

// messageCreated reports whether the message already exists fully created
// (the dedup rule for all create-message emitters).
func (s *Store) messageCreated(id int64) bool {
	m, ok := s.ent.LookupMessage(id)
	return ok && m.Created()
}

// DoCreateMessageText records a server-confirmed text message.
func (s *Store) DoCreateMessageText(a MessageArgs, text string) error {
	if s.messageCreated(a.ID) {
		return nil
	}
	w := s.newEvent(TagCreateMessageText)
	writeMessageHead(w, a.head())
	w.WriteString(text)
	return s.emit(w)
}

// DoSendMessageText records an outgoing text message under its
// client-random id; it stays pending until DoMessageSent rekeys it.
func (s *Store) DoSendMessageText(a MessageArgs, text string) error {
	if s.messageCreated(a.ID) {
		return nil
	}
	w := s.newEvent(TagSendMessageText)
	writeMessageHead(w, a.head())
	w.WriteString(text)
	return s.emit(w)
}

// DoCreateMessageMedia records a media message.
func (s *Store) DoCreateMessageMedia(a MessageArgs, text string, media model.Media) error {
	if s.messageCreated(a.ID) {
		return nil
	}
	w := s.newEvent(TagCreateMessageMedia)
	writeMessageHead(w, a.head())
	w.WriteString(text)
	writeMedia(w, media)
	return s.emit(w)
}

// DoCreateMessageService records a service message.
func (s *Store) DoCreateMessageService(a MessageArgs, action model.ServiceAction) error {
	if s.messageCreated(a.ID) {
		return nil
	}
	w := s.newEvent(TagCreateMessageService)
	writeMessageHead(w, a.head())
	writeAction(w, action)
	return s.emit(w)
}

// DoMessageSent rekeys a pending message to its server-assigned id.
func (s *Store) DoMessageSent(oldID int64, newID int32) error {
	if _, ok := s.ent.LookupMessage(oldID); !ok {
		if s.messageCreated(int64(newID)) {
			return nil
		}
	}
	w := s.newEvent(TagMessageSent)
	w.WriteLong(oldID)
	w.WriteInt(newID)
	return s.emit(w)
}

// DoClearMessageUnread clears a message's unread flag.
func (s *Store) DoClearMessageUnread(id int64) error {
	if m, ok := s.ent.LookupMessage(id); ok && m.Flags&model.MessageFlagUnread == 0 {
		return nil
	}
	w := s.newEvent(TagClearMessageUnread)
	w.WriteLong(id)
	return s.emit(w)
}

// DoDeleteMessage removes a message.
func (s *Store) DoDeleteMessage(id int64) error {
	if _, ok := s.ent.LookupMessage(id); !ok {
		return nil
	}
	w := s.newEvent(TagDeleteMessage)
	w.WriteLong(id)
	return s.emit(w)
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
