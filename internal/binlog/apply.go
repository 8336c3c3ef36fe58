package binlog

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/udmitri/mtgo/internal/crypto"
	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/protocol"
)

// apply dispatches one decoded event to its handler.
func (s *Store) apply(tag uint32, r *protocol.Reader) error {
	switch tag {
	case TagStart:
		return s.applyStart(r)
	case TagDCOption:
		return s.applyDCOption(r)
	case TagAuthKey:
		return s.applyAuthKey(r)
	case TagDeleteAuthKey:
		return s.applyDeleteAuthKey(r)
	case TagDefaultDC:
		return s.applyDefaultDC(r)
	case TagDCSalt:
		return s.applyDCSalt(r)
	case TagOurID:
		return s.applyOurID(r)
	case TagDHParams:
		return s.applyDHParams(r)
	case TagSetPts:
		return s.applyCounter(r, &s.ent.State.Pts)
	case TagSetQts:
		return s.applyCounter(r, &s.ent.State.Qts)
	case TagSetSeq:
		return s.applyCounter(r, &s.ent.State.Seq)
	case TagSetDate:
		return s.applyDate(r)
	case TagNewUser:
		return s.applyNewUser(r)
	case TagDeleteUser:
		return s.applyDeleteUser(r)
	case TagSetUserName:
		return s.applySetUserName(r)
	case TagSetUserRealName:
		return s.applySetUserRealName(r)
	case TagSetUserPhone:
		return s.applySetUserPhone(r)
	case TagSetUserAccessHash:
		return s.applySetUserAccessHash(r)
	case TagSetUserContact:
		return s.applySetUserContact(r)
	case TagSetUserBlocked:
		return s.applySetUserBlocked(r)
	case TagSetUserPhoto:
		return s.applySetUserPhoto(r)
	case TagChatCreate:
		return s.applyChatCreate(r)
	case TagChatSetTitle:
		return s.applyChatSetTitle(r)
	case TagChatSetPhoto:
		return s.applyChatSetPhoto(r)
	case TagChatAddParticipant:
		return s.applyChatAddParticipant(r)
	case TagChatDelParticipant:
		return s.applyChatDelParticipant(r)
	case TagChatSetParticipants:
		return s.applyChatSetParticipants(r)
	case TagEncrChatRequest:
		return s.applyEncrChatRequest(r)
	case TagEncrChatWaiting:
		return s.applyEncrChatWaiting(r)
	case TagEncrChatSetKey:
		return s.applyEncrChatSetKey(r)
	case TagEncrChatSetState:
		return s.applyEncrChatSetState(r)
	case TagEncrChatDelete:
		return s.applyEncrChatDelete(r)
	case TagCreateMessageText:
		return s.applyCreateMessageText(r)
	case TagSendMessageText:
		return s.applySendMessageText(r)
	case TagCreateMessageMedia:
		return s.applyCreateMessageMedia(r)
	case TagCreateMessageService:
		return s.applyCreateMessageService(r)
	case TagMessageSent:
		return s.applyMessageSent(r)
	case TagClearMessageUnread:
		return s.applyClearMessageUnread(r)
	case TagDeleteMessage:
		return s.applyDeleteMessage(r)
	default:
		return fmt.Errorf("unknown event tag 0x%08x", tag)
	}
}

func (s *Store) applyStart(r *protocol.Reader) error {
	magic, err := r.ReadUint()
	if err != nil {
		return err
	}
	if magic != logMagic {
		return fmt.Errorf("bad log magic 0x%08x", magic)
	}
	return nil
}

func (s *Store) applyDCOption(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	host, err := r.ReadString()
	if err != nil {
		return err
	}
	port, err := r.ReadInt()
	if err != nil {
		return err
	}

	dc, ok := s.ent.DCs[id]
	if !ok {
		dc = &model.DC{ID: id}
		s.ent.DCs[id] = dc
	}
	dc.Host = host
	dc.Port = port
	return nil
}

func (s *Store) applyAuthKey(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	key, err := r.ReadRaw(model.AuthKeySize)
	if err != nil {
		return err
	}

	dc, ok := s.ent.DCs[id]
	if !ok {
		dc = &model.DC{ID: id}
		s.ent.DCs[id] = dc
	}
	copy(dc.AuthKey[:], key)
	dc.KeyFingerprint = keyFingerprint(key)
	dc.HasKey = true
	return nil
}

func (s *Store) applyDeleteAuthKey(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	dc, ok := s.ent.DCs[id]
	if !ok {
		return nil
	}
	crypto.Wipe(dc.AuthKey[:])
	dc.KeyFingerprint = 0
	dc.HasKey = false
	dc.Authorized = false
	return nil
}

func (s *Store) applyDefaultDC(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	s.ent.WorkingDC = id
	return nil
}

func (s *Store) applyDCSalt(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	salt, err := r.ReadLong()
	if err != nil {
		return err
	}
	dc, ok := s.ent.DCs[id]
	if !ok {
		dc = &model.DC{ID: id}
		s.ent.DCs[id] = dc
	}
	dc.Salt = salt
	return nil
}

func (s *Store) applyOurID(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	s.ent.OurID = id
	return nil
}

func (s *Store) applyDHParams(r *protocol.Reader) error {
	prime, err := r.ReadBytes()
	if err != nil {
		return err
	}
	g, err := r.ReadInt()
	if err != nil {
		return err
	}
	version, err := r.ReadInt()
	if err != nil {
		return err
	}
	s.ent.DH = &model.DHConfig{Prime: prime, G: g, Version: version}
	return nil
}

// applyCounter enforces strictly increasing pts/qts/seq.
func (s *Store) applyCounter(r *protocol.Reader, counter *int32) error {
	v, err := r.ReadInt()
	if err != nil {
		return err
	}
	if v <= *counter {
		return fmt.Errorf("counter %d -> %d: %w", *counter, v, ErrStaleVersion)
	}
	*counter = v
	return nil
}

func (s *Store) applyDate(r *protocol.Reader) error {
	v, err := r.ReadInt()
	if err != nil {
		return err
	}
	if v <= s.ent.State.Date {
		return fmt.Errorf("date %d -> %d: %w", s.ent.State.Date, v, ErrStaleVersion)
	}
	s.ent.State.Date = v
	return nil
}

// userPrintName synthesizes a user's display name from its name parts.
func userPrintName(first, last string) string {
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		name = "unknown"
	}
	return name
}

// userPeer returns the user with the given id, creating a stub when it is
// referenced before creation.
func (s *Store) userPeer(id int32) *model.Peer {
	pid := model.PeerID{Kind: model.PeerUser, ID: id}
	if p, ok := s.ent.LookupPeer(pid); ok {
		return p
	}
	p := &model.Peer{ID: pid, PrintName: fmt.Sprintf("user#%d", id), User: &model.User{}}
	if err := s.ent.InsertPeer(p); err != nil {
		// Unreachable: the id was just checked.
		slog.Error("inserting user stub", "id", id, "err", err)
	}
	return p
}

func (s *Store) chatPeer(id int32) *model.Peer {
	pid := model.PeerID{Kind: model.PeerChat, ID: id}
	if p, ok := s.ent.LookupPeer(pid); ok {
		return p
	}
	p := &model.Peer{ID: pid, PrintName: fmt.Sprintf("chat#%d", id), Chat: &model.Chat{}}
	if err := s.ent.InsertPeer(p); err != nil {
		slog.Error("inserting chat stub", "id", id, "err", err)
	}
	return p
}

func (s *Store) secretChatPeer(id int32) *model.Peer {
	pid := model.PeerID{Kind: model.PeerSecretChat, ID: id}
	if p, ok := s.ent.LookupPeer(pid); ok {
		return p
	}
	p := &model.Peer{ID: pid, PrintName: fmt.Sprintf("encr_chat#%d", id), SecretChat: &model.SecretChat{}}
	if err := s.ent.InsertPeer(p); err != nil {
		slog.Error("inserting secret chat stub", "id", id, "err", err)
	}
	return p
}

func (s *Store) applyNewUser(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	first, err := r.ReadString()
	if err != nil {
		return err
	}
	last, err := r.ReadString()
	if err != nil {
		return err
	}
	hash, err := r.ReadLong()
	if err != nil {
		return err
	}
	phone, err := r.ReadString()
	if err != nil {
		return err
	}
	contact, err := r.ReadInt()
	if err != nil {
		return err
	}

	p := s.userPeer(id)
	p.Flags |= model.PeerFlagCreated
	p.Flags &^= model.PeerFlagDeleted
	p.User.FirstName = first
	p.User.LastName = last
	p.User.AccessHash = hash
	p.User.Phone = phone
	p.User.Contact = contact != 0
	s.ent.SetPeerName(p, userPrintName(first, last))
	return nil
}

func (s *Store) applyDeleteUser(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	p := s.userPeer(id)
	p.Flags |= model.PeerFlagDeleted
	p.User.Contact = false
	return nil
}

func (s *Store) applySetUserName(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	first, err := r.ReadString()
	if err != nil {
		return err
	}
	last, err := r.ReadString()
	if err != nil {
		return err
	}
	p := s.userPeer(id)
	p.User.FirstName = first
	p.User.LastName = last
	s.ent.SetPeerName(p, userPrintName(first, last))
	return nil
}

func (s *Store) applySetUserRealName(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	first, err := r.ReadString()
	if err != nil {
		return err
	}
	last, err := r.ReadString()
	if err != nil {
		return err
	}
	p := s.userPeer(id)
	p.User.RealFirstName = first
	p.User.RealLastName = last
	return nil
}

func (s *Store) applySetUserPhone(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	phone, err := r.ReadString()
	if err != nil {
		return err
	}
	s.userPeer(id).User.Phone = phone
	return nil
}

func (s *Store) applySetUserAccessHash(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	hash, err := r.ReadLong()
	if err != nil {
		return err
	}
	s.userPeer(id).User.AccessHash = hash
	return nil
}

func (s *Store) applySetUserContact(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	contact, err := r.ReadInt()
	if err != nil {
		return err
	}
	s.userPeer(id).User.Contact = contact != 0
	return nil
}

func (s *Store) applySetUserBlocked(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	blocked, err := r.ReadInt()
	if err != nil {
		return err
	}
	s.userPeer(id).User.Blocked = blocked != 0
	return nil
}

func (s *Store) applySetUserPhoto(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	photoID, err := r.ReadLong()
	if err != nil {
		return err
	}
	s.userPeer(id).User.PhotoID = photoID
	return nil
}

func (s *Store) applyChatCreate(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	title, err := r.ReadString()
	if err != nil {
		return err
	}
	usersNum, err := r.ReadInt()
	if err != nil {
		return err
	}
	date, err := r.ReadInt()
	if err != nil {
		return err
	}
	version, err := r.ReadInt()
	if err != nil {
		return err
	}

	p := s.chatPeer(id)
	p.Flags |= model.PeerFlagCreated
	p.Chat.Title = title
	p.Chat.UsersNum = usersNum
	p.Chat.Date = date
	p.Chat.Version = version
	s.ent.SetPeerName(p, title)
	return nil
}

func (s *Store) applyChatSetTitle(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	title, err := r.ReadString()
	if err != nil {
		return err
	}
	p := s.chatPeer(id)
	p.Chat.Title = title
	s.ent.SetPeerName(p, title)
	return nil
}

func (s *Store) applyChatSetPhoto(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	photoID, err := r.ReadLong()
	if err != nil {
		return err
	}
	s.chatPeer(id).Chat.PhotoID = photoID
	return nil
}

func (s *Store) applyChatAddParticipant(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	version, err := r.ReadInt()
	if err != nil {
		return err
	}
	userID, err := r.ReadInt()
	if err != nil {
		return err
	}
	inviterID, err := r.ReadInt()
	if err != nil {
		return err
	}
	date, err := r.ReadInt()
	if err != nil {
		return err
	}

	chat := s.chatPeer(id).Chat
	if version <= chat.Version {
		return fmt.Errorf("chat %d version %d -> %d: %w", id, chat.Version, version, ErrStaleVersion)
	}
	for _, cp := range chat.Participants {
		if cp.UserID == userID {
			chat.Version = version
			return nil
		}
	}
	chat.Participants = append(chat.Participants, model.ChatParticipant{
		UserID:    userID,
		InviterID: inviterID,
		Date:      date,
	})
	chat.UsersNum = int32(len(chat.Participants))
	chat.Version = version
	return nil
}

func (s *Store) applyChatDelParticipant(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	version, err := r.ReadInt()
	if err != nil {
		return err
	}
	userID, err := r.ReadInt()
	if err != nil {
		return err
	}

	chat := s.chatPeer(id).Chat
	if version <= chat.Version {
		return fmt.Errorf("chat %d version %d -> %d: %w", id, chat.Version, version, ErrStaleVersion)
	}
	for i, cp := range chat.Participants {
		if cp.UserID == userID {
			chat.Participants = append(chat.Participants[:i], chat.Participants[i+1:]...)
			break
		}
	}
	chat.UsersNum = int32(len(chat.Participants))
	chat.Version = version
	return nil
}

func (s *Store) applyChatSetParticipants(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	version, err := r.ReadInt()
	if err != nil {
		return err
	}
	count, err := r.ReadInt()
	if err != nil {
		return err
	}
	if count < 0 {
		return fmt.Errorf("negative participant count %d", count)
	}

	parts := make([]model.ChatParticipant, 0, count)
	for n := int32(0); n < count; n++ {
		userID, err := r.ReadInt()
		if err != nil {
			return err
		}
		inviterID, err := r.ReadInt()
		if err != nil {
			return err
		}
		date, err := r.ReadInt()
		if err != nil {
			return err
		}
		parts = append(parts, model.ChatParticipant{UserID: userID, InviterID: inviterID, Date: date})
	}

	chat := s.chatPeer(id).Chat
	if version <= chat.Version {
		return fmt.Errorf("chat %d version %d -> %d: %w", id, chat.Version, version, ErrStaleVersion)
	}
	chat.Participants = parts
	chat.UsersNum = int32(len(parts))
	chat.Version = version
	return nil
}

func (s *Store) applyEncrChatRequest(r *protocol.Reader) error {
	return s.applyEncrChatInit(r, model.SecretChatRequest)
}

func (s *Store) applyEncrChatWaiting(r *protocol.Reader) error {
	return s.applyEncrChatInit(r, model.SecretChatWaiting)
}

func (s *Store) applyEncrChatInit(r *protocol.Reader, state model.SecretChatState) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	hash, err := r.ReadLong()
	if err != nil {
		return err
	}
	date, err := r.ReadInt()
	if err != nil {
		return err
	}
	adminID, err := r.ReadInt()
	if err != nil {
		return err
	}
	userID, err := r.ReadInt()
	if err != nil {
		return err
	}
	gKey, err := r.ReadBytes()
	if err != nil {
		return err
	}
	nonce, err := r.ReadBytes()
	if err != nil {
		return err
	}

	p := s.secretChatPeer(id)
	p.Flags |= model.PeerFlagCreated
	sc := p.SecretChat
	sc.State = state
	sc.AccessHash = hash
	sc.Date = date
	sc.AdminID = adminID
	sc.UserID = userID
	crypto.Wipe(sc.GKey)
	crypto.Wipe(sc.Nonce)
	sc.GKey = gKey
	sc.Nonce = nonce

	if u, ok := s.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: userID}); ok {
		s.ent.SetPeerName(p, u.PrintName+" (secret)")
	}
	return nil
}

func (s *Store) applyEncrChatSetKey(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	key, err := r.ReadBytes()
	if err != nil {
		return err
	}
	fingerprint, err := r.ReadLong()
	if err != nil {
		return err
	}

	sc := s.secretChatPeer(id).SecretChat
	// Superseded key material is wiped before the overwrite.
	crypto.Wipe(sc.Key)
	sc.Key = key
	sc.KeyFingerprint = fingerprint
	return nil
}

func (s *Store) applyEncrChatSetState(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	state, err := r.ReadInt()
	if err != nil {
		return err
	}
	if state < int32(model.SecretChatNone) || state > int32(model.SecretChatDeleted) {
		return fmt.Errorf("invalid secret chat state %d", state)
	}
	s.secretChatPeer(id).SecretChat.State = model.SecretChatState(state)
	return nil
}

func (s *Store) applyEncrChatDelete(r *protocol.Reader) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	p := s.secretChatPeer(id)
	sc := p.SecretChat
	sc.WipeKeys()
	sc.State = model.SecretChatDeleted
	p.Flags |= model.PeerFlagDeleted
	return nil
}
