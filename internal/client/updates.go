package client

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/udmitri/mtgo/internal/binlog"
	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/mtproto"
	"github.com/udmitri/mtgo/internal/protocol"
)

// Inner update constructors carried by update_short and updates.
const (
	tagUpdateNewMessage      uint32 = 0x013abdb3
	tagUpdateNewMessageMedia uint32 = 0x4a291d2c
	tagUpdateMessageID       uint32 = 0x4e90bfd6
	tagUpdateReadMessages    uint32 = 0xc6649e31
	tagUpdateDeleteMessages  uint32 = 0xa92bfe26
	tagUpdateUserTyping      uint32 = 0x5c486927
	tagUpdateChatUserTyping  uint32 = 0x9a65ea1f
	tagUpdateUserStatus      uint32 = 0x1bfbd823
	tagUpdateUserName        uint32 = 0xda7d35e0
	tagUpdateUserPhoto       uint32 = 0x95313b0c
	tagUpdateNewUser         uint32 = 0x2575bbb9
	tagUpdateUserDeleted     uint32 = 0xd61b85cf
	tagUpdateContactLink     uint32 = 0x51a48a9a
	tagUpdateContactRename   uint32 = 0x86f2f2ae
	tagUpdateUserBlocked     uint32 = 0x80ece81a
	tagUpdateNewChat         uint32 = 0x64f537ce
	tagUpdateChatTitle       uint32 = 0xf0cf7b5c
	tagUpdateChatPhoto       uint32 = 0x681e37c4
	tagUpdateChatAddUser     uint32 = 0x3a0eeb22
	tagUpdateChatDelUser     uint32 = 0x6e5f8c22
	tagUpdateChatUsers       uint32 = 0x07761198
	tagUpdateEncryption      uint32 = 0xb4a2e88d
)

// Secret chat variants carried inside updateEncryption.
const (
	tagEncrChatRequested   uint32 = 0xc878527e
	tagEncrChatWaiting     uint32 = 0x3bf703dc
	tagEncrChatEstablished uint32 = 0xfa56ce36
	tagEncrChatDiscarded   uint32 = 0x13d6dd27
)

// Media constructors carried by message bodies.
const (
	tagMediaEmpty       uint32 = 0x3ded6320
	tagMediaPhoto       uint32 = 0xc8c45a2a
	tagMediaVideo       uint32 = 0xa2d24290
	tagMediaAudio       uint32 = 0xc6b68300
	tagMediaDocument    uint32 = 0x2fda2204
	tagMediaGeo         uint32 = 0x56e0d474
	tagMediaContact     uint32 = 0x5e7d2f39
	tagMediaUnsupported uint32 = 0x29632a36
)

// handleUpdates decodes one updates-family payload. Every durable
// mutation funnels through a binlog emitter before it is visible; the
// decoder itself never touches the entity store directly except for
// ephemeral presence.
func (c *Client) handleUpdates(tag uint32, r *protocol.Reader) error {
	switch tag {
	case mtproto.TagUpdateShortMessage:
		return c.updateShortMessage(r, false)
	case mtproto.TagUpdateShortChatMessage:
		return c.updateShortMessage(r, true)
	case mtproto.TagUpdateShort:
		if err := c.applyUpdate(r); err != nil {
			return err
		}
		date, err := r.ReadInt()
		if err != nil {
			return err
		}
		c.bumpDate(date)
		return r.ExpectEOF()
	case mtproto.TagUpdates:
		count, err := r.ReadInt()
		if err != nil {
			return err
		}
		for i := int32(0); i < count; i++ {
			if err := c.applyUpdate(r); err != nil {
				return fmt.Errorf("update %d of %d: %w", i+1, count, err)
			}
		}
		seq, err := r.ReadInt()
		if err != nil {
			return err
		}
		date, err := r.ReadInt()
		if err != nil {
			return err
		}
		c.bumpSeq(seq)
		c.bumpDate(date)
		return r.ExpectEOF()
	default:
		return fmt.Errorf("updates payload 0x%08x: %w", tag, mtproto.ErrUnknownTag)
	}
}

// updateShortMessage handles the compact one-message update forms.
func (c *Client) updateShortMessage(r *protocol.Reader, chat bool) error {
	id, err := r.ReadInt()
	if err != nil {
		return err
	}
	fromID, err := r.ReadInt()
	if err != nil {
		return err
	}
	to := model.PeerID{Kind: model.PeerUser, ID: c.ent.OurID}
	if chat {
		chatID, err := r.ReadInt()
		if err != nil {
			return err
		}
		to = model.PeerID{Kind: model.PeerChat, ID: chatID}
	}
	text, err := r.ReadString()
	if err != nil {
		return err
	}
	pts, err := r.ReadInt()
	if err != nil {
		return err
	}
	date, err := r.ReadInt()
	if err != nil {
		return err
	}
	seq, err := r.ReadInt()
	if err != nil {
		return err
	}
	if err := r.ExpectEOF(); err != nil {
		return err
	}

	args := binlog.MessageArgs{
		ID:     int64(id),
		Flags:  model.MessageFlagUnread,
		FromID: fromID,
		To:     to,
		Date:   date,
	}
	if err := c.log.DoCreateMessageText(args, text); err != nil {
		return err
	}
	c.bumpPts(pts)
	c.bumpSeq(seq)
	c.bumpDate(date)
	if m, ok := c.ent.LookupMessage(int64(id)); ok {
		c.cb.newMessage(m)
	}
	return nil
}

// applyUpdate decodes a single inner update.
func (c *Client) applyUpdate(r *protocol.Reader) error {
	tag, err := r.ReadUint()
	if err != nil {
		return err
	}

	switch tag {
	case tagUpdateNewMessage:
		id, err := r.ReadInt()
		if err != nil {
			return err
		}
		fromID, err := r.ReadInt()
		if err != nil {
			return err
		}
		toKind, err := r.ReadInt()
		if err != nil {
			return err
		}
		toID, err := r.ReadInt()
		if err != nil {
			return err
		}
		date, err := r.ReadInt()
		if err != nil {
			return err
		}
		text, err := r.ReadString()
		if err != nil {
			return err
		}
		pts, err := r.ReadInt()
		if err != nil {
			return err
		}
		args := binlog.MessageArgs{
			ID:     int64(id),
			Flags:  model.MessageFlagUnread,
			FromID: fromID,
			To:     model.PeerID{Kind: model.PeerKind(toKind), ID: toID},
			Date:   date,
		}
		if err := c.log.DoCreateMessageText(args, text); err != nil {
			return err
		}
		c.bumpPts(pts)
		if m, ok := c.ent.LookupMessage(int64(id)); ok {
			c.cb.newMessage(m)
		}
		return nil

	case tagUpdateNewMessageMedia:
		id, err := r.ReadInt()
		if err != nil {
			return err
		}
		fromID, err := r.ReadInt()
		if err != nil {
			return err
		}
		toKind, err := r.ReadInt()
		if err != nil {
			return err
		}
		toID, err := r.ReadInt()
		if err != nil {
			return err
		}
		date, err := r.ReadInt()
		if err != nil {
			return err
		}
		caption, err := r.ReadString()
		if err != nil {
			return err
		}
		media, err := decodeMedia(r)
		if err != nil {
			return err
		}
		pts, err := r.ReadInt()
		if err != nil {
			return err
		}
		args := binlog.MessageArgs{
			ID:     int64(id),
			Flags:  model.MessageFlagUnread,
			FromID: fromID,
			To:     model.PeerID{Kind: model.PeerKind(toKind), ID: toID},
			Date:   date,
		}
		if err := c.log.DoCreateMessageMedia(args, caption, media); err != nil {
			return err
		}
		c.bumpPts(pts)
		if m, ok := c.ent.LookupMessage(int64(id)); ok {
			c.cb.newMessage(m)
		}
		return nil

	case tagUpdateMessageID:
		id, err := r.ReadInt()
		if err != nil {
			return err
		}
		randomID, err := r.ReadLong()
		if err != nil {
			return err
		}
		return c.log.DoMessageSent(randomID, id)

	case tagUpdateReadMessages:
		ids, err := readIntVector(r)
		if err != nil {
			return err
		}
		pts, err := r.ReadInt()
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := c.log.DoClearMessageUnread(int64(id)); err != nil {
				return err
			}
		}
		c.bumpPts(pts)
		return nil

	case tagUpdateDeleteMessages:
		ids, err := readIntVector(r)
		if err != nil {
			return err
		}
		pts, err := r.ReadInt()
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := c.log.DoDeleteMessage(int64(id)); err != nil {
				return err
			}
		}
		c.bumpPts(pts)
		return nil

	case tagUpdateUserTyping:
		userID, err := r.ReadInt()
		if err != nil {
			return err
		}
		if p, ok := c.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: userID}); ok {
			c.cb.userTyping(p)
		}
		return nil

	case tagUpdateChatUserTyping:
		if _, err := r.ReadInt(); err != nil { // chat_id
			return err
		}
		userID, err := r.ReadInt()
		if err != nil {
			return err
		}
		if p, ok := c.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: userID}); ok {
			c.cb.userTyping(p)
		}
		return nil

	case tagUpdateUserStatus:
		userID, err := r.ReadInt()
		if err != nil {
			return err
		}
		online, err := r.ReadInt()
		if err != nil {
			return err
		}
		when, err := r.ReadInt()
		if err != nil {
			return err
		}
		// Presence is ephemeral: mutated in place, never logged.
		if p, ok := c.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: userID}); ok && p.User != nil {
			p.User.Status = model.OnlineStatus{Online: online, When: when}
			c.cb.userStatus(p)
		}
		return nil

	case tagUpdateUserName:
		userID, err := r.ReadInt()
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
		return c.log.DoSetUserName(userID, first, last)

	case tagUpdateNewUser:
		userID, err := r.ReadInt()
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
		accessHash, err := r.ReadLong()
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
		if err := c.log.DoNewUser(userID, first, last, accessHash, phone, contact != 0); err != nil {
			return err
		}
		if p, ok := c.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: userID}); ok {
			c.cb.peerAllocated(p)
		}
		return nil

	case tagUpdateUserPhoto:
		userID, err := r.ReadInt()
		if err != nil {
			return err
		}
		photoID, err := r.ReadLong()
		if err != nil {
			return err
		}
		return c.log.DoSetUserPhoto(userID, photoID)

	case tagUpdateUserDeleted:
		userID, err := r.ReadInt()
		if err != nil {
			return err
		}
		return c.log.DoDeleteUser(userID)

	case tagUpdateContactLink:
		userID, err := r.ReadInt()
		if err != nil {
			return err
		}
		contact, err := r.ReadInt()
		if err != nil {
			return err
		}
		return c.log.DoSetUserContact(userID, contact != 0)

	case tagUpdateContactRename:
		userID, err := r.ReadInt()
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
		return c.log.DoSetUserRealName(userID, first, last)

	case tagUpdateUserBlocked:
		userID, err := r.ReadInt()
		if err != nil {
			return err
		}
		blocked, err := r.ReadInt()
		if err != nil {
			return err
		}
		return c.log.DoSetUserBlocked(userID, blocked != 0)

	case tagUpdateNewChat:
		chatID, err := r.ReadInt()
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
		if err := c.log.DoChatCreate(chatID, title, usersNum, date, version); err != nil {
			return err
		}
		if p, ok := c.ent.LookupPeer(model.PeerID{Kind: model.PeerChat, ID: chatID}); ok {
			c.cb.peerAllocated(p)
		}
		return nil

	case tagUpdateChatTitle:
		chatID, err := r.ReadInt()
		if err != nil {
			return err
		}
		title, err := r.ReadString()
		if err != nil {
			return err
		}
		return c.log.DoChatSetTitle(chatID, title)

	case tagUpdateChatPhoto:
		chatID, err := r.ReadInt()
		if err != nil {
			return err
		}
		photoID, err := r.ReadLong()
		if err != nil {
			return err
		}
		return c.log.DoChatSetPhoto(chatID, photoID)

	case tagUpdateChatAddUser:
		chatID, err := r.ReadInt()
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
		version, err := r.ReadInt()
		if err != nil {
			return err
		}
		if err := c.log.DoChatAddParticipant(chatID, version, userID, inviterID, date); err != nil {
			if errors.Is(err, binlog.ErrStaleVersion) {
				return nil
			}
			return err
		}
		return nil

	case tagUpdateChatDelUser:
		chatID, err := r.ReadInt()
		if err != nil {
			return err
		}
		userID, err := r.ReadInt()
		if err != nil {
			return err
		}
		version, err := r.ReadInt()
		if err != nil {
			return err
		}
		if err := c.log.DoChatDelParticipant(chatID, version, userID); err != nil {
			if errors.Is(err, binlog.ErrStaleVersion) {
				return nil
			}
			return err
		}
		return nil

	case tagUpdateChatUsers:
		chatID, err := r.ReadInt()
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
			return fmt.Errorf("vector of %d participants: %w", count, protocol.ErrLengthOverflow)
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
		if err := c.log.DoChatSetParticipants(chatID, version, parts); err != nil {
			if errors.Is(err, binlog.ErrStaleVersion) {
				return nil
			}
			return err
		}
		return nil

	case tagUpdateEncryption:
		return c.applyEncryption(r)

	default:
		return fmt.Errorf("inner update 0x%08x: %w", tag, mtproto.ErrUnknownTag)
	}
}

// applyEncryption decodes the secret chat variant inside updateEncryption
// and records the matching lifecycle transition.
func (c *Client) applyEncryption(r *protocol.Reader) error {
	variant, err := r.ReadUint()
	if err != nil {
		return err
	}

	switch variant {
	case tagEncrChatRequested:
		chatID, err := r.ReadInt()
		if err != nil {
			return err
		}
		accessHash, err := r.ReadLong()
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
		if err := c.log.DoEncrChatRequest(chatID, accessHash, date, adminID, userID, gKey, nonce); err != nil {
			return err
		}
		if p, ok := c.ent.LookupPeer(model.PeerID{Kind: model.PeerSecretChat, ID: chatID}); ok {
			c.cb.peerAllocated(p)
		}
		return nil

	case tagEncrChatWaiting:
		chatID, err := r.ReadInt()
		if err != nil {
			return err
		}
		accessHash, err := r.ReadLong()
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
		return c.log.DoEncrChatWaiting(chatID, accessHash, date, adminID, userID, nil, nil)

	case tagEncrChatEstablished:
		chatID, err := r.ReadInt()
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
		if err := c.log.DoEncrChatSetKey(chatID, key, fingerprint); err != nil {
			return err
		}
		return c.log.DoEncrChatSetState(chatID, model.SecretChatOK)

	case tagEncrChatDiscarded:
		chatID, err := r.ReadInt()
		if err != nil {
			return err
		}
		return c.log.DoEncrChatDelete(chatID)

	default:
		return fmt.Errorf("secret chat variant 0x%08x: %w", variant, mtproto.ErrUnknownTag)
	}
}

// decodeMedia reads one media constructor from the wire.
func decodeMedia(r *protocol.Reader) (model.Media, error) {
	tag, err := r.ReadUint()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagMediaEmpty:
		return model.MediaNone{}, nil
	case tagMediaPhoto:
		id, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		return model.MediaPhoto{PhotoID: id}, nil
	case tagMediaVideo:
		id, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		return model.MediaVideo{VideoID: id}, nil
	case tagMediaAudio:
		id, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		return model.MediaAudio{AudioID: id}, nil
	case tagMediaDocument:
		id, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		return model.MediaDocument{DocumentID: id}, nil
	case tagMediaGeo:
		lat, err := r.ReadDouble()
		if err != nil {
			return nil, err
		}
		long, err := r.ReadDouble()
		if err != nil {
			return nil, err
		}
		return model.MediaGeo{Latitude: lat, Longitude: long}, nil
	case tagMediaContact:
		phone, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		first, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		last, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		userID, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		return model.MediaContact{Phone: phone, FirstName: first, LastName: last, UserID: userID}, nil
	case tagMediaUnsupported:
		return model.MediaUnsupported{}, nil
	default:
		return nil, fmt.Errorf("media constructor 0x%08x: %w", tag, mtproto.ErrUnknownTag)
	}
}

// bumpPts advances the pts counter, tolerating redelivery.
func (c *Client) bumpPts(pts int32) {
	if err := c.log.DoSetPts(pts); err != nil && !errors.Is(err, binlog.ErrStaleVersion) {
		slog.Warn("pts update failed", "pts", pts, "err", err)
	}
}

func (c *Client) bumpQts(qts int32) {
	if err := c.log.DoSetQts(qts); err != nil && !errors.Is(err, binlog.ErrStaleVersion) {
		slog.Warn("qts update failed", "qts", qts, "err", err)
	}
}

func (c *Client) bumpSeq(seq int32) {
	if err := c.log.DoSetSeq(seq); err != nil && !errors.Is(err, binlog.ErrStaleVersion) {
		slog.Warn("seq update failed", "seq", seq, "err", err)
	}
}

func (c *Client) bumpDate(date int32) {
	if err := c.log.DoSetDate(date); err != nil {
		slog.Warn("date update failed", "date", date, "err", err)
	}
}

func readIntVector(r *protocol.Reader) ([]int32, error) {
	count, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("vector of %d entries: %w", count, protocol.ErrLengthOverflow)
	}
	ids := make([]int32, 0, count)
	for n := int32(0); n < count; n++ {
		id, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
