package binlog

import (
	"fmt"
	"log/slog"

	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/protocol"
)

// Media variant codes inside message events.
const (
	mediaCodeNone int32 = iota
	mediaCodePhoto
	mediaCodeVideo
	mediaCodeAudio
	mediaCodeDocument
	mediaCodeGeo
	mediaCodeContact
	mediaCodeUnsupported
	mediaCodeEncrypted
)

// Service action codes inside message events.
const (
	actionCodeChatCreated int32 = iota + 1
	actionCodeTitleChanged
	actionCodePhotoChanged
	actionCodeUserAdded
	actionCodeUserRemoved
)

func writeMedia(w *protocol.Writer, m model.Media) {
	switch v := m.(type) {
	case nil, model.MediaNone:
		w.WriteInt(mediaCodeNone)
	case model.MediaPhoto:
		w.WriteInt(mediaCodePhoto)
		w.WriteLong(v.PhotoID)
	case model.MediaVideo:
		w.WriteInt(mediaCodeVideo)
		w.WriteLong(v.VideoID)
	case model.MediaAudio:
		w.WriteInt(mediaCodeAudio)
		w.WriteLong(v.AudioID)
	case model.MediaDocument:
		w.WriteInt(mediaCodeDocument)
		w.WriteLong(v.DocumentID)
	case model.MediaGeo:
		w.WriteInt(mediaCodeGeo)
		w.WriteDouble(v.Latitude)
		w.WriteDouble(v.Longitude)
	case model.MediaContact:
		w.WriteInt(mediaCodeContact)
		w.WriteString(v.Phone)
		w.WriteString(v.FirstName)
		w.WriteString(v.LastName)
		w.WriteInt(v.UserID)
	case model.MediaEncrypted:
		w.WriteInt(mediaCodeEncrypted)
		w.WriteString(v.Kind)
		w.WriteInt(v.Size)
	default:
		w.WriteInt(mediaCodeUnsupported)
	}
}

func readMedia(r *protocol.Reader) (model.Media, error) {
	code, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	switch code {
	case mediaCodeNone:
		return model.MediaNone{}, nil
	case mediaCodePhoto:
		id, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		return model.MediaPhoto{PhotoID: id}, nil
	case mediaCodeVideo:
		id, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		return model.MediaVideo{VideoID: id}, nil
	case mediaCodeAudio:
		id, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		return model.MediaAudio{AudioID: id}, nil
	case mediaCodeDocument:
		id, err := r.ReadLong()
		if err != nil {
			return nil, err
		}
		return model.MediaDocument{DocumentID: id}, nil
	case mediaCodeGeo:
		lat, err := r.ReadDouble()
		if err != nil {
			return nil, err
		}
		lon, err := r.ReadDouble()
		if err != nil {
			return nil, err
		}
		return model.MediaGeo{Latitude: lat, Longitude: lon}, nil
	case mediaCodeContact:
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
	case mediaCodeUnsupported:
		return model.MediaUnsupported{}, nil
	case mediaCodeEncrypted:
		kind, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		return model.MediaEncrypted{Kind: kind, Size: size}, nil
	default:
		return nil, fmt.Errorf("unknown media code %d", code)
	}
}

func writeAction(w *protocol.Writer, a model.ServiceAction) {
	switch v := a.(type) {
	case model.ActionChatCreated:
		w.WriteInt(actionCodeChatCreated)
		w.WriteString(v.Title)
		w.WriteInt(int32(len(v.UserIDs)))
		for _, id := range v.UserIDs {
			w.WriteInt(id)
		}
	case model.ActionTitleChanged:
		w.WriteInt(actionCodeTitleChanged)
		w.WriteString(v.Title)
	case model.ActionPhotoChanged:
		w.WriteInt(actionCodePhotoChanged)
		deleted := int32(0)
		if v.Deleted {
			deleted = 1
		}
		w.WriteInt(deleted)
	case model.ActionUserAdded:
		w.WriteInt(actionCodeUserAdded)
		w.WriteInt(v.UserID)
	case model.ActionUserRemoved:
		w.WriteInt(actionCodeUserRemoved)
		w.WriteInt(v.UserID)
	}
}

func readAction(r *protocol.Reader) (model.ServiceAction, error) {
	code, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	switch code {
	case actionCodeChatCreated:
		title, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		count, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, fmt.Errorf("negative user count %d", count)
		}
		ids := make([]int32, 0, count)
		for n := int32(0); n < count; n++ {
			id, err := r.ReadInt()
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return model.ActionChatCreated{Title: title, UserIDs: ids}, nil
	case actionCodeTitleChanged:
		title, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		return model.ActionTitleChanged{Title: title}, nil
	case actionCodePhotoChanged:
		deleted, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		return model.ActionPhotoChanged{Deleted: deleted != 0}, nil
	case actionCodeUserAdded:
		id, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		return model.ActionUserAdded{UserID: id}, nil
	case actionCodeUserRemoved:
		id, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		return model.ActionUserRemoved{UserID: id}, nil
	default:
		return nil, fmt.Errorf("unknown action code %d", code)
	}
}

// messageHead is the fixed prefix shared by the create-message events.
type messageHead struct {
	id        int64
	flags     int32
	fromID    int32
	to        model.PeerID
	date      int32
	fwdFromID int32
	fwdDate   int32
}

func writeMessageHead(w *protocol.Writer, h messageHead) {
	w.WriteLong(h.id)
	w.WriteInt(h.flags)
	w.WriteInt(h.fromID)
	w.WriteInt(int32(h.to.Kind))
	w.WriteInt(h.to.ID)
	w.WriteInt(h.date)
	w.WriteInt(h.fwdFromID)
	w.WriteInt(h.fwdDate)
}

func readMessageHead(r *protocol.Reader) (messageHead, error) {
	var h messageHead
	var err error
	if h.id, err = r.ReadLong(); err != nil {
		return h, err
	}
	if h.flags, err = r.ReadInt(); err != nil {
		return h, err
	}
	if h.fromID, err = r.ReadInt(); err != nil {
		return h, err
	}
	kind, err := r.ReadInt()
	if err != nil {
		return h, err
	}
	h.to.Kind = model.PeerKind(kind)
	if h.to.ID, err = r.ReadInt(); err != nil {
		return h, err
	}
	if h.date, err = r.ReadInt(); err != nil {
		return h, err
	}
	if h.fwdFromID, err = r.ReadInt(); err != nil {
		return h, err
	}
	if h.fwdDate, err = r.ReadInt(); err != nil {
		return h, err
	}
	return h, nil
}

// materialize creates or fills in a message for a create event. A stub
// (referenced before creation) is filled in place; a message that was
// already fully created must not be created twice.
func (s *Store) materialize(h messageHead) (*model.Message, error) {
	if existing, ok := s.ent.LookupMessage(h.id); ok {
		if existing.Created() {
			return nil, fmt.Errorf("message %d created twice", h.id)
		}
		existing.Flags |= h.flags | model.MessageFlagCreated
		existing.FromID = h.fromID
		existing.To = h.to
		existing.Date = h.date
		existing.FwdFromID = h.fwdFromID
		existing.FwdDate = h.fwdDate
		return existing, nil
	}

	m := &model.Message{
		ID:        h.id,
		Flags:     h.flags | model.MessageFlagCreated,
		FromID:    h.fromID,
		To:        h.to,
		Date:      h.date,
		FwdFromID: h.fwdFromID,
		FwdDate:   h.fwdDate,
	}
	if err := s.ent.InsertMessage(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) applyCreateMessageText(r *protocol.Reader) error {
	h, err := readMessageHead(r)
	if err != nil {
		return err
	}
	text, err := r.ReadString()
	if err != nil {
		return err
	}
	m, err := s.materialize(h)
	if err != nil {
		return err
	}
	m.Text = text
	m.Media = model.MediaNone{}
	return nil
}

func (s *Store) applySendMessageText(r *protocol.Reader) error {
	h, err := readMessageHead(r)
	if err != nil {
		return err
	}
	text, err := r.ReadString()
	if err != nil {
		return err
	}
	h.flags |= model.MessageFlagPending | model.MessageFlagOut
	m, err := s.materialize(h)
	if err != nil {
		return err
	}
	m.Text = text
	m.Media = model.MediaNone{}
	return nil
}

func (s *Store) applyCreateMessageMedia(r *protocol.Reader) error {
	h, err := readMessageHead(r)
	if err != nil {
		return err
	}
	text, err := r.ReadString()
	if err != nil {
		return err
	}
	media, err := readMedia(r)
	if err != nil {
		return err
	}
	m, err := s.materialize(h)
	if err != nil {
		return err
	}
	m.Text = text
	m.Media = media
	return nil
}

func (s *Store) applyCreateMessageService(r *protocol.Reader) error {
	h, err := readMessageHead(r)
	if err != nil {
		return err
	}
	action, err := readAction(r)
	if err != nil {
		return err
	}
	m, err := s.materialize(h)
	if err != nil {
		return err
	}
	m.Action = action

	// Service actions mirror into chat state when they target a chat.
	if m.To.Kind == model.PeerChat {
		if v, ok := action.(model.ActionTitleChanged); ok {
			p := s.chatPeer(m.To.ID)
			p.Chat.Title = v.Title
			s.ent.SetPeerName(p, v.Title)
		}
	}
	return nil
}

func (s *Store) applyMessageSent(r *protocol.Reader) error {
	oldID, err := r.ReadLong()
	if err != nil {
		return err
	}
	newID, err := r.ReadInt()
	if err != nil {
		return err
	}
	m, err := s.ent.RekeyMessage(oldID, int64(newID))
	if err != nil {
		slog.Warn("sent confirmation for unknown message", "old_id", oldID, "new_id", newID)
		return nil
	}
	m.Flags &^= model.MessageFlagPending
	return nil
}

func (s *Store) applyClearMessageUnread(r *protocol.Reader) error {
	id, err := r.ReadLong()
	if err != nil {
		return err
	}
	if m, ok := s.ent.LookupMessage(id); ok {
		m.Flags &^= model.MessageFlagUnread
	}
	return nil
}

func (s *Store) applyDeleteMessage(r *protocol.Reader) error {
	id, err := r.ReadLong()
	if err != nil {
		return err
	}
	if err := s.ent.DeleteMessage(id); err != nil {
		slog.Warn("delete for unknown message", "id", id)
	}
	return nil
}
