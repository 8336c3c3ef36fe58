package client

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udmitri/mtgo/internal/binlog"
	"github.com/udmitri/mtgo/internal/config"
	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/mtproto"
	"github.com/udmitri/mtgo/internal/protocol"
)

func testClient(t *testing.T, cb *Callbacks) *Client {
	t.Helper()
	ent := model.NewStore()
	log, err := binlog.Open(filepath.Join(t.TempDir(), "binlog"), ent)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	require.NoError(t, log.Replay())

	return &Client{
		cfg:     config.DefaultClient(),
		cb:      cb,
		ent:     ent,
		log:     log,
		queries: newQueryTable(),
		now:     func() time.Time { return time.Unix(1_700_000_000, 0) },
	}
}

func TestUpdateShortMessage(t *testing.T) {
	var got *model.Message
	c := testClient(t, &Callbacks{OnNewMessage: func(m *model.Message) { got = m }})
	require.NoError(t, c.log.DoSetOurID(77))

	w := protocol.NewWriter(64)
	w.WriteInt(501)  // id
	w.WriteInt(12)   // from
	w.WriteString("hi there")
	w.WriteInt(10) // pts
	w.WriteInt(1_700_000_100)
	w.WriteInt(4) // seq

	require.NoError(t, c.handleUpdates(mtproto.TagUpdateShortMessage, protocol.NewReader(w.Bytes())))
	require.NotNil(t, got)
	require.EqualValues(t, 501, got.ID)
	require.Equal(t, "hi there", got.Text)
	require.Equal(t, model.PeerID{Kind: model.PeerUser, ID: 77}, got.To)
	require.EqualValues(t, 10, c.ent.State.Pts)
	require.EqualValues(t, 4, c.ent.State.Seq)
	require.EqualValues(t, 1_700_000_100, c.ent.State.Date)

	m, ok := c.ent.LookupMessage(501)
	require.True(t, ok)
	require.NotZero(t, m.Flags&model.MessageFlagUnread)
}

func TestUpdateShortChatMessage(t *testing.T) {
	c := testClient(t, nil)

	w := protocol.NewWriter(64)
	w.WriteInt(600)
	w.WriteInt(12)
	w.WriteInt(33) // chat
	w.WriteString("to the group")
	w.WriteInt(11)
	w.WriteInt(1_700_000_200)
	w.WriteInt(6)

	require.NoError(t, c.handleUpdates(mtproto.TagUpdateShortChatMessage, protocol.NewReader(w.Bytes())))
	m, ok := c.ent.LookupMessage(600)
	require.True(t, ok)
	require.Equal(t, model.PeerID{Kind: model.PeerChat, ID: 33}, m.To)
}

func TestUpdateShortInnerUpdates(t *testing.T) {
	var typing, status *model.Peer
	c := testClient(t, &Callbacks{
		OnUserTyping:        func(p *model.Peer) { typing = p },
		OnUserStatusChanged: func(p *model.Peer) { status = p },
	})
	require.NoError(t, c.log.DoNewUser(12, "Ann", "Lee", 0, "", true))

	build := func(fill func(w *protocol.Writer)) *protocol.Reader {
		w := protocol.NewWriter(64)
		fill(w)
		w.WriteInt(1_700_000_300) // trailing date
		return protocol.NewReader(w.Bytes())
	}

	require.NoError(t, c.handleUpdates(mtproto.TagUpdateShort, build(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateUserTyping)
		w.WriteInt(12)
	})))
	require.NotNil(t, typing)
	require.EqualValues(t, 12, typing.ID.ID)

	require.NoError(t, c.handleUpdates(mtproto.TagUpdateShort, build(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateUserStatus)
		w.WriteInt(12)
		w.WriteInt(1)
		w.WriteInt(1_700_000_300)
	})))
	require.NotNil(t, status)
	require.EqualValues(t, 1, status.User.Status.Online)

	require.NoError(t, c.handleUpdates(mtproto.TagUpdateShort, build(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateUserName)
		w.WriteInt(12)
		w.WriteString("Anna")
		w.WriteString("Lee")
	})))
	p, ok := c.ent.LookupPeerByName("Anna Lee")
	require.True(t, ok)
	require.EqualValues(t, 12, p.ID.ID)
}

func TestUpdateMessageIDRekeysPending(t *testing.T) {
	c := testClient(t, nil)
	args := binlog.MessageArgs{
		ID:     987654321,
		Flags:  model.MessageFlagOut,
		FromID: 77,
		To:     model.PeerID{Kind: model.PeerUser, ID: 12},
		Date:   1_700_000_000,
	}
	require.NoError(t, c.log.DoSendMessageText(args, "pending"))

	w := protocol.NewWriter(16)
	w.WriteUint(tagUpdateMessageID)
	w.WriteInt(701)
	w.WriteLong(987654321)
	w.WriteInt(1_700_000_400) // trailing date
	require.NoError(t, c.handleUpdates(mtproto.TagUpdateShort, protocol.NewReader(w.Bytes())))

	_, ok := c.ent.LookupMessage(987654321)
	require.False(t, ok)
	m, ok := c.ent.LookupMessage(701)
	require.True(t, ok)
	require.False(t, m.Pending())
}

func TestUpdatesVectorReadAndDelete(t *testing.T) {
	c := testClient(t, nil)
	for _, id := range []int64{801, 802} {
		require.NoError(t, c.log.DoCreateMessageText(binlog.MessageArgs{
			ID:     id,
			Flags:  model.MessageFlagUnread,
			FromID: 12,
			To:     model.PeerID{Kind: model.PeerUser, ID: 77},
			Date:   1_700_000_000,
		}, "x"))
	}

	w := protocol.NewWriter(96)
	w.WriteInt(2)
	w.WriteUint(tagUpdateReadMessages)
	w.WriteInt(1) // vector count
	w.WriteInt(801)
	w.WriteInt(20) // pts
	w.WriteUint(tagUpdateDeleteMessages)
	w.WriteInt(1)
	w.WriteInt(802)
	w.WriteInt(21)
	w.WriteInt(9) // seq
	w.WriteInt(1_700_000_500)

	require.NoError(t, c.handleUpdates(mtproto.TagUpdates, protocol.NewReader(w.Bytes())))

	m, ok := c.ent.LookupMessage(801)
	require.True(t, ok)
	require.Zero(t, m.Flags&model.MessageFlagUnread)
	_, ok = c.ent.LookupMessage(802)
	require.False(t, ok)
	require.EqualValues(t, 21, c.ent.State.Pts)
}

func TestUpdatesUnknownInnerTagFatal(t *testing.T) {
	c := testClient(t, nil)
	w := protocol.NewWriter(12)
	w.WriteUint(0xdeadc0de)
	w.WriteInt(1_700_000_000)
	err := c.handleUpdates(mtproto.TagUpdateShort, protocol.NewReader(w.Bytes()))
	require.ErrorIs(t, err, mtproto.ErrUnknownTag)
}

func TestApplyDifference(t *testing.T) {
	c := testClient(t, nil)

	w := protocol.NewWriter(96)
	w.WriteUint(tagDifference)
	w.WriteInt(1)
	w.WriteUint(tagUpdateNewMessage)
	w.WriteInt(901)
	w.WriteInt(12)
	w.WriteInt(int32(model.PeerUser))
	w.WriteInt(77)
	w.WriteInt(1_700_000_600)
	w.WriteString("caught up")
	w.WriteInt(30)
	w.WriteInt(31) // pts
	w.WriteInt(2)  // qts
	w.WriteInt(12) // seq
	w.WriteInt(1_700_000_700)

	require.NoError(t, c.applyDifference(protocol.NewReader(w.Bytes())))
	_, ok := c.ent.LookupMessage(901)
	require.True(t, ok)
	require.EqualValues(t, 31, c.ent.State.Pts)
	require.EqualValues(t, 2, c.ent.State.Qts)
	require.EqualValues(t, 12, c.ent.State.Seq)
}

func TestSendTextOfflineStaysPending(t *testing.T) {
	c := testClient(t, nil)
	require.NoError(t, c.log.DoSetOurID(77))

	_, err := c.SendText(model.PeerID{Kind: model.PeerUser, ID: 12}, "hello")
	require.Error(t, err) // no connection

	pending := c.ent.PendingMessages()
	require.Len(t, pending, 1)
	require.Equal(t, "hello", pending[0].Text)
}

func TestQueryTable(t *testing.T) {
	tbl := newQueryTable()
	now := time.Unix(1_700_000_000, 0)

	var gotErr error
	tbl.add(&pendingQuery{msgID: 1, deadline: now.Add(time.Second), onError: func(err error) { gotErr = err }})
	tbl.add(&pendingQuery{msgID: 2, deadline: now.Add(time.Minute)})

	expired := tbl.expire(now.Add(30 * time.Second))
	require.Len(t, expired, 1)
	require.EqualValues(t, 1, expired[0].msgID)

	q, ok := tbl.rekey(2, 6)
	require.True(t, ok)
	require.EqualValues(t, 6, q.msgID)
	_, ok = tbl.take(2)
	require.False(t, ok)
	_, ok = tbl.take(6)
	require.True(t, ok)

	tbl.add(&pendingQuery{msgID: 9, onError: func(err error) { gotErr = err }})
	tbl.failAll(ErrQueryTimeout)
	require.ErrorIs(t, gotErr, ErrQueryTimeout)
	require.Empty(t, tbl.byMsgID)
}

func TestQueryResolveRPCError(t *testing.T) {
	tbl := newQueryTable()
	var gotErr error
	tbl.add(&pendingQuery{msgID: 5, onError: func(err error) { gotErr = err }})

	w := protocol.NewWriter(32)
	w.WriteUint(mtproto.TagRPCError)
	w.WriteInt(420)
	w.WriteString("FLOOD_WAIT_17")

	require.NoError(t, tbl.resolve(5, protocol.NewReader(w.Bytes())))
	var rpcErr *RPCError
	require.ErrorAs(t, gotErr, &rpcErr)
	require.EqualValues(t, 420, rpcErr.Code)
	require.Contains(t, rpcErr.Error(), "FLOOD_WAIT_17")

	// Unknown msg id is dropped, not an error.
	require.NoError(t, tbl.resolve(99, protocol.NewReader(w.Bytes())))
}

func TestQueryResolveResult(t *testing.T) {
	tbl := newQueryTable()
	var gotCtor uint32
	tbl.add(&pendingQuery{msgID: 5, onResult: func(body *protocol.Reader) error {
		ctor, err := body.ReadUint()
		gotCtor = ctor
		return err
	}})

	w := protocol.NewWriter(8)
	w.WriteUint(0xabc12300)
	w.WriteInt(1)
	require.NoError(t, tbl.resolve(5, protocol.NewReader(w.Bytes())))
	require.EqualValues(t, 0xabc12300, gotCtor)
}

func TestQueryResolveBadBodyFailsOnlyQuery(t *testing.T) {
	tbl := newQueryTable()
	parseErr := errors.New("truncated answer")
	var gotErr error
	tbl.add(&pendingQuery{
		msgID:    42,
		onResult: func(body *protocol.Reader) error { return parseErr },
		onError:  func(err error) { gotErr = err },
	})

	w := protocol.NewWriter(8)
	w.WriteUint(0xabc12300)

	// The answer body is already in its own buffer, so a parse failure
	// fails this query and nothing else.
	require.NoError(t, tbl.resolve(42, protocol.NewReader(w.Bytes())))
	require.ErrorIs(t, gotErr, parseErr)
	_, ok := tbl.take(42)
	require.False(t, ok)
}

func TestLoadServerKeys(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "server.pub")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(f, &pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey),
	}))
	require.NoError(t, f.Close())

	keys, err := LoadServerKeys(path)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NotZero(t, keys[0].Fingerprint)

	_, err = LoadServerKeys(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestUpdateChatLifecycle(t *testing.T) {
	var allocated *model.Peer
	c := testClient(t, &Callbacks{OnPeerAllocated: func(p *model.Peer) { allocated = p }})

	short := func(fill func(w *protocol.Writer)) error {
		w := protocol.NewWriter(128)
		fill(w)
		w.WriteInt(1_700_000_400) // trailing date
		return c.handleUpdates(mtproto.TagUpdateShort, protocol.NewReader(w.Bytes()))
	}

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateNewChat)
		w.WriteInt(33)
		w.WriteString("book club")
		w.WriteInt(2)             // users_num
		w.WriteInt(1_700_000_400) // date
		w.WriteInt(1)             // version
	}))
	require.NotNil(t, allocated)
	p, ok := c.ent.LookupPeer(model.PeerID{Kind: model.PeerChat, ID: 33})
	require.True(t, ok)
	require.Equal(t, "book club", p.Chat.Title)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateChatTitle)
		w.WriteInt(33)
		w.WriteString("cinema club")
	}))
	require.Equal(t, "cinema club", p.Chat.Title)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateChatPhoto)
		w.WriteInt(33)
		w.WriteLong(9001)
	}))
	require.EqualValues(t, 9001, p.Chat.PhotoID)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateChatAddUser)
		w.WriteInt(33)
		w.WriteInt(12) // user
		w.WriteInt(5)  // inviter
		w.WriteInt(1_700_000_410)
		w.WriteInt(2) // version
	}))
	require.Len(t, p.Chat.Participants, 1)

	// A stale version is a redelivery, not an error.
	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateChatAddUser)
		w.WriteInt(33)
		w.WriteInt(13)
		w.WriteInt(5)
		w.WriteInt(1_700_000_410)
		w.WriteInt(2)
	}))
	require.Len(t, p.Chat.Participants, 1)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateChatUsers)
		w.WriteInt(33)
		w.WriteInt(3) // version
		w.WriteInt(2) // participants
		w.WriteInt(12)
		w.WriteInt(5)
		w.WriteInt(1_700_000_410)
		w.WriteInt(13)
		w.WriteInt(5)
		w.WriteInt(1_700_000_420)
	}))
	require.Len(t, p.Chat.Participants, 2)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateChatDelUser)
		w.WriteInt(33)
		w.WriteInt(12)
		w.WriteInt(4)
	}))
	require.Len(t, p.Chat.Participants, 1)
	require.EqualValues(t, 13, p.Chat.Participants[0].UserID)
}

func TestUpdateSecretChatLifecycle(t *testing.T) {
	var allocated *model.Peer
	c := testClient(t, &Callbacks{OnPeerAllocated: func(p *model.Peer) { allocated = p }})

	short := func(fill func(w *protocol.Writer)) error {
		w := protocol.NewWriter(128)
		fill(w)
		w.WriteInt(1_700_000_500)
		return c.handleUpdates(mtproto.TagUpdateShort, protocol.NewReader(w.Bytes()))
	}

	gKey := []byte{1, 2, 3, 4}
	nonce := []byte{9, 8, 7}
	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateEncryption)
		w.WriteUint(tagEncrChatRequested)
		w.WriteInt(7)
		w.WriteLong(0x5151)
		w.WriteInt(1_700_000_500)
		w.WriteInt(12) // admin
		w.WriteInt(77) // participant
		w.WriteBytes(gKey)
		w.WriteBytes(nonce)
	}))
	require.NotNil(t, allocated)
	p, ok := c.ent.LookupPeer(model.PeerID{Kind: model.PeerSecretChat, ID: 7})
	require.True(t, ok)
	require.Equal(t, model.SecretChatRequest, p.SecretChat.State)
	require.Equal(t, gKey, p.SecretChat.GKey)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateEncryption)
		w.WriteUint(tagEncrChatEstablished)
		w.WriteInt(7)
		w.WriteBytes([]byte("shared-key-material"))
		w.WriteLong(0x0badf00d)
	}))
	require.Equal(t, model.SecretChatOK, p.SecretChat.State)
	require.EqualValues(t, 0x0badf00d, p.SecretChat.KeyFingerprint)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateEncryption)
		w.WriteUint(tagEncrChatWaiting)
		w.WriteInt(8)
		w.WriteLong(0x6161)
		w.WriteInt(1_700_000_510)
		w.WriteInt(77)
		w.WriteInt(12)
	}))
	p8, ok := c.ent.LookupPeer(model.PeerID{Kind: model.PeerSecretChat, ID: 8})
	require.True(t, ok)
	require.Equal(t, model.SecretChatWaiting, p8.SecretChat.State)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateEncryption)
		w.WriteUint(tagEncrChatDiscarded)
		w.WriteInt(7)
	}))
	require.Equal(t, model.SecretChatDeleted, p.SecretChat.State)
	require.Empty(t, p.SecretChat.Key)

	err := short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateEncryption)
		w.WriteUint(0xdeadbeef)
	})
	require.ErrorIs(t, err, mtproto.ErrUnknownTag)
}

func TestUpdateMediaMessage(t *testing.T) {
	var got *model.Message
	c := testClient(t, &Callbacks{OnNewMessage: func(m *model.Message) { got = m }})

	short := func(id int32, fillMedia func(w *protocol.Writer)) error {
		w := protocol.NewWriter(128)
		w.WriteUint(tagUpdateNewMessageMedia)
		w.WriteInt(id)
		w.WriteInt(12) // from
		w.WriteInt(int32(model.PeerUser))
		w.WriteInt(77)
		w.WriteInt(1_700_000_600)
		w.WriteString("look at this")
		fillMedia(w)
		w.WriteInt(15)            // pts
		w.WriteInt(1_700_000_600) // trailing date
		return c.handleUpdates(mtproto.TagUpdateShort, protocol.NewReader(w.Bytes()))
	}

	require.NoError(t, short(700, func(w *protocol.Writer) {
		w.WriteUint(tagMediaPhoto)
		w.WriteLong(4242)
	}))
	require.NotNil(t, got)
	require.Equal(t, "look at this", got.Text)
	photo, ok := got.Media.(model.MediaPhoto)
	require.True(t, ok)
	require.EqualValues(t, 4242, photo.PhotoID)
	require.EqualValues(t, 15, c.ent.State.Pts)

	require.NoError(t, short(701, func(w *protocol.Writer) {
		w.WriteUint(tagMediaGeo)
		w.WriteDouble(59.93)
		w.WriteDouble(30.31)
	}))
	geo, ok := got.Media.(model.MediaGeo)
	require.True(t, ok)
	require.InDelta(t, 59.93, geo.Latitude, 1e-9)

	require.NoError(t, short(702, func(w *protocol.Writer) {
		w.WriteUint(tagMediaContact)
		w.WriteString("+155501")
		w.WriteString("Bob")
		w.WriteString("Ray")
		w.WriteInt(91)
	}))
	contact, ok := got.Media.(model.MediaContact)
	require.True(t, ok)
	require.EqualValues(t, 91, contact.UserID)

	err := short(703, func(w *protocol.Writer) {
		w.WriteUint(0xdeadbeef)
	})
	require.ErrorIs(t, err, mtproto.ErrUnknownTag)
}

func TestUpdateUserFlags(t *testing.T) {
	c := testClient(t, nil)
	require.NoError(t, c.log.DoNewUser(12, "Ann", "Lee", 0, "", false))
	p, ok := c.ent.LookupPeer(model.PeerID{Kind: model.PeerUser, ID: 12})
	require.True(t, ok)

	short := func(fill func(w *protocol.Writer)) error {
		w := protocol.NewWriter(64)
		fill(w)
		w.WriteInt(1_700_000_700)
		return c.handleUpdates(mtproto.TagUpdateShort, protocol.NewReader(w.Bytes()))
	}

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateContactLink)
		w.WriteInt(12)
		w.WriteInt(1)
	}))
	require.True(t, p.User.Contact)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateContactRename)
		w.WriteInt(12)
		w.WriteString("Annie")
		w.WriteString("L")
	}))
	require.Equal(t, "Annie", p.User.RealFirstName)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateUserBlocked)
		w.WriteInt(12)
		w.WriteInt(1)
	}))
	require.True(t, p.User.Blocked)

	require.NoError(t, short(func(w *protocol.Writer) {
		w.WriteUint(tagUpdateUserDeleted)
		w.WriteInt(12)
	}))
	require.NotZero(t, p.Flags&model.PeerFlagDeleted)
	require.False(t, p.User.Contact)
}
