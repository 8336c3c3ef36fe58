package client

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/udmitri/mtgo/internal/binlog"
	"github.com/udmitri/mtgo/internal/config"
	"github.com/udmitri/mtgo/internal/crypto"
	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/mtproto"
	"github.com/udmitri/mtgo/internal/protocol"
)

// Outgoing request constructors.
const (
	tagReqSendMessage   uint32 = 0x4cde0aab
	tagSentMessage      uint32 = 0xd1f4d35c
	tagReqGetDifference uint32 = 0x0a041495
	tagDifference       uint32 = 0x00f49ca0
)

// Client is the top-level per-login controller. It owns the binlog and
// entity stores, the DC table, and the working DC's connection, and it
// funnels every durable mutation through a binlog emitter.
//
// One mutex serializes all protocol and state work; the entity store
// itself stays lock-free under the single-mutator rule.
type Client struct {
	cfg  config.Client
	cb   *Callbacks
	keys []*crypto.ServerKey

	mu      sync.Mutex
	ent     *model.Store
	log     *binlog.Store
	queries *queryTable
	session *mtproto.Session
	framer  *mtproto.Framer
	ready   bool

	phoneCodeHash string

	now func() time.Time
}

// New opens (or creates) the client's durable state and replays it.
func New(cfg config.Client, cb *Callbacks) (*Client, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}

	keys, err := LoadServerKeys(cfg.KeyPath())
	if err != nil {
		return nil, err
	}

	ent := model.NewStore()
	log, err := binlog.Open(cfg.BinlogPath(), ent)
	if err != nil {
		return nil, err
	}
	if err := log.Replay(); err != nil {
		log.Close()
		return nil, fmt.Errorf("replaying binlog: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		cb:      cb,
		keys:    keys,
		ent:     ent,
		log:     log,
		queries: newQueryTable(),
		now:     time.Now,
	}
	if err := c.seedDCs(); err != nil {
		log.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the binlog file handle.
func (c *Client) Close() error {
	return c.log.Close()
}

// Entities exposes the replayed entity store for read-side consumers.
// Mutation stays exclusive to the binlog apply path, which runs while the
// client mutex is held. The store itself takes no locks, so callers must
// only touch it from within Callbacks invocations (delivered under that
// mutex) or before Run starts.
func (c *Client) Entities() *model.Store {
	return c.ent
}

// seedDCs records configured datacenters the binlog does not know yet.
func (c *Client) seedDCs() error {
	for _, dc := range c.cfg.DCs {
		if _, ok := c.ent.DCs[dc.ID]; ok {
			continue
		}
		if err := c.log.DoDCOption(dc.ID, dc.Host, int32(dc.Port)); err != nil {
			return err
		}
	}
	if c.ent.WorkingDC == 0 {
		if err := c.log.DoSetWorkingDC(c.cfg.DefaultDC); err != nil {
			return err
		}
	}
	if _, ok := c.ent.DCs[c.ent.WorkingDC]; !ok {
		return fmt.Errorf("working DC %d has no address", c.ent.WorkingDC)
	}
	return nil
}

// Run connects to the working DC and serves it until ctx is cancelled.
// Connection failures reconnect with exponential backoff; a connection
// that lived long enough resets the backoff.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(c.cfg.ReconnectMinDelay) * time.Millisecond
	bo.MaxInterval = time.Duration(c.cfg.ReconnectMaxDelay) * time.Second
	bo.MaxElapsedTime = 0

	for {
		started := c.now()
		err := c.serveConn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("connection lost", "dc", c.ent.WorkingDC, "err", err)

		if c.now().Sub(started) > time.Minute {
			bo.Reset()
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send encrypts and transmits one content request, registering the
// response callbacks under the allocated message id.
func (c *Client) Send(payload []byte, onResult func(*protocol.Reader) error, onError func(error)) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(payload, onResult, onError)
}

func (c *Client) sendLocked(payload []byte, onResult func(*protocol.Reader) error, onError func(error)) (int64, error) {
	if c.session == nil {
		return 0, fmt.Errorf("dc %d: not connected", c.ent.WorkingDC)
	}
	env, msgID, err := c.session.Encrypt(payload, true)
	if err != nil {
		return 0, err
	}
	c.queries.add(&pendingQuery{
		msgID:    msgID,
		payload:  payload,
		deadline: c.now().Add(time.Duration(c.cfg.QueryTimeout) * time.Second),
		onResult: onResult,
		onError:  onError,
	})
	if err := c.framer.WriteFrame(env); err != nil {
		c.queries.take(msgID)
		return 0, err
	}
	return msgID, nil
}

// SendText records an outgoing text message under a client-random id and
// submits it. The message stays pending until the server confirms it and
// the confirmation rekeys it to the server-assigned id.
func (c *Client) SendText(to model.PeerID, text string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	randomID := int64(rand.Uint64() &^ (1 << 63))
	args := binlog.MessageArgs{
		ID:     randomID,
		Flags:  model.MessageFlagOut,
		FromID: c.ent.OurID,
		To:     to,
		Date:   int32(c.now().Unix()),
	}
	if err := c.log.DoSendMessageText(args, text); err != nil {
		return 0, err
	}

	w := protocol.NewWriter(32 + len(text))
	w.WriteUint(tagReqSendMessage)
	w.WriteInt(int32(to.Kind))
	w.WriteInt(to.ID)
	w.WriteLong(randomID)
	w.WriteString(text)

	_, err := c.sendLocked(w.Bytes(),
		func(body *protocol.Reader) error { return c.confirmSent(randomID, body) },
		func(err error) {
			slog.Error("send failed", "random_id", randomID, "err", err)
		})
	if err != nil {
		return 0, err
	}
	return randomID, nil
}

// confirmSent applies a sent_message answer: rekey to the server id.
func (c *Client) confirmSent(randomID int64, body *protocol.Reader) error {
	tag, err := body.ReadUint()
	if err != nil {
		return err
	}
	if tag != tagSentMessage {
		return fmt.Errorf("sent_message answer 0x%08x: %w", tag, mtproto.ErrUnknownTag)
	}
	id, err := body.ReadInt()
	if err != nil {
		return err
	}
	date, err := body.ReadInt()
	if err != nil {
		return err
	}
	pts, err := body.ReadInt()
	if err != nil {
		return err
	}
	if err := c.log.DoMessageSent(randomID, id); err != nil {
		return err
	}
	c.bumpPts(pts)
	c.bumpDate(date)
	return nil
}

// CompleteRegistration records the authenticated account id, unblocking
// the ready state on the next connection.
func (c *Client) CompleteRegistration(userID int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.DoSetOurID(userID)
}

// requestDifference asks the server to replay everything past our
// counters. Triggered by updates_too_long.
func (c *Client) requestDifference() {
	w := protocol.NewWriter(20)
	w.WriteUint(tagReqGetDifference)
	w.WriteInt(c.ent.State.Pts)
	w.WriteInt(c.ent.State.Qts)
	w.WriteInt(c.ent.State.Date)

	_, err := c.sendLocked(w.Bytes(), c.applyDifference, func(err error) {
		slog.Error("difference request failed", "err", err)
	})
	if err != nil {
		slog.Error("difference request not sent", "err", err)
	}
}

// applyDifference replays a difference answer through the update funnel.
func (c *Client) applyDifference(body *protocol.Reader) error {
	tag, err := body.ReadUint()
	if err != nil {
		return err
	}
	if tag != tagDifference {
		return fmt.Errorf("difference answer 0x%08x: %w", tag, mtproto.ErrUnknownTag)
	}
	count, err := body.ReadInt()
	if err != nil {
		return err
	}
	for i := int32(0); i < count; i++ {
		if err := c.applyUpdate(body); err != nil {
			return fmt.Errorf("difference update %d of %d: %w", i+1, count, err)
		}
	}
	pts, err := body.ReadInt()
	if err != nil {
		return err
	}
	qts, err := body.ReadInt()
	if err != nil {
		return err
	}
	seq, err := body.ReadInt()
	if err != nil {
		return err
	}
	date, err := body.ReadInt()
	if err != nil {
		return err
	}
	c.bumpPts(pts)
	c.bumpQts(qts)
	c.bumpSeq(seq)
	c.bumpDate(date)
	return body.ExpectEOF()
}
