package client

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/mtproto"
	"github.com/udmitri/mtgo/internal/protocol"
)

// serveConn dials the working DC, completes or restores its auth, and
// pumps the connection until it fails or ctx is cancelled.
func (c *Client) serveConn(ctx context.Context) error {
	dc := c.ent.DCs[c.ent.WorkingDC]

	dialer := net.Dialer{Timeout: time.Duration(c.cfg.ConnectTimeout) * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", dc.Host, dc.Port))
	if err != nil {
		return fmt.Errorf("dialing dc %d: %w", dc.ID, err)
	}
	defer conn.Close()

	framer := mtproto.NewFramer(conn)
	if !dc.HasKey {
		if err := c.handshake(dc, framer); err != nil {
			return err
		}
	}

	session, err := mtproto.NewSession(mtproto.SessionConfig{
		AuthKey:   dc.AuthKey,
		AuthKeyID: dc.KeyFingerprint,
		Salt:      dc.Salt,
		TimeSkew:  dc.TimeSkew,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = session
	c.framer = framer
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.session = nil
		c.framer = nil
		c.queries.failAll(fmt.Errorf("dc %d: connection closed", dc.ID))
		c.mu.Unlock()
	}()

	slog.Info("connected", "dc", dc.ID, "addr", conn.RemoteAddr())
	c.announce()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		conn.Close() // unblocks the read loop
		return nil
	})
	g.Go(func() error { return c.readLoop(framer, session) })
	g.Go(func() error { return c.pingLoop(gctx) })
	g.Go(func() error { return c.sweepLoop(gctx) })
	return g.Wait()
}

// handshake runs the key exchange on a fresh connection and persists the
// negotiated key material.
func (c *Client) handshake(dc *model.DC, framer *mtproto.Framer) error {
	hs := mtproto.NewHandshake(dc.ID, c.keys)

	out, err := hs.Start()
	if err != nil {
		return err
	}
	for out != nil {
		if err := framer.WriteFrame(mtproto.EncodePlain(plainMsgID(c.now()), out)); err != nil {
			return err
		}
		frame, err := framer.ReadFrame()
		if err != nil {
			return err
		}
		_, payload, err := mtproto.DecodePlain(frame)
		if err != nil {
			return err
		}
		out, err = hs.Handle(protocol.NewReader(payload))
		if err != nil {
			return err
		}
	}

	res := hs.Result()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.log.DoSetAuthKey(dc.ID, res.AuthKey[:]); err != nil {
		return err
	}
	if err := c.log.DoSetDCSalt(dc.ID, res.Salt); err != nil {
		return err
	}
	// Clock skew is a per-process estimate, refreshed on every handshake.
	dc.TimeSkew = res.TimeSkew
	return nil
}

// announce fires the login-phase callback matching replayed state.
func (c *Client) announce() {
	c.mu.Lock()
	registered := c.ent.OurID != 0
	wasReady := c.ready
	if registered {
		c.ready = true
	}
	c.mu.Unlock()

	switch {
	case !registered:
		if c.cb != nil && c.cb.OnPhoneRegistrationRequired != nil {
			c.cb.OnPhoneRegistrationRequired()
		}
	case !wasReady:
		c.cb.ready()
	}
}

// readLoop decrypts and dispatches inbound frames until the connection
// breaks. Any dispatch error is connection-fatal: bytes after a framing
// or integrity failure cannot be trusted.
func (c *Client) readLoop(framer *mtproto.Framer, session *mtproto.Session) error {
	handlers := &mtproto.Handlers{
		OnRPCResult:    c.queries.resolve,
		OnUpdate:       c.handleUpdates,
		OnSaltChanged:  c.saltChanged,
		OnRetransmit:   c.retransmit,
		OnAcks:         c.acked,
		OnResyncNeeded: c.requestDifference,
	}

	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			return err
		}

		c.mu.Lock()
		err = func() error {
			msgID, seqNo, payload, err := session.Decrypt(frame)
			if err != nil {
				return err
			}
			if err := session.Dispatch(msgID, seqNo, payload, handlers); err != nil {
				return err
			}
			if ack := session.AckPayload(); ack != nil {
				env, _, err := session.Encrypt(ack, false)
				if err != nil {
					return err
				}
				return framer.WriteFrame(env)
			}
			return nil
		}()
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// pingLoop keeps the session alive.
func (c *Client) pingLoop(ctx context.Context) error {
	interval := time.Duration(c.cfg.PingInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.mu.Lock()
			err := func() error {
				if c.session == nil {
					return nil
				}
				env, _, err := c.session.Encrypt(mtproto.PingPayload(rand.Int63()), false)
				if err != nil {
					return err
				}
				return c.framer.WriteFrame(env)
			}()
			c.mu.Unlock()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// sweepLoop times out stale queries.
func (c *Client) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			c.mu.Lock()
			expired := c.queries.expire(now)
			c.mu.Unlock()
			for _, q := range expired {
				slog.Warn("query timed out", "msg_id", q.msgID)
				if q.onError != nil {
					q.onError(ErrQueryTimeout)
				}
			}
		}
	}
}

// saltChanged persists a server-assigned salt.
func (c *Client) saltChanged(salt int64) {
	if err := c.log.DoSetDCSalt(c.ent.WorkingDC, salt); err != nil {
		slog.Error("persisting salt", "dc", c.ent.WorkingDC, "err", err)
	}
}

// retransmit resends a query the server rejected for a stale salt, under
// a fresh message id and the corrected salt.
func (c *Client) retransmit(msgID int64) {
	q, ok := c.queries.get(msgID)
	if !ok || c.session == nil {
		return
	}
	env, newID, err := c.session.Encrypt(q.payload, true)
	if err != nil {
		slog.Error("retransmit encrypt", "msg_id", msgID, "err", err)
		return
	}
	c.queries.rekey(msgID, newID)
	if err := c.framer.WriteFrame(env); err != nil {
		slog.Error("retransmit write", "msg_id", newID, "err", err)
	}
}

// acked drops server-confirmed outgoing ids from pending bookkeeping.
func (c *Client) acked(msgIDs []int64) {
	slog.Debug("acknowledged", "count", len(msgIDs))
}

// plainMsgID derives a message id for the unauthenticated phase.
func plainMsgID(now time.Time) int64 {
	frac := uint64(now.Nanosecond()) << 32 / 1e9
	return (now.Unix()<<32 | int64(frac)) &^ 3
}
