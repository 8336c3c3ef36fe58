package client

import (
	"fmt"
	"log/slog"

	"github.com/udmitri/mtgo/internal/mtproto"
	"github.com/udmitri/mtgo/internal/protocol"
)

// Registration flow constructors.
const (
	tagReqSendCode    uint32 = 0x768d5f4d
	tagSentCode       uint32 = 0xefed51d9
	tagReqSignIn      uint32 = 0xbcd51581
	tagAuthAuthorized uint32 = 0xf6b673a4
)

// SubmitPhone starts the login flow for a phone number. On success the
// server issues a code out of band and the client asks the UI for it.
func (c *Client) SubmitPhone(phone string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := protocol.NewWriter(16 + len(phone))
	w.WriteUint(tagReqSendCode)
	w.WriteString(phone)

	_, err := c.sendLocked(w.Bytes(),
		func(body *protocol.Reader) error {
			tag, err := body.ReadUint()
			if err != nil {
				return err
			}
			if tag != tagSentCode {
				return fmt.Errorf("sent_code answer 0x%08x: %w", tag, mtproto.ErrUnknownTag)
			}
			hash, err := body.ReadString()
			if err != nil {
				return err
			}
			c.phoneCodeHash = hash
			if c.cb != nil && c.cb.OnClientRegistrationRequired != nil {
				c.cb.OnClientRegistrationRequired()
			}
			return nil
		},
		func(err error) {
			slog.Error("phone submission rejected", "err", err)
			if c.cb != nil && c.cb.OnPhoneRegistrationRequired != nil {
				c.cb.OnPhoneRegistrationRequired()
			}
		})
	return err
}

// SubmitCode completes the login flow with the code the user received.
// A rejected code re-invokes the registration callback.
func (c *Client) SubmitCode(phone, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := protocol.NewWriter(32 + len(phone) + len(code))
	w.WriteUint(tagReqSignIn)
	w.WriteString(phone)
	w.WriteString(c.phoneCodeHash)
	w.WriteString(code)

	_, err := c.sendLocked(w.Bytes(),
		func(body *protocol.Reader) error {
			tag, err := body.ReadUint()
			if err != nil {
				return err
			}
			if tag != tagAuthAuthorized {
				return fmt.Errorf("sign_in answer 0x%08x: %w", tag, mtproto.ErrUnknownTag)
			}
			userID, err := body.ReadInt()
			if err != nil {
				return err
			}
			if err := c.log.DoSetOurID(userID); err != nil {
				return err
			}
			if !c.ready {
				c.ready = true
				c.cb.ready()
			}
			return nil
		},
		func(err error) {
			slog.Error("sign in rejected", "err", err)
			if c.cb != nil && c.cb.OnClientRegistrationRequired != nil {
				c.cb.OnClientRegistrationRequired()
			}
		})
	return err
}
