package client

import "github.com/udmitri/mtgo/internal/model"

// Callbacks is the outbound event surface consumed by a UI layer. Nil
// fields are skipped. Callbacks fire synchronously from the client's
// update path and must not call back into the client.
type Callbacks struct {
	// OnReady fires once the working DC is authorized and replayed state
	// is consistent.
	OnReady func()

	// OnNewMessage fires for every message recorded from the update
	// stream, after it was applied to the entity store.
	OnNewMessage func(m *model.Message)

	// OnPeerAllocated fires when a peer is first fully created.
	OnPeerAllocated func(p *model.Peer)

	// OnUserStatusChanged fires on presence updates. Status is held in
	// memory only; it is deliberately not logged.
	OnUserStatusChanged func(p *model.Peer)

	// OnUserTyping fires on typing notifications for user or chat
	// conversations.
	OnUserTyping func(p *model.Peer)

	// OnPhoneRegistrationRequired asks the UI for a phone number.
	OnPhoneRegistrationRequired func()

	// OnClientRegistrationRequired asks the UI for a login code. It is
	// re-invoked when the server rejects a submitted code.
	OnClientRegistrationRequired func()
}

func (c *Callbacks) ready() {
	if c != nil && c.OnReady != nil {
		c.OnReady()
	}
}

func (c *Callbacks) newMessage(m *model.Message) {
	if c != nil && c.OnNewMessage != nil {
		c.OnNewMessage(m)
	}
}

func (c *Callbacks) peerAllocated(p *model.Peer) {
	if c != nil && c.OnPeerAllocated != nil {
		c.OnPeerAllocated(p)
	}
}

func (c *Callbacks) userStatus(p *model.Peer) {
	if c != nil && c.OnUserStatusChanged != nil {
		c.OnUserStatusChanged(p)
	}
}

func (c *Callbacks) userTyping(p *model.Peer) {
	if c != nil && c.OnUserTyping != nil {
		c.OnUserTyping(p)
	}
}
