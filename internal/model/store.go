package model

import (
	"errors"
	"fmt"
)

var (
	// ErrPeerExists is returned when inserting a peer whose id is taken.
	ErrPeerExists = errors.New("peer already exists")

	// ErrNotFound is returned by lookups for unknown ids.
	ErrNotFound = errors.New("not found")

	// ErrMessageExists is returned when inserting a message whose id is taken.
	ErrMessageExists = errors.New("message already exists")
)

// Store is the in-memory entity store: peers indexed by id and by print
// name, messages indexed by id with a per-conversation list and a pending
// send queue. It is mutated from a single goroutine (the binlog apply
// path), so it carries no locks.
type Store struct {
	// Session-global state, mutated only through binlog events.
	DCs       map[int32]*DC
	WorkingDC int32
	OurID     int32
	State     ProtoState
	DH        *DHConfig

	peersByID   map[PeerID]*Peer
	peersByName map[string]*Peer

	messages map[int64]*Message

	// Conversation list heads/tails, newest at tail.
	convHead map[PeerID]*Message
	convTail map[PeerID]*Message

	pendingOrder []int64
	pendingSet   map[int64]struct{}
}

// NewStore creates an empty entity store.
func NewStore() *Store {
	return &Store{
		DCs:         make(map[int32]*DC),
		peersByID:   make(map[PeerID]*Peer),
		peersByName: make(map[string]*Peer),
		messages:    make(map[int64]*Message),
		convHead:    make(map[PeerID]*Message),
		convTail:    make(map[PeerID]*Message),
		pendingSet:  make(map[int64]struct{}),
	}
}

// InsertPeer adds a new peer. Its print name is disambiguated against the
// name index before insertion; the stored name may differ from the
// requested one (see SetPeerName).
func (s *Store) InsertPeer(p *Peer) error {
	if _, ok := s.peersByID[p.ID]; ok {
		return fmt.Errorf("peer %v/%d: %w", p.ID.Kind, p.ID.ID, ErrPeerExists)
	}
	s.peersByID[p.ID] = p
	p.PrintName = s.claimName(p.PrintName, p)
	return nil
}

// LookupPeer returns the peer with the given id.
func (s *Store) LookupPeer(id PeerID) (*Peer, bool) {
	p, ok := s.peersByID[id]
	return p, ok
}

// LookupPeerByName resolves a print name to a peer.
func (s *Store) LookupPeerByName(name string) (*Peer, bool) {
	p, ok := s.peersByName[name]
	return p, ok
}

// PeerCount returns the number of known peers.
func (s *Store) PeerCount() int {
	return len(s.peersByID)
}

// SetPeerName changes a peer's print name, atomically fixing the name
// index: the old entry is removed and the new one claimed in one step, so
// a stale index entry can never be observed.
func (s *Store) SetPeerName(p *Peer, name string) {
	if p.PrintName == name {
		return
	}
	if cur, ok := s.peersByName[p.PrintName]; ok && cur == p {
		delete(s.peersByName, p.PrintName)
	}
	p.PrintName = s.claimName(name, p)
}

// claimName registers a name for p, probing "#2", "#3", ... suffixes until
// a free slot is found. The probe order is deterministic: address-by-name
// lookups depend on it.
func (s *Store) claimName(base string, p *Peer) string {
	name := base
	for n := 2; ; n++ {
		if _, taken := s.peersByName[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s#%d", base, n)
	}
	s.peersByName[name] = p
	return name
}

// InsertMessage adds a new message and links it at the tail of its
// conversation. Pending messages are also queued for send bookkeeping.
func (s *Store) InsertMessage(m *Message) error {
	if _, ok := s.messages[m.ID]; ok {
		return fmt.Errorf("message %d: %w", m.ID, ErrMessageExists)
	}
	s.messages[m.ID] = m
	s.linkConversation(m)
	if m.Pending() {
		s.pendingSet[m.ID] = struct{}{}
		s.pendingOrder = append(s.pendingOrder, m.ID)
	}
	return nil
}

// LookupMessage returns the message with the given id.
func (s *Store) LookupMessage(id int64) (*Message, bool) {
	m, ok := s.messages[id]
	return m, ok
}

// MessageCount returns the number of stored messages.
func (s *Store) MessageCount() int {
	return len(s.messages)
}

// RekeyMessage moves a message from its client-random id to the
// server-assigned one. The re-index is atomic: the old id is removed
// before the new one is inserted, so both ids are never live at once.
// If newID collides with an existing message the rekeyed one is a
// duplicate: it is discarded and the existing message stays canonical.
// Returns the surviving message.
func (s *Store) RekeyMessage(oldID, newID int64) (*Message, error) {
	m, ok := s.messages[oldID]
	if !ok {
		return nil, fmt.Errorf("rekey message %d: %w", oldID, ErrNotFound)
	}
	if oldID == newID {
		return m, nil
	}

	delete(s.messages, oldID)
	s.dropPending(oldID)

	if existing, collision := s.messages[newID]; collision {
		s.unlinkConversation(m)
		return existing, nil
	}

	m.ID = newID
	m.Flags &^= MessageFlagPending
	s.messages[newID] = m
	return m, nil
}

// DeleteMessage unlinks a message from every index and marks it deleted.
func (s *Store) DeleteMessage(id int64) error {
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("delete message %d: %w", id, ErrNotFound)
	}
	delete(s.messages, id)
	s.dropPending(id)
	s.unlinkConversation(m)
	m.Flags |= MessageFlagDeleted
	m.Media = nil
	m.Action = nil
	return nil
}

// Conversation returns the messages of a conversation in list order.
func (s *Store) Conversation(peer PeerID) []*Message {
	var out []*Message
	for m := s.convHead[peer]; m != nil; m = m.next {
		out = append(out, m)
	}
	return out
}

// PendingMessages returns the pending-send queue in insertion order.
func (s *Store) PendingMessages() []*Message {
	out := make([]*Message, 0, len(s.pendingSet))
	for _, id := range s.pendingOrder {
		if _, ok := s.pendingSet[id]; !ok {
			continue
		}
		if m, ok := s.messages[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) linkConversation(m *Message) {
	tail := s.convTail[m.To]
	if tail == nil {
		s.convHead[m.To] = m
		s.convTail[m.To] = m
		return
	}
	tail.next = m
	m.prev = tail
	s.convTail[m.To] = m
}

func (s *Store) unlinkConversation(m *Message) {
	if m.prev != nil {
		m.prev.next = m.next
	} else if s.convHead[m.To] == m {
		s.convHead[m.To] = m.next
	}
	if m.next != nil {
		m.next.prev = m.prev
	} else if s.convTail[m.To] == m {
		s.convTail[m.To] = m.prev
	}
	m.prev = nil
	m.next = nil
}

func (s *Store) dropPending(id int64) {
	delete(s.pendingSet, id)
}
