package binlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/udmitri/mtgo/internal/model"
	"github.com/udmitri/mtgo/internal/protocol"
)

var (
	// ErrMalformedEvent is returned when an event's payload does not parse
	// or is not consumed exactly.
	ErrMalformedEvent = errors.New("malformed binlog event")

	// ErrStaleVersion is returned when a versioned event carries a version
	// not strictly greater than the stored one. Non-fatal: servers may
	// legitimately redeliver, callers log and ignore.
	ErrStaleVersion = errors.New("stale version")
)

// logMagic is the first record of every log file.
const logMagic uint32 = 0x6d74676c

// Store is the typed event log: the exclusive gateway for mutating durable
// entity state, and the replay mechanism that rebuilds it from disk.
// Single-writer: one Store owns its log file for the whole login session.
type Store struct {
	path      string
	f         *os.File
	ent       *model.Store
	replaying bool
}

// Open opens (or creates) the log file at path, binding it to the entity
// store it mutates. Call Replay to load existing state.
func Open(path string, ent *model.Store) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening binlog %s: %w", path, err)
	}

	s := &Store{path: path, f: f, ent: ent}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat binlog %s: %w", path, err)
	}
	if info.Size() == 0 {
		// Fresh log: write the start record.
		w := protocol.NewWriter(8)
		w.WriteUint(TagStart)
		w.WriteUint(logMagic)
		if err := s.append(w.Bytes()); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Entities returns the entity store this log mutates.
func (s *Store) Entities() *model.Store {
	return s.ent
}

// Close closes the log file.
func (s *Store) Close() error {
	return s.f.Close()
}

// Replay reads the whole log from the start and applies every event to the
// entity store. Emission is suppressed for the duration: replay rebuilds
// state, it never extends the log.
func (s *Store) Replay() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking binlog: %w", err)
	}

	data, err := io.ReadAll(s.f)
	if err != nil {
		return fmt.Errorf("reading binlog: %w", err)
	}

	s.replaying = true
	defer func() { s.replaying = false }()

	r := protocol.NewReader(data)
	n := 0
	for r.Remaining() > 0 {
		recLen, err := r.ReadUint()
		if err != nil {
			return fmt.Errorf("binlog record %d: %w", n, err)
		}
		rec, err := r.SubReader(int(recLen))
		if err != nil {
			return fmt.Errorf("binlog record %d (len %d): %w", n, recLen, err)
		}
		if err := s.applyRecord(rec); err != nil {
			if errors.Is(err, ErrStaleVersion) {
				// A replayed event was accepted once; a stale version here
				// means redelivery made it into the log. Ignore.
				slog.Warn("stale version during replay", "record", n)
				continue
			}
			return fmt.Errorf("binlog record %d: %w", n, err)
		}
		n++
	}
	slog.Debug("binlog replayed", "path", s.path, "events", n)
	return nil
}

// applyRecord decodes one event (tag + payload) and mutates the entity
// store. The payload must be consumed exactly.
func (s *Store) applyRecord(r *protocol.Reader) error {
	tag, err := r.ReadUint()
	if err != nil {
		return fmt.Errorf("%w: reading tag: %w", ErrMalformedEvent, err)
	}

	if err := s.apply(tag, r); err != nil {
		if errors.Is(err, ErrStaleVersion) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrMalformedEvent, tagName(tag), err)
	}
	if err := r.ExpectEOF(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedEvent, tagName(tag), err)
	}
	return nil
}

// emit applies an already-serialized event to in-memory state and then
// appends it to the log, in that order: the caller observes consistent
// state immediately, persistence catches up on restart via replay.
// Inside a replay, emission is a persistence no-op; reaching this path
// there is a logic error in an apply handler.
func (s *Store) emit(w *protocol.Writer) error {
	if s.replaying {
		slog.Error("binlog emit during replay suppressed")
		return nil
	}
	if err := s.applyRecord(protocol.NewReader(w.Bytes())); err != nil {
		return err
	}
	return s.append(w.Bytes())
}

func (s *Store) append(rec []byte) error {
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seeking binlog end: %w", err)
	}
	hdr := protocol.NewWriter(4)
	hdr.WriteUint(uint32(len(rec)))
	if _, err := s.f.Write(hdr.Bytes()); err != nil {
		return fmt.Errorf("appending binlog header: %w", err)
	}
	if _, err := s.f.Write(rec); err != nil {
		return fmt.Errorf("appending binlog event: %w", err)
	}
	return nil
}
