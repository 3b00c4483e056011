package hub

import (
	"context"
	"errors"
	"fmt"

	"collabtext/internal/docstore"
	"collabtext/internal/ot"
	"collabtext/internal/protocol"
)

// Messages shown to clients.
const (
	msgSaveFailed   = "save failed, retrying"
	msgSaveConflict = "save rejected: the document store holds a newer version"
)

// Handle processes one decoded client message from s. User-visible outcomes,
// errors included, are delivered as events; the returned error is for the
// caller's logs.
func (h *Hub) Handle(ctx context.Context, s *Session, msg protocol.Inbound) error {
	switch m := msg.(type) {
	case protocol.ChangeRequest:
		return h.submit(s, m)
	case protocol.CursorMove:
		if err := h.touch(s); err != nil {
			return err
		}
		return h.UpdateCursor(s.room.id, s.identity.UserID, m.Position)
	case protocol.UndoRequest:
		return h.undo(s)
	case protocol.RedoRequest:
		return h.redo(s)
	case protocol.SaveRequest:
		return h.save(ctx, s)
	case protocol.SyncRequest:
		return h.sync(s)
	}
	return fmt.Errorf("unhandled message %T", msg)
}

// Reject tells s its message could not be understood.
func (h *Hub) Reject(s *Session, err error) {
	r := s.room
	r.mu.Lock()
	r.sendLocked(s, protocol.Error{Message: err.Error()})
	h.unlock(r)
}

// lockActive locks s's room and marks s active. It fails, leaving the room
// unlocked, if s has already left.
func (h *Hub) lockActive(s *Session) error {
	s.room.mu.Lock()
	if s.state == StateLeft {
		s.room.mu.Unlock()
		return ErrSessionLeft
	}
	s.state = StateActive
	s.lastSeen = h.opts.Now()
	return nil
}

func (h *Hub) touch(s *Session) error {
	if err := h.lockActive(s); err != nil {
		return err
	}
	h.unlock(s.room)
	return nil
}

// submit rebases a client change onto the current version, applies it and
// broadcasts the result. A change too far behind is rejected and the sender
// is sent a recovery snapshot.
func (h *Hub) submit(s *Session, m protocol.ChangeRequest) error {
	if err := h.lockActive(s); err != nil {
		return err
	}
	r := s.room
	defer h.unlock(r)

	op := m.Op
	op.Author = s.identity.UserID
	op.Origin = h.opts.Instance
	applied, err := r.state.Submit(op, m.BaseVersion)
	if err != nil {
		r.sendLocked(s, protocol.Error{Message: err.Error()})
		r.sendLocked(s, r.recoveryLocked())
		return err
	}
	s.log.Debug().Stringer("op", applied).Int("base", m.BaseVersion).
		Int("version", r.state.Version()).Msg("change applied")
	h.committedLocked(r, applied)
	return nil
}

func (h *Hub) undo(s *Session) error {
	if err := h.lockActive(s); err != nil {
		return err
	}
	r := s.room
	defer h.unlock(r)

	op, ok := r.state.Undo()
	if !ok {
		r.sendLocked(s, protocol.Error{Message: ErrNothingToUndo.Error()})
		return ErrNothingToUndo
	}
	op.Author = s.identity.UserID
	h.committedLocked(r, op)
	return nil
}

func (h *Hub) redo(s *Session) error {
	if err := h.lockActive(s); err != nil {
		return err
	}
	r := s.room
	defer h.unlock(r)

	op, ok := r.state.Redo()
	if !ok {
		r.sendLocked(s, protocol.Error{Message: ErrNothingToRedo.Error()})
		return ErrNothingToRedo
	}
	h.committedLocked(r, op)
	return nil
}

// committedLocked announces an operation just applied to r's state, locally
// and on the relay.
func (h *Hub) committedLocked(r *Room, op ot.Operation) {
	r.announceLocked(op, h.opts.Now())
	h.publishLocked(r, op)
}

func (h *Hub) sync(s *Session) error {
	if err := h.lockActive(s); err != nil {
		return err
	}
	s.room.sendLocked(s, s.room.recoveryLocked())
	h.unlock(s.room)
	return nil
}

// save flushes the document to the store in the background. Success is
// broadcast as document_saved; a conflict is reported to the requester; a
// store that stays unavailable is reported to everyone.
func (h *Hub) save(_ context.Context, s *Session) error {
	if err := h.lockActive(s); err != nil {
		return err
	}
	r := s.room
	text, version := r.state.Text(), r.state.Version()
	creds := s.credentials()
	h.unlock(r)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(h.ctx, h.opts.FlushTimeout)
		defer cancel()
		err := h.store.Save(ctx, r.id, text, version, creds)

		r.mu.Lock()
		defer h.unlock(r)
		if r.closed {
			return
		}
		switch {
		case err == nil:
			r.savedVersion = max(r.savedVersion, version)
			r.broadcastLocked(protocol.DocumentSaved{
				UserID:    s.identity.UserID,
				Version:   version,
				Timestamp: h.opts.Now(),
			})
			r.log.Info().Int("version", version).Str("user", s.identity.UserID).Msg("document saved")
		case errors.Is(err, docstore.ErrConflict):
			r.sendLocked(s, protocol.Error{Message: msgSaveConflict})
			r.log.Warn().Int("version", version).Msg("save conflict")
		default:
			r.broadcastLocked(protocol.Error{Message: msgSaveFailed})
			r.log.Error().Err(err).Int("version", version).Msg("save document")
		}
	}()
	return nil
}
