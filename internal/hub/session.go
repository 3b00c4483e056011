package hub

import (
	"time"

	"github.com/rs/zerolog"

	"collabtext/internal/docstore"
)

// Conn is the transport a session writes to. WriteMessage is only ever
// called from the session's writer goroutine.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// State is a session's lifecycle position. Left is terminal.
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateActive
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateLeft:
		return "left"
	}
	return "unknown"
}

// Identity is what the auth layer established about a connection.
type Identity struct {
	UserID      string
	DisplayName string
	Token       string
}

// Session is one connection bound to one document.
type Session struct {
	id       string
	identity Identity
	conn     Conn
	room     *Room
	send     chan []byte
	done     chan struct{}
	log      zerolog.Logger

	// Guarded by room.mu.
	state    State
	cursor   int
	lastSeen time.Time
}

func (s *Session) ID() string          { return s.id }
func (s *Session) DocumentID() string  { return s.room.id }
func (s *Session) UserID() string      { return s.identity.UserID }
func (s *Session) DisplayName() string { return s.identity.DisplayName }

// Done is closed once the session's writer has stopped and the connection
// has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.room.mu.Lock()
	defer s.room.mu.Unlock()
	return s.state
}

func (s *Session) credentials() docstore.Credentials {
	return docstore.Credentials{UserID: s.identity.UserID, Token: s.identity.Token}
}

// enqueue hands data to the writer without blocking. Must be called with
// room.mu held; false means the session cannot keep up.
func (s *Session) enqueue(data []byte) bool {
	if s.state == StateLeft {
		return true
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send channel into the connection until the channel is
// closed by dismissal. The first failed write evicts the session; anything
// still queued after that is discarded.
func (h *Hub) writePump(s *Session) {
	defer close(s.done)
	failed := false
	for msg := range s.send {
		if failed {
			continue
		}
		if err := s.conn.WriteMessage(msg); err != nil {
			failed = true
			s.log.Debug().Err(err).Msg("write failed, evicting session")
			h.Dismiss(s)
		}
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close connection")
	}
}
