package hub

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"collabtext/internal/docstore"
	"collabtext/internal/ot"
	"collabtext/internal/protocol"
)

// Room is the live state of one document on this instance.
type Room struct {
	id  string
	log zerolog.Logger

	// ready is closed once the document has been loaded; loadErr is set
	// before that if loading failed.
	ready   chan struct{}
	loadErr error
	// gone is closed once a torn-down room has left the hub's table.
	gone chan struct{}
	// waiting counts admitters between finding the room and joining it.
	waiting atomic.Int32

	mu           sync.Mutex
	state        *ot.State
	sessions     []*Session
	closed       bool
	savedVersion int
	lastCreds    docstore.Credentials
	evict        []*Session

	// Relay bookkeeping, see mirror.go.
	outbox       chan relayEvent
	stopMirror   func()
	cursor       string
	startVersion int
	entryVersion map[string]int
	entryOrder   []string
	lastFrom     map[string]int
}

func newRoom(id string, log zerolog.Logger) *Room {
	return &Room{
		id:           id,
		log:          log.With().Str("doc", id).Logger(),
		ready:        make(chan struct{}),
		gone:         make(chan struct{}),
		entryVersion: make(map[string]int),
		lastFrom:     make(map[string]int),
	}
}

// broadcastLocked enqueues ev for every session. Sessions that cannot accept
// it are queued for eviction once the lock is released.
func (r *Room) broadcastLocked(ev protocol.Outbound) {
	data, err := protocol.Encode(ev)
	if err != nil {
		r.log.Error().Err(err).Str("event", string(ev.Type())).Msg("encode broadcast")
		return
	}
	for _, s := range r.sessions {
		if !s.enqueue(data) {
			r.evict = append(r.evict, s)
		}
	}
}

// sendLocked enqueues ev for a single session.
func (r *Room) sendLocked(s *Session, ev protocol.Outbound) {
	data, err := protocol.Encode(ev)
	if err != nil {
		r.log.Error().Err(err).Str("event", string(ev.Type())).Msg("encode message")
		return
	}
	if !s.enqueue(data) {
		r.evict = append(r.evict, s)
	}
}

// presenceLocked derives the presence view from the live sessions. A user
// connected more than once is listed once, with their most recently active
// session's cursor.
func (r *Room) presenceLocked() protocol.Presence {
	byUser := make(map[string]protocol.PresenceUser, len(r.sessions))
	for _, s := range r.sessions {
		cur, ok := byUser[s.identity.UserID]
		if ok && !s.lastSeen.After(cur.LastSeen) {
			continue
		}
		byUser[s.identity.UserID] = protocol.PresenceUser{
			UserID:         s.identity.UserID,
			DisplayName:    s.identity.DisplayName,
			CursorPosition: s.cursor,
			LastSeen:       s.lastSeen,
		}
	}
	users := make([]protocol.PresenceUser, 0, len(byUser))
	for _, u := range byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return protocol.Presence{Users: users}
}

func (r *Room) recoveryLocked() protocol.Recovery {
	return protocol.Recovery{Text: r.state.Text(), Version: r.state.Version()}
}

// announceLocked broadcasts an applied operation and who made it.
func (r *Room) announceLocked(op ot.Operation, now time.Time) {
	r.broadcastLocked(protocol.Changed{Op: op, Version: r.state.Version()})
	r.broadcastLocked(protocol.Attribution{Author: op.Author, Op: op, Timestamp: now})
}

// removeLocked detaches s and marks it Left. It reports whether s was still
// a member.
func (r *Room) removeLocked(s *Session) bool {
	if s.state == StateLeft {
		return false
	}
	for i, other := range r.sessions {
		if other == s {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			break
		}
	}
	s.state = StateLeft
	close(s.send)
	return true
}

// unlock releases the room and evicts sessions that failed to accept a
// message while it was held.
func (h *Hub) unlock(r *Room) {
	evict := r.evict
	r.evict = nil
	r.mu.Unlock()
	for _, s := range evict {
		h.Dismiss(s)
	}
}
