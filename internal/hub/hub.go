package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"collabtext/internal/docstore"
	"collabtext/internal/ot"
	"collabtext/internal/protocol"
	"collabtext/internal/relay"
)

// Options tune a Hub. Zero values select defaults.
type Options struct {
	// Instance identifies this process on the relay.
	Instance     string
	HistoryLimit int
	// SendBuffer is the per-session outbound queue length. A session whose
	// queue fills up is evicted.
	SendBuffer int
	// CacheSize is how many recently closed documents are kept in memory.
	CacheSize    int
	FlushTimeout time.Duration
	// LoadTimeout bounds fetching a document when its room opens.
	LoadTimeout time.Duration
	RelayBatch  int
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Instance == "" {
		o.Instance = uuid.NewString()
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = ot.DefaultHistoryLimit
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 128
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 30 * time.Second
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 30 * time.Second
	}
	if o.RelayBatch <= 0 {
		o.RelayBatch = 100
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// snapshot is a closed room's document, kept for quick re-admission.
type snapshot struct {
	text    string
	version int
	saved   int
}

// Hub owns every Room on this instance.
type Hub struct {
	opts  Options
	store docstore.Store
	relay relay.Relay
	cache *lru.Cache[string, snapshot]
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

// New returns a Hub loading and saving documents through store. rel may be
// nil for a single-instance deployment.
func New(store docstore.Store, rel relay.Relay, opts Options, log zerolog.Logger) (*Hub, error) {
	opts = opts.withDefaults()
	cache, err := lru.New[string, snapshot](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create room cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		opts:   opts,
		store:  store,
		relay:  rel,
		cache:  cache,
		log:    log.With().Str("instance", opts.Instance).Logger(),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*Room),
	}, nil
}

func (h *Hub) Instance() string { return h.opts.Instance }

// Admit binds conn to docID, opening the document's room if needed. Every
// member, the newcomer included, receives user_joined and presence; the
// newcomer then receives a recovery snapshot to edit from.
func (h *Hub) Admit(ctx context.Context, docID string, conn Conn, id Identity) (*Session, error) {
	creds := docstore.Credentials{UserID: id.UserID, Token: id.Token}
	for {
		r, err := h.room(ctx, docID, creds)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.waiting.Add(-1)
			r.mu.Unlock()
			select {
			case <-r.gone:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		s := &Session{
			id:       uuid.NewString(),
			identity: id,
			conn:     conn,
			room:     r,
			send:     make(chan []byte, h.opts.SendBuffer),
			done:     make(chan struct{}),
			state:    StateConnecting,
		}
		s.log = r.log.With().Str("session", s.id).Str("user", id.UserID).Logger()
		s.state = StateJoined
		s.lastSeen = h.opts.Now()
		r.sessions = append(r.sessions, s)
		r.waiting.Add(-1)
		r.lastCreds = creds
		go h.writePump(s)

		r.broadcastLocked(protocol.UserJoined{UserID: id.UserID, DisplayName: id.DisplayName})
		r.broadcastLocked(r.presenceLocked())
		r.sendLocked(s, r.recoveryLocked())
		s.log.Info().Int("members", len(r.sessions)).Msg("session joined")
		h.unlock(r)
		return s, nil
	}
}

// room returns the loaded room for docID, starting its load if this is the
// document's first admission. The returned room counts the caller as
// waiting until Admit adds its session.
//
// ctx only bounds the caller's wait: the load runs under the hub's context,
// so one admitter giving up does not fail the others.
func (h *Hub) room(ctx context.Context, docID string, creds docstore.Credentials) (*Room, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	r, ok := h.rooms[docID]
	if !ok {
		r = newRoom(docID, h.log)
		h.rooms[docID] = r
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.load(r, creds)
		}()
	}
	r.waiting.Add(1)
	h.mu.Unlock()

	select {
	case <-r.ready:
	case <-ctx.Done():
		h.abandon(r)
		return nil, ctx.Err()
	}
	if r.loadErr != nil {
		r.waiting.Add(-1)
		return nil, r.loadErr
	}
	return r, nil
}

func (h *Hub) load(r *Room, creds docstore.Credentials) {
	ctx, cancel := context.WithTimeout(h.ctx, h.opts.LoadTimeout)
	defer cancel()

	snap, err := h.fetch(ctx, r.id, creds)
	if err != nil {
		r.loadErr = fmt.Errorf("load document %s: %w", r.id, err)
		r.log.Error().Err(err).Msg("load document")
		h.mu.Lock()
		if h.rooms[r.id] == r {
			delete(h.rooms, r.id)
		}
		h.mu.Unlock()
		close(r.gone)
		close(r.ready)
		return
	}

	r.mu.Lock()
	r.state = ot.NewState(snap.text, snap.version, h.opts.HistoryLimit)
	r.savedVersion = snap.saved
	r.startVersion = snap.version
	r.lastCreds = creds
	r.mu.Unlock()
	h.startRelay(ctx, r)
	r.log.Info().Int("version", snap.version).Msg("room opened")
	close(r.ready)

	// Everyone who asked for the room may have given up during the load.
	h.closeIfIdle(r)
}

// abandon drops a caller of room that stopped waiting before the load
// finished.
func (h *Hub) abandon(r *Room) {
	r.waiting.Add(-1)
	select {
	case <-r.ready:
		h.closeIfIdle(r)
	default:
	}
}

// closeIfIdle tears down a loaded room that has no sessions and nobody
// waiting to join it.
func (h *Hub) closeIfIdle(r *Room) {
	r.mu.Lock()
	if r.closed || r.state == nil || len(r.sessions) > 0 || r.waiting.Load() > 0 {
		r.mu.Unlock()
		return
	}
	snap := h.closeLocked(r)
	r.mu.Unlock()
	h.teardown(r, snap)
}

// fetch prefers the document store, falling back to (or preferring a newer)
// cached snapshot of a recently closed room.
func (h *Hub) fetch(ctx context.Context, docID string, creds docstore.Credentials) (snapshot, error) {
	cached, hit := h.cache.Get(docID)
	doc, err := h.store.Fetch(ctx, docID, creds)
	switch {
	case err == nil:
		if hit && cached.version >= doc.Version {
			return cached, nil
		}
		return snapshot{text: doc.Text, version: doc.Version, saved: doc.Version}, nil
	case errors.Is(err, docstore.ErrNotFound):
		if hit {
			return cached, nil
		}
		return snapshot{}, nil
	case hit:
		h.log.Warn().Err(err).Str("doc", docID).Msg("document store unavailable, using cached snapshot")
		return cached, nil
	default:
		return snapshot{}, err
	}
}

// Dismiss removes s from its room and announces the departure. The last
// session out tears the room down and flushes unsaved changes. Dismissing a
// session twice is a no-op.
func (h *Hub) Dismiss(s *Session) {
	r := s.room
	r.mu.Lock()
	if !r.removeLocked(s) {
		r.mu.Unlock()
		return
	}
	s.log.Info().Int("members", len(r.sessions)).Msg("session left")

	if len(r.sessions) == 0 && !r.closed {
		snap := h.closeLocked(r)
		r.mu.Unlock()
		h.teardown(r, snap)
		return
	}
	r.broadcastLocked(protocol.UserLeft{UserID: s.identity.UserID})
	r.broadcastLocked(r.presenceLocked())
	h.unlock(r)
}

// closeLocked marks r closed, detaches any remaining sessions and stops its
// relay traffic.
func (h *Hub) closeLocked(r *Room) snapshot {
	r.closed = true
	for len(r.sessions) > 0 {
		r.removeLocked(r.sessions[0])
	}
	r.evict = nil
	r.shutdownRelayLocked()
	return snapshot{text: r.state.Text(), version: r.state.Version(), saved: r.savedVersion}
}

func (h *Hub) teardown(r *Room, snap snapshot) {
	h.mu.Lock()
	if h.rooms[r.id] == r {
		delete(h.rooms, r.id)
	}
	h.cache.Add(r.id, snap)
	h.mu.Unlock()
	close(r.gone)
	r.log.Info().Int("version", snap.version).Msg("room closed")

	if snap.version > snap.saved {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.flush(r, snap)
		}()
	}
}

// flush writes a closed room's document back to the store.
func (h *Hub) flush(r *Room, snap snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.FlushTimeout)
	defer cancel()

	r.mu.Lock()
	creds := r.lastCreds
	r.mu.Unlock()

	if err := h.store.Save(ctx, r.id, snap.text, snap.version, creds); err != nil {
		r.log.Error().Err(err).Int("version", snap.version).Msg("flush closed room")
		return
	}
	h.mu.Lock()
	if cur, ok := h.cache.Peek(r.id); ok && cur.version == snap.version {
		cur.saved = snap.version
		h.cache.Add(r.id, cur)
	}
	h.mu.Unlock()
	r.log.Info().Int("version", snap.version).Msg("flushed closed room")
}

// lookup returns the open room for docID.
func (h *Hub) lookup(docID string) (*Room, error) {
	h.mu.Lock()
	r, ok := h.rooms[docID]
	h.mu.Unlock()
	if !ok {
		return nil, ErrUnknownDocument
	}
	select {
	case <-r.ready:
	default:
		return nil, ErrUnknownDocument
	}
	if r.loadErr != nil {
		return nil, ErrUnknownDocument
	}
	return r, nil
}

// Broadcast delivers ev to every session in docID's room. A session that
// cannot accept it is evicted; delivery to the others is unaffected.
func (h *Hub) Broadcast(docID string, ev protocol.Outbound) error {
	r, err := h.lookup(docID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrUnknownDocument
	}
	r.broadcastLocked(ev)
	h.unlock(r)
	return nil
}

// UpdateCursor moves userID's cursor in docID and broadcasts presence. The
// position is clamped to the document.
func (h *Hub) UpdateCursor(docID, userID string, position int) error {
	r, err := h.lookup(docID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	position = max(0, min(position, utf8.RuneCountInString(r.state.Text())))
	now := h.opts.Now()
	found := false
	for _, s := range r.sessions {
		if s.identity.UserID != userID {
			continue
		}
		s.cursor = position
		s.lastSeen = now
		found = true
	}
	if !found {
		r.mu.Unlock()
		return ErrSessionLeft
	}
	r.broadcastLocked(r.presenceLocked())
	h.unlock(r)
	return nil
}

// Presence returns the users currently in docID's room.
func (h *Hub) Presence(docID string) ([]protocol.PresenceUser, error) {
	r, err := h.lookup(docID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenceLocked().Users, nil
}

// Snapshot returns docID's current text and version.
func (h *Hub) Snapshot(docID string) (string, int, error) {
	r, err := h.lookup(docID)
	if err != nil {
		return "", 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Text(), r.state.Version(), nil
}

// Stats counts open rooms and connections.
type Stats struct {
	Documents   int
	Connections int
	PerDocument map[string]int
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	st := Stats{PerDocument: make(map[string]int, len(rooms))}
	for _, r := range rooms {
		r.mu.Lock()
		n, live := len(r.sessions), !r.closed && r.state != nil
		r.mu.Unlock()
		if !live {
			continue
		}
		st.Documents++
		st.Connections += n
		st.PerDocument[r.id] = n
	}
	return st
}

// Documents lists the ids of open rooms, sorted.
func (h *Hub) Documents() []string {
	st := h.Stats()
	ids := make([]string, 0, len(st.PerDocument))
	for id := range st.PerDocument {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close disconnects every session, flushes every room and stops background
// work. It waits for pending flushes until ctx is done.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		select {
		case <-r.ready:
		case <-ctx.Done():
			h.cancel()
			return ctx.Err()
		}
		r.mu.Lock()
		if r.closed || r.loadErr != nil {
			r.mu.Unlock()
			continue
		}
		snap := h.closeLocked(r)
		r.mu.Unlock()
		h.teardown(r, snap)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	defer h.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
