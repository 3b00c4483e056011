package hub

import (
	"context"
	"encoding/json"
	"time"

	"collabtext/internal/ot"
)

// relayEvent is what instances exchange about an applied operation.
type relayEvent struct {
	Instance string       `json:"instance"`
	Op       ot.Operation `json:"op"`
	// Origin is Op's origin, which differs from Instance for a relayed undo
	// of another instance's edit.
	Origin string `json:"origin,omitempty"`
	// Version is the origin's version after applying Op.
	Version int `json:"version"`
	// After is the last relay entry the origin had consumed when it applied
	// Op; everything up to it was part of Op's context.
	After string `json:"after,omitempty"`
}

// outboxSize bounds the relay events queued per room. The relay is best
// effort: when it cannot keep up, events are dropped and logged.
const outboxSize = 1024

// retainedEntries bounds the relay entry to local version map per room.
const retainedEntries = 4096

// startRelay positions r at the tail of its document stream and starts its
// publisher and mirror goroutines.
func (h *Hub) startRelay(ctx context.Context, r *Room) {
	if h.relay == nil {
		return
	}
	tail, err := h.relay.Tail(ctx, r.id)
	if err != nil {
		r.log.Warn().Err(err).Msg("relay unavailable, room will not be mirrored")
		return
	}

	mirrorCtx, stop := context.WithCancel(h.ctx)
	r.mu.Lock()
	r.cursor = tail
	r.outbox = make(chan relayEvent, outboxSize)
	r.stopMirror = stop
	outbox := r.outbox
	r.mu.Unlock()

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.publishLoop(r, outbox)
	}()
	go func() {
		defer h.wg.Done()
		h.mirrorLoop(mirrorCtx, r, tail)
	}()
}

func (r *Room) shutdownRelayLocked() {
	if r.outbox != nil {
		close(r.outbox)
		r.outbox = nil
	}
	if r.stopMirror != nil {
		r.stopMirror()
		r.stopMirror = nil
	}
}

// publishLocked queues op for the relay in commit order.
func (h *Hub) publishLocked(r *Room, op ot.Operation) {
	if r.outbox == nil {
		return
	}
	ev := relayEvent{Instance: h.opts.Instance, Op: op, Origin: op.Origin, Version: r.state.Version(), After: r.cursor}
	select {
	case r.outbox <- ev:
	default:
		r.log.Warn().Int("version", ev.Version).Msg("relay outbox full, dropping event")
	}
}

func (h *Hub) publishLoop(r *Room, outbox <-chan relayEvent) {
	for ev := range outbox {
		payload, err := json.Marshal(ev)
		if err != nil {
			r.log.Error().Err(err).Msg("encode relay event")
			continue
		}
		id, err := h.relay.Publish(h.ctx, r.id, payload)
		if err != nil {
			r.log.Warn().Err(err).Int("version", ev.Version).Msg("publish relay event")
			continue
		}
		r.mu.Lock()
		r.recordEntryLocked(id, ev.Version)
		r.mu.Unlock()
	}
}

func (h *Hub) mirrorLoop(ctx context.Context, r *Room, cursor string) {
	for {
		entries, err := h.relay.Consume(ctx, r.id, cursor, h.opts.RelayBatch)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.log.Warn().Err(err).Msg("consume relay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, e := range entries {
			cursor = e.ID
			if len(e.Payload) == 0 {
				continue
			}
			var ev relayEvent
			if err := json.Unmarshal(e.Payload, &ev); err != nil {
				r.log.Warn().Err(err).Str("entry", e.ID).Msg("decode relay event")
				continue
			}
			h.applyRemote(r, e.ID, ev)
		}
	}
}

// applyRemote applies an operation published by another instance. Its
// context on this instance is the later of the last entry its origin had
// consumed and the origin's own previous operation; it is transformed
// against everything applied here since.
func (h *Hub) applyRemote(r *Room, entryID string, ev relayEvent) {
	r.mu.Lock()
	defer h.unlock(r)
	if r.closed {
		return
	}
	r.cursor = entryID
	if ev.Instance == h.opts.Instance {
		return
	}

	base := r.startVersion
	if v, ok := r.entryVersion[ev.After]; ok {
		base = max(base, v)
	}
	if v, ok := r.lastFrom[ev.Instance]; ok {
		base = max(base, v)
	}
	op := ev.Op
	op.Origin = ev.Origin
	if op.Origin == "" {
		op.Origin = ev.Instance
	}
	applied, err := r.state.Submit(op, base)
	if err != nil {
		r.log.Warn().Err(err).Str("origin", ev.Instance).Msg("dropping remote change")
		return
	}
	version := r.state.Version()
	r.lastFrom[ev.Instance] = version
	r.recordEntryLocked(entryID, version)
	r.announceLocked(applied, h.opts.Now())
	r.log.Debug().Stringer("op", applied).Str("origin", ev.Instance).Int("version", version).Msg("remote change applied")
}

// recordEntryLocked remembers the local version at which a relay entry took
// effect.
func (r *Room) recordEntryLocked(id string, version int) {
	if _, ok := r.entryVersion[id]; ok {
		return
	}
	r.entryVersion[id] = version
	r.entryOrder = append(r.entryOrder, id)
	if over := len(r.entryOrder) - retainedEntries; over > 0 {
		for _, old := range r.entryOrder[:over] {
			delete(r.entryVersion, old)
		}
		r.entryOrder = append(r.entryOrder[:0:0], r.entryOrder[over:]...)
	}
}
