package relay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Relay connecting hubs that share one process.
// Hubs sharing a Memory relay behave like instances sharing a Redis stream.
// Streams are kept until Close.
type Memory struct {
	maxLen int
	block  time.Duration

	mu      sync.Mutex
	streams map[string]*memStream
	closed  bool
}

type memStream struct {
	entries []memEntry
	seq     uint64
	notify  chan struct{} // closed and replaced on every append
}

type memEntry struct {
	seq     uint64
	payload []byte
}

// NewMemory returns a Memory relay. Non-positive arguments select the
// defaults.
func NewMemory(maxLen int, block time.Duration) *Memory {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if block <= 0 {
		block = DefaultBlock
	}
	return &Memory{maxLen: maxLen, block: block, streams: make(map[string]*memStream)}
}

// stream must be called with m.mu held.
func (m *Memory) stream(docID string) *memStream {
	s, ok := m.streams[docID]
	if !ok {
		s = &memStream{notify: make(chan struct{})}
		m.streams[docID] = s
	}
	return s
}

func (m *Memory) Publish(_ context.Context, docID string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}

	s := m.stream(docID)
	s.seq++
	s.entries = append(s.entries, memEntry{seq: s.seq, payload: append([]byte(nil), payload...)})
	if over := len(s.entries) - m.maxLen; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	close(s.notify)
	s.notify = make(chan struct{})
	return formatID(s.seq), nil
}

func (m *Memory) Consume(ctx context.Context, docID, cursor string, max int) ([]Entry, error) {
	after, err := parseID(cursor)
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}

	timer := time.NewTimer(m.block)
	defer timer.Stop()
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		s := m.stream(docID)
		var out []Entry
		for _, e := range s.entries {
			if e.seq <= after {
				continue
			}
			out = append(out, Entry{ID: formatID(e.seq), Payload: e.payload})
			if len(out) == max {
				break
			}
		}
		wait := s.notify
		m.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		select {
		case <-wait:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Memory) Tail(_ context.Context, docID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return formatID(m.stream(docID).seq), nil
}

// Close wakes blocked consumers; further calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, s := range m.streams {
		close(s.notify)
	}
	return nil
}

func formatID(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

func parseID(id string) (uint64, error) {
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid relay cursor %q: %w", id, err)
	}
	return seq, nil
}
