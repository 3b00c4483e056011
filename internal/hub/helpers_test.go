package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"collabtext/internal/docstore"
	"collabtext/internal/ot"
	"collabtext/internal/protocol"
	"collabtext/internal/relay"
)

const waitFor = 2 * time.Second

// fakeConn records everything written to it.
type fakeConn struct {
	out chan []byte

	mu     sync.Mutex
	fail   bool
	closed bool
	block  chan struct{} // when non-nil, writes wait for it to close
}

func newFakeConn() *fakeConn {
	return &fakeConn{out: make(chan []byte, 1024)}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	block, fail := c.block, c.fail
	c.mu.Unlock()
	if block != nil {
		<-block
	}
	if fail {
		return errors.New("broken pipe")
	}
	c.out <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setFail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// next returns the next event written to c.
func (c *fakeConn) next(t *testing.T) protocol.Outbound {
	t.Helper()
	select {
	case data := <-c.out:
		ev, err := protocol.DecodeOutbound(data)
		require.NoError(t, err)
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

// until skips events until one of type typ arrives.
func (c *fakeConn) until(t *testing.T, typ protocol.Type) protocol.Outbound {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case data := <-c.out:
			ev, err := protocol.DecodeOutbound(data)
			require.NoError(t, err)
			if ev.Type() == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return nil
		}
	}
}

// drain discards everything written so far.
func (c *fakeConn) drain() {
	for {
		select {
		case <-c.out:
		case <-time.After(20 * time.Millisecond):
			return
		}
	}
}

func newTestHub(t *testing.T, store docstore.Store, rel relay.Relay, opts Options) *Hub {
	t.Helper()
	if store == nil {
		store = docstore.NewMemory()
	}
	h, err := New(store, rel, opts, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		h.Close(ctx)
	})
	return h
}

func seededStore(t *testing.T, docID, text string) *docstore.Memory {
	t.Helper()
	s := docstore.NewMemory()
	require.NoError(t, s.Save(context.Background(), docID, text, 0, docstore.Credentials{}))
	return s
}

func admit(t *testing.T, h *Hub, docID, userID string) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s, err := h.Admit(context.Background(), docID, conn, Identity{UserID: userID, DisplayName: "User " + userID})
	require.NoError(t, err)
	return s, conn
}

// failingStore fails every save.
type failingStore struct {
	*docstore.Memory
	err error
}

func (f *failingStore) Save(context.Context, string, string, int, docstore.Credentials) error {
	return f.err
}

// unavailableStore never answers.
type unavailableStore struct{}

func (unavailableStore) Fetch(_ context.Context, docID string, _ docstore.Credentials) (docstore.Document, error) {
	return docstore.Document{}, &docstore.UnavailableError{Op: "fetch", DocID: docID, Attempts: 1, Err: errors.New("connection refused")}
}

func (unavailableStore) Save(context.Context, string, string, int, docstore.Credentials) error {
	return errors.New("connection refused")
}

func (unavailableStore) Close() error { return nil }

// gatedStore holds every fetch until release is closed.
type gatedStore struct {
	*docstore.Memory
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(t *testing.T, docID, text string) *gatedStore {
	return &gatedStore{
		Memory:  seededStore(t, docID, text),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) Fetch(ctx context.Context, docID string, creds docstore.Credentials) (docstore.Document, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return docstore.Document{}, ctx.Err()
	}
	return g.Memory.Fetch(ctx, docID, creds)
}

func (g *gatedStore) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(waitFor):
		t.Fatal("fetch never started")
	}
}

func opInsert(pos int, text string) ot.Operation { return ot.Insert(pos, text, "") }
func opDelete(pos, length int) ot.Operation     { return ot.Delete(pos, length, "") }
