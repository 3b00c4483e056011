package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/protocol"
	"collabtext/internal/relay"
)

func snapshotIs(h *Hub, docID, want string) func() bool {
	return func() bool {
		text, _, err := h.Snapshot(docID)
		return err == nil && text == want
	}
}

func TestMirror_RemoteChangeReachesOtherInstance(t *testing.T) {
	rel := relay.NewMemory(0, 50*time.Millisecond)
	t.Cleanup(func() { rel.Close() })
	store := seededStore(t, "doc", "abc")
	a := newTestHub(t, store, rel, Options{Instance: "a"})
	b := newTestHub(t, store, rel, Options{Instance: "b"})

	sa, _ := admit(t, a, "doc", "alice")
	_, cb := admit(t, b, "doc", "bob")
	cb.drain()

	require.NoError(t, a.Handle(context.Background(), sa, protocol.ChangeRequest{Op: opInsert(0, "X"), BaseVersion: 0}))

	changed := cb.until(t, protocol.TypeDocumentChange).(protocol.Changed)
	assert.Equal(t, "X", changed.Op.Text)
	assert.Equal(t, "alice", changed.Op.Author)
	assert.Equal(t, 1, changed.Version)
	require.Eventually(t, snapshotIs(b, "doc", "Xabc"), waitFor, 5*time.Millisecond)
}

func TestMirror_ConcurrentEditsConverge(t *testing.T) {
	rel := relay.NewMemory(0, 50*time.Millisecond)
	t.Cleanup(func() { rel.Close() })
	store := seededStore(t, "doc", "abc")
	a := newTestHub(t, store, rel, Options{Instance: "a"})
	b := newTestHub(t, store, rel, Options{Instance: "b"})

	sa, _ := admit(t, a, "doc", "alice")
	sb, _ := admit(t, b, "doc", "bob")

	ctx := context.Background()
	require.NoError(t, a.Handle(ctx, sa, protocol.ChangeRequest{Op: opInsert(3, "d"), BaseVersion: 0}))
	require.NoError(t, b.Handle(ctx, sb, protocol.ChangeRequest{Op: opInsert(0, "X"), BaseVersion: 0}))

	require.Eventually(t, snapshotIs(a, "doc", "Xabcd"), waitFor, 5*time.Millisecond)
	require.Eventually(t, snapshotIs(b, "doc", "Xabcd"), waitFor, 5*time.Millisecond)

	// Follow-up edits build on the mirrored state.
	_, version, err := b.Snapshot("doc")
	require.NoError(t, err)
	require.NoError(t, b.Handle(ctx, sb, protocol.ChangeRequest{Op: opDelete(0, 1), BaseVersion: version}))
	require.Eventually(t, snapshotIs(a, "doc", "abcd"), waitFor, 5*time.Millisecond)
}

func TestMirror_OwnEntriesAreNotReapplied(t *testing.T) {
	rel := relay.NewMemory(0, 50*time.Millisecond)
	t.Cleanup(func() { rel.Close() })
	h := newTestHub(t, nil, rel, Options{Instance: "solo"})

	s, c := admit(t, h, "doc", "u1")
	c.drain()
	require.NoError(t, h.Handle(context.Background(), s, protocol.ChangeRequest{Op: opInsert(0, "once"), BaseVersion: 0}))

	c.until(t, protocol.TypeDocumentChange)
	require.Eventually(t, func() bool {
		tail, err := rel.Tail(context.Background(), "doc")
		return err == nil && tail != relay.Beginning
	}, waitFor, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	text, version, err := h.Snapshot("doc")
	require.NoError(t, err)
	assert.Equal(t, "once", text)
	assert.Equal(t, 1, version)
}

func TestMirror_EqualPositionInsertsConverge(t *testing.T) {
	rel := relay.NewMemory(0, 50*time.Millisecond)
	t.Cleanup(func() { rel.Close() })
	store := seededStore(t, "doc", "abc")
	a := newTestHub(t, store, rel, Options{Instance: "a"})
	b := newTestHub(t, store, rel, Options{Instance: "b"})

	sa, _ := admit(t, a, "doc", "alice")
	sb, _ := admit(t, b, "doc", "bob")

	ctx := context.Background()
	require.NoError(t, a.Handle(ctx, sa, protocol.ChangeRequest{Op: opInsert(0, "A"), BaseVersion: 0}))
	require.NoError(t, b.Handle(ctx, sb, protocol.ChangeRequest{Op: opInsert(0, "B"), BaseVersion: 0}))

	require.Eventually(t, snapshotIs(a, "doc", "ABabc"), waitFor, 5*time.Millisecond)
	require.Eventually(t, snapshotIs(b, "doc", "ABabc"), waitFor, 5*time.Millisecond)
}

func TestMirror_SkipsEntriesWithoutEvent(t *testing.T) {
	rel := relay.NewMemory(0, 50*time.Millisecond)
	t.Cleanup(func() { rel.Close() })
	store := seededStore(t, "doc", "abc")
	a := newTestHub(t, store, rel, Options{Instance: "a"})
	b := newTestHub(t, store, rel, Options{Instance: "b"})

	sa, _ := admit(t, a, "doc", "alice")
	admit(t, b, "doc", "bob")

	ctx := context.Background()
	_, err := rel.Publish(ctx, "doc", nil)
	require.NoError(t, err)
	require.NoError(t, a.Handle(ctx, sa, protocol.ChangeRequest{Op: opInsert(3, "d"), BaseVersion: 0}))

	require.Eventually(t, snapshotIs(b, "doc", "abcd"), waitFor, 5*time.Millisecond)
	_, version, err := b.Snapshot("doc")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}
